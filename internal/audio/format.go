package audio

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrEmptyChunk = errors.New("empty audio chunk")
	ErrMisaligned = errors.New("audio chunk not aligned to frame size")
)

// Format describes interleaved signed little-endian PCM.
type Format struct {
	SampleRate       int
	SampleWidthBytes int
	Channels         int
}

// FrameBytes is the size of one sample across all channels.
func (f Format) FrameBytes() int {
	return f.SampleWidthBytes * f.Channels
}

// Check rejects chunks that cannot be split into whole frames.
func (f Format) Check(chunk []byte) error {
	if len(chunk) == 0 {
		return ErrEmptyChunk
	}
	if fb := f.FrameBytes(); fb > 0 && len(chunk)%fb != 0 {
		return fmt.Errorf("%w: %d bytes, frame is %d bytes", ErrMisaligned, len(chunk), fb)
	}
	return nil
}

// Duration converts a byte count to playback time.
func (f Format) Duration(n int) time.Duration {
	perSecond := f.SampleRate * f.FrameBytes()
	if perSecond <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(perSecond))
}

// BytesFor converts a playback duration to a frame-aligned byte count.
func (f Format) BytesFor(d time.Duration) int {
	fb := f.FrameBytes()
	frames := int(int64(d) * int64(f.SampleRate) / int64(time.Second))
	return frames * fb
}

// Samples16 decodes 16-bit little-endian PCM. A trailing odd byte is ignored.
func Samples16(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
	}
	return out
}

// PCM16 encodes samples as 16-bit little-endian PCM.
func PCM16(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[2*i] = byte(uint16(s))
		out[2*i+1] = byte(uint16(s) >> 8)
	}
	return out
}
