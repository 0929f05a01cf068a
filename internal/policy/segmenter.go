package policy

import (
	"context"
	"math"

	"github.com/loqalabs/loqa-stream/internal/audio"
	"github.com/loqalabs/loqa-stream/internal/vad"
)

type State int

const (
	StateIdle State = iota
	StateRecording
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	default:
		return "unknown"
	}
}

// Decision reports what one tick did.
type Decision struct {
	Score float64
	// Started is set on the IDLE -> RECORDING tick.
	Started bool
	// Span holds the completed utterance when the tick finalized one.
	Span []byte
	// Forced marks a span closed by the maximum recording guard rather than silence.
	Forced bool
	// Interim holds a copy of the in-progress recording when an interim pass is due.
	Interim []byte
	// Err is the detector failure, if any; the tick then counts as below threshold.
	Err error
}

// Finalized reports whether the tick closed a span.
func (d Decision) Finalized() bool { return d.Span != nil }

// Segmenter decides, one tick per inbound chunk, when a span of speech is complete.
type Segmenter interface {
	Tick(ctx context.Context, w *audio.Window) Decision
	State() State
	Reset()
}

// silenceSegmenter records from voice onset until a run of quiet ticks long enough
// to cover the post window, seeding each recording with the look-back window.
type silenceSegmenter struct {
	params   Params
	detector vad.Detector

	state     State
	silence   int
	ticks     int
	recording []byte
}

func NewSilenceSegmenter(params Params, detector vad.Detector) Segmenter {
	return &silenceSegmenter{params: params, detector: detector}
}

func (s *silenceSegmenter) State() State { return s.state }

func (s *silenceSegmenter) Reset() {
	s.state = StateIdle
	s.silence = 0
	s.ticks = 0
	s.recording = nil
}

func (s *silenceSegmenter) Tick(ctx context.Context, w *audio.Window) Decision {
	defer w.ClearPost()

	var d Decision
	score, err := s.detector.Score(ctx, w.Snapshot())
	if err != nil {
		d.Err = err
		score = 0
	}
	d.Score = vad.Clamp(score)

	switch {
	case err == nil && d.Score >= s.params.Threshold:
		if s.state == StateIdle {
			s.state = StateRecording
			s.recording = w.Pre()
			s.ticks = 0
			d.Started = true
		}
		s.recording = w.AppendPost(s.recording)
		s.silence = 0
		s.ticks++
	case s.state == StateRecording:
		s.silence++
		s.recording = w.AppendPost(s.recording)
		s.ticks++
		if s.silence >= SilenceTicks(s.params.SecondsAfter, s.params.SampleRate, w.PostLen()) {
			d.Span = s.finish()
			return d
		}
	default:
		return d
	}

	if limit := s.params.MaxRecordingBytes; limit > 0 && len(s.recording) >= limit {
		d.Span = s.finish()
		d.Forced = true
		return d
	}
	if every := s.params.InterimEveryTicks; every > 0 && s.ticks%every == 0 {
		d.Interim = append([]byte(nil), s.recording...)
	}
	return d
}

func (s *silenceSegmenter) finish() []byte {
	span := s.recording
	if span == nil {
		span = []byte{}
	}
	s.Reset()
	return span
}

// SilenceTicks is the number of consecutive quiet ticks that closes a recording:
// ceil(secondsAfter * sampleRate / postLen). A zero postLen never closes.
func SilenceTicks(secondsAfter float64, sampleRate int, postLen int) int {
	if postLen <= 0 {
		return math.MaxInt
	}
	return int(math.Ceil(secondsAfter * float64(sampleRate) / float64(postLen)))
}
