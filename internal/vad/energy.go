package vad

import (
	"context"
	"fmt"
	"math"

	"github.com/loqalabs/loqa-stream/internal/audio"
)

// energyDetector maps the RMS of 16-bit PCM linearly onto [0,1] between floor and ceiling.
type energyDetector struct {
	floor   float64
	ceiling float64
}

func NewEnergyDetector(floor, ceiling float64, sampleWidth int) (Detector, error) {
	if sampleWidth != 2 {
		return nil, fmt.Errorf("energy vad supports 16-bit pcm only, got %d-byte samples", sampleWidth)
	}
	if ceiling <= floor {
		return nil, fmt.Errorf("energy vad ceiling %.1f must exceed floor %.1f", ceiling, floor)
	}
	return &energyDetector{floor: floor, ceiling: ceiling}, nil
}

func (d *energyDetector) Score(_ context.Context, pcm []byte) (float64, error) {
	rms := RMS(pcm)
	return Clamp((rms - d.floor) / (d.ceiling - d.floor)), nil
}

// RMS is the root-mean-square amplitude of 16-bit little-endian PCM.
func RMS(pcm []byte) float64 {
	samples := audio.Samples16(pcm)
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}
