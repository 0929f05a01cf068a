// Package vad scores PCM windows for voice activity.
package vad

import (
	"context"
	"fmt"

	"github.com/loqalabs/loqa-stream/internal/config"
)

// Detector abstracts voice-activity backends. Score returns a probability in [0,1].
// Implementations may be called concurrently from many sessions.
type Detector interface {
	Score(ctx context.Context, pcm []byte) (float64, error)
}

// New selects a detector by cfg.Mode.
func New(cfg config.VADConfig, stream config.StreamConfig) (Detector, error) {
	switch cfg.Mode {
	case "energy":
		return NewEnergyDetector(cfg.RMSFloor, cfg.RMSCeiling, stream.SampleWidthBytes)
	case "exec":
		return NewExecDetector(cfg.Command, stream.SampleRate, stream.Channels)
	case "mock":
		return NewMockDetector(), nil
	default:
		return nil, fmt.Errorf("unknown vad mode %q", cfg.Mode)
	}
}

// Clamp limits a backend score to [0,1].
func Clamp(score float64) float64 {
	switch {
	case score != score:
		return 0
	case score < 0:
		return 0
	case score > 1:
		return 1
	}
	return score
}
