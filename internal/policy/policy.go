// Package policy implements the per-session transcription policy: a segmenter that
// decides when an utterance is complete and a stabilizer that decides which parts of
// each recognition hypothesis are safe to deliver.
package policy

import (
	"fmt"
	"sort"

	"github.com/loqalabs/loqa-stream/internal/config"
	"github.com/loqalabs/loqa-stream/internal/vad"
)

// Params are the per-session segmentation knobs derived from the stream config.
type Params struct {
	Threshold         float64
	SecondsAfter      float64
	SampleRate        int
	MaxRecordingBytes int
	InterimEveryTicks int
}

func ParamsFromConfig(cfg config.StreamConfig) Params {
	return Params{
		Threshold:         cfg.VoiceThreshold,
		SecondsAfter:      cfg.BufferSecondsAfter,
		SampleRate:        cfg.SampleRate,
		MaxRecordingBytes: cfg.MaxRecordingBytes(),
		InterimEveryTicks: cfg.InterimEveryTicks,
	}
}

// Policy is one session's segmenter and stabilizer pair.
type Policy struct {
	Name       string
	Segmenter  Segmenter
	Stabilizer Stabilizer
}

// Factory builds a fresh Policy for one session.
type Factory func(params Params, detector vad.Detector) Policy

var factories = map[string]Factory{
	"silence_at_end_of_chunk": func(p Params, d vad.Detector) Policy {
		return Policy{Segmenter: NewSilenceSegmenter(p, d), Stabilizer: NewLocalAgreement()}
	},
	"silence_at_end_of_chunk/final_only": func(p Params, d vad.Detector) Policy {
		return Policy{Segmenter: NewSilenceSegmenter(p, d), Stabilizer: NewFinalOnly()}
	},
}

// Lookup returns the factory registered under name.
func Lookup(name string) (Factory, error) {
	f, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown transcription policy %q (known: %v)", name, Names())
	}
	return func(p Params, d vad.Detector) Policy {
		pol := f(p, d)
		pol.Name = name
		return pol
	}, nil
}

func Names() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
