package stt

import (
	"context"
	"fmt"
)

type mockRecognizer struct{}

func NewMockRecognizer() Recognizer {
	return &mockRecognizer{}
}

func (m *mockRecognizer) Transcribe(_ context.Context, pcm []byte, sampleRate int, channels int, final bool) (TranscriptResult, error) {
	mode := "partial"
	if final {
		mode = "final"
	}
	ms := 0
	if sampleRate > 0 && channels > 0 {
		ms = len(pcm) * 1000 / (sampleRate * channels * 2)
	}
	return TranscriptResult{
		Text: fmt.Sprintf("[%s transcript %dms]", mode, ms),
	}, nil
}
