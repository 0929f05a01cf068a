package vad

import (
	"context"
	"errors"
	"sync"
)

// MockDetector returns scripted scores in order, then Fallback. Err, when set, is returned instead.
type MockDetector struct {
	mu       sync.Mutex
	Scores   []float64
	Fallback float64
	Err      error
	Calls    [][]byte
}

func NewMockDetector(scores ...float64) *MockDetector {
	return &MockDetector{Scores: scores}
}

var errMockDetector = errors.New("mock vad failure")

func (m *MockDetector) Score(_ context.Context, pcm []byte) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, append([]byte(nil), pcm...))
	if m.Err != nil {
		return 0, m.Err
	}
	if len(m.Scores) == 0 {
		return m.Fallback, nil
	}
	score := m.Scores[0]
	m.Scores = m.Scores[1:]
	if score < 0 {
		return 0, errMockDetector
	}
	return score, nil
}

// Push appends scores to the script.
func (m *MockDetector) Push(scores ...float64) {
	m.mu.Lock()
	m.Scores = append(m.Scores, scores...)
	m.mu.Unlock()
}
