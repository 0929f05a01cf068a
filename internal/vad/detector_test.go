package vad

import (
	"context"
	"math"
	"testing"

	"github.com/loqalabs/loqa-stream/internal/audio"
	"github.com/loqalabs/loqa-stream/internal/config"
)

func TestEnergyDetector(t *testing.T) {
	d, err := NewEnergyDetector(100, 1100, 2)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	silence := audio.PCM16(make([]int16, 160))
	score, err := d.Score(context.Background(), silence)
	if err != nil || score != 0 {
		t.Fatalf("expected silent score 0, got %v (%v)", score, err)
	}

	loud := make([]int16, 160)
	for i := range loud {
		loud[i] = 600
		if i%2 == 1 {
			loud[i] = -600
		}
	}
	score, _ = d.Score(context.Background(), audio.PCM16(loud))
	if math.Abs(score-0.5) > 1e-9 {
		t.Fatalf("expected 0.5, got %v", score)
	}

	for i := range loud {
		loud[i] = 20000
	}
	score, _ = d.Score(context.Background(), audio.PCM16(loud))
	if score != 1 {
		t.Fatalf("expected clamp to 1, got %v", score)
	}
}

func TestEnergyDetectorRejectsWidth(t *testing.T) {
	if _, err := NewEnergyDetector(0, 1, 4); err == nil {
		t.Fatal("expected error for 32-bit samples")
	}
}

func TestNewByMode(t *testing.T) {
	stream := config.Default().Stream
	for _, mode := range []string{"energy", "mock"} {
		cfg := config.Default().VAD
		cfg.Mode = mode
		if _, err := New(cfg, stream); err != nil {
			t.Fatalf("mode %s: %v", mode, err)
		}
	}
	if _, err := New(config.VADConfig{Mode: "silero"}, stream); err == nil {
		t.Fatal("expected unknown mode error")
	}
	if _, err := New(config.VADConfig{Mode: "exec", Command: ""}, stream); err == nil {
		t.Fatal("expected empty command error")
	}
}

func TestMockDetectorScript(t *testing.T) {
	m := NewMockDetector(0.9, -1)
	m.Fallback = 0.2
	if s, _ := m.Score(context.Background(), nil); s != 0.9 {
		t.Fatalf("expected 0.9, got %v", s)
	}
	if _, err := m.Score(context.Background(), nil); err == nil {
		t.Fatal("negative script entry should fail")
	}
	if s, _ := m.Score(context.Background(), nil); s != 0.2 {
		t.Fatalf("expected fallback, got %v", s)
	}
}

func TestClamp(t *testing.T) {
	if Clamp(math.NaN()) != 0 || Clamp(-0.1) != 0 || Clamp(1.4) != 1 || Clamp(0.3) != 0.3 {
		t.Fatal("clamp must map scores into [0,1]")
	}
}
