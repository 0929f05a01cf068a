package policy

import (
	"bytes"
	"context"
	"testing"

	"github.com/loqalabs/loqa-stream/internal/audio"
	"github.com/loqalabs/loqa-stream/internal/vad"
)

func chunk(fill byte, n int) []byte {
	return bytes.Repeat([]byte{fill}, n)
}

func defaultParams() Params {
	return Params{Threshold: 0.5, SecondsAfter: 1, SampleRate: 16000}
}

func feed(t *testing.T, seg Segmenter, w *audio.Window, chunks ...[]byte) []Decision {
	t.Helper()
	out := make([]Decision, 0, len(chunks))
	for _, c := range chunks {
		w.Append(c)
		out = append(out, seg.Tick(context.Background(), w))
	}
	return out
}

func TestSegmenterFinalizesAfterSilenceRun(t *testing.T) {
	det := vad.NewMockDetector(0.9, 0.9, 0.1, 0.1)
	seg := NewSilenceSegmenter(defaultParams(), det)
	w := audio.NewWindow(32000, 32000)

	c1, c2, c3, c4 := chunk(1, 8000), chunk(2, 8000), chunk(3, 8000), chunk(4, 8000)
	decisions := feed(t, seg, w, c1, c2, c3, c4)

	if !decisions[0].Started {
		t.Fatal("expected onset on first tick")
	}
	for i := 0; i < 3; i++ {
		if decisions[i].Finalized() {
			t.Fatalf("tick %d finalized early", i+1)
		}
	}
	if !decisions[3].Finalized() {
		t.Fatal("expected finalize on fourth tick")
	}
	want := bytes.Join([][]byte{c1, c1, c2, c3, c4}, nil)
	if !bytes.Equal(decisions[3].Span, want) {
		t.Fatalf("unexpected span length %d, want %d", len(decisions[3].Span), len(want))
	}
	if seg.State() != StateIdle {
		t.Fatalf("expected idle after finalize, got %s", seg.State())
	}
	if w.PostLen() != 0 {
		t.Fatalf("post must be cleared after every tick, got %d", w.PostLen())
	}
}

func TestSegmenterSpeechResetsSilenceCounter(t *testing.T) {
	det := vad.NewMockDetector(0.9, 0.1, 0.9, 0.1, 0.1)
	seg := NewSilenceSegmenter(defaultParams(), det)
	w := audio.NewWindow(0, 32000)

	decisions := feed(t, seg, w, chunk(1, 8000), chunk(2, 8000), chunk(3, 8000), chunk(4, 8000), chunk(5, 8000))
	for i := 0; i < 4; i++ {
		if decisions[i].Finalized() {
			t.Fatalf("tick %d finalized early", i+1)
		}
	}
	if !decisions[4].Finalized() {
		t.Fatal("expected finalize once two quiet ticks run back to back")
	}
	if len(decisions[4].Span) != 5*8000 {
		t.Fatalf("expected 40000 bytes, got %d", len(decisions[4].Span))
	}
}

func TestSegmenterIdleSilenceDoesNothing(t *testing.T) {
	det := vad.NewMockDetector()
	det.Fallback = 0.2
	seg := NewSilenceSegmenter(defaultParams(), det)
	w := audio.NewWindow(16000, 16000)
	for _, d := range feed(t, seg, w, chunk(1, 4000), chunk(2, 4000), chunk(3, 4000)) {
		if d.Started || d.Finalized() || d.Interim != nil {
			t.Fatalf("idle silence should not produce output: %+v", d)
		}
	}
	if w.PreLen() != 12000 {
		t.Fatalf("pre should keep accumulating while idle, got %d", w.PreLen())
	}
}

func TestSegmenterDetectorErrorCountsAsSilence(t *testing.T) {
	det := vad.NewMockDetector(0.9, -1, -1)
	seg := NewSilenceSegmenter(defaultParams(), det)
	w := audio.NewWindow(0, 32000)
	decisions := feed(t, seg, w, chunk(1, 8000), chunk(2, 8000), chunk(3, 8000))
	if decisions[1].Err == nil {
		t.Fatal("expected detector error to be reported")
	}
	if !decisions[2].Finalized() {
		t.Fatal("detector failures should count toward the silence run")
	}
}

func TestSegmenterThresholdIsInclusive(t *testing.T) {
	seg := NewSilenceSegmenter(defaultParams(), vad.NewMockDetector(0.5))
	w := audio.NewWindow(0, 100)
	if d := feed(t, seg, w, chunk(1, 10))[0]; !d.Started {
		t.Fatal("score equal to threshold should start recording")
	}
}

func TestSegmenterMaxRecordingForcesFinalize(t *testing.T) {
	p := defaultParams()
	p.MaxRecordingBytes = 20000
	det := vad.NewMockDetector()
	det.Fallback = 0.9
	seg := NewSilenceSegmenter(p, det)
	w := audio.NewWindow(0, 32000)

	decisions := feed(t, seg, w, chunk(1, 8000), chunk(2, 8000), chunk(3, 8000))
	if decisions[1].Finalized() {
		t.Fatal("16000 bytes is under the cap")
	}
	if !decisions[2].Finalized() || !decisions[2].Forced {
		t.Fatalf("expected forced finalize at 24000 bytes: %+v", decisions[2].Forced)
	}
	if seg.State() != StateIdle {
		t.Fatal("expected idle after forced finalize")
	}
}

func TestSegmenterInterimSnapshots(t *testing.T) {
	p := defaultParams()
	p.InterimEveryTicks = 2
	det := vad.NewMockDetector(0.9, 0.9, 0.9, 0.9)
	seg := NewSilenceSegmenter(p, det)
	w := audio.NewWindow(0, 32000)

	decisions := feed(t, seg, w, chunk(1, 100), chunk(2, 100), chunk(3, 100), chunk(4, 100))
	if decisions[0].Interim != nil || decisions[2].Interim != nil {
		t.Fatal("interim should only fire every second tick")
	}
	if len(decisions[1].Interim) != 200 || len(decisions[3].Interim) != 400 {
		t.Fatalf("unexpected interim sizes %d %d", len(decisions[1].Interim), len(decisions[3].Interim))
	}
	decisions[1].Interim[0] = 99
	if decisions[3].Interim[0] != 1 {
		t.Fatal("interim snapshot must not alias the recording")
	}
}

func TestSilenceTicks(t *testing.T) {
	cases := []struct {
		after float64
		rate  int
		post  int
		want  int
	}{
		{1, 16000, 8000, 2},
		{1, 16000, 32000, 1},
		{1, 16000, 3000, 6},
		{0.5, 16000, 4000, 2},
	}
	for _, tc := range cases {
		if got := SilenceTicks(tc.after, tc.rate, tc.post); got != tc.want {
			t.Fatalf("SilenceTicks(%v, %d, %d) = %d, want %d", tc.after, tc.rate, tc.post, got, tc.want)
		}
	}
}
