package audio

import (
	"bytes"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWindowBoundsHoldForArbitraryChunks(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	w := NewWindow(100, 40)
	for i := 0; i < 500; i++ {
		chunk := make([]byte, rng.Intn(130))
		rng.Read(chunk)
		w.Append(chunk)
		if w.PreLen() > 100 || w.PostLen() > 40 {
			t.Fatalf("bounds violated after append %d: pre=%d post=%d", i, w.PreLen(), w.PostLen())
		}
		if rng.Intn(3) == 0 {
			w.ClearPost()
		}
	}
}

func TestWindowDropsOldest(t *testing.T) {
	w := NewWindow(4, 3)
	w.Append([]byte{1, 2})
	w.Append([]byte{3, 4})
	w.Append([]byte{5})
	if got := w.Pre(); !bytes.Equal(got, []byte{2, 3, 4, 5}) {
		t.Fatalf("unexpected pre %v", got)
	}
	if got := w.Post(); !bytes.Equal(got, []byte{3, 4, 5}) {
		t.Fatalf("unexpected post %v", got)
	}
	if got := w.Snapshot(); !bytes.Equal(got, []byte{2, 3, 4, 5, 3, 4, 5}) {
		t.Fatalf("unexpected snapshot %v", got)
	}

	w.Append([]byte{9, 8, 7, 6, 5, 4})
	if got := w.Pre(); !bytes.Equal(got, []byte{7, 6, 5, 4}) {
		t.Fatalf("oversized chunk should keep the newest bytes, got %v", got)
	}
}

func TestWindowClearPostKeepsPre(t *testing.T) {
	w := NewWindow(8, 8)
	w.Append([]byte{1, 2, 3})
	w.ClearPost()
	if w.PostLen() != 0 {
		t.Fatalf("expected empty post, got %d", w.PostLen())
	}
	if w.PreLen() != 3 {
		t.Fatalf("expected pre untouched, got %d", w.PreLen())
	}
}

func TestWindowSnapshotDoesNotAlias(t *testing.T) {
	w := NewWindow(4, 4)
	w.Append([]byte{1, 2})
	snap := w.Snapshot()
	snap[0] = 42
	if w.Pre()[0] != 1 {
		t.Fatal("snapshot must not alias the window")
	}
}

func TestWindowZeroCapacity(t *testing.T) {
	w := NewWindow(0, 0)
	w.Append([]byte{1, 2, 3})
	if w.PreLen() != 0 || w.PostLen() != 0 {
		t.Fatalf("zero capacity should hold nothing, pre=%d post=%d", w.PreLen(), w.PostLen())
	}
}

func TestFormatCheck(t *testing.T) {
	f := Format{SampleRate: 16000, SampleWidthBytes: 2, Channels: 1}
	if err := f.Check(nil); !errors.Is(err, ErrEmptyChunk) {
		t.Fatalf("expected empty chunk error, got %v", err)
	}
	if err := f.Check([]byte{1, 2, 3}); !errors.Is(err, ErrMisaligned) {
		t.Fatalf("expected misaligned error, got %v", err)
	}
	if err := f.Check([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d := f.Duration(8000); d != 250*time.Millisecond {
		t.Fatalf("expected 250ms, got %s", d)
	}
	if n := f.BytesFor(250 * time.Millisecond); n != 8000 {
		t.Fatalf("expected 8000 bytes, got %d", n)
	}
}

func TestWAVRoundTrip(t *testing.T) {
	pcm := PCM16([]int16{0, 1000, -1000, 32767, -32768, 5})
	path := filepath.Join(t.TempDir(), "clip.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := WriteWAV(f, pcm, 16000, 1); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	f.Close()

	in, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer in.Close()
	got, format, err := ReadWAV(in)
	if err != nil {
		t.Fatalf("read wav: %v", err)
	}
	if format.SampleRate != 16000 || format.Channels != 1 {
		t.Fatalf("unexpected format %+v", format)
	}
	if !bytes.Equal(got, pcm) {
		t.Fatalf("pcm mismatch: %v vs %v", got, pcm)
	}
}
