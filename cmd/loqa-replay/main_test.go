package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-stream/internal/protocol"
)

func TestSplit(t *testing.T) {
	chunks := split(make([]byte, 10), 4)
	if len(chunks) != 3 || len(chunks[2]) != 2 {
		t.Fatalf("unexpected chunking %v", chunks)
	}
	if got := split(make([]byte, 5), 0); len(got) != 1 {
		t.Fatalf("zero size should send everything at once, got %d chunks", len(got))
	}
}

func TestPrintMessage(t *testing.T) {
	var buf bytes.Buffer
	printMessage(&buf, protocol.StreamMessage{Type: protocol.MessageTranscript, Text: "hello", IsFinal: true, Utterance: 2})
	if !strings.Contains(buf.String(), "#2 [final] hello") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}
