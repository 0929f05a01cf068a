package protocol

import "time"

// AudioFrame represents PCM audio data streamed from edge devices.
type AudioFrame struct {
	SessionID  string `json:"session_id"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// Transcript represents a confirmed transcript delta broadcast on the bus.
type Transcript struct {
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	Partial   bool      `json:"partial"`
	Utterance int       `json:"utterance"`
	Sequence  uint64    `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionEvent announces a session starting or ending.
type SessionEvent struct {
	SessionID string    `json:"session_id"`
	Sequence  uint64    `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
}

// StreamMessage is the JSON text frame sent to WebSocket clients.
type StreamMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Text      string `json:"text,omitempty"`
	IsFinal   bool   `json:"is_final,omitempty"`
	Utterance int    `json:"utterance,omitempty"`
	Sequence  uint64 `json:"sequence"`
	Timestamp string `json:"timestamp,omitempty"`
}

const (
	SubjectAudioFramePrefix  = "audio.frame"
	SubjectTranscriptPartial = "stt.text.partial"
	SubjectTranscriptFinal   = "stt.text.final"
	SubjectSessionStart      = "stt.session.start"
	SubjectSessionEnd        = "stt.session.end"
)

const (
	MessageSessionStart = "session.start"
	MessageTranscript   = "transcript"
	MessageSessionEnd   = "session.end"
)
