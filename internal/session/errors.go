package session

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownSession = errors.New("unknown session")
	ErrMalformedChunk = errors.New("malformed audio chunk")
	ErrSessionExists  = errors.New("session already connected")
	ErrClosed         = errors.New("session registry closed")
)

// AdapterError wraps a voice-activity or recognition backend failure. These are
// logged and counted; they never end a session.
type AdapterError struct {
	Adapter   string
	SessionID string
	Err       error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("%s adapter failed for session %s: %v", e.Adapter, e.SessionID, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }
