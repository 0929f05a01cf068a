package session

import "time"

type Kind string

const (
	KindStarted    Kind = "session.start"
	KindTranscript Kind = "transcript"
	KindEnded      Kind = "session.end"
)

// Event is one item of a session's output stream. Sequence increases by one per
// event within a session, starting at 1 for the start notification.
type Event struct {
	SessionID string
	Kind      Kind
	Text      string
	IsFinal   bool
	Utterance int
	Sequence  uint64
	Timestamp time.Time
}

// Sink receives session events. Publish is called from ingest and dispatcher
// goroutines and must not block for long.
type Sink interface {
	Publish(Event)
}

type SinkFunc func(Event)

func (f SinkFunc) Publish(e Event) { f(e) }

// Fanout delivers every event to each sink in order.
type Fanout []Sink

func (f Fanout) Publish(e Event) {
	for _, s := range f {
		if s != nil {
			s.Publish(e)
		}
	}
}

type discardSink struct{}

func (discardSink) Publish(Event) {}
