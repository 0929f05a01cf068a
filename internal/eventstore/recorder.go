package eventstore

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/loqalabs/loqa-stream/internal/session"
)

// Recorder is a session.Sink that persists events on its own goroutine.
// Publish never blocks; events arriving while the buffer is full are dropped.
type Recorder struct {
	store   *Store
	log     *slog.Logger
	events  chan session.Event
	dropped atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
}

func NewRecorder(store *Store, buffer int) *Recorder {
	if buffer < 1 {
		buffer = 256
	}
	r := &Recorder{
		store:  store,
		log:    store.log,
		events: make(chan session.Event, buffer),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Recorder) Publish(e session.Event) {
	if !r.store.enabled() {
		return
	}
	select {
	case r.events <- e:
	default:
		if r.dropped.Add(1) == 1 {
			r.log.Warn("event store backlog full, dropping events", slog.String("session_id", e.SessionID))
		}
	}
}

// Close flushes buffered events and stops the writer. Publish must not be called afterwards.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() {
		close(r.events)
		<-r.done
		if n := r.dropped.Load(); n > 0 {
			r.log.Warn("event store dropped events", slog.Int64("dropped", n))
		}
	})
}

func (r *Recorder) run() {
	defer close(r.done)
	ctx := context.Background()
	for e := range r.events {
		var err error
		switch e.Kind {
		case session.KindStarted:
			err = r.store.StartSession(ctx, e.SessionID)
		case session.KindEnded:
			err = r.store.EndSession(ctx, e.SessionID)
		default:
			err = r.store.AppendTranscript(ctx, Record{
				SessionID: e.SessionID,
				Text:      e.Text,
				IsFinal:   e.IsFinal,
				Utterance: e.Utterance,
				Sequence:  e.Sequence,
				CreatedAt: e.Timestamp,
			})
		}
		if err != nil {
			r.log.Warn("failed to record session event",
				slog.String("session_id", e.SessionID),
				slog.String("kind", string(e.Kind)),
				slog.String("error", err.Error()))
		}
	}
}
