package gateway

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-stream/internal/protocol"
	"github.com/loqalabs/loqa-stream/internal/session"
)

type outbound struct {
	data []byte
	last bool
}

type client struct {
	id      string
	queue   chan outbound
	dropped atomic.Int64
}

// Hub routes session events to the WebSocket client that owns the session.
// Publish never blocks: a full client queue drops the event.
type Hub struct {
	logger *slog.Logger
	mu     sync.RWMutex
	conns  map[string]*client
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger.With(slog.String("component", "gateway")),
		conns:  make(map[string]*client),
	}
}

func (h *Hub) add(id string, queueSize int) *client {
	if queueSize < 1 {
		queueSize = 1
	}
	c := &client{id: id, queue: make(chan outbound, queueSize)}
	h.mu.Lock()
	h.conns[id] = c
	h.mu.Unlock()
	return c
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	delete(h.conns, id)
	h.mu.Unlock()
}

func (h *Hub) Publish(e session.Event) {
	h.mu.RLock()
	c := h.conns[e.SessionID]
	h.mu.RUnlock()
	if c == nil {
		return
	}
	data, err := json.Marshal(toMessage(e))
	if err != nil {
		h.logger.Warn("failed to marshal stream message", slog.String("error", err.Error()))
		return
	}
	select {
	case c.queue <- outbound{data: data, last: e.Kind == session.KindEnded}:
	default:
		c.dropped.Add(1)
		h.logger.Warn("client queue full, dropping event",
			slog.String("session_id", e.SessionID),
			slog.String("type", string(e.Kind)),
			slog.Uint64("sequence", e.Sequence))
	}
}

func toMessage(e session.Event) protocol.StreamMessage {
	msg := protocol.StreamMessage{
		SessionID: e.SessionID,
		Sequence:  e.Sequence,
		Timestamp: e.Timestamp.Format(time.RFC3339Nano),
	}
	switch e.Kind {
	case session.KindStarted:
		msg.Type = protocol.MessageSessionStart
	case session.KindEnded:
		msg.Type = protocol.MessageSessionEnd
	default:
		msg.Type = protocol.MessageTranscript
		msg.Text = e.Text
		msg.IsFinal = e.IsFinal
		msg.Utterance = e.Utterance
	}
	return msg
}
