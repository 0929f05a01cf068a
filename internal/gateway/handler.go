// Package gateway exposes the session registry over WebSocket: binary frames carry
// PCM chunks in, JSON text frames carry session and transcript events out.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/loqalabs/loqa-stream/internal/config"
	"github.com/loqalabs/loqa-stream/internal/session"
)

// Sessions is the part of the session registry the gateway drives.
type Sessions interface {
	ConnectWithID(ctx context.Context, id string) error
	Ingest(ctx context.Context, id string, chunk []byte) error
	Disconnect(id string)
}

const flushTimeout = time.Second

type Handler struct {
	cfg      config.GatewayConfig
	sessions Sessions
	hub      *Hub
	logger   *slog.Logger
}

func NewHandler(cfg config.GatewayConfig, sessions Sessions, hub *Hub, logger *slog.Logger) *Handler {
	return &Handler{
		cfg:      cfg,
		sessions: sessions,
		hub:      hub,
		logger:   logger.With(slog.String("component", "gateway")),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", slog.String("error", err.Error()))
		return
	}
	if h.cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(int64(h.cfg.MaxMessageBytes))
	}

	id := uuid.NewString()
	logger := h.logger.With(slog.String("session_id", id), slog.String("remote", r.RemoteAddr))
	c := h.hub.add(id, h.cfg.SendQueue)
	defer h.hub.remove(id)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := h.sessions.ConnectWithID(ctx, id); err != nil {
		logger.Warn("session connect failed", slog.String("error", err.Error()))
		conn.Close(websocket.StatusTryAgainLater, "session unavailable")
		return
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(ctx, conn, c, logger)
	}()

	h.readLoop(ctx, conn, id, logger)

	h.sessions.Disconnect(id)
	select {
	case <-writerDone:
	case <-time.After(flushTimeout):
	}
	cancel()
	<-writerDone
	if n := c.dropped.Load(); n > 0 {
		logger.Warn("events dropped for slow client", slog.Int64("dropped", n))
	}
	conn.Close(websocket.StatusNormalClosure, "session ended")
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, id string, logger *slog.Logger) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				logger.Debug("websocket read ended", slog.String("error", err.Error()))
			}
			return
		}
		if typ != websocket.MessageBinary {
			logger.Warn("ignoring non-binary frame", slog.Int("bytes", len(data)))
			continue
		}
		if err := h.sessions.Ingest(ctx, id, data); err != nil {
			if errors.Is(err, session.ErrMalformedChunk) {
				logger.Warn("rejected audio chunk", slog.String("error", err.Error()))
				continue
			}
			logger.Warn("ingest failed", slog.String("error", err.Error()))
			return
		}
	}
}

func (h *Handler) writeLoop(ctx context.Context, conn *websocket.Conn, c *client, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.queue:
			if err := conn.Write(ctx, websocket.MessageText, msg.data); err != nil {
				logger.Debug("websocket write failed", slog.String("error", err.Error()))
				return
			}
			if msg.last {
				return
			}
		}
	}
}
