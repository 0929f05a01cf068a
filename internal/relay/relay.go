// Package relay bridges the NATS bus to the session registry: audio frames published
// under audio.frame.> feed sessions, and their transcripts are published back.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-stream/internal/bus"
	"github.com/loqalabs/loqa-stream/internal/config"
	"github.com/loqalabs/loqa-stream/internal/protocol"
	"github.com/loqalabs/loqa-stream/internal/session"
	"github.com/nats-io/nats.go"
)

// Sessions is the part of the session registry the relay drives.
type Sessions interface {
	ConnectWithID(ctx context.Context, id string) error
	Ingest(ctx context.Context, id string, chunk []byte) error
	Disconnect(id string)
}

type Relay struct {
	cfg      config.RelayConfig
	stream   config.StreamConfig
	bus      *bus.Client
	sessions Sessions
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	sub    *nats.Subscription
	wg     sync.WaitGroup

	mu    sync.Mutex
	owned map[string]time.Time // last frame per relay-opened session
	ready bool
}

func New(parent context.Context, cfg config.RelayConfig, stream config.StreamConfig, busClient *bus.Client, logger *slog.Logger) *Relay {
	ctx, cancel := context.WithCancel(parent)
	return &Relay{
		cfg:    cfg,
		stream: stream,
		bus:    busClient,
		logger: logger.With(slog.String("component", "relay")),
		ctx:    ctx,
		cancel: cancel,
		owned:  make(map[string]time.Time),
	}
}

// Attach sets the registry frames are fed into. It must be called before Start.
func (r *Relay) Attach(sessions Sessions) {
	r.sessions = sessions
}

func (r *Relay) Start() error {
	if !r.cfg.Enabled {
		return nil
	}
	if r.sessions == nil {
		return errors.New("relay started without a session registry")
	}
	subject := protocol.SubjectAudioFramePrefix + ".>"
	sub, err := r.bus.Conn().Subscribe(subject, r.handleFrame)
	if err != nil {
		return fmt.Errorf("subscribe audio frames: %w", err)
	}
	r.mu.Lock()
	r.sub = sub
	r.ready = true
	r.mu.Unlock()
	r.logger.Info("relay subscribed", slog.String("subject", subject))

	if idle := time.Duration(r.cfg.IdleTimeoutMS) * time.Millisecond; idle > 0 {
		r.wg.Add(1)
		go r.reapIdle(idle)
	}
	return nil
}

// reapIdle disconnects sessions whose producer went away without a final frame.
func (r *Relay) reapIdle(idle time.Duration) {
	defer r.wg.Done()
	ticker := time.NewTicker(max(idle/4, 10*time.Millisecond))
	defer ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case now := <-ticker.C:
			for _, id := range r.stale(now.Add(-idle)) {
				r.logger.Info("closing idle relay session",
					slog.String("session_id", id),
					slog.Duration("idle_timeout", idle))
				r.sessions.Disconnect(id)
				r.release(id)
			}
		}
	}
}

func (r *Relay) stale(cutoff time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, seen := range r.owned {
		if seen.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Close stops consuming frames and disconnects every session the relay opened.
func (r *Relay) Close() {
	r.cancel()
	r.mu.Lock()
	sub := r.sub
	r.ready = false
	ids := make([]string, 0, len(r.owned))
	for id := range r.owned {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	if sub != nil {
		_ = sub.Drain()
	}
	r.wg.Wait()
	for _, id := range ids {
		r.sessions.Disconnect(id)
		r.release(id)
	}
}

func (r *Relay) Healthy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.cfg.Enabled || (r.ready && r.bus.Healthy())
}

func (r *Relay) handleFrame(msg *nats.Msg) {
	var frame protocol.AudioFrame
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		r.logger.Warn("failed to decode audio frame", slog.String("error", err.Error()))
		return
	}
	if frame.SessionID == "" {
		r.logger.Warn("audio frame without session id", slog.String("subject", msg.Subject))
		return
	}
	logger := r.logger.With(slog.String("session_id", frame.SessionID))
	if frame.SampleRate != 0 && frame.SampleRate != r.stream.SampleRate ||
		frame.Channels != 0 && frame.Channels != r.stream.Channels {
		logger.Warn("audio frame format mismatch",
			slog.Int("sample_rate", frame.SampleRate),
			slog.Int("channels", frame.Channels))
		return
	}

	if !r.touch(frame.SessionID) {
		r.own(frame.SessionID)
		if err := r.sessions.ConnectWithID(r.ctx, frame.SessionID); err != nil {
			r.release(frame.SessionID)
			logger.Warn("failed to open session for frame", slog.String("error", err.Error()))
			return
		}
	}

	if len(frame.PCM) > 0 {
		if err := r.sessions.Ingest(r.ctx, frame.SessionID, frame.PCM); err != nil {
			logger.Warn("failed to ingest audio frame",
				slog.Int("sequence", frame.Sequence),
				slog.String("error", err.Error()))
		}
	}
	if frame.Final {
		r.sessions.Disconnect(frame.SessionID)
		r.release(frame.SessionID)
	}
}

// Publish forwards events for relay-owned sessions onto the bus.
func (r *Relay) Publish(e session.Event) {
	if !r.owns(e.SessionID) {
		return
	}
	var (
		subject string
		payload any
	)
	switch e.Kind {
	case session.KindStarted, session.KindEnded:
		subject = protocol.SubjectSessionStart
		if e.Kind == session.KindEnded {
			subject = protocol.SubjectSessionEnd
		}
		payload = protocol.SessionEvent{SessionID: e.SessionID, Sequence: e.Sequence, Timestamp: e.Timestamp}
	default:
		subject = protocol.SubjectTranscriptPartial
		if e.IsFinal {
			subject = protocol.SubjectTranscriptFinal
		}
		payload = protocol.Transcript{
			SessionID: e.SessionID,
			Text:      e.Text,
			Partial:   !e.IsFinal,
			Utterance: e.Utterance,
			Sequence:  e.Sequence,
			Timestamp: e.Timestamp,
		}
	}
	if err := r.bus.PublishJSON(subject, payload); err != nil {
		r.logger.Warn("failed to publish session event", slog.String("error", err.Error()))
	}
}

func (r *Relay) owns(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.owned[id]
	return ok
}

// touch records a frame for an owned session and reports whether it was owned.
func (r *Relay) touch(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.owned[id]; !ok {
		return false
	}
	r.owned[id] = time.Now()
	return true
}

func (r *Relay) own(id string) {
	r.mu.Lock()
	r.owned[id] = time.Now()
	r.mu.Unlock()
}

func (r *Relay) release(id string) {
	r.mu.Lock()
	delete(r.owned, id)
	r.mu.Unlock()
}
