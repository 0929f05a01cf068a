// Package session owns connected audio streams: it routes chunks to each session's
// transcription policy, runs recognition off the ingest path with at most one call
// in flight per session, and publishes the resulting transcript events.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-stream/internal/audio"
	"github.com/loqalabs/loqa-stream/internal/config"
	"github.com/loqalabs/loqa-stream/internal/policy"
	"github.com/loqalabs/loqa-stream/internal/stt"
	"github.com/loqalabs/loqa-stream/internal/vad"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type Options struct {
	Stream         config.StreamConfig
	Detector       vad.Detector
	Recognizer     stt.Recognizer
	Sink           Sink
	Logger         *slog.Logger
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
}

// Registry maps session ids to live sessions. The map is the only state shared
// between sessions.
type Registry struct {
	stream     config.StreamConfig
	format     audio.Format
	params     policy.Params
	factory    policy.Factory
	detector   vad.Detector
	recognizer stt.Recognizer
	sink       Sink
	logger     *slog.Logger
	metrics    *metrics
	tracer     trace.Tracer
	timeout    time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	sessions map[string]*session
	closed   bool
}

func NewRegistry(opts Options) (*Registry, error) {
	if err := config.ValidateStream(opts.Stream); err != nil {
		return nil, err
	}
	if opts.Detector == nil {
		return nil, fmt.Errorf("session registry requires a voice-activity detector")
	}
	if opts.Recognizer == nil {
		return nil, fmt.Errorf("session registry requires a recognizer")
	}
	factory, err := policy.Lookup(opts.Stream.Policy)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalidConfiguration, err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sink := opts.Sink
	if sink == nil {
		sink = discardSink{}
	}
	mp := opts.MeterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	met, err := newMetrics(mp)
	if err != nil {
		return nil, fmt.Errorf("create session metrics: %w", err)
	}
	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		stream: opts.Stream,
		format: audio.Format{
			SampleRate:       opts.Stream.SampleRate,
			SampleWidthBytes: opts.Stream.SampleWidthBytes,
			Channels:         opts.Stream.Channels,
		},
		params:     policy.ParamsFromConfig(opts.Stream),
		factory:    factory,
		detector:   opts.Detector,
		recognizer: opts.Recognizer,
		sink:       sink,
		logger:     logger.With(slog.String("component", "session")),
		metrics:    met,
		tracer:     tp.Tracer(instrumentationName),
		timeout:    time.Duration(opts.Stream.RecognitionTimeoutMS) * time.Millisecond,
		ctx:        ctx,
		cancel:     cancel,
		sessions:   make(map[string]*session),
	}, nil
}

// Connect creates a session with a fresh id and announces it.
func (r *Registry) Connect(ctx context.Context) (string, error) {
	id := uuid.NewString()
	if err := r.ConnectWithID(ctx, id); err != nil {
		return "", err
	}
	return id, nil
}

// ConnectWithID creates a session under a caller-chosen id.
func (r *Registry) ConnectWithID(ctx context.Context, id string) error {
	s := r.newSession(id)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if _, exists := r.sessions[id]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionExists, id)
	}
	r.sessions[id] = s
	r.mu.Unlock()

	r.metrics.activeSessions.Add(ctx, 1)
	s.logger.Info("session connected", slog.String("policy", s.policy.Name))
	s.emit(Event{Kind: KindStarted})
	return nil
}

// Ingest runs one processing tick for the session with chunk appended.
func (r *Registry) Ingest(ctx context.Context, id string, chunk []byte) error {
	s := r.lookup(id)
	if s == nil {
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	if err := r.format.Check(chunk); err != nil {
		r.metrics.malformed.Add(ctx, 1)
		return fmt.Errorf("%w: %w", ErrMalformedChunk, err)
	}
	return s.ingest(ctx, chunk)
}

// Disconnect removes the session, releases its buffers and suppresses any
// recognition result still outstanding. Unknown ids are ignored.
func (r *Registry) Disconnect(id string) {
	s := r.lookup(id)
	if s == nil {
		return
	}
	// Results are dropped from here on, before the id stops resolving.
	s.markGone()

	r.mu.Lock()
	if r.sessions[id] != s {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, id)
	r.mu.Unlock()
	s.close()
	r.metrics.activeSessions.Add(context.Background(), -1)
	s.logger.Info("session disconnected")
}

// Close disconnects every session, cancels outstanding recognition calls and
// waits for dispatchers to exit.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.Disconnect(id)
	}
	r.cancel()
	r.wg.Wait()
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) Has(id string) bool {
	return r.lookup(id) != nil
}

func (r *Registry) lookup(id string) *session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

func (r *Registry) adapterFailure(ctx context.Context, s *session, adapter string, err error) {
	aerr := &AdapterError{Adapter: adapter, SessionID: s.id, Err: err}
	r.metrics.adapterFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("adapter", adapter)))
	s.logger.Warn("adapter failure", slog.String("adapter", adapter), slog.String("error", aerr.Error()))
}
