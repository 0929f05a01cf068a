package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-stream/internal/audio"
	"github.com/loqalabs/loqa-stream/internal/policy"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type job struct {
	pcm       []byte
	final     bool
	forced    bool
	utterance int
}

func (j *job) kind() string {
	if j.final {
		return "final"
	}
	return "interim"
}

type session struct {
	id     string
	reg    *Registry
	logger *slog.Logger

	// mu serializes ticks; held by ingest and close only.
	mu        sync.Mutex
	window    *audio.Window
	policy    policy.Policy
	utterance int
	closed    bool

	// slotMu guards the depth-1 pending slot and the dispatcher flag.
	slotMu  sync.Mutex
	pending *job
	running bool

	// Touched only by the active dispatcher; dispatchers never overlap.
	stabUtterance int

	emitMu   sync.Mutex
	sequence uint64
	gone     bool
	ended    bool
}

func (r *Registry) newSession(id string) *session {
	return &session{
		id:     id,
		reg:    r,
		logger: r.logger.With(slog.String("session_id", id)),
		window: audio.NewWindow(r.stream.PreCapacity(), r.stream.PostCapacity()),
		policy: r.factory(r.params, r.detector),
	}
}

func (s *session) ingest(ctx context.Context, chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrUnknownSession
	}
	s.reg.metrics.chunks.Add(ctx, 1)

	s.window.Append(chunk)
	d := s.policy.Segmenter.Tick(ctx, s.window)
	if d.Err != nil {
		s.reg.adapterFailure(ctx, s, "vad", d.Err)
	}
	if d.Started {
		s.utterance++
		s.logger.Debug("speech started", slog.Int("utterance", s.utterance), slog.Float64("score", d.Score))
	}
	switch {
	case d.Finalized():
		s.reg.metrics.finalized.Add(ctx, 1, metric.WithAttributes(attribute.Bool("forced", d.Forced)))
		s.logger.Debug("span finalized",
			slog.Int("utterance", s.utterance),
			slog.Int("bytes", len(d.Span)),
			slog.Bool("forced", d.Forced))
		s.submit(&job{pcm: d.Span, final: true, forced: d.Forced, utterance: s.utterance})
	case d.Interim != nil:
		s.submit(&job{pcm: d.Interim, utterance: s.utterance})
	}
	return nil
}

// submit places j in the pending slot and starts a dispatcher if none is running.
// A newer job replaces a pending one, except that an interim never displaces a
// pending final.
func (s *session) submit(j *job) {
	s.slotMu.Lock()
	defer s.slotMu.Unlock()
	if prev := s.pending; prev != nil {
		if prev.final && !j.final {
			s.reg.metrics.superseded.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", j.kind())))
			return
		}
		s.reg.metrics.superseded.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", prev.kind())))
		if prev.final {
			s.logger.Warn("pending span superseded before recognition", slog.Int("utterance", prev.utterance))
		}
	}
	s.pending = j
	if !s.running {
		s.running = true
		s.reg.wg.Add(1)
		go s.dispatch()
	}
}

func (s *session) dispatch() {
	defer s.reg.wg.Done()
	for {
		s.slotMu.Lock()
		j := s.pending
		s.pending = nil
		if j == nil {
			s.running = false
			s.slotMu.Unlock()
			return
		}
		s.slotMu.Unlock()
		s.recognize(j)
	}
}

func (s *session) recognize(j *job) {
	r := s.reg
	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()
	ctx, span := r.tracer.Start(ctx, "stt.transcribe", trace.WithAttributes(
		attribute.String("session.id", s.id),
		attribute.Int("utterance", j.utterance),
		attribute.Bool("final", j.final),
		attribute.Bool("forced", j.forced),
		attribute.Int("audio.bytes", len(j.pcm)),
	))
	defer span.End()

	start := time.Now()
	result, err := r.recognizer.Transcribe(ctx, j.pcm, r.stream.SampleRate, r.stream.Channels, j.final)
	r.metrics.latency.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("kind", j.kind())))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.adapterFailure(ctx, s, "stt", err)
		return
	}

	if j.utterance != s.stabUtterance {
		s.policy.Stabilizer.Reset()
		s.stabUtterance = j.utterance
	}
	if j.final {
		if delta := s.policy.Stabilizer.Finalize(result.Text); delta != "" {
			s.emit(Event{Kind: KindTranscript, Text: delta, IsFinal: true, Utterance: j.utterance})
		}
		return
	}
	delta, ok := s.policy.Stabilizer.Update(result.Text)
	if !ok {
		r.metrics.retractions.Add(ctx, 1)
		s.logger.Debug("hypothesis contradicts confirmed text", slog.String("hypothesis", result.Text))
		return
	}
	if delta != "" {
		s.emit(Event{Kind: KindTranscript, Text: delta, Utterance: j.utterance})
	}
}

// markGone stops transcript delivery. Only session.end is emitted afterwards.
func (s *session) markGone() {
	s.emitMu.Lock()
	s.gone = true
	s.emitMu.Unlock()
}

// emit stamps and publishes e unless the session has already ended.
func (s *session) emit(e Event) bool {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if s.ended || (s.gone && e.Kind != KindEnded) {
		return false
	}
	if e.Kind == KindEnded {
		s.ended = true
	}
	s.sequence++
	e.SessionID = s.id
	e.Sequence = s.sequence
	e.Timestamp = time.Now().UTC()
	s.reg.sink.Publish(e)
	return true
}

func (s *session) close() {
	s.mu.Lock()
	s.closed = true
	s.window.Reset()
	s.policy.Segmenter.Reset()
	s.mu.Unlock()

	s.slotMu.Lock()
	s.pending = nil
	s.slotMu.Unlock()

	s.emit(Event{Kind: KindEnded})
}
