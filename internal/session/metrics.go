package session

import (
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/loqalabs/loqa-stream/internal/session"

var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

type metrics struct {
	activeSessions  metric.Int64UpDownCounter
	chunks          metric.Int64Counter
	malformed       metric.Int64Counter
	adapterFailures metric.Int64Counter
	finalized       metric.Int64Counter
	superseded      metric.Int64Counter
	retractions     metric.Int64Counter
	latency         metric.Float64Histogram
}

func newMetrics(mp metric.MeterProvider) (*metrics, error) {
	m := mp.Meter(instrumentationName)
	var err error
	met := &metrics{}

	if met.activeSessions, err = m.Int64UpDownCounter("loqa.stream.active_sessions",
		metric.WithDescription("Number of connected streaming sessions."),
	); err != nil {
		return nil, err
	}
	if met.chunks, err = m.Int64Counter("loqa.stream.chunks",
		metric.WithDescription("Audio chunks accepted for processing."),
	); err != nil {
		return nil, err
	}
	if met.malformed, err = m.Int64Counter("loqa.stream.chunks.malformed",
		metric.WithDescription("Audio chunks rejected at ingest."),
	); err != nil {
		return nil, err
	}
	if met.adapterFailures, err = m.Int64Counter("loqa.stream.adapter.failures",
		metric.WithDescription("Voice-activity and recognition backend failures by adapter."),
	); err != nil {
		return nil, err
	}
	if met.finalized, err = m.Int64Counter("loqa.stream.spans.finalized",
		metric.WithDescription("Utterance spans closed by the segmenter."),
	); err != nil {
		return nil, err
	}
	if met.superseded, err = m.Int64Counter("loqa.stream.jobs.superseded",
		metric.WithDescription("Recognition jobs dropped from the pending slot before running."),
	); err != nil {
		return nil, err
	}
	if met.retractions, err = m.Int64Counter("loqa.stream.retractions.ignored",
		metric.WithDescription("Hypotheses ignored because they contradicted confirmed text."),
	); err != nil {
		return nil, err
	}
	if met.latency, err = m.Float64Histogram("loqa.stream.recognition.duration",
		metric.WithDescription("Latency of recognition calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	return met, nil
}
