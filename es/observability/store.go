// Package observability instruments event stores with Prometheus metrics and
// OpenTelemetry spans.
package observability

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/getpup/pupcart/es"
	"github.com/getpup/pupcart/es/store"
)

const tracerName = "github.com/getpup/pupcart/es/observability"

// Outcome label values.
const (
	OutcomeOK       = "ok"
	OutcomeConflict = "conflict"
	OutcomeError    = "error"
)

// Metrics holds the store collectors.
type Metrics struct {
	Appends  *prometheus.CounterVec
	Events   *prometheus.CounterVec
	Loads    *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg when it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Appends: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pupcart_store_appends_total",
				Help: "Append calls by aggregate type and outcome.",
			},
			[]string{"aggregate_type", "outcome"},
		),
		Events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pupcart_store_events_appended_total",
				Help: "Events durably appended by aggregate type.",
			},
			[]string{"aggregate_type"},
		),
		Loads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pupcart_store_loads_total",
				Help: "Stream loads by outcome.",
			},
			[]string{"outcome"},
		),
		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pupcart_store_operation_duration_seconds",
				Help:    "Event store operation latency in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Appends, m.Events, m.Loads, m.Duration)
	}
	return m
}

// InstrumentedStore decorates a store.EventStore.
type InstrumentedStore struct {
	next    store.EventStore
	metrics *Metrics
	tracer  trace.Tracer
}

var _ store.EventStore = (*InstrumentedStore)(nil)

// Option configures an InstrumentedStore.
type Option func(*InstrumentedStore)

// WithTracer overrides the global tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *InstrumentedStore) {
		s.tracer = tracer
	}
}

// Instrument wraps next.
func Instrument(next store.EventStore, metrics *Metrics, opts ...Option) *InstrumentedStore {
	s := &InstrumentedStore{
		next:    next,
		metrics: metrics,
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Unwrap returns the wrapped store.
func (s *InstrumentedStore) Unwrap() store.EventStore {
	return s.next
}

func outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, store.ErrOptimisticConcurrency):
		return OutcomeConflict
	default:
		return OutcomeError
	}
}

func finish(span trace.Span, err error) {
	if err != nil && !errors.Is(err, store.ErrOptimisticConcurrency) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Append implements store.EventStore.
func (s *InstrumentedStore) Append(ctx context.Context, streamID, aggregateType string, expected es.ExpectedVersion, events []es.Event) (es.AppendResult, error) {
	ctx, span := s.tracer.Start(ctx, "eventstore.append", trace.WithAttributes(
		attribute.String("es.stream_id", streamID),
		attribute.String("es.aggregate_type", aggregateType),
		attribute.String("es.expected_version", expected.String()),
		attribute.Int("es.event_count", len(events)),
	))
	start := time.Now()

	result, err := s.next.Append(ctx, streamID, aggregateType, expected, events)

	s.metrics.Duration.WithLabelValues("append").Observe(time.Since(start).Seconds())
	s.metrics.Appends.WithLabelValues(aggregateType, outcome(err)).Inc()
	if err == nil {
		s.metrics.Events.WithLabelValues(aggregateType).Add(float64(len(result.Events)))
		span.SetAttributes(attribute.Int64("es.version", result.ToVersion()))
	} else if errors.Is(err, store.ErrOptimisticConcurrency) {
		span.SetAttributes(attribute.Bool("es.conflict", true))
	}
	finish(span, err)
	return result, err
}

// Load implements store.EventStore.
func (s *InstrumentedStore) Load(ctx context.Context, streamID string, maxVersion *int64) ([]es.Event, error) {
	attrs := []attribute.KeyValue{attribute.String("es.stream_id", streamID)}
	if maxVersion != nil {
		attrs = append(attrs, attribute.Int64("es.max_version", *maxVersion))
	}
	ctx, span := s.tracer.Start(ctx, "eventstore.load", trace.WithAttributes(attrs...))
	start := time.Now()

	events, err := s.next.Load(ctx, streamID, maxVersion)

	s.metrics.Duration.WithLabelValues("load").Observe(time.Since(start).Seconds())
	s.metrics.Loads.WithLabelValues(outcome(err)).Inc()
	span.SetAttributes(attribute.Int("es.event_count", len(events)))
	finish(span, err)
	return events, err
}

// Version implements store.EventStore.
func (s *InstrumentedStore) Version(ctx context.Context, streamID string) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "eventstore.version", trace.WithAttributes(
		attribute.String("es.stream_id", streamID),
	))
	start := time.Now()

	version, err := s.next.Version(ctx, streamID)

	s.metrics.Duration.WithLabelValues("version").Observe(time.Since(start).Seconds())
	finish(span, err)
	return version, err
}
