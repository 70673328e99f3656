package observability_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/getpup/pupcart/es"
	"github.com/getpup/pupcart/es/adapters/memory"
	"github.com/getpup/pupcart/es/observability"
	"github.com/getpup/pupcart/es/store"
	"github.com/getpup/pupcart/es/store/storetest"
)

func newInstrumented(t *testing.T) (*observability.InstrumentedStore, *observability.Metrics, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	s := observability.Instrument(memory.NewStore(), metrics, observability.WithTracer(tp.Tracer("test")))
	return s, metrics, recorder
}

func TestInstrumentedStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.EventStore {
		s, _, _ := newInstrumented(t)
		return s
	})
}

func TestMetricsAndSpans(t *testing.T) {
	ctx := context.Background()
	s, metrics, recorder := newInstrumented(t)
	streamID := es.StreamIDFromUUID(uuid.New())

	_, err := s.Append(ctx, streamID, "Cart", es.NoStream(), storetest.NewEvents(3))
	require.NoError(t, err)
	_, err = s.Append(ctx, streamID, "Cart", es.Exact(1), storetest.NewEvents(1))
	require.ErrorIs(t, err, store.ErrOptimisticConcurrency)
	_, err = s.Load(ctx, streamID, nil)
	require.NoError(t, err)
	_, err = s.Version(ctx, streamID)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Appends.WithLabelValues("Cart", observability.OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Appends.WithLabelValues("Cart", observability.OutcomeConflict)))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.Events.WithLabelValues("Cart")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Loads.WithLabelValues(observability.OutcomeOK)))
	assert.Equal(t, 3, testutil.CollectAndCount(metrics.Duration))

	spans := recorder.Ended()
	require.Len(t, spans, 4)
	names := []string{spans[0].Name(), spans[1].Name(), spans[2].Name(), spans[3].Name()}
	assert.Equal(t, []string{"eventstore.append", "eventstore.append", "eventstore.load", "eventstore.version"}, names)
}

func TestUnwrap(t *testing.T) {
	inner := memory.NewStore()
	s := observability.Instrument(inner, observability.NewMetrics(nil))
	assert.Same(t, inner, s.Unwrap())
}
