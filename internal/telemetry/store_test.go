package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"go.pilab.hu/oidcstore"
	"go.pilab.hu/oidcstore/cache"
	"go.pilab.hu/oidcstore/storetest"
)

type fixture struct {
	store  *InstrumentedStore
	spans  *tracetest.SpanRecorder
	reader *sdkmetric.ManualReader
}

func newFixture(t *testing.T, next oidcstore.Store) fixture {
	t.Helper()

	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	s, err := InstrumentStore(next, "memory", tp, mp)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return fixture{store: s, spans: spans, reader: reader}
}

// counts returns the operations counter keyed by "operation/outcome".
func (f fixture) counts(t *testing.T) map[string]int64 {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, f.reader.Collect(context.Background(), &rm))

	out := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "oidcstore.operations" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				op, _ := dp.Attributes.Value("operation")
				outcome, _ := dp.Attributes.Value("outcome")
				out[op.AsString()+"/"+outcome.AsString()] += dp.Value
			}
		}
	}
	return out
}

func TestInstrumentedStore_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Harness {
		f := newFixture(t, cache.NewMemoryStore())
		return storetest.Harness{Store: f.store, Expire: time.Sleep}
	})
}

func TestInstrumentedStore_RecordsOutcomes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, cache.NewMemoryStore())

	require.NoError(t, f.store.Upsert(ctx, oidcstore.Session, "s1", oidcstore.Payload{"uid": "u1"}, time.Minute))

	p, err := f.store.Find(ctx, oidcstore.Session, "s1")
	require.NoError(t, err)
	require.NotNil(t, p)

	p, err = f.store.Find(ctx, oidcstore.Session, "nope")
	require.NoError(t, err)
	require.Nil(t, p)

	p, err = f.store.FindByUID(ctx, oidcstore.Session, "u1")
	require.NoError(t, err)
	require.NotNil(t, p)

	_, err = f.store.Find(ctx, oidcstore.Client, "c1")
	require.ErrorIs(t, err, oidcstore.ErrUnsupportedOperation)

	require.NoError(t, f.store.RevokeByGrantID(ctx, "g1"))

	assert.Equal(t, map[string]int64{
		"upsert/ok":             1,
		"find/hit":              1,
		"find/miss":             1,
		"find/error":            1,
		"find_by_uid/hit":       1,
		"revoke_by_grant_id/ok": 1,
	}, f.counts(t))
}

func TestInstrumentedStore_Spans(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, cache.NewMemoryStore())

	require.NoError(t, f.store.Destroy(ctx, oidcstore.AccessToken, "at1"))
	_, err := f.store.Find(ctx, oidcstore.Client, "c1")
	require.Error(t, err)

	ended := f.spans.Ended()
	require.Len(t, ended, 2)

	assert.Equal(t, "oidcstore.destroy", ended[0].Name())
	assert.Equal(t, codes.Unset, ended[0].Status().Code)
	assert.Contains(t, ended[0].Attributes(), attribute.String("oidcstore.model", "AccessToken"))
	assert.Contains(t, ended[0].Attributes(), attribute.String("oidcstore.backend", "memory"))

	assert.Equal(t, "oidcstore.find", ended[1].Name())
	assert.Equal(t, codes.Error, ended[1].Status().Code)
	assert.Contains(t, ended[1].Attributes(), attribute.String("oidcstore.outcome", OutcomeError))
}

type failingStore struct {
	oidcstore.Store
	err error
}

func (s failingStore) Ping(context.Context) error { return s.err }

func TestInstrumentedStore_PingError(t *testing.T) {
	boom := errors.New("down")
	f := newFixture(t, failingStore{Store: cache.NewMemoryStore(), err: boom})

	require.ErrorIs(t, f.store.Ping(context.Background()), boom)
	assert.Equal(t, map[string]int64{"ping/error": 1}, f.counts(t))
}
