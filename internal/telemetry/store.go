package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	metricapi "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"go.pilab.hu/oidcstore"
)

const instrumentationName = "go.pilab.hu/oidcstore/internal/telemetry"

// Outcomes recorded on the operations counter.
const (
	OutcomeOK    = "ok"
	OutcomeHit   = "hit"
	OutcomeMiss  = "miss"
	OutcomeError = "error"
)

// InstrumentedStore records a span, a counter increment and a duration
// sample for every call into the wrapped store.
type InstrumentedStore struct {
	next     oidcstore.Store
	backend  string
	tracer   trace.Tracer
	ops      metricapi.Int64Counter
	duration metricapi.Float64Histogram
}

var _ oidcstore.Store = (*InstrumentedStore)(nil)

// InstrumentStore wraps next. backend labels every measurement, for
// example "memory" or "redis".
func InstrumentStore(next oidcstore.Store, backend string, tp trace.TracerProvider, mp metricapi.MeterProvider) (*InstrumentedStore, error) {
	meter := mp.Meter(instrumentationName)

	ops, err := meter.Int64Counter("oidcstore.operations",
		metricapi.WithDescription("Store operations by outcome."),
		metricapi.WithUnit("{operation}"))
	if err != nil {
		return nil, fmt.Errorf("failed to create operations counter: %w", err)
	}

	duration, err := meter.Float64Histogram("oidcstore.operation.duration",
		metricapi.WithDescription("Store operation latency."),
		metricapi.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	return &InstrumentedStore{
		next:     next,
		backend:  backend,
		tracer:   tp.Tracer(instrumentationName),
		ops:      ops,
		duration: duration,
	}, nil
}

func (s *InstrumentedStore) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	attrs = append(attrs,
		attribute.String("oidcstore.backend", s.backend),
		attribute.String("oidcstore.operation", op))
	ctx, span := s.tracer.Start(ctx, "oidcstore."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...))
	return ctx, span, time.Now()
}

func (s *InstrumentedStore) end(ctx context.Context, span trace.Span, began time.Time, op string, model oidcstore.Model, outcome string, err error) {
	if err != nil {
		outcome = OutcomeError
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("oidcstore.outcome", outcome))
	span.End()

	set := metricapi.WithAttributes(
		attribute.String("backend", s.backend),
		attribute.String("operation", op),
		attribute.String("model", string(model)),
		attribute.String("outcome", outcome),
	)
	s.ops.Add(ctx, 1, set)
	s.duration.Record(ctx, time.Since(began).Seconds(), set)
}

func findOutcome(p oidcstore.Payload) string {
	if p == nil {
		return OutcomeMiss
	}
	return OutcomeHit
}

func (s *InstrumentedStore) Upsert(ctx context.Context, model oidcstore.Model, id string, payload oidcstore.Payload, expiresIn time.Duration) error {
	ctx, span, began := s.start(ctx, "upsert",
		attribute.String("oidcstore.model", string(model)),
		attribute.Int64("oidcstore.expires_in_ms", expiresIn.Milliseconds()))
	err := s.next.Upsert(ctx, model, id, payload, expiresIn)
	s.end(ctx, span, began, "upsert", model, OutcomeOK, err)
	return err
}

func (s *InstrumentedStore) Find(ctx context.Context, model oidcstore.Model, id string) (oidcstore.Payload, error) {
	ctx, span, began := s.start(ctx, "find", attribute.String("oidcstore.model", string(model)))
	p, err := s.next.Find(ctx, model, id)
	s.end(ctx, span, began, "find", model, findOutcome(p), err)
	return p, err
}

func (s *InstrumentedStore) FindByUID(ctx context.Context, model oidcstore.Model, uid string) (oidcstore.Payload, error) {
	ctx, span, began := s.start(ctx, "find_by_uid", attribute.String("oidcstore.model", string(model)))
	p, err := s.next.FindByUID(ctx, model, uid)
	s.end(ctx, span, began, "find_by_uid", model, findOutcome(p), err)
	return p, err
}

func (s *InstrumentedStore) FindByUserCode(ctx context.Context, model oidcstore.Model, userCode string) (oidcstore.Payload, error) {
	ctx, span, began := s.start(ctx, "find_by_user_code", attribute.String("oidcstore.model", string(model)))
	p, err := s.next.FindByUserCode(ctx, model, userCode)
	s.end(ctx, span, began, "find_by_user_code", model, findOutcome(p), err)
	return p, err
}

func (s *InstrumentedStore) Consume(ctx context.Context, model oidcstore.Model, id string) error {
	ctx, span, began := s.start(ctx, "consume", attribute.String("oidcstore.model", string(model)))
	err := s.next.Consume(ctx, model, id)
	s.end(ctx, span, began, "consume", model, OutcomeOK, err)
	return err
}

func (s *InstrumentedStore) Destroy(ctx context.Context, model oidcstore.Model, id string) error {
	ctx, span, began := s.start(ctx, "destroy", attribute.String("oidcstore.model", string(model)))
	err := s.next.Destroy(ctx, model, id)
	s.end(ctx, span, began, "destroy", model, OutcomeOK, err)
	return err
}

func (s *InstrumentedStore) RevokeByGrantID(ctx context.Context, grantID string) error {
	ctx, span, began := s.start(ctx, "revoke_by_grant_id")
	err := s.next.RevokeByGrantID(ctx, grantID)
	s.end(ctx, span, began, "revoke_by_grant_id", "", OutcomeOK, err)
	return err
}

func (s *InstrumentedStore) Ping(ctx context.Context) error {
	ctx, span, began := s.start(ctx, "ping")
	err := s.next.Ping(ctx)
	s.end(ctx, span, began, "ping", "", OutcomeOK, err)
	return err
}

func (s *InstrumentedStore) Close() error {
	return s.next.Close()
}
