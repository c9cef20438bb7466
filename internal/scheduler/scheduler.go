// Package scheduler coalesces concurrent trading-pass requests for the same
// market into a single in-flight execution, grounded on task_scheduler.py's
// TaskScheduler.schedule_task: a slow pass for market A must never queue up
// a second, overlapping pass for market A once the WS event that triggered
// it has already been absorbed by the one in flight.
package scheduler

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const instrumentationName = "polymarket-mm/scheduler"

// Scheduler runs one task per key at a time; a second Schedule call for a
// key that's already running waits for and shares the first call's result
// instead of starting a redundant pass.
type Scheduler struct {
	group *singleflight.Group

	tracer    trace.Tracer
	inFlight  metric.Int64UpDownCounter
	latency   metric.Float64Histogram
}

// New creates a Scheduler instrumented under the given otel meter provider.
// Passing nil for either provider falls back to the global no-op providers,
// which is fine for tests.
func New(tp trace.TracerProvider, mp metric.MeterProvider) (*Scheduler, error) {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if mp == nil {
		mp = otel.GetMeterProvider()
	}

	meter := mp.Meter(instrumentationName)
	inFlight, err := meter.Int64UpDownCounter(
		"scheduler.passes_in_flight",
		metric.WithDescription("number of trading passes currently executing"),
	)
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram(
		"scheduler.pass_latency_seconds",
		metric.WithDescription("wall-clock duration of a trading pass"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &Scheduler{
		group:    new(singleflight.Group),
		tracer:   tp.Tracer(instrumentationName),
		inFlight: inFlight,
		latency:  latency,
	}, nil
}

// Schedule runs fn for key, coalescing concurrent callers for the same key
// onto a single execution. shared reports whether that execution's result
// was handed to more than one caller; when it is true, every caller that
// joined it, including the one that ran fn, receives true.
func (s *Scheduler) Schedule(ctx context.Context, key string, fn func(ctx context.Context) error) (shared bool, err error) {
	ctx, span := s.tracer.Start(ctx, "trading_pass", trace.WithAttributes(
		attribute.String("market_id", key),
	))
	defer span.End()

	started := time.Now()
	_, err, shared = s.group.Do(key, func() (interface{}, error) {
		s.inFlight.Add(ctx, 1, metric.WithAttributes(attribute.String("market_id", key)))
		defer s.inFlight.Add(ctx, -1, metric.WithAttributes(attribute.String("market_id", key)))
		return nil, fn(ctx)
	})

	s.latency.Record(ctx, time.Since(started).Seconds(), metric.WithAttributes(
		attribute.String("market_id", key),
		attribute.Bool("shared", shared),
	))
	if err != nil {
		span.RecordError(err)
	}
	return shared, err
}
