package engine

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Metrics struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inflight prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imageutils_engine_calls_total",
			Help: "Total engine calls by output format and outcome.",
		}, []string{"format", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "imageutils_engine_duration_seconds",
			Help:    "Time from engine dispatch to settlement.",
			Buckets: prometheus.DefBuckets,
		}, []string{"format", "outcome"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "imageutils_engine_inflight_calls",
			Help: "Engine calls dispatched and not yet settled.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.calls, m.duration, m.inflight)
	}
	return m
}

type instrumented struct {
	next    Engine
	tracer  trace.Tracer
	metrics *Metrics
}

// Instrument records a span and metrics for every call made through next. The returned
// future is next's future, untouched.
func Instrument(next Engine, tracer trace.Tracer, metrics *Metrics) Engine {
	if tracer == nil {
		tracer = otel.Tracer("imageutils/engine")
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &instrumented{next: next, tracer: tracer, metrics: metrics}
}

func (e *instrumented) CreateResizedImage(ctx context.Context, args Args) *Future {
	startedAt := time.Now()
	ctx, span := e.tracer.Start(ctx, "engine.create_resized_image", trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(
		attribute.String("image.format", args.Format.String()),
		attribute.Int("image.width", args.Width),
		attribute.Int("image.height", args.Height),
		attribute.Int("image.rotation", args.Rotation),
	)
	e.metrics.inflight.Inc()

	f := e.next.CreateResizedImage(ctx, args)
	go func() {
		<-f.Done()
		_, err := f.Await(context.Background())

		outcome := "succeeded"
		if err != nil {
			outcome = "failed"
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				outcome = "canceled"
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, "engine failed")
		} else {
			span.SetStatus(codes.Ok, "resized")
		}
		span.End()

		e.metrics.inflight.Dec()
		e.metrics.calls.WithLabelValues(args.Format.String(), outcome).Inc()
		e.metrics.duration.WithLabelValues(args.Format.String(), outcome).Observe(time.Since(startedAt).Seconds())
	}()
	return f
}
