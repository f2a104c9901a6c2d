package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/cklxx-elephant-ai/a2aengine/internal/shared/config"
	"github.com/cklxx-elephant-ai/a2aengine/internal/shared/logging"
)

// setupTracing builds the process-wide TracerProvider, batching spans
// through an OTLP/HTTP exporter when cfg.OTLPEndpoint is set. A
// missing endpoint still yields a working TracerProvider — the
// handler's and the SSE adapter's spans are recorded and ended
// exactly the same either way — it just has nowhere to export to.
func setupTracing(ctx context.Context, cfg config.TelemetryConfig, log logging.Logger) (*sdktrace.TracerProvider, func(context.Context) error) {
	var opts []sdktrace.TracerProviderOption
	if cfg.OTLPEndpoint != "" {
		exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(cfg.OTLPEndpoint), otlptracehttp.WithInsecure())
		if err != nil {
			log.Warn("otlp trace exporter setup failed, tracing spans will not be exported: %v", err)
		} else {
			opts = append(opts, sdktrace.WithBatcher(exporter))
		}
	}
	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	return tp, tp.Shutdown
}

// setupMetrics builds the process-wide MeterProvider backing
// handler.Deps.Meter's tasks_total mirror, bridged into reg via the
// Prometheus exporter so otel.Meter-derived instruments surface on
// the same /metrics endpoint as the native Prometheus counters.
func setupMetrics(reg *prometheus.Registry, log logging.Logger) (*sdkmetric.MeterProvider, func(context.Context) error) {
	var opts []sdkmetric.Option
	exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		log.Warn("prometheus metric bridge setup failed, otel instruments will not be exported: %v", err)
	} else {
		opts = append(opts, sdkmetric.WithReader(exporter))
	}
	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)
	return mp, mp.Shutdown
}

// meterFor is a small indirection so tests can substitute a
// sdkmetric.ManualReader-backed provider without touching run()'s
// control flow.
func meterFor(mp *sdkmetric.MeterProvider) metric.Meter {
	if mp == nil {
		return otel.Meter("a2aengine/handler")
	}
	return mp.Meter("a2aengine/handler")
}
