// Package telemetry wires veritas into OpenTelemetry: a meter provider
// exporting to stdout by default, and a small set of instruments recording
// adapter-call latency, slice outcomes, and job completions. Instrumented
// throughout, never dashboarded here — what consumes the exported metrics
// is an operational concern outside this package.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "github.com/rivergate-labs/veritas"

var (
	meter               = otel.Meter(meterName)
	adapterCallDuration metric.Float64Histogram
	adapterCallErrors   metric.Int64Counter
	slicesRun           metric.Int64Counter
	jobsCompleted       metric.Int64Counter
)

func init() {
	var err error
	adapterCallDuration, err = meter.Float64Histogram("veritas.adapter.call.duration_ms",
		metric.WithDescription("Latency of one Task Executor adapter call, by task type"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		adapterCallDuration = noopHistogram()
	}
	adapterCallErrors, err = meter.Int64Counter("veritas.adapter.call.errors",
		metric.WithDescription("Adapter calls that returned a non-nil error, by task type"),
	)
	if err != nil {
		adapterCallErrors = noopCounter()
	}
	slicesRun, err = meter.Int64Counter("veritas.scheduler.slices_run",
		metric.WithDescription("Slice Scheduler runs, tagged by whether the Frontier was exhausted"),
	)
	if err != nil {
		slicesRun = noopCounter()
	}
	jobsCompleted, err = meter.Int64Counter("veritas.orchestrator.jobs_completed",
		metric.WithDescription("Jobs reaching a terminal status, by final item status"),
	)
	if err != nil {
		jobsCompleted = noopCounter()
	}
}

// noopHistogram and noopCounter return working instruments against a no-op
// provider, so a failed registration never turns recording calls into
// nil-pointer panics.
func noopHistogram() metric.Float64Histogram {
	h, _ := otel.GetMeterProvider().Meter(meterName).Float64Histogram("veritas.fallback")
	return h
}

func noopCounter() metric.Int64Counter {
	c, _ := otel.GetMeterProvider().Meter(meterName).Int64Counter("veritas.fallback")
	return c
}

// Init installs a periodically-flushed meter provider exporting to stdout
// and returns a shutdown func to flush and release it on exit. Passing an
// empty interval uses a 30s export period. Safe to skip calling: every
// instrument above works against the global no-op provider until Init runs.
func Init(ctx context.Context, exportInterval time.Duration) (shutdown func(context.Context) error, err error) {
	if exportInterval <= 0 {
		exportInterval = 30 * time.Second
	}

	exporter, err := stdoutmetric.New(stdoutmetric.WithoutTimestamps())
	if err != nil {
		return nil, fmt.Errorf("telemetry: stdout exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(exportInterval))),
	)
	otel.SetMeterProvider(provider)
	meter = provider.Meter(meterName)

	return provider.Shutdown, nil
}

// RecordAdapterCall records one Task Executor dispatch's latency and
// outcome, tagged by the Frontier task type it served.
func RecordAdapterCall(ctx context.Context, taskType string, dur time.Duration, err error) {
	attrs := metric.WithAttributes(taskTypeAttr(taskType))
	adapterCallDuration.Record(ctx, float64(dur.Microseconds())/1000, attrs)
	if err != nil {
		adapterCallErrors.Add(ctx, 1, attrs)
	}
}

// RecordSliceRun records one Slice Scheduler drain, tagged by whether it
// found the Frontier exhausted.
func RecordSliceRun(ctx context.Context, exhausted bool) {
	slicesRun.Add(ctx, 1, metric.WithAttributes(boolAttr("exhausted", exhausted)))
}

// RecordJobCompletion records one job reaching a terminal Item status
// ("published", "needs_review", or "failed").
func RecordJobCompletion(ctx context.Context, status string) {
	jobsCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func taskTypeAttr(taskType string) attribute.KeyValue {
	return attribute.String("task_type", taskType)
}

func boolAttr(key string, v bool) attribute.KeyValue {
	return attribute.Bool(key, v)
}
