// Package observe provides application-wide observability primitives for
// SwitchPilot: OpenTelemetry metrics with a Prometheus exporter bridge so the
// standard /metrics endpoint keeps working.
//
// A package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all SwitchPilot metrics.
const meterName = "github.com/stagecast/switchpilot"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// TickDuration tracks the auto-switch decision loop's per-tick
	// evaluation latency.
	TickDuration metric.Float64Histogram

	// ToolCallDuration tracks MCP tool execution latency.
	ToolCallDuration metric.Float64Histogram

	// Switches counts confirmed speaker switches. Use with attribute:
	//   attribute.String("mode", ...)
	Switches metric.Int64Counter

	// Commands counts device commands issued. Use with attributes:
	//   attribute.String("op", ...), attribute.String("status", ...)
	Commands metric.Int64Counter

	// ToolCalls counts MCP tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// LevelSamples counts audio-level samples ingested from the device link.
	LevelSamples metric.Int64Counter

	// ActiveRuns tracks the number of live auto-switch runs.
	ActiveRuns metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for control-loop and tool latencies.
var latencyBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TickDuration, err = m.Float64Histogram("switchpilot.autoswitch.tick.duration",
		metric.WithDescription("Latency of one auto-switch decision tick."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolCallDuration, err = m.Float64Histogram("switchpilot.tool.duration",
		metric.WithDescription("Latency of MCP tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Switches, err = m.Int64Counter("switchpilot.autoswitch.switches",
		metric.WithDescription("Total confirmed speaker switches by output mode."),
	); err != nil {
		return nil, err
	}
	if met.Commands, err = m.Int64Counter("switchpilot.device.commands",
		metric.WithDescription("Total device commands issued by operation and status."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("switchpilot.tool.calls",
		metric.WithDescription("Total MCP tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.LevelSamples, err = m.Int64Counter("switchpilot.device.level_samples",
		metric.WithDescription("Total audio-level samples ingested from the switcher."),
	); err != nil {
		return nil, err
	}

	if met.ActiveRuns, err = m.Int64UpDownCounter("switchpilot.autoswitch.active_runs",
		metric.WithDescription("Number of live auto-switch runs."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordCommand records one device command dispatch with the standard
// attribute set. Safe to call on a nil receiver so that components can treat
// metrics as optional.
func (m *Metrics) RecordCommand(ctx context.Context, op, status string) {
	if m == nil {
		return
	}
	m.Commands.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("status", status),
	))
}

// RecordSwitch records one confirmed speaker switch. Safe to call on a nil
// receiver.
func (m *Metrics) RecordSwitch(ctx context.Context, mode string) {
	if m == nil {
		return
	}
	m.Switches.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
}

// RecordTick records one decision-tick evaluation. Safe to call on a nil
// receiver.
func (m *Metrics) RecordTick(ctx context.Context, seconds float64) {
	if m == nil {
		return
	}
	m.TickDuration.Record(ctx, seconds)
}

// RecordLevelSample counts one ingested audio-level sample. Safe to call on a
// nil receiver.
func (m *Metrics) RecordLevelSample(ctx context.Context) {
	if m == nil {
		return
	}
	m.LevelSamples.Add(ctx, 1)
}

// AddActiveRuns adjusts the live-run gauge by delta. Safe to call on a nil
// receiver.
func (m *Metrics) AddActiveRuns(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.ActiveRuns.Add(ctx, delta)
}

// RecordToolCall records one MCP tool invocation with its latency. Safe to
// call on a nil receiver.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string, seconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("status", status),
	)
	m.ToolCalls.Add(ctx, 1, attrs)
	m.ToolCallDuration.Record(ctx, seconds, attrs)
}
