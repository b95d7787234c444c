// Package observe wires Lookout into OpenTelemetry: metric instruments,
// tracing helpers, trace-aware logging and the HTTP middleware that ties
// them to requests.
//
// [InitProvider] installs the global providers, exporting metrics through
// Prometheus. Production code records through [DefaultMetrics]; tests build
// their own with [NewMetrics] and a ManualReader.
package observe

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the instruments. Prefer the Record methods, which attach the
// expected attributes.
type Metrics struct {
	// Frames, labelled by room.
	FramesReceived    metric.Int64Counter
	FramesOverwritten metric.Int64Counter

	Turns          metric.Int64Counter
	TurnsAugmented metric.Int64Counter

	// VisionRequests is labelled by provider, source (live or fallback) and
	// status; VisionDuration by provider and tool.
	VisionRequests metric.Int64Counter
	VisionDuration metric.Float64Histogram

	// ToolCalls is labelled by tool and status.
	ToolCalls metric.Int64Counter

	LLMDuration metric.Float64Histogram

	ActiveSessions metric.Int64UpDownCounter

	// ActiveStreams counts video tracks currently feeding a frame buffer.
	ActiveStreams metric.Int64UpDownCounter

	// HTTPRequestDuration is labelled with method, route and status by
	// [Middleware].
	HTTPRequestDuration metric.Float64Histogram
}

// modelLatency has bucket bounds in seconds sized for model round trips.
var modelLatency = metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30)

// NewMetrics creates every instrument on a meter from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(scope)
	var errs []error
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		errs = append(errs, err)
		return c
	}
	gauge := func(name, desc string) metric.Int64UpDownCounter {
		g, err := meter.Int64UpDownCounter(name, metric.WithDescription(desc))
		errs = append(errs, err)
		return g
	}
	seconds := func(name, desc string, opts ...metric.Float64HistogramOption) metric.Float64Histogram {
		opts = append(opts, metric.WithDescription(desc), metric.WithUnit("s"))
		h, err := meter.Float64Histogram(name, opts...)
		errs = append(errs, err)
		return h
	}

	m := &Metrics{
		FramesReceived:      counter("lookout.frames.received", "Frames written to a session frame buffer."),
		FramesOverwritten:   counter("lookout.frames.overwritten", "Buffered frames replaced before they were consumed."),
		Turns:               counter("lookout.turns", "Finalized user turns handled by the agent."),
		TurnsAugmented:      counter("lookout.turns.augmented", "User turns that carried the latest video frame."),
		VisionRequests:      counter("lookout.vision.requests", "Vision model requests by provider, image source and status."),
		VisionDuration:      seconds("lookout.vision.duration", "Latency of vision model requests.", modelLatency),
		ToolCalls:           counter("lookout.tool.calls", "Tool invocations by tool name and status."),
		LLMDuration:         seconds("lookout.llm.duration", "Latency of LLM completions.", modelLatency),
		ActiveSessions:      gauge("lookout.active_sessions", "Live agent sessions."),
		ActiveStreams:       gauge("lookout.active_streams", "Video tracks feeding a frame buffer."),
		HTTPRequestDuration: seconds("lookout.http.request.duration", "HTTP request latency by route."),
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return m, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide instruments, created on first use
// from the global meter provider. Call [InitProvider] before it, or the
// instruments stay bound to the no-op provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: default metrics: " + err.Error())
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

// Status is the status attribute value for err: "ok" or "error".
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordFrame counts a frame buffered for room, and whether it replaced one
// nobody had read.
func (m *Metrics) RecordFrame(ctx context.Context, room string, overwritten bool) {
	attrs := metric.WithAttributes(attribute.String("room", room))
	m.FramesReceived.Add(ctx, 1, attrs)
	if overwritten {
		m.FramesOverwritten.Add(ctx, 1, attrs)
	}
}

// RecordTurn counts a finalized turn, and whether a frame was attached.
func (m *Metrics) RecordTurn(ctx context.Context, augmented bool) {
	m.Turns.Add(ctx, 1)
	if augmented {
		m.TurnsAugmented.Add(ctx, 1)
	}
}

// RecordVisionRequest counts one vision model call and records its latency.
func (m *Metrics) RecordVisionRequest(ctx context.Context, provider, tool, source string, d time.Duration, err error) {
	m.VisionRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("source", source),
		attribute.String("status", Status(err)),
	))
	m.VisionDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("tool", tool),
	))
}

// RecordToolCall counts one tool invocation.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("status", status),
	))
}
