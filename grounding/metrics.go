package grounding

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/contestra/ai-ranker-sub001/policy"
	"github.com/contestra/ai-ranker-sub001/verify"
)

var (
	tracer = otel.Tracer("contestra.grounding")
	meter  = otel.Meter("contestra.grounding")
)

var (
	runsTotal    metric.Int64Counter
	runDuration  metric.Float64Histogram
	toolCalls    metric.Int64Histogram
	ambientLeaks metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the instruments. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		runsTotal, err = meter.Int64Counter(
			"grounding_runs_total",
			metric.WithDescription("Grounding runs by provider, mode and outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		runDuration, err = meter.Float64Histogram(
			"grounding_run_duration_seconds",
			metric.WithDescription("Provider call latency per grounding run"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		toolCalls, err = meter.Int64Histogram(
			"grounding_tool_calls",
			metric.WithDescription("Successful tool calls observed per run"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		ambientLeaks, err = meter.Int64Counter(
			"grounding_ambient_leaks_total",
			metric.WithDescription("Ambient context phrases found in model output"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func startRunSpan(ctx context.Context, req RunRequest, d policy.Decision) (context.Context, trace.Span) {
	return tracer.Start(ctx, "grounding.Run",
		trace.WithAttributes(
			attribute.String("grounding.run_id", req.RunID),
			attribute.String("grounding.provider", req.Provider),
			attribute.String("grounding.model", req.Model),
			attribute.String("grounding.mode", string(d.Mode)),
			attribute.String("grounding.tier", string(d.Tier)),
			attribute.Bool("grounding.soft_required", d.SoftRequired()),
		),
	)
}

func setRunSpanResult(span trace.Span, r RunResult) {
	span.SetAttributes(
		attribute.String("grounding.status", string(r.Status)),
		attribute.String("grounding.error_code", string(r.ErrorCode)),
		attribute.Int("grounding.tool_calls", r.ToolCallCount),
		attribute.Int("grounding.citations", len(r.Citations)),
		attribute.String("grounding.provoker_hash", r.Enforcement.ProvokerHash),
	)
	if r.Status != verify.StatusOK {
		span.SetStatus(codes.Error, string(r.ErrorCode))
	}
}

func recordRunMetrics(ctx context.Context, r RunResult) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("provider", r.Provider),
		attribute.String("mode", string(r.Enforcement.Mode)),
		attribute.String("status", string(r.Status)),
		attribute.String("error_code", string(r.ErrorCode)),
	)

	runsTotal.Add(ctx, 1, attrs)
	runDuration.Record(ctx, r.Latency.Seconds(), attrs)
	toolCalls.Record(ctx, int64(r.ToolCallCount), metric.WithAttributes(attribute.String("provider", r.Provider)))
}

func recordLeaks(ctx context.Context, providerName string, n int) {
	if err := initMetrics(); err != nil {
		return
	}
	ambientLeaks.Add(ctx, int64(n), metric.WithAttributes(attribute.String("provider", providerName)))
}
