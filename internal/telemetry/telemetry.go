// Package telemetry records guardrail and request-error metrics and traces
// through the OpenTelemetry API. Without an installed SDK every call is a no-op.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/pbaille/notes/internal/guardrail"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/pbaille/notes"

// Tracer returns the tracer used by the query pipeline
func Tracer(component string) trace.Tracer {
	return otel.Tracer(instrumentationName + "/" + component)
}

// Metrics holds the pipeline instruments
type Metrics struct {
	guardrails    metric.Int64Counter
	guardrailTime metric.Float64Histogram
	requestErrors metric.Int64Counter
}

// NewMetrics creates instruments on provider, or on the global provider when nil
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(instrumentationName)

	guardrails, err := meter.Int64Counter("guardrails_total",
		metric.WithDescription("Guardrail evaluations by type and result"))
	if err != nil {
		return nil, fmt.Errorf("create guardrails_total: %w", err)
	}

	guardrailTime, err := meter.Float64Histogram("guardrails_processing_duration_seconds",
		metric.WithDescription("Time spent evaluating a guardrail"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("create guardrails_processing_duration_seconds: %w", err)
	}

	requestErrors, err := meter.Int64Counter("request_error_total",
		metric.WithDescription("Failed requests by component and error type"))
	if err != nil {
		return nil, fmt.Errorf("create request_error_total: %w", err)
	}

	return &Metrics{
		guardrails:    guardrails,
		guardrailTime: guardrailTime,
		requestErrors: requestErrors,
	}, nil
}

// RecordGuardrail counts one evaluation and its duration
func (m *Metrics) RecordGuardrail(ctx context.Context, stage guardrail.Stage, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.guardrails.Add(ctx, 1, metric.WithAttributes(
		attribute.String("guardrail_type", string(stage)),
		attribute.String("result", result),
	))
	m.guardrailTime.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("guardrail_type", string(stage)),
	))
}

// RecordRequestError counts a failed request
func (m *Metrics) RecordRequestError(ctx context.Context, component, errorType string) {
	if m == nil {
		return
	}
	m.requestErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("component", component),
		attribute.String("error_type", errorType),
	))
}
