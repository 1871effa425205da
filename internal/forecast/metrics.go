package forecast

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/ws97109/highway-traffic/internal/forecast"

// BackendMetrics holds metrics for calls to the external inference service.
// A nil *BackendMetrics is valid and records nothing.
type BackendMetrics struct {
	callDuration metric.Float64Histogram
	callTotal    metric.Int64Counter
	retryTotal   metric.Int64Counter
}

// NewBackendMetrics creates metrics for monitoring inference backend calls.
func NewBackendMetrics() (*BackendMetrics, error) {
	meter := otel.Meter(meterName)

	callDuration, err := meter.Float64Histogram(
		"inference.request.duration",
		metric.WithDescription("Duration of inference backend requests in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	callTotal, err := meter.Int64Counter(
		"inference.request.total",
		metric.WithDescription("Total number of inference backend requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	retryTotal, err := meter.Int64Counter(
		"inference.request.retries",
		metric.WithDescription("Number of retried inference backend attempts"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, err
	}

	return &BackendMetrics{
		callDuration: callDuration,
		callTotal:    callTotal,
		retryTotal:   retryTotal,
	}, nil
}

// RecordCall records one inference round trip, retries included.
func (m *BackendMetrics) RecordCall(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("inference.operation", operation),
	}
	if err != nil {
		attrs = append(attrs, attribute.Bool("error", true))
	}

	// Use background context for metrics to avoid context cancellation issues
	ctx := context.TODO()
	m.callDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.callTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRetry records one retried attempt after a transient failure.
func (m *BackendMetrics) RecordRetry(operation string) {
	if m == nil {
		return
	}
	m.retryTotal.Add(context.TODO(), 1, metric.WithAttributes(
		attribute.String("inference.operation", operation),
	))
}
