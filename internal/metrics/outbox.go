package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Delivery outcomes recorded by OutboxMetrics.RecordDelivery.
const (
	OutcomeCompleted    = "completed"
	OutcomeSkipped      = "skipped"
	OutcomeRetrying     = "retrying"
	OutcomeDeadLettered = "dead_lettered"
)

// OutboxMetrics records dispatcher activity.
type OutboxMetrics interface {
	// RecordClaimed counts entries claimed by a dispatch pass.
	RecordClaimed(ctx context.Context, count int)

	// RecordDelivery counts one consumer outcome and records the handler duration.
	// Skipped deliveries are recorded with a zero duration.
	RecordDelivery(ctx context.Context, eventName, consumer, outcome string, duration time.Duration)

	// RecordDispatchPass records the duration of one dispatch pass.
	// Status examples: "success", "error"
	RecordDispatchPass(ctx context.Context, duration time.Duration, status string)
}

// outboxMetrics implements OutboxMetrics using OpenTelemetry metrics.
type outboxMetrics struct {
	claimedCounter  metric.Int64Counter
	deliveryCounter metric.Int64Counter
	deliveryHisto   metric.Float64Histogram
	passHisto       metric.Float64Histogram
}

// NewOutboxMetrics creates OutboxMetrics using the provided meter provider.
func NewOutboxMetrics(meterProvider metric.MeterProvider, namespace string) (OutboxMetrics, error) {
	meter := meterProvider.Meter(namespace)

	claimedCounter, err := meter.Int64Counter(
		fmt.Sprintf("%s_outbox_claimed_total", namespace),
		metric.WithDescription("Total number of outbox entries claimed for dispatch"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create claimed counter: %w", err)
	}

	deliveryCounter, err := meter.Int64Counter(
		fmt.Sprintf("%s_outbox_deliveries_total", namespace),
		metric.WithDescription("Total number of consumer deliveries by outcome"),
		metric.WithUnit("{delivery}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create delivery counter: %w", err)
	}

	deliveryHisto, err := meter.Float64Histogram(
		fmt.Sprintf("%s_outbox_delivery_duration_seconds", namespace),
		metric.WithDescription("Duration of consumer handler invocations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create delivery duration histogram: %w", err)
	}

	passHisto, err := meter.Float64Histogram(
		fmt.Sprintf("%s_outbox_dispatch_duration_seconds", namespace),
		metric.WithDescription("Duration of dispatch passes in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatch duration histogram: %w", err)
	}

	return &outboxMetrics{
		claimedCounter:  claimedCounter,
		deliveryCounter: deliveryCounter,
		deliveryHisto:   deliveryHisto,
		passHisto:       passHisto,
	}, nil
}

// RecordClaimed adds count to the claimed counter.
func (o *outboxMetrics) RecordClaimed(ctx context.Context, count int) {
	if count <= 0 {
		return
	}
	o.claimedCounter.Add(ctx, int64(count))
}

// RecordDelivery increments the delivery counter and records the handler duration.
func (o *outboxMetrics) RecordDelivery(
	ctx context.Context,
	eventName, consumer, outcome string,
	duration time.Duration,
) {
	attrs := metric.WithAttributes(
		attribute.String("event_name", eventName),
		attribute.String("consumer", consumer),
		attribute.String("outcome", outcome),
	)
	o.deliveryCounter.Add(ctx, 1, attrs)
	if outcome != OutcomeSkipped {
		o.deliveryHisto.Record(ctx, duration.Seconds(), attrs)
	}
}

// RecordDispatchPass records the pass duration with its status.
func (o *outboxMetrics) RecordDispatchPass(ctx context.Context, duration time.Duration, status string) {
	o.passHisto.Record(ctx, duration.Seconds(),
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// NoOpOutboxMetrics is a no-op implementation of OutboxMetrics for when metrics are disabled.
type NoOpOutboxMetrics struct{}

// NewNoOpOutboxMetrics creates a no-op OutboxMetrics implementation.
func NewNoOpOutboxMetrics() OutboxMetrics {
	return &NoOpOutboxMetrics{}
}

// RecordClaimed does nothing when metrics are disabled.
func (n *NoOpOutboxMetrics) RecordClaimed(ctx context.Context, count int) {}

// RecordDelivery does nothing when metrics are disabled.
func (n *NoOpOutboxMetrics) RecordDelivery(
	ctx context.Context,
	eventName, consumer, outcome string,
	duration time.Duration,
) {
}

// RecordDispatchPass does nothing when metrics are disabled.
func (n *NoOpOutboxMetrics) RecordDispatchPass(ctx context.Context, duration time.Duration, status string) {
}
