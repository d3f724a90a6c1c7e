package alerting

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/scanops/sentinel/internal/infra/webhook"
)

// AlertMetrics defines metrics operations needed by the alert pipeline.
type AlertMetrics interface {
	// Delivery metrics
	webhook.DispatcherMetrics

	// Evaluation metrics
	IncAlertsFired(ctx context.Context, ruleName string)
	IncAlertsSuppressed(ctx context.Context, ruleName string)
	IncAlertsDispatched(ctx context.Context, channel string)
}

// alertMetrics implements AlertMetrics.
type alertMetrics struct {
	alertsFired      metric.Int64Counter
	alertsSuppressed metric.Int64Counter
	alertsDispatched metric.Int64Counter

	deliveryAttempts   metric.Int64Counter
	deliveriesByResult metric.Int64Counter
	deliveryDuration   metric.Float64Histogram
}

const namespace = "alerting"

// NewAlertMetrics creates a new alerting metrics instance.
func NewAlertMetrics(mp metric.MeterProvider) (*alertMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(alertMetrics)
	var err error

	if m.alertsFired, err = meter.Int64Counter(
		"alerts_fired_total",
		metric.WithDescription("Total number of rule firings"),
	); err != nil {
		return nil, err
	}

	if m.alertsSuppressed, err = meter.Int64Counter(
		"alerts_suppressed_total",
		metric.WithDescription("Total number of rule matches suppressed by cooldown"),
	); err != nil {
		return nil, err
	}

	if m.alertsDispatched, err = meter.Int64Counter(
		"alerts_dispatched_total",
		metric.WithDescription("Total number of alert payloads handed to the webhook dispatcher"),
	); err != nil {
		return nil, err
	}

	if m.deliveryAttempts, err = meter.Int64Counter(
		"webhook_delivery_attempts_total",
		metric.WithDescription("Total number of webhook delivery attempts"),
	); err != nil {
		return nil, err
	}

	if m.deliveriesByResult, err = meter.Int64Counter(
		"webhook_deliveries_total",
		metric.WithDescription("Total number of webhook deliveries by terminal outcome"),
	); err != nil {
		return nil, err
	}

	if m.deliveryDuration, err = meter.Float64Histogram(
		"webhook_delivery_duration_seconds",
		metric.WithDescription("Time from delivery acceptance to terminal outcome"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *alertMetrics) IncAlertsFired(ctx context.Context, ruleName string) {
	m.alertsFired.Add(ctx, 1, metric.WithAttributes(attribute.String("rule", ruleName)))
}

func (m *alertMetrics) IncAlertsSuppressed(ctx context.Context, ruleName string) {
	m.alertsSuppressed.Add(ctx, 1, metric.WithAttributes(attribute.String("rule", ruleName)))
}

func (m *alertMetrics) IncAlertsDispatched(ctx context.Context, channel string) {
	m.alertsDispatched.Add(ctx, 1, metric.WithAttributes(attribute.String("channel", channel)))
}

func (m *alertMetrics) IncDeliveryAttempts(ctx context.Context, channel string) {
	m.deliveryAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("channel", channel)))
}

func (m *alertMetrics) IncDeliveriesByOutcome(ctx context.Context, channel string, outcome string) {
	m.deliveriesByResult.Add(ctx, 1, metric.WithAttributes(
		attribute.String("channel", channel),
		attribute.String("outcome", outcome),
	))
}

func (m *alertMetrics) ObserveDeliveryDuration(ctx context.Context, channel string, d time.Duration) {
	m.deliveryDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("channel", channel)))
}
