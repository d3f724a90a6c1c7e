package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/scanops/sentinel/internal/domain/alerting"
	"github.com/scanops/sentinel/internal/domain/events"
	"github.com/scanops/sentinel/internal/domain/scanning"
	"github.com/scanops/sentinel/pkg/common/logger"
)

var _ events.DomainEventPublisher = (*DomainEventPublisher)(nil)

// DomainEventPublisher implements events.DomainEventPublisher on Kafka.
// Events are serialized as JSON envelopes and routed to a topic per event
// category; the partition key defaults to the job id so a job's events stay
// ordered within a partition.
type DomainEventPublisher struct {
	producer sarama.SyncProducer
	cfg      *Config
	logger   *logger.Logger
	tracer   trace.Tracer
}

// NewDomainEventPublisher creates a publisher that distributes domain events
// through the given producer.
func NewDomainEventPublisher(producer sarama.SyncProducer, cfg *Config, log *logger.Logger, tracer trace.Tracer) *DomainEventPublisher {
	return &DomainEventPublisher{
		producer: producer,
		cfg:      cfg,
		logger:   log.With("component", "kafka_event_publisher"),
		tracer:   tracer,
	}
}

// envelope is the wire format for exported events.
type envelope struct {
	Type      events.EventType `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Payload   any              `json:"payload"`
}

// PublishDomainEvent serializes the event and sends it to the topic for its
// category. Publishing is synchronous; an error means the brokers did not
// acknowledge the message.
func (pub *DomainEventPublisher) PublishDomainEvent(ctx context.Context, event events.DomainEvent, opts ...events.PublishOption) error {
	params := events.PublishParams{}
	for _, opt := range opts {
		opt(&params)
	}

	topic, err := pub.topicFor(event.EventType())
	if err != nil {
		return err
	}

	ctx, span := pub.tracer.Start(ctx, "kafka_event_publisher.publish",
		trace.WithAttributes(
			attribute.String("event_type", string(event.EventType())),
			attribute.String("topic", topic),
		))
	defer span.End()

	payload, err := json.Marshal(envelope{
		Type:      event.EventType(),
		Timestamp: event.OccurredAt(),
		Payload:   wirePayload(event),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "serializing event")
		return fmt.Errorf("serializing event %s: %w", event.EventType(), err)
	}

	msg := &sarama.ProducerMessage{Topic: topic, Value: sarama.ByteEncoder(payload)}
	if key := partitionKey(event, params); key != "" {
		msg.Key = sarama.StringEncoder(key)
	}
	for k, v := range params.Headers {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}

	partition, offset, err := pub.producer.SendMessage(msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sending message")
		return fmt.Errorf("sending event %s to topic %s: %w", event.EventType(), topic, err)
	}

	span.AddEvent("event_published", trace.WithAttributes(
		attribute.Int64("partition", int64(partition)),
		attribute.Int64("offset", offset),
	))
	span.SetStatus(codes.Ok, "event published")

	pub.logger.Debug(ctx, "Published domain event",
		"event_type", event.EventType(), "topic", topic, "partition", partition, "offset", offset)
	return nil
}

// Close shuts down the underlying producer.
func (pub *DomainEventPublisher) Close() error { return pub.producer.Close() }

func (pub *DomainEventPublisher) topicFor(eventType events.EventType) (string, error) {
	switch eventType {
	case events.EventTypeJobSubmitted, events.EventTypeJobStarted,
		events.EventTypeJobCompleted, events.EventTypeJobFailed, events.EventTypeJobCancelled:
		return pub.cfg.JobLifecycleTopic, nil
	case events.EventTypeFindingRecorded:
		return pub.cfg.FindingsTopic, nil
	case events.EventTypeAlertFired:
		return pub.cfg.AlertsTopic, nil
	default:
		return "", fmt.Errorf("no topic configured for event type %s", eventType)
	}
}

// wirePayload maps a domain event to its JSON-serializable shape. Domain
// events keep their fields unexported, so the mapping lives here at the
// transport boundary.
func wirePayload(event events.DomainEvent) any {
	switch e := event.(type) {
	case scanning.JobLifecycleEvent:
		return struct {
			JobID      string `json:"job_id"`
			PluginName string `json:"plugin_name"`
			Status     string `json:"status"`
			ErrDetail  string `json:"error_detail,omitempty"`
		}{
			JobID:      e.JobID().String(),
			PluginName: e.PluginName(),
			Status:     string(e.Status()),
			ErrDetail:  e.ErrDetail(),
		}
	case scanning.FindingRecordedEvent:
		return e.Finding()
	case alerting.AlertFiredEvent:
		return struct {
			JobID     string              `json:"job_id"`
			FindingID string              `json:"finding_id"`
			Score     float64             `json:"overall_score"`
			Tier      string              `json:"tier"`
			Fired     []alerting.FiredRule `json:"fired"`
			Channels  []string            `json:"channels"`
		}{
			JobID:     e.JobID().String(),
			FindingID: e.FindingID().String(),
			Score:     e.Classification().Score,
			Tier:      string(e.Classification().Tier),
			Fired:     e.Fired(),
			Channels:  e.Channels(),
		}
	default:
		return event
	}
}

// partitionKey picks the routing key: an explicit option wins, otherwise the
// job id keeps a job's events ordered within one partition.
func partitionKey(event events.DomainEvent, params events.PublishParams) string {
	if params.Key != "" {
		return params.Key
	}
	switch e := event.(type) {
	case scanning.JobLifecycleEvent:
		return e.JobID().String()
	case scanning.FindingRecordedEvent:
		return e.Finding().JobID().String()
	case alerting.AlertFiredEvent:
		return e.JobID().String()
	default:
		return ""
	}
}
