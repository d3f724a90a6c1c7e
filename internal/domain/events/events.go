// Package events provides domain event handling capabilities for communicating state changes
// and important activities across system boundaries in a decoupled way.
package events

import (
	"context"
	"time"
)

// EventType represents a domain event category, enabling type-safe event
// routing and handling.
type EventType string

// Domain event type constants. These describe "something happened" in the
// orchestration core.
const (
	EventTypeJobSubmitted    EventType = "JobSubmitted"
	EventTypeJobStarted      EventType = "JobStarted"
	EventTypeJobCompleted    EventType = "JobCompleted"
	EventTypeJobFailed       EventType = "JobFailed"
	EventTypeJobCancelled    EventType = "JobCancelled"
	EventTypeFindingRecorded EventType = "FindingRecorded"
	EventTypeAlertFired      EventType = "AlertFired"
)

// DomainEvent is implemented by every event payload flowing through the system.
type DomainEvent interface {
	// EventType identifies the category of this event for routing and handling.
	EventType() EventType

	// OccurredAt records when the event was created.
	OccurredAt() time.Time
}

// PublishOption is a function type that modifies PublishParams. It enables
// flexible configuration of event publishing behavior through functional options.
type PublishOption func(*PublishParams)

// PublishParams contains configuration options for publishing domain events.
type PublishParams struct {
	// Key is used as a partition key to control event routing and ordering.
	Key string
	// Headers contain metadata key-value pairs attached to the event.
	Headers map[string]string
}

// WithKey returns a PublishOption that sets the partition key for event routing.
// The key helps ensure related events are processed in order by the same consumer.
func WithKey(key string) PublishOption {
	return func(p *PublishParams) { p.Key = key }
}

// WithHeaders returns a PublishOption that attaches metadata headers to an event.
func WithHeaders(headers map[string]string) PublishOption {
	return func(p *PublishParams) { p.Headers = headers }
}

// DomainEventPublisher publishes domain events to notify other parts of the
// system about important domain changes. It provides a technology-agnostic
// interface to decouple event producers from the underlying messaging
// infrastructure.
type DomainEventPublisher interface {
	// PublishDomainEvent sends a domain event to interested subscribers. The
	// provided context controls cancellation and deadlines. Optional
	// PublishOptions configure routing behavior.
	PublishDomainEvent(ctx context.Context, event DomainEvent, opts ...PublishOption) error
}

// NoopPublisher discards every event. It backs deployments that have no
// durable event export configured.
type NoopPublisher struct{}

var _ DomainEventPublisher = (*NoopPublisher)(nil)

// PublishDomainEvent implements DomainEventPublisher by doing nothing.
func (NoopPublisher) PublishDomainEvent(context.Context, DomainEvent, ...PublishOption) error {
	return nil
}
