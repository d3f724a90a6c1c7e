package alerting

import (
	"time"

	"github.com/google/uuid"

	"github.com/scanops/sentinel/internal/domain/classify"
	"github.com/scanops/sentinel/internal/domain/events"
)

// AlertFiredEvent notifies external consumers that one or more rules fired for
// a finding and which channels were selected.
type AlertFiredEvent struct {
	jobID      uuid.UUID
	findingID  uuid.UUID
	result     classify.Result
	fired      []FiredRule
	channels   []string
	occurredAt time.Time
}

// NewAlertFiredEvent creates an event describing a completed rule evaluation
// that selected at least one channel.
func NewAlertFiredEvent(jobID, findingID uuid.UUID, result classify.Result, eval Evaluation) AlertFiredEvent {
	return AlertFiredEvent{
		jobID:      jobID,
		findingID:  findingID,
		result:     result,
		fired:      eval.Fired,
		channels:   eval.Channels,
		occurredAt: time.Now(),
	}
}

// EventType identifies the event category.
func (e AlertFiredEvent) EventType() events.EventType { return events.EventTypeAlertFired }

// OccurredAt returns when the evaluation fired.
func (e AlertFiredEvent) OccurredAt() time.Time { return e.occurredAt }

// JobID returns the job that produced the finding.
func (e AlertFiredEvent) JobID() uuid.UUID { return e.jobID }

// FindingID returns the finding that triggered the alert.
func (e AlertFiredEvent) FindingID() uuid.UUID { return e.findingID }

// Classification returns the finding's derived classification.
func (e AlertFiredEvent) Classification() classify.Result { return e.result }

// Fired returns the per-rule audit record.
func (e AlertFiredEvent) Fired() []FiredRule { return e.fired }

// Channels returns the deduplicated destination channels.
func (e AlertFiredEvent) Channels() []string { return e.channels }
