package scanning

import (
	"time"

	"github.com/google/uuid"

	"github.com/scanops/sentinel/internal/domain/events"
)

// ProgressEvent is one update streamed to job subscribers. Events for a single
// job are delivered to each subscriber in publish order; the event carrying
// Terminal=true is always the last one a subscriber sees.
type ProgressEvent struct {
	JobID     uuid.UUID `json:"job_id"`
	Fraction  float64   `json:"progress"`
	Status    JobStatus `json:"status"`
	Message   string    `json:"message,omitempty"`
	Terminal  bool      `json:"terminal,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// JobLifecycleEvent notifies external consumers that a job changed state.
type JobLifecycleEvent struct {
	jobID      uuid.UUID
	pluginName string
	status     JobStatus
	errDetail  string
	occurredAt time.Time
}

// NewJobLifecycleEvent creates a lifecycle event for the given transition.
func NewJobLifecycleEvent(jobID uuid.UUID, pluginName string, status JobStatus, errDetail string) JobLifecycleEvent {
	return JobLifecycleEvent{
		jobID:      jobID,
		pluginName: pluginName,
		status:     status,
		errDetail:  errDetail,
		occurredAt: time.Now(),
	}
}

// EventType returns the event category derived from the job status.
func (e JobLifecycleEvent) EventType() events.EventType {
	switch e.status {
	case JobStatusRunning:
		return events.EventTypeJobStarted
	case JobStatusCompleted:
		return events.EventTypeJobCompleted
	case JobStatusFailed:
		return events.EventTypeJobFailed
	case JobStatusCancelled:
		return events.EventTypeJobCancelled
	default:
		return events.EventTypeJobSubmitted
	}
}

// OccurredAt returns when the transition happened.
func (e JobLifecycleEvent) OccurredAt() time.Time { return e.occurredAt }

// JobID returns the job this event concerns.
func (e JobLifecycleEvent) JobID() uuid.UUID { return e.jobID }

// PluginName returns the plugin executing the job.
func (e JobLifecycleEvent) PluginName() string { return e.pluginName }

// Status returns the status the job transitioned to.
func (e JobLifecycleEvent) Status() JobStatus { return e.status }

// ErrDetail returns the failure detail for FAILED transitions, else empty.
func (e JobLifecycleEvent) ErrDetail() string { return e.errDetail }

// FindingRecordedEvent notifies external consumers that a finding was recorded
// for a job.
type FindingRecordedEvent struct {
	finding    Finding
	occurredAt time.Time
}

// NewFindingRecordedEvent creates an event for a newly materialized finding.
func NewFindingRecordedEvent(finding Finding) FindingRecordedEvent {
	return FindingRecordedEvent{finding: finding, occurredAt: time.Now()}
}

// EventType identifies the event category.
func (e FindingRecordedEvent) EventType() events.EventType { return events.EventTypeFindingRecorded }

// OccurredAt returns when the finding was recorded.
func (e FindingRecordedEvent) OccurredAt() time.Time { return e.occurredAt }

// Finding returns the recorded finding.
func (e FindingRecordedEvent) Finding() Finding { return e.finding }
