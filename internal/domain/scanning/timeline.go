package scanning

import "time"

// TimeProvider is an interface that provides a Now method to get the current time.
type TimeProvider interface {
	Now() time.Time
}

// Real implementation for production.
type realTimeProvider struct{}

func (r *realTimeProvider) Now() time.Time { return time.Now() }

// Timeline tracks temporal aspects of a scan job: when it was enqueued, when a
// worker started it, and when it reached a terminal state.
type Timeline struct {
	enqueuedAt   time.Time
	startedAt    time.Time
	completedAt  time.Time
	lastUpdate   time.Time
	timeProvider TimeProvider
}

// NewTimeline creates a new Timeline instance stamped with the enqueue time.
func NewTimeline(timeProvider TimeProvider) *Timeline {
	now := timeProvider.Now()
	return &Timeline{
		enqueuedAt:   now,
		lastUpdate:   now,
		timeProvider: timeProvider,
	}
}

// EnqueuedAt returns the time the job was accepted.
func (t *Timeline) EnqueuedAt() time.Time { return t.enqueuedAt }

// StartedAt returns the time a worker began executing the job.
func (t *Timeline) StartedAt() time.Time { return t.startedAt }

// CompletedAt returns the time the job reached a terminal state.
func (t *Timeline) CompletedAt() time.Time { return t.completedAt }

// LastUpdate returns the time the job's state was last modified.
func (t *Timeline) LastUpdate() time.Time { return t.lastUpdate }

// MarkStarted records the execution start time.
func (t *Timeline) MarkStarted() {
	t.startedAt = t.timeProvider.Now()
	t.UpdateLastUpdate()
}

// MarkCompleted records completion time.
func (t *Timeline) MarkCompleted() {
	t.completedAt = t.timeProvider.Now()
	t.UpdateLastUpdate()
}

// UpdateLastUpdate updates the last update timestamp.
func (t *Timeline) UpdateLastUpdate() {
	t.lastUpdate = t.timeProvider.Now()
}

// IsCompleted checks if the timeline has been marked as completed.
func (t *Timeline) IsCompleted() bool { return !t.completedAt.IsZero() }
