package scanning

import (
	"context"

	"github.com/google/uuid"
)

// JobRepository persists job state. Writes are best-effort and must not block
// the correctness of in-memory state; implementations report failures through
// their returned error and the orchestrator logs them.
type JobRepository interface {
	// SaveJob durably records the given snapshot, replacing any previous state
	// for the same job id.
	SaveJob(ctx context.Context, snapshot JobSnapshot) error

	// GetJob loads the last saved snapshot, or ErrJobNotFound.
	GetJob(ctx context.Context, jobID uuid.UUID) (JobSnapshot, error)
}

// FindingRepository persists findings. Findings are append-only.
type FindingRepository interface {
	// SaveFinding durably records a finding.
	SaveFinding(ctx context.Context, finding Finding) error

	// ListFindings returns the findings recorded for a job in discovery order.
	ListFindings(ctx context.Context, jobID uuid.UUID) ([]Finding, error)
}

// ProgressPublisher streams progress events to job subscribers. Publishing
// never blocks on slow or absent subscribers.
type ProgressPublisher interface {
	// Publish delivers an event to every current subscriber of the job.
	Publish(ctx context.Context, event ProgressEvent)

	// Complete delivers the terminal event and closes every subscriber stream
	// for the job. It is called at most once per job, after the terminal state
	// is recorded.
	Complete(ctx context.Context, event ProgressEvent)
}

// ProgressSubscriber is the consumer side of progress streaming, intended for
// real-time push layers such as a websocket gateway.
type ProgressSubscriber interface {
	// Subscribe returns a stream of events for the job. The stream is closed
	// when ctx is done or after the terminal event is delivered.
	Subscribe(ctx context.Context, jobID uuid.UUID) (<-chan ProgressEvent, error)
}
