package scanning

import "fmt"

// JobStatus represents the current state of a scan job. It enables tracking of
// job lifecycle from submission through completion, failure, or cancellation.
type JobStatus string

const (
	// JobStatusPending indicates a job has been accepted but no worker slot has
	// picked it up yet.
	JobStatusPending JobStatus = "PENDING"

	// JobStatusRunning indicates a job's plugin invocation is in flight.
	JobStatusRunning JobStatus = "RUNNING"

	// JobStatusCompleted indicates the plugin returned without error.
	JobStatusCompleted JobStatus = "COMPLETED"

	// JobStatusFailed indicates the plugin returned an error, panicked, or
	// exceeded the execution deadline.
	JobStatusFailed JobStatus = "FAILED"

	// JobStatusCancelled indicates the job was cancelled by an explicit request.
	JobStatusCancelled JobStatus = "CANCELLED"
)

func (s JobStatus) String() string { return string(s) }

// IsTerminal reports whether no further transitions are possible from s.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// ParseJobStatus converts a string to a JobStatus. An unrecognized value
// yields the empty (unspecified) status.
func ParseJobStatus(s string) JobStatus {
	switch s {
	case "PENDING":
		return JobStatusPending
	case "RUNNING":
		return JobStatusRunning
	case "COMPLETED":
		return JobStatusCompleted
	case "FAILED":
		return JobStatusFailed
	case "CANCELLED":
		return JobStatusCancelled
	default:
		return ""
	}
}

// ValidateTransition checks if a status transition is valid and returns an error if not.
func (s JobStatus) ValidateTransition(target JobStatus) error {
	if !s.isValidTransition(target) {
		return fmt.Errorf("invalid job status transition from %s to %s", s, target)
	}
	return nil
}

// isValidTransition enforces the job lifecycle rules. Cancellation is the only
// transition allowed straight out of PENDING; everything else passes through
// RUNNING first.
func (s JobStatus) isValidTransition(target JobStatus) bool {
	switch s {
	case JobStatusPending:
		return target == JobStatusRunning || target == JobStatusCancelled
	case JobStatusRunning:
		return target == JobStatusCompleted || target == JobStatusFailed || target == JobStatusCancelled
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		// Terminal states - no further transitions allowed.
		return false
	default:
		return false
	}
}
