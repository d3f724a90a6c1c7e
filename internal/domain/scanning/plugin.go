package scanning

import (
	"context"
	"encoding/json"
)

// ProgressFunc is how a plugin reports execution progress. fraction is a
// completion estimate in [0,1]; message is an optional human-readable note.
// Implementations never block the plugin.
type ProgressFunc func(fraction float64, message string)

// Plugin is the capability contract every scanner must satisfy. The
// orchestrator never inspects plugin behavior beyond this interface.
type Plugin interface {
	// Validate checks a job configuration before the job is accepted. A non-nil
	// error rejects the submission and is surfaced to the caller as the
	// rejection reason.
	Validate(config json.RawMessage) error

	// Execute runs the scan. Cancellation and the execution deadline arrive
	// through ctx; the plugin should unwind promptly when ctx is done.
	// Discoveries are returned as specs the orchestrator materializes into
	// findings bound to the job.
	Execute(ctx context.Context, config json.RawMessage, report ProgressFunc) ([]FindingSpec, error)
}
