package scanning

import (
	"errors"
	"fmt"
	"time"
)

// Lookup and registration failures.
var (
	// ErrJobNotFound indicates the referenced job id is unknown.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobAlreadyTerminal indicates an operation that requires a live job was
	// attempted on one that already reached a terminal state.
	ErrJobAlreadyTerminal = errors.New("job already in terminal state")

	// ErrUnknownPlugin indicates no plugin is registered under the given name.
	ErrUnknownPlugin = errors.New("unknown plugin")

	// ErrDuplicatePlugin indicates a registration collision on plugin name.
	ErrDuplicatePlugin = errors.New("plugin name already registered")

	// ErrPluginDisabled indicates the plugin exists but is administratively
	// disabled.
	ErrPluginDisabled = errors.New("plugin is disabled")
)

// ValidationError reports a plugin's rejection of a job configuration. The
// caller is at fault; the job was never created.
type ValidationError struct {
	PluginName string
	Reason     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("plugin %q rejected configuration: %v", e.PluginName, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Reason }

// ExecutionError records a plugin-reported failure. It is captured on the job
// record and never propagated as a crash.
type ExecutionError struct {
	PluginName string
	Cause      error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("plugin %q execution failed: %v", e.PluginName, e.Cause)
}

func (e *ExecutionError) Unwrap() error { return e.Cause }

// TimeoutError indicates the orchestrator gave up waiting on a plugin that
// neither completed nor honored cancellation within the hard per-job ceiling.
type TimeoutError struct {
	PluginName string
	Limit      time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("plugin %q exceeded execution deadline of %s", e.PluginName, e.Limit)
}
