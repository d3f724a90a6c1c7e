package scanning

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Job tracks one invocation of a scanning plugin against a configuration.
// The configuration is opaque to the orchestrator; only the owning plugin
// interprets it. A Job is owned by the orchestrator for its lifetime; all
// access is synchronized by the owner, so the aggregate itself holds no locks.
type Job struct {
	jobID      uuid.UUID
	pluginName string
	config     json.RawMessage
	status     JobStatus
	progress   float64
	errDetail  string
	findings   []Finding
	timeline   *Timeline
}

// NewJob creates a Job in the PENDING state for the named plugin.
func NewJob(jobID uuid.UUID, pluginName string, config json.RawMessage) *Job {
	return &Job{
		jobID:      jobID,
		pluginName: pluginName,
		config:     config,
		status:     JobStatusPending,
		timeline:   NewTimeline(new(realTimeProvider)),
	}
}

// NewJobWithTimeProvider creates a Job with an injected clock. Used by tests
// that need deterministic timelines.
func NewJobWithTimeProvider(jobID uuid.UUID, pluginName string, config json.RawMessage, tp TimeProvider) *Job {
	return &Job{
		jobID:      jobID,
		pluginName: pluginName,
		config:     config,
		status:     JobStatusPending,
		timeline:   NewTimeline(tp),
	}
}

// JobID returns the unique identifier for this scan job.
func (j *Job) JobID() uuid.UUID { return j.jobID }

// PluginName returns the name of the plugin executing this job.
func (j *Job) PluginName() string { return j.pluginName }

// Config returns the raw plugin configuration.
func (j *Job) Config() json.RawMessage { return j.config }

// Status returns the current execution status of the scan job.
func (j *Job) Status() JobStatus { return j.status }

// Progress returns the completion fraction in [0,1].
func (j *Job) Progress() float64 { return j.progress }

// ErrDetail returns the structured error description for a failed job, or the
// empty string.
func (j *Job) ErrDetail() string { return j.errDetail }

// Findings returns the ordered findings recorded so far.
func (j *Job) Findings() []Finding { return j.findings }

// Timeline provides access to the job's timeline information.
func (j *Job) Timeline() *Timeline { return j.timeline }

// UpdateStatus changes the job's status after validating the transition.
// It returns an error if the transition is not valid.
func (j *Job) UpdateStatus(newStatus JobStatus) error {
	if err := j.status.ValidateTransition(newStatus); err != nil {
		return err
	}

	if j.status == JobStatusPending && newStatus == JobStatusRunning {
		j.timeline.MarkStarted()
	}
	if newStatus.IsTerminal() {
		j.timeline.MarkCompleted()
		if newStatus == JobStatusCompleted {
			j.progress = 1
		}
	}

	j.status = newStatus
	return nil
}

// UpdateProgress advances the completion fraction. Progress only moves while
// the job is RUNNING and never decreases; stale or out-of-order reports are
// ignored without error.
func (j *Job) UpdateProgress(fraction float64) {
	if j.status != JobStatusRunning {
		return
	}
	fraction = clamp(fraction, 0, 1)
	if fraction <= j.progress {
		return
	}
	j.progress = fraction
	j.timeline.UpdateLastUpdate()
}

// RecordFailure transitions the job to FAILED and captures the error detail
// callers can use to diagnose the failure without internal logs.
func (j *Job) RecordFailure(detail string) error {
	if err := j.UpdateStatus(JobStatusFailed); err != nil {
		return err
	}
	j.errDetail = detail
	return nil
}

// AddFindings appends findings produced by the plugin invocation. Findings are
// append-only; existing entries are never mutated or removed.
func (j *Job) AddFindings(findings ...Finding) {
	j.findings = append(j.findings, findings...)
	j.timeline.UpdateLastUpdate()
}

// Snapshot returns a read-only copy of the job's observable state.
func (j *Job) Snapshot() JobSnapshot {
	findings := make([]Finding, len(j.findings))
	copy(findings, j.findings)

	return JobSnapshot{
		JobID:       j.jobID,
		PluginName:  j.pluginName,
		Config:      j.config,
		Status:      j.status,
		Progress:    j.progress,
		ErrDetail:   j.errDetail,
		EnqueuedAt:  j.timeline.EnqueuedAt(),
		StartedAt:   j.timeline.StartedAt(),
		CompletedAt: j.timeline.CompletedAt(),
		Findings:    findings,
	}
}

// JobSnapshot is a point-in-time, caller-owned view of a Job. Zero timestamps
// mean the corresponding lifecycle point has not been reached.
type JobSnapshot struct {
	JobID       uuid.UUID       `json:"job_id"`
	PluginName  string          `json:"plugin_name"`
	Config      json.RawMessage `json:"config,omitempty"`
	Status      JobStatus       `json:"status"`
	Progress    float64         `json:"progress"`
	ErrDetail   string          `json:"error_detail,omitempty"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	StartedAt   time.Time       `json:"started_at,omitempty"`
	CompletedAt time.Time       `json:"completed_at,omitempty"`
	Findings    []Finding       `json:"findings,omitempty"`
}
