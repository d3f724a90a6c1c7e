package scanning

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/scanops/sentinel/internal/domain/events"
	"github.com/scanops/sentinel/internal/domain/scanning"
	"github.com/scanops/sentinel/pkg/common/logger"
)

const (
	defaultWorkers     = 4
	defaultJobTimeout  = 10 * time.Minute
	defaultCancelGrace = 10 * time.Second
)

// FindingSink consumes findings as the orchestrator records them. The alert
// pipeline implements this; processing must not block job finalization for
// long.
type FindingSink interface {
	ProcessFinding(ctx context.Context, finding scanning.Finding)
}

// realClock is the production TimeProvider.
type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithWorkers sets the worker pool size.
func WithWorkers(n int) Option {
	return func(o *Orchestrator) { o.workers = n }
}

// WithJobTimeout sets the hard per-job execution ceiling.
func WithJobTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.jobTimeout = d }
}

// WithCancelGrace sets how long a cancelled plugin gets to unwind before the
// orchestrator stops waiting on it.
func WithCancelGrace(d time.Duration) Option {
	return func(o *Orchestrator) { o.cancelGrace = d }
}

// WithClock injects a TimeProvider, primarily for tests.
func WithClock(tp scanning.TimeProvider) Option {
	return func(o *Orchestrator) { o.clock = tp }
}

// WithFindingSink registers the downstream finding consumer.
func WithFindingSink(sink FindingSink) Option {
	return func(o *Orchestrator) { o.findingSink = sink }
}

// jobEntry pairs a job with its execution handle. The orchestrator mutex
// guards both the entry map and every job aggregate; a job has exactly one
// writer at a time but the table is shared across workers.
type jobEntry struct {
	job *scanning.Job

	// cancel is set when a worker picks the job up; nil while pending.
	cancel context.CancelFunc

	// finalized flips when the terminal state has been recorded and broadcast.
	// A worker finding its job already finalized discards its result.
	finalized bool
}

// Orchestrator coordinates scan jobs: it validates submissions, schedules them
// on a bounded worker pool in FIFO order, contains plugin failures, streams
// progress, and fans findings out to persistence and alerting.
type Orchestrator struct {
	registry *PluginRegistry

	jobStore     scanning.JobRepository
	findingStore scanning.FindingRepository
	progress     scanning.ProgressPublisher
	publisher    events.DomainEventPublisher
	findingSink  FindingSink

	logger  *logger.Logger
	metrics OrchestrationMetrics
	tracer  trace.Tracer
	clock   scanning.TimeProvider

	workers     int
	jobTimeout  time.Duration
	cancelGrace time.Duration

	mu    sync.Mutex
	cond  *sync.Cond
	jobs  map[uuid.UUID]*jobEntry
	queue []uuid.UUID
}

// NewOrchestrator creates an Orchestrator. Run must be called before submitted
// jobs make progress.
func NewOrchestrator(
	registry *PluginRegistry,
	jobStore scanning.JobRepository,
	findingStore scanning.FindingRepository,
	progress scanning.ProgressPublisher,
	publisher events.DomainEventPublisher,
	log *logger.Logger,
	metrics OrchestrationMetrics,
	tracer trace.Tracer,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		registry:     registry,
		jobStore:     jobStore,
		findingStore: findingStore,
		progress:     progress,
		publisher:    publisher,
		logger:       log.With("component", "scan_orchestrator"),
		metrics:      metrics,
		tracer:       tracer,
		clock:        realClock{},
		workers:      defaultWorkers,
		jobTimeout:   defaultJobTimeout,
		cancelGrace:  defaultCancelGrace,
		jobs:         make(map[uuid.UUID]*jobEntry),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.cond = sync.NewCond(&o.mu)
	return o
}

// Submit validates and enqueues a new scan job. It returns the job id without
// waiting for execution; a saturated pool means the job waits in pending, it
// is never rejected for load.
func (o *Orchestrator) Submit(ctx context.Context, pluginName string, config json.RawMessage) (uuid.UUID, error) {
	ctx, span := o.tracer.Start(ctx, "scan_orchestrator.submit",
		trace.WithAttributes(attribute.String("plugin_name", pluginName)))
	defer span.End()

	plugin, err := o.registry.Resolve(pluginName)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "plugin resolution failed")
		return uuid.Nil, err
	}

	if err := plugin.Validate(config); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "configuration rejected")
		return uuid.Nil, &scanning.ValidationError{PluginName: pluginName, Reason: err}
	}

	jobID := uuid.New()
	job := scanning.NewJobWithTimeProvider(jobID, pluginName, config, o.clock)

	o.mu.Lock()
	o.jobs[jobID] = &jobEntry{job: job}
	o.queue = append(o.queue, jobID)
	depth := len(o.queue)
	o.mu.Unlock()
	o.cond.Signal()

	span.AddEvent("job_enqueued", trace.WithAttributes(attribute.String("job_id", jobID.String())))
	span.SetStatus(codes.Ok, "job submitted")

	if o.metrics != nil {
		o.metrics.IncJobsSubmitted(ctx, pluginName)
		o.metrics.SetQueueDepth(ctx, depth)
	}
	o.saveJob(ctx, job.Snapshot())
	o.publishLifecycle(ctx, scanning.NewJobLifecycleEvent(jobID, pluginName, scanning.JobStatusPending, ""))

	o.logger.Info(ctx, "Scan job submitted", "job_id", jobID, "plugin_name", pluginName)
	return jobID, nil
}

// Cancel transitions a live job to cancelled and signals its plugin. A job
// already cancelled is a no-op; any other terminal state returns
// ErrJobAlreadyTerminal. The job record is marked cancelled immediately,
// whether or not the plugin cooperates.
func (o *Orchestrator) Cancel(ctx context.Context, jobID uuid.UUID) error {
	ctx, span := o.tracer.Start(ctx, "scan_orchestrator.cancel",
		trace.WithAttributes(attribute.String("job_id", jobID.String())))
	defer span.End()

	o.mu.Lock()
	entry, ok := o.jobs[jobID]
	if !ok {
		o.mu.Unlock()
		span.SetStatus(codes.Error, "job not found")
		return fmt.Errorf("cancelling job %s: %w", jobID, scanning.ErrJobNotFound)
	}

	status := entry.job.Status()
	if status.IsTerminal() {
		o.mu.Unlock()
		if status == scanning.JobStatusCancelled {
			span.AddEvent("already_cancelled")
			span.SetStatus(codes.Ok, "idempotent cancel")
			return nil
		}
		span.SetStatus(codes.Error, "job already terminal")
		return fmt.Errorf("cancelling job %s in state %s: %w", jobID, status, scanning.ErrJobAlreadyTerminal)
	}

	if err := entry.job.UpdateStatus(scanning.JobStatusCancelled); err != nil {
		o.mu.Unlock()
		span.RecordError(err)
		span.SetStatus(codes.Error, "transition failed")
		return err
	}
	entry.finalized = true
	cancelExec := entry.cancel
	snapshot := entry.job.Snapshot()
	o.mu.Unlock()

	if cancelExec != nil {
		cancelExec()
	}

	o.finalize(ctx, snapshot, "")
	if o.metrics != nil {
		o.metrics.IncJobsByOutcome(ctx, string(scanning.JobStatusCancelled))
	}
	span.AddEvent("job_cancelled")
	span.SetStatus(codes.Ok, "job cancelled")
	o.logger.Info(ctx, "Scan job cancelled", "job_id", jobID, "was_running", cancelExec != nil)
	return nil
}

// Get returns the latest known snapshot of a job. It never blocks on in-flight
// execution.
func (o *Orchestrator) Get(ctx context.Context, jobID uuid.UUID) (scanning.JobSnapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	entry, ok := o.jobs[jobID]
	if !ok {
		return scanning.JobSnapshot{}, fmt.Errorf("getting job %s: %w", jobID, scanning.ErrJobNotFound)
	}
	return entry.job.Snapshot(), nil
}

// List returns snapshots of all known jobs ordered by enqueue time.
func (o *Orchestrator) List(ctx context.Context) []scanning.JobSnapshot {
	o.mu.Lock()
	snapshots := make([]scanning.JobSnapshot, 0, len(o.jobs))
	for _, entry := range o.jobs {
		snapshots = append(snapshots, entry.job.Snapshot())
	}
	o.mu.Unlock()

	sort.Slice(snapshots, func(i, j int) bool {
		if snapshots[i].EnqueuedAt.Equal(snapshots[j].EnqueuedAt) {
			return snapshots[i].JobID.String() < snapshots[j].JobID.String()
		}
		return snapshots[i].EnqueuedAt.Before(snapshots[j].EnqueuedAt)
	})
	return snapshots
}

// Run executes the worker pool until ctx is cancelled. Jobs submitted before
// or during Run are drained in FIFO order; jobs still pending at shutdown stay
// pending.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info(ctx, "Orchestrator starting", "workers", o.workers)

	// Wake blocked workers when the pool shuts down. The broadcast happens
	// under the mutex so it cannot slip between a worker's ctx.Err() check and
	// its registration in cond.Wait, which would strand that worker forever.
	go func() {
		<-ctx.Done()
		o.mu.Lock()
		o.cond.Broadcast()
		o.mu.Unlock()
	}()

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < o.workers; i++ {
		g.Go(func() error {
			o.workerLoop(ctx)
			return nil
		})
	}
	return g.Wait()
}

// workerLoop pulls pending jobs in submission order until ctx is done.
func (o *Orchestrator) workerLoop(ctx context.Context) {
	for {
		o.mu.Lock()
		for len(o.queue) == 0 && ctx.Err() == nil {
			o.cond.Wait()
		}
		if ctx.Err() != nil {
			o.mu.Unlock()
			return
		}

		jobID := o.queue[0]
		o.queue = o.queue[1:]
		depth := len(o.queue)
		entry := o.jobs[jobID]

		// Cancelled while still queued.
		if entry.finalized || entry.job.Status() != scanning.JobStatusPending {
			o.mu.Unlock()
			continue
		}

		if err := entry.job.UpdateStatus(scanning.JobStatusRunning); err != nil {
			o.mu.Unlock()
			o.logger.Error(ctx, "Failed to start pending job", "job_id", jobID, "error", err)
			continue
		}
		execCtx, cancel := context.WithCancel(ctx)
		entry.cancel = cancel
		pluginName := entry.job.PluginName()
		config := entry.job.Config()
		snapshot := entry.job.Snapshot()
		o.mu.Unlock()

		if o.metrics != nil {
			o.metrics.SetQueueDepth(ctx, depth)
			o.metrics.IncActiveWorkers(ctx)
		}

		o.saveJob(ctx, snapshot)
		o.publishLifecycle(ctx, scanning.NewJobLifecycleEvent(jobID, pluginName, scanning.JobStatusRunning, ""))
		o.progress.Publish(ctx, scanning.ProgressEvent{
			JobID:     jobID,
			Status:    scanning.JobStatusRunning,
			Timestamp: o.clock.Now(),
		})

		o.execute(execCtx, entry, jobID, pluginName, config)
		cancel()

		if o.metrics != nil {
			o.metrics.DecActiveWorkers(ctx)
		}
	}
}

// executeResult carries a plugin invocation's outcome across the goroutine
// boundary.
type executeResult struct {
	findings []scanning.FindingSpec
	err      error
}

// execute runs one plugin invocation with panic containment and the hard
// per-job timeout. The plugin runs on its own goroutine; on timeout or
// cancellation the orchestrator stops waiting, abandoning the goroutine after
// the grace period.
func (o *Orchestrator) execute(ctx context.Context, entry *jobEntry, jobID uuid.UUID, pluginName string, config json.RawMessage) {
	ctx, span := o.tracer.Start(ctx, "scan_orchestrator.execute",
		trace.WithAttributes(
			attribute.String("job_id", jobID.String()),
			attribute.String("plugin_name", pluginName),
		))
	defer span.End()

	start := o.clock.Now()

	plugin, err := o.registry.Resolve(pluginName)
	if err != nil {
		// Plugin disabled between submission and execution.
		span.RecordError(err)
		o.fail(ctx, entry, jobID, pluginName, err.Error())
		return
	}

	resultCh := make(chan executeResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				if o.metrics != nil {
					o.metrics.IncPanicsRecovered(ctx)
				}
				o.logger.Error(ctx, "Plugin panic contained",
					"job_id", jobID, "plugin_name", pluginName, "panic", r, "stack", string(debug.Stack()))
				resultCh <- executeResult{err: fmt.Errorf("plugin panicked: %v", r)}
			}
		}()

		findings, execErr := plugin.Execute(ctx, config, o.progressFunc(ctx, entry, jobID))
		resultCh <- executeResult{findings: findings, err: execErr}
	}()

	timeout := time.NewTimer(o.jobTimeout)
	defer timeout.Stop()

	select {
	case result := <-resultCh:
		o.settle(ctx, entry, jobID, pluginName, result, start)

	case <-timeout.C:
		span.AddEvent("job_timeout")
		timeoutErr := &scanning.TimeoutError{PluginName: pluginName, Limit: o.jobTimeout}
		o.fail(ctx, entry, jobID, pluginName, timeoutErr.Error())
		if o.metrics != nil {
			o.metrics.ObserveJobDuration(ctx, pluginName, o.clock.Now().Sub(start))
		}
		o.logger.Error(ctx, "Scan job exceeded execution deadline; abandoning plugin",
			"job_id", jobID, "plugin_name", pluginName, "limit", o.jobTimeout)

	case <-ctx.Done():
		// Cancellation (job-level Cancel or pool shutdown). Give the plugin the
		// grace period to unwind, then stop waiting on it.
		grace := time.NewTimer(o.cancelGrace)
		defer grace.Stop()
		select {
		case result := <-resultCh:
			span.AddEvent("plugin_unwound_after_cancel")
			o.settle(ctx, entry, jobID, pluginName, result, start)
		case <-grace.C:
			span.AddEvent("plugin_abandoned_after_cancel")
			o.logger.Warn(ctx, "Plugin did not honor cancellation within grace period; abandoning",
				"job_id", jobID, "plugin_name", pluginName, "grace", o.cancelGrace)
		}
		// Shutdown reaches here with the job still live; Cancel has already
		// finalized its jobs, making this a no-op for them. The record must
		// never stay running.
		o.markStranded(ctx, entry, jobID)
	}
}

// markStranded transitions a job that lost its worker to cancelled. No-op for
// jobs whose terminal state is already recorded.
func (o *Orchestrator) markStranded(ctx context.Context, entry *jobEntry, jobID uuid.UUID) {
	ctx = context.WithoutCancel(ctx)

	o.mu.Lock()
	if entry.finalized {
		o.mu.Unlock()
		return
	}
	if err := entry.job.UpdateStatus(scanning.JobStatusCancelled); err != nil {
		o.mu.Unlock()
		o.logger.Error(ctx, "Failed to cancel stranded job", "job_id", jobID, "error", err)
		return
	}
	entry.finalized = true
	snapshot := entry.job.Snapshot()
	o.mu.Unlock()

	o.finalize(ctx, snapshot, "")
	if o.metrics != nil {
		o.metrics.IncJobsByOutcome(ctx, string(scanning.JobStatusCancelled))
	}
}

// settle records a returned plugin invocation: findings are materialized and
// fanned out, then the job transitions to its terminal state.
func (o *Orchestrator) settle(ctx context.Context, entry *jobEntry, jobID uuid.UUID, pluginName string, result executeResult, start time.Time) {
	// Finalization must outlive the execution context so a cancelled or
	// shutting-down job still gets persisted and broadcast.
	ctx = context.WithoutCancel(ctx)

	o.mu.Lock()
	if entry.finalized {
		// Lost the race with Cancel; the terminal state is already recorded and
		// broadcast. The plugin's late result is discarded.
		o.mu.Unlock()
		return
	}

	var findings []scanning.Finding
	if result.err == nil {
		now := o.clock.Now()
		findings = make([]scanning.Finding, 0, len(result.findings))
		for _, spec := range result.findings {
			findings = append(findings, scanning.NewFinding(jobID, spec, now))
		}
		entry.job.AddFindings(findings...)
	}

	var errDetail string
	if result.err != nil {
		execErr := &scanning.ExecutionError{PluginName: pluginName, Cause: result.err}
		errDetail = execErr.Error()
		if err := entry.job.RecordFailure(errDetail); err != nil {
			o.logger.Error(ctx, "Failed to record job failure", "job_id", jobID, "error", err)
		}
	} else {
		if err := entry.job.UpdateStatus(scanning.JobStatusCompleted); err != nil {
			o.logger.Error(ctx, "Failed to complete job", "job_id", jobID, "error", err)
		}
	}
	entry.finalized = true
	snapshot := entry.job.Snapshot()
	o.mu.Unlock()

	for _, finding := range findings {
		o.saveFinding(ctx, finding)
		o.publishEvent(ctx, scanning.NewFindingRecordedEvent(finding))
		if o.findingSink != nil {
			o.findingSink.ProcessFinding(ctx, finding)
		}
	}
	if o.metrics != nil && result.err == nil {
		o.metrics.ObserveFindings(ctx, pluginName, len(findings))
	}

	o.finalize(ctx, snapshot, errDetail)

	if o.metrics != nil {
		o.metrics.IncJobsByOutcome(ctx, string(snapshot.Status))
		o.metrics.ObserveJobDuration(ctx, pluginName, o.clock.Now().Sub(start))
	}
	o.logger.Info(ctx, "Scan job finished",
		"job_id", jobID, "plugin_name", pluginName, "status", snapshot.Status, "findings", len(findings))
}

// fail force-marks a live job failed with the given detail. Used for timeouts
// and late plugin resolution failures.
func (o *Orchestrator) fail(ctx context.Context, entry *jobEntry, jobID uuid.UUID, pluginName string, detail string) {
	o.mu.Lock()
	if entry.finalized {
		o.mu.Unlock()
		return
	}
	if err := entry.job.RecordFailure(detail); err != nil {
		o.mu.Unlock()
		o.logger.Error(ctx, "Failed to record job failure", "job_id", jobID, "error", err)
		return
	}
	entry.finalized = true
	snapshot := entry.job.Snapshot()
	o.mu.Unlock()

	o.finalize(ctx, snapshot, detail)
	if o.metrics != nil {
		o.metrics.IncJobsByOutcome(ctx, string(scanning.JobStatusFailed))
	}
}

// finalize persists a terminal snapshot, then broadcasts the terminal progress
// event and publishes the lifecycle event. The store write happens before the
// broadcast so a subscriber reacting to the terminal event reads settled state.
func (o *Orchestrator) finalize(ctx context.Context, snapshot scanning.JobSnapshot, errDetail string) {
	o.saveJob(ctx, snapshot)

	o.progress.Complete(ctx, scanning.ProgressEvent{
		JobID:     snapshot.JobID,
		Fraction:  snapshot.Progress,
		Status:    snapshot.Status,
		Message:   errDetail,
		Terminal:  true,
		Timestamp: o.clock.Now(),
	})

	o.publishLifecycle(ctx, scanning.NewJobLifecycleEvent(snapshot.JobID, snapshot.PluginName, snapshot.Status, errDetail))
}

// progressFunc adapts the plugin-facing callback to the job aggregate and the
// broadcaster. Reports after the job left running are ignored.
func (o *Orchestrator) progressFunc(ctx context.Context, entry *jobEntry, jobID uuid.UUID) scanning.ProgressFunc {
	return func(fraction float64, message string) {
		o.mu.Lock()
		if entry.finalized || entry.job.Status() != scanning.JobStatusRunning {
			o.mu.Unlock()
			return
		}
		entry.job.UpdateProgress(fraction)
		current := entry.job.Progress()
		o.mu.Unlock()

		o.progress.Publish(ctx, scanning.ProgressEvent{
			JobID:     jobID,
			Fraction:  current,
			Status:    scanning.JobStatusRunning,
			Message:   message,
			Timestamp: o.clock.Now(),
		})
	}
}

// saveJob is a best-effort durable write; failures are logged, never fatal to
// in-memory state.
func (o *Orchestrator) saveJob(ctx context.Context, snapshot scanning.JobSnapshot) {
	if o.jobStore == nil {
		return
	}
	if err := o.jobStore.SaveJob(ctx, snapshot); err != nil {
		o.logger.Error(ctx, "Failed to persist job snapshot",
			"job_id", snapshot.JobID, "status", snapshot.Status, "error", err)
	}
}

func (o *Orchestrator) saveFinding(ctx context.Context, finding scanning.Finding) {
	if o.findingStore == nil {
		return
	}
	if err := o.findingStore.SaveFinding(ctx, finding); err != nil {
		o.logger.Error(ctx, "Failed to persist finding",
			"finding_id", finding.ID(), "job_id", finding.JobID(), "error", err)
	}
}

func (o *Orchestrator) publishLifecycle(ctx context.Context, event scanning.JobLifecycleEvent) {
	o.publishEvent(ctx, event)
}

func (o *Orchestrator) publishEvent(ctx context.Context, event events.DomainEvent) {
	if o.publisher == nil {
		return
	}
	if err := o.publisher.PublishDomainEvent(ctx, event); err != nil {
		o.logger.Error(ctx, "Failed to publish domain event", "event_type", event.EventType(), "error", err)
	}
}
