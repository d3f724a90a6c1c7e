package scanning

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/scanops/sentinel/internal/domain/scanning"
	"github.com/scanops/sentinel/internal/infra/eventbus/memory"
	storagemem "github.com/scanops/sentinel/internal/infra/storage/memory"
	"github.com/scanops/sentinel/pkg/common/logger"
)

type stubPlugin struct {
	validateErr error
	executeFn   func(ctx context.Context, config json.RawMessage, report scanning.ProgressFunc) ([]scanning.FindingSpec, error)
}

func (p *stubPlugin) Validate(config json.RawMessage) error { return p.validateErr }

func (p *stubPlugin) Execute(ctx context.Context, config json.RawMessage, report scanning.ProgressFunc) ([]scanning.FindingSpec, error) {
	if p.executeFn != nil {
		return p.executeFn(ctx, config, report)
	}
	return nil, nil
}

type orchestratorHarness struct {
	orchestrator *Orchestrator
	registry     *PluginRegistry
	broadcaster  *memory.Broadcaster
	jobStore     *storagemem.JobStore
	findingStore *storagemem.FindingStore
	cancelRun    context.CancelFunc
	runDone      chan struct{}
}

func newHarness(t *testing.T, opts ...Option) *orchestratorHarness {
	t.Helper()

	log := logger.New(io.Discard, logger.LevelDebug, "test", nil)
	h := &orchestratorHarness{
		registry:     NewPluginRegistry(),
		broadcaster:  memory.NewBroadcaster(64, log),
		jobStore:     storagemem.NewJobStore(),
		findingStore: storagemem.NewFindingStore(),
		runDone:      make(chan struct{}),
	}
	h.orchestrator = NewOrchestrator(
		h.registry,
		h.jobStore,
		h.findingStore,
		h.broadcaster,
		nil,
		log,
		nil,
		noop.NewTracerProvider().Tracer("test"),
		opts...,
	)
	return h
}

func (h *orchestratorHarness) start(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	h.cancelRun = cancel
	go func() {
		defer close(h.runDone)
		_ = h.orchestrator.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-h.runDone:
		case <-time.After(5 * time.Second):
			t.Error("orchestrator did not shut down")
		}
	})
}

func waitForStatus(t *testing.T, h *orchestratorHarness, jobID uuid.UUID, status scanning.JobStatus) scanning.JobSnapshot {
	t.Helper()

	var snapshot scanning.JobSnapshot
	require.Eventually(t, func() bool {
		var err error
		snapshot, err = h.orchestrator.Get(context.Background(), jobID)
		require.NoError(t, err)
		return snapshot.Status == status
	}, 5*time.Second, 5*time.Millisecond, "job never reached %s", status)
	return snapshot
}

func TestSubmitUnknownPlugin(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	_, err := h.orchestrator.Submit(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, scanning.ErrUnknownPlugin)
}

func TestSubmitDisabledPlugin(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	require.NoError(t, h.registry.Register("port_scan", &stubPlugin{}))
	require.NoError(t, h.registry.SetEnabled("port_scan", false))

	_, err := h.orchestrator.Submit(context.Background(), "port_scan", nil)
	assert.ErrorIs(t, err, scanning.ErrPluginDisabled)
}

func TestSubmitValidationFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	require.NoError(t, h.registry.Register("port_scan", &stubPlugin{validateErr: errors.New("target is required")}))

	_, err := h.orchestrator.Submit(context.Background(), "port_scan", json.RawMessage(`{}`))
	var validationErr *scanning.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "port_scan", validationErr.PluginName)
	assert.ErrorContains(t, validationErr, "target is required")
}

func TestJobCompletesWithFindings(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	require.NoError(t, h.registry.Register("port_scan", &stubPlugin{
		executeFn: func(ctx context.Context, config json.RawMessage, report scanning.ProgressFunc) ([]scanning.FindingSpec, error) {
			report(0.5, "halfway")
			return []scanning.FindingSpec{
				{Kind: scanning.FindingKindSecurity, Title: "open telnet port", Target: "10.0.0.5", Impact: 8},
			}, nil
		},
	}))
	h.start(t)

	jobID, err := h.orchestrator.Submit(context.Background(), "port_scan", json.RawMessage(`{"target":"10.0.0.5"}`))
	require.NoError(t, err)

	snapshot := waitForStatus(t, h, jobID, scanning.JobStatusCompleted)
	assert.Equal(t, 1.0, snapshot.Progress)
	require.Len(t, snapshot.Findings, 1)
	assert.Equal(t, "open telnet port", snapshot.Findings[0].Title())

	// Terminal state is durably recorded and findings persisted.
	stored, err := h.jobStore.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, scanning.JobStatusCompleted, stored.Status)

	findings, err := h.findingStore.ListFindings(context.Background(), jobID)
	require.NoError(t, err)
	assert.Len(t, findings, 1)
}

func TestPluginErrorMarksJobFailed(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	require.NoError(t, h.registry.Register("port_scan", &stubPlugin{
		executeFn: func(ctx context.Context, config json.RawMessage, report scanning.ProgressFunc) ([]scanning.FindingSpec, error) {
			return nil, errors.New("connection refused")
		},
	}))
	h.start(t)

	jobID, err := h.orchestrator.Submit(context.Background(), "port_scan", nil)
	require.NoError(t, err)

	snapshot := waitForStatus(t, h, jobID, scanning.JobStatusFailed)
	assert.Contains(t, snapshot.ErrDetail, "connection refused")
	assert.Contains(t, snapshot.ErrDetail, "port_scan")
}

func TestPluginPanicIsContained(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	require.NoError(t, h.registry.Register("crashy", &stubPlugin{
		executeFn: func(ctx context.Context, config json.RawMessage, report scanning.ProgressFunc) ([]scanning.FindingSpec, error) {
			panic("boom")
		},
	}))
	require.NoError(t, h.registry.Register("steady", &stubPlugin{}))
	h.start(t)

	crashID, err := h.orchestrator.Submit(context.Background(), "crashy", nil)
	require.NoError(t, err)

	snapshot := waitForStatus(t, h, crashID, scanning.JobStatusFailed)
	assert.Contains(t, snapshot.ErrDetail, "panicked")

	// The pool survives and keeps serving other jobs.
	steadyID, err := h.orchestrator.Submit(context.Background(), "steady", nil)
	require.NoError(t, err)
	waitForStatus(t, h, steadyID, scanning.JobStatusCompleted)
}

func TestJobTimeoutForcesFailed(t *testing.T) {
	t.Parallel()

	h := newHarness(t, WithJobTimeout(50*time.Millisecond), WithCancelGrace(10*time.Millisecond))
	require.NoError(t, h.registry.Register("slow", &stubPlugin{
		executeFn: func(ctx context.Context, config json.RawMessage, report scanning.ProgressFunc) ([]scanning.FindingSpec, error) {
			<-time.After(10 * time.Second)
			return nil, nil
		},
	}))
	h.start(t)

	jobID, err := h.orchestrator.Submit(context.Background(), "slow", nil)
	require.NoError(t, err)

	snapshot := waitForStatus(t, h, jobID, scanning.JobStatusFailed)
	assert.Contains(t, snapshot.ErrDetail, "exceeded execution deadline")
}

func TestCancelPendingJob(t *testing.T) {
	t.Parallel()

	// No Run: the job stays pending forever, so Cancel hits the queued path.
	h := newHarness(t)
	require.NoError(t, h.registry.Register("port_scan", &stubPlugin{}))

	jobID, err := h.orchestrator.Submit(context.Background(), "port_scan", nil)
	require.NoError(t, err)

	require.NoError(t, h.orchestrator.Cancel(context.Background(), jobID))

	snapshot, err := h.orchestrator.Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, scanning.JobStatusCancelled, snapshot.Status)
}

func TestCancelRunningJobIsImmediate(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	h := newHarness(t, WithCancelGrace(50*time.Millisecond))
	require.NoError(t, h.registry.Register("stubborn", &stubPlugin{
		executeFn: func(ctx context.Context, config json.RawMessage, report scanning.ProgressFunc) ([]scanning.FindingSpec, error) {
			close(started)
			// Ignores cancellation entirely.
			<-time.After(10 * time.Second)
			return nil, nil
		},
	}))
	h.start(t)

	jobID, err := h.orchestrator.Submit(context.Background(), "stubborn", nil)
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("plugin never started")
	}

	require.NoError(t, h.orchestrator.Cancel(context.Background(), jobID))

	// Marked cancelled immediately, without waiting for the plugin to unwind.
	snapshot, err := h.orchestrator.Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, scanning.JobStatusCancelled, snapshot.Status)
}

func TestCancelIsIdempotent(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	require.NoError(t, h.registry.Register("port_scan", &stubPlugin{}))

	jobID, err := h.orchestrator.Submit(context.Background(), "port_scan", nil)
	require.NoError(t, err)

	require.NoError(t, h.orchestrator.Cancel(context.Background(), jobID))
	require.NoError(t, h.orchestrator.Cancel(context.Background(), jobID))

	snapshot, err := h.orchestrator.Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, scanning.JobStatusCancelled, snapshot.Status)
}

func TestCancelCompletedJob(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	require.NoError(t, h.registry.Register("port_scan", &stubPlugin{}))
	h.start(t)

	jobID, err := h.orchestrator.Submit(context.Background(), "port_scan", nil)
	require.NoError(t, err)
	waitForStatus(t, h, jobID, scanning.JobStatusCompleted)

	err = h.orchestrator.Cancel(context.Background(), jobID)
	assert.ErrorIs(t, err, scanning.ErrJobAlreadyTerminal)
}

func TestCancelUnknownJob(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	err := h.orchestrator.Cancel(context.Background(), uuid.New())
	assert.ErrorIs(t, err, scanning.ErrJobNotFound)
}

func TestPoolBoundsConcurrency(t *testing.T) {
	t.Parallel()

	var active, peak atomic.Int32
	h := newHarness(t, WithWorkers(2))
	require.NoError(t, h.registry.Register("port_scan", &stubPlugin{
		executeFn: func(ctx context.Context, config json.RawMessage, report scanning.ProgressFunc) ([]scanning.FindingSpec, error) {
			now := active.Add(1)
			for {
				p := peak.Load()
				if now <= p || peak.CompareAndSwap(p, now) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			active.Add(-1)
			return nil, nil
		},
	}))
	h.start(t)

	jobIDs := make([]uuid.UUID, 0, 10)
	for i := 0; i < 10; i++ {
		jobID, err := h.orchestrator.Submit(context.Background(), "port_scan", nil)
		require.NoError(t, err)
		jobIDs = append(jobIDs, jobID)
	}

	for _, jobID := range jobIDs {
		waitForStatus(t, h, jobID, scanning.JobStatusCompleted)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2), "no more than 2 jobs may run at once")
}

func TestSubscriberSeesProgressThenTerminal(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	h := newHarness(t)
	require.NoError(t, h.registry.Register("chatty", &stubPlugin{
		executeFn: func(ctx context.Context, config json.RawMessage, report scanning.ProgressFunc) ([]scanning.FindingSpec, error) {
			<-release
			report(0.25, "step 1")
			report(0.50, "step 2")
			report(0.75, "step 3")
			return nil, errors.New("third-party API quota exhausted")
		},
	}))
	h.start(t)

	jobID, err := h.orchestrator.Submit(context.Background(), "chatty", nil)
	require.NoError(t, err)

	stream, err := h.broadcaster.Subscribe(context.Background(), jobID)
	require.NoError(t, err)
	close(release)

	var events []scanning.ProgressEvent
	for event := range stream {
		events = append(events, event)
	}

	require.NotEmpty(t, events)
	terminal := events[len(events)-1]
	assert.True(t, terminal.Terminal)
	assert.Equal(t, scanning.JobStatusFailed, terminal.Status)

	var fractions []float64
	for _, event := range events[:len(events)-1] {
		assert.False(t, event.Terminal)
		if event.Fraction > 0 {
			fractions = append(fractions, event.Fraction)
		}
	}
	assert.Equal(t, []float64{0.25, 0.50, 0.75}, fractions, "all three reports observed in publish order")

	waitForStatus(t, h, jobID, scanning.JobStatusFailed)
}

func TestListOrdersByEnqueueTime(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	h := newHarness(t, WithClock(clock))
	require.NoError(t, h.registry.Register("port_scan", &stubPlugin{}))

	first, err := h.orchestrator.Submit(context.Background(), "port_scan", nil)
	require.NoError(t, err)
	clock.advance(time.Minute)
	second, err := h.orchestrator.Submit(context.Background(), "port_scan", nil)
	require.NoError(t, err)

	snapshots := h.orchestrator.List(context.Background())
	require.Len(t, snapshots, 2)
	assert.Equal(t, first, snapshots[0].JobID)
	assert.Equal(t, second, snapshots[1].JobID)
}

func TestFindingSinkReceivesFindings(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	h := newHarness(t, WithFindingSink(sink))
	require.NoError(t, h.registry.Register("port_scan", &stubPlugin{
		executeFn: func(ctx context.Context, config json.RawMessage, report scanning.ProgressFunc) ([]scanning.FindingSpec, error) {
			return []scanning.FindingSpec{{Title: "a"}, {Title: "b"}}, nil
		},
	}))
	h.start(t)

	jobID, err := h.orchestrator.Submit(context.Background(), "port_scan", nil)
	require.NoError(t, err)
	waitForStatus(t, h, jobID, scanning.JobStatusCompleted)

	assert.Equal(t, []string{"a", "b"}, sink.titles())
}

func TestRunShutdownWakesIdleWorkers(t *testing.T) {
	t.Parallel()

	// Cancelling immediately after Run races the shutdown wakeup against
	// workers registering on the condition variable; a worker that misses the
	// broadcast blocks Run forever.
	log := logger.New(io.Discard, logger.LevelDebug, "test", nil)
	for i := 0; i < 500; i++ {
		o := NewOrchestrator(
			NewPluginRegistry(),
			storagemem.NewJobStore(),
			storagemem.NewFindingStore(),
			memory.NewBroadcaster(8, log),
			nil,
			log,
			nil,
			noop.NewTracerProvider().Tracer("test"),
			WithWorkers(8),
		)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			_ = o.Run(ctx)
			close(done)
		}()
		cancel()

		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatalf("worker pool did not shut down (iteration %d)", i)
		}
	}
}

type captureSink struct {
	mu       sync.Mutex
	received []scanning.Finding
}

func (s *captureSink) ProcessFinding(ctx context.Context, finding scanning.Finding) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = append(s.received, finding)
}

func (s *captureSink) titles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	titles := make([]string, 0, len(s.received))
	for _, f := range s.received {
		titles = append(titles, f.Title())
	}
	return titles
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
