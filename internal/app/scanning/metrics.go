package scanning

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OrchestrationMetrics defines metrics operations needed by the orchestrator.
type OrchestrationMetrics interface {
	// Job metrics
	IncJobsSubmitted(ctx context.Context, pluginName string)
	IncJobsByOutcome(ctx context.Context, outcome string)
	ObserveJobDuration(ctx context.Context, pluginName string, duration time.Duration)
	IncPanicsRecovered(ctx context.Context)

	// Pool metrics
	SetQueueDepth(ctx context.Context, depth int)
	IncActiveWorkers(ctx context.Context)
	DecActiveWorkers(ctx context.Context)

	// Finding metrics
	ObserveFindings(ctx context.Context, pluginName string, count int)
}

// orchestrationMetrics implements OrchestrationMetrics.
type orchestrationMetrics struct {
	jobsSubmitted   metric.Int64Counter
	jobsByOutcome   metric.Int64Counter
	jobDuration     metric.Float64Histogram
	panicsRecovered metric.Int64Counter

	queueDepth    metric.Int64Gauge
	activeWorkers metric.Int64UpDownCounter

	findingsPerJob metric.Int64Histogram
}

const namespace = "scan_orchestrator"

// NewOrchestrationMetrics creates a new orchestration metrics instance.
func NewOrchestrationMetrics(mp metric.MeterProvider) (*orchestrationMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(orchestrationMetrics)
	var err error

	if m.jobsSubmitted, err = meter.Int64Counter(
		"jobs_submitted_total",
		metric.WithDescription("Total number of scan jobs submitted"),
	); err != nil {
		return nil, err
	}

	if m.jobsByOutcome, err = meter.Int64Counter(
		"jobs_terminal_total",
		metric.WithDescription("Total number of scan jobs by terminal outcome"),
	); err != nil {
		return nil, err
	}

	if m.jobDuration, err = meter.Float64Histogram(
		"job_duration_seconds",
		metric.WithDescription("Time from job start to terminal state"),
	); err != nil {
		return nil, err
	}

	if m.panicsRecovered, err = meter.Int64Counter(
		"plugin_panics_recovered_total",
		metric.WithDescription("Total number of plugin panics contained by the orchestrator"),
	); err != nil {
		return nil, err
	}

	if m.queueDepth, err = meter.Int64Gauge(
		"pending_queue_depth",
		metric.WithDescription("Number of jobs waiting for a worker slot"),
	); err != nil {
		return nil, err
	}

	if m.activeWorkers, err = meter.Int64UpDownCounter(
		"active_workers",
		metric.WithDescription("Number of workers currently executing a job"),
	); err != nil {
		return nil, err
	}

	if m.findingsPerJob, err = meter.Int64Histogram(
		"findings_per_job",
		metric.WithDescription("Findings recorded per completed job"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *orchestrationMetrics) IncJobsSubmitted(ctx context.Context, pluginName string) {
	m.jobsSubmitted.Add(ctx, 1, metric.WithAttributes(attribute.String("plugin", pluginName)))
}

func (m *orchestrationMetrics) IncJobsByOutcome(ctx context.Context, outcome string) {
	m.jobsByOutcome.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *orchestrationMetrics) ObserveJobDuration(ctx context.Context, pluginName string, duration time.Duration) {
	m.jobDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("plugin", pluginName)))
}

func (m *orchestrationMetrics) IncPanicsRecovered(ctx context.Context) {
	m.panicsRecovered.Add(ctx, 1)
}

func (m *orchestrationMetrics) SetQueueDepth(ctx context.Context, depth int) {
	m.queueDepth.Record(ctx, int64(depth))
}

func (m *orchestrationMetrics) IncActiveWorkers(ctx context.Context) { m.activeWorkers.Add(ctx, 1) }

func (m *orchestrationMetrics) DecActiveWorkers(ctx context.Context) { m.activeWorkers.Add(ctx, -1) }

func (m *orchestrationMetrics) ObserveFindings(ctx context.Context, pluginName string, count int) {
	m.findingsPerJob.Record(ctx, int64(count), metric.WithAttributes(attribute.String("plugin", pluginName)))
}
