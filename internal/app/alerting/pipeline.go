// Package alerting wires finding classification, rule evaluation, and webhook
// dispatch into one pipeline, and keeps the recent alert history for
// operator-facing stats.
package alerting

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/scanops/sentinel/internal/domain/alerting"
	"github.com/scanops/sentinel/internal/domain/classify"
	"github.com/scanops/sentinel/internal/domain/events"
	"github.com/scanops/sentinel/internal/domain/scanning"
	"github.com/scanops/sentinel/internal/infra/webhook"
	"github.com/scanops/sentinel/pkg/common/logger"
)

// historyCapacity bounds the in-memory alert history ring.
const historyCapacity = 1000

// Dispatcher is the outbound delivery port the pipeline hands payloads to.
type Dispatcher interface {
	Dispatch(ctx context.Context, delivery webhook.Delivery) error
}

// HistoryEntry is one fired alert kept for operator review.
type HistoryEntry struct {
	FiredAt   time.Time `json:"fired_at"`
	JobID     uuid.UUID `json:"job_id"`
	FindingID uuid.UUID `json:"finding_id"`
	Title     string    `json:"title"`
	Target    string    `json:"target,omitempty"`
	Score     float64   `json:"overall_score"`
	Tier      string    `json:"tier"`
	Rules     []string  `json:"rules"`
	Channels  []string  `json:"channels"`
}

// Stats summarizes alerting activity since process start.
type Stats struct {
	TotalAlerts   int64  `json:"total_alerts"`
	AlertsLast24h int    `json:"alerts_last_24h"`
	ActiveRules   int    `json:"active_rules"`
	MostFiredRule string `json:"most_fired_rule,omitempty"`
}

// Pipeline consumes findings from the orchestrator, classifies them, evaluates
// the rule table, and fans fired alerts out to their destination channels.
// Webhook failures never propagate back to the scan that produced the finding.
type Pipeline struct {
	ruleSet    *alerting.RuleSet
	dispatcher Dispatcher
	publisher  events.DomainEventPublisher

	// channels maps logical channel names to webhook endpoint URLs.
	channels map[string]string

	logger  *logger.Logger
	metrics AlertMetrics
	tracer  trace.Tracer
	clock   scanning.TimeProvider

	mu         sync.Mutex
	history    []HistoryEntry
	historyPos int
	total      int64
	fireCounts map[string]int64
}

// realClock is the production TimeProvider.
type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock injects a TimeProvider, primarily for tests.
func WithClock(tp scanning.TimeProvider) Option {
	return func(p *Pipeline) { p.clock = tp }
}

// NewPipeline creates a Pipeline over the given rule set. channels maps the
// rule table's channel names to webhook URLs; a fired channel with no mapping
// is logged and skipped.
func NewPipeline(
	ruleSet *alerting.RuleSet,
	dispatcher Dispatcher,
	publisher events.DomainEventPublisher,
	channels map[string]string,
	log *logger.Logger,
	metrics AlertMetrics,
	tracer trace.Tracer,
	opts ...Option,
) *Pipeline {
	p := &Pipeline{
		ruleSet:    ruleSet,
		dispatcher: dispatcher,
		publisher:  publisher,
		channels:   channels,
		logger:     log.With("component", "alert_pipeline"),
		metrics:    metrics,
		tracer:     tracer,
		clock:      realClock{},
		history:    make([]HistoryEntry, 0, historyCapacity),
		fireCounts: make(map[string]int64),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessFinding classifies the finding, evaluates the rule table, and
// dispatches one payload per fired destination channel.
func (p *Pipeline) ProcessFinding(ctx context.Context, finding scanning.Finding) {
	ctx, span := p.tracer.Start(ctx, "alert_pipeline.process_finding",
		trace.WithAttributes(
			attribute.String("finding_id", finding.ID().String()),
			attribute.String("job_id", finding.JobID().String()),
		))
	defer span.End()

	result := classify.Classify(finding)
	span.SetAttributes(
		attribute.Float64("overall_score", result.Score),
		attribute.String("tier", string(result.Tier)),
	)

	eval := p.ruleSet.Evaluate(p.clock.Now(), finding, result)

	for _, ruleName := range eval.Suppressed {
		if p.metrics != nil {
			p.metrics.IncAlertsSuppressed(ctx, ruleName)
		}
		p.logger.Debug(ctx, "Alert suppressed by cooldown",
			"rule", ruleName, "target", finding.Target(), "finding_id", finding.ID())
	}
	if len(eval.Suppressed) > 0 {
		span.AddEvent("rules_suppressed", trace.WithAttributes(attribute.Int("count", len(eval.Suppressed))))
	}

	if len(eval.Fired) == 0 {
		span.SetStatus(codes.Ok, "no rules fired")
		return
	}

	ruleNames := make([]string, 0, len(eval.Fired))
	for _, fired := range eval.Fired {
		ruleNames = append(ruleNames, fired.Name)
		if p.metrics != nil {
			p.metrics.IncAlertsFired(ctx, fired.Name)
		}
	}
	span.AddEvent("rules_fired", trace.WithAttributes(
		attribute.StringSlice("rules", ruleNames),
		attribute.StringSlice("channels", eval.Channels),
	))

	p.record(finding, result, ruleNames, eval.Channels)
	p.publishEvent(ctx, alerting.NewAlertFiredEvent(finding.JobID(), finding.ID(), result, eval))

	payload, err := json.Marshal(alertPayload{
		EventType:      "alert.fired",
		JobID:          finding.JobID().String(),
		Finding:        finding,
		Classification: result,
		FiredRules:     eval.Fired,
		Timestamp:      p.clock.Now(),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "serializing alert payload")
		p.logger.Error(ctx, "Failed to serialize alert payload", "finding_id", finding.ID(), "error", err)
		return
	}

	for _, channel := range eval.Channels {
		url, ok := p.channels[channel]
		if !ok {
			p.logger.Warn(ctx, "No webhook endpoint configured for channel", "channel", channel)
			continue
		}
		if err := p.dispatcher.Dispatch(ctx, webhook.Delivery{Channel: channel, URL: url, Payload: payload}); err != nil {
			p.logger.Error(ctx, "Failed to hand alert to dispatcher", "channel", channel, "error", err)
			continue
		}
		if p.metrics != nil {
			p.metrics.IncAlertsDispatched(ctx, channel)
		}
	}

	span.SetStatus(codes.Ok, "alert processed")
}

// ReplaceRules hot-swaps the rule table atomically. Cooldown state carries
// over for rules that keep their name.
func (p *Pipeline) ReplaceRules(ctx context.Context, rules []alerting.Rule) {
	p.ruleSet.Replace(rules)
	p.logger.Info(ctx, "Alert rule table replaced", "rules", len(rules))
}

// History returns the retained alerts, most recent last.
func (p *Pipeline) History() []HistoryEntry {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]HistoryEntry, 0, len(p.history))
	if len(p.history) < historyCapacity {
		return append(out, p.history...)
	}
	out = append(out, p.history[p.historyPos:]...)
	return append(out, p.history[:p.historyPos]...)
}

// Stats summarizes alerting activity.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := Stats{TotalAlerts: p.total}

	cutoff := p.clock.Now().Add(-24 * time.Hour)
	for _, entry := range p.history {
		if entry.FiredAt.After(cutoff) {
			stats.AlertsLast24h++
		}
	}

	var most int64
	for name, count := range p.fireCounts {
		if count > most || (count == most && name < stats.MostFiredRule) {
			most = count
			stats.MostFiredRule = name
		}
	}

	for _, rule := range p.ruleSet.Rules() {
		if rule.Enabled {
			stats.ActiveRules++
		}
	}
	return stats
}

// record appends to the history ring and bumps fire counters.
func (p *Pipeline) record(finding scanning.Finding, result classify.Result, ruleNames, channels []string) {
	entry := HistoryEntry{
		FiredAt:   p.clock.Now(),
		JobID:     finding.JobID(),
		FindingID: finding.ID(),
		Title:     finding.Title(),
		Target:    finding.Target(),
		Score:     result.Score,
		Tier:      string(result.Tier),
		Rules:     ruleNames,
		Channels:  channels,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.total++
	for _, name := range ruleNames {
		p.fireCounts[name]++
	}

	if len(p.history) < historyCapacity {
		p.history = append(p.history, entry)
		return
	}
	p.history[p.historyPos] = entry
	p.historyPos = (p.historyPos + 1) % historyCapacity
}

func (p *Pipeline) publishEvent(ctx context.Context, event events.DomainEvent) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.PublishDomainEvent(ctx, event); err != nil {
		p.logger.Error(ctx, "Failed to publish alert event", "event_type", event.EventType(), "error", err)
	}
}

// alertPayload is the webhook wire shape for a fired alert.
type alertPayload struct {
	EventType      string               `json:"event_type"`
	JobID          string               `json:"job_id"`
	Finding        scanning.Finding     `json:"finding"`
	Classification classify.Result      `json:"classification"`
	FiredRules     []alerting.FiredRule `json:"fired_rules"`
	Timestamp      time.Time            `json:"timestamp"`
}
