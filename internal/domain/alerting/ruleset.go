package alerting

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/scanops/sentinel/internal/domain/classify"
	"github.com/scanops/sentinel/internal/domain/scanning"
)

// RuleSet owns the live alert rule table. The table is replaced atomically as
// a whole (hot swap); evaluation never observes a partially applied update.
// Cooldown state lives alongside the table and survives a swap, so replacing
// the rules does not reset suppression windows for rules that keep their name.
type RuleSet struct {
	rules     atomic.Pointer[[]Rule]
	cooldowns *cooldownLedger
}

// NewRuleSet creates a RuleSet holding the given rules.
func NewRuleSet(rules []Rule) *RuleSet {
	rs := &RuleSet{cooldowns: newCooldownLedger()}
	rs.Replace(rules)
	return rs
}

// Replace swaps in a new rule table atomically. Callers own the slice after
// the call and must not mutate it.
func (rs *RuleSet) Replace(rules []Rule) {
	table := make([]Rule, len(rules))
	copy(table, rules)
	rs.rules.Store(&table)
}

// Rules returns the current rule table. The returned slice must be treated as
// read-only.
func (rs *RuleSet) Rules() []Rule { return *rs.rules.Load() }

// FiredRule records one rule that fired for a finding, for audit purposes.
type FiredRule struct {
	Name     string   `json:"name"`
	Priority int      `json:"priority"`
	Channels []string `json:"channels"`
}

// Evaluation is the outcome of evaluating one finding against the rule table.
// Channels is the deduplicated union across all fired rules so one finding
// produces at most one notification per channel; the per-rule record is kept
// in Fired for audit. Suppressed lists rules whose criteria matched but were
// inside their cooldown window, an observable outcome distinct from non-match.
type Evaluation struct {
	Fired      []FiredRule
	Suppressed []string
	Channels   []string
}

// Evaluate checks the finding against every enabled rule. Rules whose criteria
// match are then gated by the (rule, target) cooldown; winners have their
// last-fired stamp advanced atomically. Fired rules are ordered by descending
// priority, then name, so audit output is deterministic.
func (rs *RuleSet) Evaluate(now time.Time, f scanning.Finding, c classify.Result) Evaluation {
	var eval Evaluation
	channelSet := make(map[string]struct{})

	for _, rule := range rs.Rules() {
		if !rule.Enabled || !rule.Matches(f, c) {
			continue
		}

		if !rs.cooldowns.tryFire(cooldownKey(rule.Name, f.Target()), now, rule.Cooldown) {
			eval.Suppressed = append(eval.Suppressed, rule.Name)
			continue
		}

		eval.Fired = append(eval.Fired, FiredRule{
			Name:     rule.Name,
			Priority: rule.Priority,
			Channels: rule.Channels,
		})
		for _, ch := range rule.Channels {
			channelSet[ch] = struct{}{}
		}
	}

	sort.Slice(eval.Fired, func(i, j int) bool {
		if eval.Fired[i].Priority != eval.Fired[j].Priority {
			return eval.Fired[i].Priority > eval.Fired[j].Priority
		}
		return eval.Fired[i].Name < eval.Fired[j].Name
	})

	eval.Channels = make([]string, 0, len(channelSet))
	for ch := range channelSet {
		eval.Channels = append(eval.Channels, ch)
	}
	sort.Strings(eval.Channels)

	return eval
}

// LastFired returns when the rule last fired for the target, or the zero time.
func (rs *RuleSet) LastFired(ruleName, target string) time.Time {
	return rs.cooldowns.lastFired(cooldownKey(ruleName, target))
}

func cooldownKey(ruleName, target string) string { return ruleName + "\x00" + target }
