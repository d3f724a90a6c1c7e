// Package alerting evaluates findings against configured alert rules and
// decides which destination channels should be notified. Rules are
// configuration data: the whole table is loaded once and hot-swapped
// atomically, never patched in place.
package alerting

import (
	"time"

	"github.com/scanops/sentinel/internal/domain/classify"
	"github.com/scanops/sentinel/internal/domain/scanning"
)

// Rule is a named predicate over a finding and its classification, plus the
// routing decision to apply when it matches. Cooldown suppression is keyed by
// (rule name, finding target): firing for one target never suppresses another.
type Rule struct {
	// Name uniquely identifies the rule; it doubles as the cooldown key prefix
	// and the audit label.
	Name string

	// Description documents the rule's intent for operators.
	Description string

	// Priority orders fired rules in audit output; higher is more important.
	Priority int

	// Channels are destination channel names to notify when the rule fires.
	Channels []string

	// Cooldown is the minimum interval between successive firings for the same
	// target. Zero disables suppression.
	Cooldown time.Duration

	// Enabled gates the rule without removing it from the table.
	Enabled bool

	// Match criteria. Zero values are wildcards: an empty Kinds slice matches
	// every kind, a zero MinScore matches every score, and so on.
	Kinds         []scanning.FindingKind
	Tiers         []classify.Tier
	MinScore      float64
	MinConfidence float64
	Severities    []string
}

// Matches reports whether the rule's criteria accept the finding and its
// classification. Enablement and cooldown are checked separately by the rule
// set; Matches is a pure predicate.
func (r Rule) Matches(f scanning.Finding, c classify.Result) bool {
	if c.Score < r.MinScore {
		return false
	}
	if f.Confidence() < r.MinConfidence {
		return false
	}
	if len(r.Kinds) > 0 && !containsKind(r.Kinds, f.Kind()) {
		return false
	}
	if len(r.Tiers) > 0 && !containsTier(r.Tiers, c.Tier) {
		return false
	}
	if len(r.Severities) > 0 && !containsString(r.Severities, f.Severity()) {
		return false
	}
	return true
}

func containsKind(kinds []scanning.FindingKind, k scanning.FindingKind) bool {
	for _, kind := range kinds {
		if kind == k {
			return true
		}
	}
	return false
}

func containsTier(tiers []classify.Tier, t classify.Tier) bool {
	for _, tier := range tiers {
		if tier == t {
			return true
		}
	}
	return false
}

func containsString(values []string, v string) bool {
	for _, value := range values {
		if value == v {
			return true
		}
	}
	return false
}
