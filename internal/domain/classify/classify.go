// Package classify scores findings into alert priority tiers. Classification
// is a pure function of a finding's signal axes: no I/O, no side effects, and
// the same finding always yields the same result. Results are derived on
// demand and never treated as authoritative stored state, so tier boundaries
// and weights can change without a data migration.
package classify

import (
	"fmt"
	"strings"

	"github.com/scanops/sentinel/internal/domain/scanning"
)

// Tier buckets an overall score into the priority vocabulary shared by alert
// rules and webhook payloads.
type Tier string

const (
	TierInfo     Tier = "info"
	TierLow      Tier = "low"
	TierMedium   Tier = "medium"
	TierHigh     Tier = "high"
	TierCritical Tier = "critical"
)

// Tier thresholds on the 0-10 overall score.
const (
	criticalThreshold = 9.0
	highThreshold     = 7.0
	mediumThreshold   = 4.0
	lowThreshold      = 1.0
)

// Signal axis weights. The exact split is tunable policy; the invariants that
// matter are that weights are positive and sum to 1, which keeps the overall
// score monotonic in each axis and bounded to [0,10].
const (
	exploitabilityWeight  = 0.40
	impactWeight          = 0.35
	discoverabilityWeight = 0.25
)

// Result is the derived classification of a finding.
type Result struct {
	// Score is the weighted overall score in [0,10].
	Score float64 `json:"overall_score"`

	// Tier is the priority bucket the score falls into.
	Tier Tier `json:"tier"`
}

// Classify computes the classification for a finding. Axes arrive already
// clamped to [0,10] by finding materialization; the clamp here keeps the
// bound even for findings reconstructed from storage.
func Classify(f scanning.Finding) Result {
	score := exploitabilityWeight*clamp10(f.Exploitability()) +
		impactWeight*clamp10(f.Impact()) +
		discoverabilityWeight*clamp10(f.Discoverability())

	return Result{Score: score, Tier: TierForScore(score)}
}

// ParseTier converts a string to its Tier, case-insensitively. Unknown values
// are an error rather than a silent fallback so typos in rule tables surface
// at load time.
func ParseTier(s string) (Tier, error) {
	switch Tier(strings.ToLower(s)) {
	case TierInfo:
		return TierInfo, nil
	case TierLow:
		return TierLow, nil
	case TierMedium:
		return TierMedium, nil
	case TierHigh:
		return TierHigh, nil
	case TierCritical:
		return TierCritical, nil
	default:
		return "", fmt.Errorf("unknown tier %q", s)
	}
}

// TierForScore maps an overall score to its priority tier.
func TierForScore(score float64) Tier {
	switch {
	case score >= criticalThreshold:
		return TierCritical
	case score >= highThreshold:
		return TierHigh
	case score >= mediumThreshold:
		return TierMedium
	case score >= lowThreshold:
		return TierLow
	default:
		return TierInfo
	}
}

func clamp10(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 10 {
		return 10
	}
	return v
}
