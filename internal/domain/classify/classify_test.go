package classify

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scanops/sentinel/internal/domain/scanning"
)

func findingWithAxes(exploitability, impact, discoverability float64) scanning.Finding {
	return scanning.NewFinding(uuid.New(), scanning.FindingSpec{
		Kind:            scanning.FindingKindSecurity,
		Title:           "test finding",
		Exploitability:  exploitability,
		Impact:          impact,
		Discoverability: discoverability,
	}, time.Now())
}

func TestClassifyExtremes(t *testing.T) {
	t.Parallel()

	maxed := Classify(findingWithAxes(10, 10, 10))
	assert.Equal(t, 10.0, maxed.Score)
	assert.Equal(t, TierCritical, maxed.Tier)

	zeroed := Classify(findingWithAxes(0, 0, 0))
	assert.Zero(t, zeroed.Score)
	assert.Equal(t, TierInfo, zeroed.Tier)
}

func TestClassifyIsDeterministic(t *testing.T) {
	t.Parallel()

	f := findingWithAxes(7.3, 5.1, 8.8)
	first := Classify(f)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Classify(f))
	}
}

func TestClassifyWeightedSum(t *testing.T) {
	t.Parallel()

	// 0.40*8 + 0.35*6 + 0.25*4 = 6.3
	result := Classify(findingWithAxes(8, 6, 4))
	assert.InDelta(t, 6.3, result.Score, 1e-9)
	assert.Equal(t, TierMedium, result.Tier)
}

func TestClassifyMonotonicPerAxis(t *testing.T) {
	t.Parallel()

	base := Classify(findingWithAxes(5, 5, 5)).Score
	assert.Greater(t, Classify(findingWithAxes(6, 5, 5)).Score, base)
	assert.Greater(t, Classify(findingWithAxes(5, 6, 5)).Score, base)
	assert.Greater(t, Classify(findingWithAxes(5, 5, 6)).Score, base)
}

func TestClassifyBounds(t *testing.T) {
	t.Parallel()

	axes := []float64{0, 1.5, 5, 9.99, 10}
	for _, e := range axes {
		for _, i := range axes {
			for _, d := range axes {
				score := Classify(findingWithAxes(e, i, d)).Score
				assert.GreaterOrEqual(t, score, 0.0)
				assert.LessOrEqual(t, score, 10.0)
			}
		}
	}
}

func TestTierForScore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		score float64
		want  Tier
	}{
		{0, TierInfo},
		{0.99, TierInfo},
		{1, TierLow},
		{3.99, TierLow},
		{4, TierMedium},
		{6.99, TierMedium},
		{7, TierHigh},
		{8.99, TierHigh},
		{9, TierCritical},
		{10, TierCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TierForScore(tt.score), "score %v", tt.score)
	}
}

func TestParseTier(t *testing.T) {
	t.Parallel()

	tier, err := ParseTier("CRITICAL")
	require.NoError(t, err)
	assert.Equal(t, TierCritical, tier)

	tier, err = ParseTier("medium")
	require.NoError(t, err)
	assert.Equal(t, TierMedium, tier)

	_, err = ParseTier("catastrophic")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown tier")
}
