package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scanops/sentinel/internal/domain/classify"
	"github.com/scanops/sentinel/internal/domain/scanning"
)

func writeRules(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadRules(t *testing.T) {
	t.Parallel()

	path := writeRules(t, `
rules:
  - name: critical-security
    description: page on anything critical
    priority: 100
    channels: [security, pager]
    cooldown: 5m
    match:
      kinds: [security]
      tiers: [critical]
      min_score: 9
      min_confidence: 0.8
  - name: informational-digest
    priority: 1
    channels: [audit]
    enabled: false
    match:
      severities: [low, info]
`)

	rules, err := LoadRules(path)
	require.NoError(t, err)
	require.Len(t, rules, 2)

	critical := rules[0]
	assert.Equal(t, "critical-security", critical.Name)
	assert.Equal(t, "page on anything critical", critical.Description)
	assert.Equal(t, 100, critical.Priority)
	assert.Equal(t, []string{"security", "pager"}, critical.Channels)
	assert.Equal(t, 5*time.Minute, critical.Cooldown)
	assert.True(t, critical.Enabled, "enabled defaults to true")
	assert.Equal(t, []scanning.FindingKind{scanning.FindingKindSecurity}, critical.Kinds)
	assert.Equal(t, []classify.Tier{classify.TierCritical}, critical.Tiers)
	assert.Equal(t, 9.0, critical.MinScore)
	assert.Equal(t, 0.8, critical.MinConfidence)

	digest := rules[1]
	assert.False(t, digest.Enabled)
	assert.Zero(t, digest.Cooldown)
	assert.Equal(t, []string{"low", "info"}, digest.Severities)
}

func TestLoadRulesRejectsUnnamedRule(t *testing.T) {
	t.Parallel()

	path := writeRules(t, "rules:\n  - channels: [security]\n")
	_, err := LoadRules(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no name")
}

func TestLoadRulesRejectsDuplicateNames(t *testing.T) {
	t.Parallel()

	path := writeRules(t, `
rules:
  - name: dup
    channels: [security]
  - name: dup
    channels: [ops]
`)
	_, err := LoadRules(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate rule name")
}

func TestLoadRulesRejectsUnknownTier(t *testing.T) {
	t.Parallel()

	path := writeRules(t, `
rules:
  - name: bad-tier
    channels: [security]
    match:
      tiers: [catastrophic]
`)
	_, err := LoadRules(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown tier")
}

func TestLoadRulesMissingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadRules(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadRulesEmptyTable(t *testing.T) {
	t.Parallel()

	path := writeRules(t, "rules: []\n")
	rules, err := LoadRules(path)
	require.NoError(t, err)
	assert.Empty(t, rules)
}
