package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/scanops/sentinel/internal/domain/alerting"
	"github.com/scanops/sentinel/internal/domain/classify"
	"github.com/scanops/sentinel/internal/domain/scanning"
)

// RuleSpec is the YAML shape of one alert rule.
type RuleSpec struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description,omitempty"`
	Priority    int      `yaml:"priority"`
	Channels    []string `yaml:"channels"`
	Cooldown    duration `yaml:"cooldown,omitempty"`
	Enabled     *bool    `yaml:"enabled,omitempty"`

	Match RuleMatchSpec `yaml:"match,omitempty"`
}

// duration accepts Go duration strings ("30s", "5m") in YAML.
type duration time.Duration

func (d *duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", raw, err)
	}
	*d = duration(parsed)
	return nil
}

// RuleMatchSpec holds the rule's criteria; omitted fields are wildcards.
type RuleMatchSpec struct {
	Kinds         []string `yaml:"kinds,omitempty"`
	Tiers         []string `yaml:"tiers,omitempty"`
	MinScore      float64  `yaml:"min_score,omitempty"`
	MinConfidence float64  `yaml:"min_confidence,omitempty"`
	Severities    []string `yaml:"severities,omitempty"`
}

// ruleFile is the top-level YAML document.
type ruleFile struct {
	Rules []RuleSpec `yaml:"rules"`
}

// LoadRules parses the YAML rule table at path into domain rules. The result
// is meant for a whole-table atomic swap; it is never merged with a previous
// table.
func LoadRules(path string) ([]alerting.Rule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules file %s: %w", path, err)
	}

	var doc ruleFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing rules file %s: %w", path, err)
	}

	seen := make(map[string]struct{}, len(doc.Rules))
	rules := make([]alerting.Rule, 0, len(doc.Rules))
	for i, spec := range doc.Rules {
		if spec.Name == "" {
			return nil, fmt.Errorf("rules file %s: rule %d has no name", path, i)
		}
		if _, dup := seen[spec.Name]; dup {
			return nil, fmt.Errorf("rules file %s: duplicate rule name %q", path, spec.Name)
		}
		seen[spec.Name] = struct{}{}

		// Rules default to enabled; YAML must opt out explicitly.
		enabled := spec.Enabled == nil || *spec.Enabled

		kinds := make([]scanning.FindingKind, 0, len(spec.Match.Kinds))
		for _, k := range spec.Match.Kinds {
			kinds = append(kinds, scanning.ParseFindingKind(k))
		}
		tiers := make([]classify.Tier, 0, len(spec.Match.Tiers))
		for _, t := range spec.Match.Tiers {
			tier, err := classify.ParseTier(t)
			if err != nil {
				return nil, fmt.Errorf("rules file %s: rule %q: %w", path, spec.Name, err)
			}
			tiers = append(tiers, tier)
		}

		rules = append(rules, alerting.Rule{
			Name:          spec.Name,
			Description:   spec.Description,
			Priority:      spec.Priority,
			Channels:      spec.Channels,
			Cooldown:      time.Duration(spec.Cooldown),
			Enabled:       enabled,
			Kinds:         kinds,
			Tiers:         tiers,
			MinScore:      spec.Match.MinScore,
			MinConfidence: spec.Match.MinConfidence,
			Severities:    spec.Match.Severities,
		})
	}
	return rules, nil
}
