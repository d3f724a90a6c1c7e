package scanning

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// FindingKind categorizes what a finding represents to downstream consumers.
type FindingKind string

const (
	// FindingKindInformational marks observations with no direct risk attached.
	FindingKindInformational FindingKind = "informational"

	// FindingKindSecurity marks a security-relevant weakness.
	FindingKindSecurity FindingKind = "security"

	// FindingKindOpportunity marks a discovery worth acting on that is not a
	// weakness in itself (an exposed staging host, a newly seen asset, ...).
	FindingKindOpportunity FindingKind = "opportunity"
)

// ParseFindingKind converts a string to a FindingKind, defaulting to
// informational for unrecognized values so a sloppy plugin cannot inflate
// alert priority by accident.
func ParseFindingKind(s string) FindingKind {
	switch FindingKind(s) {
	case FindingKindSecurity:
		return FindingKindSecurity
	case FindingKindOpportunity:
		return FindingKindOpportunity
	default:
		return FindingKindInformational
	}
}

// FindingSpec is the shape a plugin reports discoveries in. The orchestrator
// materializes each spec into an immutable Finding bound to the owning job.
// Signal axes are on a 0-10 scale; out-of-range values are clamped during
// materialization.
type FindingSpec struct {
	Kind        FindingKind `json:"kind"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Severity    string      `json:"severity"`
	Target      string      `json:"target"`
	Confidence  float64     `json:"confidence"`

	Exploitability  float64 `json:"exploitability"`
	Impact          float64 `json:"impact"`
	Discoverability float64 `json:"discoverability"`
}

// Finding is one discrete result produced during a job. It is immutable once
// created; downstream consumers only ever read it.
type Finding struct {
	id           uuid.UUID
	jobID        uuid.UUID
	kind         FindingKind
	title        string
	description  string
	severity     string
	target       string
	confidence   float64
	discoveredAt time.Time

	exploitability  float64
	impact          float64
	discoverability float64
}

// NewFinding materializes a plugin-reported spec into a Finding owned by the
// given job. Confidence is clamped to [0,1] and signal axes to [0,10].
func NewFinding(jobID uuid.UUID, spec FindingSpec, discoveredAt time.Time) Finding {
	return Finding{
		id:              uuid.New(),
		jobID:           jobID,
		kind:            ParseFindingKind(string(spec.Kind)),
		title:           spec.Title,
		description:     spec.Description,
		severity:        spec.Severity,
		target:          spec.Target,
		confidence:      clamp(spec.Confidence, 0, 1),
		discoveredAt:    discoveredAt,
		exploitability:  clamp(spec.Exploitability, 0, 10),
		impact:          clamp(spec.Impact, 0, 10),
		discoverability: clamp(spec.Discoverability, 0, 10),
	}
}

// ReconstructFinding creates a Finding from stored fields, bypassing creation
// invariants. This should only be used by repositories when loading from the DB.
func ReconstructFinding(
	id uuid.UUID,
	jobID uuid.UUID,
	kind FindingKind,
	title, description, severity, target string,
	confidence float64,
	discoveredAt time.Time,
	exploitability, impact, discoverability float64,
) Finding {
	return Finding{
		id:              id,
		jobID:           jobID,
		kind:            kind,
		title:           title,
		description:     description,
		severity:        severity,
		target:          target,
		confidence:      confidence,
		discoveredAt:    discoveredAt,
		exploitability:  exploitability,
		impact:          impact,
		discoverability: discoverability,
	}
}

// ID returns the unique identifier of this finding.
func (f Finding) ID() uuid.UUID { return f.id }

// JobID returns the identifier of the job that produced this finding.
func (f Finding) JobID() uuid.UUID { return f.jobID }

// Kind returns the finding's category.
func (f Finding) Kind() FindingKind { return f.kind }

// Title returns the human-readable title.
func (f Finding) Title() string { return f.title }

// Description returns the human-readable description.
func (f Finding) Description() string { return f.description }

// Severity returns the severity label as reported by the plugin.
func (f Finding) Severity() string { return f.severity }

// Target returns the identity of the scanned asset this finding concerns.
// Alert cooldowns are keyed per (rule, target).
func (f Finding) Target() string { return f.target }

// Confidence returns the plugin's confidence in [0,1].
func (f Finding) Confidence() float64 { return f.confidence }

// DiscoveredAt returns when the finding was recorded.
func (f Finding) DiscoveredAt() time.Time { return f.discoveredAt }

// Exploitability returns the 0-10 exploitability signal.
func (f Finding) Exploitability() float64 { return f.exploitability }

// Impact returns the 0-10 estimated-impact signal.
func (f Finding) Impact() float64 { return f.impact }

// Discoverability returns the 0-10 ease-of-discovery signal.
func (f Finding) Discoverability() float64 { return f.discoverability }

// MarshalJSON emits the wire representation used by webhook payloads and the
// durable event export.
func (f Finding) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID              string      `json:"id"`
		JobID           string      `json:"job_id"`
		Kind            FindingKind `json:"kind"`
		Title           string      `json:"title"`
		Description     string      `json:"description,omitempty"`
		Severity        string      `json:"severity"`
		Target          string      `json:"target,omitempty"`
		Confidence      float64     `json:"confidence"`
		DiscoveredAt    time.Time   `json:"discovered_at"`
		Exploitability  float64     `json:"exploitability"`
		Impact          float64     `json:"impact"`
		Discoverability float64     `json:"discoverability"`
	}{
		ID:              f.id.String(),
		JobID:           f.jobID.String(),
		Kind:            f.kind,
		Title:           f.title,
		Description:     f.description,
		Severity:        f.severity,
		Target:          f.target,
		Confidence:      f.confidence,
		DiscoveredAt:    f.discoveredAt,
		Exploitability:  f.exploitability,
		Impact:          f.impact,
		Discoverability: f.discoverability,
	})
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
