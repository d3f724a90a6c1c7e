package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/scanops/sentinel/internal/domain/scanning"
)

var _ scanning.FindingRepository = (*FindingStore)(nil)

// FindingStore is an in-memory, append-only FindingRepository.
type FindingStore struct {
	mu       sync.RWMutex
	findings map[uuid.UUID][]scanning.Finding
}

// NewFindingStore creates an empty FindingStore.
func NewFindingStore() *FindingStore {
	return &FindingStore{findings: make(map[uuid.UUID][]scanning.Finding)}
}

// SaveFinding appends the finding to its job's list.
func (s *FindingStore) SaveFinding(ctx context.Context, finding scanning.Finding) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findings[finding.JobID()] = append(s.findings[finding.JobID()], finding)
	return nil
}

// ListFindings returns the job's findings in discovery order. A job with no
// findings yields an empty slice, not an error.
func (s *FindingStore) ListFindings(ctx context.Context, jobID uuid.UUID) ([]scanning.Finding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]scanning.Finding, len(s.findings[jobID]))
	copy(out, s.findings[jobID])
	return out, nil
}
