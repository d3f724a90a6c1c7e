// Package memory provides map-backed repository implementations. They are the
// default persistence layer for single-process deployments and the test
// double for the postgres-backed repositories.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/scanops/sentinel/internal/domain/scanning"
)

var _ scanning.JobRepository = (*JobStore)(nil)

// JobStore is an in-memory JobRepository. Snapshots are stored by value, so a
// saved snapshot is immune to later mutation by the caller.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]scanning.JobSnapshot
}

// NewJobStore creates an empty JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[uuid.UUID]scanning.JobSnapshot)}
}

// SaveJob records the snapshot, replacing any previous state for the job.
func (s *JobStore) SaveJob(ctx context.Context, snapshot scanning.JobSnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[snapshot.JobID] = snapshot
	return nil
}

// GetJob returns the last saved snapshot, or scanning.ErrJobNotFound.
func (s *JobStore) GetJob(ctx context.Context, jobID uuid.UUID) (scanning.JobSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return scanning.JobSnapshot{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot, ok := s.jobs[jobID]
	if !ok {
		return scanning.JobSnapshot{}, scanning.ErrJobNotFound
	}
	return snapshot, nil
}
