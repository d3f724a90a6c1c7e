package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scanops/sentinel/internal/domain/scanning"
)

func TestJobStoreSaveAndGet(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()

	snapshot := scanning.JobSnapshot{
		JobID:      uuid.New(),
		PluginName: "port_scan",
		Status:     scanning.JobStatusPending,
		EnqueuedAt: time.Now(),
	}
	require.NoError(t, store.SaveJob(ctx, snapshot))

	got, err := store.GetJob(ctx, snapshot.JobID)
	require.NoError(t, err)
	assert.Equal(t, snapshot.JobID, got.JobID)
	assert.Equal(t, "port_scan", got.PluginName)
	assert.Equal(t, scanning.JobStatusPending, got.Status)
}

func TestJobStoreOverwritesPreviousState(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	jobID := uuid.New()

	require.NoError(t, store.SaveJob(ctx, scanning.JobSnapshot{JobID: jobID, Status: scanning.JobStatusRunning, Progress: 0.5}))
	require.NoError(t, store.SaveJob(ctx, scanning.JobSnapshot{JobID: jobID, Status: scanning.JobStatusCompleted, Progress: 1}))

	got, err := store.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, scanning.JobStatusCompleted, got.Status)
	assert.Equal(t, 1.0, got.Progress)
}

func TestJobStoreGetUnknownJob(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	_, err := store.GetJob(context.Background(), uuid.New())
	assert.ErrorIs(t, err, scanning.ErrJobNotFound)
}

func TestFindingStorePreservesDiscoveryOrder(t *testing.T) {
	t.Parallel()

	store := NewFindingStore()
	ctx := context.Background()
	jobID := uuid.New()

	for _, title := range []string{"first", "second", "third"} {
		finding := scanning.NewFinding(jobID, scanning.FindingSpec{
			Kind:  scanning.FindingKindSecurity,
			Title: title,
		}, time.Now())
		require.NoError(t, store.SaveFinding(ctx, finding))
	}

	findings, err := store.ListFindings(ctx, jobID)
	require.NoError(t, err)
	require.Len(t, findings, 3)
	assert.Equal(t, "first", findings[0].Title())
	assert.Equal(t, "second", findings[1].Title())
	assert.Equal(t, "third", findings[2].Title())
}

func TestFindingStoreIsolatesJobs(t *testing.T) {
	t.Parallel()

	store := NewFindingStore()
	ctx := context.Background()
	jobA, jobB := uuid.New(), uuid.New()

	require.NoError(t, store.SaveFinding(ctx, scanning.NewFinding(jobA, scanning.FindingSpec{Title: "a"}, time.Now())))

	findings, err := store.ListFindings(ctx, jobB)
	require.NoError(t, err)
	assert.Empty(t, findings)
}
