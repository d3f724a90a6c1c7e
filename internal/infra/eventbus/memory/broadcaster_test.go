package memory

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scanops/sentinel/internal/domain/scanning"
	"github.com/scanops/sentinel/pkg/common/logger"
)

func newTestBroadcaster(bufferSize int) *Broadcaster {
	return NewBroadcaster(bufferSize, logger.New(io.Discard, logger.LevelDebug, "test", nil))
}

func progressEvent(jobID uuid.UUID, fraction float64) scanning.ProgressEvent {
	return scanning.ProgressEvent{
		JobID:     jobID,
		Fraction:  fraction,
		Status:    scanning.JobStatusRunning,
		Timestamp: time.Now(),
	}
}

func TestBroadcasterDeliversInPublishOrder(t *testing.T) {
	t.Parallel()

	b := newTestBroadcaster(8)
	jobID := uuid.New()

	stream, err := b.Subscribe(context.Background(), jobID)
	require.NoError(t, err)

	b.Publish(context.Background(), progressEvent(jobID, 0.25))
	b.Publish(context.Background(), progressEvent(jobID, 0.50))
	b.Publish(context.Background(), progressEvent(jobID, 0.75))

	assert.Equal(t, 0.25, (<-stream).Fraction)
	assert.Equal(t, 0.50, (<-stream).Fraction)
	assert.Equal(t, 0.75, (<-stream).Fraction)
}

func TestBroadcasterMulticastsToAllSubscribers(t *testing.T) {
	t.Parallel()

	b := newTestBroadcaster(8)
	jobID := uuid.New()

	first, err := b.Subscribe(context.Background(), jobID)
	require.NoError(t, err)
	second, err := b.Subscribe(context.Background(), jobID)
	require.NoError(t, err)

	b.Publish(context.Background(), progressEvent(jobID, 0.5))

	assert.Equal(t, 0.5, (<-first).Fraction)
	assert.Equal(t, 0.5, (<-second).Fraction)
}

func TestBroadcasterIsolatesJobs(t *testing.T) {
	t.Parallel()

	b := newTestBroadcaster(8)
	jobA, jobB := uuid.New(), uuid.New()

	streamA, err := b.Subscribe(context.Background(), jobA)
	require.NoError(t, err)
	streamB, err := b.Subscribe(context.Background(), jobB)
	require.NoError(t, err)

	b.Publish(context.Background(), progressEvent(jobA, 0.5))

	assert.Equal(t, jobA, (<-streamA).JobID)
	select {
	case evt := <-streamB:
		t.Fatalf("subscriber for other job received event: %+v", evt)
	default:
	}
}

func TestBroadcasterDropsOldestForSlowSubscriber(t *testing.T) {
	t.Parallel()

	b := newTestBroadcaster(2)
	jobID := uuid.New()

	stream, err := b.Subscribe(context.Background(), jobID)
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		b.Publish(context.Background(), progressEvent(jobID, float64(i)/10))
	}

	// Buffer holds 2; the three oldest events were evicted.
	assert.Equal(t, 0.4, (<-stream).Fraction)
	assert.Equal(t, 0.5, (<-stream).Fraction)
}

func TestBroadcasterCompleteDeliversTerminalThenCloses(t *testing.T) {
	t.Parallel()

	b := newTestBroadcaster(8)
	jobID := uuid.New()

	stream, err := b.Subscribe(context.Background(), jobID)
	require.NoError(t, err)

	b.Publish(context.Background(), progressEvent(jobID, 0.5))
	b.Complete(context.Background(), scanning.ProgressEvent{
		JobID:     jobID,
		Fraction:  1,
		Status:    scanning.JobStatusCompleted,
		Timestamp: time.Now(),
	})

	assert.Equal(t, 0.5, (<-stream).Fraction)

	terminal, ok := <-stream
	require.True(t, ok)
	assert.True(t, terminal.Terminal)
	assert.Equal(t, scanning.JobStatusCompleted, terminal.Status)

	_, ok = <-stream
	assert.False(t, ok, "stream should be closed after the terminal event")

	assert.Equal(t, 0, b.SubscriberCount(jobID))
}

func TestBroadcasterLateSubscriberGetsTerminalEvent(t *testing.T) {
	t.Parallel()

	b := newTestBroadcaster(8)
	jobID := uuid.New()

	b.Complete(context.Background(), scanning.ProgressEvent{
		JobID:     jobID,
		Status:    scanning.JobStatusFailed,
		Terminal:  true,
		Timestamp: time.Now(),
	})

	stream, err := b.Subscribe(context.Background(), jobID)
	require.NoError(t, err)

	terminal, ok := <-stream
	require.True(t, ok)
	assert.Equal(t, scanning.JobStatusFailed, terminal.Status)
	assert.True(t, terminal.Terminal)

	_, ok = <-stream
	assert.False(t, ok)
}

func TestBroadcasterPublishAfterCompleteIsNoop(t *testing.T) {
	t.Parallel()

	b := newTestBroadcaster(8)
	jobID := uuid.New()

	b.Complete(context.Background(), scanning.ProgressEvent{JobID: jobID, Status: scanning.JobStatusCancelled})
	b.Complete(context.Background(), scanning.ProgressEvent{JobID: jobID, Status: scanning.JobStatusCompleted})
	b.Publish(context.Background(), progressEvent(jobID, 0.9))

	stream, err := b.Subscribe(context.Background(), jobID)
	require.NoError(t, err)

	// The first terminal event wins.
	terminal := <-stream
	assert.Equal(t, scanning.JobStatusCancelled, terminal.Status)
}

func TestBroadcasterContextCancelUnsubscribes(t *testing.T) {
	t.Parallel()

	b := newTestBroadcaster(8)
	jobID := uuid.New()

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := b.Subscribe(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, 1, b.SubscriberCount(jobID))

	cancel()

	require.Eventually(t, func() bool {
		return b.SubscriberCount(jobID) == 0
	}, time.Second, 5*time.Millisecond)

	_, ok := <-stream
	assert.False(t, ok, "stream should be closed after context cancellation")
}

func TestBroadcasterSubscribeWithDoneContext(t *testing.T) {
	t.Parallel()

	b := newTestBroadcaster(8)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Subscribe(ctx, uuid.New())
	assert.ErrorIs(t, err, context.Canceled)
}
