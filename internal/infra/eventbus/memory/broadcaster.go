// Package memory provides the in-process progress broadcaster. It offers a
// lightweight, non-persistent multicast hub keyed by job id, suitable for
// streaming progress to real-time push layers without any external broker.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/scanops/sentinel/internal/domain/scanning"
	"github.com/scanops/sentinel/pkg/common/logger"
)

// DefaultBufferSize is the per-subscriber event buffer used when the
// broadcaster is constructed with a non-positive size.
const DefaultBufferSize = 64

var (
	_ scanning.ProgressPublisher  = (*Broadcaster)(nil)
	_ scanning.ProgressSubscriber = (*Broadcaster)(nil)
)

// Broadcaster is an in-memory pub/sub hub for job progress events. Every
// subscriber of a job receives every event independently (multicast, not
// competing consumers). Publishing never blocks: each subscriber owns a
// bounded buffer, and when a slow subscriber's buffer is full the oldest
// buffered event is dropped for that subscriber only.
type Broadcaster struct {
	bufferSize int
	logger     *logger.Logger

	mu   sync.Mutex
	subs map[uuid.UUID][]*subscription
	// done remembers jobs whose terminal event has already been delivered so
	// late subscribers get an immediately closed stream instead of one that
	// never terminates.
	done map[uuid.UUID]scanning.ProgressEvent
}

type subscription struct {
	ch     chan scanning.ProgressEvent
	closed bool
}

// NewBroadcaster creates a Broadcaster with the given per-subscriber buffer size.
func NewBroadcaster(bufferSize int, logger *logger.Logger) *Broadcaster {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Broadcaster{
		bufferSize: bufferSize,
		logger:     logger.With("component", "progress_broadcaster"),
		subs:       make(map[uuid.UUID][]*subscription),
		done:       make(map[uuid.UUID]scanning.ProgressEvent),
	}
}

// Subscribe returns a stream of progress events for the job. The stream
// preserves publish order and is closed when ctx is done or after the job's
// terminal event is delivered. Subscribing to a job that already finished
// yields its terminal event and an immediately closed stream.
func (b *Broadcaster) Subscribe(ctx context.Context, jobID uuid.UUID) (<-chan scanning.ProgressEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	if terminal, ok := b.done[jobID]; ok {
		b.mu.Unlock()
		ch := make(chan scanning.ProgressEvent, 1)
		ch <- terminal
		close(ch)
		return ch, nil
	}

	sub := &subscription{ch: make(chan scanning.ProgressEvent, b.bufferSize)}
	b.subs[jobID] = append(b.subs[jobID], sub)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		b.removeLocked(jobID, sub)
	}()

	return sub.ch, nil
}

// Publish delivers an event to every current subscriber of the job. Slow
// subscribers lose their oldest buffered event rather than stalling the
// publishing job.
func (b *Broadcaster) Publish(ctx context.Context, event scanning.ProgressEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs[event.JobID] {
		b.sendLocked(ctx, sub, event)
	}
}

// Complete delivers the terminal event to every subscriber of the job, closes
// their streams, and retires the job from the hub. This is the only automatic
// unsubscribe.
func (b *Broadcaster) Complete(ctx context.Context, event scanning.ProgressEvent) {
	event.Terminal = true

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.done[event.JobID]; ok {
		return
	}
	b.done[event.JobID] = event

	for _, sub := range b.subs[event.JobID] {
		b.sendLocked(ctx, sub, event)
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
	}
	delete(b.subs, event.JobID)
}

// SubscriberCount returns the number of live subscriptions for the job.
func (b *Broadcaster) SubscriberCount(jobID uuid.UUID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[jobID])
}

// sendLocked enqueues event on the subscription, evicting the oldest buffered
// event if the buffer is full. Callers hold b.mu, which also guarantees
// per-subscriber FIFO ordering across publishers.
func (b *Broadcaster) sendLocked(ctx context.Context, sub *subscription, event scanning.ProgressEvent) {
	if sub.closed {
		return
	}
	for {
		select {
		case sub.ch <- event:
			return
		default:
		}
		select {
		case dropped := <-sub.ch:
			b.logger.Debug(ctx, "Dropped progress event for slow subscriber",
				"job_id", dropped.JobID, "status", dropped.Status)
		default:
		}
	}
}

func (b *Broadcaster) removeLocked(jobID uuid.UUID, sub *subscription) {
	if sub.closed {
		return
	}
	sub.closed = true
	close(sub.ch)

	subs := b.subs[jobID]
	for i, s := range subs {
		if s == sub {
			b.subs[jobID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[jobID]) == 0 {
		delete(b.subs, jobID)
	}
}
