// Package webhook delivers alert notifications to HTTP endpoints with
// bounded retries. Deliveries run on dispatcher-owned goroutines so a slow or
// failing endpoint never blocks the pipeline that requested the delivery.
package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/scanops/sentinel/pkg/common"
	"github.com/scanops/sentinel/pkg/common/logger"
)

const (
	// defaultAttemptTimeout bounds a single HTTP attempt.
	defaultAttemptTimeout = 5 * time.Second

	// defaultMaxAttempts is the total number of attempts before a delivery is
	// abandoned.
	defaultMaxAttempts = 5

	// defaultInitialBackoff is the wait after the first failed attempt; each
	// subsequent wait doubles.
	defaultInitialBackoff = 1 * time.Second

	defaultMaxBackoff = 30 * time.Second
)

// Delivery is one notification to send to one endpoint.
type Delivery struct {
	// Channel is the logical destination name the payload was routed to.
	Channel string

	// URL is the endpoint resolved for the channel.
	URL string

	// Payload is the request body, already serialized. Content-Type is
	// application/json.
	Payload []byte
}

// Outcome describes how a delivery ended.
type Outcome string

const (
	// OutcomeDelivered means an attempt received a 2xx response.
	OutcomeDelivered Outcome = "delivered"

	// OutcomeAbandoned means every attempt failed and the delivery was given up.
	OutcomeAbandoned Outcome = "abandoned"
)

// Result is the terminal report for a delivery. Every accepted delivery
// produces exactly one Result; abandoned deliveries are reported, never
// silently dropped.
type Result struct {
	Delivery Delivery
	Outcome  Outcome
	Attempts int
	Err      error
}

// ResultFn receives the terminal report for a delivery. It is invoked from a
// dispatcher goroutine and must not block for long.
type ResultFn func(Result)

// DispatcherMetrics records delivery outcomes.
type DispatcherMetrics interface {
	IncDeliveryAttempts(ctx context.Context, channel string)
	IncDeliveriesByOutcome(ctx context.Context, channel string, outcome string)
	ObserveDeliveryDuration(ctx context.Context, channel string, d time.Duration)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithAttemptTimeout overrides the per-attempt HTTP timeout.
func WithAttemptTimeout(d time.Duration) Option {
	return func(ds *Dispatcher) { ds.attemptTimeout = d }
}

// WithMaxAttempts overrides the attempt cap.
func WithMaxAttempts(n int) Option {
	return func(ds *Dispatcher) { ds.maxAttempts = n }
}

// WithInitialBackoff overrides the wait after the first failed attempt.
func WithInitialBackoff(d time.Duration) Option {
	return func(ds *Dispatcher) { ds.initialBackoff = d }
}

// WithHTTPClient substitutes the HTTP client, primarily for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(ds *Dispatcher) { ds.client = c }
}

// WithResultFn registers the terminal-report callback.
func WithResultFn(fn ResultFn) Option {
	return func(ds *Dispatcher) { ds.resultFn = fn }
}

// Dispatcher sends webhook notifications asynchronously. Each accepted
// delivery runs on its own goroutine with per-endpoint rate limiting and
// exponential backoff between attempts. The dispatcher owns the lifecycle of
// in-flight deliveries: cancelling the caller's context does not cancel a
// delivery already accepted, only Shutdown does.
type Dispatcher struct {
	attemptTimeout time.Duration
	maxAttempts    int
	initialBackoff time.Duration

	client   *http.Client
	limiter  *common.KeyedRateLimiter
	resultFn ResultFn

	logger  *logger.Logger
	metrics DispatcherMetrics
	tracer  trace.Tracer

	lifecycleCtx context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewDispatcher creates a Dispatcher with the given per-endpoint rate limiter.
func NewDispatcher(
	limiter *common.KeyedRateLimiter,
	logger *logger.Logger,
	metrics DispatcherMetrics,
	tracer trace.Tracer,
	opts ...Option,
) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		attemptTimeout: defaultAttemptTimeout,
		maxAttempts:    defaultMaxAttempts,
		initialBackoff: defaultInitialBackoff,
		client:         &http.Client{},
		limiter:        limiter,
		logger:         logger.With("component", "webhook_dispatcher"),
		metrics:        metrics,
		tracer:         tracer,
		lifecycleCtx:   ctx,
		cancel:         cancel,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ErrDispatcherClosed is returned by Dispatch after Shutdown.
var ErrDispatcherClosed = fmt.Errorf("webhook dispatcher is shut down")

// Dispatch accepts a delivery and returns immediately. The delivery proceeds
// on a dispatcher goroutine; its outcome is reported through the result
// callback.
func (d *Dispatcher) Dispatch(ctx context.Context, delivery Delivery) error {
	_, span := d.tracer.Start(ctx, "webhook_dispatcher.dispatch",
		trace.WithAttributes(
			attribute.String("channel", delivery.Channel),
			attribute.String("url", delivery.URL),
		))
	defer span.End()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		span.SetStatus(codes.Error, "dispatcher closed")
		return ErrDispatcherClosed
	}
	d.wg.Add(1)
	d.mu.Unlock()

	span.AddEvent("delivery_accepted")

	go func() {
		defer d.wg.Done()
		d.deliver(delivery)
	}()

	return nil
}

// Shutdown stops accepting deliveries and waits for in-flight ones to reach a
// terminal report. If ctx expires first, remaining deliveries are cancelled;
// they still report, as abandoned.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		return fmt.Errorf("waiting for in-flight deliveries: %w", ctx.Err())
	}
}

// deliver runs the attempt loop for one delivery and emits its terminal report.
func (d *Dispatcher) deliver(delivery Delivery) {
	ctx, span := d.tracer.Start(d.lifecycleCtx, "webhook_dispatcher.deliver",
		trace.WithAttributes(
			attribute.String("channel", delivery.Channel),
			attribute.String("url", delivery.URL),
		))
	defer span.End()

	start := time.Now()

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = d.initialBackoff
	expBackoff.RandomizationFactor = 0
	expBackoff.Multiplier = 2
	expBackoff.MaxInterval = defaultMaxBackoff
	expBackoff.MaxElapsedTime = 0
	expBackoff.Reset()

	var lastErr error
	var attempts int

loop:
	for attempts < d.maxAttempts {
		if err := d.limiter.Wait(ctx, delivery.URL); err != nil {
			lastErr = fmt.Errorf("rate limit wait: %w", err)
			break
		}

		attempts++
		if d.metrics != nil {
			d.metrics.IncDeliveryAttempts(ctx, delivery.Channel)
		}
		span.AddEvent("attempt", trace.WithAttributes(attribute.Int("number", attempts)))

		lastErr = d.attempt(ctx, delivery)
		if lastErr == nil {
			span.AddEvent("delivered", trace.WithAttributes(attribute.Int("attempts", attempts)))
			span.SetStatus(codes.Ok, "delivered")
			d.report(ctx, Result{Delivery: delivery, Outcome: OutcomeDelivered, Attempts: attempts}, time.Since(start))
			return
		}

		d.logger.Warn(ctx, "Webhook attempt failed",
			"channel", delivery.Channel,
			"url", delivery.URL,
			"attempt", attempts,
			"error", lastErr,
		)

		if attempts == d.maxAttempts {
			break
		}

		select {
		case <-time.After(expBackoff.NextBackOff()):
		case <-ctx.Done():
			lastErr = fmt.Errorf("delivery cancelled: %w", ctx.Err())
			break loop
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "delivery abandoned")
	d.report(ctx, Result{
		Delivery: delivery,
		Outcome:  OutcomeAbandoned,
		Attempts: attempts,
		Err:      lastErr,
	}, time.Since(start))
}

// attempt performs a single HTTP POST bounded by the attempt timeout. Any
// non-2xx response is an error.
func (d *Dispatcher) attempt(ctx context.Context, delivery Delivery) error {
	attemptCtx, cancel := context.WithTimeout(ctx, d.attemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, delivery.URL, bytes.NewReader(delivery.Payload))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

func (d *Dispatcher) report(ctx context.Context, result Result, elapsed time.Duration) {
	if d.metrics != nil {
		d.metrics.IncDeliveriesByOutcome(ctx, result.Delivery.Channel, string(result.Outcome))
		d.metrics.ObserveDeliveryDuration(ctx, result.Delivery.Channel, elapsed)
	}

	if result.Outcome == OutcomeAbandoned {
		d.logger.Error(ctx, "Webhook delivery abandoned",
			"channel", result.Delivery.Channel,
			"url", result.Delivery.URL,
			"attempts", result.Attempts,
			"error", result.Err,
		)
	}

	if d.resultFn != nil {
		d.resultFn(result)
	}
}
