package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"

	"freebooter/internal/middleware"
	"freebooter/internal/types"
)

type UploaderOptions struct {
	Sink         types.Sink
	Chain        *middleware.Chain
	RetryCount   int
	RetryBackoff time.Duration
	Workers      int
	QueueSize    int
	Logger       *slog.Logger
	Metrics      *Metrics
}

// UploaderRuntime runs an uploader's private chain on the caller's goroutine
// and publishes the survivors from a bounded worker pool.
type UploaderRuntime struct {
	sink         types.Sink
	chain        *middleware.Chain
	retryCount   int
	retryBackoff time.Duration
	logger       *slog.Logger
	metrics      *Metrics

	breaker *gobreaker.CircuitBreaker[*types.PublishResult]
	pool    *Pool[*types.MediaItem]
}

func NewUploaderRuntime(opts UploaderOptions) *UploaderRuntime {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	if opts.Chain == nil {
		opts.Chain = middleware.New(opts.Sink.Name(), opts.Logger)
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 2 * time.Second
	}

	u := &UploaderRuntime{
		sink:         opts.Sink,
		chain:        opts.Chain,
		retryCount:   max(opts.RetryCount, 0),
		retryBackoff: opts.RetryBackoff,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
	}

	u.breaker = gobreaker.NewCircuitBreaker[*types.PublishResult](gobreaker.Settings{
		Name:        opts.Sink.Name(),
		MaxRequests: 1,
		Interval:    5 * time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// a permanent failure is the item's fault, not the platform's
		IsSuccessful: func(err error) bool {
			return err == nil || !types.IsRetryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			u.logger.Warn("Uploader circuit breaker changed state", "from", from.String(), "to", to.String())
		},
	})

	u.pool = NewPool(max(opts.Workers, 1), max(opts.QueueSize, 1), u.publish,
		WithDiscard(func(item *types.MediaItem) {
			u.logger.Warn("Dropping queued item at shutdown", "item", item.Key())
			u.metrics.publish.WithLabelValues(u.Name(), "discarded").Inc()
			u.release(item)
		}),
		WithQueueDepthGauge[*types.MediaItem](opts.Metrics.queueDepth.WithLabelValues(opts.Sink.Name())),
	)

	return u
}

func (u *UploaderRuntime) Name() string {
	return u.sink.Name()
}

func (u *UploaderRuntime) Sink() types.Sink {
	return u.sink
}

func (u *UploaderRuntime) Chain() *middleware.Chain {
	return u.chain
}

// Start launches the publish workers. Starting twice is a no-op.
func (u *UploaderRuntime) Start(ctx context.Context) error {
	if err := u.pool.Start(ctx); err != nil && !errors.Is(err, ErrPoolAlreadyStarted) {
		return err
	}
	return nil
}

// Accept takes ownership of item. It runs the private chain and queues every
// survivor for publishing. Sentinels end here.
func (u *UploaderRuntime) Accept(ctx context.Context, item *types.MediaItem) error {
	passed, filtered, err := u.chain.Execute(ctx, item)
	for _, f := range filtered {
		u.release(f)
	}
	if err != nil {
		u.logger.Warn("Uploader preprocessing failed", "item", item.Key(), "error", err)
	}

	var errs []error
	for _, out := range passed {
		if out.IsSentinel() {
			u.release(out)
			continue
		}
		if submitErr := u.pool.Submit(ctx, out); submitErr != nil {
			u.logger.Error("Failed to queue item for upload", "item", out.Key(), "error", submitErr)
			u.metrics.publish.WithLabelValues(u.Name(), "dropped").Inc()
			u.release(out)
			errs = append(errs, submitErr)
		}
	}
	return errors.Join(errs...)
}

// Wait blocks until every queued upload has finished.
func (u *UploaderRuntime) Wait(ctx context.Context) error {
	return u.pool.Wait(ctx)
}

// Drain stops accepting work and waits up to timeout for queued uploads.
func (u *UploaderRuntime) Drain(timeout time.Duration) error {
	err := u.pool.Stop(timeout)
	if errors.Is(err, ErrStopTimeout) {
		u.logger.Warn("Uploads did not finish before the shutdown timeout", "timeout", timeout)
	}
	return err
}

func (u *UploaderRuntime) Stats() PoolStats {
	return u.pool.Stats()
}

// publish is the worker job. The item's payload is released when it returns.
func (u *UploaderRuntime) publish(ctx context.Context, item *types.MediaItem) error {
	defer u.release(item)

	logger := u.logger.With("item", item.Key())
	logger.Debug("Publishing item")
	start := time.Now()

	policy := &retryAfterBackOff{BackOff: u.newBackOff()}
	attempt := 0

	operation := func() (*types.PublishResult, error) {
		attempt++
		result, err := u.breaker.Execute(func() (*types.PublishResult, error) {
			return u.sink.Publish(ctx, item)
		})
		if err == nil {
			return result, nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, types.NewRetryable(u.Name(), err)
		}
		if !types.IsRetryable(err) {
			return nil, backoff.Permanent(err)
		}

		var pe *types.PublishError
		if errors.As(err, &pe) {
			policy.retryAfter = pe.RetryAfter
		}
		return nil, err
	}

	notify := func(err error, wait time.Duration) {
		logger.Warn("Publish attempt failed, retrying", "attempt", attempt, "max_attempts", u.retryCount+1, "wait_duration", wait, "error", err)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(u.retryCount)), ctx)
	result, err := backoff.RetryNotifyWithData(operation, b, notify)
	u.metrics.publishDuration.WithLabelValues(u.Name()).Observe(time.Since(start).Seconds())

	if err != nil {
		kind := "failed"
		if ctx.Err() != nil {
			kind = "cancelled"
		}
		u.metrics.publish.WithLabelValues(u.Name(), kind).Inc()
		logger.Error("Failed to publish item", "attempts", attempt, "error", err)
		return fmt.Errorf("uploader %s: %w", u.Name(), err)
	}

	u.metrics.publish.WithLabelValues(u.Name(), "success").Inc()
	if attempt > 1 {
		logger.Info("Item published successfully on retry", "attempt", attempt)
	}
	if result != nil {
		logger.Info("Published item", "remote_id", result.RemoteID, "url", result.URL)
	} else {
		logger.Info("Published item")
	}
	return nil
}

func (u *UploaderRuntime) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = u.retryBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0.1
	b.MaxInterval = 10 * time.Minute
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (u *UploaderRuntime) release(item *types.MediaItem) {
	if err := item.Release(); err != nil {
		u.logger.Warn("Failed to release payload", "item", item.Key(), "error", err)
	}
}

// retryAfterBackOff waits at least as long as the platform asked for.
type retryAfterBackOff struct {
	backoff.BackOff
	retryAfter time.Duration
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	next := b.BackOff.NextBackOff()
	if next == backoff.Stop {
		return next
	}
	if b.retryAfter > next {
		next = b.retryAfter
	}
	b.retryAfter = 0
	return next
}
