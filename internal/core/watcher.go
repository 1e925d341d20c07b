package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"freebooter/internal/middleware"
	"freebooter/internal/storage"
	"freebooter/internal/types"
)

type WatcherState int32

const (
	StateIdle WatcherState = iota
	StatePolling
	StateEmitting
	StateStopped
)

func (s WatcherState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateEmitting:
		return "emitting"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("WatcherState(%d)", int32(s))
	}
}

type WatcherOptions struct {
	Source       types.Source
	Chain        *middleware.Chain
	Ledger       storage.LedgerStore
	Cursors      storage.CursorStore
	Interval     time.Duration
	Copy         bool
	Backtrack    bool
	RetryCount   int
	RetryBackoff time.Duration
	Logger       *slog.Logger
	Metrics      *Metrics
}

// WatcherRuntime polls one source on its own schedule, deduplicates what it
// finds against the ledger and hands new items to the engine.
type WatcherRuntime struct {
	source       types.Source
	chain        *middleware.Chain
	ledger       storage.LedgerStore
	cursors      storage.CursorStore
	interval     time.Duration
	retryCount   int
	retryBackoff time.Duration
	logger       *slog.Logger
	metrics      *Metrics
	deliver      func(context.Context, *types.MediaItem)

	state atomic.Int32

	// copy and backtrack apply until the first successful cycle.
	flagsMu   sync.Mutex
	copyMode  bool
	backtrack bool
	primed    bool
}

func NewWatcherRuntime(opts WatcherOptions) *WatcherRuntime {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	if opts.Chain == nil {
		opts.Chain = middleware.New(opts.Source.Name(), opts.Logger)
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 2 * time.Second
	}

	return &WatcherRuntime{
		source:       opts.Source,
		chain:        opts.Chain,
		ledger:       opts.Ledger,
		cursors:      opts.Cursors,
		interval:     opts.Interval,
		retryCount:   max(opts.RetryCount, 0),
		retryBackoff: opts.RetryBackoff,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		copyMode:     opts.Copy,
		backtrack:    opts.Backtrack,
		deliver: func(ctx context.Context, item *types.MediaItem) {
			item.Release()
		},
	}
}

func (w *WatcherRuntime) Name() string {
	return w.source.Name()
}

func (w *WatcherRuntime) String() string {
	return "watcher " + w.Name()
}

func (w *WatcherRuntime) Source() types.Source {
	return w.source
}

func (w *WatcherRuntime) Chain() *middleware.Chain {
	return w.chain
}

func (w *WatcherRuntime) State() WatcherState {
	return WatcherState(w.state.Load())
}

func (w *WatcherRuntime) setState(s WatcherState) {
	w.state.Store(int32(s))
}

func (w *WatcherRuntime) flags() (copyMode, backtrack bool) {
	w.flagsMu.Lock()
	defer w.flagsMu.Unlock()
	return w.copyMode, w.backtrack
}

func (w *WatcherRuntime) clearFlags() {
	w.flagsMu.Lock()
	defer w.flagsMu.Unlock()
	w.copyMode = false
	w.backtrack = false
	w.primed = true
}

func (w *WatcherRuntime) isPrimed() bool {
	w.flagsMu.Lock()
	defer w.flagsMu.Unlock()
	return w.primed
}

// Serve runs cycles until ctx is cancelled, sleeping out the rest of the
// interval between them. A failed cycle never stops the loop.
func (w *WatcherRuntime) Serve(ctx context.Context) error {
	defer w.setState(StateStopped)

	for {
		start := time.Now()
		if err := w.Cycle(ctx); err != nil && ctx.Err() == nil {
			w.logger.Warn("Watcher degraded, will retry next interval", "interval", w.interval, "error", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		wait := w.interval - time.Since(start)
		if wait <= 0 {
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Cycle performs one poll and emits every new candidate in discovery order.
func (w *WatcherRuntime) Cycle(ctx context.Context) error {
	defer w.setState(StateIdle)
	w.setState(StatePolling)

	var cursor *types.Cursor
	if w.cursors != nil {
		c, err := w.cursors.Cursor(ctx, w.Name())
		if err != nil {
			w.logger.Warn("Failed to load cursor", "error", err)
		}
		cursor = c
	}

	candidates, err := w.poll(ctx, cursor)
	if err != nil {
		w.metrics.pollFailures.WithLabelValues(w.Name()).Inc()
		w.logger.Error("Poll failed", "error", err)
		return err
	}

	w.setState(StateEmitting)
	now := time.Now()
	for i := range candidates {
		if candidates[i].Err == nil && candidates[i].CreatedAt.IsZero() {
			candidates[i].CreatedAt = now
		}
	}

	copyMode, backtrack := w.flags()
	if backtrack {
		slices.SortStableFunc(candidates, func(a, b types.Candidate) int {
			return a.CreatedAt.Compare(b.CreatedAt)
		})
	}

	// Without a cursor and without backtracking a watcher starts at its
	// newest item. Everything older is recorded but never emitted.
	start, seeding := cursor, false
	if !backtrack && cursor == nil && !w.isPrimed() {
		if c := newestCandidate(candidates); c != nil {
			start = &types.Cursor{ItemID: c.ItemID, SeenAt: c.CreatedAt}
			seeding = true
		}
	}

	w.logger.Debug("Poll finished", "candidates", len(candidates), "copy", copyMode, "backtrack", backtrack)

	for i := range candidates {
		c := &candidates[i]
		if ctx.Err() != nil {
			releaseCandidates(candidates[i:])
			return ctx.Err()
		}

		w.metrics.discovered.WithLabelValues(w.Name()).Inc()
		w.handle(ctx, *c, start, copyMode, backtrack, seeding)
	}
	newest := newestCandidate(candidates)

	if newest != nil && w.cursors != nil && (cursor == nil || newest.CreatedAt.After(cursor.SeenAt)) {
		next := types.Cursor{ItemID: newest.ItemID, SeenAt: newest.CreatedAt}
		if err := w.cursors.SaveCursor(ctx, w.Name(), next); err != nil {
			w.logger.Warn("Failed to save cursor", "error", err)
		}
	}

	w.clearFlags()
	return nil
}

// poll collects one poll's candidates, retrying the whole poll with
// exponential backoff.
func (w *WatcherRuntime) poll(ctx context.Context, cursor *types.Cursor) ([]types.Candidate, error) {
	attempts := 0
	operation := func() ([]types.Candidate, error) {
		attempts++
		return w.collect(ctx, cursor)
	}
	notify := func(err error, wait time.Duration) {
		w.logger.Warn("Poll attempt failed, retrying", "attempt", attempts, "max_attempts", w.retryCount+1, "wait_duration", wait, "error", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.retryBackoff
	b.MaxElapsedTime = 0
	b.Reset()

	candidates, err := backoff.RetryNotifyWithData(operation, backoff.WithContext(backoff.WithMaxRetries(b, uint64(w.retryCount)), ctx), notify)
	if err != nil {
		return nil, &types.PollError{Source: w.Name(), Attempts: attempts, Err: err}
	}
	return candidates, nil
}

func (w *WatcherRuntime) collect(ctx context.Context, cursor *types.Cursor) ([]types.Candidate, error) {
	candidateCh, errCh := w.source.Candidates(ctx, cursor)

	var candidates []types.Candidate
	var pollErr error
	for candidateCh != nil || errCh != nil {
		select {
		case <-ctx.Done():
			releaseCandidates(candidates)
			return nil, backoff.Permanent(ctx.Err())
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil && pollErr == nil {
				pollErr = err
			}
		case c, ok := <-candidateCh:
			if !ok {
				candidateCh = nil
				continue
			}
			candidates = append(candidates, c)
		}
	}

	if pollErr != nil {
		releaseCandidates(candidates)
		return nil, pollErr
	}
	return candidates, nil
}

func (w *WatcherRuntime) handle(ctx context.Context, c types.Candidate, cursor *types.Cursor, copyMode, backtrack, seeding bool) {
	logger := w.logger.With("item_id", c.ItemID)
	skip := func(reason string) {
		w.metrics.skipped.WithLabelValues(w.Name(), reason).Inc()
		if c.Payload != nil {
			c.Payload.Release()
		}
	}

	if c.Err != nil {
		logger.Warn("Skipping candidate", "error", &types.AdapterError{Source: w.Name(), ItemID: c.ItemID, Err: c.Err})
		skip("adapter_error")
		return
	}

	if !backtrack && cursor != nil && c.CreatedAt.Before(cursor.SeenAt) {
		logger.Debug("Skipping candidate older than cursor", "created_at", c.CreatedAt, "cursor", cursor.SeenAt)
		if seeding {
			if err := w.ledger.MarkHandled(ctx, w.Name(), c.ItemID, time.Now()); err != nil && !errors.Is(err, types.ErrConflict) {
				logger.Warn("Failed to record skipped item in ledger", "error", err)
			}
		}
		skip("before_cursor")
		return
	}

	if !copyMode {
		handled, err := w.ledger.HasHandled(ctx, w.Name(), c.ItemID)
		if err != nil {
			logger.Error("Failed to check ledger", "error", err)
			skip("ledger_error")
			return
		}
		if handled {
			skip("handled")
			return
		}
	}

	if err := w.ledger.MarkHandled(ctx, w.Name(), c.ItemID, time.Now()); err != nil {
		switch {
		case errors.Is(err, types.ErrConflict) && copyMode:
		case errors.Is(err, types.ErrConflict):
			logger.Debug("Item was handled concurrently, skipping")
			skip("conflict")
			return
		default:
			logger.Error("Failed to record item in ledger", "error", err)
			skip("ledger_error")
			return
		}
	}

	item := &types.MediaItem{
		SourceName: w.Name(),
		ItemID:     c.ItemID,
		Filename:   c.Filename,
		Link:       c.Link,
		MediaType:  c.MediaType,
		Payload:    c.Payload,
		Metadata:   c.Metadata,
		CreatedAt:  c.CreatedAt,
		Handled:    true,
	}

	passed, filtered, err := w.chain.Execute(ctx, item)
	for _, f := range filtered {
		f.Release()
	}
	if err != nil {
		logger.Warn("Watcher preprocessing failed", "error", err)
	}

	for _, out := range passed {
		w.metrics.emitted.WithLabelValues(w.Name()).Inc()
		logger.Debug("Emitting item", "item", out.Key())
		w.deliver(ctx, out)
	}
}

// newestCandidate returns the latest valid candidate, the first one on ties.
func newestCandidate(candidates []types.Candidate) *types.Candidate {
	var newest *types.Candidate
	for i := range candidates {
		c := &candidates[i]
		if c.Err == nil && (newest == nil || c.CreatedAt.After(newest.CreatedAt)) {
			newest = c
		}
	}
	return newest
}

func releaseCandidates(candidates []types.Candidate) {
	for _, c := range candidates {
		if c.Payload != nil {
			c.Payload.Release()
		}
	}
}
