package core

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freebooter/internal/middleware"
	"freebooter/internal/processors"
	"freebooter/internal/types"
)

func newWatcher(t *testing.T, src *fakeSource, opts WatcherOptions) (*WatcherRuntime, *collected) {
	t.Helper()
	store := newStore(t)
	opts.Source = src
	if opts.Ledger == nil {
		opts.Ledger = store.Ledger()
	}
	if opts.Cursors == nil {
		opts.Cursors = store.Cursors()
	}
	if opts.RetryBackoff == 0 {
		opts.RetryBackoff = time.Millisecond
	}
	w := NewWatcherRuntime(opts)
	got := &collected{}
	w.deliver = got.deliver
	return w, got
}

func TestWatcherForwardsEachItemOnce(t *testing.T) {
	now := time.Now()
	src := &fakeSource{name: "photos", batch: func(int) []types.Candidate {
		return []types.Candidate{candidate("a", now), candidate("b", now)}
	}}
	w, got := newWatcher(t, src, WatcherOptions{})
	ctx := context.Background()

	require.NoError(t, w.Cycle(ctx))
	require.NoError(t, w.Cycle(ctx))
	require.NoError(t, w.Cycle(ctx))

	assert.Equal(t, []string{"a", "b"}, got.IDs())
	for _, item := range got.items {
		assert.True(t, item.Handled)
		assert.Equal(t, "photos/"+item.ItemID, item.Key())
	}
	assert.Equal(t, StateIdle, w.State())
}

func TestWatcherConcurrentPollsEmitOnce(t *testing.T) {
	now := time.Now()
	store := newStore(t)
	batch := func(int) []types.Candidate { return []types.Candidate{candidate("same", now)} }

	got := &collected{}
	var watchers []*WatcherRuntime
	for i := 0; i < 4; i++ {
		w := NewWatcherRuntime(WatcherOptions{
			Source: &fakeSource{name: "shared", batch: batch},
			Ledger: store.Ledger(),
		})
		w.deliver = got.deliver
		watchers = append(watchers, w)
	}

	done := make(chan struct{})
	for _, w := range watchers {
		go func() {
			defer func() { done <- struct{}{} }()
			w.Cycle(context.Background())
		}()
	}
	for range watchers {
		<-done
	}

	assert.Equal(t, []string{"same"}, got.IDs())
}

func TestWatcherCursorFiltersOlderItems(t *testing.T) {
	base := time.Now().Add(-time.Hour)
	src := &fakeSource{name: "feed", batch: func(poll int) []types.Candidate {
		if poll == 1 {
			return []types.Candidate{candidate("new", base)}
		}
		// an unseen item dated before the cursor shows up late
		return []types.Candidate{candidate("old", base.Add(-time.Minute)), candidate("newer", base.Add(time.Minute))}
	}}
	w, got := newWatcher(t, src, WatcherOptions{})
	ctx := context.Background()

	require.NoError(t, w.Cycle(ctx))
	require.NoError(t, w.Cycle(ctx))

	assert.Equal(t, []string{"new", "newer"}, got.IDs())
	require.Len(t, src.cursors, 2)
	assert.Nil(t, src.cursors[0])
	require.NotNil(t, src.cursors[1])
	assert.Equal(t, "new", src.cursors[1].ItemID)
}

func TestNewWatcherStartsAtNewestItem(t *testing.T) {
	now := time.Now()
	store := newStore(t)
	ctx := context.Background()
	src := &fakeSource{name: "feed", batch: func(poll int) []types.Candidate {
		history := []types.Candidate{
			candidate("old1", now.Add(-72*time.Hour)),
			candidate("newest", now.Add(-70*time.Hour)),
			candidate("old2", now.Add(-71*time.Hour)),
		}
		if poll == 1 {
			return history
		}
		return append(history, candidate("fresh", now))
	}}
	w, got := newWatcher(t, src, WatcherOptions{Ledger: store.Ledger(), Cursors: store.Cursors()})

	require.NoError(t, w.Cycle(ctx))
	assert.Equal(t, []string{"newest"}, got.IDs())
	assert.Equal(t, 2.0, testutil.ToFloat64(w.metrics.skipped.WithLabelValues("feed", "before_cursor")))

	for _, id := range []string{"old1", "old2", "newest"} {
		handled, err := store.Ledger().HasHandled(ctx, "feed", id)
		require.NoError(t, err)
		assert.True(t, handled, id)
	}

	cursor, err := store.Cursors().Cursor(ctx, "feed")
	require.NoError(t, err)
	require.NotNil(t, cursor)
	assert.Equal(t, "newest", cursor.ItemID)

	require.NoError(t, w.Cycle(ctx))
	assert.Equal(t, []string{"newest", "fresh"}, got.IDs())
}

func TestWatcherEmptyFirstPollDoesNotSeed(t *testing.T) {
	now := time.Now()
	src := &fakeSource{name: "feed", batch: func(poll int) []types.Candidate {
		if poll == 1 {
			return nil
		}
		return []types.Candidate{candidate("a", now.Add(-time.Minute)), candidate("b", now)}
	}}
	w, got := newWatcher(t, src, WatcherOptions{})
	ctx := context.Background()

	require.NoError(t, w.Cycle(ctx))
	require.NoError(t, w.Cycle(ctx))
	assert.Equal(t, []string{"a", "b"}, got.IDs())
}

func TestWatcherCursorAdvancesWithoutTimestamps(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	src := &fakeSource{name: "chat", batch: func(int) []types.Candidate {
		return []types.Candidate{candidate("a", time.Time{})}
	}}
	w, got := newWatcher(t, src, WatcherOptions{Ledger: store.Ledger(), Cursors: store.Cursors()})

	require.NoError(t, w.Cycle(ctx))
	assert.Equal(t, []string{"a"}, got.IDs())
	assert.False(t, got.items[0].CreatedAt.IsZero())

	cursor, err := store.Cursors().Cursor(ctx, "chat")
	require.NoError(t, err)
	require.NotNil(t, cursor)
	assert.Equal(t, "a", cursor.ItemID)
	assert.False(t, cursor.SeenAt.IsZero())
}

func TestWatcherBacktrackReplaysOldestFirstOnce(t *testing.T) {
	base := time.Now().Add(-time.Hour)
	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.Cursors().SaveCursor(ctx, "feed", types.Cursor{ItemID: "c", SeenAt: base.Add(time.Hour)}))

	src := &fakeSource{name: "feed", batch: func(int) []types.Candidate {
		return []types.Candidate{candidate("c", base.Add(2*time.Minute)), candidate("a", base), candidate("b", base.Add(time.Minute))}
	}}
	w, got := newWatcher(t, src, WatcherOptions{Backtrack: true, Ledger: store.Ledger(), Cursors: store.Cursors()})

	require.NoError(t, w.Cycle(ctx))
	assert.Equal(t, []string{"a", "b", "c"}, got.IDs())

	_, backtrack := w.flags()
	assert.False(t, backtrack, "backtrack is one-shot")
}

func TestWatcherCopyModeRedeliversAndStillRecords(t *testing.T) {
	now := time.Now()
	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.Ledger().MarkHandled(ctx, "photos", "a", now))

	src := &fakeSource{name: "photos", batch: func(int) []types.Candidate {
		return []types.Candidate{candidate("a", now), candidate("b", now)}
	}}
	w, got := newWatcher(t, src, WatcherOptions{Copy: true, Ledger: store.Ledger(), Cursors: store.Cursors()})

	require.NoError(t, w.Cycle(ctx))
	assert.Equal(t, []string{"a", "b"}, got.IDs())

	handled, err := store.Ledger().HasHandled(ctx, "photos", "b")
	require.NoError(t, err)
	assert.True(t, handled)

	require.NoError(t, w.Cycle(ctx))
	assert.Equal(t, []string{"a", "b"}, got.IDs(), "copy mode ends after the first cycle")
}

func TestWatcherSkipsAdapterErrors(t *testing.T) {
	now := time.Now()
	src := &fakeSource{name: "photos", batch: func(int) []types.Candidate {
		return []types.Candidate{
			{ItemID: "broken", Err: assert.AnError},
			candidate("ok", now),
		}
	}}
	w, got := newWatcher(t, src, WatcherOptions{})

	require.NoError(t, w.Cycle(context.Background()))
	assert.Equal(t, []string{"ok"}, got.IDs())
}

func TestWatcherRetriesPollThenRecovers(t *testing.T) {
	now := time.Now()
	src := &fakeSource{name: "flaky", failures: 2, batch: func(int) []types.Candidate {
		return []types.Candidate{candidate("a", now)}
	}}
	w, got := newWatcher(t, src, WatcherOptions{RetryCount: 3})

	require.NoError(t, w.Cycle(context.Background()))
	assert.Equal(t, 3, src.Polls())
	assert.Equal(t, []string{"a"}, got.IDs())
}

func TestWatcherPollErrorAfterRetries(t *testing.T) {
	now := time.Now()
	src := &fakeSource{name: "down", failures: 4, batch: func(int) []types.Candidate {
		return []types.Candidate{candidate("a", now)}
	}}
	w, got := newWatcher(t, src, WatcherOptions{RetryCount: 1, Copy: true})

	err := w.Cycle(context.Background())
	var pollErr *types.PollError
	require.ErrorAs(t, err, &pollErr)
	assert.Equal(t, 2, pollErr.Attempts)
	assert.Empty(t, got.IDs())

	copyMode, _ := w.flags()
	assert.True(t, copyMode, "flags survive a failed cycle")

	// still scheduled: the next cycle uses up the remaining failures
	require.Error(t, w.Cycle(context.Background()))
	require.NoError(t, w.Cycle(context.Background()))
	assert.Equal(t, []string{"a"}, got.IDs())
}

func TestWatcherPrivateChainAndRelease(t *testing.T) {
	now := time.Now()
	src := &fakeSource{name: "photos", batch: func(int) []types.Candidate {
		return []types.Candidate{candidate("a", now)}
	}}
	ignorer := processors.NewIgnorer("photos-ignore", 1, nil)
	w, got := newWatcher(t, src, WatcherOptions{Chain: middleware.New("photos", nil, ignorer)})

	require.NoError(t, w.Cycle(context.Background()))
	assert.Empty(t, got.IDs())
}

func TestWatcherServeStopsOnCancel(t *testing.T) {
	src := &fakeSource{name: "photos", batch: func(int) []types.Candidate { return nil }}
	w, _ := newWatcher(t, src, WatcherOptions{Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Serve(ctx) }()

	require.Eventually(t, func() bool { return src.Polls() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
	assert.Equal(t, StateStopped, w.State())
}
