package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freebooter/internal/media"
	"freebooter/internal/middleware"
	"freebooter/internal/processors"
	"freebooter/internal/types"
)

func newUploader(t *testing.T, sink *fakeSink, opts UploaderOptions) *UploaderRuntime {
	t.Helper()
	opts.Sink = sink
	if opts.RetryBackoff == 0 {
		opts.RetryBackoff = time.Millisecond
	}
	u := NewUploaderRuntime(opts)
	require.NoError(t, u.Start(context.Background()))
	t.Cleanup(func() { u.Drain(time.Second) })
	return u
}

func newItem(id string) *types.MediaItem {
	return &types.MediaItem{SourceName: "w", ItemID: id, Payload: media.Empty()}
}

func TestUploaderPublishesAndReleases(t *testing.T) {
	sink := &fakeSink{name: "out"}
	u := newUploader(t, sink, UploaderOptions{})
	ctx := context.Background()

	item := newItem("1")
	require.NoError(t, u.Accept(ctx, item))
	require.NoError(t, u.Wait(ctx))

	require.Len(t, sink.Published(), 1)
	assert.True(t, item.Payload.Released())
}

func TestUploaderRetriesRetryableErrors(t *testing.T) {
	sink := &fakeSink{name: "out", errs: []error{
		types.NewRetryable("out", errors.New("503")),
		types.NewRetryable("out", errors.New("503")),
	}}
	u := newUploader(t, sink, UploaderOptions{RetryCount: 3})
	ctx := context.Background()

	require.NoError(t, u.Accept(ctx, newItem("1")))
	require.NoError(t, u.Wait(ctx))

	assert.Equal(t, 3, sink.Calls())
	assert.Len(t, sink.Published(), 1)
}

func TestUploaderGivesUpAfterRetryCount(t *testing.T) {
	sink := &fakeSink{name: "out", errs: []error{
		errors.New("timeout"), errors.New("timeout"), errors.New("timeout"),
	}}
	u := newUploader(t, sink, UploaderOptions{RetryCount: 1})
	ctx := context.Background()

	item := newItem("1")
	require.NoError(t, u.Accept(ctx, item))
	require.NoError(t, u.Wait(ctx))

	assert.Equal(t, 2, sink.Calls())
	assert.Empty(t, sink.Published())
	assert.True(t, item.Payload.Released())
}

func TestUploaderPermanentErrorIsNotRetried(t *testing.T) {
	sink := &fakeSink{name: "out", errs: []error{types.NewPermanent("out", errors.New("400 bad request"))}}
	u := newUploader(t, sink, UploaderOptions{RetryCount: 5})
	ctx := context.Background()

	require.NoError(t, u.Accept(ctx, newItem("1")))
	require.NoError(t, u.Wait(ctx))

	assert.Equal(t, 1, sink.Calls())
	assert.Empty(t, sink.Published())
}

func TestUploaderHonoursRetryAfter(t *testing.T) {
	sink := &fakeSink{name: "out", errs: []error{
		types.NewRetryable("out", errors.New("429")).WithRetryAfter(80 * time.Millisecond),
	}}
	u := newUploader(t, sink, UploaderOptions{RetryCount: 1})
	ctx := context.Background()

	require.NoError(t, u.Accept(ctx, newItem("1")))
	require.NoError(t, u.Wait(ctx))

	require.Len(t, sink.callTimes, 2)
	assert.GreaterOrEqual(t, sink.callTimes[1].Sub(sink.callTimes[0]), 70*time.Millisecond)
}

func TestUploaderPrivateChainAndSentinels(t *testing.T) {
	sink := &fakeSink{name: "out"}
	chain := middleware.New("out", nil, processors.NewIgnorer("out-ignore", 1, nil))
	u := newUploader(t, sink, UploaderOptions{Chain: chain})
	ctx := context.Background()

	ignored := newItem("1")
	require.NoError(t, u.Accept(ctx, ignored))
	assert.True(t, ignored.Payload.Released(), "the branch owner releases filtered items")

	plain := newUploader(t, &fakeSink{name: "plain"}, UploaderOptions{})
	tick := &types.MediaItem{SourceName: "pusher", ItemID: "t", Sentinel: true, Payload: media.Empty()}
	require.NoError(t, plain.Accept(ctx, tick))
	require.NoError(t, plain.Wait(ctx))
	assert.Zero(t, plain.Stats().Submitted)

	require.NoError(t, u.Wait(ctx))
	assert.Zero(t, sink.Calls())
}
