package core

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolProcessesAndWaits(t *testing.T) {
	var sum atomic.Int64
	p := NewPool(3, 10, func(ctx context.Context, n int) error {
		sum.Add(int64(n))
		return nil
	})
	ctx := context.Background()

	require.ErrorIs(t, p.Submit(ctx, 1), ErrPoolNotStarted)
	require.NoError(t, p.Start(ctx))
	require.ErrorIs(t, p.Start(ctx), ErrPoolAlreadyStarted)

	for i := 1; i <= 10; i++ {
		require.NoError(t, p.Submit(ctx, i))
	}
	require.NoError(t, p.Wait(ctx))
	assert.Equal(t, int64(55), sum.Load())

	require.NoError(t, p.Stop(time.Second))
	assert.ErrorIs(t, p.Submit(ctx, 1), ErrPoolStopped)

	stats := p.Stats()
	assert.Equal(t, int64(10), stats.Submitted)
	assert.Equal(t, int64(10), stats.Processed)
}

func TestPoolSubmitBlocksWhenFull(t *testing.T) {
	release := make(chan struct{})
	p := NewPool(1, 1, func(ctx context.Context, n int) error {
		<-release
		return nil
	})
	require.NoError(t, p.Start(context.Background()))

	require.NoError(t, p.Submit(context.Background(), 1)) // taken by the worker
	require.Eventually(t, func() bool { return p.Stats().QueueDepth == 0 }, time.Second, time.Millisecond)
	require.NoError(t, p.Submit(context.Background(), 2)) // fills the queue

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Submit(ctx, 3), context.DeadlineExceeded)

	close(release)
	require.NoError(t, p.Stop(time.Second))
}

func TestPoolSubmitPrefersFreeSlotOverCancelledContext(t *testing.T) {
	var processed atomic.Int32
	p := NewPool(1, 64, func(ctx context.Context, n int) error {
		processed.Add(1)
		return nil
	})
	require.NoError(t, p.Start(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 50; i++ {
		require.NoError(t, p.Submit(ctx, i), "submit %d", i)
	}

	require.NoError(t, p.Wait(context.Background()))
	assert.Equal(t, int32(50), processed.Load())
	require.NoError(t, p.Stop(time.Second))
}

func TestPoolStopTimeoutDiscardsQueued(t *testing.T) {
	var discarded atomic.Int32
	block := make(chan struct{})
	p := NewPool(1, 4, func(ctx context.Context, n int) error {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return ctx.Err()
	}, WithDiscard(func(int) { discarded.Add(1) }))
	require.NoError(t, p.Start(context.Background()))

	for i := 0; i < 3; i++ {
		require.NoError(t, p.Submit(context.Background(), i))
	}
	require.Eventually(t, func() bool { return p.Stats().QueueDepth == 2 }, time.Second, time.Millisecond)

	assert.ErrorIs(t, p.Stop(20*time.Millisecond), ErrStopTimeout)
	require.NoError(t, p.Wait(context.Background()))
	assert.Equal(t, int32(2), discarded.Load())
}
