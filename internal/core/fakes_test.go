package core

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"freebooter/internal/media"
	"freebooter/internal/storage"
	"freebooter/internal/storage/sqlite"
	"freebooter/internal/types"
)

// fakeSource yields whatever batch returns on each poll. The first failures
// polls fail as if the source were unreachable.
type fakeSource struct {
	name  string
	batch func(poll int) []types.Candidate

	mu       sync.Mutex
	polls    int
	failures int
	cursors  []*types.Cursor
}

func (s *fakeSource) Name() string                         { return s.name }
func (s *fakeSource) Initialize(ctx context.Context) error { return nil }
func (s *fakeSource) Shutdown(ctx context.Context) error   { return nil }

func (s *fakeSource) Candidates(ctx context.Context, cursor *types.Cursor) (<-chan types.Candidate, <-chan error) {
	out := make(chan types.Candidate)
	errc := make(chan error, 1)

	s.mu.Lock()
	s.polls++
	poll := s.polls
	s.cursors = append(s.cursors, cursor)
	fail := s.failures > 0
	if fail {
		s.failures--
	}
	s.mu.Unlock()

	go func() {
		defer close(out)
		defer close(errc)
		if fail {
			errc <- errors.New("source unreachable")
			return
		}
		for _, c := range s.batch(poll) {
			if c.Payload == nil && c.Err == nil {
				c.Payload = media.Empty()
			}
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, errc
}

func (s *fakeSource) Polls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls
}

// fakeSink records published items. Queued errors are returned before any
// publish succeeds.
type fakeSink struct {
	name string

	mu        sync.Mutex
	errs      []error
	calls     int
	published []*types.MediaItem
	callTimes []time.Time
}

func (s *fakeSink) Name() string                         { return s.name }
func (s *fakeSink) Initialize(ctx context.Context) error { return nil }
func (s *fakeSink) Shutdown(ctx context.Context) error   { return nil }

func (s *fakeSink) Publish(ctx context.Context, item *types.MediaItem) (*types.PublishResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.callTimes = append(s.callTimes, time.Now())
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return nil, err
	}
	s.published = append(s.published, item)
	return &types.PublishResult{RemoteID: item.ItemID, Timestamp: time.Now()}, nil
}

func (s *fakeSink) Published() []*types.MediaItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*types.MediaItem(nil), s.published...)
}

func (s *fakeSink) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newStore(t *testing.T) storage.StorageInterface {
	t.Helper()
	store, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close(context.Background()) })
	return store
}

func candidate(id string, at time.Time) types.Candidate {
	return types.Candidate{
		ItemID:    id,
		Filename:  id + ".jpg",
		MediaType: types.MediaPhoto,
		CreatedAt: at,
		Metadata:  types.Metadata{types.DefaultPlatform: {Title: types.Some(id)}},
	}
}

// collect records what a watcher or pusher delivers.
type collected struct {
	mu    sync.Mutex
	items []*types.MediaItem
}

func (c *collected) deliver(ctx context.Context, item *types.MediaItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, item)
}

func (c *collected) IDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, len(c.items))
	for i, item := range c.items {
		ids[i] = item.ItemID
	}
	return ids
}
