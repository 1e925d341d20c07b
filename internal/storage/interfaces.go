package storage

import (
	"context"
	"time"

	"freebooter/internal/types"
)

type StorageInterface interface {
	Ledger() LedgerStore
	Cursors() CursorStore
	Feed() FeedStore
	Close(ctx context.Context) error
}

type LedgerEntry struct {
	Source    string
	ItemID    string
	HandledAt time.Time
}

type SourceSummary struct {
	Source      string
	Count       int64
	LastHandled time.Time
}

// LedgerStore records which (source, item) pairs have been handled. Entries are
// only ever inserted; MarkHandled fails with types.ErrConflict when the pair exists.
type LedgerStore interface {
	HasHandled(ctx context.Context, source, itemID string) (bool, error)
	MarkHandled(ctx context.Context, source, itemID string, at time.Time) error
	History(ctx context.Context, source string, limit int) ([]LedgerEntry, error)
	Sources(ctx context.Context) ([]SourceSummary, error)
}

// CursorStore keeps the newest item each watcher has seen. Cursor returns nil
// when the watcher has never completed a poll.
type CursorStore interface {
	Cursor(ctx context.Context, source string) (*types.Cursor, error)
	SaveCursor(ctx context.Context, source string, cursor types.Cursor) error
}

type FeedEntry struct {
	ID          string
	Feed        string
	Title       string
	Link        string
	Description string
	Source      string
	MediaURL    string
	MediaType   string
	MediaLength int64
	PublishedAt time.Time
	CreatedAt   time.Time
}

type FeedStore interface {
	InsertEntry(ctx context.Context, entry FeedEntry) error
	ListRecentEntries(ctx context.Context, feed string, limit int) ([]FeedEntry, error)
	DeleteOlderThan(ctx context.Context, age time.Duration) error
}
