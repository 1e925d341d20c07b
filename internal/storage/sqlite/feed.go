package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"freebooter/internal/storage"
)

type feedStore struct {
	db *sql.DB
}

func newFeedStore(db *sql.DB) storage.FeedStore {
	return &feedStore{db: db}
}

func (s *feedStore) InsertEntry(ctx context.Context, entry storage.FeedEntry) error {
	query := `
		INSERT INTO feed_entries (id, feed, title, link, description, source, media_url, media_type, media_length, published_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(feed, id) DO NOTHING
	`

	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	publishedAt := entry.PublishedAt
	if publishedAt.IsZero() {
		publishedAt = createdAt
	}

	_, err := s.db.ExecContext(ctx, query,
		entry.ID, entry.Feed, entry.Title, entry.Link, entry.Description, entry.Source,
		entry.MediaURL, entry.MediaType, entry.MediaLength,
		publishedAt.UnixNano(), createdAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert feed entry: %w", err)
	}

	return nil
}

func (s *feedStore) ListRecentEntries(ctx context.Context, feed string, limit int) ([]storage.FeedEntry, error) {
	query := `
		SELECT id, feed, title, link, description, source, media_url, media_type, media_length, published_at, created_at
		FROM feed_entries
		WHERE feed = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, feed, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	entries := make([]storage.FeedEntry, 0, limit)
	for rows.Next() {
		var entry storage.FeedEntry
		var publishedAt, createdAt int64

		err := rows.Scan(
			&entry.ID,
			&entry.Feed,
			&entry.Title,
			&entry.Link,
			&entry.Description,
			&entry.Source,
			&entry.MediaURL,
			&entry.MediaType,
			&entry.MediaLength,
			&publishedAt,
			&createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}

		entry.PublishedAt = time.Unix(0, publishedAt)
		entry.CreatedAt = time.Unix(0, createdAt)
		entries = append(entries, entry)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return entries, nil
}

func (s *feedStore) DeleteOlderThan(ctx context.Context, age time.Duration) error {
	cutoff := time.Now().Add(-age)

	result, err := s.db.ExecContext(ctx, `DELETE FROM feed_entries WHERE created_at < ?`, cutoff.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to delete old entries: %w", err)
	}

	if rows, err := result.RowsAffected(); err == nil && rows > 0 {
		slog.Debug("Pruned feed entries", "count", rows, "older_than", age)
	}

	return nil
}
