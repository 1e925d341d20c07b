package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"freebooter/internal/storage"
)

// maxFeedEntries bounds each feed list; the HTTP server never asks for more.
const maxFeedEntries = 1000

type feedStore struct {
	client *goredis.Client
	keys   keys
}

func (s *feedStore) InsertEntry(ctx context.Context, entry storage.FeedEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if entry.PublishedAt.IsZero() {
		entry.PublishedAt = entry.CreatedAt
	}

	existing, err := s.ListRecentEntries(ctx, entry.Feed, maxFeedEntries)
	if err != nil {
		return err
	}
	for _, e := range existing {
		if e.ID == entry.ID {
			return nil
		}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode feed entry: %w", err)
	}

	key := s.keys.feed(entry.Feed)
	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.LPush(ctx, key, data)
		pipe.LTrim(ctx, key, 0, maxFeedEntries-1)
		pipe.SAdd(ctx, s.keys.feedIndex(), entry.Feed)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to insert feed entry: %w", err)
	}
	return nil
}

func (s *feedStore) ListRecentEntries(ctx context.Context, feed string, limit int) ([]storage.FeedEntry, error) {
	if limit <= 0 {
		return nil, nil
	}

	raw, err := s.client.LRange(ctx, s.keys.feed(feed), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}

	entries := make([]storage.FeedEntry, 0, len(raw))
	for _, r := range raw {
		var entry storage.FeedEntry
		if err := json.Unmarshal([]byte(r), &entry); err != nil {
			return nil, fmt.Errorf("failed to decode feed entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *feedStore) DeleteOlderThan(ctx context.Context, age time.Duration) error {
	cutoff := time.Now().Add(-age)

	feeds, err := s.client.SMembers(ctx, s.keys.feedIndex()).Result()
	if err != nil {
		return fmt.Errorf("failed to list feeds: %w", err)
	}

	for _, feed := range feeds {
		entries, err := s.ListRecentEntries(ctx, feed, maxFeedEntries)
		if err != nil {
			return err
		}
		// entries are newest first; keep the prefix newer than the cutoff
		keep := len(entries)
		for i, e := range entries {
			if e.CreatedAt.Before(cutoff) {
				keep = i
				break
			}
		}
		if keep == len(entries) {
			continue
		}
		if keep == 0 {
			if err := s.client.Del(ctx, s.keys.feed(feed)).Err(); err != nil {
				return fmt.Errorf("failed to prune feed %s: %w", feed, err)
			}
			continue
		}
		if err := s.client.LTrim(ctx, s.keys.feed(feed), 0, int64(keep-1)).Err(); err != nil {
			return fmt.Errorf("failed to prune feed %s: %w", feed, err)
		}
	}
	return nil
}
