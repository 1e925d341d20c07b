package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"freebooter/internal/storage"
	"freebooter/internal/types"
)

type ledgerStore struct {
	client *goredis.Client
	keys   keys
}

func (s *ledgerStore) HasHandled(ctx context.Context, source, itemID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.keys.ledger(source, itemID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check ledger: %w", err)
	}
	return n > 0, nil
}

func (s *ledgerStore) MarkHandled(ctx context.Context, source, itemID string, at time.Time) error {
	ok, err := s.client.SetNX(ctx, s.keys.ledger(source, itemID), at.UnixNano(), 0).Result()
	if err != nil {
		return fmt.Errorf("failed to mark handled: %w", err)
	}
	if !ok {
		return types.ErrConflict
	}
	return nil
}

func (s *ledgerStore) scan(ctx context.Context, source string) ([]storage.LedgerEntry, error) {
	var entries []storage.LedgerEntry

	iter := s.client.Scan(ctx, 0, s.keys.ledgerPattern(source), 256).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		entry, ok := s.parseKey(key)
		if !ok {
			continue
		}

		raw, err := s.client.Get(ctx, key).Result()
		if err == goredis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read ledger entry: %w", err)
		}
		nanos, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt ledger entry %s: %w", key, err)
		}
		entry.HandledAt = time.Unix(0, nanos)
		entries = append(entries, entry)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan ledger: %w", err)
	}

	return entries, nil
}

// parseKey splits "<prefix>:ledger:<source>:<item>". Config validation keeps
// colons out of source names; item ids may contain them.
func (s *ledgerStore) parseKey(key string) (storage.LedgerEntry, bool) {
	rest, ok := strings.CutPrefix(key, s.keys.prefix+":ledger:")
	if !ok {
		return storage.LedgerEntry{}, false
	}
	source, itemID, ok := strings.Cut(rest, ":")
	if !ok {
		return storage.LedgerEntry{}, false
	}
	return storage.LedgerEntry{Source: source, ItemID: itemID}, true
}

func (s *ledgerStore) History(ctx context.Context, source string, limit int) ([]storage.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	entries, err := s.scan(ctx, source)
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].HandledAt.After(entries[j].HandledAt)
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *ledgerStore) Sources(ctx context.Context) ([]storage.SourceSummary, error) {
	entries, err := s.scan(ctx, "")
	if err != nil {
		return nil, err
	}

	bySource := make(map[string]*storage.SourceSummary)
	for _, entry := range entries {
		summary, ok := bySource[entry.Source]
		if !ok {
			summary = &storage.SourceSummary{Source: entry.Source}
			bySource[entry.Source] = summary
		}
		summary.Count++
		if entry.HandledAt.After(summary.LastHandled) {
			summary.LastHandled = entry.HandledAt
		}
	}

	summaries := make([]storage.SourceSummary, 0, len(bySource))
	for _, summary := range bySource {
		summaries = append(summaries, *summary)
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Source < summaries[j].Source
	})
	return summaries, nil
}
