// Package redis stores the ledger, cursors and feed entries in Redis so several
// freebooter processes can share one history.
package redis

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"freebooter/internal/config"
	"freebooter/internal/storage"
)

func init() {
	storage.RegisterFactory("redis", func(ctx context.Context, cfg config.StorageConfig) (storage.StorageInterface, error) {
		return New(ctx, cfg.Redis)
	})
}

type RedisStorage struct {
	client  *goredis.Client
	prefix  string
	ledger  *ledgerStore
	cursors *cursorStore
	feeds   *feedStore
}

func New(ctx context.Context, cfg config.RedisConfig) (*RedisStorage, error) {
	slog.Info("Initializing Redis storage", "addr", cfg.Addr, "db", cfg.DB)

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password.Value(),
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return NewWithClient(client, cfg.Prefix), nil
}

// NewWithClient wraps an existing client. Keys are namespaced under prefix.
func NewWithClient(client *goredis.Client, prefix string) *RedisStorage {
	if prefix == "" {
		prefix = "freebooter"
	}
	k := keys{prefix: prefix}
	return &RedisStorage{
		client:  client,
		prefix:  prefix,
		ledger:  &ledgerStore{client: client, keys: k},
		cursors: &cursorStore{client: client, keys: k},
		feeds:   &feedStore{client: client, keys: k},
	}
}

func (s *RedisStorage) Ledger() storage.LedgerStore {
	return s.ledger
}

func (s *RedisStorage) Cursors() storage.CursorStore {
	return s.cursors
}

func (s *RedisStorage) Feed() storage.FeedStore {
	return s.feeds
}

func (s *RedisStorage) Close(ctx context.Context) error {
	return s.client.Close()
}

type keys struct {
	prefix string
}

func (k keys) ledger(source, itemID string) string {
	return fmt.Sprintf("%s:ledger:%s:%s", k.prefix, source, itemID)
}

func (k keys) ledgerPattern(source string) string {
	if source == "" {
		source = "*"
	}
	return fmt.Sprintf("%s:ledger:%s:*", k.prefix, source)
}

func (k keys) cursor(source string) string {
	return fmt.Sprintf("%s:cursor:%s", k.prefix, source)
}

func (k keys) feed(feed string) string {
	return fmt.Sprintf("%s:feed:%s", k.prefix, feed)
}

func (k keys) feedIndex() string {
	return k.prefix + ":feeds"
}
