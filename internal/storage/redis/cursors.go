package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"freebooter/internal/types"
)

type cursorStore struct {
	client *goredis.Client
	keys   keys
}

func (s *cursorStore) Cursor(ctx context.Context, source string) (*types.Cursor, error) {
	fields, err := s.client.HGetAll(ctx, s.keys.cursor(source)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load cursor: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	nanos, err := strconv.ParseInt(fields["seen_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt cursor for %s: %w", source, err)
	}

	return &types.Cursor{ItemID: fields["item_id"], SeenAt: time.Unix(0, nanos)}, nil
}

func (s *cursorStore) SaveCursor(ctx context.Context, source string, cursor types.Cursor) error {
	err := s.client.HSet(ctx, s.keys.cursor(source),
		"item_id", cursor.ItemID,
		"seen_at", cursor.SeenAt.UnixNano(),
		"updated_at", time.Now().UnixNano(),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}
