package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"freebooter/internal/storage"
	"freebooter/internal/types"
)

type cursorStore struct {
	db *sql.DB
}

func newCursorStore(db *sql.DB) storage.CursorStore {
	return &cursorStore{db: db}
}

func (s *cursorStore) Cursor(ctx context.Context, source string) (*types.Cursor, error) {
	var cursor types.Cursor
	var seenAt int64

	err := s.db.QueryRowContext(ctx, `SELECT item_id, seen_at FROM cursors WHERE source = ?`, source).Scan(&cursor.ItemID, &seenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cursor: %w", err)
	}

	cursor.SeenAt = time.Unix(0, seenAt)
	return &cursor, nil
}

func (s *cursorStore) SaveCursor(ctx context.Context, source string, cursor types.Cursor) error {
	query := `
		INSERT INTO cursors (source, item_id, seen_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(source) DO UPDATE SET
			item_id = excluded.item_id,
			seen_at = excluded.seen_at,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query, source, cursor.ItemID, cursor.SeenAt.UnixNano(), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}
