package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"freebooter/internal/storage"
	"freebooter/internal/types"
)

type ledgerStore struct {
	db *sql.DB
}

func newLedgerStore(db *sql.DB) storage.LedgerStore {
	return &ledgerStore{db: db}
}

func (s *ledgerStore) HasHandled(ctx context.Context, source, itemID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ledger WHERE source = ? AND item_id = ?`, source, itemID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check ledger: %w", err)
	}
	return count > 0, nil
}

func (s *ledgerStore) MarkHandled(ctx context.Context, source, itemID string, at time.Time) error {
	query := `
		INSERT INTO ledger (source, item_id, handled_at)
		VALUES (?, ?, ?)
		ON CONFLICT(source, item_id) DO NOTHING
	`

	result, err := s.db.ExecContext(ctx, query, source, itemID, at.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to mark handled: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		return types.ErrConflict
	}
	return nil
}

func (s *ledgerStore) History(ctx context.Context, source string, limit int) ([]storage.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT source, item_id, handled_at
		FROM ledger
		WHERE (? = '' OR source = ?)
		ORDER BY handled_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, source, source, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	entries := make([]storage.LedgerEntry, 0, limit)
	for rows.Next() {
		var entry storage.LedgerEntry
		var handledAt int64
		if err := rows.Scan(&entry.Source, &entry.ItemID, &handledAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entry.HandledAt = time.Unix(0, handledAt)
		entries = append(entries, entry)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return entries, nil
}

func (s *ledgerStore) Sources(ctx context.Context) ([]storage.SourceSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source, COUNT(*), MAX(handled_at)
		FROM ledger
		GROUP BY source
		ORDER BY source
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to summarise ledger: %w", err)
	}
	defer rows.Close()

	var summaries []storage.SourceSummary
	for rows.Next() {
		var summary storage.SourceSummary
		var last int64
		if err := rows.Scan(&summary.Source, &summary.Count, &last); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		summary.LastHandled = time.Unix(0, last)
		summaries = append(summaries, summary)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return summaries, nil
}
