package store

import (
	"context"
	"fmt"

	"github.com/roach88/liftsync/internal/entity"
)

// Status is what the app shows about sync state without knowing anything
// about the error taxonomy.
type Status struct {
	// Pending is the outbox size.
	Pending int `json:"pending"`
	// Stuck counts entries whose attempts reached the configured maximum.
	Stuck int `json:"stuck"`
	// LastSynced is the greatest pull cursor across kinds, "" if never synced.
	LastSynced string `json:"last_synced"`
}

// Status summarizes the owner's sync state. maxAttempts <= 0 disables the
// stuck count.
func (s *Store) Status(ctx context.Context, ownerID string, maxAttempts int) (Status, error) {
	if err := s.checkOpen(); err != nil {
		return Status{}, err
	}
	var st Status

	pending, err := s.PendingCount(ctx, ownerID)
	if err != nil {
		return Status{}, err
	}
	st.Pending = pending

	if maxAttempts > 0 {
		if err := s.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM outbox WHERE owner_id = ? AND attempts >= ?
		`, ownerID, maxAttempts).Scan(&st.Stuck); err != nil {
			return Status{}, fmt.Errorf("stuck count: %w", err)
		}
	}

	last, err := s.LastSynced(ctx, ownerID)
	if err != nil {
		return Status{}, err
	}
	st.LastSynced = last
	return st, nil
}

// ClearOwnerData removes every entity row, outbox entry and cursor that
// belongs to the owner, in one transaction. Used on sign-out and account
// switch. Each table is deleted from explicitly; nothing relies on cascades.
// Returns the number of rows removed.
func (s *Store) ClearOwnerData(ctx context.Context, ownerID string) (int64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("clear owner data: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	tables := make([]string, 0, len(entity.Kinds())+2)
	for _, kind := range entity.Kinds() {
		tables = append(tables, kind.Table())
	}
	tables = append(tables, "outbox", "sync_cursor")

	var total int64
	for _, table := range tables {
		res, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE owner_id = ?`, table), ownerID)
		if err != nil {
			return 0, fmt.Errorf("clear owner data: %s: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("clear owner data: %s: rows affected: %w", table, err)
		}
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("clear owner data: commit: %w", err)
	}
	return total, nil
}
