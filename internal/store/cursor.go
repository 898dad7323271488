package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/liftsync/internal/entity"
)

// Cursor returns the stored pull watermark for (owner, kind), or "" when the
// kind has never been pulled.
func (s *Store) Cursor(ctx context.Context, ownerID string, kind entity.Kind) (string, error) {
	if err := s.checkOpen(); err != nil {
		return "", err
	}
	var rev string
	err := s.db.QueryRowContext(ctx, `
		SELECT last_pulled_at FROM sync_cursor WHERE owner_id = ? AND entity_kind = ?
	`, ownerID, string(kind)).Scan(&rev)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read cursor %s: %w", kind, err)
	}
	return rev, nil
}

// AdvanceCursor stores rev as the watermark for (owner, kind) if it is
// greater than the stored one. The comparison happens in SQL so the cursor
// never regresses. Reports whether the cursor moved.
func (s *Store) AdvanceCursor(ctx context.Context, ownerID string, kind entity.Kind, rev string) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	if rev == "" {
		return false, nil
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_cursor (owner_id, entity_kind, last_pulled_at)
		VALUES (?, ?, ?)
		ON CONFLICT(owner_id, entity_kind) DO UPDATE SET
			last_pulled_at = excluded.last_pulled_at
		WHERE excluded.last_pulled_at > sync_cursor.last_pulled_at
	`, ownerID, string(kind), rev)
	if err != nil {
		return false, fmt.Errorf("advance cursor %s: %w", kind, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("advance cursor %s: rows affected: %w", kind, err)
	}
	return n > 0, nil
}

// Cursors returns every stored cursor for the owner.
func (s *Store) Cursors(ctx context.Context, ownerID string) ([]entity.Cursor, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT owner_id, entity_kind, last_pulled_at
		FROM sync_cursor
		WHERE owner_id = ?
		ORDER BY entity_kind ASC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list cursors: %w", err)
	}
	defer rows.Close()

	out := []entity.Cursor{}
	for rows.Next() {
		var c entity.Cursor
		var kind string
		if err := rows.Scan(&c.OwnerID, &kind, &c.LastPulledAt); err != nil {
			return nil, fmt.Errorf("scan cursor: %w", err)
		}
		c.Kind = entity.Kind(kind)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cursors: %w", err)
	}
	return out, nil
}

// LastSynced returns the greatest cursor across kinds, "" if never synced.
func (s *Store) LastSynced(ctx context.Context, ownerID string) (string, error) {
	if err := s.checkOpen(); err != nil {
		return "", err
	}
	var rev sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(last_pulled_at) FROM sync_cursor WHERE owner_id = ?
	`, ownerID).Scan(&rev)
	if err != nil {
		return "", fmt.Errorf("last synced: %w", err)
	}
	return rev.String, nil
}
