package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/liftsync/internal/entity"
)

// appendOutbox inserts an entry inside the caller's transaction.
func appendOutbox(ctx context.Context, tx *sql.Tx, e entity.OutboxEntry) error {
	var payload sql.NullString
	if e.Op == entity.OpUpsert {
		payload = sql.NullString{String: string(e.Payload), Valid: true}
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO outbox (owner_id, entity_kind, op, entity_id, payload, created_at, attempts)
		VALUES (?, ?, ?, ?, ?, ?, 0)
	`,
		e.OwnerID,
		string(e.Kind),
		string(e.Op),
		e.EntityID,
		payload,
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append outbox %s %s/%s: %w", e.Op, e.Kind, e.EntityID, err)
	}
	return nil
}

// ListPending returns up to limit of the owner's pending entries, oldest first.
// A limit <= 0 returns every pending entry.
func (s *Store) ListPending(ctx context.Context, ownerID string, limit int) ([]entity.OutboxEntry, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	query := `
		SELECT id, owner_id, entity_kind, op, entity_id, payload, created_at, attempts, last_error, last_attempt_at
		FROM outbox
		WHERE owner_id = ?
		ORDER BY id ASC
	`
	args := []any{ownerID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()

	entries := []entity.OutboxEntry{}
	for rows.Next() {
		e, err := scanOutbox(rows)
		if err != nil {
			return nil, fmt.Errorf("list pending: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending: %w", err)
	}
	return entries, nil
}

// GetEntry returns a single outbox entry by id.
func (s *Store) GetEntry(ctx context.Context, id int64) (entity.OutboxEntry, error) {
	if err := s.checkOpen(); err != nil {
		return entity.OutboxEntry{}, err
	}
	e, err := scanOutbox(s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, entity_kind, op, entity_id, payload, created_at, attempts, last_error, last_attempt_at
		FROM outbox
		WHERE id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return entity.OutboxEntry{}, fmt.Errorf("outbox entry %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return entity.OutboxEntry{}, fmt.Errorf("get outbox entry: %w", err)
	}
	return e, nil
}

// MarkDone removes an entry after the remote confirmed it. For a delete
// entry the local tombstone is purged too, unless a newer entry for the same
// entity is still pending. Removing an already-removed entry is a no-op.
func (s *Store) MarkDone(ctx context.Context, e entity.OutboxEntry) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mark done: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if _, err := tx.ExecContext(ctx, `DELETE FROM outbox WHERE id = ?`, e.ID); err != nil {
		return fmt.Errorf("mark done %d: %w", e.ID, err)
	}

	if e.Op == entity.OpDelete && e.Kind.Valid() {
		if err := purgeTombstone(ctx, tx, e.OwnerID, e.Kind, e.EntityID); err != nil {
			return fmt.Errorf("mark done %d: %w", e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("mark done: commit: %w", err)
	}
	return nil
}

// MarkFailed records a failed delivery attempt: attempts is incremented and
// the error message kept. The entry stays in place for the next cycle.
func (s *Store) MarkFailed(ctx context.Context, id int64, msg string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE outbox
		SET attempts = attempts + 1, last_error = ?, last_attempt_at = ?
		WHERE id = ?
	`, msg, s.timestamp(), id)
	if err != nil {
		return fmt.Errorf("mark failed %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark failed %d: rows affected: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("mark failed %d: %w", id, ErrNotFound)
	}
	return nil
}

// DiscardEntry drops a pending entry on explicit user request. Entries are
// never discarded automatically. Discarding a delete restores the local row
// when nothing else is pending for it, so the mirror matches the remote.
func (s *Store) DiscardEntry(ctx context.Context, ownerID string, id int64) (entity.OutboxEntry, error) {
	if err := s.checkOpen(); err != nil {
		return entity.OutboxEntry{}, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return entity.OutboxEntry{}, fmt.Errorf("discard entry: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	e, err := scanOutbox(tx.QueryRowContext(ctx, `
		SELECT id, owner_id, entity_kind, op, entity_id, payload, created_at, attempts, last_error, last_attempt_at
		FROM outbox
		WHERE id = ? AND owner_id = ?
	`, id, ownerID))
	if errors.Is(err, sql.ErrNoRows) {
		return entity.OutboxEntry{}, fmt.Errorf("discard entry %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return entity.OutboxEntry{}, fmt.Errorf("discard entry: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM outbox WHERE id = ?`, id); err != nil {
		return entity.OutboxEntry{}, fmt.Errorf("discard entry %d: %w", id, err)
	}

	if e.Op == entity.OpDelete && e.Kind.Valid() {
		pending, err := hasPending(ctx, tx, ownerID, e.Kind, e.EntityID)
		if err != nil {
			return entity.OutboxEntry{}, fmt.Errorf("discard entry: %w", err)
		}
		if !pending {
			if _, err := tx.ExecContext(ctx,
				fmt.Sprintf(`UPDATE %s SET deleted_at = NULL WHERE id = ? AND owner_id = ?`, e.Kind.Table()),
				e.EntityID, ownerID,
			); err != nil {
				return entity.OutboxEntry{}, fmt.Errorf("discard entry: restore row: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return entity.OutboxEntry{}, fmt.Errorf("discard entry: commit: %w", err)
	}
	return e, nil
}

// PendingCount returns how many entries the owner has in the outbox.
func (s *Store) PendingCount(ctx context.Context, ownerID string) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox WHERE owner_id = ?`, ownerID).Scan(&n); err != nil {
		return 0, fmt.Errorf("pending count: %w", err)
	}
	return n, nil
}

// PendingIDs returns the set of entity ids with at least one pending entry,
// grouped by kind.
func (s *Store) PendingIDs(ctx context.Context, ownerID string) (map[entity.Kind]map[string]struct{}, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT entity_kind, entity_id FROM outbox WHERE owner_id = ?
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("pending ids: %w", err)
	}
	defer rows.Close()

	out := make(map[entity.Kind]map[string]struct{})
	for rows.Next() {
		var kind, id string
		if err := rows.Scan(&kind, &id); err != nil {
			return nil, fmt.Errorf("scan pending id: %w", err)
		}
		k := entity.Kind(kind)
		if out[k] == nil {
			out[k] = make(map[string]struct{})
		}
		out[k][id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending ids: %w", err)
	}
	return out, nil
}

func hasPending(ctx context.Context, q queryer, ownerID string, kind entity.Kind, id string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, `
		SELECT 1 FROM outbox
		WHERE owner_id = ? AND entity_kind = ? AND entity_id = ?
		LIMIT 1
	`, ownerID, string(kind), id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check pending %s/%s: %w", kind, id, err)
	}
	return true, nil
}

func purgeTombstone(ctx context.Context, tx *sql.Tx, ownerID string, kind entity.Kind, id string) error {
	pending, err := hasPending(ctx, tx, ownerID, kind, id)
	if err != nil {
		return err
	}
	if pending {
		return nil
	}
	_, err = tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE id = ? AND owner_id = ? AND deleted_at IS NOT NULL`, kind.Table()),
		id, ownerID,
	)
	if err != nil {
		return fmt.Errorf("purge tombstone %s/%s: %w", kind, id, err)
	}
	return nil
}

func scanOutbox(sc rowScanner) (entity.OutboxEntry, error) {
	var (
		e             entity.OutboxEntry
		kind, op      string
		payload       sql.NullString
		lastError     sql.NullString
		lastAttemptAt sql.NullString
	)
	err := sc.Scan(&e.ID, &e.OwnerID, &kind, &op, &e.EntityID, &payload, &e.CreatedAt, &e.Attempts, &lastError, &lastAttemptAt)
	if err != nil {
		return entity.OutboxEntry{}, err
	}
	e.Kind = entity.Kind(kind)
	e.Op = entity.Op(op)
	if payload.Valid {
		e.Payload = json.RawMessage(payload.String)
	}
	e.LastError = stringPtr(lastError)
	e.LastAttemptAt = stringPtr(lastAttemptAt)
	return e, nil
}
