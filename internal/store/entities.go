package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/liftsync/internal/entity"
)

// UpsertEntity creates or replaces a local entity and appends an upsert
// outbox entry carrying the full row snapshot, in one transaction.
//
// The payload is stored canonicalized. created_at is preserved for existing
// rows; updated_at is set to the local clock until the remote assigns a
// revision. Clears any local tombstone for the id.
func (s *Store) UpsertEntity(ctx context.Context, kind entity.Kind, row entity.Row) (entity.Row, error) {
	if err := s.checkOpen(); err != nil {
		return entity.Row{}, err
	}
	if !kind.Valid() {
		return entity.Row{}, fmt.Errorf("upsert entity: unknown kind %q", kind)
	}
	if err := row.Validate(); err != nil {
		return entity.Row{}, fmt.Errorf("upsert entity: %w", err)
	}

	payload, err := entity.CanonicalPayload(row.Payload)
	if err != nil {
		return entity.Row{}, fmt.Errorf("upsert entity: %w", err)
	}
	row.Payload = payload
	row.DeletedAt = nil

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return entity.Row{}, fmt.Errorf("upsert entity: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	now := s.timestamp()

	var existingCreated string
	err = tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT created_at FROM %s WHERE id = ?`, kind.Table()), row.ID,
	).Scan(&existingCreated)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if row.CreatedAt == "" {
			row.CreatedAt = now
		}
	case err != nil:
		return entity.Row{}, fmt.Errorf("upsert entity: read existing: %w", err)
	default:
		row.CreatedAt = existingCreated
	}

	// The snapshot leaves updated_at empty: the remote assigns the revision.
	row.UpdatedAt = ""
	snapshot, err := json.Marshal(row)
	if err != nil {
		return entity.Row{}, fmt.Errorf("upsert entity: marshal snapshot: %w", err)
	}
	row.UpdatedAt = now

	if err := writeRow(ctx, tx, kind, row); err != nil {
		return entity.Row{}, fmt.Errorf("upsert entity: %w", err)
	}

	if err := appendOutbox(ctx, tx, entity.OutboxEntry{
		OwnerID:   row.OwnerID,
		Kind:      kind,
		Op:        entity.OpUpsert,
		EntityID:  row.ID,
		Payload:   snapshot,
		CreatedAt: now,
	}); err != nil {
		return entity.Row{}, fmt.Errorf("upsert entity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return entity.Row{}, fmt.Errorf("upsert entity: commit: %w", err)
	}
	return row, nil
}

// MarkDeleted tombstones a local entity (sets deleted_at, hiding it from
// reads) and appends a delete outbox entry, in one transaction.
// The tombstone is purged once the remote confirms the delete.
//
// Returns ErrNotFound if the owner has no such row.
func (s *Store) MarkDeleted(ctx context.Context, kind entity.Kind, ownerID, id string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if !kind.Valid() {
		return fmt.Errorf("mark deleted: unknown kind %q", kind)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mark deleted: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	now := s.timestamp()

	res, err := tx.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET deleted_at = ? WHERE id = ? AND owner_id = ?`, kind.Table()),
		now, id, ownerID,
	)
	if err != nil {
		return fmt.Errorf("mark deleted: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark deleted: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("mark deleted %s/%s: %w", kind, id, ErrNotFound)
	}

	if err := appendOutbox(ctx, tx, entity.OutboxEntry{
		OwnerID:   ownerID,
		Kind:      kind,
		Op:        entity.OpDelete,
		EntityID:  id,
		CreatedAt: now,
	}); err != nil {
		return fmt.Errorf("mark deleted: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("mark deleted: commit: %w", err)
	}
	return nil
}

// ApplyRemoteRow merges a pulled remote row into the local mirror with
// last-writer-wins semantics: the remote row replaces the local one, unless
// the id has a pending outbox entry. In that case nothing is written and
// applied is false, so an unflushed local write is never overwritten.
//
// The pending check and the write share one transaction.
func (s *Store) ApplyRemoteRow(ctx context.Context, kind entity.Kind, ownerID string, row entity.Row) (applied bool, err error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	if !kind.Valid() {
		return false, fmt.Errorf("apply remote row: unknown kind %q", kind)
	}
	if row.ID == "" {
		return false, fmt.Errorf("apply remote row: row id is required")
	}

	payload, err := entity.CanonicalPayload(row.Payload)
	if err != nil {
		return false, fmt.Errorf("apply remote row %s: %w", row.ID, err)
	}
	row.Payload = payload
	row.OwnerID = ownerID

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("apply remote row: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	pending, err := hasPending(ctx, tx, ownerID, kind, row.ID)
	if err != nil {
		return false, fmt.Errorf("apply remote row: %w", err)
	}
	if pending {
		return false, nil
	}

	if row.CreatedAt == "" {
		row.CreatedAt = row.UpdatedAt
	}
	if err := writeRow(ctx, tx, kind, row); err != nil {
		return false, fmt.Errorf("apply remote row: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("apply remote row: commit: %w", err)
	}
	return true, nil
}

// GetEntity returns a live (non-tombstoned) entity by id.
// Returns ErrNotFound if it does not exist.
func (s *Store) GetEntity(ctx context.Context, kind entity.Kind, id string) (entity.Row, error) {
	if err := s.checkOpen(); err != nil {
		return entity.Row{}, err
	}
	if !kind.Valid() {
		return entity.Row{}, fmt.Errorf("get entity: unknown kind %q", kind)
	}
	row, err := scanRow(s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, owner_id, payload, created_at, updated_at, deleted_at
		FROM %s
		WHERE id = ? AND deleted_at IS NULL
	`, kind.Table()), id))
	if errors.Is(err, sql.ErrNoRows) {
		return entity.Row{}, fmt.Errorf("get entity %s/%s: %w", kind, id, ErrNotFound)
	}
	if err != nil {
		return entity.Row{}, fmt.Errorf("get entity: %w", err)
	}
	return row, nil
}

// ListEntities returns the owner's live entities of a kind ordered by
// created_at, then id. Returns an empty slice (not nil) when there are none.
func (s *Store) ListEntities(ctx context.Context, kind entity.Kind, ownerID string) ([]entity.Row, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("list entities: unknown kind %q", kind)
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, owner_id, payload, created_at, updated_at, deleted_at
		FROM %s
		WHERE owner_id = ? AND deleted_at IS NULL
		ORDER BY created_at ASC, id COLLATE BINARY ASC
	`, kind.Table()), ownerID)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	defer rows.Close()

	out := []entity.Row{}
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("list entities: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}
	return out, nil
}

// CountEntities returns how many live entities of a kind the owner has.
func (s *Store) CountEntities(ctx context.Context, kind entity.Kind, ownerID string) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	if !kind.Valid() {
		return 0, fmt.Errorf("count entities: unknown kind %q", kind)
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE owner_id = ? AND deleted_at IS NULL`, kind.Table()),
		ownerID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count entities: %w", err)
	}
	return n, nil
}

func writeRow(ctx context.Context, tx *sql.Tx, kind entity.Kind, row entity.Row) error {
	_, err := tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, owner_id, payload, created_at, updated_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner_id   = excluded.owner_id,
			payload    = excluded.payload,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			deleted_at = excluded.deleted_at
	`, kind.Table()),
		row.ID,
		row.OwnerID,
		string(row.Payload),
		row.CreatedAt,
		row.UpdatedAt,
		nullString(row.DeletedAt),
	)
	if err != nil {
		return fmt.Errorf("write %s/%s: %w", kind, row.ID, err)
	}
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRow(sc rowScanner) (entity.Row, error) {
	var (
		row       entity.Row
		payload   string
		deletedAt sql.NullString
	)
	if err := sc.Scan(&row.ID, &row.OwnerID, &payload, &row.CreatedAt, &row.UpdatedAt, &deletedAt); err != nil {
		return entity.Row{}, err
	}
	row.Payload = json.RawMessage(payload)
	row.DeletedAt = stringPtr(deletedAt)
	return row, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
