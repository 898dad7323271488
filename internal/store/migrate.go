package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/roach88/liftsync/internal/entity"
)

// Schema version tracking:
// 0 - Empty database
// 1 - Entity mirrors, outbox, sync_cursor
// 2 - Indexes for owner-scoped reads and pending lookups
// 3 - outbox.last_attempt_at
const currentSchemaVersion = 3

// migration moves the schema from version N-1 to N. Every step must be
// safe to re-apply: create-if-not-exists and add-column-if-missing only.
type migration func(ctx context.Context, tx *sql.Tx) error

// migrations[i] migrates v(i) -> v(i+1).
var migrations = []migration{
	migrateToV1,
	migrateToV2,
	migrateToV3,
}

// migrate runs every pending migration in order and returns how many steps
// were applied. Each step commits together with its version bump.
func migrate(ctx context.Context, db *sql.DB) (int, error) {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`); err != nil {
		return 0, &MigrationError{From: 0, To: 0, Err: fmt.Errorf("create meta table: %w", err)}
	}

	version, err := readVersion(ctx, db)
	if err != nil {
		return 0, &MigrationError{From: 0, To: 0, Err: err}
	}
	if version > currentSchemaVersion {
		return 0, &MigrationError{
			From: version,
			To:   currentSchemaVersion,
			Err:  fmt.Errorf("database schema is newer than this build"),
		}
	}

	applied := 0
	for v := version; v < currentSchemaVersion; v++ {
		if err := applyMigration(ctx, db, v); err != nil {
			return applied, &MigrationError{From: v, To: v + 1, Err: err}
		}
		applied++
	}
	return applied, nil
}

func applyMigration(ctx context.Context, db *sql.DB, from int) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := migrations[from](ctx, tx); err != nil {
		return err
	}
	if err := writeVersion(ctx, tx, from+1); err != nil {
		return err
	}
	return tx.Commit()
}

// readVersion returns the stored schema version, 0 when none is recorded.
func readVersion(ctx context.Context, q queryer) (int, error) {
	var raw string
	err := q.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse schema version %q: %w", raw, err)
	}
	return v, nil
}

func writeVersion(ctx context.Context, tx *sql.Tx, v int) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES ('schema_version', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, strconv.Itoa(v))
	if err != nil {
		return fmt.Errorf("write schema version: %w", err)
	}
	return nil
}

func migrateToV1(ctx context.Context, tx *sql.Tx) error {
	for _, kind := range entity.Kinds() {
		_, err := tx.ExecContext(ctx, fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id         TEXT PRIMARY KEY,
				owner_id   TEXT NOT NULL,
				payload    TEXT NOT NULL DEFAULT 'null',
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL,
				deleted_at TEXT
			)
		`, kind.Table()))
		if err != nil {
			return fmt.Errorf("create %s: %w", kind, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS outbox (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			owner_id    TEXT NOT NULL,
			entity_kind TEXT NOT NULL,
			op          TEXT NOT NULL CHECK (op IN ('upsert', 'delete')),
			entity_id   TEXT NOT NULL,
			payload     TEXT,
			created_at  TEXT NOT NULL,
			attempts    INTEGER NOT NULL DEFAULT 0,
			last_error  TEXT
		)
	`); err != nil {
		return fmt.Errorf("create outbox: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS sync_cursor (
			owner_id       TEXT NOT NULL,
			entity_kind    TEXT NOT NULL,
			last_pulled_at TEXT NOT NULL,
			PRIMARY KEY (owner_id, entity_kind)
		)
	`); err != nil {
		return fmt.Errorf("create sync_cursor: %w", err)
	}
	return nil
}

func migrateToV2(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		`CREATE INDEX IF NOT EXISTS idx_outbox_owner ON outbox(owner_id, id)`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_entity ON outbox(owner_id, entity_kind, entity_id)`,
	}
	for _, kind := range entity.Kinds() {
		stmts = append(stmts, fmt.Sprintf(
			`CREATE INDEX IF NOT EXISTS idx_%s_owner ON %s(owner_id, updated_at)`,
			kind.Table(), kind.Table(),
		))
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

func migrateToV3(ctx context.Context, tx *sql.Tx) error {
	return addColumnIfMissing(ctx, tx, "outbox", "last_attempt_at", "TEXT")
}

// addColumnIfMissing gives ALTER TABLE ADD COLUMN create-if-not-exists semantics.
func addColumnIfMissing(ctx context.Context, tx *sql.Tx, table, column, decl string) error {
	exists, err := columnExists(ctx, tx, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, column, decl)); err != nil {
		return fmt.Errorf("add column %s.%s: %w", table, column, err)
	}
	return nil
}

func columnExists(ctx context.Context, q queryer, table, column string) (bool, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s)`, table))
	if err != nil {
		return false, fmt.Errorf("table info %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name      string
			typ       string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dfltValue, &pk); err != nil {
			return false, fmt.Errorf("scan table info: %w", err)
		}
		if name == column {
			return true, nil
		}
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("iterate table info: %w", err)
	}
	return false, nil
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
