// Package pg implements the remote Gateway directly on Postgres tables.
//
// Each entity kind maps to a table of the same name. Revisions are
// fixed-width UTC strings assigned inside the writing transaction while
// holding a per-table advisory lock, so commit order and revision order
// agree and range queries never skip a row committed late.
package pg

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roach88/liftsync/internal/entity"
	"github.com/roach88/liftsync/internal/remote"
)

const (
	MaxConns        = 10
	MinConns        = 1
	MaxConnLifetime = 10 * time.Minute
	MaxConnIdleTime = 5 * time.Minute
)

// Connect creates and pings a connection pool.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}

	config.MaxConns = MaxConns
	config.MinConns = MinConns
	config.MaxConnLifetime = MaxConnLifetime
	config.MaxConnIdleTime = MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// Gateway implements remote.Gateway over a pgx pool.
type Gateway struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var (
	_ remote.Gateway     = (*Gateway)(nil)
	_ remote.OwnerLookup = (*Gateway)(nil)
)

// Option configures a Gateway.
type Option func(*Gateway)

// WithClock overrides the wall clock revisions are derived from.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		g.now = now
	}
}

// New creates a Gateway using pool.
func New(pool *pgxpool.Pool, opts ...Option) *Gateway {
	g := &Gateway{pool: pool, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// EnsureSchema creates the entity tables if they do not exist.
func (g *Gateway) EnsureSchema(ctx context.Context) error {
	for _, kind := range entity.Kinds() {
		t := pgx.Identifier{kind.Table()}.Sanitize()
		stmts := []string{
			fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS %s (
					id         TEXT PRIMARY KEY,
					owner_id   TEXT NOT NULL,
					payload    JSONB NOT NULL DEFAULT 'null',
					created_at TEXT NOT NULL,
					updated_at TEXT NOT NULL,
					deleted_at TEXT
				)`, t),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (owner_id, updated_at, id)`,
				pgx.Identifier{"idx_" + kind.Table() + "_range"}.Sanitize(), t),
		}
		for _, stmt := range stmts {
			if _, err := g.pool.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("ensure schema %s: %w", kind, err)
			}
		}
	}
	return nil
}

// Upsert implements remote.Gateway. A row owned by someone else is rejected.
func (g *Gateway) Upsert(ctx context.Context, table string, row entity.Row) error {
	t, err := tableIdent(table)
	if err != nil {
		return err
	}
	if err := row.Validate(); err != nil {
		return remote.Rejected(http.StatusBadRequest, err.Error())
	}
	payload := string(row.Payload)
	if payload == "" {
		payload = "null"
	}

	tx, err := g.pool.Begin(ctx)
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback(ctx) // No-op if committed

	rev, err := g.nextRevision(ctx, tx, table, t)
	if err != nil {
		return err
	}
	created := row.CreatedAt
	if created == "" {
		created = rev
	}

	tag, err := tx.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s AS cur (id, owner_id, payload, created_at, updated_at, deleted_at)
		VALUES ($1, $2, $3::jsonb, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			payload    = excluded.payload,
			updated_at = excluded.updated_at,
			deleted_at = excluded.deleted_at
		WHERE cur.owner_id = excluded.owner_id
	`, t), row.ID, row.OwnerID, payload, created, rev, row.DeletedAt)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return remote.Rejected(http.StatusForbidden, fmt.Sprintf("row %s belongs to another owner", row.ID))
	}

	if err := tx.Commit(ctx); err != nil {
		return classify(err)
	}
	return nil
}

// Delete implements remote.Gateway.
func (g *Gateway) Delete(ctx context.Context, table, id string) error {
	t, err := tableIdent(table)
	if err != nil {
		return err
	}
	if _, err := g.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, t), id); err != nil {
		return classify(err)
	}
	return nil
}

// RowOwner implements remote.OwnerLookup.
func (g *Gateway) RowOwner(ctx context.Context, table, id string) (string, bool, error) {
	t, err := tableIdent(table)
	if err != nil {
		return "", false, err
	}
	var owner string
	err = g.pool.QueryRow(ctx, fmt.Sprintf(`SELECT owner_id FROM %s WHERE id = $1`, t), id).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, classify(err)
	}
	return owner, true, nil
}

// QueryRange implements remote.Gateway.
func (g *Gateway) QueryRange(ctx context.Context, table, ownerID, since string, offset, limit int) ([]entity.Row, error) {
	t, err := tableIdent(table)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT id, owner_id, payload::text, created_at, updated_at, deleted_at
		FROM %s
		WHERE owner_id = $1 AND updated_at > $2
		ORDER BY updated_at ASC, id ASC
		OFFSET $3
	`, t)
	args := []any{ownerID, since, offset}
	if limit > 0 {
		query += " LIMIT $4"
		args = append(args, limit)
	}

	rows, err := g.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	out := []entity.Row{}
	for rows.Next() {
		var (
			r       entity.Row
			payload string
		)
		if err := rows.Scan(&r.ID, &r.OwnerID, &payload, &r.CreatedAt, &r.UpdatedAt, &r.DeletedAt); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", table, err)
		}
		r.Payload = []byte(payload)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// nextRevision serializes writers on the table and returns a revision
// greater than every stored one.
func (g *Gateway) nextRevision(ctx context.Context, tx pgx.Tx, table, ident string) (string, error) {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "liftsync:"+table); err != nil {
		return "", classify(err)
	}

	var last *string
	if err := tx.QueryRow(ctx, fmt.Sprintf(`SELECT MAX(updated_at) FROM %s`, ident)).Scan(&last); err != nil {
		return "", classify(err)
	}

	now := g.now().UTC().Truncate(time.Microsecond)
	if last != nil {
		prev, err := entity.ParseTime(*last)
		if err != nil {
			return "", fmt.Errorf("parse stored revision %q: %w", *last, err)
		}
		if !now.After(prev) {
			now = prev.Add(time.Microsecond)
		}
	}
	return entity.FormatTime(now), nil
}

func tableIdent(table string) (string, error) {
	if !entity.Kind(table).Valid() {
		return "", remote.Rejected(http.StatusNotFound, fmt.Sprintf("unknown table %q", table))
	}
	return pgx.Identifier{table}.Sanitize(), nil
}

// classify maps Postgres failures onto the remote error taxonomy: integrity
// and data errors are rejections, everything else is transient.
func classify(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 {
		switch pgErr.Code[:2] {
		case "22":
			return &remote.Error{Kind: remote.KindRejected, Status: http.StatusBadRequest, Message: pgErr.Message, Err: err}
		case "23":
			return &remote.Error{Kind: remote.KindRejected, Status: http.StatusConflict, Message: pgErr.Message, Err: err}
		case "42":
			return &remote.Error{Kind: remote.KindRejected, Status: http.StatusBadRequest, Message: pgErr.Message, Err: err}
		}
	}
	return &remote.Error{Kind: remote.KindTransient, Message: err.Error(), Err: err}
}
