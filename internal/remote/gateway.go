package remote

import (
	"context"

	"github.com/roach88/liftsync/internal/entity"
)

// Gateway is the remote table API the engine talks to.
//
// Implementations must:
//   - make Upsert a create-or-replace keyed by row id, assigning a new
//     revision (updated_at) strictly greater than any previous one
//   - make Delete succeed when the row is already gone
//   - return QueryRange rows with updated_at > since, ordered ascending by
//     updated_at then id, skipping offset rows and returning at most limit
//
// Revisions are unique within a table, so callers page by passing the last
// revision they saw as since with offset 0. Offset paging over a fixed since
// skips rows when an earlier row is updated between pages.
type Gateway interface {
	Upsert(ctx context.Context, table string, row entity.Row) error
	Delete(ctx context.Context, table, id string) error
	QueryRange(ctx context.Context, table, ownerID, since string, offset, limit int) ([]entity.Row, error)
}

// OwnerLookup is implemented by gateways that can report who owns a row.
// The HTTP server uses it to refuse deletes of another owner's rows.
type OwnerLookup interface {
	RowOwner(ctx context.Context, table, id string) (ownerID string, found bool, err error)
}
