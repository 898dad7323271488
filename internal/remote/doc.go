// Package remote defines the boundary between the sync engine and the
// remote row store.
//
// The engine depends only on the Gateway interface: idempotent upsert by id,
// idempotent delete by id, and a paginated range query over rows whose
// server-assigned revision (updated_at) is greater than a watermark. Three
// implementations exist:
//
//   - Memory: an in-process row store used by tests, scenarios and the
//     "memory" remote mode. Supports fault injection.
//   - HTTPGateway: a client for a PostgREST-style table API.
//   - pg.Gateway (subpackage pg): direct access to the Postgres tables.
//
// Failures are reported as *Error values classified as transient (retry on
// the next cycle) or rejected (the remote refused the row).
package remote
