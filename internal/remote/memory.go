package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/roach88/liftsync/internal/entity"
)

// Memory is an in-process Gateway. Every upsert stamps the row with a fresh
// revision from a strictly increasing clock. Upsert refuses to take over a
// row held by another owner; the check and the write share one lock.
//
// Faults can be injected for tests: RejectID makes every write for an id fail
// as rejected, FailNext makes the next n calls fail as transient.
// Safe for concurrent use.
type Memory struct {
	mu     sync.Mutex
	tables map[string]map[string]entity.Row
	clock  *entity.RevisionClock

	reject   map[string]string
	failNext int

	calls Calls
}

// Calls counts the operations a Memory gateway has served, including failed ones.
type Calls struct {
	Upserts int
	Deletes int
	Queries int
}

// MemoryOption configures a Memory gateway.
type MemoryOption func(*Memory)

// WithRevisionClock sets the wall clock the revision clock reads from.
// Scenario runs use a fixed time so revisions are reproducible.
func WithRevisionClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.clock = entity.NewRevisionClock(now)
	}
}

// NewMemory creates an empty in-memory gateway.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		tables: make(map[string]map[string]entity.Row),
		clock:  entity.NewRevisionClock(nil),
		reject: make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Upsert implements Gateway.
func (m *Memory) Upsert(ctx context.Context, table string, row entity.Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls.Upserts++
	if err := m.fault(table, row.ID); err != nil {
		return err
	}
	if err := row.Validate(); err != nil {
		return Rejected(http.StatusBadRequest, err.Error())
	}
	if existing, ok := m.tables[table][row.ID]; ok && existing.OwnerID != row.OwnerID {
		return Rejected(http.StatusForbidden, fmt.Sprintf("row %s belongs to another owner", row.ID))
	}
	m.put(table, row)
	return nil
}

// Delete implements Gateway. Deleting a missing row succeeds.
func (m *Memory) Delete(ctx context.Context, table, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls.Deletes++
	if err := m.fault(table, id); err != nil {
		return err
	}
	delete(m.tables[table], id)
	return nil
}

// QueryRange implements Gateway.
func (m *Memory) QueryRange(ctx context.Context, table, ownerID, since string, offset, limit int) ([]entity.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls.Queries++
	if err := m.fault(table, ""); err != nil {
		return nil, err
	}

	matched := make([]entity.Row, 0)
	for _, row := range m.tables[table] {
		if row.OwnerID == ownerID && row.UpdatedAt > since {
			matched = append(matched, cloneRow(row))
		}
	}
	sortByRevision(matched)

	if offset >= len(matched) {
		return []entity.Row{}, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

// Put writes a row directly, bypassing fault injection, as another device
// would. Returns the stored row with its assigned revision.
func (m *Memory) Put(table string, row entity.Row) entity.Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.put(table, row)
}

// Get returns a stored row.
func (m *Memory) Get(table, id string) (entity.Row, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.tables[table][id]
	return cloneRow(row), ok
}

// Rows returns the owner's rows in a table, ordered by revision.
func (m *Memory) Rows(table, ownerID string) []entity.Row {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]entity.Row, 0)
	for _, row := range m.tables[table] {
		if row.OwnerID == ownerID {
			out = append(out, cloneRow(row))
		}
	}
	sortByRevision(out)
	return out
}

// RejectID makes every subsequent write for id fail as rejected with msg.
func (m *Memory) RejectID(id, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reject[id] = msg
}

// ClearReject removes a rejection installed by RejectID.
func (m *Memory) ClearReject(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.reject, id)
}

// FailNext makes the next n calls fail as transient.
func (m *Memory) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
}

// Calls returns the operation counters.
func (m *Memory) Calls() Calls {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// fault returns the injected error for a call, if any. Caller holds m.mu.
func (m *Memory) fault(table, id string) error {
	if m.failNext > 0 {
		m.failNext--
		return Transient(http.StatusServiceUnavailable, "injected failure")
	}
	if !entity.Kind(table).Valid() {
		return Rejected(http.StatusNotFound, fmt.Sprintf("unknown table %q", table))
	}
	if msg, ok := m.reject[id]; ok && id != "" {
		return Rejected(http.StatusUnprocessableEntity, msg)
	}
	return nil
}

// put stores a copy of row with a new revision. Caller holds m.mu.
func (m *Memory) put(table string, row entity.Row) entity.Row {
	t := m.tables[table]
	if t == nil {
		t = make(map[string]entity.Row)
		m.tables[table] = t
	}

	row = cloneRow(row)
	row.UpdatedAt = m.clock.Next()
	if existing, ok := t[row.ID]; ok && existing.CreatedAt != "" {
		row.CreatedAt = existing.CreatedAt
	}
	if row.CreatedAt == "" {
		row.CreatedAt = row.UpdatedAt
	}
	if len(row.Payload) == 0 {
		row.Payload = json.RawMessage("null")
	}
	t[row.ID] = row
	return cloneRow(row)
}

func sortByRevision(rows []entity.Row) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].UpdatedAt != rows[j].UpdatedAt {
			return rows[i].UpdatedAt < rows[j].UpdatedAt
		}
		return rows[i].ID < rows[j].ID
	})
}

func cloneRow(r entity.Row) entity.Row {
	if r.Payload != nil {
		r.Payload = append(json.RawMessage(nil), r.Payload...)
	}
	if r.DeletedAt != nil {
		d := *r.DeletedAt
		r.DeletedAt = &d
	}
	return r
}

// RowOwner implements OwnerLookup.
func (m *Memory) RowOwner(ctx context.Context, table, id string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.tables[table][id]
	return row.OwnerID, ok, nil
}
