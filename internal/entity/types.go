package entity

import (
	"encoding/json"
	"fmt"
)

// Kind identifies an entity table. The value doubles as the remote table name.
type Kind string

const (
	KindMethodInstance Kind = "method_instances"
	KindTemplate       Kind = "workout_templates"
	KindSession        Kind = "workout_sessions"
)

// Kinds returns every entity kind in declaration order.
func Kinds() []Kind {
	return []Kind{KindMethodInstance, KindTemplate, KindSession}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindMethodInstance, KindTemplate, KindSession:
		return true
	}
	return false
}

// Table returns the remote (and local mirror) table name for the kind.
func (k Kind) Table() string {
	return string(k)
}

// ParseKind accepts a table name or one of the short aliases
// "method", "template" and "session".
func ParseKind(s string) (Kind, error) {
	switch s {
	case "method", "method_instance", string(KindMethodInstance):
		return KindMethodInstance, nil
	case "template", "workout_template", string(KindTemplate):
		return KindTemplate, nil
	case "session", "workout_session", string(KindSession):
		return KindSession, nil
	}
	return "", fmt.Errorf("unknown entity kind %q", s)
}

// Row is one user-owned entity record, shaped like the remote row object.
// Payload is opaque to the engine.
type Row struct {
	ID        string          `json:"id"`
	OwnerID   string          `json:"owner_id"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt string          `json:"created_at"`
	UpdatedAt string          `json:"updated_at,omitempty"`
	DeletedAt *string         `json:"deleted_at,omitempty"`
}

// Validate checks the fields every row must carry.
func (r Row) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("row id is required")
	}
	if r.OwnerID == "" {
		return fmt.Errorf("row %s: owner_id is required", r.ID)
	}
	if len(r.Payload) > 0 && !json.Valid(r.Payload) {
		return fmt.Errorf("row %s: payload is not valid JSON", r.ID)
	}
	return nil
}

// Op is the mutation recorded by an outbox entry.
type Op string

const (
	OpUpsert Op = "upsert"
	OpDelete Op = "delete"
)

// OutboxEntry is a pending local mutation the remote has not acknowledged.
// Payload holds the full row snapshot for upserts and is nil for deletes.
type OutboxEntry struct {
	ID            int64           `json:"id"`
	OwnerID       string          `json:"owner_id"`
	Kind          Kind            `json:"entity_kind"`
	Op            Op              `json:"op"`
	EntityID      string          `json:"entity_id"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CreatedAt     string          `json:"created_at"`
	Attempts      int             `json:"attempts"`
	LastError     *string         `json:"last_error,omitempty"`
	LastAttemptAt *string         `json:"last_attempt_at,omitempty"`
}

// Row decodes the snapshot carried by an upsert entry.
func (e OutboxEntry) Row() (Row, error) {
	if e.Op != OpUpsert {
		return Row{}, fmt.Errorf("outbox entry %d: %s entries carry no row", e.ID, e.Op)
	}
	var row Row
	if err := json.Unmarshal(e.Payload, &row); err != nil {
		return Row{}, fmt.Errorf("outbox entry %d: decode snapshot: %w", e.ID, err)
	}
	return row, nil
}

// Cursor is the pull watermark for one (owner, kind) pair.
type Cursor struct {
	OwnerID      string `json:"owner_id"`
	Kind         Kind   `json:"entity_kind"`
	LastPulledAt string `json:"last_pulled_at"`
}
