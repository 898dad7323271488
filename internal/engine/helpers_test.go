package engine

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/liftsync/internal/entity"
	"github.com/roach88/liftsync/internal/identity"
	"github.com/roach88/liftsync/internal/remote"
	"github.com/roach88/liftsync/internal/store"
)

const owner = "u1"

type fixture struct {
	store  *store.Store
	remote *remote.Memory
	ident  *identity.Static
	engine *Engine
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newFixture wires an engine to a temp store and an in-memory remote.
// gw overrides the gateway the engine talks to when non-nil.
func newFixture(t *testing.T, gw remote.Gateway, opts ...EngineOption) *fixture {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "sync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	mem := remote.NewMemory()
	if gw == nil {
		gw = mem
	}
	ident := identity.NewStatic(owner, true)

	opts = append([]EngineOption{
		WithLogger(discardLogger()),
		WithCycleIDs(NewSequenceGenerator("cycle")),
	}, opts...)

	return &fixture{
		store:  s,
		remote: mem,
		ident:  ident,
		engine: New(s, gw, ident, opts...),
	}
}

func (f *fixture) put(t *testing.T, kind entity.Kind, id, payload string) {
	t.Helper()
	_, err := f.store.UpsertEntity(context.Background(), kind, entity.Row{
		ID:      id,
		OwnerID: owner,
		Payload: json.RawMessage(payload),
	})
	require.NoError(t, err)
}

func (f *fixture) pending(t *testing.T) []entity.OutboxEntry {
	t.Helper()
	entries, err := f.store.ListPending(context.Background(), owner, 0)
	require.NoError(t, err)
	return entries
}

func (f *fixture) sync(t *testing.T) Summary {
	t.Helper()
	sum, err := f.engine.RunCycle(context.Background())
	require.NoError(t, err)
	return sum
}
