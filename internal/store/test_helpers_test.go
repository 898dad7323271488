package store

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/liftsync/internal/entity"
	"github.com/roach88/liftsync/internal/testutil"
)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithClock(testutil.NewClock(testutil.Epoch, time.Second).Now))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRow creates a row with the given id, owner and payload.
func createTestRow(id, owner, payload string) entity.Row {
	return entity.Row{
		ID:      id,
		OwnerID: owner,
		Payload: json.RawMessage(payload),
	}
}
