package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/liftsync/internal/entity"
)

const table = "workout_sessions"

func fixedClock() func() time.Time {
	t := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return t }
}

func row(id, owner, payload string) entity.Row {
	return entity.Row{ID: id, OwnerID: owner, Payload: json.RawMessage(payload)}
}

func TestMemory_UpsertAssignsIncreasingRevisions(t *testing.T) {
	m := NewMemory(WithRevisionClock(fixedClock()))
	ctx := context.Background()

	require.NoError(t, m.Upsert(ctx, table, row("a", "u1", `{"v":1}`)))
	require.NoError(t, m.Upsert(ctx, table, row("b", "u1", `{}`)))
	require.NoError(t, m.Upsert(ctx, table, row("a", "u1", `{"v":2}`)))

	a, ok := m.Get(table, "a")
	require.True(t, ok)
	b, ok := m.Get(table, "b")
	require.True(t, ok)

	assert.Equal(t, "2024-06-01T12:00:00.000002Z", a.UpdatedAt)
	assert.Equal(t, "2024-06-01T12:00:00.000001Z", b.UpdatedAt)
	assert.Equal(t, "2024-06-01T12:00:00.000000Z", a.CreatedAt, "created_at kept across replace")
	assert.JSONEq(t, `{"v":2}`, string(a.Payload))
}

func TestMemory_UpsertIsIdempotent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	r := row("a", "u1", `{"sets":3}`)
	require.NoError(t, m.Upsert(ctx, table, r))
	first, _ := m.Get(table, "a")
	require.NoError(t, m.Upsert(ctx, table, r))
	second, _ := m.Get(table, "a")

	assert.Equal(t, first.Payload, second.Payload)
	assert.Equal(t, first.OwnerID, second.OwnerID)
	assert.Len(t, m.Rows(table, "u1"), 1)
}

func TestMemory_UpsertRefusesAnotherOwnersRow(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.Upsert(ctx, table, row("a", "u1", `{"v":1}`)))

	err := m.Upsert(ctx, table, row("a", "u2", `{"v":2}`))
	require.True(t, IsRejected(err), "got %v", err)
	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, http.StatusForbidden, rerr.Status)

	got, _ := m.Get(table, "a")
	assert.Equal(t, "u1", got.OwnerID)
	assert.JSONEq(t, `{"v":1}`, string(got.Payload))
}

func TestMemory_ConcurrentOwnersOnOneIDOnlyOneWins(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("r%d", i)
		errs := make([]error, 2)
		var wg sync.WaitGroup
		for j, owner := range []string{"u1", "u2"} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs[j] = m.Upsert(ctx, table, row(id, owner, `{}`))
			}()
		}
		wg.Wait()

		won := 0
		for _, err := range errs {
			if err == nil {
				won++
			} else {
				assert.True(t, IsRejected(err), "%s: %v", id, err)
			}
		}
		assert.Equal(t, 1, won, id)
	}
}

func TestMemory_DeleteIsIdempotent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.Upsert(ctx, table, row("a", "u1", `{}`)))
	require.NoError(t, m.Delete(ctx, table, "a"))
	require.NoError(t, m.Delete(ctx, table, "a"))

	_, ok := m.Get(table, "a")
	assert.False(t, ok)
	assert.Equal(t, Calls{Upserts: 1, Deletes: 2}, m.Calls())
}

func TestMemory_QueryRangePaginates(t *testing.T) {
	m := NewMemory(WithRevisionClock(fixedClock()))
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		m.Put(table, row(fmt.Sprintf("r%d", i), "u1", `{}`))
	}
	m.Put(table, row("other", "u2", `{}`))

	var got []string
	for offset := 0; ; offset += 3 {
		page, err := m.QueryRange(ctx, table, "u1", "", offset, 3)
		require.NoError(t, err)
		for _, r := range page {
			got = append(got, r.ID)
		}
		if len(page) < 3 {
			break
		}
	}
	assert.Equal(t, []string{"r0", "r1", "r2", "r3", "r4", "r5", "r6"}, got)

	since := "2024-06-01T12:00:00.000003Z"
	page, err := m.QueryRange(ctx, table, "u1", since, 0, 100)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, "r4", page[0].ID, "strictly greater than since")
}

func TestMemory_FaultInjection(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	m.FailNext(1)
	err := m.Upsert(ctx, table, row("a", "u1", `{}`))
	assert.True(t, IsTransient(err))
	require.NoError(t, m.Upsert(ctx, table, row("a", "u1", `{}`)), "only the next call fails")

	m.RejectID("b", "template name required")
	err = m.Upsert(ctx, table, row("b", "u1", `{}`))
	assert.True(t, IsRejected(err))
	assert.Contains(t, err.Error(), "template name required")
	err = m.Delete(ctx, table, "b")
	assert.True(t, IsRejected(err))

	m.ClearReject("b")
	assert.NoError(t, m.Upsert(ctx, table, row("b", "u1", `{}`)))
}

func TestMemory_RejectsUnknownTableAndInvalidRow(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	err := m.Upsert(ctx, "nope", row("a", "u1", `{}`))
	assert.True(t, IsRejected(err))

	err = m.Upsert(ctx, table, row("a", "", `{}`))
	assert.True(t, IsRejected(err))

	_, err = m.QueryRange(ctx, "nope", "u1", "", 0, 10)
	assert.True(t, IsRejected(err))
}

func TestMemory_CancelledContext(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, m.Upsert(ctx, table, row("a", "u1", `{}`)), context.Canceled)
	_, err := m.QueryRange(ctx, table, "u1", "", 0, 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Calls{}, m.Calls())
}
