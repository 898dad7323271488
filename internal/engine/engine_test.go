package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/liftsync/internal/entity"
	"github.com/roach88/liftsync/internal/remote"
)

func TestRunCycle_SignedOutIsNoop(t *testing.T) {
	f := newFixture(t, nil)
	f.put(t, entity.KindTemplate, "t1", `{}`)
	f.ident.SignOut()

	sum, err := f.engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{}, sum)
	assert.False(t, sum.Ran())
	assert.Equal(t, remote.Calls{}, f.remote.Calls())
}

func TestRunCycle_OfflineWriteThenReconnect(t *testing.T) {
	f := newFixture(t, nil)
	f.ident.SetOnline(false)

	f.put(t, entity.KindSession, "e1", `{"exercise":"squat"}`)
	require.Len(t, f.pending(t), 1)

	sum := f.sync(t)
	assert.Equal(t, 0, sum.Pushed)
	assert.False(t, sum.Ran())
	require.Len(t, f.pending(t), 1, "offline cycle leaves the outbox alone")

	f.ident.SetOnline(true)
	sum = f.sync(t)
	assert.Equal(t, 1, sum.Pushed)
	assert.Empty(t, f.pending(t))

	row, ok := f.remote.Get(string(entity.KindSession), "e1")
	require.True(t, ok)
	assert.JSONEq(t, `{"exercise":"squat"}`, string(row.Payload))
}

func TestRunCycle_PushFailureHaltsBatch(t *testing.T) {
	f := newFixture(t, nil)
	f.put(t, entity.KindTemplate, "A", `{}`)
	f.put(t, entity.KindTemplate, "B", `{}`)
	f.put(t, entity.KindTemplate, "C", `{}`)
	f.remote.RejectID("B", "name is required")

	sum := f.sync(t)
	assert.Equal(t, 1, sum.Pushed)
	assert.Equal(t, 1, sum.Failed)

	_, ok := f.remote.Get(string(entity.KindTemplate), "A")
	assert.True(t, ok, "A delivered")
	_, ok = f.remote.Get(string(entity.KindTemplate), "C")
	assert.False(t, ok, "C never delivered after B failed")

	pending := f.pending(t)
	require.Len(t, pending, 2)

	b, c := pending[0], pending[1]
	assert.Equal(t, "B", b.EntityID)
	assert.Equal(t, 1, b.Attempts)
	require.NotNil(t, b.LastError)
	assert.Contains(t, *b.LastError, "name is required")

	assert.Equal(t, "C", c.EntityID)
	assert.Equal(t, 0, c.Attempts)
	assert.Nil(t, c.LastError)

	assert.Equal(t, 2, f.remote.Calls().Upserts, "A and B attempted once each, C never")
}

func TestRunCycle_TransientFailureRetriedNextCycle(t *testing.T) {
	f := newFixture(t, nil)
	f.put(t, entity.KindTemplate, "A", `{}`)
	f.remote.FailNext(1)

	sum := f.sync(t)
	assert.Equal(t, 0, sum.Pushed)
	assert.Equal(t, 1, sum.Failed)
	require.Len(t, f.pending(t), 1)

	sum = f.sync(t)
	assert.Equal(t, 1, sum.Pushed)
	assert.Empty(t, f.pending(t))
}

func TestRunCycle_PaginatedPullAdvancesCursorToMax(t *testing.T) {
	f := newFixture(t, nil, WithPageSize(500))
	table := string(entity.KindSession)

	var last entity.Row
	for i := 0; i < 650; i++ {
		last = f.remote.Put(table, entity.Row{ID: fmt.Sprintf("s%03d", i), OwnerID: owner, Payload: []byte(`{}`)})
	}

	sum := f.sync(t)
	assert.Equal(t, 650, sum.Pulled[entity.KindSession])

	n, err := f.store.CountEntities(context.Background(), entity.KindSession, owner)
	require.NoError(t, err)
	assert.Equal(t, 650, n)

	cursor, err := f.store.Cursor(context.Background(), owner, entity.KindSession)
	require.NoError(t, err)
	assert.Equal(t, last.UpdatedAt, cursor)

	// 2 pages for sessions, 1 empty page for each other kind.
	assert.Equal(t, 2+len(entity.Kinds())-1, f.remote.Calls().Queries)

	// Nothing new: next cycle pulls nothing.
	sum = f.sync(t)
	assert.Equal(t, 0, sum.TotalPulled())
}

func TestRunCycle_PullSkipsPendingIDs(t *testing.T) {
	f := newFixture(t, nil)
	table := string(entity.KindTemplate)

	remoteRow := f.remote.Put(table, entity.Row{ID: "t1", OwnerID: owner, Payload: []byte(`{"from":"other device"}`)})
	f.put(t, entity.KindTemplate, "t1", `{"from":"this device"}`)
	f.remote.RejectID("t1", "conflict")

	sum := f.sync(t)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 0, sum.Pulled[entity.KindTemplate])
	assert.Equal(t, 1, sum.Skipped[entity.KindTemplate])

	row, err := f.store.GetEntity(context.Background(), entity.KindTemplate, "t1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"from":"this device"}`, string(row.Payload), "pending local write not overwritten")

	cursor, err := f.store.Cursor(context.Background(), owner, entity.KindTemplate)
	require.NoError(t, err)
	assert.Equal(t, remoteRow.UpdatedAt, cursor, "skipped rows still count as observed")
}

func TestRunCycle_CursorNeverRegresses(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	future := "2999-01-01T00:00:00.000000Z"

	_, err := f.store.AdvanceCursor(ctx, owner, entity.KindSession, future)
	require.NoError(t, err)
	f.remote.Put(string(entity.KindSession), entity.Row{ID: "old", OwnerID: owner})

	sum := f.sync(t)
	assert.Equal(t, 0, sum.Pulled[entity.KindSession])

	cursor, err := f.store.Cursor(ctx, owner, entity.KindSession)
	require.NoError(t, err)
	assert.Equal(t, future, cursor)
}

func TestRunCycle_IdempotentReplay(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.put(t, entity.KindMethodInstance, "m1", `{"tm":100}`)

	// Crash between remote success and MarkDone: the entry is delivered
	// again on the next cycle.
	entry := f.pending(t)[0]
	row, err := entry.Row()
	require.NoError(t, err)
	require.NoError(t, f.remote.Upsert(ctx, entry.Kind.Table(), row))
	once, _ := f.remote.Get(entry.Kind.Table(), "m1")

	sum := f.sync(t)
	assert.Equal(t, 1, sum.Pushed)
	twice, _ := f.remote.Get(entry.Kind.Table(), "m1")

	assert.Equal(t, once.Payload, twice.Payload)
	assert.Equal(t, once.OwnerID, twice.OwnerID)
	assert.Equal(t, once.CreatedAt, twice.CreatedAt)
	assert.Len(t, f.remote.Rows(entry.Kind.Table(), owner), 1)
}

func TestRunCycle_LastLocalWriteWins(t *testing.T) {
	f := newFixture(t, nil)
	for i := 1; i <= 3; i++ {
		f.put(t, entity.KindSession, "s1", fmt.Sprintf(`{"v":%d}`, i))
	}

	sum := f.sync(t)
	assert.Equal(t, 3, sum.Pushed)

	row, ok := f.remote.Get(string(entity.KindSession), "s1")
	require.True(t, ok)
	assert.JSONEq(t, `{"v":3}`, string(row.Payload))

	// The own write comes back with its server revision and lands unchanged.
	local, err := f.store.GetEntity(context.Background(), entity.KindSession, "s1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":3}`, string(local.Payload))
	assert.Equal(t, row.UpdatedAt, local.UpdatedAt)
}

func TestRunCycle_DeletePropagates(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.put(t, entity.KindTemplate, "t1", `{}`)
	f.sync(t)

	require.NoError(t, f.store.MarkDeleted(ctx, entity.KindTemplate, owner, "t1"))
	sum := f.sync(t)
	assert.Equal(t, 1, sum.Pushed)

	_, ok := f.remote.Get(string(entity.KindTemplate), "t1")
	assert.False(t, ok)
	assert.Empty(t, f.pending(t))
}

func TestRunCycle_PullErrorIsPerKind(t *testing.T) {
	f := newFixture(t, nil)
	for _, k := range entity.Kinds() {
		f.remote.Put(k.Table(), entity.Row{ID: "x-" + string(k), OwnerID: owner})
	}
	f.remote.FailNext(1)

	sum, err := f.engine.RunCycle(context.Background())
	require.NoError(t, err, "remote failures never fail the cycle")
	assert.Len(t, sum.PullErrors, 1)
	assert.Equal(t, len(entity.Kinds())-1, sum.TotalPulled())

	// The failed kind catches up next cycle.
	sum = f.sync(t)
	assert.Empty(t, sum.PullErrors)
	assert.Equal(t, 1, sum.TotalPulled())
}

func TestRunCycle_MaxPagesBoundsPull(t *testing.T) {
	f := newFixture(t, nil, WithPageSize(2), WithMaxPages(2))
	for i := 0; i < 7; i++ {
		f.remote.Put(string(entity.KindSession), entity.Row{ID: fmt.Sprintf("s%d", i), OwnerID: owner})
	}

	sum := f.sync(t)
	assert.Equal(t, 4, sum.Pulled[entity.KindSession])

	sum = f.sync(t)
	assert.Equal(t, 3, sum.Pulled[entity.KindSession], "next cycle resumes after the cursor")
}

// editingGateway lets another device update a row right after the first
// page of a table has been served.
type editingGateway struct {
	*remote.Memory
	table  string
	once   sync.Once
	onPage func()
}

func (g *editingGateway) QueryRange(ctx context.Context, table, ownerID, since string, offset, limit int) ([]entity.Row, error) {
	rows, err := g.Memory.QueryRange(ctx, table, ownerID, since, offset, limit)
	if err == nil && table == g.table {
		g.once.Do(g.onPage)
	}
	return rows, err
}

func TestRunCycle_RemoteEditBetweenPagesLosesNothing(t *testing.T) {
	gw := &editingGateway{table: string(entity.KindSession)}
	f := newFixture(t, gw, WithPageSize(5))
	gw.Memory = f.remote

	for i := 0; i < 8; i++ {
		f.remote.Put(gw.table, entity.Row{ID: fmt.Sprintf("s%03d", i), OwnerID: owner, Payload: []byte(`{"v":1}`)})
	}
	var edited entity.Row
	gw.onPage = func() {
		edited = f.remote.Put(gw.table, entity.Row{ID: "s000", OwnerID: owner, Payload: []byte(`{"v":2}`)})
	}

	sum := f.sync(t)
	assert.Equal(t, 9, sum.Pulled[entity.KindSession], "s000 arrives twice, every other row once")

	ctx := context.Background()
	n, err := f.store.CountEntities(ctx, entity.KindSession, owner)
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	for i := 0; i < 8; i++ {
		_, err := f.store.GetEntity(ctx, entity.KindSession, fmt.Sprintf("s%03d", i))
		assert.NoError(t, err, "s%03d", i)
	}
	row, err := f.store.GetEntity(ctx, entity.KindSession, "s000")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":2}`, string(row.Payload))

	cursor, err := f.store.Cursor(ctx, owner, entity.KindSession)
	require.NoError(t, err)
	assert.Equal(t, edited.UpdatedAt, cursor)
}

// switchingGateway signs a different owner in while a push is in flight.
type switchingGateway struct {
	remote.Gateway
	onUpsert func()
}

func (g *switchingGateway) Upsert(ctx context.Context, table string, row entity.Row) error {
	err := g.Gateway.Upsert(ctx, table, row)
	g.onUpsert()
	return err
}

func TestRunCycle_OwnerChangeDiscardsCycle(t *testing.T) {
	gw := &switchingGateway{}
	f := newFixture(t, gw)
	gw.Gateway = f.remote
	gw.onUpsert = func() { f.ident.SetOwner("u2") }

	f.put(t, entity.KindTemplate, "t1", `{}`)
	f.put(t, entity.KindTemplate, "t2", `{}`)

	sum, err := f.engine.RunCycle(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOwnerChanged))
	assert.Equal(t, Summary{}, sum)

	assert.Len(t, f.pending(t), 2, "no outbox write after the switch")
	assert.Equal(t, 0, f.remote.Calls().Queries, "pull never started")
}

func TestRunCycle_StoreFailureAborts(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.store.Close())

	_, err := f.engine.RunCycle(context.Background())
	require.Error(t, err)
	assert.True(t, IsStoreError(err))
}

// blockingGateway holds every upsert until released.
type blockingGateway struct {
	remote.Gateway
	entered chan struct{}
	release chan struct{}
}

func (g *blockingGateway) Upsert(ctx context.Context, table string, row entity.Row) error {
	g.entered <- struct{}{}
	<-g.release
	return g.Gateway.Upsert(ctx, table, row)
}

func TestRunCycle_CyclesAreSerialized(t *testing.T) {
	gw := &blockingGateway{entered: make(chan struct{}, 1), release: make(chan struct{})}
	f := newFixture(t, gw)
	gw.Gateway = f.remote
	f.put(t, entity.KindTemplate, "t1", `{}`)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = f.engine.RunCycle(context.Background())
	}()
	<-gw.entered

	go func() {
		defer wg.Done()
		_, _ = f.engine.RunCycle(context.Background())
	}()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, f.remote.Calls().Queries, "second cycle waits for the first")

	close(gw.release)
	wg.Wait()
	assert.Equal(t, 2*len(entity.Kinds()), f.remote.Calls().Queries)
}

func TestClearOwner(t *testing.T) {
	f := newFixture(t, nil)
	f.put(t, entity.KindTemplate, "t1", `{}`)

	f.ident.SignOut()
	n, err := f.engine.ClearOwner(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Empty(t, f.pending(t))
}

func TestSummary_String(t *testing.T) {
	assert.Equal(t, "skipped (signed out or offline)", Summary{}.String())

	s := newSummary("c1", owner)
	s.Pushed = 2
	s.Pulled[entity.KindSession] = 3
	s.Skipped[entity.KindTemplate] = 1
	s.PullErrors[entity.KindMethodInstance] = "TRANSIENT (503): down"
	assert.Equal(t,
		"pushed=2 failed=0 method_instances=0(error: TRANSIENT (503): down) workout_templates=0(skipped 1) workout_sessions=3",
		s.String())
}
