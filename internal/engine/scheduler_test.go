package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/liftsync/internal/identity"
)

// fakeCycler counts cycles and can hold the first one open.
type fakeCycler struct {
	mu      sync.Mutex
	runs    int
	started chan struct{}
	release chan struct{}
}

func newFakeCycler() *fakeCycler {
	return &fakeCycler{
		started: make(chan struct{}, 100),
		release: make(chan struct{}),
	}
}

func (c *fakeCycler) RunCycle(ctx context.Context) (Summary, error) {
	c.mu.Lock()
	c.runs++
	c.mu.Unlock()

	select {
	case c.started <- struct{}{}:
	default:
	}
	select {
	case <-c.release:
	case <-ctx.Done():
		return Summary{}, ctx.Err()
	}
	return Summary{CycleID: "c"}, nil
}

func (c *fakeCycler) Runs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runs
}

func startScheduler(t *testing.T, s *Scheduler) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(2 * time.Second):
			t.Error("scheduler did not stop")
		}
	})
}

func TestScheduler_InitialTrigger(t *testing.T) {
	c := newFakeCycler()
	close(c.release)
	s := NewScheduler(c, WithInterval(0), WithSchedulerLogger(discardLogger()))
	startScheduler(t, s)

	require.Eventually(t, func() bool { return s.Cycles() == 1 }, time.Second, 5*time.Millisecond)
}

func TestScheduler_CoalescesTriggersDuringCycle(t *testing.T) {
	c := newFakeCycler()
	s := NewScheduler(c, WithInterval(0), WithSchedulerLogger(discardLogger()))
	startScheduler(t, s)

	<-c.started // initial cycle in flight

	queued := 0
	for i := 0; i < 10; i++ {
		if s.Trigger("manual") {
			queued++
		}
	}
	assert.Equal(t, 1, queued, "only the first trigger is buffered")

	close(c.release)
	require.Eventually(t, func() bool { return s.Cycles() == 2 }, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, c.Runs(), "exactly one follow-up cycle")
}

func TestScheduler_TransitionsTrigger(t *testing.T) {
	c := newFakeCycler()
	close(c.release)
	s := NewScheduler(c, WithInterval(0), WithSchedulerLogger(discardLogger()))
	startScheduler(t, s)
	require.Eventually(t, func() bool { return s.Cycles() == 1 }, time.Second, 5*time.Millisecond)

	s.SetOnline(true) // already online: no transition
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, s.Cycles())

	s.SetOnline(false)
	s.SetOnline(true)
	require.Eventually(t, func() bool { return s.Cycles() == 2 }, time.Second, 5*time.Millisecond)

	s.SetForeground(false)
	s.SetForeground(true)
	require.Eventually(t, func() bool { return s.Cycles() == 3 }, time.Second, 5*time.Millisecond)
}

func TestScheduler_FollowsIdentityConnectivity(t *testing.T) {
	c := newFakeCycler()
	close(c.release)
	ident := identity.NewStatic("u1", false)
	s := NewScheduler(c,
		WithInterval(10*time.Millisecond),
		WithConnectivity(ident),
		WithSchedulerLogger(discardLogger()),
	)
	startScheduler(t, s)

	require.Eventually(t, func() bool { return s.Cycles() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, s.Cycles(), "offline provider: no timer cycles")

	ident.SetOnline(true)
	require.Eventually(t, func() bool { return s.Cycles() >= 2 }, time.Second, 5*time.Millisecond,
		"going online on the provider triggers a cycle")
}

func TestScheduler_IntervalOnlyWhileActive(t *testing.T) {
	c := newFakeCycler()
	close(c.release)
	s := NewScheduler(c,
		WithInterval(10*time.Millisecond),
		WithInitialState(true, false),
		WithSchedulerLogger(discardLogger()),
	)
	startScheduler(t, s)

	require.Eventually(t, func() bool { return s.Cycles() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, s.Cycles(), "no timer cycles in the background")

	s.SetForeground(true)
	require.Eventually(t, func() bool { return s.Cycles() >= 4 }, time.Second, 5*time.Millisecond)
}

func TestScheduler_OnCycleHook(t *testing.T) {
	c := newFakeCycler()
	close(c.release)

	got := make(chan Summary, 1)
	s := NewScheduler(c,
		WithInterval(0),
		WithSchedulerLogger(discardLogger()),
		WithOnCycle(func(sum Summary, err error) {
			assert.NoError(t, err)
			got <- sum
		}),
	)
	startScheduler(t, s)

	select {
	case sum := <-got:
		assert.Equal(t, "c", sum.CycleID)
	case <-time.After(time.Second):
		t.Fatal("hook not called")
	}
}

func TestScheduler_DrivesEngine(t *testing.T) {
	f := newFixture(t, nil)
	f.put(t, "workout_sessions", "s1", `{}`)

	s := NewScheduler(f.engine, WithInterval(0), WithSchedulerLogger(discardLogger()))
	startScheduler(t, s)

	require.Eventually(t, func() bool { return s.Cycles() == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, f.pending(t))
}
