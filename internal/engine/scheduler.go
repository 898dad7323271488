package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/liftsync/internal/identity"
)

// DefaultInterval is the period of timer-triggered cycles.
const DefaultInterval = 60 * time.Second

// Cycler runs one sync cycle. Implemented by *Engine.
type Cycler interface {
	RunCycle(ctx context.Context) (Summary, error)
}

// Scheduler drives a Cycler from triggers.
//
// Triggers come from Run starting, SetOnline/SetForeground transitions to
// true, the interval timer (only while both online and foreground) and
// explicit Trigger calls. With WithConnectivity the scheduler follows the
// identity provider's online flag and SetOnline need not be called. The signal channel has a buffer of one: a trigger
// that arrives while a cycle runs queues exactly one follow-up cycle, and
// further triggers are dropped until that one starts.
//
// Thread-safety model:
//   - Trigger(), SetOnline(), SetForeground(), Cycles(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
type Scheduler struct {
	cycler   Cycler
	interval time.Duration
	logger   *slog.Logger
	onCycle  func(Summary, error)

	signal chan string // buffered, size 1

	mu         sync.Mutex
	online     bool
	foreground bool

	conn identity.Connectivity

	cycles atomic.Int64
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithInterval sets the timer period. Zero disables the timer.
func WithInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.interval = d
	}
}

// WithSchedulerLogger sets the logger. Defaults to slog.Default().
func WithSchedulerLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// WithOnCycle registers a hook called after every cycle, from the Run
// goroutine.
func WithOnCycle(fn func(Summary, error)) SchedulerOption {
	return func(s *Scheduler) {
		s.onCycle = fn
	}
}

// WithInitialState sets the connectivity and foreground state before Run.
// Both default to true.
func WithInitialState(online, foreground bool) SchedulerOption {
	return func(s *Scheduler) {
		s.online = online
		s.foreground = foreground
	}
}

// WithConnectivity makes the scheduler take its online state from c and
// trigger a cycle whenever c goes online.
func WithConnectivity(c identity.Connectivity) SchedulerOption {
	return func(s *Scheduler) {
		s.conn = c
	}
}

// NewScheduler creates a scheduler for c.
func NewScheduler(c Cycler, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		cycler:     c,
		interval:   DefaultInterval,
		logger:     slog.Default(),
		signal:     make(chan string, 1),
		online:     true,
		foreground: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.conn != nil {
		s.online = s.conn.Online()
		s.conn.WatchOnline(s.SetOnline)
	}
	return s
}

// Trigger requests a cycle. Returns false if a cycle was already queued and
// this trigger was coalesced into it.
func (s *Scheduler) Trigger(reason string) bool {
	select {
	case s.signal <- reason:
		return true
	default:
		s.logger.Debug("sync trigger coalesced", "reason", reason)
		return false
	}
}

// SetOnline records connectivity. Going online triggers a cycle.
func (s *Scheduler) SetOnline(online bool) {
	s.mu.Lock()
	was := s.online
	s.online = online
	s.mu.Unlock()

	if online && !was {
		s.Trigger("online")
	}
}

// SetForeground records app visibility. Coming to the foreground triggers
// a cycle.
func (s *Scheduler) SetForeground(foreground bool) {
	s.mu.Lock()
	was := s.foreground
	s.foreground = foreground
	s.mu.Unlock()

	if foreground && !was {
		s.Trigger("foreground")
	}
}

// Cycles returns the number of cycles run so far.
func (s *Scheduler) Cycles() int {
	return int(s.cycles.Load())
}

func (s *Scheduler) active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online && s.foreground
}

// Run triggers an initial cycle and then serves triggers until ctx is
// cancelled. Cycle errors are logged; they never stop the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler starting", "interval", s.interval)
	s.Trigger("start")

	var tick <-chan time.Time
	if s.interval > 0 {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping: context cancelled")
			return ctx.Err()

		case <-tick:
			if s.active() {
				s.Trigger("interval")
			}

		case reason := <-s.signal:
			s.runOne(ctx, reason)
		}
	}
}

func (s *Scheduler) runOne(ctx context.Context, reason string) {
	s.logger.Debug("sync triggered", "reason", reason)
	sum, err := s.cycler.RunCycle(ctx)
	s.cycles.Add(1)
	if err != nil && ctx.Err() == nil {
		s.logger.Error("sync cycle failed", "reason", reason, "error", err)
	}
	if s.onCycle != nil {
		s.onCycle(sum, err)
	}
}
