package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/liftsync/internal/entity"
	"github.com/roach88/liftsync/internal/identity"
	"github.com/roach88/liftsync/internal/remote"
	"github.com/roach88/liftsync/internal/store"
)

const (
	// DefaultPushBatch bounds how many outbox entries one cycle delivers.
	DefaultPushBatch = 200

	// DefaultPageSize is the number of rows requested per pull page.
	DefaultPageSize = 500

	// DefaultMaxPages stops a runaway pull on pathological data.
	DefaultMaxPages = 100
)

// Engine runs sync cycles between the local store and a remote gateway.
//
// Thread-safety model:
//   - RunCycle(): safe from any goroutine; cycles are serialized
//   - ClearOwner(): safe from any goroutine; waits for the running cycle
//
// The engine keeps no entity state between cycles. Everything it needs is
// read from the store at the start of each phase.
type Engine struct {
	store    *store.Store
	gw       remote.Gateway
	identity identity.Provider
	ids      CycleIDGenerator
	logger   *slog.Logger

	pushBatch int
	pageSize  int
	maxPages  int

	// mu is held for the whole of a cycle.
	mu sync.Mutex
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithPushBatch sets the maximum number of outbox entries per cycle.
func WithPushBatch(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.pushBatch = n
		}
	}
}

// WithPageSize sets the pull page size.
func WithPageSize(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.pageSize = n
		}
	}
}

// WithMaxPages sets the per-kind page limit of one pull.
func WithMaxPages(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxPages = n
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithCycleIDs sets the cycle id generator. Defaults to UUIDv7Generator.
func WithCycleIDs(g CycleIDGenerator) EngineOption {
	return func(e *Engine) {
		e.ids = g
	}
}

// New creates an Engine.
func New(s *store.Store, gw remote.Gateway, id identity.Provider, opts ...EngineOption) *Engine {
	e := &Engine{
		store:     s,
		gw:        gw,
		identity:  id,
		ids:       UUIDv7Generator{},
		logger:    slog.Default(),
		pushBatch: DefaultPushBatch,
		pageSize:  DefaultPageSize,
		maxPages:  DefaultMaxPages,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunCycle pushes pending local changes and then pulls remote changes for
// the owner signed in at the time of the call.
//
// Signed out or offline, it is a no-op returning a zero Summary and nil.
// Remote failures never make RunCycle fail: they are recorded on the outbox
// entry or in Summary.PullErrors and retried on the next cycle. A returned
// error is a *StoreError, ErrOwnerChanged or a context error.
func (e *Engine) RunCycle(ctx context.Context) (Summary, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	owner, ok := e.identity.OwnerID()
	if !ok {
		e.logger.Debug("sync skipped: signed out")
		return Summary{}, nil
	}
	if !e.identity.Online() {
		e.logger.Debug("sync skipped: offline")
		return Summary{}, nil
	}

	sum := newSummary(e.ids.Generate(), owner)
	log := e.logger.With("cycle", sum.CycleID, "owner", owner)
	start := time.Now()
	log.Debug("sync cycle starting")

	if err := e.push(ctx, log, owner, &sum); err != nil {
		return e.fail(log, sum, err)
	}
	if err := e.pull(ctx, log, owner, &sum); err != nil {
		return e.fail(log, sum, err)
	}

	log.Info("sync cycle complete", "summary", sum, "duration", time.Since(start))
	return sum, nil
}

// ClearOwner removes all local data of owner once no cycle is running.
// Call it after the identity provider has signed the owner out, so that a
// cycle still in flight stops at its next write instead of finishing.
func (e *Engine) ClearOwner(ctx context.Context, owner string) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	n, err := e.store.ClearOwnerData(ctx, owner)
	if err != nil {
		return 0, storeErr("clear owner data", err)
	}
	e.logger.Info("owner data cleared", "owner", owner, "rows", n)
	return n, nil
}

func (e *Engine) fail(log *slog.Logger, sum Summary, err error) (Summary, error) {
	if errors.Is(err, ErrOwnerChanged) {
		log.Warn("sync cycle discarded: owner changed")
		return Summary{}, err
	}
	log.Error("sync cycle aborted", "error", err)
	return sum, err
}

// checkOwner fails with ErrOwnerChanged unless owner is still signed in.
// Called before every store write of a cycle.
func (e *Engine) checkOwner(owner string) error {
	current, ok := e.identity.OwnerID()
	if !ok || current != owner {
		return ErrOwnerChanged
	}
	return nil
}

// push delivers pending entries oldest-first and stops at the first failure.
func (e *Engine) push(ctx context.Context, log *slog.Logger, owner string, sum *Summary) error {
	entries, err := e.store.ListPending(ctx, owner, e.pushBatch)
	if err != nil {
		return storeErr("list pending", err)
	}

	for _, entry := range entries {
		if err := e.checkOwner(owner); err != nil {
			return err
		}

		if err := e.deliver(ctx, entry); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if err := e.checkOwner(owner); err != nil {
				return err
			}
			if merr := e.store.MarkFailed(ctx, entry.ID, err.Error()); merr != nil {
				return storeErr("mark failed", merr)
			}
			sum.Failed++
			log.Warn("push failed, halting batch",
				"entry", entry.ID,
				"op", entry.Op,
				"kind", entry.Kind,
				"entity", entry.EntityID,
				"attempts", entry.Attempts+1,
				"rejected", remote.IsRejected(err),
				"error", err,
			)
			return nil
		}

		if err := e.checkOwner(owner); err != nil {
			return err
		}
		if err := e.store.MarkDone(ctx, entry); err != nil {
			return storeErr("mark done", err)
		}
		sum.Pushed++
		log.Debug("pushed", "entry", entry.ID, "op", entry.Op, "kind", entry.Kind, "entity", entry.EntityID)
	}
	return nil
}

// deliver performs the remote operation an entry represents. Each entry is
// attempted once per cycle.
func (e *Engine) deliver(ctx context.Context, entry entity.OutboxEntry) error {
	switch entry.Op {
	case entity.OpUpsert:
		row, err := entry.Row()
		if err != nil {
			return err
		}
		return e.gw.Upsert(ctx, entry.Kind.Table(), row)
	case entity.OpDelete:
		return e.gw.Delete(ctx, entry.Kind.Table(), entry.EntityID)
	default:
		return fmt.Errorf("outbox entry %d: unknown op %q", entry.ID, entry.Op)
	}
}

// kindResult is what pulling one kind produced.
type kindResult struct {
	pulled  int
	skipped int
	err     error
}

// pull runs every kind concurrently. Remote errors are recorded per kind;
// store errors, owner changes and cancellation abort the whole phase.
func (e *Engine) pull(ctx context.Context, log *slog.Logger, owner string, sum *Summary) error {
	pending, err := e.store.PendingIDs(ctx, owner)
	if err != nil {
		return storeErr("pending ids", err)
	}

	kinds := entity.Kinds()
	results := make([]kindResult, len(kinds))

	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range kinds {
		g.Go(func() error {
			res, err := e.pullKind(gctx, log, owner, kind, pending[kind])
			results[i] = res
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, kind := range kinds {
		res := results[i]
		sum.Pulled[kind] = res.pulled
		if res.skipped > 0 {
			sum.Skipped[kind] = res.skipped
		}
		if res.err != nil {
			sum.PullErrors[kind] = res.err.Error()
		}
	}
	return nil
}

// pullKind pages through remote rows newer than the stored cursor. Each page
// asks for rows after the greatest revision seen so far, so a row edited on
// another device mid-pull moves to a later page instead of shifting the
// boundary. The cursor moves once, at the end, to the greatest revision
// observed, including rows skipped because they are pending locally.
func (e *Engine) pullKind(ctx context.Context, log *slog.Logger, owner string, kind entity.Kind, pending map[string]struct{}) (kindResult, error) {
	var res kindResult

	since, err := e.store.Cursor(ctx, owner, kind)
	if err != nil {
		return res, storeErr("read cursor", err)
	}
	maxRev := since

	for page := 0; page < e.maxPages; page++ {
		rows, err := e.gw.QueryRange(ctx, kind.Table(), owner, maxRev, 0, e.pageSize)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, ctxErr
			}
			res.err = err
			log.Warn("pull failed", "kind", kind, "page", page, "error", err)
			break
		}

		for _, row := range rows {
			if row.UpdatedAt > maxRev {
				maxRev = row.UpdatedAt
			}
			if _, ok := pending[row.ID]; ok {
				res.skipped++
				continue
			}
			if err := e.checkOwner(owner); err != nil {
				return res, err
			}
			applied, err := e.store.ApplyRemoteRow(ctx, kind, owner, row)
			if err != nil {
				return res, storeErr("apply remote row", err)
			}
			if applied {
				res.pulled++
			} else {
				// Written locally after the pending set was taken.
				res.skipped++
			}
		}

		if len(rows) < e.pageSize {
			break
		}
		if page+1 == e.maxPages {
			log.Warn("pull page limit reached", "kind", kind, "pages", e.maxPages)
		}
	}

	if maxRev > since {
		if err := e.checkOwner(owner); err != nil {
			return res, err
		}
		if _, err := e.store.AdvanceCursor(ctx, owner, kind, maxRev); err != nil {
			return res, storeErr("advance cursor", err)
		}
	}
	return res, nil
}
