package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/roach88/liftsync/internal/engine"
	"github.com/roach88/liftsync/internal/entity"
	"github.com/roach88/liftsync/internal/identity"
	"github.com/roach88/liftsync/internal/remote"
	"github.com/roach88/liftsync/internal/store"
	"github.com/roach88/liftsync/internal/testutil"
)

// harness holds the pieces one scenario run drives.
type harness struct {
	store  *store.Store
	remote *remote.Memory
	ident  *identity.Static
	engine *engine.Engine
	result *Result

	// owner is the current owner, or the last one after a sign-out, so
	// assertions and the final dump have someone to look at.
	owner string
	step  int
}

// Run executes a scenario and returns the result.
//
// Each run gets a fresh store in a temporary directory and a fresh remote.
// Both clocks are pinned at testutil.Epoch and cycle ids come from a
// sequence, so identical scenarios produce identical traces.
//
// A returned error means a step could not execute at all (for example a
// store failure); failed expectations are reported through Result.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "liftsync-scenario-*")
	if err != nil {
		return nil, fmt.Errorf("create scenario dir: %w", err)
	}
	defer os.RemoveAll(dir)

	st, err := store.Open(filepath.Join(dir, "local.db"),
		store.WithClock(testutil.NewClock(testutil.Epoch, 0).Now))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	online := true
	if scenario.Online != nil {
		online = *scenario.Online
	}

	h := &harness{
		store:  st,
		remote: remote.NewMemory(remote.WithRevisionClock(testutil.NewClock(testutil.Epoch, 0).Now)),
		ident:  identity.NewStatic(scenario.Owner, online),
		result: NewResult(),
		owner:  scenario.Owner,
	}
	h.engine = engine.New(st, h.remote, h.ident,
		engine.WithPageSize(scenario.PageSize),
		engine.WithPushBatch(scenario.PushBatch),
		engine.WithMaxPages(scenario.MaxPages),
		engine.WithCycleIDs(engine.NewSequenceGenerator("cycle")),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	h.result.AddTrace("scenario " + scenario.Name)
	for i, step := range scenario.Steps {
		h.step = i + 1
		line, err := h.exec(ctx, step)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", h.step, err)
		}
		h.result.AddTrace(fmt.Sprintf("%d %s", h.step, line))
	}

	if err := h.dumpFinal(ctx); err != nil {
		return nil, fmt.Errorf("final state: %w", err)
	}
	return h.result, nil
}

// exec runs one step and returns its trace text. show_outbox continues on
// indented lines.
func (h *harness) exec(ctx context.Context, st Step) (string, error) {
	switch {
	case st.Online != nil:
		h.ident.SetOnline(*st.Online)
		return fmt.Sprintf("online %t", *st.Online), nil

	case st.Owner != nil:
		h.ident.SetOwner(*st.Owner)
		h.owner = *st.Owner
		return "owner " + *st.Owner, nil

	case st.SignOut:
		// Identity first, so a cycle that starts after this point sees no
		// owner; ClearOwner then waits out any cycle already running.
		h.ident.SignOut()
		n, err := h.engine.ClearOwner(ctx, h.owner)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("signout %s cleared=%d", h.owner, n), nil

	case st.Put != nil:
		kind, row, err := h.row(st.Put, h.owner)
		if err != nil {
			return "", err
		}
		if _, err := h.store.UpsertEntity(ctx, kind, row); err != nil {
			return "", err
		}
		return fmt.Sprintf("put %s/%s", kind, row.ID), nil

	case st.Delete != nil:
		kind, _ := entity.ParseKind(st.Delete.Kind)
		if err := h.store.MarkDeleted(ctx, kind, h.owner, st.Delete.ID); err != nil {
			return "", err
		}
		return fmt.Sprintf("delete %s/%s", kind, st.Delete.ID), nil

	case st.RemotePut != nil:
		owner := h.owner
		if st.RemotePut.Owner != "" {
			owner = st.RemotePut.Owner
		}
		kind, row, err := h.row(st.RemotePut, owner)
		if err != nil {
			return "", err
		}
		stored := h.remote.Put(kind.Table(), row)
		return fmt.Sprintf("remote_put %s/%s rev=%s", kind, stored.ID, stored.UpdatedAt), nil

	case st.RemoteSeed != nil:
		return h.seed(st.RemoteSeed), nil

	case st.Reject != nil:
		msg := st.Reject.Message
		if msg == "" {
			msg = "rejected"
		}
		h.remote.RejectID(st.Reject.ID, msg)
		return "reject " + st.Reject.ID, nil

	case st.Accept != "":
		h.remote.ClearReject(st.Accept)
		return "accept " + st.Accept, nil

	case st.FailNext != 0:
		h.remote.FailNext(st.FailNext)
		return fmt.Sprintf("fail_next %d", st.FailNext), nil

	case st.Sync:
		sum, err := h.engine.RunCycle(ctx)
		if err != nil {
			return "", fmt.Errorf("sync: %w", err)
		}
		return "sync " + sum.String(), nil

	case st.ShowOutbox:
		lines, err := h.outboxLines(ctx)
		if err != nil {
			return "", err
		}
		return "show_outbox\n" + strings.Join(lines, "\n"), nil

	case st.ShowCalls:
		c := h.remote.Calls()
		return fmt.Sprintf("show_calls upserts=%d deletes=%d queries=%d", c.Upserts, c.Deletes, c.Queries), nil

	case st.ShowLocal != nil:
		kind, _ := entity.ParseKind(st.ShowLocal.Kind)
		row, err := h.store.GetEntity(ctx, kind, st.ShowLocal.ID)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Sprintf("show_local %s/%s missing", kind, st.ShowLocal.ID), nil
		}
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("show_local %s/%s %s", kind, row.ID, row.Payload), nil

	case st.ExpectPending != nil:
		return h.expectPending(ctx, *st.ExpectPending)

	case st.ExpectLocal != nil:
		return h.expectLocal(ctx, st.ExpectLocal)

	case st.ExpectRemote != nil:
		return h.expectRemote(st.ExpectRemote), nil
	}
	return "", errors.New("step has no action")
}

// row builds an entity row from a step.
func (h *harness) row(rs *RowStep, owner string) (entity.Kind, entity.Row, error) {
	kind, err := entity.ParseKind(rs.Kind)
	if err != nil {
		return "", entity.Row{}, err
	}
	if owner == "" {
		return "", entity.Row{}, fmt.Errorf("%s/%s: no owner signed in", kind, rs.ID)
	}
	payload := json.RawMessage("{}")
	if rs.Payload != nil {
		payload, err = json.Marshal(rs.Payload)
		if err != nil {
			return "", entity.Row{}, fmt.Errorf("%s/%s: encode payload: %w", kind, rs.ID, err)
		}
	}
	return kind, entity.Row{ID: rs.ID, OwnerID: owner, Payload: payload}, nil
}

// seed writes generated rows as another device would.
func (h *harness) seed(s *SeedStep) string {
	kind, _ := entity.ParseKind(s.Kind)
	prefix := s.Prefix
	if prefix == "" {
		prefix = "seed"
	}
	var last entity.Row
	for i := 0; i < s.Count; i++ {
		last = h.remote.Put(kind.Table(), entity.Row{
			ID:      fmt.Sprintf("%s-%03d", prefix, i),
			OwnerID: h.owner,
			Payload: json.RawMessage(fmt.Sprintf(`{"n":%d}`, i)),
		})
	}
	return fmt.Sprintf("remote_seed %s count=%d last_rev=%s", kind, s.Count, last.UpdatedAt)
}

// outboxLines renders the owner's pending entries, oldest first.
func (h *harness) outboxLines(ctx context.Context) ([]string, error) {
	entries, err := h.store.ListPending(ctx, h.owner, 0)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return []string{"  outbox empty"}, nil
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		line := fmt.Sprintf("  outbox %s %s/%s attempts=%d", e.Op, e.Kind, e.EntityID, e.Attempts)
		if e.LastError != nil {
			line += fmt.Sprintf(" last_error=%q", *e.LastError)
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// dumpFinal appends the end state: outbox, local and remote row counts per
// kind, and cursors.
func (h *harness) dumpFinal(ctx context.Context) error {
	h.result.AddTrace("final")

	lines, err := h.outboxLines(ctx)
	if err != nil {
		return err
	}
	for _, line := range lines {
		h.result.AddTrace(line)
	}

	local := "  local"
	remoteLine := "  remote"
	for _, kind := range entity.Kinds() {
		n, err := h.store.CountEntities(ctx, kind, h.owner)
		if err != nil {
			return err
		}
		local += fmt.Sprintf(" %s=%d", kind, n)
		remoteLine += fmt.Sprintf(" %s=%d", kind, len(h.remote.Rows(kind.Table(), h.owner)))
	}
	h.result.AddTrace(local)
	h.result.AddTrace(remoteLine)

	cursors, err := h.store.Cursors(ctx, h.owner)
	if err != nil {
		return err
	}
	byKind := make(map[entity.Kind]string, len(cursors))
	for _, c := range cursors {
		byKind[c.Kind] = c.LastPulledAt
	}
	wrote := false
	for _, kind := range entity.Kinds() {
		if rev, ok := byKind[kind]; ok {
			h.result.AddTrace(fmt.Sprintf("  cursor %s=%s", kind, rev))
			wrote = true
		}
	}
	if !wrote {
		h.result.AddTrace("  cursor none")
	}
	return nil
}
