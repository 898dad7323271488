package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/liftsync/internal/entity"
)

// AssertionError describes a failed expectation.
type AssertionError struct {
	Step     int    // 1-based step number
	Type     string // expect_pending, expect_local, expect_remote
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "step %d: assertion failed: %s\n", e.Step, e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// expectPending checks the current owner's outbox size.
func (h *harness) expectPending(ctx context.Context, want int) (string, error) {
	got, err := h.store.PendingCount(ctx, h.owner)
	if err != nil {
		return "", err
	}
	return h.check("expect_pending", fmt.Sprintf("%d", want), fmt.Sprintf("%d", got)), nil
}

// expectLocal checks how many live local rows of a kind the owner has.
func (h *harness) expectLocal(ctx context.Context, c *CountStep) (string, error) {
	kind, _ := entity.ParseKind(c.Kind)
	got, err := h.store.CountEntities(ctx, kind, h.owner)
	if err != nil {
		return "", err
	}
	return h.check("expect_local",
		fmt.Sprintf("%s=%d", kind, c.Count),
		fmt.Sprintf("%s=%d", kind, got),
	), nil
}

// expectRemote checks how many remote rows of a kind the owner has.
func (h *harness) expectRemote(c *CountStep) string {
	kind, _ := entity.ParseKind(c.Kind)
	got := len(h.remote.Rows(kind.Table(), h.owner))
	return h.check("expect_remote",
		fmt.Sprintf("%s=%d", kind, c.Count),
		fmt.Sprintf("%s=%d", kind, got),
	)
}

// check records a failure when expected and actual differ and returns the
// trace text for the step.
func (h *harness) check(typ, expected, actual string) string {
	if expected == actual {
		return fmt.Sprintf("%s %s ok", typ, expected)
	}
	err := &AssertionError{Step: h.step, Type: typ, Expected: expected, Actual: actual}
	h.result.AddError(err.Error())
	return fmt.Sprintf("%s %s FAILED (got %s)", typ, expected, actual)
}
