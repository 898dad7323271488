package engine

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/liftsync/internal/entity"
)

// Summary describes what one sync cycle did. The zero value means the cycle
// did nothing (signed out or offline).
type Summary struct {
	CycleID string `json:"cycle_id,omitempty"`
	Owner   string `json:"owner,omitempty"`

	// Pushed counts outbox entries the remote confirmed.
	Pushed int `json:"pushed"`
	// Failed counts push attempts that failed (0 or 1 per cycle).
	Failed int `json:"failed"`

	// Pulled counts remote rows applied locally, per kind.
	Pulled map[entity.Kind]int `json:"pulled,omitempty"`
	// Skipped counts remote rows not applied because the id had a pending
	// local write, per kind.
	Skipped map[entity.Kind]int `json:"skipped,omitempty"`
	// PullErrors holds the remote error that ended a kind's pull early.
	PullErrors map[entity.Kind]string `json:"pull_errors,omitempty"`
}

func newSummary(cycleID, owner string) Summary {
	return Summary{
		CycleID:    cycleID,
		Owner:      owner,
		Pulled:     make(map[entity.Kind]int),
		Skipped:    make(map[entity.Kind]int),
		PullErrors: make(map[entity.Kind]string),
	}
}

// Ran reports whether the cycle ran at all.
func (s Summary) Ran() bool {
	return s.CycleID != ""
}

// TotalPulled sums Pulled across kinds.
func (s Summary) TotalPulled() int {
	n := 0
	for _, v := range s.Pulled {
		n += v
	}
	return n
}

// String renders the summary on one line with kinds in declaration order.
func (s Summary) String() string {
	if !s.Ran() {
		return "skipped (signed out or offline)"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "pushed=%d failed=%d", s.Pushed, s.Failed)
	for _, k := range entity.Kinds() {
		fmt.Fprintf(&b, " %s=%d", k, s.Pulled[k])
		if n := s.Skipped[k]; n > 0 {
			fmt.Fprintf(&b, "(skipped %d)", n)
		}
		if e, ok := s.PullErrors[k]; ok {
			fmt.Fprintf(&b, "(error: %s)", e)
		}
	}
	return b.String()
}

// LogValue implements slog.LogValuer.
func (s Summary) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("cycle", s.CycleID),
		slog.Int("pushed", s.Pushed),
		slog.Int("failed", s.Failed),
		slog.Int("pulled", s.TotalPulled()),
		slog.Int("pull_errors", len(s.PullErrors)),
	)
}
