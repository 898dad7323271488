package entity

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// TimeLayout is the fixed-width layout used for every stored timestamp.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// FormatTime renders t in UTC using TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a timestamp written by FormatTime.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(TimeLayout, s)
}

// NewID returns a fresh time-sortable entity id (UUIDv7).
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// RevisionClock hands out strictly increasing timestamps even when the wall
// clock stalls or steps backwards. Safe for concurrent use.
type RevisionClock struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

// NewRevisionClock creates a clock reading from now. A nil now uses time.Now.
func NewRevisionClock(now func() time.Time) *RevisionClock {
	if now == nil {
		now = time.Now
	}
	return &RevisionClock{now: now}
}

// Next returns the next revision string.
func (c *RevisionClock) Next() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now().UTC().Truncate(time.Microsecond)
	if !t.After(c.last) {
		t = c.last.Add(time.Microsecond)
	}
	c.last = t
	return FormatTime(t)
}
