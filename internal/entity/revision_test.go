package entity

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatTime_FixedWidthAndLexicalOrder(t *testing.T) {
	a := FormatTime(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	b := FormatTime(time.Date(2024, 1, 2, 3, 4, 5, 1000, time.UTC))
	c := FormatTime(time.Date(2024, 1, 2, 3, 4, 6, 0, time.FixedZone("x", 3600)))

	assert.Equal(t, "2024-01-02T03:04:05.000000Z", a)
	assert.Equal(t, "2024-01-02T03:04:05.000001Z", b)
	assert.Equal(t, len(a), len(c))
	assert.Less(t, a, b)
	assert.Less(t, c, a, "zone is normalized to UTC before formatting")

	parsed, err := ParseTime(b)
	require.NoError(t, err)
	assert.Equal(t, b, FormatTime(parsed))
}

func TestNewID_IsUUIDv7(t *testing.T) {
	id := NewID()
	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
}

func TestRevisionClock_StrictlyIncreasing(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	c := NewRevisionClock(func() time.Time { return fixed })

	first := c.Next()
	second := c.Next()
	third := c.Next()

	assert.Equal(t, "2024-05-01T00:00:00.000000Z", first)
	assert.Equal(t, "2024-05-01T00:00:00.000001Z", second)
	assert.Equal(t, "2024-05-01T00:00:00.000002Z", third)
}

func TestRevisionClock_Concurrent(t *testing.T) {
	c := NewRevisionClock(nil)

	const n = 200
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[string]bool, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rev := c.Next()
			mu.Lock()
			seen[rev] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n, "every revision must be unique")
}
