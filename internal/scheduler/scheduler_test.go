package scheduler_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitloop/syncd/internal/scheduler"
)

func TestBackoff_Monotonic(t *testing.T) {
	t.Parallel()
	prev := int64(0)
	for r := 0; r <= 4; r++ {
		d := scheduler.Backoff(r)
		require.GreaterOrEqual(t, d, prev)
		prev = d
	}
}

func TestBackoff_Values(t *testing.T) {
	t.Parallel()
	cases := map[int]int64{
		0: 1000,
		1: 2000,
		2: 4000,
		3: 8000,
		4: 16000,
		5: 32000,
		6: 60000, // capped
		7: 60000,
	}
	for retry, want := range cases {
		assert.Equal(t, want, scheduler.Backoff(retry), "retry=%d", retry)
	}
}

func TestReady_RespectsWindowAndCeiling(t *testing.T) {
	t.Parallel()
	now := int64(1_000_000)

	// Not yet ready: backoff window hasn't elapsed.
	assert.False(t, scheduler.Ready(0, now-500, now, false))
	// Ready: window elapsed.
	assert.True(t, scheduler.Ready(0, now-1000, now, false))
	// At ceiling: never ready regardless of elapsed time.
	assert.False(t, scheduler.Ready(5, 0, now, false))
	// Force bypasses the window but not the ceiling.
	assert.True(t, scheduler.Ready(4, now, now, true))
	assert.False(t, scheduler.Ready(5, 0, now, true))
}
