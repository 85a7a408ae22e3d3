package clock

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClock_NotSyncedBeforeFirstProbe(t *testing.T) {
	now := int64(1_000)
	c := New(func() int64 { return now })

	require.False(t, c.Synced())

	_, err := c.ServerTime()
	require.ErrorIs(t, err, ErrNotSynced)

	_, ok := c.Ping()
	require.False(t, ok)
}

func TestClock_OffsetFromFirstProbe(t *testing.T) {
	now := int64(10_000)
	c := New(func() int64 { return now })

	// Probe left at 9_900, reply at 10_000, broker reported 15_000.
	// Midpoint 9_950 -> offset 5_050.
	c.Observe(15_000, 9_900, 10_000)

	st, err := c.ServerTime()
	require.NoError(t, err)
	require.Equal(t, int64(15_050), st)

	rtt, ok := c.Ping()
	require.True(t, ok)
	require.Equal(t, int64(100), rtt)
}

func TestClock_OnlyLowerPingUpdatesOffset(t *testing.T) {
	now := int64(0)
	c := New(func() int64 { return now })

	c.Observe(5_000, 0, 100) // offset 5_000 - 50 = 4_950, lowest 100

	// Slower probe: last ping updates, offset does not.
	c.Observe(9_000, 200, 500)
	st, err := c.ServerTime()
	require.NoError(t, err)
	require.Equal(t, int64(4_950), st)
	rtt, _ := c.Ping()
	require.Equal(t, int64(300), rtt)

	// Faster probe wins.
	c.Observe(9_000, 1_000, 1_040) // midpoint 1_020 -> offset 7_980
	st, err = c.ServerTime()
	require.NoError(t, err)
	require.Equal(t, int64(7_980), st)
	rtt, _ = c.Ping()
	require.Equal(t, int64(40), rtt)
}

func TestClock_NegativeRTTDiscarded(t *testing.T) {
	c := New(func() int64 { return 0 })
	c.Observe(5_000, 100, 50)
	require.False(t, c.Synced())
}

func TestClock_OnSync(t *testing.T) {
	t.Run("queued callbacks fire exactly once", func(t *testing.T) {
		c := New(func() int64 { return 0 })

		calls := 0
		c.OnSync(func() { calls++ })
		c.OnSync(func() { calls++ })
		require.Equal(t, 0, calls)

		c.Observe(1_000, 0, 10)
		require.Equal(t, 2, calls)

		c.Observe(1_000, 20, 30)
		require.Equal(t, 2, calls)
	})

	t.Run("late subscriber fires immediately", func(t *testing.T) {
		c := New(func() int64 { return 0 })
		c.Observe(1_000, 0, 10)

		calls := 0
		c.OnSync(func() { calls++ })
		require.Equal(t, 1, calls)
	})
}
