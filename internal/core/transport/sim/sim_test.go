package sim

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ticksync/ticksync/internal/core/transport"
)

func TestScheduler_FiresInOrder(t *testing.T) {
	s := NewScheduler()

	var order []int
	s.After(30, func() { order = append(order, 3) })
	s.After(10, func() {
		order = append(order, 1)
		// Nested events still run if due.
		s.After(5, func() { order = append(order, 2) })
	})

	s.RunUntil(20)
	require.Equal(t, []int{1, 2}, order)
	require.Equal(t, int64(20), s.Now())

	s.RunUntil(40)
	require.Equal(t, []int{1, 2, 3}, order)
}

func TestScheduler_TiesKeepEnqueueOrder(t *testing.T) {
	s := NewScheduler()
	var order []int
	s.After(10, func() { order = append(order, 1) })
	s.After(10, func() { order = append(order, 2) })
	s.RunUntil(10)
	require.Equal(t, []int{1, 2}, order)
}

func link() Link { return Link{MinDelay: 20, MaxDelay: 60, Jitter: 10} }

func newPair(t *testing.T) (*Scheduler, *Broker, *Client) {
	t.Helper()
	sched := NewScheduler()
	broker := NewBroker(sched)
	client := NewClient(sched, broker, Options{ID: "c", Seed: 1, Skew: 250, Uplink: link(), Downlink: link()})
	return sched, broker, client
}

func TestClient_SyncsAndEstimatesTime(t *testing.T) {
	sched, _, c := newPair(t)

	synced := false
	c.OnSync(func() { synced = true })

	_, err := c.ServerTime()
	require.Error(t, err)

	sched.RunUntil(1_000)
	require.True(t, synced)

	st, err := c.ServerTime()
	require.NoError(t, err)
	// The estimate tracks broker time despite the 250 ms skew; the
	// error is bounded by half the delay spread.
	require.InDelta(t, float64(sched.Now()), float64(st), 40)

	rtt, ok := c.Ping()
	require.True(t, ok)
	require.GreaterOrEqual(t, rtt, int64(40))
	require.LessOrEqual(t, rtt, int64(140))
}

func TestClient_PostEchoesToWatcher(t *testing.T) {
	sched, broker, c := newPair(t)
	sched.RunUntil(1_000)

	var got []transport.Post
	require.NoError(t, c.Watch("room", func(p transport.Post) { got = append(got, p) }))
	require.ErrorIs(t, c.Watch("room", func(transport.Post) {}), transport.ErrDuplicateHandler)

	sched.RunUntil(1_200)
	name, err := c.Post("room", json.RawMessage(`1`))
	require.NoError(t, err)
	sched.RunUntil(2_000)

	require.Len(t, got, 1)
	require.Equal(t, int64(0), got[0].Index)
	require.Equal(t, name, got[0].Name)
	require.Equal(t, int64(1), broker.Count("room"))
}

func TestClient_LoadReplaysBacklog(t *testing.T) {
	sched, broker, c := newPair(t)
	sched.RunUntil(1_000)

	require.NoError(t, c.Watch("room", func(transport.Post) {}))
	sched.RunUntil(1_100)
	for i := 0; i < 3; i++ {
		_, err := c.Post("room", json.RawMessage(`1`))
		require.NoError(t, err)
	}
	sched.RunUntil(2_000)
	require.Equal(t, int64(3), broker.Count("room"))

	// A second client loads from index 1 and sees the tail.
	late := NewClient(sched, broker, Options{ID: "l", Seed: 2, Uplink: link(), Downlink: link()})
	var got []int64
	require.NoError(t, late.Watch("room", func(p transport.Post) { got = append(got, p.Index) }))
	require.NoError(t, late.Load("room", 1))
	sched.RunUntil(3_000)
	require.Equal(t, []int64{1, 2}, got)
}

func TestClient_DuplicateDeliveries(t *testing.T) {
	sched := NewScheduler()
	broker := NewBroker(sched)
	dup := link()
	dup.DupRate = 1.0
	c := NewClient(sched, broker, Options{ID: "c", Seed: 3, Uplink: link(), Downlink: dup})
	sched.RunUntil(1_000)

	count := 0
	require.NoError(t, c.Watch("room", func(transport.Post) { count++ }))
	sched.RunUntil(1_100)
	_, err := c.Post("room", json.RawMessage(`1`))
	require.NoError(t, err)
	sched.RunUntil(2_000)

	require.Equal(t, 2, count)
}
