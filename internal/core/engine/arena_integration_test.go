package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ticksync/ticksync/internal/core/transport"
	"github.com/ticksync/ticksync/internal/core/transport/sim"
	"github.com/ticksync/ticksync/pkg/arena"
	"github.com/ticksync/ticksync/pkg/statehash"
)

// The demo game over the simulated network: a whole-system check that
// map-shaped immutable states replicate and converge.
func TestArena_TwoPlayersConverge(t *testing.T) {
	cfg := DefaultConfig()
	sched := sim.NewScheduler()
	broker := sim.NewBroker(sched)

	mk := func(id string, seed, skew int64) (*Engine[arena.State], string) {
		client := sim.NewClient(sched, broker, sim.Options{
			ID: id, Seed: seed, Skew: skew,
			Uplink:   sim.Link{MinDelay: 40, MaxDelay: 140, Jitter: 45},
			Downlink: sim.Link{MinDelay: 40, MaxDelay: 140, Jitter: 45},
		})
		e := New("arena", arena.State{},
			arena.Step,
			func(s arena.State, p transport.Post) arena.State { return arena.Apply(s, p.Data) },
			arena.Blend,
			client, cfg, nil)
		return e, id
	}

	ea, pa := mk("a", 101, 77)
	eb, pb := mk("b", 202, -33)

	sched.RunUntil(3_000)
	_, err := ea.Post(arena.Event{Kind: arena.EventJoin, ID: pa}.Encode())
	require.NoError(t, err)
	_, err = eb.Post(arena.Event{Kind: arena.EventJoin, ID: pb}.Encode())
	require.NoError(t, err)

	steer := []arena.Event{
		{Kind: arena.EventSteer, ID: pa, DX: 1},
		{Kind: arena.EventSteer, ID: pb, DY: 1},
		{Kind: arena.EventSteer, ID: pa, DX: -1, DY: 1},
		{Kind: arena.EventSteer, ID: pb, DX: 1, DY: -1},
	}
	for i, ev := range steer {
		sched.RunUntil(4_000 + int64(i)*1_000)
		who := ea
		if ev.ID == pb {
			who = eb
		}
		_, err := who.Post(ev.Encode())
		require.NoError(t, err)
	}
	sched.RunUntil(10_000)

	first, ok := ea.InitialTick()
	require.True(t, ok)
	last := TimeToTick(9_000, cfg.TickRate)

	for tick := first; tick <= last; tick++ {
		da, err := statehash.Digest(ea.StateAt(tick))
		require.NoError(t, err)
		db, err := statehash.Digest(eb.StateAt(tick))
		require.NoError(t, err)
		require.Equal(t, da, db, "tick %d", tick)
	}

	// Both players are on the field in the final state.
	final := ea.StateAt(last)
	require.Len(t, final, 2)
	require.Contains(t, final, pa)
	require.Contains(t, final, pb)
}
