package arena

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApply_Join(t *testing.T) {
	s := State{}
	next := Apply(s, Event{Kind: EventJoin, ID: "p1"}.Encode())

	require.Empty(t, s, "input state must stay untouched")
	require.Contains(t, next, "p1")

	// Joins are deterministic and idempotent.
	again := Apply(State{}, Event{Kind: EventJoin, ID: "p1"}.Encode())
	require.Equal(t, next, again)
	require.Equal(t, next, Apply(next, Event{Kind: EventJoin, ID: "p1"}.Encode()))
}

func TestApply_SteerAndLeave(t *testing.T) {
	s := Apply(State{}, Event{Kind: EventJoin, ID: "p1"}.Encode())

	steered := Apply(s, Event{Kind: EventSteer, ID: "p1", DX: 3, DY: 4}.Encode())
	require.Zero(t, s["p1"].Vel, "input state must stay untouched")
	v := steered["p1"].Vel
	require.InDelta(t, Speed*0.6, v.X, 1e-9)
	require.InDelta(t, Speed*0.8, v.Y, 1e-9)

	// Steering an absent player is a no-op.
	require.Equal(t, s, Apply(s, Event{Kind: EventSteer, ID: "ghost", DX: 1}.Encode()))

	gone := Apply(steered, Event{Kind: EventLeave, ID: "p1"}.Encode())
	require.Empty(t, gone)
}

func TestApply_Garbage(t *testing.T) {
	s := Apply(State{}, Event{Kind: EventJoin, ID: "p1"}.Encode())

	require.Equal(t, s, Apply(s, json.RawMessage(`not json`)))
	require.Equal(t, s, Apply(s, Event{Kind: "teleport", ID: "p1"}.Encode()))
	require.Equal(t, s, Apply(s, json.RawMessage(`{"kind":"join"}`)))
}

func TestStep_IntegratesAndClamps(t *testing.T) {
	s := State{"p1": {Pos: Vec{X: 510, Y: 1}, Vel: Vec{X: Speed, Y: -Speed}}}
	next := Step(s, 1)

	require.Equal(t, Vec{X: 510, Y: 1}, s["p1"].Pos, "input state must stay untouched")
	require.Equal(t, Vec{X: FieldSize, Y: 0}, next["p1"].Pos)

	// The empty state advances for free.
	empty := State{}
	require.Equal(t, empty, Step(empty, 1))
}

func TestBlend(t *testing.T) {
	remote := State{"p1": {Pos: Vec{X: 100, Y: 100}}}
	local := State{
		"p1": {Pos: Vec{X: 200, Y: 100}, Vel: Vec{X: Speed}},
		"p2": {Pos: Vec{X: 7, Y: 7}},
	}

	out := Blend(remote, local)
	require.InDelta(t, 135.0, out["p1"].Pos.X, 1e-9)
	require.InDelta(t, 100.0, out["p1"].Pos.Y, 1e-9)
	require.Equal(t, Vec{X: Speed}, out["p1"].Vel)
	// Predicted-only players pass through.
	require.Equal(t, local["p2"], out["p2"])
}
