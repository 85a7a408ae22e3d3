// Package arena is the demo game: players steer dots around a square
// field. Step and Apply are pure and treat state as immutable, which
// makes the arena a valid replicated-engine payload.
package arena

import (
	"encoding/json"
	"math"

	"github.com/cespare/xxhash/v2"
)

// Field bounds and movement speed in units per tick.
const (
	FieldSize = 512.0
	Speed     = 4.0
)

type Vec struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Player struct {
	Pos Vec `json:"pos"`
	Vel Vec `json:"vel"`
}

// State maps player id to player. Values, never pointers: copies stay
// independent.
type State map[string]Player

// Event is the arena's post payload, discriminated by Kind.
type Event struct {
	Kind string  `json:"kind"`
	ID   string  `json:"id"`
	DX   float64 `json:"dx,omitempty"`
	DY   float64 `json:"dy,omitempty"`
}

const (
	EventJoin  = "join"
	EventLeave = "leave"
	EventSteer = "steer"
)

func (e Event) Encode() json.RawMessage {
	data, _ := json.Marshal(e)
	return data
}

// Step advances one tick: integrate velocity, clamp to the field.
func Step(s State, _ int64) State {
	if len(s) == 0 {
		return s
	}
	next := make(State, len(s))
	for id, p := range s {
		p.Pos.X = clamp(p.Pos.X+p.Vel.X, 0, FieldSize)
		p.Pos.Y = clamp(p.Pos.Y+p.Vel.Y, 0, FieldSize)
		next[id] = p
	}
	return next
}

// Apply handles one event. Undecodable payloads and unknown kinds
// leave the state untouched.
func Apply(s State, data json.RawMessage) State {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil || e.ID == "" {
		return s
	}

	switch e.Kind {
	case EventJoin:
		if _, ok := s[e.ID]; ok {
			return s
		}
		next := clone(s)
		next[e.ID] = Player{Pos: spawnPos(e.ID)}
		return next

	case EventLeave:
		if _, ok := s[e.ID]; !ok {
			return s
		}
		next := clone(s)
		delete(next, e.ID)
		return next

	case EventSteer:
		p, ok := s[e.ID]
		if !ok {
			return s
		}
		p.Vel = steer(e.DX, e.DY)
		next := clone(s)
		next[e.ID] = p
		return next

	default:
		return s
	}
}

// Blend pulls the authoritative position 35% toward the predicted one
// per frame, which hides reconciliation snaps without letting
// prediction run away. Players only one side knows about come from the
// predicted state.
func Blend(remote, local State) State {
	out := make(State, len(local))
	for id, lp := range local {
		rp, ok := remote[id]
		if !ok {
			out[id] = lp
			continue
		}
		rp.Pos.X += (lp.Pos.X - rp.Pos.X) * 0.35
		rp.Pos.Y += (lp.Pos.Y - rp.Pos.Y) * 0.35
		rp.Vel = lp.Vel
		out[id] = rp
	}
	return out
}

// spawnPos scatters players deterministically so every replica agrees
// where a join lands.
func spawnPos(id string) Vec {
	h := xxhash.Sum64String(id)
	return Vec{
		X: float64(h%4096) / 4096 * FieldSize,
		Y: float64((h>>12)%4096) / 4096 * FieldSize,
	}
}

func steer(dx, dy float64) Vec {
	n := math.Hypot(dx, dy)
	if n == 0 {
		return Vec{}
	}
	return Vec{X: dx / n * Speed, Y: dy / n * Speed}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clone(s State) State {
	next := make(State, len(s)+1)
	for id, p := range s {
		next[id] = p
	}
	return next
}
