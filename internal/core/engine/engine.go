// Package engine implements the client-side replicated state engine: a
// deterministic timeline of posts per room, optimistic local
// prediction with server reconciliation, a bounded snapshot cache, and
// render-time blending of an authoritative past with a predicted
// present.
package engine

import (
	"encoding/json"
	"math"
	"sync"

	"github.com/ticksync/ticksync/internal/core/observability/log"
	"github.com/ticksync/ticksync/internal/core/transport"
)

// OnTickFunc advances state by one tick. It must be a pure function of
// its inputs and treat s as immutable.
type OnTickFunc[S any] func(s S, tick int64) S

// OnPostFunc applies one post. Local predictions arrive with Index ==
// -1. Same purity contract as OnTickFunc.
type OnPostFunc[S any] func(s S, p transport.Post) S

// SmoothFunc blends a lagged authoritative state with the predicted
// current state for rendering.
type SmoothFunc[S any] func(remote, local S) S

// Engine replays a room's post log deterministically. Every public
// method that reads or changes the timeline or the cache is serialized
// by one mutex; Room and the clock accessors (ServerTime, ServerTick,
// TimeToTick) take no lock. The transport's delivery goroutine and the
// host's render loop may call in concurrently, but the engine never
// runs two timeline or cache operations at once.
type Engine[S any] struct {
	mu sync.Mutex

	room   string
	init   S
	onTick OnTickFunc[S]
	onPost OnPostFunc[S]
	smooth SmoothFunc[S]
	cfg    Config
	tr     transport.Transport
	log    log.Log

	tl    *timeline
	cache *snapshotCache[S]

	initialSet  bool
	initialTime int64
	initialTick int64
}

// New builds an engine for one room and starts its bootstrap: once the
// transport's clock is synced it registers the room's watch handler
// and requests the full log from index 0.
func New[S any](room string, init S, onTick OnTickFunc[S], onPost OnPostFunc[S], smooth SmoothFunc[S], tr transport.Transport, cfg Config, logger log.Log) *Engine[S] {
	if logger == nil {
		logger = log.Nop()
	}
	cfg = cfg.normalized()

	e := &Engine[S]{
		room:   room,
		init:   init,
		onTick: onTick,
		onPost: onPost,
		smooth: smooth,
		cfg:    cfg,
		tr:     tr,
		log:    logger.With(log.String("component", "engine"), log.String("room", room)),

		tl:    newTimeline(cfg.TickRate, cfg.Tolerance),
		cache: newSnapshotCache[S](cfg.SnapshotStride, cfg.SnapshotCount),
	}

	tr.OnSync(func() {
		if err := tr.Watch(room, e.handleRemote); err != nil {
			e.log.Error("watch registration failed", log.Error(err))
			return
		}
		if err := tr.Load(room, 0); err != nil {
			e.log.Error("backlog load failed", log.Error(err))
		}
	})

	return e
}

// Room returns the room this engine replicates.
func (e *Engine[S]) Room() string {
	return e.room
}

// handleRemote ingests one delivery from the broker. An echo of a live
// prediction replaces it: the local copy goes first, then the
// authoritative post is inserted.
func (e *Engine[S]) handleRemote(p transport.Post) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if p.Name != "" {
		e.dropLocal(p.Name)
	}
	e.addRemoteLocked(p)
}

// dropLocal removes a prediction and invalidates from its tick. A
// prediction already behind the window is baked into the base
// checkpoint; removing it must not tear that checkpoint down.
func (e *Engine[S]) dropLocal(name string) {
	tick, ok := e.tl.removeLocal(name)
	if !ok {
		return
	}
	if e.cfg.CacheEnabled && !e.cache.inWindow(tick) {
		return
	}
	e.invalidateFrom(tick)
}

func (e *Engine[S]) addRemoteLocked(p transport.Post) {
	tick := e.tl.tickOf(p)

	if p.Index == 0 && !e.initialSet {
		e.initialSet = true
		e.initialTime = OfficialTime(p.ClientTime, p.ServerTime, e.cfg.Tolerance)
		e.initialTick = tick
		e.log.Debug("timeline anchored",
			log.Int64("initial_time", e.initialTime),
			log.Int64("initial_tick", e.initialTick))
	}

	if e.cfg.CacheEnabled && !e.cache.inWindow(tick) {
		e.log.Debug("dropping pre-window post",
			log.Int64("index", p.Index), log.Int64("tick", tick))
		return
	}
	if e.tl.hasRemote(p.Index) {
		return
	}

	e.tl.insertRemote(p, tick)
	e.invalidateFrom(tick)
}

// Post publishes data to the room and records an optimistic local copy
// that applies until the broker's echo replaces it. Returns the opaque
// name shared by prediction and echo. Fails with clock.ErrNotSynced or
// transport.ErrNotOpen.
func (e *Engine[S]) Post(data json.RawMessage) (string, error) {
	st, err := e.tr.ServerTime()
	if err != nil {
		return "", err
	}
	name, err := e.tr.Post(e.room, data)
	if err != nil {
		return "", err
	}

	lp := transport.Post{
		Room:       e.room,
		Index:      -1,
		ServerTime: st,
		ClientTime: st,
		Name:       name,
		Data:       data,
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.dropLocal(name)

	tick := e.tl.tickOf(lp)
	if e.cfg.CacheEnabled && !e.cache.inWindow(tick) {
		e.log.Warn("local post behind window", log.Int64("tick", tick))
		return name, nil
	}
	e.tl.insertLocal(lp, tick)
	e.invalidateFrom(tick)
	return name, nil
}

func (e *Engine[S]) invalidateFrom(tick int64) {
	if e.cfg.CacheEnabled {
		e.cache.invalidateFrom(tick)
	}
}

// StateAt returns the deterministic state at the given tick.
func (e *Engine[S]) StateAt(tick int64) S {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateAtLocked(tick)
}

func (e *Engine[S]) stateAtLocked(at int64) S {
	if !e.initialSet || at < e.initialTick {
		return e.init
	}
	if !e.cfg.CacheEnabled {
		return e.advance(e.init, e.initialTick-1, at)
	}

	if e.cache.ensureThrough(at, e.initialTick, e.seed, e.advance) {
		e.tl.pruneBelow(e.cache.startTick)
	}

	if snapTick, s, ok := e.cache.nearestAtOrBefore(at); ok {
		return e.advance(s, snapTick, at)
	}
	if baseTick, s, ok := e.cache.base(); ok && at < baseTick {
		// Older than the window: the base checkpoint is the best
		// authoritative state still available.
		return s
	}
	return e.advance(e.init, e.initialTick-1, at)
}

func (e *Engine[S]) seed(toTick int64) S {
	return e.advance(e.init, e.initialTick-1, toTick)
}

// advance replays ticks (fromTick, toTick]: on_tick first, then the
// tick's remote posts in ascending index, then its local posts in
// insertion order.
func (e *Engine[S]) advance(s S, fromTick, toTick int64) S {
	for tk := fromTick + 1; tk <= toTick; tk++ {
		s = e.onTick(s, tk)
		b := e.tl.buckets[tk]
		if b == nil {
			continue
		}
		for _, p := range b.remote {
			s = e.onPost(s, p)
		}
		for _, lp := range b.local {
			s = e.onPost(s, lp)
		}
	}
	return s
}

// CurrentState returns the state at the current server tick.
func (e *Engine[S]) CurrentState() (S, error) {
	tick, err := e.ServerTick()
	if err != nil {
		var zero S
		return zero, err
	}
	return e.StateAt(tick), nil
}

// RenderState blends a lagged authoritative state with the predicted
// current state. The lag is chosen so the authoritative log at the
// lagged tick is very likely complete: past the tolerance window and
// past any posts still in flight half a round-trip away.
func (e *Engine[S]) RenderState() (S, error) {
	st, err := e.tr.ServerTime()
	if err != nil {
		var zero S
		return zero, err
	}
	curr := TimeToTick(st, e.cfg.TickRate)

	ping, hasPing := e.tr.Ping()
	remote := curr - e.remoteLag(ping, hasPing)
	if remote < 0 {
		remote = 0
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.smooth(e.stateAtLocked(remote), e.stateAtLocked(curr)), nil
}

func (e *Engine[S]) remoteLag(pingMS int64, hasPing bool) int64 {
	tickMS := 1000.0 / float64(e.cfg.TickRate)
	lag := int64(math.Ceil(float64(e.cfg.Tolerance) / tickMS))
	if hasPing {
		half := int64(math.Ceil(float64(pingMS)/2/tickMS)) + 1
		if half > lag {
			lag = half
		}
	}
	return lag
}

// ServerTime returns the estimated broker time in milliseconds.
func (e *Engine[S]) ServerTime() (int64, error) {
	return e.tr.ServerTime()
}

// ServerTick returns the current authoritative tick.
func (e *Engine[S]) ServerTick() (int64, error) {
	st, err := e.tr.ServerTime()
	if err != nil {
		return 0, err
	}
	return TimeToTick(st, e.cfg.TickRate), nil
}

// TimeToTick maps milliseconds to a tick at this engine's rate.
func (e *Engine[S]) TimeToTick(ms int64) int64 {
	return TimeToTick(ms, e.cfg.TickRate)
}

// InitialTime returns the official time of the room's first post, once
// seen.
func (e *Engine[S]) InitialTime() (int64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initialTime, e.initialSet
}

// InitialTick returns the tick of the room's first post, once seen.
func (e *Engine[S]) InitialTick() (int64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initialTick, e.initialSet
}

// PostCount returns the number of retained authoritative posts.
func (e *Engine[S]) PostCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tl.remoteCount()
}
