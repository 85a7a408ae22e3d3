package engine

// snapshotCache keeps a bounded run of evenly-spaced checkpoints.
// Checkpoint i holds the fully-replayed state at startTick+i*stride;
// the grid is anchored at absolute multiples of stride. States are
// shared, never copied: on_tick/on_post treat state as immutable.
type snapshotCache[S any] struct {
	stride int64
	cap    int

	startTick int64
	snaps     []S

	// slid flips once capacity forced the window forward. From then
	// on the checkpoint at startTick is the only record of everything
	// before it and must never be invalidated.
	slid bool
}

func newSnapshotCache[S any](stride int64, capacity int) *snapshotCache[S] {
	return &snapshotCache[S]{stride: stride, cap: capacity}
}

func (c *snapshotCache[S]) size() int {
	return len(c.snaps)
}

func (c *snapshotCache[S]) lastTick() int64 {
	return c.startTick + int64(len(c.snaps)-1)*c.stride
}

// inWindow reports whether a post at the given tick can still be
// reconciled. Before the first slide every tick can: the cache
// rebuilds from the initial state. After a slide, ticks at or below
// startTick are baked into the base checkpoint and are gone.
func (c *snapshotCache[S]) inWindow(tick int64) bool {
	return !c.slid || tick > c.startTick
}

func (c *snapshotCache[S]) alignDown(tick int64) int64 {
	if tick >= 0 {
		return tick - tick%c.stride
	}
	r := tick % c.stride
	if r == 0 {
		return tick
	}
	return tick - r - c.stride
}

func (c *snapshotCache[S]) alignUp(tick int64) int64 {
	d := c.alignDown(tick)
	if d == tick {
		return tick
	}
	return d + c.stride
}

// ensureThrough materializes every missing checkpoint strictly below
// atTick. seed produces the state at the first grid tick at or after
// initialTick; advance replays (fromTick, toTick]. Returns true when
// capacity slid the window forward, in which case the caller must
// prune its timeline below the new startTick.
func (c *snapshotCache[S]) ensureThrough(atTick, initialTick int64, seed func(toTick int64) S, advance func(s S, fromTick, toTick int64) S) bool {
	target := c.alignDown(atTick - 1)

	if len(c.snaps) == 0 {
		first := c.alignUp(initialTick)
		if c.slid && c.startTick > first {
			// Unreachable while callers drop pre-window posts, but a
			// cleared slid cache must not resurrect from initial.
			first = c.startTick
		}
		if target < first {
			return false
		}
		c.startTick = first
		c.snaps = append(c.snaps, seed(first))
	}

	slid := false
	for next := c.lastTick() + c.stride; next <= target; next += c.stride {
		c.snaps = append(c.snaps, advance(c.snaps[len(c.snaps)-1], next-c.stride, next))
		if len(c.snaps) > c.cap {
			c.snaps = c.snaps[1:]
			c.startTick += c.stride
			c.slid = true
			slid = true
		}
	}
	return slid
}

// invalidateFrom discards every checkpoint at or after the given tick.
func (c *snapshotCache[S]) invalidateFrom(tick int64) {
	if len(c.snaps) == 0 {
		return
	}
	keep := int64(0)
	if tick > c.startTick {
		keep = (tick - c.startTick + c.stride - 1) / c.stride
	}
	if keep >= int64(len(c.snaps)) {
		return
	}
	c.snaps = c.snaps[:keep]
}

// nearestAtOrBefore returns the greatest checkpoint at or before the
// given tick.
func (c *snapshotCache[S]) nearestAtOrBefore(tick int64) (int64, S, bool) {
	var zero S
	if len(c.snaps) == 0 {
		return 0, zero, false
	}
	t := c.alignDown(tick)
	if last := c.lastTick(); t > last {
		t = last
	}
	if t < c.startTick {
		return 0, zero, false
	}
	return t, c.snaps[(t-c.startTick)/c.stride], true
}

// base returns the oldest checkpoint.
func (c *snapshotCache[S]) base() (int64, S, bool) {
	var zero S
	if len(c.snaps) == 0 {
		return 0, zero, false
	}
	return c.startTick, c.snaps[0], true
}
