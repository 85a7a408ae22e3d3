package engine

import (
	"sort"

	"github.com/ticksync/ticksync/internal/core/transport"
)

// bucket holds the canonical application order at one tick: every
// remote post in ascending index, then every local post in insertion
// order.
type bucket struct {
	remote []transport.Post
	local  []transport.Post
}

func (b *bucket) empty() bool {
	return len(b.remote) == 0 && len(b.local) == 0
}

// timeline canonicalizes posts into per-tick buckets, dedupes remote
// posts by index, and tracks local predictions by name.
type timeline struct {
	tickRate  int
	tolerance int64

	remote  map[int64]transport.Post // authoritative, by index
	local   map[string]int64         // prediction name -> tick
	buckets map[int64]*bucket
}

func newTimeline(tickRate int, tolerance int64) *timeline {
	return &timeline{
		tickRate:  tickRate,
		tolerance: tolerance,
		remote:    make(map[int64]transport.Post),
		local:     make(map[string]int64),
		buckets:   make(map[int64]*bucket),
	}
}

func (t *timeline) tickOf(p transport.Post) int64 {
	return OfficialTick(p, t.tolerance, t.tickRate)
}

func (t *timeline) hasRemote(index int64) bool {
	_, ok := t.remote[index]
	return ok
}

// insertRemote stores p in its tick bucket, keeping the bucket sorted
// by index. The caller has already deduped and window-checked.
func (t *timeline) insertRemote(p transport.Post, tick int64) {
	t.remote[p.Index] = p

	b := t.buckets[tick]
	if b == nil {
		b = &bucket{}
		t.buckets[tick] = b
	}
	at := sort.Search(len(b.remote), func(i int) bool {
		return b.remote[i].Index > p.Index
	})
	b.remote = append(b.remote, transport.Post{})
	copy(b.remote[at+1:], b.remote[at:])
	b.remote[at] = p
}

// insertLocal appends the prediction to its tick bucket.
func (t *timeline) insertLocal(lp transport.Post, tick int64) {
	t.local[lp.Name] = tick

	b := t.buckets[tick]
	if b == nil {
		b = &bucket{}
		t.buckets[tick] = b
	}
	b.local = append(b.local, lp)
}

func (t *timeline) localTick(name string) (int64, bool) {
	tick, ok := t.local[name]
	return tick, ok
}

// removeLocal drops the prediction and reports the tick it occupied.
func (t *timeline) removeLocal(name string) (int64, bool) {
	tick, ok := t.local[name]
	if !ok {
		return 0, false
	}
	delete(t.local, name)

	b := t.buckets[tick]
	if b != nil {
		for i := range b.local {
			if b.local[i].Name == name {
				b.local = append(b.local[:i], b.local[i+1:]...)
				break
			}
		}
		if b.empty() {
			delete(t.buckets, tick)
		}
	}
	return tick, true
}

// pruneBelow drops every bucket, remote post, and prediction with a
// tick before the given one.
func (t *timeline) pruneBelow(tick int64) {
	for tk, b := range t.buckets {
		if tk >= tick {
			continue
		}
		for _, p := range b.remote {
			delete(t.remote, p.Index)
		}
		for _, lp := range b.local {
			delete(t.local, lp.Name)
		}
		delete(t.buckets, tk)
	}
}

func (t *timeline) remoteCount() int {
	return len(t.remote)
}
