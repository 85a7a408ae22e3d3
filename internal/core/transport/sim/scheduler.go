// Package sim provides an in-memory broker and client transports
// driven by a deterministic virtual scheduler. Tests use it to replay
// lossy, jittery, duplicate-prone deliveries reproducibly; hosts can
// use it for offline rooms.
package sim

import "container/heap"

type event struct {
	at  int64
	seq int64
	fn  func()
}

type eventQueue []*event

func (q eventQueue) Len() int { return len(q) }

func (q eventQueue) Less(i, j int) bool {
	if q[i].at != q[j].at {
		return q[i].at < q[j].at
	}
	return q[i].seq < q[j].seq
}

func (q eventQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *eventQueue) Push(x any) { *q = append(*q, x.(*event)) }

func (q *eventQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return e
}

// Scheduler is a single-threaded virtual clock. Events fire in (time,
// enqueue) order; ties never reorder. Time only moves inside RunUntil.
type Scheduler struct {
	now   int64
	seq   int64
	queue eventQueue
}

func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// Now returns the current virtual time in milliseconds.
func (s *Scheduler) Now() int64 {
	return s.now
}

// After schedules fn at now+delay. A non-positive delay fires on the
// next RunUntil step.
func (s *Scheduler) After(delay int64, fn func()) {
	if delay < 0 {
		delay = 0
	}
	s.seq++
	heap.Push(&s.queue, &event{at: s.now + delay, seq: s.seq, fn: fn})
}

// RunUntil fires every event due at or before t, then parks the clock
// at t. Events may schedule further events; those run too if due.
func (s *Scheduler) RunUntil(t int64) {
	for len(s.queue) > 0 && s.queue[0].at <= t {
		e := heap.Pop(&s.queue).(*event)
		if e.at > s.now {
			s.now = e.at
		}
		e.fn()
	}
	if t > s.now {
		s.now = t
	}
}
