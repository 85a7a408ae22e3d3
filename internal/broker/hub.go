// Package broker implements the append-only room log server: it
// stamps and stores posts, assigns dense indices, and fans deliveries
// out to room watchers over WebSocket and QUIC.
package broker

import (
	"sync"
	"time"

	"github.com/ticksync/ticksync/internal/broker/store"
	"github.com/ticksync/ticksync/internal/core/observability/log"
	"github.com/ticksync/ticksync/internal/core/wire"
)

// Hub owns the store and the watcher registry. One hub serves every
// connection regardless of transport.
type Hub struct {
	store   store.RoomStore
	logger  log.Log
	metrics *Metrics
	nowFn   func() int64

	mu       sync.Mutex
	watchers map[string]map[*Session]struct{}
}

func NewHub(st store.RoomStore, metrics *Metrics, logger log.Log) *Hub {
	if logger == nil {
		logger = log.Nop()
	}
	return &Hub{
		store:    st,
		logger:   logger.With(log.String("component", "hub")),
		metrics:  metrics,
		nowFn:    func() int64 { return time.Now().UnixMilli() },
		watchers: make(map[string]map[*Session]struct{}),
	}
}

// handle processes one message from a session. Unknown kinds are
// logged and ignored so older brokers tolerate newer clients.
func (h *Hub) handle(s *Session, m wire.Message) {
	h.metrics.observeMessage(string(m.Kind))

	switch m.Kind {
	case wire.KindGetTime:
		s.send(wire.Message{Kind: wire.KindInfoTime, Time: h.nowFn()})

	case wire.KindPost:
		h.post(s, m)

	case wire.KindLoad:
		h.load(s, m)

	case wire.KindWatch:
		h.watch(m.Room, s)

	case wire.KindUnwatch:
		h.unwatch(m.Room, s)

	default:
		h.logger.Debug("ignoring message",
			log.String("kind", string(m.Kind)), log.String("session", s.id))
	}
}

// post stamps, stores, and fans out one event. Store and fan-out run
// under the lock so indices reach every watcher in append order with
// non-decreasing server times.
func (h *Hub) post(s *Session, m wire.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	e := store.Entry{
		ServerTime: h.nowFn(),
		ClientTime: m.Time,
		Name:       m.Name,
		Data:       m.Data,
	}
	idx, err := h.store.Append(m.Room, e)
	if err != nil {
		h.logger.Error("append failed", log.String("room", m.Room), log.Error(err))
		return
	}
	h.metrics.observePost(m.Room)

	out := infoPost(m.Room, idx, e)
	for w := range h.watchers[m.Room] {
		w.send(out)
	}
}

// load streams the backlog straight to the requesting session. Live
// posts appended during the scan are not lost: the session also
// watches, and the engine dedupes overlap by index.
func (h *Hub) load(s *Session, m wire.Message) {
	err := h.store.ReadFrom(m.Room, m.From, func(idx int64, e store.Entry) error {
		s.send(infoPost(m.Room, idx, e))
		return nil
	})
	if err != nil {
		h.logger.Error("backlog read failed", log.String("room", m.Room), log.Error(err))
	}
}

func (h *Hub) watch(room string, s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ws := h.watchers[room]
	if ws == nil {
		ws = make(map[*Session]struct{})
		h.watchers[room] = ws
	}
	ws[s] = struct{}{}
	h.metrics.setWatchers(h.watcherCount())
}

func (h *Hub) unwatch(room string, s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ws := h.watchers[room]; ws != nil {
		delete(ws, s)
		if len(ws) == 0 {
			delete(h.watchers, room)
		}
	}
	h.metrics.setWatchers(h.watcherCount())
}

// drop removes the session from every room.
func (h *Hub) drop(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for room, ws := range h.watchers {
		delete(ws, s)
		if len(ws) == 0 {
			delete(h.watchers, room)
		}
	}
	h.metrics.setWatchers(h.watcherCount())
}

func (h *Hub) watcherCount() int {
	n := 0
	for _, ws := range h.watchers {
		n += len(ws)
	}
	return n
}

func infoPost(room string, idx int64, e store.Entry) wire.Message {
	return wire.Message{
		Kind:       wire.KindInfoPost,
		Room:       room,
		Index:      idx,
		ServerTime: e.ServerTime,
		ClientTime: e.ClientTime,
		Name:       e.Name,
		Data:       e.Data,
	}
}
