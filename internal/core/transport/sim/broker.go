package sim

import (
	"encoding/json"

	"github.com/ticksync/ticksync/internal/core/transport"
)

type entry struct {
	serverTime int64
	clientTime int64
	name       string
	data       json.RawMessage
}

// Broker is the authoritative in-memory log. Appends stamp the current
// virtual time and assign dense indices, mirroring the real broker's
// contract.
type Broker struct {
	sched    *Scheduler
	rooms    map[string][]entry
	watchers map[string][]*Client
}

func NewBroker(sched *Scheduler) *Broker {
	return &Broker{
		sched:    sched,
		rooms:    make(map[string][]entry),
		watchers: make(map[string][]*Client),
	}
}

func (b *Broker) time() int64 {
	return b.sched.Now()
}

// append stores the event and fans it out to every watcher, the sender
// included, each over its own downlink.
func (b *Broker) append(room string, clientTime int64, name string, data json.RawMessage) {
	idx := int64(len(b.rooms[room]))
	en := entry{
		serverTime: b.time(),
		clientTime: clientTime,
		name:       name,
		data:       data,
	}
	b.rooms[room] = append(b.rooms[room], en)

	p := b.post(room, idx, en)
	for _, w := range b.watchers[room] {
		w.deliver(p)
	}
}

func (b *Broker) watch(room string, c *Client) {
	for _, w := range b.watchers[room] {
		if w == c {
			return
		}
	}
	b.watchers[room] = append(b.watchers[room], c)
}

func (b *Broker) unwatch(room string, c *Client) {
	ws := b.watchers[room]
	for i, w := range ws {
		if w == c {
			b.watchers[room] = append(ws[:i], ws[i+1:]...)
			return
		}
	}
}

// load streams the backlog from the given index to one client.
func (b *Broker) load(room string, from int64, c *Client) {
	entries := b.rooms[room]
	for i := from; i < int64(len(entries)); i++ {
		c.deliver(b.post(room, i, entries[i]))
	}
}

// Count returns the room's log length: the replay oracle for tests.
func (b *Broker) Count(room string) int64 {
	return int64(len(b.rooms[room]))
}

// Posts returns the room's full authoritative log.
func (b *Broker) Posts(room string) []transport.Post {
	entries := b.rooms[room]
	posts := make([]transport.Post, len(entries))
	for i, en := range entries {
		posts[i] = b.post(room, int64(i), en)
	}
	return posts
}

func (b *Broker) post(room string, idx int64, en entry) transport.Post {
	return transport.Post{
		Room:       room,
		Index:      idx,
		ServerTime: en.serverTime,
		ClientTime: en.clientTime,
		Name:       en.name,
		Data:       en.data,
	}
}
