// Package transport defines the adapter the engine consumes to reach a
// broker. Implementations: ws (production WebSocket), quicstream
// (QUIC), and sim (in-memory broker for tests and offline rooms).
package transport

import (
	"encoding/json"
	"errors"
)

var (
	// ErrNotOpen is returned by Post while the transport has no live
	// connection to a broker.
	ErrNotOpen = errors.New("transport is not open")
	// ErrDuplicateHandler is returned by Watch when the room already
	// has an active handler.
	ErrDuplicateHandler = errors.New("room already has a watch handler")
)

// Post is an event of a room as delivered by the broker. Index is
// dense and strictly increasing per room in server delivery order.
type Post struct {
	Room       string
	Index      int64
	ServerTime int64
	ClientTime int64
	Name       string
	Data       json.RawMessage
}

// Handler receives remote posts for a watched room. Delivery order is
// not guaranteed to follow Index; duplicates may occur.
type Handler func(p Post)

// Transport is the broker adapter. The broker eventually echoes every
// successful Post back through the room's handler with the same name,
// a server-assigned index, and server timestamps.
type Transport interface {
	// OnSync invokes fn exactly once after the clock has synced.
	OnSync(fn func())

	// Watch subscribes to live posts of a room. At most one handler
	// per room; re-registration fails with ErrDuplicateHandler.
	Watch(room string, h Handler) error

	// Unwatch removes the room's handler.
	Unwatch(room string) error

	// Load requests the backlog from the given index. Arrivals flow
	// through the room's watch handler as if live.
	Load(room string, from int64) error

	// Post publishes data and synchronously returns the fresh opaque
	// name the broker will stamp on the echo. Fails with ErrNotOpen
	// while no connection is up.
	Post(room string, data json.RawMessage) (string, error)

	// ServerTime returns the estimated broker time in milliseconds,
	// or clock.ErrNotSynced before the first probe.
	ServerTime() (int64, error)

	// Ping returns the last round-trip in milliseconds; false while
	// no probe has completed.
	Ping() (int64, bool)
}
