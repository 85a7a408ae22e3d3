// Package wire defines the JSON message schema spoken between clients
// and the broker over both WebSocket and QUIC, and the newline-delimited
// framing used on QUIC streams (WebSocket frames each message itself).
package wire

import "encoding/json"

// Kind discriminates messages via the "$" field.
type Kind string

const (
	// KindGetTime requests the broker's current time.
	KindGetTime Kind = "get_time"
	// KindInfoTime carries the broker's time at send.
	KindInfoTime Kind = "info_time"
	// KindPost publishes an event to a room.
	KindPost Kind = "post"
	// KindInfoPost delivers a stored event: echo, live delivery, and
	// backfill all use the same shape.
	KindInfoPost Kind = "info_post"
	// KindLoad requests the backlog of a room from a given index.
	KindLoad Kind = "load"
	// KindWatch subscribes to future events of a room.
	KindWatch Kind = "watch"
	// KindUnwatch cancels a watch.
	KindUnwatch Kind = "unwatch"
)

// Message is the single envelope for every kind. Fields not used by a
// kind stay at their zero value and are omitted on the wire. Unknown
// kinds decode without error so consumers can skip them.
type Message struct {
	Kind Kind `json:"$"`

	Room string `json:"room,omitempty"`

	// Time is the broker's clock in info_time and the originator's
	// clock in post, both in milliseconds.
	Time int64 `json:"time,omitempty"`

	// From is the first index requested by load.
	From int64 `json:"from,omitempty"`

	// Index, ServerTime, and ClientTime are set on info_post only.
	Index      int64 `json:"index,omitempty"`
	ServerTime int64 `json:"server_time,omitempty"`
	ClientTime int64 `json:"client_time,omitempty"`

	Name string          `json:"name,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Encode marshals m to a single JSON document without trailing newline.
func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// Decode unmarshals a single JSON document into a Message.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, err
	}
	return m, nil
}
