// Package ws implements the broker transport over a WebSocket
// connection.
package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/ksuid"

	"github.com/ticksync/ticksync/internal/core/clock"
	"github.com/ticksync/ticksync/internal/core/observability/log"
	"github.com/ticksync/ticksync/internal/core/transport"
	"github.com/ticksync/ticksync/internal/core/wire"
)

var _ transport.Transport = (*Transport)(nil)

// Config holds connection tuning for the WebSocket transport.
type Config struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	MaxMessageSize   int64
}

// DefaultConfig returns the tuning used by the demo clients.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		MaxMessageSize:   wire.MaxFrameSize,
	}
}

// Transport speaks the wire schema over one WebSocket connection. A
// transport is single-use: when the connection drops the host builds a
// fresh transport and fresh engines, there is no reconnect logic.
type Transport struct {
	conn   *websocket.Conn
	clk    *clock.Clock
	config Config
	logger log.Log

	mu       sync.Mutex
	handlers map[string]transport.Handler
	open     bool
	probeAt  int64

	writeMu sync.Mutex
	done    chan struct{}
}

// Dial connects to a broker and starts the read loop and the clock
// probes. The returned transport is open; its clock syncs after the
// first probe round-trip.
func Dial(ctx context.Context, url string, config Config, logger log.Log) (*Transport, error) {
	if logger == nil {
		logger = log.Nop()
	}

	dialer := websocket.Dialer{HandshakeTimeout: config.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	if config.MaxMessageSize > 0 {
		conn.SetReadLimit(config.MaxMessageSize)
	}

	t := &Transport{
		conn:     conn,
		clk:      clock.New(nil),
		config:   config,
		logger:   logger.With(log.String("component", "transport"), log.String("url", url)),
		handlers: make(map[string]transport.Handler),
		open:     true,
		done:     make(chan struct{}),
	}

	go t.readLoop()
	go t.probeLoop()

	return t, nil
}

// Close tears down the connection and stops the probe loop.
func (t *Transport) Close() error {
	t.mu.Lock()
	if !t.open {
		t.mu.Unlock()
		return nil
	}
	t.open = false
	close(t.done)
	t.mu.Unlock()
	return t.conn.Close()
}

func (t *Transport) probeLoop() {
	t.probe()
	ticker := time.NewTicker(clock.ProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.probe()
		case <-t.done:
			return
		}
	}
}

func (t *Transport) probe() {
	t.mu.Lock()
	t.probeAt = t.clk.Now()
	t.mu.Unlock()
	if err := t.write(wire.Message{Kind: wire.KindGetTime}); err != nil {
		t.logger.Warn("time probe failed", log.Error(err))
	}
}

func (t *Transport) readLoop() {
	defer t.Close()
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			select {
			case <-t.done:
			default:
				t.logger.Warn("connection lost", log.Error(err))
			}
			return
		}
		m, err := wire.Decode(data)
		if err != nil {
			t.logger.Warn("undecodable frame", log.Error(err))
			continue
		}
		t.dispatch(m)
	}
}

func (t *Transport) dispatch(m wire.Message) {
	switch m.Kind {
	case wire.KindInfoTime:
		recvAt := t.clk.Now()
		t.mu.Lock()
		sentAt := t.probeAt
		t.mu.Unlock()
		t.clk.Observe(m.Time, sentAt, recvAt)

	case wire.KindInfoPost:
		t.mu.Lock()
		h := t.handlers[m.Room]
		t.mu.Unlock()
		if h == nil {
			return
		}
		h(transport.Post{
			Room:       m.Room,
			Index:      m.Index,
			ServerTime: m.ServerTime,
			ClientTime: m.ClientTime,
			Name:       m.Name,
			Data:       m.Data,
		})

	default:
		// Unknown kinds are ignored for forward compatibility.
		t.logger.Debug("ignoring message", log.String("kind", string(m.Kind)))
	}
}

func (t *Transport) write(m wire.Message) error {
	data, err := wire.Encode(m)
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.config.WriteTimeout > 0 {
		_ = t.conn.SetWriteDeadline(time.Now().Add(t.config.WriteTimeout))
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *Transport) OnSync(fn func()) {
	t.clk.OnSync(fn)
}

func (t *Transport) Watch(room string, h transport.Handler) error {
	t.mu.Lock()
	if _, ok := t.handlers[room]; ok {
		t.mu.Unlock()
		return transport.ErrDuplicateHandler
	}
	t.handlers[room] = h
	t.mu.Unlock()
	return t.write(wire.Message{Kind: wire.KindWatch, Room: room})
}

func (t *Transport) Unwatch(room string) error {
	t.mu.Lock()
	delete(t.handlers, room)
	t.mu.Unlock()
	return t.write(wire.Message{Kind: wire.KindUnwatch, Room: room})
}

func (t *Transport) Load(room string, from int64) error {
	return t.write(wire.Message{Kind: wire.KindLoad, Room: room, From: from})
}

// Post publishes data and returns the name the broker will echo. The
// name is a fresh ksuid: opaque, sortable, and over 64 bits of
// entropy.
func (t *Transport) Post(room string, data json.RawMessage) (string, error) {
	t.mu.Lock()
	open := t.open
	t.mu.Unlock()
	if !open {
		return "", transport.ErrNotOpen
	}

	clientTime, err := t.clk.ServerTime()
	if err != nil {
		return "", err
	}
	name := ksuid.New().String()
	if err := t.write(wire.Message{
		Kind: wire.KindPost,
		Room: room,
		Time: clientTime,
		Name: name,
		Data: data,
	}); err != nil {
		return "", err
	}
	return name, nil
}

func (t *Transport) ServerTime() (int64, error) {
	return t.clk.ServerTime()
}

func (t *Transport) Ping() (int64, bool) {
	return t.clk.Ping()
}
