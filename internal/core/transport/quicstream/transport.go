// Package quicstream implements the broker transport over a single
// QUIC bidirectional stream carrying newline-delimited wire messages.
package quicstream

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/segmentio/ksuid"

	"github.com/ticksync/ticksync/internal/core/clock"
	"github.com/ticksync/ticksync/internal/core/observability/log"
	"github.com/ticksync/ticksync/internal/core/transport"
	"github.com/ticksync/ticksync/internal/core/wire"
)

var _ transport.Transport = (*Transport)(nil)

// ALPN is the protocol name negotiated during the QUIC handshake.
const ALPN = "ticksync"

// Config holds connection tuning for the QUIC transport.
type Config struct {
	HandshakeTimeout time.Duration
	MaxIdleTimeout   time.Duration
	KeepAlivePeriod  time.Duration

	// TLSConfig overrides the default client TLS setup. The default
	// trusts any certificate; the broker's is self-signed.
	TLSConfig *tls.Config
}

// DefaultConfig returns the tuning used by the demo clients.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		MaxIdleTimeout:   30 * time.Second,
		KeepAlivePeriod:  15 * time.Second,
	}
}

// Transport speaks the wire schema over one QUIC stream. Like the
// WebSocket transport it is single-use: no reconnect logic.
type Transport struct {
	conn   *quic.Conn
	stream *wire.StreamConn
	clk    *clock.Clock
	logger log.Log

	mu       sync.Mutex
	handlers map[string]transport.Handler
	open     bool
	probeAt  int64

	done chan struct{}
}

// Dial connects to a broker's QUIC listener and opens the message
// stream.
func Dial(ctx context.Context, addr string, config Config, logger log.Log) (*Transport, error) {
	if logger == nil {
		logger = log.Nop()
	}

	tlsConf := config.TLSConfig
	if tlsConf == nil {
		tlsConf = &tls.Config{
			InsecureSkipVerify: true,
			NextProtos:         []string{ALPN},
			MinVersion:         tls.VersionTLS13,
		}
	}
	quicConf := &quic.Config{
		MaxIdleTimeout:       config.MaxIdleTimeout,
		KeepAlivePeriod:      config.KeepAlivePeriod,
		HandshakeIdleTimeout: config.HandshakeTimeout,
	}

	conn, err := quic.DialAddr(ctx, addr, tlsConf, quicConf)
	if err != nil {
		return nil, err
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "no stream")
		return nil, err
	}

	t := &Transport{
		conn:     conn,
		stream:   wire.NewStreamConn(stream),
		clk:      clock.New(nil),
		logger:   logger.With(log.String("component", "transport"), log.String("addr", addr)),
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
	_ = t.stream.Close()
	return t.conn.CloseWithError(0, "closed")
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
	if err := t.stream.WriteMessage(wire.Message{Kind: wire.KindGetTime}); err != nil {
		t.logger.Warn("time probe failed", log.Error(err))
	}
}

func (t *Transport) readLoop() {
	defer t.Close()
	for {
		m, err := t.stream.ReadMessage()
		if err != nil {
			select {
			case <-t.done:
			default:
				t.logger.Warn("connection lost", log.Error(err))
			}
			return
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
		t.logger.Debug("ignoring message", log.String("kind", string(m.Kind)))
	}
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
	return t.stream.WriteMessage(wire.Message{Kind: wire.KindWatch, Room: room})
}

func (t *Transport) Unwatch(room string) error {
	t.mu.Lock()
	delete(t.handlers, room)
	t.mu.Unlock()
	return t.stream.WriteMessage(wire.Message{Kind: wire.KindUnwatch, Room: room})
}

func (t *Transport) Load(room string, from int64) error {
	return t.stream.WriteMessage(wire.Message{Kind: wire.KindLoad, Room: room, From: from})
}

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
	if err := t.stream.WriteMessage(wire.Message{
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
