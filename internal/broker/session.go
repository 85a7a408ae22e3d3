package broker

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ticksync/ticksync/internal/core/observability/log"
	"github.com/ticksync/ticksync/internal/core/wire"
)

// Conn is one framed client connection, whatever the transport.
// wire.StreamConn implements it for QUIC; wsConn adapts gorilla.
type Conn interface {
	ReadMessage() (wire.Message, error)
	WriteMessage(m wire.Message) error
	Close() error
}

// Session pumps one connection's messages through the hub.
type Session struct {
	id     string
	conn   Conn
	hub    *Hub
	logger log.Log

	closeOnce sync.Once
}

func newSession(conn Conn, hub *Hub, logger log.Log) *Session {
	id := uuid.New().String()
	return &Session{
		id:     id,
		conn:   conn,
		hub:    hub,
		logger: logger.With(log.String("session", id)),
	}
}

// run reads until the connection drops, then detaches from the hub.
func (s *Session) run() {
	defer s.close()
	s.logger.Info("session opened")
	for {
		m, err := s.conn.ReadMessage()
		if err != nil {
			s.logger.Info("session closed", log.Error(err))
			return
		}
		s.hub.handle(s, m)
	}
}

// send is best-effort: a failed write means the read loop is about to
// notice the dead connection and detach.
func (s *Session) send(m wire.Message) {
	if err := s.conn.WriteMessage(m); err != nil {
		s.logger.Debug("write failed", log.Error(err))
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.hub.drop(s)
		_ = s.conn.Close()
	})
}

var _ Conn = (*wsConn)(nil)

// wsConn adapts a WebSocket connection to the session Conn. Writes are
// serialized; gorilla allows only one concurrent writer.
type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	writeMu      sync.Mutex
}

func newWSConn(conn *websocket.Conn, writeTimeout time.Duration) *wsConn {
	return &wsConn{conn: conn, writeTimeout: writeTimeout}
}

func (c *wsConn) ReadMessage() (wire.Message, error) {
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			return wire.Message{}, err
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		return wire.Decode(data)
	}
}

func (c *wsConn) WriteMessage(m wire.Message) error {
	data, err := wire.Encode(m)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
