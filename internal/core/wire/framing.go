package wire

import (
	"bufio"
	"errors"
	"io"
	"sync"
)

// MaxFrameSize bounds a single newline-delimited frame.
const MaxFrameSize = 1 << 20

var ErrFrameTooLarge = errors.New("frame too large")

// StreamConn frames Messages over any byte stream as newline-delimited
// JSON. It is the shared codec for the QUIC transport on both ends;
// WebSocket connections get framing from the protocol itself.
type StreamConn struct {
	rw      io.ReadWriteCloser
	reader  *bufio.Reader
	writeMu sync.Mutex
}

func NewStreamConn(rw io.ReadWriteCloser) *StreamConn {
	return &StreamConn{
		rw:     rw,
		reader: bufio.NewReaderSize(rw, 64*1024),
	}
}

// ReadMessage blocks for the next frame. Callers must not invoke it
// concurrently.
func (c *StreamConn) ReadMessage() (Message, error) {
	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) > 0 {
			// A final unterminated frame is still a frame.
			return Decode(line)
		}
		return Message{}, err
	}
	if len(line) > MaxFrameSize {
		return Message{}, ErrFrameTooLarge
	}
	return Decode(line)
}

// WriteMessage appends one frame. Safe for concurrent use.
func (c *StreamConn) WriteMessage(m Message) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}
	if len(data)+1 > MaxFrameSize {
		return ErrFrameTooLarge
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err = c.rw.Write(append(data, '\n')); err != nil {
		return err
	}
	return nil
}

func (c *StreamConn) Close() error {
	return c.rw.Close()
}
