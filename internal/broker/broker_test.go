package broker

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/ticksync/ticksync/internal/broker/store"
	"github.com/ticksync/ticksync/internal/core/wire"
)

type testClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func startBroker(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	st, err := store.NewJSONLStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cfg := DefaultConfig()
	cfg.WriteTimeout = time.Second
	srv := NewServer(cfg, st, nil)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func dialBroker(t *testing.T, ts *httptest.Server) *testClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &testClient{t: t, conn: conn}
}

func (c *testClient) send(m wire.Message) {
	data, err := wire.Encode(m)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, data))
}

func (c *testClient) recv() wire.Message {
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := c.conn.ReadMessage()
	require.NoError(c.t, err)
	m, err := wire.Decode(data)
	require.NoError(c.t, err)
	return m
}

func TestBroker_GetTime(t *testing.T) {
	_, ts := startBroker(t)
	c := dialBroker(t, ts)

	before := time.Now().UnixMilli()
	c.send(wire.Message{Kind: wire.KindGetTime})
	reply := c.recv()
	after := time.Now().UnixMilli()

	require.Equal(t, wire.KindInfoTime, reply.Kind)
	require.GreaterOrEqual(t, reply.Time, before)
	require.LessOrEqual(t, reply.Time, after)
}

func TestBroker_PostEchoAndIndices(t *testing.T) {
	_, ts := startBroker(t)
	c := dialBroker(t, ts)

	c.send(wire.Message{Kind: wire.KindWatch, Room: "arena"})

	c.send(wire.Message{Kind: wire.KindPost, Room: "arena", Time: 123, Name: "p-1", Data: json.RawMessage(`{"x":1}`)})
	echo := c.recv()
	require.Equal(t, wire.KindInfoPost, echo.Kind)
	require.Equal(t, "arena", echo.Room)
	require.Equal(t, int64(0), echo.Index)
	require.Equal(t, int64(123), echo.ClientTime)
	require.Equal(t, "p-1", echo.Name)
	require.JSONEq(t, `{"x":1}`, string(echo.Data))
	require.Positive(t, echo.ServerTime)

	c.send(wire.Message{Kind: wire.KindPost, Room: "arena", Time: 456, Name: "p-2", Data: json.RawMessage(`2`)})
	second := c.recv()
	require.Equal(t, int64(1), second.Index)
	require.GreaterOrEqual(t, second.ServerTime, echo.ServerTime)
}

func TestBroker_FanOutToAllWatchers(t *testing.T) {
	_, ts := startBroker(t)
	a := dialBroker(t, ts)
	b := dialBroker(t, ts)

	a.send(wire.Message{Kind: wire.KindWatch, Room: "arena"})
	b.send(wire.Message{Kind: wire.KindWatch, Room: "arena"})

	// Watch is processed by each session's own read loop; give the
	// second registration a moment before posting.
	time.Sleep(50 * time.Millisecond)

	a.send(wire.Message{Kind: wire.KindPost, Room: "arena", Time: 1, Name: "n", Data: json.RawMessage(`1`)})

	got := a.recv()
	require.Equal(t, int64(0), got.Index)
	got = b.recv()
	require.Equal(t, int64(0), got.Index)
}

func TestBroker_LoadStreamsBacklog(t *testing.T) {
	_, ts := startBroker(t)
	c := dialBroker(t, ts)

	c.send(wire.Message{Kind: wire.KindWatch, Room: "arena"})
	for i := 0; i < 3; i++ {
		c.send(wire.Message{Kind: wire.KindPost, Room: "arena", Time: int64(i), Name: "n", Data: json.RawMessage(`1`)})
		c.recv()
	}

	// A second client loads from index 1.
	other := dialBroker(t, ts)
	other.send(wire.Message{Kind: wire.KindLoad, Room: "arena", From: 1})
	first := other.recv()
	require.Equal(t, int64(1), first.Index)
	second := other.recv()
	require.Equal(t, int64(2), second.Index)
}

func TestBroker_UnwatchStopsDelivery(t *testing.T) {
	_, ts := startBroker(t)
	c := dialBroker(t, ts)

	c.send(wire.Message{Kind: wire.KindWatch, Room: "arena"})
	c.send(wire.Message{Kind: wire.KindUnwatch, Room: "arena"})
	c.send(wire.Message{Kind: wire.KindPost, Room: "arena", Time: 1, Name: "n", Data: json.RawMessage(`1`)})

	// The post was stored but not delivered; get_time's reply is the
	// next frame we see.
	c.send(wire.Message{Kind: wire.KindGetTime})
	reply := c.recv()
	require.Equal(t, wire.KindInfoTime, reply.Kind)
}

func TestBroker_UnknownKindIgnored(t *testing.T) {
	_, ts := startBroker(t)
	c := dialBroker(t, ts)

	c.send(wire.Message{Kind: "gossip"})

	// The session survives: a probe still answers.
	c.send(wire.Message{Kind: wire.KindGetTime})
	require.Equal(t, wire.KindInfoTime, c.recv().Kind)
}
