package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// newEchoServer upgrades every request, reports the server side
// connection and echoes frames until the peer goes away.
func newEchoServer(t *testing.T) (*httptest.Server, <-chan *websocket.Conn) {
	t.Helper()
	conns := make(chan *websocket.Conn, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- conn
	}))
	t.Cleanup(srv.Close)
	return srv, conns
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func collect(events chan Event) Listener {
	return func(ev Event) { events <- ev }
}

func nextEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for transport event")
		return Event{}
	}
}

func TestWebSocketSocketRoundTrip(t *testing.T) {
	srv, conns := newEchoServer(t)
	events := make(chan Event, 16)

	d := NewWebSocketDialer(WebSocketConfig{})
	s := d.Open(wsURL(srv), collect(events))
	defer s.Close()

	require.Equal(t, EventOpened, nextEvent(t, events).Kind)
	server := <-conns
	defer server.Close()

	require.NoError(t, s.Send([]byte(`{"type":"cmd"}`)))
	_, got, err := server.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, `{"type":"cmd"}`, string(got))

	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte("first")))
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte("second")))

	first := nextEvent(t, events)
	second := nextEvent(t, events)
	assert.Equal(t, EventMessage, first.Kind)
	assert.Equal(t, "first", string(first.Data))
	assert.Equal(t, "second", string(second.Data))
}

func TestWebSocketSocketServerClose(t *testing.T) {
	srv, conns := newEchoServer(t)
	events := make(chan Event, 16)

	s := NewWebSocketDialer(WebSocketConfig{}).Open(wsURL(srv), collect(events))
	defer s.Close()

	require.Equal(t, EventOpened, nextEvent(t, events).Kind)
	server := <-conns

	msg := websocket.FormatCloseMessage(4001, "maintenance")
	require.NoError(t, server.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)))
	server.Close()

	ev := nextEvent(t, events)
	assert.Equal(t, EventClosed, ev.Kind)
	assert.Equal(t, 4001, ev.Code)
	assert.Equal(t, "maintenance", ev.Reason)
	assert.ErrorIs(t, s.Send([]byte("x")), ErrNotConnected)
}

func TestWebSocketSocketDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	events := make(chan Event, 4)
	s := NewWebSocketDialer(WebSocketConfig{HandshakeTimeout: time.Second}).Open(url, collect(events))
	defer s.Close()

	ev := nextEvent(t, events)
	assert.Equal(t, EventErrored, ev.Kind)
	assert.Error(t, ev.Err)
}

func TestWebSocketSocketHandshakeRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	events := make(chan Event, 4)
	s := NewWebSocketDialer(WebSocketConfig{}).Open(wsURL(srv), collect(events))
	defer s.Close()

	ev := nextEvent(t, events)
	assert.Equal(t, EventErrored, ev.Kind)
	assert.Contains(t, ev.Err.Error(), "403")
}

func TestWebSocketSocketOwnerCloseIsSilent(t *testing.T) {
	srv, conns := newEchoServer(t)
	events := make(chan Event, 16)

	s := NewWebSocketDialer(WebSocketConfig{}).Open(wsURL(srv), collect(events))
	require.Equal(t, EventOpened, nextEvent(t, events).Kind)
	server := <-conns
	defer server.Close()

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	// The server sees a normal closure.
	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := server.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	select {
	case ev := <-events:
		t.Fatalf("unexpected event after owner close: %v", ev.Kind)
	case <-time.After(100 * time.Millisecond):
	}
	assert.ErrorIs(t, s.Send([]byte("x")), ErrNotConnected)
}
