package fakebackend

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remote-agent-terminal/dashsync/internal/envelope"
	"github.com/remote-agent-terminal/dashsync/internal/model"
	"github.com/remote-agent-terminal/dashsync/internal/realtime"
	"github.com/remote-agent-terminal/dashsync/internal/session"
	"github.com/remote-agent-terminal/dashsync/internal/transport"
)

func setupServer(t *testing.T, config Config) (*Server, *httptest.Server) {
	t.Helper()
	s := New(config)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Close()
		srv.Close()
	})
	return s, srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

// connect dials the stream and waits until the hub has registered it.
func connect(t *testing.T, s *Server, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return s.ClientCount() > 0 }, 2*time.Second, 5*time.Millisecond)
	return conn
}

func read(t *testing.T, conn *websocket.Conn) envelope.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	env, err := envelope.Decode(data)
	require.NoError(t, err)
	return env
}

func write(t *testing.T, conn *websocket.Conn, topic string, payload any) {
	t.Helper()
	env, err := envelope.New(topic, payload, 42)
	require.NoError(t, err)
	data, err := envelope.Encode(env)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func TestServer_TickBroadcasts(t *testing.T) {
	s, srv := setupServer(t, Config{Agents: 2, Seed: 7})
	conn := connect(t, s, srv)

	s.Tick()

	for i := 1; i <= 2; i++ {
		env := read(t, conn)
		require.Equal(t, envelope.TopicAgentUpdate, env.Topic())
		var u model.AgentUpdate
		require.NoError(t, env.DecodePayload(&u))
		require.NoError(t, u.Validate())
		assert.Equal(t, fmt.Sprintf("agent-%d", i), u.ID)
		require.NotNil(t, u.Metrics)
		assert.GreaterOrEqual(t, *u.Metrics.CPU, 0.0)
		assert.LessOrEqual(t, *u.Metrics.CPU, 100.0)
	}

	env := read(t, conn)
	require.Equal(t, envelope.TopicTelemetry, env.Topic())
	var sample model.TelemetrySample
	require.NoError(t, env.DecodePayload(&sample))
	assert.Equal(t, env.Timestamp(), sample.Timestamp)
}

func TestServer_TaskLifecycle(t *testing.T) {
	s, srv := setupServer(t, Config{Agents: 1, Seed: 1})
	conn := connect(t, s, srv)

	nextTask := func() model.TaskEvent {
		t.Helper()
		for {
			env := read(t, conn)
			if env.Topic() != envelope.TopicTaskUpdate {
				continue
			}
			var ev model.TaskEvent
			require.NoError(t, env.DecodePayload(&ev))
			return ev
		}
	}

	// Tasks advance every third round.
	for range 3 {
		s.Tick()
	}
	first := nextTask()
	assert.Equal(t, TaskQueued, first.Status)
	assert.Equal(t, "agent-1", first.AgentID)
	assert.NotEmpty(t, first.ID)

	for range 3 {
		s.Tick()
	}
	ev := nextTask()
	assert.Equal(t, first.ID, ev.ID)
	assert.Equal(t, TaskRunning, ev.Status)
	second := nextTask()
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, TaskQueued, second.Status)

	for range 3 {
		s.Tick()
	}
	ev = nextTask()
	assert.Equal(t, first.ID, ev.ID)
	assert.Contains(t, []string{TaskCompleted, TaskFailed}, ev.Status)
}

func TestServer_PingCommand(t *testing.T) {
	s, srv := setupServer(t, Config{})
	conn := connect(t, s, srv)

	write(t, conn, envelope.TopicCommand, map[string]string{"intent": "ping"})

	env := read(t, conn)
	require.Equal(t, "pong", env.Topic())
	assert.JSONEq(t, `{"timestamp":42}`, string(env.Payload()))
}

func TestServer_CommandQueuesTask(t *testing.T) {
	s, srv := setupServer(t, Config{})
	conn := connect(t, s, srv)

	write(t, conn, envelope.TopicCommand, map[string]string{"action": "restart"})

	env := read(t, conn)
	require.Equal(t, envelope.TopicTaskUpdate, env.Topic())
	var ev model.TaskEvent
	require.NoError(t, env.DecodePayload(&ev))
	assert.Equal(t, TaskQueued, ev.Status)
	assert.Equal(t, "restart", ev.Message)
}

func TestServer_RejectsBadRequests(t *testing.T) {
	s, srv := setupServer(t, Config{})
	conn := connect(t, s, srv)

	tests := []struct {
		name    string
		topic   string
		payload any
		reason  string
	}{
		{"unknown topic", "subscribe", nil, "unsupported topic"},
		{"unnamed command", envelope.TopicCommand, map[string]int{"x": 1}, "command name is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			write(t, conn, tt.topic, tt.payload)
			env := read(t, conn)
			require.Equal(t, envelope.TopicError, env.Topic())
			var d envelope.Diagnostic
			require.NoError(t, env.DecodePayload(&d))
			assert.Equal(t, envelope.DiagnosticRemote, d.Kind)
			assert.Equal(t, tt.reason, d.Reason)
		})
	}
}

func TestServer_HTTPRoutes(t *testing.T) {
	s, srv := setupServer(t, Config{})
	conn := connect(t, s, srv)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	var health struct {
		Status  string `json:"status"`
		Clients int    `json:"clients"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.Clients)

	resp, err = http.Post(srv.URL+"/drop", "application/json", nil)
	require.NoError(t, err)
	var dropped struct {
		Dropped int `json:"dropped"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&dropped))
	resp.Body.Close()
	assert.Equal(t, 1, dropped.Dropped)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 0, s.ClientCount())
}

func TestServer_RealtimeClientEndToEnd(t *testing.T) {
	s, srv := setupServer(t, Config{Agents: 3, Seed: 3})

	c, err := realtime.New(transport.NewWebSocketDialer(transport.WebSocketConfig{}), realtime.Config{
		Session: session.Config{URL: wsURL(srv)},
	})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Connect())
	require.Eventually(t, func() bool {
		return c.Session().State() == session.StateOpen && s.ClientCount() == 1
	}, 2*time.Second, 5*time.Millisecond)

	s.Tick()
	require.Eventually(t, func() bool {
		return c.Stores().Agents.Len() == 3 && c.Stores().Telemetry.Len() == 1
	}, 2*time.Second, 5*time.Millisecond)

	// A dropped connection is reconnected and traffic resumes.
	s.Drop()
	require.Eventually(t, func() bool {
		return c.Session().State() == session.StateOpen && s.ClientCount() == 1
	}, 5*time.Second, 10*time.Millisecond)

	s.Tick()
	require.Eventually(t, func() bool {
		return c.Stores().Telemetry.Len() == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, c.Diagnostics())
}
