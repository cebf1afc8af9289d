package realtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remote-agent-terminal/dashsync/internal/clock"
	"github.com/remote-agent-terminal/dashsync/internal/command"
	"github.com/remote-agent-terminal/dashsync/internal/db"
	"github.com/remote-agent-terminal/dashsync/internal/envelope"
	"github.com/remote-agent-terminal/dashsync/internal/model"
	"github.com/remote-agent-terminal/dashsync/internal/repository"
	"github.com/remote-agent-terminal/dashsync/internal/session"
	"github.com/remote-agent-terminal/dashsync/internal/store"
	"github.com/remote-agent-terminal/dashsync/internal/transport"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	client *Client
	dialer *transport.MemoryDialer
	clock  *clock.FakeClock
}

// setupOpenClient returns a client whose socket is already open.
func setupOpenClient(t *testing.T, config Config) *fixture {
	t.Helper()
	f := &fixture{dialer: transport.NewMemoryDialer(), clock: clock.NewFake(epoch)}
	config.Session.URL = "ws://backend.test/ws"
	config.Session.Clock = f.clock

	c, err := New(f.dialer, config)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	f.client = c

	require.NoError(t, c.Connect())
	f.dialer.Last().Accept()
	require.Equal(t, session.StateOpen, c.Session().State())
	return f
}

func (f *fixture) deliver(frame string) {
	f.dialer.Last().Deliver([]byte(frame))
}

func collectDiagnostics(t *testing.T, c *Client) *[]envelope.Diagnostic {
	var out []envelope.Diagnostic
	c.Subscribe(envelope.TopicError, func(env envelope.Envelope) {
		var d envelope.Diagnostic
		require.NoError(t, env.DecodePayload(&d))
		out = append(out, d)
	})
	return &out
}

func TestClient_AgentUpdates(t *testing.T) {
	f := setupOpenClient(t, Config{})

	f.deliver(`{"type":"agent_update","payload":{"id":"a1","status":"running","metrics":{"cpu":12.5}},"timestamp":100}`)
	f.deliver(`{"type":"agent_update","payload":{"id":"a1","metrics":{"gpu":140}},"timestamp":200}`)

	a, ok := f.client.Stores().Agents.Get("a1")
	require.True(t, ok)
	assert.Equal(t, model.AgentStatusRunning, a.Status)
	assert.Equal(t, model.Metrics{CPU: 12.5, GPU: 100}, a.Metrics)
	assert.Equal(t, int64(200), a.UpdatedAt)
}

func TestClient_TelemetryAndTasks(t *testing.T) {
	f := setupOpenClient(t, Config{Stores: storeSizes(2, 10)})

	f.deliver(`{"type":"telemetry","payload":{"cpu":1,"memory":2,"gpu":3},"timestamp":10}`)
	f.deliver(`{"type":"telemetry","payload":{"timestamp":15,"cpu":4,"memory":5,"gpu":6},"timestamp":20}`)
	f.deliver(`{"type":"telemetry","payload":{"cpu":7,"memory":8,"gpu":9},"timestamp":30}`)
	f.deliver(`{"type":"task_update","payload":{"id":"t1","agentId":"a1","status":"running"},"timestamp":40}`)

	samples := f.client.Stores().Telemetry.Snapshot()
	require.Len(t, samples, 2)
	assert.Equal(t, int64(15), samples[0].Timestamp)
	assert.Equal(t, int64(30), samples[1].Timestamp)

	tasks := f.client.Stores().Tasks.Snapshot()
	require.Len(t, tasks, 1)
	assert.Equal(t, model.TaskEvent{ID: "t1", AgentID: "a1", Status: "running", Timestamp: 40}, tasks[0])
}

func TestClient_MalformedFrameIsolated(t *testing.T) {
	f := setupOpenClient(t, Config{})
	diags := collectDiagnostics(t, f.client)

	f.deliver(`not json`)
	f.deliver(`{"payload":{}}`)
	f.deliver(`{"type":"agent_update","payload":{"id":"a1"},"timestamp":1}`)

	require.Len(t, *diags, 2)
	assert.Equal(t, envelope.DiagnosticDecode, (*diags)[0].Kind)
	assert.Equal(t, "not json", (*diags)[0].Raw)
	assert.Equal(t, "missing type", (*diags)[1].Reason)
	assert.Equal(t, uint64(2), f.client.Diagnostics())

	_, ok := f.client.Stores().Agents.Get("a1")
	assert.True(t, ok, "frame after malformed ones must still apply")
}

func TestClient_InvalidPayloads(t *testing.T) {
	f := setupOpenClient(t, Config{})
	diags := collectDiagnostics(t, f.client)

	f.deliver(`{"type":"agent_update","payload":"nope"}`)
	f.deliver(`{"type":"agent_update","payload":{"status":"idle"}}`)
	f.deliver(`{"type":"task_update","payload":{"status":"done"}}`)

	require.Len(t, *diags, 3)
	for _, d := range *diags {
		assert.Equal(t, envelope.DiagnosticPayload, d.Kind)
	}
	assert.Equal(t, envelope.TopicAgentUpdate, (*diags)[0].Topic)
	assert.Equal(t, model.ErrAgentIDRequired.Error(), (*diags)[1].Reason)
	assert.Equal(t, envelope.TopicTaskUpdate, (*diags)[2].Topic)
	assert.Equal(t, 0, f.client.Stores().Agents.Len())
}

func TestClient_IncompleteTelemetryRejected(t *testing.T) {
	f := setupOpenClient(t, Config{})
	diags := collectDiagnostics(t, f.client)

	f.deliver(`{"type":"telemetry","payload":{"cpu":0,"memory":0,"gpu":0},"timestamp":4}`)
	f.deliver(`{"type":"telemetry","payload":null,"timestamp":5}`)
	f.deliver(`{"type":"telemetry","timestamp":6}`)
	f.deliver(`{"type":"telemetry","payload":{"foo":1},"timestamp":7}`)
	f.deliver(`{"type":"telemetry","payload":{"cpu":1,"memory":2},"timestamp":8}`)

	assert.Equal(t, []model.TelemetrySample{{Timestamp: 4}}, f.client.Stores().Telemetry.Snapshot())
	require.Len(t, *diags, 4)
	for _, d := range *diags {
		assert.Equal(t, envelope.DiagnosticPayload, d.Kind)
		assert.Equal(t, envelope.TopicTelemetry, d.Topic)
	}
	assert.Contains(t, (*diags)[3].Reason, "gpu")
}

func TestClient_HandlerPanicIsolated(t *testing.T) {
	f := setupOpenClient(t, Config{})
	diags := collectDiagnostics(t, f.client)

	f.client.Subscribe(envelope.TopicTelemetry, func(envelope.Envelope) { panic("ui bug") })
	later := 0
	f.client.Subscribe(envelope.TopicTelemetry, func(envelope.Envelope) { later++ })

	f.deliver(`{"type":"telemetry","payload":{"cpu":1,"memory":1,"gpu":1}}`)

	assert.Equal(t, 1, later)
	assert.Equal(t, 1, f.client.Stores().Telemetry.Len())
	require.Len(t, *diags, 1)
	assert.Equal(t, envelope.DiagnosticHandler, (*diags)[0].Kind)
}

func TestClient_RemoteErrors(t *testing.T) {
	f := setupOpenClient(t, Config{})
	var got []string
	f.client.Subscribe(envelope.TopicError, func(env envelope.Envelope) {
		got = append(got, string(env.Payload()))
	})

	f.deliver(`{"type":"error","payload":{"message":"agent crashed"}}`)

	assert.Equal(t, []string{`{"message":"agent crashed"}`}, got)
	assert.Equal(t, uint64(1), f.client.RemoteErrors())
	assert.Equal(t, uint64(0), f.client.Diagnostics())
}

func TestClient_SubscribeAllSeesUnknownTopics(t *testing.T) {
	f := setupOpenClient(t, Config{})
	var topics []string
	f.client.SubscribeAll(func(topic string, _ envelope.Envelope) { topics = append(topics, topic) })

	f.deliver(`{"type":"custom","payload":1}`)
	f.deliver(`{"type":"telemetry","payload":{"cpu":1,"memory":1,"gpu":1}}`)

	assert.Equal(t, []string{"custom", "telemetry"}, topics)
}

type fakeHistory struct {
	events []model.TaskEvent
	err    error
}

func (h *fakeHistory) Append(_ context.Context, ev model.TaskEvent) error {
	if h.err != nil {
		return h.err
	}
	h.events = append(h.events, ev)
	return nil
}

func TestClient_PersistsTasks(t *testing.T) {
	h := &fakeHistory{}
	f := setupOpenClient(t, Config{History: h})

	f.deliver(`{"type":"task_update","payload":{"id":"t1","status":"queued"},"timestamp":5}`)
	h.err = errors.New("disk full")
	f.deliver(`{"type":"task_update","payload":{"id":"t2","status":"queued"},"timestamp":6}`)

	require.Len(t, h.events, 1)
	assert.Equal(t, "t1", h.events[0].ID)
	assert.Equal(t, 2, f.client.Stores().Tasks.Len(), "store applies even when persistence fails")
}

func TestClient_PersistsTasksToSQLite(t *testing.T) {
	testDB, err := db.NewTestDB()
	require.NoError(t, err)
	defer testDB.Close()
	repo := repository.NewTaskRepository(testDB)

	f := setupOpenClient(t, Config{History: repo})
	f.deliver(`{"type":"task_update","payload":{"id":"t1","agentId":"a1","status":"done","message":"ok"},"timestamp":9}`)

	got, err := repo.List(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, []model.TaskEvent{{ID: "t1", AgentID: "a1", Status: "done", Message: "ok", Timestamp: 9}}, got)
}

func TestClient_ShortcutsForwardToBackend(t *testing.T) {
	f := setupOpenClient(t, Config{
		Shortcuts: map[string]command.Intent{"Ctrl+R": "refresh_agents"},
		Forward:   []command.Intent{"refresh_agents"},
	})

	assert.True(t, f.client.Commands().Trigger("ctrl+r"))

	sent := f.dialer.Last().Sent()
	require.Len(t, sent, 1)
	env, err := envelope.Decode(sent[0])
	require.NoError(t, err)
	assert.Equal(t, envelope.TopicCommand, env.Topic())

	var cmd command.Command
	require.NoError(t, env.DecodePayload(&cmd))
	assert.Equal(t, command.Intent("refresh_agents"), cmd.Intent)
	assert.Equal(t, "ctrl+r", cmd.Chord)
}

func TestClient_InvalidShortcut(t *testing.T) {
	_, err := New(transport.NewMemoryDialer(), Config{
		Shortcuts: map[string]command.Intent{"ctrl+": "x"},
	})
	assert.ErrorIs(t, err, command.ErrInvalidChord)
}

func TestClient_FramesAfterReconnect(t *testing.T) {
	f := setupOpenClient(t, Config{})

	f.dialer.Last().Drop(1006, "")
	f.clock.Advance(time.Second)
	f.dialer.Last().Accept()
	f.deliver(`{"type":"agent_update","payload":{"id":"a9"}}`)

	_, ok := f.client.Stores().Agents.Get("a9")
	assert.True(t, ok)
	assert.Equal(t, 2, f.dialer.Count())
}

func storeSizes(metrics, tasks int) store.Config {
	return store.Config{MetricsHistory: metrics, TaskHistory: tasks}
}

func TestClient_Snapshot(t *testing.T) {
	f := setupOpenClient(t, Config{Shortcuts: map[string]command.Intent{"ctrl+k": "search"}})
	f.deliver(`{"type":"agent_update","payload":{"id":"a1"}}`)

	snap := f.client.Snapshot()
	assert.Equal(t, session.StateOpen, snap.Session.State)
	require.Len(t, snap.Agents, 1)
	assert.NotNil(t, snap.Telemetry)
	assert.NotNil(t, snap.Tasks)
	assert.Equal(t, []command.Binding{{Chord: "ctrl+k", Intent: "search"}}, snap.Bindings)
}
