package recorder

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remote-agent-terminal/dashsync/internal/clock"
	"github.com/remote-agent-terminal/dashsync/internal/transport"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestRecorder_WritesHeaderAndEvents(t *testing.T) {
	var buf bytes.Buffer
	fc := clock.NewFake(epoch)

	rec, err := NewWithWriter(&buf, "ws://backend", fc)
	require.NoError(t, err)

	require.NoError(t, rec.WriteInbound([]byte(`{"type":"telemetry"}`)))
	fc.Advance(1500 * time.Millisecond)
	require.NoError(t, rec.WriteOutbound([]byte(`{"type":"cmd"}`)))
	require.NoError(t, rec.Close())

	header, events, err := Read(&buf)
	require.NoError(t, err)
	assert.Equal(t, 2, header.Version)
	assert.Equal(t, epoch.Unix(), header.Timestamp)
	assert.Equal(t, "ws://backend", header.Title)

	require.Len(t, events, 2)
	assert.Equal(t, Event{TimeOffset: 0, EventType: EventInbound, Data: `{"type":"telemetry"}`}, events[0])
	assert.Equal(t, Event{TimeOffset: 1.5, EventType: EventOutbound, Data: `{"type":"cmd"}`}, events[1])
}

func TestRecorder_WriteAfterClose(t *testing.T) {
	rec, err := NewWithWriter(&bytes.Buffer{}, "", nil)
	require.NoError(t, err)
	require.NoError(t, rec.Close())
	require.NoError(t, rec.Close())

	assert.ErrorIs(t, rec.Mark("late"), os.ErrClosed)
}

func TestRecorder_CreateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.cast")

	rec, err := Create(path, "title", clock.NewFake(epoch))
	require.NoError(t, err)
	require.NoError(t, rec.Mark("open"))
	require.NoError(t, rec.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	_, events, err := Read(f)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventMarker, events[0].EventType)
}

func TestRead_Errors(t *testing.T) {
	_, _, err := Read(strings.NewReader(""))
	assert.Error(t, err)

	_, _, err = Read(strings.NewReader(`{"version":1}` + "\n"))
	assert.ErrorContains(t, err, "unsupported")

	_, _, err = Read(strings.NewReader(`{"version":2}` + "\n" + `[1,"o"]` + "\n"))
	assert.ErrorContains(t, err, "line 2")
}

func TestDialer_RecordFailuresAreLogged(t *testing.T) {
	rec, err := NewWithWriter(&bytes.Buffer{}, "", clock.NewFake(epoch))
	require.NoError(t, err)
	require.NoError(t, rec.Close())

	var global bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&global, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	// Without a logger failures are discarded, not sent to the default.
	Wrap(transport.NewMemoryDialer(), rec, nil).Open("ws://backend", func(transport.Event) {})
	assert.Empty(t, global.String())

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	Wrap(transport.NewMemoryDialer(), rec, logger).Open("ws://backend", func(transport.Event) {})
	assert.Contains(t, logs.String(), "failed to record frame")
}

func TestDialer_RecordsTraffic(t *testing.T) {
	var buf bytes.Buffer
	rec, err := NewWithWriter(&buf, "", clock.NewFake(epoch))
	require.NoError(t, err)

	mem := transport.NewMemoryDialer()
	d := Wrap(mem, rec, nil)

	var got []transport.EventKind
	sock := d.Open("ws://backend", func(ev transport.Event) { got = append(got, ev.Kind) })

	assert.ErrorIs(t, sock.Send([]byte("too early")), transport.ErrNotConnected)

	raw := mem.Last()
	raw.Accept()
	require.NoError(t, sock.Send([]byte("out")))
	raw.Deliver([]byte("in"))
	raw.Drop(1000, "bye")

	assert.Equal(t, []transport.EventKind{transport.EventOpened, transport.EventMessage, transport.EventClosed}, got)
	assert.Equal(t, [][]byte{[]byte("out")}, raw.Sent())

	_, events, err := Read(&buf)
	require.NoError(t, err)

	var lines []string
	for _, ev := range events {
		lines = append(lines, ev.EventType+" "+ev.Data)
	}
	assert.Equal(t, []string{
		"m dial ws://backend",
		"m open",
		"i out",
		"o in",
		"m closed 1000 bye",
	}, lines)
}
