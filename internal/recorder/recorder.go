// Package recorder writes a transcript of the frames exchanged with the
// backend in the asciinema v2 JSON-lines format: a header line followed
// by [offset, type, data] events. Inbound frames are "o" events, outbound
// frames "i", and connection lifecycle markers "m".
package recorder

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/remote-agent-terminal/dashsync/internal/clock"
)

// Event types.
const (
	EventInbound  = "o"
	EventOutbound = "i"
	EventMarker   = "m"
)

// Header is the first line of a transcript.
type Header struct {
	Version   int               `json:"version"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Timestamp int64             `json:"timestamp"`
	Title     string            `json:"title,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

// Event is one transcript line.
// Format: [time_offset, event_type, data]
type Event struct {
	TimeOffset float64
	EventType  string
	Data       string
}

// MarshalJSON implements custom JSON marshaling for Event.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{e.TimeOffset, e.EventType, e.Data})
}

// UnmarshalJSON implements custom JSON unmarshaling for Event.
func (e *Event) UnmarshalJSON(data []byte) error {
	var arr []interface{}
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	if len(arr) != 3 {
		return fmt.Errorf("invalid event format: expected 3 elements, got %d", len(arr))
	}

	offset, ok := arr[0].(float64)
	if !ok {
		return fmt.Errorf("invalid time offset type")
	}
	eventType, ok := arr[1].(string)
	if !ok {
		return fmt.Errorf("invalid event type")
	}
	eventData, ok := arr[2].(string)
	if !ok {
		return fmt.Errorf("invalid event data type")
	}

	e.TimeOffset = offset
	e.EventType = eventType
	e.Data = eventData
	return nil
}

// Recorder appends events to a transcript. It is safe for concurrent use.
type Recorder struct {
	writer io.Writer
	file   *os.File // only set if we own the file
	clock  clock.Clock
	start  time.Time
	mu     sync.Mutex
	closed bool
}

// Default terminal geometry written to the header; players require one.
const (
	defaultWidth  = 120
	defaultHeight = 40
)

// Create opens a new transcript at path and writes its header.
func Create(path, title string, clk clock.Clock) (*Recorder, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create transcript: %w", err)
	}

	r := newRecorder(file, clk)
	r.file = file
	if err := r.writeHeader(title); err != nil {
		file.Close()
		return nil, err
	}
	return r, nil
}

// NewWithWriter creates a Recorder writing to w and writes the header.
func NewWithWriter(w io.Writer, title string, clk clock.Clock) (*Recorder, error) {
	r := newRecorder(w, clk)
	if err := r.writeHeader(title); err != nil {
		return nil, err
	}
	return r, nil
}

func newRecorder(w io.Writer, clk clock.Clock) *Recorder {
	if clk == nil {
		clk = clock.Real()
	}
	return &Recorder{writer: w, clock: clk, start: clk.Now()}
}

func (r *Recorder) writeHeader(title string) error {
	header := Header{
		Version:   2,
		Width:     defaultWidth,
		Height:    defaultHeight,
		Timestamp: r.start.Unix(),
		Title:     title,
	}

	data, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	if _, err := r.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	return nil
}

// WriteInbound records a frame received from the backend.
func (r *Recorder) WriteInbound(data []byte) error {
	return r.writeEvent(EventInbound, string(data))
}

// WriteOutbound records a frame sent to the backend.
func (r *Recorder) WriteOutbound(data []byte) error {
	return r.writeEvent(EventOutbound, string(data))
}

// Mark records a lifecycle marker.
func (r *Recorder) Mark(label string) error {
	return r.writeEvent(EventMarker, label)
}

func (r *Recorder) writeEvent(eventType, data string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return os.ErrClosed
	}

	event := Event{
		TimeOffset: r.clock.Now().Sub(r.start).Seconds(),
		EventType:  eventType,
		Data:       data,
	}
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := r.writer.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

// Close stops recording and closes the file if the Recorder owns it.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// StartTime returns the start time of the recording.
func (r *Recorder) StartTime() time.Time {
	return r.start
}
