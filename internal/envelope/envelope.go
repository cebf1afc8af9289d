// Package envelope implements the topic-tagged unit of message exchange
// and its JSON wire form {"type", "payload", "timestamp"}.
package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// Well-known topics.
const (
	TopicAgentUpdate = "agent_update"
	TopicTelemetry   = "telemetry"
	TopicTaskUpdate  = "task_update"
	TopicError       = "error"
	TopicCommand     = "cmd"
)

// ErrEmptyTopic is returned when an envelope is built without a topic.
var ErrEmptyTopic = errors.New("envelope topic is required")

var nullPayload = json.RawMessage("null")

// Envelope is immutable once constructed.
type Envelope struct {
	topic     string
	payload   json.RawMessage
	timestamp int64
}

// New marshals payload and builds an envelope. A json.RawMessage payload
// is used as is after validation.
func New(topic string, payload any, timestamp int64) (Envelope, error) {
	if topic == "" {
		return Envelope{}, ErrEmptyTopic
	}

	var raw json.RawMessage
	switch p := payload.(type) {
	case nil:
		raw = nullPayload
	case json.RawMessage:
		if !json.Valid(p) {
			return Envelope{}, fmt.Errorf("envelope %s: payload is not valid JSON", topic)
		}
		raw = append(json.RawMessage(nil), p...)
	default:
		data, err := json.Marshal(p)
		if err != nil {
			return Envelope{}, fmt.Errorf("envelope %s: failed to marshal payload: %w", topic, err)
		}
		raw = data
	}

	return Envelope{topic: topic, payload: raw, timestamp: timestamp}, nil
}

// Topic returns the routing key, which is also the wire "type".
func (e Envelope) Topic() string { return e.topic }

// Timestamp returns the sender timestamp in milliseconds.
func (e Envelope) Timestamp() int64 { return e.timestamp }

// Payload returns a copy of the raw JSON payload.
func (e Envelope) Payload() json.RawMessage {
	if e.payload == nil {
		return append(json.RawMessage(nil), nullPayload...)
	}
	return append(json.RawMessage(nil), e.payload...)
}

// DecodePayload unmarshals the payload into v.
func (e Envelope) DecodePayload(v any) error {
	payload := e.payload
	if payload == nil {
		payload = nullPayload
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("envelope %s: failed to decode payload: %w", e.topic, err)
	}
	return nil
}

type wireEnvelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
}

// MarshalJSON encodes the wire form.
func (e Envelope) MarshalJSON() ([]byte, error) {
	payload := e.payload
	if payload == nil {
		payload = nullPayload
	}
	return json.Marshal(wireEnvelope{Type: e.topic, Payload: payload, Timestamp: e.timestamp})
}

// Encode returns the wire bytes of e.
func Encode(e Envelope) ([]byte, error) {
	if e.topic == "" {
		return nil, ErrEmptyTopic
	}
	return e.MarshalJSON()
}

// DecodeError reports a frame that does not have the envelope shape.
type DecodeError struct {
	Raw    []byte
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode envelope: %s: %v", e.Reason, e.Err)
	}
	return "decode envelope: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decode parses one wire frame.
func Decode(data []byte) (Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Envelope{}, &DecodeError{Raw: clone(data), Reason: "frame is not a JSON object", Err: err}
	}
	if fields == nil {
		return Envelope{}, &DecodeError{Raw: clone(data), Reason: "frame is null"}
	}

	rawType, ok := fields["type"]
	if !ok {
		return Envelope{}, &DecodeError{Raw: clone(data), Reason: "missing type"}
	}
	var topic string
	if err := json.Unmarshal(rawType, &topic); err != nil {
		return Envelope{}, &DecodeError{Raw: clone(data), Reason: "type is not a string", Err: err}
	}
	if topic == "" {
		return Envelope{}, &DecodeError{Raw: clone(data), Reason: "empty type"}
	}

	payload := nullPayload
	if p, ok := fields["payload"]; ok {
		payload = clone(p)
	}

	var timestamp int64
	if rawTS, ok := fields["timestamp"]; ok && !bytes.Equal(bytes.TrimSpace(rawTS), nullPayload) {
		ts, err := parseTimestamp(rawTS)
		if err != nil {
			reason := "timestamp is not a number"
			if errors.Is(err, errTimestampRange) {
				reason = "timestamp out of range"
			}
			return Envelope{}, &DecodeError{Raw: clone(data), Reason: reason, Err: err}
		}
		timestamp = ts
	}

	return Envelope{topic: topic, payload: payload, timestamp: timestamp}, nil
}

var errTimestampRange = errors.New("timestamp out of range")

// 2^63, the first float64 above the int64 range.
const timestampLimit = 1 << 63

func parseTimestamp(raw json.RawMessage) (int64, error) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, err
	}
	if i, err := n.Int64(); err == nil {
		return i, nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || f >= timestampLimit || f < -timestampLimit {
		return 0, fmt.Errorf("%w: %v", errTimestampRange, f)
	}
	return int64(f), nil
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}
