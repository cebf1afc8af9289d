package envelope

import "errors"

// Diagnostic kinds published on TopicError.
const (
	DiagnosticDecode  = "decode"
	DiagnosticPayload = "payload"
	DiagnosticHandler = "handler"
	DiagnosticRemote  = "remote"
)

// Diagnostic is the payload of locally generated error envelopes.
type Diagnostic struct {
	Kind   string `json:"kind"`
	Topic  string `json:"topic,omitempty"`
	Reason string `json:"reason"`
	Raw    string `json:"raw,omitempty"`
}

// maxDiagnosticRaw bounds the frame excerpt carried in a Diagnostic.
const maxDiagnosticRaw = 512

// DiagnosticFor describes err, using the DecodeError details when present.
func DiagnosticFor(kind, topic string, err error, raw []byte) Diagnostic {
	d := Diagnostic{Kind: kind, Topic: topic, Reason: err.Error()}
	var de *DecodeError
	if errors.As(err, &de) {
		d.Reason = de.Reason
		if raw == nil {
			raw = de.Raw
		}
	}
	if len(raw) > maxDiagnosticRaw {
		raw = raw[:maxDiagnosticRaw]
	}
	d.Raw = string(raw)
	return d
}

// Handle adapts a typed payload handler to an envelope handler. When the
// payload does not decode into T, onError receives the envelope and the
// error and fn is not called.
func Handle[T any](fn func(T, Envelope), onError func(Envelope, error)) func(Envelope) {
	return func(env Envelope) {
		var v T
		if err := env.DecodePayload(&v); err != nil {
			if onError != nil {
				onError(env, err)
			}
			return
		}
		fn(v, env)
	}
}
