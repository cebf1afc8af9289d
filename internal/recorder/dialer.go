package recorder

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/remote-agent-terminal/dashsync/internal/transport"
)

// Dialer wraps another Dialer and records every frame of every socket it
// opens. Recording failures are logged and never affect the connection.
type Dialer struct {
	next   transport.Dialer
	rec    *Recorder
	logger *slog.Logger
}

// Wrap returns a Dialer that records through rec.
func Wrap(next transport.Dialer, rec *Recorder, logger *slog.Logger) *Dialer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Dialer{next: next, rec: rec, logger: logger}
}

// Open dials through the wrapped Dialer.
func (d *Dialer) Open(url string, listen transport.Listener) transport.Socket {
	d.record(d.rec.Mark("dial " + url))

	sock := d.next.Open(url, func(ev transport.Event) {
		switch ev.Kind {
		case transport.EventOpened:
			d.record(d.rec.Mark("open"))
		case transport.EventMessage:
			d.record(d.rec.WriteInbound(ev.Data))
		case transport.EventClosed:
			d.record(d.rec.Mark(fmt.Sprintf("closed %d %s", ev.Code, ev.Reason)))
		case transport.EventErrored:
			d.record(d.rec.Mark(fmt.Sprintf("error %v", ev.Err)))
		}
		listen(ev)
	})
	return &socket{Socket: sock, dialer: d}
}

func (d *Dialer) record(err error) {
	if err != nil {
		d.logger.Warn("failed to record frame", "error", err)
	}
}

type socket struct {
	transport.Socket
	dialer *Dialer
}

// Send records frames that were written successfully.
func (s *socket) Send(data []byte) error {
	if err := s.Socket.Send(data); err != nil {
		return err
	}
	s.dialer.record(s.dialer.rec.WriteOutbound(data))
	return nil
}
