// Package stream encodes simulation events for delivery to clients.
//
// Every event becomes one JSON message of the form {"type": ..., "data": ...}
// or, for errors, {"type": "error", "message": ...}. Over SSE each message is
// framed as "data: <json>\n\n"; over WebSocket it is sent as a single text
// message. Nothing is written after a terminal message.
package stream

import (
	"bufio"
	"encoding/json"
	"io"
	"iter"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"stratsim/internal/logger"
	"stratsim/internal/simulation"
)

// Message is the JSON shape of one event on the wire.
type Message struct {
	Type    simulation.EventType `json:"type"`
	Data    any                  `json:"data,omitempty"`
	Message string               `json:"message,omitempty"`
}

// NewMessage converts an event into its wire form.
func NewMessage(ev simulation.Event) Message {
	switch e := ev.(type) {
	case simulation.InfoEvent:
		return Message{Type: simulation.EventInfo, Data: e.Info}
	case simulation.UpdateEvent:
		return Message{Type: simulation.EventUpdate, Data: e.State}
	case simulation.CompleteEvent:
		return Message{Type: simulation.EventComplete, Data: e.Result}
	case simulation.ErrorEvent:
		msg := "simulation failed"
		if e.Err != nil {
			msg = e.Err.Error()
		}
		return Message{Type: simulation.EventError, Message: msg}
	}
	return Message{Type: simulation.EventError, Message: "unknown event"}
}

// Encode marshals an event as a single-line JSON message.
func Encode(ev simulation.Event) ([]byte, error) {
	b, err := sonic.Marshal(NewMessage(ev))
	if err != nil {
		return nil, errors.Wrapf(err, "stream: encode %s", ev.Type())
	}
	return b, nil
}

// Frame wraps an encoded message as one SSE frame.
func Frame(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+8)
	out = append(out, "data: "...)
	out = append(out, payload...)
	return append(out, '\n', '\n')
}

// Writer delivers encoded messages to one client.
type Writer interface {
	WriteMessage(payload []byte) error
}

// Pump encodes events from seq into w until a terminal event is written,
// the sequence ends, or a write fails. A write failure means the client is
// gone: it is logged at debug level and ends the pump without error, which
// also stops the producer. Pump returns the number of messages written.
func Pump(seq iter.Seq[simulation.Event], w Writer, log *zap.Logger) int {
	log = logger.OrNop(log)
	sent := 0
	for ev := range seq {
		payload, err := Encode(ev)
		if err != nil {
			log.Error("stream encode failed", zap.Error(err))
			payload, _ = Encode(simulation.ErrorEvent{Err: err})
			ev = simulation.ErrorEvent{Err: err}
		}
		if err := w.WriteMessage(payload); err != nil {
			log.Debug("stream write failed, client gone",
				zap.String("event", string(ev.Type())),
				zap.Int("sent", sent),
				zap.Error(err),
			)
			return sent
		}
		sent++
		if ev.Terminal() {
			return sent
		}
	}
	return sent
}

// Decoded is a parsed wire message with its payload left raw.
type Decoded struct {
	Type    simulation.EventType `json:"type"`
	Data    json.RawMessage      `json:"data,omitempty"`
	Message string               `json:"message,omitempty"`
}

// Decode parses one JSON message.
func Decode(payload []byte) (Decoded, error) {
	var d Decoded
	if err := sonic.Unmarshal(payload, &d); err != nil {
		return Decoded{}, errors.Wrap(err, "stream: decode message")
	}
	return d, nil
}

// Frames yields the messages of an SSE body as they arrive. Lines other
// than "data:" fields are ignored; a blank line ends each frame. A read or
// decode failure is yielded once and ends the sequence.
func Frames(r io.Reader) iter.Seq2[Decoded, error] {
	return func(yield func(Decoded, error) bool) {
		var buf strings.Builder
		flush := func() bool {
			if buf.Len() == 0 {
				return true
			}
			d, err := Decode([]byte(buf.String()))
			buf.Reset()
			if err != nil {
				yield(Decoded{}, err)
				return false
			}
			return yield(d, nil)
		}

		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
		for sc.Scan() {
			line := sc.Text()
			switch {
			case line == "":
				if !flush() {
					return
				}
			case strings.HasPrefix(line, "data:"):
				if buf.Len() > 0 {
					buf.WriteByte('\n')
				}
				buf.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			}
		}
		if err := sc.Err(); err != nil {
			yield(Decoded{}, errors.Wrap(err, "stream: read frames"))
			return
		}
		flush()
	}
}
