package install

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nixblitz/installer-engine/pkg/errors"
	"github.com/nixblitz/installer-engine/pkg/pipeline"
)

// FrameType names a wire frame.
type FrameType string

const (
	FrameStateChanged FrameType = "state_changed"
	FrameLogAppended  FrameType = "log_appended"
	FrameHeartbeat    FrameType = "heartbeat"
	FrameCommandAck   FrameType = "command_ack"
	FrameCommandError FrameType = "command_error"
)

// Frame is the JSON envelope exchanged with clients.
type Frame struct {
	Type    FrameType       `json:"type"`
	Seq     uint64          `json:"seq,omitempty"`
	Gap     bool            `json:"gap,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type heartbeatPayload struct {
	At time.Time `json:"at"`
}

// EventFrame encodes ev for the wire.
func EventFrame(ev Event) (Frame, error) {
	f := Frame{Type: FrameType(ev.Kind), Seq: ev.Seq, Gap: ev.Gap}

	var payload any
	switch ev.Kind {
	case EventStateChanged:
		payload = ev.State
	case EventLogAppended:
		payload = ev.Log
	case EventHeartbeat:
		payload = heartbeatPayload{At: ev.At}
	default:
		return Frame{}, fmt.Errorf("unknown event kind %q", ev.Kind)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, errors.Wrap(err, "failed to encode event")
	}
	f.Payload = raw
	return f, nil
}

// DecodeEvent reverses EventFrame.
func DecodeEvent(f Frame) (Event, error) {
	ev := Event{Seq: f.Seq, Gap: f.Gap, Kind: EventKind(f.Type)}

	switch f.Type {
	case FrameStateChanged:
		var snap Snapshot
		if err := json.Unmarshal(f.Payload, &snap); err != nil {
			return Event{}, errors.Wrap(err, "failed to decode snapshot")
		}
		ev.State = &snap
	case FrameLogAppended:
		var res pipeline.Result
		if err := json.Unmarshal(f.Payload, &res); err != nil {
			return Event{}, errors.Wrap(err, "failed to decode log entry")
		}
		ev.Log = &res
	case FrameHeartbeat:
		var hb heartbeatPayload
		if len(f.Payload) > 0 {
			if err := json.Unmarshal(f.Payload, &hb); err != nil {
				return Event{}, errors.Wrap(err, "failed to decode heartbeat")
			}
		}
		ev.At = hb.At
	default:
		return Event{}, fmt.Errorf("frame %q is not an event", f.Type)
	}
	return ev, nil
}

// AckFrame acknowledges an accepted command.
func AckFrame(cmd Command) Frame {
	raw, _ := json.Marshal(cmd)
	return Frame{Type: FrameCommandAck, Payload: raw}
}

// ErrorFrame reports a rejected command. Errors that are not a
// *CommandError are reported as malformed input.
func ErrorFrame(err error) Frame {
	var ce *CommandError
	if !errors.As(err, &ce) {
		ce = &CommandError{Code: MalformedInput, Message: err.Error()}
	}
	raw, _ := json.Marshal(ce)
	return Frame{Type: FrameCommandError, Payload: raw}
}

// CommandFrame encodes a client command for sending to the server.
func CommandFrame(cmd Command) Frame {
	f := Frame{Type: FrameType(cmd.Type)}
	if cmd.DevicePath != "" {
		f.Payload, _ = json.Marshal(map[string]string{"device_path": cmd.DevicePath})
	}
	return f
}
