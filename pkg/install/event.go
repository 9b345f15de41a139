package install

import (
	"time"

	"github.com/nixblitz/installer-engine/pkg/pipeline"
)

// EventKind distinguishes event payloads.
type EventKind string

const (
	EventStateChanged EventKind = "state_changed"
	EventLogAppended  EventKind = "log_appended"
	EventHeartbeat    EventKind = "heartbeat"
)

// Event is an immutable notification fanned out to observers. Gap is set on
// the first event delivered after the hub dropped events for a subscriber.
type Event struct {
	Seq   uint64
	Kind  EventKind
	At    time.Time
	State *Snapshot
	Log   *pipeline.Result
	Gap   bool
}

// Terminal reports whether the event announces a terminal state.
func (e Event) Terminal() bool {
	return e.Kind == EventStateChanged && e.State != nil && e.State.State != nil && e.State.State.Terminal()
}

// StateChanged builds a state event for snap.
func StateChanged(snap Snapshot) Event {
	return Event{Kind: EventStateChanged, At: time.Now(), State: &snap}
}

// LogAppended builds a log event for res.
func LogAppended(res pipeline.Result) Event {
	return Event{Kind: EventLogAppended, At: time.Now(), Log: &res}
}

// Heartbeat builds a liveness event.
func Heartbeat() Event {
	return Event{Kind: EventHeartbeat, At: time.Now()}
}
