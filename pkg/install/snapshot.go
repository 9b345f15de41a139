package install

import (
	"encoding/json"
	"fmt"

	"github.com/nixblitz/installer-engine/pkg/errors"
	"github.com/nixblitz/installer-engine/pkg/pipeline"
)

// Snapshot is an immutable copy of the machine state handed to observers.
type Snapshot struct {
	State     State
	AttemptID string
	Demo      bool
	Log       []pipeline.Result
	Version   uint64
}

type snapshotJSON struct {
	Phase     Phase             `json:"phase"`
	State     json.RawMessage   `json:"state"`
	AttemptID string            `json:"attempt_id,omitempty"`
	Demo      bool              `json:"demo"`
	Log       []pipeline.Result `json:"log"`
	Version   uint64            `json:"version"`
}

func (s Snapshot) MarshalJSON() ([]byte, error) {
	st := s.State
	if st == nil {
		st = Idle{}
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode state")
	}
	log := s.Log
	if log == nil {
		log = []pipeline.Result{}
	}
	return json.Marshal(snapshotJSON{
		Phase:     st.Phase(),
		State:     raw,
		AttemptID: s.AttemptID,
		Demo:      s.Demo,
		Log:       log,
		Version:   s.Version,
	})
}

func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var wire snapshotJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	st, err := DecodeState(wire.Phase, wire.State)
	if err != nil {
		return err
	}
	*s = Snapshot{
		State:     st,
		AttemptID: wire.AttemptID,
		Demo:      wire.Demo,
		Log:       wire.Log,
		Version:   wire.Version,
	}
	return nil
}

// DecodeState decodes the variant named by phase.
func DecodeState(phase Phase, raw json.RawMessage) (State, error) {
	switch phase {
	case PhaseIdle:
		return Idle{}, nil
	case PhaseCheckingSystem:
		return CheckingSystem{}, nil
	case PhaseAwaitingDiskSelection:
		var v AwaitingDiskSelection
		err := decodeInto(raw, &v)
		return v, err
	case PhaseAwaitingConfirmation:
		var v AwaitingConfirmation
		err := decodeInto(raw, &v)
		return v, err
	case PhaseInstalling:
		var v Installing
		err := decodeInto(raw, &v)
		return v, err
	case PhaseSucceeded:
		var v Succeeded
		err := decodeInto(raw, &v)
		return v, err
	case PhaseFailed:
		var v Failed
		err := decodeInto(raw, &v)
		return v, err
	}
	return nil, fmt.Errorf("unknown phase %q", phase)
}

func decodeInto(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.Wrap(err, "failed to decode state")
	}
	return nil
}
