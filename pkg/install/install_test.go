package install

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nixblitz/installer-engine/pkg/disk"
	"github.com/nixblitz/installer-engine/pkg/errors"
	"github.com/nixblitz/installer-engine/pkg/pipeline"
)

func TestSnapshotJSON_CarriesPhase(t *testing.T) {
	snap := Snapshot{
		State: Failed{
			StepIndex:   2,
			StepKind:    pipeline.KindPartitionDisk,
			Error:       ErrorInfo{Kind: pipeline.ErrorKindPartition, Code: string(disk.DeviceBusy), Message: "busy"},
			PartialLog:  []string{"wiping"},
			DiskTouched: true,
		},
		AttemptID: "a1",
		Version:   7,
	}

	data, err := json.Marshal(snap)
	require.NoError(t, err)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(data, &generic))
	assert.Equal(t, "failed", generic["phase"])
	assert.Equal(t, []any{}, generic["log"])

	var decoded Snapshot
	require.NoError(t, json.Unmarshal(data, &decoded))
	failed, ok := decoded.State.(Failed)
	require.True(t, ok)
	assert.Equal(t, 2, failed.StepIndex)
	assert.Equal(t, "device_busy", failed.Error.Code)
	assert.Equal(t, uint64(7), decoded.Version)
}

func TestSnapshotJSON_NilStateIsIdle(t *testing.T) {
	data, err := json.Marshal(Snapshot{})
	require.NoError(t, err)

	var decoded Snapshot
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, PhaseIdle, decoded.State.Phase())
}

func TestDecodeState_UnknownPhase(t *testing.T) {
	_, err := DecodeState("exploded", nil)
	assert.Error(t, err)
}

func TestEvent_Terminal(t *testing.T) {
	assert.True(t, StateChanged(Snapshot{State: Succeeded{}}).Terminal())
	assert.True(t, StateChanged(Snapshot{State: Failed{StepIndex: -1}}).Terminal())
	assert.False(t, StateChanged(Snapshot{State: Installing{}}).Terminal())
	assert.False(t, LogAppended(pipeline.Result{}).Terminal())
	assert.False(t, Heartbeat().Terminal())
}

func TestCommandError_Is(t *testing.T) {
	err := errors.Wrap(NotAllowed(CmdConfirmAndInstall, PhaseIdle), "rejected")
	assert.True(t, errors.Is(err, ErrInvalidForState))
	assert.False(t, errors.Is(err, ErrMalformedInput))
	assert.Contains(t, err.Error(), "not allowed while idle")

	assert.True(t, errors.Is(Malformed(CmdSelectDisk, "missing device_path"), ErrMalformedInput))
}

func TestAwaitingDiskSelection_FindCandidate(t *testing.T) {
	s := AwaitingDiskSelection{Candidates: []disk.Candidate{{DevicePath: "/dev/sda"}, {DevicePath: "/dev/nvme0n1"}}}

	c, ok := s.FindCandidate("/dev/nvme0n1")
	assert.True(t, ok)
	assert.Equal(t, "/dev/nvme0n1", c.DevicePath)

	_, ok = s.FindCandidate("/dev/sdz")
	assert.False(t, ok)
}

func TestEventFrame_StateChanged(t *testing.T) {
	ev := StateChanged(Snapshot{State: AwaitingConfirmation{SelectedDisk: disk.Candidate{DevicePath: "/dev/sda"}}, Demo: true})
	ev.Seq = 12
	ev.Gap = true

	f, err := EventFrame(ev)
	require.NoError(t, err)
	assert.Equal(t, FrameStateChanged, f.Type)

	data, err := json.Marshal(f)
	require.NoError(t, err)

	var back Frame
	require.NoError(t, json.Unmarshal(data, &back))
	decoded, err := DecodeEvent(back)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), decoded.Seq)
	assert.True(t, decoded.Gap)
	assert.True(t, decoded.State.Demo)
	conf, ok := decoded.State.State.(AwaitingConfirmation)
	require.True(t, ok)
	assert.Equal(t, "/dev/sda", conf.SelectedDisk.DevicePath)
}

func TestErrorFrame(t *testing.T) {
	f := ErrorFrame(NotAllowed(CmdReset, PhaseIdle))
	assert.Equal(t, FrameCommandError, f.Type)

	var ce CommandError
	require.NoError(t, json.Unmarshal(f.Payload, &ce))
	assert.Equal(t, InvalidForState, ce.Code)

	f = ErrorFrame(errors.New("plain"))
	require.NoError(t, json.Unmarshal(f.Payload, &ce))
	assert.Equal(t, MalformedInput, ce.Code)
}

func TestDecodeEvent_RejectsReplies(t *testing.T) {
	_, err := DecodeEvent(AckFrame(Command{Type: CmdReset}))
	assert.Error(t, err)
}
