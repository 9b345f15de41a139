package disk

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nixblitz/installer-engine/pkg/errors"
	"github.com/nixblitz/installer-engine/pkg/process"
)

const lsblkTwoDisks = `{
   "blockdevices": [
      {"name": "loop0", "size": 1048576, "type": "loop", "mountpoints": ["/nix/.ro-store"], "rm": false, "model": null},
      {"name": "sda", "size": 500107862016, "type": "disk", "mountpoints": [null], "rm": false, "model": "Samsung SSD 870 ",
         "children": [
            {"name": "sda1", "size": 536870912, "type": "part", "mountpoints": [null], "rm": false, "model": null}
         ]
      },
      {"name": "nvme0n1", "size": 2000398934016, "type": "disk", "mountpoints": [null], "rm": false, "model": "WD Black SN850X"},
      {"name": "sr0", "size": 1073741312, "type": "rom", "mountpoints": [null], "rm": true, "model": "DVD"}
   ]
}`

func TestParseLsblk_FiltersToDisks(t *testing.T) {
	disks, err := ParseLsblk([]byte(lsblkTwoDisks))
	require.NoError(t, err)
	require.Len(t, disks, 2)

	assert.Equal(t, "sda", disks[0].Name)
	assert.Equal(t, "/dev/sda", disks[0].DevicePath)
	assert.Equal(t, uint64(500107862016), disks[0].SizeBytes)
	assert.Equal(t, "Samsung SSD 870", disks[0].Model)
	assert.False(t, disks[0].IsLiveSystem)

	assert.Equal(t, "nvme0n1", disks[1].Name)
	assert.Equal(t, uint64(2000398934016), disks[1].SizeBytes)
}

func TestParseLsblk_LiveSystemFromChildMount(t *testing.T) {
	data := `{"blockdevices": [
		{"name": "sdb", "size": "31914983424", "type": "disk", "mountpoints": [null], "rm": "1", "model": "USB Stick",
		 "children": [{"name": "sdb1", "size": "31914983424", "type": "part", "mountpoints": ["/iso"], "rm": "1"}]}
	]}`

	disks, err := ParseLsblk([]byte(data))
	require.NoError(t, err)
	require.Len(t, disks, 1)
	assert.True(t, disks[0].IsRemovable)
	assert.True(t, disks[0].IsLiveSystem)
	assert.Equal(t, []string{"/iso"}, disks[0].MountPoints)
	assert.Equal(t, uint64(31914983424), disks[0].SizeBytes)
}

func TestParseLsblk_LegacyMountpoint(t *testing.T) {
	data := `{"blockdevices": [{"name": "vda", "size": 1000, "type": "disk", "mountpoint": "/", "rm": "0"}]}`

	disks, err := ParseLsblk([]byte(data))
	require.NoError(t, err)
	require.Len(t, disks, 1)
	assert.True(t, disks[0].IsLiveSystem)
	assert.False(t, disks[0].IsRemovable)
}

func TestParseLsblk_InvalidJSON(t *testing.T) {
	_, err := ParseLsblk([]byte("not json"))
	assert.Error(t, err)
}

type scriptedRunner struct {
	calls  []string
	output map[string][]string
	fail   map[string]error
}

func (r *scriptedRunner) Run(_ context.Context, name string, args []string, onLine process.LineFunc) (*process.Result, error) {
	cmd := process.CommandString(name, args)
	r.calls = append(r.calls, cmd)
	out := r.output[name]
	for _, l := range out {
		if onLine != nil {
			onLine(l)
		}
	}
	if err := r.fail[name]; err != nil {
		return &process.Result{Command: cmd, ExitCode: 1}, err
	}
	return &process.Result{Command: cmd, Output: out}, nil
}

func TestLsblkInventory_ListDisks(t *testing.T) {
	runner := &scriptedRunner{output: map[string][]string{"lsblk": strings.Split(lsblkTwoDisks, "\n")}}

	disks, err := NewLsblkInventory(runner).ListDisks(context.Background())
	require.NoError(t, err)
	assert.Len(t, disks, 2)
	assert.Equal(t, []string{"lsblk -b -J -o NAME,SIZE,TYPE,MOUNTPOINTS,RM,MODEL"}, runner.calls)
}

func TestLsblkInventory_RunnerFailure(t *testing.T) {
	runner := &scriptedRunner{fail: map[string]error{"lsblk": errors.New("no lsblk")}}

	_, err := NewLsblkInventory(runner).ListDisks(context.Background())
	assert.Error(t, err)
}

func TestPartitionPath(t *testing.T) {
	tests := []struct {
		device   string
		n        int
		expected string
	}{
		{"/dev/sda", 1, "/dev/sda1"},
		{"/dev/vdb", 3, "/dev/vdb3"},
		{"/dev/nvme0n1", 3, "/dev/nvme0n1p3"},
		{"/dev/mmcblk0", 2, "/dev/mmcblk0p2"},
		{"", 1, ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, PartitionPath(tt.device, tt.n), tt.device)
	}
}

func TestPartitionError_Is(t *testing.T) {
	err := errors.Wrap(&PartitionError{Kind: DeviceBusy, Device: "/dev/sda"}, "step failed")

	assert.True(t, errors.Is(err, ErrDeviceBusy))
	assert.False(t, errors.Is(err, ErrInsufficientSpace))

	var pe *PartitionError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "/dev/sda", pe.Device)
}
