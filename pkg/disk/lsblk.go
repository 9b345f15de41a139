package disk

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"

	"github.com/nixblitz/installer-engine/pkg/errors"
	"github.com/nixblitz/installer-engine/pkg/process"
)

var lsblkArgs = []string{"-b", "-J", "-o", "NAME,SIZE,TYPE,MOUNTPOINTS,RM,MODEL"}

var diskPrefixes = []string{"sd", "nvme", "hd", "vd"}

// Mount points that only exist while running from installation media.
var liveMountPoints = map[string]struct{}{
	"/":              {},
	"/iso":           {},
	"/nix/.ro-store": {},
	"/nix/store":     {},
}

// LsblkInventory lists disks by parsing lsblk JSON output.
type LsblkInventory struct {
	runner process.Runner
}

// NewLsblkInventory creates an inventory backed by runner.
func NewLsblkInventory(runner process.Runner) *LsblkInventory {
	return &LsblkInventory{runner: runner}
}

func (l *LsblkInventory) ListDisks(ctx context.Context) ([]Candidate, error) {
	res, err := l.runner.Run(ctx, "lsblk", lsblkArgs, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to run lsblk")
	}

	disks, err := ParseLsblk([]byte(strings.Join(res.Output, "\n")))
	if err != nil {
		return nil, err
	}

	slog.Info("disk_inventory", "candidates", len(disks))
	return disks, nil
}

type lsblkOutput struct {
	BlockDevices []lsblkDevice `json:"blockdevices"`
}

type lsblkDevice struct {
	Name        string          `json:"name"`
	Size        json.RawMessage `json:"size"`
	Type        string          `json:"type"`
	MountPoints []*string       `json:"mountpoints"`
	MountPoint  *string         `json:"mountpoint"`
	RM          json.RawMessage `json:"rm"`
	Model       *string         `json:"model"`
	Children    []lsblkDevice   `json:"children"`
}

// ParseLsblk converts `lsblk -b -J` output into candidates. Only whole disks
// with sd, nvme, hd or vd names are kept.
func ParseLsblk(data []byte) ([]Candidate, error) {
	var out lsblkOutput
	if err := json.Unmarshal(bytes.TrimSpace(data), &out); err != nil {
		return nil, errors.Wrap(err, "failed to parse lsblk output")
	}

	disks := make([]Candidate, 0, len(out.BlockDevices))
	for _, dev := range out.BlockDevices {
		if dev.Type != "disk" || !hasDiskPrefix(dev.Name) {
			continue
		}

		size, err := parseUint(dev.Size)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid size for %s", dev.Name)
		}

		mounts := dev.collectMountPoints(nil)
		c := Candidate{
			Name:         dev.Name,
			DevicePath:   "/dev/" + dev.Name,
			SizeBytes:    size,
			IsRemovable:  parseBool(dev.RM),
			MountPoints:  mounts,
			IsLiveSystem: isLiveSystem(mounts),
		}
		if dev.Model != nil {
			c.Model = strings.TrimSpace(*dev.Model)
		}
		disks = append(disks, c)
	}
	return disks, nil
}

func (d lsblkDevice) collectMountPoints(acc []string) []string {
	for _, mp := range d.MountPoints {
		if mp != nil && *mp != "" {
			acc = append(acc, *mp)
		}
	}
	// lsblk before 2.37 only reports a single mountpoint
	if len(d.MountPoints) == 0 && d.MountPoint != nil && *d.MountPoint != "" {
		acc = append(acc, *d.MountPoint)
	}
	for _, child := range d.Children {
		acc = child.collectMountPoints(acc)
	}
	return acc
}

func hasDiskPrefix(name string) bool {
	for _, p := range diskPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

func isLiveSystem(mounts []string) bool {
	for _, mp := range mounts {
		if _, ok := liveMountPoints[mp]; ok {
			return true
		}
	}
	return false
}

// lsblk prints numbers as JSON numbers or strings depending on version.
func parseUint(raw json.RawMessage) (uint64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}
	s := strings.Trim(string(raw), `"`)
	return strconv.ParseUint(s, 10, 64)
}

func parseBool(raw json.RawMessage) bool {
	switch strings.Trim(string(raw), `"`) {
	case "true", "1":
		return true
	}
	return false
}

// PartitionPath returns the device node of partition n on device. Devices
// whose names end in a digit (nvme0n1, mmcblk0, loop0) use a "p" separator.
func PartitionPath(device string, n int) string {
	if device == "" {
		return ""
	}
	last := device[len(device)-1]
	if last >= '0' && last <= '9' {
		return device + "p" + strconv.Itoa(n)
	}
	return device + strconv.Itoa(n)
}
