package disk

import (
	"context"

	"github.com/nixblitz/installer-engine/pkg/process"
)

// Candidate is one storage device that can receive the installation.
// Candidates are immutable snapshots; a new probe replaces the whole list.
type Candidate struct {
	Name         string   `json:"name"`
	DevicePath   string   `json:"device_path"`
	SizeBytes    uint64   `json:"size_bytes"`
	Model        string   `json:"model,omitempty"`
	IsRemovable  bool     `json:"is_removable"`
	MountPoints  []string `json:"mount_points,omitempty"`
	IsLiveSystem bool     `json:"is_live_system"`
}

// Scheme describes how a disk is partitioned and formatted.
type Scheme struct {
	BootSizeMiB  int    `json:"boot_size_mib"`
	RootSizeGiB  int    `json:"root_size_gib"`
	MinSizeBytes uint64 `json:"min_size_bytes"`
	RootFS       string `json:"root_fs"`
}

// DefaultScheme returns the layout used by the installer: an EFI partition,
// a root partition and a data partition filling the rest of the disk.
func DefaultScheme() Scheme {
	return Scheme{
		BootSizeMiB:  DefaultBootSizeMiB,
		RootSizeGiB:  DefaultRootSizeGiB,
		MinSizeBytes: DefaultMinSizeBytes,
		RootFS:       "ext4",
	}
}

// Inventory enumerates candidate storage devices.
type Inventory interface {
	// ListDisks returns every disk the installer could write to
	ListDisks(ctx context.Context) ([]Candidate, error)
}

// Partitioner prepares a disk for the new system.
type Partitioner interface {
	// PartitionAndFormat wipes devicePath and lays out scheme on it
	PartitionAndFormat(ctx context.Context, devicePath string, scheme Scheme, out process.LineFunc) error

	// Mount mounts the partitions scheme laid out on devicePath below root
	Mount(ctx context.Context, devicePath string, scheme Scheme, root string, out process.LineFunc) error

	// Unmount releases everything mounted below root
	Unmount(ctx context.Context, root string, out process.LineFunc) error
}
