//go:build linux
// +build linux

package disk

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/nixblitz/installer-engine/pkg/errors"
	"github.com/nixblitz/installer-engine/pkg/process"
)

// LinuxPartitioner lays out disks with sgdisk and mkfs.
type LinuxPartitioner struct {
	runner     process.Runner
	mountsFile string
}

// NewPartitioner creates a Linux partitioner. Commands go through runner,
// which is expected to carry any privilege prefix.
func NewPartitioner(runner process.Runner) Partitioner {
	slog.Info("partitioner_init", "platform", "linux")
	return &LinuxPartitioner{runner: runner, mountsFile: "/proc/self/mounts"}
}

func (p *LinuxPartitioner) PartitionAndFormat(ctx context.Context, devicePath string, scheme Scheme, out process.LineFunc) error {
	slog.Info("partition_start", "device", devicePath, "boot_mib", scheme.BootSizeMiB, "root_gib", scheme.RootSizeGiB)

	busy, err := p.isMounted(devicePath)
	if err != nil {
		return &PartitionError{Kind: ToolFailed, Device: devicePath, Err: err}
	}
	if busy {
		slog.Error("partition_device_busy", "device", devicePath)
		return &PartitionError{Kind: DeviceBusy, Device: devicePath}
	}

	size, err := p.deviceSize(ctx, devicePath)
	if err != nil {
		return p.toolError(ctx, devicePath, err)
	}
	if scheme.MinSizeBytes > 0 && size < scheme.MinSizeBytes {
		slog.Error("partition_insufficient_space", "device", devicePath, "size_bytes", size, "min_bytes", scheme.MinSizeBytes)
		return &PartitionError{
			Kind:   InsufficientSpace,
			Device: devicePath,
			Err:    fmt.Errorf("disk has %d bytes, need %d", size, scheme.MinSizeBytes),
		}
	}

	rootFS := scheme.RootFS
	if rootFS == "" {
		rootFS = "ext4"
	}

	cmds := [][]string{
		{"wipefs", "-a", devicePath},
		{"sgdisk", "--zap-all", devicePath},
		{"sgdisk",
			"-n", fmt.Sprintf("%d:0:+%dM", PartBoot, scheme.BootSizeMiB), "-t", fmt.Sprintf("%d:ef00", PartBoot), "-c", fmt.Sprintf("%d:boot", PartBoot),
			"-n", fmt.Sprintf("%d:0:+%dG", PartRoot, scheme.RootSizeGiB), "-t", fmt.Sprintf("%d:8300", PartRoot), "-c", fmt.Sprintf("%d:root", PartRoot),
			"-n", fmt.Sprintf("%d:0:0", PartData), "-t", fmt.Sprintf("%d:8300", PartData), "-c", fmt.Sprintf("%d:data", PartData),
			devicePath},
		{"partprobe", devicePath},
		{"mkfs.vfat", "-F", "32", "-n", "BOOT", PartitionPath(devicePath, PartBoot)},
		{"mkfs." + rootFS, "-F", "-L", "nixos", PartitionPath(devicePath, PartRoot)},
		{"mkfs." + rootFS, "-F", "-L", "data", PartitionPath(devicePath, PartData)},
	}
	for _, c := range cmds {
		if _, err := p.runner.Run(ctx, c[0], c[1:], out); err != nil {
			return p.toolError(ctx, devicePath, err)
		}
	}

	slog.Info("partition_complete", "device", devicePath)
	return nil
}

func (p *LinuxPartitioner) Mount(ctx context.Context, devicePath string, scheme Scheme, root string, out process.LineFunc) error {
	slog.Info("mount_start", "device", devicePath, "root", root)

	bootDir := filepath.Join(root, "boot")
	dataDir := filepath.Join(root, "mnt", "data")
	cmds := [][]string{
		{"mkdir", "-p", root},
		{"mount", PartitionPath(devicePath, PartRoot), root},
		{"mkdir", "-p", bootDir, dataDir},
		{"mount", "-o", "umask=077", PartitionPath(devicePath, PartBoot), bootDir},
		{"mount", PartitionPath(devicePath, PartData), dataDir},
	}
	for _, c := range cmds {
		if _, err := p.runner.Run(ctx, c[0], c[1:], out); err != nil {
			slog.Error("mount_failed", "device", devicePath, "root", root, "error", err)
			return errors.Wrap(err, "failed to mount target filesystems")
		}
	}

	slog.Info("mount_complete", "root", root)
	return nil
}

func (p *LinuxPartitioner) Unmount(ctx context.Context, root string, out process.LineFunc) error {
	slog.Info("unmount_start", "root", root)

	if _, err := p.runner.Run(ctx, "umount", []string{"-R", root}, out); err != nil {
		slog.Error("unmount_failed", "root", root, "error", err)
		return errors.Wrap(err, "failed to unmount target filesystems")
	}

	slog.Info("unmount_complete", "root", root)
	return nil
}

func (p *LinuxPartitioner) toolError(ctx context.Context, devicePath string, err error) error {
	if ctx.Err() != nil {
		return errors.Wrap(err, "partitioning interrupted")
	}
	slog.Error("partition_tool_failed", "device", devicePath, "error", err)
	return &PartitionError{Kind: ToolFailed, Device: devicePath, Err: err}
}

func (p *LinuxPartitioner) deviceSize(ctx context.Context, devicePath string) (uint64, error) {
	res, err := p.runner.Run(ctx, "blockdev", []string{"--getsize64", devicePath}, nil)
	if err != nil {
		return 0, errors.Wrap(err, "failed to read device size")
	}
	if len(res.Output) == 0 {
		return 0, fmt.Errorf("blockdev printed no size for %s", devicePath)
	}
	size, err := strconv.ParseUint(strings.TrimSpace(res.Output[0]), 10, 64)
	if err != nil {
		return 0, errors.Wrap(err, "failed to parse device size")
	}
	return size, nil
}

// isMounted reports whether the device or any of its partitions is mounted.
func (p *LinuxPartitioner) isMounted(devicePath string) (bool, error) {
	f, err := os.Open(p.mountsFile)
	if err != nil {
		return false, errors.Wrap(err, "failed to read mount table")
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if fields[0] == devicePath || strings.HasPrefix(fields[0], devicePath) && isPartitionSuffix(fields[0][len(devicePath):]) {
			return true, nil
		}
	}
	return false, scanner.Err()
}

func isPartitionSuffix(s string) bool {
	s = strings.TrimPrefix(s, "p")
	if s == "" {
		return false
	}
	_, err := strconv.Atoi(s)
	return err == nil
}
