//go:build linux
// +build linux

package disk

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nixblitz/installer-engine/pkg/errors"
)

func writeMounts(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mounts")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write mounts file: %v", err)
	}
	return path
}

// TestPartitionDeviceBusy verifies a mounted partition blocks partitioning
func TestPartitionDeviceBusy(t *testing.T) {
	runner := &scriptedRunner{}
	p := &LinuxPartitioner{runner: runner, mountsFile: writeMounts(t, "/dev/sda2 / ext4 rw 0 0\n")}

	err := p.PartitionAndFormat(context.Background(), "/dev/sda", DefaultScheme(), nil)
	if !errors.Is(err, ErrDeviceBusy) {
		t.Fatalf("Expected device busy, got %v", err)
	}
	if len(runner.calls) != 0 {
		t.Errorf("Expected no commands, got %v", runner.calls)
	}
}

// TestPartitionInsufficientSpace verifies the minimum size check
func TestPartitionInsufficientSpace(t *testing.T) {
	runner := &scriptedRunner{output: map[string][]string{"blockdev": {"1073741824"}}}
	p := &LinuxPartitioner{runner: runner, mountsFile: writeMounts(t, "")}

	err := p.PartitionAndFormat(context.Background(), "/dev/sdb", DefaultScheme(), nil)
	if !errors.Is(err, ErrInsufficientSpace) {
		t.Fatalf("Expected insufficient space, got %v", err)
	}
}

// TestPartitionCommandSequence verifies the tools run in order on the right nodes
func TestPartitionCommandSequence(t *testing.T) {
	runner := &scriptedRunner{output: map[string][]string{"blockdev": {"2000398934016"}}}
	p := &LinuxPartitioner{runner: runner, mountsFile: writeMounts(t, "/dev/sda1 /iso iso9660 ro 0 0\n")}

	if err := p.PartitionAndFormat(context.Background(), "/dev/nvme0n1", DefaultScheme(), nil); err != nil {
		t.Fatalf("PartitionAndFormat failed: %v", err)
	}

	expected := []string{
		"blockdev --getsize64 /dev/nvme0n1",
		"wipefs -a /dev/nvme0n1",
		"sgdisk --zap-all /dev/nvme0n1",
		"sgdisk -n 1:0:+512M -t 1:ef00 -c 1:boot -n 2:0:+64G -t 2:8300 -c 2:root -n 3:0:0 -t 3:8300 -c 3:data /dev/nvme0n1",
		"partprobe /dev/nvme0n1",
		"mkfs.vfat -F 32 -n BOOT /dev/nvme0n1p1",
		"mkfs.ext4 -F -L nixos /dev/nvme0n1p2",
		"mkfs.ext4 -F -L data /dev/nvme0n1p3",
	}
	if len(runner.calls) != len(expected) {
		t.Fatalf("Expected %d commands, got %d: %v", len(expected), len(runner.calls), runner.calls)
	}
	for i := range expected {
		if runner.calls[i] != expected[i] {
			t.Errorf("Command %d: expected %q, got %q", i, expected[i], runner.calls[i])
		}
	}
}

// TestPartitionToolFailure verifies tool errors are classified
func TestPartitionToolFailure(t *testing.T) {
	runner := &scriptedRunner{
		output: map[string][]string{"blockdev": {"2000398934016"}},
		fail:   map[string]error{"sgdisk": errors.New("exit 2")},
	}
	p := &LinuxPartitioner{runner: runner, mountsFile: writeMounts(t, "")}

	err := p.PartitionAndFormat(context.Background(), "/dev/sda", DefaultScheme(), nil)
	var pe *PartitionError
	if !errors.As(err, &pe) {
		t.Fatalf("Expected PartitionError, got %v", err)
	}
	if pe.Kind != ToolFailed {
		t.Errorf("Expected kind %s, got %s", ToolFailed, pe.Kind)
	}
}

// TestMountLayout verifies partitions land below the target root
func TestMountLayout(t *testing.T) {
	runner := &scriptedRunner{}
	p := &LinuxPartitioner{runner: runner}

	if err := p.Mount(context.Background(), "/dev/sda", DefaultScheme(), "/mnt", nil); err != nil {
		t.Fatalf("Mount failed: %v", err)
	}

	expected := []string{
		"mkdir -p /mnt",
		"mount /dev/sda2 /mnt",
		"mkdir -p /mnt/boot /mnt/mnt/data",
		"mount -o umask=077 /dev/sda1 /mnt/boot",
		"mount /dev/sda3 /mnt/mnt/data",
	}
	for i := range expected {
		if i >= len(runner.calls) || runner.calls[i] != expected[i] {
			t.Fatalf("Expected commands %v, got %v", expected, runner.calls)
		}
	}
}

// TestIsPartitionSuffix verifies partition node matching
func TestIsPartitionSuffix(t *testing.T) {
	tests := []struct {
		suffix   string
		expected bool
	}{
		{"1", true},
		{"p3", true},
		{"", false},
		{"p", false},
		{"b1", false},
	}

	for _, tt := range tests {
		if got := isPartitionSuffix(tt.suffix); got != tt.expected {
			t.Errorf("For suffix %q, expected %v, got %v", tt.suffix, tt.expected, got)
		}
	}
}
