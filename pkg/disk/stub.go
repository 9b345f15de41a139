//go:build !linux
// +build !linux

package disk

import (
	"context"
	"fmt"
	"runtime"

	"github.com/nixblitz/installer-engine/pkg/process"
)

// StubPartitioner refuses all work on non-Linux systems
type StubPartitioner struct{}

// NewPartitioner creates a stub partitioner on non-Linux systems
func NewPartitioner(runner process.Runner) Partitioner {
	return &StubPartitioner{}
}

func (p *StubPartitioner) PartitionAndFormat(ctx context.Context, devicePath string, scheme Scheme, out process.LineFunc) error {
	return &PartitionError{Kind: ToolFailed, Device: devicePath, Err: fmt.Errorf("partitioning not supported on %s", runtime.GOOS)}
}

func (p *StubPartitioner) Mount(ctx context.Context, devicePath string, scheme Scheme, root string, out process.LineFunc) error {
	return fmt.Errorf("mount not supported on %s", runtime.GOOS)
}

func (p *StubPartitioner) Unmount(ctx context.Context, root string, out process.LineFunc) error {
	return fmt.Errorf("unmount not supported on %s", runtime.GOOS)
}
