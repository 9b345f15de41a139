package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nixblitz/installer-engine/pkg/bridge"
	"github.com/nixblitz/installer-engine/pkg/disk"
	"github.com/nixblitz/installer-engine/pkg/errors"
	"github.com/nixblitz/installer-engine/pkg/process"
)

// DefaultSimulatedInterval is the base duration of a simulated step.
const DefaultSimulatedInterval = 500 * time.Millisecond

// SimulatedExecutor fabricates step outcomes without touching the host.
// Every step succeeds unless its kind equals FailAt.
type SimulatedExecutor struct {
	Interval time.Duration
	FailAt   Kind
	Disks    []disk.Candidate
	Summary  bridge.SystemSummary
}

// NewSimulatedExecutor returns an executor with two demo disks and a host
// that passes the system check.
func NewSimulatedExecutor(interval time.Duration) *SimulatedExecutor {
	return &SimulatedExecutor{
		Interval: interval,
		Disks:    DemoDisks(),
		Summary: bridge.SystemSummary{
			TotalMemoryMB: 16384,
			CPUCores:      8,
			Hostname:      "demo",
			KernelVersion: "6.6.0-demo",
		},
	}
}

// DemoDisks returns the fixed candidates reported in demo mode.
func DemoDisks() []disk.Candidate {
	return []disk.Candidate{
		{Name: "sda", DevicePath: "/dev/sda", SizeBytes: 500_000_000_000, Model: "Demo SSD 500GB"},
		{Name: "nvme0n1", DevicePath: "/dev/nvme0n1", SizeBytes: 2_000_000_000_000, Model: "Demo NVMe 2TB"},
	}
}

func (s *SimulatedExecutor) Probe(ctx context.Context) (*Probe, error) {
	if err := sleep(ctx, s.Interval); err != nil {
		return nil, err
	}
	disks := make([]disk.Candidate, len(s.Disks))
	copy(disks, s.Disks)
	return &Probe{Candidates: disks, Report: bridge.Evaluate(s.Summary)}, nil
}

func (s *SimulatedExecutor) SystemSummary(context.Context) (bridge.SystemSummary, error) {
	return s.Summary, nil
}

func (s *SimulatedExecutor) Execute(ctx context.Context, step Step, job *Job, out process.LineFunc) error {
	d := s.Interval * time.Duration(durationFactor(step.Kind))
	slog.Debug("simulated_step", "step", step.ID, "duration", d)

	out(fmt.Sprintf("[demo] %s on %s", step.DisplayName, job.Selection.DevicePath))
	if err := sleep(ctx, d); err != nil {
		return err
	}

	if step.Kind == s.FailAt {
		out(fmt.Sprintf("[demo] injected failure in %s", step.DisplayName))
		if step.Kind == KindPartitionDisk {
			return &disk.PartitionError{Kind: disk.ToolFailed, Device: job.Selection.DevicePath, Err: errors.New("simulated partitioning failure")}
		}
		return &StepError{Kind: ExternalToolFailed, Step: step.Kind, Log: []string{"simulated failure"}, Err: errors.New("simulated failure")}
	}

	switch step.Kind {
	case KindBuildSystem:
		job.Artifact = &bridge.BuildArtifact{ConfigName: "demo", StorePath: "/nix/store/00000000000000000000000000000000-nixos-system-demo"}
	case KindInstallBootloader:
		job.Switch = &bridge.SwitchResult{ServicesHealthy: true}
	}

	out(fmt.Sprintf("[demo] %s done", step.DisplayName))
	return nil
}

// Build and copy dominate a real install.
func durationFactor(k Kind) int {
	switch k {
	case KindBuildSystem:
		return 4
	case KindCopySystem:
		return 3
	}
	return 1
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
