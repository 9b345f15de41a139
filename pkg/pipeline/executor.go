package pipeline

import (
	"context"

	"github.com/nixblitz/installer-engine/pkg/bridge"
	"github.com/nixblitz/installer-engine/pkg/disk"
	"github.com/nixblitz/installer-engine/pkg/process"
)

// Probe is what a system check discovered.
type Probe struct {
	Candidates []disk.Candidate
	Report     bridge.SystemCheckReport
}

// Job carries the selection and intermediate artifacts between steps of one
// attempt. It is only touched by the attempt's own goroutine.
type Job struct {
	Selection bridge.Selection
	Disk      disk.Candidate
	Root      string
	Document  *bridge.ConfigDocument
	Artifact  *bridge.BuildArtifact
	Switch    *bridge.SwitchResult
}

// Executor performs the actual work of probing and of each step.
type Executor interface {
	// Probe inspects the host and lists candidate disks
	Probe(ctx context.Context) (*Probe, error)

	// Execute runs one step, streaming tool output to out
	Execute(ctx context.Context, step Step, job *Job, out process.LineFunc) error
}

// SummaryReporter is implemented by executors that can describe the host on
// demand, outside of a system check.
type SummaryReporter interface {
	SystemSummary(ctx context.Context) (bridge.SystemSummary, error)
}
