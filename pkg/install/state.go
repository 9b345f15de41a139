// Package install defines the installation state model shared by the engine,
// the event hub and the client transports.
package install

import (
	"time"

	"github.com/nixblitz/installer-engine/pkg/bridge"
	"github.com/nixblitz/installer-engine/pkg/disk"
	"github.com/nixblitz/installer-engine/pkg/pipeline"
)

// Phase names a State variant on the wire.
type Phase string

const (
	PhaseIdle                  Phase = "idle"
	PhaseCheckingSystem        Phase = "checking_system"
	PhaseAwaitingDiskSelection Phase = "awaiting_disk_selection"
	PhaseAwaitingConfirmation  Phase = "awaiting_confirmation"
	PhaseInstalling            Phase = "installing"
	PhaseSucceeded             Phase = "succeeded"
	PhaseFailed                Phase = "failed"
)

// ErrorInfo is the serializable form of an attempt failure.
type ErrorInfo = pipeline.ErrorInfo

// State is one member of the installation state variant.
type State interface {
	Phase() Phase
	Terminal() bool
}

type Idle struct{}

type CheckingSystem struct{}

type AwaitingDiskSelection struct {
	Candidates []disk.Candidate          `json:"candidates"`
	Report     bridge.SystemCheckReport `json:"report"`
}

type AwaitingConfirmation struct {
	SelectedDisk disk.Candidate `json:"selected_disk"`
}

// StepStatus is the progress of the running step.
type StepStatus struct {
	Step     pipeline.Step `json:"step"`
	Attempt  int           `json:"attempt"`
	Retrying bool          `json:"retrying"`
}

type Installing struct {
	StepIndex  int        `json:"step_index"`
	TotalSteps int        `json:"total_steps"`
	StepStatus StepStatus `json:"step_status"`
}

// Summary describes a completed installation. ServicesHealthy is false when
// the new system activated but some units failed to start.
type Summary struct {
	Disk            disk.Candidate `json:"disk"`
	Steps           int            `json:"steps"`
	Duration        time.Duration  `json:"duration"`
	ServicesHealthy bool           `json:"services_healthy"`
	FailedUnits     []string       `json:"failed_units,omitempty"`
}

type Succeeded struct {
	Summary Summary `json:"summary"`
}

// Failed ends an attempt. StepIndex is -1 when the system check failed
// before any step ran.
type Failed struct {
	StepIndex   int           `json:"step_index"`
	StepKind    pipeline.Kind `json:"step_kind,omitempty"`
	Error       ErrorInfo     `json:"error"`
	PartialLog  []string      `json:"partial_log,omitempty"`
	DiskTouched bool          `json:"disk_touched"`
}

func (Idle) Phase() Phase                  { return PhaseIdle }
func (CheckingSystem) Phase() Phase        { return PhaseCheckingSystem }
func (AwaitingDiskSelection) Phase() Phase { return PhaseAwaitingDiskSelection }
func (AwaitingConfirmation) Phase() Phase  { return PhaseAwaitingConfirmation }
func (Installing) Phase() Phase            { return PhaseInstalling }
func (Succeeded) Phase() Phase             { return PhaseSucceeded }
func (Failed) Phase() Phase                { return PhaseFailed }

func (Idle) Terminal() bool                  { return false }
func (CheckingSystem) Terminal() bool        { return false }
func (AwaitingDiskSelection) Terminal() bool { return false }
func (AwaitingConfirmation) Terminal() bool  { return false }
func (Installing) Terminal() bool            { return false }
func (Succeeded) Terminal() bool             { return true }
func (Failed) Terminal() bool                { return true }

// FindCandidate returns the candidate with devicePath.
func (s AwaitingDiskSelection) FindCandidate(devicePath string) (disk.Candidate, bool) {
	for _, c := range s.Candidates {
		if c.DevicePath == devicePath {
			return c, true
		}
	}
	return disk.Candidate{}, false
}
