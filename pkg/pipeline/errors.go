package pipeline

import (
	"fmt"

	"github.com/nixblitz/installer-engine/pkg/bridge"
	"github.com/nixblitz/installer-engine/pkg/disk"
	"github.com/nixblitz/installer-engine/pkg/errors"
	"github.com/nixblitz/installer-engine/pkg/process"
)

// ErrSkipped is returned by an Executor to record a step as skipped.
var ErrSkipped = errors.New("step skipped")

// StepErrorKind classifies a step failure.
type StepErrorKind string

const (
	Timeout            StepErrorKind = "timeout"
	ExternalToolFailed StepErrorKind = "external_tool_failed"
	Cancelled          StepErrorKind = "cancelled"
)

// StepError is a failure of a single step.
type StepError struct {
	Kind StepErrorKind
	Step Kind
	Log  []string
	Err  error
}

func (e *StepError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("step %s: %s: %v", e.Step, e.Kind, e.Err)
	}
	return fmt.Sprintf("step %s: %s", e.Step, e.Kind)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Error kinds surfaced in ErrorInfo.
const (
	ErrorKindStep        = "step_error"
	ErrorKindPartition   = "partition_error"
	ErrorKindBuild       = "build_error"
	ErrorKindSwitch      = "switch_error"
	ErrorKindSystemCheck = "system_check"
)

// Describe converts err into its serializable form.
func Describe(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	info := &ErrorInfo{Kind: ErrorKindStep, Code: string(ExternalToolFailed), Message: err.Error()}

	var (
		stepErr  *StepError
		partErr  *disk.PartitionError
		buildErr *bridge.BuildError
		swErr    *bridge.SwitchError
		exitErr  *process.ExitError
	)
	switch {
	case errors.As(err, &stepErr) && stepErr.Kind != ExternalToolFailed:
		info.Code = string(stepErr.Kind)
		info.Log = stepErr.Log
	case errors.As(err, &partErr):
		info.Kind = ErrorKindPartition
		info.Code = string(partErr.Kind)
	case errors.As(err, &buildErr):
		info.Kind = ErrorKindBuild
		info.Log = buildErr.Log
	case errors.As(err, &swErr):
		info.Kind = ErrorKindSwitch
		info.Log = swErr.Log
	case errors.As(err, &stepErr):
		info.Code = string(stepErr.Kind)
		info.Log = stepErr.Log
	}
	if info.Log == nil && errors.As(err, &exitErr) {
		info.Log = exitErr.Output
	}
	return info
}
