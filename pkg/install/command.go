package install

import (
	"fmt"

	"github.com/nixblitz/installer-engine/pkg/errors"
)

// CommandType names a client command.
type CommandType string

const (
	CmdReset             CommandType = "reset"
	CmdRunSystemCheck    CommandType = "run_system_check"
	CmdSelectDisk        CommandType = "select_disk"
	CmdConfirmAndInstall CommandType = "confirm_and_install"
	CmdEnableDemoMode    CommandType = "enable_demo_mode"
)

// Command is a decoded client request.
type Command struct {
	Type       CommandType `json:"type"`
	DevicePath string      `json:"device_path,omitempty"`
}

// ErrorCode classifies a rejected command.
type ErrorCode string

const (
	InvalidForState ErrorCode = "invalid_for_state"
	MalformedInput  ErrorCode = "malformed_input"
)

// Sentinels for errors.Is checks against a *CommandError.
var (
	ErrInvalidForState = errors.New("command invalid for state")
	ErrMalformedInput  = errors.New("malformed command")
)

// CommandError is returned when a command is rejected. A rejected command
// never changes state.
type CommandError struct {
	Code    ErrorCode   `json:"code"`
	Command CommandType `json:"command,omitempty"`
	Message string      `json:"message"`
}

func (e *CommandError) Error() string {
	if e.Command != "" {
		return fmt.Sprintf("%s: %s: %s", e.Command, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CommandError) Is(target error) bool {
	switch target {
	case ErrInvalidForState:
		return e.Code == InvalidForState
	case ErrMalformedInput:
		return e.Code == MalformedInput
	}
	return false
}

// NotAllowed rejects cmd in phase.
func NotAllowed(cmd CommandType, phase Phase) *CommandError {
	return &CommandError{
		Code:    InvalidForState,
		Command: cmd,
		Message: fmt.Sprintf("not allowed while %s", phase),
	}
}

// Malformed rejects an undecodable payload.
func Malformed(cmd CommandType, format string, args ...any) *CommandError {
	return &CommandError{
		Code:    MalformedInput,
		Command: cmd,
		Message: fmt.Sprintf(format, args...),
	}
}
