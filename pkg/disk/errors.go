package disk

import (
	"fmt"

	"github.com/nixblitz/installer-engine/pkg/errors"
)

// PartitionErrorKind classifies a partitioning failure.
type PartitionErrorKind string

const (
	DeviceBusy        PartitionErrorKind = "device_busy"
	InsufficientSpace PartitionErrorKind = "insufficient_space"
	ToolFailed        PartitionErrorKind = "tool_failed"
)

// Sentinels for errors.Is checks against a *PartitionError.
var (
	ErrDeviceBusy        = errors.New("device busy")
	ErrInsufficientSpace = errors.New("insufficient space")
)

// PartitionError is returned by Partitioner implementations.
type PartitionError struct {
	Kind   PartitionErrorKind
	Device string
	Err    error
}

func (e *PartitionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("partition %s: %s: %v", e.Device, e.Kind, e.Err)
	}
	return fmt.Sprintf("partition %s: %s", e.Device, e.Kind)
}

func (e *PartitionError) Unwrap() error {
	return e.Err
}

// Is matches the package sentinels by kind.
func (e *PartitionError) Is(target error) bool {
	switch target {
	case ErrDeviceBusy:
		return e.Kind == DeviceBusy
	case ErrInsufficientSpace:
		return e.Kind == InsufficientSpace
	}
	return false
}
