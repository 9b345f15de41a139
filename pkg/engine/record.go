package engine

import (
	"context"
	"time"

	"github.com/nixblitz/installer-engine/pkg/disk"
	"github.com/nixblitz/installer-engine/pkg/install"
	"github.com/nixblitz/installer-engine/pkg/pipeline"
)

// Outcome of a finished attempt.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// AttemptRecord is handed to the Recorder once an attempt stops running.
type AttemptRecord struct {
	ID         string
	Demo       bool
	Disk       disk.Candidate
	Outcome    Outcome
	StartedAt  time.Time
	FinishedAt time.Time
	Results    []pipeline.Result
	Failure    *install.ErrorInfo
	FailedStep int
	Summary    *install.Summary
}

// Recorder persists finished attempts. Record is called from the attempt's
// own goroutine after the machine lock is released.
type Recorder interface {
	Record(ctx context.Context, rec AttemptRecord)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, rec AttemptRecord)

func (f RecorderFunc) Record(ctx context.Context, rec AttemptRecord) {
	f(ctx, rec)
}
