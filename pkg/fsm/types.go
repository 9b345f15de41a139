package fsm

import (
	"time"

	"github.com/nixblitz/installer-engine/pkg/engine"
)

// FinalizeRequest is the FSM input: a finished install attempt
type FinalizeRequest struct {
	AttemptID     string
	Demo          bool
	DevicePath    string
	DiskModel     string
	DiskSizeBytes int64
	Outcome       string
	StartedAt     string
	FinishedAt    string

	// Set for failed attempts
	FailedStep   int
	ErrorKind    string
	ErrorCode    string
	ErrorMessage string

	// Set for succeeded attempts
	ServicesHealthy bool
	FailedUnits     []string

	Steps []StepRecord
}

// StepRecord is one final step result carried by the request
type StepRecord struct {
	Ordinal    int      `json:"ordinal"`
	StepID     string   `json:"step_id"`
	Kind       string   `json:"kind"`
	Outcome    string   `json:"outcome"`
	Attempts   int      `json:"attempts"`
	ErrorCode  string   `json:"error_code,omitempty"`
	Output     []string `json:"output,omitempty"`
	StartedAt  string   `json:"started_at"`
	FinishedAt string   `json:"finished_at"`
}

// FinalizeResponse is the FSM output (accumulated across transitions)
type FinalizeResponse struct {
	// From Record
	Recorded bool

	// From Commit
	Committed   bool
	CommitError string

	// From Archive
	ArchiveKey    string
	ArchiveSHA256 string

	// From Complete
	Status string
}

// State names
const (
	StateRecord   = "record"
	StateCommit   = "commit"
	StateArchive  = "archive"
	StateComplete = "complete"
	StateFailed   = "failed"
)

// NewFinalizeRequest flattens an attempt record into the FSM input.
func NewFinalizeRequest(rec engine.AttemptRecord) *FinalizeRequest {
	req := &FinalizeRequest{
		AttemptID:     rec.ID,
		Demo:          rec.Demo,
		DevicePath:    rec.Disk.DevicePath,
		DiskModel:     rec.Disk.Model,
		DiskSizeBytes: int64(rec.Disk.SizeBytes),
		Outcome:       string(rec.Outcome),
		StartedAt:     formatTime(rec.StartedAt),
		FinishedAt:    formatTime(rec.FinishedAt),
		FailedStep:    rec.FailedStep,
	}
	if rec.Failure != nil {
		req.ErrorKind = rec.Failure.Kind
		req.ErrorCode = rec.Failure.Code
		req.ErrorMessage = rec.Failure.Message
	}
	if rec.Summary != nil {
		req.ServicesHealthy = rec.Summary.ServicesHealthy
		req.FailedUnits = rec.Summary.FailedUnits
	}

	for _, r := range rec.Results {
		s := StepRecord{
			Ordinal:    r.Ordinal,
			StepID:     r.StepID,
			Kind:       string(r.Kind),
			Outcome:    string(r.Outcome),
			Attempts:   r.Attempts,
			Output:     r.Output,
			StartedAt:  formatTime(r.StartedAt),
			FinishedAt: formatTime(r.FinishedAt),
		}
		if r.Error != nil {
			s.ErrorCode = r.Error.Code
		}
		req.Steps = append(req.Steps, s)
	}
	return req
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
