package pipeline

import "time"

// Outcome is the final status of a step.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

// ErrorInfo is the serializable form of a step failure.
type ErrorInfo struct {
	Kind    string   `json:"kind"`
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Log     []string `json:"log,omitempty"`
}

// Result is the record of one step execution. Partial results carry output
// streamed while the step is still running and are never final.
type Result struct {
	StepID     string     `json:"step_id"`
	Ordinal    int        `json:"ordinal"`
	Kind       Kind       `json:"kind"`
	Outcome    Outcome    `json:"outcome,omitempty"`
	Attempts   int        `json:"attempts"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at,omitempty"`
	Output     []string   `json:"output,omitempty"`
	Error      *ErrorInfo `json:"error,omitempty"`
	Partial    bool       `json:"partial,omitempty"`
}

// PartialResult wraps streamed lines of a running step.
func PartialResult(step Step, attempt int, lines ...string) Result {
	return Result{
		StepID:    step.ID,
		Ordinal:   step.Ordinal,
		Kind:      step.Kind,
		Attempts:  attempt,
		StartedAt: time.Now(),
		Output:    lines,
		Partial:   true,
	}
}
