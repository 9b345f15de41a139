package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/nixblitz/installer-engine/pkg/install"
	"github.com/nixblitz/installer-engine/pkg/pipeline"
)

// Error code for a host below the installation minimums.
const codeIncompatibleHardware = "incompatible_hardware"

func (m *Machine) runProbe(t *task, exec pipeline.Executor, attemptID string) {
	defer close(t.done)

	ctx, cancel := context.WithTimeout(t.ctx, m.opts.ProbeTimeout)
	probe, err := exec.Probe(ctx)
	timedOut := ctx.Err() == context.DeadlineExceeded && t.ctx.Err() == nil
	cancel()

	m.mu.Lock()
	if m.task != t {
		m.mu.Unlock()
		slog.Info("probe_result_ignored", "attempt_id", attemptID)
		return
	}
	m.task = nil

	var failure *install.ErrorInfo
	switch {
	case err != nil:
		code := string(pipeline.ExternalToolFailed)
		if timedOut {
			code = string(pipeline.Timeout)
		}
		failure = &install.ErrorInfo{Kind: pipeline.ErrorKindSystemCheck, Code: code, Message: err.Error()}
	case !probe.Report.IsCompatible && !m.opts.AllowIncompatible:
		failure = &install.ErrorInfo{
			Kind:    pipeline.ErrorKindSystemCheck,
			Code:    codeIncompatibleHardware,
			Message: issuesMessage(probe.Report),
			Log:     probe.Report.Issues,
		}
	}

	if failure != nil {
		slog.Error("system_check_failed", "attempt_id", attemptID, "code", failure.Code, "error", failure.Message)
		m.state = install.Failed{StepIndex: -1, Error: *failure}
		m.publishStateLocked()
		rec := m.recordLocked(OutcomeFailed, nil)
		m.mu.Unlock()
		m.record(rec)
		return
	}

	slog.Info("system_check_complete", "attempt_id", attemptID, "candidates", len(probe.Candidates), "compatible", probe.Report.IsCompatible)
	m.state = install.AwaitingDiskSelection{Candidates: probe.Candidates, Report: probe.Report}
	m.publishStateLocked()
	m.mu.Unlock()
}

func (m *Machine) runInstall(t *task, exec pipeline.Executor, job *pipeline.Job, attemptID string) {
	defer close(t.done)

	p := pipeline.New(m.steps, exec, m.opts.Retry)
	hooks := pipeline.Hooks{
		OnStart: func(step pipeline.Step, attempt int) {
			m.onStepStart(t, step, attempt, false)
		},
		OnOutput: func(step pipeline.Step, attempt int, line string) {
			m.onOutput(t, step, attempt, line)
		},
		OnRetry: func(step pipeline.Step, attempt int, err error) {
			m.opts.Metrics.StepRetried(string(step.Kind))
			m.onStepStart(t, step, attempt, true)
		},
	}

	slog.Info("attempt_start", "attempt_id", attemptID, "device", job.Selection.DevicePath, "steps", len(m.steps))
	for res := range p.Run(t.ctx, job, 0, hooks) {
		if !m.onResult(t, res, job) {
			break
		}
	}

	m.mu.Lock()
	var rec AttemptRecord
	if m.task == t {
		m.task = nil
		rec = m.recordLocked(outcomeOf(m.state), job)
	} else {
		slog.Info("attempt_drained", "attempt_id", attemptID)
		rec = AttemptRecord{
			ID:         attemptID,
			Demo:       m.demo,
			Disk:       job.Disk,
			Outcome:    OutcomeCancelled,
			StartedAt:  t.startedAt,
			Results:    t.results,
			FailedStep: -1,
		}
	}
	m.mu.Unlock()

	m.record(rec)
}

func (m *Machine) onStepStart(t *task, step pipeline.Step, attempt int, retrying bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.task != t {
		return
	}
	m.state = install.Installing{
		StepIndex:  step.Ordinal,
		TotalSteps: len(m.steps),
		StepStatus: install.StepStatus{Step: step, Attempt: attempt, Retrying: retrying || attempt > 1},
	}
	m.publishStateLocked()
}

func (m *Machine) onOutput(t *task, step pipeline.Step, attempt int, line string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.task != t {
		return
	}
	m.hub.Publish(install.LogAppended(pipeline.PartialResult(step, attempt, line)))
}

// onResult applies one final step result. It returns false when the task
// is stale and should stop consuming results.
func (m *Machine) onResult(t *task, res pipeline.Result, job *pipeline.Job) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.task != t {
		return false
	}

	m.log = append(m.log, res)
	t.results = append(t.results, res)
	m.hub.Publish(install.LogAppended(res))
	m.opts.Metrics.StepFinished(string(res.Kind), string(res.Outcome), res.FinishedAt.Sub(res.StartedAt))

	switch {
	case res.Outcome == pipeline.OutcomeFailed:
		info := install.ErrorInfo{Kind: pipeline.ErrorKindStep, Code: string(pipeline.ExternalToolFailed)}
		if res.Error != nil {
			info = *res.Error
		}
		m.state = install.Failed{
			StepIndex:   res.Ordinal,
			StepKind:    res.Kind,
			Error:       info,
			PartialLog:  res.Output,
			DiskTouched: res.Kind.TouchesDisk(),
		}
		m.publishStateLocked()
	case res.Ordinal == len(m.steps)-1:
		m.state = install.Succeeded{Summary: m.summaryLocked(job)}
		m.publishStateLocked()
	}
	return true
}

func (m *Machine) summaryLocked(job *pipeline.Job) install.Summary {
	s := install.Summary{
		Disk:            job.Disk,
		Steps:           len(m.log),
		Duration:        time.Since(m.startedAt),
		ServicesHealthy: true,
	}
	if job.Switch != nil {
		s.ServicesHealthy = job.Switch.ServicesHealthy
		s.FailedUnits = job.Switch.FailedUnits
	}
	return s
}

func outcomeOf(st install.State) Outcome {
	switch st.(type) {
	case install.Succeeded:
		return OutcomeSucceeded
	case install.Failed:
		return OutcomeFailed
	}
	return OutcomeCancelled
}

func (m *Machine) recordLocked(outcome Outcome, job *pipeline.Job) AttemptRecord {
	results := make([]pipeline.Result, len(m.log))
	copy(results, m.log)

	rec := AttemptRecord{
		ID:         m.attemptID,
		Demo:       m.demo,
		Outcome:    outcome,
		StartedAt:  m.startedAt,
		FinishedAt: time.Now(),
		Results:    results,
		FailedStep: -1,
	}
	if job != nil {
		rec.Disk = job.Disk
	}
	switch st := m.state.(type) {
	case install.Failed:
		info := st.Error
		rec.Failure = &info
		rec.FailedStep = st.StepIndex
	case install.Succeeded:
		summary := st.Summary
		rec.Summary = &summary
	}
	return rec
}

func (m *Machine) record(rec AttemptRecord) {
	m.opts.Metrics.AttemptFinished(string(rec.Outcome))
	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = time.Now()
	}
	slog.Info("attempt_finished", "attempt_id", rec.ID, "outcome", rec.Outcome, "results", len(rec.Results))
	if m.opts.Recorder == nil {
		return
	}
	m.opts.Recorder.Record(context.WithoutCancel(m.baseCtx), rec)
}
