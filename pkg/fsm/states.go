package fsm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/superfly/fsm"

	"github.com/nixblitz/installer-engine/pkg/bridge"
	"github.com/nixblitz/installer-engine/pkg/db"
	"github.com/nixblitz/installer-engine/pkg/errors"
	"github.com/nixblitz/installer-engine/pkg/security"
)

// Archiver uploads attempt logs. *storage.Client satisfies it.
type Archiver interface {
	ArchiveKey(attemptID string) string
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// Machine holds dependencies for FSM transitions
type Machine struct {
	repo       *db.Repository
	archive    Archiver
	committer  bridge.Committer
	validator  *security.Validator
	maxRetries int
}

// NewMachine creates a new FSM machine with dependencies. archive and
// committer may be nil, in which case those states pass through.
func NewMachine(
	repo *db.Repository,
	archive Archiver,
	committer bridge.Committer,
	validator *security.Validator,
	maxRetries int,
) *Machine {
	return &Machine{
		repo:       repo,
		archive:    archive,
		committer:  committer,
		validator:  validator,
		maxRetries: maxRetries,
	}
}

func (m *Machine) checkRetries(ctx context.Context, req *FinalizeRequest) error {
	if retryCount := fsm.RetryFromContext(ctx); retryCount >= uint64(m.maxRetries) {
		slog.Error("max_retries_exceeded", "attempt_id", req.AttemptID, "max_retries", m.maxRetries)
		return fsm.Abort(fmt.Errorf("max retries (%d) exceeded", m.maxRetries))
	}
	return nil
}

// handleRecord stores the attempt and its step results (idempotent)
func (m *Machine) handleRecord(ctx context.Context, req *fsm.Request[FinalizeRequest, FinalizeResponse]) (*fsm.Response[FinalizeResponse], error) {
	slog.Info("fsm_state_record", "attempt_id", req.Msg.AttemptID)

	if err := m.checkRetries(ctx, req.Msg); err != nil {
		return nil, err
	}

	resp := req.W.Msg
	if resp == nil {
		resp = &FinalizeResponse{}
	}
	if err := m.recordAttempt(ctx, req.Msg, resp); err != nil {
		return nil, err
	}
	return fsm.NewResponse(resp), nil
}

func (m *Machine) recordAttempt(ctx context.Context, req *FinalizeRequest, resp *FinalizeResponse) error {
	existing, err := m.repo.GetAttempt(ctx, req.AttemptID)
	if err != nil {
		slog.Error("database_check_failed", "attempt_id", req.AttemptID, "error", err)
		return fsm.Abort(errors.Wrap(err, "database error"))
	}
	if existing != nil {
		slog.Info("attempt_already_recorded", "attempt_id", req.AttemptID, "status", existing.Status)
		resp.Recorded = true
		return nil
	}

	attempt := &db.Attempt{
		AttemptID:       req.AttemptID,
		Status:          req.Outcome,
		Demo:            req.Demo,
		DevicePath:      req.DevicePath,
		DiskModel:       req.DiskModel,
		DiskSizeBytes:   req.DiskSizeBytes,
		FailedStep:      req.FailedStep,
		ErrorKind:       req.ErrorKind,
		ErrorCode:       req.ErrorCode,
		ErrorMessage:    req.ErrorMessage,
		ServicesHealthy: req.ServicesHealthy,
		FailedUnits:     req.FailedUnits,
		StartedAt:       req.StartedAt,
		FinishedAt:      req.FinishedAt,
	}
	if err := m.repo.CreateAttempt(ctx, attempt); err != nil {
		slog.Error("create_attempt_failed", "attempt_id", req.AttemptID, "error", err)
		return errors.Wrap(err, "failed to create attempt record")
	}

	steps := make([]db.StepResult, 0, len(req.Steps))
	for _, s := range req.Steps {
		steps = append(steps, db.StepResult{
			AttemptID:  req.AttemptID,
			Ordinal:    s.Ordinal,
			StepID:     s.StepID,
			Kind:       s.Kind,
			Outcome:    s.Outcome,
			Attempts:   s.Attempts,
			ErrorCode:  s.ErrorCode,
			Output:     s.Output,
			StartedAt:  s.StartedAt,
			FinishedAt: s.FinishedAt,
		})
	}
	if err := m.repo.AddStepResults(ctx, steps); err != nil {
		slog.Error("step_results_failed", "attempt_id", req.AttemptID, "error", err)
		return errors.Wrap(err, "failed to store step results")
	}

	resp.Recorded = true
	slog.Info("attempt_recorded", "attempt_id", req.AttemptID, "status", req.Outcome, "steps", len(steps))
	return nil
}

// handleCommit commits the configuration of a successful real install.
// Commit failures are logged and never fail the workflow.
func (m *Machine) handleCommit(ctx context.Context, req *fsm.Request[FinalizeRequest, FinalizeResponse]) (*fsm.Response[FinalizeResponse], error) {
	slog.Info("fsm_state_commit", "attempt_id", req.Msg.AttemptID)

	if err := m.checkRetries(ctx, req.Msg); err != nil {
		return nil, err
	}

	resp := req.W.Msg
	if resp == nil {
		return nil, fsm.Abort(fmt.Errorf("response not initialized"))
	}
	m.commitConfig(ctx, req.Msg, resp)
	return fsm.NewResponse(resp), nil
}

// CommitMessage is the message recorded for a successful install.
func CommitMessage(req *FinalizeRequest) string {
	return fmt.Sprintf("installer: installed on %s (attempt %s)", req.DevicePath, req.AttemptID)
}

func (m *Machine) commitConfig(ctx context.Context, req *FinalizeRequest, resp *FinalizeResponse) {
	if req.Outcome != db.StatusSucceeded || req.Demo || m.committer == nil || resp.Committed {
		slog.Info("commit_skipped", "attempt_id", req.AttemptID, "outcome", req.Outcome, "demo", req.Demo, "committer", m.committer != nil)
		return
	}

	msg := CommitMessage(req)
	if err := m.validator.ValidateCommitMessage(msg); err != nil {
		slog.Error("commit_message_rejected", "attempt_id", req.AttemptID, "error", err)
		resp.CommitError = err.Error()
		return
	}

	if err := m.committer.Commit(ctx, msg); err != nil {
		slog.Error("commit_failed", "attempt_id", req.AttemptID, "error", err)
		resp.CommitError = err.Error()
		return
	}

	resp.Committed = true
	if err := m.repo.MarkCommitted(ctx, req.AttemptID); err != nil {
		slog.Warn("mark_committed_failed", "attempt_id", req.AttemptID, "error", err)
	}
	slog.Info("config_committed", "attempt_id", req.AttemptID)
}

// handleArchive uploads the attempt log to object storage
func (m *Machine) handleArchive(ctx context.Context, req *fsm.Request[FinalizeRequest, FinalizeResponse]) (*fsm.Response[FinalizeResponse], error) {
	slog.Info("fsm_state_archive", "attempt_id", req.Msg.AttemptID)

	if err := m.checkRetries(ctx, req.Msg); err != nil {
		return nil, err
	}

	resp := req.W.Msg
	if resp == nil {
		return nil, fsm.Abort(fmt.Errorf("response not initialized"))
	}
	if err := m.archiveLog(ctx, req.Msg, resp); err != nil {
		return nil, err
	}
	return fsm.NewResponse(resp), nil
}

// archiveDocument is the JSON uploaded per attempt.
type archiveDocument struct {
	AttemptID       string       `json:"attempt_id"`
	Demo            bool         `json:"demo"`
	DevicePath      string       `json:"device_path,omitempty"`
	Outcome         string       `json:"outcome"`
	StartedAt       string       `json:"started_at,omitempty"`
	FinishedAt      string       `json:"finished_at,omitempty"`
	FailedStep      int          `json:"failed_step"`
	ErrorCode       string       `json:"error_code,omitempty"`
	ErrorMessage    string       `json:"error_message,omitempty"`
	ServicesHealthy bool         `json:"services_healthy"`
	FailedUnits     []string     `json:"failed_units,omitempty"`
	Steps           []StepRecord `json:"steps"`
}

func (m *Machine) archiveLog(ctx context.Context, req *FinalizeRequest, resp *FinalizeResponse) error {
	if m.archive == nil {
		slog.Info("archive_skipped", "attempt_id", req.AttemptID, "reason", "not_configured")
		return nil
	}
	if resp.ArchiveKey != "" {
		slog.Info("archive_already_uploaded", "attempt_id", req.AttemptID, "archive_key", resp.ArchiveKey)
		return nil
	}

	body, err := json.MarshalIndent(archiveDocument{
		AttemptID:       req.AttemptID,
		Demo:            req.Demo,
		DevicePath:      req.DevicePath,
		Outcome:         req.Outcome,
		StartedAt:       req.StartedAt,
		FinishedAt:      req.FinishedAt,
		FailedStep:      req.FailedStep,
		ErrorCode:       req.ErrorCode,
		ErrorMessage:    req.ErrorMessage,
		ServicesHealthy: req.ServicesHealthy,
		FailedUnits:     req.FailedUnits,
		Steps:           req.Steps,
	}, "", "  ")
	if err != nil {
		return fsm.Abort(errors.Wrap(err, "failed to encode archive document"))
	}

	key := m.archive.ArchiveKey(req.AttemptID)
	sum, err := m.archive.Upload(ctx, key, body, "application/json")
	if err != nil {
		slog.Error("archive_upload_failed", "attempt_id", req.AttemptID, "archive_key", key, "error", err)
		return errors.Wrap(err, "failed to upload attempt log")
	}

	resp.ArchiveKey = key
	resp.ArchiveSHA256 = sum
	if err := m.repo.SetArchiveKey(ctx, req.AttemptID, key); err != nil {
		slog.Error("archive_key_update_failed", "attempt_id", req.AttemptID, "error", err)
		return errors.Wrap(err, "failed to record archive key")
	}

	slog.Info("attempt_archived", "attempt_id", req.AttemptID, "archive_key", key)
	return nil
}

// handleComplete marks the workflow as complete
func (m *Machine) handleComplete(ctx context.Context, req *fsm.Request[FinalizeRequest, FinalizeResponse]) (*fsm.Response[FinalizeResponse], error) {
	slog.Info("fsm_state_complete", "attempt_id", req.Msg.AttemptID)

	resp := req.W.Msg
	if resp == nil {
		resp = &FinalizeResponse{}
	}
	resp.Status = req.Msg.Outcome

	slog.Info("fsm_complete", "attempt_id", req.Msg.AttemptID, "status", resp.Status, "committed", resp.Committed, "archive_key", resp.ArchiveKey)
	return fsm.NewResponse(resp), nil
}
