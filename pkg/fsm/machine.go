// Package fsm implements the durable post-attempt finalization workflow.
// It records a finished install attempt, commits the configuration of a
// successful install and archives the attempt log. Runs are persisted by
// the superfly/fsm manager.
package fsm

import (
	"context"
	"log/slog"

	"github.com/superfly/fsm"

	"github.com/nixblitz/installer-engine/pkg/engine"
	"github.com/nixblitz/installer-engine/pkg/errors"
)

// Register registers the finalization FSM
func (m *Machine) Register(ctx context.Context, manager *fsm.Manager) (fsm.Start[FinalizeRequest, FinalizeResponse], fsm.Resume, error) {
	start, resume, err := fsm.Register[FinalizeRequest, FinalizeResponse](manager, "install-finalize").
		Start(StateRecord, m.handleRecord).
		To(StateCommit, m.handleCommit).
		To(StateArchive, m.handleArchive).
		To(StateComplete, m.handleComplete).
		End(StateFailed).
		Build(ctx)

	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to register FSM")
	}

	return start, resume, nil
}

// Finalizer runs the finalization workflow for every finished attempt.
type Finalizer struct {
	manager *fsm.Manager
	start   fsm.Start[FinalizeRequest, FinalizeResponse]
}

// NewFinalizer registers machine with manager.
func NewFinalizer(ctx context.Context, manager *fsm.Manager, machine *Machine) (*Finalizer, error) {
	start, _, err := machine.Register(ctx, manager)
	if err != nil {
		return nil, err
	}
	return &Finalizer{manager: manager, start: start}, nil
}

// Record starts finalization of rec and waits for it to finish. Errors are
// logged; the install outcome is never changed by finalization.
func (f *Finalizer) Record(ctx context.Context, rec engine.AttemptRecord) {
	req := NewFinalizeRequest(rec)
	resp := &FinalizeResponse{}

	version, err := f.start(ctx, rec.ID, fsm.NewRequest(req, resp))
	if err != nil {
		slog.Error("fsm_start_failed", "attempt_id", rec.ID, "error", err)
		return
	}

	slog.Info("fsm_started", "attempt_id", rec.ID, "version", version)

	if err := f.manager.Wait(ctx, version); err != nil {
		slog.Error("fsm_execution_failed", "attempt_id", rec.ID, "error", err)
		return
	}

	slog.Info("finalize_completed", "attempt_id", rec.ID, "status", resp.Status, "committed", resp.Committed, "archive_key", resp.ArchiveKey)
}
