package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(filepath.Join(t.TempDir(), "attempts.db"))
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	a := &Attempt{
		AttemptID:       "a-1",
		Status:          StatusSucceeded,
		DevicePath:      "/dev/nvme0n1",
		DiskModel:       "Samsung SSD",
		DiskSizeBytes:   2_000_000_000_000,
		FailedStep:      -1,
		ServicesHealthy: false,
		FailedUnits:     []string{"lnd.service", "bitcoind.service"},
		StartedAt:       "2026-10-17T10:00:00Z",
		FinishedAt:      "2026-10-17T10:20:00Z",
	}
	if err := repo.CreateAttempt(ctx, a); err != nil {
		t.Fatalf("failed to create attempt: %v", err)
	}
	if a.ID == 0 {
		t.Errorf("expected id to be assigned")
	}

	got, err := repo.GetAttempt(ctx, "a-1")
	if err != nil {
		t.Fatalf("failed to get attempt: %v", err)
	}
	if got == nil {
		t.Fatal("attempt not found")
	}
	if got.DevicePath != a.DevicePath || got.DiskSizeBytes != a.DiskSizeBytes || got.Status != StatusSucceeded {
		t.Errorf("retrieved attempt mismatch: got %+v, want %+v", got, a)
	}
	if len(got.FailedUnits) != 2 || got.FailedUnits[1] != "bitcoind.service" {
		t.Errorf("failed units = %v", got.FailedUnits)
	}
	if got.FailedStep != -1 {
		t.Errorf("failed step = %d, want -1", got.FailedStep)
	}
}

func TestRepository_GetMissing(t *testing.T) {
	repo := newTestRepo(t)

	got, err := repo.GetAttempt(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestRepository_DuplicateAttemptID(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	if err := repo.CreateAttempt(ctx, &Attempt{AttemptID: "dup", Status: StatusFailed}); err != nil {
		t.Fatalf("failed to create attempt: %v", err)
	}
	if err := repo.CreateAttempt(ctx, &Attempt{AttemptID: "dup", Status: StatusFailed}); err == nil {
		t.Error("expected unique constraint error")
	}
}

func TestRepository_InvalidStatus(t *testing.T) {
	repo := newTestRepo(t)

	if err := repo.CreateAttempt(context.Background(), &Attempt{AttemptID: "x", Status: "exploded"}); err == nil {
		t.Error("expected check constraint error")
	}
}

func TestRepository_Updates(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	if err := repo.CreateAttempt(ctx, &Attempt{AttemptID: "a-2", Status: StatusRunning}); err != nil {
		t.Fatalf("failed to create attempt: %v", err)
	}

	if err := repo.UpdateStatus(ctx, "a-2", StatusFailed); err != nil {
		t.Fatalf("failed to update status: %v", err)
	}
	if err := repo.SetArchiveKey(ctx, "a-2", "attempts/a-2.json"); err != nil {
		t.Fatalf("failed to set archive key: %v", err)
	}
	if err := repo.MarkCommitted(ctx, "a-2"); err != nil {
		t.Fatalf("failed to mark committed: %v", err)
	}

	got, err := repo.GetAttempt(ctx, "a-2")
	if err != nil {
		t.Fatalf("failed to get attempt: %v", err)
	}
	if got.Status != StatusFailed || got.ArchiveKey != "attempts/a-2.json" || !got.Committed {
		t.Errorf("updates not applied: %+v", got)
	}

	if err := repo.UpdateStatus(ctx, "nope", StatusFailed); err == nil {
		t.Error("expected error for unknown attempt")
	}
}

func TestRepository_StepResults(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	if err := repo.CreateAttempt(ctx, &Attempt{AttemptID: "a-3", Status: StatusFailed}); err != nil {
		t.Fatalf("failed to create attempt: %v", err)
	}

	results := []StepResult{
		{AttemptID: "a-3", Ordinal: 2, StepID: "build", Kind: "build_config", Outcome: "failed", Attempts: 3, ErrorCode: "external_tool_failed", Output: []string{"evaluating", "error: boom"}},
		{AttemptID: "a-3", Ordinal: 1, StepID: "deps", Kind: "check_dependencies", Outcome: "succeeded", Attempts: 1},
	}
	if err := repo.AddStepResults(ctx, results); err != nil {
		t.Fatalf("failed to add step results: %v", err)
	}

	got, err := repo.ListStepResults(ctx, "a-3")
	if err != nil {
		t.Fatalf("failed to list step results: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if got[0].StepID != "deps" || got[1].StepID != "build" {
		t.Errorf("results not ordered by ordinal: %+v", got)
	}
	if len(got[1].Output) != 2 || got[1].Output[1] != "error: boom" {
		t.Errorf("output = %v", got[1].Output)
	}
	if got[0].Output != nil {
		t.Errorf("expected nil output, got %v", got[0].Output)
	}
}

func TestRepository_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	for _, id := range []string{"a", "b", "c"} {
		if err := repo.CreateAttempt(ctx, &Attempt{AttemptID: id, Status: StatusCancelled}); err != nil {
			t.Fatalf("failed to create attempt: %v", err)
		}
	}
	repo.AddStepResults(ctx, []StepResult{{AttemptID: "b", Ordinal: 1, StepID: "deps", Kind: "check_dependencies", Outcome: "succeeded", Attempts: 1}})

	all, err := repo.ListAttempts(ctx, 0)
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}
	if len(all) != 3 || all[0].AttemptID != "c" {
		t.Errorf("expected newest first, got %d attempts", len(all))
	}

	limited, err := repo.ListAttempts(ctx, 2)
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("expected 2 attempts, got %d", len(limited))
	}

	if err := repo.DeleteAttempt(ctx, "b"); err != nil {
		t.Fatalf("failed to delete: %v", err)
	}
	if got, _ := repo.GetAttempt(ctx, "b"); got != nil {
		t.Error("attempt still present after delete")
	}
	if steps, _ := repo.ListStepResults(ctx, "b"); len(steps) != 0 {
		t.Errorf("step results still present: %v", steps)
	}
}

func TestRepository_DeleteOlderThan(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	repo.CreateAttempt(ctx, &Attempt{AttemptID: "done", Status: StatusSucceeded, ArchiveKey: ""})
	repo.CreateAttempt(ctx, &Attempt{AttemptID: "live", Status: StatusRunning})

	none, err := repo.DeleteOlderThan(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("failed to delete: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected nothing deleted, got %d", len(none))
	}

	removed, err := repo.DeleteOlderThan(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("failed to delete: %v", err)
	}
	if len(removed) != 1 || removed[0].AttemptID != "done" {
		t.Errorf("expected only the finished attempt removed, got %+v", removed)
	}
	if got, _ := repo.GetAttempt(ctx, "live"); got == nil {
		t.Error("running attempt should be kept")
	}
}
