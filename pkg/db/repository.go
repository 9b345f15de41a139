package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nixblitz/installer-engine/pkg/errors"
	_ "modernc.org/sqlite"
)

// Repository provides database operations for install attempts
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new repository
func NewRepository(dbPath string) (*Repository, error) {
	slog.Info("database_init", "db_path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		slog.Error("database_open_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to open database")
	}

	// Create schema
	slog.Info("database_create_schema", "db_path", dbPath)
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		slog.Error("database_schema_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to create schema")
	}

	slog.Info("database_ready", "db_path", dbPath)
	return &Repository{db: db}, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

const attemptColumns = `
	id, attempt_id, status, demo, device_path, disk_model, disk_size_bytes, failed_step,
	error_kind, error_code, error_message, services_healthy, failed_units, archive_key,
	committed, started_at, finished_at, created_at, updated_at`

// CreateAttempt inserts a new attempt record
func (r *Repository) CreateAttempt(ctx context.Context, a *Attempt) error {
	slog.Info("database_create_attempt", "attempt_id", a.AttemptID, "status", a.Status)

	query := `
		INSERT INTO attempts (attempt_id, status, demo, device_path, disk_model, disk_size_bytes, failed_step,
		                      error_kind, error_code, error_message, services_healthy, failed_units, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.ExecContext(ctx, query,
		a.AttemptID, a.Status, a.Demo, a.DevicePath, a.DiskModel, a.DiskSizeBytes, a.FailedStep,
		a.ErrorKind, a.ErrorCode, a.ErrorMessage, a.ServicesHealthy, strings.Join(a.FailedUnits, ","),
		a.StartedAt, a.FinishedAt)
	if err != nil {
		slog.Error("database_insert_failed", "attempt_id", a.AttemptID, "error", err)
		return errors.Wrap(err, "failed to insert attempt")
	}

	id, err := result.LastInsertId()
	if err != nil {
		slog.Error("database_last_insert_id_failed", "attempt_id", a.AttemptID, "error", err)
		return errors.Wrap(err, "failed to get last insert id")
	}
	a.ID = id

	slog.Info("database_attempt_created", "attempt_id", a.AttemptID, "id", a.ID, "status", a.Status)
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row rowScanner) (*Attempt, error) {
	var a Attempt
	var devicePath, diskModel, errorKind, errorCode, errorMessage, failedUnits, archiveKey sql.NullString
	var startedAt, finishedAt sql.NullString
	var diskSize, failedStep sql.NullInt64
	var healthy sql.NullBool

	err := row.Scan(
		&a.ID, &a.AttemptID, &a.Status, &a.Demo, &devicePath, &diskModel, &diskSize, &failedStep,
		&errorKind, &errorCode, &errorMessage, &healthy, &failedUnits, &archiveKey,
		&a.Committed, &startedAt, &finishedAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}

	// Handle nullable fields
	a.DevicePath = devicePath.String
	a.DiskModel = diskModel.String
	a.DiskSizeBytes = diskSize.Int64
	a.FailedStep = int(failedStep.Int64)
	a.ErrorKind = errorKind.String
	a.ErrorCode = errorCode.String
	a.ErrorMessage = errorMessage.String
	a.ServicesHealthy = healthy.Bool
	if failedUnits.String != "" {
		a.FailedUnits = strings.Split(failedUnits.String, ",")
	}
	a.ArchiveKey = archiveKey.String
	a.StartedAt = startedAt.String
	a.FinishedAt = finishedAt.String
	return &a, nil
}

// GetAttempt retrieves an attempt by its attempt id
func (r *Repository) GetAttempt(ctx context.Context, attemptID string) (*Attempt, error) {
	slog.Debug("database_query_attempt", "attempt_id", attemptID)

	query := `SELECT ` + attemptColumns + ` FROM attempts WHERE attempt_id = ?`
	a, err := scanAttempt(r.db.QueryRowContext(ctx, query, attemptID))
	if err == sql.ErrNoRows {
		slog.Info("database_attempt_not_found", "attempt_id", attemptID)
		return nil, nil // Not found
	}
	if err != nil {
		slog.Error("database_query_failed", "attempt_id", attemptID, "error", err)
		return nil, errors.Wrap(err, "failed to query attempt")
	}
	return a, nil
}

// UpdateStatus updates only the status field
func (r *Repository) UpdateStatus(ctx context.Context, attemptID, status string) error {
	slog.Info("database_update_status", "attempt_id", attemptID, "status", status)

	query := `UPDATE attempts SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE attempt_id = ?`
	return r.execOne(ctx, query, "failed to update status", status, attemptID)
}

// SetArchiveKey records where the attempt log was uploaded
func (r *Repository) SetArchiveKey(ctx context.Context, attemptID, key string) error {
	slog.Info("database_set_archive_key", "attempt_id", attemptID, "archive_key", key)

	query := `UPDATE attempts SET archive_key = ?, updated_at = CURRENT_TIMESTAMP WHERE attempt_id = ?`
	return r.execOne(ctx, query, "failed to set archive key", key, attemptID)
}

// MarkCommitted records that the configuration was committed
func (r *Repository) MarkCommitted(ctx context.Context, attemptID string) error {
	slog.Info("database_mark_committed", "attempt_id", attemptID)

	query := `UPDATE attempts SET committed = 1, updated_at = CURRENT_TIMESTAMP WHERE attempt_id = ?`
	return r.execOne(ctx, query, "failed to mark committed", attemptID)
}

func (r *Repository) execOne(ctx context.Context, query, msg string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		slog.Error("database_update_failed", "error", err)
		return errors.Wrap(err, msg)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		slog.Error("database_rows_affected_failed", "error", err)
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return fmt.Errorf("attempt not found")
	}
	return nil
}

// ListAttempts retrieves the newest attempts, at most limit when limit > 0
func (r *Repository) ListAttempts(ctx context.Context, limit int) ([]*Attempt, error) {
	slog.Debug("database_list_attempts", "limit", limit)

	query := `SELECT ` + attemptColumns + ` FROM attempts ORDER BY id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("database_list_query_failed", "error", err)
		return nil, errors.Wrap(err, "failed to list attempts")
	}
	defer rows.Close()

	var attempts []*Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			slog.Error("database_scan_row_failed", "error", err)
			return nil, errors.Wrap(err, "failed to scan row")
		}
		attempts = append(attempts, a)
	}

	if err := rows.Err(); err != nil {
		slog.Error("database_rows_error", "error", err)
		return nil, errors.Wrap(err, "rows error")
	}

	slog.Debug("database_list_complete", "attempt_count", len(attempts))
	return attempts, nil
}

// AddStepResults stores the final step results of an attempt in one transaction
func (r *Repository) AddStepResults(ctx context.Context, results []StepResult) error {
	if len(results) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed_to_begin_transaction", "error", err)
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	query := `
		INSERT OR REPLACE INTO step_results (attempt_id, ordinal, step_id, kind, outcome, attempts, error_code, output, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for _, s := range results {
		_, err := tx.ExecContext(ctx, query,
			s.AttemptID, s.Ordinal, s.StepID, s.Kind, s.Outcome, s.Attempts, s.ErrorCode,
			strings.Join(s.Output, "\n"), s.StartedAt, s.FinishedAt)
		if err != nil {
			slog.Error("database_step_insert_failed", "attempt_id", s.AttemptID, "ordinal", s.Ordinal, "error", err)
			return errors.Wrap(err, "failed to insert step result")
		}
	}

	if err := tx.Commit(); err != nil {
		slog.Error("failed_to_commit_transaction", "error", err)
		return errors.Wrap(err, "failed to commit transaction")
	}

	slog.Info("database_step_results_stored", "attempt_id", results[0].AttemptID, "count", len(results))
	return nil
}

// ListStepResults retrieves the step results of an attempt in ordinal order
func (r *Repository) ListStepResults(ctx context.Context, attemptID string) ([]StepResult, error) {
	query := `
		SELECT attempt_id, ordinal, step_id, kind, outcome, attempts, error_code, output, started_at, finished_at
		FROM step_results WHERE attempt_id = ? ORDER BY ordinal
	`
	rows, err := r.db.QueryContext(ctx, query, attemptID)
	if err != nil {
		slog.Error("database_step_query_failed", "attempt_id", attemptID, "error", err)
		return nil, errors.Wrap(err, "failed to list step results")
	}
	defer rows.Close()

	var results []StepResult
	for rows.Next() {
		var s StepResult
		var errorCode, output, startedAt, finishedAt sql.NullString
		if err := rows.Scan(&s.AttemptID, &s.Ordinal, &s.StepID, &s.Kind, &s.Outcome, &s.Attempts,
			&errorCode, &output, &startedAt, &finishedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan step result")
		}
		s.ErrorCode = errorCode.String
		if output.String != "" {
			s.Output = strings.Split(output.String, "\n")
		}
		s.StartedAt = startedAt.String
		s.FinishedAt = finishedAt.String
		results = append(results, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows error")
	}
	return results, nil
}

// DeleteAttempt deletes an attempt and its step results
func (r *Repository) DeleteAttempt(ctx context.Context, attemptID string) error {
	slog.Info("database_delete_attempt", "attempt_id", attemptID)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM step_results WHERE attempt_id = ?`, attemptID); err != nil {
		slog.Error("database_delete_failed", "attempt_id", attemptID, "error", err)
		return errors.Wrap(err, "failed to delete step results")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM attempts WHERE attempt_id = ?`, attemptID); err != nil {
		slog.Error("database_delete_failed", "attempt_id", attemptID, "error", err)
		return errors.Wrap(err, "failed to delete attempt")
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}

	slog.Info("database_attempt_deleted", "attempt_id", attemptID)
	return nil
}

// DeleteOlderThan removes every finished attempt created before cutoff and
// returns the removed records so callers can clean up archived logs.
func (r *Repository) DeleteOlderThan(ctx context.Context, cutoff time.Time) ([]*Attempt, error) {
	slog.Info("database_delete_older_than", "cutoff", cutoff.UTC().Format(time.RFC3339))

	query := `SELECT ` + attemptColumns + ` FROM attempts WHERE status != ? AND created_at < ? ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, StatusRunning, cutoff.UTC().Format(sqliteTimeFormat))
	if err != nil {
		return nil, errors.Wrap(err, "failed to query old attempts")
	}

	var old []*Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "failed to scan row")
		}
		old = append(old, a)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, errors.Wrap(err, "rows error")
	}
	rows.Close()

	for _, a := range old {
		if err := r.DeleteAttempt(ctx, a.AttemptID); err != nil {
			return nil, err
		}
	}
	return old, nil
}

// sqliteTimeFormat matches CURRENT_TIMESTAMP.
const sqliteTimeFormat = "2006-01-02 15:04:05"
