package db

// Schema defines the SQLite database schema for install attempt history.
// Each attempt has one row in attempts and one row per final step result
// in step_results.
const Schema = `
CREATE TABLE IF NOT EXISTS attempts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    attempt_id TEXT NOT NULL UNIQUE,
    status TEXT NOT NULL CHECK(status IN ('running', 'succeeded', 'failed', 'cancelled')),
    demo INTEGER NOT NULL DEFAULT 0,
    device_path TEXT,
    disk_model TEXT,
    disk_size_bytes INTEGER,
    failed_step INTEGER,
    error_kind TEXT,
    error_code TEXT,
    error_message TEXT,
    services_healthy INTEGER,
    failed_units TEXT,
    archive_key TEXT,
    committed INTEGER NOT NULL DEFAULT 0,
    started_at TEXT,
    finished_at TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_attempts_status ON attempts(status);
CREATE INDEX IF NOT EXISTS idx_attempts_created_at ON attempts(created_at);

CREATE TABLE IF NOT EXISTS step_results (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    attempt_id TEXT NOT NULL,
    ordinal INTEGER NOT NULL,
    step_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    outcome TEXT NOT NULL CHECK(outcome IN ('succeeded', 'failed', 'skipped')),
    attempts INTEGER NOT NULL,
    error_code TEXT,
    output TEXT,
    started_at TEXT,
    finished_at TEXT,
    UNIQUE(attempt_id, ordinal)
);

CREATE INDEX IF NOT EXISTS idx_step_results_attempt ON step_results(attempt_id);
`

// Status constants
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Attempt represents an install attempt record
type Attempt struct {
	ID              int64
	AttemptID       string
	Status          string
	Demo            bool
	DevicePath      string
	DiskModel       string
	DiskSizeBytes   int64
	FailedStep      int
	ErrorKind       string
	ErrorCode       string
	ErrorMessage    string
	ServicesHealthy bool
	FailedUnits     []string
	ArchiveKey      string
	Committed       bool
	StartedAt       string
	FinishedAt      string
	CreatedAt       string
	UpdatedAt       string
}

// StepResult represents one final step result of an attempt
type StepResult struct {
	AttemptID  string
	Ordinal    int
	StepID     string
	Kind       string
	Outcome    string
	Attempts   int
	ErrorCode  string
	Output     []string
	StartedAt  string
	FinishedAt string
}
