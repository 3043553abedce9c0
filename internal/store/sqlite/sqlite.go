// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sqlite implements the execution store on SQLite using the pure Go
// modernc.org/sqlite driver. It is the default backend for single-node
// deployments: no external database, one file on disk.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/tombee/baton/internal/store"
)

// timeFormat is RFC 3339 with a fixed-width nanosecond fraction. Timestamps
// are stored as TEXT, and the fixed width keeps lexicographic comparison
// consistent with chronological order for claim and list queries.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Config holds SQLite backend configuration.
type Config struct {
	// Path is the database file path, or ":memory:" for an in-memory database.
	Path string
	// WAL enables write-ahead logging.
	WAL bool
}

// Backend is a SQLite-backed execution store.
type Backend struct {
	db *sql.DB
}

var _ store.Store = (*Backend)(nil)

// New opens the database at cfg.Path, creating it if necessary, and runs
// migrations.
func New(cfg Config) (*Backend, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows a single writer; one connection serializes claim
	// transactions without row locks.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	b := &Backend{db: db}

	if err := b.configurePragmas(ctx, cfg.WAL); err != nil {
		db.Close()
		return nil, err
	}

	if err := b.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return b, nil
}

func (b *Backend) configurePragmas(ctx context.Context, enableWAL bool) error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA auto_vacuum = INCREMENTAL",
		"PRAGMA synchronous = NORMAL",
	}
	if enableWAL {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}

	for _, pragma := range pragmas {
		if _, err := b.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to set %s: %w", pragma, err)
		}
	}

	return nil
}

func (b *Backend) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			workflow_name TEXT NOT NULL,
			workflow_version INTEGER NOT NULL DEFAULT 1,
			status TEXT NOT NULL,
			input TEXT,
			output TEXT,
			error TEXT NOT NULL DEFAULT '',
			current_step_id TEXT NOT NULL DEFAULT '',
			retry_count INTEGER NOT NULL DEFAULT 0,
			next_retry_at TEXT,
			worker_id TEXT NOT NULL DEFAULT '',
			locked_at TEXT,
			idempotency_key TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			started_at TEXT,
			completed_at TEXT,
			updated_at TEXT NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_executions_idempotency_key
			ON executions(idempotency_key) WHERE idempotency_key <> ''`,
		`CREATE INDEX IF NOT EXISTS idx_executions_claim ON executions(status, next_retry_at, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_workflow_name ON executions(workflow_name)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_created_at ON executions(created_at)`,
		`CREATE TABLE IF NOT EXISTS step_results (
			id TEXT PRIMARY KEY,
			execution_id TEXT NOT NULL,
			step_id TEXT NOT NULL,
			status TEXT NOT NULL,
			output TEXT,
			error TEXT NOT NULL DEFAULT '',
			attempt INTEGER NOT NULL DEFAULT 1,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			started_at TEXT NOT NULL,
			completed_at TEXT NOT NULL,
			created_at TEXT NOT NULL,
			FOREIGN KEY (execution_id) REFERENCES executions(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_step_results_execution_id ON step_results(execution_id)`,
		`CREATE TABLE IF NOT EXISTS dlq_entries (
			id TEXT PRIMARY KEY,
			execution_id TEXT NOT NULL,
			workflow_name TEXT NOT NULL,
			reason TEXT NOT NULL,
			payload TEXT,
			failed_at TEXT NOT NULL,
			FOREIGN KEY (execution_id) REFERENCES executions(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_dlq_entries_failed_at ON dlq_entries(failed_at)`,
		`CREATE TABLE IF NOT EXISTS execution_logs (
			id TEXT PRIMARY KEY,
			execution_id TEXT NOT NULL,
			step_id TEXT NOT NULL DEFAULT '',
			level TEXT NOT NULL,
			message TEXT NOT NULL,
			metadata TEXT,
			timestamp TEXT NOT NULL,
			FOREIGN KEY (execution_id) REFERENCES executions(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_execution_logs_execution_id ON execution_logs(execution_id)`,
	}

	for _, migration := range migrations {
		if _, err := b.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

const executionColumns = `id, workflow_id, workflow_name, workflow_version, status, input, output,
	error, current_step_id, retry_count, next_retry_at, worker_id, locked_at,
	idempotency_key, created_at, started_at, completed_at, updated_at`

// CreateExecution inserts a new execution. The idempotency_key unique index
// is the arbiter for duplicate submissions: a violation surfaces as
// store.ErrDuplicateKey.
func (b *Backend) CreateExecution(ctx context.Context, e *store.Execution) error {
	inputJSON, err := marshalJSON(e.Input)
	if err != nil {
		return fmt.Errorf("failed to marshal input: %w", err)
	}
	outputJSON, err := marshalJSON(e.Output)
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}

	status := e.Status
	if status == "" {
		status = store.StatusPending
	}
	now := time.Now().UTC()

	query := `
		INSERT INTO executions (
			id, workflow_id, workflow_name, workflow_version, status, input, output,
			error, current_step_id, retry_count, next_retry_at, worker_id, locked_at,
			idempotency_key, created_at, started_at, completed_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = b.db.ExecContext(ctx, query,
		e.ID, e.WorkflowID, e.WorkflowName, e.WorkflowVersion, string(status),
		inputJSON, outputJSON,
		e.Error, e.CurrentStepID, e.RetryCount, formatTimePtr(e.NextRetryAt),
		e.WorkerID, formatTimePtr(e.LockedAt), e.IdempotencyKey,
		formatTime(now), formatTimePtr(e.StartedAt), formatTimePtr(e.CompletedAt), formatTime(now),
	)
	if err != nil {
		if isUniqueViolation(err, "idempotency_key") {
			return fmt.Errorf("idempotency_key %q: %w", e.IdempotencyKey, store.ErrDuplicateKey)
		}
		return fmt.Errorf("failed to create execution: %w", err)
	}

	e.Status = status
	e.CreatedAt = now
	e.UpdatedAt = now
	return nil
}

// GetExecution retrieves an execution by ID.
func (b *Backend) GetExecution(ctx context.Context, id string) (*store.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE id = ?`

	e, err := scanExecution(b.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("execution %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}
	return e, nil
}

// FindByIdempotencyKey retrieves the execution created with the given key.
func (b *Backend) FindByIdempotencyKey(ctx context.Context, key string) (*store.Execution, error) {
	if key == "" {
		return nil, fmt.Errorf("idempotency_key %q: %w", key, store.ErrNotFound)
	}

	query := `SELECT ` + executionColumns + ` FROM executions WHERE idempotency_key = ?`

	e, err := scanExecution(b.db.QueryRowContext(ctx, query, key))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("idempotency_key %q: %w", key, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find execution by idempotency key: %w", err)
	}
	return e, nil
}

// UpdateExecution applies a partial update. Only fields set in the patch are
// written; clear flags win over their corresponding set fields.
func (b *Backend) UpdateExecution(ctx context.Context, id string, patch store.ExecutionPatch) error {
	set := []string{"updated_at = ?"}
	args := []any{formatTime(time.Now().UTC())}

	if patch.Status != nil {
		set = append(set, "status = ?")
		args = append(args, string(*patch.Status))
	}
	if patch.Output != nil {
		outputJSON, err := json.Marshal(patch.Output)
		if err != nil {
			return fmt.Errorf("failed to marshal output: %w", err)
		}
		set = append(set, "output = ?")
		args = append(args, string(outputJSON))
	}
	if patch.Error != nil {
		set = append(set, "error = ?")
		args = append(args, *patch.Error)
	}
	if patch.CurrentStepID != nil && !patch.ClearCurrentStepID {
		set = append(set, "current_step_id = ?")
		args = append(args, *patch.CurrentStepID)
	}
	if patch.RetryCount != nil {
		set = append(set, "retry_count = ?")
		args = append(args, *patch.RetryCount)
	}
	if patch.NextRetryAt != nil && !patch.ClearNextRetryAt {
		set = append(set, "next_retry_at = ?")
		args = append(args, formatTime(*patch.NextRetryAt))
	}
	if patch.WorkerID != nil && !patch.ClearWorkerLock {
		set = append(set, "worker_id = ?")
		args = append(args, *patch.WorkerID)
	}
	if patch.LockedAt != nil && !patch.ClearWorkerLock {
		set = append(set, "locked_at = ?")
		args = append(args, formatTime(*patch.LockedAt))
	}
	if patch.StartedAt != nil {
		set = append(set, "started_at = ?")
		args = append(args, formatTime(*patch.StartedAt))
	}
	if patch.CompletedAt != nil {
		set = append(set, "completed_at = ?")
		args = append(args, formatTime(*patch.CompletedAt))
	}
	if patch.ClearNextRetryAt {
		set = append(set, "next_retry_at = NULL")
	}
	if patch.ClearWorkerLock {
		set = append(set, "worker_id = ''", "locked_at = NULL")
	}
	if patch.ClearCurrentStepID {
		set = append(set, "current_step_id = ''")
	}

	query := "UPDATE executions SET " + strings.Join(set, ", ") + " WHERE id = ?"
	args = append(args, id)

	result, err := b.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("execution %s: %w", id, store.ErrNotFound)
	}

	return nil
}

// ListExecutions lists executions newest first with optional filtering.
func (b *Backend) ListExecutions(ctx context.Context, filter store.ListFilter) ([]*store.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.WorkflowName != "" {
		query += " AND workflow_name = ?"
		args = append(args, filter.WorkflowName)
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	} else if filter.Offset > 0 {
		query += " LIMIT -1"
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var executions []*store.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		executions = append(executions, e)
	}

	return executions, rows.Err()
}

// Claim atomically transitions up to batchSize due executions to running on
// behalf of workerID, oldest first. Pending executions are always due;
// retry_scheduled executions are due once next_retry_at has passed.
func (b *Backend) Claim(ctx context.Context, workerID string, batchSize int) ([]*store.Execution, error) {
	if batchSize <= 0 {
		return nil, nil
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer tx.Rollback()

	now := formatTime(time.Now().UTC())

	query := `
		SELECT id FROM executions
		WHERE status = ?
		   OR (status = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?)
		ORDER BY created_at ASC
		LIMIT ?
	`
	rows, err := tx.QueryContext(ctx, query,
		string(store.StatusPending), string(store.StatusRetryScheduled), now, batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to select due executions: %w", err)
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan execution id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to iterate due executions: %w", err)
	}
	rows.Close()

	if len(ids) == 0 {
		return nil, tx.Commit()
	}

	update := `
		UPDATE executions
		SET status = ?, worker_id = ?, locked_at = ?,
			started_at = COALESCE(started_at, ?), updated_at = ?
		WHERE id = ?
	`
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, update,
			string(store.StatusRunning), workerID, now, now, now, id); err != nil {
			return nil, fmt.Errorf("failed to claim execution %s: %w", id, err)
		}
	}

	claimed := make([]*store.Execution, 0, len(ids))
	for _, id := range ids {
		row := tx.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = ?`, id)
		e, err := scanExecution(row)
		if err != nil {
			return nil, fmt.Errorf("failed to read claimed execution %s: %w", id, err)
		}
		claimed = append(claimed, e)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	return claimed, nil
}

// ReleaseStaleClaims returns running executions whose lock is older than the
// threshold to pending so another worker can claim them.
func (b *Backend) ReleaseStaleClaims(ctx context.Context, olderThan time.Duration) (int, error) {
	now := time.Now().UTC()
	cutoff := now.Add(-olderThan)

	query := `
		UPDATE executions
		SET status = ?, worker_id = '', locked_at = NULL, updated_at = ?
		WHERE status = ? AND locked_at IS NOT NULL AND locked_at <= ?
	`
	result, err := b.db.ExecContext(ctx, query,
		string(store.StatusPending), formatTime(now), string(store.StatusRunning), formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to release stale claims: %w", err)
	}

	released, _ := result.RowsAffected()
	return int(released), nil
}

// CancelExecution marks a non-terminal execution cancelled. Cancelling an
// already terminal execution returns store.ErrConflict.
func (b *Backend) CancelExecution(ctx context.Context, id string) (*store.Execution, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin cancel transaction: %w", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM executions WHERE id = ?`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("execution %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read execution status: %w", err)
	}
	if store.Status(status).IsTerminal() {
		return nil, fmt.Errorf("execution %s is %s: %w", id, status, store.ErrConflict)
	}

	now := formatTime(time.Now().UTC())
	update := `
		UPDATE executions
		SET status = ?, error = 'cancelled', completed_at = ?, updated_at = ?
		WHERE id = ?
	`
	if _, err := tx.ExecContext(ctx, update, string(store.StatusCancelled), now, now, id); err != nil {
		return nil, fmt.Errorf("failed to cancel execution: %w", err)
	}

	e, err := scanExecution(tx.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("failed to read cancelled execution: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit cancel: %w", err)
	}

	return e, nil
}

// AppendStepResult records one step attempt. Results are append-only; every
// attempt is retained.
func (b *Backend) AppendStepResult(ctx context.Context, result *store.StepResult) error {
	if result.ID == "" {
		result.ID = uuid.New().String()
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now().UTC()
	}

	outputJSON, err := marshalJSON(result.Output)
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}

	query := `
		INSERT INTO step_results (id, execution_id, step_id, status, output, error, attempt, duration_ms, started_at, completed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = b.db.ExecContext(ctx, query,
		result.ID, result.ExecutionID, result.StepID, string(result.Status),
		outputJSON, result.Error, result.Attempt, result.DurationMs,
		formatTime(result.StartedAt), formatTime(result.CompletedAt), formatTime(result.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append step result: %w", err)
	}

	return nil
}

// ListStepResults returns all recorded attempts for an execution in insertion
// order.
func (b *Backend) ListStepResults(ctx context.Context, executionID string) ([]*store.StepResult, error) {
	query := `
		SELECT id, execution_id, step_id, status, output, error, attempt, duration_ms, started_at, completed_at, created_at
		FROM step_results
		WHERE execution_id = ?
		ORDER BY created_at ASC, rowid ASC
	`
	rows, err := b.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list step results: %w", err)
	}
	defer rows.Close()

	var results []*store.StepResult
	for rows.Next() {
		var (
			r          store.StepResult
			status     string
			outputJSON sql.NullString
			startedAt  string
			completed  string
			createdAt  string
		)
		err := rows.Scan(&r.ID, &r.ExecutionID, &r.StepID, &status, &outputJSON,
			&r.Error, &r.Attempt, &r.DurationMs, &startedAt, &completed, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step result: %w", err)
		}

		r.Status = store.Status(status)
		if outputJSON.Valid && outputJSON.String != "" {
			if err := json.Unmarshal([]byte(outputJSON.String), &r.Output); err != nil {
				return nil, fmt.Errorf("failed to unmarshal output: %w", err)
			}
		}
		r.StartedAt = parseTime(startedAt)
		r.CompletedAt = parseTime(completed)
		r.CreatedAt = parseTime(createdAt)

		results = append(results, &r)
	}

	return results, rows.Err()
}

// AppendDLQEntry records an execution that exhausted its retries.
func (b *Backend) AppendDLQEntry(ctx context.Context, entry *store.DLQEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.FailedAt.IsZero() {
		entry.FailedAt = time.Now().UTC()
	}

	payloadJSON, err := marshalJSON(entry.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	query := `
		INSERT INTO dlq_entries (id, execution_id, workflow_name, reason, payload, failed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err = b.db.ExecContext(ctx, query,
		entry.ID, entry.ExecutionID, entry.WorkflowName, entry.Reason,
		payloadJSON, formatTime(entry.FailedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append dlq entry: %w", err)
	}

	return nil
}

// ListDLQEntries returns dead-letter entries newest first. A limit of zero or
// less returns all entries.
func (b *Backend) ListDLQEntries(ctx context.Context, limit int) ([]*store.DLQEntry, error) {
	query := `
		SELECT id, execution_id, workflow_name, reason, payload, failed_at
		FROM dlq_entries
		ORDER BY failed_at DESC, rowid DESC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list dlq entries: %w", err)
	}
	defer rows.Close()

	var entries []*store.DLQEntry
	for rows.Next() {
		var (
			entry       store.DLQEntry
			payloadJSON sql.NullString
			failedAt    string
		)
		err := rows.Scan(&entry.ID, &entry.ExecutionID, &entry.WorkflowName,
			&entry.Reason, &payloadJSON, &failedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dlq entry: %w", err)
		}

		if payloadJSON.Valid && payloadJSON.String != "" {
			if err := json.Unmarshal([]byte(payloadJSON.String), &entry.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}
		entry.FailedAt = parseTime(failedAt)

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}

// AppendLogEntries records a batch of log entries in one transaction.
func (b *Backend) AppendLogEntries(ctx context.Context, entries []*store.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin log transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO execution_logs (id, execution_id, step_id, level, message, metadata, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	for _, entry := range entries {
		if entry.ID == "" {
			entry.ID = uuid.New().String()
		}
		if entry.Timestamp.IsZero() {
			entry.Timestamp = time.Now().UTC()
		}

		metadataJSON, err := marshalJSON(entry.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}

		if _, err := tx.ExecContext(ctx, query,
			entry.ID, entry.ExecutionID, entry.StepID, entry.Level,
			entry.Message, metadataJSON, formatTime(entry.Timestamp)); err != nil {
			return fmt.Errorf("failed to append log entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit log entries: %w", err)
	}

	return nil
}

// ListLogEntries returns all log entries for an execution in order.
func (b *Backend) ListLogEntries(ctx context.Context, executionID string) ([]*store.LogEntry, error) {
	query := `
		SELECT id, execution_id, step_id, level, message, metadata, timestamp
		FROM execution_logs
		WHERE execution_id = ?
		ORDER BY timestamp ASC, rowid ASC
	`
	rows, err := b.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list log entries: %w", err)
	}
	defer rows.Close()

	var entries []*store.LogEntry
	for rows.Next() {
		var (
			entry        store.LogEntry
			metadataJSON sql.NullString
			timestamp    string
		)
		err := rows.Scan(&entry.ID, &entry.ExecutionID, &entry.StepID,
			&entry.Level, &entry.Message, &metadataJSON, &timestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}

		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &entry.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		entry.Timestamp = parseTime(timestamp)

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}

// Close closes the database.
func (b *Backend) Close() error {
	return b.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(row scanner) (*store.Execution, error) {
	var (
		e           store.Execution
		status      string
		inputJSON   sql.NullString
		outputJSON  sql.NullString
		nextRetryAt sql.NullString
		lockedAt    sql.NullString
		createdAt   string
		startedAt   sql.NullString
		completedAt sql.NullString
		updatedAt   string
	)

	err := row.Scan(
		&e.ID, &e.WorkflowID, &e.WorkflowName, &e.WorkflowVersion, &status,
		&inputJSON, &outputJSON, &e.Error, &e.CurrentStepID, &e.RetryCount,
		&nextRetryAt, &e.WorkerID, &lockedAt, &e.IdempotencyKey,
		&createdAt, &startedAt, &completedAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Status = store.Status(status)

	// Parse JSON fields
	if inputJSON.Valid && inputJSON.String != "" {
		if err := json.Unmarshal([]byte(inputJSON.String), &e.Input); err != nil {
			return nil, fmt.Errorf("failed to unmarshal input: %w", err)
		}
	}
	if outputJSON.Valid && outputJSON.String != "" {
		if err := json.Unmarshal([]byte(outputJSON.String), &e.Output); err != nil {
			return nil, fmt.Errorf("failed to unmarshal output: %w", err)
		}
	}

	// Parse timestamps
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updatedAt)
	e.NextRetryAt = parseTimePtr(nextRetryAt)
	e.LockedAt = parseTimePtr(lockedAt)
	e.StartedAt = parseTimePtr(startedAt)
	e.CompletedAt = parseTimePtr(completedAt)

	return &e, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func marshalJSON(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// isUniqueViolation matches SQLite unique constraint failures on the given
// column. modernc.org/sqlite reports constraint failures as formatted
// messages rather than typed error codes.
func isUniqueViolation(err error, column string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") && strings.Contains(msg, column)
}
