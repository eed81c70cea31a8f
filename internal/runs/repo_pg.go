package runs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"compat-backend/internal/reports"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const runColumns = `id, workspace_id, status, trigger, request_id, credential_count,
       error_code, error_message, statistics, archive_key, started_at, completed_at`

// Create inserts a new run.
func (r *PGRepo) Create(ctx context.Context, run Run) error {
	const query = `
INSERT INTO analysis_runs (id, workspace_id, status, trigger, request_id, credential_count, started_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.DB.ExecContext(ctx, query,
		run.ID,
		run.WorkspaceID,
		run.Status,
		run.Trigger,
		nullString(run.RequestID),
		run.CredentialCount,
		run.StartedAt,
	)
	return err
}

// Complete records the terminal state of a run.
func (r *PGRepo) Complete(ctx context.Context, runID string, outcome Outcome) error {
	const query = `
UPDATE analysis_runs
SET status = $2, error_code = $3, error_message = $4, statistics = $5, archive_key = $6, completed_at = $7
WHERE id = $1`
	stats, err := marshalStatistics(outcome.Statistics)
	if err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx, query,
		runID,
		outcome.Status,
		nullString(outcome.ErrorCode),
		nullString(outcome.ErrorMessage),
		stats,
		nullString(outcome.ArchiveKey),
		outcome.CompletedAt,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetByID returns a run belonging to workspaceID.
func (r *PGRepo) GetByID(ctx context.Context, workspaceID, runID string) (Run, error) {
	query := `SELECT ` + runColumns + `
FROM analysis_runs
WHERE id = $1 AND workspace_id = $2
LIMIT 1`
	run, err := scanRun(r.DB.QueryRowContext(ctx, query, runID, workspaceID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, ErrNotFound
		}
		return Run{}, err
	}
	return run, nil
}

// ListByWorkspace returns runs for a workspace, newest first.
func (r *PGRepo) ListByWorkspace(ctx context.Context, workspaceID string, limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + `
FROM analysis_runs
WHERE workspace_id = $1
ORDER BY started_at DESC
LIMIT $2`
	rows, err := r.DB.QueryContext(ctx, query, workspaceID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var run Run
	var requestID sql.NullString
	var errorCode sql.NullString
	var errorMessage sql.NullString
	var statistics sql.NullString
	var archiveKey sql.NullString
	var completedAt sql.NullTime
	if err := row.Scan(
		&run.ID,
		&run.WorkspaceID,
		&run.Status,
		&run.Trigger,
		&requestID,
		&run.CredentialCount,
		&errorCode,
		&errorMessage,
		&statistics,
		&archiveKey,
		&run.StartedAt,
		&completedAt,
	); err != nil {
		return Run{}, err
	}
	run.RequestID = requestID.String
	run.ErrorCode = errorCode.String
	run.ErrorMessage = errorMessage.String
	run.ArchiveKey = archiveKey.String
	if statistics.Valid && statistics.String != "" {
		var st reports.Statistics
		if err := json.Unmarshal([]byte(statistics.String), &st); err != nil {
			return Run{}, fmt.Errorf("decode run statistics: %w", err)
		}
		run.Statistics = &st
	}
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	return run, nil
}

func marshalStatistics(st *reports.Statistics) (any, error) {
	if st == nil {
		return nil, nil
	}
	data, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("encode run statistics: %w", err)
	}
	return string(data), nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var _ Repo = (*PGRepo)(nil)
var _ Repo = (*MemoryRepo)(nil)
