package experiment

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// History persists run summaries.
type History interface {
	RecordStart(ctx context.Context, run RunSummary) error
	RecordEnd(ctx context.Context, run RunSummary) error
	ListRuns(ctx context.Context, target string, limit int) ([]RunSummary, error)
}

// Run status values stored while a run is in flight.
const runStatusRunning = "running"

// SQLiteHistory stores runs in the experiment_runs table.
type SQLiteHistory struct {
	db *sql.DB
}

// NewSQLiteHistory creates a history store over db.
func NewSQLiteHistory(db *sql.DB) *SQLiteHistory {
	return &SQLiteHistory{db: db}
}

// RecordStart inserts a run row in the running state.
func (h *SQLiteHistory) RecordStart(ctx context.Context, run RunSummary) error {
	_, err := h.db.ExecContext(ctx,
		`INSERT INTO experiment_runs (id, origin, target, steps, pid, status, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.Origin, run.Target, run.Steps, nullableInt(run.PID),
		runStatusRunning, run.StartedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", run.RunID, err)
	}
	return nil
}

// RecordEnd stores the outcome of a run.
func (h *SQLiteHistory) RecordEnd(ctx context.Context, run RunSummary) error {
	res, err := h.db.ExecContext(ctx,
		`UPDATE experiment_runs
		 SET pid = ?, status = ?, exit_code = ?, stdout_lines = ?, stderr_lines = ?, error = ?, ended_at = ?
		 WHERE id = ?`,
		nullableInt(run.PID), string(run.Outcome), run.ExitCode, run.StdoutLines, run.StderrLines,
		nullableString(run.Error), run.EndedAt.UTC().Format(time.RFC3339Nano),
		run.RunID,
	)
	if err != nil {
		return fmt.Errorf("updating run %s: %w", run.RunID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // sqlite always reports rows affected
		return fmt.Errorf("updating run %s: no such run", run.RunID)
	}
	return nil
}

// ListRuns returns runs for target, newest first. An empty target lists all.
func (h *SQLiteHistory) ListRuns(ctx context.Context, target string, limit int) ([]RunSummary, error) {
	if limit <= 0 || limit > 200 { //nolint:mnd // max page size
		limit = 50
	}

	query := `SELECT id, origin, target, steps, pid, status, exit_code, stdout_lines, stderr_lines, error, started_at, ended_at
		FROM experiment_runs`
	args := []any{}
	if target != "" {
		query += " WHERE target = ?"
		args = append(args, target)
	}
	query += " ORDER BY started_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	runs := []RunSummary{}
	for rows.Next() {
		var (
			run                  RunSummary
			pid, exitCode        sql.NullInt64
			status               string
			errText, ended       sql.NullString
			started              string
			stdoutLines, stderrs int
		)
		if err := rows.Scan(&run.RunID, &run.Origin, &run.Target, &run.Steps, &pid, &status,
			&exitCode, &stdoutLines, &stderrs, &errText, &started, &ended); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}

		run.PID = int(pid.Int64)
		run.Outcome = Outcome(status)
		run.ExitCode = -1
		if exitCode.Valid {
			run.ExitCode = int(exitCode.Int64)
		}
		run.StdoutLines = stdoutLines
		run.StderrLines = stderrs
		run.Error = errText.String

		if run.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("parsing run start %q: %w", started, err)
		}
		if ended.Valid {
			if run.EndedAt, err = time.Parse(time.RFC3339Nano, ended.String); err != nil {
				return nil, fmt.Errorf("parsing run end %q: %w", ended.String, err)
			}
			run.Duration = run.EndedAt.Sub(run.StartedAt)
		}

		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}
	return runs, nil
}

// nullableString returns nil for empty strings so TEXT columns stay NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullableInt returns nil for zero so INTEGER columns stay NULL.
func nullableInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}
