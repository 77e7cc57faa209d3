// Package repository stores the run history.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nullshell/nullshell/internal/model"
)

const runColumns = `id, script_path, interpreter, workdir, cols, rows, status, exit_code, pid, transcript_path, created_at, updated_at`

// RunRepository provides data access for run records.
type RunRepository struct {
	db *sql.DB
}

// NewRunRepository creates a new RunRepository.
func NewRunRepository(db *sql.DB) *RunRepository {
	return &RunRepository{db: db}
}

// Create inserts a run record.
func (r *RunRepository) Create(ctx context.Context, run *model.Session) error {
	query := `INSERT INTO runs (` + runColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		run.ID,
		run.ScriptPath,
		run.Interpreter,
		run.Workdir,
		run.Cols,
		run.Rows,
		run.Status,
		run.ExitCode,
		run.PID,
		run.TranscriptPath,
		run.CreatedAt,
		run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// GetByID retrieves a run by its ID.
func (r *RunRepository) GetByID(ctx context.Context, id string) (*model.Session, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = ?`

	run, err := scanRun(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// List returns the most recent runs first. A limit of zero or less returns
// every run.
func (r *RunRepository) List(ctx context.Context, limit int) ([]*model.Session, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY created_at DESC, id`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*model.Session{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// UpdateStatus updates the status and exit code of a run.
func (r *RunRepository) UpdateStatus(ctx context.Context, id string, status model.SessionStatus, exitCode *int) error {
	query := `
		UPDATE runs
		SET status = ?, exit_code = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query, status, exitCode, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return model.ErrRunNotFound
	}

	return nil
}

// MarkInterrupted flags runs left in the running state by a previous process.
func (r *RunRepository) MarkInterrupted(ctx context.Context) (int64, error) {
	query := `
		UPDATE runs
		SET status = ?, updated_at = ?
		WHERE status = ?
	`

	result, err := r.db.ExecContext(ctx, query, model.SessionStatusFailed, time.Now(), model.SessionStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to mark interrupted runs: %w", err)
	}
	return result.RowsAffected()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*model.Session, error) {
	run := &model.Session{}
	var exitCode sql.NullInt64
	var pid sql.NullInt64

	err := row.Scan(
		&run.ID,
		&run.ScriptPath,
		&run.Interpreter,
		&run.Workdir,
		&run.Cols,
		&run.Rows,
		&run.Status,
		&exitCode,
		&pid,
		&run.TranscriptPath,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if exitCode.Valid {
		code := int(exitCode.Int64)
		run.ExitCode = &code
	}

	if pid.Valid {
		p := int(pid.Int64)
		run.PID = &p
	}

	return run, nil
}
