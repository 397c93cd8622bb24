package runs

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/pulsecheck/sift/pkg/repository"
)

const runColumns = `run_id, user_id, status, started_at, updated_at, completed_at`

type repo struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a run marker repository implementing the System interface.
func New(db *sql.DB, logger *slog.Logger) System {
	return &repo{
		db:     db,
		logger: logger.With("system", "runs"),
	}
}

func (r *repo) Find(ctx context.Context, runID string) (*Run, error) {
	q := fmt.Sprintf(`SELECT %s FROM scan_runs WHERE run_id = $1`, runColumns)

	run, err := repository.QueryOne(ctx, r.db, q, []any{runID}, scanRun)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return &run, nil
}

func (r *repo) IsActive(ctx context.Context, runID string, staleAfter time.Duration) (bool, error) {
	q := `
		SELECT EXISTS (
			SELECT 1 FROM scan_runs
			WHERE run_id = $1 AND status = 'in_progress' AND updated_at > $2
		)`

	var active bool
	cutoff := time.Now().Add(-staleAfter)
	if err := r.db.QueryRowContext(ctx, q, runID, cutoff).Scan(&active); err != nil {
		return false, fmt.Errorf("check run activity: %w", err)
	}
	return active, nil
}

func (r *repo) IsCompleted(ctx context.Context, runID string) (bool, error) {
	q := `
		SELECT EXISTS (
			SELECT 1 FROM scan_runs
			WHERE run_id = $1 AND status = 'completed'
		)`

	var completed bool
	if err := r.db.QueryRowContext(ctx, q, runID).Scan(&completed); err != nil {
		return false, fmt.Errorf("check run completion: %w", err)
	}
	return completed, nil
}

func (r *repo) MarkInProgress(ctx context.Context, runID, userID string) error {
	q := `
		INSERT INTO scan_runs(run_id, user_id, status, started_at, updated_at)
		VALUES ($1, $2, 'in_progress', now(), now())
		ON CONFLICT (run_id) DO UPDATE SET
			status = 'in_progress',
			updated_at = now(),
			completed_at = NULL`

	if _, err := r.db.ExecContext(ctx, q, runID, userID); err != nil {
		return fmt.Errorf("mark run in progress: %w", err)
	}

	r.logger.Info("run marked in progress", "run", runID)
	return nil
}

func (r *repo) MarkCompleted(ctx context.Context, runID string) error {
	err := repository.ExecExpectOne(
		ctx, r.db,
		`UPDATE scan_runs SET status = 'completed', updated_at = now(), completed_at = now()
		 WHERE run_id = $1`,
		runID,
	)
	if err != nil {
		return repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	r.logger.Info("run marked completed", "run", runID)
	return nil
}

func (r *repo) ClearInProgress(ctx context.Context, runID string) error {
	q := `DELETE FROM scan_runs WHERE run_id = $1 AND status = 'in_progress'`

	// Releasing a marker is best effort; a missing row means there was
	// nothing to release.
	if _, err := r.db.ExecContext(ctx, q, runID); err != nil {
		return fmt.Errorf("clear run marker: %w", err)
	}
	return nil
}

func scanRun(s repository.Scanner) (Run, error) {
	var run Run
	err := s.Scan(
		&run.RunID,
		&run.UserID,
		&run.Status,
		&run.StartedAt,
		&run.UpdatedAt,
		&run.CompletedAt,
	)
	return run, err
}
