package scan

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/pulsecheck/sift/pkg/repository"
	"github.com/pulsecheck/sift/pkg/verdicts"
)

// Store persists per-comment scan results so a run's picture survives
// across invocations and process restarts.
type Store interface {
	// SaveResults upserts the given comments for the run.
	SaveResults(ctx context.Context, runID string, comments []Comment) error

	// ResultsForRun returns all persisted comments for the run ordered by
	// original row.
	ResultsForRun(ctx context.Context, runID string) ([]Comment, error)

	// CountForRun returns how many comments have persisted results.
	CountForRun(ctx context.Context, runID string) (int, error)
}

type store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore creates a scan result store backed by the scan_comments table.
func NewStore(db *sql.DB, logger *slog.Logger) Store {
	return &store{
		db:     db,
		logger: logger.With("system", "scan-store"),
	}
}

func (s *store) SaveResults(ctx context.Context, runID string, comments []Comment) error {
	if len(comments) == 0 {
		return nil
	}

	q := `
		INSERT INTO scan_comments(
			run_id, comment_id, original_row, original_text, display_text, mode,
			concerning, identifiable, needs_adjudication, is_adjudicated, reasoning,
			scan_a_concerning, scan_a_identifiable, scan_b_concerning, scan_b_identifiable,
			updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, now())
		ON CONFLICT (run_id, comment_id) DO UPDATE SET
			concerning = EXCLUDED.concerning,
			identifiable = EXCLUDED.identifiable,
			needs_adjudication = EXCLUDED.needs_adjudication,
			is_adjudicated = EXCLUDED.is_adjudicated,
			reasoning = EXCLUDED.reasoning,
			scan_a_concerning = EXCLUDED.scan_a_concerning,
			scan_a_identifiable = EXCLUDED.scan_a_identifiable,
			scan_b_concerning = EXCLUDED.scan_b_concerning,
			scan_b_identifiable = EXCLUDED.scan_b_identifiable,
			updated_at = now()`

	_, err := repository.WithTx(ctx, s.db, func(tx *sql.Tx) (struct{}, error) {
		for _, c := range comments {
			var aConcerning, aIdentifiable, bConcerning, bIdentifiable *bool
			if c.Trace != nil && c.Trace.ScanA != nil {
				aConcerning = &c.Trace.ScanA.Concerning
				aIdentifiable = &c.Trace.ScanA.Identifiable
			}
			if c.Trace != nil && c.Trace.ScanB != nil {
				bConcerning = &c.Trace.ScanB.Concerning
				bIdentifiable = &c.Trace.ScanB.Identifiable
			}

			if _, err := tx.ExecContext(ctx, q,
				runID,
				c.ID,
				c.OriginalRow,
				c.OriginalText,
				c.DisplayText,
				c.Mode,
				c.Concerning,
				c.Identifiable,
				c.NeedsAdjudication,
				c.IsAdjudicated,
				nullable(c.Reasoning),
				aConcerning,
				aIdentifiable,
				bConcerning,
				bIdentifiable,
			); err != nil {
				return struct{}{}, fmt.Errorf("upsert comment %s: %w", c.ID, err)
			}
		}
		return struct{}{}, nil
	})

	if err != nil {
		return err
	}

	s.logger.Debug("scan results saved", "run", runID, "comments", len(comments))
	return nil
}

func (s *store) ResultsForRun(ctx context.Context, runID string) ([]Comment, error) {
	q := `
		SELECT comment_id, original_row, original_text, display_text, mode,
			concerning, identifiable, needs_adjudication, is_adjudicated, reasoning,
			scan_a_concerning, scan_a_identifiable, scan_b_concerning, scan_b_identifiable
		FROM scan_comments
		WHERE run_id = $1
		ORDER BY original_row`

	return repository.QueryMany(ctx, s.db, q, []any{runID}, scanComment)
}

func (s *store) CountForRun(ctx context.Context, runID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM scan_comments WHERE run_id = $1`, runID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count scan results: %w", err)
	}
	return count, nil
}

func scanComment(sc repository.Scanner) (Comment, error) {
	var c Comment
	var reasoning *string
	var aConcerning, aIdentifiable, bConcerning, bIdentifiable *bool

	err := sc.Scan(
		&c.ID,
		&c.OriginalRow,
		&c.OriginalText,
		&c.DisplayText,
		&c.Mode,
		&c.Concerning,
		&c.Identifiable,
		&c.NeedsAdjudication,
		&c.IsAdjudicated,
		&reasoning,
		&aConcerning,
		&aIdentifiable,
		&bConcerning,
		&bIdentifiable,
	)
	if err != nil {
		return c, err
	}

	if reasoning != nil {
		c.Reasoning = *reasoning
	}
	c.Trace = traceFromColumns(aConcerning, aIdentifiable, bConcerning, bIdentifiable)

	return c, nil
}

func traceFromColumns(aConcerning, aIdentifiable, bConcerning, bIdentifiable *bool) *Trace {
	if aConcerning == nil && bConcerning == nil {
		return nil
	}

	t := &Trace{}
	if aConcerning != nil {
		t.ScanA = verdictFromFlags(*aConcerning, boolOr(aIdentifiable))
	}
	if bConcerning != nil {
		t.ScanB = verdictFromFlags(*bConcerning, boolOr(bIdentifiable))
	}
	return t
}

func verdictFromFlags(concerning, identifiable bool) *verdicts.Verdict {
	return &verdicts.Verdict{Concerning: concerning, Identifiable: identifiable}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func boolOr(b *bool) bool {
	return b != nil && *b
}
