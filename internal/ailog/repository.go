package ailog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pulsecheck/sift/pkg/pagination"
	"github.com/pulsecheck/sift/pkg/query"
	"github.com/pulsecheck/sift/pkg/repository"
)

const entryColumns = `id, user_id, run_id, function, request_type, provider, model,
		prompt, input, input_tokens, output_tokens, temperature, status,
		response, error, requested_at, responded_at, duration_ms`

type repo struct {
	db         *sql.DB
	logger     *slog.Logger
	pagination pagination.Config
}

// New creates an AI log repository implementing the System interface.
func New(db *sql.DB, logger *slog.Logger, pagination pagination.Config) System {
	return &repo{
		db:         db,
		logger:     logger.With("system", "ailog"),
		pagination: pagination,
	}
}

func (r *repo) Handler() *Handler {
	return NewHandler(r, r.logger, r.pagination)
}

func (r *repo) List(
	ctx context.Context,
	page pagination.PageRequest,
	filters Filters,
) (*pagination.PageResult[Entry], error) {
	page.Normalize(r.pagination)

	qb := query.
		NewBuilder(projection, defaultSort).
		WhereSearch(page.Search, "Input", "Response")

	filters.Apply(qb)

	if len(page.Sort) > 0 {
		qb.OrderByFields(page.Sort)
	}

	countSQL, countArgs := qb.BuildCount()
	var total int
	if err := r.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count log entries: %w", err)
	}

	pageSQL, pageArgs := qb.BuildPage(page.Page, page.PageSize)
	entries, err := repository.QueryMany(ctx, r.db, pageSQL, pageArgs, scanEntry)
	if err != nil {
		return nil, fmt.Errorf("query log entries: %w", err)
	}

	result := pagination.NewPageResult(entries, total, page.Page, page.PageSize)
	return &result, nil
}

func (r *repo) Find(ctx context.Context, id uuid.UUID) (*Entry, error) {
	q, args := query.NewBuilder(projection).BuildSingle("ID", id)

	e, err := repository.QueryOne(ctx, r.db, q, args, scanEntry)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return &e, nil
}

func (r *repo) LogRequest(ctx context.Context, cmd RequestCommand) (*Entry, error) {
	if cmd.RunID == "" || cmd.Function == "" {
		return nil, ErrInvalidArg
	}

	q := fmt.Sprintf(`
		INSERT INTO ai_log(id, user_id, run_id, function, request_type, provider, model,
			prompt, input, input_tokens, output_tokens, temperature, status, requested_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, '%s', now())
		RETURNING %s`, StatusPending, entryColumns)

	insertArgs := []any{
		uuid.New(),
		cmd.UserID,
		cmd.RunID,
		cmd.Function,
		cmd.RequestType,
		cmd.Provider,
		cmd.Model,
		cmd.Prompt,
		cmd.Input,
		cmd.InputTokens,
		cmd.OutputTokens,
		cmd.Temperature,
	}

	e, err := repository.QueryOne(ctx, r.db, q, insertArgs, scanEntry)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	r.logger.Info("invocation recorded",
		"run", e.RunID,
		"function", e.Function,
		"request_type", e.RequestType,
		"provider", e.Provider,
		"model", e.Model,
		"input_tokens", e.InputTokens,
	)
	return &e, nil
}

func (r *repo) LogResponse(ctx context.Context, cmd ResponseCommand) (*Entry, error) {
	if cmd.Status != StatusSuccess && cmd.Status != StatusError {
		return nil, ErrBadStatus
	}

	e, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (Entry, error) {
		e, err := resolvePending(ctx, tx, cmd, true)
		if errors.Is(err, sql.ErrNoRows) {
			e, err = resolvePending(ctx, tx, cmd, false)
		}
		return e, err
	})

	if err != nil {
		return nil, repository.MapError(err, ErrNoPending, ErrDuplicate)
	}

	r.logger.Info("invocation resolved",
		"run", e.RunID,
		"function", e.Function,
		"status", e.Status,
		"duration_ms", e.DurationMs,
	)
	return &e, nil
}

// resolvePending updates the latest pending row for the run and function.
// The narrow pass matches the exact user, request type, and input so the
// parallel classifier pair cannot resolve each other's rows; the broad
// pass covers rows left by an older dispatcher that recorded less.
func resolvePending(ctx context.Context, tx *sql.Tx, cmd ResponseCommand, narrow bool) (Entry, error) {
	match := `run_id = $5 AND function = $6 AND status = 'pending'`
	args := []any{cmd.Status, cmd.Response, cmd.Error, cmd.OutputTokens, cmd.RunID, cmd.Function}
	if narrow {
		match += ` AND user_id = $7 AND request_type = $8 AND input = $9`
		args = append(args, cmd.UserID, cmd.RequestType, cmd.Input)
	}

	q := fmt.Sprintf(`
		UPDATE ai_log SET
			status = $1,
			response = NULLIF($2, ''),
			error = NULLIF($3, ''),
			output_tokens = CASE WHEN $4 > 0 THEN $4 ELSE output_tokens END,
			responded_at = now(),
			duration_ms = (EXTRACT(EPOCH FROM (now() - requested_at)) * 1000)::bigint
		WHERE id = (
			SELECT id FROM ai_log
			WHERE %s
			ORDER BY requested_at DESC
			LIMIT 1
		)
		RETURNING %s`, match, entryColumns)

	return repository.QueryOne(ctx, tx, q, args, scanEntry)
}

func (r *repo) SuccessfulResponse(ctx context.Context, runID, function, input string) (*Entry, error) {
	q := fmt.Sprintf(`
		SELECT %s FROM ai_log
		WHERE run_id = $1 AND function = $2 AND input = $3 AND status = 'success'
		ORDER BY requested_at DESC
		LIMIT 1`, entryColumns)

	e, err := repository.QueryOne(ctx, r.db, q, []any{runID, function, input}, scanEntry)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return &e, nil
}

func (r *repo) HasPendingCall(ctx context.Context, runID string, since time.Time) (bool, error) {
	q := `
		SELECT EXISTS (
			SELECT 1 FROM ai_log
			WHERE run_id = $1 AND status = 'pending' AND requested_at > $2
		)`

	var pending bool
	if err := r.db.QueryRowContext(ctx, q, runID, since).Scan(&pending); err != nil {
		return false, fmt.Errorf("check pending invocations: %w", err)
	}
	return pending, nil
}
