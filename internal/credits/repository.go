package credits

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
)

type repo struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a credit repository implementing the System interface.
func New(db *sql.DB, logger *slog.Logger) System {
	return &repo{
		db:     db,
		logger: logger.With("system", "credits"),
	}
}

func (r *repo) Balance(ctx context.Context, userID string) (int, error) {
	q := `SELECT balance FROM credits WHERE user_id = $1`

	var balance int
	err := r.db.QueryRowContext(ctx, q, userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query balance: %w", err)
	}
	return balance, nil
}

func (r *repo) Deduct(ctx context.Context, userID string, amount int) (int, error) {
	if amount <= 0 {
		return 0, ErrInvalidArg
	}

	// The balance guard lives in the WHERE clause so the check and the
	// deduction are a single atomic statement.
	q := `
		UPDATE credits SET balance = balance - $2, updated_at = now()
		WHERE user_id = $1 AND balance >= $2
		RETURNING balance`

	var remaining int
	err := r.db.QueryRowContext(ctx, q, userID, amount).Scan(&remaining)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrInsufficient
	}
	if err != nil {
		return 0, fmt.Errorf("deduct credits: %w", err)
	}

	r.logger.Info("credits deducted", "user", userID, "amount", amount, "remaining", remaining)
	return remaining, nil
}

func (r *repo) Grant(ctx context.Context, userID string, amount int) (int, error) {
	if amount <= 0 {
		return 0, ErrInvalidArg
	}

	q := `
		INSERT INTO credits(user_id, balance, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (user_id) DO UPDATE SET
			balance = credits.balance + EXCLUDED.balance,
			updated_at = now()
		RETURNING balance`

	var balance int
	if err := r.db.QueryRowContext(ctx, q, userID, amount).Scan(&balance); err != nil {
		return 0, fmt.Errorf("grant credits: %w", err)
	}

	r.logger.Info("credits granted", "user", userID, "amount", amount, "balance", balance)
	return balance, nil
}
