// Package credits manages per-user scan credit balances. A scan run
// deducts one credit up front; the deduction is atomic so concurrent
// runs cannot drive a balance negative.
package credits

import (
	"context"
	"time"
)

// Account represents one user's credit balance.
type Account struct {
	UserID    string    `json:"user_id"`
	Balance   int       `json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}

// System defines the public contract for credit operations.
type System interface {
	// Balance returns the user's current balance. Unknown users have a
	// zero balance rather than an error.
	Balance(ctx context.Context, userID string) (int, error)

	// Deduct atomically subtracts amount from the user's balance and
	// returns the remaining balance. Returns ErrInsufficient when the
	// balance cannot cover the amount.
	Deduct(ctx context.Context, userID string, amount int) (int, error)

	// Grant adds amount to the user's balance, creating the account if
	// needed, and returns the new balance.
	Grant(ctx context.Context, userID string, amount int) (int, error)
}
