package ailog

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/pulsecheck/sift/pkg/pagination"
)

// System defines the public contract for AI log operations.
type System interface {
	Handler() *Handler

	List(
		ctx context.Context,
		page pagination.PageRequest,
		filters Filters,
	) (*pagination.PageResult[Entry], error)

	Find(ctx context.Context, id uuid.UUID) (*Entry, error)

	// LogRequest records a dispatched invocation as pending.
	LogRequest(ctx context.Context, cmd RequestCommand) (*Entry, error)

	// LogResponse resolves the latest matching pending entry. If no entry
	// matches user, run, function, request type, and input, the latest
	// pending entry for the run and function is resolved instead.
	LogResponse(ctx context.Context, cmd ResponseCommand) (*Entry, error)

	// SuccessfulResponse returns the most recent successful entry for the
	// given run, function, and input, or ErrNotFound when none exists.
	SuccessfulResponse(ctx context.Context, runID, function, input string) (*Entry, error)

	// HasPendingCall reports whether the run has an unresolved invocation
	// recorded after the given instant.
	HasPendingCall(ctx context.Context, runID string, since time.Time) (bool, error)
}
