// Package runs tracks scan run lifecycle markers. A run is marked in
// progress while an invocation is actively working a batch and completed
// once the final batch lands. The markers guard against concurrent
// invocations processing the same run and let a resumed invocation skip
// work that already finished.
package runs

import (
	"context"
	"time"
)

// Run statuses.
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

// Run represents the persisted state of one scan run.
type Run struct {
	RunID       string     `json:"run_id"`
	UserID      string     `json:"user_id"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// System defines the public contract for run marker operations.
type System interface {
	// Find returns the run marker, or ErrNotFound when the run is unknown.
	Find(ctx context.Context, runID string) (*Run, error)

	// IsActive reports whether the run is marked in progress with an
	// update newer than the staleness cutoff. A stale marker is treated
	// as abandoned and does not block a new invocation.
	IsActive(ctx context.Context, runID string, staleAfter time.Duration) (bool, error)

	// IsCompleted reports whether the run has finished.
	IsCompleted(ctx context.Context, runID string) (bool, error)

	// MarkInProgress upserts the run as in progress and refreshes its
	// updated_at heartbeat.
	MarkInProgress(ctx context.Context, runID, userID string) error

	// MarkCompleted transitions the run to completed.
	MarkCompleted(ctx context.Context, runID string) error

	// ClearInProgress drops an in-progress marker without completing the
	// run, releasing it for a later invocation.
	ClearInProgress(ctx context.Context, runID string) error
}
