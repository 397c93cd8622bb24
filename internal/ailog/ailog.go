// Package ailog implements the durable AI call log. Every outbound model
// invocation is recorded before it is sent and resolved after it returns,
// which makes the log double as an idempotency ledger: a completed call can
// be recognized and replayed from storage instead of re-invoking the model.
package ailog

import (
	"time"

	"github.com/google/uuid"
)

// Entry statuses. A row is inserted as pending and resolved exactly once.
const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusError   = "error"
)

// Entry represents one recorded AI invocation.
type Entry struct {
	ID           uuid.UUID  `json:"id"`
	UserID       string     `json:"user_id"`
	RunID        string     `json:"run_id"`
	Function     string     `json:"function"`
	RequestType  string     `json:"request_type"`
	Provider     string     `json:"provider"`
	Model        string     `json:"model"`
	Prompt       string     `json:"prompt"`
	Input        string     `json:"input"`
	InputTokens  int        `json:"input_tokens"`
	OutputTokens int        `json:"output_tokens"`
	Temperature  float64    `json:"temperature"`
	Status       string     `json:"status"`
	Response     *string    `json:"response,omitempty"`
	Error        *string    `json:"error,omitempty"`
	RequestedAt  time.Time  `json:"requested_at"`
	RespondedAt  *time.Time `json:"responded_at,omitempty"`
	DurationMs   *int64     `json:"duration_ms,omitempty"`
}

// RequestCommand carries the data recorded when an invocation is dispatched.
type RequestCommand struct {
	UserID       string
	RunID        string
	Function     string
	RequestType  string
	Provider     string
	Model        string
	Prompt       string
	Input        string
	InputTokens  int
	OutputTokens int
	Temperature  float64
}

// ResponseCommand resolves a previously recorded pending invocation.
// The pending row is located by user, run, function, request type, and
// input rather than by row id so that a resolution can land even when the
// dispatching process died and a different instance picked the run back
// up. The request type keeps the parallel classifier pair apart: both
// sides dispatch the same input for the same run, so without it one
// side's resolution could land on the other's row.
type ResponseCommand struct {
	UserID       string
	RunID        string
	Function     string
	RequestType  string
	Input        string
	Status       string
	Response     string
	Error        string
	OutputTokens int
}
