package llm

import (
	"errors"
	"fmt"
)

// Sentinel errors for adapter failures.
var (
	ErrTimeout     = errors.New("completion call timed out")
	ErrBadEnvelope = errors.New("malformed provider response")
)

// HTTPError is a non-2xx provider response.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("provider returned %d: %s", e.Status, e.Body)
}
