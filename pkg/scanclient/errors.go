package scanclient

import (
	"errors"
	"fmt"
)

// Client errors.
var (
	ErrScanInFlight = errors.New("a scan is already in flight")
	ErrScanFailed   = errors.New("scan request failed")
)

// InsufficientCreditsError carries the quota shortfall so callers can
// render a specific dialog instead of a generic failure.
type InsufficientCreditsError struct {
	Required  int
	Available int
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: required %d, available %d", e.Required, e.Available)
}
