package ailog

import (
	"errors"
	"net/http"
)

// Domain errors for AI log operations.
var (
	ErrNotFound   = errors.New("log entry not found")
	ErrDuplicate  = errors.New("log entry already exists")
	ErrNoPending  = errors.New("no pending log entry to resolve")
	ErrBadStatus  = errors.New("invalid log entry status")
	ErrInvalidArg = errors.New("invalid log request")
)

// MapHTTPStatus maps AI log domain errors to appropriate HTTP status codes.
func MapHTTPStatus(err error) int {
	if errors.Is(err, ErrNotFound) {
		return http.StatusNotFound
	}
	if errors.Is(err, ErrDuplicate) {
		return http.StatusConflict
	}
	if errors.Is(err, ErrNoPending) {
		return http.StatusConflict
	}
	if errors.Is(err, ErrBadStatus) || errors.Is(err, ErrInvalidArg) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
