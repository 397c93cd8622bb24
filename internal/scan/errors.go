package scan

import (
	"errors"
	"net/http"
)

// Domain errors for scan operations.
var (
	ErrInvalidRequest   = errors.New("invalid scan request")
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrNotConfigured    = errors.New("scan classifiers not configured")
	ErrRunNotFound      = errors.New("scan run not found")
)

// MapHTTPStatus maps scan domain errors to appropriate HTTP status codes.
func MapHTTPStatus(err error) int {
	if errors.Is(err, ErrInvalidRequest) {
		return http.StatusBadRequest
	}
	if errors.Is(err, ErrNotAuthenticated) {
		return http.StatusUnauthorized
	}
	if errors.Is(err, ErrNotConfigured) {
		return http.StatusInternalServerError
	}
	if errors.Is(err, ErrRunNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
