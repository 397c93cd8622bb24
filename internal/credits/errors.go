package credits

import (
	"errors"
	"net/http"
)

// Domain errors for credit operations.
var (
	ErrInsufficient = errors.New("insufficient credits")
	ErrInvalidArg   = errors.New("invalid credit amount")
)

// MapHTTPStatus maps credit domain errors to appropriate HTTP status codes.
func MapHTTPStatus(err error) int {
	if errors.Is(err, ErrInsufficient) {
		return http.StatusPaymentRequired
	}
	if errors.Is(err, ErrInvalidArg) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
