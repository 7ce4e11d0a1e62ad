package identity

import (
	"errors"
	"net/http"
)

// Identity errors for authentication and authorization failures.
var (
	ErrUnauthenticated = errors.New("caller is not authenticated")
	ErrInvalidToken    = errors.New("invalid bearer token")
	ErrForbidden       = errors.New("caller is not authorized")
)

// MapHTTPStatus maps identity errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	if errors.Is(err, ErrUnauthenticated) || errors.Is(err, ErrInvalidToken) {
		return http.StatusUnauthorized
	}
	if errors.Is(err, ErrForbidden) {
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}
