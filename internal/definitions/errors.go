package definitions

import (
	"errors"
	"fmt"
	"net/http"
)

// Domain errors for workflow definition operations.
var (
	ErrNotFound        = errors.New("workflow definition not found")
	ErrVersionNotFound = errors.New("workflow definition version not found")
	ErrDuplicateName   = errors.New("workflow definition name already exists")
	ErrInvalidGraph    = errors.New("invalid workflow graph")
	ErrInUse           = errors.New("workflow definition has active executions")
	ErrInvalidID       = errors.New("invalid definition id")
)

// InUseError reports how many documents block a delete with non-terminal
// executions pinned to the definition.
type InUseError struct {
	Blocking int
}

func (e *InUseError) Error() string {
	return fmt.Sprintf("workflow definition has active executions on %d document(s)", e.Blocking)
}

func (e *InUseError) Is(target error) bool {
	return target == ErrInUse
}

// invalidGraph wraps ErrInvalidGraph with a description of the structural
// failure, so validation errors stay matchable with errors.Is.
func invalidGraph(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidGraph, fmt.Sprintf(format, args...))
}

// MapHTTPStatus maps definition domain errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrVersionNotFound) {
		return http.StatusNotFound
	}
	if errors.Is(err, ErrDuplicateName) || errors.Is(err, ErrInUse) {
		return http.StatusConflict
	}
	if errors.Is(err, ErrInvalidGraph) {
		return http.StatusUnprocessableEntity
	}
	if errors.Is(err, ErrInvalidID) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
