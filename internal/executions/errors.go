package executions

import (
	"errors"
	"net/http"
)

// Domain errors for workflow runtime operations.
var (
	ErrNotRunning         = errors.New("no workflow in progress for document")
	ErrAlreadyRunning     = errors.New("workflow already in progress for document")
	ErrStepMismatch       = errors.New("request does not match the execution's current step")
	ErrDefinitionInactive = errors.New("definition is not active")
	ErrTypeMismatch       = errors.New("definition does not apply to document type")
	ErrMissingAttachment  = errors.New("document file has not been uploaded")
	ErrInvalidForm        = errors.New("form values are invalid")
	ErrDecisionRequired   = errors.New("approval decision is required")
	ErrNotAssignee        = errors.New("caller is not the assigned approver")
	ErrNoRoute            = errors.New("no outgoing route from current step")
	ErrScriptFailed       = errors.New("script step failed")
	ErrInvalidID          = errors.New("invalid identifier")
)

// MapHTTPStatus maps runtime errors to appropriate HTTP status codes.
// Concurrent advance collisions surface as 409 so clients can refetch
// state and retry.
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotRunning):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyRunning),
		errors.Is(err, ErrStepMismatch),
		errors.Is(err, ErrDefinitionInactive),
		errors.Is(err, ErrNoRoute):
		return http.StatusConflict
	case errors.Is(err, ErrTypeMismatch),
		errors.Is(err, ErrMissingAttachment),
		errors.Is(err, ErrInvalidForm),
		errors.Is(err, ErrDecisionRequired),
		errors.Is(err, ErrScriptFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrNotAssignee):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidID):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
