package executions

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/JaimeStill/cascade/internal/definitions"
	"github.com/JaimeStill/cascade/internal/documents"
	"github.com/JaimeStill/cascade/internal/identity"
	"github.com/JaimeStill/cascade/pkg/handlers"
	"github.com/JaimeStill/cascade/pkg/pagination"
	"github.com/JaimeStill/cascade/pkg/routes"
)

// Handler provides HTTP endpoints for the workflow runtime.
type Handler struct {
	sys        System
	logger     *slog.Logger
	pagination pagination.Config
}

// SearchRequest combines pagination and filter criteria for the search endpoint.
type SearchRequest struct {
	pagination.PageRequest
	Filters
}

// NewHandler creates a Handler with the given system, logger, and pagination config.
func NewHandler(sys System, logger *slog.Logger, pagination pagination.Config) *Handler {
	return &Handler{
		sys:        sys,
		logger:     logger.With("handler", "executions"),
		pagination: pagination,
	}
}

// Routes returns the route group definition for runtime endpoints.
func (h *Handler) Routes() routes.Group {
	return routes.Group{
		Prefix: "/workflows",
		Routes: []routes.Route{
			{Method: "GET", Pattern: "", Handler: h.List},
			{Method: "POST", Pattern: "/search", Handler: h.Search},
			{Method: "GET", Pattern: "/{id}", Handler: h.Find},
			{Method: "GET", Pattern: "/documents/{documentID}", Handler: h.State},
			{Method: "POST", Pattern: "/documents/{documentID}/start", Handler: h.Start},
			{Method: "POST", Pattern: "/documents/{documentID}/advance", Handler: h.Advance},
			{Method: "POST", Pattern: "/documents/{documentID}/cancel", Handler: h.Cancel},
		},
	}
}

// List returns a paginated list of executions with optional query parameter filters.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page := pagination.PageRequestFromQuery(r.URL.Query(), h.pagination)
	filters := FiltersFromQuery(r.URL.Query())

	result, err := h.sys.List(r.Context(), page, filters)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusInternalServerError, err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, result)
}

// Search accepts a JSON body with pagination and filter criteria.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	req.PageRequest.Normalize(h.pagination)

	result, err := h.sys.List(r.Context(), req.PageRequest, req.Filters)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusInternalServerError, err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, result)
}

// Find returns a single execution by id.
func (h *Handler) Find(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, ErrInvalidID)
		return
	}

	e, err := h.sys.Find(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, mapStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, e)
}

// State returns the runtime state of the most recent execution for a document.
func (h *Handler) State(w http.ResponseWriter, r *http.Request) {
	documentID, err := h.documentID(r)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	state, err := h.sys.State(r.Context(), documentID)
	if err != nil {
		handlers.RespondError(w, h.logger, mapStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, state)
}

// Start begins a workflow for a document from a JSON body naming the definition.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity.FromContext(r.Context())
	if !ok {
		handlers.RespondError(w, h.logger, http.StatusUnauthorized, identity.ErrUnauthenticated)
		return
	}

	documentID, err := h.documentID(r)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	var cmd StartCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	e, err := h.sys.Start(r.Context(), documentID, cmd, caller.Subject)
	if err != nil {
		handlers.RespondError(w, h.logger, mapStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusCreated, e)
}

// Advance completes the current step with the submitted input.
func (h *Handler) Advance(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity.FromContext(r.Context())
	if !ok {
		handlers.RespondError(w, h.logger, http.StatusUnauthorized, identity.ErrUnauthenticated)
		return
	}

	documentID, err := h.documentID(r)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	var cmd AdvanceCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	e, err := h.sys.Advance(r.Context(), documentID, cmd, caller)
	if err != nil {
		handlers.RespondError(w, h.logger, mapStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, e)
}

// Cancel aborts the in-progress execution for a document.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity.FromContext(r.Context())
	if !ok {
		handlers.RespondError(w, h.logger, http.StatusUnauthorized, identity.ErrUnauthenticated)
		return
	}

	documentID, err := h.documentID(r)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	var cmd CancelCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	e, err := h.sys.Cancel(r.Context(), documentID, cmd, caller.Subject)
	if err != nil {
		handlers.RespondError(w, h.logger, mapStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, e)
}

func (h *Handler) documentID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("documentID"))
	if err != nil {
		return uuid.Nil, ErrInvalidID
	}
	return id, nil
}

// mapStatus consults the runtime mapping first, then the upstream domains a
// transition touches.
func mapStatus(err error) int {
	if status := MapHTTPStatus(err); status != http.StatusInternalServerError {
		return status
	}
	if status := documents.MapHTTPStatus(err); status != http.StatusInternalServerError {
		return status
	}
	if status := definitions.MapHTTPStatus(err); status != http.StatusInternalServerError {
		return status
	}
	return http.StatusInternalServerError
}
