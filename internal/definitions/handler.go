package definitions

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/JaimeStill/cascade/internal/identity"
	"github.com/JaimeStill/cascade/pkg/handlers"
	"github.com/JaimeStill/cascade/pkg/pagination"
	"github.com/JaimeStill/cascade/pkg/routes"
)

// Handler provides HTTP endpoints for workflow definition administration.
// Mutations require the admin or workflow-designer role; delete is admin only.
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
		logger:     logger.With("handler", "definitions"),
		pagination: pagination,
	}
}

// Routes returns the route group definition for definition endpoints.
func (h *Handler) Routes() routes.Group {
	return routes.Group{
		Prefix: "/definitions",
		Routes: []routes.Route{
			{Method: "GET", Pattern: "", Handler: h.List},
			{Method: "GET", Pattern: "/{id}", Handler: h.Find},
			{Method: "GET", Pattern: "/{id}/history", Handler: h.History},
			{Method: "POST", Pattern: "/search", Handler: h.Search},
			{Method: "POST", Pattern: "", Handler: h.Create},
			{Method: "PUT", Pattern: "/{id}", Handler: h.Update},
			{Method: "POST", Pattern: "/{id}/activate", Handler: h.Activate},
			{Method: "POST", Pattern: "/{id}/deactivate", Handler: h.Deactivate},
			{Method: "DELETE", Pattern: "/{id}", Handler: h.Delete},
		},
	}
}

// List returns a paginated list of definitions with optional query parameter filters.
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

// Find returns a single definition, optionally pinned to a prior version
// via the version query parameter.
func (h *Handler) Find(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, ErrInvalidID)
		return
	}

	version := 0
	if v := r.URL.Query().Get("version"); v != "" {
		if version, err = strconv.Atoi(v); err != nil {
			handlers.RespondError(w, h.logger, http.StatusBadRequest, ErrVersionNotFound)
			return
		}
	}

	def, err := h.sys.FindVersion(r.Context(), id, version)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, def)
}

// History returns the append-only version history for a definition.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, ErrInvalidID)
		return
	}

	entries, err := h.sys.History(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, entries)
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

// Create registers a new definition at version 1.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	caller, err := h.authorize(r, identity.RoleAdmin, identity.RoleDesigner)
	if err != nil {
		handlers.RespondError(w, h.logger, identity.MapHTTPStatus(err), err)
		return
	}

	var cmd CreateCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	def, err := h.sys.Create(r.Context(), cmd)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	h.logger.Info("definition created via api", "id", def.ID, "editor", caller.Subject)
	handlers.RespondJSON(w, http.StatusCreated, def)
}

// Update applies a graph patch, bumping the version and snapshotting history.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	caller, err := h.authorize(r, identity.RoleAdmin, identity.RoleDesigner)
	if err != nil {
		handlers.RespondError(w, h.logger, identity.MapHTTPStatus(err), err)
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, ErrInvalidID)
		return
	}

	var cmd UpdateCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	def, err := h.sys.Update(r.Context(), id, cmd, caller.Subject)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, def)
}

// Activate enables new executions from the definition.
func (h *Handler) Activate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

// Deactivate blocks new executions from the definition; in-flight
// executions continue on their pinned versions.
func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

// Delete removes a definition and its history. Admin only.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if _, err := h.authorize(r, identity.RoleAdmin); err != nil {
		handlers.RespondError(w, h.logger, identity.MapHTTPStatus(err), err)
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, ErrInvalidID)
		return
	}

	if err := h.sys.Delete(r.Context(), id); err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	if _, err := h.authorize(r, identity.RoleAdmin, identity.RoleDesigner); err != nil {
		handlers.RespondError(w, h.logger, identity.MapHTTPStatus(err), err)
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, ErrInvalidID)
		return
	}

	def, err := h.sys.SetActive(r.Context(), id, active)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, def)
}

func (h *Handler) authorize(r *http.Request, roles ...string) (*identity.Caller, error) {
	caller, ok := identity.FromContext(r.Context())
	if !ok {
		return nil, identity.ErrUnauthenticated
	}
	if err := identity.Require(caller, roles...); err != nil {
		return nil, err
	}
	return caller, nil
}
