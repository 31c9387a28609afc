package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/accounts/internal/apperror"
	"github.com/sakif/accounts/internal/auth"
	"github.com/sakif/accounts/internal/repository"
	"github.com/sakif/accounts/internal/service"
)

// DirectoryHandler serves the user listings.
type DirectoryHandler struct {
	directory *service.DirectoryService
}

// NewDirectoryHandler creates a DirectoryHandler.
func NewDirectoryHandler(directory *service.DirectoryService) *DirectoryHandler {
	return &DirectoryHandler{directory: directory}
}

// listOptions reads ?limit= and ?offset=. Both are optional; without them the
// whole table is returned.
func listOptions(r *http.Request) (repository.ListOptions, error) {
	var opts repository.ListOptions
	q := r.URL.Query()

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, apperror.BadRequest("limit must be a non-negative integer")
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, apperror.BadRequest("offset must be a non-negative integer")
		}
		opts.Offset = n
	}
	return opts, nil
}

// HandleList returns every user as {id, username}, ascending by id.
//
// HTTP: GET /users/?limit=&offset=
// Auth: Required
func (h *DirectoryHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	users, err := h.directory.ListUsers(r.Context(), auth.IdentityFromContext(r.Context()), opts)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, project(users, newUserListItem))
}

// HandleDetail returns one user with the detail projection.
//
// HTTP: GET /users/{id}/
// Auth: Required
//
// A non-numeric id can never match a user, so it is a 404 like any other
// unknown id.
func (h *DirectoryHandler) HandleDetail(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		WriteError(w, r, apperror.NotFound("user", raw))
		return
	}

	user, err := h.directory.GetUser(r.Context(), auth.IdentityFromContext(r.Context()), id)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newUserDetail(user))
}

// HandleAdminList returns every user with all non-secret fields.
//
// HTTP: GET /admin/users/?limit=&offset=
// Auth: Staff only
func (h *DirectoryHandler) HandleAdminList(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	users, err := h.directory.ListUsersAdmin(r.Context(), auth.IdentityFromContext(r.Context()), opts)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, project(users, newAdminUserView))
}
