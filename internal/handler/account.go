package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/accounts/internal/auth"
	"github.com/sakif/accounts/internal/service"
)

// AccountHandler serves the caller's own profile.
type AccountHandler struct {
	accounts *service.AccountService
	logger   *slog.Logger
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(accounts *service.AccountService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{accounts: accounts, logger: logger}
}

// profileRequest uses pointers so "absent" and "empty string" stay distinct:
// {"email": ""} clears the email, {} leaves it alone.
type profileRequest struct {
	Email     *string `json:"email"`
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
}

// HandleGetProfile returns the caller's profile.
//
// HTTP: GET /profile/
// Auth: Required
func (h *AccountHandler) HandleGetProfile(w http.ResponseWriter, r *http.Request) {
	user, err := h.accounts.GetProfile(r.Context(), auth.IdentityFromContext(r.Context()))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newUserView(user))
}

// HandleUpdateProfile edits email, first_name and last_name. Any other field
// in the body (username, is_staff, ...) is ignored.
//
// HTTP: PATCH /profile/ and PUT /profile/
// Auth: Required
//
// PUT behaves like PATCH: every editable field is optional, so a PUT that
// leaves one out keeps its current value.
func (h *AccountHandler) HandleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}

	user, err := h.accounts.UpdateProfile(r.Context(), auth.IdentityFromContext(r.Context()), service.ProfileUpdate{
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newUserView(user))
}
