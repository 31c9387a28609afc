package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/accounts/internal/auth"
	"github.com/sakif/accounts/internal/service"
)

// Confirmation messages returned by the auth endpoints.
const (
	msgRegistered      = "User registered successfully."
	msgLoggedIn        = "Logged in successfully."
	msgLoggedOut       = "Logged out successfully."
	msgPasswordChanged = "Password changed successfully."
)

// AuthHandler serves registration, login, logout and password change.
//
// HANDLER RESPONSIBILITIES:
//   - HandleRegister       → POST /register/         (open)
//   - HandleLogin          → POST /login/            (open)
//   - HandleLogout         → POST /logout/           (authenticated)
//   - HandleChangePassword → POST /change-password/  (authenticated)
//
// The handler only decodes JSON, calls the service and picks a projection.
// Every rule lives in service.AuthService.
type AuthHandler struct {
	auth   *service.AuthService
	logger *slog.Logger
}

// NewAuthHandler creates an AuthHandler. All dependencies are injected here;
// the handler has no knowledge of how they're constructed.
func NewAuthHandler(authService *service.AuthService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{auth: authService, logger: logger}
}

type registerRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	Password2 string `json:"password2"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type changePasswordRequest struct {
	OldPassword  string `json:"old_password"`
	NewPassword  string `json:"new_password"`
	NewPassword2 string `json:"new_password2"`
}

// AuthResponse is returned by register and login.
type AuthResponse struct {
	User    UserView `json:"user"`
	Token   string   `json:"token"`
	Message string   `json:"message"`
}

// HandleRegister creates a user and returns it with its token.
//
// HTTP: POST /register/
// REQUEST BODY: {"username", "password", "password2", "email"?, "first_name"?, "last_name"?}
// RESPONSE: 201 {"user": {...}, "token": "...", "message": "..."}
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}

	result, err := h.auth.Register(r.Context(), service.RegisterInput{
		Username:  req.Username,
		Password:  req.Password,
		Password2: req.Password2,
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, AuthResponse{
		User:    newUserView(result.User),
		Token:   result.Token,
		Message: msgRegistered,
	})
}

// HandleLogin exchanges a username/password pair for the user's token.
//
// HTTP: POST /login/
// REQUEST BODY: {"username": "...", "password": "..."}
// RESPONSE: 200 {"user": {...}, "token": "...", "message": "..."}
//
// Calling it repeatedly returns the same token until the user logs out.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}

	result, err := h.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, AuthResponse{
		User:    newUserView(result.User),
		Token:   result.Token,
		Message: msgLoggedIn,
	})
}

// HandleLogout revokes the caller's token.
//
// HTTP: POST /logout/
// Auth: Required
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFromContext(r.Context())
	if err := h.auth.Logout(r.Context(), identity); err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: msgLoggedOut})
}

// HandleChangePassword replaces the caller's password. The token in use keeps
// working afterwards.
//
// HTTP: POST /change-password/
// Auth: Required
// REQUEST BODY: {"old_password", "new_password", "new_password2"}
func (h *AuthHandler) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}

	identity := auth.IdentityFromContext(r.Context())
	err := h.auth.ChangePassword(r.Context(), identity, service.ChangePasswordInput{
		OldPassword:  req.OldPassword,
		NewPassword:  req.NewPassword,
		NewPassword2: req.NewPassword2,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: msgPasswordChanged})
}
