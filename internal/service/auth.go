// Package service holds the business rules of the account service.
//
// Services sit between the HTTP handlers and the repositories:
//
//	handler (HTTP) → AuthService / AccountService / DirectoryService → repository.Store
//	                 ↘ TokenRegistry → repository.TokenRepository (+ optional TokenCache)
//
// KEY RESPONSIBILITIES:
//   - Validate input and collect every field error into one ValidationError
//   - Enforce access tiers: every operation takes an auth.Identity explicitly
//     and checks it, so services are safe to call from outside HTTP too
//   - Return apperror kinds; never write HTTP responses
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sakif/accounts/internal/apperror"
	"github.com/sakif/accounts/internal/auth"
	"github.com/sakif/accounts/internal/model"
	"github.com/sakif/accounts/internal/repository"
)

const (
	msgCredentialsRequired = "Username and password are required."
	msgInvalidCredentials  = "Invalid username or password."
	msgUserInactive        = "User inactive or deleted."
)

// AuthService handles registration, login, logout and password changes.
//
// DEPENDENCIES (injected via NewAuthService):
//   - store      repository.Store        → users + tokens, transactions
//   - tokens     *TokenRegistry          → issue / resolve / revoke
//   - passwords  *auth.PasswordService   → bcrypt hashing
//   - policy     *auth.PasswordPolicy    → password strength rules
//   - logger     *slog.Logger            → structured logging
type AuthService struct {
	store     repository.Store
	tokens    *TokenRegistry
	passwords *auth.PasswordService
	policy    *auth.PasswordPolicy
	logger    *slog.Logger
	recorder  Recorder
}

// NewAuthService creates an AuthService with all required dependencies.
func NewAuthService(
	store repository.Store,
	tokens *TokenRegistry,
	passwords *auth.PasswordService,
	policy *auth.PasswordPolicy,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		store:     store,
		tokens:    tokens,
		passwords: passwords,
		policy:    policy,
		logger:    logger,
		recorder:  nopRecorder{},
	}
}

// WithRecorder sets the metrics recorder and returns the service.
func (s *AuthService) WithRecorder(rec Recorder) *AuthService {
	if rec != nil {
		s.recorder = rec
	}
	return s
}

// compile-time check that *AuthService can back the auth.Identify middleware
var _ auth.Authenticator = (*AuthService)(nil)

// AuthResult bundles the user record and its token so the handler can
// respond in one step.
type AuthResult struct {
	User  *model.User
	Token string
}

// RegisterInput is a registration request. The validate tags hold the
// per-field format rules; uniqueness and the password policy are checked in
// code because they need the store and the other fields.
type RegisterInput struct {
	Username  string `json:"username" validate:"required,max=150,username"`
	Password  string `json:"password" validate:"required"`
	Password2 string `json:"password2" validate:"required"`
	Email     string `json:"email" validate:"omitempty,max=254,email"`
	FirstName string `json:"first_name" validate:"max=150"`
	LastName  string `json:"last_name" validate:"max=150"`
}

// Register creates an active, non-staff user and issues its token.
//
// VALIDATION ORDER:
//  1. Per-field checks. Every failing field is reported together.
//  2. Only when all fields pass: password must equal password2.
//
// Email uniqueness is NOT checked here, only on profile update.
//
// ATOMICITY:
// The user row and its token are written in one transaction. A failure to
// issue the token leaves no half-registered user behind.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	user, err := s.prepareUser(ctx, in)
	if err != nil {
		return nil, err
	}

	var key string
	err = s.store.WithinTx(ctx, func(ctx context.Context, users repository.UserRepository, tokens repository.TokenRepository) error {
		if err := users.Create(ctx, user); err != nil {
			return err
		}
		k, err := s.tokens.issue(ctx, tokens, user.ID)
		if err != nil {
			return err
		}
		key = k
		return nil
	})
	if err != nil {
		return nil, s.createFailed(in.Username, err)
	}

	s.logger.Info("user registered", slog.Int64("userID", user.ID), slog.String("username", user.Username))
	s.recorder.AuthEvent(EventRegister)

	return &AuthResult{User: user, Token: key}, nil
}

// CreateAdmin creates an active staff user under the same rules as Register,
// without issuing a token. It backs the createadmin command.
func (s *AuthService) CreateAdmin(ctx context.Context, in RegisterInput) (*model.User, error) {
	user, err := s.prepareUser(ctx, in)
	if err != nil {
		return nil, err
	}
	user.IsStaff = true

	if err := s.store.Users().Create(ctx, user); err != nil {
		return nil, s.createFailed(in.Username, err)
	}

	s.logger.Info("admin created", slog.Int64("userID", user.ID), slog.String("username", user.Username))
	return user, nil
}

// prepareUser validates a registration and returns the unsaved user with its
// password hashed.
func (s *AuthService) prepareUser(ctx context.Context, in RegisterInput) (*model.User, error) {
	var fe apperror.FieldErrors
	if err := checkStruct(&fe, in); err != nil {
		return nil, fmt.Errorf("service/auth: %w", err)
	}

	if !fe.Has("username") {
		exists, err := s.store.Users().ExistsByUsername(ctx, in.Username)
		if err != nil {
			return nil, fmt.Errorf("service/auth: checking username: %w", err)
		}
		if exists {
			fe.Add("username", msgUsernameTaken)
		}
	}

	if !fe.Has("password") {
		candidate := &model.User{Username: in.Username, Email: in.Email, FirstName: in.FirstName, LastName: in.LastName}
		for _, msg := range s.policy.Validate(in.Password, candidate.Attributes()) {
			fe.Add("password", msg)
		}
	}

	if err := fe.Err(); err != nil {
		return nil, err
	}
	if in.Password != in.Password2 {
		return nil, apperror.ValidationFailed("password", msgPasswordMismatch)
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("service/auth: %w", err)
	}

	return &model.User{
		Username:     in.Username,
		Email:        in.Email,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		PasswordHash: hash,
		IsActive:     true,
		DateJoined:   time.Now().UTC(),
	}, nil
}

// createFailed maps a store error from user creation. A unique violation
// means a concurrent registration of the same name won the race.
func (s *AuthService) createFailed(username string, err error) error {
	if errors.Is(err, apperror.ErrConflict) {
		return apperror.ValidationFailed("username", msgUsernameTaken)
	}
	return fmt.Errorf("service/auth: registering %q: %w", username, err)
}

// Login verifies credentials and returns the user's token, creating one if
// the user has none.
//
// An unknown username, a wrong password and an inactive account all produce
// the same AuthenticationError, and all three cost one bcrypt comparison, so
// a client cannot probe which usernames exist.
func (s *AuthService) Login(ctx context.Context, username, password string) (*AuthResult, error) {
	if username == "" || password == "" {
		return nil, apperror.BadRequest(msgCredentialsRequired)
	}

	user, err := s.store.Users().GetByUsername(ctx, username)
	switch {
	case errors.Is(err, apperror.ErrNotFound):
		s.passwords.VerifyDummy(password)
		return nil, s.loginFailed(username, "unknown user")
	case err != nil:
		return nil, fmt.Errorf("service/auth: looking up %q: %w", username, err)
	}

	if !s.passwords.Verify(user.PasswordHash, password) {
		return nil, s.loginFailed(username, "wrong password")
	}
	if !user.IsActive {
		return nil, s.loginFailed(username, "inactive user")
	}

	if err := s.store.Users().TouchLastLogin(ctx, user); err != nil {
		return nil, fmt.Errorf("service/auth: recording login of %q: %w", username, err)
	}

	key, err := s.tokens.Issue(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: %w", err)
	}

	s.logger.Info("user logged in", slog.Int64("userID", user.ID), slog.String("username", user.Username))
	s.recorder.AuthEvent(EventLoginSuccess)

	return &AuthResult{User: user, Token: key}, nil
}

// loginFailed logs the real reason server-side and returns the one message
// clients ever see.
func (s *AuthService) loginFailed(username, reason string) error {
	s.logger.Warn("login failed", slog.String("username", username), slog.String("reason", reason))
	s.recorder.AuthEvent(EventLoginFailure)
	return apperror.AuthenticationFailed(msgInvalidCredentials)
}

// Logout revokes the caller's token. A repeated logout is a no-op.
func (s *AuthService) Logout(ctx context.Context, identity auth.Identity) error {
	if err := identity.Require(auth.TierAuthenticated); err != nil {
		return err
	}
	if err := s.tokens.Revoke(ctx, identity.User.ID); err != nil {
		return fmt.Errorf("service/auth: %w", err)
	}

	s.logger.Info("user logged out", slog.Int64("userID", identity.User.ID))
	s.recorder.AuthEvent(EventLogout)
	return nil
}

// ChangePasswordInput is a password change request from an authenticated
// caller.
type ChangePasswordInput struct {
	OldPassword  string `json:"old_password" validate:"required"`
	NewPassword  string `json:"new_password" validate:"required"`
	NewPassword2 string `json:"new_password2" validate:"required"`
}

// ChangePassword replaces the caller's password. The caller's token stays
// valid.
//
// A wrong old password is a ValidationError on old_password, NOT an
// AuthenticationError: the caller is already authenticated by token.
func (s *AuthService) ChangePassword(ctx context.Context, identity auth.Identity, in ChangePasswordInput) error {
	if err := identity.Require(auth.TierAuthenticated); err != nil {
		return err
	}

	user, err := s.store.Users().GetByID(ctx, identity.User.ID)
	if err != nil {
		return fmt.Errorf("service/auth: loading user %d: %w", identity.User.ID, err)
	}

	var fe apperror.FieldErrors
	if err := checkStruct(&fe, in); err != nil {
		return fmt.Errorf("service/auth: %w", err)
	}
	if !fe.Has("new_password") {
		for _, msg := range s.policy.Validate(in.NewPassword, user.Attributes()) {
			fe.Add("new_password", msg)
		}
	}

	if err := fe.Err(); err != nil {
		return err
	}
	if in.NewPassword != in.NewPassword2 {
		return apperror.ValidationFailed("new_password", msgNewPasswordMismatch)
	}

	if !s.passwords.Verify(user.PasswordHash, in.OldPassword) {
		return apperror.ValidationFailed("old_password", msgWrongOldPassword)
	}

	hash, err := s.passwords.Hash(in.NewPassword)
	if err != nil {
		return fmt.Errorf("service/auth: %w", err)
	}
	if err := s.store.Users().UpdatePassword(ctx, user.ID, hash); err != nil {
		return fmt.Errorf("service/auth: %w", err)
	}

	s.logger.Info("password changed", slog.Int64("userID", user.ID))
	s.recorder.AuthEvent(EventPasswordChange)
	return nil
}

// Authenticate resolves a presented token key to an Identity. It backs the
// auth.Identify middleware.
//
// Unknown and revoked keys return apperror.ErrNotFound; a key belonging to a
// deactivated user returns apperror.ErrUnauthorized.
func (s *AuthService) Authenticate(ctx context.Context, key string) (auth.Identity, error) {
	user, err := s.tokens.Resolve(ctx, key)
	if err != nil {
		return auth.Anonymous(), err
	}
	if !user.IsActive {
		return auth.Anonymous(), apperror.Unauthorized(msgUserInactive)
	}
	return auth.Identity{User: user, Token: key}, nil
}
