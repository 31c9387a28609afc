// GO TESTING BASICS:
// 1. Test files MUST end in _test.go — Go's tooling auto-discovers them
// 2. Test functions MUST start with "Test" and take *testing.T as the only param
// 3. Same package as the code being tested (so we can access unexported stuff)
// 4. Run with: go test ./internal/apperror/ -v  (-v = verbose, shows each test name)
package apperror

import (
	"errors"
	"fmt"
	"testing"
)

// TABLE-DRIVEN TESTS:
// Each case checks that errors.Is() identifies the kind behind a constructor,
// including through an extra layer of fmt.Errorf wrapping.

func TestErrorsIs(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		target    error
		wantMatch bool
	}{
		{
			name:      "NotFound wraps ErrNotFound",
			err:       NotFound("user", "42"),
			target:    ErrNotFound,
			wantMatch: true,
		},
		{
			name:      "ValidationFailed wraps ErrValidation",
			err:       ValidationFailed("username", "This field is required."),
			target:    ErrValidation,
			wantMatch: true,
		},
		{
			name:      "Conflict wraps ErrConflict",
			err:       Conflict("user", "alice"),
			target:    ErrConflict,
			wantMatch: true,
		},
		{
			name:      "BadRequest wraps ErrBadRequest",
			err:       BadRequest("username and password are required"),
			target:    ErrBadRequest,
			wantMatch: true,
		},
		{
			name:      "AuthenticationFailed wraps ErrAuthentication",
			err:       AuthenticationFailed("invalid username or password"),
			target:    ErrAuthentication,
			wantMatch: true,
		},
		{
			name:      "Unauthorized wraps ErrUnauthorized",
			err:       Unauthorized("authentication credentials were not provided"),
			target:    ErrUnauthorized,
			wantMatch: true,
		},
		{
			name:      "Forbidden wraps ErrForbidden",
			err:       Forbidden("admin only"),
			target:    ErrForbidden,
			wantMatch: true,
		},
		{
			name:      "wrapped NotFound still matches",
			err:       fmt.Errorf("service/directory: %w", NotFound("user", "7")),
			target:    ErrNotFound,
			wantMatch: true,
		},
		{
			name:      "Unauthorized does NOT match ErrForbidden",
			err:       Unauthorized("no token"),
			target:    ErrForbidden,
			wantMatch: false,
		},
		{
			name:      "AuthenticationFailed does NOT match ErrValidation",
			err:       AuthenticationFailed("nope"),
			target:    ErrValidation,
			wantMatch: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := errors.Is(tt.err, tt.target)
			if got != tt.wantMatch {
				t.Errorf("errors.Is(%v, %v) = %v, want %v", tt.err, tt.target, got, tt.wantMatch)
			}
		})
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name        string
		err         *AppError
		wantMessage string
	}{
		{
			name:        "NotFound message includes resource and id",
			err:         NotFound("user", "42"),
			wantMessage: "user not found with id 42",
		},
		{
			name:        "ValidationFailed uses custom message",
			err:         ValidationFailed("email", "Enter a valid email address."),
			wantMessage: "Enter a valid email address.",
		},
		{
			name:        "Conflict message includes resource and id",
			err:         Conflict("user", "alice"),
			wantMessage: "user conflict with id alice",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMessage {
				t.Errorf("Error() = %q, want %q", got, tt.wantMessage)
			}
		})
	}
}

func TestUnwrap(t *testing.T) {
	err := NotFound("user", "42")
	if unwrapped := err.Unwrap(); unwrapped != ErrNotFound {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, ErrNotFound)
	}
}

func TestValidationFailedField(t *testing.T) {
	err := ValidationFailed("email", "invalid email format")

	if err.Field != "email" {
		t.Errorf("Field = %q, want %q", err.Field, "email")
	}
	if got := err.Fields["email"]; len(got) != 1 || got[0] != "invalid email format" {
		t.Errorf("Fields[email] = %v, want [invalid email format]", got)
	}
}

// =========================================================================
// FieldErrors TESTS
// =========================================================================

func TestFieldErrors_EmptyIsNil(t *testing.T) {
	var fe FieldErrors
	if err := fe.Err(); err != nil {
		t.Fatalf("Err() on empty FieldErrors = %v, want nil", err)
	}
}

func TestFieldErrors_CollectsEveryField(t *testing.T) {
	var fe FieldErrors
	fe.Add("username", "This field is required.")
	fe.Add("password", "This password is too short.")
	fe.Add("password", "This password is entirely numeric.")

	err := fe.Err()
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("Err() = %v, want ErrValidation", err)
	}

	var appErr *AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("Err() is not an *AppError: %T", err)
	}

	// Field is the alphabetically first failing field.
	if appErr.Field != "password" {
		t.Errorf("Field = %q, want %q", appErr.Field, "password")
	}
	if len(appErr.Fields["password"]) != 2 {
		t.Errorf("Fields[password] = %v, want 2 messages", appErr.Fields["password"])
	}
	if len(appErr.Fields["username"]) != 1 {
		t.Errorf("Fields[username] = %v, want 1 message", appErr.Fields["username"])
	}
	if !fe.Has("username") || fe.Has("email") {
		t.Errorf("Has() reported wrong fields: %v", fe)
	}
}

func TestFieldErrors_ErrIsDetachedCopy(t *testing.T) {
	var fe FieldErrors
	fe.Add("email", "first")

	var appErr *AppError
	errors.As(fe.Err(), &appErr)

	fe.Add("email", "second")
	if len(appErr.Fields["email"]) != 1 {
		t.Errorf("AppError.Fields changed after Add(): %v", appErr.Fields["email"])
	}
}
