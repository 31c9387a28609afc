// Package apperror defines the domain error taxonomy shared by every layer.
//
// ERROR KINDS:
// Each kind is a sentinel error. Constructors wrap the sentinel in an *AppError
// that carries a human-readable message and, for validation errors, the
// offending field(s). Handlers map kinds to HTTP status codes with errors.Is:
//
//	ErrBadRequest     → 400  request shape is wrong (missing login fields, bad JSON)
//	ErrValidation     → 400  field-level semantic rejection
//	ErrAuthentication → 401  bad username/password pair at login
//	ErrUnauthorized   → 401  no usable token where one is required
//	ErrForbidden      → 403  valid identity without the required privilege
//	ErrNotFound       → 404  referenced record is absent
//	ErrConflict       → 409  unique constraint hit in the store (services usually
//	                         translate it into a validation error)
package apperror

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrBadRequest     = errors.New("bad request")
	ErrNotFound       = errors.New("not found")
	ErrValidation     = errors.New("Validation Error")
	ErrAuthentication = errors.New("authentication failed")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrConflict       = errors.New("conflict")
	ErrForbidden      = errors.New("forbidden")
)

// AppError is the error every layer returns; handlers render it by kind.
type AppError struct {
	Err     error               // actual error
	Message string              // Human-readable error message
	Field   string              // Optional: first field causing the error
	Fields  map[string][]string // Optional: every failing field with its messages
}

// Error returns the human-readable message.
func (e *AppError) Error() string {
	return e.Message
}

// Unwrap exposes the sentinel kind to errors.Is.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound reports a missing record.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

// ValidationFailed reports a single invalid field.
func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
		Fields:  map[string][]string{field: {message}},
	}
}

// Conflict reports a unique constraint hit.
func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// BadRequest reports a malformed request, e.g. a login without a password.
func BadRequest(message string) *AppError {
	return &AppError{
		Err:     ErrBadRequest,
		Message: message,
	}
}

// AuthenticationFailed reports a rejected username/password pair. The message
// must not reveal which of the two was wrong.
func AuthenticationFailed(message string) *AppError {
	return &AppError{
		Err:     ErrAuthentication,
		Message: message,
	}
}

// Unauthorized reports a request that needs a valid token and has none.
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

// FieldErrors collects validation messages per field so a service can report
// every problem with a request at once instead of failing on the first one.
//
// Usage:
//
//	var fe apperror.FieldErrors
//	if username == "" {
//	    fe.Add("username", "This field is required.")
//	}
//	if err := fe.Err(); err != nil {
//	    return nil, err
//	}
type FieldErrors map[string][]string

// Add records a message for field. Calling Add on a nil FieldErrors through a
// pointer allocates the map.
func (fe *FieldErrors) Add(field, message string) {
	if *fe == nil {
		*fe = make(FieldErrors)
	}
	(*fe)[field] = append((*fe)[field], message)
}

// Has reports whether field already has at least one message.
func (fe FieldErrors) Has(field string) bool {
	return len(fe[field]) > 0
}

// Err returns nil when no field failed, otherwise a validation *AppError whose
// Field is the alphabetically first failing field.
func (fe FieldErrors) Err() error {
	if len(fe) == 0 {
		return nil
	}

	names := make([]string, 0, len(fe))
	for name := range fe {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make(map[string][]string, len(fe))
	for name, msgs := range fe {
		fields[name] = append([]string(nil), msgs...)
	}

	return &AppError{
		Err:     ErrValidation,
		Message: strings.Join(fe[names[0]], " "),
		Field:   names[0],
		Fields:  fields,
	}
}
