package handler

// RESPONSE HELPERS:
// These functions standardise how we send JSON responses and errors.
//
// WHY HELPERS?
// Without helpers, every handler repeats the same boilerplate:
//   w.Header().Set("Content-Type", "application/json")
//   w.WriteHeader(statusCode)
//   json.NewEncoder(w).Encode(data)
//
// With helpers, handlers are cleaner and more consistent:
//   writeJSON(w, http.StatusOK, data)
//   WriteError(w, r, err)
//
// CONSISTENT ERROR FORMAT:
// Every error response from our API has the same shape:
//   {"error": "validation_error", "message": "...", "fields": {"password": ["..."]}}
//
// "fields" is only present for validation errors, so a client can show each
// message next to the input it belongs to.

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/sakif/accounts/internal/apperror"
)

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error   string              `json:"error"`            // Machine-readable error type (e.g., "not_found")
	Message string              `json:"message"`          // Human-readable description
	Fields  map[string][]string `json:"fields,omitempty"` // Per-field messages for validation errors
}

// MessageResponse is the body of endpoints that only confirm an action.
type MessageResponse struct {
	Message string `json:"message"`
}

// writeJSON sends a JSON response with the given status code.
//
// HEADER ORDER MATTERS:
// You MUST set headers and status code BEFORE writing the body.
// Once you call w.Write() (which Encode does internally), the headers are sent.
// Any header changes after that are silently ignored.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// If encoding fails, the headers are already sent; we can only log it.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// errorKind maps a domain error to its HTTP status and machine-readable type.
//
// ERROR MAPPING:
// The service layer returns apperror kinds and knows nothing about HTTP.
// This switch is the only place kinds become status codes.
//
// errors.Is() walks the whole chain, so a service error wrapped as
// fmt.Errorf("service/auth: %w", apperror.NotFound(...)) still maps to 404.
func errorKind(err error) (int, string) {
	switch {
	case errors.Is(err, apperror.ErrBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperror.ErrAuthentication):
		return http.StatusUnauthorized, "authentication_failed"
	case errors.Is(err, apperror.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, apperror.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperror.ErrConflict):
		return http.StatusConflict, "conflict"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// WriteError renders err as an ErrorResponse. Its signature matches
// auth.ErrorWriter so the access gate renders rejections the same way.
//
// Unknown errors become a generic 500. NEVER expose internal error details to
// the client: the raw message might contain SQL, file paths or a DSN.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		slog.Error("unhandled error",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "An internal error occurred",
		})
		return
	}

	status, kind := errorKind(err)
	if status == http.StatusUnauthorized && errors.Is(err, apperror.ErrUnauthorized) {
		w.Header().Set("WWW-Authenticate", "Token")
	}

	resp := ErrorResponse{Error: kind, Message: appErr.Message}
	if errors.Is(err, apperror.ErrValidation) {
		resp.Fields = appErr.Fields
	}
	writeJSON(w, status, resp)
}

// maxBodyBytes caps request bodies. Every payload here is a handful of short
// strings.
const maxBodyBytes = 64 << 10

// decodeJSON reads the request body into dst. Unknown fields are ignored. An
// empty body decodes as an empty object, so a missing field is reported by
// the service as "This field is required." instead of a parse error.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return apperror.BadRequest(fmt.Sprintf("Malformed JSON body: %v", err))
	}
	return nil
}

// HandleNotFound answers requests no route matched, in the same JSON shape
// as every other error.
func HandleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "Not found."})
}

// HandleMethodNotAllowed answers a known path called with the wrong method.
func HandleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{
		Error:   "method_not_allowed",
		Message: fmt.Sprintf("Method %q not allowed.", r.Method),
	})
}
