package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/sakif/accounts/internal/apperror"
)

// contextKey is an unexported type used for context keys in this package.
//
// WHY A CUSTOM TYPE FOR CONTEXT KEYS?
// context.WithValue uses any as the key type. Using a package-private type
// prevents collisions: only THIS package can create a key of type contextKey,
// so only this package can read or write the identity in the context.
type contextKey string

const identityKey contextKey = "identity"

// Authenticator resolves a presented token key to an Identity.
// service.AuthService implements it; declaring it here keeps this package
// free of a dependency on the service layer.
type Authenticator interface {
	Authenticate(ctx context.Context, key string) (Identity, error)
}

// ErrorWriter renders an error as an HTTP response (handler.WriteError).
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// Identify is a middleware that resolves the caller's identity once per request.
//
// It reads "Authorization: Token <key>" (scheme matched case-insensitively),
// asks the authenticator for the identity and stores it in the request
// context. A missing, malformed, unknown or revoked token, or one owned by a
// deactivated user, just leaves the request anonymous. Rejection is Require's
// job.
//
// Any OTHER error means the lookup itself failed (database down). The request
// stops here and onError renders it, a logged 500 for unknown errors.
//
// MIDDLEWARE PATTERN IN GO:
// A middleware is a function that takes an http.Handler and returns a new
// http.Handler. Chi applies them in a chain: req → M1 → M2 → Handler → M2 → M1 → resp
func Identify(authenticator Authenticator, onError ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := Anonymous()
			if key, ok := TokenFromHeader(r.Header.Get("Authorization")); ok {
				resolved, err := authenticator.Authenticate(r.Context(), key)
				switch {
				case err == nil:
					identity = resolved
				case errors.Is(err, apperror.ErrNotFound), errors.Is(err, apperror.ErrUnauthorized):
					// stays anonymous
				default:
					onError(w, r, err)
					return
				}
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// Require is a middleware that stops the request unless the identity stored by
// Identify satisfies tier. Failures are rendered by onError; 401 responses also
// carry "WWW-Authenticate: Token" so clients know which scheme to use.
func Require(tier Tier, onError ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := IdentityFromContext(r.Context())
			if err := identity.Require(tier); err != nil {
				if !identity.IsAuthenticated() {
					w.Header().Set("WWW-Authenticate", "Token")
				}
				onError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithIdentity returns a copy of ctx carrying identity.
func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// IdentityFromContext returns the identity stored by Identify, or the
// anonymous identity when there is none.
//
// Usage in handlers:
//
//	identity := auth.IdentityFromContext(r.Context())
//	user, err := h.accounts.GetProfile(r.Context(), identity)
func IdentityFromContext(ctx context.Context) Identity {
	identity, _ := ctx.Value(identityKey).(Identity)
	return identity
}

// TokenFromHeader extracts the key from an Authorization header value of the
// form "Token <key>". It reports false for any other shape.
func TokenFromHeader(header string) (string, bool) {
	scheme, key, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Token") {
		return "", false
	}
	key = strings.TrimSpace(key)
	if key == "" || strings.ContainsAny(key, " \t") {
		return "", false
	}
	return key, true
}
