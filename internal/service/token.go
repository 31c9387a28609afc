package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sakif/accounts/internal/apperror"
	"github.com/sakif/accounts/internal/auth"
	"github.com/sakif/accounts/internal/model"
	"github.com/sakif/accounts/internal/repository"
)

// maxIssueAttempts bounds retries on a token key collision. With 160 random
// bits a single collision is already astronomically unlikely.
const maxIssueAttempts = 3

// TokenRegistry owns the lifecycle of bearer tokens: at most one live token
// per user, issued on first login or registration, destroyed on logout.
//
// DEPENDENCIES:
//   - store     repository.Store       → tokens + users tables
//   - cache     repository.TokenCache  → optional; nil disables caching
//   - recorder  Recorder               → cache hit/miss counters
type TokenRegistry struct {
	store    repository.Store
	cache    repository.TokenCache
	logger   *slog.Logger
	recorder Recorder
	newKey   func() (string, error)
}

// NewTokenRegistry wires a registry. cache may be nil.
func NewTokenRegistry(store repository.Store, cache repository.TokenCache, logger *slog.Logger) *TokenRegistry {
	return &TokenRegistry{
		store:    store,
		cache:    cache,
		logger:   logger,
		recorder: nopRecorder{},
		newKey:   auth.GenerateTokenKey,
	}
}

// WithRecorder sets the metrics recorder and returns the registry.
func (r *TokenRegistry) WithRecorder(rec Recorder) *TokenRegistry {
	if rec != nil {
		r.recorder = rec
	}
	return r
}

// Issue returns the user's existing token key, or mints and stores a new one.
// Concurrent calls for the same user all return the same key.
func (r *TokenRegistry) Issue(ctx context.Context, userID int64) (string, error) {
	return r.issue(ctx, r.store.Tokens(), userID)
}

// issue runs against an explicit TokenRepository so Register can issue inside
// its transaction.
func (r *TokenRegistry) issue(ctx context.Context, tokens repository.TokenRepository, userID int64) (string, error) {
	for attempt := 1; attempt <= maxIssueAttempts; attempt++ {
		candidate, err := r.newKey()
		if err != nil {
			return "", fmt.Errorf("service/token: %w", err)
		}

		tok, err := tokens.GetOrCreate(ctx, userID, candidate)
		if errors.Is(err, apperror.ErrConflict) {
			r.logger.Warn("token key collision, retrying", slog.Int64("userID", userID), slog.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return "", fmt.Errorf("service/token: issuing token for user %d: %w", userID, err)
		}
		return tok.Key, nil
	}
	return "", fmt.Errorf("service/token: issuing token for user %d: %d key collisions in a row", userID, maxIssueAttempts)
}

// Resolve maps a presented key to its user.
// Returns apperror.ErrNotFound when the key is unknown or revoked.
func (r *TokenRegistry) Resolve(ctx context.Context, key string) (*model.User, error) {
	if key == "" {
		return nil, apperror.NotFound("token", "<redacted>")
	}

	userID, err := r.lookupUserID(ctx, key)
	if err != nil {
		return nil, err
	}

	user, err := r.store.Users().GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/token: loading owner of token: %w", err)
	}
	return user, nil
}

// lookupUserID consults the cache first when one is configured.
//
// Cache read errors are logged and fall through to the store: a Redis outage
// slows requests down but never locks users out.
func (r *TokenRegistry) lookupUserID(ctx context.Context, key string) (int64, error) {
	if r.cache != nil {
		id, ok, err := r.cache.Lookup(ctx, key)
		switch {
		case errors.Is(err, apperror.ErrNotFound):
			r.recorder.TokenCacheLookup(CacheTombstone)
			return 0, err
		case err != nil:
			r.recorder.TokenCacheLookup(CacheError)
			r.logger.Warn("token cache lookup failed", slog.String("error", err.Error()))
		case ok:
			r.recorder.TokenCacheLookup(CacheHit)
			return id, nil
		default:
			r.recorder.TokenCacheLookup(CacheMiss)
		}
	}

	tok, err := r.store.Tokens().GetByKey(ctx, key)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return 0, err
		}
		return 0, fmt.Errorf("service/token: resolving token: %w", err)
	}

	if r.cache != nil {
		if err := r.cache.Remember(ctx, key, tok.UserID); err != nil {
			r.logger.Warn("token cache fill failed", slog.String("error", err.Error()))
		}
	}
	return tok.UserID, nil
}

// Revoke destroys the user's token. Revoking when no token exists is a no-op.
//
// ORDERING:
// The cache tombstone goes in BEFORE the row is deleted. If the tombstone
// write fails the revoke fails too, leaving the token fully valid, so the
// client can simply retry. The reverse order could leave a deleted token
// still resolvable from the cache.
func (r *TokenRegistry) Revoke(ctx context.Context, userID int64) error {
	if r.cache != nil {
		tok, err := r.store.Tokens().GetByUser(ctx, userID)
		if errors.Is(err, apperror.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("service/token: looking up token of user %d: %w", userID, err)
		}
		if err := r.cache.Forget(ctx, tok.Key); err != nil {
			return fmt.Errorf("service/token: invalidating cached token of user %d: %w", userID, err)
		}
	}

	if err := r.store.Tokens().DeleteByUser(ctx, userID); err != nil {
		return fmt.Errorf("service/token: revoking token of user %d: %w", userID, err)
	}

	r.logger.Info("token revoked", slog.Int64("userID", userID))
	return nil
}
