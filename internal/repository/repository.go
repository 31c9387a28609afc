// Package repository declares the storage contracts the service layer depends on.
//
// Implementations live in sub-packages (sqlite, postgres, redis). Services only
// ever see these interfaces, so tests can swap in in-memory fakes and the
// server can pick a backend from configuration.
package repository

import (
	"context"

	"github.com/sakif/accounts/internal/model"
)

// ListOptions controls pagination of user listings.
// A zero Limit means "no limit".
type ListOptions struct {
	Limit  int
	Offset int
}

// UserRepository persists user records.
//
// ERROR CONTRACT:
//   - lookups of a missing row return apperror.ErrNotFound
//   - Create on a taken username returns apperror.ErrConflict
type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id int64) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	// EmailTakenByOther reports whether email belongs to a user other than excludeID.
	EmailTakenByOther(ctx context.Context, email string, excludeID int64) (bool, error)
	List(ctx context.Context, opts ListOptions) ([]model.User, error)
	UpdateProfile(ctx context.Context, user *model.User) error
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
	TouchLastLogin(ctx context.Context, user *model.User) error
}

// TokenRepository persists bearer tokens, at most one per user.
type TokenRepository interface {
	// GetOrCreate stores candidateKey for userID unless the user already owns a
	// token, and returns whichever token survives. Concurrent calls for the same
	// user converge on a single row.
	GetOrCreate(ctx context.Context, userID int64, candidateKey string) (*model.Token, error)
	// GetByKey returns apperror.ErrNotFound for unknown or revoked keys.
	GetByKey(ctx context.Context, key string) (*model.Token, error)
	// GetByUser returns apperror.ErrNotFound when the user has no live token.
	GetByUser(ctx context.Context, userID int64) (*model.Token, error)
	// DeleteByUser removes the user's token; deleting nothing is not an error.
	DeleteByUser(ctx context.Context, userID int64) error
}

// Store bundles both repositories with a transaction boundary.
type Store interface {
	Users() UserRepository
	Tokens() TokenRepository
	// WithinTx runs fn with repositories bound to one transaction. The
	// transaction commits when fn returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(ctx context.Context, users UserRepository, tokens TokenRepository) error) error
	Ping(ctx context.Context) error
	Close() error
}

// TokenCache is an optional look-aside cache for token → user id resolution.
//
// Forget writes a tombstone that Remember can never overwrite, so a cache fill
// racing a revocation cannot bring a revoked key back.
type TokenCache interface {
	// Lookup returns (userID, true, nil) on a hit, (0, false, nil) on a miss
	// and apperror.ErrNotFound when the key carries a tombstone.
	Lookup(ctx context.Context, key string) (int64, bool, error)
	Remember(ctx context.Context, key string, userID int64) error
	Forget(ctx context.Context, key string) error
	Close() error
}
