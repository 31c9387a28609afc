package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sakif/accounts/internal/apperror"
	"github.com/sakif/accounts/internal/dbx"
	"github.com/sakif/accounts/internal/model"
	"github.com/sakif/accounts/internal/repository"
)

// compile-time check that *TokenDB implements repository.TokenRepository
var _ repository.TokenRepository = (*TokenDB)(nil)

// TokenDB reads and writes the tokens table.
type TokenDB struct {
	q dbx.DBTX
}

// GetOrCreate issues candidateKey for userID unless the user already owns a token.
//
// ON CONFLICT(user_id) DO NOTHING:
// tokens.user_id is UNIQUE, so when two logins race only one INSERT lands and
// the other silently becomes a no-op. Both callers then SELECT the surviving
// row, which is why concurrent logins for one user always see the same key.
//
// A collision on the key itself (the PRIMARY KEY) is NOT covered by the
// ON CONFLICT clause. It surfaces as apperror.ErrConflict so the caller can
// retry with a fresh key.
func (t *TokenDB) GetOrCreate(ctx context.Context, userID int64, candidateKey string) (*model.Token, error) {
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO tokens (key, user_id, created) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO NOTHING`,
		candidateKey, userID, time.Now().UTC(),
	)
	if err != nil {
		if isUniqueViolation(err, "tokens.key") {
			return nil, apperror.Conflict("token", "key")
		}
		return nil, fmt.Errorf("sqlite: inserting token for user %d: %w", userID, err)
	}

	return t.GetByUser(ctx, userID)
}

// GetByKey returns the token with the given key, or apperror.ErrNotFound.
func (t *TokenDB) GetByKey(ctx context.Context, key string) (*model.Token, error) {
	var tok model.Token
	err := t.q.QueryRowContext(ctx,
		`SELECT key, user_id, created FROM tokens WHERE key = ?`, key,
	).Scan(&tok.Key, &tok.UserID, &tok.Created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Never echo the key back in an error message.
			return nil, apperror.NotFound("token", "<redacted>")
		}
		return nil, fmt.Errorf("sqlite: getting token: %w", err)
	}
	return &tok, nil
}

// GetByUser returns the user's token, or apperror.ErrNotFound.
func (t *TokenDB) GetByUser(ctx context.Context, userID int64) (*model.Token, error) {
	var tok model.Token
	err := t.q.QueryRowContext(ctx,
		`SELECT key, user_id, created FROM tokens WHERE user_id = ?`, userID,
	).Scan(&tok.Key, &tok.UserID, &tok.Created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("token", "user "+strconv.FormatInt(userID, 10))
		}
		return nil, fmt.Errorf("sqlite: getting token of user %d: %w", userID, err)
	}
	return &tok, nil
}

// DeleteByUser is idempotent: deleting a token that is already gone succeeds.
func (t *TokenDB) DeleteByUser(ctx context.Context, userID int64) error {
	if _, err := t.q.ExecContext(ctx, `DELETE FROM tokens WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("sqlite: deleting token of user %d: %w", userID, err)
	}
	return nil
}
