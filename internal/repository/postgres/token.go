package postgres

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

var _ repository.TokenRepository = (*TokenDB)(nil)

// TokenDB implements repository.TokenRepository on PostgreSQL.
type TokenDB struct {
	q dbx.DBTX
}

// GetOrCreate inserts candidateKey unless userID already has a token, then
// reads back the surviving row. See sqlite.TokenDB.GetOrCreate for the race
// this settles.
func (t *TokenDB) GetOrCreate(ctx context.Context, userID int64, candidateKey string) (*model.Token, error) {
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO tokens (key, user_id, created) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO NOTHING`,
		candidateKey, userID, time.Now().UTC(),
	)
	if err != nil {
		if isUniqueViolation(err, tokenKeyConstraint) {
			return nil, apperror.Conflict("token", "key")
		}
		return nil, fmt.Errorf("postgres: inserting token for user %d: %w", userID, err)
	}
	return t.GetByUser(ctx, userID)
}

// GetByKey returns the token with the given key, or apperror.ErrNotFound.
func (t *TokenDB) GetByKey(ctx context.Context, key string) (*model.Token, error) {
	var tok model.Token
	err := t.q.QueryRowContext(ctx,
		`SELECT key, user_id, created FROM tokens WHERE key = $1`, key,
	).Scan(&tok.Key, &tok.UserID, &tok.Created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("token", "<redacted>")
		}
		return nil, fmt.Errorf("postgres: getting token: %w", err)
	}
	return &tok, nil
}

// GetByUser returns the user's token, or apperror.ErrNotFound.
func (t *TokenDB) GetByUser(ctx context.Context, userID int64) (*model.Token, error) {
	var tok model.Token
	err := t.q.QueryRowContext(ctx,
		`SELECT key, user_id, created FROM tokens WHERE user_id = $1`, userID,
	).Scan(&tok.Key, &tok.UserID, &tok.Created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("token", "user "+strconv.FormatInt(userID, 10))
		}
		return nil, fmt.Errorf("postgres: getting token of user %d: %w", userID, err)
	}
	return &tok, nil
}

// DeleteByUser removes the user's token. No row is not an error.
func (t *TokenDB) DeleteByUser(ctx context.Context, userID int64) error {
	if _, err := t.q.ExecContext(ctx, `DELETE FROM tokens WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("postgres: deleting token of user %d: %w", userID, err)
	}
	return nil
}
