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

var _ repository.UserRepository = (*UserDB)(nil)

// UserDB implements repository.UserRepository on PostgreSQL.
type UserDB struct {
	q dbx.DBTX
}

const userColumns = `id, username, email, first_name, last_name, password_hash,
	is_active, is_staff, date_joined, last_login`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	var (
		u         model.User
		lastLogin sql.NullTime
	)
	if err := row.Scan(
		&u.ID, &u.Username, &u.Email, &u.FirstName, &u.LastName, &u.PasswordHash,
		&u.IsActive, &u.IsStaff, &u.DateJoined, &lastLogin,
	); err != nil {
		return nil, err
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLogin = &t
	}
	return &u, nil
}

// Create inserts user and sets its ID. A taken username is apperror.ErrConflict.
func (u *UserDB) Create(ctx context.Context, user *model.User) error {
	if user.DateJoined.IsZero() {
		user.DateJoined = time.Now().UTC()
	}

	err := u.q.QueryRowContext(ctx,
		`INSERT INTO users (username, email, first_name, last_name, password_hash,
		                    is_active, is_staff, date_joined, last_login)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id`,
		user.Username, user.Email, user.FirstName, user.LastName, user.PasswordHash,
		user.IsActive, user.IsStaff, user.DateJoined, user.LastLogin,
	).Scan(&user.ID)
	if err != nil {
		if isUniqueViolation(err, usernameConstraint) {
			return apperror.Conflict("user", user.Username)
		}
		return fmt.Errorf("postgres: inserting user %q: %w", user.Username, err)
	}
	return nil
}

// GetByID returns the user with id, or apperror.ErrNotFound.
func (u *UserDB) GetByID(ctx context.Context, id int64) (*model.User, error) {
	user, err := scanUser(u.q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", strconv.FormatInt(id, 10))
		}
		return nil, fmt.Errorf("postgres: getting user %d: %w", id, err)
	}
	return user, nil
}

// GetByUsername matches the username exactly (case-sensitive).
func (u *UserDB) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	user, err := scanUser(u.q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = $1`, username,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", username)
		}
		return nil, fmt.Errorf("postgres: getting user %q: %w", username, err)
	}
	return user, nil
}

// ExistsByUsername reports whether the username is taken.
func (u *UserDB) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := u.q.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE username = $1)`, username,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: checking username %q: %w", username, err)
	}
	return exists, nil
}

// EmailTakenByOther reports whether a user other than excludeID has email.
func (u *UserDB) EmailTakenByOther(ctx context.Context, email string, excludeID int64) (bool, error) {
	var taken bool
	err := u.q.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE email = $1 AND id <> $2)`, email, excludeID,
	).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("postgres: checking email %q: %w", email, err)
	}
	return taken, nil
}

// List returns users in ascending id order. A NULL LIMIT is LIMIT ALL.
func (u *UserDB) List(ctx context.Context, opts repository.ListOptions) ([]model.User, error) {
	var limit any
	if opts.Limit > 0 {
		limit = opts.Limit
	}

	rows, err := u.q.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY id ASC LIMIT $1 OFFSET $2`,
		limit, opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: listing users: %w", err)
	}
	defer rows.Close()

	users := []model.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scanning user row: %w", err)
		}
		users = append(users, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterating user rows: %w", err)
	}
	return users, nil
}

// UpdateProfile writes email, first name and last name.
func (u *UserDB) UpdateProfile(ctx context.Context, user *model.User) error {
	res, err := u.q.ExecContext(ctx,
		`UPDATE users SET email = $1, first_name = $2, last_name = $3 WHERE id = $4`,
		user.Email, user.FirstName, user.LastName, user.ID,
	)
	if err != nil {
		return fmt.Errorf("postgres: updating profile of user %d: %w", user.ID, err)
	}
	return expectOneRow(res, user.ID)
}

// UpdatePassword replaces the user's password hash.
func (u *UserDB) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	res, err := u.q.ExecContext(ctx,
		`UPDATE users SET password_hash = $1 WHERE id = $2`, passwordHash, id,
	)
	if err != nil {
		return fmt.Errorf("postgres: updating password of user %d: %w", id, err)
	}
	return expectOneRow(res, id)
}

// TouchLastLogin stamps last_login with the current time and sets it on user.
func (u *UserDB) TouchLastLogin(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	res, err := u.q.ExecContext(ctx,
		`UPDATE users SET last_login = $1 WHERE id = $2`, now, user.ID,
	)
	if err != nil {
		return fmt.Errorf("postgres: updating last_login of user %d: %w", user.ID, err)
	}
	if err := expectOneRow(res, user.ID); err != nil {
		return err
	}
	user.LastLogin = &now
	return nil
}

func expectOneRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: reading rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("user", strconv.FormatInt(id, 10))
	}
	return nil
}
