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

// compile-time check that *UserDB implements repository.UserRepository
var _ repository.UserRepository = (*UserDB)(nil)

// UserDB reads and writes the users table.
type UserDB struct {
	q dbx.DBTX
}

// userColumns is the SELECT list shared by every query that returns a user.
// Keep it in the same order as the Scan calls in scanUser.
const userColumns = `id, username, email, first_name, last_name, password_hash,
	is_active, is_staff, date_joined, last_login`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	var (
		u         model.User
		lastLogin sql.NullTime
	)
	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.FirstName,
		&u.LastName,
		&u.PasswordHash,
		&u.IsActive,
		&u.IsStaff,
		&u.DateJoined,
		&lastLogin,
	)
	if err != nil {
		return nil, err
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLogin = &t
	}
	return &u, nil
}

// Create inserts a new user and fills in user.ID (and DateJoined when unset).
//
// The username column is UNIQUE. Two concurrent registrations for the same
// name both pass the service's ExistsByUsername check; the second INSERT hits
// the constraint and comes back as apperror.ErrConflict.
func (u *UserDB) Create(ctx context.Context, user *model.User) error {
	if user.DateJoined.IsZero() {
		user.DateJoined = time.Now().UTC()
	}

	res, err := u.q.ExecContext(ctx,
		`INSERT INTO users (username, email, first_name, last_name, password_hash,
		                    is_active, is_staff, date_joined, last_login)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.Username,
		user.Email,
		user.FirstName,
		user.LastName,
		user.PasswordHash,
		user.IsActive,
		user.IsStaff,
		user.DateJoined,
		user.LastLogin,
	)
	if err != nil {
		if isUniqueViolation(err, "users.username") {
			return apperror.Conflict("user", user.Username)
		}
		return fmt.Errorf("sqlite: inserting user %q: %w", user.Username, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite: reading id of user %q: %w", user.Username, err)
	}
	user.ID = id
	return nil
}

// GetByID retrieves a user by primary key.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (u *UserDB) GetByID(ctx context.Context, id int64) (*model.User, error) {
	user, err := scanUser(u.q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", strconv.FormatInt(id, 10))
		}
		return nil, fmt.Errorf("sqlite: getting user %d: %w", id, err)
	}
	return user, nil
}

// GetByUsername is an exact, case-sensitive match.
func (u *UserDB) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	user, err := scanUser(u.q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ?`, username,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", username)
		}
		return nil, fmt.Errorf("sqlite: getting user %q: %w", username, err)
	}
	return user, nil
}

// ExistsByUsername reports whether the username is taken.
func (u *UserDB) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := u.q.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE username = ?)`, username,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("sqlite: checking username %q: %w", username, err)
	}
	return exists, nil
}

// EmailTakenByOther reports whether a user other than excludeID has email.
func (u *UserDB) EmailTakenByOther(ctx context.Context, email string, excludeID int64) (bool, error) {
	var taken bool
	err := u.q.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE email = ? AND id != ?)`, email, excludeID,
	).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("sqlite: checking email %q: %w", email, err)
	}
	return taken, nil
}

// List returns users in ascending id order.
//
// LIMIT -1:
// SQLite treats a negative LIMIT as "no limit", which is how a zero
// ListOptions.Limit is expressed without building the query dynamically.
func (u *UserDB) List(ctx context.Context, opts repository.ListOptions) ([]model.User, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = -1
	}

	rows, err := u.q.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY id ASC LIMIT ? OFFSET ?`,
		limit, opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing users: %w", err)
	}
	defer rows.Close()

	// Non-nil so an empty table encodes as [] rather than null.
	users := []model.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning user row: %w", err)
		}
		users = append(users, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating user rows: %w", err)
	}
	return users, nil
}

// UpdateProfile writes the editable profile columns. Username, password and
// the flags are never touched here.
func (u *UserDB) UpdateProfile(ctx context.Context, user *model.User) error {
	res, err := u.q.ExecContext(ctx,
		`UPDATE users SET email = ?, first_name = ?, last_name = ? WHERE id = ?`,
		user.Email, user.FirstName, user.LastName, user.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating profile of user %d: %w", user.ID, err)
	}
	return expectOneRow(res, user.ID)
}

// UpdatePassword replaces the user's password hash.
func (u *UserDB) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	res, err := u.q.ExecContext(ctx,
		`UPDATE users SET password_hash = ? WHERE id = ?`, passwordHash, id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating password of user %d: %w", id, err)
	}
	return expectOneRow(res, id)
}

// TouchLastLogin stamps the current time on the user row and on user itself.
func (u *UserDB) TouchLastLogin(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	res, err := u.q.ExecContext(ctx,
		`UPDATE users SET last_login = ? WHERE id = ?`, now, user.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating last_login of user %d: %w", user.ID, err)
	}
	if err := expectOneRow(res, user.ID); err != nil {
		return err
	}
	user.LastLogin = &now
	return nil
}

// expectOneRow turns "UPDATE matched nothing" into apperror.ErrNotFound.
func expectOneRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: reading rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("user", strconv.FormatInt(id, 10))
	}
	return nil
}
