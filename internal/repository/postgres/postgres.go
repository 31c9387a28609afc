// Package postgres implements the repository interfaces on PostgreSQL through
// the lib/pq driver. Select it with DB_DRIVER=postgres and DATABASE_URL.
//
// It mirrors the sqlite package table for table. The differences are all
// dialect: $n placeholders, RETURNING id, BIGSERIAL keys and error codes
// reported as SQLSTATE strings on *pq.Error.
//
// Unlike sqlite.New, New does not migrate on its own. The server calls
// Migrate explicitly, which keeps constructor tests free of schema traffic.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/sakif/accounts/internal/dbx"
	"github.com/sakif/accounts/internal/repository"
)

var _ repository.Store = (*DB)(nil)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// Constraint names PostgreSQL derives from the migration DDL.
const (
	usernameConstraint = "users_username_key"
	tokenKeyConstraint = "tokens_pkey"
)

// DB wraps a pooled PostgreSQL connection.
type DB struct {
	conn *sql.DB
}

// New opens a pool for dsn and verifies it with a ping.
func New(ctx context.Context, dsn string) (*DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: opening database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("postgres: pinging database: %w", err)
	}

	return &DB{conn: conn}, nil
}

// NewFromConn wraps an existing pool. Tests hand it a sqlmock connection.
func NewFromConn(conn *sql.DB) *DB {
	return &DB{conn: conn}
}

// Migrate applies every embedded migration that has not run yet. The goose
// Provider is local to the call; goose's package-level state is never touched.
func (db *DB) Migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db.conn, fsys)
	if err != nil {
		return fmt.Errorf("postgres: creating goose provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("postgres: running migrations: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping verifies the database is reachable. Used by the health endpoint.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Users returns a UserDB running directly on the pool.
func (db *DB) Users() repository.UserRepository {
	return &UserDB{q: db.conn}
}

// Tokens returns a TokenDB running directly on the pool.
func (db *DB) Tokens() repository.TokenRepository {
	return &TokenDB{q: db.conn}
}

// WithinTx runs fn with both repositories bound to one transaction.
func (db *DB) WithinTx(ctx context.Context, fn func(ctx context.Context, users repository.UserRepository, tokens repository.TokenRepository) error) error {
	return dbx.WithTx(ctx, db.conn, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(ctx, &UserDB{q: tx}, &TokenDB{q: tx})
	})
}

// isUniqueViolation reports whether err is a unique_violation on constraint.
func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return string(pqErr.Code) == uniqueViolation && pqErr.Constraint == constraint
}
