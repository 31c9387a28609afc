// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// WHY SQLITE?
// SQLite is an embedded database — it lives inside your Go binary as a single file.
// No separate database server to install, configure, or manage. It is the default
// backend; set DB_DRIVER=postgres to use the postgres package instead.
//
// WHY modernc.org/sqlite INSTEAD OF github.com/mattn/go-sqlite3?
// mattn/go-sqlite3 uses CGo, which means you need a C compiler installed and
// cross-compilation becomes painful. modernc.org/sqlite is a pure Go translation
// of the SQLite C code.
//
// LAYOUT:
//   - DB       owns the *sql.DB pool, runs migrations, opens transactions
//   - UserDB   users table   (user.go)  — implements repository.UserRepository
//   - TokenDB  tokens table  (token.go) — implements repository.TokenRepository
//
// UserDB and TokenDB run on a dbx.DBTX, which is either the pool or a *sql.Tx.
// That is how WithinTx hands out repositories bound to a single transaction.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/pressly/goose/v3"

	// BLANK IMPORT:
	// The sqlite package's init() registers itself with database/sql as a driver
	// named "sqlite". We also import it by name (moderncsqlite) to inspect
	// constraint errors.
	moderncsqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sakif/accounts/internal/dbx"
	"github.com/sakif/accounts/internal/repository"
)

// compile-time check that *DB implements repository.Store
var _ repository.Store = (*DB)(nil)

// MIGRATIONS:
// The schema lives in migrations/*.sql and is embedded into the binary.
// goose records applied versions in its own table, so New is safe to call on
// an existing database file.
//
//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB wraps a sql.DB connection pool and vends repositories.
type DB struct {
	conn *sql.DB
}

// New creates a new SQLite database connection and runs migrations.
//
// dbPath examples:
//   - "data/accounts.db"  → file-based database (persistent)
//   - ":memory:"          → in-memory database (great for tests, lost on close)
//
// SINGLE CONNECTION:
// The pool is capped at one open connection. SQLite allows one writer at a time
// anyway, and an in-memory database exists per connection, so a second
// connection would see an empty database. The catch: code running inside
// WithinTx must only use the repositories it is handed, never the pool.
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets readers proceed while a write is in progress.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	// Foreign keys are OFF by default in SQLite; tokens reference users.
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.migrate(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
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

// WithinTx runs fn inside one transaction. Registration uses it so the user row
// and its first token are committed together or not at all.
func (db *DB) WithinTx(ctx context.Context, fn func(ctx context.Context, users repository.UserRepository, tokens repository.TokenRepository) error) error {
	return dbx.WithTx(ctx, db.conn, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(ctx, &UserDB{q: tx}, &TokenDB{q: tx})
	})
}

// migrate applies every embedded migration that has not run yet.
//
// Each call builds its own goose Provider, so two stores migrating in one
// process share no state. SQL migrations run on the single connection the
// provider checks out, which is why the one-connection pool is enough.
func (db *DB) migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db.conn, fsys)
	if err != nil {
		return fmt.Errorf("creating goose provider: %w", err)
	}
	_, err = provider.Up(ctx)
	return err
}

// isUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY constraint
// failure. column narrows the check to one column, e.g. "users.username".
func isUniqueViolation(err error, column string) bool {
	var sqliteErr *moderncsqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	if sqliteErr.Code()&0xff != sqlite3.SQLITE_CONSTRAINT {
		return false
	}
	msg := sqliteErr.Error()
	if !strings.Contains(msg, "UNIQUE constraint failed") {
		return false
	}
	return column == "" || strings.Contains(msg, column)
}
