package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sqliteRepo "github.com/sakif/accounts/internal/repository/sqlite"
)

func useTempDB(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	chdir(t, dir)

	dbPath := filepath.Join(dir, "data", "accounts.db")
	t.Setenv("DB_PATH", dbPath)
	t.Setenv("BCRYPT_COST", "4")
	t.Setenv("ADMIN_PASSWORD", "")
	return dbPath
}

func TestRun_CreatesStaffUser(t *testing.T) {
	dbPath := useTempDB(t)

	err := run(context.Background(), []string{"-username", "admin", "-email", "admin@example.com", "-password", "testpass123"})
	require.NoError(t, err)

	db, err := sqliteRepo.New(dbPath)
	require.NoError(t, err)
	defer db.Close()

	user, err := db.Users().GetByUsername(context.Background(), "admin")
	require.NoError(t, err)
	assert.True(t, user.IsStaff)
	assert.True(t, user.IsActive)
	assert.Equal(t, "admin@example.com", user.Email)
}

func TestRun_PasswordFromEnvironment(t *testing.T) {
	useTempDB(t)
	t.Setenv("ADMIN_PASSWORD", "testpass123")

	assert.NoError(t, run(context.Background(), []string{"-username", "admin"}))
}

func TestRun_ReportsFieldErrors(t *testing.T) {
	useTempDB(t)

	err := run(context.Background(), []string{"-username", "admin", "-password", "123"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "password: This password is too short.")
	assert.Contains(t, err.Error(), "password: This password is entirely numeric.")
}

func TestRun_DuplicateUsername(t *testing.T) {
	useTempDB(t)
	args := []string{"-username", "admin", "-password", "testpass123"}

	require.NoError(t, run(context.Background(), args))
	assert.Error(t, run(context.Background(), args))
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent to testing.T.Chdir, added in Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
