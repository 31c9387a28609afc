package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/accounts/internal/config"
	"github.com/sakif/accounts/internal/handler"
	"github.com/sakif/accounts/internal/repository"
	redisRepo "github.com/sakif/accounts/internal/repository/redis"
	sqliteRepo "github.com/sakif/accounts/internal/repository/sqlite"
	"github.com/sakif/accounts/internal/server"
)

// ===== HELPERS =====

func testConfig(t *testing.T, env map[string]string) *config.Config {
	t.Helper()
	cfg, err := config.FromEnv(func(key string) string { return env[key] })
	require.NoError(t, err)
	cfg.BcryptCost = bcrypt.MinCost
	return cfg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestServer wires the full router over an in-memory SQLite store.
func newTestServer(t *testing.T, cache repository.TokenCache) http.Handler {
	t.Helper()

	db, err := sqliteRepo.New(":memory:")
	require.NoError(t, err)

	srv := server.NewWithDeps(testConfig(t, nil), discardLogger(), db, cache)
	t.Cleanup(func() { srv.Close() })
	return srv.Handler()
}

func do(t *testing.T, h http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	if body != "" {
		r = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Token "+token)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func register(t *testing.T, h http.Handler, username string) handler.AuthResponse {
	t.Helper()
	body := `{"username":"` + username + `","password":"testpass123","password2":"testpass123","email":"` + username + `@example.com"}`
	rec := do(t, h, http.MethodPost, "/api/register/", body, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[handler.AuthResponse](t, rec)
}

// ===== REGISTRATION AND LOGIN =====

func TestRegisterThenLogin(t *testing.T) {
	h := newTestServer(t, nil)

	registered := register(t, h, "testuser1")
	assert.Equal(t, "testuser1", registered.User.Username)
	assert.NotEmpty(t, registered.Token)

	rec := do(t, h, http.MethodPost, "/api/login/", `{"username":"testuser1","password":"testpass123"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	loggedIn := decode[handler.AuthResponse](t, rec)
	assert.Equal(t, registered.Token, loggedIn.Token)
	assert.NotNil(t, loggedIn.User.LastLogin)
}

func TestRegister_PasswordMismatch(t *testing.T) {
	h := newTestServer(t, nil)

	rec := do(t, h, http.MethodPost, "/api/register",
		`{"username":"testuser1","password":"testpass123","password2":"testpass124"}`, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	resp := decode[handler.ErrorResponse](t, rec)
	assert.Equal(t, "validation_error", resp.Error)
	assert.Contains(t, resp.Fields, "password")
}

func TestLogin_WrongPassword(t *testing.T) {
	h := newTestServer(t, nil)
	register(t, h, "testuser1")

	rec := do(t, h, http.MethodPost, "/api/login", `{"username":"testuser1","password":"wrong-pass"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "authentication_failed", decode[handler.ErrorResponse](t, rec).Error)
}

// ===== SESSION LIFECYCLE =====

func TestChangePasswordFlow(t *testing.T) {
	h := newTestServer(t, nil)
	token := register(t, h, "testuser1").Token

	rec := do(t, h, http.MethodPost, "/api/change-password/",
		`{"old_password":"testpass123","new_password":"newsecret456","new_password2":"newsecret456"}`, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// The token survives a password change.
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/profile/", "", token).Code)

	old := do(t, h, http.MethodPost, "/api/login/", `{"username":"testuser1","password":"testpass123"}`, "")
	assert.Equal(t, http.StatusUnauthorized, old.Code)

	fresh := do(t, h, http.MethodPost, "/api/login/", `{"username":"testuser1","password":"newsecret456"}`, "")
	assert.Equal(t, http.StatusOK, fresh.Code)
}

func TestLogoutRevokesToken(t *testing.T) {
	h := newTestServer(t, nil)
	token := register(t, h, "testuser1").Token

	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/logout/", "", token).Code)

	rec := do(t, h, http.MethodGet, "/api/profile/", "", token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Token", rec.Header().Get("WWW-Authenticate"))

	// Logging in again mints a different key.
	again := do(t, h, http.MethodPost, "/api/login/", `{"username":"testuser1","password":"testpass123"}`, "")
	require.Equal(t, http.StatusOK, again.Code)
	assert.NotEqual(t, token, decode[handler.AuthResponse](t, again).Token)
}

func TestProfileUpdate(t *testing.T) {
	h := newTestServer(t, nil)
	token := register(t, h, "testuser1").Token

	rec := do(t, h, http.MethodPatch, "/api/profile/", `{"first_name":"Test"}`, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	view := decode[handler.UserView](t, do(t, h, http.MethodGet, "/api/profile", "", token))
	assert.Equal(t, "Test", view.FirstName)
	assert.Equal(t, "testuser1@example.com", view.Email)
}

// ===== ACCESS TIERS =====

func TestAccessTiers(t *testing.T) {
	h := newTestServer(t, nil)
	token := register(t, h, "testuser1").Token

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"open route without token", http.MethodPost, "/api/login/", "", http.StatusBadRequest},
		{"profile without token", http.MethodGet, "/api/profile/", "", http.StatusUnauthorized},
		{"users without token", http.MethodGet, "/api/users/", "", http.StatusUnauthorized},
		{"bogus token stays anonymous", http.MethodGet, "/api/users/", "not-a-real-key", http.StatusUnauthorized},
		{"users with token", http.MethodGet, "/api/users/", token, http.StatusOK},
		{"admin list without token", http.MethodGet, "/api/admin/users/", "", http.StatusUnauthorized},
		{"admin list as regular user", http.MethodGet, "/api/admin/users/", token, http.StatusForbidden},
		{"unknown user", http.MethodGet, "/api/users/9999/", token, http.StatusNotFound},
		{"unknown route", http.MethodGet, "/api/nothing-here", token, http.StatusNotFound},
		{"wrong method", http.MethodGet, "/api/login/", "", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, "", tt.token)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		})
	}
}

func TestDirectory(t *testing.T) {
	h := newTestServer(t, nil)
	token := register(t, h, "testuser1").Token
	register(t, h, "testuser2")

	items := decode[[]handler.UserListItem](t, do(t, h, http.MethodGet, "/api/users/", "", token))
	require.Len(t, items, 2)
	assert.Equal(t, "testuser1", items[0].Username)
	assert.Equal(t, "testuser2", items[1].Username)

	// The list only carries id and username.
	raw := do(t, h, http.MethodGet, "/api/users/?limit=1&offset=1", "", token).Body.String()
	assert.Contains(t, raw, `"testuser2"`)
	assert.NotContains(t, raw, "email")

	detail := decode[handler.UserDetail](t, do(t, h, http.MethodGet, "/api/users/2/", "", token))
	assert.Equal(t, "testuser2", detail.Username)
	assert.True(t, detail.IsActive)
}

func TestStoreOutageIsServerError(t *testing.T) {
	db, err := sqliteRepo.New(":memory:")
	require.NoError(t, err)
	h := server.NewWithDeps(testConfig(t, nil), discardLogger(), db, nil).Handler()

	token := register(t, h, "testuser1").Token
	require.NoError(t, db.Close())

	// A token that cannot be checked is not the client's fault.
	rec := do(t, h, http.MethodGet, "/api/profile/", "", token)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, rec.Header().Get("WWW-Authenticate"))
	assert.Equal(t, "internal_error", decode[handler.ErrorResponse](t, rec).Error)
}

// ===== OPERATIONAL ROUTES =====

func TestHealthz(t *testing.T) {
	h := newTestServer(t, nil)

	rec := do(t, h, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(t, nil)
	register(t, h, "testuser1")

	rec := do(t, h, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `accounts_auth_events_total{event="register"} 1`)
	assert.Contains(t, body, `route="/api/register"`)
	assert.Contains(t, body, "go_goroutines")
}

func TestMetricsDisabled(t *testing.T) {
	db, err := sqliteRepo.New(":memory:")
	require.NoError(t, err)

	srv := server.NewWithDeps(testConfig(t, map[string]string{"METRICS_ENABLED": "false"}), discardLogger(), db, nil)
	t.Cleanup(func() { srv.Close() })

	rec := do(t, srv.Handler(), http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequestIDEchoed(t *testing.T) {
	h := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "trace-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "trace-42", rec.Header().Get("X-Request-ID"))
}

func TestCORS(t *testing.T) {
	db, err := sqliteRepo.New(":memory:")
	require.NoError(t, err)

	cfg := testConfig(t, map[string]string{"CORS_ALLOWED_ORIGINS": "https://app.example"})
	srv := server.NewWithDeps(cfg, discardLogger(), db, nil)
	t.Cleanup(func() { srv.Close() })

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestPrefixFromConfig(t *testing.T) {
	db, err := sqliteRepo.New(":memory:")
	require.NoError(t, err)

	srv := server.NewWithDeps(testConfig(t, map[string]string{"API_PREFIX": "/v1"}), discardLogger(), db, nil)
	t.Cleanup(func() { srv.Close() })

	rec := do(t, srv.Handler(), http.MethodPost, "/v1/login/", `{"username":"nobody","password":"whatever1"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, srv.Handler(), http.MethodPost, "/api/login/", `{"username":"nobody","password":"whatever1"}`, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// ===== TOKEN CACHE =====

func TestTokenCache_FillHitAndTombstone(t *testing.T) {
	mr := miniredis.RunT(t)
	cache, err := redisRepo.New(context.Background(), "redis://"+mr.Addr(), 0)
	require.NoError(t, err)

	h := newTestServer(t, cache)
	token := register(t, h, "testuser1").Token
	cacheKey := "accounts:token:" + token

	// First authenticated request misses and fills the cache.
	require.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/profile/", "", token).Code)
	assert.True(t, mr.Exists(cacheKey))

	// Second one is served from it.
	require.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/profile/", "", token).Code)

	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/logout/", "", token).Code)
	val, err := mr.Get(cacheKey)
	require.NoError(t, err)
	assert.Equal(t, "-", val)

	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/api/profile/", "", token).Code)

	metrics := do(t, h, http.MethodGet, "/metrics", "", "").Body.String()
	assert.Contains(t, metrics, `accounts_token_cache_lookups_total{result="miss"} 1`)
	assert.Contains(t, metrics, `accounts_token_cache_lookups_total{result="hit"}`)
	assert.Contains(t, metrics, `accounts_token_cache_lookups_total{result="tombstone"} 1`)
}

// ===== FULL CONSTRUCTION =====

func TestNew_SQLiteFileAndRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	dbPath := filepath.Join(t.TempDir(), "nested", "accounts.db")

	cfg := testConfig(t, map[string]string{
		"DB_PATH":   dbPath,
		"REDIS_URL": "redis://" + mr.Addr(),
	})

	srv, err := server.New(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })

	_, err = os.Stat(dbPath)
	require.NoError(t, err)

	register(t, srv.Handler(), "testuser1")
}

func TestNew_UnreachableRedis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	cfg := testConfig(t, map[string]string{
		"DB_PATH":   filepath.Join(t.TempDir(), "accounts.db"),
		"REDIS_URL": "redis://" + addr,
	})

	_, err = server.New(context.Background(), cfg, discardLogger())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "token cache"))
}
