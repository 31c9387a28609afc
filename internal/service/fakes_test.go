package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/accounts/internal/apperror"
	"github.com/sakif/accounts/internal/auth"
	"github.com/sakif/accounts/internal/model"
	"github.com/sakif/accounts/internal/repository"
)

// =========================================================================
// FAKES AND HELPERS
// =========================================================================

// fakeStore is an in-memory repository.Store. Using a fake (not a mock
// framework) keeps tests easy to read: you can see exactly what it does.
//
// WithinTx snapshots both tables and restores them if fn fails, which is
// enough to observe all-or-nothing behavior.
type fakeStore struct {
	mu     sync.Mutex
	users  map[int64]*model.User
	tokens map[int64]*model.Token // keyed by user id
	nextID int64

	// set to a non-nil error to simulate a database failure
	createErr      error
	getOrCreateErr error
	deleteErr      error
	// conflictsLeft makes the next N GetOrCreate calls report a key collision
	conflictsLeft int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:  make(map[int64]*model.User),
		tokens: make(map[int64]*model.Token),
		nextID: 1,
	}
}

func (s *fakeStore) Users() repository.UserRepository   { return fakeUsers{s} }
func (s *fakeStore) Tokens() repository.TokenRepository { return fakeTokens{s} }
func (s *fakeStore) Ping(context.Context) error         { return nil }
func (s *fakeStore) Close() error                       { return nil }

func (s *fakeStore) WithinTx(ctx context.Context, fn func(ctx context.Context, users repository.UserRepository, tokens repository.TokenRepository) error) error {
	s.mu.Lock()
	usersSnap := make(map[int64]*model.User, len(s.users))
	for k, v := range s.users {
		c := *v
		usersSnap[k] = &c
	}
	tokensSnap := make(map[int64]*model.Token, len(s.tokens))
	for k, v := range s.tokens {
		c := *v
		tokensSnap[k] = &c
	}
	s.mu.Unlock()

	if err := fn(ctx, fakeUsers{s}, fakeTokens{s}); err != nil {
		s.mu.Lock()
		s.users, s.tokens = usersSnap, tokensSnap
		s.mu.Unlock()
		return err
	}
	return nil
}

// seedUser stores a user with the given password hashed at bcrypt.MinCost.
func (s *fakeStore) seedUser(t *testing.T, username, password string, staff bool) *model.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hashing seed password: %v", err)
	}
	u := &model.User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: string(hash),
		IsActive:     true,
		IsStaff:      staff,
	}
	if err := s.Users().Create(context.Background(), u); err != nil {
		t.Fatalf("seeding user: %v", err)
	}
	return u
}

func (s *fakeStore) userCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

type fakeUsers struct{ s *fakeStore }

func (f fakeUsers) Create(_ context.Context, user *model.User) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if f.s.createErr != nil {
		return f.s.createErr
	}
	for _, u := range f.s.users {
		if u.Username == user.Username {
			return apperror.Conflict("user", user.Username)
		}
	}
	user.ID = f.s.nextID
	f.s.nextID++
	if user.DateJoined.IsZero() {
		user.DateJoined = time.Now().UTC()
	}
	c := *user
	f.s.users[user.ID] = &c
	return nil
}

func (f fakeUsers) GetByID(_ context.Context, id int64) (*model.User, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	u, ok := f.s.users[id]
	if !ok {
		return nil, apperror.NotFound("user", strconv.FormatInt(id, 10))
	}
	c := *u
	return &c, nil
}

func (f fakeUsers) GetByUsername(_ context.Context, username string) (*model.User, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, u := range f.s.users {
		if u.Username == username {
			c := *u
			return &c, nil
		}
	}
	return nil, apperror.NotFound("user", username)
}

func (f fakeUsers) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	_, err := f.GetByUsername(ctx, username)
	if errors.Is(err, apperror.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (f fakeUsers) EmailTakenByOther(_ context.Context, email string, excludeID int64) (bool, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, u := range f.s.users {
		if u.Email == email && u.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (f fakeUsers) List(_ context.Context, opts repository.ListOptions) ([]model.User, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	out := []model.User{}
	for _, u := range f.s.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if opts.Offset >= len(out) {
		return []model.User{}, nil
	}
	out = out[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (f fakeUsers) UpdateProfile(_ context.Context, user *model.User) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	u, ok := f.s.users[user.ID]
	if !ok {
		return apperror.NotFound("user", strconv.FormatInt(user.ID, 10))
	}
	u.Email, u.FirstName, u.LastName = user.Email, user.FirstName, user.LastName
	return nil
}

func (f fakeUsers) UpdatePassword(_ context.Context, id int64, hash string) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	u, ok := f.s.users[id]
	if !ok {
		return apperror.NotFound("user", strconv.FormatInt(id, 10))
	}
	u.PasswordHash = hash
	return nil
}

func (f fakeUsers) TouchLastLogin(_ context.Context, user *model.User) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	u, ok := f.s.users[user.ID]
	if !ok {
		return apperror.NotFound("user", strconv.FormatInt(user.ID, 10))
	}
	now := time.Now().UTC()
	u.LastLogin = &now
	user.LastLogin = &now
	return nil
}

type fakeTokens struct{ s *fakeStore }

func (f fakeTokens) GetOrCreate(_ context.Context, userID int64, candidate string) (*model.Token, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if f.s.getOrCreateErr != nil {
		return nil, f.s.getOrCreateErr
	}
	if f.s.conflictsLeft > 0 {
		f.s.conflictsLeft--
		return nil, apperror.Conflict("token", "key")
	}
	if tok, ok := f.s.tokens[userID]; ok {
		c := *tok
		return &c, nil
	}
	tok := &model.Token{Key: candidate, UserID: userID, Created: time.Now().UTC()}
	f.s.tokens[userID] = tok
	c := *tok
	return &c, nil
}

func (f fakeTokens) GetByKey(_ context.Context, key string) (*model.Token, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, tok := range f.s.tokens {
		if tok.Key == key {
			c := *tok
			return &c, nil
		}
	}
	return nil, apperror.NotFound("token", "<redacted>")
}

func (f fakeTokens) GetByUser(_ context.Context, userID int64) (*model.Token, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	tok, ok := f.s.tokens[userID]
	if !ok {
		return nil, apperror.NotFound("token", "user")
	}
	c := *tok
	return &c, nil
}

func (f fakeTokens) DeleteByUser(_ context.Context, userID int64) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if f.s.deleteErr != nil {
		return f.s.deleteErr
	}
	delete(f.s.tokens, userID)
	return nil
}

// fakeCache is an in-memory repository.TokenCache with the same tombstone
// semantics as the Redis implementation.
type fakeCache struct {
	mu        sync.Mutex
	entries   map[string]string
	lookupErr error
	forgetErr error
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]string)}
}

func (c *fakeCache) Lookup(_ context.Context, key string) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lookupErr != nil {
		return 0, false, c.lookupErr
	}
	v, ok := c.entries[key]
	if !ok {
		return 0, false, nil
	}
	if v == "-" {
		return 0, false, apperror.NotFound("token", "<redacted>")
	}
	id, _ := strconv.ParseInt(v, 10, 64)
	return id, true, nil
}

func (c *fakeCache) Remember(_ context.Context, key string, userID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok {
		c.entries[key] = strconv.FormatInt(userID, 10)
	}
	return nil
}

func (c *fakeCache) Forget(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.forgetErr != nil {
		return c.forgetErr
	}
	c.entries[key] = "-"
	return nil
}

func (c *fakeCache) Close() error { return nil }

// countingRecorder records every event it sees.
type countingRecorder struct {
	mu     sync.Mutex
	events map[string]int
	cache  map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{events: map[string]int{}, cache: map[string]int{}}
}

func (r *countingRecorder) AuthEvent(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[e]++
}

func (r *countingRecorder) TokenCacheLookup(res string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[res]++
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testServices bundles a fully wired service graph over one fake store.
type testServices struct {
	store     *fakeStore
	cache     *fakeCache // nil unless built with newTestServicesWithCache
	tokens    *TokenRegistry
	auth      *AuthService
	accounts  *AccountService
	directory *DirectoryService
	recorder  *countingRecorder
}

func newTestServices(t *testing.T) *testServices {
	t.Helper()
	return buildTestServices(newFakeStore(), nil)
}

func newTestServicesWithCache(t *testing.T) *testServices {
	t.Helper()
	return buildTestServices(newFakeStore(), newFakeCache())
}

func buildTestServices(store *fakeStore, cache *fakeCache) *testServices {
	logger := discardLogger()
	rec := newCountingRecorder()

	var tc repository.TokenCache
	if cache != nil {
		tc = cache
	}

	tokens := NewTokenRegistry(store, tc, logger).WithRecorder(rec)
	// bcrypt.MinCost keeps the tests fast
	passwords := auth.NewPasswordService(bcrypt.MinCost)

	return &testServices{
		store:     store,
		cache:     cache,
		tokens:    tokens,
		auth:      NewAuthService(store, tokens, passwords, auth.DefaultPolicy(8), logger).WithRecorder(rec),
		accounts:  NewAccountService(store.Users(), logger),
		directory: NewDirectoryService(store.Users()),
		recorder:  rec,
	}
}

// identityOf builds the identity a request authenticated as u would carry.
func identityOf(u *model.User) auth.Identity {
	return auth.Identity{User: u, Token: "test-token"}
}
