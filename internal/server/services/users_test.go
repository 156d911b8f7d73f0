package services

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/avoronov/userdir/internal/common"
	"github.com/avoronov/userdir/internal/dbx"
	"github.com/avoronov/userdir/internal/logging"
	"github.com/avoronov/userdir/internal/server/auth"
	"github.com/avoronov/userdir/internal/server/config"
	"github.com/avoronov/userdir/internal/server/models"
	usersrepo "github.com/avoronov/userdir/internal/server/repositories/users"
)

// --- helpers ---

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newService(t *testing.T, db *sql.DB, repo *fakeUsersRepo, c *fakeCache) *UserService {
	t.Helper()
	cfg := &config.Config{
		SecretKey:             "k",
		JWTAlgorithm:          "HS256",
		TokenValidityDuration: time.Hour,
		CacheTTL:              time.Minute,
	}
	return NewUserService(db, &fakeRepoManager{u: repo}, c, testLogger(), cfg)
}

// fakeUsersRepo keeps users in a map keyed by id and records the order of
// mutating calls in the shared call log.
type fakeUsersRepo struct {
	byID   map[int64]*models.User
	nextID int64
	calls  *[]string

	createErr error
	getErr    error
	listErr   error
	updateErr error
	deleteErr error

	listCalls int
}

func newFakeUsersRepo(calls *[]string) *fakeUsersRepo {
	return &fakeUsersRepo{byID: make(map[int64]*models.User), nextID: 1, calls: calls}
}

func (f *fakeUsersRepo) record(call string) {
	if f.calls != nil {
		*f.calls = append(*f.calls, call)
	}
}

func (f *fakeUsersRepo) Create(ctx context.Context, u *models.User) (*models.User, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	for _, existing := range f.byID {
		if existing.Email == u.Email {
			return nil, common.ErrorAlreadyExists
		}
	}
	u.ID = f.nextID
	f.nextID++
	u.CreatedAt = time.Now()
	f.byID[u.ID] = u
	f.record("store.create")
	return u, nil
}

func (f *fakeUsersRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, u := range f.byID {
		if u.Email == email {
			copy := *u
			return &copy, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeUsersRepo) GetByID(ctx context.Context, id int64) (*models.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	copy := *u
	return &copy, nil
}

func (f *fakeUsersRepo) List(ctx context.Context) ([]models.User, error) {
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	var result []models.User
	for id := int64(1); id < f.nextID; id++ {
		if u, ok := f.byID[id]; ok {
			result = append(result, *u)
		}
	}
	return result, nil
}

func (f *fakeUsersRepo) Update(ctx context.Context, u *models.User) (*models.User, error) {
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	if _, ok := f.byID[u.ID]; !ok {
		return nil, common.ErrorNotFound
	}
	for id, existing := range f.byID {
		if id != u.ID && existing.Email == u.Email {
			return nil, common.ErrorAlreadyExists
		}
	}
	copy := *u
	f.byID[u.ID] = &copy
	f.record("store.update")
	return u, nil
}

func (f *fakeUsersRepo) Delete(ctx context.Context, id int64) (*models.User, error) {
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	u, ok := f.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	delete(f.byID, id)
	f.record("store.delete")
	return u, nil
}

type fakeRepoManager struct {
	u *fakeUsersRepo
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *fakeRepoManager) Users(db dbx.DBTX) usersrepo.Repository      { return m.u }

// fakeCache is an in-memory Cache with injectable failures and a call log.
type fakeCache struct {
	entries map[string][]byte
	calls   *[]string

	getErr    error
	setErr    error
	deleteErr error

	deleteCalls int
}

func newFakeCache(calls *[]string) *fakeCache {
	return &fakeCache{entries: make(map[string][]byte), calls: calls}
}

func (f *fakeCache) record(call string) {
	if f.calls != nil {
		*f.calls = append(*f.calls, call)
	}
}

func (f *fakeCache) Get(ctx context.Context, key string) ([]byte, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	data, ok := f.entries[key]
	if !ok {
		return nil, common.ErrorCacheMiss
	}
	return data, nil
}

func (f *fakeCache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.entries[key] = val
	f.record("cache.set")
	return nil
}

func (f *fakeCache) Delete(ctx context.Context, key string) error {
	f.deleteCalls++
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.entries, key)
	f.record("cache.invalidate")
	return nil
}

func (f *fakeCache) Ping(ctx context.Context) error { return nil }
func (f *fakeCache) Close() error                   { return nil }

// --- Register / Login ---

func TestRegister_Success_InvalidatesAfterCommit(t *testing.T) {
	db, _ := newSQLMockDB(t)
	var calls []string
	repo := newFakeUsersRepo(&calls)
	c := newFakeCache(&calls)
	s := newService(t, db, repo, c)

	user, err := s.Register(context.Background(), "a@x.com", "password-1", "")
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if user.ID == 0 || user.Role != models.RoleUser {
		t.Fatalf("unexpected user: %+v", user)
	}
	if user.HashedPassword == "password-1" {
		t.Fatal("plaintext must never be stored")
	}

	want := []string{"store.create", "cache.invalidate"}
	if len(calls) != 2 || calls[0] != want[0] || calls[1] != want[1] {
		t.Fatalf("expected store commit before invalidation, got %v", calls)
	}
}

func TestRegister_DuplicateEmail_LeavesCacheUntouched(t *testing.T) {
	db, _ := newSQLMockDB(t)
	repo := newFakeUsersRepo(nil)
	c := newFakeCache(nil)
	s := newService(t, db, repo, c)

	if _, err := s.Register(context.Background(), "a@x.com", "password-1", ""); err != nil {
		t.Fatalf("first Register error: %v", err)
	}
	c.deleteCalls = 0

	_, err := s.Register(context.Background(), "a@x.com", "password-2", "")
	if !errors.Is(err, common.ErrorAlreadyExists) {
		t.Fatalf("expected ErrorAlreadyExists, got %v", err)
	}
	if c.deleteCalls != 0 {
		t.Fatal("failed registration must not invalidate the cache")
	}
	if len(repo.byID) != 1 {
		t.Fatal("failed registration must not leave a partial record")
	}
}

func TestRegister_Validation(t *testing.T) {
	db, _ := newSQLMockDB(t)
	s := newService(t, db, newFakeUsersRepo(nil), newFakeCache(nil))

	if _, err := s.Register(context.Background(), "not-an-email", "password-1", ""); !errors.Is(err, common.ErrorValidation) {
		t.Fatalf("expected ErrorValidation for bad email, got %v", err)
	}
	if _, err := s.Register(context.Background(), "a@x.com", "short", ""); !errors.Is(err, common.ErrorValidation) {
		t.Fatalf("expected ErrorValidation for short password, got %v", err)
	}
}

func TestLogin_IssuedTokenResolvesToSameIdentity(t *testing.T) {
	db, _ := newSQLMockDB(t)
	repo := newFakeUsersRepo(nil)
	s := newService(t, db, repo, newFakeCache(nil))
	ctx := context.Background()

	if _, err := s.Register(ctx, "a@x.com", "password-1", ""); err != nil {
		t.Fatalf("Register error: %v", err)
	}

	token, err := s.Login(ctx, "a@x.com", "password-1")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}

	user, err := s.ResolveToken(ctx, token)
	if err != nil {
		t.Fatalf("ResolveToken error: %v", err)
	}
	if user.Email != "a@x.com" {
		t.Fatalf("resolved wrong identity: %q", user.Email)
	}
}

func TestLogin_UnknownEmailAndWrongPassword_SameError(t *testing.T) {
	db, _ := newSQLMockDB(t)
	repo := newFakeUsersRepo(nil)
	s := newService(t, db, repo, newFakeCache(nil))
	ctx := context.Background()

	if _, err := s.Register(ctx, "a@x.com", "password-1", ""); err != nil {
		t.Fatalf("Register error: %v", err)
	}

	_, errUnknown := s.Login(ctx, "nobody@x.com", "password-1")
	_, errWrong := s.Login(ctx, "a@x.com", "wrong-password")

	if !errors.Is(errUnknown, common.ErrorInvalidCredentials) {
		t.Fatalf("unknown email: expected ErrorInvalidCredentials, got %v", errUnknown)
	}
	if !errors.Is(errWrong, common.ErrorInvalidCredentials) {
		t.Fatalf("wrong password: expected ErrorInvalidCredentials, got %v", errWrong)
	}
}

// --- Guard ---

func TestResolveToken_InvalidAndExpired(t *testing.T) {
	db, _ := newSQLMockDB(t)
	s := newService(t, db, newFakeUsersRepo(nil), newFakeCache(nil))
	ctx := context.Background()

	if _, err := s.ResolveToken(ctx, "garbage"); !errors.Is(err, common.ErrorUnauthorized) {
		t.Fatalf("expected ErrorUnauthorized for malformed token, got %v", err)
	}

	expired, err := auth.GenerateToken("a@x.com", []byte("k"), "HS256", -time.Second)
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}
	if _, err := s.ResolveToken(ctx, expired); !errors.Is(err, common.ErrorUnauthorized) {
		t.Fatalf("expected ErrorUnauthorized for expired token, got %v", err)
	}
}

func TestResolveToken_DeletedUserIsUnauthorized(t *testing.T) {
	db, _ := newSQLMockDB(t)
	repo := newFakeUsersRepo(nil)
	s := newService(t, db, repo, newFakeCache(nil))
	ctx := context.Background()

	user, err := s.Register(ctx, "a@x.com", "password-1", "")
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}
	token, err := s.Login(ctx, "a@x.com", "password-1")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}

	delete(repo.byID, user.ID)

	if _, err := s.ResolveToken(ctx, token); !errors.Is(err, common.ErrorUnauthorized) {
		t.Fatalf("expected ErrorUnauthorized after deletion, got %v", err)
	}
}

func TestRequireAdmin(t *testing.T) {
	if err := RequireAdmin(&models.User{Role: models.RoleUser}); !errors.Is(err, common.ErrorForbidden) {
		t.Fatalf("expected ErrorForbidden, got %v", err)
	}
	if err := RequireAdmin(&models.User{Role: models.RoleAdmin}); err != nil {
		t.Fatalf("unexpected error for admin: %v", err)
	}
}

// --- Read-through listing ---

func TestList_MissPopulatesCache_HitSkipsStore(t *testing.T) {
	db, _ := newSQLMockDB(t)
	repo := newFakeUsersRepo(nil)
	c := newFakeCache(nil)
	s := newService(t, db, repo, c)
	ctx := context.Background()

	if _, err := s.Register(ctx, "a@x.com", "password-1", ""); err != nil {
		t.Fatalf("Register error: %v", err)
	}

	first, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(first) != 1 || first[0].Email != "a@x.com" {
		t.Fatalf("unexpected listing: %+v", first)
	}
	if repo.listCalls != 1 {
		t.Fatalf("expected one store read, got %d", repo.listCalls)
	}

	second, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if repo.listCalls != 1 {
		t.Fatalf("cache hit must not hit the store, got %d reads", repo.listCalls)
	}
	if len(second) != 1 || second[0] != first[0] {
		t.Fatalf("cache hit must return the same snapshot: %+v vs %+v", second, first)
	}
}

func TestList_SnapshotExcludesDigests(t *testing.T) {
	db, _ := newSQLMockDB(t)
	repo := newFakeUsersRepo(nil)
	c := newFakeCache(nil)
	s := newService(t, db, repo, c)
	ctx := context.Background()

	if _, err := s.Register(ctx, "a@x.com", "password-1", ""); err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if _, err := s.List(ctx); err != nil {
		t.Fatalf("List error: %v", err)
	}

	snapshot := string(c.entries["all_users"])
	if snapshot == "" {
		t.Fatal("expected a cached snapshot")
	}
	for _, banned := range []string{"hashed_password", "$2a$", "HashedPassword"} {
		if containsSubstring(snapshot, banned) {
			t.Fatalf("snapshot leaks digest material (%q): %s", banned, snapshot)
		}
	}
}

func containsSubstring(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

func TestList_CacheReadFailureFallsBackToStore(t *testing.T) {
	db, _ := newSQLMockDB(t)
	repo := newFakeUsersRepo(nil)
	c := newFakeCache(nil)
	c.getErr = errors.New("redis down")
	s := newService(t, db, repo, c)
	ctx := context.Background()

	if _, err := s.Register(ctx, "a@x.com", "password-1", ""); err != nil {
		t.Fatalf("Register error: %v", err)
	}

	views, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List must degrade to the store, got %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("unexpected listing: %+v", views)
	}
}

func TestList_CacheWriteFailureDoesNotFailRequest(t *testing.T) {
	db, _ := newSQLMockDB(t)
	repo := newFakeUsersRepo(nil)
	c := newFakeCache(nil)
	s := newService(t, db, repo, c)
	ctx := context.Background()

	if _, err := s.Register(ctx, "a@x.com", "password-1", ""); err != nil {
		t.Fatalf("Register error: %v", err)
	}

	c.setErr = errors.New("redis down")
	if _, err := s.List(ctx); err != nil {
		t.Fatalf("List must tolerate a failed cache write, got %v", err)
	}
}

// --- Write-invalidate ---

func TestUpdate_Success_InvalidatesAfterCommit(t *testing.T) {
	db, mock := newSQLMockDB(t)
	var calls []string
	repo := newFakeUsersRepo(&calls)
	c := newFakeCache(&calls)
	s := newService(t, db, repo, c)
	ctx := context.Background()

	user, err := s.Register(ctx, "a@x.com", "password-1", "")
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}
	calls = calls[:0]

	mock.ExpectBegin()
	mock.ExpectCommit()

	newEmail := "b@x.com"
	updated, err := s.Update(ctx, user.ID, models.UserUpdate{Email: &newEmail})
	if err != nil {
		t.Fatalf("Update error: %v", err)
	}
	if updated.Email != "b@x.com" {
		t.Fatalf("unexpected updated user: %+v", updated)
	}

	if len(calls) != 2 || calls[0] != "store.update" || calls[1] != "cache.invalidate" {
		t.Fatalf("expected store commit before invalidation, got %v", calls)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("tx expectations: %v", err)
	}
}

func TestUpdate_NotFound_LeavesCacheUntouched(t *testing.T) {
	db, mock := newSQLMockDB(t)
	repo := newFakeUsersRepo(nil)
	c := newFakeCache(nil)
	s := newService(t, db, repo, c)

	mock.ExpectBegin()
	mock.ExpectRollback()

	newEmail := "b@x.com"
	_, err := s.Update(context.Background(), 404, models.UserUpdate{Email: &newEmail})
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("expected ErrorNotFound, got %v", err)
	}
	if c.deleteCalls != 0 {
		t.Fatal("failed update must not invalidate the cache")
	}
}

func TestUpdate_DuplicateEmail_LeavesCacheUntouched(t *testing.T) {
	db, mock := newSQLMockDB(t)
	repo := newFakeUsersRepo(nil)
	c := newFakeCache(nil)
	s := newService(t, db, repo, c)
	ctx := context.Background()

	if _, err := s.Register(ctx, "a@x.com", "password-1", ""); err != nil {
		t.Fatalf("Register error: %v", err)
	}
	second, err := s.Register(ctx, "b@x.com", "password-1", "")
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}
	c.deleteCalls = 0

	mock.ExpectBegin()
	mock.ExpectRollback()

	taken := "a@x.com"
	_, err = s.Update(ctx, second.ID, models.UserUpdate{Email: &taken})
	if !errors.Is(err, common.ErrorAlreadyExists) {
		t.Fatalf("expected ErrorAlreadyExists, got %v", err)
	}
	if c.deleteCalls != 0 {
		t.Fatal("failed update must not invalidate the cache")
	}
}

func TestDelete_Success_InvalidatesAfterCommit(t *testing.T) {
	db, _ := newSQLMockDB(t)
	var calls []string
	repo := newFakeUsersRepo(&calls)
	c := newFakeCache(&calls)
	s := newService(t, db, repo, c)
	ctx := context.Background()

	user, err := s.Register(ctx, "a@x.com", "password-1", "")
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}
	calls = calls[:0]

	deleted, err := s.Delete(ctx, user.ID)
	if err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if deleted.Email != "a@x.com" {
		t.Fatalf("unexpected deleted record: %+v", deleted)
	}

	if len(calls) != 2 || calls[0] != "store.delete" || calls[1] != "cache.invalidate" {
		t.Fatalf("expected store commit before invalidation, got %v", calls)
	}
}

func TestDelete_NotFound(t *testing.T) {
	db, _ := newSQLMockDB(t)
	c := newFakeCache(nil)
	s := newService(t, db, newFakeUsersRepo(nil), c)

	_, err := s.Delete(context.Background(), 404)
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("expected ErrorNotFound, got %v", err)
	}
	if c.deleteCalls != 0 {
		t.Fatal("failed delete must not invalidate the cache")
	}
}

func TestMutation_ListingReflectsChangeAfterInvalidation(t *testing.T) {
	db, mock := newSQLMockDB(t)
	repo := newFakeUsersRepo(nil)
	c := newFakeCache(nil)
	s := newService(t, db, repo, c)
	ctx := context.Background()

	user, err := s.Register(ctx, "a@x.com", "password-1", "")
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}

	// prime the cache
	if _, err := s.List(ctx); err != nil {
		t.Fatalf("List error: %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectCommit()

	newEmail := "b@x.com"
	if _, err := s.Update(ctx, user.ID, models.UserUpdate{Email: &newEmail}); err != nil {
		t.Fatalf("Update error: %v", err)
	}

	views, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(views) != 1 || views[0].Email != "b@x.com" {
		t.Fatalf("listing after mutation must reflect it, got %+v", views)
	}
	if repo.listCalls != 2 {
		t.Fatalf("second listing must have re-read the store, got %d reads", repo.listCalls)
	}
}

func TestInvalidationFailure_SurfacesAndRetries(t *testing.T) {
	db, _ := newSQLMockDB(t)
	repo := newFakeUsersRepo(nil)
	c := newFakeCache(nil)
	c.deleteErr = errors.New("redis down")
	s := newService(t, db, repo, c)

	_, err := s.Register(context.Background(), "a@x.com", "password-1", "")
	if err == nil {
		t.Fatal("expected registration to surface the failed invalidation")
	}
	// initial attempt plus the retry budget
	if c.deleteCalls != invalidateMaxRetries+1 {
		t.Fatalf("expected %d invalidation attempts, got %d", invalidateMaxRetries+1, c.deleteCalls)
	}
}

// --- full scenario ---

func TestScenario_PromoteUpdateAndListConsistency(t *testing.T) {
	db, mock := newSQLMockDB(t)
	repo := newFakeUsersRepo(nil)
	c := newFakeCache(nil)
	s := newService(t, db, repo, c)
	ctx := context.Background()

	user, err := s.Register(ctx, "a@x.com", "password-1", "")
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}
	token, err := s.Login(ctx, "a@x.com", "password-1")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}

	resolved, err := s.ResolveToken(ctx, token)
	if err != nil {
		t.Fatalf("ResolveToken error: %v", err)
	}
	if err := RequireAdmin(resolved); !errors.Is(err, common.ErrorForbidden) {
		t.Fatalf("non-admin must be forbidden, got %v", err)
	}

	// promote via direct store manipulation
	repo.byID[user.ID].Role = models.RoleAdmin

	resolved, err = s.ResolveToken(ctx, token)
	if err != nil {
		t.Fatalf("ResolveToken error: %v", err)
	}
	if err := RequireAdmin(resolved); err != nil {
		t.Fatalf("promoted user must pass the role check: %v", err)
	}

	views, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(views) != 1 || views[0].Email != "a@x.com" {
		t.Fatalf("unexpected listing: %+v", views)
	}

	mock.ExpectBegin()
	mock.ExpectCommit()

	newEmail := "b@x.com"
	if _, err := s.Update(ctx, user.ID, models.UserUpdate{Email: &newEmail}); err != nil {
		t.Fatalf("Update error: %v", err)
	}

	storeReads := repo.listCalls
	views, err = s.List(ctx)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if views[0].Email != "b@x.com" {
		t.Fatalf("listing must reflect the update, got %+v", views)
	}
	if repo.listCalls != storeReads+1 {
		t.Fatal("update must have invalidated the cached listing")
	}
}
