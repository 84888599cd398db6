package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/lilofinance/usermanager/internal/apperr"
	"github.com/lilofinance/usermanager/internal/auth"
	"github.com/lilofinance/usermanager/internal/messaging"
	"github.com/lilofinance/usermanager/internal/metrics"
	"github.com/lilofinance/usermanager/internal/model"
	"github.com/lilofinance/usermanager/internal/repository"
)

// fakeStore is an in-memory Store that counts calls.
type fakeStore struct {
	mu      sync.Mutex
	users   map[string]*model.User
	calls   int
	updates []model.UserUpdate
	err     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: make(map[string]*model.User)}
}

func (f *fakeStore) track() error {
	f.calls++
	return f.err
}

func (f *fakeStore) CreateUser(_ context.Context, user *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.track(); err != nil {
		return err
	}
	for _, u := range f.users {
		if u.Email == user.Email {
			return repository.ErrEmailExists
		}
	}
	now := time.Now().UTC()
	user.CreatedAt, user.UpdatedAt = now, now
	cp := *user
	f.users[user.ID] = &cp
	return nil
}

func (f *fakeStore) GetUserByID(_ context.Context, id string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.track(); err != nil {
		return nil, err
	}
	u, ok := f.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.track(); err != nil {
		return nil, err
	}
	for _, u := range f.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (f *fakeStore) UpdateUser(_ context.Context, id string, upd model.UserUpdate) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.track(); err != nil {
		return nil, err
	}
	u, ok := f.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	if upd.Email != nil {
		for otherID, other := range f.users {
			if otherID != id && other.Email == *upd.Email {
				return nil, repository.ErrEmailExists
			}
		}
		u.Email = *upd.Email
	}
	if upd.FullName != nil {
		u.FullName = *upd.FullName
	}
	if upd.PasswordHash != nil {
		u.PasswordHash = *upd.PasswordHash
	}
	u.UpdatedAt = u.UpdatedAt.Add(time.Second)
	f.updates = append(f.updates, upd)
	cp := *u
	return &cp, nil
}

func (f *fakeStore) DeleteUser(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.track(); err != nil {
		return err
	}
	if _, ok := f.users[id]; !ok {
		return repository.ErrUserNotFound
	}
	delete(f.users, id)
	return nil
}

func (f *fakeStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []messaging.Event
}

func (p *recordingPublisher) PublishAsync(e messaging.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) types() []messaging.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]messaging.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type testEnv struct {
	svc     *UserService
	store   *fakeStore
	pub     *recordingPublisher
	metrics *metrics.InMemoryRecorder
	tokens  *auth.TokenService
	now     time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	hasher, err := auth.NewBcryptHasher(bcrypt.MinCost)
	require.NoError(t, err)
	tokens, err := auth.NewTokenService([]byte("service-test-secret"), time.Hour)
	require.NoError(t, err)

	env := &testEnv{
		store:   newFakeStore(),
		pub:     &recordingPublisher{},
		metrics: metrics.NewInMemory(),
		tokens:  tokens,
		now:     time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env.svc, err = NewUserService(env.store, hasher, tokens, env.pub, logger, env.metrics)
	require.NoError(t, err)
	env.svc.SetClock(func() time.Time { return env.now })
	return env
}

func (e *testEnv) signup(t *testing.T, email, password string) *model.User {
	t.Helper()
	u, err := e.svc.Signup(context.Background(), model.CreateUserRequest{
		Email: email, Password: password, FullName: "Test User",
	})
	require.NoError(t, err)
	return u
}

func patch(t *testing.T, body string) model.PatchUserRequest {
	t.Helper()
	var req model.PatchUserRequest
	require.NoError(t, json.Unmarshal([]byte(body), &req))
	return req
}

func requireKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, apperr.KindOf(err), "error: %v", err)
}

func TestSignup(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	u := env.signup(t, " Alice@Example.COM ", "s3cret")

	assert.NotEmpty(t, u.ID)
	assert.Equal(t, "alice@example.com", u.Email)
	assert.Equal(t, model.RoleUser, u.Role)
	assert.NotEqual(t, "s3cret", u.PasswordHash)
	ok, err := auth.VerifyPassword("s3cret", u.PasswordHash)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, uint64(1), env.metrics.Snapshot().Signups)
	assert.Equal(t, []messaging.EventType{messaging.EventUserCreated}, env.pub.types())
}

func TestSignup_DuplicateEmail(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	env.signup(t, "a@b.com", "pw")
	_, err := env.svc.Signup(context.Background(), model.CreateUserRequest{
		Email: "A@B.com", Password: "pw2", FullName: "Other",
	})

	requireKind(t, err, apperr.KindConflict)
	status, msg := apperr.Public(err)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, apperr.MessageEmailExists, msg)
}

func TestSignup_ValidationFailsBeforeStore(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	_, err := env.svc.Signup(context.Background(), model.CreateUserRequest{
		Email: "not-an-email", Password: "pw", FullName: "X",
	})

	requireKind(t, err, apperr.KindUnprocessable)
	assert.Zero(t, env.store.callCount())
}

func TestLogin_Success(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	u := env.signup(t, "a@b.com", "pw")

	tok, err := env.svc.Login(context.Background(), model.LoginRequest{Email: " A@B.COM", Password: "pw"})
	require.NoError(t, err)

	subject, err := env.tokens.Verify(tok.Value, env.now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, u.ID, subject)
	assert.True(t, env.now.Add(time.Hour).Equal(tok.ExpiresAt), "expires at %v", tok.ExpiresAt)
	assert.Equal(t, uint64(1), env.metrics.Snapshot().Logins[metrics.LoginSuccess])
}

func TestLogin_EnumerationParity(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.signup(t, "a@b.com", "pw")

	_, unknownErr := env.svc.Login(context.Background(), model.LoginRequest{Email: "nobody@b.com", Password: "pw"})
	_, wrongErr := env.svc.Login(context.Background(), model.LoginRequest{Email: "a@b.com", Password: "wrong"})

	requireKind(t, unknownErr, apperr.KindUnauthorized)
	requireKind(t, wrongErr, apperr.KindUnauthorized)

	s1, m1 := apperr.Public(unknownErr)
	s2, m2 := apperr.Public(wrongErr)
	assert.Equal(t, s1, s2)
	assert.Equal(t, m1, m2)
	assert.Equal(t, http.StatusUnauthorized, s1)
	assert.Equal(t, apperr.MessageInvalidCredentials, m1)

	snap := env.metrics.Snapshot()
	assert.Equal(t, uint64(2), snap.Logins[metrics.LoginFailure])
	assert.GreaterOrEqual(t, snap.HashDurationCount, uint64(3), "unknown email still runs a verification")
}

func TestLogin_CorruptHashFailsClosed(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	u := env.signup(t, "a@b.com", "pw")
	env.store.users[u.ID].PasswordHash = "$2a$99$" + "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

	_, err := env.svc.Login(context.Background(), model.LoginRequest{Email: "a@b.com", Password: "pw"})
	requireKind(t, err, apperr.KindUnauthorized)
}

func TestLogin_StoreFailureIsInternal(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.store.err = errors.New("connection refused: password=hunter2")

	_, err := env.svc.Login(context.Background(), model.LoginRequest{Email: "a@b.com", Password: "pw"})

	requireKind(t, err, apperr.KindInternal)
	status, msg := apperr.Public(err)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, apperr.MessageInternal, msg)
}

func TestChangePassword_CorruptHashIsInternal(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	u := env.signup(t, "a@b.com", "pw")
	corrupt := "$2a$99$" + "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	env.store.users[u.ID].PasswordHash = corrupt

	_, err := env.svc.ChangePassword(context.Background(), u.ID, "pw", "new-pw")

	requireKind(t, err, apperr.KindInternal)
	status, msg := apperr.Public(err)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, apperr.MessageInternal, msg)
	assert.Equal(t, corrupt, env.store.users[u.ID].PasswordHash)
}

func TestChangePassword_SamePasswordSkipsStore(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	u := env.signup(t, "a@b.com", "pw")
	before := env.store.callCount()

	_, err := env.svc.ChangePassword(context.Background(), u.ID, "pw", "pw")

	requireKind(t, err, apperr.KindUnprocessable)
	assert.Equal(t, before, env.store.callCount(), "no store interaction expected")
}

func TestChangePassword_WrongOldPasswordLeavesCredential(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	u := env.signup(t, "a@b.com", "pw")
	original := env.store.users[u.ID].PasswordHash

	_, err := env.svc.ChangePassword(context.Background(), u.ID, "not-pw", "new-pw")

	requireKind(t, err, apperr.KindUnauthorized)
	_, msg := apperr.Public(err)
	assert.Equal(t, apperr.MessageInvalidPassword, msg)
	assert.Equal(t, original, env.store.users[u.ID].PasswordHash)
	assert.Empty(t, env.store.updates)
}

func TestChangePassword_MissingPrincipal(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	_, err := env.svc.ChangePassword(context.Background(), "ghost", "a", "b")

	requireKind(t, err, apperr.KindNotFound)
	assert.ErrorIs(t, err, repository.ErrUserNotFound)
}

func TestChangePassword_Success(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	u := env.signup(t, "a@b.com", "pw")

	updated, err := env.svc.ChangePassword(context.Background(), u.ID, "pw", "new-pw")
	require.NoError(t, err)
	assert.True(t, updated.UpdatedAt.After(u.UpdatedAt))

	_, err = env.svc.Login(context.Background(), model.LoginRequest{Email: "a@b.com", Password: "pw"})
	requireKind(t, err, apperr.KindUnauthorized)

	_, err = env.svc.Login(context.Background(), model.LoginRequest{Email: "a@b.com", Password: "new-pw"})
	require.NoError(t, err)

	assert.Equal(t, uint64(1), env.metrics.Snapshot().PasswordsChanged)
	assert.Contains(t, env.pub.types(), messaging.EventPasswordChanged)
}

// Mirrors the end-to-end account scenario: signup, login, change password,
// and the old password stops working.
func TestAccountScenario(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	created := env.signup(t, "a@b.com", "p1")

	tok, err := env.svc.Login(ctx, model.LoginRequest{Email: "a@b.com", Password: "p1"})
	require.NoError(t, err)
	id, err := env.tokens.Verify(tok.Value, env.now)
	require.NoError(t, err)
	assert.Equal(t, created.ID, id)

	_, err = env.svc.UpdateMe(ctx, id, patch(t, `{"old_password":"p1","new_password":"p1"}`))
	requireKind(t, err, apperr.KindUnprocessable)

	_, err = env.svc.UpdateMe(ctx, id, patch(t, `{"old_password":"wrong","new_password":"p2"}`))
	requireKind(t, err, apperr.KindUnauthorized)

	_, err = env.svc.UpdateMe(ctx, id, patch(t, `{"old_password":"p1","new_password":"p2"}`))
	require.NoError(t, err)

	_, err = env.svc.Login(ctx, model.LoginRequest{Email: "a@b.com", Password: "p1"})
	requireKind(t, err, apperr.KindUnauthorized)
	_, err = env.svc.Login(ctx, model.LoginRequest{Email: "a@b.com", Password: "p2"})
	require.NoError(t, err)
}

func TestUpdateMe_Profile(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	u := env.signup(t, "a@b.com", "pw")

	updated, err := env.svc.UpdateMe(context.Background(), u.ID, patch(t, `{"full_name":" Bob "}`))
	require.NoError(t, err)
	assert.Equal(t, "Bob", updated.FullName)
	assert.Equal(t, uint64(1), env.metrics.Snapshot().UsersUpdated["profile"])
	assert.Contains(t, env.pub.types(), messaging.EventUserUpdated)
}

func TestUpdateMe_EmailConflict(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.signup(t, "taken@b.com", "pw")
	u := env.signup(t, "a@b.com", "pw")

	_, err := env.svc.UpdateMe(context.Background(), u.ID, patch(t, `{"email":"TAKEN@b.com"}`))
	requireKind(t, err, apperr.KindConflict)
}

func TestUpdateMe_PrecedenceAppliesOnlyPassword(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	u := env.signup(t, "a@b.com", "pw")

	updated, err := env.svc.UpdateMe(context.Background(), u.ID,
		patch(t, `{"email":"new@b.com","full_name":"Bob","old_password":"pw","new_password":"pw2"}`))
	require.NoError(t, err)

	assert.Equal(t, "a@b.com", updated.Email)
	assert.Equal(t, "Test User", updated.FullName)
	require.Len(t, env.store.updates, 1)
	assert.NotNil(t, env.store.updates[0].PasswordHash)
	assert.Nil(t, env.store.updates[0].Email)
}

func TestUpdateMe_EmptyIsNoop(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	u := env.signup(t, "a@b.com", "pw")

	got, err := env.svc.UpdateMe(context.Background(), u.ID, patch(t, `{}`))
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Empty(t, env.store.updates)
}

func TestUpdateMe_NullRejected(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	u := env.signup(t, "a@b.com", "pw")

	_, err := env.svc.UpdateMe(context.Background(), u.ID, patch(t, `{"email":null}`))
	requireKind(t, err, apperr.KindUnprocessable)
}

func TestGetMe_NotFound(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	_, err := env.svc.GetMe(context.Background(), "ghost")
	requireKind(t, err, apperr.KindNotFound)
	status, msg := apperr.Public(err)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, apperr.MessageUserNotFound, msg)
}

func TestDeleteMe(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	u := env.signup(t, "a@b.com", "pw")

	require.NoError(t, env.svc.DeleteMe(context.Background(), u.ID))
	requireKind(t, env.svc.DeleteMe(context.Background(), u.ID), apperr.KindNotFound)

	assert.Equal(t, uint64(1), env.metrics.Snapshot().UsersDeleted)
	assert.Contains(t, env.pub.types(), messaging.EventUserDeleted)
}
