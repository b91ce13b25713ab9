package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"authsvc/internal/auth"
	"authsvc/internal/auth/authtest"
	"authsvc/internal/config"
)

type fakeLimiter struct {
	mu        sync.Mutex
	banned    bool
	cooldowns map[string]time.Duration
	failures  int
}

func newFakeLimiter() *fakeLimiter {
	return &fakeLimiter{cooldowns: map[string]time.Duration{}}
}

func (f *fakeLimiter) IsIPBanned(context.Context, string) bool { return f.banned }

func (f *fakeLimiter) RegisterLoginFailure(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures++
	return nil
}

func (f *fakeLimiter) ResetLogin(context.Context, string) {}

func (f *fakeLimiter) RegisterVerifyAttempt(context.Context, string) (bool, time.Duration, error) {
	return false, 0, nil
}

func (f *fakeLimiter) ResetVerify(context.Context, string) {}

func (f *fakeLimiter) RegisterResetAttempt(context.Context, string, string) (bool, time.Duration, error) {
	return false, 0, nil
}

func (f *fakeLimiter) RegisterRegisterAttempt(context.Context, string, string) (bool, time.Duration, error) {
	return false, 0, nil
}

func (f *fakeLimiter) CooldownTTL(_ context.Context, key string) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cooldowns[key]
}

func (f *fakeLimiter) SetCooldown(_ context.Context, key string, ttl time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cooldowns[key] = ttl
}

type sentMail struct {
	To      string
	Subject string
	Text    string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

func (f *fakeMailer) Send(_ context.Context, to, subject, text, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMail{To: to, Subject: subject, Text: text})
	return nil
}

func (f *fakeMailer) all() []sentMail {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentMail, len(f.sent))
	copy(out, f.sent)
	return out
}

type fakeAuditor struct {
	mu     sync.Mutex
	events []auth.AuditEvent
}

func (f *fakeAuditor) Log(_ context.Context, e auth.AuditEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return nil
}

type testEnv struct {
	srv     *Server
	handler http.Handler
	store   *authtest.Store
	limiter *fakeLimiter
	mailer  *fakeMailer
	audit   *fakeAuditor
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := config.Config{
		BaseURL:       "http://localhost:3000",
		SessionSecret: "test-secret",
		SessionTTL:    time.Hour,
	}
	store := authtest.NewStore()
	hasher := auth.NewBcryptHasher()
	limiter := newFakeLimiter()
	mailer := &fakeMailer{}
	audit := &fakeAuditor{}

	srv := NewServer(cfg, store, auth.NewReconciler(store, hasher), auth.NewTokenCodec(cfg.SessionSecret, cfg.SessionTTL), limiter, nil, mailer, audit, hasher)
	return &testEnv{
		srv:     srv,
		handler: srv.Router(),
		store:   store,
		limiter: limiter,
		mailer:  mailer,
		audit:   audit,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "203.0.113.7:51234"
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.SessionCookieName && c.Value != "" {
			return c
		}
	}
	return nil
}

func (e *testEnv) mintCookie(t *testing.T, user auth.SessionUser) *http.Cookie {
	t.Helper()
	token, err := e.srv.Tokens.Mint(user)
	require.NoError(t, err)
	return &http.Cookie{Name: auth.SessionCookieName, Value: token}
}

func TestRegisterLoginFlow(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/auth/register", map[string]string{
		"name":     "Ada Lovelace",
		"email":    "a@x.com",
		"password": "Str0ng!pw",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	user, ok := body["user"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "a@x.com", user["email"])
	_, leaked := user["password"]
	assert.False(t, leaked, "password must never appear in responses")

	// Duplicate email conflicts and leaves the first record intact.
	rec = env.do(t, http.MethodPost, "/auth/register", map[string]string{
		"name":     "Impostor",
		"email":    "a@x.com",
		"password": "otherpw",
	}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	stored, err := env.store.FindUserByEmail(context.Background(), "a@x.com")
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.NotNil(t, stored.Name)
	assert.Equal(t, "Ada Lovelace", *stored.Name)
	require.NotNil(t, stored.PasswordHash)
	assert.NotEqual(t, "Str0ng!pw", *stored.PasswordHash)

	// Wrong password and unknown email fail identically.
	recWrong := env.do(t, http.MethodPost, "/auth/login", map[string]string{
		"email":    "a@x.com",
		"password": "wrongpw",
	}, nil)
	recUnknown := env.do(t, http.MethodPost, "/auth/login", map[string]string{
		"email":    "nobody@x.com",
		"password": "Str0ng!pw",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, recWrong.Code)
	assert.Equal(t, http.StatusUnauthorized, recUnknown.Code)
	assert.JSONEq(t, recWrong.Body.String(), recUnknown.Body.String())
	assert.Nil(t, sessionCookie(recWrong))

	rec = env.do(t, http.MethodPost, "/auth/login", map[string]string{
		"email":    "a@x.com",
		"password": "Str0ng!pw",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotNil(t, sessionCookie(rec))

	body = decodeBody(t, rec)
	sess, ok := body["user"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, sess["isPasswordSet"])
	assert.Equal(t, false, sess["isEmailVerified"])
	assert.Nil(t, sess["isLinked"])
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/auth/register", map[string]string{
		"name":     "x",
		"email":    "not-an-email",
		"password": "abc",
	}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body := decodeBody(t, rec)
	details, ok := body["details"].(map[string]interface{})
	require.True(t, ok, "validation failures carry field details")
	assert.Contains(t, details, "name")
	assert.Contains(t, details, "email")
	assert.Contains(t, details, "password")

	// Nothing was created.
	user, err := env.store.FindUserByEmail(context.Background(), "not-an-email")
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestLoginBannedIP(t *testing.T) {
	env := newTestEnv(t)
	env.limiter.banned = true

	rec := env.do(t, http.MethodPost, "/auth/login", map[string]string{
		"email":    "a@x.com",
		"password": "Str0ng!pw",
	}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMe(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/auth/user/me", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	env.store.Seed(auth.User{ID: "u1", Email: "a@x.com", Role: auth.RoleUser, PasswordSet: true})
	cookie := env.mintCookie(t, auth.SessionUser{ID: "u1", Email: "a@x.com", Role: auth.RoleUser})

	rec = env.do(t, http.MethodGet, "/auth/user/me", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	user := body["user"].(map[string]interface{})
	assert.Equal(t, "a@x.com", user["email"])
	assert.Equal(t, true, user["isPasswordSet"], "session reflects store, not the minted snapshot")

	// Token for a user that no longer exists.
	ghost := env.mintCookie(t, auth.SessionUser{ID: "gone", Email: "gone@x.com", Role: auth.RoleUser})
	rec = env.do(t, http.MethodGet, "/auth/user/me", nil, ghost)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBearerTokenAccepted(t *testing.T) {
	env := newTestEnv(t)
	env.store.Seed(auth.User{ID: "u1", Email: "a@x.com", Role: auth.RoleUser})

	token, err := env.srv.Tokens.Mint(auth.SessionUser{ID: "u1", Email: "a@x.com", Role: auth.RoleUser})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/auth/user/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSetPasswordOnce(t *testing.T) {
	env := newTestEnv(t)
	env.store.Seed(auth.User{ID: "u1", Email: "oauth@x.com", Role: auth.RoleUser, EmailVerified: true})
	cookie := env.mintCookie(t, auth.SessionUser{ID: "u1", Email: "oauth@x.com", Role: auth.RoleUser})

	rec := env.do(t, http.MethodPut, "/auth/user", "first-password", cookie)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	stored, err := env.store.FindUserByEmail(context.Background(), "oauth@x.com")
	require.NoError(t, err)
	require.NotNil(t, stored.PasswordHash)
	assert.True(t, stored.PasswordSet)
	firstHash := *stored.PasswordHash

	// Second attempt conflicts and preserves the first hash.
	rec = env.do(t, http.MethodPut, "/auth/user", "second-password", cookie)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	stored, err = env.store.FindUserByEmail(context.Background(), "oauth@x.com")
	require.NoError(t, err)
	assert.Equal(t, firstHash, *stored.PasswordHash)
}

func TestSetPasswordValidation(t *testing.T) {
	env := newTestEnv(t)
	env.store.Seed(auth.User{ID: "u1", Email: "oauth@x.com", Role: auth.RoleUser})
	cookie := env.mintCookie(t, auth.SessionUser{ID: "u1", Email: "oauth@x.com", Role: auth.RoleUser})

	rec := env.do(t, http.MethodPut, "/auth/user", "abc", cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPut, "/auth/user", strings.Repeat("a", 101), cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPut, "/auth/user", "validpw", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminUsersRequiresRole(t *testing.T) {
	env := newTestEnv(t)
	env.store.Seed(auth.User{ID: "u1", Email: "user@x.com", Role: auth.RoleUser})
	env.store.Seed(auth.User{ID: "a1", Email: "admin@x.com", Role: auth.RoleAdmin})

	userCookie := env.mintCookie(t, auth.SessionUser{ID: "u1", Email: "user@x.com", Role: auth.RoleUser})
	rec := env.do(t, http.MethodGet, "/auth/admin/users", nil, userCookie)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	adminCookie := env.mintCookie(t, auth.SessionUser{ID: "a1", Email: "admin@x.com", Role: auth.RoleAdmin})
	rec = env.do(t, http.MethodGet, "/auth/admin/users", nil, adminCookie)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	users, ok := body["users"].([]interface{})
	require.True(t, ok)
	assert.Len(t, users, 2)
}

func TestProtectedRedirect(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/protected", nil, nil)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))

	env.store.Seed(auth.User{ID: "u1", Email: "a@x.com", Role: auth.RoleUser})
	cookie := env.mintCookie(t, auth.SessionUser{ID: "u1", Email: "a@x.com", Role: auth.RoleUser})
	rec = env.do(t, http.MethodGet, "/protected", nil, cookie)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/protected/settings", nil, nil)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
}

func TestLogoutClearsCookie(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/auth/logout", nil, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	var cleared bool
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.SessionCookieName && c.MaxAge < 0 {
			cleared = true
		}
	}
	assert.True(t, cleared, "logout must expire the session cookie")
}

func TestOAuthStartUnknownProvider(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/auth/oauth/github/start", nil, nil)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "http://localhost:3000/auth/signin?error=provider_unavailable", rec.Header().Get("Location"))
}
