package auth_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"authsvc/internal/auth"
	"authsvc/internal/auth/authtest"
)

func newReconciler(t *testing.T) (*auth.Reconciler, *authtest.Store, auth.PasswordHasher) {
	t.Helper()
	store := authtest.NewStore()
	hasher := auth.NewBcryptHasher()
	return auth.NewReconciler(store, hasher), store, hasher
}

func seedCredentialUser(t *testing.T, store *authtest.Store, hasher auth.PasswordHasher, email, password string) auth.User {
	t.Helper()
	hash, err := hasher.Hash(password)
	require.NoError(t, err)
	name := "Test User"
	u := auth.User{
		ID:           "user-" + email,
		Name:         &name,
		Email:        email,
		PasswordHash: &hash,
		Role:         auth.RoleUser,
		PasswordSet:  true,
	}
	store.Seed(u)
	return u
}

func TestAuthenticateSuccess(t *testing.T) {
	t.Parallel()
	rec, store, hasher := newReconciler(t)
	seeded := seedCredentialUser(t, store, hasher, "a@x.com", "Str0ng!pw")

	user, err := rec.Authenticate(context.Background(), "a@x.com", "Str0ng!pw")
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, user.ID)
	assert.Equal(t, seeded.Email, user.Email)
}

// Unknown email, wrong password and a password-less OAuth account must be
// indistinguishable to the caller.
func TestAuthenticateUniformFailure(t *testing.T) {
	t.Parallel()
	rec, store, hasher := newReconciler(t)
	seedCredentialUser(t, store, hasher, "a@x.com", "Str0ng!pw")
	store.Seed(auth.User{ID: "oauth-user", Email: "oauth@x.com", Role: auth.RoleUser})

	cases := []struct {
		name     string
		email    string
		password string
	}{
		{"wrong password", "a@x.com", "wrongpw"},
		{"unknown email", "nobody@x.com", "Str0ng!pw"},
		{"oauth only account", "oauth@x.com", "Str0ng!pw"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			user, err := rec.Authenticate(context.Background(), tc.email, tc.password)
			assert.Nil(t, user)
			assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
		})
	}
}

func googleAssertion(sub string) auth.AccountAssertion {
	access := "ya29.token"
	scope := "openid email profile"
	return auth.AccountAssertion{
		Provider:          "google",
		ProviderAccountID: sub,
		AccessToken:       &access,
		Scope:             &scope,
	}
}

func TestReconcileOAuthFirstSignIn(t *testing.T) {
	t.Parallel()
	rec, store, _ := newReconciler(t)

	user, err := rec.ReconcileOAuth(context.Background(), auth.Identity{
		Email: "new@x.com",
		Name:  "New User",
		Image: "https://img.example/new.png",
	}, googleAssertion("sub-1"))
	require.NoError(t, err)

	assert.Equal(t, "new@x.com", user.Email)
	assert.Equal(t, auth.RoleUser, user.Role)
	assert.True(t, user.EmailVerified)
	assert.False(t, user.PasswordSet)
	assert.Nil(t, user.PasswordHash)

	accounts := store.Accounts()
	require.Len(t, accounts, 1)
	assert.Equal(t, user.ID, accounts[0].UserID)
	assert.Equal(t, "google", accounts[0].Provider)
	assert.Equal(t, "sub-1", accounts[0].ProviderAccountID)
}

func TestReconcileOAuthEmptyIdentity(t *testing.T) {
	t.Parallel()
	rec, _, _ := newReconciler(t)

	_, err := rec.ReconcileOAuth(context.Background(), auth.Identity{Email: "  "}, googleAssertion("sub-1"))
	assert.ErrorIs(t, err, auth.ErrNoIdentity)
}

// A rejected first sign-in must not leave a user row behind.
func TestReconcileOAuthRejectionLeavesNoOrphan(t *testing.T) {
	t.Parallel()

	t.Run("name too short", func(t *testing.T) {
		rec, store, _ := newReconciler(t)
		_, err := rec.ReconcileOAuth(context.Background(), auth.Identity{
			Email: "new@x.com",
			Name:  "x",
		}, googleAssertion("sub-1"))
		assert.ErrorIs(t, err, auth.ErrIdentityRejected)

		user, err := store.FindUserByEmail(context.Background(), "new@x.com")
		require.NoError(t, err)
		assert.Nil(t, user)
	})

	t.Run("missing provider account id", func(t *testing.T) {
		rec, store, _ := newReconciler(t)
		_, err := rec.ReconcileOAuth(context.Background(), auth.Identity{
			Email: "new@x.com",
			Name:  "New User",
		}, auth.AccountAssertion{Provider: "google"})
		assert.ErrorIs(t, err, auth.ErrAssertionRejected)

		user, err := store.FindUserByEmail(context.Background(), "new@x.com")
		require.NoError(t, err)
		assert.Nil(t, user)
	})
}

func TestReconcileOAuthExistingUserLinksAccount(t *testing.T) {
	t.Parallel()
	rec, store, hasher := newReconciler(t)
	seeded := seedCredentialUser(t, store, hasher, "a@x.com", "Str0ng!pw")

	user, err := rec.ReconcileOAuth(context.Background(), auth.Identity{
		Email: "a@x.com",
		Name:  "Test User",
		Image: "https://img.example/a.png",
	}, googleAssertion("sub-9"))
	require.NoError(t, err)

	assert.Equal(t, seeded.ID, user.ID)
	assert.True(t, user.EmailVerified, "oauth sign-in verifies the address")
	require.NotNil(t, user.Image)
	assert.Equal(t, "https://img.example/a.png", *user.Image)
	// Credential state is untouched by the link.
	assert.True(t, user.PasswordSet)
	require.NotNil(t, user.PasswordHash)
}

func TestReconcileOAuthRepeatSignInDoesNotDuplicate(t *testing.T) {
	t.Parallel()
	rec, store, _ := newReconciler(t)

	id := auth.Identity{Email: "new@x.com", Name: "New User"}
	first, err := rec.ReconcileOAuth(context.Background(), id, googleAssertion("sub-1"))
	require.NoError(t, err)

	refreshed := "ya29.newer"
	assertion := googleAssertion("sub-1")
	assertion.AccessToken = &refreshed
	second, err := rec.ReconcileOAuth(context.Background(), id, assertion)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	accounts := store.Accounts()
	require.Len(t, accounts, 1)
	require.NotNil(t, accounts[0].AccessToken)
	assert.Equal(t, "ya29.newer", *accounts[0].AccessToken)
}

// raceStore makes the initial lookup miss even though the row exists, so
// the create hits the unique constraint like a lost concurrent race.
type raceStore struct {
	*authtest.Store
	mu     sync.Mutex
	misses int
}

func (r *raceStore) FindUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	r.mu.Lock()
	if r.misses > 0 {
		r.misses--
		r.mu.Unlock()
		return nil, nil
	}
	r.mu.Unlock()
	return r.Store.FindUserByEmail(ctx, email)
}

func TestReconcileOAuthCreateRaceFallsBackToExisting(t *testing.T) {
	t.Parallel()

	inner := authtest.NewStore()
	inner.Seed(auth.User{ID: "winner", Email: "new@x.com", Role: auth.RoleUser, EmailVerified: true})
	store := &raceStore{Store: inner, misses: 1}
	rec := auth.NewReconciler(store, auth.NewBcryptHasher())

	user, err := rec.ReconcileOAuth(context.Background(), auth.Identity{
		Email: "new@x.com",
		Name:  "New User",
	}, googleAssertion("sub-1"))
	require.NoError(t, err)
	assert.Equal(t, "winner", user.ID)

	accounts := inner.Accounts()
	require.Len(t, accounts, 1)
	assert.Equal(t, "winner", accounts[0].UserID)
}

func TestHydrate(t *testing.T) {
	t.Parallel()
	rec, store, hasher := newReconciler(t)
	seeded := seedCredentialUser(t, store, hasher, "a@x.com", "Str0ng!pw")

	sess, err := rec.Hydrate(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, sess.ID)
	assert.Equal(t, auth.RoleUser, sess.Role)
	assert.True(t, sess.PasswordSet)
	assert.Nil(t, sess.Linked, "no linked account yet")

	store.SeedAccount(auth.Account{UserID: seeded.ID, Provider: "auth0", ProviderAccountID: "auth0|1"})
	sess, err = rec.Hydrate(context.Background(), "a@x.com")
	require.NoError(t, err)
	require.NotNil(t, sess.Linked)
	assert.Equal(t, "auth0", *sess.Linked)

	_, err = rec.Hydrate(context.Background(), "nobody@x.com")
	assert.ErrorIs(t, err, auth.ErrUserNotFound)
}

func TestVerificationTokenLifecycle(t *testing.T) {
	t.Parallel()
	store := authtest.NewStore()
	ctx := context.Background()

	_, err := store.CreateVerificationToken(ctx, "a@x.com", "tok-1", time.Now().Add(time.Hour))
	require.NoError(t, err)

	vt, err := store.GetVerificationToken(ctx, "tok-1")
	require.NoError(t, err)
	require.NotNil(t, vt)
	assert.Equal(t, "a@x.com", vt.Identifier)

	// Expired tokens are invisible.
	_, err = store.CreateVerificationToken(ctx, "b@x.com", "tok-2", time.Now().Add(-time.Minute))
	require.NoError(t, err)
	vt, err = store.GetVerificationToken(ctx, "tok-2")
	require.NoError(t, err)
	assert.Nil(t, vt)

	require.NoError(t, store.DeleteVerificationToken(ctx, "tok-1"))
	vt, err = store.GetVerificationToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.Nil(t, vt)
}
