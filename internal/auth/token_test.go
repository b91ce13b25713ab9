package auth_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"authsvc/internal/auth"
)

func sampleSessionUser() auth.SessionUser {
	name := "Ada Lovelace"
	provider := "google"
	return auth.SessionUser{
		ID:            "user-1",
		Email:         "ada@example.com",
		Role:          auth.RoleUser,
		Name:          &name,
		EmailVerified: true,
		PasswordSet:   false,
		Linked:        &provider,
	}
}

func TestTokenRoundTrip(t *testing.T) {
	t.Parallel()

	codec := auth.NewTokenCodec("test-secret", time.Hour)
	want := sampleSessionUser()

	raw, err := codec.Mint(want)
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	got, err := codec.Decode(raw)
	require.NoError(t, err)

	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Email, got.Email)
	assert.Equal(t, want.Role, got.Role)
	require.NotNil(t, got.Name)
	assert.Equal(t, *want.Name, *got.Name)
	assert.True(t, got.EmailVerified)
	assert.False(t, got.PasswordSet)
	require.NotNil(t, got.Linked)
	assert.Equal(t, "google", *got.Linked)
}

func TestTokenExpires(t *testing.T) {
	t.Parallel()

	codec := auth.NewTokenCodec("test-secret", time.Millisecond)
	raw, err := codec.Mint(sampleSessionUser())
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	_, err = codec.Decode(raw)
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)
}

func TestTokenWrongSecret(t *testing.T) {
	t.Parallel()

	minter := auth.NewTokenCodec("secret-a", time.Hour)
	raw, err := minter.Mint(sampleSessionUser())
	require.NoError(t, err)

	verifier := auth.NewTokenCodec("secret-b", time.Hour)
	_, err = verifier.Decode(raw)
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)
}

func TestTokenGarbage(t *testing.T) {
	t.Parallel()

	codec := auth.NewTokenCodec("test-secret", time.Hour)
	for _, raw := range []string{"", "not-a-token", "a.b.c"} {
		_, err := codec.Decode(raw)
		assert.ErrorIs(t, err, auth.ErrTokenInvalid)
	}
}

func TestTokenDefaultMaxAge(t *testing.T) {
	t.Parallel()

	codec := auth.NewTokenCodec("test-secret", 0)
	assert.Equal(t, 24*time.Hour, codec.MaxAge())
}
