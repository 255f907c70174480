package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifeboat-sh/lifeboat/internal/config"
)

func TestHashPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	assert.NotContains(t, hash, "hunter2")

	assert.True(t, verifyPassword("hunter2", hash))
	assert.False(t, verifyPassword("hunter3", hash))
	assert.False(t, verifyPassword("hunter2", "not-a-valid-hash"))
}

func TestHashPasswordSaltsAreUnique(t *testing.T) {
	a, err := HashPassword("same")
	require.NoError(t, err)
	b, err := HashPassword("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	mgr, err := NewJWTManagerGenerated("lifeboat-test")
	require.NoError(t, err)
	return NewService(config.Auth{
		AdminEmail:        "admin@example.com",
		AdminPasswordHash: hash,
	}, mgr)
}

func TestLoginIssuesValidToken(t *testing.T) {
	svc := newTestService(t)

	token, err := svc.Login("admin@example.com", "correct horse")
	require.NoError(t, err)
	require.NotEmpty(t, token.AccessToken)
	assert.False(t, token.ExpiresAt.IsZero())

	claims, err := svc.ValidateAccessToken(token.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "admin@example.com", claims.Email)
	assert.Equal(t, "admin", claims.Role)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc := newTestService(t)

	// Wrong email and wrong password are indistinguishable to the caller.
	_, err := svc.Login("admin@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login("other@example.com", "correct horse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginWhenDisabled(t *testing.T) {
	mgr, err := NewJWTManagerGenerated("lifeboat-test")
	require.NoError(t, err)
	svc := NewService(config.Auth{}, mgr)

	assert.False(t, svc.Enabled())
	_, err = svc.Login("anyone@example.com", "anything")
	assert.ErrorIs(t, err, ErrAuthDisabled)
}

func TestValidateRejectsForeignToken(t *testing.T) {
	svc := newTestService(t)

	// A token signed by a different key pair must not validate.
	other, err := NewJWTManagerGenerated("lifeboat-test")
	require.NoError(t, err)
	foreign, _, err := other.GenerateAccessToken("admin@example.com", "admin")
	require.NoError(t, err)

	_, err = svc.ValidateAccessToken(foreign)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	_, err = svc.ValidateAccessToken("garbage.token.value")
	assert.ErrorIs(t, err, ErrTokenInvalid)
}
