package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replyflow/replyflow/internal/tenant"
)

const testSecret = "test-secret"

func TestGenerateTokenRoundTrip(t *testing.T) {
	signed, expiresAt, err := GenerateToken("u1", "t1", testSecret, time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	parsed, err := jwt.Parse(signed, func(token *jwt.Token) (any, error) {
		return []byte(testSecret), nil
	})
	require.NoError(t, err)
	claims := parsed.Claims.(jwt.MapClaims)
	assert.Equal(t, "u1", claims["user_id"])
	assert.Equal(t, "t1", claims["tenant_id"])
}

func TestGenerateTokenValidation(t *testing.T) {
	_, _, err := GenerateToken("", "t1", testSecret, time.Hour)
	require.Error(t, err)

	_, _, err = GenerateToken("u1", "", testSecret, time.Hour)
	require.Error(t, err)

	_, _, err = GenerateToken("u1", "t1", "", time.Hour)
	require.Error(t, err)

	_, _, err = GenerateToken("u1", "t1", testSecret, 0)
	require.Error(t, err)
}

type fakeUsers struct {
	user tenant.User
	err  error
}

func (f *fakeUsers) GetUserByEmail(context.Context, string) (tenant.User, error) {
	return f.user, f.err
}

func TestAuthenticateSuccess(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)

	users := &fakeUsers{user: tenant.User{ID: "u1", TenantID: "t1", Email: "a@b.c", PasswordHash: hash}}
	login := NewLogin(nil, users, testSecret, time.Hour)

	session, err := login.Authenticate(context.Background(), "a@b.c", "hunter2")
	require.NoError(t, err)
	assert.NotEmpty(t, session.Token)
	assert.Equal(t, "u1", session.UserID)
	assert.Equal(t, "t1", session.TenantID)
}

func TestAuthenticateWrongPassword(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)

	users := &fakeUsers{user: tenant.User{ID: "u1", TenantID: "t1", PasswordHash: hash}}
	login := NewLogin(nil, users, testSecret, time.Hour)

	_, err = login.Authenticate(context.Background(), "a@b.c", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticateUnknownEmail(t *testing.T) {
	users := &fakeUsers{err: tenant.ErrNotFound}
	login := NewLogin(nil, users, testSecret, time.Hour)

	_, err := login.Authenticate(context.Background(), "nobody@b.c", "hunter2")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}
