// ABOUTME: Tests for JWT verification and identity extraction
// ABOUTME: Covers claim validation, expiry, and role checks

package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret-key")

func TestVerifyValidToken(t *testing.T) {
	v := NewJWTVerifier(testSecret)

	token, err := v.Generate("user-123", RoleUser, "Dana Tenant", time.Hour)
	require.NoError(t, err)

	id, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-123", id.UserID)
	assert.Equal(t, RoleUser, id.Role)
	assert.Equal(t, "Dana Tenant", id.Name)
	assert.False(t, id.IsAgent())
}

func TestVerifyAgentToken(t *testing.T) {
	v := NewJWTVerifier(testSecret)

	token, err := v.Generate("agent-7", RoleAgent, "", time.Hour)
	require.NoError(t, err)

	id, err := v.Verify(token)
	require.NoError(t, err)
	assert.True(t, id.IsAgent())
	assert.Empty(t, id.Name)
}

func TestVerifyExpiredToken(t *testing.T) {
	v := NewJWTVerifier(testSecret)

	token, err := v.Generate("user-123", RoleUser, "", -time.Minute)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestVerifyWrongSecret(t *testing.T) {
	v := NewJWTVerifier(testSecret)
	other := NewJWTVerifier([]byte("some-other-secret"))

	token, err := other.Generate("user-123", RoleUser, "", time.Hour)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyGarbageToken(t *testing.T) {
	v := NewJWTVerifier(testSecret)

	_, err := v.Verify("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyMissingSubClaim(t *testing.T) {
	v := NewJWTVerifier(testSecret)

	claims := jwt.MapClaims{
		"role": RoleUser,
		"exp":  time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrMissingClaim)
}

func TestVerifyMissingRoleClaim(t *testing.T) {
	v := NewJWTVerifier(testSecret)

	claims := jwt.MapClaims{
		"sub": "user-123",
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrMissingClaim)
}

func TestVerifyUnknownRole(t *testing.T) {
	v := NewJWTVerifier(testSecret)

	claims := jwt.MapClaims{
		"sub":  "user-123",
		"role": "superuser",
		"exp":  time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsUnsignedToken(t *testing.T) {
	v := NewJWTVerifier(testSecret)

	claims := jwt.MapClaims{
		"sub":  "user-123",
		"role": RoleUser,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.Error(t, err)
}
