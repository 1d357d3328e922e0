// ABOUTME: Tests for the HTTP auth middleware and token extraction
// ABOUTME: Covers header and query-parameter credentials plus role gating

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenFromRequestHeader(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Authorization", "Bearer abc123")

	token, errMsg := TokenFromRequest(r)
	assert.Empty(t, errMsg)
	assert.Equal(t, "abc123", token)
}

func TestTokenFromRequestQueryParam(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?token=abc123", nil)

	token, errMsg := TokenFromRequest(r)
	assert.Empty(t, errMsg)
	assert.Equal(t, "abc123", token)
}

func TestTokenFromRequestHeaderWins(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?token=from-query", nil)
	r.Header.Set("Authorization", "Bearer from-header")

	token, errMsg := TokenFromRequest(r)
	assert.Empty(t, errMsg)
	assert.Equal(t, "from-header", token)
}

func TestTokenFromRequestMissing(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)

	_, errMsg := TokenFromRequest(r)
	assert.NotEmpty(t, errMsg)
}

func TestTokenFromRequestMalformedHeader(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")

	_, errMsg := TokenFromRequest(r)
	assert.NotEmpty(t, errMsg)
}

func TestMiddlewareAttachesIdentity(t *testing.T) {
	v := NewJWTVerifier(testSecret)
	token, err := v.Generate("user-1", RoleUser, "Dana", time.Hour)
	require.NoError(t, err)

	var got *Identity
	handler := Middleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/api/chats", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, got)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, RoleUser, got.Role)
}

func TestMiddlewareRejectsBadToken(t *testing.T) {
	v := NewJWTVerifier(testSecret)

	handler := Middleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	r := httptest.NewRequest(http.MethodGet, "/api/chats", nil)
	r.Header.Set("Authorization", "Bearer garbage")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMiddlewareRejectsMissingCredentials(t *testing.T) {
	v := NewJWTVerifier(testSecret)

	handler := Middleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	r := httptest.NewRequest(http.MethodGet, "/api/chats", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireAgent(t *testing.T) {
	v := NewJWTVerifier(testSecret)

	handler := Middleware(v)(RequireAgent()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	agentToken, err := v.Generate("agent-1", RoleAgent, "", time.Hour)
	require.NoError(t, err)
	userToken, err := v.Generate("user-1", RoleUser, "", time.Hour)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/api/agents", nil)
	r.Header.Set("Authorization", "Bearer "+agentToken)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusNoContent, w.Code)

	r = httptest.NewRequest(http.MethodGet, "/api/agents", nil)
	r.Header.Set("Authorization", "Bearer "+userToken)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestFromContextMissing(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Nil(t, FromContext(r.Context()))
}
