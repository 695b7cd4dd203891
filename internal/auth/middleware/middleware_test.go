package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-assessment/internal/rbac"
)

func TestJWTMiddlewarePutsCallerInContext(t *testing.T) {
	a := NewAuthService("s3cret")
	tok, err := a.IssueJWT("user-7", "teacher", time.Hour)
	require.NoError(t, err)

	var sub, role string
	var exp time.Time
	h := JWTMiddleware(a)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sub = SubjectFromContext(r.Context())
		role = rbac.RoleFromContext(r.Context())
		exp, _ = ExpiresAt(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-7", sub)
	assert.Equal(t, "teacher", role)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, time.Minute)

	assert.Equal(t, "", SubjectFromContext(context.Background()))
	_, ok := ExpiresAt(WithSubject(context.Background(), "u"))
	assert.False(t, ok)
}

func TestJWTMiddlewareRejects(t *testing.T) {
	a := NewAuthService("s3cret")
	expired, err := a.IssueJWT("u", "student", -time.Minute)
	require.NoError(t, err)
	foreign, err := NewAuthService("other").IssueJWT("u", "student", time.Hour)
	require.NoError(t, err)
	noSub, err := a.IssueJWT("", "student", time.Hour)
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "u", "exp": time.Now().Add(time.Hour).Unix()}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	h := JWTMiddleware(a)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("handler must not run")
	}))
	for name, header := range map[string]string{
		"missing":  "",
		"basic":    "Basic dTpw",
		"garbage":  "Bearer not-a-jwt",
		"expired":  "Bearer " + expired,
		"foreign":  "Bearer " + foreign,
		"no sub":   "Bearer " + noSub,
		"alg none": "Bearer " + none,
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, name)
	}
}
