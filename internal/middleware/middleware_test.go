package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte(GetUserID(r.Context()).String()))
}

func TestJWTMiddleware(t *testing.T) {
	auth := NewJWTAuth("test-secret")
	userID := uuid.New()
	token, err := auth.GenerateAccessToken(userID, "a@b.co")
	require.NoError(t, err)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID.String(),
		"exp":     time.Now().Add(-time.Minute).Unix(),
	})
	expiredStr, err := expired.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	otherKey, err := NewJWTAuth("other-secret").GenerateAccessToken(userID, "a@b.co")
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"valid", "Bearer " + token, http.StatusOK, userID.String()},
		{"missing", "", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"wrong scheme", "Token " + token, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"expired", "Bearer " + expiredStr, http.StatusUnauthorized, "TOKEN_EXPIRED"},
		{"wrong key", "Bearer " + otherKey, http.StatusUnauthorized, "UNAUTHORIZED"},
	}

	h := auth.Middleware(http.HandlerFunc(okHandler))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			assert.Equal(t, tt.status, rr.Code)
			assert.Contains(t, rr.Body.String(), tt.body)
		})
	}
}

func TestRateLimiterByUser(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute, ByUser)
	h := rl.Middleware(http.HandlerFunc(okHandler))

	alice, bob := uuid.New(), uuid.New()
	call := func(id uuid.UUID) int {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req = req.WithContext(WithUserID(req.Context(), id))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}

	assert.Equal(t, http.StatusOK, call(alice))
	assert.Equal(t, http.StatusOK, call(alice))
	assert.Equal(t, http.StatusTooManyRequests, call(alice))
	assert.Equal(t, http.StatusOK, call(bob))
}

func TestRateLimiterWindowResets(t *testing.T) {
	now := time.Now()
	rl := NewRateLimiter(1, time.Second, nil)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.allow("k"))
	assert.False(t, rl.allow("k"))

	now = now.Add(2 * time.Second)
	assert.True(t, rl.allow("k"))
}

func TestRequestID(t *testing.T) {
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, "abc", rr.Header().Get("X-Request-ID"))
}
