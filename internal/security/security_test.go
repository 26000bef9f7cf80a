package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/athebyme/minimall/internal/adapters/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestCSRFIssueValidate(t *testing.T) {
	m, err := NewCSRFManager(testSecret, time.Hour, false, logger.NewNop())
	require.NoError(t, err)

	token, expiresAt, err := m.Issue("sid-1")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	assert.NoError(t, m.Validate(token, "sid-1"))
	assert.ErrorIs(t, m.Validate(token, "sid-2"), ErrInvalidToken)
	assert.ErrorIs(t, m.Validate(token, ""), ErrInvalidToken)
	assert.ErrorIs(t, m.Validate(token+"x", "sid-1"), ErrInvalidToken)

	other, err := NewCSRFManager("another-secret-another-secret!!", time.Hour, false, logger.NewNop())
	require.NoError(t, err)
	assert.ErrorIs(t, other.Validate(token, "sid-1"), ErrInvalidToken)
}

func TestCSRFExpired(t *testing.T) {
	m, err := NewCSRFManager(testSecret, time.Minute, false, logger.NewNop())
	require.NoError(t, err)

	m.tokens.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, _, err := m.Issue("sid-1")
	require.NoError(t, err)

	m.tokens.now = time.Now
	assert.ErrorIs(t, m.Validate(token, "sid-1"), ErrExpiredToken)
}

func TestNewManagersRejectShortSecrets(t *testing.T) {
	_, err := NewCSRFManager("short", time.Hour, false, logger.NewNop())
	assert.Error(t, err)
	_, err = NewStateManager("short", time.Hour)
	assert.Error(t, err)
	assert.Len(t, RandomSecret(), 64)
}

func TestCSRFMiddleware(t *testing.T) {
	m, err := NewCSRFManager(testSecret, time.Hour, false, logger.NewNop())
	require.NoError(t, err)

	// выпуск токена выставляет обе cookie
	rec := httptest.NewRecorder()
	token, _, err := m.IssueForRequest(rec, httptest.NewRequest(http.MethodGet, "/api/csrf", nil))
	require.NoError(t, err)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 2)

	protected := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	newReq := func(method, header string) *http.Request {
		req := httptest.NewRequest(method, "/api/upload/initiate", nil)
		for _, c := range cookies {
			req.AddCookie(c)
		}
		if header != "" {
			req.Header.Set(CSRFHeader, header)
		}
		return req
	}

	tests := []struct {
		name   string
		req    *http.Request
		status int
	}{
		{"safe method skips check", httptest.NewRequest(http.MethodGet, "/", nil), http.StatusNoContent},
		{"missing header", newReq(http.MethodPost, ""), http.StatusForbidden},
		{"header differs from cookie", newReq(http.MethodPost, "forged"), http.StatusForbidden},
		{"valid double submit", newReq(http.MethodPost, token), http.StatusNoContent},
		{"no cookies", func() *http.Request {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			req.Header.Set(CSRFHeader, token)
			return req
		}(), http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			protected.ServeHTTP(rec, tt.req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestCSRFIssueForRequestKeepsSession(t *testing.T) {
	m, err := NewCSRFManager(testSecret, time.Hour, true, logger.NewNop())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/csrf", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "3f0e4a52-8a51-4c39-9f6a-0d7e0e6b2c11"})
	rec := httptest.NewRecorder()

	token, _, err := m.IssueForRequest(rec, req)
	require.NoError(t, err)
	assert.NoError(t, m.Validate(token, "3f0e4a52-8a51-4c39-9f6a-0d7e0e6b2c11"))
	for _, c := range rec.Result().Cookies() {
		assert.True(t, c.Secure)
	}
}

func TestStateManager(t *testing.T) {
	m, err := NewStateManager(testSecret, 10*time.Minute)
	require.NoError(t, err)

	state, err := m.Issue("demo.myshopify.com", "instagram", "u1")
	require.NoError(t, err)

	claims, err := m.Verify(state)
	require.NoError(t, err)
	assert.Equal(t, "demo.myshopify.com", claims.ShopDomain)
	assert.Equal(t, "instagram", claims.Provider)
	assert.Equal(t, "u1", claims.UserID)

	_, err = m.Verify("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)

	// CSRF-токен не принимается как state
	csrf, err := NewCSRFManager(testSecret, time.Hour, false, logger.NewNop())
	require.NoError(t, err)
	token, _, err := csrf.Issue("sid")
	require.NoError(t, err)
	_, err = m.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
