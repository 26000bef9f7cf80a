package security

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/athebyme/minimall/pkg/interfaces"
	"github.com/athebyme/minimall/pkg/reqctx"
)

const (
	CSRFHeader    = "X-CSRF-Token"
	CSRFCookie    = "csrf_token"
	SessionCookie = "minimall_sid"
)

// CSRFClaims токен привязан к сессии браузера
type CSRFClaims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
}

// CSRFManager выпускает и проверяет CSRF-токены
type CSRFManager struct {
	tokens       *hmacTokens
	secureCookie bool
	logger       interfaces.LoggerPort
}

// NewCSRFManager создает менеджер. secureCookie выставляет флаг Secure у cookie
func NewCSRFManager(secret string, ttl time.Duration, secureCookie bool, logger interfaces.LoggerPort) (*CSRFManager, error) {
	tokens, err := newHMACTokens(secret, "minimall-csrf", ttl)
	if err != nil {
		return nil, err
	}
	return &CSRFManager{tokens: tokens, secureCookie: secureCookie, logger: logger}, nil
}

// Issue выпускает токен для сессии
func (m *CSRFManager) Issue(sessionID string) (string, time.Time, error) {
	registered, expiresAt := m.tokens.registered(sessionID)
	token, err := m.tokens.sign(CSRFClaims{RegisteredClaims: registered, SessionID: sessionID})
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// Validate проверяет подпись, срок и принадлежность токена сессии
func (m *CSRFManager) Validate(token, sessionID string) error {
	var claims CSRFClaims
	if err := m.tokens.parse(token, &claims); err != nil {
		return err
	}
	if sessionID == "" || subtle.ConstantTimeCompare([]byte(claims.SessionID), []byte(sessionID)) != 1 {
		return ErrInvalidToken
	}
	return nil
}

// IssueForRequest выпускает токен для сессии запроса, создавая сессию при необходимости,
// и выставляет cookie сессии и токена
func (m *CSRFManager) IssueForRequest(w http.ResponseWriter, r *http.Request) (string, time.Time, error) {
	sessionID := ""
	if c, err := r.Cookie(SessionCookie); err == nil {
		sessionID = c.Value
	}
	if _, err := uuid.Parse(sessionID); err != nil {
		sessionID = uuid.NewString()
	}

	token, expiresAt, err := m.Issue(sessionID)
	if err != nil {
		return "", time.Time{}, err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	// токен читает JavaScript и возвращает в заголовке
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookie,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		Secure:   m.secureCookie,
		SameSite: http.SameSiteStrictMode,
	})
	return token, expiresAt, nil
}

func safeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}

// Middleware проверяет double-submit: заголовок X-CSRF-Token должен совпадать с cookie
// и быть выпущен для сессии из cookie minimall_sid
func (m *CSRFManager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if safeMethod(r.Method) {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get(CSRFHeader)
		cookie, err := r.Cookie(CSRFCookie)
		if header == "" || err != nil || subtle.ConstantTimeCompare([]byte(header), []byte(cookie.Value)) != 1 {
			m.reject(w, r, "csrf token mismatch")
			return
		}

		sessionID := ""
		if c, err := r.Cookie(SessionCookie); err == nil {
			sessionID = c.Value
		}
		if err := m.Validate(header, sessionID); err != nil {
			m.reject(w, r, err.Error())
			return
		}

		next.ServeHTTP(w, r.WithContext(reqctx.WithSessionID(r.Context(), sessionID)))
	})
}

func (m *CSRFManager) reject(w http.ResponseWriter, r *http.Request, reason string) {
	m.logger.WarnWithContext(r.Context(), "CSRF-проверка не пройдена",
		interfaces.LogField{Key: "reason", Value: reason},
		interfaces.LogField{Key: "path", Value: r.URL.Path})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error":   "forbidden",
		"code":    http.StatusForbidden,
		"message": "CSRF token is missing or invalid",
	})
}
