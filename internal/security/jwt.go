package security

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

const minSecretLength = 16

// hmacTokens подписывает короткоживущие токены HS256 с фиксированным issuer
type hmacTokens struct {
	secret     []byte
	issuer     string
	expiration time.Duration
	now        func() time.Time
}

func newHMACTokens(secret, issuer string, expiration time.Duration) (*hmacTokens, error) {
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("%s secret must be at least %d bytes", issuer, minSecretLength)
	}
	if expiration <= 0 {
		return nil, fmt.Errorf("%s token expiration must be positive", issuer)
	}
	return &hmacTokens{secret: []byte(secret), issuer: issuer, expiration: expiration, now: time.Now}, nil
}

// registered заполняет стандартные поля токена
func (m *hmacTokens) registered(subject string) (jwt.RegisteredClaims, time.Time) {
	now := m.now()
	expiresAt := now.Add(m.expiration)
	return jwt.RegisteredClaims{
		ID:        randomID(),
		Issuer:    m.issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}, expiresAt
}

func (m *hmacTokens) sign(claims jwt.Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

func (m *hmacTokens) parse(tokenString string, claims jwt.Claims) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpiredToken
		}
		return ErrInvalidToken
	}
	if !token.Valid {
		return ErrInvalidToken
	}
	return nil
}

func randomID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// RandomSecret генерирует секрет для окружений, где он не задан в конфигурации.
// Токены, подписанные таким секретом, не переживают перезапуск
func RandomSecret() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
