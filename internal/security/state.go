package security

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// StateClaims содержимое state-параметра OAuth
type StateClaims struct {
	jwt.RegisteredClaims
	ShopDomain string `json:"shop"`
	Provider   string `json:"provider"`
	UserID     string `json:"uid,omitempty"`
}

// StateManager подписывает state для OAuth-импорта, чтобы callback нельзя было подделать
type StateManager struct {
	tokens *hmacTokens
}

func NewStateManager(secret string, ttl time.Duration) (*StateManager, error) {
	tokens, err := newHMACTokens(secret, "minimall-oauth-state", ttl)
	if err != nil {
		return nil, err
	}
	return &StateManager{tokens: tokens}, nil
}

// Issue выпускает state для магазина и провайдера
func (m *StateManager) Issue(shopDomain, provider, userID string) (string, error) {
	registered, _ := m.tokens.registered(shopDomain)
	token, err := m.tokens.sign(StateClaims{
		RegisteredClaims: registered,
		ShopDomain:       shopDomain,
		Provider:         provider,
		UserID:           userID,
	})
	if err != nil {
		return "", fmt.Errorf("failed to sign oauth state: %w", err)
	}
	return token, nil
}

// Verify проверяет state и возвращает его содержимое
func (m *StateManager) Verify(state string) (*StateClaims, error) {
	var claims StateClaims
	if err := m.tokens.parse(state, &claims); err != nil {
		return nil, err
	}
	return &claims, nil
}
