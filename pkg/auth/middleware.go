package auth

import (
	"context"
	"net/http"
	"strings"

	apperrors "github.com/athebyme/minimall/pkg/errors"
	"github.com/athebyme/minimall/pkg/interfaces"
	"github.com/athebyme/minimall/pkg/reqctx"
)

const (
	// RoleMerchant разрешает управлять конфигурациями своего магазина
	RoleMerchant = "merchant"
	// RoleAdmin разрешает управлять любым магазином
	RoleAdmin = "admin"
)

// AuthMiddleware промежуточное ПО для проверки Bearer токенов
func AuthMiddleware(validator interfaces.AuthPort, logger interfaces.LoggerPort) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Authorization header is required", http.StatusUnauthorized)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
				http.Error(w, "Invalid authorization format", http.StatusUnauthorized)
				return
			}

			principal, err := validator.ValidateToken(r.Context(), parts[1])
			if err != nil {
				logger.WarnWithContext(r.Context(), "Невалидный токен",
					interfaces.LogField{Key: "error", Value: err.Error()})
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			ctx := reqctx.WithPrincipal(r.Context(), principal)
			if principal.ShopDomain != "" {
				ctx = reqctx.WithShopDomain(ctx, principal.ShopDomain)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAnyRole проверяет наличие хотя бы одной роли из списка
func RequireAnyRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := reqctx.Principal(r.Context())
			if principal == nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			for _, role := range roles {
				if principal.HasRole(role) {
					next.ServeHTTP(w, r)
					return
				}
			}

			http.Error(w, "Forbidden", http.StatusForbidden)
		})
	}
}

// StaticTokenAuth проверяет токены по фиксированному списку.
// Используется, когда Keycloak отключен (локальная разработка)
type StaticTokenAuth map[string]*interfaces.Principal

func (s StaticTokenAuth) ValidateToken(_ context.Context, token string) (*interfaces.Principal, error) {
	p, ok := s[token]
	if !ok {
		return nil, apperrors.ErrUnauthorized
	}
	return p, nil
}
