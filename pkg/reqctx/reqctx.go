// Package reqctx хранит значения запроса в контексте под приватными ключами
package reqctx

import (
	"context"

	"github.com/athebyme/minimall/pkg/interfaces"
)

type key int

const (
	requestIDKey key = iota
	traceIDKey
	shopDomainKey
	principalKey
	sessionIDKey
)

// WithRequestID добавляет ID запроса в контекст
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID возвращает ID запроса или пустую строку
func RequestID(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

func TraceID(ctx context.Context) string {
	v, _ := ctx.Value(traceIDKey).(string)
	return v
}

// WithShopDomain добавляет домен магазина в контекст
func WithShopDomain(ctx context.Context, shopDomain string) context.Context {
	return context.WithValue(ctx, shopDomainKey, shopDomain)
}

// ShopDomain возвращает домен магазина из контекста
func ShopDomain(ctx context.Context) string {
	v, _ := ctx.Value(shopDomainKey).(string)
	return v
}

// WithPrincipal добавляет аутентифицированного пользователя в контекст
func WithPrincipal(ctx context.Context, p *interfaces.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// Principal возвращает пользователя или nil
func Principal(ctx context.Context) *interfaces.Principal {
	v, _ := ctx.Value(principalKey).(*interfaces.Principal)
	return v
}

// UserID возвращает ID пользователя, если он аутентифицирован
func UserID(ctx context.Context) string {
	if p := Principal(ctx); p != nil {
		return p.UserID
	}
	return ""
}

func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

func SessionID(ctx context.Context) string {
	v, _ := ctx.Value(sessionIDKey).(string)
	return v
}
