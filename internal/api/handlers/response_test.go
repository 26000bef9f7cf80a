package handlers

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/athebyme/minimall/pkg/auth"
	apperrors "github.com/athebyme/minimall/pkg/errors"
	"github.com/athebyme/minimall/pkg/interfaces"
)

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("bad: %w", apperrors.ErrValidation), http.StatusBadRequest, "validation_error"},
		{apperrors.ErrUploadNotFound, http.StatusNotFound, "upload_not_found"},
		{apperrors.ErrUploadInvalidChunk, http.StatusBadRequest, "invalid_chunk"},
		{apperrors.ErrUploadTooLarge, http.StatusRequestEntityTooLarge, "upload_too_large"},
		{apperrors.ErrUploadContentType, http.StatusUnsupportedMediaType, "unsupported_content_type"},
		{fmt.Errorf("%w: vk", apperrors.ErrUnknownProvider), http.StatusNotFound, "unknown_provider"},
		{apperrors.ErrNotFound, http.StatusNotFound, "not_found"},
		{apperrors.ErrConflict, http.StatusConflict, "conflict"},
		{apperrors.ErrLockTimeout, http.StatusConflict, "busy"},
		{apperrors.ErrInvalidState, http.StatusBadRequest, "invalid_state"},
		{apperrors.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
		{apperrors.ErrForbidden, http.StatusForbidden, "forbidden"},
		{apperrors.ErrNotConfigured, http.StatusServiceUnavailable, "not_configured"},
		{fmt.Errorf("shopify: %w", context.DeadlineExceeded), http.StatusGatewayTimeout, "timeout"},
		{fmt.Errorf("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			status, code := errorStatus(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestResolveShop(t *testing.T) {
	merchant := &interfaces.Principal{ShopDomain: "demo.myshopify.com", Roles: []string{auth.RoleMerchant}}
	admin := &interfaces.Principal{Roles: []string{auth.RoleAdmin}}

	shop, err := resolveShop(merchant, "")
	assert.NoError(t, err)
	assert.Equal(t, "demo.myshopify.com", shop)

	shop, err = resolveShop(merchant, "https://DEMO.myshopify.com/")
	assert.NoError(t, err)
	assert.Equal(t, "demo.myshopify.com", shop)

	_, err = resolveShop(merchant, "other")
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	_, err = resolveShop(merchant, "not a shop!")
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	shop, err = resolveShop(admin, "other.myshopify.com")
	assert.NoError(t, err)
	assert.Equal(t, "other.myshopify.com", shop)

	_, err = resolveShop(admin, "")
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	_, err = resolveShop(nil, "")
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}
