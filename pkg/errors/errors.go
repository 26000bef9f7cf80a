// Package errors содержит общие ошибки, которые разделяют адаптеры и сервисы
package errors

import "errors"

// ----------------- общие ------------------
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("version conflict")
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

// ----------------- кэш ------------------
var (
	ErrCacheMiss   = errors.New("cache miss")
	ErrLockTimeout = errors.New("lock acquisition timed out")
)

// ----------------- загрузки ------------------
var (
	ErrUploadNotFound     = errors.New("upload session not found")
	ErrUploadInvalidChunk = errors.New("invalid upload chunk")
	ErrUploadTooLarge     = errors.New("upload exceeds maximum file size")
	ErrUploadContentType  = errors.New("content type is not allowed")
)

// ----------------- интеграции ------------------
var (
	ErrUnknownProvider = errors.New("unknown import provider")
	ErrInvalidState    = errors.New("invalid oauth state")
	ErrNotConfigured   = errors.New("integration is not configured")
)

// Is, As и Join проксируются, чтобы пакет можно было импортировать вместо стандартного
var (
	Is   = errors.Is
	As   = errors.As
	New  = errors.New
	Join = errors.Join
)
