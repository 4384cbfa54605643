// Package common defines shared constants and sentinel errors used across
// the transport, service and repository layers of authkeeper. Callers should
// use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrorValidation   = errors.New("validation error")

	// Access token errors (invalid signature, malformed, wrong issuer/audience, expired).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	// Refresh token lifecycle errors.
	ErrRefreshTokenExpired     = errors.New("refresh token expired")
	ErrRefreshTokenUsed        = errors.New("refresh token already used")
	ErrRefreshTokenInvalidated = errors.New("refresh token invalidated")
	ErrRefreshTokenNotLive     = errors.New("refresh token is not live")
)
