// Package models holds the server-side records shared by services and repositories.
package models

import (
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
)

// RefreshToken is a single-use refresh credential. Token is the opaque
// secret handed to the client and the record's primary key; TokenID is the
// jti of the access token issued alongside it.
//
// Used and Invalidated only ever move from false to true.
type RefreshToken struct {
	Token       string
	TokenID     string
	UserID      string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Used        bool
	Invalidated bool
}

// Validate checks the record in a fixed order: expiry, then usage, then
// invalidation. It returns nil only for a live token.
func (t *RefreshToken) Validate(now time.Time) error {
	if t.ExpiresAt.Before(now) {
		return common.ErrRefreshTokenExpired
	}
	if t.Used {
		return common.ErrRefreshTokenUsed
	}
	if t.Invalidated {
		return common.ErrRefreshTokenInvalidated
	}
	return nil
}

// IsLive reports whether the token can still be exchanged at now.
func (t *RefreshToken) IsLive(now time.Time) bool {
	return t.Validate(now) == nil
}
