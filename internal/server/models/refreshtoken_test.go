package models

import (
	"testing"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/stretchr/testify/assert"
)

func TestRefreshToken_Validate(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	past := now.Add(-time.Second)

	tests := []struct {
		name  string
		token RefreshToken
		want  error
	}{
		{name: "live", token: RefreshToken{ExpiresAt: future}, want: nil},
		{name: "expires exactly now is still live", token: RefreshToken{ExpiresAt: now}, want: nil},
		{name: "expired", token: RefreshToken{ExpiresAt: past}, want: common.ErrRefreshTokenExpired},
		{name: "used", token: RefreshToken{ExpiresAt: future, Used: true}, want: common.ErrRefreshTokenUsed},
		{name: "invalidated", token: RefreshToken{ExpiresAt: future, Invalidated: true}, want: common.ErrRefreshTokenInvalidated},
		{name: "used and invalidated reports used", token: RefreshToken{ExpiresAt: future, Used: true, Invalidated: true}, want: common.ErrRefreshTokenUsed},
		{name: "expired wins over flags", token: RefreshToken{ExpiresAt: past, Used: true, Invalidated: true}, want: common.ErrRefreshTokenExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.token.Validate(now))
			assert.Equal(t, tt.want == nil, tt.token.IsLive(now))
		})
	}
}
