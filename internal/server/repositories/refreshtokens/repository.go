// Package refreshtokens declares the refresh-credential store contract and
// its in-memory, PostgreSQL and Redis implementations.
//
// All implementations are safe for concurrent use. Operations on different
// tokens never block each other beyond a single record update; operations on
// the same token are serialized so that Rotate consumes a live token at most
// once.
package refreshtokens

import (
	"context"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
)

// Repository owns refresh-credential records.
type Repository interface {
	// Create generates a fresh random token for userID, bound to the access
	// token id tokenID, stores it as live and returns the record.
	Create(ctx context.Context, userID string, tokenID string) (*models.RefreshToken, error)

	// FindByToken returns a copy of the record, or common.ErrorNotFound.
	FindByToken(ctx context.Context, token string) (*models.RefreshToken, error)

	// MarkUsed sets Used on the record. It reports false when the token does not exist.
	MarkUsed(ctx context.Context, token string) (bool, error)

	// Invalidate sets Invalidated on the record regardless of its state.
	// It reports false when the token does not exist.
	Invalidate(ctx context.Context, token string) (bool, error)

	// InvalidateAllForIdentity sets Invalidated on every record owned by
	// userID. All records are flagged or none are.
	InvalidateAllForIdentity(ctx context.Context, userID string) error

	// Rotate atomically consumes token (which must be live and owned by
	// userID) and stores a new live record for userID bound to tokenID.
	// It returns common.ErrRefreshTokenNotLive when token cannot be consumed.
	Rotate(ctx context.Context, token string, userID string, tokenID string) (*models.RefreshToken, error)
}

// Option tunes a repository implementation.
type Option func(*settings)

type settings struct {
	validity time.Duration
	now      func() time.Time
}

// DefaultValidity is the refresh-token lifetime used when none is configured.
const DefaultValidity = 7 * 24 * time.Hour

// WithValidity sets how long new tokens stay live.
func WithValidity(d time.Duration) Option {
	return func(s *settings) { s.validity = d }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

func newSettings(opts []Option) settings {
	s := settings{validity: DefaultValidity, now: time.Now}
	for _, o := range opts {
		o(&s)
	}
	return s
}

// newRecord builds a live record with a fresh random token.
func (s settings) newRecord(userID, tokenID string) (*models.RefreshToken, error) {
	token, err := common.MakeRandBase64String(common.RefreshTokenSize)
	if err != nil {
		return nil, err
	}
	created := s.now().UTC()
	return &models.RefreshToken{
		Token:     token,
		TokenID:   tokenID,
		UserID:    userID,
		CreatedAt: created,
		ExpiresAt: created.Add(s.validity),
	}, nil
}
