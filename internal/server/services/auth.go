// Package services contains server-side business logic. AuthService drives
// the credential lifecycle: login, refresh rotation, revocation and
// registration, on top of the identity and refresh-token repositories.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/cryptox"
	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/auth"
	"github.com/dmitrijs2005/authkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/users"
	"github.com/google/uuid"
)

// TokenPair is what a successful login or refresh hands to the client.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	UserName     string
}

// AuthService is safe for concurrent use. It holds no locks of its own;
// atomicity of refresh is delegated to refreshtokens.Repository.Rotate.
type AuthService struct {
	users          users.Repository
	tokens         refreshtokens.Repository
	hasher         cryptox.PasswordHasher
	codec          auth.TokenCodec
	accessValidity time.Duration
	logger         logging.Logger
	metrics        *metrics.Metrics
	now            func() time.Time

	dummyMu   sync.Mutex
	dummyHash string
}

// NewAuthService wires the service. m may be nil.
func NewAuthService(
	u users.Repository,
	t refreshtokens.Repository,
	hasher cryptox.PasswordHasher,
	codec auth.TokenCodec,
	accessValidity time.Duration,
	logger logging.Logger,
	m *metrics.Metrics,
) *AuthService {
	return &AuthService{
		users:          u,
		tokens:         t,
		hasher:         hasher,
		codec:          codec,
		accessValidity: accessValidity,
		logger:         logger.With("module", "auth_service"),
		metrics:        m,
		now:            time.Now,
	}
}

// Authenticate checks username and password and, on success, issues an
// access token and exactly one new refresh token. Unknown users and wrong
// passwords both yield common.ErrorUnauthorized.
func (s *AuthService) Authenticate(ctx context.Context, username, password string) (*TokenPair, error) {
	user, err := s.users.GetUserByLogin(ctx, username)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.burnVerify(ctx, password)
			return nil, s.reject(ctx, metrics.OpLogin, "unknown user")
		}
		return nil, s.fail(ctx, metrics.OpLogin, "identity lookup failed", err)
	}

	ok, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		s.logger.Warn(ctx, "stored password hash unusable", "user_id", user.ID, "error", err)
	}
	if !ok {
		return nil, s.reject(ctx, metrics.OpLogin, "password mismatch", "user_id", user.ID)
	}

	access, jti, err := s.issueAccessToken(user)
	if err != nil {
		return nil, s.fail(ctx, metrics.OpLogin, "access token signing failed", err)
	}

	rec, err := s.tokens.Create(ctx, user.ID, jti)
	if err != nil {
		return nil, s.fail(ctx, metrics.OpLogin, "refresh token store failed", err)
	}

	s.metrics.ObserveAuth(metrics.OpLogin, metrics.ResultSuccess)
	s.logger.Info(ctx, "login", "user_id", user.ID)
	return &TokenPair{AccessToken: access, RefreshToken: rec.Token, UserName: user.UserName}, nil
}

// Refresh exchanges a live refresh token for a new pair. The presented token
// is consumed atomically with storing its successor, so of several
// concurrent calls with the same token at most one succeeds. Any rejection
// leaves the store unchanged.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	rec, err := s.tokens.FindByToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, s.reject(ctx, metrics.OpRefresh, "unknown refresh token")
		}
		return nil, s.fail(ctx, metrics.OpRefresh, "refresh token lookup failed", err)
	}

	if err := rec.Validate(s.now()); err != nil {
		return nil, s.reject(ctx, metrics.OpRefresh, err.Error(), "user_id", rec.UserID)
	}

	user, err := s.users.GetUserByID(ctx, rec.UserID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, s.reject(ctx, metrics.OpRefresh, "identity no longer exists", "user_id", rec.UserID)
		}
		return nil, s.fail(ctx, metrics.OpRefresh, "identity lookup failed", err)
	}

	access, jti, err := s.issueAccessToken(user)
	if err != nil {
		return nil, s.fail(ctx, metrics.OpRefresh, "access token signing failed", err)
	}

	next, err := s.tokens.Rotate(ctx, refreshToken, user.ID, jti)
	if err != nil {
		if errors.Is(err, common.ErrRefreshTokenNotLive) {
			return nil, s.reject(ctx, metrics.OpRefresh, "refresh token consumed concurrently", "user_id", user.ID)
		}
		return nil, s.fail(ctx, metrics.OpRefresh, "refresh token rotation failed", err)
	}

	s.metrics.ObserveAuth(metrics.OpRefresh, metrics.ResultSuccess)
	s.logger.Info(ctx, "refresh", "user_id", user.ID)
	return &TokenPair{AccessToken: access, RefreshToken: next.Token, UserName: user.UserName}, nil
}

// Revoke invalidates a refresh token whatever its state. It reports false
// when the token is unknown. Repeated calls are harmless.
func (s *AuthService) Revoke(ctx context.Context, refreshToken string) (bool, error) {
	found, err := s.tokens.Invalidate(ctx, refreshToken)
	if err != nil {
		return false, s.fail(ctx, metrics.OpRevoke, "refresh token invalidation failed", err)
	}
	if !found {
		s.metrics.ObserveAuth(metrics.OpRevoke, metrics.ResultNotFound)
		return false, nil
	}
	s.metrics.ObserveAuth(metrics.OpRevoke, metrics.ResultSuccess)
	return true, nil
}

// RevokeAllForIdentity invalidates every refresh token of identityID.
func (s *AuthService) RevokeAllForIdentity(ctx context.Context, identityID string) error {
	if err := s.tokens.InvalidateAllForIdentity(ctx, identityID); err != nil {
		return s.fail(ctx, metrics.OpRevokeAll, "bulk invalidation failed", err)
	}
	s.metrics.ObserveAuth(metrics.OpRevokeAll, metrics.ResultSuccess)
	s.logger.Info(ctx, "revoked all refresh tokens", "user_id", identityID)
	return nil
}

// Register stores a new identity with an argon2id hash of password.
func (s *AuthService) Register(ctx context.Context, username, password string) (*models.User, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		s.metrics.ObserveAuth(metrics.OpRegister, metrics.ResultInvalid)
		return nil, fmt.Errorf("%w: username and password are required", common.ErrorValidation)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, s.fail(ctx, metrics.OpRegister, "password hashing failed", err)
	}

	user, err := s.users.Create(ctx, &models.User{UserName: username, PasswordHash: hash})
	if err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			s.metrics.ObserveAuth(metrics.OpRegister, metrics.ResultConflict)
			return nil, common.ErrorAlreadyExists
		}
		return nil, s.fail(ctx, metrics.OpRegister, "identity create failed", err)
	}

	s.metrics.ObserveAuth(metrics.OpRegister, metrics.ResultSuccess)
	s.logger.Info(ctx, "registered", "user_id", user.ID)
	return user, nil
}

// ValidateAccessToken decodes a bearer token. Any failure is reported as
// common.ErrorUnauthorized wrapping the codec error.
func (s *AuthService) ValidateAccessToken(_ context.Context, token string) (*auth.Claims, error) {
	claims, err := s.codec.Decode(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrorUnauthorized, err)
	}
	return claims, nil
}

// --- helpers below ---

func (s *AuthService) issueAccessToken(user *models.User) (string, string, error) {
	jti := uuid.NewString()
	now := s.now()
	token, err := s.codec.Encode(auth.Claims{
		SubjectID:   user.ID,
		SubjectName: user.UserName,
		TokenID:     jti,
		IssuedAt:    now,
		ExpiresAt:   now.Add(s.accessValidity),
	})
	if err != nil {
		return "", "", err
	}
	return token, jti, nil
}

// burnVerify spends the same work as a real verification so that unknown
// users cannot be told apart by response time.
func (s *AuthService) burnVerify(ctx context.Context, password string) {
	hash, err := s.dummy()
	if err != nil {
		s.logger.Error(ctx, "dummy hash unavailable", "error", err)
		return
	}
	_, _ = s.hasher.Verify(password, hash)
}

// dummy returns the cached dummy hash, computing it on first use. A failed
// attempt is not cached.
func (s *AuthService) dummy() (string, error) {
	s.dummyMu.Lock()
	defer s.dummyMu.Unlock()

	if s.dummyHash == "" {
		h, err := s.hasher.Hash(uuid.NewString())
		if err != nil {
			return "", err
		}
		s.dummyHash = h
	}
	return s.dummyHash, nil
}

func (s *AuthService) reject(ctx context.Context, op, reason string, args ...any) error {
	s.metrics.ObserveAuth(op, metrics.ResultUnauthorized)
	s.logger.Warn(ctx, op+" rejected", append([]any{"reason", reason}, args...)...)
	return common.ErrorUnauthorized
}

func (s *AuthService) fail(ctx context.Context, op, msg string, err error) error {
	s.metrics.ObserveAuth(op, metrics.ResultError)
	s.logger.Error(ctx, msg, "operation", op, "error", err)
	return fmt.Errorf("%w: %w", common.ErrorInternal, err)
}
