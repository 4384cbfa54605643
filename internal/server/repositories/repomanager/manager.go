// Package repomanager builds the identity and refresh-token repositories
// selected by configuration and owns the connections behind them.
package repomanager

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/config"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/users"
	"github.com/redis/go-redis/v9"
)

// RedisKeyPrefix namespaces every key written by the redis refresh backend.
const RedisKeyPrefix = "authkeeper"

type RepositoryManager interface {
	Users() users.Repository
	RefreshTokens() refreshtokens.Repository
	Close() error
}

// Manager is the RepositoryManager used by the server.
type Manager struct {
	db      *sql.DB
	redis   redis.UniversalClient
	users   users.Repository
	refresh refreshtokens.Repository
}

func (m *Manager) Users() users.Repository { return m.users }

func (m *Manager) RefreshTokens() refreshtokens.Repository { return m.refresh }

// DB returns the PostgreSQL pool, or nil when no backend needs one.
func (m *Manager) DB() *sql.DB { return m.db }

// Close releases the database pool and the redis client.
func (m *Manager) Close() error {
	var errs []error
	if m.redis != nil {
		errs = append(errs, m.redis.Close())
	}
	if m.db != nil {
		errs = append(errs, m.db.Close())
	}
	return errors.Join(errs...)
}

// NewManager opens the connections required by cfg, runs migrations when
// PostgreSQL is in use and constructs both repositories.
func NewManager(ctx context.Context, cfg *config.Config, logger logging.Logger) (_ *Manager, err error) {
	m := &Manager{}
	defer func() {
		if err != nil {
			_ = m.Close()
		}
	}()

	if cfg.NeedsDatabase() {
		m.db, err = openPostgres(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("db init error: %w", err)
		}
		if err := RunMigrations(ctx, m.db); err != nil {
			return nil, fmt.Errorf("migration error: %w", err)
		}
		logger.Info(ctx, "database ready")
	}

	switch cfg.IdentityBackend {
	case config.BackendPostgres:
		m.users = users.NewPostgresRepository(m.db)
	case config.BackendMemory:
		if cfg.UsersFile == "" {
			m.users = users.NewMemoryRepository()
			break
		}
		seeded, err := users.LoadMemoryRepository(cfg.UsersFile)
		if err != nil {
			return nil, fmt.Errorf("users file: %w", err)
		}
		m.users = seeded
	default:
		return nil, fmt.Errorf("unknown identity backend %q", cfg.IdentityBackend)
	}

	opts := []refreshtokens.Option{refreshtokens.WithValidity(cfg.RefreshTokenValidityDuration)}

	switch cfg.RefreshBackend {
	case config.BackendMemory:
		m.refresh = refreshtokens.NewMemoryRepository(opts...)
	case config.BackendPostgres:
		m.refresh = refreshtokens.NewPostgresRepository(m.db, opts...)
	case config.BackendRedis:
		m.redis, err = openRedis(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, fmt.Errorf("redis init error: %w", err)
		}
		m.refresh = refreshtokens.NewRedisRepository(m.redis, RedisKeyPrefix, opts...)
	default:
		return nil, fmt.Errorf("unknown refresh backend %q", cfg.RefreshBackend)
	}

	logger.Info(ctx, "repositories ready",
		"identity_backend", cfg.IdentityBackend,
		"refresh_backend", cfg.RefreshBackend,
	)
	return m, nil
}
