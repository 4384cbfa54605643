// Package admin implements authctl, the operator CLI: hashing passwords for
// seed files, registering identities, bulk revocation, migrations and a
// gRPC liveness probe.
package admin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/cryptox"
	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/auth"
	"github.com/dmitrijs2005/authkeeper/internal/server/config"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/authkeeper/internal/server/services"
	"github.com/spf13/cobra"
)

// Test seams.
var (
	newManager = func(ctx context.Context, cfg *config.Config, l logging.Logger) (repomanager.RepositoryManager, error) {
		return repomanager.NewManager(ctx, cfg, l)
	}
	newHasher = func() cryptox.PasswordHasher {
		return cryptox.NewArgon2Hasher(cryptox.DefaultArgon2Params)
	}
	migrate = repomanager.Migrate
)

type options struct {
	configFile      string
	identityBackend string
	refreshBackend  string
	dsn             string
	redisAddr       string
	usersFile       string
	logFormat       string
	passwordStdin   bool
	timeout         time.Duration
}

// NewRootCmd builds the authctl command tree.
func NewRootCmd() *cobra.Command {
	o := &options{}

	root := &cobra.Command{
		Use:           "authctl",
		Short:         "Operate an authkeeper deployment",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&o.configFile, "config", "c", "", "server JSON config file")
	pf.StringVar(&o.identityBackend, "identity-backend", "", "identity backend (memory, postgres)")
	pf.StringVar(&o.refreshBackend, "refresh-backend", "", "refresh token backend (memory, postgres, redis)")
	pf.StringVar(&o.dsn, "dsn", "", "PostgreSQL DSN")
	pf.StringVar(&o.redisAddr, "redis", "", "Redis address")
	pf.StringVar(&o.usersFile, "users-file", "", "YAML identity seed file")
	pf.StringVar(&o.logFormat, "log-format", logging.FormatText, "log format (json, text, zap)")
	pf.DurationVar(&o.timeout, "timeout", 30*time.Second, "overall deadline for the command")

	root.AddCommand(
		hashCmd(o),
		registerCmd(o),
		revokeAllCmd(o),
		migrateCmd(o),
		pingCmd(o),
	)
	return root
}

// loadConfig starts from the server defaults, overlays the JSON file and
// then any backend flags that were given.
func (o *options) loadConfig() (*config.Config, error) {
	cfg := &config.Config{}
	cfg.LoadDefaults()

	if o.configFile != "" {
		if err := config.LoadFile(cfg, o.configFile); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
	}

	overlay := []struct {
		dst *string
		v   string
	}{
		{&cfg.IdentityBackend, o.identityBackend},
		{&cfg.RefreshBackend, o.refreshBackend},
		{&cfg.DatabaseDSN, o.dsn},
		{&cfg.RedisAddr, o.redisAddr},
		{&cfg.UsersFile, o.usersFile},
	}
	for _, f := range overlay {
		if f.v != "" {
			*f.dst = f.v
		}
	}
	return cfg, nil
}

// withService opens the configured repositories, builds an AuthService on
// top of them and runs fn. Repositories are closed afterwards.
func (o *options) withService(cmd *cobra.Command, fn func(ctx context.Context, cfg *config.Config, svc *services.AuthService) error) (err error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}

	logger, err := logging.New(o.logFormat, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
	defer cancel()

	repos, err := newManager(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, repos.Close())
	}()

	codec := auth.NewJWTCodec([]byte(cfg.SecretKey), cfg.Issuer, cfg.Audience)
	svc := services.NewAuthService(
		repos.Users(),
		repos.RefreshTokens(),
		newHasher(),
		codec,
		cfg.AccessTokenValidityDuration,
		logger,
		nil,
	)
	return fn(ctx, cfg, svc)
}
