// Package server assembles the authkeeper server: storage backends, the auth
// service and the HTTP and gRPC transports, with graceful shutdown on signals.
package server

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/authkeeper/internal/cryptox"
	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/auth"
	"github.com/dmitrijs2005/authkeeper/internal/server/config"
	"github.com/dmitrijs2005/authkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/authkeeper/internal/server/services"

	gs "github.com/dmitrijs2005/authkeeper/internal/server/grpc"
	hs "github.com/dmitrijs2005/authkeeper/internal/server/http"
)

type App struct {
	config      *config.Config
	logger      logging.Logger
	repos       *repomanager.Manager
	metrics     *metrics.Metrics
	authService *services.AuthService
}

// NewApp validates c and builds every dependency. Log output goes to w.
func NewApp(ctx context.Context, c *config.Config, w io.Writer) (*App, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger, err := logging.New(c.LogFormat, w)
	if err != nil {
		return nil, err
	}

	repos, err := repomanager.NewManager(ctx, c, logger)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	codec := auth.NewJWTCodec([]byte(c.SecretKey), c.Issuer, c.Audience)
	hasher := cryptox.NewArgon2Hasher(cryptox.DefaultArgon2Params)

	svc := services.NewAuthService(repos.Users(), repos.RefreshTokens(), hasher, codec, c.AccessTokenValidityDuration, logger, m)

	return &App{config: c, logger: logger, repos: repos, metrics: m, authService: svc}, nil
}

func (app *App) initSignalHandler(ctx context.Context, cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		defer signal.Stop(sigs)
		select {
		case <-sigs:
			cancelFunc()
		case <-ctx.Done():
		}
	}()
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.authService)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, "gRPC server failed", "error", err)
		cancelFunc()
	}
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := hs.NewHTTPServer(app.config.EndpointAddrHTTP, app.logger, app.authService, app.metrics)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, "HTTP server failed", "error", err)
		cancelFunc()
	}
}

// Run serves both transports until ctx is cancelled, a signal arrives or a
// server fails, then releases storage connections.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...",
		"identity_backend", app.config.IdentityBackend,
		"refresh_backend", app.config.RefreshBackend,
	)

	app.initSignalHandler(ctx, cancelFunc)

	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Wait()

	if err := app.repos.Close(); err != nil {
		app.logger.Error(context.Background(), "closing storage", "error", err)
	}
	if z, ok := app.logger.(*logging.ZapLogger); ok {
		_ = z.Sync()
	}
	app.logger.Info(context.Background(), "App stopped")
}
