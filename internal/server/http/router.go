package http

import (
	"context"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/auth"
	"github.com/dmitrijs2005/authkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/dmitrijs2005/authkeeper/internal/server/services"
	"github.com/gin-gonic/gin"
)

// AuthService is the part of services.AuthService the transport uses.
type AuthService interface {
	Authenticate(ctx context.Context, username, password string) (*services.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*services.TokenPair, error)
	Revoke(ctx context.Context, refreshToken string) (bool, error)
	RevokeAllForIdentity(ctx context.Context, identityID string) error
	Register(ctx context.Context, username, password string) (*models.User, error)
	ValidateAccessToken(ctx context.Context, token string) (*auth.Claims, error)
}

// NewRouter wires gin routes and middleware.
func NewRouter(svc AuthService, m *metrics.Metrics, logger logging.Logger) *gin.Engine {
	h := &Handler{svc: svc, logger: logger}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(logger))

	authGroup := r.Group("/auth")
	{
		authGroup.POST("/login", h.Login)
		authGroup.POST("/refresh", h.Refresh)
		authGroup.POST("/revoke", h.Revoke)
		authGroup.POST("/revoke-all", h.RequireAccessToken, h.RevokeAll)
	}

	usersGroup := r.Group("/users")
	{
		usersGroup.POST("/register", h.Register)
		usersGroup.GET("/me", h.RequireAccessToken, h.Me)
	}

	r.GET("/ping", h.Ping)
	r.GET("/metrics", gin.WrapH(m.Handler()))

	return r
}

func requestLogger(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug(c.Request.Context(), "request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
