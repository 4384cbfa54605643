// Package grpc is the gRPC transport of the auth service. Messages are plain
// Go structs carried by a JSON codec.
package grpc

import (
	"context"
	"net"

	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/auth"
	"github.com/dmitrijs2005/authkeeper/internal/server/services"
	"google.golang.org/grpc"
)

// AuthService is the part of services.AuthService the transport uses.
type AuthService interface {
	Authenticate(ctx context.Context, username, password string) (*services.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*services.TokenPair, error)
	Revoke(ctx context.Context, refreshToken string) (bool, error)
	RevokeAllForIdentity(ctx context.Context, identityID string) error
	ValidateAccessToken(ctx context.Context, token string) (*auth.Claims, error)
}

type GRPCServer struct {
	address string
	svc     AuthService
	logger  logging.Logger
}

func NewGRPCServer(a string, l logging.Logger, svc AuthService) *GRPCServer {
	return &GRPCServer{
		address: a,
		logger:  l.With("module", "grpc_server"),
		svc:     svc,
	}
}

// NewServer builds a grpc.Server with the interceptor chain and the service registered.
func (s *GRPCServer) NewServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(s.accessTokenInterceptor)}, opts...)
	srv := grpc.NewServer(opts...)
	RegisterAuthServiceServer(srv, s)
	return srv
}

func (s *GRPCServer) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := s.NewServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", listen.Addr().String())

	// starts accepting incoming connections
	if err := srv.Serve(listen); err != nil {
		return err
	}

	return nil
}
