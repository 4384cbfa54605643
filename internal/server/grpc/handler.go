package grpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/server/services"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func (s *GRPCServer) Login(ctx context.Context, req *LoginRequest) (*TokenPairResponse, error) {
	pair, err := s.svc.Authenticate(ctx, req.Username, req.Password)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return toTokenPairResponse(pair), nil
}

func (s *GRPCServer) Refresh(ctx context.Context, req *RefreshRequest) (*TokenPairResponse, error) {
	pair, err := s.svc.Refresh(ctx, req.RefreshToken)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return toTokenPairResponse(pair), nil
}

func (s *GRPCServer) Revoke(ctx context.Context, req *RevokeRequest) (*RevokeResponse, error) {
	found, err := s.svc.Revoke(ctx, req.RefreshToken)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	if !found {
		return nil, status.Error(codes.InvalidArgument, "unknown refresh token")
	}
	return &RevokeResponse{Revoked: true}, nil
}

func (s *GRPCServer) RevokeAll(ctx context.Context, _ *RevokeAllRequest) (*RevokeAllResponse, error) {
	claims, ok := claimsFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}
	if err := s.svc.RevokeAllForIdentity(ctx, claims.SubjectID); err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &RevokeAllResponse{}, nil
}

func (s *GRPCServer) Ping(ctx context.Context, _ *PingRequest) (*PingResponse, error) {
	return &PingResponse{Status: "OK"}, nil
}

func (s *GRPCServer) toStatus(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, common.ErrorUnauthorized):
		return status.Error(codes.Unauthenticated, "unauthorized")
	case errors.Is(err, common.ErrorValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		s.logger.Error(ctx, "request failed", "error", err)
		return status.Error(codes.Internal, "internal error")
	}
}

func toTokenPairResponse(p *services.TokenPair) *TokenPairResponse {
	return &TokenPairResponse{AccessToken: p.AccessToken, RefreshToken: p.RefreshToken, Username: p.UserName}
}
