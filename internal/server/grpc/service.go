package grpc

import (
	"context"

	"google.golang.org/grpc"
)

const ServiceName = "authkeeper.AuthService"

// Full method names, as seen by interceptors.
const (
	MethodLogin     = "/" + ServiceName + "/Login"
	MethodRefresh   = "/" + ServiceName + "/Refresh"
	MethodRevoke    = "/" + ServiceName + "/Revoke"
	MethodRevokeAll = "/" + ServiceName + "/RevokeAll"
	MethodPing      = "/" + ServiceName + "/Ping"
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type TokenPairResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Username     string `json:"username"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type RevokeRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type RevokeResponse struct {
	Revoked bool `json:"revoked"`
}

type RevokeAllRequest struct{}

type RevokeAllResponse struct{}

type PingRequest struct{}

type PingResponse struct {
	Status string `json:"status"`
}

// AuthServiceServer is implemented by GRPCServer.
type AuthServiceServer interface {
	Login(context.Context, *LoginRequest) (*TokenPairResponse, error)
	Refresh(context.Context, *RefreshRequest) (*TokenPairResponse, error)
	Revoke(context.Context, *RevokeRequest) (*RevokeResponse, error)
	RevokeAll(context.Context, *RevokeAllRequest) (*RevokeAllResponse, error)
	Ping(context.Context, *PingRequest) (*PingResponse, error)
}

func unaryHandler[Req, Resp any](fullMethod string, call func(AuthServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AuthServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(AuthServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// AuthServiceDesc describes the service for grpc.Server.RegisterService.
var AuthServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AuthServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Login", Handler: unaryHandler(MethodLogin, AuthServiceServer.Login)},
		{MethodName: "Refresh", Handler: unaryHandler(MethodRefresh, AuthServiceServer.Refresh)},
		{MethodName: "Revoke", Handler: unaryHandler(MethodRevoke, AuthServiceServer.Revoke)},
		{MethodName: "RevokeAll", Handler: unaryHandler(MethodRevokeAll, AuthServiceServer.RevokeAll)},
		{MethodName: "Ping", Handler: unaryHandler(MethodPing, AuthServiceServer.Ping)},
	},
	Streams: []grpc.StreamDesc{},
}

func RegisterAuthServiceServer(s grpc.ServiceRegistrar, srv AuthServiceServer) {
	s.RegisterService(&AuthServiceDesc, srv)
}

// AuthServiceClient calls the service with the JSON codec.
type AuthServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewAuthServiceClient(cc grpc.ClientConnInterface) *AuthServiceClient {
	return &AuthServiceClient{cc: cc}
}

func (c *AuthServiceClient) Login(ctx context.Context, in *LoginRequest, opts ...grpc.CallOption) (*TokenPairResponse, error) {
	out := new(TokenPairResponse)
	return out, c.invoke(ctx, MethodLogin, in, out, opts)
}

func (c *AuthServiceClient) Refresh(ctx context.Context, in *RefreshRequest, opts ...grpc.CallOption) (*TokenPairResponse, error) {
	out := new(TokenPairResponse)
	return out, c.invoke(ctx, MethodRefresh, in, out, opts)
}

func (c *AuthServiceClient) Revoke(ctx context.Context, in *RevokeRequest, opts ...grpc.CallOption) (*RevokeResponse, error) {
	out := new(RevokeResponse)
	return out, c.invoke(ctx, MethodRevoke, in, out, opts)
}

func (c *AuthServiceClient) RevokeAll(ctx context.Context, in *RevokeAllRequest, opts ...grpc.CallOption) (*RevokeAllResponse, error) {
	out := new(RevokeAllResponse)
	return out, c.invoke(ctx, MethodRevokeAll, in, out, opts)
}

func (c *AuthServiceClient) Ping(ctx context.Context, in *PingRequest, opts ...grpc.CallOption) (*PingResponse, error) {
	out := new(PingResponse)
	return out, c.invoke(ctx, MethodPing, in, out, opts)
}

func (c *AuthServiceClient) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, method, in, out, opts...)
}
