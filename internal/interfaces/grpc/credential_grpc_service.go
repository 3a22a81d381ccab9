package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/turtacn/credcore/internal/domain/models"
	"github.com/turtacn/credcore/internal/domain/service"
	"github.com/turtacn/credcore/pkg/logger"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "credcore.v1.CredentialService"

// Full method names.
const (
	MethodVerifyAccessToken = "/" + ServiceName + "/VerifyAccessToken"
	MethodGetJWKS           = "/" + ServiceName + "/GetJWKS"
	MethodRefreshSession    = "/" + ServiceName + "/RefreshSession"
	MethodRevokeSession     = "/" + ServiceName + "/RevokeSession"
)

// CredentialService is the part of the facade exposed over gRPC.
type CredentialService interface {
	PublicJWKS(ctx context.Context, owner models.OwnerRef) (*models.JWKS, error)
	RefreshSession(ctx context.Context, owner models.OwnerRef, refreshToken string, meta models.ClientMeta) (*models.IssuedCredentials, error)
	RevokeSessionByToken(ctx context.Context, owner models.OwnerRef, refreshToken string) error
	VerifyAccessToken(ctx context.Context, owner models.OwnerRef, token string) (*models.AccessClaims, error)
}

// CredentialGRPCServer implements the credcore.v1.CredentialService gRPC service.
type CredentialGRPCServer interface {
	VerifyAccessToken(context.Context, *VerifyAccessTokenRequest) (*VerifyAccessTokenResponse, error)
	GetJWKS(context.Context, *GetJWKSRequest) (*GetJWKSResponse, error)
	RefreshSession(context.Context, *RefreshSessionRequest) (*RefreshSessionResponse, error)
	RevokeSession(context.Context, *RevokeSessionRequest) (*RevokeSessionResponse, error)
}

// CredentialGRPCService adapts the credential facade to gRPC.
type CredentialGRPCService struct {
	creds CredentialService
	log   logger.Logger
}

var _ CredentialGRPCServer = (*CredentialGRPCService)(nil)

// NewCredentialGRPCService creates the gRPC adapter.
func NewCredentialGRPCService(creds CredentialService, log logger.Logger) *CredentialGRPCService {
	return &CredentialGRPCService{creds: creds, log: log.WithComponent("CredentialGRPCService")}
}

// NewServer creates a gRPC server carrying the credential service and the
// standard health service. limiter may be nil.
func NewServer(creds CredentialService, limiter service.RateLimiter, log logger.Logger, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	chain := NewInterceptorChain(log, limiter)
	server := grpc.NewServer(append([]grpc.ServerOption{chain.ChainUnaryInterceptors()}, opts...)...)
	RegisterCredentialServer(server, NewCredentialGRPCService(creds, log))

	healthServer := health.NewServer()
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)
	return server, healthServer
}

// VerifyAccessToken checks an access token of the request owner.
func (s *CredentialGRPCService) VerifyAccessToken(ctx context.Context, req *VerifyAccessTokenRequest) (*VerifyAccessTokenResponse, error) {
	owner, err := req.OwnerRef()
	if err != nil {
		return nil, err
	}
	claims, err := s.creds.VerifyAccessToken(ctx, owner, req.Token)
	if err != nil {
		return nil, err
	}
	return &VerifyAccessTokenResponse{Claims: claims}, nil
}

// GetJWKS returns the verification keys of the request owner.
func (s *CredentialGRPCService) GetJWKS(ctx context.Context, req *GetJWKSRequest) (*GetJWKSResponse, error) {
	owner, err := req.OwnerRef()
	if err != nil {
		return nil, err
	}
	jwks, err := s.creds.PublicJWKS(ctx, owner)
	if err != nil {
		return nil, err
	}
	return &GetJWKSResponse{JWKS: jwks}, nil
}

// RefreshSession rotates a refresh token.
func (s *CredentialGRPCService) RefreshSession(ctx context.Context, req *RefreshSessionRequest) (*RefreshSessionResponse, error) {
	owner, err := req.OwnerRef()
	if err != nil {
		return nil, err
	}
	creds, err := s.creds.RefreshSession(ctx, owner, req.RefreshToken, models.ClientMeta{
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
	})
	if err != nil {
		return nil, err
	}
	return &RefreshSessionResponse{Credentials: creds}, nil
}

// RevokeSession revokes the session of a refresh token.
func (s *CredentialGRPCService) RevokeSession(ctx context.Context, req *RevokeSessionRequest) (*RevokeSessionResponse, error) {
	owner, err := req.OwnerRef()
	if err != nil {
		return nil, err
	}
	if err := s.creds.RevokeSessionByToken(ctx, owner, req.RefreshToken); err != nil {
		return nil, err
	}
	return &RevokeSessionResponse{}, nil
}

// RegisterCredentialServer registers srv on s.
func RegisterCredentialServer(s grpc.ServiceRegistrar, srv CredentialGRPCServer) {
	s.RegisterService(&CredentialServiceDesc, srv)
}

// CredentialServiceDesc describes credcore.v1.CredentialService.
var CredentialServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CredentialGRPCServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "VerifyAccessToken", Handler: verifyAccessTokenHandler},
		{MethodName: "GetJWKS", Handler: getJWKSHandler},
		{MethodName: "RefreshSession", Handler: refreshSessionHandler},
		{MethodName: "RevokeSession", Handler: revokeSessionHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "credcore/v1/credential.json",
}

func verifyAccessTokenHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(VerifyAccessTokenRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CredentialGRPCServer).VerifyAccessToken(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodVerifyAccessToken}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CredentialGRPCServer).VerifyAccessToken(ctx, req.(*VerifyAccessTokenRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getJWKSHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GetJWKSRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CredentialGRPCServer).GetJWKS(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodGetJWKS}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CredentialGRPCServer).GetJWKS(ctx, req.(*GetJWKSRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func refreshSessionHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(RefreshSessionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CredentialGRPCServer).RefreshSession(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodRefreshSession}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CredentialGRPCServer).RefreshSession(ctx, req.(*RefreshSessionRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func revokeSessionHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(RevokeSessionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CredentialGRPCServer).RevokeSession(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodRevokeSession}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CredentialGRPCServer).RevokeSession(ctx, req.(*RevokeSessionRequest))
	}
	return interceptor(ctx, in, info, handler)
}
