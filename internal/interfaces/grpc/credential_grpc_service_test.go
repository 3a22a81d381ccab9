package grpc_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/turtacn/credcore/internal/domain/models"
	"github.com/turtacn/credcore/internal/domain/service"
	"github.com/turtacn/credcore/internal/domain/service/mocks"
	"github.com/turtacn/credcore/internal/infrastructure/ratelimit"
	grpcapi "github.com/turtacn/credcore/internal/interfaces/grpc"
	"github.com/turtacn/credcore/pkg/errors"
	"github.com/turtacn/credcore/pkg/logger"
)

type fakeCredentials struct {
	refreshedMeta models.ClientMeta
	revoked       []string
}

func (f *fakeCredentials) PublicJWKS(_ context.Context, owner models.OwnerRef) (*models.JWKS, error) {
	return &models.JWKS{Keys: []models.JWK{{Kty: "EC", Kid: owner.ID + "-k1", Alg: "ES256", Use: "sig"}}}, nil
}

func (f *fakeCredentials) RefreshSession(_ context.Context, owner models.OwnerRef, refreshToken string, meta models.ClientMeta) (*models.IssuedCredentials, error) {
	if refreshToken != "rt" {
		return nil, errors.ErrRefreshTokenReused()
	}
	f.refreshedMeta = meta
	return &models.IssuedCredentials{AccessToken: "at-2", RefreshToken: "rt-2", TokenType: "Bearer", ExpiresIn: 900,
		Session: models.SessionInfo{ID: "s-2", Owner: owner, SubjectID: "user-1"}}, nil
}

func (f *fakeCredentials) RevokeSessionByToken(_ context.Context, _ models.OwnerRef, refreshToken string) error {
	f.revoked = append(f.revoked, refreshToken)
	return nil
}

func (f *fakeCredentials) VerifyAccessToken(_ context.Context, owner models.OwnerRef, token string) (*models.AccessClaims, error) {
	switch token {
	case "good":
		return &models.AccessClaims{Subject: "user-1", Issuer: owner.Issuer(), KeyID: "k1"}, nil
	case "expired":
		return nil, errors.ErrTokenExpired()
	case "panic":
		panic("boom")
	default:
		return nil, errors.ErrUnknownKid(owner.String(), "nope")
	}
}

func dial(t *testing.T, creds grpcapi.CredentialService, limiter service.RateLimiter) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	server, _ := grpcapi.NewServer(creds, limiter, logger.NewNoopLogger())
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(grpcapi.CodecName)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func owner(kind, id string) grpcapi.OwnerMessage {
	return grpcapi.OwnerMessage{OwnerKind: kind, OwnerID: id}
}

func TestVerifyAccessToken(t *testing.T) {
	conn := dial(t, &fakeCredentials{}, nil)
	ctx := context.Background()

	var resp grpcapi.VerifyAccessTokenResponse
	err := conn.Invoke(ctx, grpcapi.MethodVerifyAccessToken,
		&grpcapi.VerifyAccessTokenRequest{OwnerMessage: owner("tenant", "42"), Token: "good"}, &resp)
	require.NoError(t, err)
	require.NotNil(t, resp.Claims)
	assert.Equal(t, "user-1", resp.Claims.Subject)
	assert.Equal(t, "issuer:tenant:42", resp.Claims.Issuer)

	var messages []string
	for _, token := range []string{"expired", "unknown"} {
		err = conn.Invoke(ctx, grpcapi.MethodVerifyAccessToken,
			&grpcapi.VerifyAccessTokenRequest{OwnerMessage: owner("tenant", "42"), Token: token}, &resp)
		st, ok := status.FromError(err)
		require.True(t, ok)
		assert.Equal(t, codes.Unauthenticated, st.Code())
		messages = append(messages, st.Message())
	}
	assert.Equal(t, messages[0], messages[1], "auth failures are indistinguishable")
}

func TestVerifyAccessToken_InvalidRequests(t *testing.T) {
	conn := dial(t, &fakeCredentials{}, nil)
	ctx := context.Background()
	var resp grpcapi.VerifyAccessTokenResponse

	err := conn.Invoke(ctx, grpcapi.MethodVerifyAccessToken,
		&grpcapi.VerifyAccessTokenRequest{OwnerMessage: owner("user", "42"), Token: "good"}, &resp)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	err = conn.Invoke(ctx, grpcapi.MethodVerifyAccessToken,
		&grpcapi.VerifyAccessTokenRequest{OwnerMessage: owner("tenant", "42")}, &resp)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	err = conn.Invoke(ctx, grpcapi.MethodVerifyAccessToken,
		&grpcapi.VerifyAccessTokenRequest{OwnerMessage: owner("tenant", "42"), Token: "panic"}, &resp)
	assert.Equal(t, codes.Internal, status.Code(err))
}

func TestGetJWKS(t *testing.T) {
	conn := dial(t, &fakeCredentials{}, nil)

	var resp grpcapi.GetJWKSResponse
	err := conn.Invoke(context.Background(), grpcapi.MethodGetJWKS,
		&grpcapi.GetJWKSRequest{OwnerMessage: owner("Application", "billing")}, &resp)
	require.NoError(t, err)
	require.Len(t, resp.JWKS.Keys, 1)
	assert.Equal(t, "billing-k1", resp.JWKS.Keys[0].Kid)
}

func TestRefreshAndRevokeSession(t *testing.T) {
	fake := &fakeCredentials{}
	conn := dial(t, fake, nil)
	ctx := context.Background()

	var refreshed grpcapi.RefreshSessionResponse
	err := conn.Invoke(ctx, grpcapi.MethodRefreshSession, &grpcapi.RefreshSessionRequest{
		OwnerMessage: owner("tenant", "42"),
		RefreshToken: "rt",
		IPAddress:    "10.1.1.1",
		UserAgent:    "svc",
	}, &refreshed)
	require.NoError(t, err)
	assert.Equal(t, "rt-2", refreshed.Credentials.RefreshToken)
	assert.Equal(t, models.ClientMeta{IPAddress: "10.1.1.1", UserAgent: "svc"}, fake.refreshedMeta)

	err = conn.Invoke(ctx, grpcapi.MethodRefreshSession,
		&grpcapi.RefreshSessionRequest{OwnerMessage: owner("tenant", "42"), RefreshToken: "rt-old"}, &refreshed)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	err = conn.Invoke(ctx, grpcapi.MethodRevokeSession,
		&grpcapi.RevokeSessionRequest{OwnerMessage: owner("tenant", "42"), RefreshToken: "rt-2"}, &grpcapi.RevokeSessionResponse{})
	require.NoError(t, err)
	assert.Equal(t, []string{"rt-2"}, fake.revoked)
}

func TestRateLimitInterceptor(t *testing.T) {
	limiter := ratelimit.NewLocalRateLimiter(1, 60, mocks.NewClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
	conn := dial(t, &fakeCredentials{}, limiter)
	ctx := context.Background()
	req := &grpcapi.GetJWKSRequest{OwnerMessage: owner("tenant", "42")}

	require.NoError(t, conn.Invoke(ctx, grpcapi.MethodGetJWKS, req, &grpcapi.GetJWKSResponse{}))

	var trailer metadata.MD
	err := conn.Invoke(ctx, grpcapi.MethodGetJWKS, req, &grpcapi.GetJWKSResponse{}, grpc.Trailer(&trailer))
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
	assert.Equal(t, []string{"1"}, trailer.Get("retry-after"))

	other := &grpcapi.GetJWKSRequest{OwnerMessage: owner("tenant", "43")}
	assert.NoError(t, conn.Invoke(ctx, grpcapi.MethodGetJWKS, other, &grpcapi.GetJWKSResponse{}))
}

func TestHealthService(t *testing.T) {
	conn := dial(t, &fakeCredentials{}, nil)

	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(),
		&healthpb.HealthCheckRequest{Service: grpcapi.ServiceName},
		grpc.CallContentSubtype("proto"))
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}
