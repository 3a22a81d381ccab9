package application_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/credcore/internal/application"
	"github.com/turtacn/credcore/internal/domain/models"
	"github.com/turtacn/credcore/pkg/constants"
	"github.com/turtacn/credcore/pkg/errors"
)

func TestTokenService_Tenant42RoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := models.Tenant("42")

	info, err := f.keys.Provision(ctx, owner)
	require.NoError(t, err)

	token, issued, err := f.tokens.Sign(ctx, application.SignRequest{
		Owner:   owner,
		Subject: "device-1",
		Claims:  map[string]interface{}{"scope": "read"},
	})
	require.NoError(t, err)
	assert.Equal(t, info.Kid, issued.KeyID)
	assert.Equal(t, epoch.Add(constants.AccessTokenDefaultTTL), issued.ExpiresAt)

	claims, err := f.tokens.Verify(ctx, owner, token)
	require.NoError(t, err)
	assert.Equal(t, "device-1", claims.Subject)
	assert.Equal(t, "issuer:tenant:42", claims.Issuer)
	assert.Equal(t, []string{"42"}, claims.Audience)
	assert.Equal(t, info.Kid, claims.KeyID)
	assert.Equal(t, issued.ID, claims.ID)
	assert.WithinDuration(t, epoch, claims.IssuedAt, 0)
	assert.WithinDuration(t, epoch.Add(constants.AccessTokenDefaultTTL), claims.ExpiresAt, 0)
	scope, ok := claims.Claim("scope")
	require.True(t, ok)
	assert.Equal(t, "read", scope)
}

func TestTokenService_CrossTenantUnknownKid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.keys.Provision(ctx, models.Tenant("42"))
	require.NoError(t, err)
	_, err = f.keys.Provision(ctx, models.Tenant("43"))
	require.NoError(t, err)

	token, _, err := f.tokens.Sign(ctx, application.SignRequest{Owner: models.Tenant("42"), Subject: "device-1"})
	require.NoError(t, err)

	_, err = f.tokens.Verify(ctx, models.Tenant("43"), token)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindUnknownKid))
	assert.True(t, errors.IsAuthFailure(err))
}

func TestTokenService_SignWithoutKey(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.tokens.Sign(context.Background(), application.SignRequest{Owner: models.Tenant("42"), Subject: "device-1"})
	assert.True(t, errors.IsKind(err, errors.KindNoActiveKey))
}

func TestTokenService_SignValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := models.Tenant("42")
	_, err := f.keys.Provision(ctx, owner)
	require.NoError(t, err)

	_, _, err = f.tokens.Sign(ctx, application.SignRequest{Owner: owner})
	assert.True(t, errors.IsKind(err, errors.KindInvalidArgument))

	_, _, err = f.tokens.Sign(ctx, application.SignRequest{Owner: owner, Subject: "a", TTL: 25 * time.Hour})
	assert.True(t, errors.IsKind(err, errors.KindInvalidArgument))
}

func TestTokenService_CallerClaimsCannotShadowRegistered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := models.Tenant("42")
	_, err := f.keys.Provision(ctx, owner)
	require.NoError(t, err)

	token, _, err := f.tokens.Sign(ctx, application.SignRequest{
		Owner:    owner,
		Subject:  "device-1",
		Audience: "api",
		Claims: map[string]interface{}{
			"sub":  "admin",
			"iss":  "issuer:tenant:1",
			"exp":  float64(epoch.Add(240 * time.Hour).Unix()),
			"role": "viewer",
		},
	})
	require.NoError(t, err)

	claims, err := f.tokens.Verify(ctx, owner, token)
	require.NoError(t, err)
	assert.Equal(t, "device-1", claims.Subject)
	assert.Equal(t, owner.Issuer(), claims.Issuer)
	assert.True(t, claims.HasAudience("api"))
	assert.WithinDuration(t, epoch.Add(constants.AccessTokenDefaultTTL), claims.ExpiresAt, 0)
	assert.Equal(t, map[string]interface{}{"role": "viewer"}, claims.Custom)
}

func TestTokenService_Expiry(t *testing.T) {
	f := newFixture(t, withLeeway(30*time.Second))
	ctx := context.Background()
	owner := models.Tenant("42")
	_, err := f.keys.Provision(ctx, owner)
	require.NoError(t, err)

	token, _, err := f.tokens.Sign(ctx, application.SignRequest{Owner: owner, Subject: "device-1", TTL: time.Minute})
	require.NoError(t, err)

	f.clock.Advance(time.Minute + 10*time.Second)
	_, err = f.tokens.Verify(ctx, owner, token)
	require.NoError(t, err, "inside leeway")

	f.clock.Advance(time.Minute)
	_, err = f.tokens.Verify(ctx, owner, token)
	assert.True(t, errors.IsKind(err, errors.KindTokenExpired))
}

func TestTokenService_NotYetValid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := models.Tenant("42")
	_, err := f.keys.Provision(ctx, owner)
	require.NoError(t, err)

	token, _, err := f.tokens.Sign(ctx, application.SignRequest{Owner: owner, Subject: "device-1"})
	require.NoError(t, err)

	f.clock.Set(epoch.Add(-time.Minute))
	_, err = f.tokens.Verify(ctx, owner, token)
	assert.True(t, errors.IsKind(err, errors.KindSignatureInvalid))
}

func TestTokenService_RejectsForgedTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := models.Tenant("42")
	info, err := f.keys.Provision(ctx, owner)
	require.NoError(t, err)
	active, err := f.keys.ActiveKey(ctx, owner)
	require.NoError(t, err)

	valid := func() jwt.MapClaims {
		return jwt.MapClaims{
			"sub": "device-1",
			"iss": owner.Issuer(),
			"aud": "42",
			"iat": epoch.Unix(),
			"nbf": epoch.Unix(),
			"exp": epoch.Add(time.Minute).Unix(),
		}
	}
	sign := func(method jwt.SigningMethod, claims jwt.MapClaims, kid string, key interface{}) string {
		tok := jwt.NewWithClaims(method, claims)
		if kid != "" {
			tok.Header["kid"] = kid
		}
		s, err := tok.SignedString(key)
		require.NoError(t, err)
		return s
	}

	attacker, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	noExp := valid()
	delete(noExp, "exp")
	otherIssuer := valid()
	otherIssuer["iss"] = "issuer:tenant:99"

	cases := []struct {
		name  string
		token string
		kind  errors.Kind
	}{
		{"control", sign(jwt.SigningMethodES256, valid(), info.Kid, active.PrivateKey), ""},
		{"foreign key", sign(jwt.SigningMethodES256, valid(), info.Kid, attacker), errors.KindSignatureInvalid},
		{"hmac with kid", sign(jwt.SigningMethodHS256, valid(), info.Kid, []byte("secret")), errors.KindSignatureInvalid},
		{"alg none", sign(jwt.SigningMethodNone, valid(), info.Kid, jwt.UnsafeAllowNoneSignatureType), errors.KindSignatureInvalid},
		{"missing kid", sign(jwt.SigningMethodES256, valid(), "", active.PrivateKey), errors.KindUnknownKid},
		{"unknown kid", sign(jwt.SigningMethodES256, valid(), "nope", active.PrivateKey), errors.KindUnknownKid},
		{"missing exp", sign(jwt.SigningMethodES256, noExp, info.Kid, active.PrivateKey), errors.KindSignatureInvalid},
		{"wrong issuer", sign(jwt.SigningMethodES256, otherIssuer, info.Kid, active.PrivateKey), errors.KindSignatureInvalid},
		{"garbage", "not.a.token", errors.KindSignatureInvalid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			claims, err := f.tokens.Verify(ctx, owner, tc.token)
			if tc.kind == "" {
				require.NoError(t, err)
				assert.Equal(t, "device-1", claims.Subject)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tc.kind, errors.KindOf(err))
		})
	}
}

func TestTokenService_AlgorithmPinnedToKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := models.Tenant("42")
	info, err := f.keys.Provision(ctx, owner)
	require.NoError(t, err)

	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	// A valid RS256 signature under a kid that names an ES256 key.
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"sub": "device-1",
		"iss": owner.Issuer(),
		"exp": epoch.Add(time.Minute).Unix(),
	})
	tok.Header["kid"] = info.Kid
	signed, err := tok.SignedString(rsaKey)
	require.NoError(t, err)

	_, err = f.tokens.Verify(ctx, owner, signed)
	assert.True(t, errors.IsKind(err, errors.KindSignatureInvalid))
}
