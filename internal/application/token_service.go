package application

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/turtacn/credcore/internal/domain/models"
	"github.com/turtacn/credcore/internal/domain/service"
	cryptox "github.com/turtacn/credcore/internal/infrastructure/crypto"
	"github.com/turtacn/credcore/pkg/constants"
	"github.com/turtacn/credcore/pkg/errors"
	"github.com/turtacn/credcore/pkg/logger"
)

// registeredClaims are never taken from caller-supplied claims.
var registeredClaims = map[string]struct{}{
	"sub": {}, "iss": {}, "aud": {}, "iat": {}, "nbf": {}, "exp": {}, "jti": {}, "sid": {},
}

// KeySource resolves the keys a TokenService signs and verifies with.
// KeySource 解析 TokenService 用于签名和验证的密钥。
type KeySource interface {
	ActiveKey(ctx context.Context, owner models.OwnerRef) (*models.SigningKey, error)
	KeyByKid(ctx context.Context, owner models.OwnerRef, kid string) (*models.KeyInfo, error)
}

// TokenPolicy controls access token lifetimes and clock tolerance.
type TokenPolicy struct {
	AccessTokenTTL time.Duration
	Leeway         time.Duration
}

// SignRequest describes one access token to mint.
// SignRequest 描述要签发的一个访问令牌。
type SignRequest struct {
	Owner     models.OwnerRef
	Subject   string
	Audience  string
	Claims    map[string]interface{}
	TTL       time.Duration
	SessionID string
}

// TokenService signs access tokens with an owner's active key and verifies
// them against the key named by their kid, scoped to the owner.
// TokenService 使用所有者的活动密钥签发访问令牌，并根据 kid 在所有者范围内验证令牌。
type TokenService struct {
	keys   KeySource
	clock  service.Clock
	policy TokenPolicy
	logger logger.Logger
}

// NewTokenService creates a new TokenService.
func NewTokenService(keys KeySource, clock service.Clock, policy TokenPolicy, log logger.Logger) *TokenService {
	if policy.AccessTokenTTL <= 0 {
		policy.AccessTokenTTL = constants.AccessTokenDefaultTTL
	}
	if clock == nil {
		clock = service.SystemClock{}
	}
	return &TokenService{
		keys:   keys,
		clock:  clock,
		policy: policy,
		logger: log.WithComponent("TokenService"),
	}
}

// Sign mints an access token. An empty audience defaults to the owner id and
// a non-positive TTL to the configured access token lifetime.
// It fails with NoActiveKey if the owner has no key.
// Sign 签发访问令牌。
func (s *TokenService) Sign(ctx context.Context, req SignRequest) (string, *models.AccessClaims, error) {
	if err := req.Owner.Validate(); err != nil {
		return "", nil, err
	}
	if req.Subject == "" {
		return "", nil, errors.ErrInvalidArgument("subject", "must not be empty")
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = s.policy.AccessTokenTTL
	}
	if ttl > constants.AccessTokenMaxTTL {
		return "", nil, errors.ErrInvalidArgument("ttl", "exceeds the maximum access token lifetime")
	}
	audience := req.Audience
	if audience == "" {
		audience = req.Owner.DefaultAudience()
	}

	key, err := s.keys.ActiveKey(ctx, req.Owner)
	if err != nil {
		return "", nil, err
	}
	method, err := cryptox.SigningMethod(key.Algorithm)
	if err != nil {
		return "", nil, err
	}

	now := s.clock.Now().Truncate(time.Second)
	issued := &models.AccessClaims{
		Subject:   req.Subject,
		Issuer:    req.Owner.Issuer(),
		Audience:  []string{audience},
		IssuedAt:  now,
		NotBefore: now,
		ExpiresAt: now.Add(ttl),
		ID:        uuid.NewString(),
		SessionID: req.SessionID,
		KeyID:     key.Kid,
		Custom:    make(map[string]interface{}, len(req.Claims)),
	}

	claims := jwt.MapClaims{}
	for k, v := range req.Claims {
		if _, reserved := registeredClaims[k]; reserved {
			continue
		}
		claims[k] = v
		issued.Custom[k] = v
	}
	claims["sub"] = issued.Subject
	claims["iss"] = issued.Issuer
	claims["aud"] = audience
	claims["iat"] = now.Unix()
	claims["nbf"] = now.Unix()
	claims["exp"] = issued.ExpiresAt.Unix()
	claims["jti"] = issued.ID
	if req.SessionID != "" {
		claims["sid"] = req.SessionID
	}

	token := jwt.NewWithClaims(method, claims)
	token.Header["kid"] = key.Kid

	signed, err := token.SignedString(key.PrivateKey)
	if err != nil {
		s.logger.Error(ctx, "Failed to sign access token", err,
			logger.String("owner", req.Owner.String()),
			logger.String("kid", key.Kid),
		)
		return "", nil, err
	}
	return signed, issued, nil
}

// Verify checks a token issued for owner. The kid header is resolved within
// owner only; the algorithm is pinned to the resolved key; exp is required;
// iat and nbf are checked with the configured leeway; iss must be the owner's issuer.
// Malformed tokens and failed claim checks are SignatureInvalid.
// Verify 验证为所有者签发的令牌。
func (s *TokenService) Verify(ctx context.Context, owner models.OwnerRef, tokenString string) (*models.AccessClaims, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}

	var resolved *models.KeyInfo
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{string(constants.AlgorithmRS256), string(constants.AlgorithmES256)}),
		jwt.WithTimeFunc(s.clock.Now),
		jwt.WithLeeway(s.policy.Leeway),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithIssuer(owner.Issuer()),
	)

	claims := jwt.MapClaims{}
	_, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.ErrUnknownKid(owner.String(), kid)
		}
		info, err := s.keys.KeyByKid(ctx, owner, kid)
		if err != nil {
			return nil, err
		}
		if t.Method.Alg() != string(info.Algorithm) {
			return nil, errors.ErrSignatureInvalid("algorithm does not match the key")
		}
		resolved = info
		return info.PublicKey, nil
	})
	if err != nil {
		return nil, mapVerifyError(err)
	}

	return accessClaims(claims, resolved.Kid)
}

func mapVerifyError(err error) error {
	if cbcErr, ok := errors.AsCBCError(err); ok {
		return cbcErr
	}
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return errors.ErrTokenExpired()
	case errors.Is(err, jwt.ErrTokenMalformed):
		return errors.ErrSignatureInvalid("malformed token")
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return errors.ErrSignatureInvalid("signature mismatch")
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return errors.ErrSignatureInvalid("issuer mismatch")
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return errors.ErrSignatureInvalid("token not valid yet")
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return errors.ErrSignatureInvalid("required claim missing")
	}
	return errors.ErrSignatureInvalid("token rejected").WithCause(err)
}

func accessClaims(claims jwt.MapClaims, kid string) (*models.AccessClaims, error) {
	out := &models.AccessClaims{KeyID: kid, Custom: map[string]interface{}{}}

	var err error
	if out.Subject, err = claims.GetSubject(); err != nil {
		return nil, errors.ErrSignatureInvalid("bad sub claim")
	}
	if out.Issuer, err = claims.GetIssuer(); err != nil {
		return nil, errors.ErrSignatureInvalid("bad iss claim")
	}
	aud, err := claims.GetAudience()
	if err != nil {
		return nil, errors.ErrSignatureInvalid("bad aud claim")
	}
	out.Audience = aud
	if exp, _ := claims.GetExpirationTime(); exp != nil {
		out.ExpiresAt = exp.UTC()
	}
	if iat, _ := claims.GetIssuedAt(); iat != nil {
		out.IssuedAt = iat.UTC()
	}
	if nbf, _ := claims.GetNotBefore(); nbf != nil {
		out.NotBefore = nbf.UTC()
	}
	out.ID, _ = claims["jti"].(string)
	out.SessionID, _ = claims["sid"].(string)

	for k, v := range claims {
		if _, reserved := registeredClaims[k]; !reserved {
			out.Custom[k] = v
		}
	}
	return out, nil
}
