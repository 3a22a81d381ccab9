// Package application provides the application layer services.
package application

import (
	"context"
	"crypto"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/turtacn/credcore/internal/domain/models"
	"github.com/turtacn/credcore/internal/domain/repository"
	"github.com/turtacn/credcore/internal/domain/service"
	cryptox "github.com/turtacn/credcore/internal/infrastructure/crypto"
	"github.com/turtacn/credcore/pkg/constants"
	"github.com/turtacn/credcore/pkg/errors"
	"github.com/turtacn/credcore/pkg/logger"
)

const publicKeyMemoTTL = time.Hour

// KeyPolicy controls generated keys and the rotation policy.
// KeyPolicy 控制生成的密钥和轮换策略。
type KeyPolicy struct {
	// Algorithm of newly generated keys.
	// 新生成密钥的算法。
	Algorithm constants.JWTAlgorithm
	// RSABits is the modulus size for RS256 keys.
	// RSABits 是 RS256 密钥的模数大小。
	RSABits int
	// VerificationGrace keeps rotated-out keys verifiable for this long.
	// Zero revokes them immediately.
	// VerificationGrace 使轮换出的密钥在此期间内仍可验证，零表示立即撤销。
	VerificationGrace time.Duration
	// JWKSCacheTTL bounds how long a published key set is cached.
	// JWKSCacheTTL 限制已发布密钥集的缓存时间。
	JWKSCacheTTL time.Duration
}

// KeyManagementService is the application-layer service responsible for the
// signing key lifecycle of every owner: provisioning, rotation, lookup and
// JWKS publication.
// KeyManagementService 是负责每个所有者签名密钥生命周期的应用层服务：
// 供应、轮换、查找和 JWKS 发布。
type KeyManagementService struct {
	keyRepo    repository.KeyRepository
	cipher     service.EnvelopeCipher
	jwksCache  service.JWKSCache
	publisher  service.JWKSPublisher
	clock      service.Clock
	policy     KeyPolicy
	publicKeys *gocache.Cache
	fill       singleflight.Group
	logger     logger.Logger

	// generations counts key set changes per owner. A JWKS fill only caches
	// its result if no change happened while it read the store.
	genMu       sync.Mutex
	generations map[string]uint64
}

// NewKeyManagementService creates a new instance of the KeyManagementService.
// jwksCache may be nil, in which case every JWKS request reads the store.
// NewKeyManagementService 创建 KeyManagementService 的一个新实例。
func NewKeyManagementService(
	keyRepo repository.KeyRepository,
	cipher service.EnvelopeCipher,
	jwksCache service.JWKSCache,
	clock service.Clock,
	policy KeyPolicy,
	log logger.Logger,
) *KeyManagementService {
	if policy.Algorithm == "" {
		policy.Algorithm = constants.DefaultJWTAlgorithm
	}
	if policy.RSABits == 0 {
		policy.RSABits = constants.DefaultRSAKeyBits
	}
	if policy.JWKSCacheTTL == 0 {
		policy.JWKSCacheTTL = constants.JWKSCacheTTL
	}
	if clock == nil {
		clock = service.SystemClock{}
	}
	return &KeyManagementService{
		keyRepo:    keyRepo,
		cipher:     cipher,
		jwksCache:  jwksCache,
		clock:      clock,
		policy:     policy,
		publicKeys: gocache.New(publicKeyMemoTTL, 2*publicKeyMemoTTL),
		logger:     log.WithComponent("KeyManagementService"),

		generations: make(map[string]uint64),
	}
}

// SetPublisher mirrors every key set change to p. Nil disables mirroring.
func (s *KeyManagementService) SetPublisher(p service.JWKSPublisher) {
	s.publisher = p
}

// Policy returns the effective key policy.
func (s *KeyManagementService) Policy() KeyPolicy {
	return s.policy
}

// Provision creates the first active key of an owner.
// It fails with KeyAlreadyActive if the owner already has one.
// Provision 为所有者创建第一个活动密钥。如果所有者已有活动密钥，则返回 KeyAlreadyActive。
func (s *KeyManagementService) Provision(ctx context.Context, owner models.OwnerRef) (*models.KeyInfo, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	key, pub, err := s.newKeyPair(owner)
	if err != nil {
		return nil, err
	}
	if err := s.keyRepo.Insert(ctx, key); err != nil {
		return nil, err
	}
	s.invalidateJWKS(ctx, owner)
	s.mirrorJWKS(ctx, owner)

	s.logger.Info(ctx, "Provisioned signing key",
		logger.String("owner", owner.String()),
		logger.String("kid", key.Kid),
		logger.String("alg", string(key.Algorithm)),
	)
	return keyInfo(key, pub), nil
}

// Rotate replaces the active key of an owner in one transaction. The previous
// key becomes revoked, or retiring until now+grace when a grace period is set.
// Rotating an owner without a key provisions it.
// Rotate 在一个事务中替换所有者的活动密钥。
func (s *KeyManagementService) Rotate(ctx context.Context, owner models.OwnerRef) (*models.KeyInfo, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	key, pub, err := s.newKeyPair(owner)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	var verifyUntil *time.Time
	if s.policy.VerificationGrace > 0 {
		until := now.Add(s.policy.VerificationGrace)
		verifyUntil = &until
	}

	previous, err := s.keyRepo.Rotate(ctx, key, now, verifyUntil)
	if err != nil {
		return nil, err
	}
	s.invalidateJWKS(ctx, owner)
	s.mirrorJWKS(ctx, owner)

	fields := []logger.Field{
		logger.String("owner", owner.String()),
		logger.String("kid", key.Kid),
	}
	if previous != nil {
		fields = append(fields,
			logger.String("previous_kid", previous.Kid),
			logger.String("previous_status", string(previous.Status)))
	}
	s.logger.Info(ctx, "Rotated signing key", fields...)
	return keyInfo(key, pub), nil
}

// ActiveKey returns the owner's active key with its private half opened.
// ActiveKey 返回所有者的活动密钥及其已解密的私钥。
func (s *KeyManagementService) ActiveKey(ctx context.Context, owner models.OwnerRef) (*models.SigningKey, error) {
	key, err := s.keyRepo.FindActive(ctx, owner)
	if err != nil {
		return nil, err
	}

	der, err := s.cipher.Open(key.Envelope(), []byte(key.Kid))
	if err != nil {
		s.logger.Error(ctx, "Failed to open private key envelope", err,
			logger.String("owner", owner.String()),
			logger.String("kid", key.Kid),
		)
		return nil, err
	}
	signer, err := cryptox.ParsePrivateKey(der, key.Algorithm)
	if err != nil {
		return nil, errors.ErrDecryptionFailure("opened private key is malformed").WithCause(err)
	}

	return &models.SigningKey{
		KeyInfo:    *keyInfo(key, signer.Public()),
		PrivateKey: signer,
	}, nil
}

// KeyByKid resolves a verification key scoped to owner. Only keys that are
// verifiable now resolve; anything else is UnknownKid.
// KeyByKid 在所有者范围内解析验证密钥。
func (s *KeyManagementService) KeyByKid(ctx context.Context, owner models.OwnerRef, kid string) (*models.KeyInfo, error) {
	if kid == "" {
		return nil, errors.ErrUnknownKid(owner.String(), kid)
	}
	key, err := s.keyRepo.FindVerifiable(ctx, owner, kid, s.clock.Now())
	if err != nil {
		return nil, err
	}
	pub, err := s.publicKey(key)
	if err != nil {
		return nil, err
	}
	return keyInfo(key, pub), nil
}

// PublicJWKS returns the owner's published key set: the active key plus any
// retiring keys still inside their grace period.
// PublicJWKS 返回所有者发布的密钥集。
func (s *KeyManagementService) PublicJWKS(ctx context.Context, owner models.OwnerRef) (*models.JWKS, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	if s.jwksCache != nil {
		if jwks, ok, err := s.jwksCache.Get(ctx, owner); err == nil && ok {
			return jwks, nil
		}
	}

	gen := s.generation(owner)
	v, err, _ := s.fill.Do(fmt.Sprintf("%s#%d", owner, gen), func() (interface{}, error) {
		jwks, ttl, err := s.loadJWKS(ctx, owner)
		if err != nil {
			return nil, err
		}
		s.cacheJWKS(ctx, owner, gen, jwks, ttl)
		return jwks, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.JWKS), nil
}

// PublishJWKS writes the owner's current key set to the configured publisher.
// PublishJWKS 将所有者当前的密钥集写入配置的发布器。
func (s *KeyManagementService) PublishJWKS(ctx context.Context, owner models.OwnerRef) error {
	if err := owner.Validate(); err != nil {
		return err
	}
	if s.publisher == nil {
		return errors.ErrInvalidArgument("cdn", "no JWKS publisher is configured")
	}
	jwks, _, err := s.loadJWKS(ctx, owner)
	if err != nil {
		return err
	}
	return s.publisher.Publish(ctx, owner, jwks)
}

// ListKeys returns the metadata of every key of the owner, newest first.
// ListKeys 返回所有者所有密钥的元数据，按时间倒序。
func (s *KeyManagementService) ListKeys(ctx context.Context, owner models.OwnerRef) ([]*models.KeyInfo, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	keys, err := s.keyRepo.ListByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	infos := make([]*models.KeyInfo, 0, len(keys))
	for _, k := range keys {
		pub, err := s.publicKey(k)
		if err != nil {
			return nil, err
		}
		infos = append(infos, keyInfo(k, pub))
	}
	return infos, nil
}

// loadJWKS reads the key set from the store. The returned TTL never outlives
// the earliest verify_until of a published retiring key.
func (s *KeyManagementService) loadJWKS(ctx context.Context, owner models.OwnerRef) (*models.JWKS, time.Duration, error) {
	now := s.clock.Now()
	keys, err := s.keyRepo.ListVerifiable(ctx, owner, now)
	if err != nil {
		return nil, 0, err
	}

	jwks := &models.JWKS{Keys: make([]models.JWK, 0, len(keys))}
	ttl := s.policy.JWKSCacheTTL
	for _, k := range keys {
		pub, err := s.publicKey(k)
		if err != nil {
			return nil, 0, err
		}
		jwk, err := cryptox.PublicJWK(k.Kid, k.Algorithm, pub)
		if err != nil {
			return nil, 0, fmt.Errorf("export jwk %s: %w", k.Kid, err)
		}
		jwks.Keys = append(jwks.Keys, jwk)

		if k.VerifyUntil != nil {
			if remaining := k.VerifyUntil.Sub(now); remaining < ttl {
				ttl = remaining
			}
		}
	}

	return jwks, ttl, nil
}

// cacheJWKS stores jwks unless the owner's key set changed since gen was read.
// The check and the write share the generation lock, so an invalidation either
// runs before the write and suppresses it, or after it and removes it.
func (s *KeyManagementService) cacheJWKS(ctx context.Context, owner models.OwnerRef, gen uint64, jwks *models.JWKS, ttl time.Duration) {
	if s.jwksCache == nil || ttl <= 0 {
		return
	}
	s.genMu.Lock()
	defer s.genMu.Unlock()
	if s.generations[owner.String()] != gen {
		s.logger.Debug(ctx, "Discarding JWKS read across a key change", logger.String("owner", owner.String()))
		return
	}
	if err := s.jwksCache.Set(ctx, owner, jwks, ttl); err != nil {
		s.logger.Warn(ctx, "Failed to cache JWKS", logger.String("owner", owner.String()), logger.Err(err))
	}
}

func (s *KeyManagementService) generation(owner models.OwnerRef) uint64 {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return s.generations[owner.String()]
}

func (s *KeyManagementService) invalidateJWKS(ctx context.Context, owner models.OwnerRef) {
	s.genMu.Lock()
	s.generations[owner.String()]++
	s.genMu.Unlock()
	if s.jwksCache == nil {
		return
	}
	if err := s.jwksCache.Invalidate(ctx, owner); err != nil {
		s.logger.Warn(ctx, "Failed to invalidate cached JWKS",
			logger.String("owner", owner.String()), logger.Err(err))
	}
}

// mirrorJWKS publishes after a key change. Failures are logged; the key change
// itself has already committed.
func (s *KeyManagementService) mirrorJWKS(ctx context.Context, owner models.OwnerRef) {
	if s.publisher == nil {
		return
	}
	if err := s.PublishJWKS(ctx, owner); err != nil {
		s.logger.Warn(ctx, "Failed to publish JWKS",
			logger.String("owner", owner.String()), logger.Err(err))
	}
}

// publicKey parses the stored PEM once per kid. The kid to public key
// mapping never changes, so the memo holds no status.
func (s *KeyManagementService) publicKey(key *models.KeyPair) (crypto.PublicKey, error) {
	if v, ok := s.publicKeys.Get(key.Kid); ok {
		return v.(crypto.PublicKey), nil
	}
	pub, err := cryptox.ParsePublicKeyPEM(key.PublicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse public key %s: %w", key.Kid, err)
	}
	if err := cryptox.CheckAlgorithm(pub, key.Algorithm); err != nil {
		return nil, err
	}
	s.publicKeys.SetDefault(key.Kid, pub)
	return pub, nil
}

func (s *KeyManagementService) newKeyPair(owner models.OwnerRef) (*models.KeyPair, crypto.PublicKey, error) {
	signer, err := cryptox.GenerateSigningKey(s.policy.Algorithm, s.policy.RSABits)
	if err != nil {
		return nil, nil, err
	}
	pemStr, err := cryptox.EncodePublicKeyPEM(signer.Public())
	if err != nil {
		return nil, nil, err
	}
	der, err := cryptox.MarshalPrivateKey(signer)
	if err != nil {
		return nil, nil, err
	}

	kid := uuid.NewString()
	env, err := s.cipher.Seal(der, []byte(kid))
	if err != nil {
		return nil, nil, fmt.Errorf("seal private key: %w", err)
	}

	key := &models.KeyPair{
		ID:           uuid.NewString(),
		OwnerKind:    owner.Kind,
		OwnerID:      owner.ID,
		Kid:          kid,
		Algorithm:    s.policy.Algorithm,
		PublicKeyPEM: pemStr,
		Status:       constants.KeyStatusActive,
		CreatedAt:    s.clock.Now(),
	}
	key.SetEnvelope(env)
	return key, signer.Public(), nil
}

func keyInfo(k *models.KeyPair, pub crypto.PublicKey) *models.KeyInfo {
	return &models.KeyInfo{
		Kid:          k.Kid,
		Owner:        k.Owner(),
		Algorithm:    k.Algorithm,
		Status:       k.Status,
		PublicKeyPEM: k.PublicKeyPEM,
		PublicKey:    pub,
		CreatedAt:    k.CreatedAt,
		RevokedAt:    k.RevokedAt,
		VerifyUntil:  k.VerifyUntil,
	}
}
