// Package verifier lets a relying service validate credcore access tokens
// offline against the owner's published JWKS.
package verifier

import (
	"context"
	"crypto/ecdsa"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

var (
	ErrKidNotFound  = errors.New("kid not found in JWKS")
	ErrNoKeysFound  = errors.New("no keys found in JWKS response")
	ErrInvalidToken = errors.New("invalid token")
	ErrInvalidOwner = errors.New("owner kind must be tenant or application")
)

const (
	defaultKeyTTL             = 10 * time.Minute
	defaultMinRefreshInterval = 5 * time.Second
)

// Claims are the verified claims of an access token.
type Claims struct {
	Subject   string
	Issuer    string
	Audience  []string
	IssuedAt  time.Time
	ExpiresAt time.Time
	ID        string
	SessionID string
	KeyID     string
	Custom    map[string]interface{}
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithHTTPClient replaces the client used to fetch the JWKS.
func WithHTTPClient(client *http.Client) Option {
	return func(v *Verifier) { v.httpClient = client }
}

// WithAudience requires the token audience to contain aud. Without it the
// owner's default audience (its id) is expected.
func WithAudience(aud string) Option {
	return func(v *Verifier) { v.audience = aud }
}

// WithLeeway tolerates clock skew when checking exp, iat and nbf.
func WithLeeway(d time.Duration) Option {
	return func(v *Verifier) { v.leeway = d }
}

// WithKeyTTL bounds how long a fetched key is trusted before the set is refetched.
func WithKeyTTL(d time.Duration) Option {
	return func(v *Verifier) { v.keyTTL = d }
}

// WithMinRefreshInterval limits how often an unknown kid triggers a refetch.
func WithMinRefreshInterval(d time.Duration) Option {
	return func(v *Verifier) { v.minRefresh = d }
}

// Verifier is a thread-safe client that fetches and caches one owner's JWKS
// and verifies tokens against it.
type Verifier struct {
	jwksURL    string
	issuer     string
	audience   string
	leeway     time.Duration
	keyTTL     time.Duration
	minRefresh time.Duration
	httpClient *http.Client

	keys  *cache.Cache
	group singleflight.Group

	mu          sync.Mutex
	lastETag    string
	lastFetched time.Time
}

// New creates a Verifier for the owner identified by kind and id, served by
// the credcore instance at baseURL.
func New(baseURL, kind, id string, opts ...Option) (*Verifier, error) {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind != "tenant" && kind != "application" {
		return nil, ErrInvalidOwner
	}
	if id == "" {
		return nil, errors.New("owner id must not be empty")
	}
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	v := &Verifier{
		jwksURL:    base.JoinPath("v1", "owners", kind, id, "jwks.json").String(),
		issuer:     "issuer:" + kind + ":" + id,
		audience:   id,
		keyTTL:     defaultKeyTTL,
		minRefresh: defaultMinRefreshInterval,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(v)
	}
	v.keys = cache.New(v.keyTTL, 2*v.keyTTL)
	return v, nil
}

// JWKSURL returns the URL the key set is fetched from.
func (v *Verifier) JWKSURL() string {
	return v.jwksURL
}

// FetchJWKS fetches the key set and replaces the cached keys. A 304 answer to
// the conditional request keeps the current keys and renews their lifetime.
func (v *Verifier) FetchJWKS(ctx context.Context) error {
	_, err, _ := v.group.Do("jwks", func() (interface{}, error) {
		return nil, v.fetch(ctx)
	})
	return err
}

func (v *Verifier) fetch(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	v.mu.Lock()
	if v.lastETag != "" && len(v.keys.Items()) > 0 {
		req.Header.Set("If-None-Match", v.lastETag)
	}
	v.lastFetched = time.Now()
	v.mu.Unlock()

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		for kid, item := range v.keys.Items() {
			v.keys.SetDefault(kid, item.Object)
		}
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to fetch JWKS: status code %d", resp.StatusCode)
	}

	var jwks jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return fmt.Errorf("decode JWKS: %w", err)
	}
	if len(jwks.Keys) == 0 {
		return ErrNoKeysFound
	}

	v.keys.Flush()
	for _, key := range jwks.Keys {
		if key.Use != "" && key.Use != "sig" {
			continue
		}
		switch key.Key.(type) {
		case *rsa.PublicKey:
			if key.Algorithm != string(jose.RS256) {
				continue
			}
		case *ecdsa.PublicKey:
			if key.Algorithm != string(jose.ES256) {
				continue
			}
		default:
			continue
		}
		v.keys.SetDefault(key.KeyID, key)
	}

	v.mu.Lock()
	v.lastETag = resp.Header.Get("ETag")
	v.mu.Unlock()
	return nil
}

// Verify checks the signature and the registered claims of tokenString. An
// unknown kid triggers at most one refetch per minimum refresh interval.
func (v *Verifier) Verify(ctx context.Context, tokenString string) (*Claims, error) {
	unverified, _, err := jwt.NewParser().ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	kid, _ := unverified.Header["kid"].(string)
	if kid == "" {
		return nil, ErrKidNotFound
	}

	key, err := v.lookup(ctx, kid)
	if err != nil {
		return nil, err
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{key.Algorithm}),
		jwt.WithLeeway(v.leeway),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
	)
	claims := jwt.MapClaims{}
	if _, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return key.Key, nil
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return toClaims(claims, kid), nil
}

func (v *Verifier) lookup(ctx context.Context, kid string) (jose.JSONWebKey, error) {
	if cached, ok := v.keys.Get(kid); ok {
		return cached.(jose.JSONWebKey), nil
	}

	v.mu.Lock()
	throttled := !v.lastFetched.IsZero() && time.Since(v.lastFetched) < v.minRefresh && len(v.keys.Items()) > 0
	v.mu.Unlock()
	if !throttled {
		if err := v.FetchJWKS(ctx); err != nil {
			return jose.JSONWebKey{}, err
		}
	}

	cached, ok := v.keys.Get(kid)
	if !ok {
		return jose.JSONWebKey{}, ErrKidNotFound
	}
	return cached.(jose.JSONWebKey), nil
}

func toClaims(claims jwt.MapClaims, kid string) *Claims {
	out := &Claims{KeyID: kid, Custom: map[string]interface{}{}}
	out.Subject, _ = claims.GetSubject()
	out.Issuer, _ = claims.GetIssuer()
	out.Audience, _ = claims.GetAudience()
	if iat, _ := claims.GetIssuedAt(); iat != nil {
		out.IssuedAt = iat.UTC()
	}
	if exp, _ := claims.GetExpirationTime(); exp != nil {
		out.ExpiresAt = exp.UTC()
	}
	out.ID, _ = claims["jti"].(string)
	out.SessionID, _ = claims["sid"].(string)
	for k, val := range claims {
		switch k {
		case "sub", "iss", "aud", "iat", "nbf", "exp", "jti", "sid":
			continue
		}
		out.Custom[k] = val
	}
	return out
}
