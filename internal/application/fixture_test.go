package application_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/turtacn/credcore/internal/application"
	"github.com/turtacn/credcore/internal/domain/models"
	"github.com/turtacn/credcore/internal/domain/service"
	"github.com/turtacn/credcore/internal/domain/service/mocks"
	"github.com/turtacn/credcore/internal/infrastructure/persistence/postgres"
	"github.com/turtacn/credcore/internal/testutil"
	"github.com/turtacn/credcore/pkg/constants"
	"github.com/turtacn/credcore/pkg/logger"
)

var epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	clock       *mocks.Clock
	audit       service.AuditService
	recorder    *mocks.RecordingAuditService
	metrics     *recordingMetrics
	jwksCache   *memoryJWKSCache
	keyRepo     *postgres.KeyRepository
	sessionRepo *postgres.SessionRepository
	keys        *application.KeyManagementService
	tokens      *application.TokenService
	sessions    *application.SessionService
	creds       *application.CredentialService
	sweeper     *application.Sweeper
}

type fixtureOptions struct {
	keyPolicy     application.KeyPolicy
	tokenPolicy   application.TokenPolicy
	sessionPolicy application.SessionPolicy
	audit         service.AuditService
}

type fixtureOption func(*fixtureOptions)

func withGrace(d time.Duration) fixtureOption {
	return func(o *fixtureOptions) { o.keyPolicy.VerificationGrace = d }
}

func withAccessTTL(d time.Duration) fixtureOption {
	return func(o *fixtureOptions) { o.tokenPolicy.AccessTokenTTL = d }
}

func withLeeway(d time.Duration) fixtureOption {
	return func(o *fixtureOptions) { o.tokenPolicy.Leeway = d }
}

func withRefreshTTL(d time.Duration) fixtureOption {
	return func(o *fixtureOptions) { o.sessionPolicy.RefreshTokenTTL = d }
}

func withAudit(a service.AuditService) fixtureOption {
	return func(o *fixtureOptions) { o.audit = a }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	o := &fixtureOptions{
		keyPolicy: application.KeyPolicy{Algorithm: constants.AlgorithmES256},
	}
	for _, opt := range opts {
		opt(o)
	}

	log := logger.NewNoopLogger()
	conn := testutil.NewSQLiteDB(t)
	f := &fixture{
		clock:     mocks.NewClock(epoch),
		recorder:  &mocks.RecordingAuditService{},
		metrics:   &recordingMetrics{},
		jwksCache: newMemoryJWKSCache(),
	}
	f.audit = f.recorder
	if o.audit != nil {
		f.audit = o.audit
	}

	f.keyRepo = postgres.NewKeyRepository(conn.DB(), f.metrics, log)
	f.sessionRepo = postgres.NewSessionRepository(conn.DB(), f.metrics, log)
	f.keys = application.NewKeyManagementService(f.keyRepo, testutil.NewEnvelopeCipher(t), f.jwksCache, f.clock, o.keyPolicy, log)
	f.tokens = application.NewTokenService(f.keys, f.clock, o.tokenPolicy, log)
	f.sessions = application.NewSessionService(f.sessionRepo, f.tokens, f.clock, o.sessionPolicy, f.audit, f.metrics, log)
	f.creds = application.NewCredentialService(f.keys, f.tokens, f.sessions, f.audit, f.metrics, f.clock, log)
	f.sweeper = application.NewSweeper(f.keyRepo, f.sessionRepo, f.clock, f.metrics, log)
	return f
}

// eventsOf returns the recorded audit events of one type.
func (f *fixture) eventsOf(eventType constants.AuditEventType) []models.AuditEvent {
	var out []models.AuditEvent
	for _, e := range f.recorder.Events() {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// memoryJWKSCache is an in-process JWKSCache that remembers the TTLs it was given.
type memoryJWKSCache struct {
	mu          sync.Mutex
	entries     map[string]*models.JWKS
	ttls        []time.Duration
	invalidated int
}

func newMemoryJWKSCache() *memoryJWKSCache {
	return &memoryJWKSCache{entries: make(map[string]*models.JWKS)}
}

func (c *memoryJWKSCache) Get(_ context.Context, owner models.OwnerRef) (*models.JWKS, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	jwks, ok := c.entries[owner.String()]
	return jwks, ok, nil
}

func (c *memoryJWKSCache) Set(_ context.Context, owner models.OwnerRef, jwks *models.JWKS, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[owner.String()] = jwks
	c.ttls = append(c.ttls, ttl)
	return nil
}

func (c *memoryJWKSCache) Invalidate(_ context.Context, owner models.OwnerRef) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, owner.String())
	c.invalidated++
	return nil
}

func (c *memoryJWKSCache) lastTTL() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.ttls) == 0 {
		return 0
	}
	return c.ttls[len(c.ttls)-1]
}

// recordingMetrics counts the observations the services make.
type recordingMetrics struct {
	service.NoopMetrics
	mu            sync.Mutex
	reuses        int
	contained     int64
	verifyFailed  map[string]int
	sweeps        int
	keyOperations map[string]int
}

func (m *recordingMetrics) RecordRefreshReuse(_ string, contained int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reuses++
	m.contained += contained
}

func (m *recordingMetrics) RecordTokenVerify(_ string, success bool, errorKind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if success {
		return
	}
	if m.verifyFailed == nil {
		m.verifyFailed = make(map[string]int)
	}
	m.verifyFailed[errorKind]++
}

func (m *recordingMetrics) RecordKeyOperation(operation, _ string, success bool, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keyOperations == nil {
		m.keyOperations = make(map[string]int)
	}
	if success {
		m.keyOperations[operation]++
	}
}

func (m *recordingMetrics) RecordSweep(int64, int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweeps++
}
