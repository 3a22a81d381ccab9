package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/turtacn/credcore/internal/domain/models"
	"github.com/turtacn/credcore/internal/infrastructure/persistence/postgres"
	"github.com/turtacn/credcore/internal/testutil"
	"github.com/turtacn/credcore/pkg/constants"
	"github.com/turtacn/credcore/pkg/errors"
	"github.com/turtacn/credcore/pkg/logger"
	"github.com/turtacn/credcore/pkg/utils"
)

type SessionRepositoryTestSuite struct {
	suite.Suite
	ctx   context.Context
	repo  *postgres.SessionRepository
	owner models.OwnerRef
	now   time.Time
}

func (s *SessionRepositoryTestSuite) SetupTest() {
	s.ctx = context.Background()
	conn := testutil.NewSQLiteDB(s.T())
	s.repo = postgres.NewSessionRepository(conn.DB(), nil, logger.NewNoopLogger())
	s.owner = models.Tenant("42")
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func TestSessionRepositoryTestSuite(t *testing.T) {
	suite.Run(t, new(SessionRepositoryTestSuite))
}

func (s *SessionRepositoryTestSuite) newSession(subject, raw string, expiresAt time.Time) *models.Session {
	return &models.Session{
		ID:               uuid.NewString(),
		OwnerKind:        s.owner.Kind,
		OwnerID:          s.owner.ID,
		SubjectID:        subject,
		TokenFingerprint: utils.Fingerprint(raw),
		Status:           constants.SessionStatusActive,
		Audience:         "app-9",
		Claims:           map[string]interface{}{"role": "admin"},
		ExpiresAt:        expiresAt,
		CreatedAt:        s.now,
		IPAddress:        "10.0.0.1",
		UserAgent:        "test",
	}
}

func (s *SessionRepositoryTestSuite) TestCreateAndFind() {
	session := s.newSession("7", "raw-1", s.now.Add(time.Hour))
	s.Require().NoError(s.repo.Create(s.ctx, session))

	found, err := s.repo.FindByFingerprint(s.ctx, s.owner, utils.Fingerprint("raw-1"))
	s.Require().NoError(err)
	s.Equal(session.ID, found.ID)
	s.Equal("admin", found.Claims["role"])
	s.Equal("10.0.0.1", found.IPAddress)
	s.True(found.ExpiresAt.Equal(session.ExpiresAt))

	_, err = s.repo.FindByFingerprint(s.ctx, models.Tenant("other"), utils.Fingerprint("raw-1"))
	s.True(errors.IsKind(err, errors.KindSessionNotFound))

	_, err = s.repo.FindByID(s.ctx, s.owner, "missing")
	s.True(errors.IsKind(err, errors.KindSessionNotFound))
}

func (s *SessionRepositoryTestSuite) TestDuplicateFingerprint() {
	s.Require().NoError(s.repo.Create(s.ctx, s.newSession("7", "dup", s.now.Add(time.Hour))))
	err := s.repo.Create(s.ctx, s.newSession("8", "dup", s.now.Add(time.Hour)))
	s.Require().Error(err)
	s.True(errors.IsKind(err, errors.KindConstraintViolation))
}

func (s *SessionRepositoryTestSuite) TestRotate_SingleUse() {
	first := s.newSession("7", "r1", s.now.Add(time.Hour))
	s.Require().NoError(s.repo.Create(s.ctx, first))

	second := s.newSession("7", "r2", s.now.Add(time.Hour))
	ok, err := s.repo.Rotate(s.ctx, first.ID, second, s.now)
	s.Require().NoError(err)
	s.True(ok)

	third := s.newSession("7", "r3", s.now.Add(time.Hour))
	ok, err = s.repo.Rotate(s.ctx, first.ID, third, s.now)
	s.Require().NoError(err)
	s.False(ok)

	_, err = s.repo.FindByFingerprint(s.ctx, s.owner, utils.Fingerprint("r3"))
	s.True(errors.IsKind(err, errors.KindSessionNotFound), "losing rotation must not insert")

	old, err := s.repo.FindByID(s.ctx, s.owner, first.ID)
	s.Require().NoError(err)
	s.Equal(constants.SessionStatusRevoked, old.Status)
	s.Require().NotNil(old.ReplacedBy)
	s.Equal(second.ID, *old.ReplacedBy)
	s.NotNil(old.RevokedAt)
}

func (s *SessionRepositoryTestSuite) TestRevoke_Idempotent() {
	session := s.newSession("7", "rv", s.now.Add(time.Hour))
	s.Require().NoError(s.repo.Create(s.ctx, session))

	changed, err := s.repo.Revoke(s.ctx, s.owner, session.ID, s.now)
	s.Require().NoError(err)
	s.True(changed)

	changed, err = s.repo.Revoke(s.ctx, s.owner, session.ID, s.now)
	s.Require().NoError(err)
	s.False(changed)

	_, err = s.repo.Revoke(s.ctx, s.owner, "unknown", s.now)
	s.True(errors.IsKind(err, errors.KindSessionNotFound))
}

func (s *SessionRepositoryTestSuite) TestRevokeAllAndList() {
	s.Require().NoError(s.repo.Create(s.ctx, s.newSession("7", "a", s.now.Add(time.Hour))))
	s.Require().NoError(s.repo.Create(s.ctx, s.newSession("7", "b", s.now.Add(time.Hour))))
	s.Require().NoError(s.repo.Create(s.ctx, s.newSession("7", "expired", s.now.Add(-time.Second))))
	s.Require().NoError(s.repo.Create(s.ctx, s.newSession("8", "c", s.now.Add(time.Hour))))

	active, err := s.repo.ListActive(s.ctx, s.owner, "7", s.now)
	s.Require().NoError(err)
	s.Len(active, 2)

	n, err := s.repo.RevokeAllForSubject(s.ctx, s.owner, "7", s.now)
	s.Require().NoError(err)
	s.Equal(int64(3), n)

	active, err = s.repo.ListActive(s.ctx, s.owner, "7", s.now)
	s.Require().NoError(err)
	s.Empty(active)

	active, err = s.repo.ListActive(s.ctx, s.owner, "8", s.now)
	s.Require().NoError(err)
	s.Len(active, 1)
}

func (s *SessionRepositoryTestSuite) TestDeleteStale() {
	live := s.newSession("7", "live", s.now.Add(time.Hour))
	expired := s.newSession("7", "old", s.now.Add(-time.Minute))
	revoked := s.newSession("7", "dead", s.now.Add(time.Hour))
	for _, sess := range []*models.Session{live, expired, revoked} {
		s.Require().NoError(s.repo.Create(s.ctx, sess))
	}
	_, err := s.repo.Revoke(s.ctx, s.owner, revoked.ID, s.now)
	s.Require().NoError(err)

	n, err := s.repo.DeleteStale(s.ctx, s.now)
	s.Require().NoError(err)
	s.Equal(int64(2), n)

	_, err = s.repo.FindByID(s.ctx, s.owner, live.ID)
	s.NoError(err)
}
