package application

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/credcore/internal/domain/models"
	"github.com/turtacn/credcore/internal/domain/repository"
	"github.com/turtacn/credcore/internal/domain/service"
	"github.com/turtacn/credcore/pkg/constants"
	"github.com/turtacn/credcore/pkg/errors"
	"github.com/turtacn/credcore/pkg/logger"
	"github.com/turtacn/credcore/pkg/utils"
)

// SessionPolicy controls refresh token lifetimes.
type SessionPolicy struct {
	RefreshTokenTTL time.Duration
}

// SessionService runs the refresh-token state machine. Sessions move from
// active to revoked exactly once; every refresh revokes the presented
// session and opens its successor in one transaction.
// SessionService 运行刷新令牌状态机。
type SessionService struct {
	sessions repository.SessionRepository
	tokens   *TokenService
	clock    service.Clock
	policy   SessionPolicy
	audit    service.AuditService
	metrics  service.Metrics
	logger   logger.Logger
}

// NewSessionService creates a new SessionService.
func NewSessionService(
	sessions repository.SessionRepository,
	tokens *TokenService,
	clock service.Clock,
	policy SessionPolicy,
	audit service.AuditService,
	metrics service.Metrics,
	log logger.Logger,
) *SessionService {
	if policy.RefreshTokenTTL <= 0 {
		policy.RefreshTokenTTL = constants.RefreshTokenDefaultTTL
	}
	if clock == nil {
		clock = service.SystemClock{}
	}
	if metrics == nil {
		metrics = service.NoopMetrics{}
	}
	return &SessionService{
		sessions: sessions,
		tokens:   tokens,
		clock:    clock,
		policy:   policy,
		audit:    audit,
		metrics:  metrics,
		logger:   log.WithComponent("SessionService"),
	}
}

// Open starts a session for (owner, subject) and returns its first access
// and refresh tokens. The raw refresh token is only ever returned here.
// Open 为 (所有者, 主体) 打开会话并返回第一个访问令牌和刷新令牌。
func (s *SessionService) Open(ctx context.Context, req models.OpenSessionRequest) (*models.IssuedCredentials, error) {
	if err := req.Owner.Validate(); err != nil {
		return nil, err
	}
	if req.SubjectID == "" {
		return nil, errors.ErrInvalidArgument("subject_id", "must not be empty")
	}
	audience := req.Audience
	if audience == "" {
		audience = req.Owner.DefaultAudience()
	}
	claims := req.Claims
	if claims == nil {
		claims = map[string]interface{}{}
	}

	session, raw, err := s.newSession(req.Owner, req.SubjectID, audience, claims, req.Meta)
	if err != nil {
		return nil, err
	}
	access, accessClaims, err := s.sign(ctx, session)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "Session opened",
		logger.String("owner", req.Owner.String()),
		logger.String("subject_id", req.SubjectID),
		logger.String("session_id", session.ID),
	)
	return s.credentials(session, raw, access, accessClaims), nil
}

// Refresh exchanges a refresh token for a new token pair.
//
// An unknown token is RefreshTokenReused. A token whose session is past
// expires_at is RefreshTokenExpired whatever its status. A token whose
// session was already revoked, or which loses a concurrent exchange, is
// RefreshTokenReused after every active session of the subject is revoked.
// Refresh 用刷新令牌换取新的令牌对。
func (s *SessionService) Refresh(ctx context.Context, owner models.OwnerRef, rawToken string, meta models.ClientMeta) (*models.IssuedCredentials, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	if rawToken == "" {
		return nil, s.unknownToken(ctx, owner)
	}

	current, err := s.sessions.FindByFingerprint(ctx, owner, utils.Fingerprint(rawToken))
	if err != nil {
		if errors.IsKind(err, errors.KindSessionNotFound) {
			return nil, s.unknownToken(ctx, owner)
		}
		return nil, err
	}

	now := s.clock.Now()
	if current.IsExpired(now) {
		return nil, errors.ErrRefreshTokenExpired()
	}
	if current.Status != constants.SessionStatusActive {
		return nil, s.contain(ctx, current, now)
	}

	if meta == (models.ClientMeta{}) {
		meta = models.ClientMeta{IPAddress: current.IPAddress, UserAgent: current.UserAgent}
	}
	next, raw, err := s.newSession(owner, current.SubjectID, current.Audience, current.Claims, meta)
	if err != nil {
		return nil, err
	}
	access, accessClaims, err := s.sign(ctx, next)
	if err != nil {
		return nil, err
	}

	rotated, err := s.sessions.Rotate(ctx, current.ID, next, now)
	if err != nil {
		return nil, err
	}
	if !rotated {
		return nil, s.contain(ctx, current, now)
	}

	s.logger.Info(ctx, "Session refreshed",
		logger.String("owner", owner.String()),
		logger.String("previous_session_id", current.ID),
		logger.String("session_id", next.ID),
	)
	return s.credentials(next, raw, access, accessClaims), nil
}

// unknownToken reports a refresh token that matches no session of owner.
// There is no subject to contain, so only the audit trail records it.
func (s *SessionService) unknownToken(ctx context.Context, owner models.OwnerRef) error {
	s.logger.Warn(ctx, "Refresh with unknown token rejected", logger.String("owner", owner.String()))
	if s.audit != nil {
		event := models.NewAuditEvent(owner, constants.AuditEventRefreshTokenReused, constants.AuditResultFailure, s.clock.Now()).
			WithMessage("unknown_token")
		if err := s.audit.LogEvent(ctx, *event); err != nil {
			s.logger.Error(ctx, "Failed to record unknown refresh token", err, logger.String("owner", owner.String()))
		}
	}
	return errors.ErrRefreshTokenReused()
}

// contain revokes every active session of the presented session's subject and
// reports the replay. If containment cannot be completed the store error is
// returned instead of RefreshTokenReused.
func (s *SessionService) contain(ctx context.Context, presented *models.Session, now time.Time) error {
	owner := presented.Owner()
	revoked, err := s.sessions.RevokeAllForSubject(ctx, owner, presented.SubjectID, now)
	if err != nil {
		s.logger.Error(ctx, "Refresh token reuse containment failed", err,
			logger.String("owner", owner.String()),
			logger.String("subject_id", presented.SubjectID),
			logger.String("session_id", presented.ID),
		)
		return err
	}

	s.metrics.RecordRefreshReuse(string(owner.Kind), revoked)
	s.logger.Warn(ctx, "Refresh token reuse detected, revoked all sessions of subject",
		logger.String("owner", owner.String()),
		logger.String("subject_id", presented.SubjectID),
		logger.String("session_id", presented.ID),
		logger.Int64("revoked_sessions", revoked),
	)

	if s.audit != nil {
		event := models.NewAuditEvent(owner, constants.AuditEventRefreshTokenReused, constants.AuditResultFailure, now).
			WithSubject(presented.SubjectID).
			WithSession(presented.ID).
			WithMetadata("revoked_sessions", revoked)
		if err := s.audit.LogEvent(ctx, *event); err != nil {
			s.logger.Error(ctx, "Failed to record refresh token reuse", err, logger.String("session_id", presented.ID))
		}
	}

	return errors.ErrRefreshTokenReused().
		WithMetadata("subject_id", presented.SubjectID).
		WithMetadata("revoked_sessions", revoked)
}

// Revoke ends one session. Revoking an already revoked session succeeds;
// an unknown id is SessionNotFound. It reports whether the session changed.
// Revoke 结束一个会话。
func (s *SessionService) Revoke(ctx context.Context, owner models.OwnerRef, sessionID string) (bool, error) {
	if err := owner.Validate(); err != nil {
		return false, err
	}
	return s.sessions.Revoke(ctx, owner, sessionID, s.clock.Now())
}

// RevokeForSubject ends one session of (owner, subject) whatever its status.
// A session of another subject is SessionNotFound; revoking twice succeeds.
// RevokeForSubject 结束 (所有者, 主体) 的一个会话。
func (s *SessionService) RevokeForSubject(ctx context.Context, owner models.OwnerRef, subjectID, sessionID string) (bool, error) {
	if err := owner.Validate(); err != nil {
		return false, err
	}
	session, err := s.sessions.FindByID(ctx, owner, sessionID)
	if err != nil {
		return false, err
	}
	if session.SubjectID != subjectID {
		return false, errors.ErrSessionNotFound(sessionID)
	}
	return s.sessions.Revoke(ctx, owner, sessionID, s.clock.Now())
}

// RevokeByToken ends the session behind a raw refresh token.
func (s *SessionService) RevokeByToken(ctx context.Context, owner models.OwnerRef, rawToken string) (*models.SessionInfo, bool, error) {
	if err := owner.Validate(); err != nil {
		return nil, false, err
	}
	session, err := s.sessions.FindByFingerprint(ctx, owner, utils.Fingerprint(rawToken))
	if err != nil {
		return nil, false, err
	}
	changed, err := s.sessions.Revoke(ctx, owner, session.ID, s.clock.Now())
	if err != nil {
		return nil, false, err
	}
	info := session.Info()
	return &info, changed, nil
}

// RevokeAll ends every active session of (owner, subject) and returns how many changed.
func (s *SessionService) RevokeAll(ctx context.Context, owner models.OwnerRef, subjectID string) (int64, error) {
	if err := owner.Validate(); err != nil {
		return 0, err
	}
	return s.sessions.RevokeAllForSubject(ctx, owner, subjectID, s.clock.Now())
}

// ActiveSessions lists the unexpired active sessions of (owner, subject).
func (s *SessionService) ActiveSessions(ctx context.Context, owner models.OwnerRef, subjectID string) ([]models.SessionInfo, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	rows, err := s.sessions.ListActive(ctx, owner, subjectID, s.clock.Now())
	if err != nil {
		return nil, err
	}
	infos := make([]models.SessionInfo, 0, len(rows))
	for _, row := range rows {
		infos = append(infos, row.Info())
	}
	return infos, nil
}

func (s *SessionService) newSession(owner models.OwnerRef, subjectID, audience string, claims map[string]interface{}, meta models.ClientMeta) (*models.Session, string, error) {
	raw, err := utils.GenerateRefreshToken(constants.RefreshTokenBytes)
	if err != nil {
		return nil, "", err
	}
	if claims == nil {
		claims = map[string]interface{}{}
	}
	now := s.clock.Now()
	return &models.Session{
		ID:               uuid.NewString(),
		OwnerKind:        owner.Kind,
		OwnerID:          owner.ID,
		SubjectID:        subjectID,
		TokenFingerprint: utils.Fingerprint(raw),
		Status:           constants.SessionStatusActive,
		Audience:         audience,
		Claims:           claims,
		ExpiresAt:        now.Add(s.policy.RefreshTokenTTL),
		CreatedAt:        now,
		IPAddress:        meta.IPAddress,
		UserAgent:        meta.UserAgent,
	}, raw, nil
}

func (s *SessionService) sign(ctx context.Context, session *models.Session) (string, *models.AccessClaims, error) {
	return s.tokens.Sign(ctx, SignRequest{
		Owner:     session.Owner(),
		Subject:   session.SubjectID,
		Audience:  session.Audience,
		Claims:    session.Claims,
		SessionID: session.ID,
	})
}

func (s *SessionService) credentials(session *models.Session, raw, access string, claims *models.AccessClaims) *models.IssuedCredentials {
	return &models.IssuedCredentials{
		AccessToken:      access,
		RefreshToken:     raw,
		TokenType:        constants.TokenTypeBearer,
		ExpiresIn:        int64(claims.ExpiresAt.Sub(claims.IssuedAt).Seconds()),
		RefreshExpiresAt: session.ExpiresAt,
		Session:          session.Info(),
		Claims:           claims,
	}
}
