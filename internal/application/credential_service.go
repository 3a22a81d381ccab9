package application

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/turtacn/credcore/internal/domain/models"
	"github.com/turtacn/credcore/internal/domain/service"
	"github.com/turtacn/credcore/pkg/constants"
	"github.com/turtacn/credcore/pkg/errors"
	"github.com/turtacn/credcore/pkg/logger"
)

const tracerName = "github.com/turtacn/credcore/internal/application"

// CredentialService is the single entry point the adapters call. It delegates
// to the key, token and session services and adds tracing, metrics and audit
// events around every lifecycle operation. Audit failures are logged and never
// fail the operation.
// CredentialService 是适配器调用的唯一入口。它委托给密钥、令牌和会话服务，
// 并为每个生命周期操作添加追踪、指标和审计事件。
type CredentialService struct {
	keys     *KeyManagementService
	tokens   *TokenService
	sessions *SessionService
	audit    service.AuditService
	metrics  service.Metrics
	clock    service.Clock
	tracer   trace.Tracer
	logger   logger.Logger
}

// NewCredentialService creates a new CredentialService. audit and metrics may be nil.
func NewCredentialService(
	keys *KeyManagementService,
	tokens *TokenService,
	sessions *SessionService,
	audit service.AuditService,
	metrics service.Metrics,
	clock service.Clock,
	log logger.Logger,
) *CredentialService {
	if metrics == nil {
		metrics = service.NoopMetrics{}
	}
	if clock == nil {
		clock = service.SystemClock{}
	}
	return &CredentialService{
		keys:     keys,
		tokens:   tokens,
		sessions: sessions,
		audit:    audit,
		metrics:  metrics,
		clock:    clock,
		tracer:   otel.Tracer(tracerName),
		logger:   log.WithComponent("CredentialService"),
	}
}

// ProvisionKey creates the first active key of an owner.
func (s *CredentialService) ProvisionKey(ctx context.Context, owner models.OwnerRef) (info *models.KeyInfo, err error) {
	ctx, span := s.startSpan(ctx, "CredentialService.ProvisionKey", owner)
	defer func() { endSpan(span, err) }()

	start := time.Now()
	info, err = s.keys.Provision(ctx, owner)
	s.metrics.RecordKeyOperation("provision", string(owner.Kind), err == nil, time.Since(start))

	event := s.event(owner, constants.AuditEventKeyProvisioned, err)
	if info != nil {
		event.WithKey(info.Kid).WithMetadata("alg", string(info.Algorithm))
	}
	s.emit(ctx, event)
	return info, err
}

// RotateKey replaces the active key of an owner.
func (s *CredentialService) RotateKey(ctx context.Context, owner models.OwnerRef) (info *models.KeyInfo, err error) {
	ctx, span := s.startSpan(ctx, "CredentialService.RotateKey", owner)
	defer func() { endSpan(span, err) }()

	start := time.Now()
	info, err = s.keys.Rotate(ctx, owner)
	s.metrics.RecordKeyOperation("rotate", string(owner.Kind), err == nil, time.Since(start))

	event := s.event(owner, constants.AuditEventKeyRotated, err)
	if info != nil {
		event.WithKey(info.Kid).WithMetadata("alg", string(info.Algorithm))
	}
	s.emit(ctx, event)
	return info, err
}

// PublicJWKS returns the owner's published key set.
func (s *CredentialService) PublicJWKS(ctx context.Context, owner models.OwnerRef) (jwks *models.JWKS, err error) {
	ctx, span := s.startSpan(ctx, "CredentialService.PublicJWKS", owner)
	defer func() { endSpan(span, err) }()

	jwks, err = s.keys.PublicJWKS(ctx, owner)
	if err == nil {
		span.SetAttributes(attribute.Int("jwks.keys", len(jwks.Keys)))
	}
	return jwks, err
}

// ListKeys returns the metadata of every key of the owner.
func (s *CredentialService) ListKeys(ctx context.Context, owner models.OwnerRef) (keys []*models.KeyInfo, err error) {
	ctx, span := s.startSpan(ctx, "CredentialService.ListKeys", owner)
	defer func() { endSpan(span, err) }()

	return s.keys.ListKeys(ctx, owner)
}

// IssueSession opens a session and returns its first token pair.
func (s *CredentialService) IssueSession(ctx context.Context, req models.OpenSessionRequest) (creds *models.IssuedCredentials, err error) {
	ctx, span := s.startSpan(ctx, "CredentialService.IssueSession", req.Owner)
	defer func() { endSpan(span, err) }()

	start := time.Now()
	creds, err = s.sessions.Open(ctx, req)
	kind := string(req.Owner.Kind)
	s.metrics.RecordTokenIssue(kind, err == nil, time.Since(start), errorKind(err))
	s.metrics.RecordSessionOperation("open", kind, err == nil, errorKind(err))

	event := s.event(req.Owner, constants.AuditEventSessionOpened, err).WithSubject(req.SubjectID)
	if creds != nil {
		event.WithSession(creds.Session.ID).WithKey(creds.Claims.KeyID)
	}
	s.emit(ctx, event)
	return creds, err
}

// RefreshSession exchanges a refresh token for a new token pair.
func (s *CredentialService) RefreshSession(ctx context.Context, owner models.OwnerRef, refreshToken string, meta models.ClientMeta) (creds *models.IssuedCredentials, err error) {
	ctx, span := s.startSpan(ctx, "CredentialService.RefreshSession", owner)
	defer func() { endSpan(span, err) }()

	start := time.Now()
	creds, err = s.sessions.Refresh(ctx, owner, refreshToken, meta)
	kind := string(owner.Kind)
	s.metrics.RecordSessionOperation("refresh", kind, err == nil, errorKind(err))
	if err == nil {
		s.metrics.RecordTokenIssue(kind, true, time.Since(start), "")
	}

	// Replays and unknown tokens are audited by the session engine.
	if errors.IsKind(err, errors.KindRefreshTokenReused) {
		return nil, err
	}
	event := s.event(owner, constants.AuditEventSessionRefreshed, err)
	if creds != nil {
		event.WithSubject(creds.Session.SubjectID).WithSession(creds.Session.ID).WithKey(creds.Claims.KeyID)
	}
	s.emit(ctx, event)
	return creds, err
}

// RevokeSession ends one session by id.
func (s *CredentialService) RevokeSession(ctx context.Context, owner models.OwnerRef, sessionID string) (err error) {
	ctx, span := s.startSpan(ctx, "CredentialService.RevokeSession", owner)
	defer func() { endSpan(span, err) }()

	changed, err := s.sessions.Revoke(ctx, owner, sessionID)
	s.metrics.RecordSessionOperation("revoke", string(owner.Kind), err == nil, errorKind(err))
	if err != nil || changed {
		s.emit(ctx, s.event(owner, constants.AuditEventSessionRevoked, err).WithSession(sessionID))
	}
	return err
}

// RevokeSubjectSession ends one session of subjectID. Sessions of other
// subjects are reported as SessionNotFound.
func (s *CredentialService) RevokeSubjectSession(ctx context.Context, owner models.OwnerRef, subjectID, sessionID string) (err error) {
	ctx, span := s.startSpan(ctx, "CredentialService.RevokeSubjectSession", owner)
	defer func() { endSpan(span, err) }()

	changed, err := s.sessions.RevokeForSubject(ctx, owner, subjectID, sessionID)
	s.metrics.RecordSessionOperation("revoke", string(owner.Kind), err == nil, errorKind(err))
	if err != nil || changed {
		s.emit(ctx, s.event(owner, constants.AuditEventSessionRevoked, err).
			WithSubject(subjectID).
			WithSession(sessionID))
	}
	return err
}

// RevokeSessionByToken ends the session behind a raw refresh token.
func (s *CredentialService) RevokeSessionByToken(ctx context.Context, owner models.OwnerRef, refreshToken string) (err error) {
	ctx, span := s.startSpan(ctx, "CredentialService.RevokeSessionByToken", owner)
	defer func() { endSpan(span, err) }()

	info, changed, err := s.sessions.RevokeByToken(ctx, owner, refreshToken)
	s.metrics.RecordSessionOperation("revoke", string(owner.Kind), err == nil, errorKind(err))
	if err != nil {
		s.emit(ctx, s.event(owner, constants.AuditEventSessionRevoked, err))
		return err
	}
	if changed {
		s.emit(ctx, s.event(owner, constants.AuditEventSessionRevoked, nil).
			WithSubject(info.SubjectID).
			WithSession(info.ID))
	}
	return nil
}

// RevokeAllSessions ends every active session of (owner, subject).
func (s *CredentialService) RevokeAllSessions(ctx context.Context, owner models.OwnerRef, subjectID string) (count int64, err error) {
	ctx, span := s.startSpan(ctx, "CredentialService.RevokeAllSessions", owner)
	defer func() { endSpan(span, err) }()

	count, err = s.sessions.RevokeAll(ctx, owner, subjectID)
	s.metrics.RecordSessionOperation("revoke_all", string(owner.Kind), err == nil, errorKind(err))
	s.emit(ctx, s.event(owner, constants.AuditEventSessionRevoked, err).
		WithSubject(subjectID).
		WithMetadata("revoked_sessions", count))
	return count, err
}

// ActiveSessions lists the active sessions of (owner, subject).
func (s *CredentialService) ActiveSessions(ctx context.Context, owner models.OwnerRef, subjectID string) (sessions []models.SessionInfo, err error) {
	ctx, span := s.startSpan(ctx, "CredentialService.ActiveSessions", owner)
	defer func() { endSpan(span, err) }()

	return s.sessions.ActiveSessions(ctx, owner, subjectID)
}

// VerifyAccessToken checks an access token issued for owner.
func (s *CredentialService) VerifyAccessToken(ctx context.Context, owner models.OwnerRef, token string) (claims *models.AccessClaims, err error) {
	ctx, span := s.startSpan(ctx, "CredentialService.VerifyAccessToken", owner)
	defer func() { endSpan(span, err) }()

	claims, err = s.tokens.Verify(ctx, owner, token)
	s.metrics.RecordTokenVerify(string(owner.Kind), err == nil, errorKind(err))
	if err != nil {
		s.logger.Debug(ctx, "Access token rejected",
			logger.String("owner", owner.String()),
			logger.String("kind", errorKind(err)),
		)
	}
	return claims, err
}

func (s *CredentialService) startSpan(ctx context.Context, name string, owner models.OwnerRef) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("owner.kind", string(owner.Kind)),
		attribute.String("owner.id", owner.ID),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, errorKind(err))
	}
	span.End()
}

func (s *CredentialService) event(owner models.OwnerRef, eventType constants.AuditEventType, err error) *models.AuditEvent {
	result := constants.AuditResultSuccess
	if err != nil {
		result = constants.AuditResultFailure
	}
	event := models.NewAuditEvent(owner, eventType, result, s.clock.Now())
	if err != nil {
		event.WithMessage(errorKind(err))
	}
	return event
}

func (s *CredentialService) emit(ctx context.Context, event *models.AuditEvent) {
	if s.audit == nil {
		return
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		event.TraceID = sc.TraceID().String()
	}
	if err := s.audit.LogEvent(ctx, *event); err != nil {
		s.logger.Error(ctx, "Failed to record audit event", err,
			logger.String("event_type", string(event.EventType)),
			logger.String("owner", event.Owner.String()),
		)
	}
}

// errorKind labels err for metrics and audit records.
func errorKind(err error) string {
	if err == nil {
		return ""
	}
	if kind := errors.KindOf(err); kind != "" {
		return string(kind)
	}
	return "internal"
}
