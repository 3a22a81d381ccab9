package application_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/credcore/internal/domain/models"
	"github.com/turtacn/credcore/pkg/constants"
	"github.com/turtacn/credcore/pkg/errors"
	"github.com/turtacn/credcore/pkg/utils"
)

func openRequest(owner models.OwnerRef, subject string) models.OpenSessionRequest {
	return models.OpenSessionRequest{
		Owner:     owner,
		SubjectID: subject,
		Claims:    map[string]interface{}{"scope": "sync"},
		Meta:      models.ClientMeta{IPAddress: "10.0.0.1", UserAgent: "agent/1.0"},
	}
}

func provisioned(t *testing.T, f *fixture, owner models.OwnerRef) {
	t.Helper()
	_, err := f.keys.Provision(context.Background(), owner)
	require.NoError(t, err)
}

func TestSessionService_Open(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := models.Tenant("42")
	provisioned(t, f, owner)

	creds, err := f.sessions.Open(ctx, openRequest(owner, "user-1"))
	require.NoError(t, err)
	assert.NotEmpty(t, creds.AccessToken)
	assert.NotEmpty(t, creds.RefreshToken)
	assert.Equal(t, constants.TokenTypeBearer, creds.TokenType)
	assert.Equal(t, int64(constants.AccessTokenDefaultTTL.Seconds()), creds.ExpiresIn)
	assert.Equal(t, epoch.Add(constants.RefreshTokenDefaultTTL), creds.RefreshExpiresAt)
	assert.Equal(t, "42", creds.Session.Audience)

	claims, err := f.tokens.Verify(ctx, owner, creds.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, creds.Session.ID, claims.SessionID)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "sync", claims.Custom["scope"])

	// Only the fingerprint is stored.
	stored, err := f.sessionRepo.FindByFingerprint(ctx, owner, utils.Fingerprint(creds.RefreshToken))
	require.NoError(t, err)
	assert.NotEqual(t, creds.RefreshToken, stored.TokenFingerprint)
	assert.Equal(t, "10.0.0.1", stored.IPAddress)

	active, err := f.sessions.ActiveSessions(ctx, owner, "user-1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, creds.Session.ID, active[0].ID)
}

func TestSessionService_OpenWithoutKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := models.Tenant("42")

	_, err := f.sessions.Open(ctx, openRequest(owner, "user-1"))
	assert.True(t, errors.IsKind(err, errors.KindNoActiveKey))

	_, err = f.sessions.Open(ctx, openRequest(owner, ""))
	assert.True(t, errors.IsKind(err, errors.KindInvalidArgument))
}

func TestSessionService_RefreshRotates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := models.Tenant("42")
	provisioned(t, f, owner)

	first, err := f.sessions.Open(ctx, models.OpenSessionRequest{
		Owner:     owner,
		SubjectID: "user-1",
		Audience:  "mobile",
		Claims:    map[string]interface{}{"plan": "pro"},
		Meta:      models.ClientMeta{IPAddress: "10.0.0.1"},
	})
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	second, err := f.sessions.Refresh(ctx, owner, first.RefreshToken, models.ClientMeta{})
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.NotEqual(t, first.Session.ID, second.Session.ID)
	assert.Equal(t, epoch.Add(time.Hour).Add(constants.RefreshTokenDefaultTTL), second.RefreshExpiresAt)
	assert.Equal(t, "10.0.0.1", second.Session.Meta.IPAddress, "meta falls back to the previous session")

	claims, err := f.tokens.Verify(ctx, owner, second.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, []string{"mobile"}, claims.Audience)
	assert.Equal(t, "pro", claims.Custom["plan"])
	assert.Equal(t, second.Session.ID, claims.SessionID)

	previous, err := f.sessionRepo.FindByID(ctx, owner, first.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.SessionStatusRevoked, previous.Status)
	require.NotNil(t, previous.ReplacedBy)
	assert.Equal(t, second.Session.ID, *previous.ReplacedBy)
}

func TestSessionService_RefreshReuseRevokesSubject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := models.Tenant("42")
	provisioned(t, f, owner)

	first, err := f.sessions.Open(ctx, openRequest(owner, "user-1"))
	require.NoError(t, err)
	other, err := f.sessions.Open(ctx, openRequest(owner, "user-1"))
	require.NoError(t, err)
	bystander, err := f.sessions.Open(ctx, openRequest(owner, "user-2"))
	require.NoError(t, err)

	second, err := f.sessions.Refresh(ctx, owner, first.RefreshToken, models.ClientMeta{})
	require.NoError(t, err)

	_, err = f.sessions.Refresh(ctx, owner, first.RefreshToken, models.ClientMeta{})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindRefreshTokenReused))

	active, err := f.sessions.ActiveSessions(ctx, owner, "user-1")
	require.NoError(t, err)
	assert.Empty(t, active, "every session of the subject is revoked")

	_, err = f.sessions.Refresh(ctx, owner, second.RefreshToken, models.ClientMeta{})
	assert.True(t, errors.IsKind(err, errors.KindRefreshTokenReused))
	_, err = f.sessions.Refresh(ctx, owner, other.RefreshToken, models.ClientMeta{})
	assert.True(t, errors.IsKind(err, errors.KindRefreshTokenReused))

	_, err = f.sessions.Refresh(ctx, owner, bystander.RefreshToken, models.ClientMeta{})
	require.NoError(t, err, "other subjects are not affected")

	reused := f.eventsOf(constants.AuditEventRefreshTokenReused)
	require.Len(t, reused, 3)
	assert.Equal(t, "user-1", reused[0].SubjectID)
	assert.Equal(t, first.Session.ID, reused[0].SessionID)
	assert.Equal(t, constants.AuditResultFailure, reused[0].Result)
	assert.Equal(t, 3, f.metrics.reuses)
	assert.Equal(t, int64(2), f.metrics.contained)
}

func TestSessionService_RefreshUnknownToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := models.Tenant("42")
	provisioned(t, f, owner)

	open, err := f.sessions.Open(ctx, openRequest(owner, "user-1"))
	require.NoError(t, err)

	_, err = f.sessions.Refresh(ctx, owner, "not-a-refresh-token", models.ClientMeta{})
	assert.True(t, errors.IsKind(err, errors.KindRefreshTokenReused))
	_, err = f.sessions.Refresh(ctx, owner, "", models.ClientMeta{})
	assert.True(t, errors.IsKind(err, errors.KindRefreshTokenReused))

	// A token from another owner is unknown here.
	_, err = f.sessions.Refresh(ctx, models.Tenant("43"), open.RefreshToken, models.ClientMeta{})
	assert.True(t, errors.IsKind(err, errors.KindRefreshTokenReused))

	active, err := f.sessions.ActiveSessions(ctx, owner, "user-1")
	require.NoError(t, err)
	assert.Len(t, active, 1, "unknown tokens trigger no containment")

	reused := f.eventsOf(constants.AuditEventRefreshTokenReused)
	require.Len(t, reused, 3, "unknown tokens are audited")
	for _, event := range reused {
		assert.Equal(t, constants.AuditResultFailure, event.Result)
		assert.Empty(t, event.SubjectID)
		assert.Empty(t, event.SessionID)
		assert.Equal(t, "unknown_token", event.Message)
	}
	assert.Equal(t, models.Tenant("43"), reused[2].Owner)
	assert.Zero(t, f.metrics.reuses)
}

func TestSessionService_RefreshExpiryTakesPrecedence(t *testing.T) {
	f := newFixture(t, withRefreshTTL(time.Hour))
	ctx := context.Background()
	owner := models.Tenant("42")
	provisioned(t, f, owner)

	expired, err := f.sessions.Open(ctx, openRequest(owner, "user-1"))
	require.NoError(t, err)
	revoked, err := f.sessions.Open(ctx, openRequest(owner, "user-1"))
	require.NoError(t, err)
	_, err = f.sessions.Revoke(ctx, owner, revoked.Session.ID)
	require.NoError(t, err)

	f.clock.Advance(30 * time.Minute)
	live, err := f.sessions.Open(ctx, openRequest(owner, "user-1"))
	require.NoError(t, err)

	f.clock.Advance(31 * time.Minute)
	_, err = f.sessions.Refresh(ctx, owner, expired.RefreshToken, models.ClientMeta{})
	assert.True(t, errors.IsKind(err, errors.KindRefreshTokenExpired))

	// Expired and revoked is still expired, and does not trigger containment.
	_, err = f.sessions.Refresh(ctx, owner, revoked.RefreshToken, models.ClientMeta{})
	assert.True(t, errors.IsKind(err, errors.KindRefreshTokenExpired))

	_, err = f.sessions.Refresh(ctx, owner, live.RefreshToken, models.ClientMeta{})
	require.NoError(t, err)
}

func TestSessionService_ConcurrentRefreshSingleWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := models.Tenant("42")
	provisioned(t, f, owner)

	open, err := f.sessions.Open(ctx, openRequest(owner, "user-1"))
	require.NoError(t, err)

	const workers = 8
	var (
		wg        sync.WaitGroup
		start     = make(chan struct{})
		errs      = make([]error, workers)
		successes = make([]*models.IssuedCredentials, workers)
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			successes[i], errs[i] = f.sessions.Refresh(ctx, owner, open.RefreshToken, models.ClientMeta{})
		}(i)
	}
	close(start)
	wg.Wait()

	won := 0
	for i := 0; i < workers; i++ {
		if errs[i] == nil {
			won++
			require.NotNil(t, successes[i])
			continue
		}
		assert.True(t, errors.IsKind(errs[i], errors.KindRefreshTokenReused), "unexpected error: %v", errs[i])
	}
	assert.Equal(t, 1, won)
}

func TestSessionService_Revoke(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := models.Tenant("42")
	provisioned(t, f, owner)

	open, err := f.sessions.Open(ctx, openRequest(owner, "user-1"))
	require.NoError(t, err)

	changed, err := f.sessions.Revoke(ctx, owner, open.Session.ID)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = f.sessions.Revoke(ctx, owner, open.Session.ID)
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = f.sessions.Revoke(ctx, owner, "missing")
	assert.True(t, errors.IsKind(err, errors.KindSessionNotFound))
	_, err = f.sessions.Revoke(ctx, models.Tenant("43"), open.Session.ID)
	assert.True(t, errors.IsKind(err, errors.KindSessionNotFound))
}

func TestSessionService_RevokeForSubject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := models.Tenant("42")
	provisioned(t, f, owner)

	mine, err := f.sessions.Open(ctx, openRequest(owner, "user-1"))
	require.NoError(t, err)
	theirs, err := f.sessions.Open(ctx, openRequest(owner, "user-2"))
	require.NoError(t, err)

	changed, err := f.sessions.RevokeForSubject(ctx, owner, "user-1", mine.Session.ID)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = f.sessions.RevokeForSubject(ctx, owner, "user-1", mine.Session.ID)
	require.NoError(t, err, "an already revoked session of the caller is a no-op")
	assert.False(t, changed)

	_, err = f.sessions.RevokeForSubject(ctx, owner, "user-1", theirs.Session.ID)
	assert.True(t, errors.IsKind(err, errors.KindSessionNotFound))
	_, err = f.sessions.RevokeForSubject(ctx, owner, "user-1", "missing")
	assert.True(t, errors.IsKind(err, errors.KindSessionNotFound))

	active, err := f.sessions.ActiveSessions(ctx, owner, "user-2")
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestSessionService_RevokeByToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := models.Tenant("42")
	provisioned(t, f, owner)

	open, err := f.sessions.Open(ctx, openRequest(owner, "user-1"))
	require.NoError(t, err)

	info, changed, err := f.sessions.RevokeByToken(ctx, owner, open.RefreshToken)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, open.Session.ID, info.ID)

	_, changed, err = f.sessions.RevokeByToken(ctx, owner, open.RefreshToken)
	require.NoError(t, err)
	assert.False(t, changed)

	_, _, err = f.sessions.RevokeByToken(ctx, owner, "unknown")
	assert.True(t, errors.IsKind(err, errors.KindSessionNotFound))
}

func TestSessionService_RevokeAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := models.Tenant("42")
	provisioned(t, f, owner)

	for i := 0; i < 3; i++ {
		_, err := f.sessions.Open(ctx, openRequest(owner, "user-1"))
		require.NoError(t, err)
	}
	_, err := f.sessions.Open(ctx, openRequest(owner, "user-2"))
	require.NoError(t, err)

	count, err := f.sessions.RevokeAll(ctx, owner, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	active, err := f.sessions.ActiveSessions(ctx, owner, "user-2")
	require.NoError(t, err)
	assert.Len(t, active, 1)
}
