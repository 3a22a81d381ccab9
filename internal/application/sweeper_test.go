package application_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/credcore/internal/domain/models"
	"github.com/turtacn/credcore/pkg/constants"
)

func TestSweeper_Sweep(t *testing.T) {
	f := newFixture(t, withGrace(time.Hour), withRefreshTTL(2*time.Hour))
	ctx := context.Background()
	owner := models.Tenant("42")

	_, err := f.keys.Provision(ctx, owner)
	require.NoError(t, err)
	_, err = f.keys.Rotate(ctx, owner)
	require.NoError(t, err)

	stale, err := f.sessions.Open(ctx, openRequest(owner, "user-1"))
	require.NoError(t, err)
	_, err = f.sessions.Revoke(ctx, owner, stale.Session.ID)
	require.NoError(t, err)
	_, err = f.sessions.Open(ctx, openRequest(owner, "user-1"))
	require.NoError(t, err)

	result, err := f.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.KeysRevoked, "grace has not elapsed")
	assert.Equal(t, int64(1), result.SessionsDeleted)

	f.clock.Advance(90 * time.Minute)
	result, err = f.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.KeysRevoked)
	assert.Equal(t, int64(0), result.SessionsDeleted)

	keys, err := f.keys.ListKeys(ctx, owner)
	require.NoError(t, err)
	statuses := map[constants.KeyStatus]int{}
	for _, k := range keys {
		statuses[k.Status]++
	}
	assert.Equal(t, map[constants.KeyStatus]int{
		constants.KeyStatusActive:  1,
		constants.KeyStatusRevoked: 1,
	}, statuses)

	f.clock.Advance(time.Hour)
	result, err = f.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.SessionsDeleted, "expired sessions are deleted")
	assert.Equal(t, 3, f.metrics.sweeps)
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.sweeper.Run(ctx, 5*time.Millisecond) }()

	require.Eventually(t, func() bool {
		f.metrics.mu.Lock()
		defer f.metrics.mu.Unlock()
		return f.metrics.sweeps > 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
