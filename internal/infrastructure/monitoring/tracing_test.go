package monitoring

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/credcore/internal/config"
	"github.com/turtacn/credcore/pkg/logger"
)

func TestTracingManager_Disabled(t *testing.T) {
	tm, err := NewTracingManager(&config.Config{App: config.AppConfig{Name: "credcore"}}, logger.NewNoopLogger())
	require.NoError(t, err)

	boom := errors.New("boom")
	err = tm.TraceOperation(context.Background(), "op", func(ctx context.Context) error {
		assert.Empty(t, TraceID(ctx))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, tm.Shutdown(context.Background()))
}
