package telemetry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tradejournal/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestSetup_Disabled(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)

	p, err := telemetry.Setup(context.Background(), telemetry.Config{Enabled: false, ServiceName: "journal"}, logger)
	require.NoError(t, err)

	assert.False(t, p.IsEnabled())
	assert.NotNil(t, p.Meter("journal"))
	assert.Same(t, logger, p.BridgeLogger(logger))
	assert.NoError(t, p.Shutdown(context.Background()))
	assert.Equal(t, 1, logs.FilterMessage("Telemetry disabled, using no-op providers").Len())
}
