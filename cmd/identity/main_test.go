package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_ReturnsStartupErrors(t *testing.T) {
	t.Setenv("TJ_TELEMETRY_SAMPLING_RATIO", "2")

	err := run(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "start identity service")
	assert.Contains(t, err.Error(), "telemetry.sampling_ratio")
}
