package persistence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tradejournal/backend/internal/infrastructure/config"
	"github.com/tradejournal/backend/tests/testutil"
)

func TestDatabase_PingAndStats(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	db := &Database{DB: mockDB.DB}

	require.NoError(t, db.Ping(context.Background()))

	stats, err := db.Stats()
	require.NoError(t, err)
	assert.Equal(t, stats.OpenConnections, stats.InUse+stats.Idle)
}

func TestNewDatabase_UnreachableServer(t *testing.T) {
	cfg := &config.DatabaseConfig{
		Host:         "127.0.0.1",
		Port:         1,
		User:         "postgres",
		DBName:       "tradejournal",
		SSLMode:      "disable",
		MaxOpenConns: 1,
	}
	_, err := NewDatabase(cfg)
	assert.Error(t, err)
}
