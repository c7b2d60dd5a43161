package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tradejournal/backend/internal/infrastructure/migration"
	"go.uber.org/zap"
)

func TestExecute_ReturnsErrors(t *testing.T) {
	root := t.TempDir()

	err := execute(zap.NewNop(), "billing", root, "", []string{"up"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "-service")

	err = execute(zap.NewNop(), "journal", root, "", []string{"create"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migration name required")
}

func TestExecute_CreateThenList(t *testing.T) {
	root := t.TempDir()

	require.NoError(t, execute(zap.NewNop(), "identity", root, "", []string{"create", "add_index"}))
	require.NoError(t, execute(zap.NewNop(), "identity", root, "", []string{"list"}))

	names, err := migration.ListMigrations(migration.ServiceIdentity.Dir(root))
	require.NoError(t, err)
	require.Len(t, names, 1)
	assert.Contains(t, names[0], "add_index")
}
