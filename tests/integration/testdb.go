// Package integration runs the identity and journal persistence paths against
// a real PostgreSQL started with testcontainers.
package integration

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/tradejournal/backend/internal/infrastructure/migration"
	"go.uber.org/zap/zaptest"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// TestDB is a migrated PostgreSQL container owned by one test
type TestDB struct {
	DB        *gorm.DB
	SqlDB     *sql.DB
	Container testcontainers.Container
	DSN       string
	t         *testing.T
}

// NewTestDB starts a fresh PostgreSQL container and applies the identity and
// journal migrations to it. The container is terminated when the test ends.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("tradejournal_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "Failed to get connection string")

	db, sqlDB := connectToDatabase(t, dsn)
	tdb := &TestDB{DB: db, SqlDB: sqlDB, Container: container, DSN: dsn, t: t}
	t.Cleanup(tdb.Close)

	runMigrations(t, dsn)
	return tdb
}

// Close closes the pool and terminates the container
func (tdb *TestDB) Close() {
	if tdb.SqlDB != nil {
		_ = tdb.SqlDB.Close()
	}
	if tdb.Container != nil {
		if err := tdb.Container.Terminate(context.Background()); err != nil {
			tdb.t.Logf("Warning: Failed to terminate container: %v", err)
		}
	}
}

// Connect opens an additional pool on the same database, as a second service
// instance would
func (tdb *TestDB) Connect() *gorm.DB {
	tdb.t.Helper()
	db, sqlDB := connectToDatabase(tdb.t, tdb.DSN)
	tdb.t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func connectToDatabase(t *testing.T, dsn string) (*gorm.DB, *sql.DB) {
	t.Helper()

	gormConfig := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	if os.Getenv("TEST_DB_DEBUG") != "" {
		gormConfig.Logger = logger.Default.LogMode(logger.Info)
	}

	db, err := gorm.Open(gormpostgres.Open(dsn), gormConfig)
	require.NoError(t, err, "Failed to connect to database")

	sqlDB, err := db.DB()
	require.NoError(t, err, "Failed to get underlying SQL DB")
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	return db, sqlDB
}

// runMigrations applies each service's migrations over its own lib/pq pool,
// which the migrator closes when done.
func runMigrations(t *testing.T, dsn string) {
	t.Helper()

	root := findMigrationsRoot()
	require.NotEmpty(t, root, "Could not find migrations directory")

	for _, service := range []migration.Service{migration.ServiceIdentity, migration.ServiceJournal} {
		sqlDB, err := sql.Open("postgres", dsn)
		require.NoError(t, err)

		m, err := migration.New(sqlDB, service, root, zaptest.NewLogger(t))
		require.NoError(t, err, "Failed to create %s migrator", service)
		require.NoError(t, m.Up(), "Failed to migrate %s", service)

		version, dirty, err := m.Version()
		require.NoError(t, err)
		require.False(t, dirty)
		require.NotZero(t, version)
		require.NoError(t, m.Close())
	}
}

// findMigrationsRoot walks up from this file to the repository's migrations tree
func findMigrationsRoot() string {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return ""
	}
	dir := filepath.Dir(filename)
	for i := 0; i < 4; i++ {
		candidate := filepath.Join(dir, "migrations")
		if _, err := os.Stat(filepath.Join(candidate, string(migration.ServiceIdentity))); err == nil {
			return candidate
		}
		dir = filepath.Dir(dir)
	}
	return ""
}
