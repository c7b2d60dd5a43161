// Command migrate applies the SQL migrations of the identity or journal service.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	_ "github.com/lib/pq"
	"github.com/tradejournal/backend/internal/infrastructure/config"
	"github.com/tradejournal/backend/internal/infrastructure/logger"
	"github.com/tradejournal/backend/internal/infrastructure/migration"
	"go.uber.org/zap"
)

const defaultMigrationsRoot = "migrations"

func main() {
	var (
		migrationsRoot string
		serviceName    string
		configPath     string
		logLevel       string
	)
	flag.StringVar(&migrationsRoot, "path", "", "Root of the migrations tree (default: ./migrations)")
	flag.StringVar(&serviceName, "service", "", "Service whose schema to migrate: identity or journal")
	flag.StringVar(&configPath, "config", "", "Path to config.toml (default: search ./ and /app)")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(2)
	}
	command := args[0]

	log, err := logger.New(&logger.Config{
		Level:      logLevel,
		Format:     "console",
		Output:     "stdout",
		TimeFormat: "2006-01-02 15:04:05",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = log.Sync()
	}()

	if err := execute(log, serviceName, migrationsRoot, configPath, args); err != nil {
		log.Error("Migration command failed", zap.String("command", command), zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}

// execute owns every resource it opens, so returning instead of exiting lets
// the database handle and the migrator lock close on failure.
func execute(log *zap.Logger, serviceName, migrationsRoot, configPath string, args []string) error {
	command := args[0]
	service, err := migration.ParseService(serviceName)
	if err != nil {
		return fmt.Errorf("a -service flag is required: %w", err)
	}

	root, err := resolveRoot(migrationsRoot)
	if err != nil {
		return fmt.Errorf("resolve migrations path: %w", err)
	}
	log = log.With(zap.String("service", string(service)))
	log.Info("Migration CLI started",
		zap.String("command", command),
		zap.String("migrations_path", service.Dir(root)),
	)

	switch command {
	case "create":
		if len(args) < 2 {
			return fmt.Errorf("migration name required. Usage: migrate -service <svc> create <name> [description]")
		}
		description := ""
		if len(args) > 2 {
			description = args[2]
		}
		mf, err := migration.CreateMigration(root, service, args[1], description)
		if err != nil {
			return fmt.Errorf("create migration: %w", err)
		}
		log.Info("Migration created",
			zap.String("version", mf.Version),
			zap.String("up_file", mf.UpPath),
			zap.String("down_file", mf.DownPath),
		)
		return nil

	case "list":
		migrations, err := migration.ListMigrations(service.Dir(root))
		if err != nil {
			return fmt.Errorf("list migrations: %w", err)
		}
		log.Info("Available migrations", zap.Int("count", len(migrations)))
		for _, m := range migrations {
			fmt.Println("  -", m)
		}
		return nil
	}

	cfg, err := config.LoadFrom(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	m, err := migration.New(db, service, root, log)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()

	return run(m, command, args[1:], log)
}

func run(m *migration.Migrator, command string, args []string, log *zap.Logger) error {
	switch command {
	case "up":
		return m.Up()
	case "down":
		return m.Down()
	case "step":
		n, err := intArg(args, "step count")
		if err != nil {
			return err
		}
		return m.Steps(n)
	case "goto":
		n, err := intArg(args, "version")
		if err != nil {
			return err
		}
		if n < 0 {
			return fmt.Errorf("version must not be negative")
		}
		return m.GoTo(uint(n))
	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			return err
		}
		if version == 0 {
			log.Info("No migrations applied")
			return nil
		}
		log.Info("Current migration version", zap.Uint("version", version), zap.Bool("dirty", dirty))
		return nil
	case "force":
		n, err := intArg(args, "version")
		if err != nil {
			return err
		}
		return m.Force(n)
	case "drop":
		if len(args) == 0 || (args[0] != "-confirm" && args[0] != "--confirm") {
			return fmt.Errorf("drop removes every table in the database; rerun as 'drop -confirm'")
		}
		return m.Drop()
	default:
		printUsage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func intArg(args []string, what string) (int, error) {
	if len(args) == 0 {
		return 0, fmt.Errorf("%s required", what)
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", what, args[0])
	}
	return n, nil
}

// resolveRoot finds the migrations tree in the working directory or two
// levels above the executable, as laid out by the build.
func resolveRoot(path string) (string, error) {
	if path == "" {
		path = defaultMigrationsRoot
		if _, err := os.Stat(path); err != nil {
			if exe, err := os.Executable(); err == nil {
				candidate := filepath.Join(filepath.Dir(exe), "..", "..", defaultMigrationsRoot)
				if _, err := os.Stat(candidate); err == nil {
					path = candidate
				}
			}
		}
	}
	return filepath.Abs(path)
}

func printUsage() {
	fmt.Fprint(os.Stderr, `Trade journal schema migrations

Usage:
  migrate -service <identity|journal> [flags] <command> [arguments]

Commands:
  up                    Apply all pending migrations
  down                  Roll back all migrations
  step <n>              Apply n migrations (positive=up, negative=down)
  goto <version>        Migrate to a specific version
  version               Show the current migration version
  force <version>       Set the version without migrating (clears a dirty state)
  drop -confirm         Drop every object in the database
  create <name> [desc]  Create the next numbered migration pair
  list                  List available migrations

Flags:
  -service string       identity or journal (required)
  -path string          Root of the migrations tree (default: ./migrations)
  -config string        Path to config.toml
  -log-level string     debug, info, warn or error (default: info)

Database settings come from config.toml and TJ_DATABASE_* variables.
`)
}
