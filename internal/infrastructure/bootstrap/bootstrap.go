// Package bootstrap wires the process-level dependencies shared by the
// identity and journal services: configuration, logging, telemetry, the
// database pool and the HTTP server lifecycle.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tradejournal/backend/internal/infrastructure/config"
	"github.com/tradejournal/backend/internal/infrastructure/logger"
	"github.com/tradejournal/backend/internal/infrastructure/persistence"
	"github.com/tradejournal/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

const logTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// ShutdownGrace bounds the final telemetry flush after Run returns
const ShutdownGrace = 15 * time.Second

// Runtime holds the dependencies every service process starts with
type Runtime struct {
	Config    *config.Config
	Logger    *zap.Logger
	Telemetry *telemetry.Providers
	Metrics   *telemetry.SyncMetrics
	Database  *persistence.Database
}

// Init loads configuration and opens the logger, telemetry pipeline and
// database for the named service. The caller must Close the runtime.
func Init(ctx context.Context, service string) (*Runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	if cfg.Telemetry.ServiceName == "" || cfg.Telemetry.ServiceName == cfg.App.Name {
		cfg.Telemetry.ServiceName = service
	}

	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: logTimeFormat,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}

	rt := &Runtime{Config: cfg}

	rt.Telemetry, err = telemetry.Setup(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
		MetricsInterval:   cfg.Telemetry.MetricsInterval,
		LogsEnabled:       cfg.Telemetry.LogsEnabled,
	}, log)
	if err != nil {
		_ = log.Sync()
		return nil, fmt.Errorf("initialize telemetry: %w", err)
	}
	rt.Logger = rt.Telemetry.BridgeLogger(log).With(
		zap.String("service", service),
		zap.String("instance_id", cfg.App.InstanceID),
	)

	rt.Metrics, err = telemetry.NewSyncMetrics(rt.Telemetry.Meter(service))
	if err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	gormLevel := cfg.Log.GormLevel
	if gormLevel == "" {
		gormLevel = cfg.Log.Level
	}
	rt.Database, err = persistence.NewDatabase(&cfg.Database,
		persistence.WithLogger(logger.NewGormLogger(rt.Logger, logger.MapGormLogLevel(gormLevel))),
	)
	if err != nil {
		rt.Close(ctx)
		return nil, err
	}

	if err := telemetry.RegisterPoolMetrics(rt.Telemetry.Meter(service), rt.Database.Stats); err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("register pool metrics: %w", err)
	}

	if err := telemetry.RegisterDBTracing(rt.Database.DB, telemetry.DBTracingConfig{
		Enabled:    cfg.Telemetry.DBTraceEnabled,
		LogFullSQL: cfg.Telemetry.DBLogFullSQL,
		DBName:     cfg.Database.DBName,
	}, rt.Logger); err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("register database tracing: %w", err)
	}

	rt.Logger.Info("Runtime initialized",
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.Bool("telemetry", rt.Telemetry.IsEnabled()),
	)
	return rt, nil
}

// Close releases the database and flushes telemetry and logs
func (r *Runtime) Close(ctx context.Context) {
	log := r.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if r.Database != nil {
		if err := r.Database.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}
	if r.Telemetry != nil {
		if err := r.Telemetry.Shutdown(ctx); err != nil {
			log.Error("Error shutting down telemetry", zap.Error(err))
		}
	}
	_ = log.Sync()
}

// NewServer builds the HTTP server for engine from the HTTP settings
func (r *Runtime) NewServer(engine *gin.Engine) *http.Server {
	return &http.Server{
		Addr:           ":" + r.Config.App.Port,
		Handler:        engine,
		ReadTimeout:    r.Config.HTTP.ReadTimeout,
		WriteTimeout:   r.Config.HTTP.WriteTimeout,
		IdleTimeout:    r.Config.HTTP.IdleTimeout,
		MaxHeaderBytes: r.Config.HTTP.MaxHeaderBytes,
	}
}

// Worker is a background component with a start/stop lifecycle
type Worker interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Run starts the workers and the server, blocks until SIGINT or SIGTERM,
// then shuts everything down within the configured shutdown timeout.
// Workers are stopped in reverse start order after the server drains.
func (r *Runtime) Run(ctx context.Context, srv *http.Server, workers ...Worker) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	started := make([]Worker, 0, len(workers))
	for _, w := range workers {
		if err := w.Start(ctx); err != nil {
			r.stopWorkers(started)
			return fmt.Errorf("start worker: %w", err)
		}
		started = append(started, w)
	}

	serveErr := make(chan error, 1)
	go func() {
		r.Logger.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		r.Logger.Info("Shutting down server...")
	case err := <-serveErr:
		runErr = fmt.Errorf("serve http: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), r.Config.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		r.Logger.Error("Server forced to shutdown", zap.Error(err))
	}
	r.stopWorkers(started)

	if runErr == nil {
		r.Logger.Info("Server exited gracefully")
	}
	return runErr
}

func (r *Runtime) stopWorkers(workers []Worker) {
	ctx, cancel := context.WithTimeout(context.Background(), r.Config.HTTP.ShutdownTimeout)
	defer cancel()
	for i := len(workers) - 1; i >= 0; i-- {
		if err := workers[i].Stop(ctx); err != nil {
			r.Logger.Warn("Worker did not stop cleanly", zap.Error(err))
		}
	}
}

// Fatal reports a startup failure on stderr and exits
func Fatal(msg string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	os.Exit(1)
}
