// Command identity runs the identity service: the user admin API and the
// outbox relay that publishes user facts to the broker.
package main

import (
	"context"
	"fmt"

	eventapp "github.com/tradejournal/backend/internal/application/event"
	identityapp "github.com/tradejournal/backend/internal/application/identity"
	"github.com/tradejournal/backend/internal/infrastructure/bootstrap"
	"github.com/tradejournal/backend/internal/infrastructure/event"
	"github.com/tradejournal/backend/internal/infrastructure/messaging/rabbitmq"
	"github.com/tradejournal/backend/internal/interfaces/http/handler"
	"github.com/tradejournal/backend/internal/interfaces/http/router"
	"go.uber.org/zap"
)

const serviceName = "identity"

func main() {
	if err := run(context.Background()); err != nil {
		bootstrap.Fatal("Identity service failed", err)
	}
}

// run wires the service and blocks until it stops. Errors are returned rather
// than exiting so the runtime and publisher are closed first.
func run(ctx context.Context) error {
	rt, err := bootstrap.Init(ctx, serviceName)
	if err != nil {
		return fmt.Errorf("start identity service: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), bootstrap.ShutdownGrace)
		defer cancel()
		rt.Close(closeCtx)
	}()

	cfg := rt.Config
	log := rt.Logger
	db := rt.Database.DB

	outboxRepo := event.NewGormOutboxRepository(db)
	userService := identityapp.NewUserService(db, log)
	outboxService := eventapp.NewOutboxService(outboxRepo, log)

	var workers []bootstrap.Worker
	if cfg.Outbox.RelayEnabled {
		publisher := rabbitmq.NewPublisher(rabbitmq.PublisherConfig{
			URL:            cfg.Broker.URL,
			Exchange:       cfg.Broker.Exchange,
			PublishTimeout: cfg.Broker.PublishTimeout,
		}, log)
		defer func() {
			if err := publisher.Close(); err != nil {
				log.Warn("Error closing publisher", zap.Error(err))
			}
		}()

		relay := event.NewOutboxRelay(outboxRepo, publisher, event.OutboxRelayConfig{
			InstanceID:       cfg.App.InstanceID,
			BatchSize:        cfg.Outbox.BatchSize,
			PollInterval:     cfg.Outbox.PollInterval,
			LeaseTTL:         cfg.Outbox.LeaseTTL,
			PublishTimeout:   cfg.Broker.PublishTimeout,
			BaseBackoff:      cfg.Outbox.BaseBackoff,
			MaxBackoff:       cfg.Outbox.MaxBackoff,
			CleanupEnabled:   cfg.Outbox.CleanupEnabled,
			CleanupRetention: cfg.Outbox.CleanupRetention,
			CleanupInterval:  cfg.Outbox.CleanupInterval,
		}, log, event.WithRelayMetrics(rt.Metrics))
		workers = append(workers, relay)
	} else {
		log.Warn("Outbox relay disabled, facts will accumulate until a relay instance runs")
	}

	engine, err := router.NewEngine(router.EngineConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		TracingEnabled: cfg.Telemetry.Enabled,
		RequestTimeout: cfg.HTTP.RequestTimeout,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
		TrustedProxies: cfg.HTTP.TrustedProxies,
	}, log)
	if err != nil {
		return fmt.Errorf("build HTTP engine: %w", err)
	}
	router.RegisterIdentityRoutes(engine, router.IdentityHandlers{
		System: handler.NewSystemHandler(serviceName, handler.DatabaseCheck(db)),
		Users:  handler.NewUserHandler(userService),
		Outbox: handler.NewOutboxHandler(outboxService),
	})

	if err := rt.Run(ctx, rt.NewServer(engine), workers...); err != nil {
		log.Error("Identity service stopped with error", zap.Error(err))
		return err
	}
	return nil
}
