// Command journal runs the journal service: the inbox consumer that keeps
// the user projection in step with identity facts, the image cleanup worker
// and the dead-letter admin API.
package main

import (
	"context"
	"fmt"
	"time"

	eventapp "github.com/tradejournal/backend/internal/application/event"
	"github.com/tradejournal/backend/internal/application/projection"
	"github.com/tradejournal/backend/internal/domain/journal"
	"github.com/tradejournal/backend/internal/domain/shared"
	"github.com/tradejournal/backend/internal/infrastructure/bootstrap"
	"github.com/tradejournal/backend/internal/infrastructure/cache"
	"github.com/tradejournal/backend/internal/infrastructure/event"
	"github.com/tradejournal/backend/internal/infrastructure/messaging/rabbitmq"
	"github.com/tradejournal/backend/internal/infrastructure/persistence"
	"github.com/tradejournal/backend/internal/infrastructure/storage"
	"github.com/tradejournal/backend/internal/interfaces/http/handler"
	"github.com/tradejournal/backend/internal/interfaces/http/router"
	"go.uber.org/zap"
)

const serviceName = "journal"

func main() {
	if err := run(context.Background()); err != nil {
		bootstrap.Fatal("Journal service failed", err)
	}
}

// run wires the service and blocks until it stops. Errors are returned rather
// than exiting so every deferred close runs first.
func run(ctx context.Context) error {
	rt, err := bootstrap.Init(ctx, serviceName)
	if err != nil {
		return fmt.Errorf("start journal service: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), bootstrap.ShutdownGrace)
		defer cancel()
		rt.Close(closeCtx)
	}()

	cfg := rt.Config
	log := rt.Logger
	db := rt.Database.DB

	policy, err := journal.ParseReorderPolicy(cfg.Inbox.ReorderPolicy)
	if err != nil {
		return fmt.Errorf("invalid reorder policy: %w", err)
	}
	projector := projection.NewService(policy, log)

	store, err := storage.NewImageStore(ctx, &cfg.Storage, log)
	if err != nil {
		return fmt.Errorf("initialize image store: %w", err)
	}
	cleanup := projection.NewImageCleanup(
		persistence.NewGormPendingImageDeletionRepository(db),
		store,
		projection.ImageCleanupConfig{
			SweepInterval:    cfg.Storage.SweepInterval,
			SweepBatchSize:   cfg.Storage.SweepBatchSize,
			RetryBaseBackoff: cfg.Storage.RetryBaseBackoff,
			RetryMaxBackoff:  cfg.Storage.RetryMaxBackoff,
		},
		log,
		projection.WithCleanupMetrics(rt.Metrics),
	)

	tracker, err := cache.NewAttemptTrackerFactory(cfg.Redis, cache.WithLogger(log)).CreateTracker()
	if err != nil {
		return fmt.Errorf("initialize attempt tracker: %w", err)
	}
	defer func() {
		if err := tracker.Close(); err != nil {
			log.Warn("Error closing attempt tracker", zap.Error(err))
		}
	}()

	subscriber := rabbitmq.NewSubscriber(rabbitmq.SubscriberConfig{
		URL: cfg.Broker.URL,
		Topology: rabbitmq.Topology{
			Exchange:   cfg.Broker.Exchange,
			Queue:      cfg.Inbox.Queue,
			RetryQueue: rabbitmq.RetryQueueName(cfg.Inbox.Queue),
			RoutingKeys: []string{
				shared.EventTypeUserCreated,
				shared.EventTypeUserUpdated,
				shared.EventTypeUserDeleted,
			},
			RetryDelay: cfg.Inbox.RedeliveryInterval,
		},
		ConsumerTag:    cfg.Inbox.ConsumerName + "." + cfg.App.InstanceID,
		Concurrency:    cfg.Inbox.Concurrency,
		Prefetch:       cfg.Inbox.Prefetch,
		ReconnectDelay: cfg.Broker.ReconnectDelay,
	}, log)

	consumer := event.NewInboxConsumer(db, subscriber, projector, event.InboxConsumerConfig{
		ConsumerName:    cfg.Inbox.ConsumerName,
		MaxRedeliveries: cfg.Inbox.MaxRedeliveries,
		ProcessTimeout:  cfg.Inbox.ProcessTimeout,
		AttemptTTL:      attemptTTL(cfg.Inbox.RedeliveryInterval, cfg.Inbox.MaxRedeliveries),
		RetentionPeriod: cfg.Inbox.RetentionPeriod,
		CleanupInterval: cfg.Inbox.CleanupInterval,
	}, log,
		event.WithAttemptTracker(tracker),
		event.WithImageReleaser(cleanup),
		event.WithConsumerMetrics(rt.Metrics),
	)

	deadLetters := eventapp.NewDeadLetterService(db, projector, cleanup, cfg.Inbox.ConsumerName, log)

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
	router.RegisterJournalRoutes(engine, router.JournalHandlers{
		System:      handler.NewSystemHandler(serviceName, handler.DatabaseCheck(db)),
		DeadLetters: handler.NewDeadLetterHandler(deadLetters),
	})

	// Workers stop in reverse order, so the consumer drains before cleanup.
	if err := rt.Run(ctx, rt.NewServer(engine), cleanup, consumer); err != nil {
		log.Error("Journal service stopped with error", zap.Error(err))
		return err
	}
	return nil
}

// attemptTTL keeps crash-redelivery counters alive for the whole retry window
func attemptTTL(interval time.Duration, maxRedeliveries int) time.Duration {
	window := interval * time.Duration(maxRedeliveries+1) * 4
	if window < 24*time.Hour {
		return 24 * time.Hour
	}
	return window
}
