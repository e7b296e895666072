package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sentinelsync/cdc-relay/internal/broker"
	"github.com/sentinelsync/cdc-relay/internal/config"
	"github.com/sentinelsync/cdc-relay/internal/db"
	"github.com/sentinelsync/cdc-relay/internal/models"
	"github.com/sentinelsync/cdc-relay/internal/poison"
	"github.com/sentinelsync/cdc-relay/pkg/infra"
)

// logSubscriber is the default subscriber: it records every event and lets
// the coordinator's default attempt budget apply. Real deployments swap in
// their own broker.Subscriber.
type logSubscriber struct {
	logger *slog.Logger
}

func (s *logSubscriber) Handle(ctx context.Context, ev models.DomainEvent, attempt int) error {
	s.logger.Info("Event received",
		"event_id", ev.EventID,
		"subject", ev.Subject,
		"key", ev.Key,
		"action", ev.Action,
		"attempt", attempt,
	)
	return nil
}

func (s *logSubscriber) MaxAttempts() int { return 0 }

func main() {
	cfg := config.Load()
	logger := infra.SetupLogger(cfg)
	slog.SetDefault(logger)

	// Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("🔥 Consumer initializing...",
		"consumer_group", cfg.ConsumerGroup,
		"max_attempts", cfg.MaxDeliveryAttempts,
	)

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("CRITICAL: Postgres connection failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := db.EnsureSchema(ctx, pool); err != nil {
		logger.Error("CRITICAL: schema preparation failed", "error", err)
		os.Exit(1)
	}

	auditor := poison.NewAuditor(db.NewPostgresAuditStore(pool), logger)
	coordinator := poison.NewCoordinator(db.NewPostgresPoisonStore(pool), auditor, logger)
	subscriber := &logSubscriber{logger: logger}

	// Start Observability Server (Port 9091)
	go startObservabilityServer("9091", logger)

	connBackoff := infra.NewBackoff(1*time.Second, 60*time.Second, 2.0)

	for {
		select {
		case <-ctx.Done():
			logger.Info("🛑 Shutdown signal received before connection")
			return
		default:
			consumer, err := broker.NewEventConsumer(cfg.RabbitMQURL, cfg.ConsumerGroup, cfg.MaxDeliveryAttempts, subscriber, coordinator, logger)
			if err != nil {
				wait := connBackoff.Next()
				logger.Error("RabbitMQ connection failed, retrying...",
					"wait_duration", wait,
					"error", err,
				)

				select {
				case <-ctx.Done():
					return
				case <-time.After(wait):
					continue
				}
			}

			connBackoff.Reset()
			logger.Info("✅ Connected to Broker. Listening for events...")

			if err := consumer.Listen(ctx); err != nil {
				logger.Error("⚠️ Consumer connection lost", "error", err)
			}

			consumer.Close()
		}
	}
}

func startObservabilityServer(port string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("CONSUMER ALIVE"))
	})

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	logger.Info("📊 Observability server online", "url", "http://localhost:"+port+"/metrics")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Observability server failed", "error", err)
	}
}
