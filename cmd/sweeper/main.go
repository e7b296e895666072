package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sentinelsync/cdc-relay/internal/broker"
	"github.com/sentinelsync/cdc-relay/internal/changelog"
	"github.com/sentinelsync/cdc-relay/internal/config"
	"github.com/sentinelsync/cdc-relay/internal/db"
	"github.com/sentinelsync/cdc-relay/internal/materialize"
	"github.com/sentinelsync/cdc-relay/internal/merge"
	"github.com/sentinelsync/cdc-relay/internal/service"
	"github.com/sentinelsync/cdc-relay/internal/tracking"
	"github.com/sentinelsync/cdc-relay/pkg/infra"
)

func main() {
	cfg := config.Load()
	logger := infra.SetupLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	spec, ok := tracking.Lookup(cfg.TrackedSet)
	if !ok {
		slog.Error("Fatal: unknown tracked set", "tracked_set", cfg.TrackedSet)
		os.Exit(1)
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Fatal error connecting to Postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := db.EnsureSchema(ctx, pool); err != nil {
		slog.Error("Fatal error preparing schema", "error", err)
		os.Exit(1)
	}

	go startObservabilityServer("9090", logger)

	slog.Info("🚀 CDC sweeper started", "tracked_set", spec.Name, "pid", os.Getpid())

	runSweepLoop(ctx, pool, spec, cfg)
	slog.Info("✅ Shutdown complete")
}

func runSweepLoop(ctx context.Context, pool *pgxpool.Pool, spec merge.SetSpec, cfg *config.Config) {
	source := changelog.NewPostgresSource(pool, tracking.CurrentQueries())
	store := db.NewPostgresCursorStore(pool)

	backoff := infra.NewBackoff(1*time.Second, 60*time.Second, 2.0)
	var rabbitmq *broker.RabbitMQClient
	var sweeper *service.Sweeper

	for {
		select {
		case <-ctx.Done():
			slog.Info("👋 Shutting down sweep loop...")
			if rabbitmq != nil {
				rabbitmq.Close()
			}
			return
		default:
			// Lifecycle: make sure the broker link is up before sweeping
			if rabbitmq == nil || !rabbitmq.IsHealthy() {
				if rabbitmq != nil {
					rabbitmq.Close()
				}

				newRabbit, err := broker.NewRabbitMQClient(cfg.RabbitMQURL, slog.Default())
				if err != nil {
					wait := backoff.Next()
					slog.Error("RabbitMQ link failure, retrying", "wait", wait, "error", err)

					select {
					case <-time.After(wait):
						continue
					case <-ctx.Done():
						return
					}
				}

				slog.Info("RabbitMQ link established 🚀")
				rabbitmq = newRabbit
				backoff.Reset()

				reader := changelog.NewReader(source, spec.Tables(), spec.RootKey, cfg.ContinueWithDataLoss, slog.Default())
				merger := merge.NewMerger(spec, source, slog.Default())
				mat := materialize.NewMaterializer(spec.Subject, slog.Default())
				sweeper = service.NewSweeper(spec, store, reader, merger, mat, rabbitmq, source, cfg.MaxBatchSize, slog.Default())
			}

			if _, err := sweeper.Sweep(ctx); err != nil {
				wait := backoff.Next()
				slog.Error("Sweep cycle error", "retry_in", wait, "error", err)

				select {
				case <-time.After(wait):
					continue
				case <-ctx.Done():
					return
				}
			}

			backoff.Reset()

			select {
			case <-time.After(cfg.PollInterval):
				continue
			case <-ctx.Done():
				return
			}
		}
	}
}

func startObservabilityServer(port string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("SWEEPER ALIVE"))
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
