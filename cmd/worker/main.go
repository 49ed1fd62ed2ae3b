package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eventloom-io/eventloom/internal/backoff"
	"github.com/eventloom-io/eventloom/internal/config"
	"github.com/eventloom-io/eventloom/internal/consumer"
	"github.com/eventloom-io/eventloom/internal/dlq"
	"github.com/eventloom-io/eventloom/internal/logging"
	"github.com/eventloom-io/eventloom/internal/messaging"
	"github.com/eventloom-io/eventloom/internal/repository"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service("worker"))
	logging.SetDefault(logger)

	slog.Info("Starting worker",
		slog.Int("retry_budget", cfg.Retry.Budget),
		slog.Int("backoff_base", cfg.Retry.BackoffBase),
		slog.String("ack_wait", cfg.Worker.AckWait.String()),
	)

	if err := repository.Migrate(cfg.Database.URL, cfg.Database.MigrationsPath); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	repo, err := repository.NewPostgresRepository(ctx, cfg.Database.URL)
	cancel()
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer repo.Close()

	nc, err := messaging.Connect(messaging.Config{
		URL:           cfg.NATS.URL,
		Name:          cfg.NATS.Name + "-worker",
		MaxReconnects: cfg.NATS.MaxReconnects,
		ReconnectWait: cfg.NATS.ReconnectWait,
		Timeout:       cfg.NATS.Timeout,
	})
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer nc.Close()

	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	err = nc.EnsureStreams(ctx)
	cancel()
	if err != nil {
		log.Fatalf("Failed to provision streams: %v", err)
	}

	worker := consumer.New(nc, repo, dlq.New(nc), logger, consumer.Config{
		Budget:        cfg.Retry.Budget,
		Backoff:       backoff.New(cfg.Retry.BackoffBase).Delay,
		AckWait:       cfg.Worker.AckWait,
		MaxAckPending: cfg.Worker.MaxAckPending,
	})

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	stop, err := worker.Run(runCtx)
	if err != nil {
		log.Fatalf("Failed to start consumer: %v", err)
	}

	// Metrics and liveness endpoint for the headless process.
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if !nc.IsConnected() {
			http.Error(w, "broker disconnected", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintln(w, "ok")
	})

	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Worker.MetricsPort),
		Handler: mux,
	}
	go func() {
		slog.Info("Worker metrics listening", slog.String("addr", metricsSrv.Addr))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Metrics server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down worker")
	stop()
	runCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Metrics server shutdown failed", slog.String("error", err.Error()))
	}

	if err := nc.Drain(); err != nil {
		slog.Warn("NATS drain failed", slog.String("error", err.Error()))
	}

	slog.Info("Worker stopped")
}
