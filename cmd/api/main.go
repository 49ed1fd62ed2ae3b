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

	"github.com/eventloom-io/eventloom/internal/config"
	"github.com/eventloom-io/eventloom/internal/handlers"
	"github.com/eventloom-io/eventloom/internal/logging"
	"github.com/eventloom-io/eventloom/internal/messaging"
	"github.com/eventloom-io/eventloom/internal/ratelimit"
	"github.com/eventloom-io/eventloom/internal/repository"
	"github.com/eventloom-io/eventloom/internal/server"
	"github.com/eventloom-io/eventloom/internal/service"
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
	).With(logging.Service("api"))
	logging.SetDefault(logger)

	slog.Info("Starting API service",
		slog.Int("port", cfg.Server.Port),
		slog.String("log_level", cfg.Logging.Level),
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
		Name:          cfg.NATS.Name + "-api",
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

	var limiter ratelimit.Limiter
	if cfg.Ingest.RateLimitEnabled {
		limiter, err = ratelimit.NewRedisLimiter(
			cfg.Ingest.RedisURL,
			cfg.Ingest.RateLimitRequests,
			cfg.Ingest.RateLimitWindow,
			false,
		)
		if err != nil {
			slog.Warn("Rate limiter unavailable, continuing without limiting", slog.String("error", err.Error()))
			limiter = nil
		} else {
			defer limiter.Close()
			slog.Info("Rate limiting enabled",
				slog.Int("requests", cfg.Ingest.RateLimitRequests),
				slog.String("window", cfg.Ingest.RateLimitWindow.String()),
			)
		}
	}

	ingestSvc := service.NewIngestService(nc, cfg.Ingest.MaxBatchEvents, cfg.Ingest.PublishChunkSize, logger)

	router := server.NewRouter(server.Deps{
		Events:  handlers.NewEventsHandler(ingestSvc, cfg.Ingest.MaxBodyBytes, logger),
		Stats:   handlers.NewStatsHandler(repo, logger),
		Health:  handlers.NewHealthHandler(repo, nc),
		APIKeys: cfg.Ingest.APIKeys,
		Limiter: limiter,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("API service listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	if err := nc.Drain(); err != nil {
		slog.Warn("NATS drain failed", slog.String("error", err.Error()))
	}

	slog.Info("Server stopped")
}
