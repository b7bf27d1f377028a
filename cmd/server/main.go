package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MOODMNKY-LLC/mood-mnky-command-sub007/internal/config"
	"github.com/MOODMNKY-LLC/mood-mnky-command-sub007/internal/eligibility"
	"github.com/MOODMNKY-LLC/mood-mnky-command-sub007/internal/handler"
	"github.com/MOODMNKY-LLC/mood-mnky-command-sub007/internal/kafka"
	"github.com/MOODMNKY-LLC/mood-mnky-command-sub007/internal/leaderboard"
	"github.com/MOODMNKY-LLC/mood-mnky-command-sub007/internal/ledger"
	"github.com/MOODMNKY-LLC/mood-mnky-command-sub007/internal/postgres"
	"github.com/MOODMNKY-LLC/mood-mnky-command-sub007/internal/redis"
	"github.com/MOODMNKY-LLC/mood-mnky-command-sub007/internal/referral"
	"github.com/MOODMNKY-LLC/mood-mnky-command-sub007/internal/service"
	"github.com/MOODMNKY-LLC/mood-mnky-command-sub007/internal/tiers"
	"github.com/MOODMNKY-LLC/mood-mnky-command-sub007/internal/websocket"
	"github.com/MOODMNKY-LLC/mood-mnky-command-sub007/internal/worker"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Warn("failed to load config file, using defaults", "error", err)
		cfg = config.DefaultConfig()
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize PostgreSQL
	logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	repo, err := postgres.NewRepository(&cfg.Postgres, logger)
	if err != nil {
		logger.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	logger.Info("connected to PostgreSQL")

	// Run database migrations
	if err := repo.RunMigrations(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Initialize Redis rank cache
	logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
	rankCache, err := redis.NewRankCache(&cfg.Redis, logger)
	if err != nil {
		logger.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer rankCache.Close()
	logger.Info("connected to Redis")

	// Initialize WebSocket hub
	wsHub := websocket.NewHub(logger)
	go wsHub.Run()
	logger.Info("WebSocket hub initialized")

	// Assemble the ledger core
	gate := eligibility.NewGate(repo)
	levels := ledger.NewLevels(cfg.Ledger.LevelThresholds)
	engine := ledger.NewEngine(repo, gate, levels, logger)
	tierLoader := tiers.NewLoader(repo, cfg.Ledger.FallbackPurchaseTiers, logger)
	registry := referral.NewRegistry(repo, cfg.Referral.CodePrefix, logger)
	projector := leaderboard.NewProjector(repo, cfg.Leaderboard.DefaultLimit, cfg.Leaderboard.MaxLimit)

	rewardService := service.NewRewardService(
		engine,
		tierLoader,
		registry,
		projector,
		rankCache,
		repo,
		&cfg.Referral,
		logger,
	)

	// Attach the WebSocket hub for realtime broadcasts
	rewardService.SetHub(wsHub)

	// Initialize sync worker
	syncWorker := worker.NewSyncWorker(repo, rankCache, &cfg.Sync, logger)

	// Rebuild the rank cache from the database on startup (recovery)
	logger.Info("rebuilding rank cache from database")
	if err := syncWorker.SyncToCache(ctx); err != nil {
		logger.Warn("failed to rebuild rank cache on startup", "error", err)
	}

	// Start sync worker
	if cfg.Sync.Enabled {
		if err := syncWorker.Start(ctx); err != nil {
			logger.Error("failed to start sync worker", "error", err)
			os.Exit(1)
		}
	}

	// Initialize Kafka consumer for streamed reward events
	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka consumer",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.Topic,
		)
		var err error
		kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka, rewardService, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without Kafka", "error", err)
		} else {
			if err := kafkaConsumer.Start(); err != nil {
				logger.Warn("failed to start Kafka consumer, continuing without Kafka", "error", err)
				kafkaConsumer = nil
			} else {
				logger.Info("Kafka consumer started successfully")
			}
		}
	}

	// Initialize HTTP handler with WebSocket hub
	httpHandler := handler.NewHandler(rewardService, wsHub, logger)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop WebSocket hub
	wsHub.Stop()

	// Stop Kafka consumer
	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}

	// Stop sync worker
	if err := syncWorker.Stop(); err != nil {
		logger.Error("failed to stop sync worker", "error", err)
	}

	// Shutdown HTTP server
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	logger.Info("server stopped")
}
