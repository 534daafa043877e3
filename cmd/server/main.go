package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/sciffer/beermqtt/internal/config"
	"github.com/sciffer/beermqtt/internal/logger"
	"github.com/sciffer/beermqtt/pkg/api"
	"github.com/sciffer/beermqtt/pkg/auth"
	"github.com/sciffer/beermqtt/pkg/broker"
	"github.com/sciffer/beermqtt/pkg/database"
	"github.com/sciffer/beermqtt/pkg/feed"
	"github.com/sciffer/beermqtt/pkg/hives"
	"github.com/sciffer/beermqtt/pkg/ingest"
	"github.com/sciffer/beermqtt/pkg/metrics"
	"github.com/sciffer/beermqtt/pkg/query"
	"github.com/sciffer/beermqtt/pkg/validator"
)

var (
	configPath = flag.String("config", "", "path to configuration file (defaults and BEERMQTT_* env when empty)")
	issueToken = flag.String("issue-token", "", "print an admin bearer token for this subject and exit")
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	log, err := logger.New(cfg.Server.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() {
		//nolint:errcheck // Best effort sync on shutdown, ignore error
		log.Sync()
	}()

	var tokens *auth.TokenIssuer
	if cfg.Auth.Enabled {
		tokens = auth.NewTokenIssuer(cfg.Auth.Secret, time.Duration(cfg.Auth.TokenExpiry)*time.Hour, log.Named("auth"))
	}
	if *issueToken != "" {
		if tokens == nil {
			return fmt.Errorf("cannot issue tokens with auth disabled")
		}
		resp, err := tokens.IssueResponse(*issueToken)
		if err != nil {
			return err
		}
		out, err := json.Marshal(resp)
		if err != nil {
			return fmt.Errorf("failed to encode token: %w", err)
		}
		fmt.Println(string(out))
		return nil
	}

	log.Info("starting beer_mqtt server", zap.String("version", api.Version))

	// Initialize database
	db, err := database.NewDB(cfg.Database, log.Named("database"))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()
	log.Info("database initialized", zap.String("driver", db.Driver()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	recorder := metrics.Noop()
	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		prom := metrics.NewPrometheus()
		recorder = prom
		metricsHandler = prom.Handler()

		collector := metrics.NewCollector(db, prom, time.Duration(cfg.Metrics.CollectionInterval)*time.Second, log.Named("collector"))
		collector.Start(ctx)
		defer collector.Stop()
	}

	hiveService := hives.NewService(db, log.Named("hives"),
		hives.WithMaxAttempts(cfg.Hives.MaxCreateAttempts),
		hives.WithHashParams(hives.HashParams{
			Memory:      cfg.Hives.HashMemoryKiB,
			Iterations:  cfg.Hives.HashIterations,
			Parallelism: cfg.Hives.HashParallelism,
			SaltLength:  hives.DefaultHashParams.SaltLength,
			KeyLength:   hives.DefaultHashParams.KeyLength,
		}),
	)
	authenticator := auth.NewAuthenticator(hiveService, recorder, log.Named("authenticator"))

	hub := feed.NewHub(16, log.Named("feed"))
	pipeline := ingest.New(
		validator.New(cfg.MQTT.MaxPayloadBytes),
		db,
		ingest.Options{
			Timeout:       cfg.MQTT.IngestTimeoutDuration(),
			MaxConcurrent: int64(cfg.MQTT.MaxConcurrentIngest),
			Notifier:      hub,
		},
		recorder,
		log.Named("ingest"),
	)

	// Start the MQTT broker
	mqttBroker, err := broker.New(cfg.MQTT, authenticator, pipeline, recorder, log.Named("broker"))
	if err != nil {
		return fmt.Errorf("failed to create broker: %w", err)
	}
	if err := mqttBroker.Start(); err != nil {
		return err
	}
	defer mqttBroker.Close()

	handler := api.NewHandler(hiveService, query.NewService(db, log.Named("query")), hub, db, log.WithComponent("api"))
	router := api.NewRouter(handler, tokens, recorder, metricsHandler)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("address", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal or server error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info("shutting down server...")
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	}

	// Stop taking device traffic first, then drain HTTP
	if err := mqttBroker.Close(); err != nil {
		log.Error("failed to stop broker", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
	return nil
}
