package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/MikeSquared-Agency/scribematch/internal/api"
	"github.com/MikeSquared-Agency/scribematch/internal/broker"
	"github.com/MikeSquared-Agency/scribematch/internal/config"
	"github.com/MikeSquared-Agency/scribematch/internal/engine"
	"github.com/MikeSquared-Agency/scribematch/internal/hermes"
	"github.com/MikeSquared-Agency/scribematch/internal/metrics"
	"github.com/MikeSquared-Agency/scribematch/internal/oracle"
	"github.com/MikeSquared-Agency/scribematch/internal/store"
	"github.com/MikeSquared-Agency/scribematch/internal/waitlist"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	envFile := flag.String("env", ".env", "dotenv file to load if present")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", *envFile, err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	db, err := store.NewPostgresStore(ctx, cfg.Database.URL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("connected to database")

	// Hermes (optional)
	var hermesClient hermes.Client
	if cfg.Hermes.URL != "" {
		hc, err := hermes.NewNATSClient(ctx, cfg.Hermes.URL, logger)
		if err != nil {
			logger.Warn("failed to connect to hermes, running without events", "error", err)
		} else {
			hermesClient = hc
			defer hc.Close()
			logger.Info("connected to hermes")
		}
	}

	// Waitlist (optional)
	var wl *waitlist.Redis
	if cfg.Redis.Address != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Address,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		})
		defer rdb.Close()
		wl = waitlist.NewRedis(rdb, cfg.Redis.Key)
		if err := wl.Ping(ctx); err != nil {
			logger.Warn("redis unreachable, unmatched exams will not be waitlisted until it recovers", "error", err)
		} else {
			logger.Info("connected to redis", "key", cfg.Redis.Key)
		}
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Oracle (optional)
	var oracleClient oracle.Client
	if cfg.Oracle.Enabled {
		oracleClient = oracle.NewHTTPClient(cfg.Oracle.URL, cfg.Oracle.APIKey, cfg.Oracle.Model)
		logger.Info("oracle scoring enabled", "model", cfg.Oracle.Model, "timeout", cfg.OracleTimeout())
	}

	// Engine
	engineOpts := []engine.Option{engine.WithMetrics(m)}
	if wl != nil {
		engineOpts = append(engineOpts, engine.WithWaitlist(wl))
	}
	eng, err := engine.New(engine.ConfigFrom(cfg), oracleClient, logger, engineOpts...)
	if err != nil {
		logger.Error("invalid matching config", "error", err)
		os.Exit(1)
	}

	// Broker
	var brokerWaitlist broker.Waitlist
	if wl != nil {
		brokerWaitlist = wl
	}
	b := broker.New(db, hermesClient, eng, brokerWaitlist, cfg, logger).WithMetrics(m)
	b.SetupSubscriptions()
	b.Start(ctx)
	defer b.Stop()
	logger.Info("broker started", "expiry_interval", cfg.ExpiryInterval(), "response_sla", cfg.ResponseSLA())

	// API server
	var waitlistReader api.WaitlistReader
	if wl != nil {
		waitlistReader = wl
	}
	router := api.NewRouter(db, b, waitlistReader, api.RouterConfig{
		AdminToken:         cfg.Server.AdminToken,
		RateLimitPerMinute: cfg.Server.RateLimitPerMinute,
	}, logger)
	apiServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Metrics server
	checks := map[string]api.HealthCheck{"database": db.Ping}
	if wl != nil {
		checks["redis"] = wl.Ping
	}
	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler:           api.NewMetricsRouter(reg, checks),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("API server starting", "port", cfg.Server.Port)
		if err := apiServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("API server error", "error", err)
		}
	}()

	go func() {
		logger.Info("metrics server starting", "port", cfg.Server.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = apiServer.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)
	cancel()

	logger.Info("shutdown complete")
}

func newLogger(c config.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
