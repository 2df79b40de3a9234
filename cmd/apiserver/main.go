// API server entry point for MedPlan-Intelligence.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/turtacn/MedPlan-Intelligence/internal/app"
	"github.com/turtacn/MedPlan-Intelligence/internal/config"
	"github.com/turtacn/MedPlan-Intelligence/internal/infrastructure/monitoring/logging"
	httpserver "github.com/turtacn/MedPlan-Intelligence/internal/interfaces/http"
	"github.com/turtacn/MedPlan-Intelligence/internal/interfaces/http/handlers"
	"github.com/turtacn/MedPlan-Intelligence/internal/interfaces/http/middleware"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to configuration file")
	httpPort := flag.Int("http-port", 0, "HTTP server port (overrides config)")
	flag.Parse()

	if err := run(*configPath, *httpPort); err != nil {
		fmt.Fprintf(os.Stderr, "apiserver: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, httpPort int) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if httpPort > 0 {
		cfg.Server.Port = httpPort
	}

	logger, err := logging.NewLogger(logging.LogConfig{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		OutputPaths: cfg.Log.OutputPaths,
	})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	logging.SetDefault(logger)

	logger.Info("starting MedPlan-Intelligence API server",
		logging.String("version", config.Version),
		logging.String("commit", config.GitCommit),
		logging.Int("port", cfg.Server.Port),
		logging.String("mode", cfg.Server.Mode),
	)

	a, err := app.New(cfg, logger, app.Options{})
	if err != nil {
		return fmt.Errorf("initialize application: %w", err)
	}
	defer a.Close()

	if _, statErr := os.Stat(configPath); statErr == nil {
		config.Watch(configPath, func(next *config.Config) {
			if lv, ok := logger.(logging.Leveler); ok {
				lv.SetLevel(next.Log.Level)
			}
			logger.Info("configuration reloaded; log level applied, other changes need a restart",
				logging.String("log_level", next.Log.Level))
		}, func(err error) {
			logger.Warn("configuration reload rejected", logging.Err(err))
		})
	}

	router, limiter := buildRouter(a)
	if limiter != nil {
		defer limiter.Stop()
	}
	srv := httpserver.NewServer(httpserver.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, router, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutdown signal received", logging.String("signal", sig.String()))
	}

	if err := srv.Stop(context.Background()); err != nil {
		logger.Error("HTTP server shutdown error", logging.Err(err))
		return err
	}
	logger.Info("server stopped")
	return nil
}

// loadConfig reads path when it exists and falls back to defaults plus
// environment overrides otherwise.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "config file %s not found, using defaults\n", path)
		return config.LoadFromEnv()
	}
	return config.Load(path)
}

// buildRouter wires handlers and middleware from a. The returned limiter,
// when non-nil, must be stopped on shutdown.
func buildRouter(a *app.App) (http.Handler, *middleware.TokenBucketLimiter) {
	cfg := a.Config

	checkers := a.HealthCheckers()
	hc := make([]handlers.HealthChecker, 0, len(checkers))
	for _, c := range checkers {
		hc = append(hc, c)
	}
	health := handlers.NewHealthHandler(config.Version, hc...).WithFeatures(a.Features)
	if a.Metrics != nil {
		health = health.WithObserver(a.Metrics)
	}

	logCfg := middleware.DefaultLoggingConfig()
	if cfg.Monitoring.Path != "" {
		logCfg.SkipPaths = append(logCfg.SkipPaths, cfg.Monitoring.Path)
	}

	rc := httpserver.RouterConfig{
		PrescriptionHandler: handlers.NewPrescriptionHandler(a.Orchestrator, a.Ask, a.Checker, a.Logger),
		HealthHandler:       health,
		Logging:             &logCfg,
		RequestTimeout:      cfg.Server.RequestTimeout,
		MaxBodySize:         cfg.Server.MaxBodySize,
		Logger:              a.Logger,
		Metrics:             a.Metrics,
		MetricsCollector:    a.Collector,
		MetricsPath:         cfg.Monitoring.Path,
		TrustProxyHeaders:   cfg.Server.TrustProxyHeaders,
	}

	var limiter *middleware.TokenBucketLimiter
	if cfg.Server.RateLimitRPS > 0 {
		limiter = middleware.NewTokenBucketLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst, middleware.DefaultIdleTTL)
		rc.RateLimiter = limiter
	}
	return httpserver.NewRouter(rc), limiter
}
