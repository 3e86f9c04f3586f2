// Predictd - Prediction Service Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/predictd

package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/predictd/internal/api"
	"github.com/tomtom215/predictd/internal/auth"
	"github.com/tomtom215/predictd/internal/authz"
	"github.com/tomtom215/predictd/internal/config"
	"github.com/tomtom215/predictd/internal/fallback"
	"github.com/tomtom215/predictd/internal/logging"
	"github.com/tomtom215/predictd/internal/middleware"
	"github.com/tomtom215/predictd/internal/predictor"
	"github.com/tomtom215/predictd/internal/process"
	"github.com/tomtom215/predictd/internal/proxy"
	"github.com/tomtom215/predictd/internal/supervisor"
	"github.com/tomtom215/predictd/internal/supervisor/services"
)

const (
	perfWindowSize    = 1000
	slowRequestCutoff = 2 * time.Second
)

//nolint:gocyclo // sequential start-up
func main() {
	issueTokenFlag := flag.String("issue-token", "", "print a JWT for `user:role` and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})

	if *issueTokenFlag != "" {
		if err := issueToken(cfg, *issueTokenFlag, os.Stdout); err != nil {
			logging.Fatal().Err(err).Msg("Failed to issue token")
		}
		return
	}

	logging.Info().
		Str("listen", cfg.Server.ListenAddr()).
		Str("predictor", cfg.Predictor.BaseURL()).
		Str("auth_mode", cfg.Security.AuthMode).
		Str("data_dir", cfg.Fallback.DataDir).
		Msg("Starting predictd")

	if cfg.ShouldWarnAboutCORS() {
		logging.Warn().Msg("CORS allows any origin; set CORS_ORIGINS in production")
	}

	// === AUTHENTICATION / AUTHORIZATION ===

	authMode, err := auth.ParseAuthMode(cfg.Security.AuthMode)
	if err != nil {
		logging.Fatal().Err(err).Msg("Invalid auth mode")
	}
	var jwtManager *auth.JWTManager
	if authMode == auth.AuthModeJWT {
		jwtManager, err = auth.NewJWTManager(cfg.Security.JWTSecret, cfg.Security.SessionTimeout)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to initialize JWT manager")
		}
	} else {
		logging.Warn().Msg("Authentication disabled (AUTH_MODE=none); every request runs as the default role")
	}
	authnMiddleware, err := auth.NewMiddleware(authMode, jwtManager)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize authentication middleware")
	}

	enforcer, err := authz.NewEnforcer(authz.EnforcerConfig{
		ModelPath:    cfg.Security.Casbin.ModelPath,
		PolicyPath:   cfg.Security.Casbin.PolicyPath,
		DefaultRole:  cfg.Security.Casbin.DefaultRole,
		CacheEnabled: cfg.Security.Casbin.CacheEnabled,
		CacheTTL:     cfg.Security.Casbin.CacheTTL,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize authorization")
	}
	defer enforcer.Close()
	logging.Info().Int("rules", len(enforcer.GetPolicy())).Msg("Authorization policy loaded")

	// === PREDICTION SERVICE ===

	store := fallback.New(fallback.Config{
		DataDir:  cfg.Fallback.DataDir,
		PlotsDir: cfg.Fallback.PlotsDir,
	})
	logging.Info().Int("snapshots", store.Preload()).Msg("Fallback snapshots preloaded")

	proc := process.New(process.Config{
		Name:            "prediction-service",
		Command:         cfg.Predictor.Interpreter,
		Args:            cfg.Predictor.CommandArgs(),
		Dir:             cfg.Predictor.WorkDir,
		Env:             []string{"PYTHONUNBUFFERED=1"},
		RequiredFiles:   []string{cfg.Predictor.Script},
		StopGracePeriod: cfg.Predictor.StopGracePeriod,
	})

	client, err := proxy.New(proxy.Config{
		BaseURL:          cfg.Predictor.BaseURL(),
		WarmupAttempts:   cfg.Predictor.WarmupAttempts,
		WarmupBackoff:    cfg.Predictor.WarmupBackoff,
		MaxResponseBytes: cfg.Predictor.MaxResponseBytes,
		Breaker: proxy.BreakerConfig{
			Enabled:      cfg.Breaker.Enabled,
			MaxRequests:  cfg.Breaker.MaxRequests,
			Interval:     cfg.Breaker.Interval,
			Timeout:      cfg.Breaker.Timeout,
			MinRequests:  cfg.Breaker.MinRequests,
			FailureRatio: cfg.Breaker.FailureRatio,
		},
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize prediction service client")
	}

	sup := predictor.New(proc, client, store, predictor.Config{
		ShutdownTimeout: cfg.Predictor.ShutdownTimeout,
	})

	// === HTTP ===

	monitor := middleware.NewPerformanceMonitor(perfWindowSize, slowRequestCutoff)
	handler := api.NewHandler(sup, cfg.Predictor.Timeouts, store, monitor)
	chiMiddleware := api.NewChiMiddlewareFromSecurity(
		cfg.Security.CORSOrigins,
		cfg.Security.RateLimitReqs,
		cfg.Security.RateLimitWindow,
		cfg.Security.RateLimitDisabled,
	)
	router := api.NewRouter(handler, authnMiddleware, authz.NewMiddleware(enforcer), chiMiddleware, monitor)

	server := &http.Server{
		Addr:              cfg.Server.ListenAddr(),
		Handler:           router.SetupChi(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.Timeout,
		WriteTimeout:      cfg.Server.Timeout,
		IdleTimeout:       60 * time.Second,
	}

	// === SUPERVISOR TREE ===

	treeConfig := supervisor.DefaultTreeConfig()
	treeConfig.ShutdownTimeout = max(cfg.Server.ShutdownTimeout, cfg.Predictor.ShutdownTimeout) + 5*time.Second
	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), treeConfig)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	tree.AddProcessService(services.NewPredictorService(sup, services.PredictorServiceConfig{
		EagerStart:      cfg.Predictor.EagerStart,
		ShutdownTimeout: cfg.Predictor.ShutdownTimeout,
	}))
	if cfg.Fallback.Watch {
		tree.AddProcessService(services.NewSnapshotWatcherService(store))
	}
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().Str("addr", server.Addr).Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Shutdown signal received, waiting for services to stop")
		err = <-errCh
	case err = <-errCh:
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree error")
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
	}

	// The predictor service normally stopped the child already; this covers
	// a tree that gave up on it.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Predictor.ShutdownTimeout)
	defer cancel()
	if err := sup.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("Prediction service did not stop cleanly")
	}

	logging.Info().Msg("predictd stopped")
}
