// Predictd - Prediction Service Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/predictd

package services

import (
	"context"
	"time"

	"github.com/tomtom215/predictd/internal/logging"
)

// Lifecycle is satisfied by *predictor.Supervisor.
type Lifecycle interface {
	Ensure(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// PredictorService ties the prediction service process to the tree's
// lifetime. With eager start it spawns the process at boot; a failed eager
// start is logged and left to the next request. When the tree stops it
// stops the process and waits for confirmed exit.
type PredictorService struct {
	lifecycle       Lifecycle
	eager           bool
	startTimeout    time.Duration
	shutdownTimeout time.Duration
	name            string
}

// PredictorServiceConfig configures PredictorService.
type PredictorServiceConfig struct {
	// EagerStart spawns the process when the service starts.
	EagerStart bool
	// StartTimeout bounds the eager start. Default: 30s
	StartTimeout time.Duration
	// ShutdownTimeout bounds the stop on tree shutdown. Default: 15s
	ShutdownTimeout time.Duration
}

// NewPredictorService creates the predictor lifecycle service.
func NewPredictorService(lifecycle Lifecycle, cfg PredictorServiceConfig) *PredictorService {
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 30 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}
	return &PredictorService{
		lifecycle:       lifecycle,
		eager:           cfg.EagerStart,
		startTimeout:    cfg.StartTimeout,
		shutdownTimeout: cfg.ShutdownTimeout,
		name:            "predictor",
	}
}

// Serve implements suture.Service. It only returns once the tree is
// cancelled, so a restart never re-runs the eager start.
func (p *PredictorService) Serve(ctx context.Context) error {
	logger := logging.WithComponent("predictor-service")

	if p.eager {
		startCtx, cancel := context.WithTimeout(ctx, p.startTimeout)
		err := p.lifecycle.Ensure(startCtx)
		cancel()
		if err != nil && ctx.Err() == nil {
			logger.Warn().Err(err).Msg("Eager start failed, will retry on first request")
		} else if err == nil {
			logger.Info().Msg("Prediction service started at boot")
		}
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), p.shutdownTimeout)
	defer cancel()
	if err := p.lifecycle.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Prediction service shutdown incomplete")
	}
	return ctx.Err()
}

// String implements fmt.Stringer for suture's event log.
func (p *PredictorService) String() string {
	return p.name
}
