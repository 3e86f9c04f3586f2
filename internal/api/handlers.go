// Predictd - Prediction Service Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/predictd

package api

import (
	"context"
	"time"

	"github.com/tomtom215/predictd/internal/middleware"
	"github.com/tomtom215/predictd/internal/models"
	"github.com/tomtom215/predictd/internal/predictor"
)

// Dispatcher is the part of predictor.Supervisor the handlers use.
type Dispatcher interface {
	Dispatch(ctx context.Context, req models.RequestKind, timeout time.Duration) models.Outcome
	Status() predictor.Status
}

// SnapshotCache reports which snapshots are currently held in memory.
type SnapshotCache interface {
	Cached() []models.Kind
}

// Timeouts returns the live call budget for a kind.
type Timeouts interface {
	For(kind models.Kind) time.Duration
}

// Handler serves the prediction and health endpoints.
type Handler struct {
	dispatcher Dispatcher
	timeouts   Timeouts
	snapshots  SnapshotCache
	monitor    *middleware.PerformanceMonitor
	startTime  time.Time
}

// NewHandler creates a Handler. snapshots and monitor may be nil.
func NewHandler(dispatcher Dispatcher, timeouts Timeouts, snapshots SnapshotCache, monitor *middleware.PerformanceMonitor) *Handler {
	return &Handler{
		dispatcher: dispatcher,
		timeouts:   timeouts,
		snapshots:  snapshots,
		monitor:    monitor,
		startTime:  time.Now(),
	}
}
