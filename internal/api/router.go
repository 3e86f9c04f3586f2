// Predictd - Prediction Service Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/predictd

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/predictd/internal/auth"
	"github.com/tomtom215/predictd/internal/authz"
	"github.com/tomtom215/predictd/internal/middleware"
)

// PredictionsPrefix is where the prediction routes are mounted. The casbin
// policy is written against this prefix.
const PredictionsPrefix = "/api/predictions"

// Router wires handlers and middleware into a chi router.
type Router struct {
	handler       *Handler
	authn         *auth.Middleware
	authzMw       *authz.Middleware
	chiMiddleware *ChiMiddleware
	monitor       *middleware.PerformanceMonitor
}

// NewRouter creates a Router. chiMw and monitor may be nil.
func NewRouter(handler *Handler, authn *auth.Middleware, authzMw *authz.Middleware, chiMw *ChiMiddleware, monitor *middleware.PerformanceMonitor) *Router {
	if chiMw == nil {
		chiMw = NewChiMiddleware(nil)
	}
	return &Router{
		handler:       handler,
		authn:         authn,
		authzMw:       authzMw,
		chiMiddleware: chiMw,
		monitor:       monitor,
	}
}

// SetupChi configures all HTTP routes.
func (router *Router) SetupChi() http.Handler {
	r := chi.NewRouter()

	// ========================
	// Global Middleware Stack
	// ========================
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.chiMiddleware.CORS())
	r.Use(middleware.PrometheusMetrics)
	if router.monitor != nil {
		r.Use(router.monitor.Middleware)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		NewResponseWriter(w, r).NotFound("Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r, http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed, "Method not allowed")
	})

	// ========================
	// Health and Metrics
	// ========================
	r.Get("/health/live", router.handler.HealthLive)
	r.Get("/health/ready", router.handler.HealthReady)
	r.Handle("/metrics", promhttp.Handler())

	// ========================
	// Prediction Endpoints
	// ========================
	// Authentication first, then the role check on (role, path, action).
	r.Route(PredictionsPrefix, func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimit())
		r.Use(router.authn.Authenticate)
		r.Use(router.authzMw.AuthorizeRequest)
		r.Use(chimiddleware.Compress(5, "application/json"))

		r.Post("/train", router.handler.Train)
		r.Get("/stock-usage", router.handler.StockUsage)
		r.Get("/patterns", router.handler.Patterns)
		r.Get("/business-intelligence", router.handler.BusinessIntelligence)
		r.Get("/model-metrics", router.handler.ModelMetrics)
		r.Get("/plots/{filename}", router.handler.Plot)
		r.Get("/plots/*", router.handler.PlotRejected)
		r.Get("/status", router.handler.Status)
	})

	return r
}
