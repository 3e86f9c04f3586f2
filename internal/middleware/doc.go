// Predictd - Prediction Service Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/predictd

/*
Package middleware provides the HTTP middleware that is not specific to
authentication.

Key Components:

  - RequestID: reuses or generates X-Request-ID and seeds the logging context
  - PrometheusMetrics: request count, latency and in-flight gauge labelled by
    chi route pattern
  - PerformanceMonitor: sliding window of recent requests with per-route
    percentiles and degraded counts, reported by the status endpoint

Middleware Stack:

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.PrometheusMetrics)
	r.Use(monitor.Middleware)

Route patterns are read after the handler runs, so both metric middlewares
must be mounted on the chi router rather than wrapped around it.
*/
package middleware
