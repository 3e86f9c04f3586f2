// Predictd - Prediction Service Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/predictd

package api

import (
	"net/http"
	"time"
)

// HealthLive handles liveness check requests.
// Returns 200 OK if the process is alive, regardless of dependencies.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(map[string]interface{}{
		"alive":  true,
		"uptime": time.Since(h.startTime).Seconds(),
	})
}

// HealthReady handles readiness check requests. predictd can always answer,
// in the worst case from snapshots or with a typed 503, so readiness does not
// depend on the prediction service. Its state is reported for operators.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	status := h.dispatcher.Status()
	NewResponseWriter(w, r).Success(map[string]interface{}{
		"ready":           true,
		"predictor_state": status.State,
		"predictor_warm":  status.Warm,
		"circuit_breaker": status.Breaker,
		"uptime":          time.Since(h.startTime).Seconds(),
	})
}
