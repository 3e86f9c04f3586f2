// Predictd - Prediction Service Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/predictd

package authz

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/tomtom215/predictd/internal/auth"
	"github.com/tomtom215/predictd/internal/logging"
	"github.com/tomtom215/predictd/internal/metrics"
)

// Middleware provides authorization middleware using Casbin.
type Middleware struct {
	enforcer *Enforcer
}

// NewMiddleware creates a new authorization middleware.
func NewMiddleware(enforcer *Enforcer) *Middleware {
	return &Middleware{enforcer: enforcer}
}

// AuthorizeRequest derives the action from the HTTP method and checks it
// against the request path. It must run after auth.Middleware.Authenticate.
func (m *Middleware) AuthorizeRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		action := methodToAction(r.Method)

		subject := auth.GetAuthSubject(r.Context())
		if subject == nil {
			metrics.AuthzDecisions.WithLabelValues(action, "denied").Inc()
			writeForbidden(w, "No authentication context")
			return
		}

		allowed, err := m.enforcer.EnforceWithRoles(subject.ID, subject.Roles, r.URL.Path, action)
		if err != nil {
			metrics.AuthzDecisions.WithLabelValues(action, "error").Inc()
			logging.Ctx(r.Context()).Error().Err(err).Msg("Authorization error")
			writeJSONError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Authorization check failed")
			return
		}

		if !allowed {
			metrics.AuthzDecisions.WithLabelValues(action, "denied").Inc()
			logging.Ctx(r.Context()).Info().
				Str("subject", subject.ID).
				Strs("roles", subject.Roles).
				Str("path", r.URL.Path).
				Str("action", action).
				Msg("Access denied")
			writeForbidden(w, "Insufficient permissions")
			return
		}

		metrics.AuthzDecisions.WithLabelValues(action, "allowed").Inc()
		next.ServeHTTP(w, r)
	})
}

// methodToAction maps HTTP methods to Casbin actions. Anything that is not
// a safe method needs write.
func methodToAction(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return ActionRead
	default:
		return ActionWrite
	}
}

func writeForbidden(w http.ResponseWriter, message string) {
	writeJSONError(w, http.StatusForbidden, "FORBIDDEN", message)
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // nothing to do if the client went away
	json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
