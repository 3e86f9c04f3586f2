// Predictd - Prediction Service Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/predictd

package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tomtom215/predictd/internal/logging"
)

// Middleware authenticates requests and stores the AuthSubject in the
// request context.
type Middleware struct {
	mode       AuthMode
	jwtManager *JWTManager
}

// NewMiddleware creates the authentication middleware. jwtManager may be nil
// only in AuthModeNone.
func NewMiddleware(mode AuthMode, jwtManager *JWTManager) (*Middleware, error) {
	if mode == AuthModeJWT && jwtManager == nil {
		return nil, errors.New("JWT manager required for jwt auth mode")
	}
	return &Middleware{mode: mode, jwtManager: jwtManager}, nil
}

// Mode returns the configured authentication mode.
func (m *Middleware) Mode() AuthMode { return m.mode }

// Authenticate is chi-compatible middleware that enforces authentication.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.mode == AuthModeNone {
			next.ServeHTTP(w, r.WithContext(ContextWithSubject(r.Context(), anonymousSubject())))
			return
		}

		token, err := bearerToken(r)
		if err != nil {
			writeUnauthorized(w, err)
			return
		}

		claims, err := m.jwtManager.ValidateToken(token)
		if err != nil {
			logging.Ctx(r.Context()).Debug().Err(err).Str("path", r.URL.Path).Msg("Token validation failed")
			writeUnauthorized(w, err)
			return
		}

		subject := AuthSubjectFromClaims(claims)
		next.ServeHTTP(w, r.WithContext(ContextWithSubject(r.Context(), subject)))
	})
}

// bearerToken extracts the token from "Authorization: Bearer <token>".
func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrNoCredentials
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrInvalidCredentials
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrNoCredentials
	}
	return token, nil
}

type errorBody struct {
	Success bool        `json:"success"`
	Error   errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeUnauthorized answers 401 in the same envelope the API uses. The
// message never echoes token parsing details.
func writeUnauthorized(w http.ResponseWriter, err error) {
	message := "Authentication required"
	switch {
	case errors.Is(err, ErrExpiredCredentials):
		message = "Token expired"
	case errors.Is(err, ErrInvalidCredentials):
		message = "Invalid token"
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="predictd"`)
	w.WriteHeader(http.StatusUnauthorized)
	//nolint:errcheck // nothing to do if the client went away
	json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{Code: "UNAUTHORIZED", Message: message},
	})
}
