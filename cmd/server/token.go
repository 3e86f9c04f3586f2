// Predictd - Prediction Service Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/predictd

package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/tomtom215/predictd/internal/auth"
	"github.com/tomtom215/predictd/internal/config"
)

// issueToken writes a signed JWT for "user:role" to w. Operators use it to
// hand out credentials without a login endpoint.
func issueToken(cfg *config.Config, userRole string, w io.Writer) error {
	username, role, ok := strings.Cut(userRole, ":")
	username = strings.TrimSpace(username)
	role = strings.TrimSpace(role)
	if !ok || username == "" || role == "" {
		return fmt.Errorf("expected user:role, got %q", userRole)
	}
	if cfg.Security.JWTSecret == "" {
		return errors.New("JWT_SECRET is not set")
	}

	manager, err := auth.NewJWTManager(cfg.Security.JWTSecret, cfg.Security.SessionTimeout)
	if err != nil {
		return err
	}
	token, err := manager.GenerateToken(username, role)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, token)
	return err
}
