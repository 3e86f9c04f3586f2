// Predictd - Prediction Service Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/predictd

package config

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// Validate checks that required configuration is present and valid
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}

	if err := c.validateSecurity(); err != nil {
		return err
	}

	if err := c.validatePredictor(); err != nil {
		return err
	}

	if err := c.validateFallback(); err != nil {
		return err
	}

	if err := c.validateBreaker(); err != nil {
		return err
	}

	return c.validateLogging()
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535")
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("SERVER_TIMEOUT must be positive")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be positive")
	}
	return nil
}

// validateSecurity validates security configuration
func (c *Config) validateSecurity() error {
	if err := c.validateAuthMode(); err != nil {
		return err
	}

	if err := c.validateRateLimits(); err != nil {
		return err
	}

	if c.Security.AuthMode == "jwt" {
		return c.validateJWTSecret()
	}
	return nil
}

var validAuthModes = map[string]bool{
	"none": true,
	"jwt":  true,
}

// validateAuthMode only lets AUTH_MODE=none through in development. Every
// other environment must run the role check against real identities.
func (c *Config) validateAuthMode() error {
	if !validAuthModes[c.Security.AuthMode] {
		return fmt.Errorf("AUTH_MODE must be one of: none, jwt")
	}
	if c.Security.AuthMode == "none" && !c.IsDevelopment() {
		return fmt.Errorf("AUTH_MODE=none is only allowed when ENVIRONMENT=development")
	}
	return nil
}

const (
	minRateLimitRequests = 1
	maxRateLimitRequests = 100000
	minRateLimitWindow   = time.Second
	maxRateLimitWindow   = time.Hour

	minJWTSecretLength = 32
)

func (c *Config) validateRateLimits() error {
	if c.Security.RateLimitDisabled {
		return nil
	}
	if c.Security.RateLimitReqs < minRateLimitRequests || c.Security.RateLimitReqs > maxRateLimitRequests {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be between %d and %d", minRateLimitRequests, maxRateLimitRequests)
	}
	if c.Security.RateLimitWindow < minRateLimitWindow || c.Security.RateLimitWindow > maxRateLimitWindow {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be between %v and %v", minRateLimitWindow, maxRateLimitWindow)
	}
	return nil
}

func (c *Config) validateJWTSecret() error {
	if c.Security.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required when AUTH_MODE is jwt")
	}
	if len(c.Security.JWTSecret) < minJWTSecretLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters for security", minJWTSecretLength)
	}
	if containsPlaceholder(c.Security.JWTSecret) {
		return fmt.Errorf("JWT_SECRET contains a placeholder value - generate a secure secret with: openssl rand -base64 32")
	}
	if c.Security.SessionTimeout <= 0 {
		return fmt.Errorf("SESSION_TIMEOUT must be positive")
	}
	return nil
}

// validatePredictor validates how the prediction service is spawned and reached.
func (c *Config) validatePredictor() error {
	p := c.Predictor
	if strings.TrimSpace(p.Interpreter) == "" {
		return fmt.Errorf("PREDICTOR_INTERPRETER is required")
	}
	if strings.TrimSpace(p.Script) == "" {
		return fmt.Errorf("PREDICTOR_SCRIPT is required")
	}
	if p.Port < 1 || p.Port > 65535 {
		return fmt.Errorf("PREDICTOR_PORT must be between 1 and 65535")
	}
	if !isLoopbackHost(p.Host) {
		return fmt.Errorf("PREDICTOR_HOST must be a loopback address, got %q", p.Host)
	}
	if p.WarmupAttempts < 1 || p.WarmupAttempts > 60 {
		return fmt.Errorf("PREDICTOR_WARMUP_ATTEMPTS must be between 1 and 60")
	}
	if p.WarmupBackoff <= 0 {
		return fmt.Errorf("PREDICTOR_WARMUP_BACKOFF must be positive")
	}
	if p.StopGracePeriod <= 0 {
		return fmt.Errorf("PREDICTOR_STOP_GRACE_PERIOD must be positive")
	}
	if p.ShutdownTimeout <= p.StopGracePeriod {
		return fmt.Errorf("PREDICTOR_SHUTDOWN_TIMEOUT (%v) must exceed PREDICTOR_STOP_GRACE_PERIOD (%v)",
			p.ShutdownTimeout, p.StopGracePeriod)
	}
	if p.MaxResponseBytes <= 0 {
		return fmt.Errorf("PREDICTOR_MAX_RESPONSE_BYTES must be positive")
	}
	return c.validateTimeouts()
}

func (c *Config) validateTimeouts() error {
	timeouts := map[string]time.Duration{
		"PREDICTOR_TIMEOUT_TRAIN":                 c.Predictor.Timeouts.Train,
		"PREDICTOR_TIMEOUT_PREDICT_USAGE":         c.Predictor.Timeouts.PredictUsage,
		"PREDICTOR_TIMEOUT_ANALYZE_PATTERNS":      c.Predictor.Timeouts.AnalyzePatterns,
		"PREDICTOR_TIMEOUT_BUSINESS_INTELLIGENCE": c.Predictor.Timeouts.BusinessIntelligence,
		"PREDICTOR_TIMEOUT_MODEL_METRICS":         c.Predictor.Timeouts.ModelMetrics,
		"PREDICTOR_TIMEOUT_PLOT":                  c.Predictor.Timeouts.Plot,
	}
	for name, d := range timeouts {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
		if d > c.Server.Timeout {
			return fmt.Errorf("%s (%v) must not exceed SERVER_TIMEOUT (%v)", name, d, c.Server.Timeout)
		}
	}
	return nil
}

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (c *Config) validateFallback() error {
	if strings.TrimSpace(c.Fallback.DataDir) == "" {
		return fmt.Errorf("FALLBACK_DATA_DIR is required")
	}
	if strings.TrimSpace(c.Fallback.PlotsDir) == "" {
		return fmt.Errorf("FALLBACK_PLOTS_DIR is required")
	}
	return nil
}

func (c *Config) validateBreaker() error {
	if !c.Breaker.Enabled {
		return nil
	}
	if c.Breaker.MaxRequests == 0 {
		return fmt.Errorf("BREAKER_MAX_REQUESTS must be at least 1")
	}
	if c.Breaker.Timeout <= 0 {
		return fmt.Errorf("BREAKER_TIMEOUT must be positive")
	}
	if c.Breaker.FailureRatio <= 0 || c.Breaker.FailureRatio > 1 {
		return fmt.Errorf("BREAKER_FAILURE_RATIO must be in (0, 1]")
	}
	return nil
}

var validLogLevels = map[string]bool{
	"trace": true,
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"json":    true,
	"console": true,
}

func (c *Config) validateLogging() error {
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("LOG_LEVEL must be one of: trace, debug, info, warn, error")
	}
	if c.Logging.Format != "" && !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, console")
	}
	return nil
}

// placeholderPatterns catch secrets copied from example files.
var placeholderPatterns = []string{
	"REPLACE",
	"CHANGEME",
	"CHANGE_ME",
	"YOUR_SECRET",
	"PLACEHOLDER",
	"EXAMPLE",
}

func containsPlaceholder(value string) bool {
	upper := strings.ToUpper(value)
	for _, pattern := range placeholderPatterns {
		if strings.Contains(upper, pattern) {
			return true
		}
	}
	return false
}

// ShouldWarnAboutCORS returns true if CORS is wide open while authentication
// is enabled.
func (c *Config) ShouldWarnAboutCORS() bool {
	if c.Security.AuthMode == "none" {
		return false
	}
	for _, origin := range c.Security.CORSOrigins {
		if origin == "*" {
			return true
		}
	}
	return false
}
