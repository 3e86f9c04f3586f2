// Predictd - Prediction Service Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/predictd

// Package config loads predictd configuration from defaults, an optional YAML
// file and environment variables, in that order of precedence (last wins).
package config

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/tomtom215/predictd/internal/models"
)

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Security  SecurityConfig  `koanf:"security"`
	Predictor PredictorConfig `koanf:"predictor"`
	Fallback  FallbackConfig  `koanf:"fallback"`
	Breaker   BreakerConfig   `koanf:"breaker"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig holds the inbound HTTP server settings.
type ServerConfig struct {
	Port            int           `koanf:"port"`
	Host            string        `koanf:"host"`
	Timeout         time.Duration `koanf:"timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	Environment     string        `koanf:"environment"` // "development", "staging", "production"
}

// SecurityConfig holds authentication and authorization settings
type SecurityConfig struct {
	AuthMode          string        `koanf:"auth_mode"` // "jwt" or "none"
	JWTSecret         string        `koanf:"jwt_secret"`
	SessionTimeout    time.Duration `koanf:"session_timeout"` // lifetime of issued tokens
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
	CORSOrigins       []string      `koanf:"cors_origins"`
	Casbin            CasbinConfig  `koanf:"casbin"`
}

// CasbinConfig controls the role check applied to prediction routes. Empty
// paths select the model and policy embedded in the binary.
type CasbinConfig struct {
	ModelPath    string        `koanf:"model_path"`
	PolicyPath   string        `koanf:"policy_path"`
	DefaultRole  string        `koanf:"default_role"`
	CacheEnabled bool          `koanf:"cache_enabled"`
	CacheTTL     time.Duration `koanf:"cache_ttl"`
}

// PredictorConfig describes how the prediction service is spawned and reached.
// None of these values are ever influenced by request input.
type PredictorConfig struct {
	Interpreter string   `koanf:"interpreter"`
	Script      string   `koanf:"script"`
	Args        []string `koanf:"args"`
	WorkDir     string   `koanf:"work_dir"`
	Host        string   `koanf:"host"`
	Port        int      `koanf:"port"`

	// EagerStart spawns the service at boot instead of on the first request.
	EagerStart bool `koanf:"eager_start"`

	// StopGracePeriod is how long SIGTERM is given before SIGKILL.
	StopGracePeriod time.Duration `koanf:"stop_grace_period"`

	// ShutdownTimeout bounds the wait for confirmed exit on shutdown.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	WarmupAttempts   int           `koanf:"warmup_attempts"`
	WarmupBackoff    time.Duration `koanf:"warmup_backoff"`
	MaxResponseBytes int64         `koanf:"max_response_bytes"`

	Timeouts TimeoutConfig `koanf:"timeouts"`
}

// TimeoutConfig holds the per-kind live call timeout.
type TimeoutConfig struct {
	Train                time.Duration `koanf:"train"`
	PredictUsage         time.Duration `koanf:"predict_usage"`
	AnalyzePatterns      time.Duration `koanf:"analyze_patterns"`
	BusinessIntelligence time.Duration `koanf:"business_intelligence"`
	ModelMetrics         time.Duration `koanf:"model_metrics"`
	Plot                 time.Duration `koanf:"plot"`
}

// FallbackConfig locates the snapshot documents served in degraded mode.
type FallbackConfig struct {
	DataDir  string `koanf:"data_dir"`
	PlotsDir string `koanf:"plots_dir"`

	// Watch invalidates cached snapshots when files in DataDir change.
	Watch bool `koanf:"watch"`
}

// BreakerConfig configures the circuit breaker placed around live calls.
type BreakerConfig struct {
	Enabled      bool          `koanf:"enabled"`
	MaxRequests  uint32        `koanf:"max_requests"` // requests allowed while half-open
	Interval     time.Duration `koanf:"interval"`     // closed-state count reset
	Timeout      time.Duration `koanf:"timeout"`      // open to half-open delay
	MinRequests  uint32        `koanf:"min_requests"`
	FailureRatio float64       `koanf:"failure_ratio"`
}

// LoggingConfig holds logging settings for zerolog.
//
// Environment Variables:
//   - LOG_LEVEL: trace, debug, info, warn, error (default: info)
//   - LOG_FORMAT: json, console (default: json)
//   - LOG_CALLER: true/false - include caller file:line (default: false)
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Load reads configuration from defaults, config file and environment.
// See LoadWithKoanf.
func Load() (*Config, error) {
	return LoadWithKoanf()
}

// IsProduction reports whether ENVIRONMENT names a production deployment.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Server.Environment)
	return env == "production" || env == "prod"
}

// IsDevelopment reports whether ENVIRONMENT is development (or unset).
func (c *Config) IsDevelopment() bool {
	env := strings.ToLower(c.Server.Environment)
	return env == "" || env == "development" || env == "dev"
}

// ListenAddr returns host:port for the inbound HTTP server.
func (s ServerConfig) ListenAddr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Address returns host:port of the prediction service.
func (p PredictorConfig) Address() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// BaseURL returns the loopback URL the proxy talks to.
func (p PredictorConfig) BaseURL() string {
	return "http://" + p.Address()
}

// CommandArgs returns the full argument list passed to the interpreter.
func (p PredictorConfig) CommandArgs() []string {
	args := make([]string, 0, len(p.Args)+5)
	args = append(args, p.Script)
	args = append(args, p.Args...)
	args = append(args, "--host", p.Host, "--port", strconv.Itoa(p.Port))
	return args
}

// For returns the live call timeout for kind.
func (t TimeoutConfig) For(kind models.Kind) time.Duration {
	switch kind {
	case models.KindTrain:
		return t.Train
	case models.KindPredictUsage:
		return t.PredictUsage
	case models.KindAnalyzePatterns:
		return t.AnalyzePatterns
	case models.KindBusinessIntelligence:
		return t.BusinessIntelligence
	case models.KindModelMetrics:
		return t.ModelMetrics
	case models.KindPlot:
		return t.Plot
	default:
		return t.PredictUsage
	}
}
