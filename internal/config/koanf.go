// Predictd - Prediction Service Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/predictd

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/predictd/config.yaml",
	"/etc/predictd/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns the built-in defaults, applied before file and env.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            3000,
			Host:            "0.0.0.0",
			Timeout:         2 * time.Minute, // must cover the train timeout
			ShutdownTimeout: 10 * time.Second,
			Environment:     "development",
		},
		Security: SecurityConfig{
			AuthMode:          "jwt",
			JWTSecret:         "",
			SessionTimeout:    24 * time.Hour,
			RateLimitReqs:     60,
			RateLimitWindow:   time.Minute,
			RateLimitDisabled: false,
			CORSOrigins:       []string{"*"},
			Casbin: CasbinConfig{
				ModelPath:    "",
				PolicyPath:   "",
				DefaultRole:  "festero",
				CacheEnabled: true,
				CacheTTL:     5 * time.Minute,
			},
		},
		Predictor: PredictorConfig{
			Interpreter:      "python3",
			Script:           "ai_prediction/main.py",
			Args:             []string{},
			WorkDir:          "",
			Host:             "127.0.0.1",
			Port:             5000,
			EagerStart:       true,
			StopGracePeriod:  5 * time.Second,
			ShutdownTimeout:  15 * time.Second,
			WarmupAttempts:   5,
			WarmupBackoff:    time.Second,
			MaxResponseBytes: 32 << 20, // plots are the largest responses
			Timeouts: TimeoutConfig{
				Train:                90 * time.Second,
				PredictUsage:         30 * time.Second,
				AnalyzePatterns:      30 * time.Second,
				BusinessIntelligence: 15 * time.Second,
				ModelMetrics:         15 * time.Second,
				Plot:                 10 * time.Second,
			},
		},
		Fallback: FallbackConfig{
			DataDir:  "ai_prediction/outputs/data",
			PlotsDir: "ai_prediction/outputs/plots",
			Watch:    true,
		},
		Breaker: BreakerConfig{
			Enabled:      true,
			MaxRequests:  1,
			Interval:     time.Minute,
			Timeout:      30 * time.Second,
			MinRequests:  5,
			FailureRatio: 0.6,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults: Built-in sensible defaults
//  2. Config File: Optional YAML config file (if exists)
//  3. Environment Variables: Override any setting
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// PREDICTOR_PORT -> predictor.port, etc. Unmapped variables are ignored.
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns CONFIG_PATH when it exists, else the first default
// path that exists, else "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths defines which config paths should be parsed as comma-separated slices
var sliceConfigPaths = []string{
	"security.cors_origins",
	"predictor.args",
}

// processSliceFields converts comma-separated env values into slices. Values
// that already are slices (from YAML) are left alone.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}

		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) == 0 {
			continue
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps environment variable names (lower-cased) to koanf paths.
var envMappings = map[string]string{
	// Server
	"http_port":        "server.port",
	"http_host":        "server.host",
	"server_timeout":   "server.timeout",
	"shutdown_timeout": "server.shutdown_timeout",
	"environment":      "server.environment",

	// Security
	"auth_mode":            "security.auth_mode",
	"jwt_secret":           "security.jwt_secret",
	"session_timeout":      "security.session_timeout",
	"rate_limit_requests":  "security.rate_limit_reqs",
	"rate_limit_window":    "security.rate_limit_window",
	"disable_rate_limit":   "security.rate_limit_disabled",
	"cors_origins":         "security.cors_origins",
	"casbin_model_path":    "security.casbin.model_path",
	"casbin_policy_path":   "security.casbin.policy_path",
	"casbin_default_role":  "security.casbin.default_role",
	"casbin_cache_enabled": "security.casbin.cache_enabled",
	"casbin_cache_ttl":     "security.casbin.cache_ttl",

	// Predictor process and proxy
	"predictor_interpreter":        "predictor.interpreter",
	"predictor_script":             "predictor.script",
	"predictor_args":               "predictor.args",
	"predictor_work_dir":           "predictor.work_dir",
	"predictor_host":               "predictor.host",
	"predictor_port":               "predictor.port",
	"predictor_eager_start":        "predictor.eager_start",
	"predictor_stop_grace_period":  "predictor.stop_grace_period",
	"predictor_shutdown_timeout":   "predictor.shutdown_timeout",
	"predictor_warmup_attempts":    "predictor.warmup_attempts",
	"predictor_warmup_backoff":     "predictor.warmup_backoff",
	"predictor_max_response_bytes": "predictor.max_response_bytes",

	"predictor_timeout_train":                 "predictor.timeouts.train",
	"predictor_timeout_predict_usage":         "predictor.timeouts.predict_usage",
	"predictor_timeout_analyze_patterns":      "predictor.timeouts.analyze_patterns",
	"predictor_timeout_business_intelligence": "predictor.timeouts.business_intelligence",
	"predictor_timeout_model_metrics":         "predictor.timeouts.model_metrics",
	"predictor_timeout_plot":                  "predictor.timeouts.plot",

	// Fallback snapshots
	"fallback_data_dir":  "fallback.data_dir",
	"fallback_plots_dir": "fallback.plots_dir",
	"fallback_watch":     "fallback.watch",

	// Circuit breaker
	"breaker_enabled":       "breaker.enabled",
	"breaker_max_requests":  "breaker.max_requests",
	"breaker_interval":      "breaker.interval",
	"breaker_timeout":       "breaker.timeout",
	"breaker_min_requests":  "breaker.min_requests",
	"breaker_failure_ratio": "breaker.failure_ratio",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc transforms environment variable names to koanf config paths.
// Unmapped keys return "" so that unrelated variables never leak into config.
//
// Examples:
//   - HTTP_PORT -> server.port
//   - PREDICTOR_TIMEOUT_TRAIN -> predictor.timeouts.train
//   - FALLBACK_DATA_DIR -> fallback.data_dir
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
