// Predictd - Prediction Service Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/predictd

/*
Package main is the entry point for predictd.

predictd fronts an external prediction service (a Python process bound to
loopback). It spawns the process on demand, proxies the prediction API to
it with per-request timeouts, and answers from on-disk snapshots when the
process is down, hung or failing.

# Application Architecture

	RootSupervisor ("predictd")
	├── ProcessSupervisor ("process-layer")
	│   ├── Predictor service (eager start, stop on shutdown)
	│   └── Snapshot watcher (optional)
	└── APISupervisor ("api-layer")
	    └── HTTP Server

Initialization order:

 1. Configuration: koanf v2 (defaults, config.yaml, environment)
 2. Logging: zerolog
 3. Authentication (JWT or none) and casbin authorization
 4. Fallback store with snapshot preload
 5. Process handle, proxy client and predictor supervisor
 6. Chi router
 7. Supervisor tree

# Configuration

Common environment variables:
  - HTTP_PORT, HTTP_HOST: listener (default 0.0.0.0:3000)
  - JWT_SECRET: 32+ character signing secret (AUTH_MODE=jwt)
  - PREDICTOR_INTERPRETER, PREDICTOR_SCRIPT, PREDICTOR_PORT
  - FALLBACK_DATA_DIR, FALLBACK_PLOTS_DIR
  - LOG_LEVEL, LOG_FORMAT

# Issuing Tokens

	JWT_SECRET=... ./predictd -issue-token ana:haykakan

prints a token for user ana with the administrator role and exits.

# Signal Handling

SIGINT and SIGTERM cancel the tree. The HTTP server drains in-flight
requests and the prediction service gets SIGTERM, then SIGKILL after the
grace period. The process exits once the child's exit has been observed.
*/
package main
