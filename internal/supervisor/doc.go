// Predictd - Prediction Service Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/predictd

/*
Package supervisor runs predictd's long-lived services under a suture v4 tree.

# Overview

	RootSupervisor ("predictd")
	├── ProcessSupervisor ("process-layer")
	│   ├── PredictorService        (eager start, stop on shutdown)
	│   └── SnapshotWatcherService  (if fallback.watch)
	└── APISupervisor ("api-layer")
	    └── HTTPServerService

A crash in one layer is restarted inside that layer. A snapshot watcher
that keeps failing backs off without closing the listener.

# Shutdown

Cancelling the context passed to Serve cancels every service at once. The
HTTP server drains within server.shutdown_timeout and the predictor stops
the child process within predictor.shutdown_timeout. TreeConfig.ShutdownTimeout
must be larger than both, otherwise suture gives up on the service and
reports it through UnstoppedServiceReport.

# Failure Handling

suture keeps a failure counter per supervisor that decays over FailureDecay
seconds. Once it passes FailureThreshold, restarts wait FailureBackoff.
Events are logged through sutureslog into the zerolog bridge from the
logging package.

# See Also

  - internal/supervisor/services: service wrappers
  - github.com/thejerf/suture/v4
*/
package supervisor
