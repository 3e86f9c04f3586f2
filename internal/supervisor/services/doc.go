// Predictd - Prediction Service Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/predictd

/*
Package services provides suture.Service wrappers for predictd components.

Each wrapper translates a component's lifecycle into suture's context-aware
Serve pattern and names itself through fmt.Stringer for event logs.

# Available Services

HTTP Server (HTTPServerService):
  - Wraps *http.Server with graceful shutdown
  - Converts ListenAndServe to Serve

Predictor (PredictorService):
  - Optionally starts the prediction service at boot
  - Stops the child process when the tree shuts down

Snapshot Watcher (SnapshotWatcherService):
  - Runs fallback.Store.Watch so replaced snapshot files are re-read
  - Does not restart when the data directory is missing

# Return Values

Serve returns ctx.Err() on a requested shutdown. Returning any other error
lets the parent supervisor restart the service. suture.ErrDoNotRestart
removes the service for good.
*/
package services
