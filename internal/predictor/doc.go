// Predictd - Prediction Service Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/predictd

/*
Package predictor supervises the prediction service and answers requests in
three tiers: live, degraded from a snapshot, or unavailable.

# State Machine

	Stopped  --Ensure-->          Starting
	Starting --spawn ok-->        Running
	Starting --spawn failed-->    Stopped
	Running  --exit observed-->   Stopped
	Running  --Shutdown-->        Stopping --confirmed exit--> Stopped

Only transitions happen under the supervisor mutex. Live calls for different
request kinds run concurrently without holding it.

# Concurrent Starts

The first caller of Ensure in the Stopped state becomes the leader: it moves
the state to Starting, publishes a start attempt and spawns the process. Every
other caller that arrives while Starting waits on that attempt's done channel
and receives the same error, so one start produces exactly one process.

# Dispatch

	outcome := sup.Dispatch(ctx, models.PredictUsage(30), 30*time.Second)
	switch outcome.Status {
	case models.OutcomeSuccess:     // live payload, unmodified
	case models.OutcomeDegraded:    // snapshot payload, outcome.Reason says why
	case models.OutcomeUnavailable: // no payload
	}

A snapshot is only consulted after the live attempt has failed. A spawn
failure skips the network call and goes straight to the snapshot.
*/
package predictor
