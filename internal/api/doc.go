// Predictd - Prediction Service Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/predictd

/*
Package api is the HTTP boundary of predictd. It maps inbound requests to
prediction request kinds, hands them to the supervisor and renders the
three-tier outcome.

Routes (all under /api/predictions, authenticated and role checked):

	POST /train                      write
	GET  /stock-usage?days=N         read, 1 <= N <= 365, default 30
	GET  /patterns                   read
	GET  /business-intelligence      read
	GET  /model-metrics              read
	GET  /plots/{filename}           read, raw image bytes
	GET  /status                     read

Unauthenticated: /health/live, /health/ready and /metrics.

Outcome mapping:

	Success      200 {"success":true,"data":<payload>,"meta":{...}}
	Degraded     200 {"success":true,"data":<payload>,"degraded":true,"degraded_reason":"..."}
	             plus X-Predictd-Degraded: true
	Unavailable  503 {"success":false,"error":{"code":"PREDICTOR_UNAVAILABLE",...}}

Handlers switch on models.OutcomeStatus only. Process and proxy errors never
reach this package.

Plot filenames are validated before dispatch. A filename with a separator, a
parent reference, a leading dot or control characters is answered with 400
and nothing on disk or on the network is touched.
*/
package api
