// Predictd - Prediction Service Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/predictd

/*
Package models defines the values passed between predictd's layers.

  - Kind and RequestKind: one proxyable prediction operation plus its
    parameters (days window, train body, plot filename)
  - Outcome: the three-tier dispatch result (success, degraded, unavailable)
  - ValidatePlotFilename: the single check every plot name passes before it
    reaches a URL or a file path

The package has no dependencies on the rest of predictd so the api,
predictor, proxy and fallback packages can all share it.

Usage:

	req, err := models.Plot(chi.URLParam(r, "filename"))
	if err != nil {
	    // 400
	}
	outcome := supervisor.Dispatch(ctx, req, timeouts.For(req.Kind))
	switch outcome.Status {
	case models.OutcomeSuccess, models.OutcomeDegraded:
	    // write outcome.Payload
	case models.OutcomeUnavailable:
	    // 503
	}
*/
package models
