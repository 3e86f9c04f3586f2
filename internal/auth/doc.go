// Predictd - Prediction Service Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/predictd

/*
Package auth authenticates callers of the prediction API.

Two modes exist, selected by AUTH_MODE:

  - jwt: every request needs "Authorization: Bearer <token>". Tokens are HS256,
    carry a username and one role, and are issued by the -issue-token flag.
  - none: development only. Every request runs as the anonymous subject, which
    has no roles and therefore gets the configured default role from authz.

The middleware stores an AuthSubject in the request context; authz reads it
with GetAuthSubject.

	jwtManager, err := auth.NewJWTManager(cfg.Security.JWTSecret, cfg.Security.SessionTimeout)
	mw, err := auth.NewMiddleware(auth.AuthModeJWT, jwtManager)
	r.Use(mw.Authenticate)
*/
package auth
