// Predictd - Prediction Service Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/predictd

// Package authz provides the role check in front of the prediction API using
// Casbin.
//
//	Request -> auth.Authenticate -> authz.AuthorizeRequest -> Handler
//
// # RBAC Model
//
//	[request_definition]
//	r = sub, obj, act
//
//	[policy_definition]
//	p = sub, obj, act
//
//	[role_definition]
//	g = _, _
//
//	[policy_effect]
//	e = some(where (p.eft == allow))
//
//	[matchers]
//	m = g(r.sub, p.sub) && keyMatch2(r.obj, p.obj) && (r.act == p.act || p.act == "*")
//
// # Default Policy
//
// The embedded policy grants the administrator role (haykakan) read and
// write on every prediction route, and members (festero) read only:
//
//	p, haykakan, /api/predictions/*, read
//	p, haykakan, /api/predictions/*, write
//	p, festero, /api/predictions/*, read
//
// GET and HEAD map to read. Everything else, including POST /train, maps to
// write. Subjects carrying no role at all are checked as
// EnforcerConfig.DefaultRole.
//
// Both files can be replaced with CASBIN_MODEL_PATH and CASBIN_POLICY_PATH.
package authz
