// Predictd - Prediction Service Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/predictd

// Package validation provides struct validation using go-playground/validator v10.
//
// A single validator instance is shared by all handlers. Field names in error
// messages come from the `query` or `json` struct tag, so a failure on
//
//	type StockUsageRequest struct {
//	    Days int `query:"days" validate:"min=1,max=365"`
//	}
//
// reads "days must be at most 365". The custom `plotfile` tag applies
// models.ValidatePlotFilename.
package validation
