// Predictd - Prediction Service Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/predictd

package api

// StockUsageRequest holds the validated query of GET /stock-usage.
type StockUsageRequest struct {
	Days int `query:"days" validate:"min=1,max=365"`
}

// PlotRequest holds the validated path parameter of GET /plots/{filename}.
type PlotRequest struct {
	Filename string `json:"filename" validate:"required,plotfile"`
}

// TrainRequest is the part of the POST /train body predictd understands.
// The body itself is forwarded unchanged; only days is checked.
type TrainRequest struct {
	Days *int `json:"days" validate:"omitempty,min=1,max=3650"`
}

// maxTrainBodyBytes bounds the forwarded training request.
const maxTrainBodyBytes = 64 << 10
