// Predictd - Prediction Service Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/predictd

package models

import (
	"fmt"
)

// Kind identifies one proxyable operation of the prediction service.
type Kind int

const (
	KindTrain Kind = iota + 1
	KindPredictUsage
	KindAnalyzePatterns
	KindBusinessIntelligence
	KindModelMetrics
	KindPlot
)

// Prediction window bounds for PredictUsage.
const (
	DefaultPredictionDays = 30
	MinPredictionDays     = 1
	MaxPredictionDays     = 365
)

// AllKinds lists every kind in declaration order. Used for metric
// pre-registration and snapshot preloading.
var AllKinds = []Kind{
	KindTrain,
	KindPredictUsage,
	KindAnalyzePatterns,
	KindBusinessIntelligence,
	KindModelMetrics,
	KindPlot,
}

// String returns the label used in logs and metrics.
func (k Kind) String() string {
	switch k {
	case KindTrain:
		return "train"
	case KindPredictUsage:
		return "predict_usage"
	case KindAnalyzePatterns:
		return "analyze_patterns"
	case KindBusinessIntelligence:
		return "business_intelligence"
	case KindModelMetrics:
		return "model_metrics"
	case KindPlot:
		return "plot"
	default:
		return "unknown"
	}
}

// RequestKind is an immutable description of one request to the prediction
// service. Only the fields relevant to Kind are set; use the constructors.
type RequestKind struct {
	Kind Kind

	// Days is the forecast window for KindPredictUsage.
	Days int

	// Filename is the already validated plot name for KindPlot.
	Filename string

	// Body is the JSON document forwarded for KindTrain. When empty the
	// proxy sends its default training options, {"days":90}.
	Body []byte
}

// Train builds a training request forwarding body verbatim.
func Train(body []byte) RequestKind {
	return RequestKind{Kind: KindTrain, Body: body}
}

// PredictUsage builds a stock usage forecast request for the given window.
func PredictUsage(days int) RequestKind {
	return RequestKind{Kind: KindPredictUsage, Days: days}
}

func AnalyzePatterns() RequestKind {
	return RequestKind{Kind: KindAnalyzePatterns}
}

func BusinessIntelligence() RequestKind {
	return RequestKind{Kind: KindBusinessIntelligence}
}

func ModelMetrics() RequestKind {
	return RequestKind{Kind: KindModelMetrics}
}

// Plot builds a plot request. The filename is validated here so that an
// unchecked name can never reach the proxy or the fallback store.
func Plot(filename string) (RequestKind, error) {
	if err := ValidatePlotFilename(filename); err != nil {
		return RequestKind{}, err
	}
	return RequestKind{Kind: KindPlot, Filename: filename}, nil
}

// String renders the request for log lines, e.g. "predict_usage(days=30)".
func (r RequestKind) String() string {
	switch r.Kind {
	case KindPredictUsage:
		return fmt.Sprintf("%s(days=%d)", r.Kind, r.Days)
	case KindPlot:
		return fmt.Sprintf("%s(%s)", r.Kind, r.Filename)
	default:
		return r.Kind.String()
	}
}

// IsMutating reports whether the request changes state in the prediction
// service (and therefore needs write permission).
func (r RequestKind) IsMutating() bool {
	return r.Kind == KindTrain
}
