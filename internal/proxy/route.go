// Predictd - Prediction Service Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/predictd

package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tomtom215/predictd/internal/models"
)

// route is the outbound shape of one RequestKind.
type route struct {
	method string
	path   string
	query  url.Values
	body   []byte
}

// defaultTrainBody is sent when the caller supplied no training options.
var defaultTrainBody = []byte(`{"days":90}`)

// routeFor translates a request into the prediction service's HTTP API.
func routeFor(req models.RequestKind) (route, error) {
	switch req.Kind {
	case models.KindTrain:
		body := req.Body
		if len(bytes.TrimSpace(body)) == 0 {
			body = defaultTrainBody
		}
		return route{method: http.MethodPost, path: "/train", body: body}, nil
	case models.KindPredictUsage:
		days := req.Days
		if days == 0 {
			days = models.DefaultPredictionDays
		}
		return route{
			method: http.MethodGet,
			path:   "/predict-stock-usage",
			query:  url.Values{"days": []string{strconv.Itoa(days)}},
		}, nil
	case models.KindAnalyzePatterns:
		return route{method: http.MethodGet, path: "/analyze-patterns"}, nil
	case models.KindBusinessIntelligence:
		return route{method: http.MethodGet, path: "/business-intelligence"}, nil
	case models.KindModelMetrics:
		return route{method: http.MethodGet, path: "/model-metrics"}, nil
	case models.KindPlot:
		// Re-checked here so a hand-built RequestKind cannot smuggle a path.
		if err := models.ValidatePlotFilename(req.Filename); err != nil {
			return route{}, err
		}
		return route{method: http.MethodGet, path: "/plots/" + url.PathEscape(req.Filename)}, nil
	default:
		return route{}, fmt.Errorf("unsupported request kind %d", req.Kind)
	}
}

// newRequest builds the outbound request. path is already escaped.
func (r route) newRequest(ctx context.Context, baseURL string) (*http.Request, error) {
	target := strings.TrimRight(baseURL, "/") + r.path
	if len(r.query) > 0 {
		target += "?" + r.query.Encode()
	}

	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, r.method, target, body)
	if err != nil {
		return nil, err
	}
	if r.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json, image/png;q=0.9, */*;q=0.1")
	return httpReq, nil
}
