// Predictd - Prediction Service Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/predictd

package api

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/predictd/internal/auth"
	"github.com/tomtom215/predictd/internal/logging"
	"github.com/tomtom215/predictd/internal/middleware"
	"github.com/tomtom215/predictd/internal/models"
	"github.com/tomtom215/predictd/internal/predictor"
	"github.com/tomtom215/predictd/internal/validation"
)

// Train triggers model training. The JSON body is forwarded as is; an empty
// body lets the prediction service use its defaults.
func (h *Handler) Train(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxTrainBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, r, http.StatusRequestEntityTooLarge, ErrCodeBadRequest, "Request body too large")
			return
		}
		NewResponseWriter(w, r).BadRequest("Failed to read request body")
		return
	}

	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		body = nil
	} else {
		var req TrainRequest
		if err := json.Unmarshal(body, &req); err != nil {
			NewResponseWriter(w, r).BadRequest("Request body must be a JSON object")
			return
		}
		if verr := validation.ValidateStruct(&req); verr != nil {
			writeValidationError(w, r, verr)
			return
		}
	}

	h.dispatch(w, r, models.Train(body))
}

// StockUsage forecasts stock usage for the next ?days=N days (default 30).
func (h *Handler) StockUsage(w http.ResponseWriter, r *http.Request) {
	req := StockUsageRequest{Days: models.DefaultPredictionDays}
	if raw := r.URL.Query().Get("days"); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil {
			NewResponseWriter(w, r).ValidationError("days must be an integer",
				map[string]interface{}{"field": "days", "value": raw})
			return
		}
		req.Days = days
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		writeValidationError(w, r, verr)
		return
	}

	h.dispatch(w, r, models.PredictUsage(req.Days))
}

// Patterns returns the usage pattern analysis.
func (h *Handler) Patterns(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, models.AnalyzePatterns())
}

// BusinessIntelligence returns the business intelligence summary.
func (h *Handler) BusinessIntelligence(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, models.BusinessIntelligence())
}

// ModelMetrics returns the metrics of the last trained model.
func (h *Handler) ModelMetrics(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, models.ModelMetrics())
}

// Plot streams a generated chart. The filename is validated before anything
// touches the network or the filesystem.
func (h *Handler) Plot(w http.ResponseWriter, r *http.Request) {
	// chi returns the raw segment when the path was percent-encoded, so
	// "..%2Fpasswd" must be decoded before validation.
	name, err := url.PathUnescape(chi.URLParam(r, "filename"))
	if err != nil {
		rejectPlot(w, r, chi.URLParam(r, "filename"))
		return
	}

	preq := PlotRequest{Filename: name}
	if verr := validation.ValidateStruct(&preq); verr != nil {
		rejectPlot(w, r, name)
		return
	}
	req, err := models.Plot(preq.Filename)
	if err != nil {
		rejectPlot(w, r, name)
		return
	}

	outcome := h.dispatcher.Dispatch(r.Context(), req, h.timeouts.For(models.KindPlot))
	switch outcome.Status {
	case models.OutcomeSuccess, models.OutcomeDegraded:
		if outcome.Status == models.OutcomeDegraded {
			setDegradedHeaders(w, outcome.Reason)
		}
		contentType := outcome.ContentType
		if contentType == "" {
			contentType = "image/png"
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(outcome.Payload)))
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(outcome.Payload); err != nil {
			logging.Ctx(r.Context()).Debug().Err(err).Msg("Client went away while sending plot")
		}
	default:
		NewResponseWriter(w, r).PredictorUnavailable(outcome.Reason)
	}
}

// PlotRejected answers plot paths that contain more than one segment, such
// as /plots/../../etc/passwd, which never reach the {filename} route.
func (h *Handler) PlotRejected(w http.ResponseWriter, r *http.Request) {
	rejectPlot(w, r, chi.URLParam(r, "*"))
}

func rejectPlot(w http.ResponseWriter, r *http.Request, name string) {
	logging.Ctx(r.Context()).Warn().
		Str("filename", name).
		Msg("Rejected plot request with invalid filename")
	NewResponseWriter(w, r).ValidationError("filename must be a plain file name without path components",
		map[string]interface{}{"field": "filename"})
}

// dispatch runs a JSON request kind and renders its outcome. Requests that
// change the prediction service's state are logged with the caller.
func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request, req models.RequestKind) {
	outcome := h.dispatcher.Dispatch(r.Context(), req, h.timeouts.For(req.Kind))
	if req.IsMutating() {
		user := ""
		if subject := auth.GetAuthSubject(r.Context()); subject != nil {
			user = subject.Username
		}
		logging.Ctx(r.Context()).Info().
			Str("request", req.String()).
			Str("user", user).
			Str("outcome", outcome.Status.String()).
			Msg("State-changing prediction request")
	}
	writeOutcome(w, r, outcome)
}

// writeOutcome maps the three-tier outcome onto HTTP. It switches on the
// status only; the cause is already logged by the supervisor.
func writeOutcome(w http.ResponseWriter, r *http.Request, outcome models.Outcome) {
	rw := NewResponseWriter(w, r)
	switch outcome.Status {
	case models.OutcomeSuccess:
		rw.Success(json.RawMessage(outcome.Payload))
	case models.OutcomeDegraded:
		rw.Degraded(json.RawMessage(outcome.Payload), outcome.Reason, outcome.SnapshotAt)
	default:
		rw.PredictorUnavailable(outcome.Reason)
	}
}

func writeValidationError(w http.ResponseWriter, r *http.Request, verr *validation.RequestValidationError) {
	apiErr := verr.ToAPIError()
	NewResponseWriter(w, r).ValidationError(apiErr.Message, apiErr.Details)
}

// Status reports the supervisor state, cached snapshots and recent latency.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	status := StatusResponse{
		Predictor:       h.dispatcher.Status(),
		CachedSnapshots: []string{},
	}
	if h.snapshots != nil {
		for _, kind := range h.snapshots.Cached() {
			status.CachedSnapshots = append(status.CachedSnapshots, kind.String())
		}
	}
	if h.monitor != nil {
		status.Endpoints = h.monitor.GetStats()
	}
	NewResponseWriter(w, r).Success(status)
}

// StatusResponse is the data of GET /api/predictions/status.
type StatusResponse struct {
	Predictor       predictor.Status           `json:"predictor"`
	CachedSnapshots []string                   `json:"cached_snapshots"`
	Endpoints       []middleware.EndpointStats `json:"endpoints,omitempty"`
}
