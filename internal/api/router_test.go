// Predictd - Prediction Service Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/predictd

package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/predictd/internal/auth"
	"github.com/tomtom215/predictd/internal/authz"
	"github.com/tomtom215/predictd/internal/logging"
	"github.com/tomtom215/predictd/internal/middleware"
	"github.com/tomtom215/predictd/internal/models"
	"github.com/tomtom215/predictd/internal/predictor"
)

const testSecret = "router_test_secret_that_is_long_enough_for_hs256"

// fakeDispatcher records requests and answers with a fixed outcome.
type fakeDispatcher struct {
	mu       sync.Mutex
	requests []models.RequestKind
	timeouts []time.Duration
	outcome  models.Outcome
}

func (f *fakeDispatcher) Dispatch(_ context.Context, req models.RequestKind, timeout time.Duration) models.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	f.timeouts = append(f.timeouts, timeout)
	return f.outcome
}

func (f *fakeDispatcher) Status() predictor.Status {
	return predictor.Status{State: "running", PID: 4242, Alive: true, Warm: true, Breaker: "closed", Spawns: 1}
}

func (f *fakeDispatcher) calls() []models.RequestKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.RequestKind(nil), f.requests...)
}

type fixedTimeouts map[models.Kind]time.Duration

func (t fixedTimeouts) For(kind models.Kind) time.Duration { return t[kind] }

type fakeSnapshots []models.Kind

func (s fakeSnapshots) Cached() []models.Kind { return s }

type testServer struct {
	handler    http.Handler
	dispatcher *fakeDispatcher
	jwt        *auth.JWTManager
}

func newTestServer(t *testing.T, outcome models.Outcome) *testServer {
	t.Helper()

	manager, err := auth.NewJWTManager(testSecret, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	authn, err := auth.NewMiddleware(auth.AuthModeJWT, manager)
	if err != nil {
		t.Fatal(err)
	}
	enforcer, err := authz.NewEnforcer(authz.EnforcerConfig{DefaultRole: "festero"})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(enforcer.Close)

	dispatcher := &fakeDispatcher{outcome: outcome}
	timeouts := fixedTimeouts{
		models.KindTrain:        90 * time.Second,
		models.KindPredictUsage: 30 * time.Second,
		models.KindPlot:         10 * time.Second,
	}
	monitor := middleware.NewPerformanceMonitor(100, 0)
	cfg := DefaultChiMiddlewareConfig()
	cfg.RateLimitDisabled = true

	h := NewHandler(dispatcher, timeouts, fakeSnapshots{models.KindAnalyzePatterns}, monitor)
	router := NewRouter(h, authn, authz.NewMiddleware(enforcer), NewChiMiddleware(cfg), monitor)

	return &testServer{handler: router.SetupChi(), dispatcher: dispatcher, jwt: manager}
}

func (s *testServer) token(t *testing.T, role string) string {
	t.Helper()
	token, err := s.jwt.GenerateToken("tester", role)
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func (s *testServer) do(t *testing.T, method, target, role string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+s.token(t, role))
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]json.RawMessage {
	t.Helper()
	var body map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestRoutes_SuccessPassesPayloadThrough(t *testing.T) {
	payload := `{"status":"ok","clusters":[{"id":1,"items":["flour","sugar"]}]}`
	s := newTestServer(t, models.Success([]byte(payload), "application/json"))

	rec := s.do(t, http.MethodGet, "/api/predictions/patterns", "festero", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if string(body["success"]) != "true" {
		t.Errorf("success = %s", body["success"])
	}
	if _, ok := body["degraded"]; ok {
		t.Error("fresh response must not carry the degraded marker")
	}
	if string(body["data"]) != payload {
		t.Errorf("data = %s, want %s", body["data"], payload)
	}
	if rec.Header().Get(HeaderDegraded) != "" {
		t.Error("fresh response must not carry the degraded header")
	}
}

func TestRoutes_RequestKinds(t *testing.T) {
	tests := []struct {
		name   string
		method string
		target string
		body   string
		want   models.RequestKind
	}{
		{"train default body", http.MethodPost, "/api/predictions/train", "", models.Train(nil)},
		{"train forwards body", http.MethodPost, "/api/predictions/train", `{"days":30}`, models.Train([]byte(`{"days":30}`))},
		{"usage default days", http.MethodGet, "/api/predictions/stock-usage", "", models.PredictUsage(30)},
		{"usage days", http.MethodGet, "/api/predictions/stock-usage?days=7", "", models.PredictUsage(7)},
		{"patterns", http.MethodGet, "/api/predictions/patterns", "", models.AnalyzePatterns()},
		{"bi", http.MethodGet, "/api/predictions/business-intelligence", "", models.BusinessIntelligence()},
		{"model metrics", http.MethodGet, "/api/predictions/model-metrics", "", models.ModelMetrics()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, models.Success([]byte(`{}`), "application/json"))

			rec := s.do(t, tt.method, tt.target, "haykakan", strings.NewReader(tt.body))
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
			}

			calls := s.dispatcher.calls()
			if len(calls) != 1 {
				t.Fatalf("dispatches = %d, want 1", len(calls))
			}
			got := calls[0]
			if got.Kind != tt.want.Kind || got.Days != tt.want.Days || !bytes.Equal(got.Body, tt.want.Body) {
				t.Errorf("dispatched %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestRoutes_UsesPerKindTimeout(t *testing.T) {
	s := newTestServer(t, models.Success([]byte(`{}`), "application/json"))

	s.do(t, http.MethodPost, "/api/predictions/train", "haykakan", nil)
	s.do(t, http.MethodGet, "/api/predictions/stock-usage", "haykakan", nil)

	if got := s.dispatcher.timeouts; len(got) != 2 || got[0] != 90*time.Second || got[1] != 30*time.Second {
		t.Errorf("timeouts = %v", got)
	}
}

func TestRoutes_Degraded(t *testing.T) {
	loadedAt := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	s := newTestServer(t, models.Degraded([]byte(`{"predictions":[1,2,3]}`), "application/json",
		"prediction service timed out", loadedAt, nil))

	rec := s.do(t, http.MethodGet, "/api/predictions/stock-usage?days=30", "festero", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode(t, rec)
	if string(body["degraded"]) != "true" {
		t.Errorf("degraded = %s, want true", body["degraded"])
	}
	if string(body["degraded_reason"]) != `"prediction service timed out"` {
		t.Errorf("degraded_reason = %s", body["degraded_reason"])
	}
	if string(body["data"]) != `{"predictions":[1,2,3]}` {
		t.Errorf("data = %s", body["data"])
	}
	if !strings.Contains(string(body["meta"]), "2026-10-01T12:00:00Z") {
		t.Errorf("meta = %s, want snapshot time", body["meta"])
	}
	if rec.Header().Get(HeaderDegraded) != "true" {
		t.Error("missing degraded header")
	}
}

func TestRoutes_Unavailable(t *testing.T) {
	s := newTestServer(t, models.Unavailable("prediction service failed to start; no snapshot available", nil))

	rec := s.do(t, http.MethodPost, "/api/predictions/train", "haykakan", nil)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var resp APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Success || resp.Data != nil || resp.Error == nil {
		t.Fatalf("response = %+v", resp)
	}
	if resp.Error.Code != ErrCodePredictorUnavailable {
		t.Errorf("code = %s", resp.Error.Code)
	}
	if !strings.Contains(rec.Body.String(), "failed to start") {
		t.Errorf("body should carry the reason: %s", rec.Body.String())
	}
}

func TestRoutes_Authorization(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		target     string
		role       string
		wantStatus int
	}{
		{"no token", http.MethodGet, "/api/predictions/patterns", "", http.StatusUnauthorized},
		{"member reads", http.MethodGet, "/api/predictions/patterns", "festero", http.StatusOK},
		{"member reads plot", http.MethodGet, "/api/predictions/plots/a.png", "festero", http.StatusOK},
		{"member trains", http.MethodPost, "/api/predictions/train", "festero", http.StatusForbidden},
		{"admin trains", http.MethodPost, "/api/predictions/train", "haykakan", http.StatusOK},
		{"unknown role", http.MethodGet, "/api/predictions/status", "guest", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, models.Success([]byte(`{}`), "application/json"))

			rec := s.do(t, tt.method, tt.target, tt.role, nil)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantStatus != http.StatusOK && len(s.dispatcher.calls()) != 0 {
				t.Error("rejected request reached the dispatcher")
			}
		})
	}
}

func TestStockUsage_Validation(t *testing.T) {
	tests := []struct {
		query   string
		wantMsg string
	}{
		{"days=0", "days must be at least 1"},
		{"days=366", "days must be at most 365"},
		{"days=-1", "days must be at least 1"},
		{"days=abc", "days must be an integer"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			s := newTestServer(t, models.Success([]byte(`{}`), "application/json"))

			rec := s.do(t, http.MethodGet, "/api/predictions/stock-usage?"+tt.query, "festero", nil)

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tt.wantMsg) || !strings.Contains(rec.Body.String(), ErrCodeValidationFailed) {
				t.Errorf("body = %s", rec.Body.String())
			}
			if len(s.dispatcher.calls()) != 0 {
				t.Error("invalid request reached the dispatcher")
			}
		})
	}
}

func TestTrain_BodyValidation(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"array", `[1,2]`, http.StatusBadRequest},
		{"not json", `days=30`, http.StatusBadRequest},
		{"days out of range", `{"days":0}`, http.StatusBadRequest},
		{"too large", `{"pad":"` + strings.Repeat("x", maxTrainBodyBytes) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, models.Success([]byte(`{}`), "application/json"))

			rec := s.do(t, http.MethodPost, "/api/predictions/train", "haykakan", strings.NewReader(tt.body))

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if len(s.dispatcher.calls()) != 0 {
				t.Error("invalid request reached the dispatcher")
			}
		})
	}
}

func TestTrain_LogsCaller(t *testing.T) {
	var buf bytes.Buffer
	prev := logging.Logger()
	prevLevel := zerolog.GlobalLevel()
	logging.SetLogger(logging.NewTestLogger(&buf))
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	t.Cleanup(func() {
		logging.SetLogger(prev)
		zerolog.SetGlobalLevel(prevLevel)
	})

	s := newTestServer(t, models.Success([]byte(`{}`), "application/json"))
	if rec := s.do(t, http.MethodPost, "/api/predictions/train", "haykakan", nil); rec.Code != http.StatusOK {
		t.Fatalf("train status = %d", rec.Code)
	}
	if rec := s.do(t, http.MethodGet, "/api/predictions/patterns", "festero", nil); rec.Code != http.StatusOK {
		t.Fatalf("patterns status = %d", rec.Code)
	}

	logs := buf.String()
	if n := strings.Count(logs, "State-changing prediction request"); n != 1 {
		t.Fatalf("state-changing log lines = %d, want 1 (train only): %s", n, logs)
	}
	for _, want := range []string{`"user":"tester"`, `"request":"train"`, `"outcome":"success"`} {
		if !strings.Contains(logs, want) {
			t.Errorf("log missing %s: %s", want, logs)
		}
	}
}

func TestPlot_Success(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\nfake")
	s := newTestServer(t, models.Success(png, "image/png"))

	rec := s.do(t, http.MethodGet, "/api/predictions/plots/stock_forecast.png", "festero", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !bytes.Equal(rec.Body.Bytes(), png) {
		t.Error("plot bytes changed")
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %s", ct)
	}
	calls := s.dispatcher.calls()
	if len(calls) != 1 || calls[0].Kind != models.KindPlot || calls[0].Filename != "stock_forecast.png" {
		t.Errorf("dispatched %+v", calls)
	}
}

func TestPlot_DegradedAndUnavailable(t *testing.T) {
	s := newTestServer(t, models.Degraded([]byte("png"), "image/png", "prediction service is not accepting connections", time.Now(), nil))
	rec := s.do(t, http.MethodGet, "/api/predictions/plots/a.png", "festero", nil)
	if rec.Code != http.StatusOK || rec.Header().Get(HeaderDegraded) != "true" {
		t.Errorf("degraded plot: status = %d, header = %q", rec.Code, rec.Header().Get(HeaderDegraded))
	}
	if rec.Header().Get(HeaderDegradedReason) == "" {
		t.Error("missing degraded reason header")
	}

	s = newTestServer(t, models.Unavailable("prediction service unavailable; no snapshot available", nil))
	rec = s.do(t, http.MethodGet, "/api/predictions/plots/a.png", "festero", nil)
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), ErrCodePredictorUnavailable) {
		t.Errorf("unavailable plot: status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestPlot_RejectsTraversalBeforeDispatch(t *testing.T) {
	targets := []string{
		"/api/predictions/plots/..%2F..%2Fetc%2Fpasswd",
		"/api/predictions/plots/../../etc/passwd",
		"/api/predictions/plots/sub/a.png",
		"/api/predictions/plots/..",
		"/api/predictions/plots/.hidden.png",
		"/api/predictions/plots/%2Fetc%2Fpasswd",
		"/api/predictions/plots/..%5Cwin.ini",
		"/api/predictions/plots/bad%00name.png",
	}
	for _, target := range targets {
		t.Run(target, func(t *testing.T) {
			s := newTestServer(t, models.Success([]byte("png"), "image/png"))

			rec := s.do(t, http.MethodGet, target, "haykakan", nil)

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400: %s", rec.Code, rec.Body.String())
			}
			if len(s.dispatcher.calls()) != 0 {
				t.Error("traversal attempt reached the dispatcher")
			}
		})
	}
}

func TestStatus(t *testing.T) {
	s := newTestServer(t, models.Success([]byte(`{}`), "application/json"))
	s.do(t, http.MethodGet, "/api/predictions/patterns", "festero", nil)

	rec := s.do(t, http.MethodGet, "/api/predictions/status", "festero", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp struct {
		Data StatusResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Data.Predictor.State != "running" || resp.Data.Predictor.PID != 4242 {
		t.Errorf("predictor = %+v", resp.Data.Predictor)
	}
	if len(resp.Data.CachedSnapshots) != 1 || resp.Data.CachedSnapshots[0] != "analyze_patterns" {
		t.Errorf("cached = %v", resp.Data.CachedSnapshots)
	}
	found := false
	for _, e := range resp.Data.Endpoints {
		if e.Route == "GET /api/predictions/patterns" {
			found = true
		}
	}
	if !found {
		t.Errorf("endpoints = %+v, want patterns route", resp.Data.Endpoints)
	}
}

func TestHealth_NoAuthRequired(t *testing.T) {
	s := newTestServer(t, models.Unavailable("down", nil))

	for _, target := range []string{"/health/live", "/health/ready"} {
		rec := s.do(t, http.MethodGet, target, "", nil)
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d", target, rec.Code)
		}
	}

	rec := s.do(t, http.MethodGet, "/health/ready", "", nil)
	if !strings.Contains(rec.Body.String(), `"predictor_state":"running"`) {
		t.Errorf("ready body = %s", rec.Body.String())
	}
}

func TestRouter_NotFoundAndMethod(t *testing.T) {
	s := newTestServer(t, models.Success([]byte(`{}`), "application/json"))

	if rec := s.do(t, http.MethodGet, "/nope", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d", rec.Code)
	}
	if rec := s.do(t, http.MethodDelete, "/health/live", "", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("wrong method status = %d", rec.Code)
	}
}

func TestRouter_RequestIDEchoed(t *testing.T) {
	s := newTestServer(t, models.Success([]byte(`{}`), "application/json"))

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	if rec.Header().Get("X-Request-ID") != "req-123" {
		t.Errorf("X-Request-ID = %q", rec.Header().Get("X-Request-ID"))
	}
	if !strings.Contains(rec.Body.String(), `"request_id":"req-123"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}
