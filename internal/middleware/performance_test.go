// Predictd - Prediction Service Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/predictd

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func TestPerformanceMonitor_SlidingWindow(t *testing.T) {
	pm := NewPerformanceMonitor(3, 0)

	for i := 1; i <= 5; i++ {
		pm.RecordRequest(RequestMetrics{Route: "/r", Method: http.MethodGet, Duration: time.Duration(i) * time.Millisecond})
	}

	recent := pm.GetRecentMetrics(10)
	if len(recent) != 3 {
		t.Fatalf("retained %d samples, want 3", len(recent))
	}
	if recent[0].Duration != 3*time.Millisecond || recent[2].Duration != 5*time.Millisecond {
		t.Errorf("window = %v..%v, want 3ms..5ms", recent[0].Duration, recent[2].Duration)
	}
}

func TestPerformanceMonitor_GetStats(t *testing.T) {
	pm := NewPerformanceMonitor(100, 0)

	for i := 1; i <= 10; i++ {
		pm.RecordRequest(RequestMetrics{
			Route:      "/api/predictions/patterns",
			Method:     http.MethodGet,
			Duration:   time.Duration(i*10) * time.Millisecond,
			StatusCode: http.StatusOK,
			Degraded:   i%2 == 0,
		})
	}
	pm.RecordRequest(RequestMetrics{
		Route:      "/api/predictions/train",
		Method:     http.MethodPost,
		Duration:   time.Second,
		StatusCode: http.StatusServiceUnavailable,
	})

	stats := pm.GetStats()
	if len(stats) != 2 {
		t.Fatalf("len(stats) = %d, want 2", len(stats))
	}

	patterns := stats[0]
	if patterns.Route != "GET /api/predictions/patterns" || patterns.RequestCount != 10 {
		t.Errorf("first stat = %+v", patterns)
	}
	if patterns.DegradedCount != 5 || patterns.ErrorCount != 0 {
		t.Errorf("degraded/errors = %d/%d, want 5/0", patterns.DegradedCount, patterns.ErrorCount)
	}
	if patterns.P50MS != 50 || patterns.MaxMS != 100 || patterns.AvgMS != 55 {
		t.Errorf("p50/max/avg = %d/%d/%v", patterns.P50MS, patterns.MaxMS, patterns.AvgMS)
	}
	if stats[1].ErrorCount != 1 {
		t.Errorf("train errors = %d, want 1", stats[1].ErrorCount)
	}
}

func TestPerformanceMonitor_Middleware(t *testing.T) {
	pm := NewPerformanceMonitor(10, time.Nanosecond)

	r := chi.NewRouter()
	r.Use(pm.Middleware)
	r.Get("/plots/{filename}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(DegradedHeader, "true")
		w.WriteHeader(http.StatusOK)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/plots/a.png", nil))

	recent := pm.GetRecentMetrics(1)
	if len(recent) != 1 {
		t.Fatal("request not recorded")
	}
	if recent[0].Route != "/plots/{filename}" || !recent[0].Degraded {
		t.Errorf("sample = %+v", recent[0])
	}
}

func TestPercentile(t *testing.T) {
	if percentile(nil, 0.5) != 0 {
		t.Error("percentile of empty slice should be 0")
	}
	sorted := []int64{1, 2, 3, 4, 5}
	if got := percentile(sorted, 0.95); got != 4 {
		t.Errorf("p95 = %d, want 4", got)
	}
}
