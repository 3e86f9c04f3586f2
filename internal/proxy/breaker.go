// Predictd - Prediction Service Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/predictd

package proxy

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/predictd/internal/logging"
	"github.com/tomtom215/predictd/internal/metrics"
)

// BreakerConfig configures the circuit breaker around live calls.
type BreakerConfig struct {
	Enabled      bool
	MaxRequests  uint32        // calls allowed through while half-open
	Interval     time.Duration // closed-state count reset
	Timeout      time.Duration // open to half-open delay
	MinRequests  uint32        // requests needed before the ratio is considered
	FailureRatio float64
}

const breakerName = "prediction-service"

// newBreaker builds a fresh breaker. A new one is created on every process
// start so failures of a dead process never count against its successor.
func newBreaker(cfg BreakerConfig) *gobreaker.CircuitBreaker[*Response] {
	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	return gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			shouldTrip := failureRatio >= cfg.FailureRatio
			if shouldTrip {
				logging.Warn().
					Uint32("failures", counts.TotalFailures).
					Float64("failure_rate", failureRatio*100).
					Msg("[CIRCUIT BREAKER] Opening circuit")
			}
			return shouldTrip
		},

		IsSuccessful: breakerSuccess,

		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr, toStr := stateToString(from), stateToString(to)
			logging.Info().Str("from", fromStr).Str("to", toStr).Msg("[CIRCUIT BREAKER] State transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
		},
	})
}

// breakerSuccess decides what counts against the breaker. Client errors
// (4xx) mean the service is healthy and said no; a caller that went away
// says nothing about the service at all.
func breakerSuccess(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var pe *Error
	if errors.As(err, &pe) && pe.Kind == KindRemoteError && pe.Status >= 400 && pe.Status < 500 {
		return true
	}
	return false
}

// execute runs fn through cb, recording breaker metrics. Rejections are
// returned as KindCircuitOpen errors.
func execute(cb *gobreaker.CircuitBreaker[*Response], request string, fn func() (*Response, error)) (*Response, error) {
	resp, err := cb.Execute(fn)
	if err == nil {
		metrics.CircuitBreakerRequests.WithLabelValues(breakerName, "success").Inc()
		return resp, nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.CircuitBreakerRequests.WithLabelValues(breakerName, "rejected").Inc()
		logging.Warn().Err(err).Str("request", request).Msg("[CIRCUIT BREAKER] Request rejected")
		return nil, &Error{Kind: KindCircuitOpen, Request: request, Err: err}
	}
	metrics.CircuitBreakerRequests.WithLabelValues(breakerName, "failure").Inc()
	return nil, err
}

// stateToFloat converts circuit breaker state to numeric value for metrics
func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// stateToString converts circuit breaker state to string for logging
func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
