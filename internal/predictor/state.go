// Predictd - Prediction Service Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/predictd

package predictor

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/tomtom215/predictd/internal/process"
	"github.com/tomtom215/predictd/internal/proxy"
)

// State is the supervisor lifecycle state. The numeric values are exported
// as the predictd_process_state gauge.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// reasonFor renders a live failure as the short, caller-facing reason carried
// by Degraded and Unavailable outcomes.
func reasonFor(err error) string {
	var pe *proxy.Error
	switch {
	case errors.Is(err, ErrShutdown):
		return "prediction service is shutting down"
	case errors.Is(err, process.ErrSpawnFailed):
		return "prediction service failed to start"
	case errors.As(err, &pe):
		return proxyReason(pe)
	case errors.Is(err, context.DeadlineExceeded):
		return "deadline exceeded"
	case errors.Is(err, context.Canceled):
		return "request cancelled"
	default:
		return "prediction service unavailable"
	}
}

func proxyReason(pe *proxy.Error) string {
	switch pe.Kind {
	case proxy.KindConnectionRefused:
		return "prediction service is not accepting connections"
	case proxy.KindTimeout:
		if errors.Is(pe.Err, context.Canceled) {
			return "request cancelled"
		}
		return "prediction service timed out"
	case proxy.KindRemoteError:
		if pe.Status >= 200 && pe.Status < 300 {
			return "prediction service returned an invalid response"
		}
		if pe.Status != 0 {
			return fmt.Sprintf("prediction service returned %d %s", pe.Status, http.StatusText(pe.Status))
		}
		return "prediction service rejected the request"
	case proxy.KindCircuitOpen:
		return "prediction service is failing repeatedly, circuit open"
	default:
		return "prediction service connection failed"
	}
}
