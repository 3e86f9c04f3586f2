// Predictd - Prediction Service Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/predictd

package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// ErrorKind classifies a failed live call.
type ErrorKind int

const (
	// KindConnectionRefused: nothing is listening yet (or any more).
	KindConnectionRefused ErrorKind = iota + 1
	// KindTimeout: the call did not complete before its deadline.
	KindTimeout
	// KindRemoteError: the service answered with a non-2xx status or an
	// unusable body.
	KindRemoteError
	// KindCircuitOpen: the breaker rejected the call without issuing it.
	KindCircuitOpen
	// KindTransport: any other network failure (reset, EOF, oversized body).
	KindTransport
)

func (k ErrorKind) String() string {
	switch k {
	case KindConnectionRefused:
		return "connection_refused"
	case KindTimeout:
		return "timeout"
	case KindRemoteError:
		return "remote_error"
	case KindCircuitOpen:
		return "circuit_open"
	case KindTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// Sentinels matched by (*Error).Is, one per ErrorKind.
var (
	ErrConnectionRefused = errors.New("prediction service refused the connection")
	ErrTimeout           = errors.New("prediction service timed out")
	ErrRemote            = errors.New("prediction service returned an error")
	ErrCircuitOpen       = errors.New("prediction service circuit is open")
	ErrTransport         = errors.New("prediction service transport failure")
)

func (k ErrorKind) sentinel() error {
	switch k {
	case KindConnectionRefused:
		return ErrConnectionRefused
	case KindTimeout:
		return ErrTimeout
	case KindRemoteError:
		return ErrRemote
	case KindCircuitOpen:
		return ErrCircuitOpen
	default:
		return ErrTransport
	}
}

// maxErrorBody bounds how much of a remote error body is retained.
const maxErrorBody = 4 << 10

// Error is a classified live call failure.
type Error struct {
	Kind    ErrorKind
	Request string // e.g. "predict_usage(days=30)"
	Status  int    // set for KindRemoteError
	Body    []byte // truncated remote body, KindRemoteError only
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Kind == KindRemoteError && e.Status != 0:
		return fmt.Sprintf("%s: %s: status %d", e.Request, e.Kind.sentinel(), e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Request, e.Kind.sentinel(), e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Request, e.Kind.sentinel())
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets callers match on the kind sentinels, e.g. errors.Is(err, ErrTimeout).
func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// KindOf returns the classification of err, or 0 when err is not an *Error.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return 0
}

// classify maps a transport error onto an ErrorKind. ctx is the call's
// context; its expiry wins over whatever the transport reported.
func classify(ctx context.Context, request string, err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}

	kind := KindTransport
	var netErr net.Error
	switch {
	case ctx.Err() != nil:
		kind = KindTimeout
		err = ctx.Err()
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		kind = KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = KindTimeout
	case errors.Is(err, syscall.ECONNREFUSED):
		kind = KindConnectionRefused
	}
	return &Error{Kind: kind, Request: request, Err: err}
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
