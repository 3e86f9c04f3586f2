// Predictd - Prediction Service Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/predictd

package models

import "time"

// OutcomeStatus is the three-tier result of a dispatch.
type OutcomeStatus int

const (
	// OutcomeSuccess carries the live payload, unmodified.
	OutcomeSuccess OutcomeStatus = iota + 1
	// OutcomeDegraded carries a snapshot payload because the live call failed.
	OutcomeDegraded
	// OutcomeUnavailable carries no payload.
	OutcomeUnavailable
)

func (s OutcomeStatus) String() string {
	switch s {
	case OutcomeSuccess:
		return "success"
	case OutcomeDegraded:
		return "degraded"
	case OutcomeUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Outcome is what the supervisor hands to the HTTP layer. Build it with
// Success, Degraded or Unavailable so the fields stay consistent.
type Outcome struct {
	Status      OutcomeStatus
	Payload     []byte
	ContentType string

	// Reason explains a degraded or unavailable outcome. Empty on success.
	Reason string

	// SnapshotAt is when the degraded payload was loaded from disk.
	SnapshotAt time.Time

	// Cause is the live failure behind a degraded or unavailable outcome.
	// It is for logging; callers switch on Status.
	Cause error
}

func Success(payload []byte, contentType string) Outcome {
	return Outcome{Status: OutcomeSuccess, Payload: payload, ContentType: contentType}
}

func Degraded(payload []byte, contentType, reason string, snapshotAt time.Time, cause error) Outcome {
	return Outcome{
		Status:      OutcomeDegraded,
		Payload:     payload,
		ContentType: contentType,
		Reason:      reason,
		SnapshotAt:  snapshotAt,
		Cause:       cause,
	}
}

func Unavailable(reason string, cause error) Outcome {
	return Outcome{Status: OutcomeUnavailable, Reason: reason, Cause: cause}
}
