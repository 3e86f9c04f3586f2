// Predictd - Prediction Service Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/predictd

package predictor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/predictd/internal/fallback"
	"github.com/tomtom215/predictd/internal/logging"
	"github.com/tomtom215/predictd/internal/metrics"
	"github.com/tomtom215/predictd/internal/models"
	"github.com/tomtom215/predictd/internal/process"
	"github.com/tomtom215/predictd/internal/proxy"
)

// ErrShutdown is returned by Ensure once Shutdown has been called.
var ErrShutdown = errors.New("predictor: supervisor is shut down")

const defaultShutdownTimeout = 15 * time.Second

// Process is the part of process.Handle the supervisor drives.
type Process interface {
	Spawn() error
	IsAlive() bool
	Stop(ctx context.Context) error
	OnExit(fn func(process.Exit))
	PID() int
	Info() process.Info
}

// Proxy is the part of proxy.Client the supervisor drives.
type Proxy interface {
	Call(ctx context.Context, req models.RequestKind, timeout time.Duration) (*proxy.Response, error)
	MarkFresh()
	IsWarm() bool
	BreakerState() string
}

// Fallback is the snapshot source consulted after a failed live call.
type Fallback interface {
	Load(req models.RequestKind) (*fallback.Entry, error)
}

// Config tunes the supervisor.
type Config struct {
	// ShutdownTimeout bounds Shutdown when its ctx has no deadline.
	ShutdownTimeout time.Duration
}

// startAttempt is shared by every caller of Ensure while a start is in
// flight. err is written once, before done is closed.
type startAttempt struct {
	done chan struct{}
	err  error
}

// Supervisor owns the prediction service lifecycle. It is created once at
// boot, handed to the HTTP layer and torn down with Shutdown.
type Supervisor struct {
	proc     Process
	proxy    Proxy
	fallback Fallback
	cfg      Config
	logger   zerolog.Logger

	mu      sync.Mutex
	state   State
	attempt *startAttempt // non-nil while Starting
	stopped chan struct{} // non-nil while Stopping, closed on Stopped
	closed  bool
	spawns  int
	lastErr error
}

// New wires a supervisor. The process starts Stopped; nothing is spawned
// until Ensure or Dispatch.
func New(proc Process, px Proxy, fb Fallback, cfg Config) *Supervisor {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	s := &Supervisor{
		proc:     proc,
		proxy:    px,
		fallback: fb,
		cfg:      cfg,
		logger:   logging.WithComponent("predictor"),
		state:    StateStopped,
	}
	metrics.ProcessState.Set(float64(StateStopped))
	proc.OnExit(s.handleExit)
	return s
}

// setState must be called with mu held.
func (s *Supervisor) setState(to State) {
	if s.state == to {
		return
	}
	s.logger.Debug().Str("from", s.state.String()).Str("to", to.String()).Msg("State transition")
	s.state = to
	metrics.ProcessState.Set(float64(to))
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Ensure makes sure the prediction service process is running. Concurrent
// callers during a start all wait for that one attempt and share its result.
// A spawn error is returned to every waiter and leaves the state Stopped, so
// the next call tries again.
func (s *Supervisor) Ensure(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return ErrShutdown
		}

		switch s.state {
		case StateRunning:
			if s.proc.IsAlive() {
				s.mu.Unlock()
				return nil
			}
			// The exit callback has not run yet; the process is gone.
			s.setState(StateStopped)
			s.mu.Unlock()
			continue

		case StateStarting:
			attempt := s.attempt
			s.mu.Unlock()
			select {
			case <-attempt.done:
				return attempt.err
			case <-ctx.Done():
				return ctx.Err()
			}

		case StateStopping:
			s.mu.Unlock()
			return ErrShutdown

		default:
			attempt := &startAttempt{done: make(chan struct{})}
			s.attempt = attempt
			s.setState(StateStarting)
			s.mu.Unlock()

			s.start(attempt)
			return attempt.err
		}
	}
}

// start runs one spawn outside the lock and publishes its result.
func (s *Supervisor) start(attempt *startAttempt) {
	err := s.proc.Spawn()
	if errors.Is(err, process.ErrAlreadyRunning) {
		err = nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case err != nil:
		s.lastErr = err
		s.setState(StateStopped)
		s.logger.Error().Err(err).Msg("Prediction service failed to start")
	case !s.proc.IsAlive():
		err = fmt.Errorf("%w: process exited immediately", process.ErrSpawnFailed)
		s.lastErr = err
		s.setState(StateStopped)
		s.logger.Error().Err(err).Msg("Prediction service failed to start")
	default:
		s.spawns++
		s.lastErr = nil
		s.proxy.MarkFresh()
		s.setState(StateRunning)
		s.logger.Info().Int("pid", s.proc.PID()).Int("spawns", s.spawns).Msg("Prediction service running")
	}

	attempt.err = err
	s.attempt = nil
	close(attempt.done)
}

// handleExit is the process exit callback.
func (s *Supervisor) handleExit(exit process.Exit) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Starting re-checks liveness itself; Stopping is finished by Shutdown.
	if s.state != StateRunning {
		return
	}
	// A notice for a child that was already replaced says nothing about
	// the live one.
	if pid := s.proc.PID(); pid != 0 && pid != exit.PID {
		s.logger.Debug().Int("pid", exit.PID).Int("current_pid", pid).Msg("Ignoring exit of replaced process")
		return
	}
	s.setState(StateStopped)
	if !exit.Expected {
		s.logger.Warn().
			Int("pid", exit.PID).
			Int("exit_code", exit.Code).
			Dur("uptime", exit.Uptime).
			Msg("Prediction service exited, will respawn on next request")
	}
}

// Dispatch runs req against the live service and falls back to the snapshot
// for the same kind when the live attempt fails. It never returns an error;
// the Outcome says which tier answered. The whole dispatch, start-up
// included, is bounded by timeout and by ctx.
func (s *Supervisor) Dispatch(ctx context.Context, req models.RequestKind, timeout time.Duration) models.Outcome {
	start := time.Now()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	outcome := s.dispatch(ctx, req, timeout)

	metrics.RecordDispatch(req.Kind.String(), outcome.Status.String(), time.Since(start))
	event := logging.Ctx(ctx).Debug()
	if outcome.Status != models.OutcomeSuccess {
		event = logging.Ctx(ctx).Warn().AnErr("cause", outcome.Cause).Str("reason", outcome.Reason)
	}
	event.Str("request", req.String()).
		Str("outcome", outcome.Status.String()).
		Dur("elapsed", time.Since(start)).
		Msg("Dispatch complete")
	return outcome
}

func (s *Supervisor) dispatch(ctx context.Context, req models.RequestKind, timeout time.Duration) models.Outcome {
	if err := s.Ensure(ctx); err != nil {
		return s.degrade(req, err)
	}

	resp, err := s.proxy.Call(ctx, req, timeout)
	if err != nil {
		return s.degrade(req, err)
	}
	return models.Success(resp.Body, resp.ContentType)
}

// degrade turns a failed live attempt into Degraded or Unavailable.
func (s *Supervisor) degrade(req models.RequestKind, cause error) models.Outcome {
	reason := reasonFor(cause)

	entry, err := s.fallback.Load(req)
	if err != nil {
		switch {
		case errors.Is(err, fallback.ErrCorrupt):
			reason += "; snapshot is unusable"
		default:
			reason += "; no snapshot available"
		}
		return models.Unavailable(reason, errors.Join(cause, err))
	}
	return models.Degraded(entry.Payload, entry.ContentType, reason, entry.LoadedAt, cause)
}

// Shutdown stops the process and waits, bounded, for confirmed exit. After
// Shutdown, Ensure fails with ErrShutdown. Calling it again waits for the
// first call to finish.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()
	}

	for {
		s.mu.Lock()
		s.closed = true

		switch s.state {
		case StateStarting:
			attempt := s.attempt
			s.mu.Unlock()
			select {
			case <-attempt.done:
				continue
			case <-ctx.Done():
				return fmt.Errorf("waiting for in-flight start: %w", ctx.Err())
			}

		case StateStopping:
			stopped := s.stopped
			s.mu.Unlock()
			select {
			case <-stopped:
				return nil
			case <-ctx.Done():
				return fmt.Errorf("waiting for stop: %w", ctx.Err())
			}

		case StateStopped:
			s.mu.Unlock()
			if s.proc.IsAlive() {
				// Exit raced with a failed start; make sure nothing is left.
				return s.proc.Stop(ctx)
			}
			return nil

		default:
			stopped := make(chan struct{})
			s.stopped = stopped
			s.setState(StateStopping)
			s.mu.Unlock()

			s.logger.Info().Msg("Stopping prediction service")
			err := s.proc.Stop(ctx)

			s.mu.Lock()
			s.setState(StateStopped)
			s.stopped = nil
			close(stopped)
			s.mu.Unlock()

			if err != nil {
				s.logger.Error().Err(err).Msg("Prediction service did not stop cleanly")
				return err
			}
			s.logger.Info().Msg("Prediction service stopped")
			return nil
		}
	}
}

// Status is a snapshot of the supervisor for the status endpoint.
type Status struct {
	State        string     `json:"state"`
	PID          int        `json:"pid,omitempty"`
	Alive        bool       `json:"alive"`
	Warm         bool       `json:"warm"`
	Breaker      string     `json:"circuit_breaker"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	LastExitCode *int       `json:"last_exit_code,omitempty"`
	LastExitAt   *time.Time `json:"last_exit_at,omitempty"`
	Spawns       int        `json:"spawns"`
	LastError    string     `json:"last_error,omitempty"`
}

// Status reports the current state without side effects.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	st := Status{
		State:  s.state.String(),
		Spawns: s.spawns,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	s.mu.Unlock()

	info := s.proc.Info()
	st.PID = info.PID
	st.Alive = info.Alive
	st.StartedAt = info.StartedAt
	st.LastExitCode = info.LastExitCode
	st.LastExitAt = info.LastExitAt
	st.Warm = info.Alive && s.proxy.IsWarm()
	st.Breaker = s.proxy.BreakerState()
	return st
}
