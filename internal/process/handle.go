// Predictd - Prediction Service Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/predictd

// Package process owns a single child process: spawn, liveness, termination
// and exit code capture. It knows nothing about what the child does; readiness
// of the child's listening socket is the proxy's concern.
package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/predictd/internal/logging"
	"github.com/tomtom215/predictd/internal/metrics"
)

var (
	// ErrSpawnFailed wraps every failure to launch the child (missing binary,
	// missing script, exec error).
	ErrSpawnFailed = errors.New("process: spawn failed")

	// ErrAlreadyRunning is returned by Spawn when a child is alive.
	ErrAlreadyRunning = errors.New("process: already running")

	// ErrStopTimeout is returned by Stop when the child survived SIGKILL.
	ErrStopTimeout = errors.New("process: did not exit after kill")
)

const (
	defaultKillWait = 5 * time.Second
	outputWaitDelay = 2 * time.Second
)

// Config describes the child to run. All values come from configuration,
// never from request input.
type Config struct {
	// Name labels log lines, e.g. "prediction-service".
	Name    string
	Command string
	Args    []string
	Dir     string

	// Env is appended to the parent environment.
	Env []string

	// RequiredFiles must exist before exec is attempted. Relative paths are
	// resolved against Dir.
	RequiredFiles []string

	// StopGracePeriod is the delay between SIGTERM and SIGKILL.
	StopGracePeriod time.Duration

	// KillWait bounds the wait for exit after SIGKILL. Defaults to 5s.
	KillWait time.Duration
}

// Exit describes one observed termination of the child.
type Exit struct {
	PID      int           `json:"pid"`
	Code     int           `json:"code"` // -1 when killed by a signal
	Err      error         `json:"-"`
	At       time.Time     `json:"at"`
	Uptime   time.Duration `json:"uptime"`
	Expected bool          `json:"expected"` // true when Stop requested it
}

// Info is a point-in-time copy of the process record.
type Info struct {
	PID          int        `json:"pid,omitempty"`
	Alive        bool       `json:"alive"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	LastExitCode *int       `json:"last_exit_code,omitempty"`
	LastExitAt   *time.Time `json:"last_exit_at,omitempty"`
}

// Handle owns at most one running child at a time.
type Handle struct {
	cfg    Config
	logger zerolog.Logger

	mu        sync.Mutex
	cmd       *exec.Cmd
	pid       int
	alive     bool
	stopping  bool
	startedAt time.Time
	lastExit  *Exit
	done      chan struct{} // closed once the current child is reaped
	onExit    func(Exit)
}

// New creates a handle. Nothing is spawned until Start.
func New(cfg Config) *Handle {
	if cfg.KillWait <= 0 {
		cfg.KillWait = defaultKillWait
	}
	if cfg.Name == "" {
		cfg.Name = filepath.Base(cfg.Command)
	}
	closed := make(chan struct{})
	close(closed)
	return &Handle{
		cfg:    cfg,
		logger: logging.WithComponent("process").With().Str("process", cfg.Name).Logger(),
		done:   closed,
	}
}

// OnExit registers fn to be called, outside any lock, every time a child is
// reaped. Only one callback is kept.
func (h *Handle) OnExit(fn func(Exit)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onExit = fn
}

// Start launches the child unless one is already alive, in which case it
// succeeds without doing anything.
func (h *Handle) Start() error {
	if err := h.Spawn(); err != nil && !errors.Is(err, ErrAlreadyRunning) {
		return err
	}
	return nil
}

// Spawn launches the child, failing with ErrAlreadyRunning if one is alive.
// It returns once the OS process exists; it does not wait for readiness.
func (h *Handle) Spawn() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.alive {
		return ErrAlreadyRunning
	}

	if err := h.checkRequiredFiles(); err != nil {
		metrics.ProcessSpawns.WithLabelValues("failure").Inc()
		return err
	}

	cmd := exec.Command(h.cfg.Command, h.cfg.Args...) //nolint:gosec // command comes from configuration
	cmd.Dir = h.cfg.Dir
	cmd.Env = append(os.Environ(), h.cfg.Env...)

	stdout := newLineWriter(h.logger.With().Str("stream", "stdout").Logger())
	stderr := newLineWriter(h.logger.With().Str("stream", "stderr").Logger())
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// A grandchild that inherited the pipes must not hold up the reap.
	cmd.WaitDelay = outputWaitDelay

	if err := cmd.Start(); err != nil {
		metrics.ProcessSpawns.WithLabelValues("failure").Inc()
		h.logger.Error().Err(err).Str("command", h.cfg.Command).Msg("Failed to spawn process")
		return fmt.Errorf("%w: %w", ErrSpawnFailed, err)
	}

	done := make(chan struct{})
	h.cmd = cmd
	h.pid = cmd.Process.Pid
	h.alive = true
	h.stopping = false
	h.startedAt = time.Now()
	h.done = done
	metrics.ProcessSpawns.WithLabelValues("success").Inc()

	go h.reap(cmd, h.startedAt, done, stdout, stderr)

	h.logger.Info().
		Int("pid", h.pid).
		Str("command", h.cfg.Command).
		Strs("args", h.cfg.Args).
		Msg("Process started")
	return nil
}

func (h *Handle) checkRequiredFiles() error {
	for _, f := range h.cfg.RequiredFiles {
		path := f
		if !filepath.IsAbs(path) && h.cfg.Dir != "" {
			path = filepath.Join(h.cfg.Dir, path)
		}
		if _, err := os.Stat(path); err != nil {
			h.logger.Error().Err(err).Str("path", path).Msg("Required file missing, not spawning")
			return fmt.Errorf("%w: %w", ErrSpawnFailed, err)
		}
	}
	return nil
}

// reap waits for the child, records the exit and fires the callback.
func (h *Handle) reap(cmd *exec.Cmd, startedAt time.Time, done chan struct{}, outputs ...*lineWriter) {
	waitErr := cmd.Wait()
	for _, w := range outputs {
		w.Flush()
	}

	exit := Exit{
		PID:    cmd.Process.Pid,
		Code:   -1,
		Err:    waitErr,
		At:     time.Now(),
		Uptime: time.Since(startedAt),
	}
	if cmd.ProcessState != nil {
		exit.Code = cmd.ProcessState.ExitCode()
	}

	h.mu.Lock()
	exit.Expected = h.stopping
	if h.cmd == cmd {
		h.cmd = nil
		h.pid = 0
		h.alive = false
		h.stopping = false
	}
	h.lastExit = &exit
	close(done)
	onExit := h.onExit
	h.mu.Unlock()

	metrics.ProcessExits.Inc()
	event := h.logger.Warn()
	if exit.Expected {
		event = h.logger.Info()
	}
	event.Int("pid", exit.PID).
		Int("exit_code", exit.Code).
		Dur("uptime", exit.Uptime).
		Bool("expected", exit.Expected).
		Msg("Process exited")

	if onExit != nil {
		onExit(exit)
	}
}

// IsAlive reports whether a child has been spawned and not yet reaped.
func (h *Handle) IsAlive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.alive
}

// PID returns the live child's pid, or 0.
func (h *Handle) PID() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pid
}

// Done returns a channel closed when the current child has been reaped.
// With no child it returns an already closed channel.
func (h *Handle) Done() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.done
}

// Info returns a copy of the process record.
func (h *Handle) Info() Info {
	h.mu.Lock()
	defer h.mu.Unlock()

	info := Info{PID: h.pid, Alive: h.alive}
	if h.alive {
		started := h.startedAt
		info.StartedAt = &started
	}
	if h.lastExit != nil {
		code, at := h.lastExit.Code, h.lastExit.At
		info.LastExitCode = &code
		info.LastExitAt = &at
	}
	return info
}

// Stop asks the child to terminate with SIGTERM, escalates to SIGKILL after
// the grace period, and waits for the child to be reaped. It is idempotent
// and returns nil when no child is alive. ctx bounds the whole operation.
func (h *Handle) Stop(ctx context.Context) error {
	h.mu.Lock()
	if !h.alive || h.cmd == nil {
		h.mu.Unlock()
		return nil
	}
	proc := h.cmd.Process
	done := h.done
	h.stopping = true
	h.mu.Unlock()

	logger := h.logger.With().Int("pid", proc.Pid).Logger()

	if err := proc.Signal(syscall.SIGTERM); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return waitDone(done, h.cfg.KillWait)
		}
		// No SIGTERM support (Windows) or signal failure: go straight to kill.
		logger.Warn().Err(err).Msg("SIGTERM failed, killing process")
		return h.kill(proc, done, logger)
	}
	logger.Info().Dur("grace_period", h.cfg.StopGracePeriod).Msg("Sent SIGTERM")

	grace := time.NewTimer(h.cfg.StopGracePeriod)
	defer grace.Stop()

	select {
	case <-done:
		return nil
	case <-grace.C:
		logger.Warn().Msg("Process did not exit within grace period, force killing")
	case <-ctx.Done():
		logger.Warn().Err(ctx.Err()).Msg("Stop deadline reached before grace period, force killing")
	}
	return h.kill(proc, done, logger)
}

//nolint:gocritic // zerolog.Logger is designed to be passed by value
func (h *Handle) kill(proc *os.Process, done <-chan struct{}, logger zerolog.Logger) error {
	if err := proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		logger.Error().Err(err).Msg("Kill failed")
	}
	if err := waitDone(done, h.cfg.KillWait); err != nil {
		logger.Error().Err(err).Msg("Process still alive after kill")
		return err
	}
	return nil
}

// waitDone waits for the reap after SIGKILL, bounded by killWait rather than
// by the caller's context.
func waitDone(done <-chan struct{}, killWait time.Duration) error {
	timer := time.NewTimer(killWait)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}
