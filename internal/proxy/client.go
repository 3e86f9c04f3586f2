// Predictd - Prediction Service Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/predictd

// Package proxy forwards requests to the prediction service over loopback
// HTTP with a hard per-call deadline and classifies every failure.
//
// After the supervisor spawns the service it calls MarkFresh. The next calls
// first wait for the listening socket, retrying with bounded constant backoff;
// once one call has succeeded the client is warm and never retries again.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/predictd/internal/logging"
	"github.com/tomtom215/predictd/internal/metrics"
	"github.com/tomtom215/predictd/internal/models"
)

// Config configures a Client.
type Config struct {
	// BaseURL of the prediction service, e.g. http://127.0.0.1:5000.
	BaseURL string

	// WarmupAttempts is the total number of readiness checks after a fresh
	// start, WarmupBackoff the fixed delay between them.
	WarmupAttempts int
	WarmupBackoff  time.Duration

	// MaxResponseBytes caps the body read from the service.
	MaxResponseBytes int64

	Breaker BreakerConfig

	// HTTPClient overrides the default loopback client (tests).
	HTTPClient *http.Client
}

// Response is a successful live answer, passed through unmodified.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

// Client talks to one prediction service instance.
type Client struct {
	cfg     Config
	baseURL string
	addr    string
	http    *http.Client
	dialer  *net.Dialer

	fresh   atomic.Bool
	breaker atomic.Pointer[gobreaker.CircuitBreaker[*Response]]
}

// New validates cfg and returns a client. The client starts warm: with no
// MarkFresh call it never checks readiness.
func New(cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	if u.Scheme != "http" || u.Host == "" {
		return nil, fmt.Errorf("base URL must be http://host:port, got %q", cfg.BaseURL)
	}
	if cfg.WarmupAttempts < 1 {
		cfg.WarmupAttempts = 1
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = 32 << 20
	}

	addr := u.Host
	if u.Port() == "" {
		addr = net.JoinHostPort(u.Hostname(), "80")
	}

	c := &Client{
		cfg:     cfg,
		baseURL: u.String(),
		addr:    addr,
		http:    cfg.HTTPClient,
		dialer:  &net.Dialer{Timeout: 2 * time.Second},
	}
	if c.http == nil {
		c.http = &http.Client{
			Transport: &http.Transport{
				Proxy:               nil, // loopback only, ignore HTTP_PROXY
				DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
				MaxIdleConns:        16,
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	if cfg.Breaker.Enabled {
		c.breaker.Store(newBreaker(cfg.Breaker))
	}
	return c, nil
}

// MarkFresh arms the warm-up policy for a service that was just spawned and
// resets the breaker.
func (c *Client) MarkFresh() {
	c.fresh.Store(true)
	if c.cfg.Breaker.Enabled {
		c.breaker.Store(newBreaker(c.cfg.Breaker))
	}
}

// IsWarm reports whether the service has answered successfully since the
// last MarkFresh.
func (c *Client) IsWarm() bool {
	return !c.fresh.Load()
}

// BreakerState returns the breaker state name, "disabled" without one.
func (c *Client) BreakerState() string {
	if cb := c.breaker.Load(); cb != nil {
		return stateToString(cb.State())
	}
	return "disabled"
}

// Call issues req and returns the remote payload unmodified. The call
// returns no later than timeout after it starts, warm-up included; on expiry
// the in-flight request is cancelled. A non-positive timeout leaves the
// caller's ctx as the only bound.
func (c *Client) Call(ctx context.Context, req models.RequestKind, timeout time.Duration) (*Response, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	name := req.String()
	kind := req.Kind.String()
	start := time.Now()

	resp, err := c.call(ctx, req, name)

	errorClass := ""
	if err != nil {
		errorClass = KindOf(err).String()
	}
	metrics.RecordProxyCall(kind, errorClass, time.Since(start))
	if err != nil {
		logging.Ctx(ctx).Debug().Err(err).Str("request", name).Dur("elapsed", time.Since(start)).Msg("Live call failed")
		return nil, err
	}

	if c.fresh.CompareAndSwap(true, false) {
		logging.Ctx(ctx).Info().Str("request", name).Msg("Prediction service answered, warm-up complete")
	}
	return resp, nil
}

func (c *Client) call(ctx context.Context, req models.RequestKind, name string) (*Response, error) {
	rt, err := routeFor(req)
	if err != nil {
		return nil, &Error{Kind: KindRemoteError, Request: name, Err: err}
	}

	if c.fresh.Load() {
		if err := c.waitReady(ctx, name); err != nil {
			return nil, err
		}
	}

	do := func() (*Response, error) { return c.do(ctx, rt, req, name) }
	if cb := c.breaker.Load(); cb != nil {
		return execute(cb, name, do)
	}
	return do()
}

// waitReady dials the listening socket with constant backoff, at most
// WarmupAttempts times, bounded by ctx.
func (c *Client) waitReady(ctx context.Context, name string) error {
	attempts := 0
	check := func() error {
		attempts++
		metrics.ProxyWarmupAttempts.Inc()
		return c.Ready(ctx)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.cfg.WarmupBackoff), uint64(c.cfg.WarmupAttempts-1)),
		ctx,
	)
	err := backoff.RetryNotify(check, policy, func(err error, next time.Duration) {
		logging.Ctx(ctx).Debug().Err(err).Int("attempt", attempts).Dur("next", next).Msg("Prediction service not listening yet")
	})
	if err == nil {
		return nil
	}

	if ctx.Err() != nil {
		return &Error{Kind: KindTimeout, Request: name, Err: ctx.Err()}
	}
	logging.Ctx(ctx).Warn().Err(err).Int("attempts", attempts).Msg("Prediction service did not come up during warm-up")
	return &Error{Kind: KindConnectionRefused, Request: name, Err: fmt.Errorf("not listening after %d attempts: %w", attempts, err)}
}

// Ready is the readiness check: it succeeds once something accepts TCP
// connections on the service address.
func (c *Client) Ready(ctx context.Context) error {
	conn, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

func (c *Client) do(ctx context.Context, rt route, req models.RequestKind, name string) (*Response, error) {
	httpReq, err := rt.newRequest(ctx, c.baseURL)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Request: name, Err: err}
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, classify(ctx, name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxResponseBytes+1))
	if err != nil {
		return nil, classify(ctx, name, err)
	}
	if int64(len(body)) > c.cfg.MaxResponseBytes {
		return nil, &Error{Kind: KindTransport, Request: name, Err: fmt.Errorf("response exceeds %d bytes", c.cfg.MaxResponseBytes)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{Kind: KindRemoteError, Request: name, Status: resp.StatusCode, Body: truncate(body, maxErrorBody)}
	}

	// Everything except plots is JSON and is embedded verbatim in our own
	// JSON envelope, so it has to be valid.
	if req.Kind != models.KindPlot && !json.Valid(body) {
		return nil, &Error{
			Kind:    KindRemoteError,
			Request: name,
			Status:  resp.StatusCode,
			Body:    truncate(body, maxErrorBody),
			Err:     errors.New("response is not valid JSON"),
		}
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = defaultContentType(req.Kind)
	}
	return &Response{Status: resp.StatusCode, ContentType: contentType, Body: body}, nil
}

func defaultContentType(kind models.Kind) string {
	if kind == models.KindPlot {
		return "image/png"
	}
	return "application/json"
}
