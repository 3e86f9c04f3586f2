// Predictd - Prediction Service Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/predictd

package predictor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/predictd/internal/fallback"
	"github.com/tomtom215/predictd/internal/models"
	"github.com/tomtom215/predictd/internal/process"
	"github.com/tomtom215/predictd/internal/proxy"
)

// fakeProcess stands in for process.Handle.
type fakeProcess struct {
	spawnDelay time.Duration
	spawns     atomic.Int32
	stops      atomic.Int32

	mu       sync.Mutex
	spawnErr error
	alive    bool
	pid      int
	onExit   func(process.Exit)
}

func (f *fakeProcess) Spawn() error {
	n := f.spawns.Add(1)
	time.Sleep(f.spawnDelay)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.spawnErr != nil {
		return f.spawnErr
	}
	if f.alive {
		return process.ErrAlreadyRunning
	}
	f.alive = true
	f.pid = 1000 + int(n)
	return nil
}

func (f *fakeProcess) IsAlive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive
}

func (f *fakeProcess) Stop(context.Context) error {
	f.stops.Add(1)
	f.mu.Lock()
	was, pid, cb := f.alive, f.pid, f.onExit
	f.alive, f.pid = false, 0
	f.mu.Unlock()
	if was && cb != nil {
		cb(process.Exit{PID: pid, Code: 0, Expected: true})
	}
	return nil
}

func (f *fakeProcess) OnExit(fn func(process.Exit)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onExit = fn
}

func (f *fakeProcess) PID() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pid
}

func (f *fakeProcess) Info() process.Info {
	f.mu.Lock()
	defer f.mu.Unlock()
	return process.Info{PID: f.pid, Alive: f.alive}
}

func (f *fakeProcess) setSpawnErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spawnErr = err
}

// exitSilently clears the child the way the reaper does but withholds the
// exit notice. It returns the notice so the test can deliver it later.
func (f *fakeProcess) exitSilently(code int) process.Exit {
	f.mu.Lock()
	defer f.mu.Unlock()
	exit := process.Exit{PID: f.pid, Code: code}
	f.alive, f.pid = false, 0
	return exit
}

// notify delivers an exit notice to the registered callback.
func (f *fakeProcess) notify(exit process.Exit) {
	f.mu.Lock()
	cb := f.onExit
	f.mu.Unlock()
	if cb != nil {
		cb(exit)
	}
}

// crash simulates an unexpected exit observed by the reaper.
func (f *fakeProcess) crash(code int) {
	f.mu.Lock()
	pid, cb := f.pid, f.onExit
	f.alive, f.pid = false, 0
	f.mu.Unlock()
	if cb != nil {
		cb(process.Exit{PID: pid, Code: code})
	}
}

// fakeProxy stands in for proxy.Client.
type fakeProxy struct {
	calls  atomic.Int32
	fresh  atomic.Int32
	warm   atomic.Bool
	callFn func(ctx context.Context, req models.RequestKind) (*proxy.Response, error)
}

func (p *fakeProxy) Call(ctx context.Context, req models.RequestKind, timeout time.Duration) (*proxy.Response, error) {
	p.calls.Add(1)
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if p.callFn == nil {
		p.warm.Store(true)
		return &proxy.Response{Status: 200, ContentType: "application/json", Body: []byte(`{}`)}, nil
	}
	resp, err := p.callFn(ctx, req)
	if err == nil {
		p.warm.Store(true)
	}
	return resp, err
}

func (p *fakeProxy) MarkFresh()           { p.fresh.Add(1); p.warm.Store(false) }
func (p *fakeProxy) IsWarm() bool         { return p.warm.Load() }
func (p *fakeProxy) BreakerState() string { return "closed" }

// fakeFallback serves snapshots from a map.
type fakeFallback struct {
	loads   atomic.Int32
	entries map[models.Kind]*fallback.Entry
	errs    map[models.Kind]error
}

func (f *fakeFallback) Load(req models.RequestKind) (*fallback.Entry, error) {
	f.loads.Add(1)
	if err, ok := f.errs[req.Kind]; ok {
		return nil, err
	}
	if e, ok := f.entries[req.Kind]; ok {
		return e, nil
	}
	return nil, fallback.ErrNotFound
}

func snapshot(kind models.Kind, payload string) *fallback.Entry {
	return &fallback.Entry{Kind: kind, Payload: []byte(payload), ContentType: "application/json", LoadedAt: time.Now()}
}

type fixture struct {
	proc *fakeProcess
	px   *fakeProxy
	fb   *fakeFallback
	sup  *Supervisor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		proc: &fakeProcess{},
		px:   &fakeProxy{},
		fb:   &fakeFallback{entries: map[models.Kind]*fallback.Entry{}, errs: map[models.Kind]error{}},
	}
	f.sup = New(f.proc, f.px, f.fb, Config{ShutdownTimeout: 2 * time.Second})
	t.Cleanup(func() { _ = f.sup.Shutdown(context.Background()) })
	return f
}

func blockUntilDone(ctx context.Context, _ models.RequestKind) (*proxy.Response, error) {
	<-ctx.Done()
	return nil, &proxy.Error{Kind: proxy.KindTimeout, Err: ctx.Err()}
}

func TestEnsure_ConcurrentCallersSpawnOnce(t *testing.T) {
	f := newFixture(t)
	f.proc.spawnDelay = 50 * time.Millisecond

	const callers = 50
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			errs <- f.sup.Ensure(context.Background())
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Ensure() error = %v", err)
		}
	}
	if got := f.proc.spawns.Load(); got != 1 {
		t.Errorf("spawns = %d, want 1", got)
	}
	if got := f.px.fresh.Load(); got != 1 {
		t.Errorf("MarkFresh calls = %d, want 1", got)
	}
	if f.sup.State() != StateRunning {
		t.Errorf("State() = %v, want running", f.sup.State())
	}
}

func TestEnsure_SpawnFailureSharedThenRetried(t *testing.T) {
	f := newFixture(t)
	f.proc.spawnDelay = 50 * time.Millisecond
	f.proc.setSpawnErr(fmt.Errorf("%w: python3: not found", process.ErrSpawnFailed))

	var wg sync.WaitGroup
	var failures atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f.sup.Ensure(context.Background()); errors.Is(err, process.ErrSpawnFailed) {
				failures.Add(1)
			}
		}()
	}
	wg.Wait()

	if failures.Load() != 10 {
		t.Errorf("failures = %d, want 10", failures.Load())
	}
	if f.sup.State() != StateStopped {
		t.Errorf("State() = %v, want stopped", f.sup.State())
	}
	if f.sup.Status().LastError == "" {
		t.Error("Status().LastError should record the spawn failure")
	}

	f.proc.setSpawnErr(nil)
	if err := f.sup.Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure() after fix error = %v", err)
	}
	if f.sup.State() != StateRunning {
		t.Errorf("State() = %v, want running", f.sup.State())
	}
}

func TestEnsure_RespawnsAfterExit(t *testing.T) {
	f := newFixture(t)
	if err := f.sup.Ensure(context.Background()); err != nil {
		t.Fatal(err)
	}

	f.proc.crash(1)
	if f.sup.State() != StateStopped {
		t.Fatalf("State() after exit = %v, want stopped", f.sup.State())
	}

	if err := f.sup.Ensure(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := f.proc.spawns.Load(); got != 2 {
		t.Errorf("spawns = %d, want 2", got)
	}
	if got := f.px.fresh.Load(); got != 2 {
		t.Errorf("MarkFresh calls = %d, want 2", got)
	}
}

func TestEnsure_LateExitOfReplacedProcessIgnored(t *testing.T) {
	f := newFixture(t)
	if err := f.sup.Ensure(context.Background()); err != nil {
		t.Fatal(err)
	}

	// The first child is reaped but its notice has not arrived yet.
	late := f.proc.exitSilently(1)
	if err := f.sup.Ensure(context.Background()); err != nil {
		t.Fatal(err)
	}
	replacement := f.proc.PID()
	if replacement == late.PID {
		t.Fatalf("replacement pid = %d, want a new pid", replacement)
	}

	f.proc.notify(late)
	if f.sup.State() != StateRunning {
		t.Fatalf("State() after late exit notice = %v, want running", f.sup.State())
	}

	if err := f.sup.Ensure(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := f.proc.spawns.Load(); got != 2 {
		t.Errorf("spawns = %d, want 2", got)
	}
	if got := f.px.fresh.Load(); got != 2 {
		t.Errorf("MarkFresh calls = %d, want 2", got)
	}
	if got := f.proc.PID(); got != replacement {
		t.Errorf("PID() = %d, want %d", got, replacement)
	}
}

func TestEnsure_WaiterHonoursContext(t *testing.T) {
	f := newFixture(t)
	f.proc.spawnDelay = 500 * time.Millisecond

	go func() { _ = f.sup.Ensure(context.Background()) }()
	waitForState(t, f.sup, StateStarting)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	if err := f.sup.Ensure(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Ensure() error = %v, want DeadlineExceeded", err)
	}
	if time.Since(start) > 300*time.Millisecond {
		t.Error("waiter did not return at its deadline")
	}
}

func TestDispatch_SuccessPassesPayloadThrough(t *testing.T) {
	f := newFixture(t)
	payload := `{"status":"ok","clusters":[{"id":0,"items":["tomato","basil"]}]}`
	f.px.callFn = func(ctx context.Context, req models.RequestKind) (*proxy.Response, error) {
		time.Sleep(20 * time.Millisecond)
		return &proxy.Response{Status: 200, ContentType: "application/json", Body: []byte(payload)}, nil
	}
	f.fb.entries[models.KindAnalyzePatterns] = snapshot(models.KindAnalyzePatterns, `{"stale":true}`)

	out := f.sup.Dispatch(context.Background(), models.AnalyzePatterns(), 5*time.Second)
	if out.Status != models.OutcomeSuccess {
		t.Fatalf("Status = %v, want success (reason %q)", out.Status, out.Reason)
	}
	if string(out.Payload) != payload {
		t.Errorf("Payload = %s, want %s", out.Payload, payload)
	}
	if out.Reason != "" {
		t.Errorf("Reason = %q, want empty", out.Reason)
	}
	if f.fb.loads.Load() != 0 {
		t.Error("snapshot consulted despite live success")
	}
}

func TestDispatch_DegradedOnLiveFailure(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		match error
	}{
		{"connection refused", &proxy.Error{Kind: proxy.KindConnectionRefused}, proxy.ErrConnectionRefused},
		{"timeout", &proxy.Error{Kind: proxy.KindTimeout, Err: context.DeadlineExceeded}, proxy.ErrTimeout},
		{"remote error", &proxy.Error{Kind: proxy.KindRemoteError, Status: 500}, proxy.ErrRemote},
		{"circuit open", &proxy.Error{Kind: proxy.KindCircuitOpen}, proxy.ErrCircuitOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.px.callFn = func(context.Context, models.RequestKind) (*proxy.Response, error) { return nil, tt.err }
			f.fb.entries[models.KindPredictUsage] = snapshot(models.KindPredictUsage, `{"predictions":[]}`)

			out := f.sup.Dispatch(context.Background(), models.PredictUsage(30), time.Second)
			if out.Status != models.OutcomeDegraded {
				t.Fatalf("Status = %v, want degraded", out.Status)
			}
			if string(out.Payload) != `{"predictions":[]}` {
				t.Errorf("Payload = %s", out.Payload)
			}
			if out.Reason == "" {
				t.Error("degraded outcome needs a reason")
			}
			if out.SnapshotAt.IsZero() {
				t.Error("SnapshotAt not set")
			}
			if !errors.Is(out.Cause, tt.match) {
				t.Errorf("Cause = %v, want %v", out.Cause, tt.match)
			}
		})
	}
}

func TestDispatch_UnavailableWithoutSnapshot(t *testing.T) {
	f := newFixture(t)
	f.px.callFn = func(context.Context, models.RequestKind) (*proxy.Response, error) {
		return nil, &proxy.Error{Kind: proxy.KindConnectionRefused}
	}

	out := f.sup.Dispatch(context.Background(), models.ModelMetrics(), time.Second)
	if out.Status != models.OutcomeUnavailable {
		t.Fatalf("Status = %v, want unavailable", out.Status)
	}
	if out.Payload != nil {
		t.Errorf("Payload = %s, want nil", out.Payload)
	}
	if !strings.Contains(out.Reason, "no snapshot") {
		t.Errorf("Reason = %q", out.Reason)
	}
	if !errors.Is(out.Cause, fallback.ErrNotFound) || !errors.Is(out.Cause, proxy.ErrConnectionRefused) {
		t.Errorf("Cause = %v, should join live and snapshot errors", out.Cause)
	}
}

func TestDispatch_CorruptSnapshotIsUnavailable(t *testing.T) {
	f := newFixture(t)
	f.px.callFn = func(context.Context, models.RequestKind) (*proxy.Response, error) {
		return nil, &proxy.Error{Kind: proxy.KindRemoteError, Status: 502}
	}
	f.fb.errs[models.KindBusinessIntelligence] = fmt.Errorf("%w: bad json", fallback.ErrCorrupt)

	out := f.sup.Dispatch(context.Background(), models.BusinessIntelligence(), time.Second)
	if out.Status != models.OutcomeUnavailable {
		t.Fatalf("Status = %v, want unavailable", out.Status)
	}
	if !strings.Contains(out.Reason, "unusable") {
		t.Errorf("Reason = %q", out.Reason)
	}
}

func TestDispatch_SpawnFailureSkipsNetworkCall(t *testing.T) {
	tests := []struct {
		name     string
		snapshot bool
		want     models.OutcomeStatus
	}{
		{"with snapshot", true, models.OutcomeDegraded},
		{"without snapshot", false, models.OutcomeUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.proc.setSpawnErr(fmt.Errorf("%w: exec: \"python3\": not found", process.ErrSpawnFailed))
			if tt.snapshot {
				f.fb.entries[models.KindPredictUsage] = snapshot(models.KindPredictUsage, `{"cached":true}`)
			}

			out := f.sup.Dispatch(context.Background(), models.PredictUsage(30), 2*time.Second)
			if out.Status != tt.want {
				t.Fatalf("Status = %v, want %v", out.Status, tt.want)
			}
			if !strings.Contains(out.Reason, "failed to start") {
				t.Errorf("Reason = %q", out.Reason)
			}
			if !errors.Is(out.Cause, process.ErrSpawnFailed) {
				t.Errorf("Cause = %v, want ErrSpawnFailed", out.Cause)
			}
			if f.px.calls.Load() != 0 {
				t.Error("network call attempted after spawn failure")
			}
		})
	}
}

func TestDispatch_BoundedByTimeout(t *testing.T) {
	f := newFixture(t)
	f.px.callFn = blockUntilDone

	start := time.Now()
	out := f.sup.Dispatch(context.Background(), models.AnalyzePatterns(), 100*time.Millisecond)
	elapsed := time.Since(start)

	if out.Status != models.OutcomeUnavailable {
		t.Fatalf("Status = %v, want unavailable", out.Status)
	}
	if elapsed > 500*time.Millisecond {
		t.Errorf("Dispatch() took %v, want about 100ms", elapsed)
	}
}

func TestDispatch_BoundedBySlowStart(t *testing.T) {
	f := newFixture(t)
	f.proc.spawnDelay = 300 * time.Millisecond

	go func() { _ = f.sup.Ensure(context.Background()) }()
	waitForState(t, f.sup, StateStarting)

	start := time.Now()
	out := f.sup.Dispatch(context.Background(), models.ModelMetrics(), 50*time.Millisecond)
	if out.Status != models.OutcomeUnavailable {
		t.Fatalf("Status = %v, want unavailable", out.Status)
	}
	if !strings.Contains(out.Reason, "deadline exceeded") {
		t.Errorf("Reason = %q", out.Reason)
	}
	if time.Since(start) > 250*time.Millisecond {
		t.Error("Dispatch() waited for the start beyond its timeout")
	}
}

func TestDispatch_CallerDeadline(t *testing.T) {
	f := newFixture(t)
	f.px.callFn = blockUntilDone
	f.fb.entries[models.KindModelMetrics] = snapshot(models.KindModelMetrics, `{"mae":1.2}`)

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()

	start := time.Now()
	out := f.sup.Dispatch(ctx, models.ModelMetrics(), 10*time.Second)
	if out.Status != models.OutcomeDegraded {
		t.Fatalf("Status = %v, want degraded", out.Status)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("caller deadline was not honoured")
	}
}

func TestDispatch_ConcurrentKinds(t *testing.T) {
	f := newFixture(t)
	var inFlight, peak atomic.Int32
	f.px.callFn = func(ctx context.Context, req models.RequestKind) (*proxy.Response, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(100 * time.Millisecond)
		inFlight.Add(-1)
		return &proxy.Response{Status: 200, Body: []byte(`{}`)}, nil
	}

	reqs := []models.RequestKind{models.PredictUsage(7), models.AnalyzePatterns(), models.ModelMetrics(), models.BusinessIntelligence()}
	var wg sync.WaitGroup
	for _, req := range reqs {
		wg.Add(1)
		go func(req models.RequestKind) {
			defer wg.Done()
			if out := f.sup.Dispatch(context.Background(), req, time.Second); out.Status != models.OutcomeSuccess {
				t.Errorf("%s: Status = %v", req, out.Status)
			}
		}(req)
	}
	wg.Wait()

	if peak.Load() < 2 {
		t.Errorf("peak concurrency = %d, live calls were serialized", peak.Load())
	}
	if f.proc.spawns.Load() != 1 {
		t.Errorf("spawns = %d, want 1", f.proc.spawns.Load())
	}
}

func TestShutdown(t *testing.T) {
	f := newFixture(t)
	if err := f.sup.Ensure(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := f.sup.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if f.proc.IsAlive() {
		t.Error("process alive after Shutdown")
	}
	if f.sup.State() != StateStopped {
		t.Errorf("State() = %v, want stopped", f.sup.State())
	}

	if err := f.sup.Ensure(context.Background()); !errors.Is(err, ErrShutdown) {
		t.Errorf("Ensure() after Shutdown error = %v, want ErrShutdown", err)
	}
	out := f.sup.Dispatch(context.Background(), models.AnalyzePatterns(), time.Second)
	if out.Status != models.OutcomeUnavailable || !strings.Contains(out.Reason, "shutting down") {
		t.Errorf("Dispatch() after Shutdown = %v %q", out.Status, out.Reason)
	}
	if f.proc.spawns.Load() != 1 {
		t.Error("Dispatch after Shutdown respawned the process")
	}

	if err := f.sup.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
}

func TestShutdown_WaitsForInFlightStart(t *testing.T) {
	f := newFixture(t)
	f.proc.spawnDelay = 150 * time.Millisecond

	ensured := make(chan error, 1)
	go func() { ensured <- f.sup.Ensure(context.Background()) }()
	waitForState(t, f.sup, StateStarting)

	if err := f.sup.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if f.proc.IsAlive() {
		t.Error("process started during Shutdown was left running")
	}
	if err := <-ensured; err != nil {
		t.Errorf("in-flight Ensure() error = %v", err)
	}
}

func TestShutdown_WhenNeverStarted(t *testing.T) {
	f := newFixture(t)
	if err := f.sup.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if f.proc.stops.Load() != 0 {
		t.Error("Stop called with nothing running")
	}
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	st := f.sup.Status()
	if st.State != "stopped" || st.Alive || st.Spawns != 0 {
		t.Errorf("initial Status() = %+v", st)
	}

	_ = f.sup.Dispatch(context.Background(), models.ModelMetrics(), time.Second)
	st = f.sup.Status()
	if st.State != "running" || !st.Alive || st.PID == 0 || st.Spawns != 1 {
		t.Errorf("Status() = %+v", st)
	}
	if !st.Warm {
		t.Error("Warm should be true after a successful call")
	}
	if st.Breaker != "closed" {
		t.Errorf("Breaker = %q", st.Breaker)
	}
}

func TestStateString(t *testing.T) {
	for state, want := range map[State]string{
		StateStopped:  "stopped",
		StateStarting: "starting",
		StateRunning:  "running",
		StateStopping: "stopping",
		State(42):     "unknown",
	} {
		if state.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", int(state), state.String(), want)
		}
	}
}

func TestReasonFor(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrShutdown, "shutting down"},
		{fmt.Errorf("%w: boom", process.ErrSpawnFailed), "failed to start"},
		{&proxy.Error{Kind: proxy.KindConnectionRefused}, "not accepting connections"},
		{&proxy.Error{Kind: proxy.KindTimeout, Err: context.DeadlineExceeded}, "timed out"},
		{&proxy.Error{Kind: proxy.KindTimeout, Err: context.Canceled}, "cancelled"},
		{&proxy.Error{Kind: proxy.KindRemoteError, Status: 503}, "503 Service Unavailable"},
		{&proxy.Error{Kind: proxy.KindRemoteError, Status: 200}, "invalid response"},
		{&proxy.Error{Kind: proxy.KindCircuitOpen}, "circuit open"},
		{&proxy.Error{Kind: proxy.KindTransport}, "connection failed"},
		{context.DeadlineExceeded, "deadline exceeded"},
		{errors.New("other"), "unavailable"},
	}
	for _, tt := range tests {
		if got := reasonFor(tt.err); !strings.Contains(got, tt.want) {
			t.Errorf("reasonFor(%v) = %q, want it to contain %q", tt.err, got, tt.want)
		}
	}
}

func waitForState(t *testing.T, sup *Supervisor, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sup.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state never reached %v (now %v)", want, sup.State())
}
