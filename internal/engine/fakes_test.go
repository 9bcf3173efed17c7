package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/mediafetch/internal/config"
	"github.com/JakeFAU/mediafetch/internal/download"
)

// manualClock fires timers only when Advance is called.
type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*manualTimer
}

type manualTimer struct {
	clk     *manualClock
	at      time.Time
	seq     int
	f       func()
	stopped bool
	fired   bool
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) download.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &manualTimer{clk: c, at: c.now.Add(d), seq: c.seq, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.clk.mu.Lock()
	defer t.clk.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward, firing due timers in deadline order. Callbacks
// run synchronously on the caller's goroutine.
func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()
	for {
		c.mu.Lock()
		var next *manualTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) || (t.at.Equal(next.at) && t.seq < next.seq) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.fired = true
		c.now = next.at
		c.mu.Unlock()
		next.f()
	}
}

// fakeTransport records dispatches and hands out sequential transport IDs.
type fakeTransport struct {
	mu       sync.Mutex
	seq      int
	requests []download.DispatchRequest
	fail     error
}

func (f *fakeTransport) Dispatch(_ context.Context, req download.DispatchRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.fail != nil {
		return "", f.fail
	}
	f.seq++
	return fmt.Sprintf("t-%d", f.seq), nil
}

func (f *fakeTransport) setFail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = err
}

func (f *fakeTransport) dispatched() []download.DispatchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]download.DispatchRequest(nil), f.requests...)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []download.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, msg download.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
}

func (n *recordingNotifier) all() []download.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]download.Notification(nil), n.sent...)
}

type sequentialIDs struct {
	mu sync.Mutex
	n  int
}

func (s *sequentialIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("job-%02d", s.n), nil
}

type memoryConfigStore struct {
	mu    sync.Mutex
	saved []config.Settings
	err   error
}

func (s *memoryConfigStore) Save(settings config.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, settings)
	return nil
}

type harness struct {
	engine    *Engine
	clock     *manualClock
	transport *fakeTransport
	notifier  *recordingNotifier
	configs   *memoryConfigStore
}

func defaultSettings() config.Settings {
	return config.Settings{
		MaxConcurrent: 2,
		MaxAttempts:   3,
		RetryDelay:    time.Second,
		AutoRetry:     true,
		Notifications: true,
		DownloadPath:  "downloads",
	}
}

func newHarness(t *testing.T, settings config.Settings, logger *zap.Logger) *harness {
	t.Helper()

	h := &harness{
		clock:     newManualClock(),
		transport: &fakeTransport{},
		notifier:  &recordingNotifier{},
		configs:   &memoryConfigStore{},
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	eng, err := New(Options{
		Settings:    settings,
		GC:          config.GCConfig{FastDelay: 5 * time.Minute, SweepInterval: time.Hour, Retention: 24 * time.Hour},
		Transport:   h.transport,
		Notifier:    h.notifier,
		ConfigStore: h.configs,
		Clock:       h.clock,
		IDs:         &sequentialIDs{},
		Logger:      logger,
	})
	require.NoError(t, err)
	h.engine = eng

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = eng.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-eng.Done()
	})
	h.status(t)
	return h
}

func (h *harness) submit(t *testing.T, rawURL string) string {
	t.Helper()
	id, err := h.engine.Submit(context.Background(), rawURL, download.Origin{}, download.Overrides{})
	require.NoError(t, err)
	return id
}

func (h *harness) job(t *testing.T, id string) download.Job {
	t.Helper()
	job, err := h.engine.Job(context.Background(), id)
	require.NoError(t, err)
	return job
}

func (h *harness) signal(t *testing.T, transportID string, outcome download.Outcome) {
	t.Helper()
	sig := download.Signal{TransportID: transportID, Outcome: outcome}
	if outcome == download.OutcomeInterrupted {
		sig.Err = fmt.Errorf("NETWORK_FAILED")
	}
	require.NoError(t, h.engine.Signal(context.Background(), sig))
}

func (h *harness) status(t *testing.T) download.Snapshot {
	t.Helper()
	snap, err := h.engine.Status(context.Background())
	require.NoError(t, err)
	return snap
}

// requireConsistent checks that the governor's active count matches the
// number of active records and never exceeds the limit.
func (h *harness) requireConsistent(t *testing.T, limit int) {
	t.Helper()
	snap := h.status(t)
	active := 0
	for _, j := range snap.Jobs {
		if j.Status == download.StatusActive {
			active++
		}
	}
	require.Equal(t, active, snap.Active)
	require.LessOrEqual(t, snap.Active, limit)
}

// advance moves the clock in steps, letting the loop settle after each one so
// timers re-armed by handlers are observed deterministically.
func (h *harness) advance(t *testing.T, total, step time.Duration) {
	t.Helper()
	for total > 0 {
		d := min(step, total)
		h.clock.Advance(d)
		h.status(t)
		total -= d
	}
}
