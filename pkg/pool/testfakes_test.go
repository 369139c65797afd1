package pool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vitrinehq/vitrine/pkg/probe"
	"github.com/vitrinehq/vitrine/pkg/renderer"
	"github.com/vitrinehq/vitrine/pkg/types"
)

// fakeSession implements renderer.Session for pool tests
type fakeSession struct {
	mu            sync.Mutex
	connected     bool
	closed        bool
	killed        bool
	pages         []renderer.Page
	pagesErr      error
	evalErr       error
	navErr        error
	navigations   []string
	closeErr      error
	notifications chan renderer.Notification
	profileDir    string
}

func newFakeSession(profileDir string) *fakeSession {
	return &fakeSession{
		connected:     true,
		pages:         []renderer.Page{{ID: "page-1", URL: "about:blank"}},
		notifications: make(chan renderer.Notification, 4),
		profileDir:    profileDir,
	}
}

func (s *fakeSession) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *fakeSession) Pages(ctx context.Context) ([]renderer.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pagesErr != nil {
		return nil, s.pagesErr
	}
	pages := make([]renderer.Page, len(s.pages))
	copy(pages, s.pages)
	return pages, nil
}

func (s *fakeSession) Evaluate(ctx context.Context, pageID, expression string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.evalErr != nil {
		return "", s.evalErr
	}
	return "2", nil
}

func (s *fakeSession) Navigate(ctx context.Context, pageID, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.navErr != nil {
		return s.navErr
	}
	s.navigations = append(s.navigations, url)
	return nil
}

func (s *fakeSession) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.closeErr
	}
	s.closed = true
	s.connected = false
	s.notifications <- renderer.Notification{Kind: renderer.NotifyDisconnected}
	close(s.notifications)
	return s.closeErr
}

func (s *fakeSession) Kill() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.killed = true
	if !s.closed {
		s.closed = true
		s.connected = false
		s.notifications <- renderer.Notification{Kind: renderer.NotifyDisconnected}
		close(s.notifications)
	}
	return nil
}

func (s *fakeSession) Notifications() <-chan renderer.Notification {
	return s.notifications
}

func (s *fakeSession) ProfileDir() string { return s.profileDir }

func (s *fakeSession) PID() int { return 4242 }

// crash simulates the renderer process dying underneath the pool
func (s *fakeSession) crash() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.connected = false
	s.notifications <- renderer.Notification{
		Kind: renderer.NotifyDisconnected,
		Err:  errors.New("renderer process exited"),
	}
	close(s.notifications)
}

func (s *fakeSession) setEvalErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evalErr = err
}

func (s *fakeSession) setNavErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.navErr = err
}

func (s *fakeSession) wasClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSession) navigatedTo() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	urls := make([]string, len(s.navigations))
	copy(urls, s.navigations)
	return urls
}

// fakeLauncher implements renderer.Launcher. Launches can be delayed or
// made to fail a set number of times per device.
type fakeLauncher struct {
	mu       sync.Mutex
	sessions map[string][]*fakeSession
	failures map[string]int // remaining launch failures per device
	failErr  error
	delay    time.Duration
	launches int // every Launch call, including failed ones
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{
		sessions: make(map[string][]*fakeSession),
		failures: make(map[string]int),
		failErr:  errors.New("no display server"),
	}
}

func (l *fakeLauncher) Launch(ctx context.Context, spec renderer.LaunchSpec) (renderer.Session, error) {
	l.mu.Lock()
	delay := l.delay
	l.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.launches++
	address := spec.Device.Address
	if l.failures[address] > 0 {
		l.failures[address]--
		return nil, l.failErr
	}

	session := newFakeSession("/tmp/vitrine-test/" + address)
	l.sessions[address] = append(l.sessions[address], session)
	return session, nil
}

func (l *fakeLauncher) ProfileDir(device *types.Device) string {
	// Empty disables the orphan sweep; tests have no real processes
	return ""
}

func (l *fakeLauncher) current(address string) *fakeSession {
	l.mu.Lock()
	defer l.mu.Unlock()
	sessions := l.sessions[address]
	if len(sessions) == 0 {
		return nil
	}
	return sessions[len(sessions)-1]
}

func (l *fakeLauncher) count(address string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sessions[address])
}

func (l *fakeLauncher) setFailures(address string, n int, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures[address] = n
	if err != nil {
		l.failErr = err
	}
}

func (l *fakeLauncher) setDelay(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.delay = d
}

func (l *fakeLauncher) totalLaunches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launches
}

// fakeProber implements Prober with scriptable per-device health
type fakeProber struct {
	mu      sync.Mutex
	healthy map[string]bool
}

func newFakeProber() *fakeProber {
	return &fakeProber{healthy: make(map[string]bool)}
}

func (f *fakeProber) Check(ctx context.Context, address string) probe.Result {
	f.mu.Lock()
	defer f.mu.Unlock()

	if healthy, ok := f.healthy[address]; !ok || healthy {
		return probe.Result{Healthy: true, Message: "ok", CheckedAt: time.Now()}
	}
	return probe.Result{
		Healthy:   false,
		Class:     probe.ClassRefused,
		Message:   "connection refused",
		CheckedAt: time.Now(),
	}
}

func (f *fakeProber) set(address string, healthy bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthy[address] = healthy
}

func testDevice(address string) *types.Device {
	return &types.Device{
		Address: address,
		Name:    "screen-" + address,
		Display: &types.DisplayGeometry{Width: 1920, Height: 1080},
	}
}

// testOptions returns options with tight timings so recovery paths run
// in milliseconds
func testOptions(devices ...*types.Device) Options {
	return Options{
		Devices:                devices,
		IdlePage:               "http://127.0.0.1:9900/idle",
		ReachabilityInterval:   200 * time.Millisecond,
		ProbeTimeout:           50 * time.Millisecond,
		FailureThreshold:       1,
		ResponsivenessInterval: 50 * time.Millisecond,
		SessionProbeTimeout:    50 * time.Millisecond,
		MaxRecoveryAttempts:    3,
		Backoff:                NewSchedule([]time.Duration{time.Millisecond}, time.Millisecond),
		WaiterTimeout:          2 * time.Second,
		CloseTimeout:           100 * time.Millisecond,
		SettleDelay:            time.Millisecond,
		LaunchRetryDelay:       time.Millisecond,
		MaxCastErrors:          5,
		MaxCastInactivity:      time.Minute,
	}
}

func newTestPool(t *testing.T, opts Options) (*Pool, *fakeLauncher, *fakeProber) {
	t.Helper()

	launcher := newFakeLauncher()
	prober := newFakeProber()
	p, err := New(opts, launcher, prober, nil, nil)
	if err != nil {
		t.Fatalf("failed to create pool: %v", err)
	}
	return p, launcher, prober
}

// waitFor polls cond until it holds or the timeout expires
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}
