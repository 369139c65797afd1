package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vitrinehq/vitrine/pkg/events"
	"github.com/vitrinehq/vitrine/pkg/log"
	"github.com/vitrinehq/vitrine/pkg/probe"
	"github.com/vitrinehq/vitrine/pkg/renderer"
	"github.com/vitrinehq/vitrine/pkg/storage"
	"github.com/vitrinehq/vitrine/pkg/types"
)

var (
	// ErrUnknownDevice means the address is not in the pool
	ErrUnknownDevice = errors.New("pool: unknown device")

	// ErrNoIdleDevice means no device is currently acquirable
	ErrNoIdleDevice = errors.New("pool: no idle device available")

	// ErrDeviceBusy means the requested device is not idle
	ErrDeviceBusy = errors.New("pool: device is not idle")

	// ErrNotActive means the device has no cast to release
	ErrNotActive = errors.New("pool: device has no active cast")
)

// Options configures a pool
type Options struct {
	// Devices is the fixed set of capture endpoints (required)
	Devices []*types.Device

	// IdlePage is the URL parked sessions display
	IdlePage string

	// StartMinimized launches idle sessions off-screen instead of on the
	// device's display region
	StartMinimized bool

	// Reachability probing
	ReachabilityInterval time.Duration // default 15s
	ProbeTimeout         time.Duration // default 3s
	FailureThreshold     int           // consecutive failures before unhealthy, default 2

	// Responsiveness probing
	ResponsivenessInterval time.Duration // default 4h
	SessionProbeTimeout    time.Duration // default 5s

	// Recovery
	MaxRecoveryAttempts   int           // per epoch, default 3
	Backoff               Schedule      // default 1s, 5s, 15s then 30s
	WaiterTimeout         time.Duration // bound on waiting for another caller's run, default 60s
	CloseTimeout          time.Duration // graceful close bound, default 10s
	SettleDelay           time.Duration // pause between teardown and relaunch, default 2s
	LaunchRetryDelay      time.Duration // inner retry delay for transient launch failures, default 3s
	RecoveryRetryInterval time.Duration // 0 leaves retries to the responsiveness cycle

	// Cast limits swept by the monitor
	MaxCastErrors     int           // default 5
	MaxCastInactivity time.Duration // default 60s

	// PreventiveRestarts recycles idle sessions after a recovery while no
	// casts are running
	PreventiveRestarts bool
}

func (o *Options) normalize() error {
	if len(o.Devices) == 0 {
		return errors.New("pool: at least one device is required")
	}
	if o.ReachabilityInterval <= 0 {
		o.ReachabilityInterval = 15 * time.Second
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = 3 * time.Second
	}
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = 2
	}
	if o.ResponsivenessInterval <= 0 {
		o.ResponsivenessInterval = 4 * time.Hour
	}
	if o.SessionProbeTimeout <= 0 {
		o.SessionProbeTimeout = 5 * time.Second
	}
	if o.MaxRecoveryAttempts <= 0 {
		o.MaxRecoveryAttempts = 3
	}
	if o.Backoff.isZero() {
		o.Backoff = DefaultSchedule()
	}
	if o.WaiterTimeout <= 0 {
		o.WaiterTimeout = time.Minute
	}
	if o.CloseTimeout <= 0 {
		o.CloseTimeout = 10 * time.Second
	}
	if o.SettleDelay <= 0 {
		o.SettleDelay = 2 * time.Second
	}
	if o.LaunchRetryDelay <= 0 {
		o.LaunchRetryDelay = 3 * time.Second
	}
	if o.MaxCastErrors <= 0 {
		o.MaxCastErrors = 5
	}
	if o.MaxCastInactivity <= 0 {
		o.MaxCastInactivity = time.Minute
	}
	return nil
}

// CastRequest asks the pool to start a cast
type CastRequest struct {
	// Target is the URL to render (required)
	Target string

	// DeviceAddr pins the cast to one device; empty picks the first idle
	// device in configuration order
	DeviceAddr string

	// SkipHealthCheck excludes the device from responsiveness probes
	// while this cast runs
	SkipHealthCheck bool
}

// Pool owns the device registry and the components that keep sessions
// healthy: the cast tracker, the recovery manager, and the monitor.
type Pool struct {
	opts     Options
	registry *Registry
	tracker  *Tracker
	recovery *Recovery
	monitor  *Monitor
	launcher renderer.Launcher
	broker   *events.Broker
	store    storage.Store
	logger   zerolog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New wires up a pool. The launcher is required. A nil prober gets the
// stock TCP prober; nil broker and store disable events and persistence.
func New(opts Options, launcher renderer.Launcher, prober Prober, broker *events.Broker, store storage.Store) (*Pool, error) {
	if launcher == nil {
		return nil, errors.New("pool: launcher is required")
	}
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	if prober == nil {
		prober = probe.NewProber(opts.ProbeTimeout)
	}

	registry := NewRegistry(opts.Devices)
	tracker := NewTracker(store, broker)
	recovery := NewRecovery(registry, tracker, launcher, broker, store, opts)
	monitor := NewMonitor(registry, tracker, recovery, prober, broker, store, opts)

	p := &Pool{
		opts:     opts,
		registry: registry,
		tracker:  tracker,
		recovery: recovery,
		monitor:  monitor,
		launcher: launcher,
		broker:   broker,
		store:    store,
		logger:   log.WithComponent("pool"),
		stopCh:   make(chan struct{}),
	}
	recovery.onRecovered = p.afterRecovery
	return p, nil
}

// Start brings every device up through the recovery path and launches the
// monitor loops. Initial launches run concurrently; Start does not wait
// for them.
func (p *Pool) Start() {
	p.logger.Info().Int("devices", len(p.opts.Devices)).Msg("Starting pool")

	for _, device := range p.registry.Devices() {
		go p.recovery.Recover(context.Background(), device.Address, "initial launch")
	}
	p.monitor.Start()
}

// Stop shuts the pool down: monitor loops stop, casts abort, and every
// session gets an intentional graceful close. Safe to call more than
// once.
func (p *Pool) Stop() {
	p.stopOnce.Do(p.stop)
}

func (p *Pool) stop() {
	close(p.stopCh)
	p.monitor.Stop()
	p.logger.Info().Msg("Stopping pool")

	var wg sync.WaitGroup
	for _, device := range p.registry.Devices() {
		address := device.Address

		// Mark first so watchers treat the close as intentional
		p.registry.BeginShutdown(address)

		if cast := p.tracker.Stop(address, types.CastOutcomeAborted); cast != nil {
			p.logger.Info().Str("device", address).Str("cast_id", cast.ID).Msg("Aborted cast for shutdown")
		}

		session := p.registry.RemoveSession(address)
		if session == nil {
			continue
		}

		wg.Add(1)
		go func(s renderer.Session) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), p.opts.CloseTimeout)
			defer cancel()
			if err := s.Close(ctx); err != nil {
				p.logger.Warn().Err(err).Msg("Session close failed during shutdown")
			}
		}(session)
	}
	wg.Wait()
}

func (p *Pool) stopped() bool {
	select {
	case <-p.stopCh:
		return true
	default:
		return false
	}
}

// AcquireIdle claims the first idle device in configuration order
func (p *Pool) AcquireIdle() (*types.Device, bool) {
	for _, device := range p.registry.Devices() {
		if p.recovery.InFlight(device.Address) {
			continue
		}
		if p.registry.TryAcquire(device.Address) {
			return device, true
		}
	}
	return nil, false
}

// StartCast acquires a device, registers the cast, and points the session
// at the target. A navigation failure surfaces to the caller immediately;
// the device then goes back through a full recycle in the background so
// the next cast gets a fresh page.
func (p *Pool) StartCast(ctx context.Context, req CastRequest) (*types.Cast, error) {
	if req.Target == "" {
		return nil, errors.New("pool: cast target is required")
	}

	var device *types.Device
	if req.DeviceAddr != "" {
		d, ok := p.registry.Get(req.DeviceAddr)
		if !ok {
			return nil, ErrUnknownDevice
		}
		if p.recovery.InFlight(req.DeviceAddr) || !p.registry.TryAcquire(req.DeviceAddr) {
			return nil, ErrDeviceBusy
		}
		device = d
	} else {
		d, ok := p.AcquireIdle()
		if !ok {
			return nil, ErrNoIdleDevice
		}
		device = d
	}

	cast, err := p.tracker.Start(device.Address, req.Target, req.SkipHealthCheck)
	if err != nil {
		p.registry.MarkIdle(device.Address)
		return nil, err
	}

	session := p.registry.Session(device.Address)
	if session == nil {
		// Idle without a session should not happen; hand the device to
		// recovery and fail the cast
		p.tracker.Stop(device.Address, types.CastOutcomeAborted)
		go p.recovery.Recover(context.Background(), device.Address, "session missing at cast start")
		return nil, fmt.Errorf("pool: device %s has no session", device.Address)
	}

	if err := p.navigate(ctx, session, req.Target); err != nil {
		p.tracker.RecordError(device.Address)
		p.tracker.Stop(device.Address, types.CastOutcomeAborted)
		go func() {
			if p.registry.BeginRecycle(device.Address, types.DeviceStateActive) {
				if recycleErr := p.recycle(context.Background(), device.Address); recycleErr != nil {
					p.logger.Warn().Err(recycleErr).Str("device", device.Address).Msg("Recycle after failed cast start failed")
				}
			}
		}()
		return nil, fmt.Errorf("failed to start cast on %s: %w", device.Address, err)
	}

	p.logger.Info().
		Str("device", device.Address).
		Str("cast_id", cast.ID).
		Str("target", req.Target).
		Msg("Cast running")
	return cast, nil
}

func (p *Pool) navigate(ctx context.Context, session renderer.Session, target string) error {
	pages, err := session.Pages(ctx)
	if err != nil {
		return err
	}
	if len(pages) == 0 {
		return renderer.ErrPageNotFound
	}
	return session.Navigate(ctx, pages[0].ID, target)
}

// RecordActivity freshens the activity timestamp of the device's cast
func (p *Pool) RecordActivity(address string) bool {
	return p.tracker.RecordActivity(address)
}

// RecordError bumps the error counter of the device's cast. The monitor
// recovers the device once the counter crosses the limit.
func (p *Pool) RecordError(address string) (int, bool) {
	return p.tracker.RecordError(address)
}

// Cast returns a copy of the cast running on a device
func (p *Pool) Cast(address string) (*types.Cast, bool) {
	return p.tracker.Get(address)
}

// Devices returns the configured devices in configuration order
func (p *Pool) Devices() []*types.Device {
	return p.registry.Devices()
}

// Status returns a snapshot of every device in the pool
func (p *Pool) Status() types.PoolStatus {
	status := types.PoolStatus{GeneratedAt: time.Now()}

	for _, device := range p.registry.Devices() {
		snap, ok := p.registry.snapshot(device.Address)
		if !ok {
			continue
		}

		// Health not refreshed for three reachability intervals reads
		// as unhealthy
		healthy := snap.health.Healthy && !snap.health.Stale(3*p.opts.ReachabilityInterval)

		ds := types.DeviceStatus{
			Address:             device.Address,
			Name:                device.Name,
			State:               snap.state,
			Healthy:             healthy,
			ConsecutiveFailures: snap.health.ConsecutiveFailures,
			RecoveryAttempts:    p.recovery.Attempts(device.Address),
			SessionPID:          snap.pid,
			LastChecked:         snap.health.CheckedAt,
		}
		if cast, ok := p.tracker.Get(device.Address); ok {
			ds.Cast = &types.CastStatus{
				ID:           cast.ID,
				Target:       cast.Target,
				StartedAt:    cast.StartedAt,
				LastActivity: cast.LastActivity,
				ErrorCount:   cast.ErrorCount,
			}
		}

		switch snap.state {
		case types.DeviceStateIdle:
			status.Idle++
		case types.DeviceStateActive:
			status.Active++
		case types.DeviceStateClosing:
			status.Closing++
		case types.DeviceStateRecovering:
			status.Recovering++
		}
		status.Devices = append(status.Devices, ds)
	}

	status.ActiveCasts = p.tracker.ActiveCount()
	return status
}

// afterRecovery runs on the recovery goroutine after each successful
// relaunch
func (p *Pool) afterRecovery(address string, session renderer.Session) {
	p.watchSession(address, session)

	if p.opts.PreventiveRestarts && p.tracker.ActiveCount() == 0 {
		go p.restartIdleSessions(address)
	}
}

// watchSession consumes a session's notifications and turns unexpected
// disconnects into recovery runs. Expected teardowns (recycle, shutdown,
// recovery's own teardown) are recognized and left alone.
func (p *Pool) watchSession(address string, session renderer.Session) {
	go func() {
		for notification := range session.Notifications() {
			switch notification.Kind {
			case renderer.NotifyPageCrashed:
				p.logger.Warn().
					Str("device", address).
					Str("page_id", notification.PageID).
					Msg("Renderer page crashed")
				if p.broker != nil {
					p.broker.PublishDevice(events.EventSessionCrashed, address, "page crashed")
				}
				p.tracker.RecordError(address)

			case renderer.NotifyDisconnected:
				if p.broker != nil {
					p.broker.PublishDevice(events.EventSessionDisconnected, address, "")
				}
				if p.stopped() {
					return
				}
				if p.registry.IsIntentionalTeardown(address) {
					return
				}
				if p.registry.Session(address) != session {
					// Stale handle: the registry already moved on
					return
				}
				p.logger.Warn().Str("device", address).Msg("Session disconnected unexpectedly")
				go p.recovery.Recover(context.Background(), address, "session disconnected")
				return
			}
		}
	}()
}
