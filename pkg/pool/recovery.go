package pool

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vitrinehq/vitrine/pkg/events"
	"github.com/vitrinehq/vitrine/pkg/log"
	"github.com/vitrinehq/vitrine/pkg/metrics"
	"github.com/vitrinehq/vitrine/pkg/renderer"
	"github.com/vitrinehq/vitrine/pkg/storage"
	"github.com/vitrinehq/vitrine/pkg/types"
)

// recoveryCall is the in-flight slot for one device's recovery run.
// Later callers wait on done and read success afterwards.
type recoveryCall struct {
	done    chan struct{}
	success bool
}

// Recovery rebuilds broken device sessions. One run per device at a time:
// concurrent callers for the same device wait on the first run's outcome
// instead of starting their own. Attempt budgets are scoped to the health
// epoch; the monitor resets them at the start of every responsiveness
// cycle.
type Recovery struct {
	registry *Registry
	tracker  *Tracker
	launcher renderer.Launcher
	broker   *events.Broker
	store    storage.Store
	opts     Options
	logger   zerolog.Logger

	// onRecovered is invoked after a successful relaunch so the pool can
	// attach its session watcher. Set once during wiring.
	onRecovered func(address string, session renderer.Session)

	mu       sync.Mutex
	inflight map[string]*recoveryCall
	attempts map[string]int // per-device counter inside the current epoch
}

// NewRecovery creates a recovery manager. Options must already be
// normalized.
func NewRecovery(registry *Registry, tracker *Tracker, launcher renderer.Launcher, broker *events.Broker, store storage.Store, opts Options) *Recovery {
	return &Recovery{
		registry: registry,
		tracker:  tracker,
		launcher: launcher,
		broker:   broker,
		store:    store,
		opts:     opts,
		logger:   log.WithComponent("recovery"),
		inflight: make(map[string]*recoveryCall),
		attempts: make(map[string]int),
	}
}

// Recover tears down and relaunches the device's session, returning true
// once the device is idle again. If a run is already in flight for the
// device, Recover waits for that run's outcome instead of starting a
// second one.
func (r *Recovery) Recover(ctx context.Context, address string, reason string) bool {
	r.mu.Lock()
	if call, ok := r.inflight[address]; ok {
		r.mu.Unlock()
		return r.wait(ctx, call)
	}
	call := &recoveryCall{done: make(chan struct{})}
	r.inflight[address] = call
	r.mu.Unlock()

	var success bool
	defer func() {
		// The slot is always cleared, even when the run bails out early
		r.mu.Lock()
		delete(r.inflight, address)
		r.mu.Unlock()

		call.success = success
		close(call.done)
	}()

	success = r.run(ctx, address, reason)
	return success
}

// wait blocks on an in-flight run. Waiters carry their own bound so a
// wedged run cannot pile up blocked callers forever.
func (r *Recovery) wait(ctx context.Context, call *recoveryCall) bool {
	timer := time.NewTimer(r.opts.WaiterTimeout)
	defer timer.Stop()

	select {
	case <-call.done:
		return call.success
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// InFlight reports whether a recovery run is active for the device
func (r *Recovery) InFlight(address string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.inflight[address]
	return ok
}

// Attempts returns the device's attempt count in the current epoch
func (r *Recovery) Attempts(address string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts[address]
}

// ResetAttempts clears one device's attempt counter
func (r *Recovery) ResetAttempts(address string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.attempts, address)
}

// ResetAllAttempts starts a new recovery epoch: every device gets a fresh
// attempt budget
func (r *Recovery) ResetAllAttempts() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = make(map[string]int)
}

func (r *Recovery) nextAttempt(address string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.attempts[address]++
	return r.attempts[address]
}

func (r *Recovery) run(ctx context.Context, address string, reason string) bool {
	device, ok := r.registry.Get(address)
	if !ok {
		return false
	}

	r.registry.MarkRecovering(address)
	r.logger.Warn().Str("device", address).Str("reason", reason).Msg("Recovering device")
	if r.broker != nil {
		r.broker.PublishDevice(events.EventDeviceRecovering, address, reason)
	}

	// The cast cannot survive its session; the caller sees an abort
	if cast := r.tracker.Stop(address, types.CastOutcomeAborted); cast != nil {
		r.logger.Info().Str("device", address).Str("cast_id", cast.ID).Msg("Aborted cast for recovery")
	}

	timer := metrics.NewTimer()
	record := &types.RecoveryRecord{
		ID:         uuid.New().String(),
		DeviceAddr: address,
		Reason:     reason,
		StartedAt:  time.Now(),
	}

	for {
		attempt := r.nextAttempt(address)
		if attempt > r.opts.MaxRecoveryAttempts {
			r.logger.Error().
				Str("device", address).
				Int("attempts", attempt-1).
				Msg("Recovery attempts exhausted, leaving device in recovering")
			if r.broker != nil {
				r.broker.PublishDevice(events.EventRecoveryFailed, address, "recovery attempts exhausted")
			}
			r.finish(record, attempt-1, false, timer)
			return false
		}

		metrics.RecoveryAttemptsTotal.Inc()
		r.teardown(device)

		// Give the endpoint room to settle, then back off per the schedule
		if !sleepCtx(ctx, r.opts.SettleDelay) || !sleepCtx(ctx, r.opts.Backoff.Delay(attempt)) {
			return false
		}

		session, err := r.launchSession(ctx, device)
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			r.logger.Warn().
				Err(err).
				Str("device", address).
				Int("attempt", attempt).
				Msg("Relaunch failed")
			continue
		}

		r.registry.SwapSession(address, session)
		r.registry.SetHealth(address, types.HealthRecord{
			Healthy:   true,
			Message:   "recovered",
			CheckedAt: time.Now(),
		})
		r.ResetAttempts(address)
		r.registry.MarkIdle(address)

		r.finish(record, attempt, true, timer)
		r.logger.Info().Str("device", address).Int("attempt", attempt).Msg("Device recovered")
		if r.broker != nil {
			r.broker.PublishDevice(events.EventDeviceRecovered, address, "")
		}
		if r.onRecovered != nil {
			r.onRecovered(address, session)
		}
		return true
	}
}

// teardown removes the stale session handle, closes it gracefully, and
// reaps anything still holding the device's profile directory. A crashed
// session may have no handle at all; the orphan sweep still runs.
func (r *Recovery) teardown(device *types.Device) {
	address := device.Address

	session := r.registry.RemoveSession(address)
	if session != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), r.opts.CloseTimeout)
		if err := session.Close(closeCtx); err != nil {
			r.logger.Warn().Err(err).Str("device", address).Msg("Graceful close failed")
		}
		cancel()
	}

	// Anything still holding the profile dir would wedge the relaunch
	if dir := r.launcher.ProfileDir(device); dir != "" {
		pids, err := renderer.ReapOrphans(dir)
		if err != nil {
			r.logger.Warn().Err(err).Str("device", address).Msg("Orphan scan failed")
		} else if len(pids) > 0 {
			r.logger.Warn().Ints("pids", pids).Str("device", address).Msg("Killed orphaned renderer processes")
		}
	}
}

// launchSession starts a fresh idle session. Transient launch failures
// get one extra try after a short delay before the attempt is charged.
func (r *Recovery) launchSession(ctx context.Context, device *types.Device) (renderer.Session, error) {
	retrySchedule := NewSchedule([]time.Duration{r.opts.LaunchRetryDelay}, r.opts.LaunchRetryDelay)

	var session renderer.Session
	timer := metrics.NewTimer()
	err := Retry(ctx, 2, retrySchedule, renderer.Transient, func() error {
		s, launchErr := r.launcher.Launch(ctx, renderer.LaunchSpec{
			Target:         r.opts.IdlePage,
			Device:         device,
			StartMinimized: r.opts.StartMinimized,
		})
		if launchErr != nil {
			return launchErr
		}
		session = s
		return nil
	})

	if err != nil {
		metrics.SessionLaunchesTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	metrics.SessionLaunchesTotal.WithLabelValues("ok").Inc()
	timer.ObserveDuration(metrics.SessionLaunchDuration)
	if r.broker != nil {
		r.broker.PublishDevice(events.EventSessionLaunched, device.Address, "")
	}
	return session, nil
}

func (r *Recovery) finish(record *types.RecoveryRecord, attempts int, success bool, timer *metrics.Timer) {
	record.FinishedAt = time.Now()
	record.Attempts = attempts
	record.Success = success

	timer.ObserveDuration(metrics.RecoveryDuration)
	result := "exhausted"
	if success {
		result = "success"
	}
	metrics.RecoveriesTotal.WithLabelValues(result).Inc()

	if r.store != nil {
		if err := r.store.SaveRecoveryRecord(record); err != nil {
			r.logger.Warn().Err(err).Str("device", record.DeviceAddr).Msg("Failed to persist recovery record")
		}
	}
}
