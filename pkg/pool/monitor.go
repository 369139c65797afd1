package pool

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/vitrinehq/vitrine/pkg/events"
	"github.com/vitrinehq/vitrine/pkg/log"
	"github.com/vitrinehq/vitrine/pkg/metrics"
	"github.com/vitrinehq/vitrine/pkg/probe"
	"github.com/vitrinehq/vitrine/pkg/renderer"
	"github.com/vitrinehq/vitrine/pkg/storage"
	"github.com/vitrinehq/vitrine/pkg/types"
)

// Prober checks whether a device endpoint is reachable
type Prober interface {
	Check(ctx context.Context, address string) probe.Result
}

// Monitor watches pool devices on two cadences. The frequent reachability
// loop probes the physical endpoints and sweeps casts for error and
// inactivity limits. The infrequent responsiveness loop opens a new
// recovery epoch and exercises each session over DevTools to catch
// zombies that still answer TCP.
type Monitor struct {
	registry *Registry
	tracker  *Tracker
	recovery *Recovery
	prober   Prober
	broker   *events.Broker
	store    storage.Store
	opts     Options
	logger   zerolog.Logger
	stopCh   chan struct{}
}

// NewMonitor creates a monitor. Options must already be normalized.
func NewMonitor(registry *Registry, tracker *Tracker, recovery *Recovery, prober Prober, broker *events.Broker, store storage.Store, opts Options) *Monitor {
	return &Monitor{
		registry: registry,
		tracker:  tracker,
		recovery: recovery,
		prober:   prober,
		broker:   broker,
		store:    store,
		opts:     opts,
		logger:   log.WithComponent("monitor"),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the monitoring loops
func (m *Monitor) Start() {
	go m.reachabilityLoop()
	go m.responsivenessLoop()
	if m.opts.RecoveryRetryInterval > 0 {
		go m.retryLoop()
	}
}

// Stop stops all monitoring loops
func (m *Monitor) Stop() {
	close(m.stopCh)
}

func (m *Monitor) reachabilityLoop() {
	ticker := time.NewTicker(m.opts.ReachabilityInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.reachabilityCycle()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Monitor) responsivenessLoop() {
	ticker := time.NewTicker(m.opts.ResponsivenessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.responsivenessCycle()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Monitor) retryLoop() {
	ticker := time.NewTicker(m.opts.RecoveryRetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.retryCycle()
		case <-m.stopCh:
			return
		}
	}
}

// reachabilityCycle probes every device endpoint and sweeps casts for
// error and inactivity limits
func (m *Monitor) reachabilityCycle() {
	for _, device := range m.registry.Devices() {
		address := device.Address

		// A recovery run owns the device's session; probing a flapping
		// endpoint mid-teardown only produces noise
		if m.recovery.InFlight(address) {
			continue
		}
		state := m.registry.State(address)
		if state == types.DeviceStateClosing {
			continue
		}

		if reason, flagged := m.tracker.Flagged(address, m.opts.MaxCastErrors, m.opts.MaxCastInactivity); flagged {
			m.logger.Warn().Str("device", address).Str("reason", reason).Msg("Cast flagged for recovery")
			go m.recovery.Recover(context.Background(), address, reason)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), m.opts.ProbeTimeout)
		result := m.prober.Check(ctx, address)
		cancel()

		if !result.Healthy {
			metrics.ProbeFailuresTotal.WithLabelValues(string(result.Class)).Inc()
		}

		record, transitioned := m.registry.RecordProbe(address, result.Healthy, result.Message, m.opts.FailureThreshold)
		m.persistHealth(address, record)

		if transitioned && state != types.DeviceStateRecovering {
			m.logger.Warn().
				Str("device", address).
				Str("class", string(result.Class)).
				Str("message", result.Message).
				Msg("Device became unreachable")
			if m.broker != nil {
				m.broker.PublishDevice(events.EventDeviceUnreachable, address, result.Message)
			}
			go m.recovery.Recover(context.Background(), address, fmt.Sprintf("device unreachable: %s", result.Message))
		}
	}
}

// responsivenessCycle opens a new recovery epoch and checks that every
// session actually executes script, not just that its endpoint answers
func (m *Monitor) responsivenessCycle() {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ResponsivenessCycleDuration)

	// Epoch boundary: every device gets a fresh attempt budget, including
	// the ones that exhausted theirs last epoch
	m.recovery.ResetAllAttempts()

	for _, device := range m.registry.Devices() {
		address := device.Address

		if m.recovery.InFlight(address) {
			continue
		}

		switch m.registry.State(address) {
		case types.DeviceStateClosing:
			continue
		case types.DeviceStateRecovering:
			// Parked after exhaustion or a failed initial launch; the
			// fresh budget gives it another shot
			go m.recovery.Recover(context.Background(), address, "retrying recovery in new epoch")
			continue
		}

		if m.tracker.SkipHealthCheck(address) {
			continue
		}

		session := m.registry.Session(address)
		if session == nil || !session.Connected() {
			go m.recovery.Recover(context.Background(), address, "session missing or disconnected")
			continue
		}

		healthy, message := m.checkSession(session)
		record, _ := m.registry.RecordProbe(address, healthy, message, 1)
		m.persistHealth(address, record)

		if !healthy {
			metrics.ProbeFailuresTotal.WithLabelValues("unresponsive").Inc()
			m.logger.Warn().Str("device", address).Str("message", message).Msg("Session unresponsive")
			go m.recovery.Recover(context.Background(), address, fmt.Sprintf("session unresponsive: %s", message))
		}
	}
}

// retryCycle re-kicks recovering devices that still have attempt budget
// left in the current epoch
func (m *Monitor) retryCycle() {
	for _, device := range m.registry.Devices() {
		address := device.Address

		if m.registry.State(address) != types.DeviceStateRecovering {
			continue
		}
		if m.recovery.InFlight(address) {
			continue
		}
		if m.recovery.Attempts(address) >= m.opts.MaxRecoveryAttempts {
			// Out of budget until the next epoch
			continue
		}

		go m.recovery.Recover(context.Background(), address, "recovery retry")
	}
}

// checkSession exercises a session over DevTools: list the open pages and
// evaluate a trivial expression on the first one. Any failure or timeout
// counts as unresponsive.
func (m *Monitor) checkSession(session renderer.Session) (bool, string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.SessionProbeTimeout)
	defer cancel()

	pages, err := session.Pages(ctx)
	if err != nil {
		return false, fmt.Sprintf("failed to list pages: %v", err)
	}
	if len(pages) == 0 {
		return false, "no open pages"
	}

	if _, err := session.Evaluate(ctx, pages[0].ID, "1 + 1"); err != nil {
		return false, fmt.Sprintf("evaluate failed: %v", err)
	}

	return true, "responsive"
}

func (m *Monitor) persistHealth(address string, record types.HealthRecord) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveHealthRecord(address, &record); err != nil {
		m.logger.Warn().Err(err).Str("device", address).Msg("Failed to persist health record")
	}
}
