package pool

import (
	"sync"
	"time"

	"github.com/vitrinehq/vitrine/pkg/renderer"
	"github.com/vitrinehq/vitrine/pkg/types"
)

// deviceEntry is one device's slot in the registry
type deviceEntry struct {
	mu          sync.Mutex
	device      *types.Device
	state       types.DeviceState
	session     renderer.Session
	intentional bool // current teardown was requested, not a crash
	health      types.HealthRecord
	launchedAt  time.Time
}

// deviceSnapshot is a consistent read of one entry
type deviceSnapshot struct {
	device     *types.Device
	state      types.DeviceState
	health     types.HealthRecord
	pid        int
	launchedAt time.Time
}

// Registry holds the per-device state machine for the pool.
//
// Valid transitions:
//
//	idle -> active        TryAcquire (cast admission)
//	active -> closing     BeginRecycle (release after a cast)
//	idle -> closing       BeginRecycle (preventive restart, shutdown)
//	closing -> idle       MarkIdle (re-pool succeeded)
//	closing -> active     ForceActive (re-pool failed, device parks)
//	any -> recovering     MarkRecovering (recovery owns the device)
//	recovering -> idle    MarkIdle (recovery succeeded)
//
// A device that fails to re-pool parks in active rather than idle so a
// broken session can never be handed to a new cast.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*deviceEntry
	order   []string // configuration order, for deterministic iteration
}

// NewRegistry creates a registry with one entry per device. Entries start
// in recovering; the initial launch moves them to idle.
func NewRegistry(devices []*types.Device) *Registry {
	r := &Registry{entries: make(map[string]*deviceEntry)}
	for _, device := range devices {
		if _, exists := r.entries[device.Address]; exists {
			continue
		}
		r.entries[device.Address] = &deviceEntry{
			device: device,
			state:  types.DeviceStateRecovering,
		}
		r.order = append(r.order, device.Address)
	}
	return r
}

func (r *Registry) entry(address string) *deviceEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[address]
}

// Devices returns every registered device in configuration order
func (r *Registry) Devices() []*types.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	devices := make([]*types.Device, 0, len(r.order))
	for _, address := range r.order {
		devices = append(devices, r.entries[address].device)
	}
	return devices
}

// Get returns the device registered under the given address
func (r *Registry) Get(address string) (*types.Device, bool) {
	e := r.entry(address)
	if e == nil {
		return nil, false
	}
	return e.device, true
}

// State returns the current pool state of a device
func (r *Registry) State(address string) types.DeviceState {
	e := r.entry(address)
	if e == nil {
		return ""
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// TryAcquire moves a device from idle to active. It fails for any other
// starting state, so a recovering or closing device can never be handed
// out.
func (r *Registry) TryAcquire(address string) bool {
	e := r.entry(address)
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != types.DeviceStateIdle {
		return false
	}
	e.state = types.DeviceStateActive
	return true
}

// BeginRecycle moves a device from the given state to closing and marks
// the teardown as intentional. Session watchers check the flag to tell a
// requested close apart from a crash.
func (r *Registry) BeginRecycle(address string, from types.DeviceState) bool {
	e := r.entry(address)
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != from {
		return false
	}
	e.state = types.DeviceStateClosing
	e.intentional = true
	return true
}

// BeginShutdown forces a device to closing with the intentional flag
// set, whatever state it was in. Only the pool's shutdown path uses it.
func (r *Registry) BeginShutdown(address string) {
	e := r.entry(address)
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state = types.DeviceStateClosing
	e.intentional = true
}

// MarkRecovering hands ownership of a device to the recovery manager,
// regardless of its current state.
func (r *Registry) MarkRecovering(address string) bool {
	e := r.entry(address)
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state = types.DeviceStateRecovering
	return true
}

// MarkIdle returns a device to the idle pool
func (r *Registry) MarkIdle(address string) bool {
	e := r.entry(address)
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state = types.DeviceStateIdle
	e.intentional = false
	return true
}

// ForceActive parks a device in active after a failed re-pool. The device
// is not acquirable and waits for the health cycle to recover it.
func (r *Registry) ForceActive(address string) bool {
	e := r.entry(address)
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state = types.DeviceStateActive
	e.intentional = false
	return true
}

// IsIntentionalTeardown reports whether the device's session is being
// torn down on purpose
func (r *Registry) IsIntentionalTeardown(address string) bool {
	e := r.entry(address)
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.intentional || e.state == types.DeviceStateClosing
}

// Session returns the device's current renderer session, or nil
func (r *Registry) Session(address string) renderer.Session {
	e := r.entry(address)
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

// SwapSession installs a freshly launched session on the device
func (r *Registry) SwapSession(address string, session renderer.Session) {
	e := r.entry(address)
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.session = session
	e.launchedAt = time.Now()
}

// RemoveSession detaches and returns the device's session. The stale
// handle is gone from the registry before teardown starts, so nothing can
// acquire or probe it mid-close.
func (r *Registry) RemoveSession(address string) renderer.Session {
	e := r.entry(address)
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	session := e.session
	e.session = nil
	return session
}

// SetHealth overwrites the device's health record
func (r *Registry) SetHealth(address string, health types.HealthRecord) {
	e := r.entry(address)
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.health = health
}

// Health returns the device's current health record
func (r *Registry) Health(address string) types.HealthRecord {
	e := r.entry(address)
	if e == nil {
		return types.HealthRecord{}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.health
}

// RecordProbe folds one probe result into the device's health record. The
// healthy flag only flips to false after threshold consecutive failures;
// a single success resets the streak. The second return value is true on
// the healthy-to-unhealthy transition.
func (r *Registry) RecordProbe(address string, healthy bool, message string, threshold int) (types.HealthRecord, bool) {
	e := r.entry(address)
	if e == nil {
		return types.HealthRecord{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	wasHealthy := e.health.Healthy
	e.health.CheckedAt = time.Now()
	e.health.Message = message

	if healthy {
		e.health.Healthy = true
		e.health.ConsecutiveFailures = 0
	} else {
		e.health.ConsecutiveFailures++
		if e.health.ConsecutiveFailures >= threshold {
			e.health.Healthy = false
		}
	}

	return e.health, wasHealthy && !e.health.Healthy
}

func (r *Registry) snapshot(address string) (deviceSnapshot, bool) {
	e := r.entry(address)
	if e == nil {
		return deviceSnapshot{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := deviceSnapshot{
		device:     e.device,
		state:      e.state,
		health:     e.health,
		launchedAt: e.launchedAt,
	}
	if e.session != nil {
		snap.pid = e.session.PID()
	}
	return snap, true
}
