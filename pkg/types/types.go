package types

import (
	"time"
)

// Device represents a physical capture endpoint managed by the pool.
// Devices are loaded from configuration at startup and are immutable
// afterwards; one renderer session is bound to each device.
type Device struct {
	Address   string            `json:"address"` // Host:port of the capture endpoint (unique key)
	Name      string            `json:"name"`    // Human-readable label ("lobby-east")
	Display   *DisplayGeometry  `json:"display,omitempty"`
	AudioSink string            `json:"audio_sink,omitempty"` // PulseAudio sink for audio routing (optional)
	Labels    map[string]string `json:"labels,omitempty"`     // Free-form metadata
}

// DisplayGeometry positions the renderer window on the capture surface.
type DisplayGeometry struct {
	Width   int `json:"width"`
	Height  int `json:"height"`
	OffsetX int `json:"offset_x"`
	OffsetY int `json:"offset_y"`
}

// DeviceState represents the availability of a device in the pool
type DeviceState string

const (
	// DeviceStateIdle means the device is healthy and acquirable
	DeviceStateIdle DeviceState = "idle"

	// DeviceStateActive means a cast is running (or the device is
	// parked after a failed re-pool; either way not acquirable)
	DeviceStateActive DeviceState = "active"

	// DeviceStateClosing means an intentional teardown is in progress
	DeviceStateClosing DeviceState = "closing"

	// DeviceStateRecovering means the recovery manager owns the device
	DeviceStateRecovering DeviceState = "recovering"
)

// HealthRecord tracks the probed health of a device's session
type HealthRecord struct {
	Healthy             bool      `json:"healthy"`
	Message             string    `json:"message,omitempty"`
	CheckedAt           time.Time `json:"checked_at"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
}

// Stale reports whether the last check is older than the given window.
// A record that never saw a check is not stale.
func (h HealthRecord) Stale(window time.Duration) bool {
	if h.CheckedAt.IsZero() {
		return false
	}
	return time.Since(h.CheckedAt) > window
}

// Cast represents a single rendering request bound to a device
type Cast struct {
	ID              string    `json:"id"`
	DeviceAddr      string    `json:"device_addr"`
	Target          string    `json:"target"` // URL the session was pointed at
	SkipHealthCheck bool      `json:"skip_health_check,omitempty"` // Responsiveness probes skip this device while set
	StartedAt       time.Time `json:"started_at"`
	LastActivity    time.Time `json:"last_activity"`
	ErrorCount      int       `json:"error_count"`
}

// CastOutcome describes how a cast ended
type CastOutcome string

const (
	CastOutcomeCompleted CastOutcome = "completed"
	CastOutcomeAborted   CastOutcome = "aborted"
)

// CastRecord is the persisted history row for a finished cast
type CastRecord struct {
	ID         string      `json:"id"`
	DeviceAddr string      `json:"device_addr"`
	Target     string      `json:"target"`
	StartedAt  time.Time   `json:"started_at"`
	EndedAt    time.Time   `json:"ended_at"`
	Outcome    CastOutcome `json:"outcome"`
	ErrorCount int         `json:"error_count"`
}

// RecoveryRecord is the persisted history row for a recovery run
type RecoveryRecord struct {
	ID         string    `json:"id"`
	DeviceAddr string    `json:"device_addr"`
	Reason     string    `json:"reason"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Attempts   int       `json:"attempts"`
	Success    bool      `json:"success"`
}

// DeviceStatus is the externally visible snapshot of one device
type DeviceStatus struct {
	Address             string      `json:"address"`
	Name                string      `json:"name"`
	State               DeviceState `json:"state"`
	Healthy             bool        `json:"healthy"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
	RecoveryAttempts    int         `json:"recovery_attempts"`
	SessionPID          int         `json:"session_pid,omitempty"`
	LastChecked         time.Time   `json:"last_checked"`
	Cast                *CastStatus `json:"cast,omitempty"`
}

// CastStatus summarizes the active cast on a device
type CastStatus struct {
	ID           string    `json:"id"`
	Target       string    `json:"target"`
	StartedAt    time.Time `json:"started_at"`
	LastActivity time.Time `json:"last_activity"`
	ErrorCount   int       `json:"error_count"`
}

// PoolStatus is the externally visible snapshot of the whole pool
type PoolStatus struct {
	Devices     []DeviceStatus `json:"devices"`
	Idle        int            `json:"idle"`
	Active      int            `json:"active"`
	Closing     int            `json:"closing"`
	Recovering  int            `json:"recovering"`
	ActiveCasts int            `json:"active_casts"`
	GeneratedAt time.Time      `json:"generated_at"`
}

// Event represents a pool event (for the streaming API)
type Event struct {
	Type       string            `json:"type"`
	Timestamp  time.Time         `json:"timestamp"`
	DeviceAddr string            `json:"device_addr,omitempty"`
	CastID     string            `json:"cast_id,omitempty"`
	Message    string            `json:"message,omitempty"`
	Data       map[string]string `json:"data,omitempty"`
}
