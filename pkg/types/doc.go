/*
Package types defines the core data structures used throughout Vitrine.

This package contains the fundamental types that represent Vitrine's domain
model: capture devices, device availability states, casts, health records,
and the status snapshots served over the control API. These types are used
by all other packages for state management, persistence, and pool logic.

# Architecture

The types package is the foundation of Vitrine's data model. It defines:

  - Device identity and placement (address, display geometry, audio sink)
  - Device availability states (idle, active, closing, recovering)
  - Cast lifecycle data (start, activity, error counts)
  - Health probe records
  - Persisted history rows (cast records, recovery records)
  - Status snapshots for the API and CLI

All types are designed to be:
  - Serializable (JSON for storage and the HTTP API)
  - Immutable where possible (devices never change after load)
  - Self-documenting (clear field names and comments)

# State Machine

Devices follow a strict availability state machine:

	idle → active → closing → idle
	  ↓       ↓        ↓
	recovering ←───────┘

Valid state transitions:
  - idle → active (cast acquired the device)
  - active → closing (caller released the device)
  - closing → idle (session re-pooled after teardown)
  - idle/active → recovering (health monitor or crash event)
  - recovering → idle (recovery succeeded)
  - closing → active (re-pool failed; device parked, never idle)

A device that is not idle is never handed to a caller. A device whose
recovery attempts are exhausted stays in recovering until the next
health epoch resets the counters.

# Usage

Creating a Device (normally done by pkg/config):

	device := &types.Device{
		Address: "10.1.4.21:9100",
		Name:    "lobby-east",
		Display: &types.DisplayGeometry{Width: 1920, Height: 1080},
		AudioSink: "alsa_output.pci-0000_00_1f.3.analog-stereo",
	}

Tracking a Cast:

	cast := &types.Cast{
		ID:         uuid.New().String(),
		DeviceAddr: device.Address,
		Target:     "https://example.com/stream/42",
		StartedAt:  time.Now(),
	}

# Thread Safety

Types in this package carry no locks. The pool registry serializes all
mutations per device; status snapshots are value copies and safe to read
concurrently.

# See Also

  - pkg/pool for the registry and state transitions
  - pkg/storage for persistence of history rows
  - pkg/api for the HTTP representations
*/
package types
