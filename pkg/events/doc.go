/*
Package events provides an in-memory event broker for Vitrine's pub/sub messaging.

The events package implements a lightweight event bus for broadcasting pool
events to interested subscribers. Crash notifications from renderer sessions,
recovery progress, and cast lifecycle changes all flow through the broker,
enabling loose coupling between the pool and its observers (API event stream,
metrics, logs).

# Architecture

Vitrine's event system provides non-blocking pub/sub messaging with buffered
channels:

	┌──────────────────── EVENT BROKER ────────────────────────┐
	│                                                          │
	│  ┌────────────────────────────────────────────┐          │
	│  │              Event Broker                  │          │
	│  │  - In-memory message bus                   │          │
	│  │  - Topic-agnostic (all events broadcast)   │          │
	│  │  - Non-blocking publish                    │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                    │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          Event Distribution                │          │
	│  │                                            │          │
	│  │  Publisher → Event Channel (buffer: 100)   │          │
	│  │       ↓                                    │          │
	│  │  Broadcast Loop                            │          │
	│  │       ↓                                    │          │
	│  │  Subscriber Channels (buffer: 50 each)     │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                    │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Subscribers                      │          │
	│  │                                            │          │
	│  │  API Server: NDJSON stream to clients      │          │
	│  │  Storage: persist recovery history         │          │
	│  │  Logs: structured event records            │          │
	│  └────────────────────────────────────────────┘          │
	└──────────────────────────────────────────────────────────┘

# Core Components

Event Broker:
  - Central message bus for event distribution
  - Manages subscriber lifecycle
  - Non-blocking publish (buffered channel)
  - Graceful shutdown via stop channel

Event:
  - Type: Event type (session.disconnected, device.recovered, ...)
  - Timestamp: When the event occurred
  - DeviceAddr: Device the event concerns (when device-scoped)
  - CastID: Cast the event concerns (when cast-scoped)
  - Message: Human-readable description
  - Metadata: Key-value pairs for additional context

Subscriber:
  - Channel that receives Event pointers
  - Buffered (50 events) to handle bursts
  - Created via broker.Subscribe()
  - Closed via broker.Unsubscribe()

# Usage

Creating and Starting Broker:

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

Subscribing to Events:

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for event := range sub {
			fmt.Printf("Event: %s - %s\n", event.Type, event.Message)
		}
	}()

Publishing Events:

	broker.Publish(&events.Event{
		Type:       events.EventDeviceRecovered,
		DeviceAddr: "10.1.4.21:9100",
		Message:    "Session relaunched after 2 attempts",
		Metadata:   map[string]string{"attempts": "2"},
	})

	broker.PublishDevice(events.EventDeviceUnreachable,
		"10.1.4.21:9100", "probe failed: connection refused")

# Event Types Catalog

Session Events:
  - session.launched: renderer session started for a device
  - session.disconnected: browser websocket dropped unexpectedly
  - session.crashed: a page inside the session crashed

Device Events:
  - device.unreachable: reachability probe failed
  - device.recovering: recovery manager took ownership
  - device.recovered: relaunch succeeded, device back to idle
  - device.recovery_failed: attempts exhausted for this epoch

Cast Events:
  - cast.started, cast.ended, cast.aborted

# Integration Points

This package integrates with:

  - pkg/pool: publishes all session/device/cast events
  - pkg/api: streams events to clients as NDJSON
  - pkg/storage: persists recovery history from events

# Design Patterns

Non-Blocking Publish:
  - Publish sends to a buffered channel and returns immediately
  - Full subscriber buffers skip (slow consumers never stall the pool)

Fire-and-Forget:
  - No acknowledgment from subscribers
  - Suitable for monitoring; recovery decisions never depend on delivery

# Best Practices

Do:
  - Always defer broker.Unsubscribe(sub)
  - Process events asynchronously in a goroutine
  - Filter events by type at the subscriber

Don't:
  - Block in the subscriber event loop
  - Rely on event delivery for correctness (the pool does not)

# See Also

  - pkg/pool for the event producers
  - pkg/api for the NDJSON event stream
*/
package events
