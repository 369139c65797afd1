/*
Package api implements the Vitrine HTTP/JSON API server.

The api package is the interface between external clients (the CLI, content
schedulers, dashboards) and the device pool. It exposes cast control, pool
inspection, history queries, and a streaming event feed, plus the operational
endpoints (metrics and health probes) on the same listener.

# Architecture

The API server is a thin HTTP layer over the pool:

	┌──────────────────── CLIENT (CLI/scheduler) ────────────────┐
	│                                                             │
	│  ┌──────────────────────────────────────────────┐           │
	│  │            HTTP/JSON Client                  │           │
	│  │  - Cast control (start/release)              │           │
	│  │  - Pool inspection                           │           │
	│  │  - NDJSON event stream                       │           │
	│  └──────────────────┬───────────────────────────┘           │
	└─────────────────────┼───────────────────────────────────────┘
	                      │ HTTP (default 127.0.0.1:7611)
	                      │
	┌─────────────────────▼──── VITRINE DAEMON ──────────────────┐
	│                                                             │
	│  ┌──────────────────────────────────────────────┐           │
	│  │           HTTP API Server (pkg/api)          │           │
	│  │  - Method-scoped routes                      │           │
	│  │  - Request metrics and logging               │           │
	│  │  - Pool error to status code mapping         │           │
	│  └───────┬─────────────┬─────────────┬──────────┘           │
	│          │             │             │                      │
	│  ┌───────▼──────┐ ┌────▼─────┐ ┌─────▼──────┐               │
	│  │  pool.Pool   │ │ storage  │ │  events    │               │
	│  │  cast ops,   │ │ history  │ │  broker    │               │
	│  │  status      │ │ queries  │ │  (stream)  │               │
	│  └──────────────┘ └──────────┘ └────────────┘               │
	└─────────────────────────────────────────────────────────────┘

# Endpoints

Pool inspection:
  - GET /v1/pool/status: Snapshot of every device (state, health, cast)
  - GET /v1/devices: Configured device inventory

Cast control:
  - POST /v1/casts: Start a cast (auto-assign or pinned device)
  - GET /v1/casts/{addr}: Active cast on one device
  - DELETE /v1/casts/{addr}: End the cast and re-pool the device
  - POST /v1/casts/{addr}/activity: Record content activity (resets the
    inactivity clock)
  - POST /v1/casts/{addr}/errors: Record a content error, returns the count

History (requires persistence):
  - GET /v1/history/casts: Finished casts, optional ?device= filter
  - GET /v1/history/recoveries: Recovery runs, optional ?device= filter

Events:
  - GET /v1/events: NDJSON stream of pool events until disconnect

Operational:
  - GET /metrics: Prometheus metrics
  - GET /healthz: Component health
  - GET /readyz: Readiness
  - GET /livez: Liveness

Routes are registered with method-scoped patterns, so a wrong method gets
an automatic 405 Method Not Allowed.

# Request and Response Format

Starting a cast:

	POST /v1/casts
	{
	  "target": "https://dash.example.com/board",
	  "device": "10.0.0.2:9515",
	  "skip_health_check": false
	}

	201 Created
	{
	  "id": "b3a1...",
	  "device_addr": "10.0.0.2:9515",
	  "target": "https://dash.example.com/board",
	  "started_at": "2026-08-25T10:00:00Z",
	  "last_activity": "2026-08-25T10:00:00Z",
	  "error_count": 0
	}

Omitting "device" assigns the first idle device in configuration order.
"skip_health_check" exempts the cast from responsiveness probing, for
content that renders in a way the probe would misread.

Failures carry a JSON body with a single "error" field:

	503 Service Unavailable
	{"error": "pool: no idle device available"}

# Error Mapping

Pool errors map onto HTTP statuses:

  - ErrNoIdleDevice: 503 (retry when a device frees up)
  - ErrUnknownDevice: 404
  - ErrDeviceBusy: 409 (pinned device has a cast or is unavailable)
  - ErrNotActive: 409 (release on a device with no cast)
  - validation (missing target, bad JSON): 400
  - anything else: 500

DELETE /v1/casts/{addr} has one special case: when the cast ended but the
device failed to relaunch its session, the release itself succeeded. The
server answers 200 with a "warning" field instead of an error status; the
pool recovers the device in the background.

# Event Streaming

GET /v1/events holds the connection open and writes one JSON object per
line (Content-Type application/x-ndjson):

	{"type":"cast.started","timestamp":"...","device_addr":"10.0.0.2:9515","cast_id":"b3a1..."}
	{"type":"device.recovering","timestamp":"...","device_addr":"10.0.0.1:9515","message":"session disconnected"}

The stream ends when the client disconnects or the daemon shuts down. A
slow consumer that falls more than 50 events behind loses the overflow;
the feed is for live observation, not a durable log (use the history
endpoints for that).

The server intentionally sets no write timeout so the stream can run
indefinitely; read and header timeouts still apply.

# Metrics Instrumentation

Every request (except the stream) is counted and timed:

  - vitrine_api_requests_total{method, status}
  - vitrine_api_request_duration_seconds{method}

The method label is the route name (cast_start, pool_status, ...) rather
than the raw path, so per-device URLs collapse into one series.

# Usage

Serving:

	srv := api.NewServer(p, store, broker)

	go func() {
		if err := srv.Start(cfg.Listen); err != nil {
			log.Fatal(err, "API server failed")
		}
	}()

	// On shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Stop(ctx)

store and broker may be nil: history endpoints then answer 404 and the
event stream answers 501. Handler() returns the bare routing handler for
tests and embedding.

# Integration Points

The api package depends on:
  - pkg/pool: Cast operations and status (via the Pool interface)
  - pkg/storage: Cast and recovery history
  - pkg/events: Broker subscription for the stream
  - pkg/metrics: Request metrics, health/readiness handlers
  - pkg/log: Component logger

Used by:
  - cmd/vitrine: Serves the API in the daemon
  - pkg/client: HTTP client for the CLI

# Design Patterns

The package follows several patterns:

 1. Interface Consumption: The server accepts a narrow Pool interface,
    not the concrete pool type, so tests script it with a fake
 2. Status Recorder: A wrapping ResponseWriter captures the status code
    for metrics and logging
 3. Error Translation: Sentinel errors from the pool become statuses at
    the boundary; handlers never invent their own sentinels
 4. Graceful Shutdown: Stop drains in-flight requests through
    http.Server.Shutdown

# Troubleshooting

Common issues and solutions:

Client sees 503 on every cast:
  - Check GET /v1/pool/status: all devices recovering means the renderer
    binary or the devices themselves are down
  - Device states stuck at "recovering" with attempts at the cap need
    operator attention (power-cycle the device)

Event stream drops immediately:
  - A proxy in front of the daemon may buffer or time out idle responses;
    stream directly from the daemon or disable proxy buffering
  - 501 means the daemon runs without an event broker

History endpoints return 404:
  - Persistence is off (no data directory configured); enable it in the
    daemon config

# See Also

  - pkg/pool: Device pool the API fronts
  - pkg/client: Go client for this API
  - pkg/events: Event types carried by the stream
  - pkg/metrics: Metrics surface mounted under /metrics
*/
package api
