/*
Package client provides a Go client library for the Vitrine HTTP API.

The client package wraps the daemon's HTTP/JSON API with a convenient,
idiomatic Go interface. It handles base URL normalization, request encoding,
error translation, and the NDJSON event stream, and is what cmd/vitrine uses
for every command that talks to a running daemon.

# Architecture

The client is a thin layer over net/http:

	┌──────────────────── APPLICATION CODE ──────────────────────┐
	│                                                            │
	│  import "github.com/vitrinehq/vitrine/pkg/client"          │
	│                                                            │
	│  c := client.NewClient("127.0.0.1:7611")                   │
	│  cast, err := c.StartCast("https://...", "", false)        │
	│                                                            │
	└──────────────────┬─────────────────────────────────────────┘
	                   │
	┌──────────────────▼──────────────────────────────────────────┐
	│              Client (pkg/client)                            │
	│  - JSON request/response plumbing                           │
	│  - Server error messages surfaced as Go errors              │
	│  - Separate untimed client for the event stream             │
	└──────────────────┬──────────────────────────────────────────┘
	                   │ HTTP
	┌──────────────────▼──────────────────────────────────────────┐
	│              Vitrine daemon (pkg/api)                       │
	└─────────────────────────────────────────────────────────────┘

# Usage

Creating a client and starting a cast:

	c := client.NewClient("127.0.0.1:7611")

	cast, err := c.StartCast("https://dash.example.com/board", "", false)
	if err != nil {
		return err
	}
	fmt.Printf("cast %s running on %s\n", cast.ID, cast.DeviceAddr)

NewClient accepts a bare host:port or a full URL; bare addresses get an
http:// scheme. There is no Close: the underlying http.Client manages its
own connections.

# Pool Operations

Inspection:

	status, err := c.Status()          // device states, counts
	devices, err := c.Devices()        // configured inventory

Cast control:

	cast, err := c.StartCast(target, device, skipHealthCheck)
	cast, err := c.GetCast(address)
	warning, err := c.Release(address)
	err := c.RecordActivity(address)
	count, err := c.RecordError(address)

Release returns a warning string instead of an error when the cast ended
but the device failed to re-pool immediately; the daemon keeps recovering
the device on its own.

History:

	casts, err := c.CastHistory("")                  // all devices
	casts, err := c.CastHistory("10.0.0.2:9515")     // one device
	runs, err := c.RecoveryHistory("")

# Event Streaming

WatchEvents blocks, invoking the callback for every pool event:

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := c.WatchEvents(ctx, func(e types.Event) {
		fmt.Printf("%s  %-22s %s\n", e.Timestamp.Format(time.RFC3339), e.Type, e.DeviceAddr)
	})

The call returns nil when ctx is cancelled or the daemon closes the
stream, and an error for transport or decode failures. The stream uses
its own http.Client with no timeout; every other method is bounded at
ten seconds.

# Error Handling

Non-2xx responses become plain Go errors carrying the server's message:

	_, err := c.StartCast("https://example.com", "", false)
	// err.Error() == "pool: no idle device available"

The client does not retry; a CLI invocation either succeeds or reports
the failure. Callers that need retry semantics wrap the calls themselves.

# Thread Safety

A Client is safe for concurrent use; it holds no mutable state beyond the
http.Client connection pools.

# Integration Points

The client package depends on:
  - pkg/api: Request and response body types
  - pkg/types: Wire types (Cast, PoolStatus, Event, history records)

Used by:
  - cmd/vitrine: All daemon-facing CLI commands

# See Also

  - pkg/api: The server this client speaks to
  - pkg/types: Shared wire types
  - cmd/vitrine: CLI built on this package
*/
package client
