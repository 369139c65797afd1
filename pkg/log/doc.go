/*
Package log provides structured logging for Vitrine using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support filtering
by severity level for production debugging.

# Architecture

Vitrine's logging system provides structured JSON logging with minimal
overhead:

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                           │
	│  ┌────────────────────────────────────────────┐           │
	│  │            Global Logger                   │           │
	│  │  - Zerolog instance                        │           │
	│  │  - Initialized via log.Init()              │           │
	│  │  - Thread-safe for concurrent use          │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │           Configuration                    │           │
	│  │  - Level: debug/info/warn/error            │           │
	│  │  - Format: JSON or console (human)         │           │
	│  │  - Output: stdout, file, or custom writer  │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │         Context Loggers                    │           │
	│  │  - WithComponent("monitor")                │           │
	│  │  - WithDevice("10.1.4.21:9100")            │           │
	│  │  - WithCastID("cast-abc123")               │           │
	│  └────────────────────────────────────────────┘           │
	└───────────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from all Vitrine packages
  - Thread-safe concurrent writes

Log Levels:
  - Debug: Detailed debugging information (probe results, CDP traffic)
  - Info: General informational messages (cast started, device recovered)
  - Warn: Warning messages (probe failure, retry scheduled)
  - Error: Error messages (recovery attempt failed)
  - Fatal: Critical errors (process exits)

Context Loggers:
  - WithComponent: Add component name to all logs
  - WithDevice: Add device address context
  - WithCastID: Add cast ID context

# Usage

Initializing the Logger:

	import "github.com/vitrinehq/vitrine/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

Simple Logging:

	log.Info("Pool initialized successfully")
	log.Warn("Device probe timed out")
	log.Error("Failed to launch renderer")
	log.Fatal("Cannot start without data directory") // Exits process

Structured Logging:

	log.Logger.Info().
		Str("device", "10.1.4.21:9100").
		Int("attempt", 2).
		Msg("Recovery attempt starting")

	log.Logger.Error().
		Err(err).
		Str("device", "10.1.4.21:9100").
		Msg("Session probe failed")

Component Loggers:

	monitorLog := log.WithComponent("monitor")
	monitorLog.Info().Msg("Starting reachability loop")
	monitorLog.Debug().Str("device", addr).Msg("Probing device")

# Integration Points

This package integrates with:

  - pkg/pool: Logs state transitions, recovery runs, cast lifecycle
  - pkg/renderer: Logs browser launches, DevTools traffic, teardowns
  - pkg/probe: Logs probe failures and classifications
  - pkg/api: Logs API requests and errors
  - cmd/vitrine: Initializes the logger from configuration

# Log Output Examples

JSON Format (Production):

	{"level":"info","component":"monitor","time":"2025-11-02T10:30:00Z","message":"Responsiveness cycle complete"}
	{"level":"warn","component":"recovery","device":"10.1.4.21:9100","attempt":2,"time":"2025-11-02T10:30:01Z","message":"Relaunch failed, backing off"}

Console Format (Development):

	10:30:00 INF Responsiveness cycle complete component=monitor
	10:30:01 WRN Relaunch failed, backing off component=recovery device=10.1.4.21:9100 attempt=2

# Design Patterns

Global Logger Pattern:
  - Single package-level Logger instance
  - Initialized once at application start
  - Accessible from all packages without passing

Context Logger Pattern:
  - Create child loggers with context fields
  - Automatically includes context in all logs
  - Avoids repeating the same fields on every call

Error Logging Pattern:
  - Always use .Err(err) for error objects
  - Consistent error format across the codebase

# Best Practices

Do:
  - Use Info level for production
  - Use structured fields for queryable data
  - Create component-specific loggers
  - Include context (device address, cast ID)

Don't:
  - Use Debug level in production (CDP traffic is verbose)
  - Log in tight loops (probe loops use per-transition logging)
  - Concatenate strings (use .Str, .Int)

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
  - 12-Factor App Logs: https://12factor.net/logs
*/
package log
