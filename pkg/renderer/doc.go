/*
Package renderer launches and drives Chromium sessions over the DevTools protocol.

Each capture device gets one long-lived browser process with a private
profile directory (its working state) and an exclusive DevTools websocket.
The pool never touches processes directly; it talks to Session values and
receives disconnect/crash notifications on a channel.

# Architecture

	┌──────────────────── RENDERER ───────────────────────────────┐
	│                                                             │
	│  ┌──────────────────┐    launch     ┌────────────────────┐  │
	│  │ ChromiumLauncher │──────────────▶│  browser process   │  │
	│  │  - args/env      │               │  --user-data-dir=  │  │
	│  │  - profile dirs  │               │  <profile>         │  │
	│  └────────┬─────────┘               └─────────┬──────────┘  │
	│           │  poll DevToolsActivePort          │             │
	│           ▼                                   │             │
	│  ┌──────────────────┐   websocket   ┌─────────▼──────────┐  │
	│  │  chromiumSession │◀─────────────▶│  DevTools endpoint │  │
	│  │  - Pages         │               │  /json/list        │  │
	│  │  - Evaluate      │               │  Runtime.evaluate  │  │
	│  │  - Close/Kill    │               │  Browser.close     │  │
	│  │  - Notifications │               └────────────────────┘  │
	│  └──────────────────┘                                       │
	└─────────────────────────────────────────────────────────────┘

# Session Lifecycle

 1. Launch spawns the browser with the device's profile directory, display
    geometry (window position/size, kiosk) and PULSE_SINK audio routing.
 2. The launcher polls the profile's DevToolsActivePort file until the
    browser publishes its debugging endpoint, then dials the browser
    websocket and subscribes to target lifecycle events.
 3. Liveness probes use Pages (the /json/list HTTP endpoint) and Evaluate
    (Runtime.evaluate over a per-page socket).
 4. Close asks for Browser.close and waits for process exit; when the
    context expires first, the process is killed. This mirrors the usual
    SIGTERM-wait-SIGKILL shutdown shape.
 5. Disconnects (process exit or websocket drop) and page crashes are
    delivered as Notifications on a channel; the channel closes after the
    final disconnect event.

# Error Classification

Launch failures split into transient and terminal:

  - ErrLaunchTimeout: DevTools endpoint never appeared. Transient.
  - ErrTargetClosed: browser exited or dropped the socket during setup.
    Transient.
  - Anything else (bad binary path, profile dir not writable): terminal,
    no retry value.

Transient(err) gives the recovery manager its inner-retry decision.

# Orphan Reclamation

When a graceful close fails, ReapOrphans scans /proc for processes whose
argv carries the exact --user-data-dir=<profile> argument, re-verifies
each PID still exists, and SIGKILLs it. Exact-argument matching keeps
unrelated browsers on a shared host safe.

# Usage

	launcher := renderer.NewChromiumLauncher(renderer.Options{
		Binary:      "/usr/bin/chromium",
		ProfileRoot: "/var/lib/vitrine/profiles",
	})

	session, err := launcher.Launch(ctx, renderer.LaunchSpec{
		Target: "http://127.0.0.1:8080/idle",
		Device: device,
	})
	if err != nil {
		if renderer.Transient(err) {
			// worth one more try after a delay
		}
		return err
	}

	go func() {
		for n := range session.Notifications() {
			if n.Kind == renderer.NotifyDisconnected {
				// hand the device to recovery
			}
		}
	}()

# Integration Points

  - pkg/pool: owns sessions, consumes notifications, runs recovery
  - pkg/config: supplies Options via the renderer section
  - nhooyr.io/websocket: DevTools transport

# See Also

  - pkg/pool for recovery and teardown sequencing
  - https://chromedevtools.github.io/devtools-protocol/ for the wire protocol
*/
package renderer
