/*
Package pool manages the lifecycle of renderer sessions bound to capture
devices.

Every configured device gets one long-lived Chromium session. The pool
hands idle devices to casts, watches the sessions for crashes and hangs,
and runs bounded recovery with backoff when a device or its session goes
bad. A device that cannot be brought back parks in a safe state instead
of circulating broken sessions to new casts.

# Architecture

The pool is four cooperating components behind one facade:

	┌──────────────────────────────────────────────────────────┐
	│                         Pool                             │
	│   StartCast / ReleaseDevice / Status / RecordActivity    │
	└───────┬──────────────┬──────────────┬───────────────────┘
	        │              │              │
	        ▼              ▼              ▼
	┌──────────────┐ ┌───────────┐ ┌─────────────┐
	│   Registry   │ │  Tracker  │ │  Recovery   │
	│ device state │ │   casts   │ │  teardown + │
	│   machine    │ │           │ │   relaunch  │
	└──────┬───────┘ └─────┬─────┘ └──────┬──────┘
	       │               │              │
	       └───────┬───────┴──────────────┘
	               ▼
	       ┌──────────────┐        ┌──────────────────┐
	       │   Monitor    │───────▶│ renderer.Launcher │
	       │ dual cadence │        │  (Chromium/CDP)   │
	       └──────────────┘        └──────────────────┘

The Registry owns per-device state and the current session handle. The
Tracker owns the casts. Recovery owns teardown and relaunch, with
single-flight deduplication so concurrent triggers collapse into one
run. The Monitor drives both probe cadences and feeds Recovery.

# Device Lifecycle

A device is always in exactly one of four states:

	idle        parked on the idle page, acquirable for a cast
	active      running a cast (or parked after a failed re-pool)
	closing     session teardown in progress
	recovering  recovery owns the device

Valid transitions:

	idle -> active        cast admission (TryAcquire)
	active -> closing     release after a cast
	idle -> closing       preventive restart, shutdown
	closing -> idle       re-pool succeeded
	closing -> active     re-pool failed; the device parks
	any -> recovering     recovery begins
	recovering -> idle    recovery succeeded

Devices begin in recovering: the initial session launch is an ordinary
recovery run, so startup gets the same retry, backoff, and budget
behavior as any mid-flight failure.

The closing -> active edge is deliberate. A device whose replacement
session could not be launched must not rejoin the idle pool, because the
next cast would receive a dead session. Parked in active it is invisible
to admission, and the next responsiveness pass hands it to recovery.

# Monitoring

Two probe cadences with different costs and different questions:

Reachability (default every 15s): a TCP dial against the device's
capture endpoint. Answers "is the box there?". Consecutive failures are
counted per device, and crossing the failure threshold (default 2)
triggers recovery once, on the healthy-to-unhealthy transition. The same
pass sweeps casts: a cast past its error limit or inactivity bound takes
its device through recovery, which aborts the cast.

Responsiveness (default every 4h): a DevTools round trip per session.
The monitor lists the open pages and evaluates a trivial expression on
the first one. A browser can hold its TCP port while its renderer is
wedged; only script execution proves the session alive. One failure is
enough here. Casts started with SkipHealthCheck are exempt while they
run, which keeps the probe away from pages that legitimately starve the
DevTools connection.

Session watchers cover the gap between cycles: every live session's
notification stream is consumed, and an unexpected disconnect triggers
recovery immediately. Teardowns the pool itself requested (release,
shutdown, recovery's own teardown) are recognized and ignored.

# Recovery

Recovery is the only code path that tears down and relaunches sessions.
One run:

 1. Mark the device recovering; abort its cast if one is running.
 2. Remove the session handle, close the browser gracefully, then reap
    any process still holding the device's profile directory.
 3. Wait out the settle delay plus the backoff for this attempt
    (default 1s, 5s, 15s, then 30s).
 4. Launch a fresh session. Transient launch failures (timeout, target
    closed) get one inner retry before the attempt counts as failed.
 5. On success: install the session, reset health and the attempt
    counter, return the device to idle.

Attempts are budgeted per epoch (default 3). The budget exists because
relaunching against a dead endpoint forever is pure churn; the epoch
exists because endpoints do come back. Every responsiveness cycle opens
a new epoch: all attempt counters reset, and devices parked in
recovering are re-kicked. Setting RecoveryRetryInterval adds a faster
retry cadence for parked devices that still have budget left in the
current epoch.

Concurrent recovery triggers for the same device collapse into one run.
Later callers wait for the in-flight run's outcome, bounded by
WaiterTimeout so a wedged teardown cannot pile up blocked goroutines.

# Casts

A cast is one display task on one device. The tracker enforces one cast
per device, stamps activity, and counts errors reported by the caller or
by page-crash notifications. Finished casts are persisted as records
with an outcome: completed for a requested release, aborted for
shutdown, crash, or recovery.

Releasing a device never reuses the session that served the cast. The
session is closed, the device settles, and a fresh session is launched
before the device rejoins the idle pool. Browser state accumulated
during a cast (cookies, service workers, leaked contexts) dies with the
session.

# Usage

	launcher := renderer.NewChromiumLauncher(cfg.Renderer)
	p, err := pool.New(pool.Options{
		Devices:  devices,
		IdlePage: "http://127.0.0.1:9900/idle",
	}, launcher, nil, broker, store)
	if err != nil {
		return err
	}

	p.Start()
	defer p.Stop()

	cast, err := p.StartCast(ctx, pool.CastRequest{
		Target: "https://dashboards.example.com/ops",
	})
	if err != nil {
		return err
	}

	// ... cast runs; callers report liveness ...
	p.RecordActivity(cast.DeviceAddr)

	if err := p.ReleaseDevice(ctx, cast.DeviceAddr); err != nil {
		return err
	}

Passing a nil Prober selects the stock TCP prober. A nil broker or
store disables event publishing or persistence; the pool itself does
not require either.

# Integration Points

	pkg/renderer  session launch and DevTools control (Launcher, Session)
	pkg/probe     TCP reachability checks (Prober)
	pkg/events    lifecycle events for API streaming (Broker)
	pkg/storage   cast, recovery, and health records (Store)
	pkg/metrics   gauges, counters, and durations for every path here

# Best Practices

 1. Failure thresholds
    - Keep FailureThreshold at 2+ on flaky networks; threshold 1 turns
      every dropped probe into a full session relaunch
    - SessionProbeTimeout should stay well under ResponsivenessInterval

 2. Recovery tuning
    - MaxRecoveryAttempts * max backoff bounds how long a dead endpoint
      is hammered per epoch
    - Raise SettleDelay for devices that reset slowly after a close

 3. Casts
    - Report RecordActivity from the data path; the inactivity sweep
      assumes silence means a dead pipeline
    - Use SkipHealthCheck only for targets known to starve DevTools

# Troubleshooting

Device stuck in recovering:

	The endpoint is down and the epoch budget is spent. The next
	responsiveness cycle retries automatically. Check the capture
	endpoint, then watch for the device-recovered event.

Device parked in active with no cast:

	A re-pool after release failed; the relaunch error is in the logs.
	The next responsiveness pass recovers it. If it parks again, the
	launcher cannot start a browser at all (missing binary, dead
	display server).

Casts abort seconds after starting:

	The cast sweep is flagging them. Either the page errors out
	(error count) or nothing reports activity (inactivity bound).
	Wire RecordActivity or raise MaxCastInactivity.

# See Also

  - pkg/renderer - Chromium launch and DevTools session control
  - pkg/probe - endpoint reachability checks
  - pkg/events - event broker feeding the API stream
  - pkg/storage - persisted cast, recovery, and health records
  - pkg/api - HTTP surface over the pool
*/
package pool
