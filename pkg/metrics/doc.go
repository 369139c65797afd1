/*
Package metrics provides Prometheus metrics collection and exposition for Vitrine.

The metrics package defines and registers all Vitrine metrics using the
Prometheus client library, providing observability into pool state, recovery
behavior, probe failures, and API latency. It also carries the component
health registry backing the /healthz, /readyz, and /livez endpoints. Metrics
are exposed via HTTP endpoint for scraping by Prometheus servers.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                          │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry               │          │
	│  │  - Global DefaultRegistry                  │          │
	│  │  - MustRegister at package init            │          │
	│  │  - Automatic Go runtime metrics            │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                    │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                │          │
	│  │                                            │          │
	│  │  Pool: Device counts by state, casts       │          │
	│  │  Recovery: Runs, attempts, duration        │          │
	│  │  Monitor: Probe failures, cycle duration   │          │
	│  │  Renderer: Launch count, launch duration   │          │
	│  │  API: Request count, duration              │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                    │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Collector                     │          │
	│  │  - Polls pool Status() every 15s           │          │
	│  │  - Copies counts into gauges               │          │
	│  │  - Resets stale states to zero             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                    │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint             │          │
	│  │  - Path: /metrics                          │          │
	│  │  - Format: Prometheus text exposition      │          │
	│  │  - Handler: promhttp.Handler()             │          │
	│  └────────────────────────────────────────────┘          │
	└──────────────────────────────────────────────────────────┘

# Core Components

Metric Registry:
  - Global Prometheus DefaultRegistry
  - All metrics registered at package init
  - Automatic collection of Go runtime metrics
  - Thread-safe for concurrent updates

Collector:
  - Samples pool state through the StatusSource interface
  - Writes every known device state each pass so counts fall back to zero
  - Started and stopped alongside the pool

Timer:
  - Convenience wrapper for histogram observations
  - NewTimer() at operation start, ObserveDuration() at end

Health Registry:
  - Components self-report via RegisterComponent / UpdateComponent
  - GetHealth aggregates across all components
  - GetReadiness checks the critical set: store, pool, api

# Metrics Catalog

Pool State:
  - vitrine_devices_total{state}: Devices by pool state (idle, active,
    closing, recovering)
  - vitrine_active_casts: Casts currently running
  - vitrine_casts_total{outcome}: Finished casts (completed, aborted)

Recovery:
  - vitrine_recoveries_total{result}: Recovery runs (success, exhausted)
  - vitrine_recovery_attempts_total: Individual relaunch attempts
  - vitrine_recovery_duration_seconds: Recovery run duration

Monitor:
  - vitrine_probe_failures_total{class}: Failed device probes by failure
    class (refused, unreachable, no_such_host, timeout, other)
  - vitrine_responsiveness_cycle_seconds: Full responsiveness cycle duration

Renderer:
  - vitrine_session_launches_total{result}: Session launches (ok, error)
  - vitrine_session_launch_duration_seconds: Launch duration

API:
  - vitrine_api_requests_total{method,status}: API requests
  - vitrine_api_request_duration_seconds{method}: API request duration

# Usage

Recording an operation duration:

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RecoveryDuration)

	// ... do the work ...

Incrementing counters:

	metrics.RecoveriesTotal.WithLabelValues("success").Inc()
	metrics.RecoveryAttemptsTotal.Inc()

Running the collector:

	collector := metrics.NewCollector(pool)
	collector.Start()
	defer collector.Stop()

Reporting component health:

	metrics.RegisterComponent("pool", true, "")
	// later, on failure
	metrics.UpdateComponent("pool", false, "all devices recovering")

Exposing the endpoint:

	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", metrics.HealthHandler())
	mux.HandleFunc("/readyz", metrics.ReadyHandler())
	mux.HandleFunc("/livez", metrics.LivenessHandler())

# Integration Points

  - pkg/pool: Recovery and monitor counters, collector StatusSource
  - pkg/api: Request counters and durations, health endpoints
  - cmd/vitrine: Collector lifecycle, version registration

# Alerting Rules

Example Prometheus alerts:

	- alert: DeviceStuckRecovering
	  expr: vitrine_devices_total{state="recovering"} > 0
	  for: 30m
	  annotations:
	    summary: Device recovering for more than 30 minutes

	- alert: RecoveryExhaustion
	  expr: rate(vitrine_recoveries_total{result="exhausted"}[1h]) > 0
	  annotations:
	    summary: Recovery attempts exhausted on at least one device

	- alert: NoIdleDevices
	  expr: vitrine_devices_total{state="idle"} == 0
	  for: 15m
	  annotations:
	    summary: Pool has had no idle devices for 15 minutes

# See Also

  - pkg/pool for the instrumented components
  - pkg/api for endpoint wiring
  - Prometheus documentation: https://prometheus.io/docs/
*/
package metrics
