/*
Package config loads and validates Vitrine's YAML configuration.

A single file describes the daemon (listen address, data directory, log
output), the renderer (browser binary, profile root, idle page), the pool
timing knobs (probe intervals, recovery attempts, backoff schedule), and
the fleet of capture devices. Load merges the file over Default(), so
configs only need to state what differs from production defaults.

# Usage

	cfg, err := config.Load("/etc/vitrine/vitrine.yaml")
	if err != nil {
		log.Fatal(err.Error())
	}

Example configuration:

	listen: "127.0.0.1:7611"
	dataDir: /var/lib/vitrine
	log:
	  level: info
	renderer:
	  binary: /usr/bin/chromium
	  profileRoot: /var/lib/vitrine/profiles
	  idlePage: "http://127.0.0.1:8080/idle"
	pool:
	  reachabilityInterval: 15s
	  responsivenessInterval: 4h
	  maxRecoveryAttempts: 3
	  backoff: [1s, 5s, 15s]
	  backoffDefault: 30s
	devices:
	  - address: "10.1.4.21:9100"
	    name: lobby-east
	    display: {width: 1920, height: 1080}
	    audioSink: hdmi-out-1

Durations use Go's time.ParseDuration forms ("15s", "4h"). Device
addresses must be unique; they are the pool's primary keys.

# Integration Points

  - cmd/vitrine: loads the file and maps PoolConfig onto pool.Options
  - pkg/pool: consumes the timing knobs via pool.Options
  - pkg/renderer: consumes RendererConfig via renderer.Options
*/
package config
