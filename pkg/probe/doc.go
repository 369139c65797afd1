/*
Package probe implements cheap reachability checks for capture devices.

The health monitor runs these probes on a short interval (seconds) against
every configured device address, independently of the much more expensive
renderer responsiveness checks. A probe opens a TCP connection to the
device, issues a minimal HTTP request and reads a small slice of the
response; receiving any bytes (or a clean close) proves the device is
there without pulling a full stream.

# Failure Classification

Transport errors carry different retry value and are classified before
the monitor acts on them:

  - refused, unreachable, no-such-host: terminal for this probe call.
    The device is gone right now; re-probing within the same call is
    pointless (Class.Terminal() == true).
  - timeout: ambiguous. A capture device under load may accept
    connections but be slow to produce data. The prober falls back to a
    raw dial-only probe; only if that also fails is the device declared
    down.

# Usage

	prober := probe.NewProber(3 * time.Second)
	result := prober.Check(ctx, "10.1.4.21:9100")
	if !result.Healthy {
		log.Warn().Str("class", string(result.Class)).Msg(result.Message)
	}

Consecutive-failure counting and recovery decisions live in pkg/pool;
this package only answers "is the device reachable right now".
*/
package probe
