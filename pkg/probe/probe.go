package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// Result represents the outcome of a reachability probe
type Result struct {
	Healthy   bool
	Class     Class // Failure class; only meaningful when unhealthy or FellBack
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
	FellBack  bool // True when the raw-connection fallback decided the result
}

// Prober performs cheap reachability checks against capture devices.
//
// The primary probe opens a TCP connection, issues a minimal HTTP request
// and reads a small slice of the response. Terminal transport errors
// (refused, unreachable, name-not-found) fail immediately. A timeout is
// ambiguous: the device may be reachable but slow to produce stream data,
// so the prober falls back to a raw dial-only probe before declaring
// the device down.
type Prober struct {
	// Timeout bounds each probe leg (default: 3 seconds)
	Timeout time.Duration

	// ReadLimit is how many response bytes satisfy the partial read
	ReadLimit int
}

// NewProber creates a prober with the given per-leg timeout
func NewProber(timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Prober{
		Timeout:   timeout,
		ReadLimit: 512,
	}
}

// Check probes the device at address (host:port)
func (p *Prober) Check(ctx context.Context, address string) Result {
	start := time.Now()

	err := p.partialRead(ctx, address)
	if err == nil {
		return Result{
			Healthy:   true,
			Message:   fmt.Sprintf("partial read from %s successful", address),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	class := Classify(err)
	if class != ClassTimeout {
		return Result{
			Healthy:   false,
			Class:     class,
			Message:   fmt.Sprintf("probe failed: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	// Ambiguous timeout: the stream may just be slow. A plain connect
	// decides whether the device is actually gone.
	if dialErr := p.rawDial(ctx, address); dialErr != nil {
		return Result{
			Healthy:   false,
			Class:     Classify(dialErr),
			Message:   fmt.Sprintf("probe timed out, fallback dial failed: %v", dialErr),
			CheckedAt: start,
			Duration:  time.Since(start),
			FellBack:  true,
		}
	}

	return Result{
		Healthy:   true,
		Class:     ClassTimeout,
		Message:   fmt.Sprintf("partial read from %s timed out, raw connection accepted", address),
		CheckedAt: start,
		Duration:  time.Since(start),
		FellBack:  true,
	}
}

// partialRead connects, sends a minimal request and reads a few bytes
func (p *Prober) partialRead(ctx context.Context, address string) error {
	dialer := &net.Dialer{Timeout: p.Timeout}

	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(p.Timeout)); err != nil {
		return err
	}

	host, _, _ := net.SplitHostPort(address)
	request := fmt.Sprintf("GET / HTTP/1.0\r\nHost: %s\r\n\r\n", host)
	if _, err := conn.Write([]byte(request)); err != nil {
		return err
	}

	buf := make([]byte, p.ReadLimit)
	n, err := conn.Read(buf)
	if n > 0 {
		return nil
	}
	if errors.Is(err, io.EOF) {
		// Connection was accepted and closed; the endpoint is there
		return nil
	}
	return err
}

// rawDial is the fallback: a bare TCP connect with no payload
func (p *Prober) rawDial(ctx context.Context, address string) error {
	dialer := &net.Dialer{Timeout: p.Timeout}

	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return err
	}
	return conn.Close()
}
