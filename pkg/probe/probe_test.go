package probe

import (
	"context"
	"net"
	"os"
	"syscall"
	"testing"
	"time"
)

// serve accepts connections and hands each to fn until the listener closes
func serve(t *testing.T, fn func(net.Conn)) net.Listener {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go fn(conn)
		}
	}()

	return ln
}

func TestCheck_RespondingDevice(t *testing.T) {
	ln := serve(t, func(conn net.Conn) {
		defer conn.Close()
		buf := make([]byte, 256)
		_, _ = conn.Read(buf)
		_, _ = conn.Write([]byte("HTTP/1.0 200 OK\r\n\r\nstream-bytes"))
	})
	defer ln.Close()

	prober := NewProber(2 * time.Second)
	result := prober.Check(context.Background(), ln.Addr().String())

	if !result.Healthy {
		t.Errorf("Expected healthy, got unhealthy: %s", result.Message)
	}
	if result.FellBack {
		t.Error("Expected primary probe to succeed without fallback")
	}
	if result.Duration <= 0 {
		t.Error("Expected positive duration")
	}
}

func TestCheck_ConnectionRefused(t *testing.T) {
	// Grab a free port, then close it so nothing is listening
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	prober := NewProber(2 * time.Second)
	result := prober.Check(context.Background(), addr)

	if result.Healthy {
		t.Error("Expected unhealthy for refused connection")
	}
	if result.Class != ClassRefused {
		t.Errorf("Expected class %s, got %s", ClassRefused, result.Class)
	}
	if result.FellBack {
		t.Error("Refused connection must fail fast without fallback")
	}
}

func TestCheck_SilentDeviceFallsBackToDial(t *testing.T) {
	// Accepts connections but never writes anything
	ln := serve(t, func(conn net.Conn) {
		buf := make([]byte, 256)
		_, _ = conn.Read(buf)
		time.Sleep(5 * time.Second)
		conn.Close()
	})
	defer ln.Close()

	prober := NewProber(300 * time.Millisecond)
	result := prober.Check(context.Background(), ln.Addr().String())

	if !result.Healthy {
		t.Errorf("Expected healthy via fallback dial, got unhealthy: %s", result.Message)
	}
	if !result.FellBack {
		t.Error("Expected fallback dial to decide the result")
	}
	if result.Class != ClassTimeout {
		t.Errorf("Expected class %s, got %s", ClassTimeout, result.Class)
	}
}

func TestCheck_ImmediateClose(t *testing.T) {
	// Accepts and closes without writing; still proves the endpoint exists
	ln := serve(t, func(conn net.Conn) {
		conn.Close()
	})
	defer ln.Close()

	prober := NewProber(2 * time.Second)
	result := prober.Check(context.Background(), ln.Addr().String())

	if !result.Healthy {
		t.Errorf("Expected healthy for accept-then-close, got: %s", result.Message)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Class
	}{
		{
			name:     "connection refused",
			err:      &net.OpError{Op: "dial", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)},
			expected: ClassRefused,
		},
		{
			name:     "host unreachable",
			err:      &net.OpError{Op: "dial", Err: os.NewSyscallError("connect", syscall.EHOSTUNREACH)},
			expected: ClassUnreachable,
		},
		{
			name:     "network unreachable",
			err:      &net.OpError{Op: "dial", Err: os.NewSyscallError("connect", syscall.ENETUNREACH)},
			expected: ClassUnreachable,
		},
		{
			name:     "name not found",
			err:      &net.DNSError{Err: "no such host", Name: "missing.local", IsNotFound: true},
			expected: ClassNoSuchHost,
		},
		{
			name:     "context deadline",
			err:      context.DeadlineExceeded,
			expected: ClassTimeout,
		},
		{
			name:     "plain error",
			err:      os.ErrClosed,
			expected: ClassOther,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.expected {
				t.Errorf("Classify() = %s, expected %s", got, tt.expected)
			}
		})
	}
}

func TestTerminal(t *testing.T) {
	terminal := []Class{ClassRefused, ClassUnreachable, ClassNoSuchHost}
	for _, c := range terminal {
		if !c.Terminal() {
			t.Errorf("Expected %s to be terminal", c)
		}
	}

	for _, c := range []Class{ClassTimeout, ClassOther} {
		if c.Terminal() {
			t.Errorf("Expected %s to be non-terminal", c)
		}
	}
}
