package probe

import (
	"context"
	"errors"
	"net"
	"syscall"
)

// Class categorizes a probe failure for retry decisions
type Class string

const (
	// ClassRefused means the endpoint actively refused the connection
	ClassRefused Class = "refused"

	// ClassUnreachable means the host or network is unreachable
	ClassUnreachable Class = "unreachable"

	// ClassNoSuchHost means name resolution failed
	ClassNoSuchHost Class = "no-such-host"

	// ClassTimeout means the operation timed out (ambiguous; the device
	// may be alive but slow)
	ClassTimeout Class = "timeout"

	// ClassOther covers everything else
	ClassOther Class = "other"
)

// Terminal reports whether the failure class has no retry value within
// a single probe call. Refused, unreachable and name-not-found tell us
// the backing device is gone right now; probing again immediately
// cannot change that.
func (c Class) Terminal() bool {
	switch c {
	case ClassRefused, ClassUnreachable, ClassNoSuchHost:
		return true
	}
	return false
}

// Classify maps a transport error to its failure class
func Classify(err error) Class {
	if err == nil {
		return ClassOther
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ClassNoSuchHost
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return ClassRefused
	}
	if errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return ClassUnreachable
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTimeout
	}

	return ClassOther
}
