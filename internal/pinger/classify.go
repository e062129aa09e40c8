package pinger

import (
	"errors"
	"net"
	"os"
	"syscall"
)

// outcome is the verdict of a single probe.
type outcome int

const (
	// outcomeFailed is an unanswered probe, the next attempt may succeed.
	outcomeFailed outcome = iota
	// outcomeAlive means the host answered, possibly with a reset.
	outcomeAlive
	// outcomeDead means no route to the host exists, further attempts are
	// pointless.
	outcomeDead
)

func (o outcome) String() string {
	switch o {
	case outcomeAlive:
		return "alive"
	case outcomeDead:
		return "dead"
	default:
		return "failed"
	}
}

// deadErrnos are errors after which the host cannot be reached at all.
var deadErrnos = []error{
	syscall.EHOSTUNREACH,
	syscall.ENETUNREACH,
	syscall.EHOSTDOWN,
	syscall.EINVAL,
	syscall.EADDRNOTAVAIL,
}

// classify maps a dial, write or read error to a probe outcome.
func classify(err error) outcome {
	if err == nil {
		return outcomeAlive
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return outcomeAlive
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return outcomeFailed
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return outcomeFailed
	}
	if errors.Is(err, net.ErrClosed) {
		return outcomeDead
	}
	for _, errno := range deadErrnos {
		if errors.Is(err, errno) {
			return outcomeDead
		}
	}
	return outcomeFailed
}
