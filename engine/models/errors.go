package models

import (
	"errors"
	"fmt"
	"strings"
)

// Domain-specific errors for the simulation core
var (
	// Capture / container contract errors
	ErrNestedCapture = errors.New("capture scope already active")
	ErrAlreadyOwned  = errors.New("compound element already owned by another slot")

	// Event contract errors
	ErrMalformedClock  = errors.New("enable returned a malformed distribution/time pair")
	ErrUnknownEventTag = errors.New("event tag not registered")
	ErrDuplicateKey    = errors.New("clock key already present in enabled table")

	// Driver invariant errors
	ErrUnknownClockKey = errors.New("sampler yielded a key not in the enabled table")
	ErrKeySetDiverged  = errors.New("enabled/deps/sampler key sets diverged")

	// Replay errors
	ErrTraceEventNotEnabled = errors.New("trace names an event that is not enabled")
	ErrTraceTimeRegressed   = errors.New("trace time is earlier than current time")
)

// SimError wraps errors with the key, phase and addresses involved so a
// fatal trajectory abort is diagnosable.
type SimError struct {
	Key   ClockKey
	Phase string
	Addrs []string
	Err   error
}

func (e *SimError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %v", e.Phase, e.Err)
	if e.Key != (ClockKey{}) {
		fmt.Fprintf(&b, " (key=%s)", e.Key)
	}
	if len(e.Addrs) > 0 {
		fmt.Fprintf(&b, " (addrs=%s)", strings.Join(e.Addrs, ","))
	}
	return b.String()
}

func (e *SimError) Unwrap() error {
	return e.Err
}

// NewSimError creates a new SimError with context.
func NewSimError(key ClockKey, phase string, err error, addrs ...string) *SimError {
	return &SimError{
		Key:   key,
		Phase: phase,
		Addrs: addrs,
		Err:   err,
	}
}
