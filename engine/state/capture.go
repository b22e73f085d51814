package state

import (
	"kairos/engine/models"
)

type accessKind int

const (
	accessRead accessKind = iota
	accessWrite
)

// notifier is the routing chain for container notifications. Each container
// prepends its own index within its owner and forwards; the root appends
// the finished tuple to its active accumulator.
type notifier interface {
	notify(suffix []Part, kind accessKind)
}

// Notifier is the exported handle container constructors accept as an owner.
// Only *Base, containers, and records satisfy it.
type Notifier interface {
	notifier
}

type captureMode int

const (
	captureNone captureMode = iota
	captureReads
	captureWrites
)

// Base is the root of an observed state tree. User root types embed it and
// hang observed containers off it via the container constructors. The
// read/write accumulators are scoped to the instance, not process-global, so
// multiple simulations may coexist.
type Base struct {
	mode captureMode
	acc  *AddrSet
}

// Root returns the base itself; it is how the engine reaches the capture
// machinery from an arbitrary user root type.
func (b *Base) Root() *Base { return b }

func (b *Base) notify(suffix []Part, kind accessKind) {
	switch b.mode {
	case captureReads:
		if kind != accessRead {
			return
		}
	case captureWrites:
		if kind != accessWrite {
			return
		}
	default:
		return
	}
	b.acc.Add(NewAddress(suffix...))
}

// RootState is the contract an observed user state root satisfies by
// embedding Base.
type RootState interface {
	Root() *Base
}

// WithReadCapture runs fn while recording every observed-container read into
// an ordered, first-occurrence-wins address set. Captures are scoped and
// non-reentrant: invoking a capture inside another fails without touching
// the outer accumulator.
func WithReadCapture[R any](root *Base, fn func() (R, error)) (R, *AddrSet, error) {
	var zero R
	if root.mode != captureNone {
		return zero, nil, models.ErrNestedCapture
	}
	acc := NewAddrSet()
	root.mode = captureReads
	root.acc = acc
	defer func() {
		root.mode = captureNone
		root.acc = nil
	}()
	res, err := fn()
	if err != nil {
		return zero, acc, err
	}
	return res, acc, nil
}

// WithWriteCapture runs fn while recording every observed-container write.
// Same scoping rules as WithReadCapture.
func WithWriteCapture[R any](root *Base, fn func() (R, error)) (R, *AddrSet, error) {
	var zero R
	if root.mode != captureNone {
		return zero, nil, models.ErrNestedCapture
	}
	acc := NewAddrSet()
	root.mode = captureWrites
	root.acc = acc
	defer func() {
		root.mode = captureNone
		root.acc = nil
	}()
	res, err := fn()
	if err != nil {
		return zero, acc, err
	}
	return res, acc, nil
}

// prepend builds the forwarded suffix for a child at part p.
func prepend(p Part, suffix []Part) []Part {
	out := make([]Part, 0, len(suffix)+1)
	out = append(out, p)
	out = append(out, suffix...)
	return out
}
