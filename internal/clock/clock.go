// Package clock gives every time-sensitive subsystem (agent offline
// derivation, gateway backoff, SSE polling cursors) an injectable clock so
// their tests don't depend on wall-clock sleeps, mirroring the way
// facebookgo/clock is used to make Temporal's own SDK internals testable.
package clock

import "github.com/facebookgo/clock"

// Clock is the subset of facebookgo/clock.Clock the control plane depends
// on. Production code takes clock.New(); tests take clock.NewMock().
type Clock = clock.Clock

// New returns the real wall clock.
func New() Clock { return clock.New() }

// NewMock returns a fake clock tests can advance deterministically.
func NewMock() *clock.Mock { return clock.NewMock() }
