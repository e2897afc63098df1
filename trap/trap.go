// Package trap provides the cooperative cancellation signal for one actor.
// Any thread may set the signal without synchronizing with the actor; the
// actor observes it only at safe points (the start of a dispatch, and
// engine-defined checkpoints during long script runs). This gives
// bounded-latency cooperative cancellation, not preemption: a script that
// never reaches a safe point is not stopped by this mechanism alone.
package trap

import "sync/atomic"

// State is the control word value.
type State int32

const (
	// Normal means no request is pending.
	Normal State = 0
	// Interrupt requests that the next dispatch be skipped and reported as
	// undelivered.
	Interrupt State = 1
	// Reclaim requests a reclamation pass on the interpreter before the next
	// dispatch proceeds.
	Reclaim State = 2
)

func (s State) String() string {
	switch s {
	case Normal:
		return "normal"
	case Interrupt:
		return "interrupt"
	case Reclaim:
		return "reclaim"
	default:
		return "unknown"
	}
}

// Signal is an atomic tri-state control word. The zero value is Normal and
// ready to use. Writers and the single reader never block each other.
type Signal struct {
	v atomic.Int32
}

// Set stores the requested state. Callable from any thread.
func (s *Signal) Set(state State) {
	s.v.Store(int32(state))
}

// Load returns the current state.
func (s *Signal) Load() State {
	return State(s.v.Load())
}

// Clear resets the signal to Normal only if it still holds expected,
// reporting whether it did. The owning actor uses it so a new request raised
// while it was acting on the previous one is not lost.
func (s *Signal) Clear(expected State) bool {
	return s.v.CompareAndSwap(int32(expected), int32(Normal))
}
