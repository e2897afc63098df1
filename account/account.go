// Package account implements the memory accounting policy for one embedded
// interpreter instance: a live byte count, a hard ceiling, and a one-shot
// reporting threshold. The policy is engine-agnostic; the engine package
// adapts it to the interpreter's allocation hook.
package account

import (
	"sync/atomic"

	scripthost "github.com/wippyai/script-host"
	"github.com/wippyai/script-host/errors"
)

// DefaultReportThreshold is the reporting threshold applied when the owner
// does not configure one.
const DefaultReportThreshold = 8 << 20 // 8 MiB

// NotifyFunc is called when the live byte count crosses the report threshold.
// above is true for an upward crossing. Called on the owning actor's thread,
// inside the allocation that caused the crossing; keep it cheap.
type NotifyFunc func(current uint64, above bool)

// Accountant tracks live bytes for one interpreter instance and enforces the
// per-actor ceiling. It is the sole approval point: current always equals the
// sum of still-live allocations it has approved.
//
// Mutations happen only on the owning actor's thread; the current counter is
// atomic so supervisors on other threads can sample it.
type Accountant struct {
	current   atomic.Uint64
	hardLimit uint64 // 0 = unbounded
	threshold uint64
	above     bool
	notify    NotifyFunc
}

// New creates an accountant. hardLimit 0 means unbounded; threshold 0 applies
// DefaultReportThreshold. notify may be nil.
func New(hardLimit, threshold uint64, notify NotifyFunc) *Accountant {
	if threshold == 0 {
		threshold = DefaultReportThreshold
	}
	return &Accountant{
		hardLimit: hardLimit,
		threshold: threshold,
		notify:    notify,
	}
}

// Reallocate approves or refuses a size change for one allocation. A grow
// beyond the hard limit is refused without mutating state; the engine is
// responsible for converting the refusal into its own out-of-memory path.
// Shrinks and frees always succeed.
func (a *Accountant) Reallocate(oldSize, newSize uint64) error {
	cur := a.current.Load()

	if newSize > oldSize {
		grow := newSize - oldSize
		if a.hardLimit != 0 && cur+grow > a.hardLimit {
			return errors.AllocationRefused(grow, a.hardLimit)
		}
		a.set(cur + grow)
		return nil
	}

	shrink := oldSize - newSize
	if shrink > cur {
		// More freed than approved would mean the adapter double-counted.
		shrink = cur
	}
	a.set(cur - shrink)
	return nil
}

// Free releases a live allocation of oldSize bytes. Always succeeds.
func (a *Accountant) Free(oldSize uint64) {
	_ = a.Reallocate(oldSize, 0)
}

// Current returns the live byte count. Safe to call from any thread.
func (a *Accountant) Current() uint64 {
	return a.current.Load()
}

// HardLimit returns the configured ceiling, 0 when unbounded.
func (a *Accountant) HardLimit() uint64 {
	return a.hardLimit
}

// Compile-time check that Accountant implements scripthost.MemoryPolicy
var _ scripthost.MemoryPolicy = (*Accountant)(nil)

// set stores the new total and emits at most one notification per threshold
// crossing in either direction.
func (a *Accountant) set(next uint64) {
	a.current.Store(next)

	nowAbove := next >= a.threshold
	if nowAbove == a.above {
		return
	}
	a.above = nowAbove
	if a.notify != nil {
		a.notify(next, nowAbove)
	}
}
