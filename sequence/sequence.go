// Package sequence issues correlation identifiers for one actor instance.
// Script code embeds an id in an outgoing request and matches it on the
// eventual reply; this package only guarantees uniqueness and ordering, not
// delivery.
package sequence

import "math"

// Allocator issues strictly increasing 64-bit correlation ids. The zero value
// is ready to use; the first id is 1 (0 is reserved to mean "no correlation").
// Ids are never reused, even after the correlated exchange completes.
//
// Next is called only from the owning actor's thread.
type Allocator struct {
	current int64
}

// Next returns the next unused correlation id. Overflowing 64 bits is fatal
// misuse (an actor would need centuries of continuous allocation to get
// there) and panics rather than reissuing an id.
func (a *Allocator) Next() int64 {
	if a.current == math.MaxInt64 {
		panic("sequence: correlation id overflow")
	}
	a.current++
	return a.current
}

// Current returns the most recently issued id, 0 if none.
func (a *Allocator) Current() int64 {
	return a.current
}
