// Package registry provides the callback bookkeeping for script hosting: a
// table associating raw engine handles with their owning services, and the
// single-slot holder for a script's dispatch handler.
//
// Native trampoline functions receive only the raw engine handle; the table
// is how they recover the owning actor. Entries are back-references, not
// ownership: they must be removed before the owner (and its interpreter) is
// destroyed so in-flight trampoline calls cannot dangle.
package registry

import (
	"sync"

	scripthost "github.com/wippyai/script-host"
	"github.com/wippyai/script-host/errors"
)

// Table maps engine handles to their owners. Safe for concurrent use; in
// practice each entry is written by its owning actor during init/teardown and
// read by that actor's trampolines during dispatch, but the table itself is
// shared across all actors in the process.
type Table[O any] struct {
	mu     sync.RWMutex
	owners map[scripthost.Handle]O
}

// NewTable creates an empty handle table.
func NewTable[O any]() *Table[O] {
	return &Table[O]{owners: make(map[scripthost.Handle]O)}
}

// Bind registers the handle→owner association. Binding a handle twice is a
// host-runtime bug and fails with DuplicateBinding; callers treat it as
// fatal.
func (t *Table[O]) Bind(h scripthost.Handle, owner O) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.owners[h]; exists {
		return errors.DuplicateBinding(h)
	}
	t.owners[h] = owner
	return nil
}

// Unbind removes the association. Idempotent; safe during teardown even if
// the handle was never bound.
func (t *Table[O]) Unbind(h scripthost.Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.owners, h)
}

// Lookup resolves the owner of a handle.
func (t *Table[O]) Lookup(h scripthost.Handle) (O, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	owner, ok := t.owners[h]
	if !ok {
		var zero O
		return zero, errors.NotFound(errors.PhaseRegistry, "handle binding")
	}
	return owner, nil
}

// Len returns the number of live bindings.
func (t *Table[O]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.owners)
}

// Slot holds the single script-side dispatch handler for one actor. Set
// replaces any previous handler; from the script's perspective the swap is
// atomic. There is no unregister: a handler stays current until replaced.
type Slot[T any] struct {
	mu  sync.Mutex
	v   T
	set bool
}

// Set stores the handler, releasing the previous reference. Always succeeds.
func (s *Slot[T]) Set(handler T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v = handler
	s.set = true
}

// Get returns the current handler. ok is false before the first Set, which
// dispatch reports as a delivery error, not an initialization error.
func (s *Slot[T]) Get() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v, s.set
}
