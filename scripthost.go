package scripthost

// Handle identifies one live interpreter instance. Native trampolines receive
// only the Handle and must recover the owning service through the registry;
// the Handle is a back-reference, never ownership. The underlying value must
// be comparable.
type Handle any

// FuncRef is an opaque reference to a script-side function, resolved and
// invoked only by the engine that produced it.
type FuncRef any

// MemoryPolicy is the accounting side of the engine's allocation hook.
// Reallocate approves or refuses a size change before the engine commits it;
// a refusal must leave the policy's state untouched. Free releases a live
// allocation and always succeeds.
type MemoryPolicy interface {
	Reallocate(oldSize, newSize uint64) error
	Free(oldSize uint64)
}
