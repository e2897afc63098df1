package engine

import (
	"context"

	scripthost "github.com/wippyai/script-host"
)

// Engine is the minimal capability set the host requires from an embedded
// interpreter: load code at construction, resolve and invoke functions,
// marshal bytes across the boundary, run a reclamation pass, and surface the
// raw handle native trampolines will be called with.
//
// An Engine is exclusively owned by one actor for its entire lifetime and is
// not safe for concurrent use.
type Engine interface {
	// Handle returns the raw engine handle, the comparable value passed to
	// native trampolines and used as the registry key.
	Handle() scripthost.Handle

	// Resolve looks up a script-side function by its exported name.
	Resolve(name string) (scripthost.FuncRef, error)

	// Invoke calls a previously resolved function. A script-level fault is
	// returned as an error, never a panic; the engine remains usable
	// afterwards even though script state may be partially mutated.
	Invoke(ctx context.Context, ref scripthost.FuncRef, args ...uint64) error

	// ReadBytes copies length bytes out of script memory.
	ReadBytes(offset, length uint32) ([]byte, error)

	// WriteBytes allocates space inside script memory through the script's
	// own allocator and copies data into it, returning the script-side
	// pointer. A zero-length write returns pointer 0.
	WriteBytes(ctx context.Context, data []byte) (uint32, error)

	// Reclaim runs a garbage-collection pass if the script exposes one.
	Reclaim(ctx context.Context) error

	// Close destroys the interpreter instance and releases its memory.
	Close(ctx context.Context) error
}

// ValType is the engine-level value type of a native function parameter or
// result.
type ValType byte

const (
	I32 ValType = iota
	I64
)

// NativeFunc is a host function exposed to script code. Fn receives the raw
// engine handle of the calling instance plus the flattened argument stack;
// results are written back into the same stack. Returning an error raises a
// script-level fault in the caller.
type NativeFunc struct {
	Name    string
	Params  []ValType
	Results []ValType
	Fn      func(ctx context.Context, h scripthost.Handle, stack []uint64) error
}

// Options configures engine construction.
type Options struct {
	// Memory is the accounting policy every allocation the engine performs
	// is routed through. Nil disables accounting (unbounded).
	Memory scripthost.MemoryPolicy

	// Natives are bound under the host module namespace before the script
	// is instantiated.
	Natives []NativeFunc

	// HostModule is the import namespace for natives. Defaults to "host".
	HostModule string
}
