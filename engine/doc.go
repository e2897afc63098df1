// Package engine hosts the embedded interpreter behind the Engine interface
// and provides the wazero-backed implementation used in production.
//
// # Guest ABI
//
// A script is a core WebAssembly module following a small calling
// convention:
//
//   - it exports its linear memory as "memory"
//   - it exports "alloc(size: i32) -> i32" so the host can marshal payloads
//     into script memory through the script's own allocator
//   - it may export "gc()", invoked by reclamation passes
//   - host natives are imported from the "host" module; the set of natives
//     is supplied by the owning service at construction
//
// A dispatch handler registered through the set-callback native has the
// signature
//
//	(sender: i64, session: i64, kind: i32, ptr: i32, len: i32)
//
// where ptr/len describe the payload previously written via alloc. Faults
// are raised as traps and surface as errors from Invoke; they never unwind
// into the host.
//
// # Memory accounting
//
// Every byte of linear memory is approved by the configured MemoryPolicy
// before the instance may use it. A refused grow is converted into the
// engine's native failure path (memory.grow returns -1), so scripts observe
// an ordinary out-of-memory condition they can handle themselves.
package engine
