// Package service implements the per-actor script-hosting service: one
// message-driven execution unit that exclusively owns an embedded
// interpreter instance, accounts and bounds its memory, issues correlation
// ids for asynchronous request/response pairs, and honors a cooperative
// cross-thread trap signal at safe points.
//
// The service sits at the boundary between a message-passing runtime and a
// foreign execution engine running arbitrary, possibly faulting code.
// Nothing that happens inside the interpreter (a runaway allocation, a
// script-level fault) is allowed to compromise the host process or any
// other actor: allocation refusals become the script's own out-of-memory
// condition, and faults are contained at the dispatch boundary and reported
// as outcomes.
//
// The external runtime drives a service through Init, repeated Dispatch
// calls (never concurrent for the same instance), and Close. Script code
// reaches back into its host through the native functions in natives.go,
// each of which recovers the owning service from the raw engine handle via
// Get.
package service
