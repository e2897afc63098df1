package service

import (
	"context"

	scripthost "github.com/wippyai/script-host"
	"github.com/wippyai/script-host/engine"
	"github.com/wippyai/script-host/errors"
	"github.com/wippyai/script-host/trap"
)

// Native function names bound under the engine's host module.
const (
	// NativeSetCallback registers the script's dispatch handler:
	// set-callback(ptr: i32, len: i32), where ptr/len name an exported
	// function. Replaces any previously registered handler.
	NativeSetCallback = "set-callback"

	// NativeNextSequence issues the next correlation id:
	// next-sequence() -> i64.
	NativeNextSequence = "next-sequence"

	// NativeCheckpoint is a safe point long-running scripts call to observe
	// the trap signal mid-run: checkpoint().
	NativeCheckpoint = "checkpoint"

	// NativeFail raises a script-level fault with a description:
	// fail(ptr: i32, len: i32).
	NativeFail = "fail"
)

// natives returns the host functions every hosted script imports. The
// trampolines recover their owning service from the raw handle, so no state
// is captured here and the same set serves every instance.
func natives() []engine.NativeFunc {
	return []engine.NativeFunc{
		{
			Name:   NativeSetCallback,
			Params: []engine.ValType{engine.I32, engine.I32},
			Fn:     setCallback,
		},
		{
			Name:    NativeNextSequence,
			Results: []engine.ValType{engine.I64},
			Fn:      nextSequence,
		},
		{
			Name: NativeCheckpoint,
			Fn:   checkpoint,
		},
		{
			Name:   NativeFail,
			Params: []engine.ValType{engine.I32, engine.I32},
			Fn:     fail,
		},
	}
}

// setCallback resolves the named export and installs it as the dispatch
// handler. Replace-or-set semantics: registering again swaps the handler
// atomically from the script's perspective.
func setCallback(_ context.Context, h scripthost.Handle, stack []uint64) error {
	svc, err := Get(h)
	if err != nil {
		return err
	}

	name, err := svc.eng.ReadBytes(uint32(stack[0]), uint32(stack[1]))
	if err != nil {
		return errors.InvalidInput(errors.PhaseRegistry, "handler name out of bounds")
	}

	ref, err := svc.eng.Resolve(string(name))
	if err != nil {
		return err
	}

	svc.handler.Set(ref)
	return nil
}

// nextSequence returns the next correlation id for the calling actor.
func nextSequence(_ context.Context, h scripthost.Handle, stack []uint64) error {
	svc, err := Get(h)
	if err != nil {
		return err
	}
	stack[0] = uint64(svc.seq.Next())
	return nil
}

// checkpoint observes the trap signal at a script-chosen safe point. An
// interrupt request aborts the in-flight call, which Dispatch reports as
// Interrupted rather than a fault; a reclaim request runs a collection pass
// inline and execution continues.
func checkpoint(ctx context.Context, h scripthost.Handle, stack []uint64) error {
	svc, err := Get(h)
	if err != nil {
		return err
	}

	switch svc.trap.Load() {
	case trap.Interrupt:
		svc.interrupted = true
		svc.trap.Clear(trap.Interrupt)
		return errors.Interrupted()
	case trap.Reclaim:
		svc.trap.Clear(trap.Reclaim)
		return svc.eng.Reclaim(ctx)
	}
	return nil
}

// fail raises a script-level fault carrying a description read from script
// memory. The fault is contained at the dispatch boundary like any other.
func fail(_ context.Context, h scripthost.Handle, stack []uint64) error {
	svc, err := Get(h)
	if err != nil {
		return err
	}

	desc, err := svc.eng.ReadBytes(uint32(stack[0]), uint32(stack[1]))
	if err != nil {
		return errors.InvalidInput(errors.PhaseDispatch, "fault description out of bounds")
	}
	return errors.New(errors.PhaseDispatch, errors.KindHandlerFault, string(desc))
}
