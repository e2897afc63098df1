package engine

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
	"go.uber.org/zap"

	scripthost "github.com/wippyai/script-host"
	"github.com/wippyai/script-host/errors"
)

// Well-known guest exports probed at construction.
const (
	guestAlloc   = "alloc"
	guestReclaim = "gc"
)

// defaultHostModule is the import namespace natives are bound under.
const defaultHostModule = "host"

// wasmPageSize is the size of one linear memory page in bytes.
const wasmPageSize = 64 * 1024

// WazeroEngine implements Engine on a wazero-hosted WebAssembly guest. One
// engine owns one runtime and one module instance; it is never shared.
type WazeroEngine struct {
	runtime  wazero.Runtime
	mod      api.Module
	allocFn  api.Function
	gcFn     api.Function
	stackBuf []uint64
}

// New compiles and instantiates the guest. Every allocation the instance
// performs is routed through opts.Memory; construction fails if the guest
// cannot be compiled, its imports cannot be satisfied, or bootstrap
// allocation is refused.
func New(ctx context.Context, code []byte, opts Options) (*WazeroEngine, error) {
	r := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig())

	e := &WazeroEngine{
		runtime:  r,
		stackBuf: make([]uint64, 8),
	}

	if err := e.bindNatives(ctx, opts); err != nil {
		r.Close(ctx)
		return nil, err
	}

	compiled, err := r.CompileModule(ctx, code)
	if err != nil {
		r.Close(ctx)
		return nil, fmt.Errorf("compile failed: %w", err)
	}

	instCtx := ctx
	if opts.Memory != nil {
		// The initial commit is not a grow the guest can observe failing;
		// refuse it here so construction fails instead of the host.
		if err := checkInitialMemory(compiled, opts.Memory); err != nil {
			r.Close(ctx)
			return nil, err
		}
		instCtx = experimental.WithMemoryAllocator(ctx, &accountingAllocator{policy: opts.Memory})
	}

	mod, err := e.instantiate(instCtx, compiled)
	if err != nil {
		r.Close(ctx)
		return nil, err
	}
	e.mod = mod

	e.allocFn = mod.ExportedFunction(guestAlloc)
	e.gcFn = mod.ExportedFunction(guestReclaim)

	return e, nil
}

// checkInitialMemory approves the guest's declared minimum memory against
// the policy before instantiation commits it. The approval is released
// right away; the real charge happens through the allocator when the
// instance memory is built.
func checkInitialMemory(compiled wazero.CompiledModule, policy scripthost.MemoryPolicy) error {
	var min uint64
	for _, def := range compiled.ExportedMemories() {
		if bytes := uint64(def.Min()) * wasmPageSize; bytes > min {
			min = bytes
		}
	}
	for _, def := range compiled.ImportedMemories() {
		if bytes := uint64(def.Min()) * wasmPageSize; bytes > min {
			min = bytes
		}
	}
	if min == 0 {
		return nil
	}
	if err := policy.Reallocate(0, min); err != nil {
		return err
	}
	policy.Free(min)
	return nil
}

// instantiate builds the anonymous module instance: handles, not names,
// identify live instances. Instantiation panics (wazero raises one when the
// initial memory commit cannot be satisfied) are normalized into errors so
// a refused bootstrap never unwinds into the host.
func (e *WazeroEngine) instantiate(ctx context.Context, compiled wazero.CompiledModule) (mod api.Module, err error) {
	defer func() {
		if r := recover(); r != nil {
			mod = nil
			err = fmt.Errorf("instantiate failed: %v", r)
		}
	}()
	mod, err = e.runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return nil, fmt.Errorf("instantiate failed: %w", err)
	}
	return mod, nil
}

// bindNatives instantiates the host module exposing opts.Natives to the
// guest.
func (e *WazeroEngine) bindNatives(ctx context.Context, opts Options) error {
	if len(opts.Natives) == 0 {
		return nil
	}

	ns := opts.HostModule
	if ns == "" {
		ns = defaultHostModule
	}

	builder := e.runtime.NewHostModuleBuilder(ns)
	for _, n := range opts.Natives {
		if n.Name == "" || n.Fn == nil {
			return errors.InvalidInput(errors.PhaseEngine, "native function needs a name and a body")
		}
		builder = builder.NewFunctionBuilder().
			WithGoModuleFunction(wrapNative(n), valueTypes(n.Params), valueTypes(n.Results)).
			Export(n.Name)
	}

	if _, err := builder.Instantiate(ctx); err != nil {
		return fmt.Errorf("bind natives: %w", err)
	}
	return nil
}

// wrapNative adapts a NativeFunc to wazero's host calling convention. An
// error from the trampoline aborts the in-flight script call; wazero
// converts the panic into an error returned from Invoke, so the fault never
// unwinds past the dispatch boundary.
func wrapNative(n NativeFunc) api.GoModuleFunc {
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		if err := n.Fn(ctx, mod, stack); err != nil {
			panic(err)
		}
	}
}

func valueTypes(vts []ValType) []api.ValueType {
	if len(vts) == 0 {
		return nil
	}
	out := make([]api.ValueType, len(vts))
	for i, vt := range vts {
		switch vt {
		case I64:
			out[i] = api.ValueTypeI64
		default:
			out[i] = api.ValueTypeI32
		}
	}
	return out
}

// Handle returns the module instance; it is the value native trampolines
// receive and the registry key for this engine.
func (e *WazeroEngine) Handle() scripthost.Handle {
	return e.mod
}

// Resolve looks up an exported guest function.
func (e *WazeroEngine) Resolve(name string) (scripthost.FuncRef, error) {
	fn := e.mod.ExportedFunction(name)
	if fn == nil {
		return nil, errors.NotFound(errors.PhaseEngine, fmt.Sprintf("export %q", name))
	}
	return fn, nil
}

// Invoke calls a resolved guest function. Traps and aborted host calls come
// back as errors; the instance stays usable.
func (e *WazeroEngine) Invoke(ctx context.Context, ref scripthost.FuncRef, args ...uint64) error {
	fn, ok := ref.(api.Function)
	if !ok || fn == nil {
		return errors.InvalidInput(errors.PhaseEngine, "func ref does not belong to this engine")
	}
	if _, err := fn.Call(ctx, args...); err != nil {
		return err
	}
	return nil
}

// ReadBytes copies bytes out of guest linear memory. The returned slice is a
// copy, valid after the guest runs again.
func (e *WazeroEngine) ReadBytes(offset, length uint32) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}
	mem := e.mod.Memory()
	if mem == nil {
		return nil, errors.NotFound(errors.PhaseEngine, "guest memory")
	}
	data, ok := mem.Read(offset, length)
	if !ok {
		return nil, errors.InvalidInput(errors.PhaseEngine,
			fmt.Sprintf("read out of bounds: offset=%d, length=%d", offset, length))
	}
	out := make([]byte, length)
	copy(out, data)
	return out, nil
}

// WriteBytes copies data into guest memory through the guest's exported
// allocator, so the accounting hook observes the allocation like any other.
func (e *WazeroEngine) WriteBytes(ctx context.Context, data []byte) (uint32, error) {
	if len(data) == 0 {
		return 0, nil
	}
	if e.allocFn == nil {
		return 0, errors.NotFound(errors.PhaseEngine, fmt.Sprintf("guest export %q", guestAlloc))
	}

	e.stackBuf[0] = uint64(len(data))
	if err := e.allocFn.CallWithStack(ctx, e.stackBuf[:1]); err != nil {
		return 0, fmt.Errorf("guest alloc: %w", err)
	}
	ptr := uint32(e.stackBuf[0])

	mem := e.mod.Memory()
	if mem == nil || !mem.Write(ptr, data) {
		return 0, errors.InvalidInput(errors.PhaseEngine,
			fmt.Sprintf("write out of bounds: ptr=%d, length=%d", ptr, len(data)))
	}
	return ptr, nil
}

// Reclaim runs the guest's collection pass when it exports one.
func (e *WazeroEngine) Reclaim(ctx context.Context) error {
	if e.gcFn == nil {
		debugf("reclaim requested but guest exports no %q", guestReclaim)
		return nil
	}
	if _, err := e.gcFn.Call(ctx); err != nil {
		return fmt.Errorf("guest gc: %w", err)
	}
	return nil
}

// Close tears down the instance and its runtime. Idempotent.
func (e *WazeroEngine) Close(ctx context.Context) error {
	if e.runtime == nil {
		return nil
	}
	err := e.runtime.Close(ctx)
	e.runtime = nil
	e.mod = nil
	e.allocFn = nil
	e.gcFn = nil
	if err != nil {
		Logger().Warn("engine close", zap.Error(err))
	}
	return err
}

// Compile-time check that WazeroEngine implements Engine
var _ Engine = (*WazeroEngine)(nil)
