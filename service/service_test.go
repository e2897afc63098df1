package service

import (
	"context"
	"strings"
	"testing"

	scripthost "github.com/wippyai/script-host"
	"github.com/wippyai/script-host/engine"
	"github.com/wippyai/script-host/errors"
	"github.com/wippyai/script-host/trap"
)

// fakeEngine scripts the Engine contract so dispatch semantics can be tested
// without a real interpreter. Resolve hands out the export name itself as
// the func ref; Invoke records calls and defers to hook when set.
type fakeEngine struct {
	exports map[string]bool
	mem     []byte

	invoked []fakeCall
	hook    func(ctx context.Context, ref scripthost.FuncRef, args []uint64) error

	writes   [][]byte
	reclaims int
	closed   bool
}

type fakeCall struct {
	ref  scripthost.FuncRef
	args []uint64
}

func newFakeEngine(exports ...string) *fakeEngine {
	e := &fakeEngine{exports: make(map[string]bool), mem: make([]byte, 4096)}
	for _, name := range exports {
		e.exports[name] = true
	}
	return e
}

func (e *fakeEngine) factory(context.Context, []byte, engine.Options) (engine.Engine, error) {
	return e, nil
}

func (e *fakeEngine) Handle() scripthost.Handle { return e }

func (e *fakeEngine) Resolve(name string) (scripthost.FuncRef, error) {
	if !e.exports[name] {
		return nil, errors.NotFound(errors.PhaseEngine, "export "+name)
	}
	return name, nil
}

func (e *fakeEngine) Invoke(ctx context.Context, ref scripthost.FuncRef, args ...uint64) error {
	e.invoked = append(e.invoked, fakeCall{ref: ref, args: args})
	if e.hook != nil {
		return e.hook(ctx, ref, args)
	}
	return nil
}

func (e *fakeEngine) ReadBytes(offset, length uint32) ([]byte, error) {
	if int(offset)+int(length) > len(e.mem) {
		return nil, errors.InvalidInput(errors.PhaseEngine, "read out of bounds")
	}
	out := make([]byte, length)
	copy(out, e.mem[offset:])
	return out, nil
}

func (e *fakeEngine) WriteBytes(_ context.Context, data []byte) (uint32, error) {
	if len(data) == 0 {
		return 0, nil
	}
	e.writes = append(e.writes, append([]byte(nil), data...))
	return 1024, nil
}

func (e *fakeEngine) Reclaim(context.Context) error {
	e.reclaims++
	return nil
}

func (e *fakeEngine) Close(context.Context) error {
	e.closed = true
	return nil
}

// poke writes bytes into fake script memory and returns (ptr, len) stack
// values for natives that read their arguments out of it.
func (e *fakeEngine) poke(offset uint32, s string) []uint64 {
	copy(e.mem[offset:], s)
	return []uint64{uint64(offset), uint64(len(s))}
}

func newReadyService(t *testing.T, eng *fakeEngine) *Service {
	t.Helper()

	svc, err := New(Config{NewEngine: eng.factory})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := svc.Init(context.Background()); err != nil {
		t.Fatalf("Init() error: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close(context.Background()) })
	return svc
}

func TestInitBindsHandle(t *testing.T) {
	eng := newFakeEngine()
	svc := newReadyService(t, eng)

	if got := svc.State(); got != StateReady {
		t.Errorf("State() = %q, want %q", got, StateReady)
	}
	owner, err := Get(eng.Handle())
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if owner != svc {
		t.Error("Get() should resolve the owning service")
	}
}

func TestInitCallableOnce(t *testing.T) {
	svc := newReadyService(t, newFakeEngine())

	if err := svc.Init(context.Background()); err == nil {
		t.Fatal("second Init() should fail")
	}
}

func TestInitConstructionFailure(t *testing.T) {
	boom := errors.New(errors.PhaseInit, errors.KindInvalidInput, "bad code")
	svc, err := New(Config{
		NewEngine: func(context.Context, []byte, engine.Options) (engine.Engine, error) {
			return nil, boom
		},
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	err = svc.Init(context.Background())
	if err == nil {
		t.Fatal("Init() should fail when construction fails")
	}
	if !errors.Is(err, errors.InitFailure(nil, "")) {
		t.Errorf("err = %v, want init-failure", err)
	}
	if svc.State() != StateUninitialized {
		t.Errorf("State() = %q, want %q", svc.State(), StateUninitialized)
	}
}

func TestInitRunsGuestEntry(t *testing.T) {
	eng := newFakeEngine(guestEntry)
	newReadyService(t, eng)

	if len(eng.invoked) != 1 || eng.invoked[0].ref != guestEntry {
		t.Fatalf("Init() should invoke the guest entry once, got %v", eng.invoked)
	}
}

func TestInitGuestEntryFault(t *testing.T) {
	eng := newFakeEngine(guestEntry)
	eng.hook = func(context.Context, scripthost.FuncRef, []uint64) error {
		return errors.New(errors.PhaseDispatch, errors.KindHandlerFault, "entry trap")
	}

	svc, err := New(Config{NewEngine: eng.factory})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := svc.Init(context.Background()); err == nil {
		t.Fatal("Init() should fail when the guest entry faults")
	}
	if svc.State() != StateUninitialized {
		t.Errorf("State() = %q, want %q", svc.State(), StateUninitialized)
	}
	if !eng.closed {
		t.Error("failed init should close the engine")
	}
	if _, err := Get(eng.Handle()); err == nil {
		t.Error("failed init should leave no handle binding")
	}
}

func TestDispatchBeforeInit(t *testing.T) {
	svc, err := New(Config{NewEngine: newFakeEngine().factory})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	_, err = svc.Dispatch(context.Background(), Message{})
	if !errors.Is(err, errors.NotInitialized("")) {
		t.Errorf("Dispatch() before Init = %v, want not-initialized", err)
	}
}

func TestDispatchNoHandler(t *testing.T) {
	eng := newFakeEngine()
	svc := newReadyService(t, eng)

	outcome, err := svc.Dispatch(context.Background(), Message{Sender: 1})
	if outcome != NoHandler {
		t.Errorf("outcome = %v, want %v", outcome, NoHandler)
	}
	if !errors.Is(err, errors.NoHandler()) {
		t.Errorf("err = %v, want no-handler", err)
	}
	if len(eng.invoked) != 0 {
		t.Error("no-handler dispatch must never invoke the interpreter")
	}
}

func TestDispatchDelivered(t *testing.T) {
	eng := newFakeEngine("on-message")
	svc := newReadyService(t, eng)
	svc.handler.Set(scripthost.FuncRef("on-message"))

	msg := Message{Sender: 7, Session: 3, Kind: 2, Payload: []byte("ping")}
	outcome, err := svc.Dispatch(context.Background(), msg)
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}
	if outcome != Delivered {
		t.Fatalf("outcome = %v, want %v", outcome, Delivered)
	}
	if svc.State() != StateReady {
		t.Errorf("State() after dispatch = %q, want %q", svc.State(), StateReady)
	}

	if len(eng.writes) != 1 || string(eng.writes[0]) != "ping" {
		t.Fatalf("payload writes = %q, want [ping]", eng.writes)
	}
	if len(eng.invoked) != 1 {
		t.Fatalf("invocations = %d, want 1", len(eng.invoked))
	}
	call := eng.invoked[0]
	if call.ref != "on-message" {
		t.Errorf("invoked %v, want on-message", call.ref)
	}
	want := []uint64{7, 3, 2, 1024, 4}
	for i, arg := range call.args {
		if arg != want[i] {
			t.Errorf("arg[%d] = %d, want %d", i, arg, want[i])
		}
	}
}

func TestDispatchHandlerFault(t *testing.T) {
	eng := newFakeEngine("on-message")
	svc := newReadyService(t, eng)
	svc.handler.Set(scripthost.FuncRef("on-message"))

	faults := 1
	eng.hook = func(context.Context, scripthost.FuncRef, []uint64) error {
		if faults > 0 {
			faults--
			return errors.New(errors.PhaseDispatch, errors.KindHandlerFault, "script blew up")
		}
		return nil
	}

	outcome, err := svc.Dispatch(context.Background(), Message{})
	if outcome != HandlerFault {
		t.Fatalf("outcome = %v, want %v", outcome, HandlerFault)
	}
	if !errors.Is(err, errors.HandlerFault(nil)) {
		t.Errorf("err = %v, want handler-fault", err)
	}

	// The fault is contained: the same instance keeps dispatching.
	outcome, err = svc.Dispatch(context.Background(), Message{})
	if err != nil || outcome != Delivered {
		t.Errorf("dispatch after fault = (%v, %v), want (%v, nil)", outcome, err, Delivered)
	}
}

func TestDispatchInterrupted(t *testing.T) {
	eng := newFakeEngine("on-message")
	svc := newReadyService(t, eng)
	svc.handler.Set(scripthost.FuncRef("on-message"))

	svc.Trap().Set(trap.Interrupt)
	outcome, err := svc.Dispatch(context.Background(), Message{})
	if outcome != Interrupted {
		t.Fatalf("outcome = %v, want %v", outcome, Interrupted)
	}
	if !errors.Is(err, errors.Interrupted()) {
		t.Errorf("err = %v, want interrupted", err)
	}
	if len(eng.invoked) != 0 {
		t.Error("interrupted dispatch must not invoke the handler")
	}

	// The caller owns the reset; clearing it lets the next message through.
	svc.Trap().Set(trap.Normal)
	outcome, err = svc.Dispatch(context.Background(), Message{})
	if err != nil || outcome != Delivered {
		t.Errorf("dispatch after reset = (%v, %v), want (%v, nil)", outcome, err, Delivered)
	}
}

func TestDispatchReclaim(t *testing.T) {
	eng := newFakeEngine("on-message")
	svc := newReadyService(t, eng)
	svc.handler.Set(scripthost.FuncRef("on-message"))

	svc.Trap().Set(trap.Reclaim)
	outcome, err := svc.Dispatch(context.Background(), Message{})
	if err != nil || outcome != Delivered {
		t.Fatalf("Dispatch() = (%v, %v), want (%v, nil)", outcome, err, Delivered)
	}
	if eng.reclaims != 1 {
		t.Errorf("reclaims = %d, want 1", eng.reclaims)
	}
	if got := svc.Trap().Load(); got != trap.Normal {
		t.Errorf("trap after reclaim = %v, want %v", got, trap.Normal)
	}
}

func TestDispatchRejectsReentry(t *testing.T) {
	eng := newFakeEngine("on-message")
	svc := newReadyService(t, eng)
	svc.handler.Set(scripthost.FuncRef("on-message"))

	var innerErr error
	eng.hook = func(ctx context.Context, _ scripthost.FuncRef, _ []uint64) error {
		_, innerErr = svc.Dispatch(ctx, Message{})
		return nil
	}

	if _, err := svc.Dispatch(context.Background(), Message{}); err != nil {
		t.Fatalf("outer Dispatch() error: %v", err)
	}
	if innerErr == nil {
		t.Fatal("re-entrant Dispatch() should be rejected")
	}
}

func TestSetCallbackNativeReplaces(t *testing.T) {
	eng := newFakeEngine("handler-one", "handler-two")
	svc := newReadyService(t, eng)
	ctx := context.Background()

	if err := setCallback(ctx, eng.Handle(), eng.poke(16, "handler-one")); err != nil {
		t.Fatalf("setCallback(handler-one) error: %v", err)
	}
	if err := setCallback(ctx, eng.Handle(), eng.poke(64, "handler-two")); err != nil {
		t.Fatalf("setCallback(handler-two) error: %v", err)
	}

	if _, err := svc.Dispatch(ctx, Message{}); err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}
	if len(eng.invoked) != 1 || eng.invoked[0].ref != "handler-two" {
		t.Fatalf("invoked %v, want exactly [handler-two]", eng.invoked)
	}
}

func TestSetCallbackNativeUnknownExport(t *testing.T) {
	eng := newFakeEngine()
	newReadyService(t, eng)

	err := setCallback(context.Background(), eng.Handle(), eng.poke(16, "nope"))
	if err == nil {
		t.Fatal("setCallback() should fail for an unknown export")
	}
}

func TestNextSequenceNative(t *testing.T) {
	eng := newFakeEngine()
	newReadyService(t, eng)
	ctx := context.Background()

	stack := make([]uint64, 1)
	for want := int64(1); want <= 3; want++ {
		if err := nextSequence(ctx, eng.Handle(), stack); err != nil {
			t.Fatalf("nextSequence() error: %v", err)
		}
		if got := int64(stack[0]); got != want {
			t.Errorf("nextSequence() = %d, want %d", got, want)
		}
	}
}

func TestNativesWithoutBinding(t *testing.T) {
	// A trampoline called with a handle nobody bound is a host-runtime bug
	// and must fail loudly rather than touch another actor's state.
	stack := make([]uint64, 2)
	if err := nextSequence(context.Background(), "stray", stack); err == nil {
		t.Error("nextSequence() with an unbound handle should fail")
	}
	if err := setCallback(context.Background(), "stray", stack); err == nil {
		t.Error("setCallback() with an unbound handle should fail")
	}
}

func TestCheckpointNativeInterrupt(t *testing.T) {
	eng := newFakeEngine("on-message")
	svc := newReadyService(t, eng)
	svc.handler.Set(scripthost.FuncRef("on-message"))

	eng.hook = func(ctx context.Context, _ scripthost.FuncRef, _ []uint64) error {
		return checkpoint(ctx, eng.Handle(), nil)
	}

	svc.Trap().Set(trap.Interrupt)
	outcome, err := svc.Dispatch(context.Background(), Message{})
	if outcome != Interrupted {
		t.Fatalf("outcome = %v, want %v", outcome, Interrupted)
	}
	if !errors.Is(err, errors.Interrupted()) {
		t.Errorf("err = %v, want interrupted", err)
	}
	if got := svc.Trap().Load(); got != trap.Normal {
		t.Errorf("trap after checkpoint = %v, want %v", got, trap.Normal)
	}

	// Nothing pending: the checkpoint is free and the call completes.
	outcome, err = svc.Dispatch(context.Background(), Message{})
	if err != nil || outcome != Delivered {
		t.Errorf("dispatch after interrupt = (%v, %v), want (%v, nil)", outcome, err, Delivered)
	}
}

func TestCheckpointNativeReclaim(t *testing.T) {
	eng := newFakeEngine("on-message")
	svc := newReadyService(t, eng)
	svc.handler.Set(scripthost.FuncRef("on-message"))

	// Raise the request mid-run, after the dispatch-start check has passed,
	// so the checkpoint is the safe point that observes it.
	eng.hook = func(ctx context.Context, _ scripthost.FuncRef, _ []uint64) error {
		svc.Trap().Set(trap.Reclaim)
		return checkpoint(ctx, eng.Handle(), nil)
	}

	outcome, err := svc.Dispatch(context.Background(), Message{})
	if err != nil || outcome != Delivered {
		t.Fatalf("Dispatch() = (%v, %v), want (%v, nil)", outcome, err, Delivered)
	}
	if eng.reclaims != 1 {
		t.Errorf("reclaims = %d, want 1", eng.reclaims)
	}
}

func TestFailNative(t *testing.T) {
	eng := newFakeEngine("on-message")
	svc := newReadyService(t, eng)
	svc.handler.Set(scripthost.FuncRef("on-message"))

	stack := eng.poke(128, "kaboom")
	eng.hook = func(ctx context.Context, _ scripthost.FuncRef, _ []uint64) error {
		return fail(ctx, eng.Handle(), stack)
	}

	outcome, err := svc.Dispatch(context.Background(), Message{})
	if outcome != HandlerFault {
		t.Fatalf("outcome = %v, want %v", outcome, HandlerFault)
	}
	if err == nil || !strings.Contains(err.Error(), "kaboom") {
		t.Errorf("err = %v, want the script's fault description", err)
	}
}

func TestCloseTearsDown(t *testing.T) {
	eng := newFakeEngine()
	svc := newReadyService(t, eng)
	ctx := context.Background()

	if err := svc.Close(ctx); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if svc.State() != StateTerminated {
		t.Errorf("State() = %q, want %q", svc.State(), StateTerminated)
	}
	if !eng.closed {
		t.Error("Close() should close the engine")
	}
	if _, err := Get(eng.Handle()); err == nil {
		t.Error("Close() should remove the handle binding")
	}

	if _, err := svc.Dispatch(ctx, Message{}); !errors.Is(err, errors.Terminated("")) {
		t.Errorf("Dispatch() after Close = %v, want terminated", err)
	}
	if err := svc.Close(ctx); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
}
