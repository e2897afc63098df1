package service

import (
	"context"

	"github.com/robbyt/go-fsm"
	"go.uber.org/zap"

	scripthost "github.com/wippyai/script-host"
	"github.com/wippyai/script-host/account"
	"github.com/wippyai/script-host/engine"
	"github.com/wippyai/script-host/errors"
	"github.com/wippyai/script-host/registry"
	"github.com/wippyai/script-host/sequence"
	"github.com/wippyai/script-host/trap"
)

// guestEntry is the guest's optional initializer export, invoked once during
// Init after the handle binding exists. Scripts use it to register their
// dispatch handler and do one-time setup, the way an interpreted script runs
// its top-level code at load.
const guestEntry = "_initialize"

// owners is the process-wide handle table. Native trampolines receive only
// the raw engine handle and recover the owning service through it.
var owners = registry.NewTable[*Service]()

// Get resolves the service owning a raw engine handle. Every native
// trampoline starts here.
func Get(h scripthost.Handle) (*Service, error) {
	return owners.Lookup(h)
}

// Message is one inbound envelope addressed to the hosted script. Session
// carries the correlation id when the message answers an earlier outgoing
// request; 0 means no correlation.
type Message struct {
	Sender  int64
	Session int64
	Kind    uint32
	Payload []byte
}

// Outcome classifies what happened to one dispatched message. The caller
// decides retry/drop policy; none of these kill the actor.
type Outcome int

const (
	// Delivered means the handler ran to completion.
	Delivered Outcome = iota
	// NoHandler means the script has not registered a dispatch handler yet.
	NoHandler
	// HandlerFault means the handler raised a script-level fault, contained
	// at the dispatch boundary.
	HandlerFault
	// Interrupted means the trap signal skipped or aborted the invocation.
	Interrupted
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case NoHandler:
		return "no_handler"
	case HandlerFault:
		return "handler_fault"
	case Interrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// EngineFactory constructs the embedded interpreter during Init. The default
// builds a wazero-backed engine from Config.Script.
type EngineFactory func(ctx context.Context, code []byte, opts engine.Options) (engine.Engine, error)

func defaultEngineFactory(ctx context.Context, code []byte, opts engine.Options) (engine.Engine, error) {
	return engine.New(ctx, code, opts)
}

// Config carries everything one actor needs at Init time.
type Config struct {
	// Script is the compiled guest the actor hosts.
	Script []byte

	// MemoryLimitBytes caps total live allocation. 0 = unbounded.
	MemoryLimitBytes uint64

	// MemoryReportBytes sets the threshold-crossing notification point.
	// 0 applies the 8 MiB default.
	MemoryReportBytes uint64

	// OnMemoryThreshold receives one notification per threshold crossing in
	// either direction. Called on the actor's own thread; keep it cheap.
	OnMemoryThreshold account.NotifyFunc

	// Logger defaults to a no-op logger when nil.
	Logger *zap.Logger

	// NewEngine overrides interpreter construction. Nil uses wazero.
	NewEngine EngineFactory
}

// Service hosts exactly one interpreter instance and is the only component
// the external runtime drives directly. The runtime guarantees at most one
// in-flight Dispatch per instance; the trap signal is the single piece of
// state other threads may touch.
type Service struct {
	log   *zap.Logger
	state *fsm.Machine

	acct    *account.Accountant
	seq     sequence.Allocator
	trap    trap.Signal
	handler registry.Slot[scripthost.FuncRef]

	newEngine EngineFactory
	eng       engine.Engine
	handle    scripthost.Handle

	cfg Config

	// interrupted is set by the checkpoint native when it aborts an
	// in-flight call, so Dispatch can tell an interruption apart from an
	// ordinary fault. Only touched on the actor's own thread.
	interrupted bool
}

// New creates a service in the uninitialized state. Nothing runs until Init.
func New(cfg Config) (*Service, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	machine, err := newLifecycle(logger)
	if err != nil {
		return nil, errors.InvalidState("lifecycle construction", err)
	}

	factory := cfg.NewEngine
	if factory == nil {
		factory = defaultEngineFactory
	}

	return &Service{
		log:       logger,
		state:     machine,
		newEngine: factory,
		cfg:       cfg,
	}, nil
}

// Init constructs the interpreter, binds its allocator hook to this
// service's accountant, registers the handle→owner association, and exposes
// the native functions to script code. Callable exactly once; on failure the
// service stays uninitialized and non-functional.
func (s *Service) Init(ctx context.Context) error {
	if got := s.state.GetState(); got != StateUninitialized {
		return errors.InvalidState("init called in state "+got, nil)
	}

	s.acct = account.New(s.cfg.MemoryLimitBytes, s.cfg.MemoryReportBytes, s.cfg.OnMemoryThreshold)

	eng, err := s.newEngine(ctx, s.cfg.Script, engine.Options{
		Memory:  s.acct,
		Natives: natives(),
	})
	if err != nil {
		return errors.InitFailure(err, "interpreter construction")
	}

	handle := eng.Handle()
	if err := owners.Bind(handle, s); err != nil {
		_ = eng.Close(ctx)
		return errors.InitFailure(err, "handle binding")
	}

	s.eng = eng
	s.handle = handle

	// Run the guest's one-time setup now that trampolines can find us. A
	// fault here is a construction failure: the actor never reaches ready.
	if entry, rerr := eng.Resolve(guestEntry); rerr == nil {
		if ierr := eng.Invoke(ctx, entry); ierr != nil {
			owners.Unbind(handle)
			_ = eng.Close(ctx)
			s.eng = nil
			s.handle = nil
			return errors.InitFailure(ierr, "guest initializer")
		}
	}

	if err := s.state.Transition(StateReady); err != nil {
		owners.Unbind(handle)
		_ = eng.Close(ctx)
		s.eng = nil
		s.handle = nil
		return errors.InvalidState("init transition", err)
	}

	s.log.Debug("service initialized",
		zap.Uint64("memory_limit_bytes", s.cfg.MemoryLimitBytes))
	return nil
}

// Dispatch delivers one message to the script's registered handler. Never
// called concurrently with itself for the same instance; a violation of that
// contract is surfaced as an invalid-state error, not tolerated.
//
// Faults raised by the engine during the invocation are contained here and
// reported as a HandlerFault outcome; they never unwind past this boundary,
// and the interpreter remains usable for the next message.
func (s *Service) Dispatch(ctx context.Context, msg Message) (Outcome, error) {
	switch s.state.GetState() {
	case StateTerminated:
		return HandlerFault, errors.Terminated("service")
	case StateUninitialized:
		return HandlerFault, errors.NotInitialized("service")
	}

	switch s.trap.Load() {
	case trap.Reclaim:
		if err := s.eng.Reclaim(ctx); err != nil {
			s.log.Warn("reclaim pass failed", zap.Error(err))
		}
		s.trap.Clear(trap.Reclaim)
	case trap.Interrupt:
		// The caller decides retry/drop and resets the signal.
		return Interrupted, errors.Interrupted()
	}

	ref, ok := s.handler.Get()
	if !ok {
		return NoHandler, errors.NoHandler()
	}

	if !s.state.TransitionBool(StateDispatching) {
		return HandlerFault, errors.InvalidState("concurrent dispatch", nil)
	}
	defer func() {
		if s.state.GetState() == StateDispatching {
			if err := s.state.Transition(StateReady); err != nil {
				s.log.Error("leave dispatching", zap.Error(err))
			}
		}
	}()

	s.interrupted = false

	ptr, err := s.eng.WriteBytes(ctx, msg.Payload)
	if err != nil {
		return HandlerFault, errors.HandlerFault(err)
	}

	err = s.eng.Invoke(ctx, ref,
		uint64(msg.Sender),
		uint64(msg.Session),
		uint64(msg.Kind),
		uint64(ptr),
		uint64(len(msg.Payload)),
	)
	if err == nil {
		return Delivered, nil
	}
	if s.interrupted {
		return Interrupted, errors.Interrupted()
	}

	s.log.Debug("handler fault", zap.Error(err))
	return HandlerFault, errors.HandlerFault(err)
}

// Close releases the interpreter and unregisters the handle binding. Safe to
// call from any state, idempotent, and required before the service is
// dropped so in-flight trampoline lookups cannot dangle.
func (s *Service) Close(ctx context.Context) error {
	if s.state.GetState() == StateTerminated {
		return nil
	}

	if s.handle != nil {
		owners.Unbind(s.handle)
		s.handle = nil
	}

	var err error
	if s.eng != nil {
		err = s.eng.Close(ctx)
		s.eng = nil
	}

	if terr := s.state.Transition(StateTerminated); terr != nil && err == nil {
		err = errors.InvalidState("terminate transition", terr)
	}
	return err
}

// State returns the current lifecycle state name.
func (s *Service) State() string {
	return s.state.GetState()
}

// MemoryUsed reports the live byte count. Safe to call from any thread.
func (s *Service) MemoryUsed() uint64 {
	if s.acct == nil {
		return 0
	}
	return s.acct.Current()
}

// Trap exposes the cooperative cancellation signal for supervisors and
// watchdogs on other threads.
func (s *Service) Trap() *trap.Signal {
	return &s.trap
}
