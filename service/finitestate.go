package service

import (
	"log/slog"

	"github.com/robbyt/go-fsm"
	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
)

// Lifecycle states for one hosted actor.
const (
	// StateUninitialized is the only state before Init. A construction
	// failure leaves the service here.
	StateUninitialized = "uninitialized"

	// StateReady means the interpreter is live and messages can be dispatched.
	StateReady = "ready"

	// StateDispatching is held for the duration of exactly one handler
	// invocation and is never re-entered concurrently with itself.
	StateDispatching = "dispatching"

	// StateTerminated is terminal; the interpreter has been released.
	StateTerminated = "terminated"
)

// LifecycleTransitions defines the valid lifecycle moves. Termination is
// reachable from every state so teardown never races the state machine.
var LifecycleTransitions = map[string][]string{
	StateUninitialized: {StateReady, StateTerminated},
	StateReady:         {StateDispatching, StateTerminated},
	StateDispatching:   {StateReady, StateTerminated},
	StateTerminated:    {},
}

// newLifecycle builds the state machine, bridging the service's zap logger
// into the machine's slog-based transition logging.
func newLifecycle(logger *zap.Logger) (*fsm.Machine, error) {
	var handler slog.Handler = zapslog.NewHandler(logger.Core())
	return fsm.New(handler, StateUninitialized, LifecycleTransitions)
}
