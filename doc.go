// Package scripthost hosts untrusted script code inside message-driven
// actors. Each actor owns exactly one embedded interpreter instance whose
// memory is accounted against a per-actor ceiling, and exposes a cooperative
// trap signal so supervisors can interrupt or reclaim it between dispatches.
//
// # Architecture Overview
//
// The module is organized into packages with distinct responsibilities:
//
//	scripthost/          Root package with the shared opaque contracts
//	├── service/         The per-actor host service: init, dispatch, teardown
//	├── engine/          Engine abstraction and wazero-backed implementation
//	├── account/         Memory accounting policy with hard limit + threshold
//	├── sequence/        Correlation-id allocator
//	├── trap/            Cross-thread cooperative trap signal
//	├── registry/        Handle-to-owner table and handler slot
//	└── errors/          Structured error types
//
// # Quick Start
//
// Host a script actor and deliver a message to it:
//
//	svc, err := service.New(service.Config{
//	    Script:           wasmBytes,
//	    MemoryLimitBytes: 16 << 20,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := svc.Init(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Close(ctx)
//
//	outcome, err := svc.Dispatch(ctx, service.Message{
//	    Session: 1,
//	    Payload: []byte("ping"),
//	})
//
// The script registers its dispatch handler through the set-callback native
// and correlates outgoing requests with next-sequence; see the engine package
// documentation for the guest ABI.
package scripthost
