// Package wasmino hosts a single asyncified WebAssembly guest that models
// microcontroller firmware: a setup()/loop() program that blocks in delay()
// and talks to the outside world through numbered pins.
//
// The host owns time. The guest never sleeps for real; instead its sleep import
// unwinds the guest stack into a suspension buffer and the host replays the entry
// point (asyncify rewind) once host time has caught up with the guest's deadline.
//
// # Architecture Overview
//
//	wasmino/             Root package with the Memory and Allocator interfaces
//	├── loader/          Raw or base64 bytecode → validated wazero CompiledModule
//	├── clock/           Host time, guest time and the guest-observed value
//	├── engine/          wazero integration and the asyncify replay controller
//	├── runtime/         Host: Init, Tick, pin I/O, Reset and the interval Runner
//	├── source/          Bytecode acquisition (file, HTTP, gist://)
//	├── config/          Validated host and pin-panel configuration
//	├── errors/          Structured error types
//	└── cmd/wasmino/     Headless runner and interactive pin panel
//
// # Quick Start
//
//	h := runtime.New(source.File("blink.wasm"))
//	defer h.Close(ctx)
//
//	if err := h.Init(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	for range time.Tick(50 * time.Millisecond) {
//	    if err := h.TickDuration(ctx, 50*time.Millisecond); err != nil {
//	        log.Fatal(err)
//	    }
//	    fmt.Println(h.ReadPin(ctx, 13))
//	}
//
// # Guest ABI
//
// The guest imports wasmino.nanosleep(s, ns) and may import
// wasi_snapshot_preview1. It exports _start, the asyncify control functions,
// wasminoReadPin, wasminoWritePin, wasminoGetPinCount, wasminoGetPinMode,
// wasminoSetUptime, malloc, free and its memory.
//
// # Thread Safety
//
// Host is NOT thread-safe. Runner serializes access for callers that tick
// from one goroutine and drive pins from another.
package wasmino
