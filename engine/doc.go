// Package engine runs asyncified guests on wazero.
//
// # Architecture
//
// The engine package provides three main types:
//
//	Engine     - owns the wazero runtime, WASI preview1 and guest loading
//	Instance   - one guest with its ABI exports bound
//	Controller - the unwind/rewind trampoline and suspension buffer
//
// # Suspension
//
// Guests are compiled with wasm-opt --asyncify. A blocking sleep is emulated
// without stack switching:
//
//	Idle --Enter--> Executing --sleep--> Sleeping (unwound to the host)
//	Sleeping --Replay--> Executing (rewind reaches the sleep site, stop rewind)
//	Executing --return--> Idle
//
// After every entry point call the controller issues asyncify_stop_unwind, a
// no-op when nothing was unwinding. Guest time advances by the requested delay
// only after asyncify_start_unwind succeeded.
//
// The suspension buffer is obtained from the guest's malloc on the first
// sleep and reused for the lifetime of the instance:
//
//	[0:4]  scratch start (ptr+8)
//	[4:8]  scratch end (ptr+size)
//	[8:]   saved call stack
//
// # Host imports
//
// Each instance gets its own "wasmino" host module exporting nanosleep with the
// parameter types the guest declares, (i32, i32) or (i64, i64). The previous
// host module must be closed before the next instance is created.
package engine
