// Package errors provides structured error types for the wasmino host.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The host's error taxonomy maps onto kinds:
//
//	LoadError       KindDecode          input is not bytecode nor base64 bytecode
//	SandboxError    KindSandbox         compile or instantiate failed
//	                KindMissingExport   guest lacks part of the host ABI
//	NotInitialized  KindNotInitialized  operation before a successful Init
//	StaleInstance   KindStaleInstance   callback from a torn-down instance
//	SchedulingError KindCycleLimit, KindRewindIncomplete, KindCanceled
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseSchedule, errors.KindCycleLimit).
//		Detail("%d cycles without guest progress", n).
//		Build()
//
// Sentinels match on Kind alone, so callers can test without knowing the phase:
//
//	if errors.Is(err, wserrors.ErrNotInitialized) { ... }
package errors
