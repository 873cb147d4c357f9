// Package runtime hosts a firmware guest and drives it with virtual time.
//
// # Quick Start
//
//	ctx := context.Background()
//	h := runtime.New(source.File("blink.wasm"), runtime.WithLogger(log))
//	defer h.Close(ctx)
//
//	if err := h.Init(ctx); err != nil { // runs setup() up to its first delay
//	    log.Fatal(err)
//	}
//	if err := h.TickDuration(ctx, 50*time.Millisecond); err != nil {
//	    log.Fatal(err)
//	}
//	led := h.ReadPin(ctx, 13)
//
// # Scheduling
//
// Host time advances only through Tick. Guest time advances only when the guest
// sleeps. Tick adds the elapsed time to host time and then, while the guest is
// behind, either replays the pending sleep (Sleeping) or enters the guest fresh
// (Idle). A pass that ends Idle ends the tick, so a guest that never sleeps
// runs once per tick.
//
// A guest that keeps sleeping for zero time is stopped after
// WithMaxStalledCycles cycles with errors.ErrCycleLimit. A guest that never
// yields is only stopped by the context passed to Tick: the sandbox closes the
// instance when the context is done and the host reports
// errors.ErrInstanceFailed until Reset.
//
// # Pins
//
// ReadPin never fails and returns 0 before Init. WritePin presents host time to
// the guest for the duration of the write and restores guest time afterwards.
//
// # Background ticking
//
// Runner calls Tick on an interval and serialises every other host call made
// through Runner.Do.
package runtime
