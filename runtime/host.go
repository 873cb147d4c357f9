package runtime

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/wasmino/clock"
	"github.com/wippyai/wasmino/engine"
	"github.com/wippyai/wasmino/errors"
	"github.com/wippyai/wasmino/loader"
)

// Host runs one guest against a virtual clock. It is not safe for concurrent
// use; Runner serialises access when ticking in the background.
type Host struct {
	src        Source
	engine     *engine.Engine
	module     *loader.Module
	inst       *engine.Instance
	ctrl       *engine.Controller
	failed     error
	log        *zap.Logger
	opts       options
	clock      clock.Clock
	generation uint64
	cycles     uint64
}

// New creates a host for the guest src yields. Nothing is fetched or run
// before Init.
func New(src Source, opts ...Option) *Host {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Host{
		src:  src,
		opts: o,
		log:  o.logger,
	}
}

// Initialized reports whether Init completed.
func (h *Host) Initialized() bool {
	return h.inst != nil
}

// Init fetches, compiles and instantiates the guest, then runs its entry point
// once so that setup code executes. It ends with the guest Idle or Sleeping.
// Init on an initialized host is a no-op.
func (h *Host) Init(ctx context.Context) error {
	if h.inst != nil {
		return nil
	}
	if h.src == nil {
		return errors.Load("no guest source", nil)
	}

	data, err := h.src.Fetch(ctx)
	if err != nil {
		var e *errors.Error
		if stderrors.As(err, &e) {
			return err
		}
		return errors.Load("fetch guest", err)
	}

	if h.engine == nil {
		eng, err := engine.NewEngine(ctx, &engine.Config{
			MemoryLimitPages: h.opts.memoryLimitPages,
			Stdout:           h.opts.stdout,
			Stderr:           h.opts.stderr,
		})
		if err != nil {
			return err
		}
		h.engine = eng
	}

	mod, err := h.engine.Load(ctx, data)
	if err != nil {
		return err
	}

	h.generation++
	gen := h.generation
	inst, err := h.engine.Instantiate(ctx, mod, engine.InstanceConfig{
		Name:  fmt.Sprintf("guest-%d", gen),
		Sleep: h.sleep,
	})
	if err != nil {
		mod.Close(ctx)
		return err
	}

	h.clock.Reset()
	h.module = mod
	h.inst = inst
	h.ctrl = engine.NewController(inst, inst.Memory(), inst, &h.clock, h.opts.bufferSize)
	h.failed = nil
	h.cycles = 0

	ctx = WithGeneration(ctx, gen)
	if err := inst.Initialize(ctx); err != nil {
		h.teardown(ctx)
		return errors.Sandbox(errors.PhaseInstantiate, "initialize guest", err)
	}
	if err := h.ctrl.Enter(ctx, inst.Start); err != nil {
		h.teardown(ctx)
		return errors.Sandbox(errors.PhaseInstantiate, "run guest setup", err)
	}

	h.log.Info("guest initialized",
		zap.Uint64("generation", gen),
		zap.Int("size", mod.Size()),
		zap.Stringer("state", h.ctrl.State()),
		zap.Uint64("guest_ns", h.clock.Guest()))
	return nil
}

// Tick advances host time by elapsedNs and runs the guest until its time
// catches up. Host time is committed even when the guest fails.
func (h *Host) Tick(ctx context.Context, elapsedNs uint64) error {
	if h.inst == nil {
		return errors.NotInitialized(errors.PhaseSchedule, "tick")
	}
	h.clock.AdvanceHost(elapsedNs)
	if h.failed != nil {
		return h.failedError()
	}

	ctx = WithGeneration(ctx, h.generation)
	stalled := 0
	for h.clock.Behind() {
		if err := ctx.Err(); err != nil {
			return errors.Scheduling(errors.KindCanceled, "tick canceled", err)
		}

		before := h.clock.Guest()
		var err error
		switch h.ctrl.State() {
		case engine.StateSleeping:
			err = h.ctrl.Replay(ctx, h.inst.Start)
		case engine.StateIdle:
			err = h.ctrl.Enter(ctx, h.inst.Start)
		default:
			err = errors.Scheduling(errors.KindInvalidInput,
				fmt.Sprintf("tick while %s", h.ctrl.State()), nil)
		}
		h.cycles++

		if err != nil {
			if stderrors.Is(err, errors.ErrRewindIncomplete) {
				h.log.Warn("replay did not reach the sleep site", zap.Error(err))
				return err
			}
			return h.fail(err)
		}

		// An Idle guest is entered at most once per tick.
		if h.ctrl.State() == engine.StateIdle {
			break
		}

		if h.clock.Guest() == before {
			stalled++
			if stalled >= h.opts.maxStalledCycles {
				return errors.New(errors.PhaseSchedule, errors.KindCycleLimit).
					Detail("%d replay cycles without guest time advancing", stalled).
					Value(stalled).
					Build()
			}
		} else {
			stalled = 0
		}
	}
	return nil
}

// TickDuration is Tick with a time.Duration.
func (h *Host) TickDuration(ctx context.Context, d time.Duration) error {
	if d < 0 {
		return errors.InvalidInput(errors.PhaseSchedule, fmt.Sprintf("negative tick %s", d))
	}
	return h.Tick(ctx, uint64(d))
}

// NanoTick is Tick with the elapsed time split into seconds and nanoseconds.
func (h *Host) NanoTick(ctx context.Context, sec, nsec uint64) error {
	return h.Tick(ctx, clock.Join(sec, nsec))
}

// sleep serves wasmino.nanosleep. Calls that do not belong to the active
// instance are dropped.
func (h *Host) sleep(ctx context.Context, caller api.Module, delay uint64) {
	gen, _ := GetGeneration(ctx)
	if h.inst == nil || gen != h.generation || !h.inst.Is(caller) {
		h.log.Debug("suppressed sleep from stale instance",
			zap.Error(errors.StaleInstance(gen, h.generation)))
		return
	}

	if err := h.ctrl.Sleep(ctx, delay); err != nil {
		var e *errors.Error
		if stderrors.As(err, &e) && e.Kind == errors.KindInvalidInput {
			h.log.Warn("sleep ignored", zap.Uint64("delay_ns", delay), zap.Error(err))
			return
		}
		// Traps the guest call; surfaces from Enter or Replay.
		panic(err)
	}
}

// fail marks the instance unusable. Only Reset recovers.
func (h *Host) fail(err error) error {
	h.failed = err
	h.log.Error("guest instance failed",
		zap.Uint64("generation", h.generation),
		zap.Error(err))
	return h.failedError()
}

func (h *Host) failedError() error {
	return errors.New(errors.PhaseSchedule, errors.KindInstanceFailed).
		Detail("guest instance %d failed", h.generation).
		Cause(h.failed).
		Build()
}

// Reset tears down the current instance and initializes a fresh one from src.
// A nil src reuses the current source.
func (h *Host) Reset(ctx context.Context, src Source) error {
	h.teardown(ctx)
	if src != nil {
		h.src = src
	}
	return h.Init(ctx)
}

func (h *Host) teardown(ctx context.Context) {
	if h.inst != nil {
		if err := h.inst.Close(ctx); err != nil {
			h.log.Warn("close guest instance", zap.Error(err))
		}
	}
	if h.module != nil {
		if err := h.module.Close(ctx); err != nil {
			h.log.Warn("close guest module", zap.Error(err))
		}
	}
	h.inst = nil
	h.module = nil
	h.ctrl = nil
	h.failed = nil
	h.cycles = 0
	h.clock.Reset()
}

// Close releases the guest and the sandbox runtime.
func (h *Host) Close(ctx context.Context) error {
	h.teardown(ctx)
	if h.engine == nil {
		return nil
	}
	err := h.engine.Close(ctx)
	h.engine = nil
	return err
}

// Status is a point-in-time view of the host.
type Status struct {
	Failed      error
	Stats       engine.Stats
	State       engine.State
	HostNs      uint64
	GuestNs     uint64
	ObservedNs  uint64
	Generation  uint64
	Cycles      uint64
	Initialized bool
}

// Snapshot reports the host state.
func (h *Host) Snapshot() Status {
	s := Status{
		Initialized: h.inst != nil,
		HostNs:      h.clock.Host(),
		GuestNs:     h.clock.Guest(),
		ObservedNs:  h.clock.Observed(),
		Generation:  h.generation,
		Cycles:      h.cycles,
		Failed:      h.failed,
	}
	if h.ctrl != nil {
		s.State = h.ctrl.State()
		s.Stats = h.ctrl.Stats()
	}
	return s
}
