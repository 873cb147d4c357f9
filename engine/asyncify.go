package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	wasmino "github.com/wippyai/wasmino"
	"github.com/wippyai/wasmino/clock"
	"github.com/wippyai/wasmino/errors"
)

// DefaultBufferSize is the size of the suspension buffer allocated on first sleep.
const DefaultBufferSize uint32 = 4096

// bufferHeader is the [start, end] pair at the head of the suspension buffer.
const bufferHeader uint32 = 8

// State is the suspension state of one guest instance.
type State int32

const (
	StateIdle      State = iota // no guest code running, nothing pending
	StateExecuting              // entry point running, possibly under replay
	StateSleeping               // unwound out of a sleep, waiting for replay
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateExecuting:
		return "executing"
	case StateSleeping:
		return "sleeping"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Unwinder is the asyncify control surface of a guest (wasm-opt --asyncify).
type Unwinder interface {
	StartUnwind(ctx context.Context, data uint32) error
	StopUnwind(ctx context.Context) error
	StartRewind(ctx context.Context, data uint32) error
	StopRewind(ctx context.Context) error
}

// Entry invokes the guest entry point once.
type Entry func(ctx context.Context) error

// Stats counts controller activity for one instance.
type Stats struct {
	Entries uint64 // fresh entry point invocations
	Replays uint64 // rewind invocations
	Sleeps  uint64 // completed unwind requests
	Resumes uint64 // rewinds that reached the sleep site
}

// Controller drives the one-shot continuation of a single instance. It owns the
// suspension buffer and commits guest time when an unwind succeeds.
//
// Buffer layout at data:
//   - [0:4] scratch start (data+8)
//   - [4:8] scratch end (data+size)
//   - [8:size] saved call stack
type Controller struct {
	guest      Unwinder
	memory     wasmino.Memory
	alloc      wasmino.Allocator
	clock      *clock.Clock
	data       uint32
	bufferSize uint32
	state      State
	running    bool
	suspended  bool
	stats      Stats
}

// NewController binds the controller to a guest. A zero bufferSize selects
// DefaultBufferSize.
func NewController(guest Unwinder, memory wasmino.Memory, alloc wasmino.Allocator, clk *clock.Clock, bufferSize uint32) *Controller {
	if bufferSize == 0 {
		bufferSize = DefaultBufferSize
	}
	return &Controller{
		guest:      guest,
		memory:     memory,
		alloc:      alloc,
		clock:      clk,
		bufferSize: bufferSize,
	}
}

func (c *Controller) State() State { return c.state }

// Buffer returns the suspension buffer address, zero until the first sleep.
func (c *Controller) Buffer() uint32 { return c.data }

func (c *Controller) Stats() Stats { return c.stats }

// Enter invokes the entry point from Idle.
func (c *Controller) Enter(ctx context.Context, entry Entry) error {
	if c.state != StateIdle {
		return errors.Scheduling(errors.KindInvalidInput,
			fmt.Sprintf("enter while %s", c.state), nil)
	}
	c.state = StateExecuting
	c.stats.Entries++
	Logger().Debug("entering guest", zap.Uint64("entry", c.stats.Entries))
	return c.settle(ctx, c.run(ctx, entry), false)
}

// Replay rewinds into the pending sleep site and continues the guest from there.
func (c *Controller) Replay(ctx context.Context, entry Entry) error {
	if c.state != StateSleeping {
		return errors.Scheduling(errors.KindInvalidInput,
			fmt.Sprintf("replay while %s", c.state), nil)
	}
	if err := c.guest.StartRewind(ctx, c.data); err != nil {
		c.state = StateIdle
		return errors.GuestTrap(errors.PhaseSchedule, "asyncify_start_rewind", err)
	}
	c.stats.Replays++
	Logger().Debug("replaying guest",
		zap.Uint32("buffer", c.data),
		zap.Uint64("guest_ns", c.clock.Guest()))
	return c.settle(ctx, c.run(ctx, entry), true)
}

func (c *Controller) run(ctx context.Context, entry Entry) error {
	c.running = true
	defer func() { c.running = false }()
	return entry(ctx)
}

// Running reports whether an entry point invocation is in progress.
func (c *Controller) Running() bool { return c.running }

// settle runs after every entry point invocation.
func (c *Controller) settle(ctx context.Context, callErr error, replay bool) error {
	suspended := c.suspended
	c.suspended = false

	stopErr := c.guest.StopUnwind(ctx)

	if callErr != nil {
		c.state = StateIdle
		return callErr
	}
	if stopErr != nil {
		c.state = StateIdle
		return errors.GuestTrap(errors.PhaseSchedule, "asyncify_stop_unwind", stopErr)
	}
	if suspended {
		return nil
	}

	if replay && c.state == StateSleeping {
		// The rewind never reached the sleep site.
		if err := c.guest.StopRewind(ctx); err != nil {
			Logger().Warn("stop rewind after incomplete replay failed", zap.Error(err))
		}
		c.state = StateIdle
		return errors.Scheduling(errors.KindRewindIncomplete,
			"entry point returned before reaching the suspended sleep", nil)
	}

	c.state = StateIdle
	Logger().Debug("guest pass completed", zap.Uint64("guest_ns", c.clock.Guest()))
	return nil
}

// Sleep is the body of the guest's sleep import. On replay it completes the
// rewind; otherwise it suspends for delay nanoseconds.
func (c *Controller) Sleep(ctx context.Context, delay uint64) error {
	if !c.running {
		return errors.Scheduling(errors.KindInvalidInput, "sleep outside a guest pass", nil)
	}
	switch c.state {
	case StateSleeping:
		if c.suspended {
			return errors.Scheduling(errors.KindInvalidInput, "nested suspension", nil)
		}
		if err := c.guest.StopRewind(ctx); err != nil {
			return fmt.Errorf("stop rewind: %w", err)
		}
		c.state = StateExecuting
		c.stats.Resumes++
		return nil
	case StateExecuting:
		return c.Suspend(ctx, delay)
	default:
		return errors.Scheduling(errors.KindInvalidInput, "sleep outside a guest pass", nil)
	}
}

// Suspend starts an unwind. Guest time advances only once the unwind request
// succeeded.
func (c *Controller) Suspend(ctx context.Context, delay uint64) error {
	data, err := c.buffer(ctx)
	if err != nil {
		return err
	}
	if err := c.guest.StartUnwind(ctx, data); err != nil {
		return fmt.Errorf("start unwind: %w", err)
	}
	c.state = StateSleeping
	c.suspended = true
	c.stats.Sleeps++
	guest := c.clock.AdvanceGuest(delay)

	Logger().Debug("guest suspended",
		zap.Uint64("delay_ns", delay),
		zap.Uint64("guest_ns", guest))
	return nil
}

// buffer allocates the suspension buffer on first use. The header is written
// once; a completed rewind leaves the scratch pointer back at its start.
func (c *Controller) buffer(ctx context.Context) (uint32, error) {
	if c.data != 0 {
		return c.data, nil
	}

	ptr, err := c.alloc.Alloc(ctx, c.bufferSize)
	if err != nil {
		return 0, errors.AllocationFailed(c.bufferSize, err)
	}
	if ptr == 0 {
		return 0, errors.AllocationFailed(c.bufferSize, nil)
	}
	if err := c.memory.WriteU32(ptr, ptr+bufferHeader); err != nil {
		return 0, errors.AllocationFailed(c.bufferSize, err)
	}
	if err := c.memory.WriteU32(ptr+4, ptr+c.bufferSize); err != nil {
		return 0, errors.AllocationFailed(c.bufferSize, err)
	}

	c.data = ptr
	Logger().Debug("allocated suspension buffer",
		zap.Uint32("ptr", ptr),
		zap.Uint32("size", c.bufferSize))
	return ptr, nil
}
