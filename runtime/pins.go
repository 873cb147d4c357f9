package runtime

import (
	"context"
	stderrors "errors"

	"go.uber.org/zap"

	"github.com/wippyai/wasmino/errors"
)

// Pin modes reported by wasminoGetPinMode.
const (
	ModeInput  uint32 = 0
	ModeOutput uint32 = 1
)

// Pin is the observed state of one guest pin.
type Pin struct {
	Index uint32
	Mode  uint32
	Value uint32
}

// ReadPin returns the pin value, or 0 when the host is uninitialized or the
// read fails. It never runs the scheduler.
func (h *Host) ReadPin(ctx context.Context, pin uint32) uint32 {
	if h.inst == nil || h.failed != nil {
		return 0
	}
	v, err := h.inst.ReadPin(WithGeneration(ctx, h.generation), pin)
	if err != nil {
		h.log.Debug("read pin failed", zap.Uint32("pin", pin), zap.Error(err))
		h.checkClosed(err)
		return 0
	}
	return v
}

// WritePin writes value to pin. The guest observes host time for the duration
// of the write and its own guest time again afterwards, so an interrupt
// handler never sees the pending sleep deadline as "now".
func (h *Host) WritePin(ctx context.Context, pin, value uint32) (err error) {
	if h.inst == nil {
		return errors.NotInitialized(errors.PhasePin, "writePin")
	}
	if h.failed != nil {
		return h.failedError()
	}
	ctx = WithGeneration(ctx, h.generation)
	inst := h.inst

	defer func() {
		if rerr := inst.SetUptime(ctx, h.clock.Restore()); rerr != nil {
			err = stderrors.Join(err, rerr)
		}
		if err != nil {
			h.checkClosed(err)
		}
	}()

	if err := inst.SetUptime(ctx, h.clock.Override()); err != nil {
		return err
	}
	return inst.WritePin(ctx, pin, value)
}

// PinCount returns the number of pins the guest exposes.
func (h *Host) PinCount(ctx context.Context) (uint32, error) {
	if h.inst == nil {
		return 0, errors.NotInitialized(errors.PhasePin, "getPinCount")
	}
	if h.failed != nil {
		return 0, h.failedError()
	}
	n, err := h.inst.PinCount(WithGeneration(ctx, h.generation))
	if err != nil {
		h.checkClosed(err)
		return 0, err
	}
	return n, nil
}

// PinMode returns the mode of pin, see ModeInput and ModeOutput.
func (h *Host) PinMode(ctx context.Context, pin uint32) (uint32, error) {
	if h.inst == nil {
		return 0, errors.NotInitialized(errors.PhasePin, "getPinMode")
	}
	if h.failed != nil {
		return 0, h.failedError()
	}
	mode, err := h.inst.PinMode(WithGeneration(ctx, h.generation), pin)
	if err != nil {
		h.checkClosed(err)
		return 0, err
	}
	return mode, nil
}

// Pins reads mode and value of every pin.
func (h *Host) Pins(ctx context.Context) ([]Pin, error) {
	n, err := h.PinCount(ctx)
	if err != nil {
		return nil, err
	}
	pins := make([]Pin, 0, n)
	for i := uint32(0); i < n; i++ {
		mode, err := h.PinMode(ctx, i)
		if err != nil {
			return nil, err
		}
		pins = append(pins, Pin{Index: i, Mode: mode, Value: h.ReadPin(ctx, i)})
	}
	return pins, nil
}

// checkClosed fails the host when a pin call left the guest closed, for
// example through proc_exit or a cancelled context.
func (h *Host) checkClosed(err error) {
	if h.inst != nil && h.failed == nil && h.inst.Closed() {
		h.fail(err)
	}
}
