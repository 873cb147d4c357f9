package main

import (
	"context"
	stderrors "errors"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/wasmino/config"
	"github.com/wippyai/wasmino/errors"
	"github.com/wippyai/wasmino/runtime"
)

// pinWatcher logs pin value and mode changes. With no layout configured every
// pin the guest exposes is watched.
type pinWatcher struct {
	log     *zap.Logger
	watched map[uint32]config.PinType
	last    map[uint32]runtime.Pin
}

func newPinWatcher(cfg config.Config, log *zap.Logger) *pinWatcher {
	w := &pinWatcher{
		log:  log,
		last: make(map[uint32]runtime.Pin),
	}
	if entries := cfg.SortedPins(); len(entries) > 0 {
		w.watched = make(map[uint32]config.PinType, len(entries))
		for _, e := range entries {
			w.watched[e.Index] = e.Type
		}
	}
	return w
}

func (w *pinWatcher) observe(pins []runtime.Pin) {
	for _, p := range pins {
		if w.watched != nil {
			if _, ok := w.watched[p.Index]; !ok {
				continue
			}
		}
		prev, seen := w.last[p.Index]
		w.last[p.Index] = p
		if seen && prev == p {
			continue
		}
		w.log.Info("pin",
			zap.Uint32("pin", p.Index),
			zap.Uint32("value", p.Value),
			zap.String("mode", modeName(p.Mode)))
	}
}

func modeName(mode uint32) string {
	switch mode {
	case runtime.ModeInput:
		return "input"
	case runtime.ModeOutput:
		return "output"
	default:
		return "unknown"
	}
}

func runHeadless(ctx context.Context, host *runtime.Host, cfg config.Config, log *zap.Logger) error {
	watcher := newPinWatcher(cfg, log)
	failed := make(chan error, 1)

	var runner *runtime.Runner
	hook := func(st runtime.Status, err error) {
		if err != nil {
			if stderrors.Is(err, errors.ErrInstanceFailed) {
				select {
				case failed <- err:
				default:
				}
			}
			return
		}
		// A canceled context would terminate the guest on its next call.
		if ctx.Err() != nil {
			return
		}
		_ = runner.Do(func(h *runtime.Host) error {
			pins, err := h.Pins(ctx)
			if err != nil {
				return err
			}
			watcher.observe(pins)
			return nil
		})
		log.Debug("tick",
			zap.Uint64("host_ns", st.HostNs),
			zap.Uint64("guest_ns", st.GuestNs),
			zap.Stringer("state", st.State))
	}

	runner = runtime.NewRunner(host,
		runtime.WithTickHook(hook),
		runtime.WithTickTimeout(cfg.TickTimeout()))
	if err := runner.Run(ctx, cfg.TickInterval()); err != nil {
		return err
	}
	if err := runner.Do(func(h *runtime.Host) error {
		pins, err := h.Pins(ctx)
		if err == nil {
			watcher.observe(pins)
		}
		return err
	}); err != nil {
		runner.Stop()
		return err
	}

	select {
	case <-ctx.Done():
		runner.Stop()
	case err := <-failed:
		runner.Stop()
		return err
	}

	st := host.Snapshot()
	log.Info("stopped",
		zap.Duration("uptime", nsDuration(st.GuestNs)),
		zap.Uint64("sleeps", st.Stats.Sleeps),
		zap.Uint64("entries", st.Stats.Entries))
	return nil
}

func nsDuration(ns uint64) time.Duration {
	if ns > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(ns)
}
