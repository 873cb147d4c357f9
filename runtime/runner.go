package runtime

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/wasmino/errors"
)

// TickHook observes every background tick.
type TickHook func(Status, error)

// Runner ticks a Host on a fixed interval. All host access, from the ticker
// goroutine and from Do, is serialised.
type Runner struct {
	host        *Host
	hook        TickHook
	stop        chan struct{}
	done        chan struct{}
	log         *zap.Logger
	interval    time.Duration
	tickTimeout time.Duration
	mu          sync.Mutex
	stateMu     sync.Mutex
	running     bool
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithTickHook is called after each tick, outside the host lock. The hook
// must not call Stop.
func WithTickHook(fn TickHook) RunnerOption {
	return func(r *Runner) {
		r.hook = fn
	}
}

// WithTickTimeout bounds each tick. A guest still running when it expires is
// terminated and the host marked failed.
func WithTickTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		r.tickTimeout = d
	}
}

func NewRunner(h *Host, opts ...RunnerOption) *Runner {
	r := &Runner{host: h, log: h.log}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run starts ticking every interval, advancing the host by interval each time.
// The host is initialized first if needed. Run on a running Runner is a no-op.
// Ticking ends on Stop, when ctx is done, or when the instance fails; ctx also
// bounds every tick.
func (r *Runner) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.InvalidInput(errors.PhaseSchedule, "tick interval must be positive")
	}

	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	if r.alive() {
		return nil
	}

	r.mu.Lock()
	err := r.host.Init(ctx)
	r.mu.Unlock()
	if err != nil {
		return err
	}

	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	r.interval = interval
	r.running = true

	go r.loop(ctx, interval, r.stop, r.done)

	r.log.Info("runner started", zap.Duration("interval", interval))
	return nil
}

func (r *Runner) loop(ctx context.Context, interval time.Duration, stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			r.log.Info("runner context done", zap.Error(ctx.Err()))
			return
		case <-ticker.C:
			status, err := r.tick(ctx, interval)
			if r.hook != nil {
				r.hook(status, err)
			}
			if err == nil {
				continue
			}
			if stderrors.Is(err, errors.ErrInstanceFailed) {
				r.log.Error("stopping runner", zap.Error(err))
				return
			}
			if ctx.Err() == nil {
				r.log.Warn("tick failed", zap.Error(err))
			}
		}
	}
}

func (r *Runner) tick(ctx context.Context, interval time.Duration) (Status, error) {
	if r.tickTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.tickTimeout)
		defer cancel()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	err := r.host.TickDuration(ctx, interval)
	return r.host.Snapshot(), err
}

// Stop halts ticking and waits for an in-flight tick to finish. The tick
// itself is not interrupted.
func (r *Runner) Stop() {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	if !r.running {
		return
	}
	close(r.stop)
	<-r.done
	r.running = false
	r.log.Info("runner stopped")
}

// Running reports whether the ticker is active. It turns false once the
// loop has ended, whatever ended it.
func (r *Runner) Running() bool {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	return r.alive()
}

// alive clears running once the loop has exited. stateMu must be held.
func (r *Runner) alive() bool {
	if !r.running {
		return false
	}
	select {
	case <-r.done:
		r.running = false
		return false
	default:
		return true
	}
}

// Interval is the interval of the current or last run.
func (r *Runner) Interval() time.Duration {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	return r.interval
}

// Do runs fn with exclusive access to the host.
func (r *Runner) Do(fn func(*Host) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(r.host)
}
