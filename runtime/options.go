package runtime

import (
	"io"

	"go.uber.org/zap"

	"github.com/wippyai/wasmino/engine"
)

// DefaultMaxStalledCycles bounds consecutive replay cycles that do not move
// guest time forward within one tick.
const DefaultMaxStalledCycles = 1024

type options struct {
	logger           *zap.Logger
	stdout           io.Writer
	stderr           io.Writer
	bufferSize       uint32
	memoryLimitPages uint32
	maxStalledCycles int
}

func defaultOptions() options {
	return options{
		logger:           zap.NewNop(),
		bufferSize:       engine.DefaultBufferSize,
		maxStalledCycles: DefaultMaxStalledCycles,
	}
}

// Option configures a Host.
type Option func(*options)

// WithLogger sets the host logger. Nil keeps the no-op default.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithBufferSize sets the suspension buffer size in bytes.
func WithBufferSize(size uint32) Option {
	return func(o *options) {
		if size > 0 {
			o.bufferSize = size
		}
	}
}

// WithMaxStalledCycles sets how many replay cycles in a row may leave guest
// time unchanged before Tick gives up.
func WithMaxStalledCycles(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxStalledCycles = n
		}
	}
}

// WithMemoryLimitPages caps guest memory in 64KB pages.
func WithMemoryLimitPages(pages uint32) Option {
	return func(o *options) {
		o.memoryLimitPages = pages
	}
}

// WithStdout sets where guest WASI stdout goes. Discarded by default.
func WithStdout(w io.Writer) Option {
	return func(o *options) {
		o.stdout = w
	}
}

// WithStderr sets where guest WASI stderr goes. Discarded by default.
func WithStderr(w io.Writer) Option {
	return func(o *options) {
		o.stderr = w
	}
}
