package engine

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/wasmino/clock"
	"github.com/wippyai/wasmino/errors"
	"github.com/wippyai/wasmino/loader"
)

// Engine owns the wazero runtime that guests are compiled and instantiated in.
type Engine struct {
	runtime      wazero.Runtime
	stdout       io.Writer
	stderr       io.Writer
	wasiInitMu   sync.Mutex
	wasiInitDone atomic.Bool
}

// Config holds configuration for engine creation
type Config struct {
	// Stdout and Stderr receive guest WASI output. Nil discards it.
	Stdout io.Writer
	Stderr io.Writer

	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	MemoryLimitPages uint32
}

// NewEngine creates a wazero runtime. Cancelling the context passed to a guest
// call terminates that call and closes the instance.
func NewEngine(ctx context.Context, cfg *Config) (*Engine, error) {
	runtimeCfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)

	e := &Engine{}
	if cfg != nil {
		if cfg.MemoryLimitPages > 0 {
			if cfg.MemoryLimitPages > 65536 {
				return nil, errors.InvalidInput(errors.PhaseConfig,
					fmt.Sprintf("memory limit %d pages exceeds 65536", cfg.MemoryLimitPages))
			}
			runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
		}
		e.stdout = cfg.Stdout
		e.stderr = cfg.Stderr
	}

	e.runtime = wazero.NewRuntimeWithConfig(ctx, runtimeCfg)
	return e, nil
}

// Runtime returns the underlying wazero runtime.
func (e *Engine) Runtime() wazero.Runtime {
	return e.runtime
}

// Load decodes, compiles and validates a guest.
func (e *Engine) Load(ctx context.Context, data []byte) (*loader.Module, error) {
	mod, err := loader.Load(ctx, e.runtime, data)
	if err != nil {
		return nil, err
	}
	if err := mod.Validate(); err != nil {
		mod.Close(ctx)
		return nil, err
	}
	Logger().Debug("guest loaded",
		zap.Int("size", mod.Size()),
		zap.Bool("base64", mod.Encoded()))
	return mod, nil
}

func (e *Engine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

// SleepFunc handles wasmino.nanosleep. caller is the guest module that made the
// call.
type SleepFunc func(ctx context.Context, caller api.Module, delayNs uint64)

// InstanceConfig holds configuration for guest instantiation
type InstanceConfig struct {
	Sleep SleepFunc
	Name  string
}

// Instance is one live guest with its exports bound.
type Instance struct {
	module api.Module
	host   api.Module
	memory *Memory
	fns    struct {
		start       api.Function
		initialize  api.Function
		startUnwind api.Function
		stopUnwind  api.Function
		startRewind api.Function
		stopRewind  api.Function
		readPin     api.Function
		writePin    api.Function
		pinCount    api.Function
		pinMode     api.Function
		setUptime   api.Function
		malloc      api.Function
		free        api.Function
	}
	name string
}

// Instantiate links mod against WASI and a fresh wasmino host module. The
// guest's _start is not run.
func (e *Engine) Instantiate(ctx context.Context, mod *loader.Module, cfg InstanceConfig) (*Instance, error) {
	if err := e.InitWASI(ctx); err != nil {
		return nil, err
	}

	inst := &Instance{name: cfg.Name}

	if sig, ok := mod.SleepImport(); ok {
		host, err := e.instantiateHost(ctx, sig, cfg.Sleep)
		if err != nil {
			return nil, errors.Sandbox(errors.PhaseInstantiate, "instantiate wasmino host module", err)
		}
		inst.host = host
	}

	modConfig := wazero.NewModuleConfig().
		WithName(cfg.Name).
		WithStartFunctions()
	if e.stdout != nil {
		modConfig = modConfig.WithStdout(e.stdout)
	}
	if e.stderr != nil {
		modConfig = modConfig.WithStderr(e.stderr)
	}

	guest, err := e.runtime.InstantiateModule(ctx, mod.Compiled(), modConfig)
	if err != nil {
		inst.Close(ctx)
		return nil, errors.Sandbox(errors.PhaseInstantiate, "instantiate guest", err)
	}
	inst.module = guest
	inst.memory = &Memory{mem: guest.Memory()}
	inst.bind()

	Logger().Debug("guest instantiated", zap.String("name", cfg.Name))
	return inst, nil
}

func (e *Engine) instantiateHost(ctx context.Context, sig loader.Signature, sleep SleepFunc) (api.Module, error) {
	params := append([]api.ValueType(nil), sig.Params...)
	fn := api.GoModuleFunc(func(ctx context.Context, caller api.Module, stack []uint64) {
		sec := argU64(stack[0], params[0])
		nsec := argU64(stack[1], params[1])
		if sleep != nil {
			sleep(ctx, caller, clock.Join(sec, nsec))
		}
	})

	return e.runtime.NewHostModuleBuilder(loader.ImportModule).
		NewFunctionBuilder().
		WithGoModuleFunction(fn, params, nil).
		WithParameterNames("seconds", "nanoseconds").
		Export(loader.ImportSleep).
		Instantiate(ctx)
}

// argU64 reads a sleep argument as unsigned.
func argU64(v uint64, vt api.ValueType) uint64 {
	if vt == api.ValueTypeI32 {
		return uint64(api.DecodeU32(v))
	}
	return v
}

func (i *Instance) bind() {
	m := i.module
	i.fns.start = m.ExportedFunction(loader.ExportStart)
	i.fns.initialize = m.ExportedFunction(loader.ExportInitialize)
	i.fns.startUnwind = m.ExportedFunction(loader.ExportStartUnwind)
	i.fns.stopUnwind = m.ExportedFunction(loader.ExportStopUnwind)
	i.fns.startRewind = m.ExportedFunction(loader.ExportStartRewind)
	i.fns.stopRewind = m.ExportedFunction(loader.ExportStopRewind)
	i.fns.readPin = m.ExportedFunction(loader.ExportReadPin)
	i.fns.writePin = m.ExportedFunction(loader.ExportWritePin)
	i.fns.pinCount = m.ExportedFunction(loader.ExportPinCount)
	i.fns.pinMode = m.ExportedFunction(loader.ExportPinMode)
	i.fns.setUptime = m.ExportedFunction(loader.ExportSetUptime)
	i.fns.malloc = m.ExportedFunction(loader.ExportMalloc)
	i.fns.free = m.ExportedFunction(loader.ExportFree)
}

// Name is the module name the guest was instantiated under.
func (i *Instance) Name() string { return i.name }

// Module returns the wazero guest module.
func (i *Instance) Module() api.Module { return i.module }

func (i *Instance) Memory() *Memory { return i.memory }

// Is reports whether m is this instance's guest module.
func (i *Instance) Is(m api.Module) bool {
	return i.module != nil && m != nil && m.Name() == i.name
}

// Closed reports whether the guest was closed, by Close, proc_exit or a
// cancelled call context.
func (i *Instance) Closed() bool {
	return i.module == nil || i.module.IsClosed()
}

// Start invokes _start.
func (i *Instance) Start(ctx context.Context) error {
	if _, err := i.fns.start.Call(ctx); err != nil {
		return errors.GuestTrap(errors.PhaseSchedule, loader.ExportStart, err)
	}
	return nil
}

// Initialize calls the reactor initializer if the guest exports one.
func (i *Instance) Initialize(ctx context.Context) error {
	if i.fns.initialize == nil {
		return nil
	}
	if _, err := i.fns.initialize.Call(ctx); err != nil {
		return errors.GuestTrap(errors.PhaseInstantiate, loader.ExportInitialize, err)
	}
	return nil
}

func (i *Instance) StartUnwind(ctx context.Context, data uint32) error {
	return i.call(ctx, i.fns.startUnwind, api.EncodeU32(data))
}

func (i *Instance) StopUnwind(ctx context.Context) error {
	return i.call(ctx, i.fns.stopUnwind)
}

func (i *Instance) StartRewind(ctx context.Context, data uint32) error {
	return i.call(ctx, i.fns.startRewind, api.EncodeU32(data))
}

func (i *Instance) StopRewind(ctx context.Context) error {
	return i.call(ctx, i.fns.stopRewind)
}

func (i *Instance) ReadPin(ctx context.Context, pin uint32) (uint32, error) {
	return i.callU32(ctx, i.fns.readPin, api.EncodeU32(pin))
}

func (i *Instance) WritePin(ctx context.Context, pin, value uint32) error {
	if err := i.call(ctx, i.fns.writePin, api.EncodeU32(pin), api.EncodeU32(value)); err != nil {
		return errors.GuestTrap(errors.PhasePin, loader.ExportWritePin, err)
	}
	return nil
}

func (i *Instance) PinCount(ctx context.Context) (uint32, error) {
	n, err := i.callU32(ctx, i.fns.pinCount)
	if err != nil {
		return 0, errors.GuestTrap(errors.PhasePin, loader.ExportPinCount, err)
	}
	return n, nil
}

func (i *Instance) PinMode(ctx context.Context, pin uint32) (uint32, error) {
	mode, err := i.callU32(ctx, i.fns.pinMode, api.EncodeU32(pin))
	if err != nil {
		return 0, errors.GuestTrap(errors.PhasePin, loader.ExportPinMode, err)
	}
	return mode, nil
}

// SetUptime presents ns to the guest as its current uptime.
func (i *Instance) SetUptime(ctx context.Context, ns uint64) error {
	sec, nsec := clock.Split(ns)
	if err := i.call(ctx, i.fns.setUptime, api.EncodeU32(uint32(sec)), api.EncodeU32(uint32(nsec))); err != nil {
		return errors.GuestTrap(errors.PhasePin, loader.ExportSetUptime, err)
	}
	return nil
}

// Alloc calls the guest's malloc.
func (i *Instance) Alloc(ctx context.Context, size uint32) (uint32, error) {
	return i.callU32(ctx, i.fns.malloc, api.EncodeU32(size))
}

// Free calls the guest's free.
func (i *Instance) Free(ctx context.Context, ptr uint32) error {
	if ptr == 0 {
		return nil
	}
	return i.call(ctx, i.fns.free, api.EncodeU32(ptr))
}

// Call invokes any exported function by name.
func (i *Instance) Call(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	if i.module == nil {
		return nil, errors.Scheduling(errors.KindInstanceFailed, "instance closed", nil)
	}
	fn := i.module.ExportedFunction(name)
	if fn == nil {
		return nil, errors.MissingExports([]string{name})
	}
	return fn.Call(ctx, params...)
}

func (i *Instance) call(ctx context.Context, fn api.Function, params ...uint64) error {
	if fn == nil {
		return fmt.Errorf("export not bound")
	}
	var stack [2]uint64
	copy(stack[:], params)
	return fn.CallWithStack(ctx, stack[:])
}

func (i *Instance) callU32(ctx context.Context, fn api.Function, params ...uint64) (uint32, error) {
	if fn == nil {
		return 0, fmt.Errorf("export not bound")
	}
	var stack [2]uint64
	copy(stack[:], params)
	if err := fn.CallWithStack(ctx, stack[:]); err != nil {
		return 0, err
	}
	return api.DecodeU32(stack[0]), nil
}

// Close tears down the guest and its wasmino host module.
func (i *Instance) Close(ctx context.Context) error {
	var firstErr error
	if i.module != nil {
		if err := i.module.Close(ctx); err != nil {
			firstErr = err
		}
		i.module = nil
	}
	if i.host != nil {
		if err := i.host.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		i.host = nil
	}
	i.memory = nil
	return firstErr
}

// Memory wraps wazero memory to implement wasmino.Memory
type Memory struct {
	mem api.Memory
}

func (m *Memory) ReadU32(offset uint32) (uint32, error) {
	if m == nil || m.mem == nil {
		return 0, fmt.Errorf("no memory")
	}
	val, ok := m.mem.ReadUint32Le(offset)
	if !ok {
		return 0, fmt.Errorf("read out of bounds: offset=%d", offset)
	}
	return val, nil
}

func (m *Memory) WriteU32(offset uint32, value uint32) error {
	if m == nil || m.mem == nil {
		return fmt.Errorf("no memory")
	}
	if !m.mem.WriteUint32Le(offset, value) {
		return fmt.Errorf("write out of bounds: offset=%d", offset)
	}
	return nil
}

func (m *Memory) Size() uint32 {
	if m == nil || m.mem == nil {
		return 0
	}
	return m.mem.Size()
}
