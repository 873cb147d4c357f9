package engine

import (
	"bytes"
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasmino/clock"
	"github.com/wippyai/wasmino/errors"
	"github.com/wippyai/wasmino/internal/guesttest"
)

func TestNewEngine(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		cfg  *Config
		name string
	}{
		{nil, "nil config"},
		{&Config{}, "default config"},
		{&Config{MemoryLimitPages: 256}, "16MB limit"},
		{&Config{Stdout: &bytes.Buffer{}}, "stdout"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e, err := NewEngine(ctx, tc.cfg)
			if err != nil {
				t.Fatalf("NewEngine failed: %v", err)
			}
			defer e.Close(ctx)

			if e.Runtime() == nil {
				t.Error("engine runtime should not be nil")
			}
		})
	}

	t.Run("limit too large", func(t *testing.T) {
		_, err := NewEngine(ctx, &Config{MemoryLimitPages: 65537})
		if err == nil {
			t.Error("expected error for memory limit above 65536 pages")
		}
	})
}

func TestEngine_InitWASI(t *testing.T) {
	ctx := context.Background()
	e, err := NewEngine(ctx, nil)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	defer e.Close(ctx)

	for i := 0; i < 3; i++ {
		if err := e.InitWASI(ctx); err != nil {
			t.Fatalf("InitWASI call %d failed: %v", i, err)
		}
	}
	if e.Runtime().Module("wasi_snapshot_preview1") == nil {
		t.Error("expected WASI module to be instantiated")
	}
}

func TestEngine_Load(t *testing.T) {
	ctx := context.Background()
	e, err := NewEngine(ctx, nil)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	defer e.Close(ctx)

	if _, err := e.Load(ctx, guesttest.Blink); err != nil {
		t.Errorf("Load blink failed: %v", err)
	}
	if _, err := e.Load(ctx, guesttest.BlinkBase64); err != nil {
		t.Errorf("Load base64 blink failed: %v", err)
	}
	if _, err := e.Load(ctx, guesttest.Plain); !stderrors.Is(err, errors.ErrMissingExport) {
		t.Errorf("expected missing export error, got %v", err)
	}
	if _, err := e.Load(ctx, []byte("not wasm")); !stderrors.Is(err, errors.ErrDecode) {
		t.Errorf("expected decode error, got %v", err)
	}
}

// harness wires an instance to a controller the way the host does.
type harness struct {
	engine *Engine
	inst   *Instance
	ctrl   *Controller
	clock  *clock.Clock
	stdout *bytes.Buffer
	sleeps []uint64
}

func newHarness(t *testing.T, wasm []byte) *harness {
	t.Helper()
	ctx := context.Background()

	h := &harness{clock: &clock.Clock{}, stdout: &bytes.Buffer{}}
	e, err := NewEngine(ctx, &Config{Stdout: h.stdout})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	t.Cleanup(func() { e.Close(ctx) })
	h.engine = e

	mod, err := e.Load(ctx, wasm)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	inst, err := e.Instantiate(ctx, mod, InstanceConfig{
		Name: "guest-1",
		Sleep: func(ctx context.Context, caller api.Module, delay uint64) {
			if !h.inst.Is(caller) {
				t.Errorf("unexpected caller %q", caller.Name())
				return
			}
			h.sleeps = append(h.sleeps, delay)
			if err := h.ctrl.Sleep(ctx, delay); err != nil {
				panic(err)
			}
		},
	})
	if err != nil {
		t.Fatalf("Instantiate failed: %v", err)
	}
	h.inst = inst
	h.ctrl = NewController(inst, inst.Memory(), inst, h.clock, 0)
	return h
}

func (h *harness) global(t *testing.T, name string) uint64 {
	t.Helper()
	res, err := h.inst.Call(context.Background(), name)
	if err != nil {
		t.Fatalf("call %s failed: %v", name, err)
	}
	return res[0]
}

func TestInstance_Blink(t *testing.T) {
	h := newHarness(t, guesttest.Blink)
	ctx := context.Background()

	if err := h.ctrl.Enter(ctx, h.inst.Start); err != nil {
		t.Fatalf("Enter failed: %v", err)
	}
	if h.ctrl.State() != StateSleeping {
		t.Fatalf("expected sleeping after setup, got %s", h.ctrl.State())
	}
	if h.clock.Guest() != 100_000_000 {
		t.Errorf("expected guest 100ms, got %d", h.clock.Guest())
	}
	if got := h.stdout.String(); got != "setup\n" {
		t.Errorf("expected setup banner, got %q", got)
	}

	mode, err := h.inst.PinMode(ctx, 13)
	if err != nil || mode != 1 {
		t.Errorf("expected pin 13 mode 1, got %d (%v)", mode, err)
	}
	count, err := h.inst.PinCount(ctx)
	if err != nil || count != guesttest.PinCount {
		t.Errorf("expected %d pins, got %d (%v)", guesttest.PinCount, count, err)
	}

	if err := h.ctrl.Replay(ctx, h.inst.Start); err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if h.ctrl.State() != StateSleeping {
		t.Fatalf("expected sleeping after replay, got %s", h.ctrl.State())
	}
	if h.clock.Guest() != 600_000_000 {
		t.Errorf("expected guest 600ms, got %d", h.clock.Guest())
	}
	if v, _ := h.inst.ReadPin(ctx, 13); v != 1 {
		t.Errorf("expected pin 13 high, got %d", v)
	}
	if len(h.sleeps) != 3 {
		t.Errorf("expected 3 sleep calls, got %v", h.sleeps)
	}
	if h.ctrl.Stats().Resumes != 1 {
		t.Errorf("expected 1 resume, got %d", h.ctrl.Stats().Resumes)
	}
}

func TestInstance_I64Sleep(t *testing.T) {
	h := newHarness(t, guesttest.Oneshot)
	ctx := context.Background()

	if err := h.ctrl.Enter(ctx, h.inst.Start); err != nil {
		t.Fatalf("Enter failed: %v", err)
	}
	if h.clock.Guest() != 100_000_000 {
		t.Errorf("expected guest 100ms, got %d", h.clock.Guest())
	}
	if err := h.ctrl.Replay(ctx, h.inst.Start); err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if h.ctrl.State() != StateIdle {
		t.Errorf("expected idle, got %s", h.ctrl.State())
	}
	if n := h.global(t, "entries"); n != 2 {
		t.Errorf("expected 2 entries, got %d", n)
	}
}

func TestInstance_SetUptime(t *testing.T) {
	h := newHarness(t, guesttest.Blink)
	ctx := context.Background()

	if err := h.inst.SetUptime(ctx, 1_600_000_123); err != nil {
		t.Fatalf("SetUptime failed: %v", err)
	}
	if got := h.global(t, "uptime"); got != 1_600_000_123 {
		t.Errorf("expected uptime 1600000123, got %d", got)
	}
}

func TestInstance_Memory(t *testing.T) {
	h := newHarness(t, guesttest.Blink)
	mem := h.inst.Memory()

	if mem.Size() != 65536 {
		t.Errorf("expected one page, got %d", mem.Size())
	}
	if err := mem.WriteU32(4096, 0xdeadbeef); err != nil {
		t.Fatalf("WriteU32 failed: %v", err)
	}
	v, err := mem.ReadU32(4096)
	if err != nil || v != 0xdeadbeef {
		t.Errorf("expected 0xdeadbeef, got %#x (%v)", v, err)
	}
	if _, err := mem.ReadU32(mem.Size()); err == nil {
		t.Error("expected out of bounds read to fail")
	}
	if err := mem.WriteU32(mem.Size()-2, 1); err == nil {
		t.Error("expected out of bounds write to fail")
	}
}

func TestInstance_Alloc(t *testing.T) {
	h := newHarness(t, guesttest.Blink)
	ctx := context.Background()

	a, err := h.inst.Alloc(ctx, 10)
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}
	b, err := h.inst.Alloc(ctx, 10)
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}
	if a == 0 || b <= a || b%8 != 0 {
		t.Errorf("unexpected allocations %d, %d", a, b)
	}
	if err := h.inst.Free(ctx, a); err != nil {
		t.Errorf("Free failed: %v", err)
	}
}

func TestInstance_CloseAndIdentity(t *testing.T) {
	h := newHarness(t, guesttest.Blink)
	ctx := context.Background()

	guest := h.inst.Module()
	if !h.inst.Is(guest) {
		t.Error("expected instance to recognise its own module")
	}
	if h.inst.Is(nil) {
		t.Error("expected nil caller to be foreign")
	}
	if h.inst.Name() != "guest-1" {
		t.Errorf("expected name guest-1, got %s", h.inst.Name())
	}

	if err := h.inst.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !h.inst.Closed() {
		t.Error("expected closed instance")
	}
	if h.inst.Is(guest) {
		t.Error("expected closed instance not to match")
	}
	if h.engine.Runtime().Module("wasmino") != nil {
		t.Error("expected host module to be closed with the instance")
	}
	if _, err := h.inst.Call(ctx, "uptime"); err == nil {
		t.Error("expected call on closed instance to fail")
	}
}

func TestInstance_ContextDeadline(t *testing.T) {
	h := newHarness(t, guesttest.Spin)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := h.ctrl.Enter(ctx, h.inst.Start)
	if err == nil {
		t.Fatal("expected spinning guest to be terminated")
	}
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Kind != errors.KindGuestTrap {
		t.Errorf("expected guest trap, got %v", err)
	}
	if !h.inst.Closed() {
		t.Error("expected instance closed after deadline")
	}
}
