package wasmgen

import "encoding/base64"

// Linear memory layout shared by every fixture.
const (
	PinValues = 256
	PinModes  = 512
	PinCount  = 20
	HeapBase  = 1024
)

const second = 1_000_000_000

// Guest describes one instrumented firmware guest.
type Guest struct {
	// SetupSleep and LoopSleep are sleep lengths in nanoseconds. Nil omits
	// the sleep call.
	SetupSleep *int64
	LoopSleep  *int64
	// Forever keeps _start in its loop instead of returning after one pass.
	Forever bool
	// Banner is written to stdout through fd_write during setup.
	Banner string
	// WideSleep makes the nanosleep import take (i64, i64).
	WideSleep bool
	// NoAsyncify drops the asyncify exports.
	NoAsyncify bool
}

func ns(v int64) *int64 { return &v }

// Fixtures maps fixture names to their assemblers.
var Fixtures = map[string]func() []byte{
	"blink": func() []byte {
		return Guest{SetupSleep: ns(100_000_000), LoopSleep: ns(500_000_000), Forever: true, Banner: "setup\n"}.Build()
	},
	"oneshot": func() []byte {
		return Guest{SetupSleep: ns(100_000_000), WideSleep: true}.Build()
	},
	"nosleep": func() []byte {
		return Guest{}.Build()
	},
	"zerosleep": func() []byte {
		return Guest{LoopSleep: ns(0), Forever: true}.Build()
	},
	"plain": func() []byte {
		return Guest{SetupSleep: ns(100_000_000), NoAsyncify: true}.Build()
	},
	"spin": Spin,
}

// BlinkBase64 returns the blink fixture as padded base64 text.
func BlinkBase64() []byte {
	raw := Fixtures["blink"]()
	out := make([]byte, base64.StdEncoding.EncodedLen(len(raw)))
	base64.StdEncoding.Encode(out, raw)
	return out
}

// Build assembles the guest. Pin 13 is the toggled output and pin 3 the
// input; _start keeps its resume site in local 0.
func (g Guest) Build() []byte {
	m := &module{}
	sleepParams := []byte{I32, I32}
	if g.WideSleep {
		sleepParams = []byte{I64, I64}
	}

	var fdWrite uint64
	if g.Banner != "" {
		fdWrite = m.importFunc("wasi_snapshot_preview1", "fd_write", []byte{I32, I32, I32, I32}, []byte{I32})
	}
	sleep := m.importFunc("wasmino", "nanosleep", sleepParams, nil)

	state := m.global(I32, 0)
	data := m.global(I32, 0)
	inited := m.global(I32, 0)
	uptime := m.global(I64, 0)
	irq := m.global(I64, -1)
	heap := m.global(I32, HeapBase)
	entries := m.global(I32, 0)

	sleepArgs := func(v int64) []byte {
		s, rem := v/second, v%second
		a, b := i32c(s), i32c(rem)
		if g.WideSleep {
			a, b = i64c(s), i64c(rem)
		}
		return seq(a, b)
	}

	// push(v): trap when the buffer is full, else *(*data) = v; *data += 4
	push := m.fn([]byte{I32}, nil, seq(
		gget(data), i32load(0), i32c(4), opI32Add,
		gget(data), i32c(4), opI32Add, i32load(0), opI32GtU,
		ifThen(opUnreachable),
		gget(data), i32load(0), lget(0), i32store(0),
		gget(data), gget(data), i32load(0), i32c(4), opI32Add, i32store(0),
	), nil, "")
	// pop(): *data -= 4; return **data
	pop := m.fn(nil, []byte{I32}, seq(
		gget(data), gget(data), i32load(0), i32c(4), opI32Sub, i32store(0),
		gget(data), i32load(0), i32load(0),
	), nil, "")
	// delay(ns) advances the guest's own uptime unless it is rewinding.
	delay := m.fn([]byte{I64}, nil, seq(
		gget(state), i32c(2), opI32Ne,
		ifThen(seq(gget(uptime), lget(0), opI64Add, gset(uptime))),
	), nil, "")

	sleepSite := func(v int64, site int64) []byte {
		return seq(
			i64c(v), call(delay), sleepArgs(v), call(sleep),
			gget(state), i32c(1), opI32Eq,
			ifThen(seq(i32c(site), call(push), opReturn)),
		)
	}

	setupBody := seq(
		i32c(PinModes+4*13), i32c(1), i32store(0),
		i32c(PinModes+4*3), i32c(0), i32store(0),
	)
	if g.Banner != "" {
		setupBody = seq(setupBody, i32c(1), i32c(32), i32c(1), i32c(48), call(fdWrite), opDrop)
		m.data = append(m.data,
			segment{16, []byte(g.Banner)},
			segment{32, le32pair(16, uint32(len(g.Banner)))},
		)
	}

	loopBody := seq(
		i32c(PinValues+4*13), i32c(PinValues+4*13), i32load(0),
		i32c(1), opI32Xor, i32store(0),
	)

	const site = 0
	body := seq(
		gget(state), i32c(2), opI32Eq, ifThen(seq(call(pop), lset(site))),
		gget(entries), i32c(1), opI32Add, gset(entries),
	)
	setupCond := seq(
		lget(site), i32c(1), opI32Eq,
		lget(site), opI32Eqz, gget(inited), opI32Eqz, opI32And, opI32Or,
	)
	setupInner := seq(lget(site), opI32Eqz, ifThen(setupBody))
	if g.SetupSleep != nil {
		setupInner = seq(setupInner, sleepSite(*g.SetupSleep, 1))
	}
	setupInner = seq(setupInner, i32c(1), gset(inited), i32c(0), lset(site))
	body = seq(body, setupCond, ifThen(setupInner))

	loopPart := seq(lget(site), opI32Eqz, ifThen(loopBody))
	if g.LoopSleep != nil {
		loopPart = seq(loopPart, sleepSite(*g.LoopSleep, 2), i32c(0), lset(site))
	}
	if g.Forever {
		body = seq(body, loop(seq(loopPart, br(0))))
	} else {
		body = seq(body, loopPart)
	}
	m.fn(nil, nil, body, []byte{I32}, "_start")

	if !g.NoAsyncify {
		m.fn([]byte{I32}, nil, seq(i32c(1), gset(state), lget(0), gset(data)), nil, "asyncify_start_unwind")
		m.fn(nil, nil, seq(i32c(0), gset(state)), nil, "asyncify_stop_unwind")
		m.fn([]byte{I32}, nil, seq(i32c(2), gset(state), lget(0), gset(data)), nil, "asyncify_start_rewind")
		m.fn(nil, nil, seq(i32c(0), gset(state)), nil, "asyncify_stop_rewind")
		m.fn(nil, []byte{I32}, gget(state), nil, "asyncify_get_state")
	}

	inRange := seq(lget(0), i32c(PinCount), opI32GeU)
	m.fn(nil, []byte{I32}, i32c(PinCount), nil, "wasminoGetPinCount")
	m.fn([]byte{I32}, []byte{I32}, seq(
		inRange, ifThen(seq(i32c(0), opReturn)),
		lget(0), i32c(4), opI32Mul, i32load(PinModes),
	), nil, "wasminoGetPinMode")
	m.fn([]byte{I32}, []byte{I32}, seq(
		inRange, ifThen(seq(i32c(0), opReturn)),
		lget(0), i32c(4), opI32Mul, i32load(PinValues),
	), nil, "wasminoReadPin")
	m.fn([]byte{I32, I32}, nil, seq(
		inRange, ifThen(opReturn),
		lget(0), i32c(4), opI32Mul, lget(1), i32store(PinValues),
		gget(uptime), gset(irq),
	), nil, "wasminoWritePin")
	m.fn([]byte{I32, I32}, nil, seq(
		lget(0), opI64ExtendI32U, i64c(second), opI64Mul,
		lget(1), opI64ExtendI32U, opI64Add, gset(uptime),
	), nil, "wasminoSetUptime")
	m.fn([]byte{I32}, []byte{I32}, seq(
		gget(heap), gget(heap), lget(0), opI32Add, i32c(7), opI32Add,
		i32c(-8), opI32And, gset(heap),
	), nil, "malloc")
	m.fn([]byte{I32}, nil, nil, nil, "free")
	m.fn(nil, []byte{I64}, gget(uptime), nil, "uptime")
	m.fn(nil, []byte{I64}, gget(irq), nil, "lastIrqUptime")
	m.fn(nil, []byte{I32}, gget(entries), nil, "entries")
	return m.encode()
}

// Spin assembles a guest whose _start never returns. Its other exports are
// stubs.
func Spin() []byte {
	m := &module{}
	m.fn(nil, nil, loop(br(0)), nil, "_start")
	stubs := []struct {
		name            string
		params, results []byte
	}{
		{"asyncify_start_unwind", []byte{I32}, nil},
		{"asyncify_stop_unwind", nil, nil},
		{"asyncify_start_rewind", []byte{I32}, nil},
		{"asyncify_stop_rewind", nil, nil},
		{"wasminoGetPinCount", nil, []byte{I32}},
		{"wasminoGetPinMode", []byte{I32}, []byte{I32}},
		{"wasminoReadPin", []byte{I32}, []byte{I32}},
		{"wasminoWritePin", []byte{I32, I32}, nil},
		{"wasminoSetUptime", []byte{I32, I32}, nil},
		{"malloc", []byte{I32}, []byte{I32}},
		{"free", []byte{I32}, nil},
	}
	for _, s := range stubs {
		var body []byte
		if len(s.results) > 0 {
			body = i32c(0)
		}
		m.fn(s.params, s.results, body, nil, s.name)
	}
	return m.encode()
}
