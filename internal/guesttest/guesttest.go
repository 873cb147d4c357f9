// Package guesttest embeds small hand-instrumented guests for tests.
//
// The binaries are assembled by the wasmgen package and written by go
// generate. Every guest keeps pin values at 256+4*pin and pin modes at
// 512+4*pin in linear memory and exposes uptime, lastIrqUptime and entries
// exports for assertions.
package guesttest

import _ "embed"

//go:generate go run ./mkguest -out testdata

// PinCount is the pin count reported by every fixture.
const PinCount = 20

// Blink writes "setup\n" to stdout, sets pin 13 to output and pin 3 to input,
// sleeps 100ms, then toggles pin 13 every 500ms forever.
//
//go:embed testdata/blink.wasm
var Blink []byte

// BlinkBase64 is Blink encoded as base64 text.
//
//go:embed testdata/blink.wasm.b64
var BlinkBase64 []byte

// Oneshot sleeps 100ms in setup, toggles pin 13 once per loop pass and returns
// without sleeping. Its sleep import takes (i64, i64).
//
//go:embed testdata/oneshot.wasm
var Oneshot []byte

// NoSleep returns from every entry without sleeping.
//
//go:embed testdata/nosleep.wasm
var NoSleep []byte

// ZeroSleep calls sleep(0) forever.
//
//go:embed testdata/zerosleep.wasm
var ZeroSleep []byte

// Plain is a valid module without the asyncify exports.
//
//go:embed testdata/plain.wasm
var Plain []byte

// Spin never returns from _start.
//
//go:embed testdata/spin.wasm
var Spin []byte
