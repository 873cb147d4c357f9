package config

import (
	"encoding/json"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/wippyai/wasmino/errors"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.TickInterval() != 50*time.Millisecond {
		t.Errorf("expected 50ms tick, got %v", cfg.TickInterval())
	}
	if cfg.BufferSize != 4096 {
		t.Errorf("expected buffer 4096, got %d", cfg.BufferSize)
	}
	if cfg.TickTimeout() != 0 {
		t.Errorf("expected no tick timeout, got %v", cfg.TickTimeout())
	}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing src")
	}
	cfg.Source = "blink.wasm"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if n := len(cfg.HostOptions()); n != 3 {
		t.Errorf("expected 3 host options, got %d", n)
	}
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`{"src":"gist://abc","pins":{"13":{"type":"led"},"2":{"type":"switch"}}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Source != "gist://abc" {
		t.Errorf("expected gist://abc, got %q", cfg.Source)
	}
	if cfg.TickMS != 50 {
		t.Errorf("expected default tick, got %d", cfg.TickMS)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	pins := cfg.SortedPins()
	if len(pins) != 2 {
		t.Fatalf("expected 2 pins, got %d", len(pins))
	}
	if pins[0].Index != 2 || pins[0].Type != PinSwitch {
		t.Errorf("expected switch on 2 first, got %+v", pins[0])
	}
	if pins[1].Index != 13 || pins[1].Color != DefaultLEDColor {
		t.Errorf("expected default colored led on 13, got %+v", pins[1])
	}

	if _, err := Parse([]byte(`{"src":`)); !stderrors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("expected invalid input, got %v", err)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wasmino.json")
	if err := os.WriteFile(path, []byte(`{"src":"blink.wasm","tick_ms":10}`), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.TickInterval() != 10*time.Millisecond {
		t.Errorf("expected 10ms, got %v", cfg.TickInterval())
	}
	if cfg.Pins == nil {
		t.Error("expected empty pin map")
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadFormats(t *testing.T) {
	files := map[string]string{
		"wasmino.yaml": "src: blink.wasm\ntick_ms: 25\npins:\n  \"13\":\n    type: led\n    color: 255, 0, 0\n",
		"wasmino.yml":  "src: blink.wasm\ntick_ms: 25\npins:\n  13: {type: led, color: \"255, 0, 0\"}\n",
		"wasmino.toml": "src = \"blink.wasm\"\ntick_ms = 25\n\n[pins.13]\ntype = \"led\"\ncolor = \"255, 0, 0\"\n",
	}

	dir := t.TempDir()
	for name, body := range files {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
				t.Fatal(err)
			}
			cfg, err := Load(path)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.Source != "blink.wasm" || cfg.TickMS != 25 {
				t.Errorf("expected blink.wasm at 25ms, got %q at %d", cfg.Source, cfg.TickMS)
			}
			if cfg.BufferSize != 4096 {
				t.Errorf("expected default buffer, got %d", cfg.BufferSize)
			}
			if cfg.Pins["13"].Color != "255, 0, 0" {
				t.Errorf("expected red led on 13, got %v", cfg.Pins)
			}
			if err := cfg.Validate(); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}

	if _, err := ParseFormat([]byte("src = "), FormatTOML); err == nil {
		t.Error("expected error for broken toml")
	}
	if _, err := ParseFormat([]byte("{}"), "ini"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestSave(t *testing.T) {
	cfg := Default()
	cfg.Source = "gist://abc"
	cfg.SetPin(13, Pin{Type: PinLED})
	cfg.SetPin(2, Pin{Type: PinSwitch})

	for _, name := range []string{"out.json", "out.yaml", "out.toml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			if err := cfg.Save(path); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			loaded, err := Load(path)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if loaded.Source != cfg.Source || loaded.TickMS != cfg.TickMS {
				t.Errorf("expected %q at %d, got %q at %d", cfg.Source, cfg.TickMS, loaded.Source, loaded.TickMS)
			}
			if len(loaded.Pins) != 2 || loaded.Pins["2"].Type != PinSwitch {
				t.Errorf("expected saved layout, got %v", loaded.Pins)
			}
		})
	}

	if _, err := cfg.Marshal("ini"); err == nil {
		t.Error("expected error for unknown format")
	}
	if err := cfg.Save(filepath.Join(t.TempDir(), "missing", "out.json")); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestFormatOf(t *testing.T) {
	tests := map[string]Format{
		"a.json":     FormatJSON,
		"a.YAML":     FormatYAML,
		"a.yml":      FormatYAML,
		"dir/a.toml": FormatTOML,
		"noext":      FormatJSON,
	}
	for path, want := range tests {
		if got := FormatOf(path); got != want {
			t.Errorf("%s: expected %s, got %s", path, want, got)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(c *Config) {}, true},
		{"zero tick", func(c *Config) { c.TickMS = 0 }, false},
		{"huge tick", func(c *Config) { c.TickMS = 60001 }, false},
		{"small buffer", func(c *Config) { c.BufferSize = 32 }, false},
		{"no cycles", func(c *Config) { c.MaxStalledCycles = 0 }, false},
		{"memory cap", func(c *Config) { c.MemoryLimitPages = 65537 }, false},
		{"negative timeout", func(c *Config) { c.TickTimeoutMS = -1 }, false},
		{"led with color", func(c *Config) { c.SetPin(13, Pin{Type: PinLED, Color: "255, 0, 0"}) }, true},
		{"unknown type", func(c *Config) { c.SetPin(13, Pin{Type: "motor"}) }, false},
		{"missing type", func(c *Config) { c.SetPin(13, Pin{}) }, false},
		{"bad color", func(c *Config) { c.SetPin(13, Pin{Type: PinLED, Color: "red"}) }, false},
		{"color overflow", func(c *Config) { c.SetPin(13, Pin{Type: PinLED, Color: "256, 0, 0"}) }, false},
		{"non numeric key", func(c *Config) { c.Pins["led"] = Pin{Type: PinLED} }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Source = "blink.wasm"
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok {
				if err == nil {
					t.Fatal("expected error")
				}
				var werr *errors.Error
				if !stderrors.As(err, &werr) || werr.Phase != errors.PhaseConfig {
					t.Errorf("expected config phase error, got %v", err)
				}
			}
		})
	}
}

func TestPins(t *testing.T) {
	pins, err := ParsePins(`{"13":{"type":"led","color":"0, 0, 255"}}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pins["13"].Color != "0, 0, 255" {
		t.Errorf("expected blue, got %q", pins["13"].Color)
	}

	empty, err := ParsePins("  ")
	if err != nil || len(empty) != 0 {
		t.Errorf("expected empty layout, got %v, %v", empty, err)
	}
	if _, err := ParsePins("[1]"); err == nil {
		t.Error("expected error for array")
	}

	cfg := Default()
	cfg.Pins = pins
	cfg.SetPin(2, Pin{Type: PinSwitch})
	cfg.RemovePin(13)

	var decoded map[string]Pin
	if err := json.Unmarshal([]byte(cfg.PinsJSON()), &decoded); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(decoded) != 1 || decoded["2"].Type != PinSwitch {
		t.Errorf("expected only switch on 2, got %v", decoded)
	}
}

func TestParseColor(t *testing.T) {
	r, g, b, err := ParseColor(" 10,20 , 30")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r != 10 || g != 20 || b != 30 {
		t.Errorf("expected 10 20 30, got %d %d %d", r, g, b)
	}
	for _, s := range []string{"", "1, 2", "1, 2, x", "1, 2, 3, 4"} {
		if _, _, _, err := ParseColor(s); err == nil {
			t.Errorf("expected error for %q", s)
		}
	}
}

func TestSchema(t *testing.T) {
	data, err := Schema()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var schema map[string]any
	if err := json.Unmarshal(data, &schema); err != nil {
		t.Fatalf("schema is not JSON: %v", err)
	}
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		t.Fatalf("expected properties, got %v", schema)
	}
	for _, key := range []string{"src", "tick_ms", "pins", "buffer_size"} {
		if _, ok := props[key]; !ok {
			t.Errorf("expected property %q", key)
		}
	}
	if !strings.Contains(string(data), `"switch"`) {
		t.Error("expected pin type enum in schema")
	}
}
