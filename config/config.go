// Package config holds the host and pin panel configuration.
//
// A config is JSON, YAML or TOML, with the pin layout in the same shape the wasmino web demo
// keeps in its URL hash:
//
//	{
//	  "src": "gist://0123abcd",
//	  "tick_ms": 50,
//	  "pins": {"13": {"type": "led", "color": "0, 255, 0"}, "2": {"type": "switch"}}
//	}
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/wasmino/errors"
	"github.com/wippyai/wasmino/runtime"
)

// PinType is the panel widget bound to a pin.
type PinType string

const (
	PinLED    PinType = "led"
	PinSwitch PinType = "switch"
)

// DefaultLEDColor is used for LEDs without a color.
const DefaultLEDColor = "0, 255, 0"

// Pin describes one panel widget.
type Pin struct {
	Type  PinType `json:"type" yaml:"type" toml:"type" validate:"required,oneof=led switch" jsonschema:"enum=led,enum=switch,description=LEDs show the pin value and switches write it"`
	Color string  `json:"color,omitempty" yaml:"color,omitempty" toml:"color,omitempty" validate:"omitempty,rgbtriplet" jsonschema:"description=LED color as an RGB triplet"`
}

// Config is the wasmino host configuration.
type Config struct {
	Pins             map[string]Pin `json:"pins,omitempty" yaml:"pins,omitempty" toml:"pins,omitempty" validate:"dive,keys,numeric,endkeys" jsonschema:"description=Pin panel layout keyed by pin number"`
	Source           string         `json:"src" yaml:"src" toml:"src" validate:"required" jsonschema:"description=Guest location: path or http(s)://... or gist://<id>"`
	TickMS           int            `json:"tick_ms" yaml:"tick_ms" toml:"tick_ms" validate:"gte=1,lte=60000" jsonschema:"default=50,description=Tick interval in milliseconds"`
	TickTimeoutMS    int            `json:"tick_timeout_ms,omitempty" yaml:"tick_timeout_ms,omitempty" toml:"tick_timeout_ms,omitempty" validate:"gte=0" jsonschema:"description=Terminate a tick that runs longer than this; 0 disables"`
	MaxStalledCycles int            `json:"max_stalled_cycles" yaml:"max_stalled_cycles" toml:"max_stalled_cycles" validate:"gte=1" jsonschema:"default=1024"`
	BufferSize       uint32         `json:"buffer_size" yaml:"buffer_size" toml:"buffer_size" validate:"gte=64" jsonschema:"default=4096,description=Suspension buffer size in bytes"`
	MemoryLimitPages uint32         `json:"memory_limit_pages,omitempty" yaml:"memory_limit_pages,omitempty" toml:"memory_limit_pages,omitempty" validate:"lte=65536" jsonschema:"description=Guest memory cap in 64KB pages; 0 means no cap"`
}

// validate is a package-level singleton; building one per call is expensive.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("rgbtriplet", validateRGB); err != nil {
		panic(err)
	}
	return v
}

func validateRGB(fl validator.FieldLevel) bool {
	_, _, _, err := ParseColor(fl.Field().String())
	return err == nil
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		TickMS:           50,
		MaxStalledCycles: runtime.DefaultMaxStalledCycles,
		BufferSize:       4096,
		Pins:             map[string]Pin{},
	}
}

// Format is a config file encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatOf picks the format from the file extension, defaulting to JSON.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".toml":
		return FormatTOML
	default:
		return FormatJSON
	}
}

// Load reads a config file over the defaults. The result is not validated,
// so flags can still fill in missing fields.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Detail("read config %s", path).
			Cause(err).
			Build()
	}
	return ParseFormat(data, FormatOf(path))
}

// Parse decodes JSON over the defaults.
func Parse(data []byte) (Config, error) {
	return ParseFormat(data, FormatJSON)
}

// ParseFormat decodes data in the given format over the defaults.
func ParseFormat(data []byte, format Format) (Config, error) {
	cfg := Default()

	var err error
	switch format {
	case FormatJSON:
		err = json.Unmarshal(data, &cfg)
	case FormatYAML:
		err = yaml.Unmarshal(data, &cfg)
	case FormatTOML:
		err = toml.Unmarshal(data, &cfg)
	default:
		err = fmt.Errorf("unknown format %q", format)
	}
	if err != nil {
		return Config{}, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Detail("decode %s config", format).
			Cause(err).
			Build()
	}
	if cfg.Pins == nil {
		cfg.Pins = map[string]Pin{}
	}
	return cfg, nil
}

// Marshal encodes the config in the given format.
func (c Config) Marshal(format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.MarshalIndent(c, "", "  ")
	case FormatYAML:
		return yaml.Marshal(c)
	case FormatTOML:
		return toml.Marshal(c)
	default:
		return nil, errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("unknown format %q", format))
	}
}

// Save writes the config to path in the format its extension names.
func (c Config) Save(path string) error {
	data, err := c.Marshal(FormatOf(path))
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Detail("write config %s", path).
			Cause(err).
			Build()
	}
	return nil
}

// ParsePins decodes a pin layout such as {"13":{"type":"led"}}.
func ParsePins(s string) (map[string]Pin, error) {
	pins := map[string]Pin{}
	if strings.TrimSpace(s) == "" {
		return pins, nil
	}
	if err := json.Unmarshal([]byte(s), &pins); err != nil {
		return nil, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Detail("decode pins").
			Cause(err).
			Build()
	}
	return pins, nil
}

// Validate checks every field.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Detail("config validation failed").
			Cause(err).
			Build()
	}
	return nil
}

// TickInterval is TickMS as a duration.
func (c Config) TickInterval() time.Duration {
	return time.Duration(c.TickMS) * time.Millisecond
}

// TickTimeout is TickTimeoutMS as a duration, zero when disabled.
func (c Config) TickTimeout() time.Duration {
	return time.Duration(c.TickTimeoutMS) * time.Millisecond
}

// HostOptions maps the config onto runtime options.
func (c Config) HostOptions() []runtime.Option {
	return []runtime.Option{
		runtime.WithBufferSize(c.BufferSize),
		runtime.WithMaxStalledCycles(c.MaxStalledCycles),
		runtime.WithMemoryLimitPages(c.MemoryLimitPages),
	}
}

// PinEntry is a pin with its number.
type PinEntry struct {
	Pin
	Index uint32
}

// SortedPins returns the layout ordered by pin number. Keys that are not
// pin numbers are skipped; Validate reports them.
func (c Config) SortedPins() []PinEntry {
	out := make([]PinEntry, 0, len(c.Pins))
	for key, p := range c.Pins {
		n, err := strconv.ParseUint(key, 10, 32)
		if err != nil {
			continue
		}
		if p.Type == PinLED && p.Color == "" {
			p.Color = DefaultLEDColor
		}
		out = append(out, PinEntry{Index: uint32(n), Pin: p})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// SetPin adds or replaces the widget on pin.
func (c *Config) SetPin(index uint32, p Pin) {
	if c.Pins == nil {
		c.Pins = map[string]Pin{}
	}
	c.Pins[strconv.FormatUint(uint64(index), 10)] = p
}

// RemovePin drops the widget on pin.
func (c *Config) RemovePin(index uint32) {
	delete(c.Pins, strconv.FormatUint(uint64(index), 10))
}

// PinsJSON encodes the pin layout in the web demo hash format.
func (c Config) PinsJSON() string {
	data, err := json.Marshal(c.Pins)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// ParseColor parses an "r, g, b" triplet.
func ParseColor(s string) (r, g, b uint8, err error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("color %q: expected 3 components", s)
	}
	var rgb [3]uint8
	for i, part := range parts {
		n, err := strconv.ParseUint(strings.TrimSpace(part), 10, 8)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("color %q: %w", s, err)
		}
		rgb[i] = uint8(n)
	}
	return rgb[0], rgb[1], rgb[2], nil
}
