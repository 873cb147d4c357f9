package loader

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasmino/errors"
)

// textMarker is the first byte of every base64 encoded wasm binary
// ("\0asm" encodes to "AGFzbQ").
const textMarker = 'A'

var wasmHeader = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

// Signature describes the parameter types of a guest import.
type Signature struct {
	Params []api.ValueType
}

// Module is an immutable compiled guest. It can back several instances in the
// runtime it was compiled in.
type Module struct {
	compiled wazero.CompiledModule
	sleep    *Signature
	exports  map[string]api.FunctionDefinition
	memory   bool
	size     int
	encoded  bool
}

// Decode turns raw bytecode, or its base64 text encoding, into raw bytecode.
func Decode(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.Load("empty input", nil)
	}
	if data[0] == textMarker {
		raw, err := decodeText(data)
		if err != nil {
			return nil, errors.Load("decode base64 text", err)
		}
		data = raw
	}
	if !IsBytecode(data) {
		return nil, errors.New(errors.PhaseLoad, errors.KindDecode).
			Detail("input is neither wasm bytecode nor its base64 encoding").
			Value(preview(data)).
			Build()
	}
	return data, nil
}

// IsBytecode reports whether data starts with the wasm magic and version 1.
func IsBytecode(data []byte) bool {
	return bytes.HasPrefix(data, wasmHeader)
}

// decodeText accepts base64 with or without trailing padding, like atob.
func decodeText(data []byte) ([]byte, error) {
	text := bytes.Join(bytes.Fields(data), nil)
	if len(text)%4 == 0 {
		text = bytes.TrimSuffix(text, []byte("=="))
		text = bytes.TrimSuffix(text, []byte("="))
	}
	if len(text)%4 == 1 {
		return nil, fmt.Errorf("base64 text of length %d", len(text))
	}
	out := make([]byte, base64.RawStdEncoding.DecodedLen(len(text)))
	n, err := base64.RawStdEncoding.Decode(out, text)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}

func preview(data []byte) string {
	if len(data) > 8 {
		data = data[:8]
	}
	return fmt.Sprintf("%x", data)
}

// Load decodes data and compiles it in rt.
func Load(ctx context.Context, rt wazero.Runtime, data []byte) (*Module, error) {
	raw, err := Decode(data)
	if err != nil {
		return nil, err
	}

	compiled, err := rt.CompileModule(ctx, raw)
	if err != nil {
		return nil, errors.Sandbox(errors.PhaseCompile, "compile guest", err)
	}

	m := &Module{
		compiled: compiled,
		exports:  compiled.ExportedFunctions(),
		size:     len(raw),
		encoded:  data[0] == textMarker,
	}
	if _, ok := compiled.ExportedMemories()[ExportMemory]; ok {
		m.memory = true
	}

	for _, def := range compiled.ImportedFunctions() {
		mod, name, _ := def.Import()
		if mod == ImportModule && name == ImportSleep {
			m.sleep = &Signature{Params: def.ParamTypes()}
			break
		}
	}

	return m, nil
}

// Validate checks that the guest exports the whole host ABI and that its sleep
// import, if any, has a shape the host can serve.
func (m *Module) Validate() error {
	var missing []string
	for _, req := range requiredFuncs {
		def, ok := m.exports[req.name]
		if !ok || len(def.ParamTypes()) != req.params {
			missing = append(missing, req.name)
		}
	}
	if !m.memory {
		missing = append(missing, ExportMemory)
	}
	if len(missing) > 0 {
		return errors.MissingExports(missing)
	}

	if m.sleep != nil {
		if len(m.sleep.Params) != 2 {
			return errors.BadImport(ImportModule, ImportSleep,
				fmt.Sprintf("expected (seconds, nanoseconds), got %d params", len(m.sleep.Params)))
		}
		for _, p := range m.sleep.Params {
			if p != api.ValueTypeI32 && p != api.ValueTypeI64 {
				return errors.BadImport(ImportModule, ImportSleep,
					fmt.Sprintf("unsupported param type %s", api.ValueTypeName(p)))
			}
		}
	}
	return nil
}

// Compiled returns the underlying wazero module.
func (m *Module) Compiled() wazero.CompiledModule {
	return m.compiled
}

// SleepImport returns the signature of wasmino.nanosleep, if the guest imports it.
func (m *Module) SleepImport() (Signature, bool) {
	if m.sleep == nil {
		return Signature{}, false
	}
	return *m.sleep, true
}

// HasExport reports whether the guest exports a function called name.
func (m *Module) HasExport(name string) bool {
	_, ok := m.exports[name]
	return ok
}

// IsAsyncified reports whether the guest carries the asyncify control exports.
func (m *Module) IsAsyncified() bool {
	for _, name := range asyncifyExports {
		if !m.HasExport(name) {
			return false
		}
	}
	return true
}

// Size is the length of the decoded bytecode.
func (m *Module) Size() int {
	return m.size
}

// Encoded reports whether the module was loaded from base64 text.
func (m *Module) Encoded() bool {
	return m.encoded
}

// Close releases the compiled code.
func (m *Module) Close(ctx context.Context) error {
	return m.compiled.Close(ctx)
}
