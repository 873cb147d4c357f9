// Command mkguest rewrites the guesttest fixtures.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/wippyai/wasmino/internal/guesttest/wasmgen"
)

func main() {
	out := flag.String("out", "testdata", "output directory")
	flag.Parse()

	if err := write(*out); err != nil {
		fmt.Fprintln(os.Stderr, "mkguest:", err)
		os.Exit(1)
	}
}

func write(dir string) error {
	names := make([]string, 0, len(wasmgen.Fixtures))
	for name := range wasmgen.Fixtures {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name+".wasm"), wasmgen.Fixtures[name](), 0o644); err != nil {
			return err
		}
	}
	return os.WriteFile(filepath.Join(dir, "blink.wasm.b64"), wasmgen.BlinkBase64(), 0o644)
}
