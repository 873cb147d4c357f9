package source

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wippyai/wasmino/errors"
	"github.com/wippyai/wasmino/internal/guesttest"
)

func TestParse(t *testing.T) {
	tests := []struct {
		ref  string
		want string
		typ  string
	}{
		{"gist://abc123", "gist://abc123", "*source.GistSource"},
		{"https://example.com/blink.wasm", "https://example.com/blink.wasm", "*source.HTTPSource"},
		{"http://localhost:8080/a.wasm", "http://localhost:8080/a.wasm", "*source.HTTPSource"},
		{"file:///tmp/blink.wasm", "/tmp/blink.wasm", "source.FileSource"},
		{"blink.wasm", "blink.wasm", "source.FileSource"},
		{"  blink.wasm\n", "blink.wasm", "source.FileSource"},
		{"-", "stdin", "*source.ReaderSource"},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			src, err := Parse(tt.ref)
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			if src.String() != tt.want {
				t.Errorf("expected %q, got %q", tt.want, src.String())
			}
			if got := fmt.Sprintf("%T", src); got != tt.typ {
				t.Errorf("expected %s, got %s", tt.typ, got)
			}
		})
	}

	for _, bad := range []string{"", "   ", "gist://"} {
		if _, err := Parse(bad); err == nil {
			t.Errorf("Parse(%q): expected error", bad)
		}
	}
}

func TestFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "blink.wasm")
	if err := os.WriteFile(path, guesttest.Blink, 0o644); err != nil {
		t.Fatal(err)
	}

	data, err := File(path).Fetch(ctx)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if !bytes.Equal(data, guesttest.Blink) {
		t.Error("expected file contents")
	}

	_, err = File(filepath.Join(t.TempDir(), "missing.wasm")).Fetch(ctx)
	if !stderrors.Is(err, errors.ErrDecode) || !stderrors.Is(err, os.ErrNotExist) {
		t.Errorf("expected load error wrapping ErrNotExist, got %v", err)
	}
}

func TestBytesAndReader(t *testing.T) {
	ctx := context.Background()

	src := Bytes("blink", guesttest.Blink)
	data, _ := src.Fetch(ctx)
	data[0] = 0xff
	again, _ := src.Fetch(ctx)
	if again[0] != 0x00 {
		t.Error("expected Fetch to return a copy")
	}

	r := Reader("pipe", strings.NewReader("AGFzbQEAAAA="))
	data, err := r.Fetch(ctx)
	if err != nil || string(data) != "AGFzbQEAAAA=" {
		t.Errorf("expected reader contents, got %q (%v)", data, err)
	}
}

func TestHTTP(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/blink.wasm":
			w.Write(guesttest.Blink)
		case "/blink.b64":
			w.Write(guesttest.BlinkBase64)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	data, err := HTTP(srv.URL + "/blink.wasm").Fetch(ctx)
	if err != nil || !bytes.Equal(data, guesttest.Blink) {
		t.Errorf("expected blink bytes, got %d bytes (%v)", len(data), err)
	}

	data, err = HTTP(srv.URL+"/blink.b64", WithClient(srv.Client())).Fetch(ctx)
	if err != nil || !bytes.Equal(data, guesttest.BlinkBase64) {
		t.Errorf("expected base64 text untouched, got %d bytes (%v)", len(data), err)
	}

	_, err = HTTP(srv.URL + "/missing").Fetch(ctx)
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Value != http.StatusNotFound {
		t.Errorf("expected 404 load error, got %v", err)
	}

	_, err = HTTP(srv.URL+"/blink.wasm", WithMaxSize(16)).Fetch(ctx)
	if err == nil || !strings.Contains(err.Error(), "exceeds 16 bytes") {
		t.Errorf("expected size limit error, got %v", err)
	}

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := HTTP(srv.URL + "/blink.wasm").Fetch(cctx); !stderrors.Is(err, context.Canceled) {
		t.Errorf("expected canceled, got %v", err)
	}
}

func TestGist(t *testing.T) {
	ctx := context.Background()
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/gists/abc", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"id":"abc","files":{"b.txt":{"raw_url":%q},"a.wasm.b64":{"raw_url":%q}}}`,
			srv.URL+"/raw/b", srv.URL+"/raw/a")
	})
	mux.HandleFunc("/gists/empty", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"empty","files":{}}`))
	})
	mux.HandleFunc("/gists/broken", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	})
	mux.HandleFunc("/raw/a", func(w http.ResponseWriter, r *http.Request) {
		w.Write(guesttest.BlinkBase64)
	})
	mux.HandleFunc("/raw/b", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("wrong file"))
	})

	api := WithGistAPI(srv.URL + "/gists/")

	src, err := Parse("gist://abc", api)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	data, err := src.Fetch(ctx)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if !bytes.Equal(data, guesttest.BlinkBase64) {
		t.Errorf("expected first file contents, got %q", data)
	}

	for _, id := range []string{"empty", "broken", "missing"} {
		if _, err := Gist(id, api).Fetch(ctx); !stderrors.Is(err, errors.ErrDecode) {
			t.Errorf("gist %s: expected load error, got %v", id, err)
		}
	}
}
