// Package source acquires guest bytecode from files, HTTP(S) URLs and GitHub
// gists. Every source returns the bytes as found; base64 decoding is left to
// the loader.
package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"

	"github.com/wippyai/wasmino/errors"
)

// DefaultMaxSize caps how many bytes a source reads.
const DefaultMaxSize int64 = 64 << 20

// DefaultGistAPI is the GitHub gists endpoint.
const DefaultGistAPI = "https://api.github.com/gists/"

const gistScheme = "gist://"

// Source yields guest bytecode. It satisfies runtime.Source.
type Source interface {
	Fetch(ctx context.Context) ([]byte, error)
	String() string
}

type options struct {
	client  *http.Client
	gistAPI string
	maxSize int64
}

// Option configures network sources.
type Option func(*options)

// WithClient sets the HTTP client. http.DefaultClient is used otherwise.
func WithClient(c *http.Client) Option {
	return func(o *options) {
		if c != nil {
			o.client = c
		}
	}
}

// WithMaxSize caps the response size in bytes.
func WithMaxSize(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.maxSize = n
		}
	}
}

// WithGistAPI overrides the gists endpoint, which must end with a slash.
func WithGistAPI(base string) Option {
	return func(o *options) {
		if base != "" {
			o.gistAPI = base
		}
	}
}

func newOptions(opts []Option) options {
	o := options{
		client:  http.DefaultClient,
		gistAPI: DefaultGistAPI,
		maxSize: DefaultMaxSize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Parse picks a source for ref: gist://<id>, http(s)://..., file://<path>,
// "-" for stdin, or a plain file path.
func Parse(ref string, opts ...Option) (Source, error) {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return nil, errors.InvalidInput(errors.PhaseLoad, "empty guest reference")
	case strings.HasPrefix(ref, gistScheme):
		id := strings.TrimPrefix(ref, gistScheme)
		if id == "" {
			return nil, errors.InvalidInput(errors.PhaseLoad, "gist reference without id")
		}
		return Gist(id, opts...), nil
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return HTTP(ref, opts...), nil
	case strings.HasPrefix(ref, "file://"):
		return File(strings.TrimPrefix(ref, "file://")), nil
	case ref == "-":
		return Reader("stdin", os.Stdin), nil
	default:
		return File(ref), nil
	}
}

// FileSource reads a local file.
type FileSource struct {
	path string
}

func File(path string) FileSource {
	return FileSource{path: path}
}

func (s FileSource) Fetch(context.Context) ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, errors.Load(fmt.Sprintf("read %s", s.path), err)
	}
	return data, nil
}

func (s FileSource) String() string { return s.path }

// BytesSource serves an in-memory buffer.
type BytesSource struct {
	name string
	data []byte
}

func Bytes(name string, data []byte) BytesSource {
	return BytesSource{name: name, data: data}
}

func (s BytesSource) Fetch(context.Context) ([]byte, error) {
	return bytes.Clone(s.data), nil
}

func (s BytesSource) String() string { return s.name }

// ReaderSource drains a reader once.
type ReaderSource struct {
	r    io.Reader
	name string
}

func Reader(name string, r io.Reader) *ReaderSource {
	return &ReaderSource{name: name, r: r}
}

func (s *ReaderSource) Fetch(context.Context) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(s.r, DefaultMaxSize))
	if err != nil {
		return nil, errors.Load(fmt.Sprintf("read %s", s.name), err)
	}
	return data, nil
}

func (s *ReaderSource) String() string { return s.name }

// HTTPSource downloads a URL.
type HTTPSource struct {
	url  string
	opts options
}

func HTTP(url string, opts ...Option) *HTTPSource {
	return &HTTPSource{url: url, opts: newOptions(opts)}
}

func (s *HTTPSource) Fetch(ctx context.Context) ([]byte, error) {
	return get(ctx, s.opts, s.url)
}

func (s *HTTPSource) String() string { return s.url }

// GistSource resolves a GitHub gist to the raw URL of its first file and
// downloads it.
type GistSource struct {
	id   string
	opts options
}

func Gist(id string, opts ...Option) *GistSource {
	return &GistSource{id: id, opts: newOptions(opts)}
}

func (s *GistSource) String() string { return gistScheme + s.id }

type gistResponse struct {
	Files map[string]struct {
		RawURL string `json:"raw_url"`
	} `json:"files"`
}

func (s *GistSource) Fetch(ctx context.Context) ([]byte, error) {
	body, err := get(ctx, s.opts, s.opts.gistAPI+s.id)
	if err != nil {
		return nil, err
	}

	var gist gistResponse
	if err := json.Unmarshal(body, &gist); err != nil {
		return nil, errors.Load(fmt.Sprintf("decode gist %s", s.id), err)
	}
	if len(gist.Files) == 0 {
		return nil, errors.Load(fmt.Sprintf("gist %s has no files", s.id), nil)
	}

	// The API lists files by name.
	names := make([]string, 0, len(gist.Files))
	for name := range gist.Files {
		names = append(names, name)
	}
	sort.Strings(names)

	raw := gist.Files[names[0]].RawURL
	if raw == "" {
		return nil, errors.Load(fmt.Sprintf("gist %s file %s has no raw_url", s.id, names[0]), nil)
	}
	return get(ctx, s.opts, raw)
}

func get(ctx context.Context, o options, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Load(fmt.Sprintf("create request for %s", url), err)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, errors.Load(fmt.Sprintf("download %s", url), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.New(errors.PhaseLoad, errors.KindDecode).
			Detail("download %s returned status %d", url, resp.StatusCode).
			Value(resp.StatusCode).
			Build()
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, o.maxSize+1))
	if err != nil {
		return nil, errors.Load(fmt.Sprintf("read %s", url), err)
	}
	if int64(len(data)) > o.maxSize {
		return nil, errors.Load(fmt.Sprintf("%s exceeds %d bytes", url, o.maxSize), nil)
	}
	return data, nil
}
