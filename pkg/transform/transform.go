// Package transform turns TypeScript, JSX and ESM sources into code the
// host can execute, memoising results in a content cache.
package transform

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/agentpkg/tsx/pkg/cache"
	"github.com/agentpkg/tsx/pkg/resolve"
	"github.com/agentpkg/tsx/pkg/store"
)

// Format is the module format of transform output.
type Format string

const (
	FormatCommonJS Format = "cjs"
	FormatESM      Format = "esm"
)

type JSXMode string

const (
	JSXTransform JSXMode = "transform"
	JSXPreserve  JSXMode = "preserve"
	JSXAutomatic JSXMode = "automatic"
)

// DefaultTarget is the language level emitted when none is configured.
const DefaultTarget = "es2017"

// Options are the transform settings that affect output. All of them are
// part of the transform key.
type Options struct {
	Target          string  `json:"target"`
	JSX             JSXMode `json:"jsx,omitempty"`
	JSXFactory      string  `json:"jsxFactory,omitempty"`
	JSXFragment     string  `json:"jsxFragment,omitempty"`
	JSXImportSource string  `json:"jsxImportSource,omitempty"`
}

// Placeholders written into CommonJS output in place of import.meta
// properties. They are swapped for per-file values when a result is handed
// out, which keeps cached output independent of the file location.
const (
	MetaURLPlaceholder      = "__TSX_IMPORT_META_URL__"
	MetaFilenamePlaceholder = "__TSX_IMPORT_META_FILENAME__"
	MetaDirnamePlaceholder  = "__TSX_IMPORT_META_DIRNAME__"

	metaPlaceholderPrefix = "__TSX_IMPORT_META_"
)

// Request is one call into an Engine.
type Request struct {
	Source []byte
	// Ext selects the source language (".ts", ".tsx", ".js", ...).
	Ext string
	// Sourcefile names the input in the source map and in diagnostics.
	Sourcefile string
	Format     Format
	Options    Options
	// SourceID is unique per engine invocation.
	SourceID uint64
}

// Output is what an Engine produces.
type Output struct {
	Code     string
	Map      []byte
	Warnings []Diagnostic
}

// Engine is the external syntax transformer.
type Engine interface {
	Name() string
	Transform(ctx context.Context, req *Request) (*Output, error)
}

// Result is a transform result bound to one file location.
type Result struct {
	Location string
	Code     string
	Map      []byte
	Warnings []Diagnostic
	// Cached is true when the result was served without calling the engine.
	Cached bool
}

// InlineCode returns Code with the source map attached as a data URL
// comment.
func (r *Result) InlineCode() string {
	if len(r.Map) == 0 {
		return r.Code
	}
	code := r.Code
	if !strings.HasSuffix(code, "\n") {
		code += "\n"
	}
	return code + "//# sourceMappingURL=data:application/json;base64," + base64.StdEncoding.EncodeToString(r.Map) + "\n"
}

type Adapter struct {
	engine  Engine
	cache   cache.Cache
	opts    Options
	metrics *Metrics

	ids    atomic.Uint64
	flight singleflight.Group
}

// NewAdapter wires an engine to a cache. A nil cache means an in-memory
// cache, nil metrics means unregistered collectors.
func NewAdapter(engine Engine, c cache.Cache, opts Options, m *Metrics) *Adapter {
	if c == nil {
		c = cache.NewMemory()
	}
	if m == nil {
		m = NewMetrics(nil)
	}
	if opts.Target == "" {
		opts.Target = DefaultTarget
	}
	return &Adapter{engine: engine, cache: c, opts: opts, metrics: m}
}

func (a *Adapter) Options() Options { return a.opts }

func (a *Adapter) Metrics() *Metrics { return a.metrics }

// Transform returns the transformed form of source, which was read from
// location. Engine failures surface as *Error and are never cached.
func (a *Adapter) Transform(ctx context.Context, location string, source []byte, format Format) (*Result, error) {
	return a.transform(ctx, location, filepath.Ext(location), source, format)
}

// Lower rewrites JavaScript module syntax in source to CommonJS. Source maps
// inlined in source are chained into the result.
func (a *Adapter) Lower(ctx context.Context, location string, source []byte) (*Result, error) {
	return a.transform(ctx, location, ".js", source, FormatCommonJS)
}

func (a *Adapter) transform(ctx context.Context, location, ext string, source []byte, format Format) (*Result, error) {
	key := NewKey(a.engine.Name(), source, ext, format, a.opts)
	sourceHash := store.HashBytes(source)

	if e, ok := a.lookup(key, sourceHash); ok {
		a.metrics.Hits.Inc()
		return rehydrate(e, location, true), nil
	}
	a.metrics.Misses.Inc()

	v, err, _ := a.flight.Do(string(key), func() (any, error) {
		// another caller may have filled the entry while we waited
		if e, ok := a.lookup(key, sourceHash); ok {
			return e, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req := &Request{
			Source:     source,
			Ext:        ext,
			Sourcefile: "source" + ext,
			Format:     format,
			Options:    a.opts,
			SourceID:   a.ids.Add(1),
		}

		start := time.Now()
		a.metrics.EngineCalls.Inc()
		out, err := a.engine.Transform(ctx, req)
		a.metrics.Duration.Observe(time.Since(start).Seconds())
		if err != nil {
			a.metrics.Errors.Inc()
			return nil, err
		}

		Logger().Debug("transformed",
			zap.Uint64("source_id", req.SourceID),
			zap.String("key", string(key)),
			zap.String("format", string(format)),
			zap.Duration("took", time.Since(start)))

		e := cache.NewEntry(string(key), sourceHash, out.Code, out.Map, toWarnings(out.Warnings))
		a.cache.Put(string(key), e)
		return e, nil
	})
	if err != nil {
		return nil, bindError(err, location)
	}
	return rehydrate(v.(*cache.Entry), location, false), nil
}

// lookup reads the cache and invalidates entries whose recorded source
// differs from the one being transformed.
func (a *Adapter) lookup(key Key, sourceHash string) (*cache.Entry, bool) {
	e, ok := a.cache.Get(string(key))
	if !ok {
		return nil, false
	}
	if e.SourceHash != sourceHash {
		Logger().Warn("invalidating cache entry with mismatched source", zap.String("key", string(key)))
		a.cache.Delete(string(key))
		return nil, false
	}
	return e, true
}

func rehydrate(e *cache.Entry, location string, cached bool) *Result {
	code := e.Code
	if strings.Contains(code, metaPlaceholderPrefix) {
		code = strings.NewReplacer(
			jsString(MetaURLPlaceholder), jsString(resolve.PathToURL(location)),
			jsString(MetaFilenamePlaceholder), jsString(location),
			jsString(MetaDirnamePlaceholder), jsString(filepath.Dir(location)),
		).Replace(code)
	}

	warnings := make([]Diagnostic, 0, len(e.Warnings))
	for _, w := range e.Warnings {
		warnings = append(warnings, Diagnostic{File: location, Line: w.Line, Column: w.Column, Text: w.Text})
	}

	return &Result{
		Location: location,
		Code:     code,
		Map:      rewriteSources(e.Map, location),
		Warnings: warnings,
		Cached:   cached,
	}
}

// rewriteSources points every source of a source map at location.
func rewriteSources(sourceMap []byte, location string) []byte {
	if len(sourceMap) == 0 {
		return nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(sourceMap, &m); err != nil {
		return sourceMap
	}
	var sources []string
	if err := json.Unmarshal(m["sources"], &sources); err != nil {
		return sourceMap
	}
	for i := range sources {
		sources[i] = location
	}
	m["sources"], _ = json.Marshal(sources)
	out, err := json.Marshal(m)
	if err != nil {
		return sourceMap
	}
	return out
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func toWarnings(ds []Diagnostic) []cache.Warning {
	if len(ds) == 0 {
		return nil
	}
	out := make([]cache.Warning, 0, len(ds))
	for _, d := range ds {
		out = append(out, cache.Warning{Text: d.Text, Line: d.Line, Column: d.Column})
	}
	return out
}
