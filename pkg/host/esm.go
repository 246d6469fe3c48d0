package host

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/agentpkg/tsx/pkg/resolve"
)

type ResolveContext struct {
	// ParentURL is the URL of the importing module, empty for entry points.
	ParentURL  string
	Conditions []string
}

type ResolveResult struct {
	URL    string
	Format resolve.Format
	// ShortCircuit must be set by a hook that answers without calling next.
	ShortCircuit bool
}

type LoadContext struct {
	// Format is the hint produced by the resolve stage.
	Format     resolve.Format
	Conditions []string
}

type LoadResult struct {
	Source       []byte
	Format       resolve.Format
	ShortCircuit bool
}

type NextResolve func(ctx context.Context, spec string, rc ResolveContext) (*ResolveResult, error)

type NextLoad func(ctx context.Context, url string, lc LoadContext) (*LoadResult, error)

// Hooks customise the ESM pipeline. Each stage either answers with
// ShortCircuit set or delegates to next.
type Hooks interface {
	Resolve(ctx context.Context, spec string, rc ResolveContext, next NextResolve) (*ResolveResult, error)
	Load(ctx context.Context, url string, lc LoadContext, next NextLoad) (*LoadResult, error)
}

// Initializer is implemented by hooks that take registration data.
type Initializer interface {
	Initialize(data any) error
}

type hookEntry struct {
	id    int
	hooks Hooks
}

// scope carries hooks private to one Import call. Modules instantiated under
// the call keep it for their own imports.
type scope struct {
	hooks   []Hooks
	overlay *Overlay
}

type ImportOption func(*scope)

// WithHooks runs one import, and every import made by the modules it loads,
// through hooks ahead of the globally registered ones. Nobody else sees them.
func WithHooks(hooks ...Hooks) ImportOption {
	return func(s *scope) { s.hooks = append(s.hooks, hooks...) }
}

// WithRequireOverlay applies o to CommonJS modules instantiated by the
// import and to everything they require.
func WithRequireOverlay(o *Overlay) ImportOption {
	return func(s *scope) { s.overlay = o }
}

// RegisterHooks adds hooks to the global chain. Hooks registered later run
// first. The returned function removes them and may be called repeatedly.
func (r *Runtime) RegisterHooks(h Hooks, data any) (func(), error) {
	if init, ok := h.(Initializer); ok {
		if err := init.Initialize(data); err != nil {
			return nil, err
		}
	}

	r.patchMu.Lock()
	r.nextHook++
	id := r.nextHook
	r.hooks = append(r.hooks, hookEntry{id: id, hooks: h})
	r.patchMu.Unlock()

	return func() {
		r.patchMu.Lock()
		defer r.patchMu.Unlock()
		for i, e := range r.hooks {
			if e.id == id {
				r.hooks = append(r.hooks[:i], r.hooks[i+1:]...)
				return
			}
		}
	}, nil
}

func (r *Runtime) hasHooks() bool {
	r.patchMu.RLock()
	defer r.patchMu.RUnlock()
	return len(r.hooks) > 0
}

// chain lists the hooks an import runs through: scoped first, then global
// in reverse registration order.
func (r *Runtime) chain(sc *scope) []Hooks {
	r.patchMu.RLock()
	defer r.patchMu.RUnlock()

	var out []Hooks
	if sc != nil {
		out = append(out, sc.hooks...)
	}
	for i := len(r.hooks) - 1; i >= 0; i-- {
		out = append(out, r.hooks[i].hooks)
	}
	return out
}

func runResolve(ctx context.Context, hooks []Hooks, native NextResolve, spec string, rc ResolveContext) (*ResolveResult, error) {
	var step func(i int) NextResolve
	step = func(i int) NextResolve {
		if i == len(hooks) {
			return native
		}
		return func(ctx context.Context, spec string, rc ResolveContext) (*ResolveResult, error) {
			called := false
			next := step(i + 1)
			res, err := hooks[i].Resolve(ctx, spec, rc, func(ctx context.Context, spec string, rc ResolveContext) (*ResolveResult, error) {
				called = true
				return next(ctx, spec, rc)
			})
			if err != nil {
				return nil, err
			}
			if res == nil || (!called && !res.ShortCircuit) {
				return nil, &ChainError{Stage: "resolve", Position: i}
			}
			return res, nil
		}
	}
	return step(0)(ctx, spec, rc)
}

func runLoad(ctx context.Context, hooks []Hooks, native NextLoad, url string, lc LoadContext) (*LoadResult, error) {
	var step func(i int) NextLoad
	step = func(i int) NextLoad {
		if i == len(hooks) {
			return native
		}
		return func(ctx context.Context, url string, lc LoadContext) (*LoadResult, error) {
			called := false
			next := step(i + 1)
			res, err := hooks[i].Load(ctx, url, lc, func(ctx context.Context, url string, lc LoadContext) (*LoadResult, error) {
				called = true
				return next(ctx, url, lc)
			})
			if err != nil {
				return nil, err
			}
			if res == nil || (!called && !res.ShortCircuit) {
				return nil, &ChainError{Stage: "load", Position: i}
			}
			return res, nil
		}
	}
	return step(0)(ctx, url, lc)
}

// NativeResolve is the unhooked ESM resolver: exact files only, package
// exports with import conditions, no extension probing.
func (r *Runtime) NativeResolve(ctx context.Context, spec string, rc ResolveContext) (*ResolveResult, error) {
	if name, ok := r.builtinName(spec); ok {
		return &ResolveResult{URL: "node:" + name, Format: resolve.FormatBuiltin}, nil
	}

	res, err := r.strict.Resolve(spec, resolve.Context{
		Referrer:   rc.ParentURL,
		Conditions: rc.Conditions,
		Mode:       resolve.ModeAsync,
	})
	if err != nil {
		return nil, err
	}

	out := &ResolveResult{URL: res.URL()}
	switch strings.ToLower(filepath.Ext(res.Location)) {
	case ".js", ".mjs", ".cjs", ".json":
		out.Format = res.Format
	}
	return out, nil
}

// NativeLoad reads the file behind url. Without a format hint only .js,
// .mjs, .cjs and .json files are accepted.
func (r *Runtime) NativeLoad(ctx context.Context, url string, lc LoadContext) (*LoadResult, error) {
	if strings.HasPrefix(url, "node:") {
		return &LoadResult{Format: resolve.FormatBuiltin}, nil
	}

	path, err := resolve.URLToPath(url)
	if err != nil {
		return nil, err
	}

	format := lc.Format
	if format == resolve.FormatUnknown {
		switch ext := strings.ToLower(filepath.Ext(path)); ext {
		case ".mjs":
			format = resolve.FormatModule
		case ".cjs":
			format = resolve.FormatCommonJS
		case ".json":
			format = resolve.FormatJSON
		case ".js":
			if format, err = resolve.DetectFormat(path); err != nil {
				return nil, err
			}
		default:
			return nil, &UnknownExtensionError{Ext: ext, URL: url}
		}
	}

	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &LoadResult{Source: src, Format: format}, nil
}

func (r *Runtime) importModule(ctx context.Context, spec, parentURL string, sc *scope) (*Module, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	hooks := r.chain(sc)
	conditions := resolve.Conditions(resolve.ModeAsync, r.opts.conditions...)

	rr, err := runResolve(ctx, hooks, r.NativeResolve, spec, ResolveContext{ParentURL: parentURL, Conditions: conditions})
	if err != nil {
		return nil, err
	}
	if m, ok := r.registry[rr.URL]; ok {
		return m, nil
	}

	lr, err := runLoad(ctx, hooks, r.NativeLoad, rr.URL, LoadContext{Format: rr.Format, Conditions: conditions})
	if err != nil {
		return nil, err
	}
	return r.instantiate(ctx, rr.URL, lr, sc)
}

func (r *Runtime) instantiate(ctx context.Context, url string, lr *LoadResult, sc *scope) (*Module, error) {
	if lr.Format == resolve.FormatBuiltin {
		return r.builtinModule(strings.TrimPrefix(url, "node:"))
	}

	filename, err := resolve.URLToPath(url)
	if err != nil {
		return nil, err
	}
	_, query := resolve.SplitQuery(url)

	source := lr.Source
	if source == nil {
		if source, err = os.ReadFile(filename); err != nil {
			return nil, err
		}
	}

	switch lr.Format {
	case resolve.FormatJSON:
		v, err := r.parseJSON(source)
		if err != nil {
			return nil, err
		}
		m := r.newModule(url, filename, nil)
		m.URL = url
		m.Format = resolve.FormatJSON
		m.SetExports(v)
		m.markLoaded()
		r.registry[url] = m
		return m, nil

	case resolve.FormatCommonJS:
		// shares the require cache with the CommonJS pipeline
		id := filename + query
		if m, ok := r.cache[id]; ok {
			r.registry[url] = m
			return m, nil
		}
		m := r.newModule(id, filename, nil)
		m.URL = url
		m.Format = resolve.FormatCommonJS
		if sc != nil {
			m.overlay = sc.overlay
		}
		r.cache[id] = m
		r.registry[url] = m
		if err := m.Compile(string(source), filename); err != nil {
			delete(r.cache, id)
			delete(r.registry, url)
			return nil, err
		}
		m.markLoaded()
		return m, nil

	case resolve.FormatModule:
		lowered, err := r.opts.lowerer.Lower(ctx, filename, source)
		if err != nil {
			return nil, err
		}
		m := r.newModule(url, filename, nil)
		m.URL = url
		m.Format = resolve.FormatModule
		m.scope = sc
		r.registry[url] = m
		if err := m.compile(lowered.InlineCode(), filename, m.importFunction()); err != nil {
			delete(r.registry, url)
			return nil, err
		}
		m.markLoaded()
		Logger().Debug("imported", zap.String("url", url))
		return m, nil

	default:
		return nil, &UnknownFormatError{Format: lr.Format, URL: url}
	}
}

// namespace builds the object an import of m evaluates to. ESM exports are
// already a namespace; anything else is exposed as default plus its own
// enumerable properties.
func (r *Runtime) namespace(m *Module) *goja.Object {
	exports := m.Exports()
	obj, isObj := exports.(*goja.Object)
	if m.Format == resolve.FormatModule && isObj {
		return obj
	}

	ns := r.vm.NewObject()
	if isObj {
		for _, k := range obj.Keys() {
			ns.Set(k, obj.Get(k))
		}
	}
	ns.Set("default", exports)
	return ns
}
