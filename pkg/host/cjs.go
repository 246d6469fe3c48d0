package host

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/agentpkg/tsx/pkg/resolve"
)

// ExtensionLoader compiles and evaluates filename into m.
type ExtensionLoader func(m *Module, filename string) error

// ResolveFilenameFunc maps a specifier required by parent to a module id.
// The id is the absolute filename, optionally followed by a ?query that
// keeps its require cache entry apart from the plain file. parent is nil
// for requires made from the working directory.
type ResolveFilenameFunc func(spec string, parent *Module) (string, error)

// ResolveFilenameHook is a filename resolver private to one overlay.
type ResolveFilenameHook func(spec string, parent *Module, next ResolveFilenameFunc) (string, error)

// Overlay holds loaders that apply to one require call and to every module
// loaded beneath it, ahead of the runtime's own table and resolver.
type Overlay struct {
	ResolveFilename ResolveFilenameHook
	Extensions      map[string]ExtensionLoader
}

type RequireOption func(*requireOptions)

type requireOptions struct {
	overlay *Overlay
}

func WithOverlay(o *Overlay) RequireOption {
	return func(ro *requireOptions) { ro.overlay = o }
}

// Extensions is an ordered extension to loader table. Keys keep the order
// they were first set in. An entry may be claimed by an owner so that the
// owner can later put back what it replaced without undoing a loader that
// was installed on top of it.
type Extensions struct {
	mu      sync.RWMutex
	keys    []string
	loaders map[string]ExtensionLoader
	owners  map[string]any
}

func newExtensions() *Extensions {
	return &Extensions{
		loaders: make(map[string]ExtensionLoader),
		owners:  make(map[string]any),
	}
}

func (e *Extensions) Get(ext string) (ExtensionLoader, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	fn, ok := e.loaders[ext]
	return fn, ok
}

// Set installs fn for ext and returns the loader it replaced, if any.
func (e *Extensions) Set(ext string, fn ExtensionLoader) (ExtensionLoader, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.owners, ext)
	return e.set(ext, fn)
}

// Claim is Set on behalf of owner.
func (e *Extensions) Claim(ext string, owner any, fn ExtensionLoader) (ExtensionLoader, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.owners[ext] = owner
	return e.set(ext, fn)
}

// Release puts prev back for ext, or removes the entry when existed is
// false, provided owner still holds the entry. It reports whether it did.
func (e *Extensions) Release(ext string, owner any, prev ExtensionLoader, existed bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cur, ok := e.owners[ext]; !ok || cur != owner {
		return false
	}
	delete(e.owners, ext)
	if existed {
		e.loaders[ext] = prev
	} else {
		e.remove(ext)
	}
	return true
}

func (e *Extensions) Delete(ext string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.owners, ext)
	e.remove(ext)
}

func (e *Extensions) Keys() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]string(nil), e.keys...)
}

func (e *Extensions) set(ext string, fn ExtensionLoader) (ExtensionLoader, bool) {
	prev, ok := e.loaders[ext]
	if !ok {
		e.keys = append(e.keys, ext)
	}
	e.loaders[ext] = fn
	return prev, ok
}

func (e *Extensions) remove(ext string) {
	if _, ok := e.loaders[ext]; !ok {
		return
	}
	delete(e.loaders, ext)
	for i, k := range e.keys {
		if k == ext {
			e.keys = append(e.keys[:i], e.keys[i+1:]...)
			break
		}
	}
}

// SetResolveFilename replaces the runtime's filename resolver and returns
// the one it replaced. Passing nil restores the native resolver.
func (r *Runtime) SetResolveFilename(fn ResolveFilenameFunc) ResolveFilenameFunc {
	return r.ClaimResolveFilename(nil, fn)
}

// ClaimResolveFilename is SetResolveFilename on behalf of owner.
func (r *Runtime) ClaimResolveFilename(owner any, fn ResolveFilenameFunc) ResolveFilenameFunc {
	r.patchMu.Lock()
	defer r.patchMu.Unlock()
	prev := r.resolveFilename
	if fn == nil {
		fn = r.nativeResolveFilename
	}
	r.resolveFilename = fn
	r.resolveOwner = owner
	return prev
}

// ReleaseResolveFilename puts prev back if owner still holds the resolver
// slot and reports whether it did.
func (r *Runtime) ReleaseResolveFilename(owner any, prev ResolveFilenameFunc) bool {
	r.patchMu.Lock()
	defer r.patchMu.Unlock()
	if owner == nil || r.resolveOwner != owner {
		return false
	}
	if prev == nil {
		prev = r.nativeResolveFilename
	}
	r.resolveFilename = prev
	r.resolveOwner = nil
	return true
}

// NativeResolveFilename is the runtime's unpatched resolver: Node's CommonJS
// algorithm probing the extensions currently in the table.
func (r *Runtime) NativeResolveFilename(spec string, parent *Module) (string, error) {
	return r.nativeResolveFilename(spec, parent)
}

func (r *Runtime) nativeResolveFilename(spec string, parent *Module) (string, error) {
	res := resolve.New(resolve.Options{
		Extensions:     r.Extensions.Keys(),
		Owned:          []string{},
		NoCounterparts: true,
		ConditionOrder: r.opts.conditionOrder,
	})
	rc, err := res.Resolve(spec, resolve.Context{
		Referrer:   referrer(parent),
		Conditions: resolve.Conditions(resolve.ModeSync, r.opts.conditions...),
		Mode:       resolve.ModeSync,
	})
	if err != nil {
		return "", err
	}
	return rc.Location + rc.Query, nil
}

func (r *Runtime) filenameFor(spec string, parent *Module, ov *Overlay) (string, error) {
	r.patchMu.RLock()
	slot := r.resolveFilename
	r.patchMu.RUnlock()

	if ov != nil && ov.ResolveFilename != nil {
		return ov.ResolveFilename(spec, parent, slot)
	}
	return slot(spec, parent)
}

// requireModule runs the CommonJS load algorithm: builtins, then the require
// cache by id, then the extension loader for the resolved file.
func (r *Runtime) requireModule(spec string, parent *Module, ov *Overlay, isMain bool) (*Module, error) {
	if name, ok := r.builtinName(spec); ok {
		return r.builtinModule(name)
	}

	id, err := r.filenameFor(spec, parent, ov)
	if err != nil {
		return nil, err
	}
	if m, ok := r.cache[id]; ok {
		return m, nil
	}

	filename, _ := resolve.SplitQuery(id)
	m := r.newModule(id, filename, parent)
	m.Format = resolve.FormatCommonJS
	m.overlay = ov
	if isMain {
		r.main = m
	}

	r.cache[id] = m
	if err := r.loadWith(m, filename, ov); err != nil {
		delete(r.cache, id)
		return nil, err
	}
	m.markLoaded()

	Logger().Debug("required", zap.String("id", id))
	return m, nil
}

func (r *Runtime) loadWith(m *Module, filename string, ov *Overlay) error {
	ext := strings.ToLower(filepath.Ext(filename))
	if ov != nil {
		if fn, ok := ov.Extensions[ext]; ok {
			return fn(m, filename)
		}
	}
	if fn, ok := r.Extensions.Get(ext); ok {
		return fn(m, filename)
	}
	fn, ok := r.Extensions.Get(".js")
	if !ok {
		return fmt.Errorf("no loader for %s", filename)
	}
	return fn(m, filename)
}

func (r *Runtime) loadJS(m *Module, filename string) error {
	format, err := resolve.DetectFormat(filename)
	if err != nil {
		return err
	}
	if format == resolve.FormatModule {
		return &RequireESMError{Filename: filename}
	}
	src, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	return m.Compile(string(src), filename)
}

func (r *Runtime) loadJSON(m *Module, filename string) error {
	src, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	v, err := r.parseJSON(src)
	if err != nil {
		return fmt.Errorf("%s: %w", filename, err)
	}
	m.SetExports(v)
	return nil
}

func (r *Runtime) parseJSON(src []byte) (goja.Value, error) {
	jsonObj := r.vm.Get("JSON").ToObject(r.vm)
	parse, _ := goja.AssertFunction(jsonObj.Get("parse"))
	return parse(jsonObj, r.vm.ToValue(string(src)))
}

// pseudoParent stands in for a requiring module when a require starts from
// Go with a plain file or directory location.
func (r *Runtime) pseudoParent(from string) (*Module, error) {
	if from == "" {
		return nil, nil
	}
	p, err := resolve.URLToPath(from)
	if err != nil {
		return nil, err
	}
	if !filepath.IsAbs(p) {
		if p, err = filepath.Abs(p); err != nil {
			return nil, err
		}
	}
	return &Module{ID: p, Filename: p, rt: r}, nil
}

func referrer(parent *Module) string {
	if parent == nil {
		return ""
	}
	return parent.Filename
}

// requireCache exposes the require cache to JS as require.cache.
type requireCache struct {
	rt *Runtime
}

func (c requireCache) Get(key string) goja.Value {
	if m, ok := c.rt.cache[key]; ok {
		return m.obj
	}
	return nil
}

func (c requireCache) Set(string, goja.Value) bool { return false }

func (c requireCache) Has(key string) bool {
	_, ok := c.rt.cache[key]
	return ok
}

func (c requireCache) Delete(key string) bool {
	c.rt.deleteCache(key)
	return true
}

func (c requireCache) Keys() []string { return sortedKeys(c.rt.cache) }
