package host

import (
	"context"
	"encoding/base64"
	"fmt"
	"path/filepath"

	"github.com/dop251/goja"

	"github.com/agentpkg/tsx/pkg/resolve"
)

const (
	wrapperHead = "(function (exports, require, module, __filename, __dirname) { "
	wrapperTail = "\n})"
)

// Module is one evaluated module. CommonJS modules are keyed by ID in the
// require cache, ESM modules by URL in the registry.
type Module struct {
	ID       string
	Filename string
	// URL is set for modules loaded through the ESM pipeline.
	URL    string
	Format resolve.Format
	Parent *Module
	Loaded bool

	rt      *Runtime
	obj     *goja.Object
	require *goja.Object
	overlay *Overlay
	scope   *scope
}

func (r *Runtime) newModule(id, filename string, parent *Module) *Module {
	vm := r.vm
	m := &Module{ID: id, Filename: filename, Parent: parent, rt: r}

	m.obj = vm.NewObject()
	m.obj.Set("id", id)
	m.obj.Set("filename", filename)
	m.obj.Set("path", filepath.Dir(filename))
	m.obj.Set("loaded", false)
	m.obj.Set("exports", vm.NewObject())
	if parent != nil && parent.obj != nil {
		m.obj.Set("parent", parent.obj)
	} else {
		m.obj.Set("parent", goja.Null())
	}
	return m
}

// Context returns the context of the Go call that is loading the module.
func (m *Module) Context() context.Context { return m.rt.ctx }

// Object returns the JS module object.
func (m *Module) Object() *goja.Object { return m.obj }

func (m *Module) Exports() goja.Value {
	if m.obj == nil {
		return goja.Undefined()
	}
	return m.obj.Get("exports")
}

func (m *Module) SetExports(v goja.Value) {
	m.obj.Set("exports", v)
}

// Compile runs code as the body of a CommonJS module wrapper. filename names
// the code in stack traces; an inline source map in code takes precedence.
func (m *Module) Compile(code, filename string) error {
	return m.compile(code, filename, m.requireFunction())
}

func (m *Module) compile(code, filename string, require goja.Value) error {
	vm := m.rt.vm

	src := wrapperHead + code + wrapperTail
	// mapped code gets the head on a line of its own so the map can be
	// offset by whole lines
	if body, sourceMap, ok := splitInlineMap(code); ok {
		if wrapped, err := wrapSourceMap(sourceMap); err == nil {
			src = wrapperHead + "\n" + body + inlineMapPrefix + base64.StdEncoding.EncodeToString(wrapped) + wrapperTail
		}
	}

	prg, err := goja.Compile(filename, src, false)
	if err != nil {
		return err
	}
	wrapper, err := vm.RunProgram(prg)
	if err != nil {
		return err
	}
	fn, ok := goja.AssertFunction(wrapper)
	if !ok {
		return fmt.Errorf("compiling %s: module wrapper is not a function", filename)
	}

	m.obj.Set("require", require)
	exports := m.obj.Get("exports")
	_, err = fn(exports, exports, require, m.obj, vm.ToValue(filename), vm.ToValue(filepath.Dir(filename)))
	return err
}

func (m *Module) markLoaded() {
	m.Loaded = true
	m.obj.Set("loaded", true)
}

// requireFunction builds the module's CommonJS require.
func (m *Module) requireFunction() *goja.Object {
	if m.require != nil {
		return m.require
	}
	r := m.rt
	vm := r.vm

	fn := vm.ToValue(func(call goja.FunctionCall) goja.Value {
		spec := specifierArg(r, call)
		child, err := r.requireModule(spec, m, m.overlay, false)
		if err != nil {
			r.throw(err)
		}
		return child.Exports()
	}).ToObject(vm)

	fn.Set("resolve", func(call goja.FunctionCall) goja.Value {
		spec := specifierArg(r, call)
		if name, ok := r.builtinName(spec); ok {
			return vm.ToValue(name)
		}
		id, err := r.filenameFor(spec, m, m.overlay)
		if err != nil {
			r.throw(err)
		}
		return vm.ToValue(id)
	})
	fn.Set("cache", r.cacheObject())
	fn.DefineAccessorProperty("main", vm.ToValue(func(goja.FunctionCall) goja.Value {
		if r.main == nil {
			return goja.Undefined()
		}
		return r.main.obj
	}), nil, goja.FLAG_TRUE, goja.FLAG_TRUE)

	m.require = fn
	return fn
}

// importFunction builds the require used by lowered ESM code: every static
// and dynamic import goes back through the ESM pipeline with this module as
// parent and this module's private hooks.
func (m *Module) importFunction() *goja.Object {
	r := m.rt
	vm := r.vm
	return vm.ToValue(func(call goja.FunctionCall) goja.Value {
		spec := specifierArg(r, call)
		child, err := r.importModule(r.ctx, spec, m.URL, m.scope)
		if err != nil {
			r.throw(err)
		}
		return child.Exports()
	}).ToObject(vm)
}

func (r *Runtime) cacheObject() *goja.Object {
	if r.cacheObj == nil {
		r.cacheObj = r.vm.NewDynamicObject(requireCache{rt: r})
	}
	return r.cacheObj
}

func specifierArg(r *Runtime, call goja.FunctionCall) string {
	arg := call.Argument(0)
	if goja.IsUndefined(arg) || goja.IsNull(arg) {
		panic(r.vm.NewTypeError("The \"id\" argument must be of type string. Received %s", arg.String()))
	}
	return arg.String()
}
