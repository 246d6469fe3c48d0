package host

import (
	"context"
	"errors"

	"github.com/dop251/goja"
)

// Env is the runtime as seen by code already running on it: builtins, Go
// functions called from JS, and functions passed to Runtime.Do. Its methods
// do not lock and must only be used in those places.
type Env struct {
	rt *Runtime
}

func (e *Env) Runtime() *Runtime { return e.rt }

func (e *Env) VM() *goja.Runtime { return e.rt.vm }

// Context returns the context of the outermost Go call into the runtime.
func (e *Env) Context() context.Context { return e.rt.ctx }

func (e *Env) Require(spec, from string, opts ...RequireOption) (goja.Value, error) {
	var ro requireOptions
	for _, opt := range opts {
		opt(&ro)
	}
	parent, err := e.rt.pseudoParent(from)
	if err != nil {
		return nil, err
	}
	m, err := e.rt.requireModule(spec, parent, ro.overlay, false)
	if err != nil {
		return nil, wrapError(err)
	}
	return m.Exports(), nil
}

func (e *Env) ResolveFilename(spec, from string, opts ...RequireOption) (string, error) {
	var ro requireOptions
	for _, opt := range opts {
		opt(&ro)
	}
	if name, ok := e.rt.builtinName(spec); ok {
		return name, nil
	}
	parent, err := e.rt.pseudoParent(from)
	if err != nil {
		return "", err
	}
	return e.rt.filenameFor(spec, parent, ro.overlay)
}

func (e *Env) Import(ctx context.Context, spec, parentURL string, opts ...ImportOption) (*goja.Object, error) {
	var sc *scope
	if len(opts) > 0 {
		sc = &scope{}
		for _, opt := range opts {
			opt(sc)
		}
	}
	m, err := e.rt.importModule(ctx, spec, parentURL, sc)
	if err != nil {
		return nil, wrapError(err)
	}
	return e.rt.namespace(m), nil
}

// DeleteCache removes id from the require cache.
func (e *Env) DeleteCache(id string) bool { return e.rt.deleteCache(id) }

// Throw raises err in the running JS. It does not return.
func (e *Env) Throw(err error) { e.rt.throw(err) }

// Await settles v when it is a promise and returns it unchanged otherwise.
func (e *Env) Await(v goja.Value) (goja.Value, error) {
	if v == nil {
		return v, nil
	}
	p, ok := v.Export().(*goja.Promise)
	if !ok {
		return v, nil
	}
	switch p.State() {
	case goja.PromiseStateFulfilled:
		return p.Result(), nil
	case goja.PromiseStateRejected:
		return nil, newRejectionError(p.Result())
	default:
		return nil, errors.New("promise is still pending")
	}
}

// NewPromise returns a promise together with functions settling it from Go.
func (e *Env) NewPromise() (*goja.Object, func(any), func(error)) {
	vm := e.rt.vm
	p, resolve, reject := vm.NewPromise()
	return vm.ToValue(p).ToObject(vm),
		func(v any) { resolve(v) },
		func(err error) { reject(e.rt.errorValue(err)) }
}
