package loader

import (
	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/agentpkg/tsx/pkg/host"
)

// cjsAPI builds the tsx/cjs/api builtin:
//
//	const tsx = require('tsx/cjs/api')
//	const unregister = tsx.register({ onImport })
//	tsx.require('./file', __filename)
//	tsx.require.resolve('./file', __filename)
func (l *Loader) cjsAPI(env *host.Env) (goja.Value, error) {
	vm := env.VM()
	api := vm.NewObject()

	api.Set("register", func(call goja.FunctionCall) goja.Value {
		reg, err := l.Register(RegisterOptions{
			Surfaces: SurfaceSync,
			OnImport: onImportOption(vm, call.Argument(0)),
		})
		if err != nil {
			env.Throw(err)
		}
		return vm.ToValue(func(goja.FunctionCall) goja.Value {
			reg.Unregister()
			return goja.Undefined()
		})
	})

	req := vm.ToValue(func(call goja.FunctionCall) goja.Value {
		v, err := l.require(env, call.Argument(0).String(), fromArg(call.Argument(1)))
		if err != nil {
			env.Throw(err)
		}
		return v
	}).ToObject(vm)
	req.Set("resolve", func(call goja.FunctionCall) goja.Value {
		loc, err := l.Resolve(call.Argument(0).String(), fromArg(call.Argument(1)))
		if err != nil {
			env.Throw(err)
		}
		return vm.ToValue(loc)
	})
	api.Set("require", req)

	return api, nil
}

// esmAPI builds the tsx/esm/api builtin:
//
//	const { register, tsImport } = require('tsx/esm/api')
//	const unregister = register({ onImport })
//	await unregister()
//	const ns = await tsImport('./file.ts', import.meta.url)
func (l *Loader) esmAPI(env *host.Env) (goja.Value, error) {
	vm := env.VM()
	api := vm.NewObject()

	api.Set("register", func(call goja.FunctionCall) goja.Value {
		opts := RegisterOptions{
			Surfaces: SurfaceAsync,
			OnImport: onImportOption(vm, call.Argument(0)),
		}
		if obj, ok := call.Argument(0).(*goja.Object); ok {
			if data := obj.Get("data"); data != nil && !goja.IsUndefined(data) {
				opts.Data = data.Export()
			}
		}
		reg, err := l.Register(opts)
		if err != nil {
			env.Throw(err)
		}
		return vm.ToValue(func(goja.FunctionCall) goja.Value {
			reg.Unregister()
			p, resolve, _ := env.NewPromise()
			resolve(goja.Undefined())
			return p
		})
	})

	api.Set("tsImport", func(call goja.FunctionCall) goja.Value {
		spec := call.Argument(0).String()
		opts := ImportOptions{}
		switch arg := call.Argument(1).(type) {
		case *goja.Object:
			// an options object, or a URL instance
			opts.ParentURL = fromArg(arg.Get("parentURL"))
			if opts.ParentURL == "" {
				opts.ParentURL = fromArg(arg.Get("href"))
			}
			opts.OnImport = onImportOption(vm, arg)
		default:
			opts.ParentURL = fromArg(arg)
		}

		// the import runs as a job so that it settles after the caller's
		// synchronous code
		run := func(goja.FunctionCall) goja.Value {
			ns, err := l.tsImport(env.Context(), env, spec, opts)
			if err != nil {
				env.Throw(err)
			}
			return ns
		}
		return then(vm, resolved(vm), vm.ToValue(run))
	})

	return api, nil
}

// onImportOption extracts a JS onImport callback from an options object.
func onImportOption(vm *goja.Runtime, v goja.Value) func(url string) {
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil
	}
	fn, ok := goja.AssertFunction(obj.Get("onImport"))
	if !ok {
		return nil
	}
	return func(url string) {
		if _, err := fn(goja.Undefined(), vm.ToValue(url)); err != nil {
			Logger().Warn("onImport callback failed", zap.String("url", url), zap.Error(err))
		}
	}
}

func fromArg(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return v.String()
}

func resolved(vm *goja.Runtime) goja.Value {
	ctor := vm.Get("Promise").ToObject(vm)
	fn, _ := goja.AssertFunction(ctor.Get("resolve"))
	p, err := fn(ctor)
	if err != nil {
		panic(err)
	}
	return p
}

func then(vm *goja.Runtime, p, onFulfilled goja.Value) goja.Value {
	obj := p.ToObject(vm)
	fn, _ := goja.AssertFunction(obj.Get("then"))
	out, err := fn(obj, onFulfilled)
	if err != nil {
		panic(err)
	}
	return out
}
