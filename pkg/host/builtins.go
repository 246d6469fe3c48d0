package host

import (
	"strings"

	"github.com/dop251/goja"

	"github.com/agentpkg/tsx/pkg/resolve"
)

// Builtin builds the exports of a builtin module. It runs once, on first
// use, with the runtime locked.
type Builtin func(env *Env) (goja.Value, error)

// RegisterBuiltin makes name (and "node:"+name) resolvable in both
// pipelines.
func (r *Runtime) RegisterBuiltin(name string, b Builtin) {
	r.patchMu.Lock()
	defer r.patchMu.Unlock()
	r.builtins[name] = b
}

func (r *Runtime) builtinName(spec string) (string, bool) {
	name := strings.TrimPrefix(spec, "node:")
	r.patchMu.RLock()
	defer r.patchMu.RUnlock()
	_, ok := r.builtins[name]
	return name, ok
}

func (r *Runtime) builtinModule(name string) (*Module, error) {
	if m, ok := r.builtinMod[name]; ok {
		return m, nil
	}

	r.patchMu.RLock()
	b := r.builtins[name]
	r.patchMu.RUnlock()

	v, err := b(r.env)
	if err != nil {
		return nil, err
	}
	m := r.newModule(name, name, nil)
	m.URL = "node:" + name
	m.Format = resolve.FormatBuiltin
	m.SetExports(v)
	m.markLoaded()
	r.builtinMod[name] = m
	return m, nil
}
