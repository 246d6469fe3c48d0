// Package host embeds a goja JavaScript runtime and gives it the two module
// pipelines of a Node-style host: a synchronous CommonJS require with an
// extension table and a patchable filename resolver, and an asynchronous
// ESM import with a chain of resolve/load hooks. Both pipelines can be
// extended while the runtime is running.
package host

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/agentpkg/tsx/pkg/resolve"
	"github.com/agentpkg/tsx/pkg/transform"
)

// Lowerer rewrites ESM syntax into code the CommonJS wrapper can run.
type Lowerer interface {
	Lower(ctx context.Context, location string, source []byte) (*transform.Result, error)
}

type options struct {
	stdout         io.Writer
	stderr         io.Writer
	args           []string
	env            []string
	conditions     []string
	conditionOrder resolve.ConditionOrder
	lowerer        Lowerer
}

type Option func(*options)

func WithStdout(w io.Writer) Option { return func(o *options) { o.stdout = w } }

func WithStderr(w io.Writer) Option { return func(o *options) { o.stderr = w } }

// WithArgs sets process.argv.
func WithArgs(args ...string) Option { return func(o *options) { o.args = args } }

// WithEnv sets process.env from KEY=VALUE pairs.
func WithEnv(env []string) Option { return func(o *options) { o.env = env } }

// WithConditions adds user export conditions to both pipelines.
func WithConditions(conditions ...string) Option {
	return func(o *options) { o.conditions = conditions }
}

func WithConditionOrder(order resolve.ConditionOrder) Option {
	return func(o *options) { o.conditionOrder = order }
}

// WithLowerer replaces the esbuild based ESM lowering.
func WithLowerer(l Lowerer) Option { return func(o *options) { o.lowerer = l } }

// Runtime is a JavaScript VM plus its module system. Evaluation is
// serialised; the extension table, the filename resolver and the hook chain
// may be changed from any goroutine, including from running JS.
type Runtime struct {
	// Extensions is the CommonJS extension table.
	Extensions *Extensions

	mu   sync.Mutex
	vm   *goja.Runtime
	opts options
	env  *Env
	ctx  context.Context

	cache      map[string]*Module
	registry   map[string]*Module
	builtinMod map[string]*Module
	main       *Module
	cacheObj   *goja.Object
	rejections []*goja.Promise

	patchMu         sync.RWMutex
	resolveFilename ResolveFilenameFunc
	resolveOwner    any
	hooks           []hookEntry
	nextHook        int
	builtins        map[string]Builtin

	strict *resolve.Resolver
}

func New(opts ...Option) *Runtime {
	o := options{
		stdout: os.Stdout,
		stderr: os.Stderr,
		env:    os.Environ(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.lowerer == nil {
		o.lowerer = transform.NewAdapter(transform.NewEsbuild(), nil, transform.Options{}, nil)
	}

	r := &Runtime{
		Extensions: newExtensions(),
		vm:         goja.New(),
		opts:       o,
		ctx:        context.Background(),
		cache:      make(map[string]*Module),
		registry:   make(map[string]*Module),
		builtinMod: make(map[string]*Module),
		builtins:   make(map[string]Builtin),
		strict: resolve.New(resolve.Options{
			Owned:          []string{},
			Strict:         true,
			ConditionOrder: o.conditionOrder,
		}),
	}
	r.env = &Env{rt: r}
	r.resolveFilename = r.nativeResolveFilename
	r.Extensions.Set(".js", r.loadJS)
	r.Extensions.Set(".json", r.loadJSON)

	r.vm.SetPromiseRejectionTracker(r.trackRejection)
	r.installGlobals()
	return r
}

// Do runs fn with the runtime locked. Values obtained from the VM must only
// be used inside fn or from code running on the VM.
func (r *Runtime) Do(fn func(env *Env) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(r.env)
}

func (r *Runtime) do(ctx context.Context, fn func(env *Env) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.ctx
	r.ctx = ctx
	defer func() { r.ctx = prev }()
	return fn(r.env)
}

// Require loads spec through the CommonJS pipeline as if required from the
// file or directory from (the working directory when empty) and returns its
// exports.
func (r *Runtime) Require(spec, from string, opts ...RequireOption) (goja.Value, error) {
	var v goja.Value
	err := r.do(context.Background(), func(env *Env) (err error) {
		v, err = env.Require(spec, from, opts...)
		return err
	})
	return v, err
}

// ResolveFilename returns the module id spec resolves to without loading it.
func (r *Runtime) ResolveFilename(spec, from string, opts ...RequireOption) (string, error) {
	var id string
	err := r.do(context.Background(), func(env *Env) (err error) {
		id, err = env.ResolveFilename(spec, from, opts...)
		return err
	})
	return id, err
}

// Import loads spec through the ESM pipeline and returns its namespace.
func (r *Runtime) Import(ctx context.Context, spec, parentURL string, opts ...ImportOption) (*goja.Object, error) {
	var ns *goja.Object
	err := r.do(ctx, func(env *Env) (err error) {
		ns, err = env.Import(ctx, spec, parentURL, opts...)
		return err
	})
	return ns, err
}

// RunMain executes filename as the program entry point. ESM entries, and
// every entry once ESM hooks are registered, go through the ESM pipeline;
// everything else is required. A promise rejection left unhandled when the
// entry finishes is returned as an error.
func (r *Runtime) RunMain(ctx context.Context, filename string) error {
	abs, err := filepath.Abs(filename)
	if err != nil {
		return err
	}

	useESM := r.hasHooks()
	if !useESM {
		format, err := resolve.DetectFormat(abs)
		if err != nil {
			return err
		}
		useESM = format == resolve.FormatModule
	}

	Logger().Debug("running main", zap.String("file", abs), zap.Bool("esm", useESM))

	return r.do(ctx, func(env *Env) error {
		r.rejections = nil
		if useESM {
			if _, err := env.Import(ctx, resolve.PathToURL(abs), ""); err != nil {
				return err
			}
		} else {
			if _, err := r.requireModule(abs, nil, nil, true); err != nil {
				return wrapError(err)
			}
		}
		return r.unhandledRejection()
	})
}

// Await settles v when it is a promise. Jobs run whenever control returns
// from the VM, so a promise still pending here will never settle.
func (r *Runtime) Await(v goja.Value) (goja.Value, error) {
	var out goja.Value
	err := r.Do(func(env *Env) (err error) {
		out, err = env.Await(v)
		return err
	})
	return out, err
}

// DeleteCache removes id from the require cache.
func (r *Runtime) DeleteCache(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deleteCache(id)
}

func (r *Runtime) deleteCache(id string) bool {
	if _, ok := r.cache[id]; !ok {
		return false
	}
	delete(r.cache, id)
	return true
}

// CacheKeys lists the ids in the require cache.
func (r *Runtime) CacheKeys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedKeys(r.cache)
}

// RegistryKeys lists the URLs in the ESM module registry.
func (r *Runtime) RegistryKeys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedKeys(r.registry)
}

func (r *Runtime) trackRejection(p *goja.Promise, op goja.PromiseRejectionOperation) {
	switch op {
	case goja.PromiseRejectionReject:
		r.rejections = append(r.rejections, p)
	case goja.PromiseRejectionHandle:
		for i, q := range r.rejections {
			if q == p {
				r.rejections = append(r.rejections[:i], r.rejections[i+1:]...)
				break
			}
		}
	}
}

func (r *Runtime) unhandledRejection() error {
	if len(r.rejections) == 0 {
		return nil
	}
	p := r.rejections[0]
	r.rejections = nil
	return newRejectionError(p.Result())
}

func (r *Runtime) installGlobals() {
	vm := r.vm

	console := vm.NewObject()
	out := func(w io.Writer) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			io.WriteString(w, r.formatArgs(call.Arguments)+"\n")
			return goja.Undefined()
		}
	}
	console.Set("log", out(r.opts.stdout))
	console.Set("info", out(r.opts.stdout))
	console.Set("debug", out(r.opts.stdout))
	console.Set("warn", out(r.opts.stderr))
	console.Set("error", out(r.opts.stderr))
	vm.Set("console", console)

	env := vm.NewObject()
	for _, kv := range r.opts.env {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env.Set(k, v)
		}
	}

	argv := append([]string{"tsx"}, r.opts.args...)
	process := vm.NewObject()
	process.Set("argv", argv)
	process.Set("env", env)
	process.Set("platform", runtime.GOOS)
	process.Set("cwd", func(goja.FunctionCall) goja.Value {
		wd, err := os.Getwd()
		if err != nil {
			r.throw(err)
		}
		return vm.ToValue(wd)
	})
	vm.Set("process", process)
	vm.Set("global", vm.GlobalObject())
}

func (r *Runtime) formatArgs(args []goja.Value) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		parts = append(parts, r.inspect(a))
	}
	return strings.Join(parts, " ")
}

func (r *Runtime) inspect(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	o, ok := v.(*goja.Object)
	if !ok {
		return v.String()
	}
	if stack := o.Get("stack"); stack != nil && !goja.IsUndefined(stack) {
		return stack.String()
	}
	if _, isFunc := goja.AssertFunction(o); isFunc {
		return v.String()
	}
	if s, err := r.stringify(o); err == nil {
		return s
	}
	return v.String()
}

func (r *Runtime) stringify(v goja.Value) (string, error) {
	jsonObj := r.vm.Get("JSON").ToObject(r.vm)
	fn, _ := goja.AssertFunction(jsonObj.Get("stringify"))
	out, err := fn(jsonObj, v)
	if err != nil {
		return "", err
	}
	if goja.IsUndefined(out) {
		return "undefined", nil
	}
	return out.String(), nil
}

func sortedKeys(m map[string]*Module) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
