// Package loader plugs TypeScript support into a host runtime. It installs a
// CommonJS surface (filename resolver plus extension loaders) and an ESM
// surface (resolve/load hooks), both backed by the same resolver and
// transform adapter, and manages their registration.
package loader

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/agentpkg/tsx/pkg/host"
	"github.com/agentpkg/tsx/pkg/resolve"
	"github.com/agentpkg/tsx/pkg/transform"
)

// NamespaceParam is the query parameter that separates the module identity
// of scoped loads from global ones.
const NamespaceParam = "tsx-namespace"

type Options struct {
	// Adapter transforms owned files. Defaults to esbuild with an in-memory
	// cache.
	Adapter *transform.Adapter
	// Conditions are export conditions tried before the pipeline defaults.
	Conditions     []string
	ConditionOrder resolve.ConditionOrder
}

type Loader struct {
	rt         *host.Runtime
	adapter    *transform.Adapter
	resolver   *resolve.Resolver
	conditions []string

	namespaces atomic.Uint64
	inflight   atomic.Int64
}

// New creates a loader for rt and makes the tsx/cjs/api and tsx/esm/api
// builtins available to scripts running on it. Nothing is intercepted until
// Register is called.
func New(rt *host.Runtime, opts Options) *Loader {
	if opts.Adapter == nil {
		opts.Adapter = transform.NewAdapter(transform.NewEsbuild(), nil, transform.Options{}, nil)
	}
	l := &Loader{
		rt:         rt,
		adapter:    opts.Adapter,
		resolver:   resolve.New(resolve.Options{ConditionOrder: opts.ConditionOrder}),
		conditions: opts.Conditions,
	}
	rt.RegisterBuiltin("tsx/cjs/api", l.cjsAPI)
	rt.RegisterBuiltin("tsx/esm/api", l.esmAPI)
	return l
}

func (l *Loader) Runtime() *host.Runtime { return l.rt }

// InFlight reports the number of scoped imports and requires in progress.
func (l *Loader) InFlight() int64 { return l.inflight.Load() }

// Run registers both surfaces and executes file as the program entry point.
func (l *Loader) Run(ctx context.Context, file string) error {
	reg, err := l.Register(RegisterOptions{})
	if err != nil {
		return err
	}
	defer reg.Unregister()
	return l.rt.RunMain(ctx, file)
}

func (l *Loader) newNamespace() string {
	return strconv.FormatUint(l.namespaces.Add(1), 10)
}

// withNamespace appends the namespace parameter to a module id or URL that
// may already carry a query.
func withNamespace(id, query, ns string) string {
	if ns == "" {
		return id + query
	}
	sep := "?"
	if strings.HasPrefix(query, "?") {
		sep = "&"
	}
	return id + query + sep + NamespaceParam + "=" + ns
}

// observer delivers each resource to an onImport callback once.
type observer struct {
	fn   func(url string)
	mu   sync.Mutex
	seen map[string]bool
}

func newObserver(fn func(url string)) *observer {
	return &observer{fn: fn, seen: make(map[string]bool)}
}

func (o *observer) notify(location string) {
	if o == nil || o.fn == nil {
		return
	}
	url := resolve.PathToURL(location)

	o.mu.Lock()
	if o.seen[url] {
		o.mu.Unlock()
		return
	}
	o.seen[url] = true
	o.mu.Unlock()

	Logger().Debug("import observed", zap.String("url", url))
	o.fn(url)
}
