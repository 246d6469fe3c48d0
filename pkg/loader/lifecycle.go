package loader

import (
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/agentpkg/tsx/pkg/host"
)

// Surface selects the interception surfaces a registration holds.
type Surface uint8

const (
	SurfaceSync Surface = 1 << iota
	SurfaceAsync

	SurfaceAll = SurfaceSync | SurfaceAsync
)

func (s Surface) String() string {
	var parts []string
	if s&SurfaceSync != 0 {
		parts = append(parts, "sync")
	}
	if s&SurfaceAsync != 0 {
		parts = append(parts, "async")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "+")
}

type RegisterOptions struct {
	// Surfaces defaults to SurfaceAll.
	Surfaces Surface
	// OnImport receives the file URL of every module loaded through the
	// registration's surfaces, once per URL.
	OnImport func(url string)
	// Data is passed to the ESM hooks on installation.
	Data any
}

// Registration is a handle on an active registration. Unregister may be
// called any number of times; only the first call has an effect.
type Registration struct {
	ID       uint64
	Surfaces Surface

	state    *lifecycle
	observer *observer
	active   atomic.Bool
	once     sync.Once
}

func (r *Registration) Active() bool { return r.active.Load() }

func (r *Registration) Unregister() {
	r.once.Do(func() {
		r.active.Store(false)

		lifecyclesMu.Lock()
		defer lifecyclesMu.Unlock()
		if r.state.release(r) && lifecycles[r.state.rt] == r.state {
			delete(lifecycles, r.state.rt)
		}
	})
}

// lifecycle is the interception state of one runtime. Surfaces are installed
// when their first holder registers and removed when the last one leaves.
type lifecycle struct {
	mu          sync.Mutex
	rt          *host.Runtime
	nextID      uint64
	syncRefs    int
	asyncRefs   int
	removeSync  func()
	removeAsync func()
	regs        map[uint64]*Registration
}

// lifecycles holds the state of every runtime with an active registration.
// Lookups, acquire, release and removal of idle entries all happen under
// lifecyclesMu, so an entry is never dropped while another caller is about
// to install on it.
var (
	lifecyclesMu sync.Mutex
	lifecycles   = make(map[*host.Runtime]*lifecycle)
)

// Register installs the selected surfaces on the loader's runtime. Surfaces
// already installed by another registration are shared, not installed again.
func (l *Loader) Register(opts RegisterOptions) (*Registration, error) {
	surfaces := opts.Surfaces
	if surfaces == 0 {
		surfaces = SurfaceAll
	}

	lifecyclesMu.Lock()
	defer lifecyclesMu.Unlock()
	lc, ok := lifecycles[l.rt]
	if !ok {
		lc = &lifecycle{rt: l.rt, regs: make(map[uint64]*Registration)}
	}
	reg, err := lc.acquire(l, surfaces, opts)
	if err != nil {
		return nil, err
	}
	lifecycles[l.rt] = lc
	return reg, nil
}

func (lc *lifecycle) acquire(l *Loader, surfaces Surface, opts RegisterOptions) (*Registration, error) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if surfaces&SurfaceAsync != 0 && lc.asyncRefs == 0 {
		hooks := &asyncSurface{l: l, observe: lc.notifier(SurfaceAsync)}
		remove, err := lc.rt.RegisterHooks(hooks, opts.Data)
		if err != nil {
			return nil, err
		}
		lc.removeAsync = remove
	}
	if surfaces&SurfaceSync != 0 && lc.syncRefs == 0 {
		s := &syncSurface{l: l, observe: lc.notifier(SurfaceSync)}
		lc.removeSync = s.install(lc.rt)
	}
	if surfaces&SurfaceSync != 0 {
		lc.syncRefs++
	}
	if surfaces&SurfaceAsync != 0 {
		lc.asyncRefs++
	}

	lc.nextID++
	reg := &Registration{
		ID:       lc.nextID,
		Surfaces: surfaces,
		state:    lc,
		observer: newObserver(opts.OnImport),
	}
	reg.active.Store(true)
	lc.regs[reg.ID] = reg

	Logger().Debug("registered",
		zap.Uint64("id", reg.ID),
		zap.Stringer("surfaces", surfaces),
		zap.Int("sync_refs", lc.syncRefs),
		zap.Int("async_refs", lc.asyncRefs))
	return reg, nil
}

// release drops reg and reports whether no surface is installed anymore.
func (lc *lifecycle) release(reg *Registration) bool {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	delete(lc.regs, reg.ID)
	if reg.Surfaces&SurfaceSync != 0 {
		lc.syncRefs--
		if lc.syncRefs == 0 && lc.removeSync != nil {
			lc.removeSync()
			lc.removeSync = nil
		}
	}
	if reg.Surfaces&SurfaceAsync != 0 {
		lc.asyncRefs--
		if lc.asyncRefs == 0 && lc.removeAsync != nil {
			lc.removeAsync()
			lc.removeAsync = nil
		}
	}

	Logger().Debug("unregistered",
		zap.Uint64("id", reg.ID),
		zap.Int("sync_refs", lc.syncRefs),
		zap.Int("async_refs", lc.asyncRefs))
	return lc.syncRefs == 0 && lc.asyncRefs == 0
}

// notifier fans a load out to the registrations holding surface.
func (lc *lifecycle) notifier(surface Surface) func(location string) {
	return func(location string) {
		lc.mu.Lock()
		var targets []*observer
		for _, reg := range lc.regs {
			if reg.Surfaces&surface != 0 && reg.Active() {
				targets = append(targets, reg.observer)
			}
		}
		lc.mu.Unlock()

		for _, o := range targets {
			o.notify(location)
		}
	}
}

// installed reports the reference counts of the runtime's surfaces.
func (l *Loader) installed() (syncRefs, asyncRefs int) {
	lifecyclesMu.Lock()
	lc := lifecycles[l.rt]
	lifecyclesMu.Unlock()
	if lc == nil {
		return 0, 0
	}
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.syncRefs, lc.asyncRefs
}
