package loader

import (
	"fmt"
	"os"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/agentpkg/tsx/pkg/host"
	"github.com/agentpkg/tsx/pkg/resolve"
	"github.com/agentpkg/tsx/pkg/transform"
)

// syncSurface intercepts CommonJS loading. With a namespace it only ever
// runs as an overlay of one scoped require.
type syncSurface struct {
	l         *Loader
	namespace string
	observe   func(location string)
}

// interceptedExtensions are the table entries the surface takes over. .js
// and .mjs are wrapped so that ESM JavaScript is transformed while plain
// CommonJS still reaches the previous loader.
func (l *Loader) interceptedExtensions() []string {
	return append(append([]string(nil), resolve.DefaultOwned...), ".js", ".mjs")
}

func (s *syncSurface) resolveFilename(spec string, parent *host.Module, next host.ResolveFilenameFunc) (string, error) {
	referrer := ""
	if parent != nil {
		referrer = parent.Filename
	}

	res, err := s.l.resolver.Resolve(spec, resolve.Context{
		Referrer:   referrer,
		Conditions: resolve.Conditions(resolve.ModeSync, s.l.conditions...),
		Mode:       resolve.ModeSync,
	})
	if err != nil {
		// specifiers we cannot place fail the way the host reports them
		return next(spec, parent)
	}
	return withNamespace(res.Location, res.Query, s.namespace), nil
}

func (s *syncSurface) extensionLoader(prev host.ExtensionLoader) host.ExtensionLoader {
	return func(m *host.Module, filename string) error {
		res, err := s.l.resolver.Classify(filename, resolve.ModeSync)
		if err != nil {
			return err
		}
		if !res.Owned {
			if prev == nil {
				return fmt.Errorf("no loader for %s", filename)
			}
			if err := prev(m, filename); err != nil {
				return err
			}
			s.observe(filename)
			return nil
		}

		src, err := os.ReadFile(filename)
		if err != nil {
			return err
		}
		out, err := s.l.adapter.Transform(m.Context(), filename, src, transform.FormatCommonJS)
		if err != nil {
			return err
		}
		s.observe(filename)
		return m.Compile(out.InlineCode(), filename)
	}
}

// install patches rt globally and returns the function reverting it. Slots
// another interceptor has since wrapped are left in place; the handlers
// stored in them pass straight through once the surface is removed.
func (s *syncSurface) install(rt *host.Runtime) func() {
	var removed atomic.Bool
	var prevResolve host.ResolveFilenameFunc
	prevResolve = rt.ClaimResolveFilename(s, func(spec string, parent *host.Module) (string, error) {
		if removed.Load() {
			return resolveWith(rt, prevResolve, spec, parent)
		}
		return s.resolveFilename(spec, parent, func(spec string, parent *host.Module) (string, error) {
			return resolveWith(rt, prevResolve, spec, parent)
		})
	})

	type saved struct {
		loader  host.ExtensionLoader
		existed bool
	}
	restore := make(map[string]saved)
	for _, ext := range s.l.interceptedExtensions() {
		var prev host.ExtensionLoader
		prev, existed := rt.Extensions.Claim(ext, s, func(m *host.Module, filename string) error {
			if removed.Load() {
				return loadWith(rt, prev, m, filename)
			}
			return s.extensionLoader(prev)(m, filename)
		})
		restore[ext] = saved{loader: prev, existed: existed}
	}

	Logger().Debug("sync surface installed")
	return func() {
		removed.Store(true)
		wrapped := 0
		if !rt.ReleaseResolveFilename(s, prevResolve) {
			wrapped++
		}
		for ext, sv := range restore {
			if !rt.Extensions.Release(ext, s, sv.loader, sv.existed) {
				wrapped++
			}
		}
		Logger().Debug("sync surface removed",
			zap.Int("extensions", len(restore)),
			zap.Int("left_wrapped", wrapped),
		)
	}
}

func resolveWith(rt *host.Runtime, next host.ResolveFilenameFunc, spec string, parent *host.Module) (string, error) {
	if next == nil {
		return rt.NativeResolveFilename(spec, parent)
	}
	return next(spec, parent)
}

// loadWith hands filename to next, or to the .js entry when the surface
// replaced nothing, the way the host treats unknown extensions.
func loadWith(rt *host.Runtime, next host.ExtensionLoader, m *host.Module, filename string) error {
	if next != nil {
		return next(m, filename)
	}
	if js, ok := rt.Extensions.Get(".js"); ok {
		return js(m, filename)
	}
	return fmt.Errorf("no loader for %s", filename)
}

// overlay builds the private form of the surface used by scoped loads.
func (s *syncSurface) overlay(rt *host.Runtime) *host.Overlay {
	exts := make(map[string]host.ExtensionLoader)
	for _, ext := range s.l.interceptedExtensions() {
		prev, _ := rt.Extensions.Get(ext)
		exts[ext] = s.extensionLoader(prev)
	}
	return &host.Overlay{
		ResolveFilename: s.resolveFilename,
		Extensions:      exts,
	}
}
