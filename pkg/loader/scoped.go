package loader

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/agentpkg/tsx/pkg/host"
	"github.com/agentpkg/tsx/pkg/resolve"
)

var ErrParentRequired = errors.New("tsImport requires a parent URL or file path")

type ImportOptions struct {
	// ParentURL is the file URL or absolute path the specifier is relative
	// to. Required.
	ParentURL string
	// OnImport receives the file URL of every module loaded by this import.
	OnImport func(url string)
}

// scope is the private interception state of one scoped call. Nothing in it
// is visible to other callers.
type scope struct {
	namespace string
	async     *asyncSurface
	overlay   *host.Overlay
}

func (l *Loader) newScope(onImport func(url string)) *scope {
	ns := l.newNamespace()
	obs := newObserver(onImport)
	ss := &syncSurface{l: l, namespace: ns, observe: obs.notify}
	return &scope{
		namespace: ns,
		async:     &asyncSurface{l: l, namespace: ns, observe: obs.notify},
		overlay:   ss.overlay(l.rt),
	}
}

// TsImport imports spec with TypeScript support for this call only. Modules
// it loads live in a namespace of their own, so neither the global pipeline
// nor concurrent scoped imports share them.
func (l *Loader) TsImport(ctx context.Context, spec string, opts ImportOptions) (*goja.Object, error) {
	parent, err := parentURL(opts.ParentURL)
	if err != nil {
		return nil, err
	}
	sc, done := l.begin(opts.OnImport)
	defer done()

	Logger().Debug("scoped import", zap.String("spec", spec), zap.String("parent", parent), zap.String("namespace", sc.namespace))
	return l.rt.Import(ctx, spec, parent, host.WithHooks(sc.async), host.WithRequireOverlay(sc.overlay))
}

// tsImport is TsImport for code already running on the runtime.
func (l *Loader) tsImport(ctx context.Context, env *host.Env, spec string, opts ImportOptions) (*goja.Object, error) {
	parent, err := parentURL(opts.ParentURL)
	if err != nil {
		return nil, err
	}
	sc, done := l.begin(opts.OnImport)
	defer done()
	return env.Import(ctx, spec, parent, host.WithHooks(sc.async), host.WithRequireOverlay(sc.overlay))
}

// Require loads spec through the CommonJS pipeline with TypeScript support
// for this call only, as if required from fromFile.
func (l *Loader) Require(spec, fromFile string) (goja.Value, error) {
	sc, done := l.begin(nil)
	defer done()
	return l.rt.Require(spec, fromFile, host.WithOverlay(sc.overlay))
}

func (l *Loader) require(env *host.Env, spec, fromFile string) (goja.Value, error) {
	sc, done := l.begin(nil)
	defer done()
	return env.Require(spec, fromFile, host.WithOverlay(sc.overlay))
}

// Resolve returns the file spec resolves to from fromFile using TypeScript
// resolution rules. Nothing is loaded.
func (l *Loader) Resolve(spec, fromFile string) (string, error) {
	res, err := l.resolver.Resolve(spec, resolve.Context{
		Referrer:   fromFile,
		Conditions: resolve.Conditions(resolve.ModeSync, l.conditions...),
		Mode:       resolve.ModeSync,
	})
	if err != nil {
		return "", err
	}
	return res.Location, nil
}

func (l *Loader) begin(onImport func(url string)) (*scope, func()) {
	l.inflight.Add(1)
	return l.newScope(onImport), func() { l.inflight.Add(-1) }
}

func parentURL(parent string) (string, error) {
	switch {
	case parent == "":
		return "", ErrParentRequired
	case strings.HasPrefix(parent, "file:"):
		return parent, nil
	case filepath.IsAbs(parent):
		return resolve.PathToURL(parent), nil
	default:
		abs, err := filepath.Abs(parent)
		if err != nil {
			return "", err
		}
		return resolve.PathToURL(abs), nil
	}
}
