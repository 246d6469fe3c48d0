package cmd

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/agentpkg/tsx/pkg/cache"
	"github.com/agentpkg/tsx/pkg/config"
	"github.com/agentpkg/tsx/pkg/host"
	"github.com/agentpkg/tsx/pkg/loader"
	"github.com/agentpkg/tsx/pkg/project"
	"github.com/agentpkg/tsx/pkg/store"
	"github.com/agentpkg/tsx/pkg/transform"
)

// openStore returns the cache store selected by the configuration.
func openStore(cfg *config.Config, cfgPath string) (store.Store, error) {
	if dir := project.CacheDir(cfg, cfgPath); dir != "" {
		return store.New(dir), nil
	}
	return store.Default()
}

// newCache layers an in-memory cache over the on-disk one, or disables
// caching across runs entirely.
func newCache(cfg *config.Config, cfgPath string) (cache.Cache, error) {
	if cfg.Cache.Disabled {
		return cache.NewMemory(), nil
	}
	st, err := openStore(cfg, cfgPath)
	if err != nil {
		return nil, err
	}
	return &cache.Layered{Front: cache.NewMemory(), Back: cache.NewDisk(st)}, nil
}

type engineOptions struct {
	args     []string
	stdout   io.Writer
	stderr   io.Writer
	registry prometheus.Registerer
}

// newEngine wires a host runtime and a loader from the configuration.
func newEngine(cfg *config.Config, cfgPath string, eo engineOptions) (*loader.Loader, error) {
	c, err := newCache(cfg, cfgPath)
	if err != nil {
		return nil, err
	}
	adapter := transform.NewAdapter(transform.NewEsbuild(), c, cfg.TransformOptions(), transform.NewMetrics(eo.registry))

	rt := host.New(
		host.WithArgs(eo.args...),
		host.WithStdout(eo.stdout),
		host.WithStderr(eo.stderr),
		host.WithConditions(cfg.Conditions...),
		host.WithConditionOrder(cfg.Order()),
		host.WithLowerer(adapter),
	)
	return loader.New(rt, loader.Options{
		Adapter:        adapter,
		Conditions:     cfg.Conditions,
		ConditionOrder: cfg.Order(),
	}), nil
}
