package loader

import (
	"context"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/agentpkg/tsx/pkg/host"
	"github.com/agentpkg/tsx/pkg/resolve"
	"github.com/agentpkg/tsx/pkg/transform"
)

// asyncSurface is the ESM side of the loader. It resolves with TypeScript
// semantics and hands transformed source back to the pipeline.
type asyncSurface struct {
	l         *Loader
	namespace string
	observe   func(location string)
}

var _ host.Hooks = (*asyncSurface)(nil)

func (s *asyncSurface) Resolve(ctx context.Context, spec string, rc host.ResolveContext, next host.NextResolve) (*host.ResolveResult, error) {
	if strings.HasPrefix(spec, "node:") {
		return next(ctx, spec, rc)
	}

	conditions := rc.Conditions
	if conditions == nil {
		conditions = resolve.Conditions(resolve.ModeAsync, s.l.conditions...)
	}
	res, err := s.l.resolver.Resolve(spec, resolve.Context{
		Referrer:   rc.ParentURL,
		Conditions: conditions,
		Mode:       resolve.ModeAsync,
	})
	if err != nil {
		return next(ctx, spec, rc)
	}

	if !res.Owned {
		out, err := next(ctx, spec, rc)
		if err == nil {
			return s.scoped(out), nil
		}
		// the specifier only resolves with probing
		out, nerr := next(ctx, res.URL(), rc)
		if nerr != nil {
			return nil, err
		}
		return s.scoped(out), nil
	}

	return &host.ResolveResult{
		URL:          withNamespace(resolve.PathToURL(res.Location), res.Query, s.namespace),
		Format:       res.Format,
		ShortCircuit: true,
	}, nil
}

// scoped tags a URL resolved further down the chain with the namespace.
func (s *asyncSurface) scoped(rr *host.ResolveResult) *host.ResolveResult {
	if s.namespace == "" || !strings.HasPrefix(rr.URL, "file:") {
		return rr
	}
	base, query := resolve.SplitQuery(rr.URL)
	out := *rr
	out.URL = withNamespace(base, query, s.namespace)
	return &out
}

func (s *asyncSurface) Load(ctx context.Context, url string, lc host.LoadContext, next host.NextLoad) (*host.LoadResult, error) {
	if !strings.HasPrefix(url, "file:") {
		return next(ctx, url, lc)
	}
	path, err := resolve.URLToPath(url)
	if err != nil {
		return nil, err
	}

	res, err := s.l.resolver.Classify(path, resolve.ModeAsync)
	if err != nil {
		return nil, err
	}
	if !res.Owned {
		out, err := next(ctx, url, lc)
		if err != nil {
			return nil, err
		}
		s.observe(path)
		return out, nil
	}

	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	format := transform.FormatESM
	if res.Format == resolve.FormatCommonJS {
		format = transform.FormatCommonJS
	}
	out, err := s.l.adapter.Transform(ctx, path, src, format)
	if err != nil {
		return nil, err
	}
	s.observe(path)

	Logger().Debug("loaded", zap.String("url", url), zap.String("format", string(res.Format)), zap.Bool("cached", out.Cached))
	return &host.LoadResult{
		Source:       []byte(out.InlineCode()),
		Format:       res.Format,
		ShortCircuit: true,
	}, nil
}
