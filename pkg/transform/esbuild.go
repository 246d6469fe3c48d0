package transform

import (
	"context"
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

// EsbuildVersion is recorded in transform keys so an engine upgrade never
// serves output cached by an older one.
const EsbuildVersion = "0.25.5"

var targets = map[string]api.Target{
	"es2015": api.ES2015,
	"es2016": api.ES2016,
	"es2017": api.ES2017,
	"es2018": api.ES2018,
	"es2019": api.ES2019,
	"es2020": api.ES2020,
	"es2021": api.ES2021,
	"es2022": api.ES2022,
	"esnext": api.ESNext,
}

var loaders = map[string]api.Loader{
	".ts":   api.LoaderTS,
	".mts":  api.LoaderTS,
	".cts":  api.LoaderTS,
	".tsx":  api.LoaderTSX,
	".jsx":  api.LoaderJSX,
	".js":   api.LoaderJS,
	".mjs":  api.LoaderJS,
	".cjs":  api.LoaderJS,
	".json": api.LoaderJSON,
}

// ValidTarget reports whether target names a supported language level.
func ValidTarget(target string) bool {
	_, ok := targets[strings.ToLower(target)]
	return ok
}

// Esbuild is the Engine backed by esbuild's transform API.
type Esbuild struct{}

func NewEsbuild() *Esbuild { return &Esbuild{} }

func (*Esbuild) Name() string { return "esbuild@" + EsbuildVersion }

func (*Esbuild) Transform(ctx context.Context, req *Request) (*Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts, err := esbuildOptions(req)
	if err != nil {
		return nil, err
	}

	result := api.Transform(string(req.Source), opts)
	if len(result.Errors) > 0 {
		return nil, newEsbuildError(req.Sourcefile, result.Errors)
	}

	return &Output{
		Code:     string(result.Code),
		Map:      result.Map,
		Warnings: diagnostics(req.Sourcefile, result.Warnings),
	}, nil
}

func esbuildOptions(req *Request) (api.TransformOptions, error) {
	ext := strings.ToLower(req.Ext)
	loader, ok := loaders[ext]
	if !ok {
		return api.TransformOptions{}, fmt.Errorf("no loader for extension %q", req.Ext)
	}

	target := req.Options.Target
	if target == "" {
		target = DefaultTarget
	}
	t, ok := targets[strings.ToLower(target)]
	if !ok {
		return api.TransformOptions{}, fmt.Errorf("unsupported target %q", target)
	}

	opts := api.TransformOptions{
		Loader:         loader,
		Target:         t,
		Platform:       api.PlatformNode,
		Sourcefile:     req.Sourcefile,
		Sourcemap:      api.SourceMapExternal,
		SourcesContent: api.SourcesContentInclude,
		LogLevel:       api.LogLevelSilent,
		// keep class and function names intact for stack traces
		KeepNames: true,
	}

	switch req.Format {
	case FormatCommonJS:
		opts.Format = api.FormatCommonJS
		// import() stays a call into the module loader
		opts.Supported = map[string]bool{"dynamic-import": false}
		opts.Define = map[string]string{
			"import.meta.url":      jsString(MetaURLPlaceholder),
			"import.meta.filename": jsString(MetaFilenamePlaceholder),
			"import.meta.dirname":  jsString(MetaDirnamePlaceholder),
		}
	case FormatESM:
		opts.Format = api.FormatESModule
	default:
		return api.TransformOptions{}, fmt.Errorf("unknown output format %q", req.Format)
	}

	switch req.Options.JSX {
	case "", JSXTransform:
		opts.JSX = api.JSXTransform
	case JSXPreserve:
		opts.JSX = api.JSXPreserve
	case JSXAutomatic:
		opts.JSX = api.JSXAutomatic
	default:
		return api.TransformOptions{}, fmt.Errorf("unknown jsx mode %q", req.Options.JSX)
	}
	opts.JSXFactory = req.Options.JSXFactory
	opts.JSXFragment = req.Options.JSXFragment
	opts.JSXImportSource = req.Options.JSXImportSource

	return opts, nil
}

func newEsbuildError(file string, msgs []api.Message) *Error {
	ds := diagnostics(file, msgs)
	first := ds[0]
	return &Error{
		File:        file,
		Line:        first.Line,
		Column:      first.Column,
		Message:     first.Text,
		Diagnostics: ds,
	}
}

func diagnostics(file string, msgs []api.Message) []Diagnostic {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]Diagnostic, 0, len(msgs))
	for _, m := range msgs {
		d := Diagnostic{File: file, Text: m.Text}
		if m.Location != nil {
			d.Line = m.Location.Line
			// esbuild columns are 0-based
			d.Column = m.Location.Column + 1
		}
		out = append(out, d)
	}
	return out
}
