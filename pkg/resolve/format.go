package resolve

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

// Format is the module system a resource is written for.
type Format string

const (
	FormatUnknown  Format = ""
	FormatCommonJS Format = "commonjs"
	FormatModule   Format = "module"
	FormatJSON     Format = "json"
	FormatBuiltin  Format = "builtin"
)

var sniffLoaders = map[string]api.Loader{
	".ts":  api.LoaderTS,
	".mts": api.LoaderTS,
	".cts": api.LoaderTS,
	".tsx": api.LoaderTSX,
	".jsx": api.LoaderJSX,
}

// metafile is the part of esbuild's metafile that carries the detected
// module kind of each input.
type metafile struct {
	Inputs map[string]struct {
		Format string `json:"format,omitempty"`
	} `json:"inputs"`
}

// DetectFormat decides the module format of the file at path: an explicit
// extension wins, then the nearest package.json "type", then sniffing the
// file for static import/export syntax.
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mjs", ".mts":
		return FormatModule, nil
	case ".cjs", ".cts":
		return FormatCommonJS, nil
	case ".json":
		return FormatJSON, nil
	}

	m, err := NearestManifest(filepath.Dir(path))
	if err != nil {
		return FormatUnknown, err
	}
	if m != nil {
		switch m.Type {
		case "module":
			return FormatModule, nil
		case "commonjs":
			return FormatCommonJS, nil
		}
	}

	src, err := os.ReadFile(path)
	if err != nil {
		return FormatUnknown, err
	}
	return SniffFormat(src, filepath.Ext(path)), nil
}

// SniffFormat parses src as a file with extension ext and reports
// FormatModule when it uses import/export statements, import.meta or
// top-level await. Everything else, including source that does not parse,
// is FormatCommonJS.
func SniffFormat(src []byte, ext string) Format {
	loader, ok := sniffLoaders[strings.ToLower(ext)]
	if !ok {
		loader = api.LoaderJS
	}
	result := api.Build(api.BuildOptions{
		Stdin: &api.StdinOptions{
			Contents:   string(src),
			Sourcefile: "sniff" + ext,
			Loader:     loader,
		},
		Metafile: true,
		Write:    false,
		LogLevel: api.LogLevelSilent,
	})
	if len(result.Errors) > 0 || result.Metafile == "" {
		return FormatCommonJS
	}
	var meta metafile
	if err := json.Unmarshal([]byte(result.Metafile), &meta); err != nil {
		return FormatCommonJS
	}
	for _, in := range meta.Inputs {
		if in.Format == "esm" {
			return FormatModule
		}
	}
	return FormatCommonJS
}

// NearestManifest walks from dir towards the filesystem root and returns the
// first package.json found, or nil.
func NearestManifest(dir string) (*Manifest, error) {
	for {
		m, err := LoadManifest(dir)
		if err != nil {
			return nil, err
		}
		if m != nil {
			return m, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}
