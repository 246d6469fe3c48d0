package resolve

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeTree creates files (slash-separated relative paths) under a temp dir.
func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		full := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func manifest(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestResolveRelative(t *testing.T) {
	root := writeTree(t, map[string]string{
		"file.ts":              "export const a = 1",
		"file.js":              "module.exports = 1",
		"only.js":              "module.exports = 1",
		"bar.ts":               "export const bar = 1",
		"lib/index.tsx":        "export default 1",
		"main/package.json":    `{"main": "./entry"}`,
		"main/entry.ts":        "export {}",
		"mod.mts":              "export {}",
		"data.json":            `{"a": 1}`,
		"explicit.cjs":         "module.exports = 1",
		"legacy/script.cjs":    "module.exports = 1",
		"legacy/helper.cts":    "export {}",
		"legacy/withquery.ts":  "export {}",
		"nested/deep/thing.ts": "export {}",
	})

	tests := map[string]struct {
		specifier string
		want      string
	}{
		"probe order prefers ts": {
			specifier: "./file",
			want:      "file.ts",
		},
		"literal file wins": {
			specifier: "./file.js",
			want:      "file.js",
		},
		"js extension maps to ts": {
			specifier: "./bar.js",
			want:      "bar.ts",
		},
		"cjs extension maps to cts": {
			specifier: "./legacy/helper.cjs",
			want:      filepath.Join("legacy", "helper.cts"),
		},
		"directory index": {
			specifier: "./lib",
			want:      filepath.Join("lib", "index.tsx"),
		},
		"directory main without extension": {
			specifier: "./main",
			want:      filepath.Join("main", "entry.ts"),
		},
		"json": {
			specifier: "./data.json",
			want:      "data.json",
		},
		"extensionless js": {
			specifier: "./only",
			want:      "only.js",
		},
		"nested": {
			specifier: "./nested/deep/thing",
			want:      filepath.Join("nested", "deep", "thing.ts"),
		},
	}

	r := New(Options{})
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			res, err := r.Resolve(tc.specifier, Context{Referrer: root, Mode: ModeSync})
			if err != nil {
				t.Fatalf("Resolve(%q) error: %v", tc.specifier, err)
			}
			if want := filepath.Join(root, tc.want); res.Location != want {
				t.Errorf("Resolve(%q) = %q, want %q", tc.specifier, res.Location, want)
			}
		})
	}
}

func TestResolveReferrerForms(t *testing.T) {
	root := writeTree(t, map[string]string{
		"src/index.ts": "",
		"src/util.ts":  "",
	})
	want := filepath.Join(root, "src", "util.ts")

	tests := map[string]string{
		"directory": filepath.Join(root, "src"),
		"file path": filepath.Join(root, "src", "index.ts"),
		"file url":  PathToURL(filepath.Join(root, "src", "index.ts")),
	}

	r := New(Options{})
	for name, referrer := range tests {
		t.Run(name, func(t *testing.T) {
			res, err := r.Resolve("./util", Context{Referrer: referrer})
			if err != nil {
				t.Fatalf("Resolve() error: %v", err)
			}
			if res.Location != want {
				t.Errorf("Resolve() = %q, want %q", res.Location, want)
			}
		})
	}
}

func TestResolveQuerySuffix(t *testing.T) {
	root := writeTree(t, map[string]string{"file.ts": "export const a = 1"})

	r := New(Options{})
	for _, q := range []string{"?1", "?2", "#frag"} {
		res, err := r.Resolve("./file.ts"+q, Context{Referrer: root, Mode: ModeAsync})
		if err != nil {
			t.Fatalf("Resolve(%q) error: %v", q, err)
		}
		if res.Location != filepath.Join(root, "file.ts") {
			t.Errorf("Location = %q, want file.ts", res.Location)
		}
		if res.Query != q {
			t.Errorf("Query = %q, want %q", res.Query, q)
		}
		if !strings.HasSuffix(res.URL(), "/file.ts"+q) {
			t.Errorf("URL() = %q, want suffix %q", res.URL(), "/file.ts"+q)
		}
	}
}

func TestResolveNotFound(t *testing.T) {
	root := writeTree(t, map[string]string{"other.ts": ""})

	r := New(Options{})
	_, err := r.Resolve("./missing", Context{Referrer: root})

	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("Resolve() error = %v, want *NotFoundError", err)
	}
	if nf.Specifier != "./missing" {
		t.Errorf("Specifier = %q, want %q", nf.Specifier, "./missing")
	}
	if len(nf.Probed) == 0 {
		t.Fatal("Probed is empty")
	}
	if nf.Probed[0] != filepath.Join(root, "missing") {
		t.Errorf("Probed[0] = %q, want the literal path first", nf.Probed[0])
	}
	if nf.Probed[1] != filepath.Join(root, "missing.ts") {
		t.Errorf("Probed[1] = %q, want .ts probed next", nf.Probed[1])
	}
	if !strings.Contains(err.Error(), "Cannot find module './missing'") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestResolveStrict(t *testing.T) {
	root := writeTree(t, map[string]string{
		"file.ts": "",
		"bar.ts":  "",
		"lib.mjs": "",
	})

	r := New(Options{Strict: true})

	if _, err := r.Resolve("./file.ts", Context{Referrer: root, Mode: ModeAsync}); err != nil {
		t.Errorf("exact file should resolve in strict mode: %v", err)
	}

	for _, spec := range []string{"./file", "./bar.js", "./lib"} {
		_, err := r.Resolve(spec, Context{Referrer: root, Mode: ModeAsync})
		var nf *NotFoundError
		if !errors.As(err, &nf) {
			t.Errorf("Resolve(%q) error = %v, want *NotFoundError", spec, err)
		}
	}
}

func TestResolvePackages(t *testing.T) {
	root := writeTree(t, map[string]string{
		"node_modules/pkg/package.json": manifest(t, map[string]any{
			"name": "pkg", "type": "module", "exports": "./index.js",
		}),
		"node_modules/pkg/index.js": `export const bar = "bar"`,

		"node_modules/cond/package.json": `{"name":"cond","exports":{".":{"import":"./esm.mjs","require":"./cjs.cjs","default":"./fallback.js"},"./feature/*":"./src/features/*.js","./feature/special/*":"./src/special/*.js"}}`,
		"node_modules/cond/esm.mjs":                      "",
		"node_modules/cond/cjs.cjs":                      "",
		"node_modules/cond/fallback.js":                  "",
		"node_modules/cond/src/features/a.js":            "",
		"node_modules/cond/src/special/b.js":             "",
		"node_modules/legacy/package.json":               `{"name":"legacy","main":"lib/main"}`,
		"node_modules/legacy/lib/main.js":                "",
		"node_modules/legacy/extra.js":                   "",
		"node_modules/@scope/tool/index.ts":              "",
		"node_modules/noexport/package.json":             `{"name":"noexport","exports":{"./only":"./only.js"}}`,
		"node_modules/noexport/index.js":                 "",
		"node_modules/noexport/only.js":                  "",
		"app/src/deep/file.ts":                           "",
		"app/node_modules/local/package.json":            `{"name":"local"}`,
		"app/node_modules/local/index.js":                "",
	})

	tests := map[string]struct {
		specifier string
		referrer  string
		mode      Mode
		want      string
	}{
		"exports string": {
			specifier: "pkg",
			mode:      ModeAsync,
			want:      "node_modules/pkg/index.js",
		},
		"import condition": {
			specifier: "cond",
			mode:      ModeAsync,
			want:      "node_modules/cond/esm.mjs",
		},
		"require condition": {
			specifier: "cond",
			mode:      ModeSync,
			want:      "node_modules/cond/cjs.cjs",
		},
		"subpath pattern": {
			specifier: "cond/feature/a",
			want:      "node_modules/cond/src/features/a.js",
		},
		"longest pattern prefix wins": {
			specifier: "cond/feature/special/b",
			want:      "node_modules/cond/src/special/b.js",
		},
		"main field": {
			specifier: "legacy",
			want:      "node_modules/legacy/lib/main.js",
		},
		"subpath without exports": {
			specifier: "legacy/extra",
			want:      "node_modules/legacy/extra.js",
		},
		"scoped package index": {
			specifier: "@scope/tool",
			want:      "node_modules/@scope/tool/index.ts",
		},
		"unexported root falls back to probing": {
			specifier: "noexport",
			want:      "node_modules/noexport/index.js",
		},
		"ancestor walk": {
			specifier: "pkg",
			referrer:  "app/src/deep",
			want:      "node_modules/pkg/index.js",
		},
		"nearest package wins": {
			specifier: "local",
			referrer:  "app/src/deep",
			want:      "app/node_modules/local/index.js",
		},
	}

	r := New(Options{})
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			referrer := root
			if tc.referrer != "" {
				referrer = filepath.Join(root, filepath.FromSlash(tc.referrer))
			}
			res, err := r.Resolve(tc.specifier, Context{Referrer: referrer, Mode: tc.mode})
			if err != nil {
				t.Fatalf("Resolve(%q) error: %v", tc.specifier, err)
			}
			if want := filepath.Join(root, filepath.FromSlash(tc.want)); res.Location != want {
				t.Errorf("Resolve(%q) = %q, want %q", tc.specifier, res.Location, want)
			}
		})
	}
}

func TestResolveConditionOrder(t *testing.T) {
	root := writeTree(t, map[string]string{
		"node_modules/multi/package.json": `{"exports":{"node":"./node.js","custom":"./custom.js","default":"./default.js"}}`,
		"node_modules/multi/node.js":      "",
		"node_modules/multi/custom.js":    "",
		"node_modules/multi/default.js":   "",
	})

	tests := map[string]struct {
		order ConditionOrder
		want  string
	}{
		"declaration order": {
			order: DeclarationOrder,
			want:  "node.js",
		},
		"priority order": {
			order: PriorityOrder,
			want:  "custom.js",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			r := New(Options{ConditionOrder: tc.order})
			res, err := r.Resolve("multi", Context{
				Referrer:   root,
				Conditions: Conditions(ModeAsync, "custom"),
				Mode:       ModeAsync,
			})
			if err != nil {
				t.Fatalf("Resolve() error: %v", err)
			}
			if got := filepath.Base(res.Location); got != tc.want {
				t.Errorf("Resolve() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	root := writeTree(t, map[string]string{
		"esm/package.json":  `{"type":"module"}`,
		"esm/index.js":      "export const a = 1",
		"esm/index.ts":      "export const a = 1",
		"cjs/package.json":  `{"type":"commonjs"}`,
		"cjs/index.js":      "module.exports = 1",
		"cjs/index.ts":      "export const a = 1",
		"bare/sniffed.js":   "import x from 'y'\nconsole.log(x)",
		"bare/plain.js":     "const x = require('y')\nimport('z')",
		"bare/importers.js": "const importers = []\nimporters.push(1)\nmodule.exports = importers.length",
		"bare/comment.js":   "/*\nexport default is documented here\n*/\nmodule.exports = 1",
		"bare/typed.ts":     "export const a: number = 1",
		"bare/explicit.mts": "",
		"bare/explicit.cjs": "",
		"bare/data.json":    "{}",
	})

	tests := map[string]struct {
		path       string
		mode       Mode
		wantFormat Format
		wantOwned  bool
	}{
		"module js in sync mode is owned": {
			path:       "esm/index.js",
			mode:       ModeSync,
			wantFormat: FormatModule,
			wantOwned:  true,
		},
		"module js in async mode is native": {
			path:       "esm/index.js",
			mode:       ModeAsync,
			wantFormat: FormatModule,
			wantOwned:  false,
		},
		"typescript in module package": {
			path:       "esm/index.ts",
			mode:       ModeAsync,
			wantFormat: FormatModule,
			wantOwned:  true,
		},
		"commonjs js": {
			path:       "cjs/index.js",
			mode:       ModeSync,
			wantFormat: FormatCommonJS,
			wantOwned:  false,
		},
		"typescript in commonjs package": {
			path:       "cjs/index.ts",
			mode:       ModeSync,
			wantFormat: FormatCommonJS,
			wantOwned:  true,
		},
		"sniffed esm": {
			path:       "bare/sniffed.js",
			mode:       ModeAsync,
			wantFormat: FormatModule,
		},
		"dynamic import is not esm syntax": {
			path:       "bare/plain.js",
			mode:       ModeAsync,
			wantFormat: FormatCommonJS,
		},
		"identifier starting with import": {
			path:       "bare/importers.js",
			mode:       ModeSync,
			wantFormat: FormatCommonJS,
			wantOwned:  false,
		},
		"export in a comment": {
			path:       "bare/comment.js",
			mode:       ModeSync,
			wantFormat: FormatCommonJS,
			wantOwned:  false,
		},
		"sniffed typescript": {
			path:       "bare/typed.ts",
			mode:       ModeAsync,
			wantFormat: FormatModule,
			wantOwned:  true,
		},
		"mts": {
			path:       "bare/explicit.mts",
			mode:       ModeAsync,
			wantFormat: FormatModule,
			wantOwned:  true,
		},
		"cjs": {
			path:       "bare/explicit.cjs",
			mode:       ModeSync,
			wantFormat: FormatCommonJS,
		},
		"json": {
			path:       "bare/data.json",
			mode:       ModeSync,
			wantFormat: FormatJSON,
		},
	}

	r := New(Options{})
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			res, err := r.Classify(filepath.Join(root, filepath.FromSlash(tc.path)), tc.mode)
			if err != nil {
				t.Fatalf("Classify() error: %v", err)
			}
			if res.Format != tc.wantFormat {
				t.Errorf("Format = %q, want %q", res.Format, tc.wantFormat)
			}
			if res.Owned != tc.wantOwned {
				t.Errorf("Owned = %v, want %v", res.Owned, tc.wantOwned)
			}
		})
	}
}

func TestSplitPackage(t *testing.T) {
	tests := map[string]struct {
		name, subpath string
		ok            bool
	}{
		"pkg":               {"pkg", ".", true},
		"pkg/sub/path":      {"pkg", "./sub/path", true},
		"@scope/pkg":        {"@scope/pkg", ".", true},
		"@scope/pkg/deep.js": {"@scope/pkg", "./deep.js", true},
		"@scope":            {"", "", false},
	}

	for spec, tc := range tests {
		t.Run(spec, func(t *testing.T) {
			name, subpath, ok := splitPackage(spec)
			if ok != tc.ok || name != tc.name || subpath != tc.subpath {
				t.Errorf("splitPackage(%q) = (%q, %q, %v), want (%q, %q, %v)", spec, name, subpath, ok, tc.name, tc.subpath, tc.ok)
			}
		})
	}
}

func TestURLRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dir with space", "file.ts")

	u := PathToURL(path)
	if !strings.HasPrefix(u, "file:///") {
		t.Fatalf("PathToURL() = %q, want file:/// prefix", u)
	}

	got, err := URLToPath(u + "?tsx-namespace=1")
	if err != nil {
		t.Fatalf("URLToPath() error: %v", err)
	}
	if got != path {
		t.Errorf("URLToPath() = %q, want %q", got, path)
	}
}
