package transform

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestEsbuildTypeScriptToCommonJS(t *testing.T) {
	a := NewAdapter(NewEsbuild(), nil, Options{}, nil)
	src := []byte("const n: number = 1\nexport default n\nexport const url = import.meta.url\n")

	r, err := a.Transform(context.Background(), "/proj/index.ts", src, FormatCommonJS)
	if err != nil {
		t.Fatalf("Transform() error: %v", err)
	}

	for _, want := range []string{"module.exports", `"file:///proj/index.ts"`} {
		if !strings.Contains(r.Code, want) {
			t.Errorf("output missing %s:\n%s", want, r.Code)
		}
	}
	if strings.Contains(r.Code, ": number") {
		t.Errorf("type annotation survived:\n%s", r.Code)
	}
	if !strings.Contains(string(r.Map), `"/proj/index.ts"`) {
		t.Errorf("source map does not reference the file: %s", r.Map)
	}
}

func TestEsbuildKeepsModuleSyntaxForESM(t *testing.T) {
	a := NewAdapter(NewEsbuild(), nil, Options{}, nil)
	src := []byte("import { b } from './b'\nexport const a: string = b\n")

	r, err := a.Transform(context.Background(), "/proj/a.mts", src, FormatESM)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(r.Code, "import {") || !strings.Contains(r.Code, "export {") {
		t.Errorf("module syntax not preserved:\n%s", r.Code)
	}
	if strings.Contains(r.Code, "require(") || strings.Contains(r.Code, ": string") {
		t.Errorf("module output was lowered or kept types:\n%s", r.Code)
	}
}

func TestEsbuildLowerRewritesImports(t *testing.T) {
	a := NewAdapter(NewEsbuild(), nil, Options{}, nil)
	src := []byte("import dep from './dep.js'\nexport const lazy = () => import('./lazy.js')\nexport default dep\n")

	r, err := a.Lower(context.Background(), "/proj/main.ts", src)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(r.Code, `require("./dep.js")`) || !strings.Contains(r.Code, `require("./lazy.js")`) {
		t.Errorf("imports not lowered to require calls:\n%s", r.Code)
	}
}

func TestEsbuildSyntaxError(t *testing.T) {
	a := NewAdapter(NewEsbuild(), nil, Options{}, nil)

	_, err := a.Transform(context.Background(), "/proj/broken.ts", []byte("let a = 1\nlet b = ;\n"), FormatCommonJS)
	var te *Error
	if !errors.As(err, &te) {
		t.Fatalf("error = %v, want *Error", err)
	}
	if te.File != "/proj/broken.ts" {
		t.Errorf("File = %q", te.File)
	}
	if te.Line != 2 || te.Column != 9 {
		t.Errorf("position = %d:%d, want 2:9", te.Line, te.Column)
	}
}

func TestEsbuildOptionsValidation(t *testing.T) {
	tests := map[string]*Request{
		"unknown ext":    {Ext: ".py", Format: FormatCommonJS},
		"unknown target": {Ext: ".ts", Format: FormatCommonJS, Options: Options{Target: "es3"}},
		"unknown format": {Ext: ".ts", Format: "amd"},
		"unknown jsx":    {Ext: ".tsx", Format: FormatESM, Options: Options{JSX: "classic"}},
	}
	for name, req := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := esbuildOptions(req); err == nil {
				t.Error("expected error")
			}
		})
	}
}
