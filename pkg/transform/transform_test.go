package transform

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"golang.org/x/sync/errgroup"

	"github.com/agentpkg/tsx/pkg/cache"
	"github.com/agentpkg/tsx/pkg/store"
)

type fakeEngine struct {
	calls atomic.Int64
	delay time.Duration
	fn    func(req *Request) (*Output, error)
}

func (*fakeEngine) Name() string { return "fake" }

func (e *fakeEngine) Transform(_ context.Context, req *Request) (*Output, error) {
	e.calls.Add(1)
	time.Sleep(e.delay)
	if e.fn != nil {
		return e.fn(req)
	}
	return &Output{
		Code: "/*" + string(req.Format) + "*/" + string(req.Source),
		Map:  []byte(`{"version":3,"sources":["` + req.Sourcefile + `"],"mappings":""}`),
	}, nil
}

func TestConcurrentMissesCallEngineOnce(t *testing.T) {
	engine := &fakeEngine{delay: 20 * time.Millisecond}
	a := NewAdapter(engine, nil, Options{}, nil)

	var g errgroup.Group
	results := make([]*Result, 16)
	for i := range results {
		i := i
		g.Go(func() error {
			r, err := a.Transform(context.Background(), "/src/a.ts", []byte("let a = 1"), FormatCommonJS)
			results[i] = r
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Transform() error: %v", err)
	}

	if got := engine.calls.Load(); got != 1 {
		t.Errorf("engine calls = %d, want 1", got)
	}
	for i, r := range results {
		if r.Code != results[0].Code {
			t.Errorf("result %d differs: %q vs %q", i, r.Code, results[0].Code)
		}
	}
	if got := testutil.ToFloat64(a.Metrics().EngineCalls); got != 1 {
		t.Errorf("engine_calls_total = %v, want 1", got)
	}
}

func TestFormatIsPartOfIdentity(t *testing.T) {
	engine := &fakeEngine{}
	a := NewAdapter(engine, nil, Options{}, nil)
	ctx := context.Background()

	cjs, err := a.Transform(ctx, "/src/a.ts", []byte("x"), FormatCommonJS)
	if err != nil {
		t.Fatal(err)
	}
	esm, err := a.Transform(ctx, "/src/a.ts", []byte("x"), FormatESM)
	if err != nil {
		t.Fatal(err)
	}
	if cjs.Code == esm.Code {
		t.Errorf("cjs and esm output are identical: %q", cjs.Code)
	}
	if got := engine.calls.Load(); got != 2 {
		t.Errorf("engine calls = %d, want 2", got)
	}
}

func TestResultRehydratedPerLocation(t *testing.T) {
	engine := &fakeEngine{fn: func(req *Request) (*Output, error) {
		return &Output{
			Code: `var u = "__TSX_IMPORT_META_URL__", d = "__TSX_IMPORT_META_DIRNAME__";`,
			Map:  []byte(`{"version":3,"sources":["source.ts"],"mappings":"AAAA"}`),
		}, nil
	}}
	a := NewAdapter(engine, nil, Options{}, nil)
	ctx := context.Background()

	first, err := a.Transform(ctx, "/one/mod.ts", []byte("src"), FormatCommonJS)
	if err != nil {
		t.Fatal(err)
	}
	second, err := a.Transform(ctx, "/two/mod.ts", []byte("src"), FormatCommonJS)
	if err != nil {
		t.Fatal(err)
	}

	if got := engine.calls.Load(); got != 1 {
		t.Fatalf("engine calls = %d, want 1", got)
	}
	if first.Cached || !second.Cached {
		t.Errorf("Cached = %v/%v, want false/true", first.Cached, second.Cached)
	}

	tests := map[string]struct {
		res     *Result
		url     string
		dirname string
		source  string
	}{
		"first":  {first, `"file:///one/mod.ts"`, `"/one"`, "/one/mod.ts"},
		"second": {second, `"file:///two/mod.ts"`, `"/two"`, "/two/mod.ts"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			if !strings.Contains(tc.res.Code, tc.url) || !strings.Contains(tc.res.Code, tc.dirname) {
				t.Errorf("Code = %q, want %s and %s", tc.res.Code, tc.url, tc.dirname)
			}
			var m struct {
				Sources  []string `json:"sources"`
				Mappings string   `json:"mappings"`
			}
			if err := json.Unmarshal(tc.res.Map, &m); err != nil {
				t.Fatal(err)
			}
			if len(m.Sources) != 1 || m.Sources[0] != tc.source {
				t.Errorf("sources = %v, want [%s]", m.Sources, tc.source)
			}
			if m.Mappings != "AAAA" {
				t.Errorf("mappings = %q, want AAAA", m.Mappings)
			}
		})
	}
}

func TestErrorsAreNotCached(t *testing.T) {
	engine := &fakeEngine{fn: func(req *Request) (*Output, error) {
		return nil, &Error{File: req.Sourcefile, Line: 2, Column: 5, Message: "Unexpected \";\"",
			Diagnostics: []Diagnostic{{File: req.Sourcefile, Line: 2, Column: 5, Text: "Unexpected \";\""}}}
	}}
	a := NewAdapter(engine, nil, Options{}, nil)

	for i := 0; i < 2; i++ {
		_, err := a.Transform(context.Background(), "/src/broken.ts", []byte("let = ;"), FormatCommonJS)
		var te *Error
		if !errors.As(err, &te) {
			t.Fatalf("error = %v, want *Error", err)
		}
		if te.File != "/src/broken.ts" || te.Diagnostics[0].File != "/src/broken.ts" {
			t.Errorf("error file = %q, want /src/broken.ts", te.File)
		}
		if got, want := te.Error(), `/src/broken.ts:2:5: Unexpected ";"`; got != want {
			t.Errorf("Error() = %q, want %q", got, want)
		}
	}
	if got := engine.calls.Load(); got != 2 {
		t.Errorf("engine calls = %d, want 2", got)
	}
	if got := testutil.ToFloat64(a.Metrics().Errors); got != 2 {
		t.Errorf("errors_total = %v, want 2", got)
	}
}

func TestMismatchedEntryIsRecomputed(t *testing.T) {
	engine := &fakeEngine{}
	c := cache.NewMemory()
	a := NewAdapter(engine, c, Options{}, nil)

	source := []byte("let a = 1")
	key := NewKey(engine.Name(), source, ".ts", FormatCommonJS, a.Options())
	c.Put(string(key), cache.NewEntry(string(key), store.HashBytes([]byte("other")), "stale", nil, nil))

	r, err := a.Transform(context.Background(), "/src/a.ts", source, FormatCommonJS)
	if err != nil {
		t.Fatal(err)
	}
	if r.Code == "stale" {
		t.Error("served an entry recorded for a different source")
	}
	if got := engine.calls.Load(); got != 1 {
		t.Errorf("engine calls = %d, want 1", got)
	}
}

func TestNewKey(t *testing.T) {
	base := NewKey("esbuild", []byte("x"), ".ts", FormatCommonJS, Options{Target: "es2017"})

	tests := map[string]Key{
		"source": NewKey("esbuild", []byte("y"), ".ts", FormatCommonJS, Options{Target: "es2017"}),
		"ext":    NewKey("esbuild", []byte("x"), ".tsx", FormatCommonJS, Options{Target: "es2017"}),
		"format": NewKey("esbuild", []byte("x"), ".ts", FormatESM, Options{Target: "es2017"}),
		"target": NewKey("esbuild", []byte("x"), ".ts", FormatCommonJS, Options{Target: "es2020"}),
		"engine": NewKey("other", []byte("x"), ".ts", FormatCommonJS, Options{Target: "es2017"}),
	}
	for name, k := range tests {
		t.Run(name, func(t *testing.T) {
			if k == base {
				t.Errorf("changing %s did not change the key", name)
			}
		})
	}

	if again := NewKey("esbuild", []byte("x"), ".TS", FormatCommonJS, Options{Target: "es2017"}); again != base {
		t.Errorf("key not stable: %s vs %s", again, base)
	}
}

func TestInlineCode(t *testing.T) {
	r := &Result{Code: "a()", Map: []byte(`{"version":3}`)}
	got := r.InlineCode()
	if !strings.HasPrefix(got, "a()\n//# sourceMappingURL=data:application/json;base64,") {
		t.Errorf("InlineCode() = %q", got)
	}
	if plain := (&Result{Code: "a()"}).InlineCode(); plain != "a()" {
		t.Errorf("InlineCode() without map = %q", plain)
	}
}
