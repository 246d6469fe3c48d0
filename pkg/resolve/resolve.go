// Package resolve maps module specifiers to files the way a Node-style host
// does, extended with TypeScript extension probing, and classifies each
// result by module format and by whether it needs transforming.
package resolve

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Mode is the loading pipeline a resolution is made for.
type Mode int

const (
	ModeSync Mode = iota
	ModeAsync
)

func (m Mode) String() string {
	if m == ModeAsync {
		return "async"
	}
	return "sync"
}

var (
	// DefaultExtensions is the probe order for extensionless specifiers.
	DefaultExtensions = []string{".ts", ".tsx", ".js", ".jsx", ".mts", ".cts", ".mjs", ".cjs", ".json"}
	// DefaultOwned lists the extensions that are always transformed.
	DefaultOwned = []string{".ts", ".tsx", ".mts", ".cts", ".jsx"}

	requireConditions = []string{"require", "node"}
	importConditions  = []string{"import", "node"}

	// a missing .js file may be the compiled name of a TypeScript source
	tsCounterparts = map[string][]string{
		".js":  {".ts", ".tsx"},
		".jsx": {".tsx"},
		".mjs": {".mts"},
		".cjs": {".cts"},
	}
)

// Conditions returns the export conditions for mode, with extra conditions
// taking precedence.
func Conditions(mode Mode, extra ...string) []string {
	base := requireConditions
	if mode == ModeAsync {
		base = importConditions
	}
	out := make([]string, 0, len(extra)+len(base))
	out = append(out, extra...)
	return append(out, base...)
}

// Context is the immutable input of one resolution.
type Context struct {
	// Referrer is the requesting module's directory, file path or file URL.
	Referrer   string
	Conditions []string
	Mode       Mode
}

// Resource is a resolved module location.
type Resource struct {
	Location string
	// Query is the ?query or #fragment suffix of the specifier. It is not
	// part of the file location but is part of the module identity.
	Query  string
	Format Format
	Owned  bool
}

// URL returns the file URL of the resource, query included.
func (r *Resource) URL() string {
	return PathToURL(r.Location) + r.Query
}

type Options struct {
	// Extensions is the probe order for extensionless specifiers and
	// directory indexes. Defaults to DefaultExtensions.
	Extensions []string
	// Owned lists extensions that are transformed. Defaults to DefaultOwned.
	Owned []string
	// Strict disables probing, index lookup and TypeScript counterpart
	// mapping: only exact files resolve.
	Strict bool
	// NoCounterparts disables retrying a missing .js file as its
	// TypeScript source. Probing still applies.
	NoCounterparts bool
	ConditionOrder ConditionOrder
}

type Resolver struct {
	opts  Options
	owned map[string]bool
}

func New(opts Options) *Resolver {
	if opts.Extensions == nil {
		opts.Extensions = DefaultExtensions
	}
	if opts.Owned == nil {
		opts.Owned = DefaultOwned
	}
	owned := make(map[string]bool, len(opts.Owned))
	for _, ext := range opts.Owned {
		owned[ext] = true
	}
	return &Resolver{opts: opts, owned: owned}
}

// Owns reports whether files with extension ext are always transformed.
func (r *Resolver) Owns(ext string) bool {
	return r.owned[strings.ToLower(ext)]
}

// Resolve maps specifier to a resource. It fails with *NotFoundError when
// every candidate is exhausted.
func (r *Resolver) Resolve(specifier string, ctx Context) (*Resource, error) {
	spec, query := SplitQuery(specifier)

	dir, err := referrerDir(ctx.Referrer)
	if err != nil {
		return nil, err
	}

	conditions := ctx.Conditions
	if conditions == nil {
		conditions = Conditions(ctx.Mode)
	}

	nf := &NotFoundError{Specifier: specifier, Referrer: ctx.Referrer}

	var loc string
	switch {
	case strings.HasPrefix(spec, "file:"):
		p, err := URLToPath(spec)
		if err != nil {
			return nil, err
		}
		loc = r.resolvePath(p, nf)
	case filepath.IsAbs(spec):
		loc = r.resolvePath(spec, nf)
	case isRelative(spec):
		loc = r.resolvePath(filepath.Join(dir, spec), nf)
	default:
		loc, err = r.resolvePackage(spec, dir, conditions, nf)
		if err != nil {
			return nil, err
		}
	}

	if loc == "" {
		return nil, nf
	}

	res, err := r.Classify(loc, ctx.Mode)
	if err != nil {
		return nil, err
	}
	res.Query = query
	return res, nil
}

// Classify computes format and ownership for an already resolved file.
func (r *Resolver) Classify(location string, mode Mode) (*Resource, error) {
	format, err := DetectFormat(location)
	if err != nil {
		return nil, fmt.Errorf("detecting module format of %s: %w", location, err)
	}

	ext := strings.ToLower(filepath.Ext(location))
	owned := r.owned[ext]
	// a CommonJS pipeline cannot run ESM JavaScript natively
	if !owned && mode == ModeSync && format == FormatModule && (ext == ".js" || ext == ".mjs") {
		owned = true
	}

	return &Resource{Location: location, Format: format, Owned: owned}, nil
}

func (r *Resolver) resolvePath(path string, nf *NotFoundError) string {
	if f := r.tryFile(path, nf); f != "" {
		return f
	}
	if r.opts.Strict {
		return ""
	}
	if f := r.tryExtensions(path, nf); f != "" {
		return f
	}
	return r.tryDirectory(path, nf)
}

func (r *Resolver) tryFile(path string, nf *NotFoundError) string {
	nf.Probed = append(nf.Probed, path)
	if isFile(path) {
		return path
	}
	if r.opts.Strict || r.opts.NoCounterparts {
		return ""
	}

	ext := filepath.Ext(path)
	for _, alt := range tsCounterparts[ext] {
		candidate := strings.TrimSuffix(path, ext) + alt
		nf.Probed = append(nf.Probed, candidate)
		if isFile(candidate) {
			return candidate
		}
	}
	return ""
}

func (r *Resolver) tryExtensions(path string, nf *NotFoundError) string {
	for _, ext := range r.opts.Extensions {
		candidate := path + ext
		nf.Probed = append(nf.Probed, candidate)
		if isFile(candidate) {
			return candidate
		}
	}
	return ""
}

func (r *Resolver) tryDirectory(dir string, nf *NotFoundError) string {
	if !isDir(dir) {
		return ""
	}

	m, err := LoadManifest(dir)
	if err == nil && m != nil && m.Main != "" {
		main := filepath.Join(dir, m.Main)
		if f := r.tryFile(main, nf); f != "" {
			return f
		}
		if !r.opts.Strict {
			if f := r.tryExtensions(main, nf); f != "" {
				return f
			}
			if isDir(main) {
				if f := r.tryExtensions(filepath.Join(main, "index"), nf); f != "" {
					return f
				}
			}
		}
	}

	if r.opts.Strict {
		return r.tryFile(filepath.Join(dir, "index.js"), nf)
	}
	return r.tryExtensions(filepath.Join(dir, "index"), nf)
}

func (r *Resolver) resolvePackage(spec, dir string, conditions []string, nf *NotFoundError) (string, error) {
	name, subpath, ok := splitPackage(spec)
	if !ok {
		return "", nil
	}

	for d := dir; ; {
		if filepath.Base(d) != "node_modules" {
			root := filepath.Join(d, "node_modules", name)
			if isDir(root) {
				return r.resolveInPackage(root, subpath, conditions, nf)
			}
		}
		parent := filepath.Dir(d)
		if parent == d {
			return "", nil
		}
		d = parent
	}
}

func (r *Resolver) resolveInPackage(root, subpath string, conditions []string, nf *NotFoundError) (string, error) {
	m, err := LoadManifest(root)
	if err != nil {
		return "", err
	}

	if m != nil && m.Exports != nil {
		if target := resolveExports(m.Exports, subpath, conditions, r.opts.ConditionOrder); target != "" {
			if f := r.tryFile(filepath.Join(root, target), nf); f != "" {
				return f, nil
			}
		}
	}

	if subpath == "." {
		return r.tryDirectory(root, nf), nil
	}
	return r.resolvePath(filepath.Join(root, filepath.FromSlash(subpath)), nf), nil
}

// splitPackage splits a bare specifier into its package name and an
// exports subpath ("." or "./rest").
func splitPackage(spec string) (name, subpath string, ok bool) {
	parts := strings.Split(spec, "/")
	n := 1
	if strings.HasPrefix(spec, "@") {
		if len(parts) < 2 || parts[1] == "" {
			return "", "", false
		}
		n = 2
	}
	if parts[0] == "" {
		return "", "", false
	}
	name = strings.Join(parts[:n], "/")
	if len(parts) == n {
		return name, ".", true
	}
	return name, "./" + strings.Join(parts[n:], "/"), true
}

// SplitQuery separates a trailing ?query or #fragment from a specifier.
func SplitQuery(spec string) (string, string) {
	if i := strings.IndexAny(spec, "?#"); i > 0 {
		return spec[:i], spec[i:]
	}
	return spec, ""
}

// PathToURL converts an absolute path to a file URL.
func PathToURL(path string) string {
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
	return u.String()
}

// URLToPath converts a file URL to a path, dropping any query or fragment.
// Plain paths are returned unchanged.
func URLToPath(s string) (string, error) {
	if !strings.HasPrefix(s, "file:") {
		p, _ := SplitQuery(s)
		return p, nil
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("parsing %q: %w", s, err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}
	return filepath.FromSlash(u.Path), nil
}

func referrerDir(ref string) (string, error) {
	if ref == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("getting working directory: %w", err)
		}
		return wd, nil
	}

	p, err := URLToPath(ref)
	if err != nil {
		return "", err
	}
	if isDir(p) {
		return p, nil
	}
	return filepath.Dir(p), nil
}

func isRelative(spec string) bool {
	return spec == "." || spec == ".." || strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../")
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
