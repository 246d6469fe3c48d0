package store

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPath(t *testing.T) {
	root := "/tmp/store-root"

	tests := map[string]struct {
		segments []string
		want     string
	}{
		"no segments": {
			segments: nil,
			want:     root,
		},
		"single segment": {
			segments: []string{"foo"},
			want:     filepath.Join(root, "foo"),
		},
		"multiple segments": {
			segments: []string{"foo", "bar", "baz"},
			want:     filepath.Join(root, "foo", "bar", "baz"),
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			s := New(root)
			got := s.Path(tc.segments...)
			if got != tc.want {
				t.Errorf("Path(%v) = %q, want %q", tc.segments, got, tc.want)
			}
		})
	}
}

func TestExists(t *testing.T) {
	root := t.TempDir()
	s := New(root)

	existingDir := "existing-dir"
	os.MkdirAll(filepath.Join(root, existingDir), 0o755)

	existingFile := "existing-file.txt"
	os.WriteFile(filepath.Join(root, existingFile), []byte("hello"), 0o644)

	tests := map[string]struct {
		segments []string
		want     bool
	}{
		"existing directory": {
			segments: []string{existingDir},
			want:     true,
		},
		"existing file": {
			segments: []string{existingFile},
			want:     true,
		},
		"non-existent path": {
			segments: []string{"does-not-exist"},
			want:     false,
		},
		"nested non-existent path": {
			segments: []string{"a", "b", "c"},
			want:     false,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := s.Exists(tc.segments...)
			if err != nil {
				t.Fatalf("Exists(%v) returned unexpected error: %v", tc.segments, err)
			}
			if got != tc.want {
				t.Errorf("Exists(%v) = %v, want %v", tc.segments, got, tc.want)
			}
		})
	}
}

func TestEnsureDir(t *testing.T) {
	tests := map[string]struct {
		segments []string
	}{
		"single level": {
			segments: []string{"alpha"},
		},
		"nested levels": {
			segments: []string{"alpha", "beta", "gamma"},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			root := t.TempDir()
			s := New(root)

			if err := s.EnsureDir(tc.segments...); err != nil {
				t.Fatalf("EnsureDir() error: %v", err)
			}

			dir := filepath.Join(append([]string{root}, tc.segments...)...)
			info, err := os.Stat(dir)
			if err != nil {
				t.Fatalf("directory was not created: %v", err)
			}
			if !info.IsDir() {
				t.Error("path exists but is not a directory")
			}
		})
	}
}

func TestRemove(t *testing.T) {
	tests := map[string]struct {
		setup func(root string)
		// segments to remove
		segments []string
	}{
		"remove file": {
			setup: func(root string) {
				os.WriteFile(filepath.Join(root, "file.txt"), []byte("data"), 0o644)
			},
			segments: []string{"file.txt"},
		},
		"remove directory tree": {
			setup: func(root string) {
				dir := filepath.Join(root, "a", "b")
				os.MkdirAll(dir, 0o755)
				os.WriteFile(filepath.Join(dir, "c.txt"), []byte("nested"), 0o644)
			},
			segments: []string{"a"},
		},
		"remove non-existent path": {
			setup:    func(root string) {},
			segments: []string{"ghost"},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			root := t.TempDir()
			s := New(root)
			tc.setup(root)

			if err := s.Remove(tc.segments...); err != nil {
				t.Fatalf("Remove() error: %v", err)
			}

			target := filepath.Join(append([]string{root}, tc.segments...)...)
			if _, err := os.Stat(target); !os.IsNotExist(err) {
				t.Errorf("expected path %q to be removed", target)
			}
		})
	}
}

func TestWriteFileReadFile(t *testing.T) {
	tests := map[string]struct {
		segments []string
		data     []byte
		perm     os.FileMode
	}{
		"entry at root": {
			segments: []string{"entry.json"},
			data:     []byte(`{"code":"x"}`),
			perm:     0o644,
		},
		"nested file": {
			segments: []string{"transforms", "ab", "abcdef.json"},
			data:     []byte{0x00, 0xFF, 0xAB},
			perm:     0o600,
		},
		"empty file": {
			segments: []string{"empty"},
			data:     []byte{},
			perm:     0o644,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			root := t.TempDir()
			s := New(root)

			if err := s.WriteFile(tc.data, tc.perm, tc.segments...); err != nil {
				t.Fatalf("WriteFile() error: %v", err)
			}

			got, err := s.ReadFile(tc.segments...)
			if err != nil {
				t.Fatalf("ReadFile() error: %v", err)
			}

			if string(got) != string(tc.data) {
				t.Errorf("ReadFile() = %q, want %q", got, tc.data)
			}
		})
	}
}

func TestReadFileNotFound(t *testing.T) {
	root := t.TempDir()
	s := New(root)

	_, err := s.ReadFile("nonexistent.txt")
	if err == nil {
		t.Fatal("expected error reading nonexistent file, got nil")
	}
}

func TestWriteFileReplaces(t *testing.T) {
	root := t.TempDir()
	s := New(root)

	if err := s.WriteFile([]byte("first"), 0o644, "k", "entry"); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	if err := s.WriteFile([]byte("second"), 0o644, "k", "entry"); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}

	got, err := s.ReadFile("k", "entry")
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	if string(got) != "second" {
		t.Errorf("ReadFile() = %q, want %q", got, "second")
	}

	entries, err := os.ReadDir(filepath.Join(root, "k"))
	if err != nil {
		t.Fatalf("ReadDir() error: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected temp files to be cleaned up, found %d entries", len(entries))
	}
}

func TestWalk(t *testing.T) {
	tests := map[string]struct {
		files map[string]string
		want  []string
	}{
		"missing directory": {
			files: nil,
			want:  nil,
		},
		"sorted nested files": {
			files: map[string]string{
				filepath.Join("b", "2.json"): "bb",
				filepath.Join("a", "1.json"): "a",
			},
			want: []string{filepath.Join("a", "1.json"), filepath.Join("b", "2.json")},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			root := t.TempDir()
			s := New(root)

			for rel, content := range tc.files {
				full := filepath.Join(root, "transforms", rel)
				os.MkdirAll(filepath.Dir(full), 0o755)
				os.WriteFile(full, []byte(content), 0o644)
			}

			files, err := s.Walk("transforms")
			if err != nil {
				t.Fatalf("Walk() error: %v", err)
			}

			if len(files) != len(tc.want) {
				t.Fatalf("Walk() returned %d files, want %d", len(files), len(tc.want))
			}
			for i, f := range files {
				if f.Rel != tc.want[i] {
					t.Errorf("files[%d] = %q, want %q", i, f.Rel, tc.want[i])
				}
				if f.Size != int64(len(tc.files[f.Rel])) {
					t.Errorf("files[%d].Size = %d, want %d", i, f.Size, len(tc.files[f.Rel]))
				}
			}
		})
	}
}

func TestHashBytes(t *testing.T) {
	sum := sha256.Sum256([]byte("export const a = 1"))
	want := hashPrefix + hex.EncodeToString(sum[:])

	got := HashBytes([]byte("export const a = 1"))
	if got != want {
		t.Errorf("HashBytes() = %q, want %q", got, want)
	}
	if !strings.HasPrefix(got, hashPrefix) {
		t.Errorf("HashBytes() result missing %q prefix", hashPrefix)
	}
	if HashBytes([]byte("a")) == HashBytes([]byte("b")) {
		t.Error("HashBytes() collided for different input")
	}
}
