package project

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/agentpkg/tsx/pkg/config"
)

const ConfigFile = config.ProjectFileName

// LocalCacheDir is the project-relative cache directory offered by init.
const LocalCacheDir = ".tsx-cache"

// Init creates a tsx.toml in dir from cfg. Returns an error if the file
// already exists.
func Init(dir string, cfg *config.Config) error {
	path := filepath.Join(dir, ConfigFile)

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", ConfigFile)
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	data, err := cfg.Marshal()
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	return nil
}

// CacheDir returns the cache root configured by cfg. A relative directory is
// taken relative to the directory of the config file that set it.
func CacheDir(cfg *config.Config, configPath string) string {
	dir := cfg.Cache.Dir
	if dir == "" || filepath.IsAbs(dir) || configPath == "" {
		return dir
	}
	return filepath.Join(filepath.Dir(configPath), dir)
}

// EnsureGitignore ensures that each entry appears somewhere in the .gitignore
// file within dir. Only entries not already present are appended. Returns the
// list of entries that were actually added.
func EnsureGitignore(dir string, entries []string) ([]string, error) {
	path := filepath.Join(dir, ".gitignore")

	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	present := make(map[string]bool)
	for _, line := range strings.Split(string(existing), "\n") {
		present[strings.TrimSpace(line)] = true
	}

	var toAdd []string
	for _, entry := range entries {
		if !present[entry] {
			toAdd = append(toAdd, entry)
		}
	}

	if len(toAdd) == 0 {
		return nil, nil
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	// Ensure we start on a new line if file doesn't end with one.
	if len(existing) > 0 && existing[len(existing)-1] != '\n' {
		if _, err := f.WriteString("\n"); err != nil {
			return nil, err
		}
	}

	for _, entry := range toAdd {
		if _, err := f.WriteString(entry + "\n"); err != nil {
			return nil, err
		}
	}

	return toAdd, nil
}
