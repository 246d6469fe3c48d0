package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides: TSX_TARGET, TSX_CACHE_DIR,
// TSX_CONDITION_ORDER and so on.
const EnvPrefix = "TSX"

type LoadOptions struct {
	// Dir is where the search for tsx.toml starts. Defaults to the working
	// directory.
	Dir string
	// SkipProject ignores tsx.toml and only reads the global config.
	SkipProject bool
	// Overrides take precedence over every other source. Keys are dotted
	// config keys, e.g. "cache.disabled".
	Overrides map[string]any
}

// Load resolves configuration with Viper precedence:
// overrides > TSX_* environment > tsx.toml (nearest) > ~/.tsx/config.toml >
// defaults.
func Load(opts LoadOptions) (*Config, string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, "", fmt.Errorf("determining home directory: %w", err)
	}
	return load(opts, filepath.Join(home, ".tsx", globalFileName))
}

// load is the internal implementation that accepts an explicit global path,
// making it testable without touching the real home directory. It returns
// the project file it used, if any.
func load(opts LoadOptions, globalPath string) (*Config, string, error) {
	v := viper.New()
	v.SetConfigType("toml")
	setDefaults(v, Default())

	// Lowest priority: global config; ignore if missing.
	v.SetConfigFile(globalPath)
	if err := v.ReadInConfig(); err != nil && !isNotExist(err) {
		return nil, "", fmt.Errorf("reading %s: %w", globalPath, err)
	}

	var projectPath string
	if !opts.SkipProject {
		dir := opts.Dir
		if dir == "" {
			wd, err := os.Getwd()
			if err != nil {
				return nil, "", fmt.Errorf("getting working directory: %w", err)
			}
			dir = wd
		}
		projectPath = FindProjectFile(dir)
		if projectPath != "" {
			v.SetConfigFile(projectPath)
			if err := v.MergeInConfig(); err != nil {
				return nil, "", fmt.Errorf("reading %s: %w", projectPath, err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Highest priority: explicit overrides (CLI flags)
	for k, val := range opts.Overrides {
		v.Set(k, val)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, "", fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, projectPath, nil
}

// setDefaults registers every key so that AutomaticEnv can see it during
// Unmarshal.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("target", d.Target)
	v.SetDefault("jsx.mode", d.JSX.Mode)
	v.SetDefault("jsx.factory", d.JSX.Factory)
	v.SetDefault("jsx.fragment", d.JSX.Fragment)
	v.SetDefault("jsx.import-source", d.JSX.ImportSource)
	v.SetDefault("conditions", d.Conditions)
	v.SetDefault("condition-order", d.ConditionOrder)
	v.SetDefault("cache.dir", d.Cache.Dir)
	v.SetDefault("cache.disabled", d.Cache.Disabled)
	v.SetDefault("log.level", d.Log.Level)
}

// FindProjectFile returns the nearest tsx.toml at or above dir, or "".
func FindProjectFile(dir string) string {
	for {
		p := filepath.Join(dir, ProjectFileName)
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
			return p
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func isNotExist(err error) bool {
	var nf viper.ConfigFileNotFoundError
	return errors.Is(err, os.ErrNotExist) || errors.As(err, &nf)
}
