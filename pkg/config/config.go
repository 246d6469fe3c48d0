package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap/zapcore"

	"github.com/agentpkg/tsx/pkg/resolve"
	"github.com/agentpkg/tsx/pkg/transform"
)

// ProjectFileName is the project-local configuration file. The global one
// lives at ~/.tsx/config.toml.
const ProjectFileName = "tsx.toml"

const globalFileName = "config.toml"

type Config struct {
	// Target is the language level of transformed code (e.g. "es2020").
	Target string    `toml:"target,omitempty" mapstructure:"target"`
	JSX    JSXConfig `toml:"jsx,omitempty" mapstructure:"jsx"`

	// Conditions are extra export conditions, tried before the defaults.
	Conditions []string `toml:"conditions,omitempty" mapstructure:"conditions"`
	// ConditionOrder is "declaration" (default) or "priority".
	ConditionOrder string `toml:"condition-order,omitempty" mapstructure:"condition-order"`

	Cache CacheConfig `toml:"cache,omitempty" mapstructure:"cache"`
	Log   LogConfig   `toml:"log,omitempty" mapstructure:"log"`
}

type JSXConfig struct {
	// Mode is "transform", "preserve" or "automatic".
	Mode         string `toml:"mode,omitempty" mapstructure:"mode"`
	Factory      string `toml:"factory,omitempty" mapstructure:"factory"`
	Fragment     string `toml:"fragment,omitempty" mapstructure:"fragment"`
	ImportSource string `toml:"import-source,omitempty" mapstructure:"import-source"`
}

type CacheConfig struct {
	// Dir overrides the cache root (default: the user cache directory).
	Dir      string `toml:"dir,omitempty" mapstructure:"dir"`
	Disabled bool   `toml:"disabled,omitempty" mapstructure:"disabled"`
}

type LogConfig struct {
	Level string `toml:"level,omitempty" mapstructure:"level"`
}

// Default returns the configuration used when no file sets anything.
func Default() *Config {
	return &Config{
		Target: transform.DefaultTarget,
		Log:    LogConfig{Level: "warn"},
	}
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Target != "" && !transform.ValidTarget(c.Target) {
		errs = append(errs, fmt.Errorf("target: unsupported value %q", c.Target))
	}
	switch transform.JSXMode(c.JSX.Mode) {
	case "", transform.JSXTransform, transform.JSXPreserve, transform.JSXAutomatic:
	default:
		errs = append(errs, fmt.Errorf("jsx.mode: unsupported value %q", c.JSX.Mode))
	}
	if _, ok := resolve.ParseConditionOrder(c.ConditionOrder); !ok {
		errs = append(errs, fmt.Errorf("condition-order: must be declaration or priority, got %q", c.ConditionOrder))
	}
	if c.Log.Level != "" {
		if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
			errs = append(errs, fmt.Errorf("log.level: %w", err))
		}
	}
	return errors.Join(errs...)
}

// TransformOptions maps the configuration onto transform options.
func (c *Config) TransformOptions() transform.Options {
	return transform.Options{
		Target:          c.Target,
		JSX:             transform.JSXMode(c.JSX.Mode),
		JSXFactory:      c.JSX.Factory,
		JSXFragment:     c.JSX.Fragment,
		JSXImportSource: c.JSX.ImportSource,
	}
}

func (c *Config) Order() resolve.ConditionOrder {
	order, _ := resolve.ParseConditionOrder(c.ConditionOrder)
	return order
}

func UnmarshalConfig(data []byte) (*Config, error) {
	cfg := &Config{}
	err := toml.Unmarshal(data, cfg)

	return cfg, err
}

func (c *Config) Marshal() ([]byte, error) {
	return toml.Marshal(c)
}

func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return UnmarshalConfig(data)
}

func SaveFile(path string, cfg *Config) error {
	data, err := cfg.Marshal()
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// GlobalConfigDir returns the path to ~/.tsx, creating it if necessary.
func GlobalConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}
	dir := filepath.Join(home, ".tsx")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}
	return dir, nil
}

// GlobalConfigPath returns the path to ~/.tsx/config.toml.
func GlobalConfigPath() (string, error) {
	dir, err := GlobalConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, globalFileName), nil
}
