package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/agentpkg/tsx/pkg/cache"
	"github.com/agentpkg/tsx/pkg/config"
	"github.com/agentpkg/tsx/pkg/host"
	"github.com/agentpkg/tsx/pkg/loader"
	"github.com/agentpkg/tsx/pkg/transform"
)

var (
	flagLogLevel   string
	flagTarget     string
	flagNoCache    bool
	flagConditions []string

	// Cfg holds the resolved configuration, available to all subcommands
	// after PersistentPreRunE completes.
	Cfg *config.Config
	// CfgPath is the tsx.toml that contributed to Cfg, if any.
	CfgPath string
)

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tsx",
		Short: "Run TypeScript on an embedded JavaScript runtime",
		Long:  "tsx resolves, transforms and runs TypeScript and ESM sources on the fly, caching every transform on disk.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := config.Load(config.LoadOptions{Overrides: flagOverrides(cmd)})
			if err != nil {
				return err
			}
			Cfg, CfgPath = cfg, path

			logger, err := newLogger(cfg.Log.Level)
			if err != nil {
				return err
			}
			cache.SetLogger(logger)
			host.SetLogger(logger)
			loader.SetLogger(logger)
			transform.SetLogger(logger)
			return nil
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagTarget, "target", "", "language level of transformed code (e.g. es2020)")
	root.PersistentFlags().BoolVar(&flagNoCache, "no-cache", false, "disable the on-disk transform cache")
	root.PersistentFlags().StringSliceVarP(&flagConditions, "conditions", "C", nil, "extra export conditions (e.g. development)")

	root.AddCommand(newRunCmd())
	root.AddCommand(newResolveCmd())
	root.AddCommand(newCacheCmd())
	root.AddCommand(newInitCmd())

	return root
}

// flagOverrides maps explicitly set flags onto config keys.
func flagOverrides(cmd *cobra.Command) map[string]any {
	out := make(map[string]any)
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		out["log.level"] = flagLogLevel
	}
	if flags.Changed("target") {
		out["target"] = flagTarget
	}
	if flags.Changed("no-cache") {
		out["cache.disabled"] = flagNoCache
	}
	if flags.Changed("conditions") {
		out["conditions"] = flagConditions
	}
	return out
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return cfg.Build()
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
