package cmd

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/agentpkg/tsx/pkg/config"
	"github.com/agentpkg/tsx/pkg/project"
	"github.com/agentpkg/tsx/pkg/transform"
)

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a tsx.toml in the current directory",
		Long:  "Creates a tsx.toml configuration and, when the cache is kept in the project, a matching .gitignore entry.",
		RunE:  runInit,
		// init does not need config resolution; skip the root PersistentPreRunE.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	}
	cmd.Flags().BoolP("yes", "y", false, "accept defaults without prompting")
	return cmd
}

func runInit(cmd *cobra.Command, args []string) error {
	yes, err := cmd.Flags().GetBool("yes")
	if err != nil {
		return err
	}

	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting working directory: %w", err)
	}

	cfg := config.Default()
	localCache := false
	if !yes {
		if localCache, err = promptInit(cfg); err != nil {
			return err
		}
	}
	if localCache {
		cfg.Cache.Dir = project.LocalCacheDir
	}

	if err := project.Init(wd, cfg); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", project.ConfigFile)

	if !localCache {
		return nil
	}
	added, err := project.EnsureGitignore(wd, []string{project.LocalCacheDir + "/"})
	if err != nil {
		return err
	}
	for _, entry := range added {
		fmt.Fprintf(cmd.OutOrStdout(), "Added %s to .gitignore\n", entry)
	}

	return nil
}

// promptInit uses huh to ask for the target, the JSX mode and where to keep
// the cache. It fills cfg and reports whether the cache stays in the project.
func promptInit(cfg *config.Config) (bool, error) {
	targets := []string{"es2017", "es2018", "es2019", "es2020", "es2021", "es2022", "esnext"}
	targetOpts := make([]huh.Option[string], len(targets))
	for i, t := range targets {
		targetOpts[i] = huh.NewOption(t, t)
	}

	jsx := string(transform.JSXTransform)
	var localCache bool
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Language level of transformed code").
				Options(targetOpts...).
				Value(&cfg.Target),
			huh.NewSelect[string]().
				Title("JSX handling").
				Options(
					huh.NewOption("classic (React.createElement)", string(transform.JSXTransform)),
					huh.NewOption("automatic runtime", string(transform.JSXAutomatic)),
					huh.NewOption("preserve", string(transform.JSXPreserve)),
				).
				Value(&jsx),
			huh.NewConfirm().
				Title("Keep the transform cache in this project (" + project.LocalCacheDir + "/)?").
				Value(&localCache),
		),
	).Run()
	if err != nil {
		return false, fmt.Errorf("prompt failed: %w", err)
	}

	if jsx != string(transform.JSXTransform) {
		cfg.JSX.Mode = jsx
	}
	return localCache, nil
}
