package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentpkg/tsx/pkg/resolve"
)

type resolveOutput struct {
	Specifier string `json:"specifier"`
	Location  string `json:"location"`
	URL       string `json:"url"`
	Query     string `json:"query,omitempty"`
	Format    string `json:"format"`
	Owned     bool   `json:"owned"`
	Mode      string `json:"mode"`
}

func newResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <specifier>",
		Short: "Show where a specifier resolves to",
		Long: `Resolves specifier the way the loader would, without loading it.

--mode sync uses require conditions, --mode async import conditions.`,
		Args: cobra.ExactArgs(1),
		RunE: runResolve,
	}

	cmd.Flags().String("from", "", "file or directory the specifier is relative to (default: working directory)")
	cmd.Flags().String("mode", "sync", "resolution mode: sync or async")
	cmd.Flags().StringP("output", "o", "yaml", "output format: yaml or json")

	return cmd
}

func runResolve(cmd *cobra.Command, args []string) error {
	from, err := cmd.Flags().GetString("from")
	if err != nil {
		return err
	}
	modeName, err := cmd.Flags().GetString("mode")
	if err != nil {
		return err
	}
	output, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}

	var mode resolve.Mode
	switch modeName {
	case "sync":
		mode = resolve.ModeSync
	case "async":
		mode = resolve.ModeAsync
	default:
		return fmt.Errorf("unknown mode %q (want sync or async)", modeName)
	}

	r := resolve.New(resolve.Options{ConditionOrder: Cfg.Order()})
	res, err := r.Resolve(args[0], resolve.Context{
		Referrer:   from,
		Conditions: resolve.Conditions(mode, Cfg.Conditions...),
		Mode:       mode,
	})
	if err != nil {
		return err
	}

	return writeOutput(cmd.OutOrStdout(), output, resolveOutput{
		Specifier: args[0],
		Location:  res.Location,
		URL:       res.URL(),
		Query:     res.Query,
		Format:    string(res.Format),
		Owned:     res.Owned,
		Mode:      mode.String(),
	})
}
