package cmd

import (
	"fmt"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/agentpkg/tsx/pkg/cache"
)

func newCacheCmd() *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the transform cache",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache location, entry count and size",
		Args:  cobra.NoArgs,
		RunE:  runCacheStats,
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached transform",
		Args:  cobra.NoArgs,
		RunE:  runCacheClear,
	}
	clearCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")

	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove cached transforms older than a given age",
		Args:  cobra.NoArgs,
		RunE:  runCachePrune,
	}
	pruneCmd.Flags().Duration("older-than", 30*24*time.Hour, "remove entries created longer ago than this")

	cacheCmd.AddCommand(statsCmd, clearCmd, pruneCmd)
	return cacheCmd
}

func openDisk() (*cache.Disk, error) {
	st, err := openStore(Cfg, CfgPath)
	if err != nil {
		return nil, err
	}
	return cache.NewDisk(st), nil
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	d, err := openDisk()
	if err != nil {
		return err
	}
	st, err := d.Stats()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Location: %s\n", st.Root)
	fmt.Fprintf(out, "Entries:  %d\n", st.Entries)
	fmt.Fprintf(out, "Size:     %s\n", humanize.Bytes(uint64(st.Bytes)))
	if Cfg.Cache.Disabled {
		fmt.Fprintln(out, "Note: the cache is disabled by configuration")
	}
	return nil
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	yes, err := cmd.Flags().GetBool("yes")
	if err != nil {
		return err
	}

	d, err := openDisk()
	if err != nil {
		return err
	}
	st, err := d.Stats()
	if err != nil {
		return err
	}
	if st.Entries == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Cache is empty")
		return nil
	}

	if !yes {
		confirmed, err := confirm(fmt.Sprintf("Remove %d cached transform(s) (%s)?", st.Entries, humanize.Bytes(uint64(st.Bytes))))
		if err != nil {
			return err
		}
		if !confirmed {
			return nil
		}
	}

	if err := d.Clear(); err != nil {
		return fmt.Errorf("clearing cache: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d cached transform(s)\n", st.Entries)
	return nil
}

func runCachePrune(cmd *cobra.Command, args []string) error {
	age, err := cmd.Flags().GetDuration("older-than")
	if err != nil {
		return err
	}

	d, err := openDisk()
	if err != nil {
		return err
	}
	before := time.Now().Add(-age)
	n, err := d.Prune(before)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d cached transform(s) created before %s\n", n, humanize.Time(before))
	return nil
}

// confirm uses huh to ask a yes/no question.
func confirm(title string) (bool, error) {
	var ok bool
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(title).
				Value(&ok),
		),
	).Run()
	if err != nil {
		return false, fmt.Errorf("prompt failed: %w", err)
	}
	return ok, nil
}
