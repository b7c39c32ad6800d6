// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dotandev/shrinkwrap/internal/history"
)

var (
	historyStatusFlag string
	historyInputFlag  string
	historySinceFlag  time.Duration
	historyLimitFlag  int
	pruneOlderFlag    time.Duration
	pruneDryRunFlag   bool
)

var historyCmd = &cobra.Command{
	Use:     "history",
	GroupID: "utility",
	Short:   "Show and prune recorded shrink runs",
	Long: `Every shrink run, from the command line or the daemon, is recorded in a
SQLite database (history_path in the configuration).`,
	Example: `  shrinkwrap history list --limit 10
  shrinkwrap history list --status failed --input '\.dex$'
  shrinkwrap history show 3f2c...
  shrinkwrap history prune --older-than 720h --dry-run`,
}

func openHistory() (*history.Store, error) {
	store, err := history.Open(cfg.HistoryPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	return store, nil
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openHistory()
		if err != nil {
			return err
		}
		defer store.Close()

		params := history.SearchParams{
			Status:     historyStatusFlag,
			InputRegex: historyInputFlag,
			Limit:      historyLimitFlag,
		}
		if historySinceFlag > 0 {
			params.Since = time.Now().Add(-historySinceFlag)
		}
		runs, err := store.List(cmd.Context(), params)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if len(runs) == 0 {
			fmt.Fprintln(w, "No runs recorded.")
			return nil
		}
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTARTED\tSOURCE\tSTATUS\tSAVED\tINPUTS")
		for _, r := range runs {
			status := green(r.Status)
			if r.Status != history.StatusOK {
				status = red(r.Status)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
				r.ID, r.StartedAt.Format(time.DateTime), r.Source, status,
				percent(r.BytesBefore, r.BytesAfter), strings.Join(r.Inputs, " "))
		}
		return tw.Flush()
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openHistory()
		if err != nil {
			return err
		}
		defer store.Close()

		r, err := store.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%s %s\n", bold("Run:"), r.ID)
		fmt.Fprintf(w, "%s %s (%s, %s)\n", bold("Started:"), r.StartedAt.Format(time.RFC3339), r.Source, r.Duration.Round(time.Millisecond))
		fmt.Fprintf(w, "%s %s\n", bold("Inputs:"), strings.Join(r.Inputs, ", "))
		fmt.Fprintf(w, "%s %d\n", bold("Containers:"), r.Containers)
		fmt.Fprintf(w, "%s %s -> %s (%s smaller)\n", bold("Size:"),
			humanBytes(r.BytesBefore), humanBytes(r.BytesAfter), percent(r.BytesBefore, r.BytesAfter))
		fmt.Fprintf(w, "%s %d -> %d\n", bold("Entries:"), r.EntriesBefore, r.EntriesAfter)
		fmt.Fprintf(w, "%s %d classes, %d methods, %d fields\n", bold("Removed:"),
			r.RemovedClasses, r.RemovedMethods, r.RemovedFields)
		printStatus(w, r.Status == history.StatusOK, r.Status+" "+r.ErrorMsg)
		return nil
	},
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openHistory()
		if err != nil {
			return err
		}
		defer store.Close()

		n, err := store.Prune(cmd.Context(), time.Now().Add(-pruneOlderFlag), pruneDryRunFlag)
		if err != nil {
			return err
		}
		if pruneDryRunFlag {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d runs would be deleted\n", yellow("[DRY-RUN]"), n)
			return nil
		}
		printStatus(cmd.OutOrStdout(), true, fmt.Sprintf("Deleted %d runs", n))
		return nil
	},
}

func init() {
	historyListCmd.Flags().StringVar(&historyStatusFlag, "status", "", "Only runs with this status (ok, failed)")
	historyListCmd.Flags().StringVar(&historyInputFlag, "input", "", "Only runs with an input matching this regular expression")
	historyListCmd.Flags().DurationVar(&historySinceFlag, "since", 0, "Only runs started within this duration")
	historyListCmd.Flags().IntVar(&historyLimitFlag, "limit", 20, "Maximum number of runs")

	historyPruneCmd.Flags().DurationVar(&pruneOlderFlag, "older-than", 30*24*time.Hour, "Delete runs older than this")
	historyPruneCmd.Flags().BoolVar(&pruneDryRunFlag, "dry-run", false, "Only count the runs that would be deleted")

	_ = historyListCmd.RegisterFlagCompletionFunc("status", completeStatusFlag)
	historyShowCmd.ValidArgsFunction = completeNoOp

	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyPruneCmd)
	rootCmd.AddCommand(historyCmd)
}
