// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dotandev/shrinkwrap/internal/pipeline"
)

var inspectJSONFlag bool

var inspectCmd = &cobra.Command{
	Use:     "inspect <file-or-directory>...",
	GroupID: "core",
	Short:   "Show the tables and classes of class and dex files",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		inputs, err := collectInputs(args)
		if err != nil {
			return err
		}
		p, err := pipeline.New(cfg)
		if err != nil {
			return err
		}

		summaries := make([]*pipeline.Summary, 0, len(inputs))
		for _, in := range inputs {
			s, err := p.Inspect(in)
			if err != nil {
				return err
			}
			summaries = append(summaries, s)
		}

		w := cmd.OutOrStdout()
		if inspectJSONFlag {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(summaries)
		}
		for i, s := range summaries {
			if i > 0 {
				fmt.Fprintln(w)
			}
			printSummary(w, s)
		}
		return nil
	},
}

func printSummary(w io.Writer, s *pipeline.Summary) {
	fmt.Fprintf(w, "%s %s version %s, %s\n", bold(s.Path), s.Format, s.Version, humanBytes(int64(s.Size)))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  TABLE\tENTRIES\tSLOTS")
	for _, t := range s.Tables {
		fmt.Fprintf(tw, "  %s\t%d\t%d\n", t.Name, t.Entries, t.Slots)
	}
	tw.Flush()

	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  CLASS\tFIELDS\tMETHODS\tINSNS\tCODE")
	for _, c := range s.Classes {
		fmt.Fprintf(tw, "  %s\t%d\t%d\t%d\t%d\n", c.Name, c.Fields, c.Methods, c.Instructions, c.CodeUnits)
	}
	tw.Flush()
}

func init() {
	inspectCmd.Flags().BoolVar(&inspectJSONFlag, "json", false, "Print summaries as JSON")
	inspectCmd.ValidArgsFunction = completeContainerArgs
	rootCmd.AddCommand(inspectCmd)
}
