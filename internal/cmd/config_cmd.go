// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "utility",
	Short:   "Show the effective configuration",
	Long: `Print the configuration after defaults, the configuration file, SHRINKWRAP_*
environment variables and global flags have been applied.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := cfg.Encode()
		if err != nil {
			return err
		}
		source := cfg.Source()
		if source == "" {
			source = "defaults"
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "# source: %s\n", source)
		fmt.Fprint(w, out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
