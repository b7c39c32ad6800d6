// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dotandev/shrinkwrap/internal/config"
	"github.com/dotandev/shrinkwrap/internal/errors"
)

var (
	targetClassVersionFlag string
	targetDexVersionFlag   string
)

var targetsCmd = &cobra.Command{
	Use:     "targets",
	GroupID: "utility",
	Short:   "Manage target presets for class and dex version constraints",
	Long: `A target names a pair of version constraints. The built-in targets cover
common JVM and Android releases; custom targets are stored in
~/.shrinkwrap/targets.toml.`,
	Example: `  shrinkwrap targets list
  shrinkwrap targets add legacy --class-version '>= 45.3, <= 50'
  shrinkwrap --target legacy shrink -o out/ build/classes`,
}

var targetsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List built-in and custom targets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		names, err := config.ListTargets()
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tCLASS\tDEX")
		for _, name := range names {
			t, err := config.GetTarget(name)
			if err != nil {
				return err
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", t.Name, orAny(t.ClassVersion), orAny(t.DexVersion))
		}
		return tw.Flush()
	},
}

var targetsAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add or replace a custom target",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if targetClassVersionFlag == "" && targetDexVersionFlag == "" {
			return errors.WrapConfigError("at least one of --class-version and --dex-version is required", nil)
		}
		t := config.Target{
			Name:         args[0],
			ClassVersion: targetClassVersionFlag,
			DexVersion:   targetDexVersionFlag,
		}
		if err := config.AddCustomTarget(t); err != nil {
			return err
		}
		printStatus(cmd.OutOrStdout(), true, fmt.Sprintf("Target %s saved", t.Name))
		return nil
	},
}

var targetsRemoveCmd = &cobra.Command{
	Use:               "remove <name>",
	Short:             "Remove a custom target",
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeTargetFlag,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.RemoveCustomTarget(args[0]); err != nil {
			return err
		}
		printStatus(cmd.OutOrStdout(), true, fmt.Sprintf("Target %s removed", args[0]))
		return nil
	},
}

func orAny(constraint string) string {
	if constraint == "" {
		return faint("any")
	}
	return constraint
}

func init() {
	targetsAddCmd.Flags().StringVar(&targetClassVersionFlag, "class-version", "", "Class file version constraint, e.g. '>= 45.3, <= 52'")
	targetsAddCmd.Flags().StringVar(&targetDexVersionFlag, "dex-version", "", "Dex version constraint, e.g. '>= 35, <= 38'")

	targetsCmd.AddCommand(targetsListCmd, targetsAddCmd, targetsRemoveCmd)
	rootCmd.AddCommand(targetsCmd)
}
