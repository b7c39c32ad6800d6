// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/dotandev/shrinkwrap/internal/config"
	"github.com/dotandev/shrinkwrap/internal/history"
)

var logLevels = []string{"debug\tVerbose diagnostics", "info\tProgress messages", "warn\tWarnings only", "error\tErrors only"}
var runStatuses = []string{history.StatusOK + "\tRuns that finished", history.StatusFailed + "\tRuns that returned an error"}

func completeTargetFlag(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
	names, err := config.ListTargets()
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	return names, cobra.ShellCompDirectiveNoFileComp
}

func completeLogLevelFlag(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
	return logLevels, cobra.ShellCompDirectiveNoFileComp
}

func completeStatusFlag(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
	return runStatuses, cobra.ShellCompDirectiveNoFileComp
}

// completeContainerArgs offers class and dex files and directories.
func completeContainerArgs(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
	return []string{"class", "dex"}, cobra.ShellCompDirectiveFilterFileExt
}

func completeNoOp(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
	return nil, cobra.ShellCompDirectiveNoFileComp
}
