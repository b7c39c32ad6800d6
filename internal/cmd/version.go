package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var (
	// Version will be set by the main package
	Version = "dev"
	// CommitSHA will be set by the main package
	CommitSHA = "unknown"
)

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:     "version",
	GroupID: "utility",
	Short:   "Print the version number of shrinkwrap",
	Long:    `Display the current version of the shrinkwrap CLI tool.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "shrinkwrap version %s (%s, %s)\n", Version, CommitSHA, runtime.Version())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
