// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"github.com/spf13/cobra"
)

// completionCmd represents the completion command
var completionCmd = &cobra.Command{
	Use:     "completion [bash|zsh|fish|powershell]",
	GroupID: "utility",
	Short:   "Generate completion script for your shell",
	Long: `To load completions:

Bash:

  $ source <(shrinkwrap completion bash)

  # To load completions for each session, add to your .bashrc:
  # (on macOS, you may need to install bash-completion)
  $ shrinkwrap completion bash > /usr/local/etc/bash_completion.d/shrinkwrap

Zsh:

  # If shell completion is not already enabled in your environment,
  # you will need to enable it.  You can execute the following once:

  $ echo "autoload -U compinit; compinit" >> ~/.zshrc

  # To load completions for each session, add to your .zshrc:
  $ source <(shrinkwrap completion zsh)

  # Alternatively, you can add the completion script to your fpath:
  $ shrinkwrap completion zsh > "${fpath[1]}/_shrinkwrap"

Fish:

  $ shrinkwrap completion fish | source

  # To load completions for each session, add to your fish configuration file:
  $ shrinkwrap completion fish > ~/.config/fish/completions/shrinkwrap.fish

PowerShell:

  PS> shrinkwrap completion powershell | Out-String | Invoke-Expression

  # To load completions for every new session, run:
  PS> shrinkwrap completion powershell > shrinkwrap.ps1
  # and source this file from your PowerShell profile.
`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.ExactValidArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		w := cmd.OutOrStdout()
		switch args[0] {
		case "bash":
			return cmd.Root().GenBashCompletion(w)
		case "zsh":
			return cmd.Root().GenZshCompletion(w)
		case "fish":
			return cmd.Root().GenFishCompletion(w, true)
		default:
			return cmd.Root().GenPowerShellCompletionWithDesc(w)
		}
	},
}

func init() {
	rootCmd.AddCommand(completionCmd)
}
