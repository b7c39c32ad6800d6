// Copyright (c) 2026 dotandev
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/dotandev/shrinkwrap/internal/daemon"
	"github.com/dotandev/shrinkwrap/internal/history"
	"github.com/dotandev/shrinkwrap/internal/logger"
	"github.com/dotandev/shrinkwrap/internal/pipeline"
)

var (
	daemonPort      int
	daemonAuthToken string
	daemonNoHistory bool
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "core",
	Short:   "Start JSON-RPC server for build tools",
	Long: `Start a JSON-RPC 2.0 server at /rpc that shrinks containers for remote tools.

Methods:
  - Shrink.Container: shrink one class or dex file and return it with its mapping
  - Shrink.Inspect: summarise the tables and classes of a container

GET /health reports liveness. Keep rules, targets and workers come from the
configuration.

Example:
  shrinkwrap daemon --port 8080
  shrinkwrap daemon --port 8080 --auth-token secret123`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		port := cfg.Daemon.Port
		if cmd.Flags().Changed("port") {
			port = daemonPort
		}
		token := cfg.Daemon.AuthToken
		if cmd.Flags().Changed("auth-token") {
			token = daemonAuthToken
		}

		p, err := pipeline.New(cfg)
		if err != nil {
			return err
		}

		var store *history.Store
		if !daemonNoHistory {
			if store, err = history.Open(cfg.HistoryPath); err != nil {
				logger.Logger.Warn("Run history unavailable", "error", err)
				store = nil
			} else {
				defer store.Close()
			}
		}

		server, err := daemon.NewServer(daemon.Config{
			Pipeline:  p,
			History:   store,
			AuthToken: token,
		})
		if err != nil {
			return fmt.Errorf("failed to create server: %w", err)
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Starting shrinkwrap daemon on port %d\n", port)
		fmt.Fprintf(w, "Keep rules: %d, workers: %d\n", len(cfg.Keep), cfg.Workers)
		if token != "" {
			fmt.Fprintln(w, "Authentication: enabled")
		}

		return server.Start(cmd.Context(), strconv.Itoa(port))
	},
}

func init() {
	daemonCmd.Flags().IntVarP(&daemonPort, "port", "p", 8080, "Port to listen on")
	daemonCmd.Flags().StringVar(&daemonAuthToken, "auth-token", "", "Authentication token for API access")
	daemonCmd.Flags().BoolVar(&daemonNoHistory, "no-history", false, "Do not record runs in the history database")

	rootCmd.AddCommand(daemonCmd)
}
