// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dotandev/shrinkwrap/internal/config"
	"github.com/dotandev/shrinkwrap/internal/errors"
	"github.com/dotandev/shrinkwrap/internal/logger"
	"github.com/dotandev/shrinkwrap/internal/shutdown"
	"github.com/dotandev/shrinkwrap/internal/telemetry"
)

// Global flag variables
var (
	ConfigFlag   string
	LogLevelFlag string
	LogJSONFlag  bool
	TargetFlag   string
	NoColorFlag  bool
)

// cfg is the configuration loaded before every command runs.
var cfg *config.Config

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "shrinkwrap",
	Short: "Shrink JVM class files and Dalvik dex files",
	Long: `Shrinkwrap removes unreachable classes, methods and fields from compiled
JVM class files and Dalvik dex files, compacts their constant tables and
rewrites every instruction in its shortest form.

Key features:
  - Whole-program member shrinking driven by keep rules
  - Constant pool and identifier table compaction
  - Branch relocation when instructions change size
  - Index mapping files for translating old indices
  - Run history and a JSON-RPC daemon for build tools

Examples:
  shrinkwrap shrink -o out/ --keep 'com/example/Main#main' build/classes
  shrinkwrap shrink --dry-run classes.dex
  shrinkwrap inspect classes.dex
  shrinkwrap history list --limit 5

Get started with 'shrinkwrap shrink --help'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if ConfigFlag != "" {
			cfg, err = config.LoadFrom(ConfigFlag)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return err
		}
		if err := applyGlobalFlags(cmd, cfg); err != nil {
			return err
		}

		lvl, _ := logger.ParseLevel(cfg.LogLevel)
		logger.SetLevel(lvl)
		if cfg.LogJSON {
			logger.SetOutput(os.Stderr, true)
		}
		setColor(NoColorFlag)

		cleanup, err := telemetry.Init(cmd.Context(), telemetry.Config{
			Enabled:     cfg.Telemetry.Enabled,
			ExporterURL: cfg.Telemetry.Endpoint,
			ServiceName: cfg.Telemetry.ServiceName,
			Version:     Version,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		registerShutdownHook("telemetry", func(context.Context) error {
			cleanup()
			return nil
		})
		logger.Logger.Debug("Configuration loaded", "source", cfg.Source(), "config", cfg.String())
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

// applyGlobalFlags lets explicitly set flags win over file and environment.
func applyGlobalFlags(cmd *cobra.Command, c *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		c.LogLevel = LogLevelFlag
	}
	if flags.Changed("log-json") {
		c.LogJSON = LogJSONFlag
	}
	if flags.Changed("target") {
		t, err := config.GetTarget(TargetFlag)
		if err != nil {
			return err
		}
		c.Target = t.Name
		if t.ClassVersion != "" {
			c.ClassVersion = t.ClassVersion
		}
		if t.DexVersion != "" {
			c.DexVersion = t.DexVersion
		}
	}
	return c.Validate()
}

// Execute adds all child commands to the root command and sets flags appropriately.
// Interrupts cancel the running command; shutdown hooks run either way.
func Execute() (err error) {
	defer errors.Recover(&err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	coordinator := shutdown.NewCoordinator()
	setShutdownCoordinator(coordinator)
	defer clearShutdownCoordinator()

	return executeWithSignals(ctx, cancel, sigCh, coordinator, func(ctx context.Context) error {
		return rootCmd.ExecuteContext(ctx)
	})
}

// executeWithSignals runs fn until it returns or a signal arrives. On a
// signal ctx is cancelled and ErrInterrupted returned once fn has stopped.
func executeWithSignals(ctx context.Context, cancel context.CancelFunc, sigCh <-chan os.Signal, coordinator *shutdown.Coordinator, fn func(context.Context) error) error {
	defer runShutdownHooksWithTimeout(coordinator, shutdownTimeout)

	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()

	select {
	case err := <-done:
		return err
	case sig := <-sigCh:
		logger.Logger.Info("Received signal, shutting down", "signal", sig.String())
		cancel()
		<-done
		return ErrInterrupted
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&ConfigFlag, "config", "", "Configuration file (default: search .shrinkwrap.toml, ~/.shrinkwrap.toml)")
	rootCmd.PersistentFlags().StringVar(&LogLevelFlag, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&LogJSONFlag, "log-json", false, "Write logs as JSON")
	rootCmd.PersistentFlags().StringVar(&TargetFlag, "target", "", "Target preset for version constraints (see 'shrinkwrap targets list')")
	rootCmd.PersistentFlags().BoolVar(&NoColorFlag, "no-color", false, "Disable colored output")

	_ = rootCmd.RegisterFlagCompletionFunc("target", completeTargetFlag)
	_ = rootCmd.RegisterFlagCompletionFunc("log-level", completeLogLevelFlag)

	rootCmd.AddGroup(
		&cobra.Group{ID: "core", Title: "Core Commands:"},
		&cobra.Group{ID: "utility", Title: "Utility Commands:"},
	)
}
