// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dotandev/shrinkwrap/internal/cmd"
	"github.com/dotandev/shrinkwrap/internal/config"
	"github.com/dotandev/shrinkwrap/internal/crashreport"
)

// Build-time variables injected via -ldflags.
var (
	version   = "dev"
	commitSHA = "unknown"
)

func main() {
	cmd.Version = version
	cmd.CommitSHA = commitSHA
	os.Exit(run(cmd.Execute, os.Stderr))
}

func run(execute func() error, stderr io.Writer) (code int) {
	ctx := context.Background()
	command := "shrinkwrap " + strings.Join(os.Args[1:min(len(os.Args), 2)], " ")

	// The crash reporter reads the configuration on its own so it also
	// covers failures before a command has loaded it.
	cfg, err := config.Load()
	if err != nil {
		cfg = config.DefaultConfig()
	}
	reporter := crashreport.New(crashreport.Config{
		Enabled:   cfg.CrashReport.Enabled,
		SentryDSN: cfg.CrashReport.SentryDSN,
		Endpoint:  cfg.CrashReport.Endpoint,
		Version:   version,
		CommitSHA: commitSHA,
	})
	defer reporter.HandlePanic(ctx, command)

	err = execute()
	switch {
	case err == nil:
		return 0
	case cmd.IsInterrupted(err):
		fmt.Fprintln(stderr, "Interrupted. Shutting down...")
		return cmd.InterruptExitCode
	default:
		reporter.ReportError(ctx, err, command)
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
}
