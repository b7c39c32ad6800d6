// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dotandev/shrinkwrap/internal/config"
	"github.com/dotandev/shrinkwrap/internal/errors"
	"github.com/dotandev/shrinkwrap/internal/history"
	"github.com/dotandev/shrinkwrap/internal/logger"
	"github.com/dotandev/shrinkwrap/internal/mapping"
	"github.com/dotandev/shrinkwrap/internal/pipeline"
)

var (
	shrinkOutputFlag    string
	shrinkKeepFlag      []string
	shrinkLibraryFlag   []string
	shrinkMappingFlag   string
	shrinkDryRunFlag    bool
	shrinkNoNarrowFlag  bool
	shrinkStrictFlag    bool
	shrinkWorkersFlag   int
	shrinkNoHistoryFlag bool
)

var shrinkCmd = &cobra.Command{
	Use:     "shrink [flags] <file-or-directory>...",
	GroupID: "core",
	Short:   "Remove unreachable code and compact class and dex files",
	Long: `Shrink reads class files and dex files, removes the classes, methods and
fields that cannot be reached from the keep rules, compacts the constant
tables and writes the result.

All class file inputs form one program. Every dex file is its own program.
Directories are searched for .class and .dex files; outputs keep their
paths relative to the directory.

Keep rules have the form class[#member[descriptor]]. The class is a glob
over internal names; a trailing ** matches any suffix.`,
	Example: `  # Shrink an application, keeping its entry point
  shrinkwrap shrink -o out/ --keep 'com/example/Main#main' build/classes

  # Report what would be removed without writing anything
  shrinkwrap shrink --dry-run --keep 'com/example/**' classes.dex

  # Write an index mapping file next to the output
  shrinkwrap shrink -o out/ --mapping out/shrink.map classes.dex`,
	Args: cobra.MinimumNArgs(1),
	RunE: runShrink,
}

func runShrink(cmd *cobra.Command, args []string) error {
	c := shrinkConfig(cmd)
	if !shrinkDryRunFlag && shrinkOutputFlag == "" {
		return errors.WrapConfigError("--output is required unless --dry-run is set", nil)
	}

	inputs, err := collectInputs(args)
	if err != nil {
		return err
	}
	libraries, err := collectInputs(c.Libraries)
	if err != nil {
		return err
	}
	if len(inputs) == 0 {
		return errors.WrapConfigError("no .class or .dex files found in "+strings.Join(args, ", "), nil)
	}

	p, err := pipeline.New(c)
	if err != nil {
		return err
	}
	report, runErr := p.Run(cmd.Context(), inputs, libraries)
	if !shrinkNoHistoryFlag {
		recordRun(cmd, c, report.HistoryRun("cli", args, runErr))
	}
	if runErr != nil {
		printStatus(cmd.ErrOrStderr(), false, "Shrink failed")
		return runErr
	}

	if !shrinkDryRunFlag {
		if err := writeOutputs(shrinkOutputFlag, report); err != nil {
			return err
		}
	}
	if shrinkMappingFlag != "" {
		if err := mapping.Write(shrinkMappingFlag, report.Mapping()); err != nil {
			return fmt.Errorf("failed to write mapping: %w", err)
		}
		logger.Logger.Info("Mapping written", "path", shrinkMappingFlag)
	}

	printReport(cmd.OutOrStdout(), report, shrinkDryRunFlag)
	return nil
}

// shrinkConfig applies the command's flags to a copy of the loaded
// configuration.
func shrinkConfig(cmd *cobra.Command) *config.Config {
	c := *cfg
	c.Keep = append(append([]string(nil), cfg.Keep...), shrinkKeepFlag...)
	c.Libraries = append(append([]string(nil), cfg.Libraries...), shrinkLibraryFlag...)
	flags := cmd.Flags()
	if flags.Changed("no-narrow") {
		c.Narrow = !shrinkNoNarrowFlag
	}
	if flags.Changed("strict-length") {
		c.StrictLength = shrinkStrictFlag
	}
	if flags.Changed("workers") && shrinkWorkersFlag > 0 {
		c.Workers = shrinkWorkersFlag
	}
	return &c
}

func recordRun(cmd *cobra.Command, c *config.Config, run *history.Run) {
	store, err := history.Open(c.HistoryPath)
	if err != nil {
		logger.Logger.Warn("Run history unavailable", "error", err)
		return
	}
	defer store.Close()
	if err := store.Save(cmd.Context(), run); err != nil {
		logger.Logger.Warn("Failed to record run", "error", err)
	}
}

func isContainer(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".class" || ext == ".dex"
}

// collectInputs reads every named file and every container below every
// named directory. Paths are relative to the directory they were found in.
func collectInputs(paths []string) ([]pipeline.Input, error) {
	var inputs []pipeline.Input
	seen := make(map[string]string)
	add := func(rel, abs string) error {
		if prev, dup := seen[rel]; dup {
			return errors.WrapConfigError(fmt.Sprintf("%s and %s have the same output path %s", prev, abs, rel), nil)
		}
		seen[rel] = abs
		data, err := os.ReadFile(abs)
		if err != nil {
			return err
		}
		inputs = append(inputs, pipeline.Input{Path: rel, Data: data})
		return nil
	}

	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			if err := add(filepath.Base(root), root); err != nil {
				return nil, err
			}
			continue
		}
		var found []string
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && isContainer(path) {
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		sort.Strings(found)
		for _, path := range found {
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return nil, err
			}
			if err := add(filepath.ToSlash(rel), path); err != nil {
				return nil, err
			}
		}
	}
	return inputs, nil
}

func writeOutputs(dir string, report *pipeline.Report) error {
	for _, c := range report.Containers {
		if c.Removed {
			continue
		}
		path := filepath.Join(dir, filepath.FromSlash(c.Path))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(path, c.Output, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
	}
	return nil
}

func printReport(w io.Writer, r *pipeline.Report, dryRun bool) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CONTAINER\tFORMAT\tSIZE\tENTRIES\tNARROWED")
	for _, c := range r.Containers {
		if c.Removed {
			fmt.Fprintf(tw, "%s\t%s\t%s\t\t\n", c.Path, c.Format, yellow("removed"))
			continue
		}
		size := fmt.Sprintf("%s -> %s", humanBytes(int64(c.BytesBefore)), humanBytes(int64(c.BytesAfter)))
		entries := fmt.Sprintf("%d -> %d", c.EntriesBefore, c.EntriesAfter)
		if c.PinnedBy != "" {
			entries += faint(" (pinned by " + c.PinnedBy + ")")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", c.Path, c.Format, size, entries, c.NarrowedMethods)
	}
	tw.Flush()

	before, after := r.BytesBefore(), r.BytesAfter()
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s %d classes, %d methods, %d fields removed\n",
		bold("Members:"), r.RemovedClasses, r.RemovedMethods, r.RemovedFields)
	fmt.Fprintf(w, "%s %s -> %s (%s smaller)\n",
		bold("Size:"), humanBytes(before), humanBytes(after), green(percent(before, after)))
	msg := fmt.Sprintf("Run %s finished in %s", r.RunID, r.Duration.Round(time.Millisecond))
	if dryRun {
		msg += " (dry run, nothing written)"
	}
	printStatus(w, true, msg)
}

func init() {
	shrinkCmd.Flags().StringVarP(&shrinkOutputFlag, "output", "o", "", "Directory to write shrunk containers to")
	shrinkCmd.Flags().StringArrayVarP(&shrinkKeepFlag, "keep", "k", nil, "Keep rule, class[#member[descriptor]] (repeatable)")
	shrinkCmd.Flags().StringArrayVarP(&shrinkLibraryFlag, "library", "l", nil, "Library class or dex file, or directory of them (repeatable)")
	shrinkCmd.Flags().StringVar(&shrinkMappingFlag, "mapping", "", "Write the index mapping file to this path")
	shrinkCmd.Flags().BoolVar(&shrinkDryRunFlag, "dry-run", false, "Report statistics without writing containers")
	shrinkCmd.Flags().BoolVar(&shrinkNoNarrowFlag, "no-narrow", false, "Keep instruction forms as they are")
	shrinkCmd.Flags().BoolVar(&shrinkStrictFlag, "strict-length", false, "Refuse rewrites that change a code length")
	shrinkCmd.Flags().IntVarP(&shrinkWorkersFlag, "workers", "j", 0, "Containers processed at once (default: number of CPUs)")
	shrinkCmd.Flags().BoolVar(&shrinkNoHistoryFlag, "no-history", false, "Do not record the run in the history database")

	shrinkCmd.ValidArgsFunction = completeContainerArgs
	rootCmd.AddCommand(shrinkCmd)
}
