// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
	faint  = color.New(color.Faint).SprintFunc()
)

// setColor turns colored output off when asked; fatih/color already turns
// it off for non-terminals and NO_COLOR.
func setColor(disabled bool) {
	if disabled {
		color.NoColor = true
	}
}

// percent renders how much smaller after is than before.
func percent(before, after int64) string {
	if before == 0 {
		return "0.0%"
	}
	return fmt.Sprintf("%.1f%%", 100*float64(before-after)/float64(before))
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func printStatus(w io.Writer, ok bool, msg string) {
	mark := green("✓")
	if !ok {
		mark = red("✗")
	}
	fmt.Fprintf(w, "%s %s\n", mark, msg)
}
