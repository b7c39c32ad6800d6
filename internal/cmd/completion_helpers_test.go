// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompleteTargetFlag(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	completions, directive := completeTargetFlag(nil, nil, "")
	assert.Equal(t, cobra.ShellCompDirectiveNoFileComp, directive)
	assert.Contains(t, completions, "java8")
	assert.Contains(t, completions, "android7")
}

func TestCompleteLogLevelFlag(t *testing.T) {
	completions, directive := completeLogLevelFlag(nil, nil, "")
	assert.Equal(t, cobra.ShellCompDirectiveNoFileComp, directive)
	assert.Len(t, completions, 4)
}

func TestCompleteStatusFlag(t *testing.T) {
	completions, _ := completeStatusFlag(nil, nil, "")
	require.Len(t, completions, 2)
	assert.Equal(t, "ok\tRuns that finished", completions[0])
}

func TestCompleteContainerArgs(t *testing.T) {
	exts, directive := completeContainerArgs(nil, nil, "")
	assert.Equal(t, cobra.ShellCompDirectiveFilterFileExt, directive)
	assert.Equal(t, []string{"class", "dex"}, exts)
}

func TestCompleteNoOp(t *testing.T) {
	completions, directive := completeNoOp(nil, nil, "")
	assert.Nil(t, completions)
	assert.Equal(t, cobra.ShellCompDirectiveNoFileComp, directive)
}
