// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotandev/shrinkwrap/internal/classfile"
	"github.com/dotandev/shrinkwrap/internal/errors"
	"github.com/dotandev/shrinkwrap/internal/mapping"
	"github.com/dotandev/shrinkwrap/internal/pipeline"
)

// resetFlags restores every flag below c to its default between runs.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// setupCLI isolates configuration, targets and history in temp dirs.
func setupCLI(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("SHRINKWRAP_HISTORY_PATH", filepath.Join(home, "history.db"))
	t.Setenv("SHRINKWRAP_TELEMETRY", "false")
	return home
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

// writeClass writes a class with public static void methods to
// dir/<name>.class.
func writeClass(t *testing.T, dir, name string, methods ...string) string {
	t.Helper()
	cf := &classfile.ClassFile{Major: 52, Pool: classfile.NewPool(), Access: classfile.AccPublic}
	must := func(idx uint16, err error) uint16 {
		t.Helper()
		require.NoError(t, err)
		return idx
	}
	cf.This = must(cf.Pool.AddClass(name))
	cf.Super = must(cf.Pool.AddClass("java/lang/Object"))
	codeName := must(cf.Pool.AddUtf8("Code"))
	for _, m := range methods {
		cf.Methods = append(cf.Methods, &classfile.Member{
			Access: classfile.AccPublic | classfile.AccStatic,
			Name:   must(cf.Pool.AddUtf8(m)),
			Desc:   must(cf.Pool.AddUtf8("()V")),
			Attributes: []classfile.Attribute{&classfile.Code{
				AttrHeader: classfile.AttrHeader{NameIndex: codeName},
				Bytecode:   []byte{byte(classfile.OpReturn)},
			}},
		})
	}
	data, err := cf.Bytes()
	require.NoError(t, err)
	path := filepath.Join(dir, filepath.FromSlash(name)+".class")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestShrinkCommand(t *testing.T) {
	home := setupCLI(t)
	in := filepath.Join(home, "classes")
	out := filepath.Join(home, "out")
	writeClass(t, in, "demo/Main", "main", "dead")
	mapPath := filepath.Join(out, "shrink.map")

	stdout, err := runCLI(t, "shrink", "-o", out, "--keep", "demo/Main#main", "--mapping", mapPath, in)
	require.NoError(t, err)
	assert.Contains(t, stdout, "demo/Main.class")
	assert.Contains(t, stdout, "0 classes, 1 methods, 0 fields removed")

	data, err := os.ReadFile(filepath.Join(out, "demo", "Main.class"))
	require.NoError(t, err)
	cf, err := classfile.Parse(data)
	require.NoError(t, err)
	assert.Len(t, cf.Methods, 1)

	m, err := mapping.Read(mapPath)
	require.NoError(t, err)
	assert.NotEmpty(t, m.RunID)

	stdout, err = runCLI(t, "history", "list")
	require.NoError(t, err)
	assert.Contains(t, stdout, m.RunID)
	assert.Contains(t, stdout, "cli")

	stdout, err = runCLI(t, "history", "show", m.RunID)
	require.NoError(t, err)
	assert.Contains(t, stdout, "0 classes, 1 methods, 0 fields")
}

func TestShrinkDryRun(t *testing.T) {
	home := setupCLI(t)
	path := writeClass(t, home, "demo/Main", "main")

	stdout, err := runCLI(t, "shrink", "--dry-run", "--no-history", "--keep", "demo/**", path)
	require.NoError(t, err)
	assert.Contains(t, stdout, "dry run, nothing written")

	_, err = os.Stat(filepath.Join(home, "history.db"))
	assert.True(t, os.IsNotExist(err), "history must not be opened")
}

func TestShrinkRequiresOutput(t *testing.T) {
	home := setupCLI(t)
	path := writeClass(t, home, "demo/Main", "main")

	_, err := runCLI(t, "shrink", path)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrConfig)
}

func TestShrinkRecordsFailure(t *testing.T) {
	home := setupCLI(t)
	bad := filepath.Join(home, "Broken.class")
	require.NoError(t, os.WriteFile(bad, []byte("not a class"), 0644))

	_, err := runCLI(t, "shrink", "--dry-run", bad)
	require.Error(t, err)

	stdout, err := runCLI(t, "history", "list", "--status", "failed")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Broken.class")
}

func TestCollectInputs(t *testing.T) {
	dir := t.TempDir()
	writeClass(t, dir, "a/A", "run")
	writeClass(t, dir, "B", "run")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.txt"), []byte("skip"), 0644))

	inputs, err := collectInputs([]string{dir})
	require.NoError(t, err)
	require.Len(t, inputs, 2)
	assert.Equal(t, "B.class", inputs[0].Path)
	assert.Equal(t, "a/A.class", inputs[1].Path)

	_, err = collectInputs([]string{dir, filepath.Join(dir, "B.class")})
	assert.ErrorIs(t, err, errors.ErrConfig)

	_, err = collectInputs([]string{filepath.Join(dir, "missing.class")})
	assert.Error(t, err)
}

func TestInspectCommandJSON(t *testing.T) {
	home := setupCLI(t)
	path := writeClass(t, home, "demo/Main", "main", "other")

	stdout, err := runCLI(t, "inspect", "--json", path)
	require.NoError(t, err)

	var summaries []pipeline.Summary
	require.NoError(t, json.Unmarshal([]byte(stdout), &summaries))
	require.Len(t, summaries, 1)
	assert.Equal(t, "class", summaries[0].Format)
	assert.Equal(t, "52.0", summaries[0].Version)
	require.Len(t, summaries[0].Classes, 1)
	assert.Equal(t, 2, summaries[0].Classes[0].Methods)
}

func TestHistoryPruneDryRun(t *testing.T) {
	home := setupCLI(t)
	path := writeClass(t, home, "demo/Main", "main")
	_, err := runCLI(t, "shrink", "--dry-run", path)
	require.NoError(t, err)

	stdout, err := runCLI(t, "history", "prune", "--older-than", "0s", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, stdout, "1 runs would be deleted")

	stdout, err = runCLI(t, "history", "list")
	require.NoError(t, err)
	assert.NotContains(t, stdout, "No runs recorded.")
}

func TestTargetsCommands(t *testing.T) {
	setupCLI(t)

	_, err := runCLI(t, "targets", "add", "legacy", "--class-version", ">= 45.3, <= 50")
	require.NoError(t, err)

	stdout, err := runCLI(t, "targets", "list")
	require.NoError(t, err)
	assert.Contains(t, stdout, "legacy")
	assert.Contains(t, stdout, "java8")

	_, err = runCLI(t, "targets", "add", "java8", "--class-version", ">= 45.3")
	assert.ErrorIs(t, err, errors.ErrConfig)

	_, err = runCLI(t, "targets", "remove", "legacy")
	require.NoError(t, err)
	stdout, err = runCLI(t, "targets", "list")
	require.NoError(t, err)
	assert.NotContains(t, stdout, "legacy")
}

func TestConfigCommand(t *testing.T) {
	setupCLI(t)

	stdout, err := runCLI(t, "--target", "android7", "config")
	require.NoError(t, err)
	assert.Contains(t, stdout, "# source: defaults")
	assert.Contains(t, stdout, `target = "android7"`)
	assert.Contains(t, stdout, `dex_version = ">= 35, <= 37"`)
}

func TestVersionCommand(t *testing.T) {
	setupCLI(t)

	stdout, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.Contains(t, stdout, "shrinkwrap version dev")
}
