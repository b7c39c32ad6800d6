// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotandev/shrinkwrap/internal/errors"
)

func TestCustomTargets(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)

	require.NoError(t, AddCustomTarget(Target{Name: "device", DexVersion: "= 37"}))

	got, err := GetTarget("device")
	require.NoError(t, err)
	assert.Equal(t, Target{Name: "device", DexVersion: "= 37"}, got)

	info, err := os.Stat(filepath.Join(home, ".shrinkwrap", "targets.toml"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	names, err := ListTargets()
	require.NoError(t, err)
	assert.Contains(t, names, "device")
	assert.Contains(t, names, "java8")

	require.NoError(t, RemoveCustomTarget("device"))
	_, err = GetTarget("device")
	assert.ErrorIs(t, err, errors.ErrConfig)
	assert.ErrorIs(t, RemoveCustomTarget("device"), errors.ErrConfig)
}

func TestCustomTargetValidation(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	assert.ErrorIs(t, AddCustomTarget(Target{Name: "java8"}), errors.ErrConfig)
	assert.ErrorIs(t, AddCustomTarget(Target{Name: "odd", ClassVersion: "soon"}), errors.ErrConfig)
}

func TestBuiltinTargetsParse(t *testing.T) {
	for name, target := range builtinTargets {
		cfg := &Config{ClassVersion: target.ClassVersion, DexVersion: target.DexVersion}
		assert.NoError(t, ConstraintValidator{}.Validate(cfg), name)
	}
}
