// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"

	"github.com/dotandev/shrinkwrap/internal/errors"
)

// Target is a named pair of version constraints for a runtime platform.
type Target struct {
	Name         string `toml:"-"`
	ClassVersion string `toml:"class_version,omitempty"`
	DexVersion   string `toml:"dex_version,omitempty"`
}

var builtinTargets = map[string]Target{
	"java8":      {ClassVersion: ">= 45.3, <= 52"},
	"java11":     {ClassVersion: ">= 45.3, <= 55"},
	"java17":     {ClassVersion: ">= 45.3, <= 61"},
	"java21":     {ClassVersion: ">= 45.3, <= 65"},
	"android5":   {DexVersion: "= 35"},
	"android7":   {DexVersion: ">= 35, <= 37"},
	"android8":   {DexVersion: ">= 35, <= 38"},
	"android9":   {DexVersion: ">= 35, <= 39"},
	"standalone": {},
}

// CustomTargetConfig is the on-disk list of user targets.
type CustomTargetConfig struct {
	Targets map[string]Target `toml:"targets"`
}

// GetConfigPath returns the path to the shrinkwrap configuration directory
func GetConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".shrinkwrap"), nil
}

// GetTargetConfigPath returns the path to the custom target file
func GetTargetConfigPath() (string, error) {
	configDir, err := GetConfigPath()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "targets.toml"), nil
}

// LoadCustomTargets loads custom targets from disk
func LoadCustomTargets() (*CustomTargetConfig, error) {
	configPath, err := GetTargetConfigPath()
	if err != nil {
		return nil, err
	}

	cfg := &CustomTargetConfig{}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg.Targets = make(map[string]Target)
		return cfg, nil
	}
	if _, err := toml.DecodeFile(configPath, cfg); err != nil {
		return nil, errors.WrapConfigError("failed to parse "+configPath, err)
	}
	if cfg.Targets == nil {
		cfg.Targets = make(map[string]Target)
	}
	return cfg, nil
}

// SaveCustomTargets saves custom targets to disk
func SaveCustomTargets(cfg *CustomTargetConfig) error {
	configPath, err := GetTargetConfigPath()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0700); err != nil {
		return errors.WrapConfigError("failed to create config directory", err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return errors.WrapConfigError("failed to encode targets", err)
	}
	if err := os.WriteFile(configPath, buf.Bytes(), 0600); err != nil {
		return errors.WrapConfigError("failed to write targets", err)
	}
	return nil
}

// AddCustomTarget adds or updates a custom target. Built-in names cannot be
// redefined.
func AddCustomTarget(t Target) error {
	if _, ok := builtinTargets[t.Name]; ok {
		return errors.WrapConfigError(fmt.Sprintf("target %q is built in", t.Name), nil)
	}
	if err := (ConstraintValidator{}).Validate(&Config{ClassVersion: t.ClassVersion, DexVersion: t.DexVersion}); err != nil {
		return err
	}
	targets, err := LoadCustomTargets()
	if err != nil {
		return err
	}
	targets.Targets[t.Name] = t
	return SaveCustomTargets(targets)
}

// GetTarget resolves a built-in or custom target by name.
func GetTarget(name string) (Target, error) {
	if t, ok := builtinTargets[name]; ok {
		t.Name = name
		return t, nil
	}
	targets, err := LoadCustomTargets()
	if err != nil {
		return Target{}, err
	}
	t, ok := targets.Targets[name]
	if !ok {
		return Target{}, errors.WrapConfigError(fmt.Sprintf("unknown target %q", name), nil)
	}
	t.Name = name
	return t, nil
}

// ListTargets returns every known target name, sorted.
func ListTargets() ([]string, error) {
	targets, err := LoadCustomTargets()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(builtinTargets)+len(targets.Targets))
	for name := range builtinTargets {
		names = append(names, name)
	}
	for name := range targets.Targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// RemoveCustomTarget removes a custom target
func RemoveCustomTarget(name string) error {
	targets, err := LoadCustomTargets()
	if err != nil {
		return err
	}
	if _, ok := targets.Targets[name]; !ok {
		return errors.WrapConfigError(fmt.Sprintf("custom target %q not found", name), nil)
	}
	delete(targets.Targets, name)
	return SaveCustomTargets(targets)
}
