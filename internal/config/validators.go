// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-version"

	"github.com/dotandev/shrinkwrap/internal/errors"
	"github.com/dotandev/shrinkwrap/internal/shrink"
)

// Validator validates a specific aspect of the configuration.
type Validator interface {
	Validate(cfg *Config) error
}

// LogLevelValidator checks that the log level is a known value.
type LogLevelValidator struct{}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func (v LogLevelValidator) Validate(cfg *Config) error {
	if cfg.LogLevel == "" {
		return nil
	}
	if !validLogLevels[strings.ToLower(cfg.LogLevel)] {
		return errors.WrapConfigError("log_level must be one of: debug, info, warn, error", nil)
	}
	return nil
}

// ConstraintValidator checks that both version constraints parse.
type ConstraintValidator struct{}

func (v ConstraintValidator) Validate(cfg *Config) error {
	for _, c := range [][2]string{{"class_version", cfg.ClassVersion}, {"dex_version", cfg.DexVersion}} {
		if c[1] == "" {
			continue
		}
		if _, err := version.NewConstraint(c[1]); err != nil {
			return errors.WrapConfigError(c[0]+" is not a version constraint", err)
		}
	}
	return nil
}

// RelinkValidator checks the relinker and worker limits.
type RelinkValidator struct{}

func (v RelinkValidator) Validate(cfg *Config) error {
	if cfg.MaxPasses < 1 {
		return errors.WrapConfigError("max_passes must be at least 1", nil)
	}
	if cfg.Workers < 1 {
		return errors.WrapConfigError("workers must be at least 1", nil)
	}
	return nil
}

// KeepValidator checks that every keep rule parses.
type KeepValidator struct{}

func (v KeepValidator) Validate(cfg *Config) error {
	for i, rule := range cfg.Keep {
		if _, err := shrink.ParseKeepRule(rule); err != nil {
			return errors.WrapConfigError(fmt.Sprintf("keep[%d]", i), err)
		}
	}
	return nil
}

// DaemonValidator checks the server settings.
type DaemonValidator struct{}

func (v DaemonValidator) Validate(cfg *Config) error {
	if cfg.Daemon.Port < 0 || cfg.Daemon.Port > 65535 {
		return errors.WrapConfigError(fmt.Sprintf("daemon.port %d out of range", cfg.Daemon.Port), nil)
	}
	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint == "" {
		return errors.WrapConfigError("telemetry.endpoint cannot be empty when telemetry is enabled", nil)
	}
	return nil
}

// DefaultValidators returns the standard set of validators.
func DefaultValidators() []Validator {
	return []Validator{
		LogLevelValidator{},
		ConstraintValidator{},
		RelinkValidator{},
		KeepValidator{},
		DaemonValidator{},
	}
}

// RunValidators executes each validator against the config, returning the
// first error encountered.
func RunValidators(cfg *Config, validators []Validator) error {
	for _, v := range validators {
		if err := v.Validate(cfg); err != nil {
			return err
		}
	}
	return nil
}
