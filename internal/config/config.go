// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/dotandev/shrinkwrap/internal/classfile"
	"github.com/dotandev/shrinkwrap/internal/dex"
	"github.com/dotandev/shrinkwrap/internal/errors"
	"github.com/dotandev/shrinkwrap/internal/logger"
	"github.com/dotandev/shrinkwrap/internal/reloc"
)

// EnvPrefix starts every environment override.
const EnvPrefix = "SHRINKWRAP_"

// Config represents the general configuration for shrinkwrap
type Config struct {
	LogLevel string `toml:"log_level"`
	LogJSON  bool   `toml:"log_json"`

	// Narrow re-encodes every instruction in its shortest form once the
	// tables are compact.
	Narrow bool `toml:"narrow"`
	// StrictLength refuses rewrites that change a code length.
	StrictLength bool `toml:"strict_length"`
	MaxPasses    int  `toml:"max_passes"`
	// Workers bounds how many containers are processed at once.
	Workers int `toml:"workers"`

	Keep      []string `toml:"keep"`
	Libraries []string `toml:"libraries"`

	// Target names a preset that fills in the version constraints.
	Target       string `toml:"target"`
	ClassVersion string `toml:"class_version"`
	DexVersion   string `toml:"dex_version"`

	HistoryPath string `toml:"history_path"`

	Telemetry   TelemetryConfig   `toml:"telemetry"`
	Daemon      DaemonConfig      `toml:"daemon"`
	CrashReport CrashReportConfig `toml:"crash_report"`

	// source is the file the configuration was read from, if any.
	source string
}

// TelemetryConfig controls trace export.
type TelemetryConfig struct {
	Enabled     bool   `toml:"enabled"`
	Endpoint    string `toml:"endpoint"`
	ServiceName string `toml:"service_name"`
}

// CrashReportConfig controls opt-in crash reporting. Nothing is sent unless
// Enabled is set and a DSN or endpoint is configured.
type CrashReportConfig struct {
	Enabled   bool   `toml:"enabled"`
	SentryDSN string `toml:"sentry_dsn"`
	Endpoint  string `toml:"endpoint"`
}

// DaemonConfig controls the JSON-RPC server.
type DaemonConfig struct {
	Port      int    `toml:"port"`
	AuthToken string `toml:"auth_token"`
}

var defaultConfig = &Config{
	LogLevel:     "info",
	Narrow:       true,
	MaxPasses:    reloc.DefaultMaxPasses,
	Workers:      runtime.NumCPU(),
	ClassVersion: classfile.DefaultVersionConstraint,
	DexVersion:   dex.DefaultVersionConstraint,
	HistoryPath:  filepath.Join(os.ExpandEnv("$HOME"), ".shrinkwrap", "history.db"),
	Telemetry: TelemetryConfig{
		Endpoint:    "http://localhost:4318",
		ServiceName: "shrinkwrap",
	},
	Daemon: DaemonConfig{Port: 8080},
}

// SearchPaths lists the configuration files Load tries, first match wins.
func SearchPaths() []string {
	return []string{
		".shrinkwrap.toml",
		filepath.Join(os.ExpandEnv("$HOME"), ".shrinkwrap.toml"),
		"/etc/shrinkwrap/config.toml",
	}
}

// Load reads the first configuration file found, applies environment
// overrides and validates the result.
func Load() (*Config, error) {
	return LoadFrom(SearchPaths()...)
}

// LoadFrom is Load with an explicit search list.
func LoadFrom(paths ...string) (*Config, error) {
	cfg := DefaultConfig()
	if err := cfg.loadFromFile(paths); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.applyTarget(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFromFile(paths []string) error {
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		return c.loadTOML(path)
	}
	return nil
}

func (c *Config) loadTOML(path string) error {
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return errors.WrapConfigError("failed to parse "+path, err)
	}
	for _, key := range md.Undecoded() {
		logger.Logger.Warn("Unknown configuration key", "file", path, "key", key.String())
	}
	c.source = path
	return nil
}

// Parse decodes a TOML document over the defaults without consulting the
// environment.
func Parse(content string) (*Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.Decode(content, cfg); err != nil {
		return nil, errors.WrapConfigError("failed to parse config", err)
	}
	if err := cfg.applyTarget(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) {
		switch strings.ToLower(os.Getenv(EnvPrefix + key)) {
		case "1", "true", "yes":
			*dst = true
		case "0", "false", "no":
			*dst = false
		}
	}
	var err error
	integer := func(key string, dst *int) {
		v := os.Getenv(EnvPrefix + key)
		if v == "" || err != nil {
			return
		}
		n, perr := strconv.Atoi(v)
		if perr != nil {
			err = errors.WrapConfigError(EnvPrefix+key+" must be an integer", perr)
			return
		}
		*dst = n
	}
	list := func(key string, dst *[]string) {
		v := os.Getenv(EnvPrefix + key)
		if v == "" {
			return
		}
		*dst = nil
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				*dst = append(*dst, s)
			}
		}
	}

	str("LOG_LEVEL", &c.LogLevel)
	boolean("LOG_JSON", &c.LogJSON)
	boolean("NARROW", &c.Narrow)
	boolean("STRICT_LENGTH", &c.StrictLength)
	integer("MAX_PASSES", &c.MaxPasses)
	integer("WORKERS", &c.Workers)
	list("KEEP", &c.Keep)
	list("LIBRARIES", &c.Libraries)
	str("TARGET", &c.Target)
	str("CLASS_VERSION", &c.ClassVersion)
	str("DEX_VERSION", &c.DexVersion)
	str("HISTORY_PATH", &c.HistoryPath)
	boolean("TELEMETRY", &c.Telemetry.Enabled)
	str("OTLP_ENDPOINT", &c.Telemetry.Endpoint)
	integer("DAEMON_PORT", &c.Daemon.Port)
	str("DAEMON_TOKEN", &c.Daemon.AuthToken)
	return err
}

// applyTarget copies the constraints of the named target preset. Explicit
// constraints that differ from the defaults are left alone.
func (c *Config) applyTarget() error {
	if c.Target == "" {
		return nil
	}
	t, err := GetTarget(c.Target)
	if err != nil {
		return err
	}
	if t.ClassVersion != "" && c.ClassVersion == defaultConfig.ClassVersion {
		c.ClassVersion = t.ClassVersion
	}
	if t.DexVersion != "" && c.DexVersion == defaultConfig.DexVersion {
		c.DexVersion = t.DexVersion
	}
	return nil
}

// Validate runs the default validators.
func (c *Config) Validate() error {
	return RunValidators(c, DefaultValidators())
}

// Source returns the file the configuration came from, or "" for defaults.
func (c *Config) Source() string { return c.source }

// RelocOptions returns the relinker options for a body of oldLength code
// units.
func (c *Config) RelocOptions(oldLength int) reloc.Options {
	return reloc.Options{
		Mode:           reloc.Strict,
		StrictLength:   c.StrictLength,
		ExpectedLength: oldLength,
		MaxPasses:      c.MaxPasses,
	}
}

func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{LogLevel: %s, Workers: %d, Keep: %d rules, Target: %q, History: %s}",
		c.LogLevel, c.Workers, len(c.Keep), c.Target, c.HistoryPath,
	)
}

// Encode renders the configuration as TOML.
func (c *Config) Encode() (string, error) {
	var b strings.Builder
	if err := toml.NewEncoder(&b).Encode(c); err != nil {
		return "", errors.WrapConfigError("failed to encode config", err)
	}
	return b.String(), nil
}

func DefaultConfig() *Config {
	cfg := *defaultConfig
	cfg.Keep = nil
	cfg.Libraries = nil
	return &cfg
}

func (c *Config) WithLogLevel(level string) *Config {
	c.LogLevel = level
	return c
}

func (c *Config) WithKeep(rules ...string) *Config {
	c.Keep = append(c.Keep, rules...)
	return c
}

func (c *Config) WithHistoryPath(path string) *Config {
	c.HistoryPath = path
	return c
}
