// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads llmtransform settings from YAML and the environment.
//
// Precedence, lowest first: Default(), the YAML file, LLMTRANSFORM_*
// environment variables. Command-line flags are applied by the caller.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/llmtransform/pkg/logging"
	"github.com/AleutianAI/llmtransform/services/transform/file"
	"github.com/AleutianAI/llmtransform/services/transform/telemetry"
)

const (
	// MaxConfigSize caps the YAML file.
	MaxConfigSize = 1 << 20

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "LLMTRANSFORM_"
)

var (
	// ErrConfigTooLarge is returned when the YAML file exceeds MaxConfigSize.
	ErrConfigTooLarge = errors.New("config file exceeds size limit")

	// ErrInvalidConfig wraps validation failures.
	ErrInvalidConfig = errors.New("invalid config")
)

var configValidate = validator.New(validator.WithRequiredStructEnabled())

// ============================================================================
// Types
// ============================================================================

// Config is the full llmtransform configuration.
type Config struct {
	// WorkingDir resolves relative file paths. Empty means the process cwd.
	WorkingDir string `yaml:"working_dir"`

	// AllowedPaths are the directory roots edits may touch.
	// Empty means WorkingDir only.
	AllowedPaths []string `yaml:"allowed_paths"`

	// MaxFileSize caps the files a batch may target, in bytes.
	MaxFileSize int64 `yaml:"max_file_size" validate:"gte=0"`

	AllowUnknownLanguages bool `yaml:"allow_unknown_languages"`

	// LockDir holds advisory lock info files.
	LockDir string `yaml:"lock_dir"`

	// LockTTL bounds how long a held lock is honored by other processes.
	LockTTL time.Duration `yaml:"lock_ttl" validate:"gte=0"`

	ExecutionLog ExecutionLogConfig `yaml:"execution_log"`
	Logging      LoggingConfig      `yaml:"logging"`
	Server       ServerConfig       `yaml:"server"`
	Telemetry    telemetry.Config   `yaml:"telemetry"`
}

// ExecutionLogConfig configures the badger-backed execution log.
type ExecutionLogConfig struct {
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"in_memory"`
	Disabled bool   `yaml:"disabled"`

	// Retention expires entries after this long. Zero keeps them forever.
	Retention time.Duration `yaml:"retention" validate:"gte=0"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// ServerConfig configures the HTTP service.
type ServerConfig struct {
	Address string `yaml:"address" validate:"required"`

	// RateLimit is requests per second across all clients. Zero disables limiting.
	RateLimit float64 `yaml:"rate_limit" validate:"gte=0"`
	Burst     int     `yaml:"burst" validate:"gte=0"`
	Debug     bool    `yaml:"debug"`
}

// ============================================================================
// Defaults
// ============================================================================

// DefaultDir returns ~/.llmtransform.
func DefaultDir() string {
	return logging.ExpandPath("~/.llmtransform")
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(DefaultDir(), "config.yaml")
}

// Default returns the built-in configuration.
func Default() Config {
	dir := DefaultDir()
	return Config{
		MaxFileSize: file.DefaultMaxFileSize,
		LockDir:     filepath.Join(dir, "locks"),
		LockTTL:     5 * time.Minute,
		ExecutionLog: ExecutionLogConfig{
			Path:      filepath.Join(dir, "executions"),
			Retention: 30 * 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level: "warn",
		},
		Server: ServerConfig{
			Address:   ":8088",
			RateLimit: 20,
			Burst:     40,
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// ============================================================================
// Loading
// ============================================================================

// Load reads the configuration at path on top of Default().
//
// # Description
//
// An empty path means DefaultPath(). A missing file is not an error: the
// defaults are used. Unknown YAML keys are rejected. Environment overrides
// are applied after the file, then the result is validated.
//
// # Outputs
//
//   - Config: The merged configuration.
//   - error: Read, size, parse, env or validation failure.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath()
	}
	path = logging.ExpandPath(path)

	data, err := readLimited(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return cfg, err
	default:
		if err := decode(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	cfg.expandPaths()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func readLimited(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxConfigSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read the config file %s: %w", path, err)
	}
	if len(data) > MaxConfigSize {
		return nil, fmt.Errorf("%s: %w", path, ErrConfigTooLarge)
	}
	return data, nil
}

func decode(data []byte, cfg *Config) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(cfg)
}

// Save writes cfg as YAML to path, creating parent directories.
func Save(path string, cfg Config) error {
	path = logging.ExpandPath(path)
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

// ============================================================================
// Environment Overrides
// ============================================================================

type lookupFunc func(string) (string, bool)

// applyEnv overlays LLMTRANSFORM_* variables.
func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = b
		return nil
	}

	str("WORKING_DIR", &c.WorkingDir)
	str("LOCK_DIR", &c.LockDir)
	str("EXECUTION_LOG", &c.ExecutionLog.Path)
	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_DIR", &c.Logging.Dir)
	str("SERVER_ADDR", &c.Server.Address)

	if v, ok := lookup(EnvPrefix + "ALLOWED_PATHS"); ok && v != "" {
		c.AllowedPaths = filepath.SplitList(v)
	}
	if v, ok := lookup(EnvPrefix + "MAX_FILE_SIZE"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%sMAX_FILE_SIZE: %w", EnvPrefix, err)
		}
		c.MaxFileSize = n
	}
	if v, ok := lookup(EnvPrefix + "LOCK_TTL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sLOCK_TTL: %w", EnvPrefix, err)
		}
		c.LockTTL = d
	}

	return errors.Join(
		boolean("ALLOW_UNKNOWN_LANGUAGES", &c.AllowUnknownLanguages),
		boolean("NO_EXECUTION_LOG", &c.ExecutionLog.Disabled),
		boolean("LOG_JSON", &c.Logging.JSON),
	)
}

func (c *Config) expandPaths() {
	c.WorkingDir = logging.ExpandPath(c.WorkingDir)
	c.LockDir = logging.ExpandPath(c.LockDir)
	c.ExecutionLog.Path = logging.ExpandPath(c.ExecutionLog.Path)
	c.Logging.Dir = logging.ExpandPath(c.Logging.Dir)
	for i, p := range c.AllowedPaths {
		c.AllowedPaths[i] = logging.ExpandPath(p)
	}
}

// ============================================================================
// Validation
// ============================================================================

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			parts := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				parts = append(parts, fmt.Sprintf("%s failed %s", strings.TrimPrefix(fe.Namespace(), "Config."), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(parts, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if !c.ExecutionLog.Disabled && !c.ExecutionLog.InMemory && c.ExecutionLog.Path == "" {
		return fmt.Errorf("%w: execution_log.path is required unless in_memory or disabled", ErrInvalidConfig)
	}
	if c.Server.RateLimit > 0 && c.Server.Burst == 0 {
		return fmt.Errorf("%w: server.burst must be positive when rate_limit is set", ErrInvalidConfig)
	}
	return nil
}

// ResolveWorkingDir returns WorkingDir, falling back to the process cwd.
func (c *Config) ResolveWorkingDir() (string, error) {
	if c.WorkingDir != "" {
		return filepath.Abs(c.WorkingDir)
	}
	return os.Getwd()
}
