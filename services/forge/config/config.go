// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the forge YAML configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	forge "github.com/AleutianAI/AleutianForge/services/forge"
	"github.com/AleutianAI/AleutianForge/services/forge/advisor"
	"github.com/AleutianAI/AleutianForge/services/forge/editor"
	"github.com/AleutianAI/AleutianForge/services/forge/project"
	"github.com/AleutianAI/AleutianForge/services/forge/syntax"
	"github.com/AleutianAI/AleutianForge/services/forge/validate"
)

// DefaultPath is ~/.aleutian/forge.yaml, or forge.yaml when the home
// directory is unknown.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "forge.yaml"
	}
	return filepath.Join(home, ".aleutian", "forge.yaml")
}

// Config is the forge configuration file.
type Config struct {
	// StateDir holds per-project backups and undo logs.
	StateDir string `yaml:"state_dir" validate:"required"`

	Backup BackupConfig `yaml:"backup"`
	Edit   EditConfig   `yaml:"edit"`

	// FormatTimeout bounds one formatter run. A timeout keeps the
	// unformatted content.
	FormatTimeout time.Duration `yaml:"format_timeout" validate:"gte=0"`

	// ValidateTimeout bounds one validator run.
	ValidateTimeout time.Duration `yaml:"validate_timeout" validate:"gte=0"`

	// Formatters maps a language tag to an external formatter command.
	Formatters map[string]FormatterConfig `yaml:"formatters,omitempty" validate:"dive,keys,language,endkeys"`

	Graph     GraphConfig     `yaml:"graph"`
	Advisor   AdvisorConfig   `yaml:"advisor"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// BackupConfig controls backup retention.
type BackupConfig struct {
	// Retention is the number of unpinned backups kept per file.
	Retention int `yaml:"retention" validate:"gte=1,lte=1000"`
}

// EditConfig holds the default edit options.
type EditConfig struct {
	Validate     bool `yaml:"validate"`
	CreateBackup bool `yaml:"create_backup"`
	Format       bool `yaml:"format"`
}

// FormatterConfig is an external formatter reading stdin and writing stdout.
type FormatterConfig struct {
	Command string   `yaml:"command" validate:"required"`
	Args    []string `yaml:"args"`
}

// GraphConfig locates the knowledge graph.
type GraphConfig struct {
	// Snapshot is a graph JSON export. Relative paths resolve against the
	// project root. Empty disables refactor operations.
	Snapshot string `yaml:"snapshot"`
}

// AdvisorConfig configures preview commentary.
type AdvisorConfig struct {
	Enabled bool   `yaml:"enabled"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`

	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv         string        `yaml:"api_key_env" validate:"required_if=Enabled true"`
	Timeout           time.Duration `yaml:"timeout" validate:"gte=0"`
	RequestsPerMinute int           `yaml:"requests_per_minute" validate:"gte=0"`
}

// ServerConfig configures forge serve.
type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required,hostname_port"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`

	// Dir enables a JSON log file per day. Empty logs to stderr only.
	Dir  string `yaml:"dir"`
	JSON bool   `yaml:"json"`
}

// TelemetryConfig configures OpenTelemetry.
type TelemetryConfig struct {
	Enabled        bool   `yaml:"enabled"`
	ServiceName    string `yaml:"service_name"`
	TraceExporter  string `yaml:"trace_exporter" validate:"omitempty,oneof=none stdout otlp"`
	MetricExporter string `yaml:"metric_exporter" validate:"omitempty,oneof=none stdout prometheus"`
	OTLPEndpoint   string `yaml:"otlp_endpoint" validate:"required_if=TraceExporter otlp"`
}

// Default returns the built-in configuration.
func Default() *Config {
	opts := editor.DefaultOptions()
	return &Config{
		StateDir:        project.DefaultStateDir(),
		Backup:          BackupConfig{Retention: forge.DefaultRetention},
		Edit:            EditConfig{Validate: opts.Validate, CreateBackup: opts.CreateBackup, Format: opts.Format},
		FormatTimeout:   validate.DefaultFormatTimeout,
		ValidateTimeout: editor.DefaultValidateTimeout,
		Advisor: AdvisorConfig{
			Model:     advisor.DefaultModel,
			APIKeyEnv: "OPENAI_API_KEY",
			Timeout:   advisor.DefaultTimeout,
		},
		Server:  ServerConfig{Addr: "localhost:12217"},
		Logging: LoggingConfig{Level: "info"},
		Telemetry: TelemetryConfig{
			ServiceName:    "aleutian-forge",
			TraceExporter:  "none",
			MetricExporter: "prometheus",
		},
	}
}

var structValidator = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("language", func(fl validator.FieldLevel) bool {
		_, ok := syntax.Grammar(fl.Field().String())
		return ok
	})
	return v
}

// Load reads path on top of Default. A missing file yields the defaults.
//
// # Outputs
//
//   - *Config: Validated configuration.
//   - error: Unreadable file, unknown keys, or validation failure.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, cfg.Validate()
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := cfg.decode(data); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML on top of Default and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(data); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) decode(data []byte) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return err
	}
	c.StateDir = expandHome(c.StateDir)
	c.Logging.Dir = expandHome(c.Logging.Dir)
	return nil
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

// Validate checks struct constraints.
func (c *Config) Validate() error {
	if err := structValidator.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, len(verrs))
			for i, fe := range verrs {
				msgs[i] = fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag())
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Save writes c as YAML, creating the parent directory.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// EditOptions returns the default edit options.
func (c *Config) EditOptions() editor.Options {
	return editor.Options{Validate: c.Edit.Validate, CreateBackup: c.Edit.CreateBackup, Format: c.Edit.Format}
}

// Registry returns the default registry plus the configured formatters.
func (c *Config) Registry() *validate.Registry {
	r := validate.DefaultRegistry()
	for lang, f := range c.Formatters {
		r.RegisterFormatter(&validate.CommandFormatter{
			Lang:    lang,
			Command: f.Command,
			Args:    f.Args,
			Timeout: c.FormatTimeout,
		})
	}
	return r
}

// NewAdvisor builds the commentary provider. It returns nil, nil when the
// advisor is disabled.
func (c *Config) NewAdvisor(logger *slog.Logger) (advisor.Provider, error) {
	if !c.Advisor.Enabled {
		return nil, nil
	}
	key := os.Getenv(c.Advisor.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("advisor enabled but %s is not set", c.Advisor.APIKeyEnv)
	}
	return advisor.NewOpenAI(advisor.OpenAIConfig{
		APIKey:            key,
		BaseURL:           c.Advisor.BaseURL,
		Model:             c.Advisor.Model,
		Timeout:           c.Advisor.Timeout,
		RequestsPerMinute: c.Advisor.RequestsPerMinute,
		Logger:            logger,
	})
}

// ServiceConfig builds the forge service configuration. An advisor that
// cannot be built is logged and left out.
func (c *Config) ServiceConfig(logger *slog.Logger) forge.ServiceConfig {
	if logger == nil {
		logger = slog.Default()
	}
	sc := forge.ServiceConfig{
		StateDir:        c.StateDir,
		Retention:       c.Backup.Retention,
		Defaults:        c.EditOptions(),
		Registry:        c.Registry(),
		ValidateTimeout: c.ValidateTimeout,
		FormatTimeout:   c.FormatTimeout,
		TracingEnabled:  c.Telemetry.Enabled && c.Telemetry.TraceExporter != "none",
		Logger:          logger,
	}
	if c.Graph.Snapshot != "" {
		sc.Graphs = forge.SnapshotLoader(c.Graph.Snapshot)
	}
	adv, err := c.NewAdvisor(logger)
	if err != nil {
		logger.Warn("advisor disabled", slog.String("error", err.Error()))
	} else if adv != nil {
		sc.Advisor = adv
	}
	return sc
}
