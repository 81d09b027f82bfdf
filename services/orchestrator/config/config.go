// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the agent service configuration from YAML and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/AleutianAI/AleutianAgent/services/llm"
	"github.com/AleutianAI/AleutianAgent/services/orchestrator/agent"
	"github.com/AleutianAI/AleutianAgent/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianAgent/services/orchestrator/retry"
	"github.com/AleutianAI/AleutianAgent/services/orchestrator/tools"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig indicates the loaded configuration failed validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// Storage backends.
const (
	StorageMemory = "memory"
	StorageBadger = "badger"
)

// Environment variables that override the file.
const (
	EnvLLMBackend   = "AGENT_LLM_BACKEND"
	EnvModel        = "AGENT_MODEL"
	EnvPort         = "AGENT_PORT"
	EnvStorePath    = "AGENT_STORE_PATH"
	EnvLogLevel     = "AGENT_LOG_LEVEL"
	EnvOTLPEndpoint = "OTEL_EXPORTER_OTLP_ENDPOINT"
)

// Config is the complete service configuration.
type Config struct {
	Server    ServerConfig         `yaml:"server"`
	LLM       llm.Config           `yaml:"llm"`
	Agent     agent.Config         `yaml:"agent"`
	Retry     retry.Config         `yaml:"retry"`
	Tools     ToolsConfig          `yaml:"tools"`
	Tokens    TokensConfig         `yaml:"tokens"`
	Storage   StorageConfig        `yaml:"storage"`
	Telemetry observability.Config `yaml:"telemetry"`
	Logging   LoggingConfig        `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port" validate:"gte=1,lte=65535"`

	// RequestTimeout bounds one SendMessage call, including every tool
	// round and provider retry.
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"gt=0"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ToolsConfig configures tool execution.
type ToolsConfig struct {
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
}

// TokensConfig selects the token estimator.
type TokensConfig struct {
	// Encoding is a tiktoken encoding such as "cl100k_base". Empty uses
	// the chars/4 heuristic.
	Encoding string `yaml:"encoding"`
}

// StorageConfig selects the conversation store.
type StorageConfig struct {
	Backend string `yaml:"backend" validate:"oneof=memory badger"`
	Path    string `yaml:"path" validate:"required_if=Backend badger"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `yaml:"json"`
	Dir   string `yaml:"dir"`
}

// DefaultConfig returns a configuration that runs locally against Ollama
// with in-memory storage.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            12210,
			RequestTimeout:  5 * time.Minute,
			ShutdownTimeout: 15 * time.Second,
		},
		LLM: llm.Config{
			Backend:   llm.BackendOllama,
			MaxTokens: llm.DefaultMaxTokens,
		},
		Agent:     agent.DefaultConfig(),
		Retry:     retry.DefaultConfig(),
		Tools:     ToolsConfig{Timeout: tools.DefaultTimeout},
		Storage:   StorageConfig{Backend: StorageMemory},
		Telemetry: observability.DefaultConfig(),
		Logging:   LoggingConfig{Level: "info"},
	}
}

// DefaultPath returns ~/.aleutian/agent.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".aleutian", "agent.yaml"), nil
}

// Load reads path over the defaults, applies environment overrides and
// validates the result.
//
// Description:
//
//	An empty path skips the file. A missing file is an error; use
//	WriteDefault to create one. Fields absent from the file keep their
//	default values.
//
// Outputs:
//
//	Config - The effective configuration.
//	error - Read, parse or ErrInvalidConfig validation failures.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read the config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse the config file %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// WriteDefault writes the default configuration to path, creating parent
// directories.
func WriteDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvLLMBackend); ok && v != "" {
		c.LLM.Backend = v
	}
	if v, ok := lookup(EnvModel); ok && v != "" {
		c.LLM.Model = v
	}
	if v, ok := lookup(EnvPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a port", ErrInvalidConfig, EnvPort, v)
		}
		c.Server.Port = port
	}
	if v, ok := lookup(EnvStorePath); ok && v != "" {
		c.Storage.Backend = StorageBadger
		c.Storage.Path = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := lookup(EnvOTLPEndpoint); ok && v != "" {
		c.Telemetry.OTLPEndpoint = v
		c.Telemetry.TraceExporter = observability.ExporterOTLP
	}
	return nil
}

var validate = validator.New()

// Validate checks every section.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}
