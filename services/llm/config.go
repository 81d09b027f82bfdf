// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Supported backends.
const (
	BackendAnthropic = "anthropic"
	BackendOpenAI    = "openai"
	BackendOllama    = "ollama"
	BackendLangChain = "langchain"
)

// DefaultMaxTokens is used when neither the request nor the config sets one.
const DefaultMaxTokens = 4096

// secretsDir is where container runtimes mount secrets.
var secretsDir = "/run/secrets"

// Config selects and configures a backend.
type Config struct {
	// Backend is one of anthropic, openai, ollama, langchain.
	Backend string `yaml:"backend" validate:"required,oneof=anthropic openai ollama langchain"`

	// Model overrides the backend's default model.
	Model string `yaml:"model"`

	// BaseURL overrides the backend endpoint.
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`

	// APIKey is never read from YAML; use the environment or secrets.
	APIKey string `yaml:"-"`

	// MaxTokens is the default response budget.
	MaxTokens int `yaml:"max_tokens" validate:"gte=0"`

	// Timeout bounds one HTTP round trip. Zero uses the backend default.
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`

	// RequestsPerSecond enables client-side rate limiting when > 0.
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gte=0"`

	// Burst is the limiter bucket size. Defaults to 1.
	Burst int `yaml:"burst" validate:"gte=0"`
}

func (c Config) maxTokens() int {
	if c.MaxTokens > 0 {
		return c.MaxTokens
	}
	return DefaultMaxTokens
}

func (c Config) timeout(def time.Duration) time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return def
}

// New builds the configured provider, rate limited when requested.
//
// Inputs:
//
//	cfg - Backend configuration.
//	logger - Logger. If nil, uses slog.Default().
//
// Outputs:
//
//	Provider - The adapter, possibly wrapped by RateLimited.
//	error - ErrUnknownBackend or the adapter's constructor error.
func New(cfg Config, logger *slog.Logger) (Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		p   Provider
		err error
	)
	switch strings.ToLower(cfg.Backend) {
	case BackendAnthropic:
		p, err = NewAnthropicProvider(cfg, logger)
	case BackendOpenAI:
		p, err = NewOpenAIProvider(cfg, logger)
	case BackendOllama:
		p, err = NewOllamaProvider(cfg, logger)
	case BackendLangChain:
		p, err = NewLangChainOllamaProvider(cfg, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	if cfg.RequestsPerSecond > 0 {
		p = NewRateLimited(p, cfg.RequestsPerSecond, cfg.Burst)
	}
	return p, nil
}

// resolveAPIKey returns the first non-empty of explicit, the environment
// variable, and the named container secret.
func resolveAPIKey(explicit, envVar, secretName string, logger *slog.Logger) string {
	if explicit != "" {
		return explicit
	}
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	content, err := os.ReadFile(filepath.Join(secretsDir, secretName))
	if err != nil {
		return ""
	}
	logger.Info("Read API key from container secrets", slog.String("secret", secretName))
	return strings.TrimSpace(string(content))
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
