// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command agent runs the Aleutian agent service or chats with it locally.
//
// # Usage
//
//	agent serve                         # HTTP API on :12210
//	agent chat                          # REPL on stdin
//	agent chat --conversation <id>      # continue a stored conversation
//	agent conversations list
//
// Configuration is read from --config, or ~/.aleutian/agent.yaml, which is
// created with defaults on first run. AGENT_* environment variables
// override the file.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/AleutianAI/AleutianAgent/pkg/logging"
	"github.com/AleutianAI/AleutianAgent/services/orchestrator/config"
	"github.com/spf13/cobra"
)

var (
	configPath string

	// Populated by the root PersistentPreRunE.
	cfg    config.Config
	logger *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "agent",
	Short: "Conversational agent with tool use",
	Long: `agent drives a conversation between a user, a language model and a set
of tools, offloading oversized tool output into summarized sub-conversations.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = loadConfig(configPath)
		if err != nil {
			return err
		}
		logger, err = newLogger(cfg.Logging, cmd.Name() == "chat")
		if err != nil {
			logger.Slog().Warn("logging setup incomplete", "error", err)
		}
		slog.SetDefault(logger.Slog())
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.aleutian/agent.yaml)")
	rootCmd.AddCommand(serveCmd, chatCmd, conversationsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig loads path, or the default path after creating it on first run.
func loadConfig(path string) (config.Config, error) {
	if path == "" {
		def, err := config.DefaultPath()
		if err != nil {
			return config.Config{}, err
		}
		path = def
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "First run detected, creating the config at %s\n", path)
			if err := config.WriteDefault(path); err != nil {
				return config.Config{}, err
			}
		}
	}
	return config.Load(path)
}

// newLogger builds the process logger. The chat REPL only logs warnings to
// the console so replies stay readable.
func newLogger(lc config.LoggingConfig, interactive bool) (*logging.Logger, error) {
	level, err := logging.ParseLevel(lc.Level)
	if err != nil {
		return logging.Default(), err
	}
	if interactive && level < logging.LevelWarn {
		level = logging.LevelWarn
	}
	return logging.New(logging.Config{
		Level:   level,
		LogDir:  lc.Dir,
		Service: "agent",
		JSON:    lc.JSON,
	})
}
