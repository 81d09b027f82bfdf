// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"fmt"

	"github.com/AleutianAI/AleutianAgent/services/orchestrator/subconv"
	"github.com/go-playground/validator/v10"
)

const (
	// DefaultMaxIterations bounds provider round trips per SendMessage.
	DefaultMaxIterations = 10

	// DefaultSystemPrompt is used when no system prompt is configured.
	DefaultSystemPrompt = `You are a helpful assistant. Use the available tools when they help you
answer accurately, and answer directly when they do not. When a tool result
is a summary of a sub-conversation, rely on the summary as the tool's output.`
)

// Config controls the tool loop.
//
// # Fields
//
//   - MaxIterations: Provider round trips allowed before ToolLoopExceeded.
//   - MaxContextMessages: Sliding window size sent to the provider; 0 sends everything.
//   - MaxTokens: Per-response token cap passed to the provider; 0 uses the provider default.
//   - SystemPrompt: System prompt for every provider call.
//   - SubConversationThreshold: Estimated tokens at which a tool result is offloaded.
//   - ParallelTools: Execute the calls of one round concurrently. Results are
//     still returned in call order.
type Config struct {
	MaxIterations            int    `yaml:"max_iterations" validate:"gte=1,lte=100"`
	MaxContextMessages       int    `yaml:"max_context_messages" validate:"gte=0"`
	MaxTokens                int    `yaml:"max_tokens" validate:"gte=0"`
	SystemPrompt             string `yaml:"system_prompt"`
	SubConversationThreshold int    `yaml:"subconversation_threshold" validate:"gte=1"`
	ParallelTools            bool   `yaml:"parallel_tools"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxIterations:            DefaultMaxIterations,
		MaxContextMessages:       0,
		SystemPrompt:             DefaultSystemPrompt,
		SubConversationThreshold: subconv.DefaultThreshold,
	}
}

var configValidate = validator.New()

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}
