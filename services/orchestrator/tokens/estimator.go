// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tokens approximates provider token costs for budget decisions.
//
// Counts are provider-agnostic estimates. With a BPE encoding loaded
// (cl100k_base by default) they track real tokenization closely; without
// one a characters-per-token heuristic is used.
package tokens

import (
	"encoding/json"
	"log/slog"
	"math"
	"sync"

	"github.com/AleutianAI/AleutianAgent/services/orchestrator/datatypes"
	"github.com/pkoukk/tiktoken-go"
)

const (
	// CharsPerToken approximates characters per token for English text.
	CharsPerToken = 4.0

	// MessageOverhead is the fixed per-message cost (role, separators).
	MessageOverhead = 4

	// DefaultEncoding is the BPE encoding used when one is requested.
	DefaultEncoding = "cl100k_base"
)

// Counter estimates token counts.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Counter interface {
	// CountTokens returns the approximate token count of text. Always >= 0.
	CountTokens(text string) int

	// CountMessageTokens returns the approximate wire cost of messages,
	// including MessageOverhead per message.
	CountMessageTokens(messages []datatypes.Message) int
}

// Estimator is the default Counter.
//
// Thread Safety: Estimator is safe for concurrent use.
type Estimator struct {
	mu       sync.Mutex
	encoding *tiktoken.Tiktoken
	name     string
}

// NewEstimator creates an estimator.
//
// Description:
//
//	When encoding is empty the heuristic is used. Otherwise the named BPE
//	encoding is loaded; if loading fails (for example the vocabulary cannot
//	be fetched) the estimator logs a warning and falls back to the
//	heuristic instead of failing startup.
//
// Inputs:
//
//	encoding - BPE encoding name such as "cl100k_base", or "" for heuristic.
//	logger - Logger for the fallback warning. If nil, uses slog.Default().
//
// Outputs:
//
//	*Estimator - Ready-to-use estimator. Never nil.
func NewEstimator(encoding string, logger *slog.Logger) *Estimator {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Estimator{name: "heuristic"}
	if encoding == "" {
		return e
	}

	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		logger.Warn("token encoding unavailable, using character heuristic",
			slog.String("encoding", encoding),
			slog.String("error", err.Error()),
		)
		return e
	}
	e.encoding = enc
	e.name = encoding
	return e
}

// NewHeuristicEstimator creates an estimator that never loads an encoding.
func NewHeuristicEstimator() *Estimator {
	return &Estimator{name: "heuristic"}
}

// Name returns the encoding in use, or "heuristic".
func (e *Estimator) Name() string {
	return e.name
}

// CountTokens implements Counter.
func (e *Estimator) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if e.encoding != nil {
		// tiktoken's encoder keeps an internal cache that is not safe for
		// concurrent writers.
		e.mu.Lock()
		n := len(e.encoding.Encode(text, nil, nil))
		e.mu.Unlock()
		return n
	}
	return heuristicCount(text)
}

// CountMessageTokens implements Counter.
func (e *Estimator) CountMessageTokens(messages []datatypes.Message) int {
	total := 0
	for _, msg := range messages {
		total += MessageOverhead
		if !msg.IsStructured() {
			total += e.CountTokens(msg.Text)
			continue
		}
		for _, block := range msg.Blocks {
			total += e.countBlock(block)
		}
	}
	return total
}

func (e *Estimator) countBlock(block datatypes.ContentBlock) int {
	switch block.Type {
	case datatypes.BlockText:
		return e.CountTokens(block.Text)
	case datatypes.BlockToolUse:
		n := e.CountTokens(block.Name)
		if len(block.Input) > 0 {
			if raw, err := json.Marshal(block.Input); err == nil {
				n += e.CountTokens(string(raw))
			}
		}
		return n
	case datatypes.BlockToolResult:
		return e.CountTokens(block.Content)
	default:
		return 0
	}
}

// heuristicCount rounds up so that any non-empty text costs at least one token.
func heuristicCount(text string) int {
	return int(math.Ceil(float64(len(text)) / CharsPerToken))
}

var _ Counter = (*Estimator)(nil)
