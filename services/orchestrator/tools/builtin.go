// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Built-in tool names.
const (
	ToolCurrentTime = "current_time"
	ToolWordCount   = "word_count"
)

// RegisterBuiltins adds the general-purpose tools every deployment ships
// with. now may be nil to use time.Now.
func RegisterBuiltins(r *Registry, now func() time.Time) error {
	if now == nil {
		now = time.Now
	}

	err := r.Register(ToolCurrentTime,
		"Returns the current date and time. Optionally converts to an IANA time zone such as \"Europe/Paris\".",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"timezone": map[string]any{
					"type":        "string",
					"description": "IANA time zone name. Defaults to UTC.",
				},
			},
		},
		HandlerFunc(func(_ context.Context, input map[string]any) (any, error) {
			loc := time.UTC
			if tz, ok := input["timezone"].(string); ok && tz != "" {
				l, err := time.LoadLocation(tz)
				if err != nil {
					return nil, fmt.Errorf("unknown timezone %q", tz)
				}
				loc = l
			}
			t := now().In(loc)
			return map[string]any{
				"time":     t.Format(time.RFC3339),
				"weekday":  t.Weekday().String(),
				"timezone": loc.String(),
			}, nil
		}))
	if err != nil {
		return err
	}

	return r.Register(ToolWordCount,
		"Counts the words, lines and characters of a text.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string", "description": "The text to measure."},
			},
			"required": []any{"text"},
		},
		HandlerFunc(func(_ context.Context, input map[string]any) (any, error) {
			text, ok := input["text"].(string)
			if !ok {
				return nil, fmt.Errorf("text must be a string, got %T", input["text"])
			}
			lines := 0
			if text != "" {
				lines = strings.Count(text, "\n") + 1
			}
			return map[string]any{
				"words":      len(strings.Fields(text)),
				"lines":      lines,
				"characters": utf8.RuneCountInString(text),
			}, nil
		}))
}
