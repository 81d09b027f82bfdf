// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"errors"
	"fmt"
)

// ErrUnpairedToolUse indicates a tool_use block without a matching tool_result.
var ErrUnpairedToolUse = errors.New("tool_use without matching tool_result")

// ValidateToolPairing checks the tool_use/tool_result ordering contract.
//
// Description:
//
//	Every assistant message that carries tool_use blocks must be followed
//	immediately by a user message whose tool_result blocks reference the
//	same call ids in the same relative order. A trailing assistant message
//	with tool_use blocks is also reported, because the next provider call
//	would be sent without results.
//
// Inputs:
//
//	messages - The transcript to check.
//
// Outputs:
//
//	error - Wraps ErrUnpairedToolUse with the offending index, or nil.
func ValidateToolPairing(messages []Message) error {
	for i, msg := range messages {
		uses := msg.ToolUses()
		if msg.Role != RoleAssistant || len(uses) == 0 {
			continue
		}
		if i+1 >= len(messages) {
			return fmt.Errorf("%w: message %d has %d pending tool calls", ErrUnpairedToolUse, i, len(uses))
		}
		results := messages[i+1].ToolResults()
		if messages[i+1].Role != RoleUser || len(results) != len(uses) {
			return fmt.Errorf("%w: message %d has %d tool calls but message %d has %d results",
				ErrUnpairedToolUse, i, len(uses), i+1, len(results))
		}
		for j := range uses {
			if uses[j].ID != results[j].ToolUseID {
				return fmt.Errorf("%w: message %d position %d expected result for %q, got %q",
					ErrUnpairedToolUse, i, j, uses[j].ID, results[j].ToolUseID)
			}
		}
	}
	return nil
}
