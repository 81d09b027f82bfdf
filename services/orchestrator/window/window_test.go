// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package window

import (
	"fmt"
	"testing"

	"github.com/AleutianAI/AleutianAgent/services/orchestrator/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func history(n int) []datatypes.Message {
	msgs := make([]datatypes.Message, n)
	for i := range msgs {
		role := datatypes.RoleUser
		if i%2 == 1 {
			role = datatypes.RoleAssistant
		}
		msgs[i] = datatypes.NewTextMessage(role, fmt.Sprintf("msg-%d", i))
	}
	return msgs
}

func TestTruncate_WithinLimitReturnsInputUnchanged(t *testing.T) {
	for _, n := range []int{0, 1, 5, 10} {
		t.Run(fmt.Sprintf("len=%d", n), func(t *testing.T) {
			msgs := history(n)

			got, truncated := Truncate(msgs, 10)

			assert.False(t, truncated)
			assert.Equal(t, msgs, got)
		})
	}
}

func TestTruncate_OverLimitKeepsLastEntriesInOrder(t *testing.T) {
	tests := []struct {
		n, max int
	}{
		{n: 11, max: 10},
		{n: 50, max: 10},
		{n: 3, max: 1},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("n=%d,max=%d", tt.n, tt.max), func(t *testing.T) {
			msgs := history(tt.n)

			got, truncated := Truncate(msgs, tt.max)

			require.True(t, truncated)
			require.Len(t, got, tt.max)
			for i, m := range got {
				assert.Equal(t, fmt.Sprintf("msg-%d", tt.n-tt.max+i), m.Text)
			}
		})
	}
}

func TestTruncate_NonPositiveLimitDisablesWindow(t *testing.T) {
	msgs := history(25)

	got, truncated := Truncate(msgs, 0)
	assert.False(t, truncated)
	assert.Len(t, got, 25)

	got, truncated = Truncate(msgs, -1)
	assert.False(t, truncated)
	assert.Len(t, got, 25)
}

func TestInfo(t *testing.T) {
	tests := []struct {
		name string
		n    int
		max  int
		want ContextInfo
	}{
		{name: "under limit", n: 4, max: 10, want: ContextInfo{Total: 4, Limit: 10}},
		{name: "at limit", n: 10, max: 10, want: ContextInfo{Total: 10, Limit: 10}},
		{name: "over limit", n: 14, max: 10, want: ContextInfo{Total: 14, Limit: 10, WouldTruncate: true, Dropped: 4}},
		{name: "unlimited", n: 14, max: 0, want: ContextInfo{Total: 14, Limit: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Info(history(tt.n), tt.max))
		})
	}
}

func TestContextInfo_Attributes(t *testing.T) {
	attrs := ContextInfo{Total: 14, Limit: 10, WouldTruncate: true, Dropped: 4}.Attributes()

	got := map[string]any{}
	for _, kv := range attrs {
		got[string(kv.Key)] = kv.Value.AsInterface()
	}
	assert.Equal(t, int64(14), got["context.total_messages"])
	assert.Equal(t, int64(10), got["context.max_messages"])
	assert.Equal(t, true, got["context.truncated"])
	assert.Equal(t, int64(4), got["context.dropped_messages"])
}
