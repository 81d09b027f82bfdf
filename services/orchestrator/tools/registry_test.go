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
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianAgent/services/orchestrator/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var objectSchema = map[string]any{"type": "object"}

func echoHandler() Handler {
	return HandlerFunc(func(ctx context.Context, input map[string]any) (any, error) {
		return input["text"], nil
	})
}

func TestRegister(t *testing.T) {
	tests := []struct {
		name    string
		tool    string
		desc    string
		schema  map[string]any
		handler Handler
		wantErr error
	}{
		{name: "valid tool", tool: "echo", desc: "echoes", schema: objectSchema, handler: echoHandler()},
		{name: "empty name", tool: "", desc: "echoes", schema: objectSchema, handler: echoHandler(), wantErr: ErrInvalidTool},
		{name: "name with spaces", tool: "echo tool", desc: "echoes", schema: objectSchema, handler: echoHandler(), wantErr: ErrInvalidTool},
		{name: "name too long", tool: strings.Repeat("a", 65), desc: "echoes", schema: objectSchema, handler: echoHandler(), wantErr: ErrInvalidTool},
		{name: "missing description", tool: "echo", schema: objectSchema, handler: echoHandler(), wantErr: ErrInvalidTool},
		{name: "missing schema", tool: "echo", desc: "echoes", handler: echoHandler(), wantErr: ErrInvalidTool},
		{name: "missing handler", tool: "echo", desc: "echoes", schema: objectSchema, wantErr: ErrInvalidTool},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()

			err := r.Register(tt.tool, tt.desc, tt.schema, tt.handler)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, 0, r.Len())
				return
			}
			require.NoError(t, err)
			assert.True(t, r.Has(tt.tool))
		})
	}
}

func TestRegister_DuplicateNameRejected(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("echo", "echoes", objectSchema, echoHandler()))

	err := r.Register("echo", "again", objectSchema, echoHandler())

	assert.ErrorIs(t, err, ErrDuplicateTool)
	assert.Equal(t, 1, r.Len())
}

func TestFormatForProvider_SortedByName(t *testing.T) {
	r := NewRegistry()
	schema := map[string]any{"type": "object", "required": []string{"q"}}
	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, r.Register(name, "does "+name, schema, echoHandler()))
	}

	defs := r.FormatForProvider()

	require.Len(t, defs, 3)
	assert.Equal(t, "alpha", defs[0].Name)
	assert.Equal(t, "mid", defs[1].Name)
	assert.Equal(t, "zeta", defs[2].Name)
	assert.Equal(t, "does alpha", defs[0].Description)
	assert.Equal(t, schema, defs[0].InputSchema)
}

func TestFormatForProvider_EmptyRegistry(t *testing.T) {
	assert.Empty(t, NewRegistry().FormatForProvider())
}

func TestExecute_UnknownToolReturnsFailedResult(t *testing.T) {
	r := NewRegistry()

	result := r.Execute(context.Background(), datatypes.ToolCall{ID: "call_1", Name: "missing"})

	assert.False(t, result.Success)
	assert.Equal(t, "call_1", result.ToolCallID)
	assert.Equal(t, datatypes.ErrorTypeToolNotFound, result.Metadata[datatypes.MetaErrorType])
	assert.Contains(t, result.Content, "missing")
}

func TestExecute_MissingRequiredInput(t *testing.T) {
	r := NewRegistry()
	called := false
	schema := map[string]any{"type": "object", "required": []any{"text", "lang"}}
	require.NoError(t, r.Register("translate", "translates", schema, HandlerFunc(
		func(ctx context.Context, input map[string]any) (any, error) {
			called = true
			return "ok", nil
		})))

	result := r.Execute(context.Background(), datatypes.ToolCall{
		ID: "call_1", Name: "translate", Input: map[string]any{"text": "hi"},
	})

	assert.False(t, called)
	assert.False(t, result.Success)
	assert.Equal(t, datatypes.ErrorTypeInvalidInput, result.Metadata[datatypes.MetaErrorType])
	assert.Contains(t, result.Metadata[datatypes.MetaErrorMessage], "lang")
}

type lookupError struct{ key string }

func (e *lookupError) Error() string { return "no entry for " + e.key }

func TestExecute_HandlerErrorBecomesFailedResult(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("lookup", "looks up", objectSchema, HandlerFunc(
		func(ctx context.Context, input map[string]any) (any, error) {
			return nil, &lookupError{key: "PROJ-1"}
		})))

	result := r.Execute(context.Background(), datatypes.ToolCall{ID: "call_1", Name: "lookup"})

	assert.False(t, result.Success)
	assert.Equal(t, datatypes.ErrorTypeToolExecution, result.Metadata[datatypes.MetaErrorType])
	assert.Equal(t, "*tools.lookupError", result.Metadata[datatypes.MetaExceptionType])
	assert.Contains(t, result.Metadata[datatypes.MetaErrorMessage], "no entry for PROJ-1")
	assert.True(t, strings.HasPrefix(result.Content, "Error: "))
}

func TestExecute_HandlerPanicIsRecovered(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("boom", "panics", objectSchema, HandlerFunc(
		func(ctx context.Context, input map[string]any) (any, error) {
			panic("kaboom")
		})))

	result := r.Execute(context.Background(), datatypes.ToolCall{ID: "call_1", Name: "boom"})

	assert.False(t, result.Success)
	assert.Equal(t, datatypes.ErrorTypeToolExecution, result.Metadata[datatypes.MetaErrorType])
	assert.Equal(t, "panic", result.Metadata[datatypes.MetaExceptionType])
	assert.Contains(t, result.Content, "kaboom")
}

func TestExecute_Timeout(t *testing.T) {
	r := NewRegistry(WithTimeout(20 * time.Millisecond))
	release := make(chan struct{})
	defer close(release)
	require.NoError(t, r.Register("slow", "never returns", objectSchema, HandlerFunc(
		func(ctx context.Context, input map[string]any) (any, error) {
			<-release
			return "late", nil
		})))

	start := time.Now()
	result := r.Execute(context.Background(), datatypes.ToolCall{ID: "call_1", Name: "slow"})

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.False(t, result.Success)
	assert.Equal(t, datatypes.ErrorTypeTimeout, result.Metadata[datatypes.MetaErrorType])
}

func TestExecute_DoneContextSkipsHandler(t *testing.T) {
	r := NewRegistry()
	called := false
	require.NoError(t, r.Register("write", "side effect", objectSchema, HandlerFunc(
		func(ctx context.Context, input map[string]any) (any, error) {
			called = true
			return "written", nil
		})))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := r.Execute(ctx, datatypes.ToolCall{ID: "call_1", Name: "write"})

	assert.False(t, called)
	assert.False(t, result.Success)
	assert.Equal(t, "call_1", result.ToolCallID)
	assert.Equal(t, datatypes.ErrorTypeTimeout, result.Metadata[datatypes.MetaErrorType])
	assert.Contains(t, result.Content, "not started")
}

func TestExecute_SerializesResults(t *testing.T) {
	tests := []struct {
		name     string
		value    any
		want     string
		wantType string
	}{
		{name: "string as-is", value: "plain text", want: "plain text", wantType: "string"},
		{name: "bytes as string", value: []byte("raw"), want: "raw", wantType: "[]uint8"},
		{name: "map as indented JSON", value: map[string]any{"count": 3}, want: "{\n  \"count\": 3\n}", wantType: "map[string]interface {}"},
		{name: "slice as JSON", value: []int{1, 2}, want: "[\n  1,\n  2\n]", wantType: "[]int"},
		{name: "nil as empty", value: nil, want: "", wantType: "<nil>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			value := tt.value
			require.NoError(t, r.Register("tool", "returns a value", objectSchema, HandlerFunc(
				func(ctx context.Context, input map[string]any) (any, error) {
					return value, nil
				})))

			result := r.Execute(context.Background(), datatypes.ToolCall{ID: "call_1", Name: "tool"})

			require.True(t, result.Success)
			assert.Equal(t, "call_1", result.ToolCallID)
			assert.Equal(t, tt.want, result.Content)
			assert.Equal(t, tt.wantType, result.Metadata[datatypes.MetaResultType])
		})
	}
}

func TestExecute_ConcurrentCalls(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("echo", "echoes", objectSchema, echoHandler()))

	var wg sync.WaitGroup
	results := make([]datatypes.ToolResult, 50)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.Execute(context.Background(), datatypes.ToolCall{
				ID:    fmt.Sprintf("call_%d", i),
				Name:  "echo",
				Input: map[string]any{"text": fmt.Sprintf("v%d", i)},
			})
		}(i)
	}
	wg.Wait()

	for i, res := range results {
		assert.True(t, res.Success)
		assert.Equal(t, fmt.Sprintf("call_%d", i), res.ToolCallID)
		assert.Equal(t, fmt.Sprintf("v%d", i), res.Content)
	}
}

func TestPanicError(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &PanicError{Value: "x"})
	var p *PanicError
	require.True(t, errors.As(err, &p))
	assert.Equal(t, "handler panicked: x", p.Error())
}
