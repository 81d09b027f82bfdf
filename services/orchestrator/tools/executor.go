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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/AleutianAI/AleutianAgent/services/orchestrator/datatypes"
)

// PanicError reports a handler that panicked.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panicked: %v", e.Value)
}

// Execute runs a tool call and reports the outcome as a ToolResult.
//
// Description:
//
//	Never returns an error. Unknown tools, missing required input fields,
//	handler errors, handler panics and timeouts all produce a failed
//	result whose metadata carries error_type and error_message. The
//	failure is reported to the model, not to the orchestrator's caller.
//	The handler is not started when ctx is already done.
//
//	On success the handler's value is serialized to text: strings and
//	byte slices as-is, everything else as indented JSON. The Go type of
//	the value is recorded under result_type.
//
// Inputs:
//
//	ctx - Context for cancellation. A per-call timeout is applied on top.
//	call - The tool call from the provider.
//
// Outputs:
//
//	datatypes.ToolResult - Correlated with call.ID.
//
// Thread Safety: This method is safe for concurrent use.
func (r *Registry) Execute(ctx context.Context, call datatypes.ToolCall) datatypes.ToolResult {
	logger := r.logger.With(
		slog.String("tool", call.Name),
		slog.String("tool_call_id", call.ID),
	)

	c, ok := r.get(call.Name)
	if !ok {
		logger.Warn("Tool not found")
		return failure(call, datatypes.ErrorTypeToolNotFound,
			fmt.Errorf("%w: %s", ErrToolNotFound, call.Name), "")
	}

	if missing := missingRequired(c.InputSchema, call.Input); len(missing) > 0 {
		logger.Warn("Tool input missing required fields", slog.Any("missing", missing))
		return failure(call, datatypes.ErrorTypeInvalidInput,
			fmt.Errorf("missing required input: %v", missing), "")
	}

	if err := ctx.Err(); err != nil {
		logger.Debug("Tool skipped, context already done", slog.String("error", err.Error()))
		return failure(call, datatypes.ErrorTypeTimeout,
			fmt.Errorf("%w: %s not started: %v", ErrToolExecution, call.Name, err), fmt.Sprintf("%T", err))
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	value, err := invoke(ctx, c.Handler, call.Input)
	elapsed := time.Since(start)

	if err != nil {
		var result datatypes.ToolResult
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			logger.Error("Tool execution timed out", slog.Duration("timeout", r.timeout))
			result = failure(call, datatypes.ErrorTypeTimeout,
				fmt.Errorf("%w: %s after %v", ErrToolExecution, call.Name, r.timeout), fmt.Sprintf("%T", err))
		default:
			logger.Error("Tool execution failed", slog.String("error", err.Error()))
			result = failure(call, datatypes.ErrorTypeToolExecution,
				fmt.Errorf("%w: %v", ErrToolExecution, err), exceptionType(err))
		}
		result.SetMeta(datatypes.MetaDurationMs, elapsed.Milliseconds())
		return result
	}

	result := datatypes.ToolResult{
		ToolCallID: call.ID,
		Content:    serialize(value),
		Success:    true,
	}
	result.SetMeta(datatypes.MetaToolName, call.Name)
	result.SetMeta(datatypes.MetaResultType, fmt.Sprintf("%T", value))
	result.SetMeta(datatypes.MetaDurationMs, elapsed.Milliseconds())

	logger.Debug("Tool executed",
		slog.Duration("duration", elapsed),
		slog.Int("content_bytes", len(result.Content)),
	)
	return result
}

// invoke runs the handler, converting panics into errors and abandoning
// handlers that ignore ctx once it is done.
func invoke(ctx context.Context, h Handler, input map[string]any) (any, error) {
	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: &PanicError{Value: p}}
			}
		}()
		v, err := h.Execute(ctx, input)
		done <- outcome{value: v, err: err}
	}()

	select {
	case o := <-done:
		return o.value, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func failure(call datatypes.ToolCall, errorType string, err error, excType string) datatypes.ToolResult {
	result := datatypes.ToolResult{
		ToolCallID: call.ID,
		Content:    "Error: " + err.Error(),
		Success:    false,
	}
	result.SetMeta(datatypes.MetaToolName, call.Name)
	result.SetMeta(datatypes.MetaErrorType, errorType)
	result.SetMeta(datatypes.MetaErrorMessage, err.Error())
	if excType != "" {
		result.SetMeta(datatypes.MetaExceptionType, excType)
	}
	return result
}

func exceptionType(err error) string {
	var p *PanicError
	if errors.As(err, &p) {
		return "panic"
	}
	return fmt.Sprintf("%T", err)
}

// missingRequired lists the schema's required fields absent from input.
func missingRequired(schema map[string]any, input map[string]any) []string {
	var required []string
	switch v := schema["required"].(type) {
	case []string:
		required = v
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				required = append(required, s)
			}
		}
	}

	var missing []string
	for _, name := range required {
		if _, ok := input[name]; !ok {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}

func serialize(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	}
	raw, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(raw)
}
