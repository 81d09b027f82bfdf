// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tools holds the tools a model may call and executes tool calls.
//
// Registration happens at startup. Execution never returns an error to
// the caller: every failure becomes a failed ToolResult so the model can
// see it and adapt.
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianAgent/services/orchestrator/datatypes"
	"github.com/go-playground/validator/v10"
)

// Sentinel errors for the registry and executor.
var (
	// ErrToolNotFound indicates the requested tool does not exist.
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolExecution indicates a handler failed or panicked.
	ErrToolExecution = errors.New("tool execution failed")

	// ErrInvalidTool indicates a registration failed validation.
	ErrInvalidTool = errors.New("invalid tool definition")

	// ErrDuplicateTool indicates a tool name is already registered.
	ErrDuplicateTool = errors.New("tool already registered")
)

// DefaultTimeout bounds a single handler invocation.
const DefaultTimeout = 60 * time.Second

// Handler executes a tool.
//
// Implementations receive the model-supplied input and return any value;
// the executor serializes it to text. Handlers should honor ctx.
type Handler interface {
	Execute(ctx context.Context, input map[string]any) (any, error)
}

// HandlerFunc adapts an ordinary function to Handler.
type HandlerFunc func(ctx context.Context, input map[string]any) (any, error)

// Execute calls f(ctx, input).
func (f HandlerFunc) Execute(ctx context.Context, input map[string]any) (any, error) {
	return f(ctx, input)
}

// toolNamePattern matches names every supported provider accepts.
var toolNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

var toolValidate = func() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("toolname", func(fl validator.FieldLevel) bool {
		return toolNamePattern.MatchString(fl.Field().String())
	})
	return v
}()

// capability is the immutable record stored per tool.
type capability struct {
	Name        string         `validate:"required,toolname"`
	Description string         `validate:"required"`
	InputSchema map[string]any `validate:"required"`
	Handler     Handler        `validate:"required"`
}

// Registry manages tool registration and lookup.
//
// Thread Safety:
//
//	Registry is safe for concurrent use. Register is expected to run at
//	startup, Execute may be called from many conversations at once.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]capability

	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithTimeout sets the per-call handler timeout. Non-positive values are
// ignored.
func WithTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		byName:  make(map[string]capability),
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a tool.
//
// Description:
//
//	Stores an immutable record for the tool. Names must be 1-64
//	characters of letters, digits, underscore or hyphen. A schema is
//	required; use {"type": "object"} for tools without input.
//
// Inputs:
//
//	name - Unique tool name.
//	description - What the tool does, shown to the model.
//	inputSchema - JSON Schema for the tool input.
//	handler - The implementation.
//
// Outputs:
//
//	error - ErrInvalidTool or ErrDuplicateTool, nil on success.
//
// Example:
//
//	err := registry.Register("word_count", "Counts words in text",
//	    map[string]any{
//	        "type":       "object",
//	        "properties": map[string]any{"text": map[string]any{"type": "string"}},
//	        "required":   []string{"text"},
//	    },
//	    tools.HandlerFunc(countWords))
func (r *Registry) Register(name, description string, inputSchema map[string]any, handler Handler) error {
	c := capability{Name: name, Description: description, InputSchema: inputSchema, Handler: handler}
	if err := toolValidate.Struct(c); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidTool, name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
	}
	r.byName[name] = c

	r.logger.Debug("Tool registered", slog.String("tool", name))
	return nil
}

// Has reports whether a tool is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byName[name]
	return ok
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

// FormatForProvider exports every tool definition, sorted by name.
//
// Thread Safety: This method is safe for concurrent use.
func (r *Registry) FormatForProvider() []datatypes.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]datatypes.ToolDefinition, 0, len(r.byName))
	for _, c := range r.byName {
		defs = append(defs, datatypes.ToolDefinition{
			Name:        c.Name,
			Description: c.Description,
			InputSchema: c.InputSchema,
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

func (r *Registry) get(name string) (capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byName[name]
	return c, ok
}
