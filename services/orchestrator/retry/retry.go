// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retry runs provider calls with classified retries and
// exponential backoff.
//
// Configuration is an immutable value passed to every call; there is no
// package-level retry state.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrInvalidConfig indicates a retry configuration failed validation.
var ErrInvalidConfig = errors.New("invalid retry configuration")

// Config configures retry behavior with exponential backoff.
type Config struct {
	// MaxAttempts is the maximum number of attempts (including initial).
	// Default: 3
	MaxAttempts int `yaml:"max_attempts" validate:"gte=1"`

	// InitialDelay is the wait before the first retry.
	// Default: 1s
	InitialDelay time.Duration `yaml:"initial_delay" validate:"gt=0"`

	// MaxDelay caps the unjittered delay.
	// Default: 30s
	MaxDelay time.Duration `yaml:"max_delay" validate:"gtefield=InitialDelay"`

	// BackoffFactor is the multiplier applied per attempt.
	// Default: 2.0
	BackoffFactor float64 `yaml:"backoff_factor" validate:"gte=1"`

	// Jitter scales each delay by a uniform factor in [0.5, 1.5].
	// Default: true
	Jitter bool `yaml:"jitter"`
}

// DefaultConfig returns sensible defaults for provider calls.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   3,
		InitialDelay:  1 * time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
	}
}

// Validate checks if the retry configuration is valid.
func (c Config) Validate() error {
	switch {
	case c.MaxAttempts < 1:
		return fmt.Errorf("%w: max attempts %d < 1", ErrInvalidConfig, c.MaxAttempts)
	case c.InitialDelay <= 0:
		return fmt.Errorf("%w: initial delay must be positive", ErrInvalidConfig)
	case c.MaxDelay < c.InitialDelay:
		return fmt.Errorf("%w: max delay %v < initial delay %v", ErrInvalidConfig, c.MaxDelay, c.InitialDelay)
	case c.BackoffFactor < 1.0:
		return fmt.Errorf("%w: backoff factor %.2f < 1", ErrInvalidConfig, c.BackoffFactor)
	}
	return nil
}

// BaseDelay returns the unjittered delay after the given failed attempt.
//
// Inputs:
//
//	attempt - 1-based number of the attempt that just failed.
//
// Outputs:
//
//	time.Duration - min(InitialDelay * BackoffFactor^(attempt-1), MaxDelay).
func (c Config) BaseDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(c.InitialDelay) * math.Pow(c.BackoffFactor, float64(attempt-1))
	if d > float64(c.MaxDelay) || math.IsInf(d, 1) {
		return c.MaxDelay
	}
	return time.Duration(d)
}

// Delay returns the delay after the given failed attempt, applying jitter
// when enabled.
//
// Inputs:
//
//	attempt - 1-based number of the attempt that just failed.
//	rnd - Source of uniform values in [0, 1). If nil, math/rand/v2 is used.
func (c Config) Delay(attempt int, rnd func() float64) time.Duration {
	base := c.BaseDelay(attempt)
	if !c.Jitter {
		return base
	}
	if rnd == nil {
		rnd = rand.Float64
	}
	return time.Duration(float64(base) * (0.5 + rnd()))
}

// Attempt describes the outcome of one attempt, for observers.
type Attempt struct {
	Number    int
	Err       error
	WillRetry bool
	Delay     time.Duration
}

// Observer is notified after every attempt.
type Observer func(Attempt)

type options struct {
	tracer   trace.Tracer
	observer Observer
	rnd      func() float64
	name     string
}

// Option customizes a Do call.
type Option func(*options)

// WithTracer sets the tracer used for per-attempt spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithObserver registers a callback invoked after every attempt.
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithRand overrides the jitter source. Intended for tests.
func WithRand(rnd func() float64) Option {
	return func(o *options) { o.rnd = rnd }
}

// WithOperationName labels attempt spans with the retried operation.
func WithOperationName(name string) Option {
	return func(o *options) { o.name = name }
}

// Operation is a function that can be retried.
type Operation[T any] func(ctx context.Context, attempt int) (T, error)

// Do executes op with exponential backoff retry.
//
// Description:
//
//	Runs op up to cfg.MaxAttempts times. A non-retryable error (see
//	IsRetryable) is returned immediately after a single attempt. When
//	attempts are exhausted the last error is returned. Backoff sleeps
//	abort as soon as ctx is done, returning the context error.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//	cfg - Retry configuration. Invalid configs fail before any attempt.
//	op - The operation to execute.
//	opts - Optional tracer, observer and jitter source.
//
// Outputs:
//
//	T - The operation's result on success.
//	error - The last error, or ErrInvalidConfig, or the context error.
//
// Example:
//
//	resp, err := retry.Do(ctx, cfg, func(ctx context.Context, attempt int) (*llm.Response, error) {
//	    return provider.Generate(ctx, req)
//	})
func Do[T any](ctx context.Context, cfg Config, op Operation[T], opts ...Option) (T, error) {
	var zero T
	if err := cfg.Validate(); err != nil {
		return zero, err
	}

	o := options{tracer: otel.Tracer("aleutian.orchestrator.retry")}
	for _, opt := range opts {
		opt(&o)
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, fmt.Errorf("%w (last error: %v)", err, lastErr)
			}
			return zero, err
		}

		result, outcome := runAttempt(ctx, cfg, op, attempt, o)
		if o.observer != nil {
			o.observer(outcome)
		}
		if outcome.Err == nil {
			return result, nil
		}
		lastErr = outcome.Err
		if !outcome.WillRetry {
			return zero, outcome.Err
		}

		timer := time.NewTimer(outcome.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("%w (last error: %v)", ctx.Err(), lastErr)
		case <-timer.C:
		}
	}

	return zero, lastErr
}

// runAttempt executes a single attempt inside its own span.
func runAttempt[T any](ctx context.Context, cfg Config, op Operation[T], attempt int, o options) (T, Attempt) {
	spanName := "retry.attempt"
	if o.name != "" {
		spanName = o.name + ".attempt"
	}
	ctx, span := o.tracer.Start(ctx, spanName,
		trace.WithAttributes(
			attribute.Int("retry.attempt", attempt),
			attribute.Int("retry.max_attempts", cfg.MaxAttempts),
		),
	)
	defer span.End()

	result, err := op(ctx, attempt)
	if err == nil {
		span.SetAttributes(attribute.Bool("retry.will_retry", false))
		return result, Attempt{Number: attempt}
	}

	willRetry := attempt < cfg.MaxAttempts && IsRetryable(err)
	var delay time.Duration
	if willRetry {
		delay = cfg.Delay(attempt, o.rnd)
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(
		attribute.Bool("retry.will_retry", willRetry),
		attribute.Bool("retry.retryable", IsRetryable(err)),
		attribute.String("error.type", fmt.Sprintf("%T", err)),
		attribute.String("error.message", err.Error()),
		attribute.Int64("retry.delay_ms", delay.Milliseconds()),
	)
	return result, Attempt{Number: attempt, Err: err, WillRetry: willRetry, Delay: delay}
}
