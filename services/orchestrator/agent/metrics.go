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
	"context"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianAgent/services/orchestrator/retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("aleutian.orchestrator.agent")

// Metrics for the tool loop.
var (
	sendDuration     metric.Float64Histogram
	sendTotal        metric.Int64Counter
	iterationsPerRun metric.Int64Histogram
	toolCallsTotal   metric.Int64Counter
	offloadsTotal    metric.Int64Counter
	providerAttempts metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		sendDuration, err = meter.Float64Histogram(
			"agent_send_message_duration_seconds",
			metric.WithDescription("Duration of SendMessage calls"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		sendTotal, err = meter.Int64Counter(
			"agent_send_message_total",
			metric.WithDescription("Total SendMessage calls by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		iterationsPerRun, err = meter.Int64Histogram(
			"agent_iterations",
			metric.WithDescription("Provider round trips per SendMessage"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		toolCallsTotal, err = meter.Int64Counter(
			"agent_tool_calls_total",
			metric.WithDescription("Total tool executions by tool and success"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		offloadsTotal, err = meter.Int64Counter(
			"agent_subconversations_total",
			metric.WithDescription("Total tool results offloaded to sub-conversations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		providerAttempts, err = meter.Int64Counter(
			"agent_provider_attempts_total",
			metric.WithDescription("Total provider call attempts by whether a retry followed"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordSendMetrics(ctx context.Context, duration time.Duration, iterations int, outcome string) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	sendDuration.Record(ctx, duration.Seconds(), attrs)
	sendTotal.Add(ctx, 1, attrs)
	iterationsPerRun.Record(ctx, int64(iterations), attrs)
}

func recordToolMetrics(ctx context.Context, tool string, success, offloaded bool) {
	if err := initMetrics(); err != nil {
		return
	}
	toolCallsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.Bool("success", success),
	))
	if offloaded {
		offloadsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", tool)))
	}
}

// attemptObserver feeds retry attempts into the provider attempt counter.
func attemptObserver(ctx context.Context) retry.Observer {
	return func(a retry.Attempt) {
		if err := initMetrics(); err != nil {
			return
		}
		providerAttempts.Add(ctx, 1, metric.WithAttributes(
			attribute.Bool("failed", a.Err != nil),
			attribute.Bool("will_retry", a.WillRetry),
		))
	}
}
