// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator assembles the agent service from its configuration.
//
// This package wires every component together: the LLM provider, the tool
// registry, the token estimator, the conversation store, telemetry, the
// tool loop and the HTTP router.
//
// # Usage
//
//	cfg, err := config.Load(path)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc, err := orchestrator.New(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Close(context.Background())
//	err = svc.Run(ctx) // blocks until ctx is canceled
//
// The CLI's chat command uses Agent and Store directly without Run.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/AleutianAI/AleutianAgent/services/llm"
	"github.com/AleutianAI/AleutianAgent/services/orchestrator/agent"
	"github.com/AleutianAI/AleutianAgent/services/orchestrator/config"
	"github.com/AleutianAI/AleutianAgent/services/orchestrator/handlers"
	"github.com/AleutianAI/AleutianAgent/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianAgent/services/orchestrator/persistence"
	"github.com/AleutianAI/AleutianAgent/services/orchestrator/routes"
	"github.com/AleutianAI/AleutianAgent/services/orchestrator/tokens"
	"github.com/AleutianAI/AleutianAgent/services/orchestrator/tools"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// Options
// =============================================================================

// Option customizes New.
type Option func(*options)

type options struct {
	provider llm.Provider
	store    persistence.Store
	tools    []func(*tools.Registry) error
	logger   *slog.Logger
	builtins bool
}

// WithProvider uses p instead of building one from cfg.LLM.
func WithProvider(p llm.Provider) Option {
	return func(o *options) { o.provider = p }
}

// WithStore uses s instead of opening the configured store. The service
// takes ownership and closes it.
func WithStore(s persistence.Store) Option {
	return func(o *options) { o.store = s }
}

// WithTools registers additional tools after the built-ins.
func WithTools(register func(*tools.Registry) error) Option {
	return func(o *options) { o.tools = append(o.tools, register) }
}

// WithoutBuiltinTools skips current_time and word_count.
func WithoutBuiltinTools() Option {
	return func(o *options) { o.builtins = false }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// =============================================================================
// Service
// =============================================================================

// Service owns every long-lived component of the agent.
//
// # Thread Safety
//
// Thread-safe after construction. Run should be called at most once.
type Service struct {
	cfg       config.Config
	logger    *slog.Logger
	telemetry *observability.Telemetry
	provider  llm.Provider
	registry  *tools.Registry
	store     persistence.Store
	agent     *agent.Orchestrator
	router    *gin.Engine
}

// New builds a Service from cfg.
//
// # Description
//
// Initialization order:
//  1. Telemetry (tracer and meter providers, Prometheus registry)
//  2. LLM provider, rate limited when configured
//  3. Tool registry with built-in and caller tools
//  4. Token estimator
//  5. Conversation store
//  6. Tool loop
//  7. HTTP router
//
// Anything already started is released when a later step fails.
//
// # Outputs
//
//   - *Service: Ready to Run.
//   - error: Initialization failure, wrapped with the failing step.
func New(ctx context.Context, cfg config.Config, opts ...Option) (svc *Service, err error) {
	o := options{builtins: true}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Service{cfg: cfg, logger: o.logger}
	defer func() {
		if err != nil {
			_ = s.Close(context.Background())
		}
	}()

	s.telemetry, err = observability.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	s.provider = o.provider
	if s.provider == nil {
		s.provider, err = llm.New(cfg.LLM, o.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize LLM provider: %w", err)
		}
	}
	o.logger.Info("LLM provider ready", slog.String("provider", s.provider.Name()))

	s.registry = tools.NewRegistry(tools.WithTimeout(cfg.Tools.Timeout), tools.WithLogger(o.logger))
	if o.builtins {
		if err = tools.RegisterBuiltins(s.registry, nil); err != nil {
			return nil, fmt.Errorf("failed to register built-in tools: %w", err)
		}
	}
	for _, register := range o.tools {
		if err = register(s.registry); err != nil {
			return nil, fmt.Errorf("failed to register tools: %w", err)
		}
	}

	counter := tokens.NewEstimator(cfg.Tokens.Encoding, o.logger)

	s.store = o.store
	if s.store == nil {
		s.store, err = OpenStore(cfg.Storage, o.logger)
		if err != nil {
			return nil, err
		}
	}

	s.agent, err = agent.New(s.provider, s.registry,
		agent.WithConfig(cfg.Agent),
		agent.WithStore(s.store),
		agent.WithCounter(counter),
		agent.WithRetry(cfg.Retry),
		agent.WithLogger(o.logger))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize the tool loop: %w", err)
	}

	s.initRouter()
	o.logger.Info("agent service initialized",
		slog.Int("tools", s.registry.Len()),
		slog.String("storage", cfg.Storage.Backend),
		slog.String("token_estimator", counter.Name()))
	return s, nil
}

// OpenStore opens the configured conversation store.
func OpenStore(cfg config.StorageConfig, logger *slog.Logger) (persistence.Store, error) {
	switch cfg.Backend {
	case config.StorageBadger:
		bcfg := persistence.DefaultBadgerConfig(cfg.Path)
		bcfg.Logger = logger
		store, err := persistence.OpenBadgerStore(bcfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open conversation store: %w", err)
		}
		return store, nil
	default:
		return persistence.NewMemoryStore(), nil
	}
}

func (s *Service) initRouter() {
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(otelgin.Middleware(s.cfg.Telemetry.ServiceName))

	metrics := observability.NewChatMetrics(s.telemetry.Registry())
	conversations := handlers.NewConversationHandler(s.store, s.agent, metrics,
		s.cfg.Server.RequestTimeout, s.logger)
	routes.SetupRoutes(s.router, routes.Deps{
		Conversations: conversations,
		Metrics:       s.telemetry.MetricsHandler(),
	})
}

// Run serves HTTP until ctx is canceled, then shuts down gracefully
// within Server.ShutdownTimeout.
func (s *Service) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Server.Addr(),
		Handler: s.router,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("starting agent server", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		defer cancel()
		s.logger.Info("shutting down agent server")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Close releases the store and flushes telemetry. Safe on a partially
// built Service.
func (s *Service) Close(ctx context.Context) error {
	var errs []error
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	if s.telemetry != nil {
		if err := s.telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Router returns the configured router, for tests.
func (s *Service) Router() *gin.Engine { return s.router }

// Agent returns the tool loop.
func (s *Service) Agent() *agent.Orchestrator { return s.agent }

// Store returns the conversation store.
func (s *Service) Store() persistence.Store { return s.store }

// Registry returns the tool registry.
func (s *Service) Registry() *tools.Registry { return s.registry }
