// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server composes the StepChain service from its parts.
//
// This package contains the Service type that coordinates all components:
// HTTP routing, the oracle client, the step engine, the chain registry,
// the execution journal, the planner, and observability infrastructure.
//
// # Usage
//
//	cfg := config.DefaultConfig()
//	svc, err := server.New(&cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/StepChain/services/stepchain/analysis"
	"github.com/AleutianAI/StepChain/services/stepchain/config"
	"github.com/AleutianAI/StepChain/services/stepchain/engine"
	"github.com/AleutianAI/StepChain/services/stepchain/execlog"
	"github.com/AleutianAI/StepChain/services/stepchain/observability"
	"github.com/AleutianAI/StepChain/services/stepchain/oracle"
	"github.com/AleutianAI/StepChain/services/stepchain/planner"
	"github.com/AleutianAI/StepChain/services/stepchain/registry"
	"github.com/AleutianAI/StepChain/services/stepchain/routes"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the StepChain service.
//
// # Description
//
// Service abstracts the service lifecycle, enabling testing and alternative
// implementations. Run() blocks and should only be called once per instance.
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	Run() error

	// Router returns the underlying Gin engine for testing. Callers must
	// not modify the router.
	Router() *gin.Engine

	// Engine returns the step engine, for embedding the service without
	// the HTTP surface.
	Engine() *engine.Engine
}

// =============================================================================
// Implementation
// =============================================================================

// metricsOnce guards Prometheus collector registration. InitMetrics panics
// on double registration with the default registerer, and tests construct
// multiple services per process.
var (
	metricsOnce   sync.Once
	sharedMetrics *observability.EngineMetrics
)

// initMetrics returns the process-wide engine metrics.
func initMetrics() *observability.EngineMetrics {
	metricsOnce.Do(func() {
		sharedMetrics = observability.InitMetrics()
	})
	return sharedMetrics
}

// service implements Service for production use.
//
// # Description
//
// service coordinates HTTP routing via Gin, the oracle client, the chain
// registry, the step engine, the execution journal, the planner, and
// OpenTelemetry tracing plus Prometheus metrics.
//
// # Thread Safety
//
// Thread-safe after construction. All fields are read-only after New()
// returns.
type service struct {
	config        *config.Config
	router        *gin.Engine
	oracleClient  oracle.Client
	reg           *registry.Registry
	eng           *engine.Engine
	pl            *planner.Planner
	journal       *execlog.Service
	digests       *analysis.Service
	metrics       *observability.EngineMetrics
	tracerCleanup func(context.Context)
	watchCancel   context.CancelFunc
}

// New creates a StepChain Service from configuration.
//
// # Description
//
// New initializes all components:
//  1. Initializes OpenTelemetry tracing (best-effort)
//  2. Initializes Prometheus metrics
//  3. Creates the oracle client for the configured backend
//  4. Creates the registry, journal, planner, and engine
//  5. Sets up HTTP routes
//
// Tracing is best-effort: an unreachable collector is logged and the
// service runs without spans being exported.
//
// # Inputs
//
//   - cfg: validated configuration, typically from config.Load
//
// # Outputs
//
//   - Service: ready-to-run service
//   - error: non-nil if initialization fails
func New(cfg *config.Config) (Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("server: configuration is required")
	}
	s := &service{config: cfg}

	if cfg.Server.GinMode != "" {
		gin.SetMode(cfg.Server.GinMode)
	}

	cleanup, err := initTracer(cfg.Server.OTelEndpoint)
	if err != nil {
		slog.Warn("Tracer initialization failed, continuing without export",
			"endpoint", cfg.Server.OTelEndpoint, "error", err)
	} else {
		s.tracerCleanup = cleanup
	}

	s.metrics = initMetrics()

	if err := s.initOracle(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize oracle client: %w", err)
	}
	if err := s.initJournal(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize execution journal: %w", err)
	}
	if err := s.initPlanner(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize planner: %w", err)
	}
	if err := s.initEngine(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize engine: %w", err)
	}

	s.digests, err = analysis.New(s.journal)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize digest service: %w", err)
	}

	s.initRouter()
	return s, nil
}

// Run starts the HTTP server and blocks until shutdown or error.
func (s *service) Run() error {
	defer s.cleanup()

	addr := fmt.Sprintf(":%d", s.config.Server.Port)
	slog.Info("Starting stepchain server",
		"port", s.config.Server.Port,
		"oracle_backend", s.config.Oracle.Backend,
	)

	return s.router.Run(addr)
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// Engine returns the step engine.
func (s *service) Engine() *engine.Engine {
	return s.eng
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// initTracer initializes OpenTelemetry distributed tracing.
//
// Uses an insecure gRPC connection, appropriate for internal networks. The
// returned cleanup flushes and shuts the exporter down.
func initTracer(endpoint string) (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("stepchain-service")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}

	return cleanup, nil
}

// NewOracleClient creates the oracle client for the configured backend,
// wrapping it in a rate limiter when a throughput cap is configured. Shared
// with the CLI's in-process run mode.
func NewOracleClient(cfg config.OracleConfig) (oracle.Client, error) {
	var (
		client oracle.Client
		err    error
	)
	switch cfg.Backend {
	case "openai":
		client, err = oracle.NewOpenAIClient()
	case "ollama":
		client, err = oracle.NewOllamaClient()
	case "noop":
		client = oracle.NewStaticClient("")
	default:
		return nil, fmt.Errorf("unknown oracle backend: %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	if rps := cfg.RequestsPerSecond; rps > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		client = oracle.NewRateLimitedClient(client, rps, burst)
		slog.Info("Oracle rate limiting enabled", "rps", rps, "burst", burst)
	}
	return client, nil
}

// initOracle resolves the configured oracle client.
func (s *service) initOracle() error {
	client, err := NewOracleClient(s.config.Oracle)
	if err != nil {
		return err
	}
	s.oracleClient = client
	return nil
}

// initJournal opens the execution log directory, defaulting under the
// system temp dir when unconfigured.
func (s *service) initJournal() error {
	dir := s.config.Journal.Dir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "stepchain-journal")
	}

	journal, err := execlog.New(dir)
	if err != nil {
		return err
	}
	s.journal = journal
	slog.Info("Execution journal opened", "dir", dir)
	return nil
}

// initPlanner wires the planner over the oracle and, when a template
// directory is configured, starts the library watcher so plan edits land
// without a restart. Watch blocks until its context ends, so it runs on
// its own goroutine; a watcher that cannot start degrades to load-once
// templates.
func (s *service) initPlanner() error {
	var library *planner.TemplateLibrary
	if dir := s.config.Planner.TemplateDir; dir != "" {
		library = planner.NewTemplateLibrary(dir)

		ctx, cancel := context.WithCancel(context.Background())
		s.watchCancel = cancel
		go func() {
			if err := library.Watch(ctx); err != nil {
				slog.Warn("Plan template watcher failed, templates load once",
					"dir", dir, "error", err)
			}
		}()
	}

	pl, err := planner.New(s.oracleClient, library)
	if err != nil {
		return err
	}
	s.pl = pl
	return nil
}

// initEngine builds the step executor and the engine from the convergence
// tunables.
func (s *service) initEngine() error {
	exec, err := engine.NewStepExecutor(s.oracleClient,
		engine.WithExcerptFunc(planner.Excerpt),
		engine.WithBackendLabel(s.config.Oracle.Backend),
		engine.WithExecutorMetrics(s.metrics),
	)
	if err != nil {
		return err
	}

	opts := []engine.Option{
		engine.WithEngineMetrics(s.metrics),
	}
	if ttl := s.config.Engine.SessionTTL.Std(); ttl > 0 {
		opts = append(opts, engine.WithSessionTTL(ttl))
	}
	if s.config.Engine.MaxSteps > 0 {
		opts = append(opts, engine.WithMaxSteps(s.config.Engine.MaxSteps))
	}
	if s.config.Engine.QualityThreshold > 0 {
		opts = append(opts, engine.WithQualityThreshold(s.config.Engine.QualityThreshold))
	}
	if s.config.Engine.StabilityWindow > 0 {
		opts = append(opts, engine.WithStabilityWindow(s.config.Engine.StabilityWindow))
	}
	if len(s.config.Engine.EssentialKeywords) > 0 {
		opts = append(opts, engine.WithEssentialKeywords(s.config.Engine.EssentialKeywords))
	}

	eng, err := engine.New(exec, opts...)
	if err != nil {
		return err
	}
	s.eng = eng

	if ttl := s.config.Engine.SessionTTL.Std(); ttl > 0 {
		s.reg = registry.New(registry.WithTTL(ttl))
	} else {
		s.reg = registry.New()
	}
	return nil
}

// initRouter sets up the Gin HTTP router with all routes.
func (s *service) initRouter() {
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("stepchain-service"))

	routes.SetupRoutes(s.router, routes.Deps{
		Registry: s.reg,
		Engine:   s.eng,
		Planner:  s.pl,
		Journal:  s.journal,
		Digests:  s.digests,
		Metrics:  s.metrics,
	})
}

// cleanup releases resources held by the service. Called when Run() exits
// or on initialization failure.
func (s *service) cleanup() {
	if s.watchCancel != nil {
		s.watchCancel()
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}
