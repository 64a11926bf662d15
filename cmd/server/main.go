package main

// Package main is the entry point for the driftwatch server.
//
// Responsibilities:
//   - Load and validate configuration from YAML and environment variables
//   - Build the logger, knowledge graph, specialist agents, coordinator,
//     orchestrator, and pipeline
//   - Register data sources with the collector
//   - Start the HTTP/WebSocket server and the background collection loop
//   - Implement graceful shutdown with context cancellation
//
// Architecture Flow:
//   1. Collector drains registered sources on a fixed cadence
//   2. Pipeline feeds each batch to the orchestrator (five agents in parallel)
//   3. Coordinator synthesizes consensus reports into the knowledge graph
//   4. REST + WebSocket expose results; Prometheus scrapes /metrics

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/driftwatch/driftwatch/internal/agents"
	"github.com/driftwatch/driftwatch/internal/config"
	"github.com/driftwatch/driftwatch/internal/explain"
	"github.com/driftwatch/driftwatch/internal/graph"
	"github.com/driftwatch/driftwatch/internal/logging"
	"github.com/driftwatch/driftwatch/internal/pipeline"
	"github.com/driftwatch/driftwatch/internal/server"
	"github.com/driftwatch/driftwatch/internal/sources"
)

func main() {
	configPath := flag.String("config", "/etc/driftwatch/config.yaml", "path to the configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "driftwatch: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Configuration
	mgr, err := config.NewManager(configPath)
	if err != nil {
		return fmt.Errorf("create config manager: %w", err)
	}
	if err := mgr.Load(ctx); err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if err := mgr.Validate(ctx); err != nil {
		return fmt.Errorf("validate configuration: %w", err)
	}
	cfg := mgr.Get(ctx)

	// Logging
	logger, err := logging.New(&logging.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		FilePath:   cfg.Logging.FilePath,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	// Knowledge graph and the agent stack
	kg := graph.New(cfg.KnowledgeGraph.MaxNodes, cfg.KnowledgeGraph.EdgeExpiryHours,
		cfg.KnowledgeGraph.SimilarityThreshold, logger.Named("graph"))

	specialists := []agents.Agent{
		agents.NewStatistical(cfg, logger.Named("statistical")),
		agents.NewTemporal(cfg, logger.Named("temporal")),
		agents.NewCorrelation(cfg, logger.Named("correlation")),
		agents.NewContext(cfg, logger.Named("context")),
		agents.NewOI(cfg, logger.Named("oi")),
	}
	coordinator := agents.NewCoordinator(cfg, kg,
		explain.NewGenerator(explain.DetailMedium),
		explain.NewCounterfactualizer(5),
		logger.Named("coordinator"))
	orchestrator := agents.NewOrchestrator(specialists, coordinator, kg, logger.Named("orchestrator"))

	pipe := pipeline.New(orchestrator, 0, logger.Named("pipeline"))

	// Data sources. Concrete upstream adapters register here; the
	// collector wraps each with rate limiting and a fetch cache.
	collector := sources.NewCollector(cfg, logger.Named("sources"))

	srv := server.New(cfg, pipe, collector, kg, logger.Named("server"))
	if err := srv.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	// Configuration changes apply on the next restart of dependent
	// components; log them so operators can see the reload landed.
	go func() {
		for updated := range mgr.Watch(ctx) {
			logger.Info("configuration reloaded",
				zap.String("level", updated.Logging.Level),
				zap.Int("collection_interval_seconds", updated.Server.CollectionIntervalSeconds))
		}
	}()

	logger.Info("driftwatch started",
		zap.String("addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)),
		zap.Int("agents", len(specialists)))

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutdown signal received")

	if err := srv.Stop(); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	return nil
}
