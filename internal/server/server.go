package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/driftwatch/driftwatch/internal/config"
	"github.com/driftwatch/driftwatch/internal/graph"
	"github.com/driftwatch/driftwatch/internal/metrics"
	"github.com/driftwatch/driftwatch/internal/middleware"
	"github.com/driftwatch/driftwatch/internal/pipeline"
	"github.com/driftwatch/driftwatch/internal/sources"
)

// requestsPerMinute is the per-client budget for the REST surface.
const requestsPerMinute = 120

// Server is the HTTP/WebSocket façade over the detection pipeline. It
// also owns the background collection loop that drains the registered
// sources on a fixed cadence.
type Server struct {
	cfg       *config.Config
	pipe      *pipeline.Pipeline
	collector *sources.Collector
	kg        *graph.KnowledgeGraph
	tracer    *graph.Tracer
	limiter   *middleware.RateLimiter
	hub       *Hub
	logger    *zap.Logger

	// HTTP server
	httpServer *http.Server

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// State
	mu      sync.RWMutex
	running bool
}

// New wires the façade. The collector may have zero registered sources;
// the collection loop then idles and cycles only run on demand.
func New(cfg *config.Config, pipe *pipeline.Pipeline, collector *sources.Collector, kg *graph.KnowledgeGraph, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:       cfg,
		pipe:      pipe,
		collector: collector,
		kg:        kg,
		tracer:    graph.NewTracer(kg),
		limiter:   middleware.NewRateLimiter(requestsPerMinute),
		hub:       NewHub(cfg.Server.AllowedOrigins, logger),
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the HTTP listener, the WebSocket hub, and the
// background collection loop.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.running = true
	s.mu.Unlock()

	mux := http.NewServeMux()
	s.registerHandlers(mux)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.hub.Run(s.ctx, s.pipe)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.collectLoop()
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully drains the HTTP server and stops the background
// loops.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is not running")
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("stopping server")

	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http shutdown error", zap.Error(err))
		}
	}

	s.cancel()
	s.limiter.Stop()
	s.wg.Wait()

	s.logger.Info("server stopped")
	return nil
}

// Wait blocks until the server is stopped.
func (s *Server) Wait() {
	<-s.ctx.Done()
}

// IsRunning reports whether the server has been started and not yet
// stopped.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// registerHandlers registers HTTP handlers. REST endpoints sit behind
// the per-client rate limiter; /metrics and /ws do not.
func (s *Server) registerHandlers(mux *http.ServeMux) {
	api := func(path string, h http.HandlerFunc) {
		mux.HandleFunc(path, s.instrument(path, s.limiter.Middleware(h)))
	}

	api("/api/health", s.handleHealth)
	api("/api/analyze", s.handleAnalyze)
	api("/api/analysis/latest", s.handleLatestAnalysis)

	// Knowledge graph queries
	api("/api/graph/stats", s.handleGraphStats)
	api("/api/graph/export", s.handleGraphExport)
	api("/api/graph/related", s.handleGraphRelated)
	api("/api/graph/causal-chain", s.handleGraphCausalChain)
	api("/api/graph/similar", s.handleGraphSimilar)
	api("/api/graph/context", s.handleGraphContext)
	api("/api/graph/root-cause", s.handleGraphRootCause)
	api("/api/graph/cascades", s.handleGraphCascades)

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", s.hub.HandleWS)
}

// instrument records request counts by path and status code.
func (s *Server) instrument(path string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next(rec, r)
		metrics.HTTPRequestsTotal.WithLabelValues(path, fmt.Sprintf("%d", rec.code)).Inc()
	}
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// collectLoop drains all registered sources on the configured cadence
// and feeds each batch through the pipeline.
func (s *Server) collectLoop() {
	interval := time.Duration(s.cfg.Server.CollectionIntervalSeconds) * time.Second
	if interval <= 0 {
		s.logger.Info("collection loop disabled")
		return
	}
	if len(s.collector.Sources()) == 0 {
		s.logger.Info("no sources registered, collection loop idle")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("collection loop started",
		zap.Duration("interval", interval),
		zap.Strings("sources", s.collector.Sources()))

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.runCycle(s.ctx, "scheduled")
		}
	}
}

// runCycle performs one collect-and-analyze pass.
func (s *Server) runCycle(ctx context.Context, trigger string) (string, error) {
	batch, err := s.collector.Collect(ctx)
	if err != nil {
		metrics.CyclesTotal.WithLabelValues(trigger, "error").Inc()
		return "", err
	}

	cycleID, err := s.pipe.Ingest(ctx, batch)
	if err != nil {
		metrics.CyclesTotal.WithLabelValues(trigger, "error").Inc()
		return "", err
	}
	metrics.CyclesTotal.WithLabelValues(trigger, "ok").Inc()
	return cycleID, nil
}
