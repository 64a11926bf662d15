package pipeline

// Package pipeline owns the cycle lifecycle: it carries batches from
// the collectors into the orchestrator, maintains the rolling
// historical window the temporal detectors need, remembers the latest
// result for the REST surface, and broadcasts every completed cycle to
// subscribers with latest-wins backpressure.

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/driftwatch/driftwatch/internal/metrics"
	"github.com/driftwatch/driftwatch/internal/models"
)

// defaultHistoryLimit caps the rolling buffer when no limit is given.
const defaultHistoryLimit = 10000

// Analyzer runs one detection cycle over a batch. Satisfied by
// agents.Orchestrator.
type Analyzer interface {
	Analyze(ctx context.Context, current, historical []models.DataPoint) models.AnalysisResult
}

// Pipeline drives analysis cycles and fans results out to subscribers.
type Pipeline struct {
	analyzer     Analyzer
	historyLimit int
	logger       *zap.Logger

	mu      sync.Mutex
	history []models.DataPoint
	latest  *models.AnalysisResult

	subMu sync.Mutex
	subs  map[chan *models.AnalysisResult]struct{}
}

// New builds a pipeline around an analyzer. historyLimit bounds the
// rolling buffer in points; zero or negative selects the default.
func New(analyzer Analyzer, historyLimit int, logger *zap.Logger) *Pipeline {
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		analyzer:     analyzer,
		historyLimit: historyLimit,
		logger:       logger,
		subs:         make(map[chan *models.AnalysisResult]struct{}),
	}
}

// Ingest runs one full cycle over the batch: analyze against the
// current historical window, roll the batch into the window, remember
// and broadcast the result. It returns the cycle ID.
func (p *Pipeline) Ingest(ctx context.Context, points []models.DataPoint) (string, error) {
	p.mu.Lock()
	historical := make([]models.DataPoint, len(p.history))
	copy(historical, p.history)
	p.mu.Unlock()

	result, err := p.Analyze(ctx, points, historical)
	if err != nil {
		return "", err
	}

	for _, pt := range points {
		metrics.PointsIngested.WithLabelValues(pt.Source).Inc()
	}

	p.mu.Lock()
	p.history = append(p.history, points...)
	if excess := len(p.history) - p.historyLimit; excess > 0 {
		p.history = append(p.history[:0], p.history[excess:]...)
	}
	p.latest = result
	p.mu.Unlock()

	p.broadcast(result)
	return result.CycleID, nil
}

// Analyze runs a detection cycle without touching the rolling buffer or
// the subscribers. The result gets a fresh cycle ID.
func (p *Pipeline) Analyze(ctx context.Context, current, historical []models.DataPoint) (*models.AnalysisResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	result := p.analyzer.Analyze(ctx, current, historical)
	result.CycleID = uuid.NewString()

	metrics.CycleDuration.Observe(time.Since(start).Seconds())
	for _, r := range result.Reports {
		metrics.ReportsTotal.WithLabelValues(r.SeverityLabel).Inc()
	}
	metrics.GraphNodes.Set(float64(result.KnowledgeGraph.Nodes))
	metrics.GraphEdges.Set(float64(result.KnowledgeGraph.Edges))

	p.logger.Info("analysis cycle complete",
		zap.String("cycle_id", result.CycleID),
		zap.Int("anomalies", result.TotalAnomalies),
		zap.Int("high_severity", result.HighSeverityCount),
		zap.Duration("duration", time.Since(start)))
	return &result, nil
}

// Latest returns the most recent completed cycle, or nil before the
// first one.
func (p *Pipeline) Latest() *models.AnalysisResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latest
}

// History returns a snapshot of the rolling historical window.
func (p *Pipeline) History() []models.DataPoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.DataPoint, len(p.history))
	copy(out, p.history)
	return out
}

// Subscribe registers a listener for completed cycles. The channel has
// capacity one; a subscriber that falls behind sees only the most
// recent result.
func (p *Pipeline) Subscribe() chan *models.AnalysisResult {
	ch := make(chan *models.AnalysisResult, 1)
	p.subMu.Lock()
	p.subs[ch] = struct{}{}
	p.subMu.Unlock()
	return ch
}

// Unsubscribe removes a listener and closes its channel.
func (p *Pipeline) Unsubscribe(ch chan *models.AnalysisResult) {
	p.subMu.Lock()
	if _, ok := p.subs[ch]; ok {
		delete(p.subs, ch)
		close(ch)
	}
	p.subMu.Unlock()
}

// broadcast delivers the result to every subscriber without blocking.
// A full channel is drained first so the subscriber always finds the
// newest result when it catches up.
func (p *Pipeline) broadcast(result *models.AnalysisResult) {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	for ch := range p.subs {
		select {
		case ch <- result:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- result:
		default:
		}
	}
}
