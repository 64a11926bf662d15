package agents

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/driftwatch/driftwatch/internal/graph"
	"github.com/driftwatch/driftwatch/internal/metrics"
	"github.com/driftwatch/driftwatch/internal/models"
)

// Orchestrator fans one telemetry batch out to every specialist agent
// concurrently and hands the collected results to the coordinator. A
// specialist that panics or overruns its context contributes an empty
// result instead of failing the cycle. Fan-in order is fixed by the
// registration order, so a cycle's output is deterministic.
type Orchestrator struct {
	agents      []Agent
	coordinator *Coordinator
	graph       *graph.KnowledgeGraph
	logger      *zap.Logger
}

// NewOrchestrator wires the specialists to the coordinator. Agents run
// in the order given; results are collected in the same order.
func NewOrchestrator(specialists []Agent, coordinator *Coordinator, kg *graph.KnowledgeGraph, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		agents:      specialists,
		coordinator: coordinator,
		graph:       kg,
		logger:      logger,
	}
}

// Analyze runs one full detection cycle over the batch. The caller owns
// the cycle ID; everything else in the result is filled in here.
func (o *Orchestrator) Analyze(ctx context.Context, current, historical []models.DataPoint) models.AnalysisResult {
	o.logger.Info("starting multi-agent analysis",
		zap.Int("current_points", len(current)),
		zap.Int("historical_points", len(historical)),
		zap.Int("agents", len(o.agents)))

	results := make([]models.AgentResult, len(o.agents))
	var wg sync.WaitGroup
	for i, agent := range o.agents {
		wg.Add(1)
		go func(i int, agent Agent) {
			defer wg.Done()
			results[i] = o.runAgent(ctx, agent, current, historical)
		}(i, agent)
	}
	wg.Wait()

	reports, metadata := o.coordinator.Synthesize(ctx, results)

	highSeverity := 0
	for _, r := range reports {
		if r.SeverityLabel == models.SeverityHigh || r.SeverityLabel == models.SeverityCritical {
			highSeverity++
		}
	}

	stats := o.graph.Stats()
	return models.AnalysisResult{
		TotalAnomalies:    len(reports),
		HighSeverityCount: highSeverity,
		Reports:           reports,
		Metadata:          metadata,
		KnowledgeGraph: models.GraphSummary{
			Nodes: stats.NumNodes,
			Edges: stats.NumEdges,
			Stats: map[string]interface{}{
				"num_signatures": stats.NumSignatures,
				"avg_degree":     stats.AvgDegree,
				"oldest_node":    stats.OldestNode,
				"newest_node":    stats.NewestNode,
			},
		},
	}
}

// runAgent isolates one specialist: a panic inside an agent is logged
// and degraded to an empty result so the rest of the cycle survives.
func (o *Orchestrator) runAgent(ctx context.Context, agent Agent, current, historical []models.DataPoint) (result models.AgentResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("agent panicked",
				zap.String("agent", agent.Name()),
				zap.Any("panic", r))
			result = emptyResult(agent.Name(), 0, "agent failed")
		}
		metrics.AgentDuration.WithLabelValues(agent.Name()).Observe(time.Since(start).Seconds())
		metrics.AgentAnomaliesTotal.WithLabelValues(agent.Name()).Add(float64(len(result.Anomalies)))
	}()
	return agent.Analyze(ctx, current, historical)
}
