package agents

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/driftwatch/driftwatch/internal/config"
	"github.com/driftwatch/driftwatch/internal/explain"
	"github.com/driftwatch/driftwatch/internal/graph"
	"github.com/driftwatch/driftwatch/internal/models"
	"github.com/driftwatch/driftwatch/internal/score"
)

// Relationship derivation windows, in seconds.
const (
	temporalEdgeWindow = 300
	causalEdgeWindow   = 600
)

// Coordinator synthesizes the specialist agents' findings into final
// anomaly reports. Findings that land on the same series within the
// same minute are merged into one report; the report survives only when
// the weighted consensus of the detecting agents clears the threshold.
// Accepted reports are mirrored into the knowledge graph and linked by
// temporal, correlation, and causal relationships.
type Coordinator struct {
	consensusThreshold float64
	noveltyFromGraph   bool

	graph           *graph.KnowledgeGraph
	narrator        explain.Narrator
	counterfactuals *explain.Counterfactualizer
	now             func() time.Time
	logger          *zap.Logger
}

// NewCoordinator builds the coordinator. The knowledge graph is shared
// with the query surface; the coordinator is its only writer.
func NewCoordinator(cfg *config.Config, kg *graph.KnowledgeGraph, narrator explain.Narrator, cf *explain.Counterfactualizer, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		consensusThreshold: cfg.Agents.Coordinator.ConsensusThreshold,
		noveltyFromGraph:   cfg.Agents.Coordinator.NoveltyFromGraph,
		graph:              kg,
		narrator:           narrator,
		counterfactuals:    cf,
		now:                time.Now,
		logger:             logger,
	}
}

func (c *Coordinator) Name() string { return NameCoordinator }

// Synthesize merges agent results into consensus-backed reports,
// publishes them to the knowledge graph, and derives relationships
// between them. Reports are ordered by severity, then consensus,
// descending.
func (c *Coordinator) Synthesize(ctx context.Context, results []models.AgentResult) ([]models.AnomalyReport, models.AnalysisMetadata) {
	c.logger.Info("synthesizing agent results", zap.Int("agents", len(results)))

	var all []models.AgentAnomaly
	consulted := make([]string, 0, len(results))
	for _, r := range results {
		consulted = append(consulted, r.AgentName)
		all = append(all, r.Anomalies...)
	}

	reports := []models.AnomalyReport{}
	for _, group := range c.groupSimilar(all) {
		if ctx.Err() != nil {
			break
		}
		report := c.buildReport(group)
		if report.ConsensusScore >= c.consensusThreshold {
			reports = append(reports, report)
		}
	}

	sort.SliceStable(reports, func(i, j int) bool {
		if reports[i].SeverityScore != reports[j].SeverityScore {
			return reports[i].SeverityScore > reports[j].SeverityScore
		}
		return reports[i].ConsensusScore > reports[j].ConsensusScore
	})

	for i := range reports {
		c.publish(&reports[i])
	}
	c.deriveRelationships(reports)

	c.logger.Info("synthesis complete",
		zap.Int("detections", len(all)),
		zap.Int("reports", len(reports)))

	return reports, models.AnalysisMetadata{
		AgentsConsulted:    consulted,
		TotalDetections:    len(all),
		ConsensusThreshold: c.consensusThreshold,
	}
}

// groupSimilar buckets findings by (source, metric, minute) so
// independent agents converging on the same event are merged. Groups
// come back in first-seen order.
func (c *Coordinator) groupSimilar(anomalies []models.AgentAnomaly) [][]models.AgentAnomaly {
	type groupKey struct {
		Source string
		Metric string
		Minute time.Time
	}
	groups := make(map[groupKey][]models.AgentAnomaly)
	var order []groupKey
	for _, a := range anomalies {
		key := groupKey{Source: a.Source, Metric: a.Metric, Minute: a.Timestamp.Truncate(time.Minute)}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], a)
	}
	out := make([][]models.AgentAnomaly, 0, len(order))
	for _, key := range order {
		out = append(out, groups[key])
	}
	return out
}

func (c *Coordinator) buildReport(group []models.AgentAnomaly) models.AnomalyReport {
	confidences := make([]float64, len(group))
	weights := make([]float64, len(group))
	severities := make([]float64, len(group))
	for i, a := range group {
		confidences[i] = a.Confidence
		weights[i] = a.AgentWeight
		severities[i] = a.SeverityScore
	}
	consensus := score.WeightedAverage(confidences, weights)

	severitySum := 0.0
	for _, s := range severities {
		severitySum += s
	}
	severityScore := severitySum / float64(len(group))

	representative := group[0]
	for _, a := range group[1:] {
		if a.Confidence > representative.Confidence {
			representative = a
		}
	}

	agentSet := make(map[string]bool)
	methodSet := make(map[string]bool)
	for _, a := range group {
		agentSet[a.AgentName] = true
		methodSet[a.AgentName] = true
		for _, m := range a.DetectionMethods {
			methodSet[m] = true
		}
	}

	explanation := ""
	for _, a := range group {
		if a.Explanation == "" {
			continue
		}
		if explanation != "" {
			explanation += " | "
		}
		explanation += fmt.Sprintf("[%s] %s", a.AgentName, a.Explanation)
	}

	return models.AnomalyReport{
		AnomalyID:        models.AnomalyID(representative.Source, representative.Metric, representative.Timestamp),
		Source:           representative.Source,
		Metric:           representative.Metric,
		Timestamp:        representative.Timestamp,
		Value:            representative.Value,
		ConsensusScore:   consensus,
		SeverityLabel:    score.Label(severityScore),
		SeverityScore:    severityScore,
		DetectionCount:   len(group),
		DetectingAgents:  sortedSet(agentSet),
		DetectionMethods: sortedSet(methodSet),
		Explanation:      explanation,
		Narrative:        c.narrator.Narrative(representative, group),
		Counterfactuals:  c.counterfactuals.Generate(representative),
		Individual:       group,
		CreatedAt:        c.now(),
	}
}

// publish mirrors a report into the knowledge graph. When novelty
// weighting is enabled and the graph holds no similar pattern, the
// report's severity is raised by the novelty term.
func (c *Coordinator) publish(report *models.AnomalyReport) {
	representative := bestDetection(report.Individual)

	c.graph.AddAnomaly(graph.Node{
		ID:          report.AnomalyID,
		Timestamp:   report.Timestamp,
		Source:      report.Source,
		Metric:      report.Metric,
		Value:       report.Value,
		Confidence:  report.ConsensusScore,
		Severity:    report.SeverityLabel,
		Methods:     report.DetectionMethods,
		Deviation:   detectionDeviation(representative),
		PatternType: detectionPattern(representative),
		Metadata: map[string]any{
			"detecting_agents": report.DetectingAgents,
			"detection_count":  report.DetectionCount,
		},
	})

	if c.noveltyFromGraph && len(c.graph.FindSimilar(report.AnomalyID, 1)) == 0 {
		report.SeverityScore = math.Min(1.0, report.SeverityScore+0.1)
		report.SeverityLabel = score.Label(report.SeverityScore)
	}
}

// deriveRelationships links every accepted report pair that is close in
// time, shares a source, or plausibly chains cause to effect.
func (c *Coordinator) deriveRelationships(reports []models.AnomalyReport) {
	for i, r1 := range reports {
		for _, r2 := range reports[i+1:] {
			timeDiff := math.Abs(r1.Timestamp.Sub(r2.Timestamp).Seconds())

			if timeDiff <= temporalEdgeWindow {
				c.graph.AddRelationship(r1.AnomalyID, r2.AnomalyID, graph.EdgeTemporal, 0.7, nil)
			}
			if r1.Source == r2.Source {
				c.graph.AddRelationship(r1.AnomalyID, r2.AnomalyID, graph.EdgeCorrelation, 0.6, nil)
			}
			if r1.Timestamp.Before(r2.Timestamp) && timeDiff <= causalEdgeWindow {
				confidence := 0.5
				if r1.SeverityLabel == models.SeverityHigh {
					confidence += 0.3
				}
				c.graph.AddRelationship(r1.AnomalyID, r2.AnomalyID, graph.EdgeCausal, confidence,
					map[string]any{"time_diff_seconds": timeDiff})
			}
		}
	}
}

func bestDetection(group []models.AgentAnomaly) models.AgentAnomaly {
	best := group[0]
	for _, a := range group[1:] {
		if a.Confidence > best.Confidence {
			best = a
		}
	}
	return best
}

// detectionDeviation pulls the magnitude used for the similarity
// signature out of whichever detail the detecting agent recorded.
func detectionDeviation(a models.AgentAnomaly) float64 {
	for _, key := range []string{"deviation", "z_score", "correlation_change"} {
		if v, ok := a.Details[key].(float64); ok && v != 0 {
			return math.Abs(v)
		}
	}
	return 0
}

func detectionPattern(a models.AgentAnomaly) string {
	if t, ok := a.Details["anomaly_type"].(string); ok && t != "" {
		return t
	}
	if t, ok := a.Details["detection_type"].(string); ok && t != "" {
		return t
	}
	return "unknown"
}

func sortedSet(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
