package agents

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/driftwatch/driftwatch/internal/config"
	"github.com/driftwatch/driftwatch/internal/models"
)

// contextEvent is one external event candidate associated with a source.
type contextEvent struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// sourceContext bundles the events relevant to one source's batch.
type sourceContext struct {
	Source    string         `json:"source"`
	Timestamp time.Time      `json:"timestamp"`
	Events    []contextEvent `json:"events"`
	Relevance float64        `json:"relevance"`
}

// Context is the agent that attaches external-event context to each
// source. It classifies the batch's shape against known event patterns
// and emits at most one contextual anomaly per source, anchored at the
// most extreme observation.
type Context struct {
	weight        float64
	minConfidence float64
	now           func() time.Time
	logger        *zap.Logger
}

// NewContext builds the context agent from configuration.
func NewContext(cfg *config.Config, logger *zap.Logger) *Context {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Context{
		weight:        cfg.Agents.Context.Weight,
		minConfidence: cfg.Agents.Context.MinConfidence,
		now:           time.Now,
		logger:        logger,
	}
}

func (c *Context) Name() string { return NameContext }

// Analyze fetches context per source and reports one summary anomaly
// for every source whose context clears the relevance floor.
func (c *Context) Analyze(ctx context.Context, current, historical []models.DataPoint) models.AgentResult {
	c.logger.Info("starting context analysis", zap.Int("data_points", len(current)))

	grouped := groupBySource(current)
	sources := make([]string, 0, len(grouped))
	for s := range grouped {
		sources = append(sources, s)
	}
	sort.Strings(sources)

	anomalies := []models.AgentAnomaly{}
	var findings []sourceContext

	for _, source := range sources {
		if ctx.Err() != nil {
			break
		}
		points := grouped[source]
		sc, ok := c.fetchContext(source, points)
		if !ok || sc.Relevance < c.minConfidence {
			continue
		}
		findings = append(findings, sc)

		// One summary anomaly per source, anchored at the most extreme
		// observation in the batch.
		rep := points[0]
		for _, p := range points[1:] {
			if math.Abs(p.Value) > math.Abs(rep.Value) {
				rep = p
			}
		}

		metricSet := make(map[string]bool)
		for _, p := range points {
			metricSet[p.Metric] = true
		}
		metrics := make([]string, 0, len(metricSet))
		for m := range metricSet {
			metrics = append(metrics, m)
		}
		sort.Strings(metrics)

		anomalies = append(anomalies, models.AgentAnomaly{
			AgentName:        c.Name(),
			AgentWeight:      c.weight,
			Source:           source,
			Metric:           rep.Metric,
			Timestamp:        rep.Timestamp,
			Value:            rep.Value,
			Confidence:       sc.Relevance,
			SeverityLabel:    models.SeverityMedium,
			SeverityScore:    0.5,
			DetectionMethods: []string{"context"},
			Explanation:      contextExplanation(rep, sc),
			Details: map[string]interface{}{
				"anomaly_type":    "contextual",
				"events":          sc.Events,
				"relevance":       sc.Relevance,
				"affected_points": len(points),
				"source_metrics":  metrics,
			},
		})
	}

	c.logger.Info("context analysis complete", zap.Int("insights", len(findings)))

	return models.AgentResult{
		AgentName: c.Name(),
		Weight:    c.weight,
		Anomalies: anomalies,
		Metadata: map[string]interface{}{
			"context_findings": findings,
			"sources_analyzed": len(grouped),
		},
	}
}

// fetchContext classifies a source batch against known event patterns.
// A live deployment would query news and event feeds here; the
// classification keys on the same data characteristics those feeds
// would be matched against.
func (c *Context) fetchContext(source string, points []models.DataPoint) (sourceContext, bool) {
	if len(points) == 0 {
		return sourceContext{}, false
	}

	sum, max := 0.0, points[0].Value
	for _, p := range points {
		sum += p.Value
		if p.Value > max {
			max = p.Value
		}
	}
	avg := sum / float64(len(points))
	denom := avg
	if denom == 0 {
		denom = 1
	}
	deviation := (max - avg) / denom

	sc := sourceContext{Source: source, Timestamp: c.now()}

	switch source {
	case models.SourceCryptocurrency:
		if deviation > 2 {
			sc.Events = []contextEvent{
				{Type: "market_event", Description: "Extreme price volatility detected"},
				{Type: "news", Description: "Market manipulation alert"},
			}
			sc.Relevance = 0.75
		} else {
			sc.Events = []contextEvent{
				{Type: "market_event", Description: "Normal trading activity"},
				{Type: "news", Description: "Standard market conditions"},
			}
			sc.Relevance = 0.4
		}
	case models.SourceWeather:
		extreme := false
		for _, p := range points {
			if p.Metric == "temperature" && (p.Value > 30 || p.Value < 0) {
				extreme = true
				break
			}
		}
		if extreme {
			sc.Events = []contextEvent{
				{Type: "meteorological", Description: "Extreme temperature alert"},
				{Type: "event", Description: "Weather advisory issued"},
			}
			sc.Relevance = 0.7
		} else {
			sc.Events = []contextEvent{
				{Type: "meteorological", Description: "Seasonal weather pattern"},
				{Type: "event", Description: "Normal conditions"},
			}
			sc.Relevance = 0.3
		}
	case models.SourceGitHub:
		sc.Events = []contextEvent{
			{Type: "platform", Description: "API activity change"},
			{Type: "event", Description: "Repository activity spike"},
		}
		sc.Relevance = 0.5
	default:
		// Derivatives positioning has its own specialist; no external
		// context is modeled for it.
		return sourceContext{}, false
	}

	return sc, len(sc.Events) > 0
}

func contextExplanation(rep models.DataPoint, sc sourceContext) string {
	descriptions := make([]string, len(sc.Events))
	for i, e := range sc.Events {
		descriptions[i] = e.Description
	}
	return fmt.Sprintf(
		"Anomaly in %s %s may be related to external events: %s. Contextual relevance: %.2f.",
		rep.Source, rep.Metric, strings.Join(descriptions, ", "), sc.Relevance)
}

// groupBySource buckets points by source, keeping batch order.
func groupBySource(points []models.DataPoint) map[string][]models.DataPoint {
	grouped := make(map[string][]models.DataPoint)
	for _, p := range points {
		grouped[p.Source] = append(grouped[p.Source], p)
	}
	return grouped
}
