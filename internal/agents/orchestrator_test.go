package agents

import (
	"context"
	"regexp"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/driftwatch/driftwatch/internal/explain"
	"github.com/driftwatch/driftwatch/internal/graph"
	"github.com/driftwatch/driftwatch/internal/models"
)

type stubAgent struct {
	name      string
	anomalies []models.AgentAnomaly
	panics    bool
}

func (s *stubAgent) Name() string { return s.name }

func (s *stubAgent) Analyze(ctx context.Context, current, historical []models.DataPoint) models.AgentResult {
	if s.panics {
		panic("stub failure")
	}
	return models.AgentResult{
		AgentName: s.name,
		Weight:    1.0,
		Anomalies: s.anomalies,
	}
}

func newTestOrchestrator(specialists []Agent) (*Orchestrator, *graph.KnowledgeGraph) {
	cfg := testConfig()
	kg := graph.New(cfg.KnowledgeGraph.MaxNodes, cfg.KnowledgeGraph.EdgeExpiryHours,
		cfg.KnowledgeGraph.SimilarityThreshold, zap.NewNop())
	coord := NewCoordinator(cfg, kg, explain.NewGenerator(explain.DetailMedium),
		explain.NewCounterfactualizer(5), zap.NewNop())
	return NewOrchestrator(specialists, coord, kg, zap.NewNop()), kg
}

func TestOrchestratorSurvivesAgentPanic(t *testing.T) {
	finding := detection("steady", 1.0, models.SourceCryptocurrency, "price_BTC", batchStart, 0.9, 0.8)
	orch, _ := newTestOrchestrator([]Agent{
		&stubAgent{name: "flaky", panics: true},
		&stubAgent{name: "steady", anomalies: []models.AgentAnomaly{finding}},
	})

	result := orch.Analyze(context.Background(), nil, nil)
	if result.TotalAnomalies != 1 {
		t.Fatalf("expected the surviving agent's report, got %d", result.TotalAnomalies)
	}
	if got := result.Metadata.AgentsConsulted; len(got) != 2 || got[0] != "flaky" || got[1] != "steady" {
		t.Errorf("agents consulted = %v, want registration order", got)
	}
}

func TestOrchestratorFullCycle(t *testing.T) {
	cfg := testConfig()
	logger := zap.NewNop()
	specialists := []Agent{
		NewStatistical(cfg, logger),
		NewTemporal(cfg, logger),
		NewCorrelation(cfg, logger),
		NewContext(cfg, logger),
		NewOI(cfg, logger),
	}
	orch, kg := newTestOrchestrator(specialists)

	current := series(models.SourceCryptocurrency, "price_BTC",
		[]float64{10, 12, 11, 10, 11, 12, 50, 11, 10, 12})

	oiTime := batchStart.Add(20 * time.Minute)
	current = append(current,
		models.DataPoint{Source: models.SourceCryptocurrency, Symbol: "BTC", Metric: "price_usd", Value: 100, Timestamp: oiTime},
		models.DataPoint{Source: models.SourceCryptocurrency, Symbol: "BTC", Metric: "price_usd", Value: 97, Timestamp: oiTime.Add(time.Minute)},
		oiPoint("open_interest", 100, oiTime),
		oiPoint("open_interest", 106, oiTime.Add(time.Minute)),
		oiPoint("funding_rate", 0.12, oiTime.Add(time.Minute)),
	)

	result := orch.Analyze(context.Background(), current, nil)
	if result.TotalAnomalies == 0 {
		t.Fatal("expected anomaly reports from the full cycle")
	}
	if len(result.Reports) != result.TotalAnomalies {
		t.Errorf("report count mismatch: %d vs %d", len(result.Reports), result.TotalAnomalies)
	}
	if got := result.Metadata.AgentsConsulted; len(got) != 5 {
		t.Fatalf("agents consulted = %v", got)
	}

	idPattern := regexp.MustCompile(`^[a-z_-]+_[A-Za-z_]+_\d{8}_\d{6}$`)
	var spike *models.AnomalyReport
	sawDerivatives := false
	for i := range result.Reports {
		r := &result.Reports[i]
		if !idPattern.MatchString(r.AnomalyID) {
			t.Errorf("malformed anomaly id %q", r.AnomalyID)
		}
		if r.Source == models.SourceCryptocurrency && r.Metric == "price_BTC" {
			for _, m := range r.DetectionMethods {
				if m == "modified_zscore" {
					spike = r
				}
			}
		}
		if r.Source == models.SourceOIDerivatives {
			sawDerivatives = true
		}
	}
	if spike == nil {
		t.Fatal("price spike report missing")
	}
	methods := map[string]bool{}
	for _, m := range spike.DetectionMethods {
		methods[m] = true
	}
	if !methods["iqr"] || methods["zscore"] {
		t.Errorf("spike methods = %v, want robust consensus without zscore", spike.DetectionMethods)
	}
	if !sawDerivatives {
		t.Error("derivatives anomalies missing from cycle")
	}

	if result.KnowledgeGraph.Nodes != result.TotalAnomalies {
		t.Errorf("graph nodes = %d, reports = %d", result.KnowledgeGraph.Nodes, result.TotalAnomalies)
	}

	highs := 0
	for _, r := range result.Reports {
		if r.SeverityLabel == models.SeverityHigh || r.SeverityLabel == models.SeverityCritical {
			highs++
		}
	}
	if highs != result.HighSeverityCount {
		t.Errorf("high severity count = %d, counted %d", result.HighSeverityCount, highs)
	}

	if kg.Stats().NumNodes != result.KnowledgeGraph.Nodes {
		t.Errorf("graph summary out of sync with graph state")
	}
}

func TestOrchestratorDeterministicFanIn(t *testing.T) {
	build := func() (*Orchestrator, []models.DataPoint) {
		cfg := testConfig()
		logger := zap.NewNop()
		orch, _ := newTestOrchestrator([]Agent{
			NewStatistical(cfg, logger),
			NewTemporal(cfg, logger),
		})
		return orch, series(models.SourceCryptocurrency, "price_BTC",
			[]float64{10, 12, 11, 10, 11, 12, 50, 11, 10, 12})
	}

	orch1, batch := build()
	orch2, _ := build()
	r1 := orch1.Analyze(context.Background(), batch, nil)
	r2 := orch2.Analyze(context.Background(), batch, nil)

	if len(r1.Reports) != len(r2.Reports) {
		t.Fatalf("nondeterministic report count: %d vs %d", len(r1.Reports), len(r2.Reports))
	}
	for i := range r1.Reports {
		if r1.Reports[i].AnomalyID != r2.Reports[i].AnomalyID {
			t.Errorf("report order differs at %d: %s vs %s", i, r1.Reports[i].AnomalyID, r2.Reports[i].AnomalyID)
		}
		if r1.Reports[i].Explanation != r2.Reports[i].Explanation {
			t.Errorf("explanation differs at %d", i)
		}
	}
}
