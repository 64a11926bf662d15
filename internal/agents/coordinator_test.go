package agents

import (
	"context"
	"math"
	"regexp"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/driftwatch/driftwatch/internal/explain"
	"github.com/driftwatch/driftwatch/internal/graph"
	"github.com/driftwatch/driftwatch/internal/models"
)

func testCoordinator(noveltyFromGraph bool) (*Coordinator, *graph.KnowledgeGraph) {
	cfg := testConfig()
	cfg.Agents.Coordinator.NoveltyFromGraph = noveltyFromGraph
	kg := graph.New(cfg.KnowledgeGraph.MaxNodes, cfg.KnowledgeGraph.EdgeExpiryHours,
		cfg.KnowledgeGraph.SimilarityThreshold, zap.NewNop())
	coord := NewCoordinator(cfg, kg, explain.NewGenerator(explain.DetailMedium),
		explain.NewCounterfactualizer(5), zap.NewNop())
	return coord, kg
}

func detection(agent string, weight float64, source, metric string, ts time.Time, conf, severity float64) models.AgentAnomaly {
	return models.AgentAnomaly{
		AgentName:        agent,
		AgentWeight:      weight,
		Source:           source,
		Metric:           metric,
		Timestamp:        ts,
		Value:            42,
		Confidence:       conf,
		SeverityScore:    severity,
		SeverityLabel:    models.SeverityMedium,
		DetectionMethods: []string{agent + "_method"},
		Explanation:      agent + " saw it",
		Details:          map[string]interface{}{"deviation": 5.0},
	}
}

func TestCoordinatorMergesSameMinuteFindings(t *testing.T) {
	coord, _ := testCoordinator(false)
	ts := batchStart

	results := []models.AgentResult{
		{AgentName: NameStatistical, Weight: 0.25, Anomalies: []models.AgentAnomaly{
			detection(NameStatistical, 0.25, models.SourceCryptocurrency, "price_BTC", ts, 0.9, 0.8),
		}},
		{AgentName: NameTemporal, Weight: 0.25, Anomalies: []models.AgentAnomaly{
			detection(NameTemporal, 0.25, models.SourceCryptocurrency, "price_BTC", ts.Add(30*time.Second), 0.7, 0.6),
		}},
	}

	reports, metadata := coord.Synthesize(context.Background(), results)
	if len(reports) != 1 {
		t.Fatalf("expected one merged report, got %d", len(reports))
	}
	r := reports[0]

	if want := 0.8; math.Abs(r.ConsensusScore-want) > 1e-9 {
		t.Errorf("consensus = %f, want %f", r.ConsensusScore, want)
	}
	if want := 0.7; math.Abs(r.SeverityScore-want) > 1e-9 {
		t.Errorf("severity = %f, want %f", r.SeverityScore, want)
	}
	if r.SeverityLabel != models.SeverityMedium {
		t.Errorf("severity label = %s", r.SeverityLabel)
	}
	if r.DetectionCount != 2 {
		t.Errorf("detection count = %d", r.DetectionCount)
	}
	// Representative is the highest-confidence detection.
	if !r.Timestamp.Equal(ts) {
		t.Errorf("report timestamp = %v, want the statistical detection's", r.Timestamp)
	}
	if got := r.DetectingAgents; len(got) != 2 || got[0] != NameStatistical || got[1] != NameTemporal {
		t.Errorf("detecting agents = %v", got)
	}
	if !strings.Contains(r.Explanation, "[statistical] statistical saw it | [temporal] temporal saw it") {
		t.Errorf("explanation join wrong: %s", r.Explanation)
	}
	if r.Narrative == "" || len(r.Individual) != 2 {
		t.Errorf("report missing narrative or individual detections: %+v", r)
	}

	idPattern := regexp.MustCompile(`^cryptocurrency_price_BTC_\d{8}_\d{6}$`)
	if !idPattern.MatchString(r.AnomalyID) {
		t.Errorf("anomaly id = %s", r.AnomalyID)
	}

	if metadata.TotalDetections != 2 || metadata.ConsensusThreshold != 0.6 {
		t.Errorf("metadata wrong: %+v", metadata)
	}
	if len(metadata.AgentsConsulted) != 2 {
		t.Errorf("agents consulted = %v", metadata.AgentsConsulted)
	}
}

func TestCoordinatorDropsWeakConsensus(t *testing.T) {
	coord, kg := testCoordinator(false)

	results := []models.AgentResult{
		{AgentName: NameContext, Weight: 0.15, Anomalies: []models.AgentAnomaly{
			detection(NameContext, 0.15, models.SourceWeather, "temperature", batchStart, 0.4, 0.5),
		}},
	}
	reports, _ := coord.Synthesize(context.Background(), results)
	if len(reports) != 0 {
		t.Errorf("0.4 consensus must not clear a 0.6 threshold: %+v", reports)
	}
	if kg.Stats().NumNodes != 0 {
		t.Error("rejected findings must not reach the graph")
	}
}

func TestCoordinatorOrdersBySeverityThenConsensus(t *testing.T) {
	coord, _ := testCoordinator(false)
	ts := batchStart

	results := []models.AgentResult{
		{AgentName: NameStatistical, Weight: 0.25, Anomalies: []models.AgentAnomaly{
			detection(NameStatistical, 0.25, models.SourceWeather, "temperature", ts, 0.8, 0.4),
			detection(NameStatistical, 0.25, models.SourceCryptocurrency, "price_BTC", ts, 0.7, 0.9),
		}},
	}
	reports, _ := coord.Synthesize(context.Background(), results)
	if len(reports) != 2 {
		t.Fatalf("expected two reports, got %d", len(reports))
	}
	if reports[0].Source != models.SourceCryptocurrency {
		t.Errorf("reports not ordered by severity: %+v", reports)
	}
}

func TestCoordinatorPublishesAndLinksReports(t *testing.T) {
	coord, kg := testCoordinator(false)
	ts := batchStart

	results := []models.AgentResult{
		{AgentName: NameStatistical, Weight: 0.25, Anomalies: []models.AgentAnomaly{
			detection(NameStatistical, 0.25, models.SourceCryptocurrency, "price_BTC", ts, 0.9, 0.8),
			detection(NameStatistical, 0.25, models.SourceCryptocurrency, "price_ETH", ts.Add(2*time.Minute), 0.8, 0.4),
		}},
	}
	reports, _ := coord.Synthesize(context.Background(), results)
	if len(reports) != 2 {
		t.Fatalf("expected two reports, got %d", len(reports))
	}

	for _, r := range reports {
		if _, ok := kg.NodeByID(r.AnomalyID); !ok {
			t.Errorf("report %s not mirrored into the graph", r.AnomalyID)
		}
	}

	// Two minutes apart and same source, so temporal, correlation, and
	// causal relationships all apply; only one edge survives per node
	// pair, and causal is derived last. Reports are ordered by severity,
	// so the BTC report links to the ETH report.
	first, second := reports[0].AnomalyID, reports[1].AnomalyID
	if !kg.HasEdge(first, second) {
		t.Fatal("expected an edge from the first report to the second")
	}
	edges := kg.Successors(first)
	if len(edges) != 1 {
		t.Fatalf("expected a single surviving edge, got %d", len(edges))
	}
	if edges[0].Type != graph.EdgeCausal {
		t.Errorf("surviving edge type = %s, want causal", edges[0].Type)
	}
	// BTC precedes ETH within ten minutes and carries high severity, so
	// the causal edge gets the severity bonus.
	if math.Abs(edges[0].Confidence-0.8) > 1e-9 {
		t.Errorf("causal confidence = %f, want 0.8", edges[0].Confidence)
	}
	if edges[0].Metadata["time_diff_seconds"].(float64) != 120 {
		t.Errorf("causal metadata wrong: %v", edges[0].Metadata)
	}
}

func TestCoordinatorNoveltyBumpsFirstSighting(t *testing.T) {
	coord, _ := testCoordinator(true)

	first := []models.AgentResult{
		{AgentName: NameStatistical, Weight: 0.25, Anomalies: []models.AgentAnomaly{
			detection(NameStatistical, 0.25, models.SourceCryptocurrency, "price_BTC", batchStart, 0.9, 0.6),
		}},
	}
	reports, _ := coord.Synthesize(context.Background(), first)
	if len(reports) != 1 {
		t.Fatalf("expected one report, got %d", len(reports))
	}
	if want := 0.7; math.Abs(reports[0].SeverityScore-want) > 1e-9 {
		t.Errorf("novel pattern severity = %f, want %f", reports[0].SeverityScore, want)
	}

	// The same pattern a few minutes later matches the stored signature
	// and gets no novelty bump.
	repeat := []models.AgentResult{
		{AgentName: NameStatistical, Weight: 0.25, Anomalies: []models.AgentAnomaly{
			detection(NameStatistical, 0.25, models.SourceCryptocurrency, "price_BTC", batchStart.Add(5*time.Minute), 0.9, 0.6),
		}},
	}
	reports, _ = coord.Synthesize(context.Background(), repeat)
	if len(reports) != 1 {
		t.Fatalf("expected one report, got %d", len(reports))
	}
	if want := 0.6; math.Abs(reports[0].SeverityScore-want) > 1e-9 {
		t.Errorf("repeated pattern severity = %f, want %f", reports[0].SeverityScore, want)
	}
}
