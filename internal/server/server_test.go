package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/driftwatch/driftwatch/internal/config"
	"github.com/driftwatch/driftwatch/internal/graph"
	"github.com/driftwatch/driftwatch/internal/models"
	"github.com/driftwatch/driftwatch/internal/pipeline"
	"github.com/driftwatch/driftwatch/internal/sources"
)

type stubAnalyzer struct {
	result models.AnalysisResult
}

func (s *stubAnalyzer) Analyze(ctx context.Context, current, historical []models.DataPoint) models.AnalysisResult {
	return s.result
}

func newTestServer(t *testing.T, result models.AnalysisResult) (*Server, *httptest.Server, *graph.KnowledgeGraph) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Server.AllowedOrigins = []string{"*"}

	kg := graph.New(cfg.KnowledgeGraph.MaxNodes, cfg.KnowledgeGraph.EdgeExpiryHours,
		cfg.KnowledgeGraph.SimilarityThreshold, zap.NewNop())
	pipe := pipeline.New(&stubAnalyzer{result: result}, 0, zap.NewNop())

	collector := sources.NewCollector(cfg, zap.NewNop())
	collector.Register(sources.Func{
		SourceName: models.SourceCryptocurrency,
		FetchFunc: func(ctx context.Context) ([]models.DataPoint, error) {
			return []models.DataPoint{{
				Source:    models.SourceCryptocurrency,
				Metric:    "price_BTC",
				Value:     100,
				Timestamp: time.Now().UTC(),
			}}, nil
		},
	})

	srv := New(cfg, pipe, collector, kg, zap.NewNop())
	t.Cleanup(func() { srv.limiter.Stop() })

	mux := http.NewServeMux()
	srv.registerHandlers(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return srv, ts, kg
}

func getJSON(t *testing.T, url string, wantCode int) map[string]interface{} {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantCode {
		t.Fatalf("GET %s = %d, want %d", url, resp.StatusCode, wantCode)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	return body
}

func TestHealthEndpoint(t *testing.T) {
	_, ts, _ := newTestServer(t, models.AnalysisResult{})

	body := getJSON(t, ts.URL+"/api/health", http.StatusOK)
	if body["status"] != "healthy" {
		t.Errorf("status = %v", body["status"])
	}
	srcs := body["sources"].([]interface{})
	if len(srcs) != 1 || srcs[0] != models.SourceCryptocurrency {
		t.Errorf("sources = %v", srcs)
	}
}

func TestAnalyzeEndpointRunsCycleAndLatestFollows(t *testing.T) {
	result := models.AnalysisResult{
		TotalAnomalies: 1,
		Reports: []models.AnomalyReport{{
			AnomalyID:     "cryptocurrency_price_BTC_20240301_120000",
			SeverityLabel: models.SeverityMedium,
		}},
	}
	_, ts, _ := newTestServer(t, result)

	resp, err := http.Post(ts.URL+"/api/analyze", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /api/analyze = %d", resp.StatusCode)
	}
	var analyzed models.AnalysisResult
	if err := json.NewDecoder(resp.Body).Decode(&analyzed); err != nil {
		t.Fatal(err)
	}
	if analyzed.CycleID == "" || analyzed.TotalAnomalies != 1 {
		t.Errorf("analyze result = %+v", analyzed)
	}

	latest := getJSON(t, ts.URL+"/api/analysis/latest", http.StatusOK)
	if latest["cycle_id"] != analyzed.CycleID {
		t.Errorf("latest cycle = %v, want %s", latest["cycle_id"], analyzed.CycleID)
	}
}

func TestLatestBeforeFirstCycle(t *testing.T) {
	_, ts, _ := newTestServer(t, models.AnalysisResult{})
	getJSON(t, ts.URL+"/api/analysis/latest", http.StatusNotFound)
}

func TestAnalyzeRejectsGet(t *testing.T) {
	_, ts, _ := newTestServer(t, models.AnalysisResult{})
	getJSON(t, ts.URL+"/api/analyze", http.StatusMethodNotAllowed)
}

func TestGraphQueryEndpoints(t *testing.T) {
	_, ts, kg := newTestServer(t, models.AnalysisResult{})

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	kg.AddAnomaly(graph.Node{
		ID: "a", Timestamp: now, Source: models.SourceCryptocurrency,
		Metric: "price_BTC", Value: 50, Confidence: 0.9,
		Severity: models.SeverityHigh, Methods: []string{"zscore"}, Deviation: 5,
	})
	kg.AddAnomaly(graph.Node{
		ID: "b", Timestamp: now.Add(time.Minute), Source: models.SourceCryptocurrency,
		Metric: "price_ETH", Value: 30, Confidence: 0.8,
		Severity: models.SeverityMedium, Methods: []string{"zscore"}, Deviation: 4,
	})
	kg.AddRelationship("a", "b", graph.EdgeCausal, 0.8, nil)

	stats := getJSON(t, ts.URL+"/api/graph/stats", http.StatusOK)
	if stats["num_nodes"].(float64) != 2 || stats["num_edges"].(float64) != 1 {
		t.Errorf("stats = %v", stats)
	}

	related := getJSON(t, ts.URL+"/api/graph/related?anomaly_id=a", http.StatusOK)
	if related["count"].(float64) != 1 {
		t.Errorf("related = %v", related)
	}

	chain := getJSON(t, ts.URL+"/api/graph/causal-chain?start=a&target=b", http.StatusOK)
	if chain["count"].(float64) != 1 {
		t.Errorf("causal chain = %v", chain)
	}

	export := getJSON(t, ts.URL+"/api/graph/export", http.StatusOK)
	if len(export["nodes"].([]interface{})) != 2 {
		t.Errorf("export = %v", export)
	}

	rc := getJSON(t, ts.URL+"/api/graph/root-cause?anomaly_id=b", http.StatusOK)
	if rc["narrative"] == "" {
		t.Errorf("root cause = %v", rc)
	}

	getJSON(t, ts.URL+"/api/graph/context?anomaly_id=a", http.StatusOK)
	getJSON(t, ts.URL+"/api/graph/context?anomaly_id=missing", http.StatusNotFound)
	getJSON(t, ts.URL+"/api/graph/related", http.StatusBadRequest)
	getJSON(t, ts.URL+"/api/graph/similar", http.StatusBadRequest)
	getJSON(t, ts.URL+"/api/graph/causal-chain?start=a", http.StatusBadRequest)
}
