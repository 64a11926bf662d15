package graph

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func testGraph(maxNodes int) *KnowledgeGraph {
	return New(maxNodes, 168, 0.8, zap.NewNop())
}

func at(minute int) time.Time {
	return time.Date(2024, 3, 1, 12, minute, 0, 0, time.UTC)
}

func addNode(g *KnowledgeGraph, id, source, metric string, minute int) {
	g.AddAnomaly(Node{
		ID:          id,
		Timestamp:   at(minute),
		Source:      source,
		Metric:      metric,
		Confidence:  0.9,
		Severity:    "high",
		Deviation:   4.0,
		PatternType: "spike",
	})
}

func TestAddAnomalyAndStats(t *testing.T) {
	g := testGraph(100)
	addNode(g, "a", "cryptocurrency", "price_BTC", 0)
	addNode(g, "b", "weather", "temp_Tokyo", 5)
	g.AddRelationship("a", "b", EdgeTemporal, 0.7, nil)

	stats := g.Stats()
	if stats.NumNodes != 2 || stats.NumEdges != 1 || stats.NumSignatures != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if !stats.OldestNode.Equal(at(0)) || !stats.NewestNode.Equal(at(5)) {
		t.Errorf("node age range wrong: %+v", stats)
	}
	if stats.AvgDegree != 1 {
		t.Errorf("avg degree = %f, want 1", stats.AvgDegree)
	}
}

func TestAddRelationshipMissingEndpoint(t *testing.T) {
	g := testGraph(100)
	addNode(g, "a", "cryptocurrency", "price_BTC", 0)
	g.AddRelationship("a", "ghost", EdgeCausal, 0.8, nil)
	g.AddRelationship("ghost", "a", EdgeCausal, 0.8, nil)
	if got := g.Stats().NumEdges; got != 0 {
		t.Errorf("edges to missing nodes must be dropped, got %d", got)
	}
}

func TestEvictionKeepsNewestAndDropsEdges(t *testing.T) {
	g := testGraph(3)
	for i, id := range []string{"n1", "n2", "n3", "n4"} {
		addNode(g, id, "cryptocurrency", "price_BTC", i)
	}
	g.AddRelationship("n2", "n3", EdgeCausal, 0.8, nil)
	addNode(g, "n5", "cryptocurrency", "price_BTC", 4)

	stats := g.Stats()
	if stats.NumNodes != 3 {
		t.Fatalf("expected 3 nodes after eviction, got %d", stats.NumNodes)
	}
	for _, id := range []string{"n1", "n2"} {
		if _, ok := g.NodeByID(id); ok {
			t.Errorf("oldest node %s should be evicted", id)
		}
	}
	for _, id := range []string{"n3", "n4", "n5"} {
		if _, ok := g.NodeByID(id); !ok {
			t.Errorf("newest node %s should survive", id)
		}
	}
	// The n2 -> n3 edge went with its evicted endpoint.
	if stats.NumEdges != 0 {
		t.Errorf("expected incident edges to be removed, got %d", stats.NumEdges)
	}
	if g.HasEdge("n2", "n3") {
		t.Error("edge to an evicted node still present")
	}
}

func TestFindRelatedBFS(t *testing.T) {
	g := testGraph(100)
	for i, id := range []string{"a", "b", "c", "d", "weak"} {
		addNode(g, id, "cryptocurrency", "price_BTC", i)
	}
	g.AddRelationship("a", "b", EdgeCausal, 0.8, nil)
	g.AddRelationship("b", "c", EdgeCorrelation, 0.6, nil)
	g.AddRelationship("c", "d", EdgeCausal, 0.9, nil)
	g.AddRelationship("a", "weak", EdgeTemporal, 0.3, nil)

	related := g.FindRelated("a", 2, 0.5)
	got := map[string]int{}
	for _, r := range related {
		got[r.AnomalyID] = r.Distance
	}

	if got["b"] != 1 {
		t.Errorf("b should be one hop away, got %d", got["b"])
	}
	if got["c"] != 2 {
		t.Errorf("c should be two hops away, got %d", got["c"])
	}
	if _, ok := got["d"]; ok {
		t.Error("d is three hops away and must not be returned at max distance 2")
	}
	if _, ok := got["weak"]; ok {
		t.Error("low-confidence edges must not be followed")
	}

	for _, r := range related {
		if r.AnomalyID == "c" && len(r.Path) != 2 {
			t.Errorf("path to c should have 2 hops, got %v", r.Path)
		}
	}
}

func TestFindRelatedUnknownNode(t *testing.T) {
	g := testGraph(100)
	if got := g.FindRelated("nope", 2, 0.5); got != nil {
		t.Errorf("expected nil for unknown node, got %v", got)
	}
}

func TestFindCausalChain(t *testing.T) {
	g := testGraph(100)
	for i, id := range []string{"a", "b", "c", "x"} {
		addNode(g, id, "cryptocurrency", "price_BTC", i)
	}
	g.AddRelationship("a", "b", EdgeCausal, 0.8, nil)
	g.AddRelationship("b", "c", EdgeCausal, 0.8, nil)
	g.AddRelationship("a", "x", EdgeCorrelation, 0.9, nil)

	chains := g.FindCausalChain("a", "", 5)
	if len(chains) == 0 {
		t.Fatal("expected at least one causal chain")
	}

	longest := chains[0]
	for _, c := range chains {
		if len(c) > len(longest) {
			longest = c
		}
	}
	if len(longest) != 3 {
		t.Fatalf("expected chain a->b->c of 3 nodes, got %d", len(longest))
	}
	want := []string{"a", "b", "c"}
	for i, step := range longest {
		if step.AnomalyID != want[i] {
			t.Errorf("chain[%d] = %s, want %s", i, step.AnomalyID, want[i])
		}
	}
	// Correlation edges are never part of a causal chain.
	for _, c := range chains {
		for _, step := range c {
			if step.AnomalyID == "x" {
				t.Error("correlation neighbor leaked into a causal chain")
			}
		}
	}
}

func TestFindCausalChainWithTarget(t *testing.T) {
	g := testGraph(100)
	for i, id := range []string{"a", "b", "c"} {
		addNode(g, id, "cryptocurrency", "price_BTC", i)
	}
	g.AddRelationship("a", "b", EdgeCausal, 0.8, nil)
	g.AddRelationship("b", "c", EdgeCausal, 0.8, nil)

	chains := g.FindCausalChain("a", "c", 5)
	if len(chains) != 1 {
		t.Fatalf("expected exactly one chain to the target, got %d", len(chains))
	}
	if chains[0][len(chains[0])-1].AnomalyID != "c" {
		t.Errorf("chain should end at the target, got %+v", chains[0])
	}
}

func TestFindSimilarThresholdAndOrder(t *testing.T) {
	g := testGraph(100)
	// Twin signature: same source, metric, pattern, near magnitude.
	g.AddAnomaly(Node{ID: "orig", Timestamp: at(0), Source: "cryptocurrency", Metric: "price_BTC", Deviation: 4.0, PatternType: "spike"})
	g.AddAnomaly(Node{ID: "twin", Timestamp: at(1), Source: "cryptocurrency", Metric: "price_BTC", Deviation: 3.8, PatternType: "spike"})
	// Same source only: scores 0.2 plus a magnitude term, below 0.8.
	g.AddAnomaly(Node{ID: "far", Timestamp: at(2), Source: "cryptocurrency", Metric: "humidity", Deviation: 0.1, PatternType: "dip"})

	matches := g.FindSimilar("orig", 5)
	if len(matches) != 1 {
		t.Fatalf("expected only the twin above threshold, got %d", len(matches))
	}
	if matches[0].AnomalyID != "twin" {
		t.Errorf("expected twin, got %s", matches[0].AnomalyID)
	}
	if matches[0].Similarity < 0.8 {
		t.Errorf("similarity below threshold returned: %f", matches[0].Similarity)
	}
}

func TestSignatureSimilarityWeights(t *testing.T) {
	a := Signature{Source: "s", Metric: "m", Magnitude: 2, PatternType: "spike"}
	b := Signature{Source: "s", Metric: "m", Magnitude: 2, PatternType: "spike"}
	if got := signatureSimilarity(a, b); got != 1.0 {
		t.Errorf("identical signatures = %f, want 1.0", got)
	}
	b.Magnitude = 1 // half the magnitude contributes half the 0.3 weight
	if got := signatureSimilarity(a, b); got != 0.85 {
		t.Errorf("half magnitude = %f, want 0.85", got)
	}
	b = Signature{Source: "other", Metric: "other", Magnitude: 0, PatternType: "other"}
	if got := signatureSimilarity(a, b); got != 0 {
		t.Errorf("disjoint signatures = %f, want 0", got)
	}
}

func TestTemporalNeighbors(t *testing.T) {
	g := testGraph(100)
	addNode(g, "center", "cryptocurrency", "price_BTC", 30)
	addNode(g, "close", "weather", "temp", 35)
	addNode(g, "edge", "github", "events", 85)   // 55 minutes out
	g.AddAnomaly(Node{ID: "outside", Timestamp: at(30).Add(2 * time.Hour), Source: "github", Metric: "events"})

	neighbors := g.TemporalNeighbors("center", time.Hour)
	if len(neighbors) != 2 {
		t.Fatalf("expected 2 neighbors inside the window, got %d", len(neighbors))
	}
	if neighbors[0].AnomalyID != "close" || neighbors[1].AnomalyID != "edge" {
		t.Errorf("neighbors should be ordered by proximity: %+v", neighbors)
	}
	if neighbors[0].TimeDiffSeconds != 300 {
		t.Errorf("time diff = %f, want 300", neighbors[0].TimeDiffSeconds)
	}
}

func TestGetContext(t *testing.T) {
	g := testGraph(100)
	addNode(g, "a", "cryptocurrency", "price_BTC", 0)
	addNode(g, "b", "cryptocurrency", "price_BTC", 1)
	g.AddRelationship("a", "b", EdgeCausal, 0.8, nil)

	ctx, ok := g.GetContext("a")
	if !ok {
		t.Fatal("expected context for a present node")
	}
	if ctx.Node == nil || ctx.Node.ID != "a" {
		t.Fatalf("wrong node in context: %+v", ctx.Node)
	}
	if len(ctx.RelatedAnomalies) != 1 {
		t.Errorf("expected 1 related anomaly, got %d", len(ctx.RelatedAnomalies))
	}
	if len(ctx.CausalChains) == 0 {
		t.Error("expected the a->b causal chain in context")
	}
	if len(ctx.TemporalNeighbors) != 1 {
		t.Errorf("expected 1 temporal neighbor, got %d", len(ctx.TemporalNeighbors))
	}

	if _, ok := g.GetContext("ghost"); ok {
		t.Error("expected no context for an unknown node")
	}
}

func TestExportGraphStableOrder(t *testing.T) {
	g := testGraph(100)
	addNode(g, "b", "weather", "temp", 1)
	addNode(g, "a", "cryptocurrency", "price_BTC", 0)
	g.AddRelationship("b", "a", EdgeTemporal, 0.7, nil)

	exp := g.ExportGraph()
	if len(exp.Nodes) != 2 || len(exp.Edges) != 1 {
		t.Fatalf("unexpected export sizes: %d nodes, %d edges", len(exp.Nodes), len(exp.Edges))
	}
	if exp.Nodes[0].ID != "a" || exp.Nodes[1].ID != "b" {
		t.Errorf("nodes should be ID-ordered: %s, %s", exp.Nodes[0].ID, exp.Nodes[1].ID)
	}
	if exp.Stats.NumNodes != 2 {
		t.Errorf("export stats out of sync: %+v", exp.Stats)
	}
}
