package graph

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// RootCause is the result of tracing an anomaly's causal ancestry.
type RootCause struct {
	IsRootCause      bool       `json:"is_root_cause"`
	AnomalyID        string     `json:"anomaly_id"`
	Confidence       float64    `json:"confidence,omitempty"`
	Explanation      string     `json:"explanation,omitempty"`
	ImmediateCause   *ChainStep `json:"immediate_cause,omitempty"`
	RootCause        *RootCause `json:"root_cause,omitempty"`
	CausalChainLen   int        `json:"causal_chain_length,omitempty"`
}

// Downstream is one anomaly reached by following causal edges forward.
type Downstream struct {
	AnomalyID string   `json:"anomaly_id"`
	Depth     int      `json:"depth"`
	Path      []string `json:"path"`
	Node      *Node    `json:"node_data"`
	Edge      *Edge    `json:"edge_data"`
}

// Cascade is a burst of related anomalies inside one time window.
type Cascade struct {
	WindowStart  time.Time `json:"window_start"`
	WindowEnd    time.Time `json:"window_end"`
	AnomalyCount int       `json:"anomaly_count"`
	RelatedPairs int       `json:"related_pairs"`
	AnomalyIDs   []string  `json:"anomaly_ids"`
	Severity     float64   `json:"severity"`
}

// Cluster is a connected component of correlation edges.
type Cluster struct {
	Size            int      `json:"size"`
	AnomalyIDs      []string `json:"anomaly_ids"`
	AffectedSources []string `json:"affected_sources"`
	AffectedMetrics []string `json:"affected_metrics"`
	IsCrossSource   bool     `json:"is_cross_source"`
}

// Tracer answers causal and cascade questions over a knowledge graph.
type Tracer struct {
	graph *KnowledgeGraph
}

// NewTracer wraps a knowledge graph for relationship tracing.
func NewTracer(g *KnowledgeGraph) *Tracer {
	return &Tracer{graph: g}
}

// TraceRootCause walks incoming causal edges back to the earliest
// ancestor. An anomaly with no causal predecessors is reported as the
// root itself.
func (t *Tracer) TraceRootCause(anomalyID string) RootCause {
	var causal []*Edge
	for _, edge := range t.graph.Predecessors(anomalyID) {
		if edge.Type == EdgeCausal {
			causal = append(causal, edge)
		}
	}

	if len(causal) == 0 {
		return RootCause{
			IsRootCause: true,
			AnomalyID:   anomalyID,
			Confidence:  0.8,
			Explanation: "No causal predecessors found - likely a root cause",
		}
	}

	// Follow the earliest predecessor.
	earliest := causal[0]
	earliestTime := t.nodeTime(earliest.From)
	for _, edge := range causal[1:] {
		if ts := t.nodeTime(edge.From); ts.Before(earliestTime) {
			earliest = edge
			earliestTime = ts
		}
	}

	node, _ := t.graph.NodeByID(earliest.From)
	further := t.TraceRootCause(earliest.From)
	return RootCause{
		IsRootCause:    false,
		AnomalyID:      anomalyID,
		ImmediateCause: &ChainStep{AnomalyID: earliest.From, Node: node, Edge: earliest},
		RootCause:      &further,
		CausalChainLen: 1 + further.CausalChainLen,
	}
}

// TraceDownstream finds every anomaly reachable through causal edges,
// up to maxDepth hops forward.
func (t *Tracer) TraceDownstream(anomalyID string, maxDepth int) []Downstream {
	var affected []Downstream

	var dfs func(current string, depth int, path []string)
	dfs = func(current string, depth int, path []string) {
		if depth >= maxDepth {
			return
		}
		for _, edge := range t.graph.Successors(current) {
			if edge.Type != EdgeCausal {
				continue
			}
			if containsString(path, edge.To) {
				continue
			}
			node, _ := t.graph.NodeByID(edge.To)
			next := append(append([]string(nil), path...), edge.To)
			affected = append(affected, Downstream{
				AnomalyID: edge.To,
				Depth:     depth + 1,
				Path:      next,
				Node:      node,
				Edge:      edge,
			})
			dfs(edge.To, depth+1, next)
		}
	}
	dfs(anomalyID, 0, []string{anomalyID})
	return affected
}

// FindCascades groups anomalies into fixed time windows and reports
// windows holding at least minAnomalies with at least one related pair.
func (t *Tracer) FindCascades(window time.Duration, minAnomalies int) []Cascade {
	if window <= 0 {
		window = 30 * time.Minute
	}

	groups := make(map[time.Time][]string)
	for id, ts := range t.graph.NodeTimestamps() {
		key := ts.Truncate(window)
		groups[key] = append(groups[key], id)
	}

	keys := make([]time.Time, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(a, b int) bool { return keys[a].Before(keys[b]) })

	var cascades []Cascade
	for _, key := range keys {
		ids := groups[key]
		if len(ids) < minAnomalies {
			continue
		}
		sort.Strings(ids)

		relatedPairs := 0
		for i, a := range ids {
			for _, b := range ids[i+1:] {
				if t.graph.HasEdge(a, b) || t.graph.HasEdge(b, a) {
					relatedPairs++
				}
			}
		}
		if relatedPairs == 0 {
			continue
		}

		cascades = append(cascades, Cascade{
			WindowStart:  key,
			WindowEnd:    key.Add(window),
			AnomalyCount: len(ids),
			RelatedPairs: relatedPairs,
			AnomalyIDs:   ids,
			Severity:     t.cascadeSeverity(ids),
		})
	}
	return cascades
}

// FindCorrelationClusters returns connected components of the
// undirected correlation subgraph with at least minSize members.
func (t *Tracer) FindCorrelationClusters(minSize int) []Cluster {
	// Undirected adjacency over correlation edges only.
	adjacency := make(map[string][]string)
	export := t.graph.ExportGraph()
	for _, edge := range export.Edges {
		if edge.Type != EdgeCorrelation {
			continue
		}
		adjacency[edge.From] = append(adjacency[edge.From], edge.To)
		adjacency[edge.To] = append(adjacency[edge.To], edge.From)
	}

	members := make([]string, 0, len(adjacency))
	for id := range adjacency {
		members = append(members, id)
	}
	sort.Strings(members)

	var clusters []Cluster
	seen := make(map[string]bool)
	for _, start := range members {
		if seen[start] {
			continue
		}
		var component []string
		stack := []string{start}
		seen[start] = true
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			component = append(component, cur)
			for _, next := range adjacency[cur] {
				if !seen[next] {
					seen[next] = true
					stack = append(stack, next)
				}
			}
		}
		if len(component) < minSize {
			continue
		}
		sort.Strings(component)

		sources := make(map[string]bool)
		metrics := make(map[string]bool)
		for _, id := range component {
			if node, ok := t.graph.NodeByID(id); ok {
				sources[node.Source] = true
				metrics[node.Metric] = true
			}
		}
		clusters = append(clusters, Cluster{
			Size:            len(component),
			AnomalyIDs:      component,
			AffectedSources: sortedKeys(sources),
			AffectedMetrics: sortedKeys(metrics),
			IsCrossSource:   len(sources) > 1,
		})
	}
	return clusters
}

// Narrative renders a short human-readable summary of an anomaly's
// position in the graph.
func (t *Tracer) Narrative(anomalyID string) string {
	node, ok := t.graph.NodeByID(anomalyID)
	if !ok {
		return fmt.Sprintf("Anomaly %s not found in knowledge graph.", anomalyID)
	}

	var parts []string
	parts = append(parts, fmt.Sprintf(
		"Anomaly detected in %s for metric '%s' with %s severity (confidence: %.2f).",
		node.Source, node.Metric, node.Severity, node.Confidence))

	if neighbors := t.graph.TemporalNeighbors(anomalyID, time.Hour); len(neighbors) > 0 {
		parts = append(parts, fmt.Sprintf(
			"This anomaly occurred alongside %d other anomalies in the same time window.", len(neighbors)))
	}

	rootCause := t.TraceRootCause(anomalyID)
	if rootCause.IsRootCause {
		parts = append(parts, "This appears to be a root cause anomaly.")
	} else {
		parts = append(parts, fmt.Sprintf(
			"This appears to be a downstream effect, with a causal chain of %d steps.", rootCause.CausalChainLen))
	}

	if downstream := t.TraceDownstream(anomalyID, 3); len(downstream) > 0 {
		parts = append(parts, fmt.Sprintf("This anomaly triggered %d downstream anomalies.", len(downstream)))
	}

	if similar := t.graph.FindSimilar(anomalyID, 5); len(similar) > 0 {
		parts = append(parts, fmt.Sprintf(
			"Similar patterns were observed in %d historical anomalies.", len(similar)))
	}

	return strings.Join(parts, " ")
}

// cascadeSeverity blends the max member severity with the average:
// max*0.7 + avg*0.3, on the low=0.25 .. critical=1.0 scale.
func (t *Tracer) cascadeSeverity(ids []string) float64 {
	if len(ids) == 0 {
		return 0
	}
	severityScale := map[string]float64{
		"low":      0.25,
		"medium":   0.5,
		"high":     0.75,
		"critical": 1.0,
	}

	maxSev, sum := 0.0, 0.0
	for _, id := range ids {
		score := 0.5
		if node, ok := t.graph.NodeByID(id); ok {
			if v, ok := severityScale[node.Severity]; ok {
				score = v
			}
		}
		if score > maxSev {
			maxSev = score
		}
		sum += score
	}
	return maxSev*0.7 + (sum/float64(len(ids)))*0.3
}

func (t *Tracer) nodeTime(id string) time.Time {
	if node, ok := t.graph.NodeByID(id); ok {
		return node.Timestamp
	}
	return time.Time{}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
