// Package graph maintains the temporal knowledge graph of anomalies.
// Nodes are anomaly events, directed edges are typed relationships
// (temporal, correlation, causal). The graph is bounded: when it grows
// past max_nodes the oldest nodes are evicted together with their
// incident edges, and edges past the expiry window are pruned.
package graph

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Relationship edge types.
const (
	EdgeTemporal    = "temporal"
	EdgeCorrelation = "correlation"
	EdgeCausal      = "causal"
)

// Node is an anomaly event stored in the graph. Deviation and
// PatternType feed the similarity signature.
type Node struct {
	ID          string         `json:"id"`
	Timestamp   time.Time      `json:"timestamp"`
	Source      string         `json:"source"`
	Metric      string         `json:"metric"`
	Value       float64        `json:"value"`
	Confidence  float64        `json:"confidence"`
	Severity    string         `json:"severity"`
	Methods     []string       `json:"methods"`
	Deviation   float64        `json:"deviation,omitempty"`
	PatternType string         `json:"pattern_type,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Edge is a typed, directed relationship between two anomalies.
type Edge struct {
	From       string         `json:"source"`
	To         string         `json:"target"`
	Type       string         `json:"type"`
	Confidence float64        `json:"confidence"`
	CreatedAt  time.Time      `json:"created_at"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Signature is the structural fingerprint used for pattern matching.
type Signature struct {
	Source      string   `json:"source"`
	Metric      string   `json:"metric"`
	Magnitude   float64  `json:"magnitude"`
	Confidence  float64  `json:"confidence"`
	Methods     []string `json:"methods"`
	PatternType string   `json:"pattern_type"`
}

// PathStep is one hop on a relationship path.
type PathStep struct {
	From string `json:"from"`
	To   string `json:"to"`
	Type string `json:"type"`
}

// Related is a BFS hit from FindRelated.
type Related struct {
	AnomalyID        string     `json:"anomaly_id"`
	Distance         int        `json:"distance"`
	Path             []PathStep `json:"path"`
	RelationshipType string     `json:"relationship_type"`
	Confidence       float64    `json:"confidence"`
	Node             *Node      `json:"node_data"`
}

// ChainStep is one node on a causal chain.
type ChainStep struct {
	AnomalyID string `json:"anomaly_id"`
	Node      *Node  `json:"node_data"`
	Edge      *Edge  `json:"edge_data,omitempty"`
}

// Similar is a signature match from FindSimilar.
type Similar struct {
	AnomalyID  string    `json:"anomaly_id"`
	Similarity float64   `json:"similarity"`
	Signature  Signature `json:"signature"`
	Node       *Node     `json:"node_data"`
}

// TemporalNeighbor is an anomaly that occurred near in time.
type TemporalNeighbor struct {
	AnomalyID       string    `json:"anomaly_id"`
	Timestamp       time.Time `json:"timestamp"`
	TimeDiffSeconds float64   `json:"time_diff_seconds"`
	Node            *Node     `json:"node_data"`
}

// Context is the full neighborhood of one anomaly.
type Context struct {
	AnomalyID         string             `json:"anomaly_id"`
	Node              *Node              `json:"node_data"`
	Signature         Signature          `json:"signature"`
	RelatedAnomalies  []Related          `json:"related_anomalies"`
	CausalChains      [][]ChainStep      `json:"causal_chains"`
	SimilarPatterns   []Similar          `json:"similar_patterns"`
	TemporalNeighbors []TemporalNeighbor `json:"temporal_neighbors"`
}

// Stats summarizes graph size and age.
type Stats struct {
	NumNodes      int       `json:"num_nodes"`
	NumEdges      int       `json:"num_edges"`
	NumSignatures int       `json:"num_signatures"`
	OldestNode    time.Time `json:"oldest_node,omitempty"`
	NewestNode    time.Time `json:"newest_node,omitempty"`
	AvgDegree     float64   `json:"avg_degree"`
}

// Export is the visualization-ready snapshot of the graph.
type Export struct {
	Nodes []*Node `json:"nodes"`
	Edges []*Edge `json:"edges"`
	Stats Stats   `json:"stats"`
}

// KnowledgeGraph is a bounded, concurrency-safe directed graph of
// anomaly events. All query methods take read locks; mutation takes the
// write lock.
type KnowledgeGraph struct {
	mu sync.RWMutex

	maxNodes            int
	edgeExpiry          time.Duration
	similarityThreshold float64

	nodes      map[string]*Node
	out        map[string]map[string]*Edge
	in         map[string]map[string]*Edge
	signatures map[string]Signature

	logger *zap.Logger
	now    func() time.Time
}

// New builds an empty knowledge graph bounded at maxNodes, with edges
// expiring after edgeExpiryHours and similarity matches cut at
// similarityThreshold.
func New(maxNodes, edgeExpiryHours int, similarityThreshold float64, logger *zap.Logger) *KnowledgeGraph {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KnowledgeGraph{
		maxNodes:            maxNodes,
		edgeExpiry:          time.Duration(edgeExpiryHours) * time.Hour,
		similarityThreshold: similarityThreshold,
		nodes:               make(map[string]*Node),
		out:                 make(map[string]map[string]*Edge),
		in:                  make(map[string]map[string]*Edge),
		signatures:          make(map[string]Signature),
		logger:              logger,
		now:                 time.Now,
	}
}

// AddAnomaly inserts (or replaces) an anomaly node, records its
// signature, and evicts the oldest nodes if the graph is over capacity.
func (g *KnowledgeGraph) AddAnomaly(node Node) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if node.Timestamp.IsZero() {
		node.Timestamp = g.now()
	}
	if node.Severity == "" {
		node.Severity = "medium"
	}

	if node.PatternType == "" {
		node.PatternType = "unknown"
	}

	n := node
	g.nodes[n.ID] = &n
	magnitude := n.Deviation
	if magnitude < 0 {
		magnitude = -magnitude
	}
	g.signatures[n.ID] = Signature{
		Source:      n.Source,
		Metric:      n.Metric,
		Magnitude:   magnitude,
		Confidence:  n.Confidence,
		Methods:     n.Methods,
		PatternType: n.PatternType,
	}

	g.pruneExpiredEdges()
	g.evictOldest()

	g.logger.Debug("added anomaly node", zap.String("anomaly_id", n.ID))
}

// AddRelationship adds a typed edge between two existing anomalies.
// Missing endpoints make this a silent no-op apart from a warning log.
func (g *KnowledgeGraph) AddRelationship(from, to, relType string, confidence float64, metadata map[string]any) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[from]; !ok {
		g.logger.Warn("cannot add edge: node not in graph", zap.String("anomaly_id", from))
		return
	}
	if _, ok := g.nodes[to]; !ok {
		g.logger.Warn("cannot add edge: node not in graph", zap.String("anomaly_id", to))
		return
	}

	edge := &Edge{
		From:       from,
		To:         to,
		Type:       relType,
		Confidence: confidence,
		CreatedAt:  g.now(),
		Metadata:   metadata,
	}
	if g.out[from] == nil {
		g.out[from] = make(map[string]*Edge)
	}
	if g.in[to] == nil {
		g.in[to] = make(map[string]*Edge)
	}
	g.out[from][to] = edge
	g.in[to][from] = edge

	g.logger.Debug("added relationship edge",
		zap.String("type", relType),
		zap.String("from", from),
		zap.String("to", to))
}

// FindRelated walks outgoing edges breadth-first up to maxDistance hops,
// following only edges at or above minConfidence. Each reachable node is
// reported once, with the path that first discovered it.
func (g *KnowledgeGraph) FindRelated(anomalyID string, maxDistance int, minConfidence float64) []Related {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.nodes[anomalyID]; !ok {
		return nil
	}

	type queueItem struct {
		id       string
		distance int
		path     []PathStep
	}

	var related []Related
	visited := map[string]bool{anomalyID: true}
	queue := []queueItem{{id: anomalyID}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.distance >= maxDistance {
			continue
		}

		for _, neighbor := range g.sortedNeighbors(cur.id) {
			if visited[neighbor] {
				continue
			}
			edge := g.out[cur.id][neighbor]
			if edge.Confidence < minConfidence {
				continue
			}
			visited[neighbor] = true

			path := make([]PathStep, len(cur.path), len(cur.path)+1)
			copy(path, cur.path)
			path = append(path, PathStep{From: cur.id, To: neighbor, Type: edge.Type})

			related = append(related, Related{
				AnomalyID:        neighbor,
				Distance:         cur.distance + 1,
				Path:             path,
				RelationshipType: edge.Type,
				Confidence:       edge.Confidence,
				Node:             g.nodes[neighbor],
			})
			queue = append(queue, queueItem{id: neighbor, distance: cur.distance + 1, path: path})
		}
	}
	return related
}

// FindCausalChain enumerates causal paths from start, depth-first, up to
// maxLength nodes per chain. With a target, only chains reaching it are
// returned; without one, every maximal path of two or more nodes is.
func (g *KnowledgeGraph) FindCausalChain(start, target string, maxLength int) [][]ChainStep {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.nodes[start]; !ok {
		return nil
	}

	var chains [][]ChainStep
	visited := map[string]bool{start: true}
	path := []ChainStep{{AnomalyID: start, Node: g.nodes[start]}}

	var dfs func(current string)
	dfs = func(current string) {
		if len(path) >= maxLength {
			return
		}
		if target != "" && current == target {
			chains = append(chains, append([]ChainStep(nil), path...))
			return
		}

		for _, neighbor := range g.sortedNeighbors(current) {
			if visited[neighbor] {
				continue
			}
			edge := g.out[current][neighbor]
			if edge.Type != EdgeCausal {
				continue
			}
			visited[neighbor] = true
			path = append(path, ChainStep{AnomalyID: neighbor, Node: g.nodes[neighbor], Edge: edge})
			dfs(neighbor)
			path = path[:len(path)-1]
			delete(visited, neighbor)
		}

		if target == "" && len(path) > 1 {
			chains = append(chains, append([]ChainStep(nil), path...))
		}
	}
	dfs(start)
	return chains
}

// FindSimilar scores every other stored signature against the target's
// and returns the top matches at or above the similarity threshold.
func (g *KnowledgeGraph) FindSimilar(anomalyID string, topK int) []Similar {
	g.mu.RLock()
	defer g.mu.RUnlock()

	target, ok := g.signatures[anomalyID]
	if !ok {
		return nil
	}

	var matches []Similar
	for otherID, sig := range g.signatures {
		if otherID == anomalyID {
			continue
		}
		similarity := signatureSimilarity(target, sig)
		if similarity >= g.similarityThreshold {
			matches = append(matches, Similar{
				AnomalyID:  otherID,
				Similarity: similarity,
				Signature:  sig,
				Node:       g.nodes[otherID],
			})
		}
	}

	sort.Slice(matches, func(a, b int) bool {
		if matches[a].Similarity == matches[b].Similarity {
			return matches[a].AnomalyID < matches[b].AnomalyID
		}
		return matches[a].Similarity > matches[b].Similarity
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches
}

// GetContext assembles the full neighborhood of one anomaly: related
// nodes, causal chains, similar patterns, and temporal neighbors.
func (g *KnowledgeGraph) GetContext(anomalyID string) (Context, bool) {
	g.mu.RLock()
	node, ok := g.nodes[anomalyID]
	g.mu.RUnlock()
	if !ok {
		return Context{}, false
	}

	return Context{
		AnomalyID:         anomalyID,
		Node:              node,
		Signature:         g.SignatureOf(anomalyID),
		RelatedAnomalies:  g.FindRelated(anomalyID, 2, 0.5),
		CausalChains:      g.FindCausalChain(anomalyID, "", 5),
		SimilarPatterns:   g.FindSimilar(anomalyID, 5),
		TemporalNeighbors: g.TemporalNeighbors(anomalyID, time.Hour),
	}, true
}

// TemporalNeighbors returns every other anomaly within the window on
// either side of the target's timestamp, closest first.
func (g *KnowledgeGraph) TemporalNeighbors(anomalyID string, window time.Duration) []TemporalNeighbor {
	g.mu.RLock()
	defer g.mu.RUnlock()

	target, ok := g.nodes[anomalyID]
	if !ok {
		return nil
	}
	start := target.Timestamp.Add(-window)
	end := target.Timestamp.Add(window)

	var neighbors []TemporalNeighbor
	for id, node := range g.nodes {
		if id == anomalyID {
			continue
		}
		if node.Timestamp.Before(start) || node.Timestamp.After(end) {
			continue
		}
		diff := node.Timestamp.Sub(target.Timestamp).Seconds()
		if diff < 0 {
			diff = -diff
		}
		neighbors = append(neighbors, TemporalNeighbor{
			AnomalyID:       id,
			Timestamp:       node.Timestamp,
			TimeDiffSeconds: diff,
			Node:            node,
		})
	}

	sort.Slice(neighbors, func(a, b int) bool {
		if neighbors[a].TimeDiffSeconds == neighbors[b].TimeDiffSeconds {
			return neighbors[a].AnomalyID < neighbors[b].AnomalyID
		}
		return neighbors[a].TimeDiffSeconds < neighbors[b].TimeDiffSeconds
	})
	return neighbors
}

// SignatureOf returns the stored signature for an anomaly.
func (g *KnowledgeGraph) SignatureOf(anomalyID string) Signature {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.signatures[anomalyID]
}

// NodeByID returns the stored node, if present.
func (g *KnowledgeGraph) NodeByID(anomalyID string) (*Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[anomalyID]
	return n, ok
}

// HasEdge reports whether a directed edge exists between two anomalies.
func (g *KnowledgeGraph) HasEdge(from, to string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.out[from][to]
	return ok
}

// Predecessors returns the incoming edges of an anomaly, ordered by
// source ID.
func (g *KnowledgeGraph) Predecessors(anomalyID string) []*Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ids := make([]string, 0, len(g.in[anomalyID]))
	for id := range g.in[anomalyID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	edges := make([]*Edge, 0, len(ids))
	for _, id := range ids {
		edges = append(edges, g.in[anomalyID][id])
	}
	return edges
}

// Successors returns the outgoing edges of an anomaly, ordered by
// target ID.
func (g *KnowledgeGraph) Successors(anomalyID string) []*Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()

	edges := make([]*Edge, 0, len(g.out[anomalyID]))
	for _, id := range g.sortedNeighbors(anomalyID) {
		edges = append(edges, g.out[anomalyID][id])
	}
	return edges
}

// NodeTimestamps returns a copy of the node id to timestamp map.
func (g *KnowledgeGraph) NodeTimestamps() map[string]time.Time {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make(map[string]time.Time, len(g.nodes))
	for id, node := range g.nodes {
		out[id] = node.Timestamp
	}
	return out
}

// Stats summarizes the current graph.
func (g *KnowledgeGraph) Stats() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.statsLocked()
}

func (g *KnowledgeGraph) statsLocked() Stats {
	s := Stats{
		NumNodes:      len(g.nodes),
		NumEdges:      g.edgeCountLocked(),
		NumSignatures: len(g.signatures),
	}
	for _, node := range g.nodes {
		if s.OldestNode.IsZero() || node.Timestamp.Before(s.OldestNode) {
			s.OldestNode = node.Timestamp
		}
		if node.Timestamp.After(s.NewestNode) {
			s.NewestNode = node.Timestamp
		}
	}
	if len(g.nodes) > 0 {
		// Degree counts both directions, so every edge contributes 2.
		s.AvgDegree = float64(2*s.NumEdges) / float64(len(g.nodes))
	}
	return s
}

// ExportGraph snapshots every node and edge for visualization, ordered
// by ID for stable output.
func (g *KnowledgeGraph) ExportGraph() Export {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	exp := Export{Stats: g.statsLocked()}
	for _, id := range ids {
		exp.Nodes = append(exp.Nodes, g.nodes[id])
		for _, to := range g.sortedNeighbors(id) {
			exp.Edges = append(exp.Edges, g.out[id][to])
		}
	}
	return exp
}

// ─── Internals ───────────────────────────────────────────────────────────

// sortedNeighbors returns the outgoing neighbor IDs in lexical order so
// traversals are deterministic. Callers must hold at least a read lock.
func (g *KnowledgeGraph) sortedNeighbors(id string) []string {
	out := make([]string, 0, len(g.out[id]))
	for neighbor := range g.out[id] {
		out = append(out, neighbor)
	}
	sort.Strings(out)
	return out
}

func (g *KnowledgeGraph) edgeCountLocked() int {
	n := 0
	for _, edges := range g.out {
		n += len(edges)
	}
	return n
}

// evictOldest drops the oldest nodes, and their incident edges, until
// the graph is back within maxNodes. Callers must hold the write lock.
func (g *KnowledgeGraph) evictOldest() {
	if g.maxNodes <= 0 || len(g.nodes) <= g.maxNodes {
		return
	}

	type stamped struct {
		id string
		ts time.Time
	}
	all := make([]stamped, 0, len(g.nodes))
	for id, node := range g.nodes {
		all = append(all, stamped{id: id, ts: node.Timestamp})
	}
	sort.Slice(all, func(a, b int) bool {
		if all[a].ts.Equal(all[b].ts) {
			return all[a].id < all[b].id
		}
		return all[a].ts.Before(all[b].ts)
	})

	toRemove := len(g.nodes) - g.maxNodes
	for _, victim := range all[:toRemove] {
		g.removeNodeLocked(victim.id)
	}
	g.logger.Info("evicted old nodes from knowledge graph", zap.Int("count", toRemove))
}

func (g *KnowledgeGraph) removeNodeLocked(id string) {
	for to := range g.out[id] {
		delete(g.in[to], id)
	}
	for from := range g.in[id] {
		delete(g.out[from], id)
	}
	delete(g.out, id)
	delete(g.in, id)
	delete(g.nodes, id)
	delete(g.signatures, id)
}

// pruneExpiredEdges drops edges older than the expiry window. Callers
// must hold the write lock.
func (g *KnowledgeGraph) pruneExpiredEdges() {
	if g.edgeExpiry <= 0 {
		return
	}
	cutoff := g.now().Add(-g.edgeExpiry)
	for from, edges := range g.out {
		for to, edge := range edges {
			if edge.CreatedAt.Before(cutoff) {
				delete(g.out[from], to)
				delete(g.in[to], from)
			}
		}
	}
}

// signatureSimilarity scores two signatures: exact matches on source,
// metric, and pattern type, plus a magnitude term scaled by the
// min/max ratio of the two magnitudes.
func signatureSimilarity(a, b Signature) float64 {
	score := 0.0
	if a.Source == b.Source {
		score += 0.2
	}
	if a.Metric == b.Metric {
		score += 0.2
	}
	if a.PatternType == b.PatternType {
		score += 0.3
	}
	if a.Magnitude > 0 && b.Magnitude > 0 {
		lo, hi := a.Magnitude, b.Magnitude
		if lo > hi {
			lo, hi = hi, lo
		}
		score += 0.3 * lo / hi
	}
	return score
}
