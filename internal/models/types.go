package models

// Package models defines the core data types that flow through the
// detection pipeline: input points, detector findings, agent anomalies,
// synthesized reports, and the analysis result pushed to clients.
//
// These types double as the REST/WebSocket wire contracts, so field tags
// use the snake_case names clients rely on.

import (
	"fmt"
	"time"
)

// Source identifiers for the supported telemetry producers.
const (
	SourceCryptocurrency = "cryptocurrency"
	SourceWeather        = "weather"
	SourceOIDerivatives  = "oi_derivatives"
	SourceGitHub         = "github"
)

// Severity labels ordered from least to most severe.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// DataPoint is a single timestamped observation from a source adapter.
// Points are immutable once produced; detectors never mutate them.
type DataPoint struct {
	Source    string                 `json:"source"`
	Symbol    string                 `json:"symbol,omitempty"`
	Metric    string                 `json:"metric"`
	Value     float64                `json:"value"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// SeriesKey identifies one logical time series within a batch of points.
type SeriesKey struct {
	Source string
	Metric string
}

func (k SeriesKey) String() string {
	return k.Source + "/" + k.Metric
}

// Detection is the raw output of a single one-dimensional detector.
// Method-specific fields are optional and only populated by the detector
// that defines them.
type Detection struct {
	Index      int       `json:"index"`
	Value      float64   `json:"value"`
	Timestamp  time.Time `json:"timestamp,omitempty"`
	Confidence float64   `json:"confidence"`
	Method     string    `json:"method"`
	Type       string    `json:"type,omitempty"`
	Symbol     string    `json:"symbol,omitempty"`

	// Statistical detail.
	ZScore        float64 `json:"z_score,omitempty"`
	ExpectedValue float64 `json:"expected_value,omitempty"`
	Deviation     float64 `json:"deviation,omitempty"`

	// Temporal detail.
	MeanBefore float64 `json:"mean_before,omitempty"`
	MeanAfter  float64 `json:"mean_after,omitempty"`
	Slope      float64 `json:"slope,omitempty"`
	Residual   float64 `json:"residual,omitempty"`

	// OI-specialist detail.
	DivergenceType string  `json:"divergence_type,omitempty"`
	PriceChange    float64 `json:"price_change,omitempty"`
	OIChange       float64 `json:"oi_change,omitempty"`
	FundingRate    float64 `json:"funding_rate,omitempty"`
	LongShortRatio float64 `json:"long_short_ratio,omitempty"`
	Severity       string  `json:"severity,omitempty"`

	// Ensemble detail.
	Methods    []string    `json:"methods,omitempty"`
	Individual []Detection `json:"individual,omitempty"`
	Consensus  int         `json:"consensus,omitempty"`
}

// AgentAnomaly is a detector finding normalized by an agent: weighted,
// scored, and explained. It is the unit of input to the coordinator.
type AgentAnomaly struct {
	AgentName        string                 `json:"agent_name"`
	AgentWeight      float64                `json:"agent_weight"`
	Source           string                 `json:"source"`
	Metric           string                 `json:"metric"`
	Symbol           string                 `json:"symbol,omitempty"`
	Timestamp        time.Time              `json:"timestamp"`
	Value            float64                `json:"value"`
	Confidence       float64                `json:"confidence"`
	SeverityLabel    string                 `json:"severity_label"`
	SeverityScore    float64                `json:"severity_score"`
	DetectionMethods []string               `json:"detection_methods"`
	Explanation      string                 `json:"explanation"`
	Details          map[string]interface{} `json:"details,omitempty"`
}

// AgentResult is what each agent returns from one analysis cycle. An
// agent with no applicable data returns an empty but structured result,
// never an error.
type AgentResult struct {
	AgentName string                 `json:"agent_name"`
	Weight    float64                `json:"weight"`
	Anomalies []AgentAnomaly         `json:"anomalies"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Counterfactual is one what-if scenario attached to a report.
type Counterfactual struct {
	Scenario    string  `json:"scenario"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
}

// AnomalyReport is the externalized, consensus-backed anomaly. Reports
// cross the system boundary and are mirrored into the knowledge graph.
type AnomalyReport struct {
	AnomalyID        string           `json:"anomaly_id"`
	Source           string           `json:"source"`
	Metric           string           `json:"metric"`
	Timestamp        time.Time        `json:"timestamp"`
	Value            float64          `json:"value"`
	ConsensusScore   float64          `json:"consensus_score"`
	SeverityLabel    string           `json:"severity_label"`
	SeverityScore    float64          `json:"severity_score"`
	DetectionCount   int              `json:"detection_count"`
	DetectingAgents  []string         `json:"detecting_agents"`
	DetectionMethods []string         `json:"detection_methods"`
	Explanation      string           `json:"explanation"`
	Narrative        string           `json:"narrative"`
	Counterfactuals  []Counterfactual `json:"counterfactuals"`
	Individual       []AgentAnomaly   `json:"individual_detections"`
	CreatedAt        time.Time        `json:"created_at"`
}

// AnomalyID builds the canonical deterministic report identifier.
// Callers rely on this exact format for deduplication.
func AnomalyID(source, metric string, ts time.Time) string {
	return fmt.Sprintf("%s_%s_%s", source, metric, ts.UTC().Format("20060102_150405"))
}

// AnalysisMetadata describes how a cycle was produced.
type AnalysisMetadata struct {
	AgentsConsulted    []string `json:"agents_consulted"`
	TotalDetections    int      `json:"total_detections"`
	ConsensusThreshold float64  `json:"consensus_threshold"`
}

// GraphSummary is the knowledge-graph snapshot embedded in each result.
type GraphSummary struct {
	Nodes int                    `json:"nodes"`
	Edges int                    `json:"edges"`
	Stats map[string]interface{} `json:"stats"`
}

// AnalysisResult is the outcome of one full detection cycle. It is the
// payload broadcast to every WebSocket subscriber.
type AnalysisResult struct {
	CycleID           string           `json:"cycle_id"`
	TotalAnomalies    int              `json:"total_anomalies"`
	HighSeverityCount int              `json:"high_severity_count"`
	Reports           []AnomalyReport  `json:"reports"`
	Metadata          AnalysisMetadata `json:"metadata"`
	KnowledgeGraph    GraphSummary     `json:"knowledge_graph"`
}
