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
	"github.com/driftwatch/driftwatch/internal/score"
	"github.com/driftwatch/driftwatch/internal/stats"
)

// alignedPoint is one observation shared by two series at the same
// timestamp.
type alignedPoint struct {
	A, B float64
	Ts   time.Time
}

// pairCorrelation summarizes the relationship between two series.
type pairCorrelation struct {
	Pearson        float64
	PearsonPValue  float64
	Spearman       float64
	SpearmanPValue float64
	DataPoints     int
	Significant    bool
}

// Correlation is the agent specialized in cross-series structure: it
// scans every series pair for correlation breakdowns and the current
// batch for anomalies landing on multiple sources at once.
type Correlation struct {
	weight            float64
	minConfidence     float64
	pearsonThreshold  float64
	spearmanThreshold float64
	windowSize        int
	breakThreshold    float64
	logger            *zap.Logger
}

// NewCorrelation builds the correlation agent from configuration.
func NewCorrelation(cfg *config.Config, logger *zap.Logger) *Correlation {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Correlation{
		weight:            cfg.Agents.Correlation.Weight,
		minConfidence:     cfg.Agents.Correlation.MinConfidence,
		pearsonThreshold:  cfg.Correlation.PearsonThreshold,
		spearmanThreshold: cfg.Correlation.SpearmanThreshold,
		windowSize:        cfg.Correlation.WindowSize,
		breakThreshold:    cfg.Correlation.BreakThreshold,
		logger:            logger,
	}
}

func (c *Correlation) Name() string { return NameCorrelation }

// Analyze scans all series pairs over the combined history, then the
// current batch for simultaneous cross-source hits.
func (c *Correlation) Analyze(ctx context.Context, current, historical []models.DataPoint) models.AgentResult {
	c.logger.Info("starting correlation analysis", zap.Int("data_points", len(current)))

	all := make([]models.DataPoint, 0, len(historical)+len(current))
	all = append(all, historical...)
	all = append(all, current...)
	grouped := groupBySeries(all)
	keys := sortedSeriesKeys(grouped)

	anomalies := []models.AgentAnomaly{}
	var matrix []map[string]interface{}

	for i, key1 := range keys {
		if ctx.Err() != nil {
			break
		}
		for _, key2 := range keys[i+1:] {
			aligned := alignSeries(grouped[key1], grouped[key2])
			if len(aligned) < c.windowSize {
				continue
			}
			corr, ok := c.correlate(aligned)
			if !ok {
				continue
			}
			matrix = append(matrix, map[string]interface{}{
				"source1":         key1.Source,
				"metric1":         key1.Metric,
				"source2":         key2.Source,
				"metric2":         key2.Metric,
				"pearson":         corr.Pearson,
				"pearson_pvalue":  corr.PearsonPValue,
				"spearman":        corr.Spearman,
				"spearman_pvalue": corr.SpearmanPValue,
				"data_points":     corr.DataPoints,
				"significant":     corr.Significant,
			})

			for _, anomaly := range c.detectBreaks(aligned, key1, key2, corr) {
				if isRecent(anomaly.Timestamp, current) {
					anomalies = append(anomalies, anomaly)
				}
			}
		}
	}

	anomalies = append(anomalies, c.detectSimultaneous(current)...)

	c.logger.Info("correlation analysis complete", zap.Int("anomalies", len(anomalies)))

	return models.AgentResult{
		AgentName: c.Name(),
		Weight:    c.weight,
		Anomalies: anomalies,
		Metadata: map[string]interface{}{
			"correlation_matrix": matrix,
			"pairs_analyzed":     len(matrix),
			"total_anomalies":    len(anomalies),
		},
	}
}

// alignSeries joins two sorted buckets on exact timestamps.
func alignSeries(s1, s2 []models.DataPoint) []alignedPoint {
	byTs := make(map[time.Time]float64, len(s2))
	for _, p := range s2 {
		byTs[p.Timestamp] = p.Value
	}
	var aligned []alignedPoint
	for _, p := range s1 {
		if b, ok := byTs[p.Timestamp]; ok {
			aligned = append(aligned, alignedPoint{A: p.Value, B: b, Ts: p.Timestamp})
		}
	}
	sort.Slice(aligned, func(i, j int) bool { return aligned[i].Ts.Before(aligned[j].Ts) })
	return aligned
}

func (c *Correlation) correlate(aligned []alignedPoint) (pairCorrelation, bool) {
	if len(aligned) < 3 {
		return pairCorrelation{}, false
	}
	a := make([]float64, len(aligned))
	b := make([]float64, len(aligned))
	for i, p := range aligned {
		a[i] = p.A
		b[i] = p.B
	}
	pearson := stats.Pearson(a, b)
	spearman := stats.Spearman(a, b)
	return pairCorrelation{
		Pearson:        pearson,
		PearsonPValue:  stats.CorrelationPValue(pearson, len(aligned)),
		Spearman:       spearman,
		SpearmanPValue: stats.CorrelationPValue(spearman, len(aligned)),
		DataPoints:     len(aligned),
		Significant:    math.Abs(pearson) >= c.pearsonThreshold,
	}, true
}

// detectBreaks slides a window over an aligned pair and flags points
// where a historically strong correlation moves by more than the break
// threshold.
func (c *Correlation) detectBreaks(aligned []alignedPoint, key1, key2 models.SeriesKey, hist pairCorrelation) []models.AgentAnomaly {
	var anomalies []models.AgentAnomaly
	if len(aligned) < c.windowSize*2 {
		return anomalies
	}
	if math.Abs(hist.Pearson) < c.pearsonThreshold {
		return anomalies
	}

	for i := c.windowSize; i < len(aligned); i++ {
		window := aligned[i-c.windowSize : i]
		a := make([]float64, len(window))
		b := make([]float64, len(window))
		for j, p := range window {
			a[j] = p.A
			b[j] = p.B
		}
		current := stats.Pearson(a, b)
		change := math.Abs(current - hist.Pearson)
		if change < c.breakThreshold {
			continue
		}
		confidence := math.Min(change/c.breakThreshold, 1.0)
		if confidence < c.minConfidence {
			continue
		}

		severityScore := score.Severity(confidence, change*10, 2, false)
		anomalies = append(anomalies, models.AgentAnomaly{
			AgentName:        c.Name(),
			AgentWeight:      c.weight,
			Source:           "multi-source",
			Metric:           "correlation_break",
			Timestamp:        aligned[i].Ts,
			Value:            aligned[i].A,
			Confidence:       confidence,
			SeverityLabel:    score.Label(severityScore),
			SeverityScore:    severityScore,
			DetectionMethods: []string{"correlation_break"},
			Explanation: fmt.Sprintf(
				"Correlation between %s %s and %s %s broke down. Historical correlation: %.2f, current: %.2f.",
				key1.Source, key1.Metric, key2.Source, key2.Metric, hist.Pearson, current),
			Details: map[string]interface{}{
				"anomaly_type":           "correlation_break",
				"source1":                key1.Source,
				"metric1":                key1.Metric,
				"source2":                key2.Source,
				"metric2":                key2.Metric,
				"historical_correlation": hist.Pearson,
				"current_correlation":    current,
				"correlation_change":     change,
				"pair_values": fmt.Sprintf("%s: %.2f, %s: %.2f",
					key1.String(), aligned[i].A, key2.String(), aligned[i].B),
			},
		})
	}
	return anomalies
}

// detectSimultaneous flags minute buckets of the current batch where
// two or more sources report at once.
func (c *Correlation) detectSimultaneous(current []models.DataPoint) []models.AgentAnomaly {
	buckets := make(map[time.Time][]models.DataPoint)
	for _, p := range current {
		buckets[p.Timestamp.Truncate(time.Minute)] = append(buckets[p.Timestamp.Truncate(time.Minute)], p)
	}
	times := make([]time.Time, 0, len(buckets))
	for ts := range buckets {
		times = append(times, ts)
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	var anomalies []models.AgentAnomaly
	for _, ts := range times {
		points := buckets[ts]
		if len(points) < 2 {
			continue
		}
		sourceSet := make(map[string]bool)
		for _, p := range points {
			sourceSet[p.Source] = true
		}
		if len(sourceSet) < 2 {
			continue
		}
		confidence := math.Min(float64(len(sourceSet))/3.0, 1.0)
		if confidence < c.minConfidence {
			continue
		}
		sources := make([]string, 0, len(sourceSet))
		for s := range sourceSet {
			sources = append(sources, s)
		}
		sort.Strings(sources)

		severityScore := score.Severity(confidence, 5, float64(len(sourceSet)), false)
		anomalies = append(anomalies, models.AgentAnomaly{
			AgentName:        c.Name(),
			AgentWeight:      c.weight,
			Source:           "multi-source",
			Metric:           "correlation",
			Timestamp:        ts,
			Confidence:       confidence,
			SeverityLabel:    score.Label(severityScore),
			SeverityScore:    severityScore,
			DetectionMethods: []string{"simultaneous_anomaly"},
			Explanation: fmt.Sprintf(
				"Simultaneous anomaly detected across %d sources: %s at %s.",
				len(sources), strings.Join(sources, ", "), ts.Format("2006-01-02 15:04")),
			Details: map[string]interface{}{
				"anomaly_type":     "simultaneous_anomaly",
				"affected_sources": sources,
				"multi_source":     true,
				"data_points":      len(points),
			},
		})
	}
	return anomalies
}
