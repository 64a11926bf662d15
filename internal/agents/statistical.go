package agents

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/driftwatch/driftwatch/internal/config"
	"github.com/driftwatch/driftwatch/internal/detect"
	"github.com/driftwatch/driftwatch/internal/models"
	"github.com/driftwatch/driftwatch/internal/score"
)

// Statistical is the agent specialized in distributional outliers. It
// runs the statistical detector ensemble per series, and the model
// ensemble (isolation forest plus LOF) alongside it, keeping only
// findings where enough methods agree.
type Statistical struct {
	weight        float64
	minConfidence float64
	ensemble      *detect.Ensemble
	modelEnsemble *detect.Ensemble
	logger        *zap.Logger
}

// NewStatistical builds the statistical agent from configuration.
func NewStatistical(cfg *config.Config, logger *zap.Logger) *Statistical {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Statistical{
		weight:        cfg.Agents.Statistical.Weight,
		minConfidence: cfg.Agents.Statistical.MinConfidence,
		ensemble: &detect.Ensemble{
			Detectors: []detect.Detector{
				detect.NewZScore(cfg.Statistical.ZScore.Threshold),
				detect.NewModifiedZScore(cfg.Statistical.ModifiedZScore.Threshold),
				detect.NewIQR(cfg.Statistical.IQR.Multiplier),
				detect.NewCUSUM(cfg.Statistical.CUSUM.Threshold, cfg.Statistical.CUSUM.Drift),
				detect.NewMovingAverage(cfg.Statistical.MovingAverage.Window, cfg.Statistical.MovingAverage.Threshold),
			},
			MinConsensus: cfg.Statistical.Ensemble.MinConsensus,
		},
		modelEnsemble: &detect.Ensemble{
			Detectors: []detect.Detector{
				detect.NewIsolationForest(
					cfg.ML.IsolationForest.NumTrees,
					cfg.ML.IsolationForest.SubSampleSize,
					cfg.ML.IsolationForest.MaxDepth,
					cfg.ML.IsolationForest.Threshold,
				),
				detect.NewLOF(cfg.ML.LOF.Neighbors, cfg.ML.LOF.Threshold),
			},
			MinConsensus: cfg.ML.Ensemble.MinConsensus,
		},
		logger: logger,
	}
}

func (s *Statistical) Name() string { return NameStatistical }

// Analyze runs both ensembles over every series in the current batch.
func (s *Statistical) Analyze(ctx context.Context, current, historical []models.DataPoint) models.AgentResult {
	s.logger.Info("starting statistical analysis", zap.Int("data_points", len(current)))

	grouped := groupBySeries(current)
	anomalies := []models.AgentAnomaly{}
	var analysisDetails []map[string]interface{}

	for _, key := range sortedSeriesKeys(grouped) {
		if ctx.Err() != nil {
			break
		}
		points := grouped[key]
		values, timestamps := seriesValues(points)

		found := 0
		for _, detection := range s.ensemble.Detect(values, timestamps) {
			found++
			if detection.Confidence < s.minConfidence {
				continue
			}
			anomalies = append(anomalies, s.toAnomaly(detection, key))
		}
		for _, detection := range s.modelEnsemble.Detect(values, timestamps) {
			found++
			if detection.Confidence < s.minConfidence {
				continue
			}
			anomalies = append(anomalies, s.toAnomaly(detection, key))
		}

		analysisDetails = append(analysisDetails, map[string]interface{}{
			"source":          key.Source,
			"metric":          key.Metric,
			"data_points":     len(points),
			"anomalies_found": found,
		})
	}

	s.logger.Info("statistical analysis complete", zap.Int("anomalies", len(anomalies)))

	return models.AgentResult{
		AgentName: s.Name(),
		Weight:    s.weight,
		Anomalies: anomalies,
		Metadata: map[string]interface{}{
			"groups_analyzed":  len(grouped),
			"total_anomalies":  len(anomalies),
			"analysis_details": analysisDetails,
		},
	}
}

func (s *Statistical) toAnomaly(detection models.Detection, key models.SeriesKey) models.AgentAnomaly {
	deviation := detection.Deviation
	for _, ind := range detection.Individual {
		if ind.Deviation > deviation {
			deviation = ind.Deviation
		}
	}
	severityScore := score.Severity(detection.Confidence, deviation, 1, false)

	details := map[string]interface{}{
		"deviation":       deviation,
		"consensus_count": detection.Consensus,
	}
	// Surface the strongest member z-score and its expected value so the
	// explainability layer can build threshold counterfactuals.
	for _, ind := range detection.Individual {
		if ind.ZScore != 0 && math.Abs(ind.ZScore) > mapFloat(details, "z_score") {
			details["z_score"] = math.Abs(ind.ZScore)
			details["expected_value"] = ind.ExpectedValue
		}
	}

	return models.AgentAnomaly{
		AgentName:        s.Name(),
		AgentWeight:      s.weight,
		Source:           key.Source,
		Metric:           key.Metric,
		Timestamp:        detection.Timestamp,
		Value:            detection.Value,
		Confidence:       detection.Confidence,
		SeverityLabel:    score.Label(severityScore),
		SeverityScore:    severityScore,
		DetectionMethods: detection.Methods,
		Explanation:      s.explanation(detection, key),
		Details:          details,
	}
}

func (s *Statistical) explanation(detection models.Detection, key models.SeriesKey) string {
	explanation := fmt.Sprintf(
		"Statistical anomaly detected in %s %s. %d detection methods agreed (confidence: %.2f). ",
		key.Source, key.Metric, detection.Consensus, detection.Confidence)

	for _, method := range detection.Methods {
		switch method {
		case "zscore":
			explanation += "Value is significantly outside normal distribution. "
		case "iqr":
			explanation += "Value is beyond interquartile range bounds. "
		case "cusum":
			explanation += "Cumulative sum indicates a sustained shift in mean. "
		case "isolation_forest":
			explanation += "Random partitioning isolates the value unusually fast. "
		case "lof":
			explanation += "Value sits in a sparser region than its neighbors. "
		}
	}
	return strings.TrimSpace(explanation)
}

func mapFloat(m map[string]interface{}, key string) float64 {
	if v, ok := m[key].(float64); ok {
		return v
	}
	return 0
}
