package agents

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/driftwatch/driftwatch/internal/config"
	"github.com/driftwatch/driftwatch/internal/detect"
	"github.com/driftwatch/driftwatch/internal/models"
	"github.com/driftwatch/driftwatch/internal/score"
	"github.com/driftwatch/driftwatch/internal/stats"
)

// expSmoothingThreshold is the forecast-error z cut for the smoothing
// detector; it mirrors the statistical z-score cut.
const expSmoothingThreshold = 3.0

// seriesPattern summarizes the shape of one series: trend, seasonality,
// and volatility. It rides along on every temporal anomaly as context.
type seriesPattern struct {
	InsufficientData bool
	Trend            stats.TrendResult
	Seasonality      stats.SeasonalityResult
	Volatility       float64
	DataPoints       int
	TimeSpanHours    float64
}

// Temporal is the agent specialized in time-series structure: regime
// changes, trend reversals, seasonal violations, forecast errors, and
// moving-average divergence. It analyzes current and historical data
// together but only reports findings inside the current window.
type Temporal struct {
	weight        float64
	minConfidence float64
	seasonPeriod  int
	detectors     []detect.Detector
	logger        *zap.Logger
}

// NewTemporal builds the temporal agent from configuration.
func NewTemporal(cfg *config.Config, logger *zap.Logger) *Temporal {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Temporal{
		weight:        cfg.Agents.Temporal.Weight,
		minConfidence: cfg.Agents.Temporal.MinConfidence,
		seasonPeriod:  cfg.Temporal.Seasonal.Period,
		detectors: []detect.Detector{
			detect.NewChangePoint(cfg.Temporal.Changepoint.MinSize, cfg.Temporal.Changepoint.Penalty),
			detect.NewTrendDeviation(cfg.Temporal.Trend.Window),
			detect.NewSeasonal(cfg.Temporal.Seasonal.Period),
			detect.NewExpSmoothing(cfg.Temporal.ExponentialSmoothing.Alpha, expSmoothingThreshold),
			detect.NewMACrossover(
				cfg.Temporal.MovingAverage.ShortWindow,
				cfg.Temporal.MovingAverage.LongWindow,
				cfg.Temporal.MovingAverage.DeviationThreshold,
			),
		},
		logger: logger,
	}
}

func (t *Temporal) Name() string { return NameTemporal }

// Analyze runs every temporal detector over the combined history of
// each series.
func (t *Temporal) Analyze(ctx context.Context, current, historical []models.DataPoint) models.AgentResult {
	t.logger.Info("starting temporal analysis", zap.Int("data_points", len(current)))

	all := make([]models.DataPoint, 0, len(historical)+len(current))
	all = append(all, historical...)
	all = append(all, current...)
	grouped := groupBySeries(all)

	anomalies := []models.AgentAnomaly{}
	var patterns []map[string]interface{}

	for _, key := range sortedSeriesKeys(grouped) {
		if ctx.Err() != nil {
			break
		}
		points := grouped[key]
		values, timestamps := seriesValues(points)

		pattern := t.analyzePattern(values, timestamps)
		patterns = append(patterns, map[string]interface{}{
			"source":            key.Source,
			"metric":            key.Metric,
			"insufficient_data": pattern.InsufficientData,
			"trend":             pattern.Trend.Direction,
			"has_seasonality":   pattern.Seasonality.HasSeasonality,
			"volatility":        pattern.Volatility,
		})

		for _, detector := range t.detectors {
			for _, detection := range detector.Detect(values, timestamps) {
				if detection.Confidence < t.minConfidence {
					continue
				}
				if !isRecent(detection.Timestamp, current) {
					continue
				}
				anomalies = append(anomalies, t.toAnomaly(detection, key, pattern))
			}
		}
	}

	t.logger.Info("temporal analysis complete", zap.Int("anomalies", len(anomalies)))

	return models.AgentResult{
		AgentName: t.Name(),
		Weight:    t.weight,
		Anomalies: anomalies,
		Metadata: map[string]interface{}{
			"patterns_analyzed": patterns,
			"total_anomalies":   len(anomalies),
		},
	}
}

// analyzePattern fits the series shape used as context for every
// detection: trend, seasonality at the configured period, and the
// coefficient of variation as volatility.
func (t *Temporal) analyzePattern(values []float64, timestamps []time.Time) seriesPattern {
	if len(values) < 10 {
		return seriesPattern{InsufficientData: true}
	}

	volatility := 0.0
	if mean := stats.Mean(values); mean != 0 {
		volatility = stats.StdDev(values) / mean
	}

	span := 0.0
	if len(timestamps) > 1 {
		span = timestamps[len(timestamps)-1].Sub(timestamps[0]).Hours()
	}

	return seriesPattern{
		Trend:         stats.Trend(values),
		Seasonality:   stats.Seasonality(values, t.seasonPeriod),
		Volatility:    volatility,
		DataPoints:    len(values),
		TimeSpanHours: span,
	}
}

func (t *Temporal) toAnomaly(detection models.Detection, key models.SeriesKey, pattern seriesPattern) models.AgentAnomaly {
	magnitude := math.Abs(detection.MeanAfter - detection.MeanBefore)
	severityScore := score.Severity(detection.Confidence, magnitude, 1, false)

	details := map[string]interface{}{
		"anomaly_type": detection.Type,
	}
	switch detection.Method {
	case "changepoint":
		details["mean_before"] = detection.MeanBefore
		details["mean_after"] = detection.MeanAfter
	case "trend_deviation":
		details["local_slope"] = detection.Slope
		details["global_slope"] = pattern.Trend.Slope
	case "seasonal_decomposition":
		details["expected_value"] = detection.ExpectedValue
		details["seasonal_component"] = detection.Value - detection.Residual
		details["z_score"] = detection.ZScore
	case "exponential_smoothing":
		details["expected_value"] = detection.ExpectedValue
		details["z_score"] = detection.ZScore
	case "ma_crossover":
		details["deviation"] = detection.Deviation
	}

	return models.AgentAnomaly{
		AgentName:        t.Name(),
		AgentWeight:      t.weight,
		Source:           key.Source,
		Metric:           key.Metric,
		Timestamp:        detection.Timestamp,
		Value:            detection.Value,
		Confidence:       detection.Confidence,
		SeverityLabel:    score.Label(severityScore),
		SeverityScore:    severityScore,
		DetectionMethods: []string{detection.Method},
		Explanation:      t.explanation(detection, pattern),
		Details:          details,
	}
}

func (t *Temporal) explanation(detection models.Detection, pattern seriesPattern) string {
	explanation := fmt.Sprintf("Temporal anomaly (%s) detected using %s. ", detection.Type, detection.Method)

	switch detection.Method {
	case "changepoint":
		explanation += fmt.Sprintf("Significant regime change detected. Mean shifted from %.2f to %.2f. ",
			detection.MeanBefore, detection.MeanAfter)
	case "trend_deviation":
		explanation += "Local trend diverged significantly from global trend. "
	case "seasonal_decomposition":
		explanation += "Value deviates from expected seasonal pattern. "
	case "ma_crossover":
		explanation += fmt.Sprintf("Short and long-term moving averages diverged by %.2f%%. ",
			detection.Deviation*100)
	}

	switch pattern.Trend.Direction {
	case stats.TrendIncreasing:
		explanation += "Overall trend is increasing. "
	case stats.TrendDecreasing:
		explanation += "Overall trend is decreasing. "
	}
	if pattern.Seasonality.HasSeasonality {
		explanation += "Seasonal patterns detected in data. "
	}

	return strings.TrimSpace(explanation)
}
