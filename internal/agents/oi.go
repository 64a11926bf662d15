package agents

import (
	"context"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/driftwatch/driftwatch/internal/config"
	"github.com/driftwatch/driftwatch/internal/detect"
	"github.com/driftwatch/driftwatch/internal/models"
	"github.com/driftwatch/driftwatch/internal/score"
)

// symbolSeries collects the derivatives metrics for one symbol in a
// batch, each in timestamp order.
type symbolSeries struct {
	OIValues        []float64
	FundingRates    []float64
	FundingTimes    []time.Time
	LongShortRatios []float64
	TopTraderRatios []float64
}

// OI is the derivatives-positioning specialist. It reads open interest,
// funding rates, and long/short ratios per symbol and flags price-OI
// divergences, funding extremes, and crowded positioning.
type OI struct {
	weight        float64
	minConfidence float64
	divergence    *detect.OIDivergence
	funding       *detect.FundingRate
	ratio         *detect.LongShortRatio
	logger        *zap.Logger
}

// NewOI builds the OI agent from configuration.
func NewOI(cfg *config.Config, logger *zap.Logger) *OI {
	if logger == nil {
		logger = zap.NewNop()
	}
	oiCfg := cfg.DataSources.OIDerivatives
	return &OI{
		weight:        cfg.Agents.OI.Weight,
		minConfidence: cfg.Agents.OI.MinConfidence,
		divergence: detect.NewOIDivergence(
			oiCfg.Divergence.PriceThreshold,
			oiCfg.Divergence.OIThreshold,
			oiCfg.Divergence.SpikeThreshold,
		),
		funding: detect.NewFundingRate(oiCfg.Funding.ModerateThreshold, oiCfg.Funding.ExtremeThreshold),
		ratio:   detect.NewLongShortRatio(oiCfg.LongShortRatio.ModerateRatio, oiCfg.LongShortRatio.ExtremeRatio),
		logger:  logger,
	}
}

func (o *OI) Name() string { return NameOI }

// Analyze scans the current batch per symbol. Batches without
// derivatives data yield an empty result.
func (o *OI) Analyze(ctx context.Context, current, historical []models.DataPoint) models.AgentResult {
	o.logger.Info("starting derivatives analysis", zap.Int("data_points", len(current)))

	var oiPoints, cryptoPoints []models.DataPoint
	for _, p := range current {
		switch p.Source {
		case models.SourceOIDerivatives:
			oiPoints = append(oiPoints, p)
		case models.SourceCryptocurrency:
			cryptoPoints = append(cryptoPoints, p)
		}
	}
	if len(oiPoints) == 0 {
		return emptyResult(o.Name(), o.weight, "No derivatives data available")
	}

	oiBySymbol := groupBySymbol(oiPoints)
	cryptoBySymbol := groupBySymbol(cryptoPoints)

	symbols := make([]string, 0, len(oiBySymbol))
	for s := range oiBySymbol {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	anomalies := []models.AgentAnomaly{}
	var analysisDetails []map[string]interface{}

	for _, symbol := range symbols {
		if ctx.Err() != nil {
			break
		}
		series := extractSymbolSeries(oiBySymbol[symbol])
		found := 0

		// Price-OI divergence from the last two observations on each leg.
		if prices := metricValues(cryptoBySymbol[symbol], "price_usd"); len(prices) >= 2 && len(series.OIValues) >= 2 {
			priceChg := pctChange(prices[len(prices)-2], prices[len(prices)-1])
			oiChg := pctChange(series.OIValues[len(series.OIValues)-2], series.OIValues[len(series.OIValues)-1])

			ts := lastTime(series.FundingTimes)
			for _, det := range o.divergence.DetectPairs([]float64{priceChg}, []float64{oiChg}, []time.Time{ts}, []string{symbol}) {
				if det.Confidence >= o.minConfidence {
					anomalies = append(anomalies, o.toAnomaly(det, symbol, "divergence"))
					found++
				}
			}
		}

		for _, det := range o.funding.DetectRates(series.FundingRates, series.FundingTimes) {
			if det.Confidence >= o.minConfidence {
				anomalies = append(anomalies, o.toAnomaly(det, symbol, "funding_rate"))
				found++
			}
		}
		for _, det := range o.ratio.DetectRatios(series.LongShortRatios, series.FundingTimes, false) {
			if det.Confidence >= o.minConfidence {
				anomalies = append(anomalies, o.toAnomaly(det, symbol, "long_short_ratio"))
				found++
			}
		}
		for _, det := range o.ratio.DetectRatios(series.TopTraderRatios, series.FundingTimes, true) {
			if det.Confidence >= o.minConfidence {
				anomalies = append(anomalies, o.toAnomaly(det, symbol, "top_trader_ratio"))
				found++
			}
		}

		analysisDetails = append(analysisDetails, map[string]interface{}{
			"symbol":          symbol,
			"oi_data_points":  len(oiBySymbol[symbol]),
			"anomalies_found": found,
			"metrics_analyzed": map[string]int{
				"oi_values":         len(series.OIValues),
				"funding_rates":     len(series.FundingRates),
				"long_short_ratios": len(series.LongShortRatios),
				"top_trader_ratios": len(series.TopTraderRatios),
			},
		})
	}

	o.logger.Info("derivatives analysis complete", zap.Int("anomalies", len(anomalies)))

	return models.AgentResult{
		AgentName: o.Name(),
		Weight:    o.weight,
		Anomalies: anomalies,
		Metadata: map[string]interface{}{
			"symbols_analyzed": len(oiBySymbol),
			"total_anomalies":  len(anomalies),
			"analysis_details": analysisDetails,
		},
	}
}

func (o *OI) toAnomaly(det models.Detection, symbol, detectionType string) models.AgentAnomaly {
	// High-severity detector findings widen the impact scope; the
	// magnitude tracks the OI move normalized to the 10 percent scale.
	scope := 1.0
	if det.Severity == models.SeverityHigh {
		scope = 1.5
	}
	severityScore := score.Severity(det.Confidence, math.Abs(det.OIChange)/10, scope, false)

	details := map[string]interface{}{
		"detection_type": detectionType,
		"signal":         det.DivergenceType,
	}
	switch detectionType {
	case "divergence":
		details["price_change_pct"] = det.PriceChange
		details["oi_change_pct"] = det.OIChange
	case "funding_rate":
		details["funding_rate"] = det.FundingRate
	case "long_short_ratio", "top_trader_ratio":
		details["long_short_ratio"] = det.LongShortRatio
	}

	metric := detectionType
	if detectionType == "divergence" {
		metric = "open_interest"
	}

	return models.AgentAnomaly{
		AgentName:        o.Name(),
		AgentWeight:      o.weight,
		Source:           models.SourceOIDerivatives,
		Metric:           metric,
		Symbol:           symbol,
		Timestamp:        det.Timestamp,
		Value:            detectionValue(det, detectionType),
		Confidence:       det.Confidence,
		SeverityLabel:    score.Label(severityScore),
		SeverityScore:    severityScore,
		DetectionMethods: []string{det.Method},
		Explanation:      det.Type,
		Details:          details,
	}
}

func detectionValue(det models.Detection, detectionType string) float64 {
	switch detectionType {
	case "funding_rate":
		return det.FundingRate
	case "long_short_ratio", "top_trader_ratio":
		return det.LongShortRatio
	default:
		return det.OIChange
	}
}

// extractSymbolSeries splits one symbol's points into per-metric series.
func extractSymbolSeries(points []models.DataPoint) symbolSeries {
	sorted := make([]models.DataPoint, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	var s symbolSeries
	for _, p := range sorted {
		switch p.Metric {
		case "open_interest":
			s.OIValues = append(s.OIValues, p.Value)
		case "funding_rate":
			s.FundingRates = append(s.FundingRates, p.Value)
			s.FundingTimes = append(s.FundingTimes, p.Timestamp)
		case "long_short_ratio":
			s.LongShortRatios = append(s.LongShortRatios, p.Value)
		case "top_trader_long_short_ratio":
			s.TopTraderRatios = append(s.TopTraderRatios, p.Value)
		}
	}
	return s
}

func groupBySymbol(points []models.DataPoint) map[string][]models.DataPoint {
	grouped := make(map[string][]models.DataPoint)
	for _, p := range points {
		symbol := p.Symbol
		if symbol == "" {
			symbol = "unknown"
		}
		grouped[symbol] = append(grouped[symbol], p)
	}
	return grouped
}

// metricValues returns the timestamp-ordered values of one metric.
func metricValues(points []models.DataPoint, metric string) []float64 {
	sorted := make([]models.DataPoint, 0, len(points))
	for _, p := range points {
		if p.Metric == metric {
			sorted = append(sorted, p)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	values := make([]float64, len(sorted))
	for i, p := range sorted {
		values[i] = p.Value
	}
	return values
}

func pctChange(prev, cur float64) float64 {
	if prev <= 0 {
		return 0
	}
	return (cur - prev) / prev * 100
}

func lastTime(times []time.Time) time.Time {
	if len(times) == 0 {
		return time.Time{}
	}
	return times[len(times)-1]
}
