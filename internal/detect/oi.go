package detect

import (
	"fmt"
	"math"
	"time"

	"github.com/driftwatch/driftwatch/internal/models"
	"github.com/driftwatch/driftwatch/internal/stats"
)

// Divergence class identifiers, in evaluation order. The first matching
// class wins; an OI spike is only reported when no directional class
// matched.
const (
	BearishDivergence   = "bearish_divergence"
	BullishDivergence   = "bullish_divergence"
	BullishContinuation = "bullish_continuation"
	BearishContinuation = "bearish_continuation"
	OISpikeAnomaly      = "oi_spike_anomaly"
)

// OIDivergence classifies per-tick price/open-interest moves. Price up
// with OI down (or the reverse) signals positions closing against the
// move; both rising together signals conviction; a large OI move on its
// own is flagged as a spike.
type OIDivergence struct {
	PriceThreshold float64
	OIThreshold    float64
	SpikeThreshold float64
}

// NewOIDivergence returns a price/OI divergence classifier.
func NewOIDivergence(priceThreshold, oiThreshold, spikeThreshold float64) *OIDivergence {
	return &OIDivergence{
		PriceThreshold: priceThreshold,
		OIThreshold:    oiThreshold,
		SpikeThreshold: spikeThreshold,
	}
}

func (d *OIDivergence) Name() string { return "oi_divergence" }

// DetectPairs classifies parallel price-change and OI-change series
// (both in percent). Mismatched lengths yield no detections.
func (d *OIDivergence) DetectPairs(priceChanges, oiChanges []float64, timestamps []time.Time, symbols []string) []models.Detection {
	if len(priceChanges) != len(oiChanges) || len(priceChanges) == 0 {
		return nil
	}

	var out []models.Detection
	for i := range priceChanges {
		priceChg, oiChg := priceChanges[i], oiChanges[i]

		var divergenceType, severity string
		var confidence float64

		switch {
		case priceChg > d.PriceThreshold && oiChg < -d.OIThreshold:
			divergenceType = BearishDivergence
			confidence = math.Min(0.95, 0.6+math.Abs(oiChg)/20)
			severity = models.SeverityMedium
			if math.Abs(oiChg) > 5 {
				severity = models.SeverityHigh
			}
		case priceChg < -d.PriceThreshold && oiChg > d.OIThreshold:
			divergenceType = BullishDivergence
			confidence = math.Min(0.95, 0.6+oiChg/20)
			severity = models.SeverityMedium
			if oiChg > 5 {
				severity = models.SeverityHigh
			}
		case priceChg > 2 && oiChg > 5:
			divergenceType = BullishContinuation
			confidence = math.Min(0.9, 0.5+oiChg/30)
			severity = models.SeverityMedium
		case priceChg < -2 && oiChg > 5:
			divergenceType = BearishContinuation
			confidence = math.Min(0.9, 0.5+oiChg/30)
			severity = models.SeverityMedium
		case math.Abs(oiChg) > d.SpikeThreshold:
			divergenceType = OISpikeAnomaly
			confidence = math.Min(0.95, 0.7+math.Abs(oiChg)/50)
			severity = models.SeverityMedium
			if math.Abs(oiChg) > 20 {
				severity = models.SeverityHigh
			}
		default:
			continue
		}

		det := models.Detection{
			Index:          i,
			Timestamp:      tsAt(timestamps, i),
			Confidence:     confidence,
			Method:         "oi_divergence",
			Type:           divergenceExplanation(divergenceType, priceChg, oiChg),
			DivergenceType: divergenceType,
			PriceChange:    priceChg,
			OIChange:       oiChg,
			Severity:       severity,
		}
		if i < len(symbols) {
			det.Symbol = symbols[i]
		}
		out = append(out, det)
	}
	return out
}

// divergenceExplanation renders the trader-facing reading of a
// divergence class.
func divergenceExplanation(divergenceType string, priceChg, oiChg float64) string {
	switch divergenceType {
	case BearishDivergence:
		return fmt.Sprintf("Price increased %.2f%% while OI decreased %.2f%%. This suggests weakening bullish momentum and potential reversal.", priceChg, math.Abs(oiChg))
	case BullishDivergence:
		return fmt.Sprintf("Price decreased %.2f%% while OI increased %.2f%%. This suggests weakening bearish momentum and potential reversal.", math.Abs(priceChg), oiChg)
	case BullishContinuation:
		return fmt.Sprintf("Price increased %.2f%% with OI increasing %.2f%%. Strong bullish momentum with new positions being added.", priceChg, oiChg)
	case BearishContinuation:
		return fmt.Sprintf("Price decreased %.2f%% while OI increased %.2f%%. Potential short squeeze setup or strong bearish conviction.", math.Abs(priceChg), oiChg)
	case OISpikeAnomaly:
		return fmt.Sprintf("Unusual OI change of %.2f%% detected. This may indicate market manipulation, large whale activity, or approaching liquidation cascade.", oiChg)
	}
	return fmt.Sprintf("Divergence detected: price=%.2f%%, OI=%.2f%%", priceChg, oiChg)
}

// FundingRate flags funding rates whose magnitude crosses the moderate
// or extreme thresholds. The sign of the rate encodes which side pays:
// positive means longs pay shorts.
type FundingRate struct {
	ModerateThreshold float64
	ExtremeThreshold  float64
}

// NewFundingRate returns a funding-rate extremes detector.
func NewFundingRate(moderate, extreme float64) *FundingRate {
	return &FundingRate{ModerateThreshold: moderate, ExtremeThreshold: extreme}
}

func (f *FundingRate) Name() string { return "funding_rate" }

// DetectRates scans a series of funding rates (in percent).
func (f *FundingRate) DetectRates(rates []float64, timestamps []time.Time) []models.Detection {
	var out []models.Detection
	for i, rate := range rates {
		abs := math.Abs(rate)
		switch {
		case abs >= f.ExtremeThreshold:
			signal := "extreme_short_pressure"
			condition := "oversold"
			if rate > 0 {
				signal = "extreme_long_pressure"
				condition = "overbought"
			}
			out = append(out, models.Detection{
				Index:       i,
				Timestamp:   tsAt(timestamps, i),
				Confidence:  math.Min(0.95, 0.7+abs/0.2),
				Method:      "funding_rate",
				Type:        fmt.Sprintf("Extreme funding rate of %.4f%% indicates %s conditions. Potential reversal or forced liquidations.", rate, condition),
				DivergenceType: signal,
				FundingRate: rate,
				Severity:    models.SeverityHigh,
			})
		case abs >= f.ModerateThreshold:
			signal := "high_short_pressure"
			bias := "short"
			if rate > 0 {
				signal = "high_long_pressure"
				bias = "long"
			}
			out = append(out, models.Detection{
				Index:       i,
				Timestamp:   tsAt(timestamps, i),
				Confidence:  math.Min(1.0, 0.6+abs/0.15),
				Method:      "funding_rate",
				Type:        fmt.Sprintf("Elevated funding rate of %.4f%% indicates strong %s bias in the market.", rate, bias),
				DivergenceType: signal,
				FundingRate: rate,
				Severity:    models.SeverityMedium,
			})
		}
	}
	return out
}

// LongShortRatio flags crowded positioning. Ratios at or beyond the
// extreme ratio (or its reciprocal) are the strong signal; the moderate
// band is advisory. Confidence grows with |ln R| so a 3:1 and a 1:3
// imbalance score the same.
type LongShortRatio struct {
	ModerateRatio float64
	ExtremeRatio  float64
}

// NewLongShortRatio returns a positioning-imbalance detector.
func NewLongShortRatio(moderate, extreme float64) *LongShortRatio {
	return &LongShortRatio{ModerateRatio: moderate, ExtremeRatio: extreme}
}

func (l *LongShortRatio) Name() string { return "long_short_ratio" }

// DetectRatios scans a series of long/short ratios. isTopTrader raises
// the severity of extreme findings one level since top-trader
// positioning moves markets harder.
func (l *LongShortRatio) DetectRatios(ratios []float64, timestamps []time.Time, isTopTrader bool) []models.Detection {
	var out []models.Detection
	for i, ratio := range ratios {
		if ratio <= 0 {
			continue
		}
		direction := "short"
		if ratio > 1 {
			direction = "long"
		}
		lnAbs := math.Abs(math.Log(ratio))

		switch {
		case ratio >= l.ExtremeRatio || ratio <= 1/l.ExtremeRatio:
			severity := models.SeverityMedium
			traderType := "global"
			if isTopTrader {
				severity = models.SeverityHigh
				traderType = "top_traders"
			}
			out = append(out, models.Detection{
				Index:          i,
				Timestamp:      tsAt(timestamps, i),
				Confidence:     math.Min(0.9, 0.65+lnAbs/5),
				Method:         "long_short_ratio",
				Type:           fmt.Sprintf("Extreme %s bias detected with ratio %.2f (%s). Crowded trade may lead to squeeze or rapid reversal.", direction, ratio, traderType),
				DivergenceType: "extreme_" + direction + "_crowding",
				LongShortRatio: ratio,
				Severity:       severity,
			})
		case ratio >= l.ModerateRatio || ratio <= 1/l.ModerateRatio:
			traderType := "global"
			if isTopTrader {
				traderType = "top_traders"
			}
			out = append(out, models.Detection{
				Index:          i,
				Timestamp:      tsAt(timestamps, i),
				Confidence:     0.5 + lnAbs/8,
				Method:         "long_short_ratio",
				Type:           fmt.Sprintf("Elevated %s bias with ratio %.2f (%s). Monitor for potential reversal.", direction, ratio, traderType),
				DivergenceType: "elevated_" + direction + "_bias",
				LongShortRatio: ratio,
				Severity:       models.SeverityLow,
			})
		}
	}
	return out
}

// ─── OI feature engineering ──────────────────────────────────────────────

// OIDelta converts an open-interest level series into percent changes.
// A non-positive previous level contributes a zero delta.
func OIDelta(oiValues []float64) []float64 {
	if len(oiValues) < 2 {
		return nil
	}
	deltas := make([]float64, 0, len(oiValues)-1)
	for i := 1; i < len(oiValues); i++ {
		if oiValues[i-1] > 0 {
			deltas = append(deltas, (oiValues[i]-oiValues[i-1])/oiValues[i-1]*100)
		} else {
			deltas = append(deltas, 0)
		}
	}
	return deltas
}

// OIMomentum smooths the OI delta series with a trailing moving
// average. The warm-up prefix averages whatever is available.
func OIMomentum(oiValues []float64, window int) []float64 {
	deltas := OIDelta(oiValues)
	if len(deltas) < window {
		return deltas
	}
	momentum := make([]float64, len(deltas))
	for i := range deltas {
		if i < window-1 {
			momentum[i] = stats.Mean(deltas[:i+1])
		} else {
			momentum[i] = stats.Mean(deltas[i-window+1 : i+1])
		}
	}
	return momentum
}

// OIPriceCorrelation computes the rolling Pearson correlation between
// OI and price over the given window; positions before the first full
// window are zero.
func OIPriceCorrelation(oiValues, priceValues []float64, window int) []float64 {
	if len(oiValues) != len(priceValues) || len(oiValues) < window {
		return nil
	}
	correlations := make([]float64, len(oiValues))
	for i := range oiValues {
		if i < window-1 {
			continue
		}
		correlations[i] = stats.Pearson(oiValues[i-window+1:i+1], priceValues[i-window+1:i+1])
	}
	return correlations
}

// OIZScore computes the rolling z-score of OI levels over the given
// window; positions before the first full window (and zero-variance
// windows) are zero.
func OIZScore(oiValues []float64, window int) []float64 {
	if len(oiValues) < window {
		return make([]float64, len(oiValues))
	}
	zscores := make([]float64, len(oiValues))
	for i := range oiValues {
		if i < window-1 {
			continue
		}
		w := oiValues[i-window+1 : i+1]
		mean := stats.Mean(w)
		std := stats.StdDev(w)
		if std > 0 {
			zscores[i] = (oiValues[i] - mean) / std
		}
	}
	return zscores
}
