package detect

import (
	"math"
	"sort"
	"time"

	"github.com/driftwatch/driftwatch/internal/models"
	"github.com/driftwatch/driftwatch/internal/score"
	"github.com/driftwatch/driftwatch/internal/stats"
)

// ChangePoint locates regime changes by recursive binary segmentation:
// the split minimizing residual variance is accepted when the cost
// improvement beats the penalty, then both halves are segmented again.
type ChangePoint struct {
	MinSize int
	Penalty float64
}

// NewChangePoint returns a binary-segmentation changepoint detector.
func NewChangePoint(minSize int, penalty float64) *ChangePoint {
	return &ChangePoint{MinSize: minSize, Penalty: penalty}
}

func (c *ChangePoint) Name() string { return "changepoint" }

func (c *ChangePoint) Detect(values []float64, timestamps []time.Time) []models.Detection {
	if len(values) < c.MinSize*2 {
		return nil
	}

	changepoints := c.segmentAll(values)

	var out []models.Detection
	for _, cp := range changepoints {
		before := values[maxInt(0, cp-c.MinSize):cp]
		after := values[cp:minInt(len(values), cp+c.MinSize)]
		if len(before) == 0 || len(after) == 0 {
			continue
		}

		meanBefore := stats.Mean(before)
		meanAfter := stats.Mean(after)
		stdBefore := stats.StdDev(before)
		magnitude := math.Abs(meanAfter - meanBefore)

		confidence := 0.5
		if stdBefore > 0 {
			significance := magnitude / stdBefore
			confidence = score.Confidence(significance, 2.0, 0.5)
		}

		out = append(out, models.Detection{
			Index:      cp,
			Value:      values[cp],
			Timestamp:  tsAt(timestamps, cp),
			Confidence: confidence,
			Method:     "changepoint",
			Type:       "regime_change",
			MeanBefore: meanBefore,
			MeanAfter:  meanAfter,
			Deviation:  magnitude,
		})
	}
	return out
}

// segmentAll runs binary segmentation over the whole series and returns
// the accepted changepoint indices in ascending order.
func (c *ChangePoint) segmentAll(values []float64) []int {
	var changepoints []int

	var segment func(start, end int)
	segment = func(start, end int) {
		if end-start < c.MinSize*2 {
			return
		}
		idx, gain := c.bestSplit(values, start, end)
		if gain > c.Penalty {
			changepoints = append(changepoints, idx)
			segment(start, idx)
			segment(idx, end)
		}
	}
	segment(0, len(values))

	sort.Ints(changepoints)
	return changepoints
}

// bestSplit finds the split in [start,end) with the largest variance
// reduction, returning its index and the reduction achieved.
func (c *ChangePoint) bestSplit(values []float64, start, end int) (int, float64) {
	bestIdx := start + c.MinSize
	bestGain := math.Inf(-1)

	totalVar := stats.Variance(values[start:end]) * float64(end-start)
	for i := start + c.MinSize; i <= end-c.MinSize; i++ {
		left := values[start:i]
		right := values[i:end]
		splitVar := stats.Variance(left)*float64(len(left)) + stats.Variance(right)*float64(len(right))
		gain := totalVar - splitVar
		if gain > bestGain {
			bestGain = gain
			bestIdx = i
		}
	}
	return bestIdx, bestGain
}

// TrendDeviation compares the slope of a centered local window against
// the global regression slope and flags reversals where the relative
// change exceeds 150%.
type TrendDeviation struct {
	Window int
}

// NewTrendDeviation returns a trend-reversal detector.
func NewTrendDeviation(window int) *TrendDeviation {
	return &TrendDeviation{Window: window}
}

func (t *TrendDeviation) Name() string { return "trend_deviation" }

func (t *TrendDeviation) Detect(values []float64, timestamps []time.Time) []models.Detection {
	if len(values) < t.Window {
		return nil
	}

	globalSlope := stats.Trend(values).Slope
	if math.Abs(globalSlope) <= 0.001 {
		return nil
	}

	var out []models.Detection
	for i := t.Window; i < len(values)-t.Window; i++ {
		window := values[i-t.Window : i+t.Window]
		localSlope := stats.Trend(window).Slope

		slopeChange := math.Abs(localSlope-globalSlope) / math.Abs(globalSlope)
		if slopeChange <= 1.5 {
			continue
		}
		out = append(out, models.Detection{
			Index:      i,
			Value:      values[i],
			Timestamp:  tsAt(timestamps, i),
			Confidence: math.Min(slopeChange/3.0, 1.0),
			Method:     "trend_deviation",
			Type:       "trend_reversal",
			Slope:      localSlope,
			Deviation:  slopeChange,
		})
	}
	return out
}

// Seasonal subtracts an averaged per-phase profile and flags residual
// outliers. It only fires when the series actually shows seasonality at
// the configured period (autocorrelation above 0.5).
type Seasonal struct {
	Period int
}

// NewSeasonal returns a seasonal-decomposition detector.
func NewSeasonal(period int) *Seasonal {
	return &Seasonal{Period: period}
}

func (s *Seasonal) Name() string { return "seasonal_decomposition" }

func (s *Seasonal) Detect(values []float64, timestamps []time.Time) []models.Detection {
	if len(values) < s.Period*2 {
		return nil
	}
	if !stats.Seasonality(values, s.Period).HasSeasonality {
		return nil
	}

	pattern := s.extractPattern(values)
	deseasonalized := make([]float64, len(values))
	for i, v := range values {
		deseasonalized[i] = v - pattern[i%s.Period]
	}

	mean := stats.Mean(deseasonalized)
	std := stats.StdDev(deseasonalized)
	if std == 0 {
		return nil
	}

	const threshold = 3.0
	var out []models.Detection
	for i, residual := range deseasonalized {
		zs := math.Abs(residual-mean) / std
		if zs <= threshold {
			continue
		}
		seasonal := pattern[i%s.Period]
		out = append(out, models.Detection{
			Index:         i,
			Value:         values[i],
			Timestamp:     tsAt(timestamps, i),
			Confidence:    score.Confidence(zs, threshold, 0.5),
			Method:        "seasonal_decomposition",
			Type:          "seasonal_outlier",
			ExpectedValue: mean + seasonal,
			Residual:      residual,
			ZScore:        zs,
		})
	}
	return out
}

// extractPattern averages values at each phase position and centers the
// result around zero.
func (s *Seasonal) extractPattern(values []float64) []float64 {
	pattern := make([]float64, s.Period)
	for phase := 0; phase < s.Period; phase++ {
		var sum float64
		var count int
		for i := phase; i < len(values); i += s.Period {
			sum += values[i]
			count++
		}
		if count > 0 {
			pattern[phase] = sum / float64(count)
		}
	}
	center := stats.Mean(pattern)
	for i := range pattern {
		pattern[i] -= center
	}
	return pattern
}

// ExpSmoothing forecasts one step ahead with simple exponential
// smoothing and flags points whose forecast error stands out from the
// accumulated error stream. Detection starts after a warm-up of ten
// points so the error statistics stabilize.
type ExpSmoothing struct {
	Alpha     float64
	Threshold float64
}

// NewExpSmoothing returns an exponential-smoothing residual detector.
func NewExpSmoothing(alpha, threshold float64) *ExpSmoothing {
	return &ExpSmoothing{Alpha: alpha, Threshold: threshold}
}

func (e *ExpSmoothing) Name() string { return "exponential_smoothing" }

func (e *ExpSmoothing) Detect(values []float64, timestamps []time.Time) []models.Detection {
	if len(values) < 5 {
		return nil
	}

	var out []models.Detection
	forecast := values[0]
	var errors []float64

	for i := 1; i < len(values); i++ {
		v := values[i]
		errVal := math.Abs(v - forecast)
		errors = append(errors, errVal)

		forecast = e.Alpha*v + (1-e.Alpha)*forecast

		if i <= 10 {
			continue
		}
		errMean := stats.Mean(errors)
		errStd := stats.StdDev(errors)
		if errStd == 0 {
			continue
		}
		zs := (errVal - errMean) / errStd
		if zs <= e.Threshold {
			continue
		}
		out = append(out, models.Detection{
			Index:         i,
			Value:         v,
			Timestamp:     tsAt(timestamps, i),
			Confidence:    score.Confidence(zs, e.Threshold, 0.5),
			Method:        "exponential_smoothing",
			Type:          "forecast_error",
			ExpectedValue: forecast,
			Residual:      errVal,
			ZScore:        zs,
		})
	}
	return out
}

// MACrossover flags points where the short and long trailing moving
// averages diverge by more than the relative threshold.
type MACrossover struct {
	ShortWindow int
	LongWindow  int
	Threshold   float64
}

// NewMACrossover returns a moving-average divergence detector.
func NewMACrossover(shortWindow, longWindow int, threshold float64) *MACrossover {
	return &MACrossover{ShortWindow: shortWindow, LongWindow: longWindow, Threshold: threshold}
}

func (m *MACrossover) Name() string { return "ma_crossover" }

func (m *MACrossover) Detect(values []float64, timestamps []time.Time) []models.Detection {
	if len(values) < m.LongWindow {
		return nil
	}

	var out []models.Detection
	for i := m.LongWindow; i < len(values); i++ {
		shortMA := stats.Mean(values[i-m.ShortWindow : i])
		longMA := stats.Mean(values[i-m.LongWindow : i])
		if longMA == 0 {
			continue
		}

		deviation := math.Abs(shortMA-longMA) / longMA
		if deviation <= m.Threshold {
			continue
		}
		out = append(out, models.Detection{
			Index:      i,
			Value:      values[i],
			Timestamp:  tsAt(timestamps, i),
			Confidence: math.Min(deviation/m.Threshold, 1.0),
			Method:     "ma_crossover",
			Type:       "moving_average_divergence",
			Deviation:  deviation,
		})
	}
	return out
}

// ─── Helpers ─────────────────────────────────────────────────────────────

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
