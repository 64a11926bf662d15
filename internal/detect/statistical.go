package detect

import (
	"math"
	"time"

	"github.com/driftwatch/driftwatch/internal/models"
	"github.com/driftwatch/driftwatch/internal/score"
	"github.com/driftwatch/driftwatch/internal/stats"
)

// ZScore flags points whose distance from the series mean exceeds
// Threshold standard deviations.
type ZScore struct {
	Threshold float64
}

// NewZScore returns a z-score detector with the given threshold.
func NewZScore(threshold float64) *ZScore {
	return &ZScore{Threshold: threshold}
}

func (z *ZScore) Name() string { return "zscore" }

func (z *ZScore) Detect(values []float64, timestamps []time.Time) []models.Detection {
	if len(values) < 3 {
		return nil
	}
	mean := stats.Mean(values)
	std := stats.StdDev(values)
	if std == 0 {
		return nil
	}

	var out []models.Detection
	for i, v := range values {
		zs := math.Abs(v-mean) / std
		if zs <= z.Threshold {
			continue
		}
		out = append(out, models.Detection{
			Index:         i,
			Value:         v,
			Timestamp:     tsAt(timestamps, i),
			Confidence:    score.Confidence(zs, z.Threshold, 0.5),
			Method:        "zscore",
			ZScore:        zs,
			ExpectedValue: mean,
			Deviation:     math.Abs(v - mean),
		})
	}
	return out
}

// ModifiedZScore flags points by the MAD-based modified z-score
// 0.6745*(x-median)/mad, which resists contamination by the outliers it
// is hunting. When MAD is zero it falls back to the mean absolute
// deviation around the median.
type ModifiedZScore struct {
	Threshold float64
}

// NewModifiedZScore returns a modified z-score detector.
func NewModifiedZScore(threshold float64) *ModifiedZScore {
	return &ModifiedZScore{Threshold: threshold}
}

func (m *ModifiedZScore) Name() string { return "modified_zscore" }

func (m *ModifiedZScore) Detect(values []float64, timestamps []time.Time) []models.Detection {
	if len(values) < 3 {
		return nil
	}
	median := stats.Median(values)
	mad := stats.MAD(values)
	if mad == 0 {
		sum := 0.0
		for _, v := range values {
			sum += math.Abs(v - median)
		}
		mad = sum / float64(len(values))
		if mad == 0 {
			return nil
		}
	}

	var out []models.Detection
	for i, v := range values {
		modZ := 0.6745 * (v - median) / mad
		if math.Abs(modZ) <= m.Threshold {
			continue
		}
		out = append(out, models.Detection{
			Index:         i,
			Value:         v,
			Timestamp:     tsAt(timestamps, i),
			Confidence:    score.Confidence(math.Abs(modZ), m.Threshold, 0.5),
			Method:        "modified_zscore",
			ZScore:        modZ,
			ExpectedValue: median,
			Deviation:     math.Abs(v - median),
		})
	}
	return out
}

// IQR flags points outside [Q1 - k*IQR, Q3 + k*IQR].
type IQR struct {
	Multiplier float64
}

// NewIQR returns an interquartile-range detector.
func NewIQR(multiplier float64) *IQR {
	return &IQR{Multiplier: multiplier}
}

func (d *IQR) Name() string { return "iqr" }

func (d *IQR) Detect(values []float64, timestamps []time.Time) []models.Detection {
	if len(values) < 4 {
		return nil
	}
	q1 := stats.Percentile(values, 25)
	q3 := stats.Percentile(values, 75)
	iqr := q3 - q1
	if iqr == 0 {
		return nil
	}

	lower := q1 - d.Multiplier*iqr
	upper := q3 + d.Multiplier*iqr

	var out []models.Detection
	for i, v := range values {
		if v >= lower && v <= upper {
			continue
		}
		var deviation, expected float64
		if v < lower {
			deviation = lower - v
			expected = lower
		} else {
			deviation = v - upper
			expected = upper
		}
		out = append(out, models.Detection{
			Index:         i,
			Value:         v,
			Timestamp:     tsAt(timestamps, i),
			Confidence:    score.Confidence(deviation, iqr, 1.0),
			Method:        "iqr",
			ExpectedValue: expected,
			Deviation:     deviation,
		})
	}
	return out
}

// CUSUM tracks cumulative sums of standardized residuals in both
// directions. Sustained drift beyond the allowance pushes one of the
// sums past the threshold; both sums reset after each detection so a
// single shift yields a single alarm.
type CUSUM struct {
	Threshold float64
	Drift     float64
}

// NewCUSUM returns a CUSUM mean-shift detector.
func NewCUSUM(threshold, drift float64) *CUSUM {
	return &CUSUM{Threshold: threshold, Drift: drift}
}

func (c *CUSUM) Name() string { return "cusum" }

func (c *CUSUM) Detect(values []float64, timestamps []time.Time) []models.Detection {
	if len(values) < 5 {
		return nil
	}
	mean := stats.Mean(values)
	std := stats.StdDev(values)
	if std == 0 {
		return nil
	}

	var out []models.Detection
	cusumPos, cusumNeg := 0.0, 0.0
	for i, v := range values {
		standardized := (v - mean) / std
		cusumPos = math.Max(0, cusumPos+standardized-c.Drift)
		cusumNeg = math.Max(0, cusumNeg-standardized-c.Drift)

		if cusumPos > c.Threshold || cusumNeg > c.Threshold {
			cusumValue := math.Max(cusumPos, cusumNeg)
			out = append(out, models.Detection{
				Index:         i,
				Value:         v,
				Timestamp:     tsAt(timestamps, i),
				Confidence:    score.Confidence(cusumValue, c.Threshold, 0.3),
				Method:        "cusum",
				ExpectedValue: mean,
				Deviation:     math.Abs(v - mean),
			})
			cusumPos, cusumNeg = 0, 0
		}
	}
	return out
}

// MovingAverage compares each point against the mean and spread of the
// trailing window.
type MovingAverage struct {
	Window    int
	Threshold float64
}

// NewMovingAverage returns a trailing-window deviation detector.
func NewMovingAverage(window int, threshold float64) *MovingAverage {
	return &MovingAverage{Window: window, Threshold: threshold}
}

func (m *MovingAverage) Name() string { return "moving_average" }

func (m *MovingAverage) Detect(values []float64, timestamps []time.Time) []models.Detection {
	if len(values) < m.Window+1 {
		return nil
	}

	var out []models.Detection
	for i := m.Window; i < len(values); i++ {
		window := values[i-m.Window : i]
		ma := stats.Mean(window)
		maStd := stats.StdDev(window)
		if maStd == 0 {
			continue
		}

		deviation := math.Abs(values[i] - ma)
		zs := deviation / maStd
		if zs <= m.Threshold {
			continue
		}
		out = append(out, models.Detection{
			Index:         i,
			Value:         values[i],
			Timestamp:     tsAt(timestamps, i),
			Confidence:    score.Confidence(zs, m.Threshold, 0.5),
			Method:        "moving_average",
			ZScore:        zs,
			ExpectedValue: ma,
			Deviation:     deviation,
		})
	}
	return out
}
