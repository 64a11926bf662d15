package detect

import (
	"math"
	"testing"
)

func TestChangePointDetectsRegimeShift(t *testing.T) {
	var values []float64
	for i := 0; i < 30; i++ {
		values = append(values, 10+float64(i%3)*0.2)
	}
	for i := 0; i < 30; i++ {
		values = append(values, 30+float64(i%3)*0.2)
	}

	results := NewChangePoint(5, 10.0).Detect(values, seqTimestamps(len(values)))
	if len(results) == 0 {
		t.Fatal("expected at least one changepoint")
	}

	found := false
	for _, r := range results {
		if r.Index >= 28 && r.Index <= 32 {
			found = true
			if r.Type != "regime_change" {
				t.Errorf("expected type regime_change, got %s", r.Type)
			}
			if r.MeanAfter <= r.MeanBefore {
				t.Errorf("expected mean increase, before=%f after=%f", r.MeanBefore, r.MeanAfter)
			}
		}
	}
	if !found {
		t.Errorf("expected a changepoint near index 30, got %+v", results)
	}
}

func TestChangePointTooShort(t *testing.T) {
	det := NewChangePoint(5, 10.0)
	if got := det.Detect([]float64{1, 2, 3, 4, 5, 6, 7, 8, 9}, nil); got != nil {
		t.Errorf("expected empty result below 2*min_size points, got %d", len(got))
	}
}

func TestTrendDeviationFlagsReversal(t *testing.T) {
	// Steady uptrend that reverses hard in the middle.
	var values []float64
	for i := 0; i < 40; i++ {
		values = append(values, float64(i))
	}
	for i := 0; i < 40; i++ {
		values = append(values, 40-float64(i)*3)
	}

	results := NewTrendDeviation(10).Detect(values, nil)
	if len(results) == 0 {
		t.Fatal("expected trend reversal detections")
	}
	for _, r := range results {
		if r.Type != "trend_reversal" {
			t.Errorf("expected type trend_reversal, got %s", r.Type)
		}
		if r.Confidence <= 0 || r.Confidence > 1 {
			t.Errorf("confidence out of range: %f", r.Confidence)
		}
	}
}

func TestTrendDeviationNegligibleGlobalSlope(t *testing.T) {
	// Flat series: global slope below the floor, nothing to compare
	// against.
	values := steadySeries(10, 60)
	if got := NewTrendDeviation(10).Detect(values, nil); got != nil {
		t.Errorf("expected empty result for flat series, got %d", len(got))
	}
}

func TestSeasonalDetectorNeedsSeasonality(t *testing.T) {
	// Monotone ramp has no seasonal component at period 12.
	var ramp []float64
	for i := 0; i < 48; i++ {
		ramp = append(ramp, float64(i))
	}
	if got := NewSeasonal(12).Detect(ramp, nil); got != nil {
		t.Errorf("expected no detections without seasonality, got %d", len(got))
	}
}

func TestSeasonalDetectorFlagsResidualOutlier(t *testing.T) {
	// Strong sine pattern with one corrupted sample.
	period := 12
	var values []float64
	for i := 0; i < period*6; i++ {
		values = append(values, 100+20*math.Sin(2*math.Pi*float64(i)/float64(period)))
	}
	values[40] += 80

	results := NewSeasonal(period).Detect(values, nil)
	found := false
	for _, r := range results {
		if r.Index == 40 {
			found = true
			if r.Type != "seasonal_outlier" {
				t.Errorf("expected type seasonal_outlier, got %s", r.Type)
			}
		}
	}
	if !found {
		t.Errorf("expected detection at the corrupted index, got %+v", results)
	}
}

func TestExpSmoothingFlagsForecastError(t *testing.T) {
	values := steadySeries(50, 30)
	values[20] = 120

	results := NewExpSmoothing(0.3, 3.0).Detect(values, nil)
	found := false
	for _, r := range results {
		if r.Index == 20 {
			found = true
			if r.Type != "forecast_error" {
				t.Errorf("expected type forecast_error, got %s", r.Type)
			}
			if r.ZScore <= 3.0 {
				t.Errorf("expected z-score above threshold, got %f", r.ZScore)
			}
		}
	}
	if !found {
		t.Fatalf("expected detection at index 20, got %+v", results)
	}
}

func TestExpSmoothingWarmup(t *testing.T) {
	// A spike inside the warm-up window is never flagged.
	values := steadySeries(50, 15)
	values[5] = 500
	for _, r := range NewExpSmoothing(0.3, 3.0).Detect(values, nil) {
		if r.Index <= 10 {
			t.Errorf("detection inside warm-up at index %d", r.Index)
		}
	}
}

func TestMACrossoverDivergence(t *testing.T) {
	// Flat history then a fast ramp pulls the short MA away from the
	// long MA.
	var values []float64
	for i := 0; i < 25; i++ {
		values = append(values, 100)
	}
	for i := 0; i < 10; i++ {
		values = append(values, 100+float64(i+1)*15)
	}

	results := NewMACrossover(5, 20, 0.15).Detect(values, nil)
	if len(results) == 0 {
		t.Fatal("expected crossover detections during the ramp")
	}
	for _, r := range results {
		if r.Index < 25 {
			t.Errorf("unexpected detection in the flat region at index %d", r.Index)
		}
		if r.Deviation <= 0.15 {
			t.Errorf("deviation should exceed threshold, got %f", r.Deviation)
		}
	}
}

func TestMACrossoverRequiresLongWindow(t *testing.T) {
	det := NewMACrossover(5, 20, 0.15)
	if got := det.Detect(steadySeries(10, 19), nil); got != nil {
		t.Errorf("expected empty result below long window, got %d", len(got))
	}
}
