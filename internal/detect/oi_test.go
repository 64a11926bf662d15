package detect

import (
	"math"
	"testing"
)

func TestOIDivergenceClassification(t *testing.T) {
	det := NewOIDivergence(1.0, 2.0, 10.0)

	tests := []struct {
		name        string
		priceChg    float64
		oiChg       float64
		wantType    string
		wantNothing bool
	}{
		{"bearish divergence", 2.0, -3.0, BearishDivergence, false},
		{"bullish divergence", -3.0, 6.0, BullishDivergence, false},
		{"bullish continuation", 3.0, 6.0, BullishContinuation, false},
		{"oi spike", 0.5, 12.0, OISpikeAnomaly, false},
		{"negative oi spike", 0.5, -15.0, OISpikeAnomaly, false},
		{"quiet tick", 0.3, 0.5, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := det.DetectPairs([]float64{tt.priceChg}, []float64{tt.oiChg}, nil, nil)
			if tt.wantNothing {
				if len(results) != 0 {
					t.Fatalf("expected no detection, got %+v", results)
				}
				return
			}
			if len(results) != 1 {
				t.Fatalf("expected 1 detection, got %d", len(results))
			}
			if results[0].DivergenceType != tt.wantType {
				t.Errorf("expected %s, got %s", tt.wantType, results[0].DivergenceType)
			}
		})
	}
}

func TestOIDivergenceBearishContinuation(t *testing.T) {
	// With a wider price threshold the bullish-divergence branch does not
	// trigger, so the continuation class is reachable.
	det := NewOIDivergence(3.0, 2.0, 10.0)
	results := det.DetectPairs([]float64{-2.5}, []float64{5.5}, nil, nil)
	if len(results) != 1 {
		t.Fatalf("expected 1 detection, got %d", len(results))
	}
	if results[0].DivergenceType != BearishContinuation {
		t.Errorf("expected bearish_continuation, got %s", results[0].DivergenceType)
	}
	if results[0].Severity != "medium" {
		t.Errorf("expected medium severity, got %s", results[0].Severity)
	}
}

func TestOIDivergenceOrderFirstMatchWins(t *testing.T) {
	// price -3%, OI +6% satisfies both bullish divergence and bearish
	// continuation; divergence is checked first.
	det := NewOIDivergence(1.0, 2.0, 10.0)
	results := det.DetectPairs([]float64{-3.0}, []float64{6.0}, nil, nil)
	if len(results) != 1 {
		t.Fatalf("expected 1 detection, got %d", len(results))
	}
	r := results[0]
	if r.DivergenceType != BullishDivergence {
		t.Errorf("expected bullish_divergence to win, got %s", r.DivergenceType)
	}
	if r.Confidence < 0.85 {
		t.Errorf("expected confidence >= 0.85 for a 6%% OI move, got %f", r.Confidence)
	}
	if r.Severity != "high" {
		t.Errorf("expected high severity for OI change above 5%%, got %s", r.Severity)
	}
}

func TestOIDivergenceMismatchedLengths(t *testing.T) {
	det := NewOIDivergence(1.0, 2.0, 10.0)
	if got := det.DetectPairs([]float64{1, 2}, []float64{1}, nil, nil); got != nil {
		t.Errorf("expected empty result for mismatched lengths, got %d", len(got))
	}
}

func TestFundingRateThresholds(t *testing.T) {
	det := NewFundingRate(0.05, 0.10)

	tests := []struct {
		rate         float64
		wantSignal   string
		wantSeverity string
		wantNothing  bool
	}{
		{0.12, "extreme_long_pressure", "high", false},
		{-0.15, "extreme_short_pressure", "high", false},
		{0.07, "high_long_pressure", "medium", false},
		{-0.06, "high_short_pressure", "medium", false},
		{0.02, "", "", true},
	}

	for _, tt := range tests {
		results := det.DetectRates([]float64{tt.rate}, nil)
		if tt.wantNothing {
			if len(results) != 0 {
				t.Errorf("rate %f: expected no detection, got %+v", tt.rate, results)
			}
			continue
		}
		if len(results) != 1 {
			t.Fatalf("rate %f: expected 1 detection, got %d", tt.rate, len(results))
		}
		r := results[0]
		if r.DivergenceType != tt.wantSignal {
			t.Errorf("rate %f: expected signal %s, got %s", tt.rate, tt.wantSignal, r.DivergenceType)
		}
		if r.Severity != tt.wantSeverity {
			t.Errorf("rate %f: expected severity %s, got %s", tt.rate, tt.wantSeverity, r.Severity)
		}
		if r.Confidence <= 0 || r.Confidence > 1 {
			t.Errorf("rate %f: confidence out of range: %f", tt.rate, r.Confidence)
		}
	}
}

func TestFundingRateExtremeConfidence(t *testing.T) {
	det := NewFundingRate(0.05, 0.10)
	results := det.DetectRates([]float64{0.12}, nil)
	if len(results) != 1 {
		t.Fatalf("expected 1 detection, got %d", len(results))
	}
	if results[0].Confidence < 0.75 {
		t.Errorf("expected confidence >= 0.75 for extreme rate, got %f", results[0].Confidence)
	}
}

func TestLongShortRatioSymmetry(t *testing.T) {
	det := NewLongShortRatio(2.0, 3.0)

	long := det.DetectRatios([]float64{3.5}, nil, false)
	short := det.DetectRatios([]float64{1 / 3.5}, nil, false)
	if len(long) != 1 || len(short) != 1 {
		t.Fatalf("expected detections on both sides, got %d and %d", len(long), len(short))
	}
	if diff := math.Abs(long[0].Confidence - short[0].Confidence); diff > 1e-9 {
		t.Errorf("|ln R| confidence should be symmetric, got %f vs %f", long[0].Confidence, short[0].Confidence)
	}
	if long[0].DivergenceType != "extreme_long_crowding" {
		t.Errorf("unexpected signal %s", long[0].DivergenceType)
	}
	if short[0].DivergenceType != "extreme_short_crowding" {
		t.Errorf("unexpected signal %s", short[0].DivergenceType)
	}
}

func TestLongShortRatioTopTraderSeverity(t *testing.T) {
	det := NewLongShortRatio(2.0, 3.0)

	global := det.DetectRatios([]float64{4.0}, nil, false)
	top := det.DetectRatios([]float64{4.0}, nil, true)
	if global[0].Severity != "medium" {
		t.Errorf("expected medium severity for global data, got %s", global[0].Severity)
	}
	if top[0].Severity != "high" {
		t.Errorf("expected high severity for top traders, got %s", top[0].Severity)
	}
}

func TestLongShortRatioModerateBand(t *testing.T) {
	det := NewLongShortRatio(2.0, 3.0)
	results := det.DetectRatios([]float64{2.4, 1.2}, nil, false)
	if len(results) != 1 {
		t.Fatalf("expected 1 detection, got %d", len(results))
	}
	if results[0].DivergenceType != "elevated_long_bias" {
		t.Errorf("unexpected signal %s", results[0].DivergenceType)
	}
	if results[0].Severity != "low" {
		t.Errorf("expected low severity, got %s", results[0].Severity)
	}
}

func TestOIDelta(t *testing.T) {
	deltas := OIDelta([]float64{100, 110, 99})
	if len(deltas) != 2 {
		t.Fatalf("expected 2 deltas, got %d", len(deltas))
	}
	if math.Abs(deltas[0]-10) > 1e-9 {
		t.Errorf("expected +10%%, got %f", deltas[0])
	}
	if math.Abs(deltas[1]-(-10)) > 1e-9 {
		t.Errorf("expected -10%%, got %f", deltas[1])
	}

	// Non-positive previous level yields a zero delta.
	deltas = OIDelta([]float64{0, 50})
	if deltas[0] != 0 {
		t.Errorf("expected zero delta after zero level, got %f", deltas[0])
	}
}

func TestOIZScoreRollingWindow(t *testing.T) {
	values := append(steadySeries(1000, 30), 1500)
	zs := OIZScore(values, 30)
	if len(zs) != len(values) {
		t.Fatalf("expected %d scores, got %d", len(values), len(zs))
	}
	for i := 0; i < 29; i++ {
		if zs[i] != 0 {
			t.Errorf("expected zero before first full window at %d, got %f", i, zs[i])
		}
	}
	if zs[30] < 3 {
		t.Errorf("expected large z-score at the spike, got %f", zs[30])
	}
}

func TestOIPriceCorrelation(t *testing.T) {
	oi := make([]float64, 40)
	price := make([]float64, 40)
	for i := range oi {
		oi[i] = float64(i)
		price[i] = float64(i) * 2
	}
	corr := OIPriceCorrelation(oi, price, 20)
	if len(corr) != 40 {
		t.Fatalf("expected 40 correlations, got %d", len(corr))
	}
	if math.Abs(corr[39]-1) > 1e-9 {
		t.Errorf("expected perfect correlation, got %f", corr[39])
	}
}
