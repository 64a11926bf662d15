package stats

// Package stats provides the numeric helpers shared by the detector
// library and the agents: descriptive statistics, linear regression,
// autocorrelation, and rank correlation. Everything here is pure and
// allocation-light so detectors stay deterministic and cheap.

import (
	"math"
	"sort"
)

// Mean returns the arithmetic mean, or 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StdDev returns the population standard deviation, or 0 for fewer than
// two values.
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := Mean(values)
	sumSq := 0.0
	for _, v := range values {
		d := v - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)))
}

// Variance returns the population variance.
func Variance(values []float64) float64 {
	sd := StdDev(values)
	return sd * sd
}

// Median returns the middle value of the sorted input, averaging the two
// central values for even lengths.
func Median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// Percentile returns the p-th percentile (0-100) using linear
// interpolation between closest ranks.
func Percentile(values []float64, p float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[n-1]
	}

	rank := p / 100 * float64(n-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}
	frac := rank - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}

// MAD returns the median absolute deviation around the median.
func MAD(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	med := Median(values)
	devs := make([]float64, len(values))
	for i, v := range values {
		devs[i] = math.Abs(v - med)
	}
	return Median(devs)
}

// MeanAbsDeviation returns the mean absolute deviation around the mean.
func MeanAbsDeviation(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := Mean(values)
	sum := 0.0
	for _, v := range values {
		sum += math.Abs(v - m)
	}
	return sum / float64(len(values))
}

// Trend direction labels.
const (
	TrendIncreasing = "increasing"
	TrendDecreasing = "decreasing"
	TrendStable     = "stable"
)

// TrendResult summarizes a least-squares fit over a series.
type TrendResult struct {
	Slope     float64
	Intercept float64
	R         float64 // |correlation coefficient| of the fit
	Direction string
}

// Trend fits y = slope*x + intercept over indices 0..n-1. The direction
// is "stable" when |slope| < 0.01 * stddev(values).
func Trend(values []float64) TrendResult {
	n := len(values)
	if n < 2 {
		return TrendResult{Direction: TrendStable}
	}

	xs := make([]float64, n)
	for i := range xs {
		xs[i] = float64(i)
	}
	slope, intercept := LinearFit(xs, values)

	r := Pearson(xs, values)
	direction := TrendStable
	if math.Abs(slope) >= 0.01*StdDev(values) {
		if slope > 0 {
			direction = TrendIncreasing
		} else {
			direction = TrendDecreasing
		}
	}

	return TrendResult{
		Slope:     slope,
		Intercept: intercept,
		R:         math.Abs(r),
		Direction: direction,
	}
}

// LinearFit returns the least-squares slope and intercept of y over x.
// Degenerate inputs (constant x, length mismatch, n<2) yield (0, mean y).
func LinearFit(x, y []float64) (slope, intercept float64) {
	n := len(x)
	if n < 2 || n != len(y) {
		return 0, Mean(y)
	}
	mx, my := Mean(x), Mean(y)
	num, den := 0.0, 0.0
	for i := 0; i < n; i++ {
		dx := x[i] - mx
		num += dx * (y[i] - my)
		den += dx * dx
	}
	if den == 0 {
		return 0, my
	}
	slope = num / den
	return slope, my - slope*mx
}

// Pearson returns the Pearson correlation coefficient of two equal-length
// slices, or 0 when undefined (constant input, length mismatch, n<2).
func Pearson(x, y []float64) float64 {
	n := len(x)
	if n < 2 || n != len(y) {
		return 0
	}
	mx, my := Mean(x), Mean(y)
	var num, sx, sy float64
	for i := 0; i < n; i++ {
		dx := x[i] - mx
		dy := y[i] - my
		num += dx * dy
		sx += dx * dx
		sy += dy * dy
	}
	if sx == 0 || sy == 0 {
		return 0
	}
	return num / math.Sqrt(sx*sy)
}

// Spearman returns the Spearman rank correlation: Pearson applied to the
// tie-averaged ranks of each input.
func Spearman(x, y []float64) float64 {
	if len(x) != len(y) || len(x) < 2 {
		return 0
	}
	return Pearson(ranks(x), ranks(y))
}

// CorrelationPValue approximates the two-sided p-value for a correlation
// coefficient r over n observations, using the t-distribution with n-2
// degrees of freedom.
func CorrelationPValue(r float64, n int) float64 {
	if n < 3 {
		return 1
	}
	if math.Abs(r) >= 1 {
		return 0
	}
	df := float64(n - 2)
	t := r * math.Sqrt(df/(1-r*r))
	return 2 * studentTSF(math.Abs(t), df)
}

// Autocorrelation returns the autocorrelation of the series at the given
// lag, or 0 when the lag is out of range or the series is constant.
func Autocorrelation(values []float64, lag int) float64 {
	n := len(values)
	if lag <= 0 || lag >= n {
		return 0
	}
	m := Mean(values)
	var num, den float64
	for i := 0; i < n; i++ {
		d := values[i] - m
		den += d * d
	}
	if den == 0 {
		return 0
	}
	for i := 0; i < n-lag; i++ {
		num += (values[i] - m) * (values[i+lag] - m)
	}
	return num / den
}

// SeasonalityResult reports whether a series has a seasonal component at
// the tested period.
type SeasonalityResult struct {
	Period        int
	Strength      float64
	HasSeasonality bool
}

// Seasonality tests the series for a seasonal component at the given
// period. The component is considered present when the autocorrelation
// at lag=period exceeds 0.5.
func Seasonality(values []float64, period int) SeasonalityResult {
	strength := Autocorrelation(values, period)
	return SeasonalityResult{
		Period:         period,
		Strength:       strength,
		HasSeasonality: strength > 0.5,
	}
}

// ─── Helpers ─────────────────────────────────────────────────────────────

// ranks assigns 1-based ranks with ties receiving the average of the
// ranks they span.
func ranks(values []float64) []float64 {
	n := len(values)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return values[idx[a]] < values[idx[b]] })

	out := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j+1 < n && values[idx[j+1]] == values[idx[i]] {
			j++
		}
		// Average rank for the tie group spanning positions i..j.
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			out[idx[k]] = avg
		}
		i = j + 1
	}
	return out
}

// studentTSF is the survival function P(T > t) of Student's t
// distribution with df degrees of freedom, via the regularized
// incomplete beta function.
func studentTSF(t, df float64) float64 {
	x := df / (df + t*t)
	return 0.5 * regularizedIncompleteBeta(df/2, 0.5, x)
}

// regularizedIncompleteBeta computes I_x(a, b) using the continued
// fraction expansion from Numerical Recipes.
func regularizedIncompleteBeta(a, b, x float64) float64 {
	if x <= 0 {
		return 0
	}
	if x >= 1 {
		return 1
	}
	lnBeta := lgamma(a+b) - lgamma(a) - lgamma(b)
	front := math.Exp(lnBeta + a*math.Log(x) + b*math.Log(1-x))
	if x < (a+1)/(a+b+2) {
		return front * betaCF(a, b, x) / a
	}
	return 1 - front*betaCF(b, a, 1-x)/b
}

func betaCF(a, b, x float64) float64 {
	const (
		maxIter = 200
		eps     = 3e-14
		fpmin   = 1e-300
	)
	qab := a + b
	qap := a + 1
	qam := a - 1
	c := 1.0
	d := 1 - qab*x/qap
	if math.Abs(d) < fpmin {
		d = fpmin
	}
	d = 1 / d
	h := d
	for m := 1; m <= maxIter; m++ {
		m2 := float64(2 * m)
		aa := float64(m) * (b - float64(m)) * x / ((qam + m2) * (a + m2))
		d = 1 + aa*d
		if math.Abs(d) < fpmin {
			d = fpmin
		}
		c = 1 + aa/c
		if math.Abs(c) < fpmin {
			c = fpmin
		}
		d = 1 / d
		h *= d * c
		aa = -(a + float64(m)) * (qab + float64(m)) * x / ((a + m2) * (qap + m2))
		d = 1 + aa*d
		if math.Abs(d) < fpmin {
			d = fpmin
		}
		c = 1 + aa/c
		if math.Abs(c) < fpmin {
			c = fpmin
		}
		d = 1 / d
		del := d * c
		h *= del
		if math.Abs(del-1) < eps {
			break
		}
	}
	return h
}

func lgamma(x float64) float64 {
	v, _ := math.Lgamma(x)
	return v
}
