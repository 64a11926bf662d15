package score

// Package score holds the scoring rules shared by every detector and
// agent: sigmoid confidence from deviation ratios, the severity formula
// with its label cuts, weighted consensus averaging, and the stable
// anomaly fingerprint used by the knowledge graph.

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"

	"github.com/driftwatch/driftwatch/internal/models"
)

// Severity label cuts. A score at or above a cut gets that label.
const (
	criticalCut = 0.9
	highCut     = 0.75
	mediumCut   = 0.5
)

// Confidence maps a deviation/threshold ratio to [0,1] through a
// sigmoid centered at ratio=1: sigma(scale*(ratio-1)). A deviation
// exactly at threshold yields 0.5; the per-detector scale controls how
// quickly confidence saturates beyond it.
func Confidence(deviation, threshold, scale float64) float64 {
	if threshold == 0 {
		return 0
	}
	ratio := deviation / threshold
	c := 1 / (1 + math.Exp(-scale*(ratio-1)))
	return Clip(c, 0, 1)
}

// Severity combines confidence, deviation magnitude, blast scope, and
// novelty into a single score:
//
//	0.4*confidence + 0.3*min(magnitude/10, 1) + 0.2*min(scope/5, 1) + 0.1*novel
//
// Magnitude is measured in threshold multiples or percent units by the
// caller; scope counts affected series or sources.
func Severity(confidence, magnitude, scope float64, novel bool) float64 {
	s := 0.4*Clip(confidence, 0, 1) +
		0.3*math.Min(magnitude/10, 1) +
		0.2*math.Min(scope/5, 1)
	if novel {
		s += 0.1
	}
	return Clip(s, 0, 1)
}

// Label maps a severity score to its label. The mapping is monotone:
// cuts at 0.9, 0.75, and 0.5.
func Label(score float64) string {
	switch {
	case score >= criticalCut:
		return models.SeverityCritical
	case score >= highCut:
		return models.SeverityHigh
	case score >= mediumCut:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// WeightedAverage returns sum(w_i*v_i)/sum(w_i), or 0 when the weights
// sum to zero or the lengths differ.
func WeightedAverage(values, weights []float64) float64 {
	if len(values) != len(weights) || len(values) == 0 {
		return 0
	}
	var num, den float64
	for i, v := range values {
		num += weights[i] * v
		den += weights[i]
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// Fingerprint builds the stable 16-hex-char identifier for an anomaly's
// structural signature. Magnitude is rounded to two decimals so nearby
// floats collapse to the same fingerprint.
func Fingerprint(source, metric, patternType string, magnitude float64, duration string) string {
	payload := fmt.Sprintf("%s:%s:%s:%.2f:%s", source, metric, patternType, magnitude, duration)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])[:16]
}

// Clip bounds v to [lo, hi].
func Clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
