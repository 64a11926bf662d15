package detect

// Package detect implements the one-dimensional anomaly detector
// library: statistical outlier tests, temporal pattern detectors,
// derivatives open-interest specialists, and ML scorers, plus the
// ensembles that combine them.
//
// Every detector is a pure function of its inputs. Timestamps are taken
// from the input series and never synthesized, so repeated runs over the
// same data produce identical output.

import (
	"time"

	"github.com/driftwatch/driftwatch/internal/models"
)

// Detector is the single capability all series detectors share.
// Implementations return an empty slice (never an error) when the input
// is too short or degenerate for the method.
type Detector interface {
	// Name returns the method identifier tagged onto each detection.
	Name() string

	// Detect scans the series for anomalies. timestamps may be nil or
	// shorter than values; a detection only carries a timestamp when one
	// exists for its index.
	Detect(values []float64, timestamps []time.Time) []models.Detection
}

// tsAt returns the timestamp for index i when available.
func tsAt(timestamps []time.Time, i int) time.Time {
	if i < len(timestamps) {
		return timestamps[i]
	}
	return time.Time{}
}

// Ensemble combines several detectors over the same series and keeps
// only the indices flagged by at least MinConsensus of them. The
// ensemble confidence is the arithmetic mean of the contributing
// confidences.
type Ensemble struct {
	Detectors    []Detector
	MinConsensus int
}

// Name implements Detector.
func (e *Ensemble) Name() string { return "ensemble" }

// Detect runs every member detector and buckets detections by index.
func (e *Ensemble) Detect(values []float64, timestamps []time.Time) []models.Detection {
	type bucket struct {
		value      float64
		detections []models.Detection
		methods    []string
	}

	buckets := make(map[int]*bucket)
	var order []int
	for _, d := range e.Detectors {
		for _, det := range d.Detect(values, timestamps) {
			b, ok := buckets[det.Index]
			if !ok {
				b = &bucket{value: det.Value}
				buckets[det.Index] = b
				order = append(order, det.Index)
			}
			b.detections = append(b.detections, det)
			b.methods = append(b.methods, det.Method)
		}
	}

	minConsensus := e.MinConsensus
	if minConsensus < 1 {
		minConsensus = 2
	}

	var out []models.Detection
	for _, idx := range order {
		b := buckets[idx]
		if len(b.detections) < minConsensus {
			continue
		}
		sum := 0.0
		for _, d := range b.detections {
			sum += d.Confidence
		}
		out = append(out, models.Detection{
			Index:      idx,
			Value:      b.value,
			Timestamp:  tsAt(timestamps, idx),
			Confidence: sum / float64(len(b.detections)),
			Method:     "ensemble",
			Methods:    b.methods,
			Individual: b.detections,
			Consensus:  len(b.detections),
		})
	}
	return out
}
