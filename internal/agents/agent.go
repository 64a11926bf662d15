// Package agents implements the specialist analysis agents and the
// coordinator that synthesizes their findings. Each agent inspects one
// aspect of a telemetry batch (statistical outliers, temporal patterns,
// cross-source correlation, external context, derivatives positioning)
// and returns a structured result. Agents never fail a cycle: an agent
// with nothing to say returns an empty result.
package agents

import (
	"context"
	"sort"
	"time"

	"github.com/driftwatch/driftwatch/internal/models"
)

// Canonical agent names, also used as config keys.
const (
	NameStatistical = "statistical"
	NameTemporal    = "temporal"
	NameCorrelation = "correlation"
	NameContext     = "context"
	NameOI          = "oi"
	NameCoordinator = "coordinator"
)

// Agent analyzes one batch of telemetry. Historical points provide
// context; current points define the reporting window. Implementations
// must honor ctx cancellation on long scans and must be safe for
// concurrent use.
type Agent interface {
	Name() string
	Analyze(ctx context.Context, current, historical []models.DataPoint) models.AgentResult
}

// groupBySeries buckets points by (source, metric), each bucket sorted
// by timestamp.
func groupBySeries(points []models.DataPoint) map[models.SeriesKey][]models.DataPoint {
	grouped := make(map[models.SeriesKey][]models.DataPoint)
	for _, p := range points {
		key := models.SeriesKey{Source: p.Source, Metric: p.Metric}
		grouped[key] = append(grouped[key], p)
	}
	for key := range grouped {
		bucket := grouped[key]
		sort.SliceStable(bucket, func(a, b int) bool {
			return bucket[a].Timestamp.Before(bucket[b].Timestamp)
		})
	}
	return grouped
}

// sortedSeriesKeys returns group keys in a stable order so agent output
// does not depend on map iteration.
func sortedSeriesKeys(grouped map[models.SeriesKey][]models.DataPoint) []models.SeriesKey {
	keys := make([]models.SeriesKey, 0, len(grouped))
	for k := range grouped {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(a, b int) bool {
		if keys[a].Source == keys[b].Source {
			return keys[a].Metric < keys[b].Metric
		}
		return keys[a].Source < keys[b].Source
	})
	return keys
}

// seriesValues splits a sorted bucket into parallel value and timestamp
// slices.
func seriesValues(points []models.DataPoint) ([]float64, []time.Time) {
	values := make([]float64, len(points))
	timestamps := make([]time.Time, len(points))
	for i, p := range points {
		values[i] = p.Value
		timestamps[i] = p.Timestamp
	}
	return values, timestamps
}

// earliestTimestamp returns the oldest timestamp in the batch, or the
// zero time for an empty batch.
func earliestTimestamp(points []models.DataPoint) time.Time {
	var earliest time.Time
	for _, p := range points {
		if earliest.IsZero() || p.Timestamp.Before(earliest) {
			earliest = p.Timestamp
		}
	}
	return earliest
}

// isRecent reports whether a finding falls inside the current window.
// Findings carried over from historical context are dropped so every
// cycle only reports on fresh data.
func isRecent(ts time.Time, current []models.DataPoint) bool {
	if len(current) == 0 || ts.IsZero() {
		return true
	}
	return !ts.Before(earliestTimestamp(current))
}

// emptyResult is the structured no-findings result every agent returns
// when it has nothing applicable to analyze.
func emptyResult(name string, weight float64, note string) models.AgentResult {
	meta := map[string]interface{}{}
	if note != "" {
		meta["message"] = note
	}
	return models.AgentResult{
		AgentName: name,
		Weight:    weight,
		Anomalies: []models.AgentAnomaly{},
		Metadata:  meta,
	}
}
