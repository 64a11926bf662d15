// Package explain renders technical findings as natural-language
// narratives and what-if scenarios. Generation is deterministic: the
// same report always yields the same text, so narratives are safe to
// hash, cache, and diff.
package explain

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/driftwatch/driftwatch/internal/models"
)

// Detail levels for narrative generation.
const (
	DetailLow    = "low"
	DetailMedium = "medium"
	DetailHigh   = "high"
)

// Narrator turns anomalies into prose. The coordinator holds one; tests
// substitute their own.
type Narrator interface {
	Narrative(primary models.AgentAnomaly, supporting []models.AgentAnomaly) string
	Summary(reports []models.AnomalyReport) string
	Timeline(reports []models.AnomalyReport) string
}

// Generator is the template-based Narrator. DetailLevel controls how
// much technical detail the narrative carries.
type Generator struct {
	DetailLevel string
}

// NewGenerator returns a Generator at the given detail level; an empty
// level means medium.
func NewGenerator(detailLevel string) *Generator {
	if detailLevel == "" {
		detailLevel = DetailMedium
	}
	return &Generator{DetailLevel: detailLevel}
}

// Narrative composes the full explanation for one anomaly: opening,
// detection details, consensus, technical detail, and impact. Sections
// beyond the opening and impact depend on the detail level.
func (g *Generator) Narrative(primary models.AgentAnomaly, supporting []models.AgentAnomaly) string {
	parts := []string{g.opening(primary)}

	if g.DetailLevel == DetailMedium || g.DetailLevel == DetailHigh {
		parts = append(parts, g.detectionDetails(primary))
	}
	if len(supporting) > 1 {
		parts = append(parts, g.consensusStatement(supporting))
	}
	if g.DetailLevel == DetailHigh {
		if tech := g.technicalDetails(primary); tech != "" {
			parts = append(parts, tech)
		}
	}
	parts = append(parts, g.impactStatement(primary.SeverityLabel))

	return strings.Join(parts, " ")
}

func (g *Generator) opening(a models.AgentAnomaly) string {
	adjective := map[string]string{
		models.SeverityCritical: "critical",
		models.SeverityHigh:     "significant",
		models.SeverityMedium:   "notable",
		models.SeverityLow:      "minor",
	}[a.SeverityLabel]
	if adjective == "" {
		adjective = "notable"
	}

	return fmt.Sprintf("A %s anomaly was detected in the %s metric from %s on %s.",
		adjective, a.Metric, a.Source, a.Timestamp.Format("January 02, 2006 at 03:04 PM"))
}

func (g *Generator) detectionDetails(a models.AgentAnomaly) string {
	if flag, _ := a.Details["multi_source"].(bool); flag {
		return "This multi-source correlation anomaly was detected across multiple data sources."
	}

	details := fmt.Sprintf("The observed value was %.2f", a.Value)
	if expected, ok := detailFloat(a.Details, "expected_value"); ok {
		percentDev := 0.0
		if expected != 0 {
			percentDev = math.Abs(a.Value-expected) / math.Abs(expected) * 100
		}
		details += fmt.Sprintf(", deviating %.1f%% from the expected value of %.2f", percentDev, expected)
	}
	return details + "."
}

func (g *Generator) consensusStatement(detections []models.AgentAnomaly) string {
	seen := make(map[string]bool)
	var agents []string
	for _, d := range detections {
		if !seen[d.AgentName] {
			seen[d.AgentName] = true
			agents = append(agents, d.AgentName)
		}
	}
	sort.Strings(agents)

	return fmt.Sprintf(
		"This anomaly was independently detected by %d different analysis methods (%s), providing strong confidence in the finding.",
		len(detections), strings.Join(agents, ", "))
}

func (g *Generator) technicalDetails(a models.AgentAnomaly) string {
	var details []string
	if z, ok := detailFloat(a.Details, "z_score"); ok {
		details = append(details, fmt.Sprintf("Z-score: %.2f", z))
	}
	details = append(details, fmt.Sprintf("Detection confidence: %.2f%%", a.Confidence*100))
	if len(a.DetectionMethods) > 0 {
		details = append(details, "Methods: "+strings.Join(a.DetectionMethods, ", "))
	}
	if len(details) == 0 {
		return ""
	}
	return "Technical details: " + strings.Join(details, "; ") + "."
}

func (g *Generator) impactStatement(severity string) string {
	switch severity {
	case models.SeverityCritical:
		return "This is a critical anomaly that requires immediate attention and investigation to determine root cause and prevent potential system issues."
	case models.SeverityHigh:
		return "This significant anomaly warrants prompt investigation to understand the underlying cause and assess potential impacts."
	case models.SeverityLow:
		return "This minor anomaly has been logged for awareness and trend analysis."
	default:
		return "This anomaly should be reviewed to determine if any action is needed and to identify potential patterns."
	}
}

// Summary renders the executive summary of one analysis cycle.
func (g *Generator) Summary(reports []models.AnomalyReport) string {
	if len(reports) == 0 {
		return "No anomalies detected in the analyzed period."
	}

	counts := map[string]int{}
	sourceSet := map[string]bool{}
	var sources []string
	for _, r := range reports {
		counts[r.SeverityLabel]++
		if !sourceSet[r.Source] {
			sourceSet[r.Source] = true
			sources = append(sources, r.Source)
		}
	}
	sort.Strings(sources)

	summary := fmt.Sprintf("Detected %d anomalies across %d data sources. ", len(reports), len(sources))
	for _, sev := range []struct{ label, phrase string }{
		{models.SeverityCritical, "critical"},
		{models.SeverityHigh, "high severity"},
		{models.SeverityMedium, "medium severity"},
		{models.SeverityLow, "low severity"},
	} {
		if counts[sev.label] > 0 {
			summary += fmt.Sprintf("%d %s, ", counts[sev.label], sev.phrase)
		}
	}
	summary = strings.TrimSuffix(summary, ", ") + ". "
	summary += "Affected sources include: " + strings.Join(sources, ", ") + "."
	return summary
}

// Timeline renders the first five reports in time order.
func (g *Generator) Timeline(reports []models.AnomalyReport) string {
	if len(reports) == 0 {
		return "No timeline available."
	}

	sorted := make([]models.AnomalyReport, len(reports))
	copy(sorted, reports)
	sort.SliceStable(sorted, func(a, b int) bool {
		return sorted[a].Timestamp.Before(sorted[b].Timestamp)
	})

	timeline := "Anomaly timeline: "
	limit := len(sorted)
	if limit > 5 {
		limit = 5
	}
	for i := 0; i < limit; i++ {
		r := sorted[i]
		timeline += fmt.Sprintf("%d. %s - %s %s; ", i+1, r.Timestamp.Format("15:04:05"), r.Source, r.Metric)
	}
	if len(sorted) > 5 {
		timeline += fmt.Sprintf("and %d more...", len(sorted)-5)
	}
	return timeline
}

// detailFloat reads a numeric detail, tolerating the int-typed values
// that show up after JSON round trips.
func detailFloat(details map[string]interface{}, key string) (float64, bool) {
	if details == nil {
		return 0, false
	}
	switch v := details[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	}
	return 0, false
}
