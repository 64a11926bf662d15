package explain

import (
	"fmt"
	"math"

	"github.com/driftwatch/driftwatch/internal/models"
)

// Counterfactual scenario kinds, in generation order.
const (
	ScenarioExpectedValue = "expected_value"
	ScenarioThreshold     = "threshold"
	ScenarioTrend         = "trend"
	ScenarioNoChangepoint = "no_changepoint"
	ScenarioSeasonal      = "seasonal"
)

// Counterfactualizer produces what-if scenarios for an anomaly: which
// alternative observation would have kept the series unremarkable.
// Scenarios are derived from whichever detail fields the detecting
// agent recorded, capped at MaxScenarios.
type Counterfactualizer struct {
	MaxScenarios int
}

// NewCounterfactualizer returns a generator capped at maxScenarios;
// non-positive caps default to 5.
func NewCounterfactualizer(maxScenarios int) *Counterfactualizer {
	if maxScenarios <= 0 {
		maxScenarios = 5
	}
	return &Counterfactualizer{MaxScenarios: maxScenarios}
}

// Generate builds every applicable scenario for the anomaly.
func (c *Counterfactualizer) Generate(a models.AgentAnomaly) []models.Counterfactual {
	var scenarios []models.Counterfactual

	expected, hasExpected := detailFloat(a.Details, "expected_value")
	if hasExpected {
		scenarios = append(scenarios, models.Counterfactual{
			Scenario: ScenarioExpectedValue,
			Title:    "If the value was normal",
			Description: fmt.Sprintf(
				"If the value had been %.2f (expected) instead of %.2f, no anomaly would have been detected.",
				expected, a.Value),
			Quantity: expected,
		})
	}

	if z, ok := detailFloat(a.Details, "z_score"); ok && z != 0 {
		// The observation scaled back to a z-score of 2.5, just under
		// the detection cut.
		thresholdValue := expected + 2.5*(a.Value-expected)/z
		scenarios = append(scenarios, models.Counterfactual{
			Scenario: ScenarioThreshold,
			Title:    "If the deviation was smaller",
			Description: fmt.Sprintf(
				"If the value had been %.2f, it would have been within acceptable thresholds (Z-score < 3.0).",
				thresholdValue),
			Quantity: thresholdValue,
		})
	}

	if globalSlope, ok := detailFloat(a.Details, "global_slope"); ok {
		if _, ok := detailFloat(a.Details, "local_slope"); ok {
			scenarios = append(scenarios, models.Counterfactual{
				Scenario:    ScenarioTrend,
				Title:       "If the trend had continued normally",
				Description: "If the local trend had matched the global trend, the value would have followed the expected pattern.",
				Quantity:    globalSlope,
			})
		}
	}

	if meanBefore, ok := detailFloat(a.Details, "mean_before"); ok {
		if meanAfter, ok := detailFloat(a.Details, "mean_after"); ok {
			scenarios = append(scenarios, models.Counterfactual{
				Scenario: ScenarioNoChangepoint,
				Title:    "If there was no regime change",
				Description: fmt.Sprintf(
					"If the mean had remained at %.2f instead of shifting to %.2f, the pattern would have been normal.",
					meanBefore, meanAfter),
				Quantity: math.Abs(meanAfter - meanBefore),
			})
		}
	}

	if _, ok := detailFloat(a.Details, "seasonal_component"); ok {
		scenarios = append(scenarios, models.Counterfactual{
			Scenario: ScenarioSeasonal,
			Title:    "If seasonal patterns were followed",
			Description: fmt.Sprintf(
				"If the value had followed seasonal expectations (%.2f), it would be consistent with historical seasonal patterns.",
				expected),
			Quantity: expected,
		})
	}

	if len(scenarios) > c.MaxScenarios {
		scenarios = scenarios[:c.MaxScenarios]
	}
	return scenarios
}

// WhatIf reports the impact of changing one recorded detail to a new
// value. Unknown parameters yield an error string in the result.
type WhatIf struct {
	Success       bool    `json:"success"`
	Error         string  `json:"error,omitempty"`
	Parameter     string  `json:"parameter,omitempty"`
	OriginalValue float64 `json:"original_value,omitempty"`
	NewValue      float64 `json:"new_value,omitempty"`
	Impact        string  `json:"impact,omitempty"`
}

// GenerateWhatIf simulates replacing one numeric detail of the anomaly.
func (c *Counterfactualizer) GenerateWhatIf(a models.AgentAnomaly, parameter string, newValue float64) WhatIf {
	original, ok := detailFloat(a.Details, parameter)
	if !ok {
		return WhatIf{
			Success: false,
			Error:   fmt.Sprintf("Parameter %s not found in anomaly data", parameter),
		}
	}

	percentChange := 0.0
	if original != 0 {
		percentChange = math.Abs(newValue-original) / math.Abs(original) * 100
	}
	impact := "significant"
	switch {
	case percentChange < 10:
		impact = "minimal"
	case percentChange < 30:
		impact = "moderate"
	}

	return WhatIf{
		Success:       true,
		Parameter:     parameter,
		OriginalValue: original,
		NewValue:      newValue,
		Impact: fmt.Sprintf(
			"Changing %s from %.2f to %.2f (%.1f%% change) would have a %s impact on anomaly detection.",
			parameter, original, newValue, percentChange, impact),
	}
}
