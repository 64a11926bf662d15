package config

import (
	"fmt"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validate validates the configuration and returns validation errors.
// Validation runs at startup only; once the process is running the core
// never fails due to configuration.
func (c *Config) Validate() []error {
	var errs []error

	// Validate server configuration
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", c.Server.Port),
		})
	}
	if c.Server.CollectionIntervalSeconds < 1 {
		errs = append(errs, &ValidationError{
			Field:   "server.collection_interval_seconds",
			Message: fmt.Sprintf("collection interval must be at least 1 second, got %d", c.Server.CollectionIntervalSeconds),
		})
	}

	// Validate agent configuration
	for _, a := range []struct {
		name string
		cfg  AgentConfig
	}{
		{"statistical", c.Agents.Statistical},
		{"temporal", c.Agents.Temporal},
		{"correlation", c.Agents.Correlation},
		{"context", c.Agents.Context},
		{"oi", c.Agents.OI},
	} {
		if a.cfg.Weight <= 0 {
			errs = append(errs, &ValidationError{
				Field:   "agents." + a.name + ".weight",
				Message: fmt.Sprintf("weight must be positive, got %g", a.cfg.Weight),
			})
		}
		if a.cfg.MinConfidence < 0 || a.cfg.MinConfidence > 1 {
			errs = append(errs, &ValidationError{
				Field:   "agents." + a.name + ".min_confidence",
				Message: fmt.Sprintf("min_confidence must be in [0,1], got %g", a.cfg.MinConfidence),
			})
		}
	}
	if t := c.Agents.Coordinator.ConsensusThreshold; t < 0 || t > 1 {
		errs = append(errs, &ValidationError{
			Field:   "agents.coordinator.consensus_threshold",
			Message: fmt.Sprintf("consensus_threshold must be in [0,1], got %g", t),
		})
	}

	// Validate detector thresholds
	if c.Statistical.ZScore.Threshold <= 0 {
		errs = append(errs, &ValidationError{
			Field:   "statistical.zscore.threshold",
			Message: "threshold must be positive",
		})
	}
	if c.Statistical.ModifiedZScore.Threshold <= 0 {
		errs = append(errs, &ValidationError{
			Field:   "statistical.modified_zscore.threshold",
			Message: "threshold must be positive",
		})
	}
	if c.Statistical.IQR.Multiplier <= 0 {
		errs = append(errs, &ValidationError{
			Field:   "statistical.iqr.multiplier",
			Message: "multiplier must be positive",
		})
	}
	if c.Statistical.CUSUM.Threshold <= 0 {
		errs = append(errs, &ValidationError{
			Field:   "statistical.cusum.threshold",
			Message: "threshold must be positive",
		})
	}
	if c.Statistical.Ensemble.MinConsensus < 1 {
		errs = append(errs, &ValidationError{
			Field:   "statistical.ensemble.min_consensus",
			Message: fmt.Sprintf("min_consensus must be at least 1, got %d", c.Statistical.Ensemble.MinConsensus),
		})
	}
	if c.Temporal.Changepoint.MinSize < 2 {
		errs = append(errs, &ValidationError{
			Field:   "temporal.changepoint.min_size",
			Message: fmt.Sprintf("min_size must be at least 2, got %d", c.Temporal.Changepoint.MinSize),
		})
	}
	if a := c.Temporal.ExponentialSmoothing.Alpha; a <= 0 || a >= 1 {
		errs = append(errs, &ValidationError{
			Field:   "temporal.exponential_smoothing.alpha",
			Message: fmt.Sprintf("alpha must be in (0,1), got %g", a),
		})
	}
	if c.Temporal.MovingAverage.ShortWindow >= c.Temporal.MovingAverage.LongWindow {
		errs = append(errs, &ValidationError{
			Field:   "temporal.moving_average",
			Message: fmt.Sprintf("short_window (%d) must be smaller than long_window (%d)",
				c.Temporal.MovingAverage.ShortWindow, c.Temporal.MovingAverage.LongWindow),
		})
	}

	// Validate correlation configuration
	if c.Correlation.WindowSize < 3 {
		errs = append(errs, &ValidationError{
			Field:   "correlation.window_size",
			Message: fmt.Sprintf("window_size must be at least 3, got %d", c.Correlation.WindowSize),
		})
	}
	if t := c.Correlation.PearsonThreshold; t < 0 || t > 1 {
		errs = append(errs, &ValidationError{
			Field:   "correlation.pearson_threshold",
			Message: fmt.Sprintf("pearson_threshold must be in [0,1], got %g", t),
		})
	}
	if c.Correlation.BreakThreshold <= 0 {
		errs = append(errs, &ValidationError{
			Field:   "correlation.break_threshold",
			Message: "break_threshold must be positive",
		})
	}

	// Validate knowledge graph configuration
	if c.KnowledgeGraph.MaxNodes < 1 {
		errs = append(errs, &ValidationError{
			Field:   "knowledge_graph.max_nodes",
			Message: fmt.Sprintf("max_nodes must be at least 1, got %d", c.KnowledgeGraph.MaxNodes),
		})
	}
	if t := c.KnowledgeGraph.SimilarityThreshold; t < 0 || t > 1 {
		errs = append(errs, &ValidationError{
			Field:   "knowledge_graph.similarity_threshold",
			Message: fmt.Sprintf("similarity_threshold must be in [0,1], got %g", t),
		})
	}

	// Validate logging configuration
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		errs = append(errs, &ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid level '%s', must be one of: debug, info, warn, error", c.Logging.Level),
		})
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		errs = append(errs, &ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid format '%s', must be one of: json, text", c.Logging.Format),
		})
	}

	return errs
}
