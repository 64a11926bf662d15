package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// viperManager implements Manager using Viper.
type viperManager struct {
	configPath string
	config     *Config
	viper      *viper.Viper
	watchChan  chan Config
}

// Load loads configuration from all sources.
func (m *viperManager) Load(ctx context.Context) error {
	m.viper = viper.New()

	m.viper.SetConfigFile(m.configPath)
	m.viper.SetConfigType("yaml")

	m.viper.SetEnvPrefix("DRIFTWATCH")
	m.viper.AutomaticEnv()
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	m.setDefaults()

	// Config file is optional; defaults plus env vars are a complete
	// configuration on their own.
	if err := m.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// File not found via viper, use defaults.
		} else if os.IsNotExist(err) {
			// File not found via os, use defaults.
		} else {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.applyEnvOverrides()

	return nil
}

// Get returns the current configuration.
func (m *viperManager) Get(ctx context.Context) *Config {
	return m.config
}

// Validate validates configuration is correct and complete.
func (m *viperManager) Validate(ctx context.Context) error {
	errs := m.config.Validate()
	if len(errs) > 0 {
		var errMsgs []string
		for _, err := range errs {
			errMsgs = append(errMsgs, err.Error())
		}
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errMsgs, "\n  - "))
	}
	return nil
}

// Watch watches for configuration changes and reloads.
func (m *viperManager) Watch(ctx context.Context) <-chan Config {
	m.viper.WatchConfig()
	m.viper.OnConfigChange(func(e fsnotify.Event) {
		if err := m.unmarshalConfig(); err != nil {
			return
		}
		select {
		case m.watchChan <- *m.config:
		default:
			// Channel full, skip this update.
		}
	})

	return m.watchChan
}

// Reload reloads configuration from sources.
func (m *viperManager) Reload(ctx context.Context) error {
	if err := m.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.applyEnvOverrides()

	return nil
}

// setDefaults sets default values in viper.
func (m *viperManager) setDefaults() {
	defaults := DefaultConfig()

	// Server defaults
	m.viper.SetDefault("server.host", defaults.Server.Host)
	m.viper.SetDefault("server.port", defaults.Server.Port)
	m.viper.SetDefault("server.collection_interval_seconds", defaults.Server.CollectionIntervalSeconds)
	m.viper.SetDefault("server.allowed_origins", defaults.Server.AllowedOrigins)

	// Agent defaults
	for name, a := range map[string]AgentConfig{
		"statistical": defaults.Agents.Statistical,
		"temporal":    defaults.Agents.Temporal,
		"correlation": defaults.Agents.Correlation,
		"context":     defaults.Agents.Context,
		"oi":          defaults.Agents.OI,
	} {
		m.viper.SetDefault("agents."+name+".weight", a.Weight)
		m.viper.SetDefault("agents."+name+".min_confidence", a.MinConfidence)
	}
	m.viper.SetDefault("agents.coordinator.consensus_threshold", defaults.Agents.Coordinator.ConsensusThreshold)
	m.viper.SetDefault("agents.coordinator.novelty_from_graph", defaults.Agents.Coordinator.NoveltyFromGraph)

	// Statistical defaults
	m.viper.SetDefault("statistical.zscore.threshold", defaults.Statistical.ZScore.Threshold)
	m.viper.SetDefault("statistical.modified_zscore.threshold", defaults.Statistical.ModifiedZScore.Threshold)
	m.viper.SetDefault("statistical.iqr.multiplier", defaults.Statistical.IQR.Multiplier)
	m.viper.SetDefault("statistical.cusum.threshold", defaults.Statistical.CUSUM.Threshold)
	m.viper.SetDefault("statistical.cusum.drift", defaults.Statistical.CUSUM.Drift)
	m.viper.SetDefault("statistical.moving_average.window", defaults.Statistical.MovingAverage.Window)
	m.viper.SetDefault("statistical.moving_average.threshold", defaults.Statistical.MovingAverage.Threshold)
	m.viper.SetDefault("statistical.ensemble.min_consensus", defaults.Statistical.Ensemble.MinConsensus)

	// Temporal defaults
	m.viper.SetDefault("temporal.changepoint.min_size", defaults.Temporal.Changepoint.MinSize)
	m.viper.SetDefault("temporal.changepoint.penalty", defaults.Temporal.Changepoint.Penalty)
	m.viper.SetDefault("temporal.trend.window", defaults.Temporal.Trend.Window)
	m.viper.SetDefault("temporal.seasonal.period", defaults.Temporal.Seasonal.Period)
	m.viper.SetDefault("temporal.exponential_smoothing.alpha", defaults.Temporal.ExponentialSmoothing.Alpha)
	m.viper.SetDefault("temporal.moving_average.short_window", defaults.Temporal.MovingAverage.ShortWindow)
	m.viper.SetDefault("temporal.moving_average.long_window", defaults.Temporal.MovingAverage.LongWindow)
	m.viper.SetDefault("temporal.moving_average.deviation_threshold", defaults.Temporal.MovingAverage.DeviationThreshold)

	// ML defaults
	m.viper.SetDefault("ml.isolation_forest.num_trees", defaults.ML.IsolationForest.NumTrees)
	m.viper.SetDefault("ml.isolation_forest.sub_sample_size", defaults.ML.IsolationForest.SubSampleSize)
	m.viper.SetDefault("ml.isolation_forest.max_depth", defaults.ML.IsolationForest.MaxDepth)
	m.viper.SetDefault("ml.isolation_forest.threshold", defaults.ML.IsolationForest.Threshold)
	m.viper.SetDefault("ml.lof.neighbors", defaults.ML.LOF.Neighbors)
	m.viper.SetDefault("ml.lof.threshold", defaults.ML.LOF.Threshold)
	m.viper.SetDefault("ml.ensemble.min_consensus", defaults.ML.Ensemble.MinConsensus)

	// Correlation defaults
	m.viper.SetDefault("correlation.pearson_threshold", defaults.Correlation.PearsonThreshold)
	m.viper.SetDefault("correlation.spearman_threshold", defaults.Correlation.SpearmanThreshold)
	m.viper.SetDefault("correlation.window_size", defaults.Correlation.WindowSize)
	m.viper.SetDefault("correlation.break_threshold", defaults.Correlation.BreakThreshold)

	// Data source defaults
	m.viper.SetDefault("data_sources.oi_derivatives.divergence_detection.price_threshold", defaults.DataSources.OIDerivatives.Divergence.PriceThreshold)
	m.viper.SetDefault("data_sources.oi_derivatives.divergence_detection.oi_threshold", defaults.DataSources.OIDerivatives.Divergence.OIThreshold)
	m.viper.SetDefault("data_sources.oi_derivatives.divergence_detection.spike_threshold", defaults.DataSources.OIDerivatives.Divergence.SpikeThreshold)
	m.viper.SetDefault("data_sources.oi_derivatives.funding.moderate_threshold", defaults.DataSources.OIDerivatives.Funding.ModerateThreshold)
	m.viper.SetDefault("data_sources.oi_derivatives.funding.extreme_threshold", defaults.DataSources.OIDerivatives.Funding.ExtremeThreshold)
	m.viper.SetDefault("data_sources.oi_derivatives.long_short_ratio.moderate_ratio", defaults.DataSources.OIDerivatives.LongShortRatio.ModerateRatio)
	m.viper.SetDefault("data_sources.oi_derivatives.long_short_ratio.extreme_ratio", defaults.DataSources.OIDerivatives.LongShortRatio.ExtremeRatio)
	m.viper.SetDefault("data_sources.rate_limit.max_calls", defaults.DataSources.RateLimit.MaxCalls)
	m.viper.SetDefault("data_sources.rate_limit.window_seconds", defaults.DataSources.RateLimit.WindowSeconds)
	m.viper.SetDefault("data_sources.cache_ttl_seconds", defaults.DataSources.CacheTTLSeconds)

	// Knowledge graph defaults
	m.viper.SetDefault("knowledge_graph.max_nodes", defaults.KnowledgeGraph.MaxNodes)
	m.viper.SetDefault("knowledge_graph.edge_expiry_hours", defaults.KnowledgeGraph.EdgeExpiryHours)
	m.viper.SetDefault("knowledge_graph.similarity_threshold", defaults.KnowledgeGraph.SimilarityThreshold)

	// Logging defaults
	m.viper.SetDefault("logging.level", defaults.Logging.Level)
	m.viper.SetDefault("logging.format", defaults.Logging.Format)
	m.viper.SetDefault("logging.file_path", defaults.Logging.FilePath)
	m.viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	m.viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	m.viper.SetDefault("logging.max_age_days", defaults.Logging.MaxAgeDays)
}

// unmarshalConfig unmarshals viper config into the Config struct.
func (m *viperManager) unmarshalConfig() error {
	cfg := &Config{}

	// Server
	cfg.Server.Host = m.viper.GetString("server.host")
	cfg.Server.Port = m.viper.GetInt("server.port")
	cfg.Server.CollectionIntervalSeconds = m.viper.GetInt("server.collection_interval_seconds")
	cfg.Server.AllowedOrigins = m.viper.GetStringSlice("server.allowed_origins")

	// Agents
	cfg.Agents.Statistical = m.agentConfig("statistical")
	cfg.Agents.Temporal = m.agentConfig("temporal")
	cfg.Agents.Correlation = m.agentConfig("correlation")
	cfg.Agents.Context = m.agentConfig("context")
	cfg.Agents.OI = m.agentConfig("oi")
	cfg.Agents.Coordinator.ConsensusThreshold = m.viper.GetFloat64("agents.coordinator.consensus_threshold")
	cfg.Agents.Coordinator.NoveltyFromGraph = m.viper.GetBool("agents.coordinator.novelty_from_graph")

	// Statistical
	cfg.Statistical.ZScore.Threshold = m.viper.GetFloat64("statistical.zscore.threshold")
	cfg.Statistical.ModifiedZScore.Threshold = m.viper.GetFloat64("statistical.modified_zscore.threshold")
	cfg.Statistical.IQR.Multiplier = m.viper.GetFloat64("statistical.iqr.multiplier")
	cfg.Statistical.CUSUM.Threshold = m.viper.GetFloat64("statistical.cusum.threshold")
	cfg.Statistical.CUSUM.Drift = m.viper.GetFloat64("statistical.cusum.drift")
	cfg.Statistical.MovingAverage.Window = m.viper.GetInt("statistical.moving_average.window")
	cfg.Statistical.MovingAverage.Threshold = m.viper.GetFloat64("statistical.moving_average.threshold")
	cfg.Statistical.Ensemble.MinConsensus = m.viper.GetInt("statistical.ensemble.min_consensus")

	// Temporal
	cfg.Temporal.Changepoint.MinSize = m.viper.GetInt("temporal.changepoint.min_size")
	cfg.Temporal.Changepoint.Penalty = m.viper.GetFloat64("temporal.changepoint.penalty")
	cfg.Temporal.Trend.Window = m.viper.GetInt("temporal.trend.window")
	cfg.Temporal.Seasonal.Period = m.viper.GetInt("temporal.seasonal.period")
	cfg.Temporal.ExponentialSmoothing.Alpha = m.viper.GetFloat64("temporal.exponential_smoothing.alpha")
	cfg.Temporal.MovingAverage.ShortWindow = m.viper.GetInt("temporal.moving_average.short_window")
	cfg.Temporal.MovingAverage.LongWindow = m.viper.GetInt("temporal.moving_average.long_window")
	cfg.Temporal.MovingAverage.DeviationThreshold = m.viper.GetFloat64("temporal.moving_average.deviation_threshold")

	// ML
	cfg.ML.IsolationForest.NumTrees = m.viper.GetInt("ml.isolation_forest.num_trees")
	cfg.ML.IsolationForest.SubSampleSize = m.viper.GetInt("ml.isolation_forest.sub_sample_size")
	cfg.ML.IsolationForest.MaxDepth = m.viper.GetInt("ml.isolation_forest.max_depth")
	cfg.ML.IsolationForest.Threshold = m.viper.GetFloat64("ml.isolation_forest.threshold")
	cfg.ML.LOF.Neighbors = m.viper.GetInt("ml.lof.neighbors")
	cfg.ML.LOF.Threshold = m.viper.GetFloat64("ml.lof.threshold")
	cfg.ML.Ensemble.MinConsensus = m.viper.GetInt("ml.ensemble.min_consensus")

	// Correlation
	cfg.Correlation.PearsonThreshold = m.viper.GetFloat64("correlation.pearson_threshold")
	cfg.Correlation.SpearmanThreshold = m.viper.GetFloat64("correlation.spearman_threshold")
	cfg.Correlation.WindowSize = m.viper.GetInt("correlation.window_size")
	cfg.Correlation.BreakThreshold = m.viper.GetFloat64("correlation.break_threshold")

	// Data sources
	cfg.DataSources.OIDerivatives.Divergence.PriceThreshold = m.viper.GetFloat64("data_sources.oi_derivatives.divergence_detection.price_threshold")
	cfg.DataSources.OIDerivatives.Divergence.OIThreshold = m.viper.GetFloat64("data_sources.oi_derivatives.divergence_detection.oi_threshold")
	cfg.DataSources.OIDerivatives.Divergence.SpikeThreshold = m.viper.GetFloat64("data_sources.oi_derivatives.divergence_detection.spike_threshold")
	cfg.DataSources.OIDerivatives.Funding.ModerateThreshold = m.viper.GetFloat64("data_sources.oi_derivatives.funding.moderate_threshold")
	cfg.DataSources.OIDerivatives.Funding.ExtremeThreshold = m.viper.GetFloat64("data_sources.oi_derivatives.funding.extreme_threshold")
	cfg.DataSources.OIDerivatives.LongShortRatio.ModerateRatio = m.viper.GetFloat64("data_sources.oi_derivatives.long_short_ratio.moderate_ratio")
	cfg.DataSources.OIDerivatives.LongShortRatio.ExtremeRatio = m.viper.GetFloat64("data_sources.oi_derivatives.long_short_ratio.extreme_ratio")
	cfg.DataSources.RateLimit.MaxCalls = m.viper.GetInt("data_sources.rate_limit.max_calls")
	cfg.DataSources.RateLimit.WindowSeconds = m.viper.GetInt("data_sources.rate_limit.window_seconds")
	cfg.DataSources.CacheTTLSeconds = m.viper.GetInt("data_sources.cache_ttl_seconds")

	// Knowledge graph
	cfg.KnowledgeGraph.MaxNodes = m.viper.GetInt("knowledge_graph.max_nodes")
	cfg.KnowledgeGraph.EdgeExpiryHours = m.viper.GetInt("knowledge_graph.edge_expiry_hours")
	cfg.KnowledgeGraph.SimilarityThreshold = m.viper.GetFloat64("knowledge_graph.similarity_threshold")

	// Logging
	cfg.Logging.Level = m.viper.GetString("logging.level")
	cfg.Logging.Format = m.viper.GetString("logging.format")
	cfg.Logging.FilePath = m.viper.GetString("logging.file_path")
	cfg.Logging.MaxSizeMB = m.viper.GetInt("logging.max_size_mb")
	cfg.Logging.MaxBackups = m.viper.GetInt("logging.max_backups")
	cfg.Logging.MaxAgeDays = m.viper.GetInt("logging.max_age_days")

	m.config = cfg
	return nil
}

// agentConfig reads one agent section.
func (m *viperManager) agentConfig(name string) AgentConfig {
	return AgentConfig{
		Weight:        m.viper.GetFloat64("agents." + name + ".weight"),
		MinConfidence: m.viper.GetFloat64("agents." + name + ".min_confidence"),
	}
}

// applyEnvOverrides applies environment variable overrides that don't
// follow the DRIFTWATCH_ key mapping.
func (m *viperManager) applyEnvOverrides() {
	// Plain PORT, for container platforms that inject it.
	if portEnv := os.Getenv("PORT"); portEnv != "" {
		if port, err := strconv.Atoi(portEnv); err == nil && port > 0 {
			m.config.Server.Port = port
		}
	}

	// Plain LOG_LEVEL, honored for parity with the container images.
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		m.config.Logging.Level = strings.ToLower(level)
	}

	if interval := os.Getenv("COLLECTION_INTERVAL_SECONDS"); interval != "" {
		if secs, err := strconv.Atoi(interval); err == nil && secs > 0 {
			m.config.Server.CollectionIntervalSeconds = secs
		}
	}
}
