package config

// DefaultConfig returns a configuration with all default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	// Server defaults
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 8000
	cfg.Server.CollectionIntervalSeconds = 60
	cfg.Server.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}

	// Agent defaults
	cfg.Agents.Statistical = AgentConfig{Weight: 0.25, MinConfidence: 0.5}
	cfg.Agents.Temporal = AgentConfig{Weight: 0.25, MinConfidence: 0.5}
	cfg.Agents.Correlation = AgentConfig{Weight: 0.20, MinConfidence: 0.5}
	cfg.Agents.Context = AgentConfig{Weight: 0.15, MinConfidence: 0.5}
	cfg.Agents.OI = AgentConfig{Weight: 0.20, MinConfidence: 0.5}
	cfg.Agents.Coordinator.ConsensusThreshold = 0.6
	cfg.Agents.Coordinator.NoveltyFromGraph = true

	// Statistical detector defaults
	cfg.Statistical.ZScore.Threshold = 3.0
	cfg.Statistical.ModifiedZScore.Threshold = 3.5
	cfg.Statistical.IQR.Multiplier = 1.5
	cfg.Statistical.CUSUM.Threshold = 5.0
	cfg.Statistical.CUSUM.Drift = 0.5
	cfg.Statistical.MovingAverage.Window = 10
	cfg.Statistical.MovingAverage.Threshold = 2.0
	cfg.Statistical.Ensemble.MinConsensus = 2

	// Temporal detector defaults
	cfg.Temporal.Changepoint.MinSize = 5
	cfg.Temporal.Changepoint.Penalty = 10.0
	cfg.Temporal.Trend.Window = 20
	cfg.Temporal.Seasonal.Period = 24
	cfg.Temporal.ExponentialSmoothing.Alpha = 0.3
	cfg.Temporal.MovingAverage.ShortWindow = 5
	cfg.Temporal.MovingAverage.LongWindow = 20
	cfg.Temporal.MovingAverage.DeviationThreshold = 0.15

	// ML detector defaults
	cfg.ML.IsolationForest.NumTrees = 100
	cfg.ML.IsolationForest.SubSampleSize = 256
	cfg.ML.IsolationForest.MaxDepth = 10
	cfg.ML.IsolationForest.Threshold = 0.6
	cfg.ML.LOF.Neighbors = 20
	cfg.ML.LOF.Threshold = 1.5
	cfg.ML.Ensemble.MinConsensus = 2

	// Correlation defaults
	cfg.Correlation.PearsonThreshold = 0.7
	cfg.Correlation.SpearmanThreshold = 0.7
	cfg.Correlation.WindowSize = 30
	cfg.Correlation.BreakThreshold = 0.3

	// Data source defaults
	cfg.DataSources.OIDerivatives.Divergence.PriceThreshold = 1.0
	cfg.DataSources.OIDerivatives.Divergence.OIThreshold = 2.0
	cfg.DataSources.OIDerivatives.Divergence.SpikeThreshold = 10.0
	cfg.DataSources.OIDerivatives.Funding.ModerateThreshold = 0.05
	cfg.DataSources.OIDerivatives.Funding.ExtremeThreshold = 0.10
	cfg.DataSources.OIDerivatives.LongShortRatio.ModerateRatio = 2.0
	cfg.DataSources.OIDerivatives.LongShortRatio.ExtremeRatio = 3.0
	cfg.DataSources.RateLimit.MaxCalls = 30
	cfg.DataSources.RateLimit.WindowSeconds = 60
	cfg.DataSources.CacheTTLSeconds = 60

	// Knowledge graph defaults
	cfg.KnowledgeGraph.MaxNodes = 1000
	cfg.KnowledgeGraph.EdgeExpiryHours = 168
	cfg.KnowledgeGraph.SimilarityThreshold = 0.8

	// Logging defaults
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.FilePath = ""
	cfg.Logging.MaxSizeMB = 100
	cfg.Logging.MaxBackups = 3
	cfg.Logging.MaxAgeDays = 28

	return cfg
}
