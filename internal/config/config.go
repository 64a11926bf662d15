package config

import "context"

// Package config provides configuration management for driftwatch.
//
// Responsibilities:
//   - Load configuration from YAML files and environment variables
//   - Validate configuration on startup
//   - Provide runtime access to all configuration
//   - Support configuration reloading via file watch
//   - Establish reasonable defaults for every detector and agent
//
// Configuration Sources (priority order, high to low):
//   1. Environment variables (DRIFTWATCH_* prefix)
//   2. YAML config files (default: /etc/driftwatch/config.yaml)
//   3. Built-in defaults (lowest priority)
//
// Main Configuration Sections:
//
//   1. Server
//      - host, port: listen address (default 0.0.0.0:8000)
//      - collection_interval_seconds: background collection cadence
//
//   2. Agents
//      - <name>.weight: contribution to weighted consensus
//      - <name>.min_confidence: per-agent anomaly acceptance floor
//      - coordinator.consensus_threshold: report acceptance floor
//
//   3. Statistical / Temporal / ML detectors
//      - per-method thresholds, windows, and ensemble consensus
//
//   4. Correlation
//      - pearson/spearman thresholds, window size, break threshold
//
//   5. Data sources
//      - oi_derivatives divergence thresholds
//      - rate limiting and fetch cache TTL
//
//   6. Knowledge graph
//      - max_nodes, edge_expiry_hours, similarity_threshold
//
//   7. Logging
//      - level, format, optional rotating file output
//
// Once a Config value has been handed to detectors and agents it is
// treated as immutable; Watch delivers a fresh copy for the caller to
// swap in at a cycle boundary.

// AgentConfig holds the per-agent tuning shared by all agents.
type AgentConfig struct {
	Weight        float64
	MinConfidence float64
}

// Config struct contains all configuration fields.
type Config struct {
	// Server configuration
	Server struct {
		Host                      string
		Port                      int
		CollectionIntervalSeconds int
		// AllowedOrigins lists origins permitted to open WebSocket
		// connections. Use ["*"] to allow any origin (development only).
		AllowedOrigins []string
	}

	// Agent configuration
	Agents struct {
		Statistical AgentConfig
		Temporal    AgentConfig
		Correlation AgentConfig
		Context     AgentConfig
		OI          AgentConfig
		Coordinator struct {
			ConsensusThreshold float64
			// NoveltyFromGraph flags reports as novel when the knowledge
			// graph holds no similar signature, feeding the novelty term
			// of the severity formula.
			NoveltyFromGraph bool
		}
	}

	// Statistical detector configuration
	Statistical struct {
		ZScore struct {
			Threshold float64
		}
		ModifiedZScore struct {
			Threshold float64
		}
		IQR struct {
			Multiplier float64
		}
		CUSUM struct {
			Threshold float64
			Drift     float64
		}
		MovingAverage struct {
			Window    int
			Threshold float64
		}
		Ensemble struct {
			MinConsensus int
		}
	}

	// Temporal detector configuration
	Temporal struct {
		Changepoint struct {
			MinSize int
			Penalty float64
		}
		Trend struct {
			Window int
		}
		Seasonal struct {
			Period int
		}
		ExponentialSmoothing struct {
			Alpha float64
		}
		MovingAverage struct {
			ShortWindow        int
			LongWindow         int
			DeviationThreshold float64
		}
	}

	// ML detector configuration
	ML struct {
		IsolationForest struct {
			NumTrees      int
			SubSampleSize int
			MaxDepth      int
			Threshold     float64
		}
		LOF struct {
			Neighbors int
			Threshold float64
		}
		Ensemble struct {
			MinConsensus int
		}
	}

	// Correlation configuration
	Correlation struct {
		PearsonThreshold  float64
		SpearmanThreshold float64
		WindowSize        int
		BreakThreshold    float64
	}

	// Data source configuration
	DataSources struct {
		OIDerivatives struct {
			Divergence struct {
				PriceThreshold float64
				OIThreshold    float64
				SpikeThreshold float64
			}
			Funding struct {
				ModerateThreshold float64
				ExtremeThreshold  float64
			}
			LongShortRatio struct {
				ModerateRatio float64
				ExtremeRatio  float64
			}
		}
		RateLimit struct {
			MaxCalls      int
			WindowSeconds int
		}
		CacheTTLSeconds int
	}

	// Knowledge graph configuration
	KnowledgeGraph struct {
		MaxNodes            int
		EdgeExpiryHours     int
		SimilarityThreshold float64
	}

	// Logging configuration
	Logging struct {
		Level      string
		Format     string
		FilePath   string
		MaxSizeMB  int
		MaxBackups int
		MaxAgeDays int
	}
}

// Manager defines the interface for configuration access.
type Manager interface {
	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error

	// Watch watches for configuration changes and reloads.
	Watch(ctx context.Context) <-chan Config

	// Reload reloads configuration from sources.
	Reload(ctx context.Context) error
}

// NewManager creates a new configuration manager.
func NewManager(configPath string) (Manager, error) {
	mgr := &viperManager{
		configPath: configPath,
		config:     DefaultConfig(),
		watchChan:  make(chan Config, 1),
	}
	return mgr, nil
}

// NewManagerWithDefaults creates a config manager with the default
// config path.
func NewManagerWithDefaults() (Manager, error) {
	return NewManager("/etc/driftwatch/config.yaml")
}
