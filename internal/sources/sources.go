package sources

// Package sources manages the telemetry producers feeding the pipeline.
//
// A Source is anything that can produce a batch of data points. The
// Collector wraps every registered source with a per-source sliding
// window rate limiter and a TTL fetch cache, so the collection loop can
// run on a fixed cadence without hammering upstream APIs: fresh cache
// entries are served directly, rate-limited or failing sources fall
// back to their last good batch.

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/driftwatch/driftwatch/internal/config"
	"github.com/driftwatch/driftwatch/internal/metrics"
	"github.com/driftwatch/driftwatch/internal/models"
)

// Source produces one batch of observations per collection cycle.
type Source interface {
	// Name identifies the source; it becomes the DataPoint.Source value
	// and the cache and rate-limit key.
	Name() string

	// Fetch retrieves the current batch from the upstream. It must
	// respect ctx cancellation and return an error rather than block
	// indefinitely.
	Fetch(ctx context.Context) ([]models.DataPoint, error)
}

// Func adapts a plain function into a Source.
type Func struct {
	SourceName string
	FetchFunc  func(ctx context.Context) ([]models.DataPoint, error)
}

func (f Func) Name() string { return f.SourceName }

func (f Func) Fetch(ctx context.Context) ([]models.DataPoint, error) {
	return f.FetchFunc(ctx)
}

// Collector drains every registered source, enforcing rate limits and
// serving cached batches where possible.
type Collector struct {
	sources  []Source
	limiters map[string]*RateLimiter
	cache    *Cache
	maxCalls int
	window   time.Duration
	logger   *zap.Logger
}

// NewCollector builds a collector from the data-source configuration.
func NewCollector(cfg *config.Config, logger *zap.Logger) *Collector {
	return &Collector{
		limiters: make(map[string]*RateLimiter),
		cache:    NewCache(time.Duration(cfg.DataSources.CacheTTLSeconds) * time.Second),
		maxCalls: cfg.DataSources.RateLimit.MaxCalls,
		window:   time.Duration(cfg.DataSources.RateLimit.WindowSeconds) * time.Second,
		logger:   logger,
	}
}

// Register adds a source to the collection set. Not safe for concurrent
// use with Collect; register everything during startup.
func (c *Collector) Register(s Source) {
	c.sources = append(c.sources, s)
	c.limiters[s.Name()] = NewRateLimiter(c.maxCalls, c.window)
}

// Sources returns the names of all registered sources in registration
// order.
func (c *Collector) Sources() []string {
	names := make([]string, len(c.sources))
	for i, s := range c.sources {
		names[i] = s.Name()
	}
	return names
}

// Collect gathers one batch from every source. Individual source
// failures degrade to cached data or are skipped; Collect itself only
// fails when the context is cancelled.
func (c *Collector) Collect(ctx context.Context) ([]models.DataPoint, error) {
	var batch []models.DataPoint
	for _, s := range c.sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		points := c.collectOne(ctx, s)
		batch = append(batch, points...)
	}
	return batch, nil
}

func (c *Collector) collectOne(ctx context.Context, s Source) []models.DataPoint {
	name := s.Name()

	// A fresh cache entry means we fetched recently enough; don't touch
	// the upstream at all.
	if cached, fresh, ok := c.cache.Get(name); ok && fresh {
		metrics.SourceFetchesTotal.WithLabelValues(name, "cached").Inc()
		return cached
	}

	if !c.limiters[name].Allow() {
		metrics.SourceFetchesTotal.WithLabelValues(name, "rate_limited").Inc()
		c.logger.Warn("source rate limited, serving cached data",
			zap.String("source", name))
		cached, _, _ := c.cache.Get(name)
		return cached
	}

	start := time.Now()
	points, err := s.Fetch(ctx)
	metrics.SourceFetchDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SourceFetchesTotal.WithLabelValues(name, "error").Inc()
		c.logger.Error("source fetch failed, serving cached data",
			zap.String("source", name), zap.Error(err))
		cached, _, _ := c.cache.Get(name)
		return cached
	}

	metrics.SourceFetchesTotal.WithLabelValues(name, "fetched").Inc()
	c.cache.Put(name, points)
	return points
}
