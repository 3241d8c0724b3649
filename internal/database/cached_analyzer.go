package database

import (
	"context"

	"go.uber.org/zap"

	"github.com/kozaktomas/face-grouper/internal/facematch"
	"github.com/kozaktomas/face-grouper/internal/imageio"
)

// CachedAnalyzer answers from an AnalysisCache and falls back to the wrapped analyzer.
// Cache errors are logged and never fail an analysis.
type CachedAnalyzer struct {
	inner  facematch.Analyzer
	cache  AnalysisCache
	model  string
	logger *zap.Logger
}

// NewCachedAnalyzer wraps inner. model becomes part of every cache key.
func NewCachedAnalyzer(inner facematch.Analyzer, cache AnalysisCache, model string, logger *zap.Logger) *CachedAnalyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedAnalyzer{inner: inner, cache: cache, model: model, logger: logger}
}

// Analyze implements facematch.Analyzer.
func (c *CachedAnalyzer) Analyze(ctx context.Context, img *imageio.Image) ([]facematch.Detection, error) {
	key := KeyFor(img, c.model)
	if !key.Valid() {
		return c.inner.Analyze(ctx, img)
	}

	dets, ok, err := c.cache.Get(ctx, key)
	switch {
	case err != nil:
		c.logger.Warn("analysis cache lookup failed", zap.String("path", img.Path), zap.Error(err))
	case ok:
		c.logger.Debug("analysis cache hit", zap.String("path", img.Path))
		return dets, nil
	}

	dets, err = c.inner.Analyze(ctx, img)
	if err != nil {
		return nil, err
	}

	if err := c.cache.Put(ctx, key, dets); err != nil {
		c.logger.Warn("analysis cache store failed", zap.String("path", img.Path), zap.Error(err))
	}
	return dets, nil
}

// ConcurrentSafe follows the wrapped analyzer; every cache backend is safe for concurrent use.
func (c *CachedAnalyzer) ConcurrentSafe() bool {
	return facematch.IsConcurrentSafe(c.inner)
}

// WithProviders selects compute providers on the wrapped analyzer and keeps the cache.
func (c *CachedAnalyzer) WithProviders(providers []string) facematch.Analyzer {
	return NewCachedAnalyzer(facematch.ForProviders(c.inner, providers), c.cache, c.model, c.logger)
}
