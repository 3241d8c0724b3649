package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kozaktomas/face-grouper/internal/cluster"
	"github.com/kozaktomas/face-grouper/internal/config"
	"github.com/kozaktomas/face-grouper/internal/database"
	_ "github.com/kozaktomas/face-grouper/internal/database/postgres"
	_ "github.com/kozaktomas/face-grouper/internal/database/sqlite"
	"github.com/kozaktomas/face-grouper/internal/distribute"
	"github.com/kozaktomas/face-grouper/internal/exclude"
	"github.com/kozaktomas/face-grouper/internal/faceapi"
	"github.com/kozaktomas/face-grouper/internal/facematch"
	"github.com/kozaktomas/face-grouper/internal/grouper"
)

// app bundles the grouper and the resources that must be released after a command.
type app struct {
	grouper *grouper.Grouper
	cache   database.AnalysisCache
	logger  *zap.Logger
}

// newApp wires the face service client, the optional analysis cache and the
// clustering settings from cfg.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	client := faceapi.NewClient(cfg.Analyzer.URL, faceapi.Options{
		Model:        cfg.Analyzer.Model,
		Providers:    cfg.Analyzer.Providers,
		DetSize:      cfg.Analyzer.DetSize,
		MaxImageSize: cfg.Analyzer.MaxImageSize,
		Timeout:      cfg.Analyzer.Timeout,
	})

	var analyzer facematch.Analyzer = client
	cache, err := database.Open(ctx, &cfg.Cache)
	if err != nil {
		return nil, err
	}
	if cache != nil {
		analyzer = database.NewCachedAnalyzer(client, cache, client.AnalysisKey(), logger.Named("cache"))
		logger.Debug("analysis cache enabled", zap.String("driver", cfg.Cache.Driver))
	}

	policy, err := distribute.ParsePolicy(cfg.Distribute.Collision)
	if err != nil {
		closeCache(cache, logger)
		return nil, err
	}
	mode, err := exclude.ParseMode(cfg.Exclusion.Mode)
	if err != nil {
		closeCache(cache, logger)
		return nil, err
	}

	exclusions := exclude.New(mode, cfg.Exclusion.Patterns)
	if cfg.Exclusion.RelativeToRoot {
		exclusions = exclusions.RootRelative()
	}

	g := grouper.New(analyzer,
		grouper.WithLogger(logger),
		grouper.WithExtensions(cfg.Collect.Extensions),
		grouper.WithExclusions(exclusions),
		grouper.WithCollisionPolicy(policy),
		grouper.WithClusterer(cluster.NewDBSCAN(
			cfg.Clustering.Epsilon,
			cfg.Clustering.MinSamples,
			cfg.Clustering.BruteForceLimit,
			logger.Named("dbscan"),
		)),
	)

	return &app{grouper: g, cache: cache, logger: logger}, nil
}

// Close releases the analysis cache and flushes the logger.
func (a *app) Close() {
	closeCache(a.cache, a.logger)
	_ = a.logger.Sync()
}

func closeCache(cache database.AnalysisCache, logger *zap.Logger) {
	if cache == nil {
		return
	}
	if err := cache.Close(); err != nil {
		logger.Warn("failed to close analysis cache", zap.Error(err))
	}
}

// printPaths prints a titled list of paths. total is the size of the list
// before it was truncated.
func printPaths(title string, paths []string, total int) {
	if total == 0 {
		return
	}
	fmt.Printf("%s (%d):\n", title, total)
	for _, p := range paths {
		fmt.Printf("    %s\n", p)
	}
	if total > len(paths) {
		fmt.Printf("    ... and %d more\n", total-len(paths))
	}
}
