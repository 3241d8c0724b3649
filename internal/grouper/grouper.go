// Package grouper is the entry point used by the CLI and the web API: it builds a
// plan for a photo root and distributes it into cluster folders.
package grouper

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kozaktomas/face-grouper/internal/cluster"
	"github.com/kozaktomas/face-grouper/internal/collector"
	"github.com/kozaktomas/face-grouper/internal/constants"
	"github.com/kozaktomas/face-grouper/internal/distribute"
	"github.com/kozaktomas/face-grouper/internal/exclude"
	"github.com/kozaktomas/face-grouper/internal/facematch"
	"github.com/kozaktomas/face-grouper/internal/imageio"
	"github.com/kozaktomas/face-grouper/internal/logging"
	"github.com/kozaktomas/face-grouper/internal/plan"
)

// ErrRootNotFound is returned when the root to group does not exist or is not a directory.
var ErrRootNotFound = errors.New("root directory not found")

// Options tune a single BuildPlan call. Zero values fall back to defaults.
type Options struct {
	ScoreThreshold *float64 // minimum detection score, nil means 0.5
	MinClusterSize int      // default 2
	Providers      []string // compute providers for the analyzer, empty keeps its own
	Workers        int
	Progress       collector.ProgressFunc
}

// Threshold returns a score threshold for Options. Threshold(0) keeps every face.
func Threshold(v float64) *float64 {
	return &v
}

// Grouper holds the collaborators of the pipeline. It has no mutable state and may
// be shared between goroutines when its analyzer allows it.
type Grouper struct {
	decoder    imageio.Decoder
	analyzer   facematch.Analyzer
	clusterer  cluster.Clusterer
	exclusions *exclude.Matcher
	extensions imageio.ExtensionSet
	collision  distribute.Policy
	logger     *zap.Logger
}

// Option customizes a Grouper.
type Option func(*Grouper)

// WithDecoder replaces the file decoder.
func WithDecoder(d imageio.Decoder) Option {
	return func(g *Grouper) { g.decoder = d }
}

// WithClusterer replaces the default DBSCAN clusterer.
func WithClusterer(c cluster.Clusterer) Option {
	return func(g *Grouper) { g.clusterer = c }
}

// WithExclusions replaces the default exclusion matcher.
func WithExclusions(m *exclude.Matcher) Option {
	return func(g *Grouper) { g.exclusions = m }
}

// WithExtensions limits collection to the given file extensions. An empty list
// keeps the default image extensions.
func WithExtensions(exts []string) Option {
	return func(g *Grouper) {
		if len(exts) > 0 {
			g.extensions = imageio.NewExtensionSet(exts)
		}
	}
}

// WithCollisionPolicy sets what distribution does when a destination exists.
func WithCollisionPolicy(p distribute.Policy) Option {
	return func(g *Grouper) { g.collision = p }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Grouper) { g.logger = l }
}

// New creates a Grouper around a face analyzer.
func New(analyzer facematch.Analyzer, opts ...Option) *Grouper {
	g := &Grouper{
		decoder:    imageio.FileDecoder{},
		analyzer:   analyzer,
		exclusions: exclude.New(exclude.ModeSubstring, exclude.DefaultPatterns),
		collision:  distribute.CollisionOverwrite,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.clusterer == nil {
		g.clusterer = cluster.NewDBSCAN(constants.DefaultEpsilon, 0, constants.DefaultBruteForceLimit, g.logger)
	}
	return g
}

// CheckRoot verifies that root exists and is a directory.
func CheckRoot(root string) error {
	info, err := os.Stat(imageio.LongPath(root))
	if err != nil {
		return fmt.Errorf("%s: %w", root, ErrRootNotFound)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory: %w", root, ErrRootNotFound)
	}
	return nil
}

// BuildPlan collects faces under root, clusters them and returns the plan. No file
// is modified. An empty root yields an empty plan, not an error.
func (g *Grouper) BuildPlan(ctx context.Context, root string, opts Options) (*plan.Plan, error) {
	if err := CheckRoot(root); err != nil {
		return nil, err
	}
	logger := logging.WithRun(g.logger, "build_plan", uuid.NewString())

	minScore := constants.DefaultMinScore
	if opts.ScoreThreshold != nil {
		minScore = *opts.ScoreThreshold
	}
	minCluster := opts.MinClusterSize
	if minCluster <= 0 {
		minCluster = constants.DefaultMinClusterSize
	}

	analyzer := facematch.ForProviders(g.analyzer, opts.Providers)
	col := collector.New(g.decoder, analyzer, g.extensions, g.exclusions, logger)

	collection, err := col.Collect(ctx, root, collector.Options{
		MinScore: minScore,
		Workers:  opts.Workers,
		Progress: opts.Progress,
	})
	if err != nil {
		return nil, fmt.Errorf("collecting faces: %w", err)
	}
	logger.Info("faces collected",
		zap.String("root", root),
		zap.Int("images", len(collection.Images)),
		zap.Int("faces", len(collection.Embeddings)),
		zap.Int("unreadable", len(collection.Unreadable)),
		zap.Int("no_faces", len(collection.NoFaces)))

	idx, err := cluster.Label(ctx, g.clusterer, collection.Embeddings, collection.Owners, cluster.Params{
		MinClusterSize: minCluster,
		Metric:         cluster.MetricCosine,
	})
	if err != nil {
		return nil, fmt.Errorf("clustering faces: %w", err)
	}

	p := plan.Build(root, collection.Images, idx, collection.FaceCounts, collection.Unreadable, collection.NoFaces)
	logger.Info("plan built", zap.Int("clusters", idx.Len()), zap.Int("entries", len(p.Entries())))
	return p, nil
}

// DistributeResult applies p under baseDir and returns the full result.
func (g *Grouper) DistributeResult(ctx context.Context, p *plan.Plan, baseDir string) (*distribute.Result, error) {
	logger := logging.WithRun(g.logger, "distribute", uuid.NewString())
	return distribute.New(g.exclusions, g.collision, logger).Execute(ctx, p, baseDir)
}

// Distribute applies p under baseDir and returns how many files were moved and copied.
func (g *Grouper) Distribute(ctx context.Context, p *plan.Plan, baseDir string) (moved, copied int, err error) {
	result, err := g.DistributeResult(ctx, p, baseDir)
	if result != nil {
		moved, copied = result.Counts()
	}
	return moved, copied, err
}
