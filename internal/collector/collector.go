// Package collector walks a photo tree, runs face analysis on every image and gathers
// the embeddings that feed clustering.
package collector

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kozaktomas/face-grouper/internal/constants"
	"github.com/kozaktomas/face-grouper/internal/exclude"
	"github.com/kozaktomas/face-grouper/internal/facematch"
	"github.com/kozaktomas/face-grouper/internal/imageio"
)

// Options controls a single collection run.
type Options struct {
	MinScore float64      // faces scoring below are dropped (default 0.5)
	Workers  int          // parallel image workers (default 1)
	Progress ProgressFunc // optional
}

// Collection is the outcome of a run. All path lists follow traversal order.
type Collection struct {
	Images     []string       // every collected image
	Embeddings [][]float32    // unit-length face embeddings
	Owners     []string       // Owners[i] is the image Embeddings[i] came from
	FaceCounts map[string]int // kept faces per image, only for images with at least one
	Unreadable []string       // decode or analysis failed
	NoFaces    []string       // analysis found no face
}

// Collector gathers face embeddings from a directory tree.
type Collector struct {
	decoder    imageio.Decoder
	analyzer   facematch.Analyzer
	extensions imageio.ExtensionSet
	exclusions *exclude.Matcher
	logger     *zap.Logger
}

// New creates a collector. A nil extension set means imageio.DefaultExtensions.
func New(decoder imageio.Decoder, analyzer facematch.Analyzer, extensions imageio.ExtensionSet, exclusions *exclude.Matcher, logger *zap.Logger) *Collector {
	if extensions == nil {
		extensions = imageio.NewExtensionSet(imageio.DefaultExtensions)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{
		decoder:    decoder,
		analyzer:   analyzer,
		extensions: extensions,
		exclusions: exclusions,
		logger:     logger,
	}
}

// imageResult holds the outcome for a single image
type imageResult struct {
	unreadable bool
	noFaces    bool
	embeddings [][]float32
}

// Walk lists the images under root in lexical traversal order, skipping excluded paths.
// Unreadable subdirectories are logged and skipped.
func (c *Collector) Walk(root string) ([]string, error) {
	var images []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			c.logger.Warn("skipping unreadable path", zap.String("path", path), zap.Error(err))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !c.extensions.Match(d.Name()) {
			return nil
		}
		if c.exclusions.MatchUnder(root, path) {
			c.logger.Debug("excluded", zap.String("path", path))
			return nil
		}
		images = append(images, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}
	return images, nil
}

// Collect walks root and analyzes every image. Per-image failures are recorded in
// the Collection and never abort the run; only cancellation of ctx does.
func (c *Collector) Collect(ctx context.Context, root string, opts Options) (*Collection, error) {
	images, err := c.Walk(root)
	if err != nil {
		return nil, err
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = constants.DefaultWorkers
	}

	results := make([]imageResult, len(images))
	tracker := newProgressTracker(opts.Progress, len(images))

	// Analyzers are assumed unsafe for concurrent use unless they say otherwise.
	var analyzeMu sync.Mutex
	serialize := !facematch.IsConcurrentSafe(c.analyzer)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, path := range images {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := c.processImage(gctx, path, opts.MinScore, serialize, &analyzeMu)
			if err != nil {
				return err
			}
			results[i] = res
			tracker.done(path)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return merge(images, results), nil
}

// processImage decodes and analyzes one image. It returns an error only on cancellation.
func (c *Collector) processImage(ctx context.Context, path string, minScore float64, serialize bool, mu *sync.Mutex) (imageResult, error) {
	img, err := c.decoder.Decode(path)
	if err != nil || img == nil {
		c.logger.Warn("unreadable image", zap.String("path", path), zap.Error(err))
		return imageResult{unreadable: true}, nil
	}

	if serialize {
		mu.Lock()
	}
	dets, err := c.analyzer.Analyze(ctx, img)
	if serialize {
		mu.Unlock()
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return imageResult{}, ctxErr
		}
		c.logger.Warn("face analysis failed", zap.String("path", path), zap.Error(err))
		return imageResult{unreadable: true}, nil
	}

	if len(dets) == 0 {
		return imageResult{noFaces: true}, nil
	}

	kept := facematch.Keep(dets, minScore)
	if len(kept) < len(dets) {
		c.logger.Debug("dropped low confidence faces",
			zap.String("path", path), zap.Int("detected", len(dets)), zap.Int("kept", len(kept)))
	}
	return imageResult{embeddings: kept}, nil
}

// merge combines per-image results in traversal order, independent of worker scheduling.
func merge(images []string, results []imageResult) *Collection {
	col := &Collection{
		Images:     images,
		FaceCounts: make(map[string]int),
	}
	for i, path := range images {
		res := results[i]
		switch {
		case res.unreadable:
			col.Unreadable = append(col.Unreadable, path)
		case res.noFaces:
			col.NoFaces = append(col.NoFaces, path)
		}
		for _, emb := range res.embeddings {
			col.Embeddings = append(col.Embeddings, emb)
			col.Owners = append(col.Owners, path)
		}
		if len(res.embeddings) > 0 {
			col.FaceCounts[path] = len(res.embeddings)
		}
	}
	return col
}
