package cluster

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kozaktomas/face-grouper/internal/constants"
)

// unvisited marks points DBSCAN has not reached yet.
const unvisited = -2

// DBSCAN is the default Clusterer. Two faces are neighbours when their cosine
// distance is at most Eps; a face with at least MinSamples neighbours (itself
// included) is a core face and grows a cluster.
type DBSCAN struct {
	Eps             float64
	MinSamples      int // defaults to Params.MinClusterSize
	BruteForceLimit int // above this many points neighbourhoods come from an HNSW graph
	Logger          *zap.Logger
}

// NewDBSCAN returns a DBSCAN clusterer, filling zero values with defaults.
func NewDBSCAN(eps float64, minSamples, bruteForceLimit int, logger *zap.Logger) *DBSCAN {
	if eps <= 0 {
		eps = constants.DefaultEpsilon
	}
	if bruteForceLimit <= 0 {
		bruteForceLimit = constants.DefaultBruteForceLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DBSCAN{
		Eps:             eps,
		MinSamples:      minSamples,
		BruteForceLimit: bruteForceLimit,
		Logger:          logger,
	}
}

// Cluster implements Clusterer. Points are visited in row order, so identical input
// always yields identical labels. Clusters smaller than MinClusterSize become noise.
func (d *DBSCAN) Cluster(ctx context.Context, matrix [][]float32, params Params) ([]int, error) {
	if params.Metric != "" && params.Metric != MetricCosine {
		return nil, fmt.Errorf("unsupported metric %q", params.Metric)
	}
	if err := checkDimensions(matrix); err != nil {
		return nil, err
	}

	minCluster := params.MinClusterSize
	if minCluster <= 0 {
		minCluster = constants.DefaultMinClusterSize
	}
	minSamples := d.MinSamples
	if minSamples <= 0 {
		minSamples = minCluster
	}
	eps := d.Eps
	if eps <= 0 {
		eps = constants.DefaultEpsilon
	}

	finder := newNeighborFinder(matrix, eps, d.BruteForceLimit)
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("clustering embeddings",
		zap.Int("points", len(matrix)),
		zap.Float64("eps", eps),
		zap.Int("min_samples", minSamples),
		zap.Bool("hnsw", finder.approximate()))

	labels := make([]int, len(matrix))
	for i := range labels {
		labels[i] = unvisited
	}

	next := 0
	for i := range matrix {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if labels[i] != unvisited {
			continue
		}

		neighbors := finder.within(i)
		if len(neighbors) < minSamples {
			labels[i] = Noise
			continue
		}

		cluster := next
		next++
		labels[i] = cluster

		queue := neighbors
		for len(queue) > 0 {
			j := queue[0]
			queue = queue[1:]

			if labels[j] == Noise {
				labels[j] = cluster // border point
			}
			if labels[j] != unvisited {
				continue
			}
			labels[j] = cluster

			if more := finder.within(j); len(more) >= minSamples {
				queue = append(queue, more...)
			}
		}
	}

	dropSmall(labels, minCluster)
	return labels, nil
}

// dropSmall relabels clusters with fewer than minSize members as noise.
func dropSmall(labels []int, minSize int) {
	sizes := make(map[int]int)
	for _, l := range labels {
		if l != Noise {
			sizes[l]++
		}
	}
	for i, l := range labels {
		if l != Noise && sizes[l] < minSize {
			labels[i] = Noise
		}
	}
}

func checkDimensions(matrix [][]float32) error {
	if len(matrix) == 0 {
		return nil
	}
	dim := len(matrix[0])
	if dim == 0 {
		return fmt.Errorf("embedding 0 is empty")
	}
	for i, row := range matrix {
		if len(row) != dim {
			return fmt.Errorf("embedding %d has dimension %d, expected %d", i, len(row), dim)
		}
	}
	return nil
}
