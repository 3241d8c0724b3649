// Package cluster groups face embeddings into identities and builds the
// cluster/image index used by plan construction.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

// Noise is the label for embeddings that belong to no cluster.
const Noise = -1

// Metric names the distance function used by a Clusterer.
type Metric string

// MetricCosine is 1 - cosine similarity.
const MetricCosine Metric = "cosine"

// ErrLabelCount is returned when a clusterer does not produce one label per embedding.
var ErrLabelCount = errors.New("label count does not match embedding count")

// Params are the clustering parameters passed to a Clusterer.
type Params struct {
	MinClusterSize int
	Metric         Metric
}

// Clusterer is a density-based clustering capability. It returns one label per
// row of matrix; Noise marks unclustered rows, other labels are arbitrary integers.
type Clusterer interface {
	Cluster(ctx context.Context, matrix [][]float32, params Params) ([]int, error)
}

// Compact maps the distinct non-noise labels, sorted ascending, to 0..K-1.
// The mapping depends only on the set of labels, never on their order.
func Compact(labels []int) map[int]int {
	var distinct []int
	seen := make(map[int]bool)
	for _, l := range labels {
		if l == Noise || seen[l] {
			continue
		}
		seen[l] = true
		distinct = append(distinct, l)
	}
	slices.Sort(distinct)

	mapping := make(map[int]int, len(distinct))
	for i, l := range distinct {
		mapping[l] = i
	}
	return mapping
}

// Index relates compact cluster ids and images in both directions.
// An image appears at most once per cluster however many of its faces landed there.
type Index struct {
	ByCluster map[int]map[string]struct{}
	ByImage   map[string]map[int]struct{}
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{
		ByCluster: make(map[int]map[string]struct{}),
		ByImage:   make(map[string]map[int]struct{}),
	}
}

// Add records that image belongs to cluster.
func (x *Index) Add(cluster int, image string) {
	if x.ByCluster[cluster] == nil {
		x.ByCluster[cluster] = make(map[string]struct{})
	}
	x.ByCluster[cluster][image] = struct{}{}

	if x.ByImage[image] == nil {
		x.ByImage[image] = make(map[int]struct{})
	}
	x.ByImage[image][cluster] = struct{}{}
}

// Len returns the number of clusters.
func (x *Index) Len() int {
	return len(x.ByCluster)
}

// Clusters returns all cluster ids in ascending order.
func (x *Index) Clusters() []int {
	ids := make([]int, 0, len(x.ByCluster))
	for id := range x.ByCluster {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Members returns the images of a cluster sorted by path.
func (x *Index) Members(cluster int) []string {
	members := make([]string, 0, len(x.ByCluster[cluster]))
	for path := range x.ByCluster[cluster] {
		members = append(members, path)
	}
	slices.Sort(members)
	return members
}

// ClustersOf returns the clusters of an image in ascending order, nil if it has none.
func (x *Index) ClustersOf(image string) []int {
	set := x.ByImage[image]
	if len(set) == 0 {
		return nil
	}
	ids := make([]int, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Label clusters embeddings and builds the index over their owning images.
// owners[i] is the image embeddings[i] was taken from. Empty input yields an empty
// index without calling the clusterer.
func Label(ctx context.Context, c Clusterer, embeddings [][]float32, owners []string, params Params) (*Index, error) {
	if len(owners) != len(embeddings) {
		return nil, fmt.Errorf("%d owners for %d embeddings: %w", len(owners), len(embeddings), ErrLabelCount)
	}
	idx := NewIndex()
	if len(embeddings) == 0 {
		return idx, nil
	}
	if params.Metric == "" {
		params.Metric = MetricCosine
	}

	labels, err := c.Cluster(ctx, embeddings, params)
	if err != nil {
		return nil, fmt.Errorf("clustering %d embeddings: %w", len(embeddings), err)
	}
	if len(labels) != len(embeddings) {
		return nil, fmt.Errorf("%d labels for %d embeddings: %w", len(labels), len(embeddings), ErrLabelCount)
	}

	mapping := Compact(labels)
	for i, raw := range labels {
		if raw == Noise {
			continue
		}
		idx.Add(mapping[raw], owners[i])
	}
	return idx, nil
}
