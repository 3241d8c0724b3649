package cluster

import (
	"math/rand"
	"slices"

	"github.com/coder/hnsw"

	"github.com/kozaktomas/face-grouper/internal/constants"
	"github.com/kozaktomas/face-grouper/internal/facematch"
)

// neighborFinder answers epsilon-neighbourhood queries over a fixed matrix.
// Results always contain the query point and are sorted by row index.
type neighborFinder struct {
	matrix [][]float32
	eps    float64
	graph  *hnsw.Graph[int] // nil for brute force
}

func newNeighborFinder(matrix [][]float32, eps float64, bruteForceLimit int) *neighborFinder {
	f := &neighborFinder{matrix: matrix, eps: eps}
	if len(matrix) <= bruteForceLimit {
		return f
	}

	g := hnsw.NewGraph[int]()
	g.M = constants.HNSWMaxNeighbors
	g.Ml = 1.0 / float64(constants.HNSWMaxNeighbors)
	g.EfSearch = constants.HNSWEfSearch
	g.Distance = hnsw.CosineDistance
	g.Rng = rand.New(rand.NewSource(constants.HNSWSeed))
	for i, v := range matrix {
		g.Add(hnsw.MakeNode(i, v))
	}
	f.graph = g
	return f
}

func (f *neighborFinder) approximate() bool {
	return f.graph != nil
}

func (f *neighborFinder) within(i int) []int {
	if f.graph == nil {
		return f.bruteForce(i)
	}
	return f.search(i)
}

func (f *neighborFinder) bruteForce(i int) []int {
	var out []int
	for j, v := range f.matrix {
		if j == i || facematch.CosineDistance(f.matrix[i], v) <= f.eps {
			out = append(out, j)
		}
	}
	return out
}

// search queries the graph, widening k while every returned node is still inside
// the radius, since the neighbourhood may then extend past the k nearest.
func (f *neighborFinder) search(i int) []int {
	n := len(f.matrix)
	k := min(constants.MaxNeighborQuery, n)
	query := f.matrix[i]

	for {
		nodes := f.graph.Search(query, k)

		out := make([]int, 0, len(nodes)+1)
		self := false
		for _, node := range nodes {
			if node.Key == i {
				self = true
				out = append(out, i)
				continue
			}
			if facematch.CosineDistance(query, node.Value) <= f.eps {
				out = append(out, node.Key)
			}
		}
		if !self {
			out = append(out, i)
		}

		full := len(nodes) > 0 && len(out) >= len(nodes)
		if !full || k >= n {
			slices.Sort(out)
			return out
		}
		k = min(k*2, n)
	}
}
