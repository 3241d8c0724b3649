// Package plan describes which images go to which cluster folders before any file
// is touched.
package plan

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync/atomic"

	"github.com/kozaktomas/face-grouper/internal/cluster"
)

// ErrConsumed is returned when a plan is distributed a second time.
var ErrConsumed = errors.New("plan already consumed")

// Entry assigns one image to one or more clusters.
type Entry struct {
	Path     string `json:"path" yaml:"path"`
	Clusters []int  `json:"clusters" yaml:"clusters"` // ascending, never empty
	Faces    int    `json:"faces" yaml:"faces"`       // kept faces in the image
}

// Single reports whether the image belongs to exactly one cluster.
func (e Entry) Single() bool {
	return len(e.Clusters) == 1
}

// Plan is the immutable result of grouping a root. Accessors return copies.
type Plan struct {
	root       string
	clusters   map[int][]string
	entries    []Entry
	unreadable []string
	noFaces    []string
	consumed   atomic.Bool
}

// Build assembles a plan. images must be in traversal order; entries follow that
// order and images without a cluster are left out.
func Build(root string, images []string, idx *cluster.Index, faceCounts map[string]int, unreadable, noFaces []string) *Plan {
	p := &Plan{
		root:       root,
		clusters:   make(map[int][]string),
		unreadable: slices.Clone(unreadable),
		noFaces:    slices.Clone(noFaces),
	}
	if idx == nil {
		return p
	}

	for _, id := range idx.Clusters() {
		p.clusters[id] = idx.Members(id)
	}
	for _, path := range images {
		ids := idx.ClustersOf(path)
		if len(ids) == 0 {
			continue
		}
		p.entries = append(p.entries, Entry{Path: path, Clusters: ids, Faces: faceCounts[path]})
	}
	return p
}

// Root returns the directory the plan was built from.
func (p *Plan) Root() string { return p.root }

// Entries returns the plan entries in traversal order.
func (p *Plan) Entries() []Entry {
	out := make([]Entry, len(p.entries))
	for i, e := range p.entries {
		e.Clusters = slices.Clone(e.Clusters)
		out[i] = e
	}
	return out
}

// Clusters returns cluster id -> member paths sorted by path.
func (p *Plan) Clusters() map[int][]string {
	out := make(map[int][]string, len(p.clusters))
	for id, members := range p.clusters {
		out[id] = slices.Clone(members)
	}
	return out
}

// ClusterIDs returns the cluster ids in ascending order.
func (p *Plan) ClusterIDs() []int {
	return slices.Sorted(maps.Keys(p.clusters))
}

// Unreadable returns images that could not be decoded or analyzed.
func (p *Plan) Unreadable() []string { return slices.Clone(p.unreadable) }

// NoFaces returns images in which no face was detected.
func (p *Plan) NoFaces() []string { return slices.Clone(p.noFaces) }

// Empty reports whether the plan assigns no image.
func (p *Plan) Empty() bool { return len(p.entries) == 0 }

// Consume marks the plan as used. Only the first call succeeds.
func (p *Plan) Consume() error {
	if !p.consumed.CompareAndSwap(false, true) {
		return ErrConsumed
	}
	return nil
}

// Consumed reports whether Consume has been called.
func (p *Plan) Consumed() bool { return p.consumed.Load() }

// Validate checks the plan's internal consistency: every entry has ascending,
// non-empty clusters and a path is listed under a cluster exactly when its entry
// names that cluster.
func (p *Plan) Validate() error {
	fromEntries := make(map[int]map[string]bool)
	seen := make(map[string]bool, len(p.entries))

	for _, e := range p.entries {
		if e.Path == "" {
			return errors.New("entry with empty path")
		}
		if seen[e.Path] {
			return fmt.Errorf("duplicate entry for %s", e.Path)
		}
		seen[e.Path] = true

		if len(e.Clusters) == 0 {
			return fmt.Errorf("entry %s has no clusters", e.Path)
		}
		for i, id := range e.Clusters {
			if id < 0 {
				return fmt.Errorf("entry %s has negative cluster %d", e.Path, id)
			}
			if i > 0 && id <= e.Clusters[i-1] {
				return fmt.Errorf("entry %s clusters %v are not strictly ascending", e.Path, e.Clusters)
			}
			if fromEntries[id] == nil {
				fromEntries[id] = make(map[string]bool)
			}
			fromEntries[id][e.Path] = true
		}
	}

	for id, members := range p.clusters {
		if !slices.IsSorted(members) {
			return fmt.Errorf("cluster %d members are not sorted", id)
		}
		for _, path := range members {
			if !fromEntries[id][path] {
				return fmt.Errorf("cluster %d lists %s but its entry does not", id, path)
			}
		}
		if len(members) != len(fromEntries[id]) {
			return fmt.Errorf("cluster %d has %d members, entries reference %d", id, len(members), len(fromEntries[id]))
		}
	}
	for id := range fromEntries {
		if _, ok := p.clusters[id]; !ok {
			return fmt.Errorf("cluster %d referenced by entries is missing", id)
		}
	}
	return nil
}
