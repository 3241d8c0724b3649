// Package mock provides an in-memory analysis cache for tests.
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/kozaktomas/face-grouper/internal/database"
	"github.com/kozaktomas/face-grouper/internal/facematch"
)

// MockCache is an in-memory implementation of database.AnalysisCache
type MockCache struct {
	mu      sync.RWMutex
	entries map[database.Key][]facematch.Detection

	Gets int
	Puts int

	// Error injection
	GetError   error
	PutError   error
	CountError error
	ClearError error
}

// NewMockCache creates a new empty mock cache
func NewMockCache() *MockCache {
	return &MockCache{entries: make(map[database.Key][]facematch.Detection)}
}

// Get returns a copy of the stored detections
func (m *MockCache) Get(ctx context.Context, key database.Key) ([]facematch.Detection, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Gets++
	if m.GetError != nil {
		return nil, false, m.GetError
	}
	dets, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	return cloneDetections(dets), true, nil
}

// Put stores a copy of dets
func (m *MockCache) Put(ctx context.Context, key database.Key, dets []facematch.Detection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Puts++
	if m.PutError != nil {
		return m.PutError
	}
	m.entries[key] = cloneDetections(dets)
	return nil
}

// Count returns the number of stored analyses
func (m *MockCache) Count(ctx context.Context) (int, error) {
	if m.CountError != nil {
		return 0, m.CountError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}

// Clear removes all stored analyses
func (m *MockCache) Clear(ctx context.Context) error {
	if m.ClearError != nil {
		return m.ClearError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[database.Key][]facematch.Detection)
	return nil
}

// Close is a no-op
func (m *MockCache) Close() error {
	return nil
}

func cloneDetections(dets []facematch.Detection) []facematch.Detection {
	out := make([]facematch.Detection, len(dets))
	for i, d := range dets {
		out[i] = facematch.Detection{Score: d.Score, Embedding: slices.Clone(d.Embedding)}
	}
	return out
}
