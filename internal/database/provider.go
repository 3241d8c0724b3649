package database

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/kozaktomas/face-grouper/internal/config"
)

// Opener creates a cache backend from configuration.
type Opener func(ctx context.Context, cfg *config.CacheConfig) (AnalysisCache, error)

// DriverNone disables the analysis cache.
const DriverNone = "none"

var (
	backends   = make(map[string]Opener)
	backendsMu sync.RWMutex
)

// RegisterBackend makes a cache driver available to Open.
// Backend packages call this from init to avoid import cycles.
func RegisterBackend(name string, open Opener) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	backends[name] = open
}

// Backends returns the registered driver names.
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Open creates the cache selected by cfg.Driver. It returns nil without error when
// caching is disabled.
func Open(ctx context.Context, cfg *config.CacheConfig) (AnalysisCache, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == DriverNone {
		return nil, nil
	}

	backendsMu.RLock()
	open, ok := backends[driver]
	backendsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("cache driver %q not registered (available: %s)", driver, strings.Join(Backends(), ", "))
	}

	cache, err := open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s cache: %w", driver, err)
	}
	return cache, nil
}
