// Package facematch defines face detection records and the vector math shared by
// the collector and the clustering stage.
package facematch

import (
	"context"

	"github.com/kozaktomas/face-grouper/internal/imageio"
)

// Detection is a single face found by the analysis service.
//
// Score is always set; services that do not report a score are treated as fully
// confident (1.0) by the wire decoder. Embedding is optional: nil or empty means the
// service detected a face but returned no identity vector for it.
type Detection struct {
	Score     float64
	Embedding []float32
}

// HasEmbedding reports whether the detection carries an identity vector.
func (d Detection) HasEmbedding() bool {
	return len(d.Embedding) > 0
}

// Analyzer detects faces in a decoded image and returns one Detection per face.
// An empty result means the image has no faces.
type Analyzer interface {
	Analyze(ctx context.Context, img *imageio.Image) ([]Detection, error)
}

// ConcurrentAnalyzer is implemented by analyzers that declare themselves safe for
// concurrent use. Analyzers that do not implement it are called one at a time.
type ConcurrentAnalyzer interface {
	ConcurrentSafe() bool
}

// IsConcurrentSafe reports whether a may be called from several goroutines.
func IsConcurrentSafe(a Analyzer) bool {
	c, ok := a.(ConcurrentAnalyzer)
	return ok && c.ConcurrentSafe()
}

// ProviderSelector is implemented by analyzers whose compute backend can be chosen.
type ProviderSelector interface {
	WithProviders(providers []string) Analyzer
}

// ForProviders returns a configured for providers. Analyzers without a provider
// choice, and an empty provider list, leave a unchanged.
func ForProviders(a Analyzer, providers []string) Analyzer {
	if len(providers) == 0 {
		return a
	}
	if s, ok := a.(ProviderSelector); ok {
		return s.WithProviders(providers)
	}
	return a
}

// AnalyzerFunc adapts a function to the Analyzer interface.
type AnalyzerFunc func(ctx context.Context, img *imageio.Image) ([]Detection, error)

// Analyze calls f(ctx, img).
func (f AnalyzerFunc) Analyze(ctx context.Context, img *imageio.Image) ([]Detection, error) {
	return f(ctx, img)
}
