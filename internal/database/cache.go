// Package database persists face analysis results so unchanged photos are not sent
// to the face service twice.
package database

import (
	"context"
	"time"

	"github.com/kozaktomas/face-grouper/internal/facematch"
	"github.com/kozaktomas/face-grouper/internal/imageio"
)

// Key identifies one analysis. A file that is edited in place gets a new size or
// modification time and therefore a new key.
type Key struct {
	Path    string
	Size    int64
	ModTime time.Time
	Model   string
}

// KeyFor builds the cache key of a decoded image. model names the analyzer and
// every setting that changes its detections, such as the detection size.
func KeyFor(img *imageio.Image, model string) Key {
	return Key{
		Path:    img.Path,
		Size:    img.Size,
		ModTime: img.ModTime.UTC().Truncate(time.Microsecond),
		Model:   model,
	}
}

// Valid reports whether the key carries enough file identity to be cached.
func (k Key) Valid() bool {
	return k.Path != "" && !k.ModTime.IsZero()
}

// AnalysisCache stores the detections returned for an image.
type AnalysisCache interface {
	// Get returns the cached detections; ok is false on a miss. A cached empty
	// slice means the image was analyzed and had no faces.
	Get(ctx context.Context, key Key) (dets []facematch.Detection, ok bool, err error)
	// Put stores detections, replacing an earlier analysis of the same key.
	Put(ctx context.Context, key Key, dets []facematch.Detection) error
	// Count returns the number of cached analyses.
	Count(ctx context.Context) (int, error)
	// Clear removes every cached analysis.
	Clear(ctx context.Context) error
	Close() error
}
