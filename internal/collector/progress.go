package collector

import "sync"

// Progress reports how far the collection has advanced.
type Progress struct {
	Current int    // images processed so far
	Total   int    // images found by the walk
	Percent int    // 0-100, never decreases within a run
	Path    string // image just processed
}

// ProgressFunc receives progress updates. It must return quickly; use NonBlocking
// to feed a channel.
type ProgressFunc func(Progress)

// NonBlocking adapts a channel to a ProgressFunc that drops updates when the
// channel is full instead of stalling the collection.
func NonBlocking(ch chan<- Progress) ProgressFunc {
	return func(p Progress) {
		select {
		case ch <- p:
		default:
		}
	}
}

// progressTracker serializes updates so that Current and Percent only grow,
// whichever worker finishes first.
type progressTracker struct {
	mu      sync.Mutex
	sink    ProgressFunc
	total   int
	current int
}

func newProgressTracker(sink ProgressFunc, total int) *progressTracker {
	return &progressTracker{sink: sink, total: total}
}

func (t *progressTracker) done(path string) {
	if t.sink == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current++
	t.sink(Progress{
		Current: t.current,
		Total:   t.total,
		Percent: t.current * 100 / max(t.total, 1),
		Path:    path,
	})
}
