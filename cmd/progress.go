package cmd

import (
	"sync"

	"github.com/schollz/progressbar/v3"

	"github.com/kozaktomas/face-grouper/internal/collector"
)

// progressSink renders collector progress as a terminal progress bar. The bar is
// created on the first update because the total is only known after the walk.
type progressSink struct {
	mu          sync.Mutex
	description string
	bar         *progressbar.ProgressBar
}

func newProgressSink(description string) *progressSink {
	return &progressSink{description: description}
}

// Update implements collector.ProgressFunc.
func (s *progressSink) Update(p collector.Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bar == nil {
		s.bar = progressbar.NewOptions(p.Total,
			progressbar.OptionSetDescription(s.description),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("photos"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionFullWidth(),
		)
	}
	_ = s.bar.Set(p.Current)
}

// Finish completes the bar if one was shown.
func (s *progressSink) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bar != nil {
		_ = s.bar.Finish()
		s.bar = nil
	}
}
