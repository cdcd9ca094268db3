package pipeline

import (
	"context"
	"time"

	"github.com/thebtf/driftwatch/pkg/models"
)

// RunReader reads the operational log for schedule gating.
type RunReader interface {
	LastCompleted(ctx context.Context, stage string) (*models.StageRun, error)
}

// Scheduler gates expensive stages on the time elapsed since their last
// completed run, read from the operational log.
type Scheduler struct {
	runs RunReader
	now  func() time.Time
}

// NewScheduler creates a scheduler over the operational log.
func NewScheduler(runs RunReader) *Scheduler {
	return &Scheduler{runs: runs, now: time.Now}
}

// ShouldRun reports whether a stage's last completed run is at least
// `every` ago. A stage that never completed always runs.
func (s *Scheduler) ShouldRun(ctx context.Context, stage string, every time.Duration) (bool, error) {
	last, err := s.runs.LastCompleted(ctx, stage)
	if err != nil {
		return false, err
	}
	if last == nil {
		return true, nil
	}
	return s.now().Sub(time.UnixMilli(last.CreatedAtEpoch)) >= every, nil
}
