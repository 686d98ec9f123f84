package job

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mdeck/internal/metrics"
)

type Sweeper interface {
	Sweep(now time.Time) int
}

// ProgressSweepJob drops progress entries that have been idle too long.
type ProgressSweepJob struct {
	tracker Sweeper
	now     func() time.Time
}

func NewProgressSweepJob(tracker Sweeper) *ProgressSweepJob {
	return &ProgressSweepJob{tracker: tracker, now: time.Now}
}

func (j *ProgressSweepJob) Name() string {
	return "progress_sweep"
}

func (j *ProgressSweepJob) Run(ctx context.Context) error {
	removed := j.tracker.Sweep(j.now())
	if removed > 0 {
		metrics.ProgressEntriesSwept.Add(float64(removed))
		logutil.GetLogger(ctx).Info("idle progress entries removed", zap.Int("count", removed))
	}
	return nil
}
