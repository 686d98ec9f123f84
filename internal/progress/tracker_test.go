package progress

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestTracker() (*Tracker, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	tracker := NewTracker(30 * time.Minute)
	tracker.now = clock.Now
	return tracker, clock
}

func TestPushKeepsProgressMonotonic(t *testing.T) {
	tracker, _ := newTestTracker()
	tracker.Begin("j1", "u1")
	for _, p := range []int{5, 20, 10, NoPercent, 55, 40, 150} {
		require.True(t, tracker.Push("j1", fmt.Sprintf("step %d", p), StatusProcessing, "", p))
	}
	snap, ok := tracker.Job("j1")
	require.True(t, ok)
	require.Equal(t, 100, snap.CurrentProgress)

	last := 0
	for _, step := range snap.Steps {
		if step.Percent == nil {
			continue
		}
		require.GreaterOrEqual(t, *step.Percent, last)
		last = *step.Percent
	}
	require.Nil(t, snap.Steps[3].Percent)
	require.Equal(t, 20, *snap.Steps[2].Percent)
}

func TestFinishedJobDropsSteps(t *testing.T) {
	tracker, _ := newTestTracker()
	tracker.Begin("j1", "u1")
	tracker.Push("j1", "a", StatusProcessing, "", 10)
	tracker.Finish("j1")
	require.False(t, tracker.Push("j1", "late", StatusProcessing, "", 50))
	require.False(t, tracker.Push("missing", "x", StatusProcessing, "", 1))

	snap, ok := tracker.Job("j1")
	require.True(t, ok)
	require.False(t, snap.IsActive)
	require.Len(t, snap.Steps, 1)
	require.Equal(t, "a", snap.Message)
}

func TestLatestFollowsNewestJob(t *testing.T) {
	tracker, _ := newTestTracker()
	tracker.Begin("j1", "u1")
	tracker.Begin("j2", "u1")
	snap, ok := tracker.Latest("u1")
	require.True(t, ok)
	require.Equal(t, "j2", snap.JobID)
	_, ok = tracker.Latest("u2")
	require.False(t, ok)
	require.Equal(t, 2, tracker.Active())
}

func TestSnapshotIsACopy(t *testing.T) {
	tracker, _ := newTestTracker()
	tracker.Begin("j1", "u1")
	tracker.Push("j1", "a", StatusProcessing, "", 10)
	snap, _ := tracker.Job("j1")
	snap.Steps[0].Label = "changed"
	again, _ := tracker.Job("j1")
	require.Equal(t, "a", again.Steps[0].Label)
}

func TestSweepRemovesIdleEntries(t *testing.T) {
	tracker, clock := newTestTracker()
	tracker.Begin("stale", "u1")
	tracker.Begin("done", "u2")
	tracker.Finish("done")
	clock.Advance(20 * time.Minute)
	tracker.Begin("fresh", "u3")
	clock.Advance(11 * time.Minute)

	require.Equal(t, 2, tracker.Sweep(clock.Now()))
	_, ok := tracker.Job("stale")
	require.False(t, ok)
	_, ok = tracker.Latest("u2")
	require.False(t, ok)
	_, ok = tracker.Job("fresh")
	require.True(t, ok)
}

func TestElapsedFormatting(t *testing.T) {
	require.Equal(t, "0:00", FormatElapsed(0))
	require.Equal(t, "1:05", FormatElapsed(65*time.Second))
	require.Equal(t, "15:00", FormatElapsed(15*time.Minute))

	tracker, clock := newTestTracker()
	tracker.Begin("j1", "u1")
	clock.Advance(90 * time.Second)
	snap, _ := tracker.Job("j1")
	require.Equal(t, "1:30", snap.Elapsed)
	tracker.Finish("j1")
	clock.Advance(time.Hour)
	snap, _ = tracker.Job("j1")
	require.Equal(t, "1:30", snap.Elapsed)
}

func TestConcurrentPushes(t *testing.T) {
	tracker, _ := newTestTracker()
	tracker.Begin("j1", "u1")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			tracker.Push("j1", "s", StatusProcessing, "", p)
		}(i)
	}
	wg.Wait()
	snap, _ := tracker.Job("j1")
	require.Len(t, snap.Steps, 50)
	require.Equal(t, 49, snap.CurrentProgress)
}

func TestReporterPushesToJob(t *testing.T) {
	tracker, _ := newTestTracker()
	tracker.Begin("j1", "u1")
	tracker.Reporter("j1").Step("hello", StatusWarning, "details", NoPercent)
	snap, _ := tracker.Job("j1")
	require.Equal(t, StatusWarning, snap.Steps[0].Status)
	require.Equal(t, "details", snap.Steps[0].Details)
}

