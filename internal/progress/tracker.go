// Package progress keeps the in-memory progress of running imports.
package progress

import (
	"fmt"
	"sync"
	"time"
)

type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
	StatusWarning    Status = "warning"
)

// NoPercent marks a step that does not move the progress bar.
const NoPercent = -1

const DefaultIdle = 30 * time.Minute

type Step struct {
	Timestamp int64  `json:"timestamp"`
	Label     string `json:"label"`
	Status    Status `json:"status"`
	Details   string `json:"details,omitempty"`
	Percent   *int   `json:"percent,omitempty"`
}

type Snapshot struct {
	JobID           string `json:"job_id"`
	UserID          string `json:"user_id"`
	Steps           []Step `json:"steps"`
	CurrentProgress int    `json:"current_progress"`
	IsActive        bool   `json:"is_active"`
	StartTime       int64  `json:"start_time"`
	LastUpdate      int64  `json:"last_update"`
	Elapsed         string `json:"elapsed"`
	Message         string `json:"message"`
}

type entry struct {
	jobID    string
	userID   string
	steps    []Step
	progress int
	active   bool
	start    time.Time
	last     time.Time
}

// Tracker is safe for concurrent use. Entries are keyed by job id; each user
// also points at the most recently started job.
type Tracker struct {
	mu      sync.Mutex
	idle    time.Duration
	now     func() time.Time
	entries map[string]*entry
	latest  map[string]string
}

func NewTracker(idle time.Duration) *Tracker {
	if idle <= 0 {
		idle = DefaultIdle
	}
	return &Tracker{
		idle:    idle,
		now:     time.Now,
		entries: make(map[string]*entry),
		latest:  make(map[string]string),
	}
}

func (t *Tracker) Begin(jobID, userID string) {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[jobID] = &entry{
		jobID:  jobID,
		userID: userID,
		active: true,
		start:  now,
		last:   now,
	}
	t.latest[userID] = jobID
}

// Push appends a step to an active job. Percent values never move the
// progress backwards and are capped at 100. It reports whether the step was
// recorded; steps for unknown or finished jobs are dropped.
func (t *Tracker) Push(jobID, label string, status Status, details string, percent int) bool {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[jobID]
	if !ok || !e.active {
		return false
	}
	step := Step{Timestamp: now.UnixMilli(), Label: label, Status: status, Details: details}
	if percent >= 0 {
		if percent > 100 {
			percent = 100
		}
		if percent < e.progress {
			percent = e.progress
		}
		e.progress = percent
		p := percent
		step.Percent = &p
	}
	e.steps = append(e.steps, step)
	e.last = now
	return true
}

func (t *Tracker) Finish(jobID string) {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[jobID]; ok && e.active {
		e.active = false
		e.last = now
	}
}

func (t *Tracker) Job(jobID string) (Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[jobID]
	if !ok {
		return Snapshot{}, false
	}
	return e.snapshot(t.now()), true
}

func (t *Tracker) Latest(userID string) (Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	jobID, ok := t.latest[userID]
	if !ok {
		return Snapshot{}, false
	}
	e, ok := t.entries[jobID]
	if !ok {
		return Snapshot{}, false
	}
	return e.snapshot(t.now()), true
}

func (t *Tracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, e := range t.entries {
		if e.active {
			n++
		}
	}
	return n
}

// Sweep removes entries idle for longer than the idle window, active or not,
// and returns how many were removed.
func (t *Tracker) Sweep(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for id, e := range t.entries {
		if now.Sub(e.last) <= t.idle {
			continue
		}
		delete(t.entries, id)
		if t.latest[e.userID] == id {
			delete(t.latest, e.userID)
		}
		removed++
	}
	return removed
}

func (e *entry) snapshot(now time.Time) Snapshot {
	steps := make([]Step, len(e.steps))
	copy(steps, e.steps)
	end := now
	if !e.active {
		end = e.last
	}
	s := Snapshot{
		JobID:           e.jobID,
		UserID:          e.userID,
		Steps:           steps,
		CurrentProgress: e.progress,
		IsActive:        e.active,
		StartTime:       e.start.UnixMilli(),
		LastUpdate:      e.last.UnixMilli(),
		Elapsed:         FormatElapsed(end.Sub(e.start)),
	}
	if n := len(steps); n > 0 {
		s.Message = steps[n-1].Label
	}
	return s
}

// FormatElapsed renders a duration as m:ss.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

// JobReporter pushes steps of a single job.
type JobReporter struct {
	tracker *Tracker
	jobID   string
}

func (t *Tracker) Reporter(jobID string) *JobReporter {
	return &JobReporter{tracker: t, jobID: jobID}
}

func (r *JobReporter) Step(label string, status Status, details string, percent int) {
	r.tracker.Push(r.jobID, label, status, details, percent)
}
