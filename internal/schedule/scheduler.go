package schedule

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mdeck/internal/metrics"
	appErr "github.com/xxxsen/mdeck/internal/pkg/errors"
)

type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type Scheduler interface {
	AddJob(job Job, spec string) error
	RunNow(ctx context.Context, name string) error
	Start(ctx context.Context)
	Stop()
}

type entry struct {
	id  cron.EntryID
	run func(ctx context.Context) error
}

type CronScheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]entry
	ctx     context.Context
}

func NewCronScheduler() *CronScheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &CronScheduler{
		cron:    cron.New(cron.WithParser(parser)),
		entries: make(map[string]entry),
	}
}

// AddJob registers job under its name. Runs of the same job never overlap,
// whether started by cron or by RunNow.
func (c *CronScheduler) AddJob(job Job, spec string) error {
	name := job.Name()
	logger := logutil.GetLogger(context.Background()).With(zap.String("job", name), zap.String("spec", spec))
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[name]; ok {
		return fmt.Errorf("job %s already scheduled: %w", name, appErr.ErrConflict)
	}
	run := c.wrap(job, spec)
	entryID, err := c.cron.AddFunc(spec, func() { _ = run(c.baseContext()) })
	if err != nil {
		logger.Error("schedule job failed", zap.Error(err))
		return err
	}
	c.entries[name] = entry{id: entryID, run: run}
	logger.Info("job scheduled")
	return nil
}

// RunNow runs a registered job synchronously.
func (c *CronScheduler) RunNow(ctx context.Context, name string) error {
	c.mu.Lock()
	e, ok := c.entries[name]
	c.mu.Unlock()
	if !ok {
		return appErr.ErrNotFound
	}
	return e.run(ctx)
}

func (c *CronScheduler) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()
	c.cron.Start()
}

func (c *CronScheduler) Stop() {
	ctx := c.cron.Stop()
	<-ctx.Done()
}

func (c *CronScheduler) baseContext() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

func (c *CronScheduler) wrap(job Job, spec string) func(ctx context.Context) error {
	var running atomic.Bool
	return func(ctx context.Context) error {
		logger := logutil.GetLogger(ctx).With(
			zap.String("job", job.Name()),
			zap.String("spec", spec),
		)
		if !running.CompareAndSwap(false, true) {
			logger.Info("job skipped: still running")
			metrics.ScheduledJobRunsTotal.WithLabelValues(job.Name(), "skipped").Inc()
			return nil
		}
		defer running.Store(false)

		start := time.Now()
		logger.Debug("job started")
		err := job.Run(ctx)
		elapsed := time.Since(start)
		if err != nil {
			metrics.ScheduledJobRunsTotal.WithLabelValues(job.Name(), "error").Inc()
			logger.Error("job finished", zap.Error(err), zap.Duration("duration", elapsed))
			return err
		}
		metrics.ScheduledJobRunsTotal.WithLabelValues(job.Name(), "ok").Inc()
		logger.Debug("job finished", zap.Duration("duration", elapsed))
		return nil
	}
}
