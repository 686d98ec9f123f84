package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mdeck/internal/importer"
	"github.com/xxxsen/mdeck/internal/metrics"
	"github.com/xxxsen/mdeck/internal/model"
	appErr "github.com/xxxsen/mdeck/internal/pkg/errors"
	"github.com/xxxsen/mdeck/internal/progress"
)

const (
	defaultImportTimeout = 15 * time.Minute
	defaultWorkers       = 2
	defaultQueueSize     = 16
	uploadPattern        = "mdeck-import-*"
)

// Runner executes the import of one package.
type Runner interface {
	Run(ctx context.Context, job importer.Job, rep importer.Reporter) (*model.ImportReport, error)
}

type ImportStore interface {
	CreateDeck(ctx context.Context, deck *model.Deck) error
	ImportStatus(ctx context.Context, userID string) (*model.ImportStatus, error)
}

type ImportOptions struct {
	Timeout   time.Duration
	Workers   int
	QueueSize int
	// UploadDir holds uploaded packages until their job ends. Empty means the
	// system temp dir.
	UploadDir string
}

type queuedJob struct {
	job      importer.Job
	queuedAt time.Time
}

// ImportService runs package imports on a bounded pool of background
// workers and records their progress in the tracker.
type ImportService struct {
	runner  Runner
	store   ImportStore
	tracker *progress.Tracker
	opts    ImportOptions
	mu      sync.Mutex
	closed  bool
	queue   chan queuedJob
	wg      sync.WaitGroup
	start   sync.Once
	stop    sync.Once
	baseCtx context.Context
	cancel  context.CancelFunc
	now     func() time.Time
}

func NewImportService(runner Runner, store ImportStore, tracker *progress.Tracker, opts ImportOptions) *ImportService {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultImportTimeout
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	return &ImportService{
		runner:  runner,
		store:   store,
		tracker: tracker,
		opts:    opts,
		queue:   make(chan queuedJob, opts.QueueSize),
		now:     time.Now,
	}
}

// Start launches the workers. Jobs inherit values of ctx but are detached
// from the request that submitted them.
func (s *ImportService) Start(ctx context.Context) {
	s.start.Do(func() {
		s.baseCtx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
		for i := 0; i < s.opts.Workers; i++ {
			s.wg.Add(1)
			go s.worker()
		}
	})
}

// Stop cancels running jobs and waits for the workers to exit.
func (s *ImportService) Stop() {
	s.stop.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.mu.Lock()
		s.closed = true
		close(s.queue)
		s.mu.Unlock()
		s.wg.Wait()
	})
}

// Submit queues an uploaded package and returns its job id. The file at
// path is owned by the service from now on.
func (s *ImportService) Submit(ctx context.Context, userID, collectionName, path string) (string, error) {
	if strings.TrimSpace(userID) == "" || path == "" {
		return "", appErr.ErrInvalid
	}
	// submitters are serialized so the capacity check cannot race
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", appErr.ErrUnsupported
	}
	if len(s.queue) >= cap(s.queue) {
		metrics.ImportsRejectedTotal.Inc()
		logutil.GetLogger(ctx).Warn("import queue full",
			zap.String("user_id", userID),
			zap.Int("queue_size", s.opts.QueueSize),
		)
		return "", appErr.ErrTooMany
	}
	jobID := newID()
	s.tracker.Begin(jobID, userID)
	s.tracker.Push(jobID, "Upload received, import queued", progress.StatusProcessing, "", 0)
	s.queue <- queuedJob{
		job: importer.Job{
			ID:             jobID,
			UserID:         userID,
			CollectionName: collectionName,
			FilePath:       path,
		},
		queuedAt: s.now(),
	}
	logutil.GetLogger(ctx).Info("import queued", zap.String("job_id", jobID), zap.String("user_id", userID))
	return jobID, nil
}

func (s *ImportService) worker() {
	defer s.wg.Done()
	for item := range s.queue {
		s.runJob(item)
	}
}

func (s *ImportService) runJob(item queuedJob) {
	job := item.job
	ctx, cancel := context.WithCancelCause(s.baseCtx)
	defer cancel(nil)
	logger := logutil.GetLogger(ctx).With(zap.String("job_id", job.ID), zap.String("user_id", job.UserID))
	defer s.removeUpload(ctx, job.FilePath)

	var timedOut atomic.Bool
	timer := time.AfterFunc(s.opts.Timeout, func() {
		timedOut.Store(true)
		s.tracker.Push(job.ID, "Import timed out", progress.StatusWarning,
			fmt.Sprintf("stopped after %s", s.opts.Timeout), progress.NoPercent)
		s.tracker.Finish(job.ID)
		cancel(appErr.ErrImportTimeout)
	})
	defer timer.Stop()

	metrics.ImportsActive.Inc()
	defer metrics.ImportsActive.Dec()
	started := s.now()
	logger.Info("import started", zap.Duration("queued", started.Sub(item.queuedAt)))

	report, err := s.runner.Run(ctx, job, s.tracker.Reporter(job.ID))
	metrics.ImportDuration.Observe(s.now().Sub(started).Seconds())
	switch {
	case timedOut.Load():
		metrics.ImportJobsTotal.WithLabelValues("timeout").Inc()
		logger.Warn("import timed out", zap.Duration("timeout", s.opts.Timeout), zap.Error(err))
	case err != nil && s.baseCtx.Err() != nil:
		metrics.ImportJobsTotal.WithLabelValues("interrupted").Inc()
		s.tracker.Push(job.ID, "Import interrupted by shutdown", progress.StatusWarning, "", progress.NoPercent)
		s.tracker.Finish(job.ID)
		logger.Warn("import interrupted", zap.Error(err))
	case err != nil:
		metrics.ImportJobsTotal.WithLabelValues("error").Inc()
		logger.Error("import failed", zap.Error(err))
		s.fail(ctx, job, err)
	default:
		metrics.ImportJobsTotal.WithLabelValues("success").Inc()
		s.tracker.Push(job.ID, report.Summary, progress.StatusCompleted, report.Action, 100)
		s.tracker.Finish(job.ID)
		logger.Info("import completed", zap.String("summary", report.Summary))
	}
}

// fail records the error and leaves one visible marker deck behind.
func (s *ImportService) fail(ctx context.Context, job importer.Job, err error) {
	s.tracker.Push(job.ID, "Import failed", progress.StatusError, describeError(err), progress.NoPercent)
	s.tracker.Finish(job.ID)

	deck := importer.FallbackDeck(job.UserID, strings.TrimSpace(job.CollectionName), s.now().Unix())
	deck.ID = newID()
	// the job context may already be cancelled
	if cerr := s.store.CreateDeck(context.WithoutCancel(ctx), deck); cerr != nil {
		logutil.GetLogger(ctx).Error("create fallback deck failed",
			zap.String("job_id", job.ID),
			zap.String("user_id", job.UserID),
			zap.Error(cerr),
		)
	}
}

func describeError(err error) string {
	var pe *importer.PhaseError
	if errors.As(err, &pe) {
		return fmt.Sprintf("%s failed: %v", pe.Phase, pe.Err)
	}
	return err.Error()
}

func (s *ImportService) removeUpload(ctx context.Context, path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logutil.GetLogger(ctx).Warn("remove upload failed", zap.String("path", path), zap.Error(err))
	}
}

func (s *ImportService) Progress(userID string) (progress.Snapshot, bool) {
	return s.tracker.Latest(userID)
}

func (s *ImportService) JobProgress(userID, jobID string) (progress.Snapshot, error) {
	snap, ok := s.tracker.Job(jobID)
	if !ok {
		return progress.Snapshot{}, appErr.ErrNotFound
	}
	if snap.UserID != userID {
		return progress.Snapshot{}, appErr.ErrForbidden
	}
	return snap, nil
}

func (s *ImportService) Status(ctx context.Context, userID string) (*model.ImportStatus, error) {
	return s.store.ImportStatus(ctx, userID)
}

// SaveUpload copies an uploaded package into the upload dir, keeping the
// extension so the archive type stays recognisable.
func (s *ImportService) SaveUpload(fileName string, reader io.Reader) (string, error) {
	dir := s.opts.UploadDir
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", err
		}
	}
	tmp, err := os.CreateTemp(dir, uploadPattern+strings.ToLower(filepath.Ext(fileName)))
	if err != nil {
		return "", err
	}
	defer tmp.Close()
	if _, err := io.Copy(tmp, reader); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

// UploadDir is where pending uploads are stored.
func (s *ImportService) UploadDir() string {
	if s.opts.UploadDir != "" {
		return s.opts.UploadDir
	}
	return os.TempDir()
}
