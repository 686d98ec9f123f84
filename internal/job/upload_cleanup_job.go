package job

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

const uploadPrefix = "mdeck-import-"

// UploadCleanupJob removes uploaded packages left behind by jobs that never
// finished, e.g. after a crash.
type UploadCleanupJob struct {
	dir    string
	maxAge time.Duration
	now    func() time.Time
}

func NewUploadCleanupJob(dir string, maxAge time.Duration) *UploadCleanupJob {
	return &UploadCleanupJob{dir: dir, maxAge: maxAge, now: time.Now}
}

func (j *UploadCleanupJob) Name() string {
	return "upload_cleanup"
}

func (j *UploadCleanupJob) Run(ctx context.Context) error {
	maxAge := j.maxAge
	if maxAge <= 0 {
		maxAge = 6 * time.Hour
	}
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	cutoff := j.now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), uploadPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(j.dir, entry.Name())); err != nil && !os.IsNotExist(err) {
			logutil.GetLogger(ctx).Warn("remove stale upload failed", zap.String("name", entry.Name()), zap.Error(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		logutil.GetLogger(ctx).Info("stale uploads removed", zap.Int("count", removed), zap.String("dir", j.dir))
	}
	return nil
}
