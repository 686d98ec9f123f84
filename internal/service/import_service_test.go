package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/mdeck/internal/importer"
	"github.com/xxxsen/mdeck/internal/model"
	appErr "github.com/xxxsen/mdeck/internal/pkg/errors"
	"github.com/xxxsen/mdeck/internal/progress"
)

type runnerFunc func(ctx context.Context, job importer.Job, rep importer.Reporter) (*model.ImportReport, error)

func (f runnerFunc) Run(ctx context.Context, job importer.Job, rep importer.Reporter) (*model.ImportReport, error) {
	return f(ctx, job, rep)
}

type fakeImportStore struct {
	mu    sync.Mutex
	decks []model.Deck
}

func (s *fakeImportStore) CreateDeck(ctx context.Context, deck *model.Deck) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decks = append(s.decks, *deck)
	return nil
}

func (s *fakeImportStore) ImportStatus(ctx context.Context, userID string) (*model.ImportStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &model.ImportStatus{ImportedDecks: len(s.decks)}, nil
}

func (s *fakeImportStore) deckList() []model.Deck {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Deck(nil), s.decks...)
}

func writeUpload(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "deck.apkg")
	require.NoError(t, os.WriteFile(path, []byte("zip"), 0o644))
	return path
}

func waitInactive(t *testing.T, svc *ImportService, jobID string) progress.Snapshot {
	t.Helper()
	var snap progress.Snapshot
	require.Eventually(t, func() bool {
		var ok bool
		snap, ok = svc.tracker.Job(jobID)
		return ok && !snap.IsActive
	}, 2*time.Second, 5*time.Millisecond)
	return snap
}

func TestImportServiceCompletesJob(t *testing.T) {
	runner := runnerFunc(func(ctx context.Context, job importer.Job, rep importer.Reporter) (*model.ImportReport, error) {
		rep.Step("Reading package", progress.StatusProcessing, "", 5)
		return &model.ImportReport{Action: "create", Summary: "done"}, nil
	})
	store := &fakeImportStore{}
	svc := NewImportService(runner, store, progress.NewTracker(0), ImportOptions{})
	svc.Start(context.Background())
	defer svc.Stop()

	path := writeUpload(t)
	jobID, err := svc.Submit(context.Background(), "u1", "", path)
	require.NoError(t, err)
	snap := waitInactive(t, svc, jobID)

	last := snap.Steps[len(snap.Steps)-1]
	require.Equal(t, progress.StatusCompleted, last.Status)
	require.Equal(t, "done", last.Label)
	require.Equal(t, 100, snap.CurrentProgress)
	require.Empty(t, store.deckList())

	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return os.IsNotExist(err)
	}, time.Second, 5*time.Millisecond)
}

func TestImportServiceFailureLeavesFallbackDeck(t *testing.T) {
	runner := runnerFunc(func(ctx context.Context, job importer.Job, rep importer.Reporter) (*model.ImportReport, error) {
		return nil, &importer.PhaseError{Phase: importer.PhasePersistence, Err: errors.New("db down")}
	})
	store := &fakeImportStore{}
	svc := NewImportService(runner, store, progress.NewTracker(0), ImportOptions{})
	svc.Start(context.Background())
	defer svc.Stop()

	jobID, err := svc.Submit(context.Background(), "u1", "Spanish", writeUpload(t))
	require.NoError(t, err)
	snap := waitInactive(t, svc, jobID)

	last := snap.Steps[len(snap.Steps)-1]
	require.Equal(t, progress.StatusError, last.Status)
	require.Equal(t, "persistence failed: db down", last.Details)

	require.Eventually(t, func() bool { return len(store.deckList()) == 1 }, time.Second, 5*time.Millisecond)
	deck := store.deckList()[0]
	require.Equal(t, "Spanish (import failed)", deck.Name)
	require.Equal(t, model.DeckImportError, deck.ImportStatus)
	require.Equal(t, "u1", deck.UserID)
	require.NotEmpty(t, deck.ID)
}

func TestImportServiceTimeoutCancelsWithoutFallback(t *testing.T) {
	causes := make(chan error, 1)
	runner := runnerFunc(func(ctx context.Context, job importer.Job, rep importer.Reporter) (*model.ImportReport, error) {
		<-ctx.Done()
		causes <- context.Cause(ctx)
		return nil, ctx.Err()
	})
	store := &fakeImportStore{}
	svc := NewImportService(runner, store, progress.NewTracker(0), ImportOptions{Timeout: 20 * time.Millisecond})
	svc.Start(context.Background())
	defer svc.Stop()

	jobID, err := svc.Submit(context.Background(), "u1", "", writeUpload(t))
	require.NoError(t, err)
	snap := waitInactive(t, svc, jobID)
	require.ErrorIs(t, <-causes, appErr.ErrImportTimeout)

	last := snap.Steps[len(snap.Steps)-1]
	require.Equal(t, progress.StatusWarning, last.Status)
	time.Sleep(20 * time.Millisecond)
	require.Empty(t, store.deckList())
}

func TestImportServiceRejectsWhenQueueFull(t *testing.T) {
	svc := NewImportService(runnerFunc(nil), &fakeImportStore{}, progress.NewTracker(0), ImportOptions{QueueSize: 1})

	first, err := svc.Submit(context.Background(), "u1", "", "a.apkg")
	require.NoError(t, err)
	_, err = svc.Submit(context.Background(), "u1", "", "b.apkg")
	require.ErrorIs(t, err, appErr.ErrTooMany)

	snap, ok := svc.Progress("u1")
	require.True(t, ok)
	require.Equal(t, first, snap.JobID)

	queued, ok := svc.tracker.Job(first)
	require.True(t, ok)
	require.True(t, queued.IsActive)
}

func TestImportServiceJobProgressOwnerOnly(t *testing.T) {
	svc := NewImportService(runnerFunc(nil), &fakeImportStore{}, progress.NewTracker(0), ImportOptions{})
	jobID, err := svc.Submit(context.Background(), "u1", "", "a.apkg")
	require.NoError(t, err)

	snap, err := svc.JobProgress("u1", jobID)
	require.NoError(t, err)
	require.Equal(t, jobID, snap.JobID)

	_, err = svc.JobProgress("u2", jobID)
	require.ErrorIs(t, err, appErr.ErrForbidden)
	_, err = svc.JobProgress("u1", "missing")
	require.ErrorIs(t, err, appErr.ErrNotFound)
}

func TestImportServiceSubmitAfterStop(t *testing.T) {
	svc := NewImportService(runnerFunc(nil), &fakeImportStore{}, progress.NewTracker(0), ImportOptions{})
	svc.Start(context.Background())
	svc.Stop()
	_, err := svc.Submit(context.Background(), "u1", "", "a.apkg")
	require.Error(t, err)
}

func TestSaveUploadKeepsExtension(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "uploads")
	svc := NewImportService(runnerFunc(nil), &fakeImportStore{}, progress.NewTracker(0), ImportOptions{UploadDir: dir})
	path, err := svc.SaveUpload("My Deck.COLPKG", strings.NewReader("payload"))
	require.NoError(t, err)
	require.Equal(t, dir, filepath.Dir(path))
	require.True(t, strings.HasSuffix(path, ".colpkg"))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "payload", string(data))
	require.Equal(t, dir, svc.UploadDir())
}
