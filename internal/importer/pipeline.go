package importer

import (
	"context"
	"fmt"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mdeck/internal/apkg"
	"github.com/xxxsen/mdeck/internal/filestore"
	"github.com/xxxsen/mdeck/internal/model"
	appErr "github.com/xxxsen/mdeck/internal/pkg/errors"
	"github.com/xxxsen/mdeck/internal/progress"
)

type Options struct {
	Persist PersistOptions
	Media   MediaOptions
}

// Job describes one uploaded package. An empty CollectionName is derived
// from the deck tree.
type Job struct {
	ID             string
	UserID         string
	CollectionName string
	FilePath       string
}

type Pipeline struct {
	open      func(path string) (*apkg.Package, error)
	resolver  *Resolver
	media     *MediaPipeline
	persister *Persister
}

func NewPipeline(store Store, files filestore.Store, opts Options) *Pipeline {
	resolver := NewResolver(store)
	return &Pipeline{
		open:      apkg.Open,
		resolver:  resolver,
		media:     NewMediaPipeline(files, opts.Media),
		persister: NewPersister(store, resolver, opts.Persist),
	}
}

// Run executes extraction, normalization, media upload, collection
// analysis and persistence in order. The returned error is a *PhaseError
// unless ctx was cancelled.
func (p *Pipeline) Run(ctx context.Context, job Job, rep Reporter) (*model.ImportReport, error) {
	if rep == nil {
		rep = nopReporter{}
	}
	logger := logutil.GetLogger(ctx).With(zap.String("job_id", job.ID), zap.String("user_id", job.UserID))

	rep.Step("Reading package", progress.StatusProcessing, "", 5)
	pkg, err := p.open(job.FilePath)
	if err != nil {
		return nil, phaseErr(PhaseExtraction, err)
	}
	rep.Step(fmt.Sprintf("Package read: %d decks, %d notes, %d media files", pkg.DeckCount, pkg.NoteCount, len(pkg.Media)),
		progress.StatusProcessing, pkg.Format, 20)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	collection := CleanText(job.CollectionName)
	if collection == "" {
		collection = DeriveCollectionName(pkg.Root)
	}
	decks := Normalize(ctx, job.UserID, collection, pkg.Root)
	if len(decks) == 0 {
		return nil, phaseErr(PhaseNormalization, appErr.ErrEmptyPackage)
	}
	cards := 0
	for _, d := range decks {
		cards += len(d.Cards)
	}
	rep.Step(fmt.Sprintf("Structure normalized: %d decks, %d cards", len(decks), cards), progress.StatusProcessing, collection, 25)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	media := p.media.Upload(ctx, job.UserID, pkg.Media, rep, 30, 45)
	decks = RewriteDecks(decks, media.URLs)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	state := p.resolver.ResolveCollection(ctx, job.UserID, collection, decks, rep)
	rep.Step(fmt.Sprintf("Collection analysis: %s (%d existing decks, %d new decks)", state.Action, len(state.ExistingDecks), len(state.NewDecks)),
		progress.StatusProcessing, collection, 50)

	res, err := p.persister.Persist(ctx, job.UserID, collection, decks, rep, 55, 95)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, phaseErr(PhasePersistence, err)
	}

	rep.Step("Finalizing import", progress.StatusProcessing, "", 98)
	report := &model.ImportReport{
		Action:         string(state.Action),
		Collection:     collection,
		DecksCreated:   res.DecksCreated,
		DecksUpdated:   res.DecksUpdated,
		CardsCreated:   res.CardsCreated,
		CardsUpdated:   res.CardsUpdated,
		CardsUnchanged: res.CardsUnchanged,
		MediaFound:     media.Found,
		MediaUploaded:  media.Processed(),
		MediaFailed:    media.Failed,
		Commits:        res.Commits,
	}
	report.Summary = BuildSummary(report)
	logger.Info("import pipeline finished",
		zap.String("collection", collection),
		zap.String("action", report.Action),
		zap.Int("decks_created", report.DecksCreated),
		zap.Int("decks_updated", report.DecksUpdated),
		zap.Int("cards_created", report.CardsCreated),
		zap.Int("cards_updated", report.CardsUpdated),
		zap.Int("commits", report.Commits),
	)
	return report, nil
}

// FallbackDeck is recorded when an import fails so the user can see it.
func FallbackDeck(userID, collection string, now int64) *model.Deck {
	if collection == "" {
		collection = defaultCollectionName
	}
	return &model.Deck{
		UserID:       userID,
		Name:         collection + " (import failed)",
		Description:  "The Anki package could not be imported",
		Collection:   collection,
		Tags:         []string{"import-error"},
		IsImported:   true,
		ImportStatus: model.DeckImportError,
		Source:       model.DeckSourceAnki,
		Ctime:        now,
		Mtime:        now,
		LastImportAt: now,
	}
}
