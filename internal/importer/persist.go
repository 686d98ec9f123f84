package importer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/xxxsen/mdeck/internal/apkg"
	"github.com/xxxsen/mdeck/internal/metrics"
	"github.com/xxxsen/mdeck/internal/model"
	appErr "github.com/xxxsen/mdeck/internal/pkg/errors"
	"github.com/xxxsen/mdeck/internal/progress"
	"github.com/xxxsen/mdeck/internal/repo"
)

const (
	DefaultDeckBatchSize = 5
	DefaultCardBatchSize = repo.MaxBatchOps
)

type PersistOptions struct {
	DeckBatchSize int
	CardBatchSize int
	// BatchPause is the minimum gap between two card batch commits.
	BatchPause time.Duration
}

type PersistResult struct {
	DecksCreated   int
	DecksUpdated   int
	CardsCreated   int
	CardsUpdated   int
	CardsUnchanged int
	Commits        int
	Collection     *model.Collection
}

type Persister struct {
	store     Store
	resolver  *Resolver
	deckBatch int
	cardBatch int
	limiter   *rate.Limiter
	now       func() time.Time
	newID     func() string
}

func NewPersister(store Store, resolver *Resolver, opts PersistOptions) *Persister {
	deckBatch := opts.DeckBatchSize
	if deckBatch <= 0 {
		deckBatch = DefaultDeckBatchSize
	}
	cardBatch := opts.CardBatchSize
	if cardBatch <= 0 || cardBatch > repo.MaxBatchOps {
		cardBatch = DefaultCardBatchSize
	}
	limit := rate.Inf
	if opts.BatchPause > 0 {
		limit = rate.Every(opts.BatchPause)
	}
	return &Persister{
		store:     store,
		resolver:  resolver,
		deckBatch: deckBatch,
		cardBatch: cardBatch,
		limiter:   rate.NewLimiter(limit, 1),
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

type deckRef struct {
	id      string
	existed bool
}

type persistRun struct {
	mu  sync.Mutex
	res *PersistResult
}

func (r *persistRun) add(fn func(res *PersistResult)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.res)
}

// Persist writes decks in rounds of DeckBatchSize. Each round issues one
// lookup query and one deck batch, then writes the cards of its decks
// concurrently in batches of at most CardBatchSize writes. Progress moves
// linearly from `from` to `to` across rounds.
func (p *Persister) Persist(ctx context.Context, userID, collection string, decks []NormalizedDeck, rep Reporter, from, to int) (*PersistResult, error) {
	run := &persistRun{res: &PersistResult{}}
	rounds := (len(decks) + p.deckBatch - 1) / p.deckBatch
	for i := 0; i < rounds; i++ {
		if err := ctx.Err(); err != nil {
			return run.res, err
		}
		start := i * p.deckBatch
		end := start + p.deckBatch
		if end > len(decks) {
			end = len(decks)
		}
		round := decks[start:end]
		refs, err := p.writeDecks(ctx, userID, collection, round, run)
		if err != nil {
			return run.res, err
		}
		if err := p.writeRoundCards(ctx, userID, round, refs, rep, run); err != nil {
			return run.res, err
		}
		percent := from + (to-from)*(i+1)/rounds
		rep.Step(fmt.Sprintf("Saved decks %d-%d of %d", start+1, end, len(decks)), progress.StatusProcessing, "", percent)
	}
	if err := ctx.Err(); err != nil {
		return run.res, err
	}
	c, err := p.upsertCollection(ctx, userID, collection)
	if err != nil {
		return run.res, err
	}
	run.res.Collection = c
	return run.res, nil
}

func (p *Persister) writeDecks(ctx context.Context, userID, collection string, round []NormalizedDeck, run *persistRun) (map[string]deckRef, error) {
	names := make([]string, 0, len(round))
	for _, d := range round {
		names = append(names, d.Title)
	}
	persisted, err := p.store.ListDecksByNames(ctx, userID, collection, names)
	if err != nil {
		return nil, fmt.Errorf("lookup decks: %w", err)
	}
	byName := make(map[string]model.Deck, len(persisted))
	for _, d := range persisted {
		byName[d.Name] = d
	}
	now := p.now().Unix()
	refs := make(map[string]deckRef, len(round))
	batch := p.store.NewBatch()
	var created, updated int
	for _, d := range round {
		if existing, ok := byName[d.Title]; ok {
			refreshed := existing
			applyDeckFields(&refreshed, d, now)
			if err := batch.UpdateDeck(&refreshed); err != nil {
				return nil, err
			}
			refs[d.Title] = deckRef{id: existing.ID, existed: true}
			updated++
			continue
		}
		deck := &model.Deck{
			ID:         p.newID(),
			UserID:     userID,
			Name:       d.Title,
			Collection: collection,
			Ctime:      now,
		}
		applyDeckFields(deck, d, now)
		if err := batch.InsertDeck(deck); err != nil {
			return nil, err
		}
		refs[d.Title] = deckRef{id: deck.ID}
		created++
	}
	if err := batch.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit decks: %w", err)
	}
	metrics.BatchCommitsTotal.WithLabelValues("decks").Inc()
	run.add(func(res *PersistResult) {
		res.DecksCreated += created
		res.DecksUpdated += updated
		res.Commits++
	})
	return refs, nil
}

func applyDeckFields(deck *model.Deck, d NormalizedDeck, now int64) {
	deck.Description = d.Description
	deck.Hierarchy = append([]string(nil), d.HierarchyPath...)
	deck.HierarchyPath = strings.Join(d.HierarchyPath, apkg.DeckSeparator)
	deck.Tags = append([]string(nil), d.Tags...)
	deck.IsImported = true
	deck.ImportStatus = model.DeckImportOK
	deck.Source = model.DeckSourceAnki
	deck.Mtime = now
	deck.LastImportAt = now
}

func (p *Persister) writeRoundCards(ctx context.Context, userID string, round []NormalizedDeck, refs map[string]deckRef, rep Reporter, run *persistRun) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, d := range round {
		deck := d
		ref := refs[deck.Title]
		g.Go(func() error {
			if err := p.writeDeckCards(gctx, userID, ref, deck, rep, run); err != nil {
				logutil.GetLogger(gctx).Error("write deck cards failed",
					zap.String("deck", deck.Title),
					zap.String("deck_id", ref.id),
					zap.Error(err),
				)
				return fmt.Errorf("deck %q: %w", deck.Title, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (p *Persister) writeDeckCards(ctx context.Context, userID string, ref deckRef, deck NormalizedDeck, rep Reporter, run *persistRun) error {
	cls := CardClassification{NewCards: deck.Cards}
	if ref.existed {
		cls = p.resolver.ClassifyCards(ctx, ref.id, deck.Cards, rep)
	}
	now := p.now().Unix()
	for start := 0; start < len(cls.NewCards); start += p.cardBatch {
		end := min(start+p.cardBatch, len(cls.NewCards))
		chunk := cls.NewCards[start:end]
		err := p.commitCards(ctx, func(b repo.Batch) error {
			for _, c := range chunk {
				card := p.buildCard(userID, ref.id, c, now)
				if err := b.InsertCard(card); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("insert cards: %w", err)
		}
		metrics.CardsWrittenTotal.WithLabelValues("created").Add(float64(len(chunk)))
		run.add(func(res *PersistResult) {
			res.CardsCreated += len(chunk)
			res.Commits++
		})
	}
	for start := 0; start < len(cls.UpdatedCards); start += p.cardBatch {
		end := min(start+p.cardBatch, len(cls.UpdatedCards))
		chunk := cls.UpdatedCards[start:end]
		err := p.commitCards(ctx, func(b repo.Batch) error {
			for _, u := range chunk {
				if err := b.UpdateCard(u.ID, u.Fields, now); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("update cards: %w", err)
		}
		metrics.CardsWrittenTotal.WithLabelValues("updated").Add(float64(len(chunk)))
		run.add(func(res *PersistResult) {
			res.CardsUpdated += len(chunk)
			res.Commits++
		})
	}
	run.add(func(res *PersistResult) {
		res.CardsUnchanged += len(cls.ExistingCards)
	})
	count, err := p.store.CountCards(ctx, ref.id)
	if err != nil {
		return fmt.Errorf("count cards: %w", err)
	}
	if err := p.store.UpdateDeckCount(ctx, ref.id, count, now); err != nil {
		return fmt.Errorf("update deck count: %w", err)
	}
	return nil
}

func (p *Persister) commitCards(ctx context.Context, fill func(b repo.Batch) error) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	batch := p.store.NewBatch()
	if err := fill(batch); err != nil {
		return err
	}
	if err := batch.Commit(ctx); err != nil {
		return err
	}
	metrics.BatchCommitsTotal.WithLabelValues("cards").Inc()
	return nil
}

func (p *Persister) buildCard(userID, deckID string, c NormalizedCard, now int64) *model.Card {
	return &model.Card{
		ID:             p.newID(),
		DeckID:         deckID,
		UserID:         userID,
		Front:          c.Front,
		Back:           c.Back,
		Tags:           c.Tags,
		MediaRefs:      c.MediaRefs,
		Position:       c.Position,
		ContentHash:    c.ContentHash,
		OriginalCardID: c.OriginalCardID,
		OriginalNoteID: c.OriginalNoteID,
		OriginalDeckID: c.OriginalDeckID,
		Ctime:          now,
		Mtime:          now,
	}
}

// upsertCollection recomputes the collection counters from the store. The
// creation time of an existing collection is kept.
func (p *Persister) upsertCollection(ctx context.Context, userID, name string) (*model.Collection, error) {
	decks, cards, err := p.store.CollectionStats(ctx, userID, name)
	if err != nil {
		return nil, fmt.Errorf("collection stats: %w", err)
	}
	now := p.now().Unix()
	c, err := p.refreshCollection(ctx, userID, name, decks, cards, now)
	if err == nil {
		return c, nil
	}
	if !appErr.IsNotFound(err) {
		return nil, err
	}
	c = &model.Collection{
		ID:          p.newID(),
		UserID:      userID,
		Name:        name,
		Description: "Imported from Anki",
		DeckCount:   decks,
		CardCount:   cards,
		IsImported:  true,
		Ctime:       now,
		Mtime:       now,
	}
	err = p.store.CreateCollection(ctx, c)
	if err == nil {
		return c, nil
	}
	if !appErr.IsConflict(err) {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	// lost a race against a concurrent import of the same collection
	return p.refreshCollection(ctx, userID, name, decks, cards, now)
}

func (p *Persister) refreshCollection(ctx context.Context, userID, name string, decks, cards int, now int64) (*model.Collection, error) {
	c, err := p.store.GetCollection(ctx, userID, name)
	if err != nil {
		return nil, err
	}
	if err := p.store.UpdateCollectionCounts(ctx, c.ID, decks, cards, now); err != nil {
		return nil, fmt.Errorf("update collection: %w", err)
	}
	c.DeckCount = decks
	c.CardCount = cards
	c.IsImported = true
	c.Mtime = now
	return c, nil
}
