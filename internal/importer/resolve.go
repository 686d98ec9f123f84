package importer

import (
	"context"
	"fmt"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mdeck/internal/model"
	"github.com/xxxsen/mdeck/internal/progress"
)

type Resolver struct {
	store    Store
	matchers []Matcher
}

func NewResolver(store Store, matchers ...Matcher) *Resolver {
	if len(matchers) == 0 {
		matchers = DefaultMatchers()
	}
	return &Resolver{store: store, matchers: matchers}
}

// ResolveCollection compares incoming decks with the persisted decks of the
// collection using a single query. A failed query degrades to create.
func (r *Resolver) ResolveCollection(ctx context.Context, userID, collection string, decks []NormalizedDeck, rep Reporter) *CollectionState {
	state := &CollectionState{ExistingDecks: make(map[string]model.Deck)}
	persisted, err := r.store.ListDecksByCollection(ctx, userID, collection)
	if err != nil {
		logutil.GetLogger(ctx).Warn("load collection decks failed, treating all decks as new",
			zap.String("user_id", userID),
			zap.String("collection", collection),
			zap.Error(err),
		)
		rep.Step("Could not load existing decks, importing all decks as new", progress.StatusWarning, err.Error(), progress.NoPercent)
		persisted = nil
	}
	byName := make(map[string]model.Deck, len(persisted))
	for _, d := range persisted {
		byName[d.Name] = d
	}
	for _, d := range decks {
		if existing, ok := byName[d.Title]; ok {
			state.ExistingDecks[d.Title] = existing
			continue
		}
		state.NewDecks = append(state.NewDecks, d.Title)
	}
	state.Action = selectAction(len(persisted), len(state.NewDecks))
	return state
}

func selectAction(persisted, newDecks int) Action {
	switch {
	case persisted == 0:
		return ActionCreate
	case newDecks > 0:
		return ActionMerge
	default:
		return ActionUpdate
	}
}

// ClassifyCards splits incoming cards of a persisted deck into unchanged,
// updatable and new ones. Lookup failures degrade to treating every card as
// new and push a warning step.
func (r *Resolver) ClassifyCards(ctx context.Context, deckID string, cards []NormalizedCard, rep Reporter) CardClassification {
	allNew := CardClassification{NewCards: cards}
	count, err := r.store.CountCards(ctx, deckID)
	if err != nil {
		r.degrade(ctx, deckID, err, rep)
		return allNew
	}
	if count == 0 {
		return allNew
	}
	persisted, err := r.store.ListCards(ctx, deckID)
	if err != nil {
		r.degrade(ctx, deckID, err, rep)
		return allNew
	}
	ix := newCardIndex(r.matchers, persisted)
	var out CardClassification
	for _, card := range cards {
		existing, _ := ix.match(card)
		if existing == nil {
			out.NewCards = append(out.NewCards, card)
			continue
		}
		fields := cardDiff(existing, card)
		if len(fields) == 0 {
			out.ExistingCards = append(out.ExistingCards, card)
			continue
		}
		out.UpdatedCards = append(out.UpdatedCards, CardUpdate{ID: existing.ID, Fields: fields})
	}
	return out
}

func (r *Resolver) degrade(ctx context.Context, deckID string, err error, rep Reporter) {
	logutil.GetLogger(ctx).Warn("load deck cards failed, treating all cards as new",
		zap.String("deck_id", deckID),
		zap.Error(err),
	)
	rep.Step(fmt.Sprintf("Could not load existing cards of deck %s, importing them as new", deckID),
		progress.StatusWarning, err.Error(), progress.NoPercent)
}
