package importer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/mdeck/internal/model"
	"github.com/xxxsen/mdeck/internal/progress"
)

func seedDeck(s *memStore, id, name string) {
	s.decks[id] = model.Deck{ID: id, UserID: "u1", Name: name, Collection: "Col", ImportStatus: model.DeckImportOK}
}

func seedCard(s *memStore, c model.Card) {
	s.cards[c.ID] = c
}

func TestResolveCollectionActions(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	r := NewResolver(store)
	decks := []NormalizedDeck{makeDeck("A", 1), makeDeck("B", 1)}

	state := r.ResolveCollection(ctx, "u1", "Col", decks, nopReporter{})
	require.Equal(t, ActionCreate, state.Action)
	require.Equal(t, []string{"A", "B"}, state.NewDecks)

	seedDeck(store, "d1", "A")
	state = r.ResolveCollection(ctx, "u1", "Col", decks, nopReporter{})
	require.Equal(t, ActionMerge, state.Action)
	require.Equal(t, []string{"B"}, state.NewDecks)
	require.Equal(t, "d1", state.ExistingDecks["A"].ID)

	state = r.ResolveCollection(ctx, "u1", "Col", decks[:1], nopReporter{})
	require.Equal(t, ActionUpdate, state.Action)
	require.Empty(t, state.NewDecks)
}

func TestResolveCollectionDegradesToCreate(t *testing.T) {
	store := newMemStore()
	seedDeck(store, "d1", "A")
	store.listDeckErr = errors.New("timeout")
	rec := &recorder{}
	state := NewResolver(store).ResolveCollection(context.Background(), "u1", "Col", []NormalizedDeck{makeDeck("A", 1)}, rec)
	require.Equal(t, ActionCreate, state.Action)
	require.Equal(t, []string{"A"}, state.NewDecks)
	require.Equal(t, 1, rec.count(progress.StatusWarning))
}

func TestClassifyIdentityBeatsHash(t *testing.T) {
	store := newMemStore()
	seedDeck(store, "d1", "A")
	seedCard(store, model.Card{ID: "p1", DeckID: "d1", OriginalCardID: "c1", Front: "old", Back: "old", ContentHash: ContentHash("old", "old"), Position: 0})
	seedCard(store, model.Card{ID: "p2", DeckID: "d1", OriginalCardID: "c9", Front: "new", Back: "new", ContentHash: ContentHash("new", "new"), Position: 1})

	incoming := NormalizedCard{OriginalCardID: "c1", Front: "new", Back: "new", ContentHash: ContentHash("new", "new"), Position: 0}
	cls := NewResolver(store).ClassifyCards(context.Background(), "d1", []NormalizedCard{incoming}, nopReporter{})
	require.Empty(t, cls.NewCards)
	require.Empty(t, cls.ExistingCards)
	require.Len(t, cls.UpdatedCards, 1)
	require.Equal(t, "p1", cls.UpdatedCards[0].ID)
	require.Equal(t, "new", cls.UpdatedCards[0].Fields[model.CardFieldFront])
	require.Equal(t, "new", cls.UpdatedCards[0].Fields[model.CardFieldBack])
	require.Contains(t, cls.UpdatedCards[0].Fields, model.CardFieldContentHash)
}

func TestClassifyFallsBackToHash(t *testing.T) {
	store := newMemStore()
	seedDeck(store, "d1", "A")
	hash := ContentHash("q", "a")
	seedCard(store, model.Card{ID: "p1", DeckID: "d1", Front: "q", Back: "a", ContentHash: hash, Tags: []string{"t"}, MediaRefs: []string{}})

	cards := []NormalizedCard{
		{Front: "q", Back: "a", ContentHash: hash, Tags: []string{"t"}, MediaRefs: []string{}},
		{Front: "q", Back: "a", ContentHash: hash, Tags: []string{"t"}, MediaRefs: []string{}},
	}
	cls := NewResolver(store).ClassifyCards(context.Background(), "d1", cards, nopReporter{})
	require.Len(t, cls.ExistingCards, 1)
	// a persisted card is claimed only once
	require.Len(t, cls.NewCards, 1)
	require.Empty(t, cls.UpdatedCards)
}

func TestClassifyEmptyDeckIsAllNew(t *testing.T) {
	store := newMemStore()
	seedDeck(store, "d1", "A")
	deck := makeDeck("A", 3)
	cls := NewResolver(store).ClassifyCards(context.Background(), "d1", deck.Cards, nopReporter{})
	require.Len(t, cls.NewCards, 3)
}

func TestClassifyDegradesToAllNew(t *testing.T) {
	store := newMemStore()
	seedDeck(store, "d1", "A")
	store.listCardErr = errors.New("connection reset")
	rec := &recorder{}
	deck := makeDeck("A", 2)
	cls := NewResolver(store).ClassifyCards(context.Background(), "d1", deck.Cards, rec)
	require.Len(t, cls.NewCards, 2)
	require.Equal(t, 1, rec.count(progress.StatusWarning))
}

func TestCardDiffKeepsAbsentIdentifiers(t *testing.T) {
	existing := &model.Card{Front: "f", Back: "b", ContentHash: "h", OriginalDeckID: "d9", Tags: []string{"b", "a"}}
	in := NormalizedCard{Front: "f", Back: "b", ContentHash: "h", Tags: []string{"a", "b"}}
	require.Empty(t, cardDiff(existing, in))

	in.OriginalDeckID = "d10"
	in.Position = 3
	diff := cardDiff(existing, in)
	require.Equal(t, map[string]interface{}{
		model.CardFieldOriginalDeckID: "d10",
		model.CardFieldPosition:       3,
	}, diff)
}
