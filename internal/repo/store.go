package repo

import (
	"context"
	"database/sql"

	"github.com/xxxsen/mdeck/internal/model"
	"github.com/xxxsen/mdeck/internal/pkg/dbutil"
)

// Store groups the repositories used by the import pipeline.
type Store struct {
	base
	Decks       *DeckRepo
	Cards       *CardRepo
	Collections *CollectionRepo
}

func NewStore(db *sql.DB, driver string) *Store {
	bind := dbutil.BindType(driver)
	return &Store{
		base:        base{db: db, bind: bind},
		Decks:       NewDeckRepo(db, bind),
		Cards:       NewCardRepo(db, bind),
		Collections: NewCollectionRepo(db, bind),
	}
}

func (s *Store) NewBatch() Batch {
	return newTxBatch(s.base, MaxBatchOps)
}

func (s *Store) ListDecksByCollection(ctx context.Context, userID, collection string) ([]model.Deck, error) {
	return s.Decks.ListByCollection(ctx, userID, collection)
}

func (s *Store) ListDecksByNames(ctx context.Context, userID, collection string, names []string) ([]model.Deck, error) {
	return s.Decks.ListByNames(ctx, userID, collection, names)
}

func (s *Store) CreateDeck(ctx context.Context, deck *model.Deck) error {
	return s.Decks.Create(ctx, deck)
}

func (s *Store) UpdateDeckCount(ctx context.Context, deckID string, count int, mtime int64) error {
	return s.Decks.UpdateCount(ctx, deckID, count, mtime)
}

func (s *Store) CollectionStats(ctx context.Context, userID, collection string) (int, int, error) {
	return s.Decks.CollectionStats(ctx, userID, collection)
}

func (s *Store) CountCards(ctx context.Context, deckID string) (int, error) {
	return s.Cards.CountByDeck(ctx, deckID)
}

func (s *Store) ListCards(ctx context.Context, deckID string) ([]model.Card, error) {
	return s.Cards.ListByDeck(ctx, deckID)
}

func (s *Store) GetCollection(ctx context.Context, userID, name string) (*model.Collection, error) {
	return s.Collections.GetByName(ctx, userID, name)
}

func (s *Store) CreateCollection(ctx context.Context, c *model.Collection) error {
	return s.Collections.Create(ctx, c)
}

func (s *Store) UpdateCollectionCounts(ctx context.Context, id string, deckCount, cardCount int, mtime int64) error {
	return s.Collections.UpdateCounts(ctx, id, deckCount, cardCount, mtime)
}

func (s *Store) ImportStatus(ctx context.Context, userID string) (*model.ImportStatus, error) {
	return s.Decks.ImportStatus(ctx, userID)
}
