package importer

import (
	"context"
	"fmt"

	"github.com/xxxsen/mdeck/internal/model"
	"github.com/xxxsen/mdeck/internal/repo"
)

// Store is the document store used by the pipeline. *repo.Store satisfies it.
type Store interface {
	ListDecksByCollection(ctx context.Context, userID, collection string) ([]model.Deck, error)
	ListDecksByNames(ctx context.Context, userID, collection string, names []string) ([]model.Deck, error)
	CreateDeck(ctx context.Context, deck *model.Deck) error
	UpdateDeckCount(ctx context.Context, deckID string, count int, mtime int64) error
	CollectionStats(ctx context.Context, userID, collection string) (int, int, error)
	CountCards(ctx context.Context, deckID string) (int, error)
	ListCards(ctx context.Context, deckID string) ([]model.Card, error)
	GetCollection(ctx context.Context, userID, name string) (*model.Collection, error)
	CreateCollection(ctx context.Context, c *model.Collection) error
	UpdateCollectionCounts(ctx context.Context, id string, deckCount, cardCount int, mtime int64) error
	NewBatch() repo.Batch
}

var _ Store = (*repo.Store)(nil)

type Phase string

const (
	PhaseExtraction    Phase = "extraction"
	PhaseNormalization Phase = "normalization"
	PhaseMedia         Phase = "media"
	PhaseAnalysis      Phase = "analysis"
	PhasePersistence   Phase = "persistence"
	PhaseFinalize      Phase = "finalize"
)

// PhaseError reports the pipeline phase an unrecoverable error came from.
type PhaseError struct {
	Phase Phase
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

func phaseErr(phase Phase, err error) error {
	if err == nil {
		return nil
	}
	return &PhaseError{Phase: phase, Err: err}
}
