package importer

import (
	"github.com/xxxsen/mdeck/internal/model"
	"github.com/xxxsen/mdeck/internal/progress"
)

// NormalizedCard is a card in platform shape. It is never mutated after
// normalization; content rewrites produce copies.
type NormalizedCard struct {
	Front          string
	Back           string
	Tags           []string
	OriginalCardID string
	OriginalNoteID string
	OriginalDeckID string
	ContentHash    string
	MediaRefs      []string
	Position       int
}

// NormalizedDeck is identified by (UserID, CollectionName, Title).
type NormalizedDeck struct {
	Title          string
	Description    string
	UserID         string
	CollectionName string
	HierarchyPath  []string
	Tags           []string
	Cards          []NormalizedCard
}

type Action string

const (
	ActionCreate Action = "create"
	ActionMerge  Action = "merge"
	ActionUpdate Action = "update"
)

type CollectionState struct {
	// ExistingDecks maps deck title to the persisted deck.
	ExistingDecks map[string]model.Deck
	// NewDecks lists titles without a persisted deck, in input order.
	NewDecks []string
	Action   Action
}

type CardUpdate struct {
	ID     string
	Fields map[string]interface{}
}

type CardClassification struct {
	ExistingCards []NormalizedCard
	NewCards      []NormalizedCard
	UpdatedCards  []CardUpdate
}

type Reporter interface {
	Step(label string, status progress.Status, details string, percent int)
}

type nopReporter struct{}

func (nopReporter) Step(string, progress.Status, string, int) {}
