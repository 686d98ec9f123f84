package importer

import (
	"sort"

	"github.com/xxxsen/mdeck/internal/model"
)

// Matcher links an incoming card to a persisted one through a single
// identifier. Empty keys never match.
type Matcher struct {
	Name      string
	Incoming  func(NormalizedCard) string
	Persisted func(model.Card) string
}

// DefaultMatchers lists the identity strategies in priority order.
func DefaultMatchers() []Matcher {
	return []Matcher{
		{
			Name:      "card_id",
			Incoming:  func(c NormalizedCard) string { return c.OriginalCardID },
			Persisted: func(c model.Card) string { return c.OriginalCardID },
		},
		{
			Name:      "note_id",
			Incoming:  func(c NormalizedCard) string { return c.OriginalNoteID },
			Persisted: func(c model.Card) string { return c.OriginalNoteID },
		},
		{
			Name:      "content_hash",
			Incoming:  func(c NormalizedCard) string { return c.ContentHash },
			Persisted: func(c model.Card) string { return c.ContentHash },
		},
	}
}

type cardIndex struct {
	matchers []Matcher
	lookups  []map[string][]*model.Card
	claimed  map[string]bool
}

func newCardIndex(matchers []Matcher, persisted []model.Card) *cardIndex {
	ix := &cardIndex{
		matchers: matchers,
		lookups:  make([]map[string][]*model.Card, len(matchers)),
		claimed:  make(map[string]bool),
	}
	for i, m := range matchers {
		lookup := make(map[string][]*model.Card)
		for j := range persisted {
			card := &persisted[j]
			if key := m.Persisted(*card); key != "" {
				lookup[key] = append(lookup[key], card)
			}
		}
		ix.lookups[i] = lookup
	}
	return ix
}

// match returns the first unclaimed persisted card found by the highest
// priority matcher and claims it.
func (ix *cardIndex) match(card NormalizedCard) (*model.Card, string) {
	for i, m := range ix.matchers {
		key := m.Incoming(card)
		if key == "" {
			continue
		}
		for _, candidate := range ix.lookups[i][key] {
			if ix.claimed[candidate.ID] {
				continue
			}
			ix.claimed[candidate.ID] = true
			return candidate, m.Name
		}
	}
	return nil, ""
}

// cardDiff lists the fields of the incoming card that differ from the
// persisted one. Identifiers absent from the incoming card are kept as is.
func cardDiff(existing *model.Card, in NormalizedCard) map[string]interface{} {
	fields := map[string]interface{}{
		model.CardFieldFront:       changed(existing.Front, in.Front),
		model.CardFieldBack:        changed(existing.Back, in.Back),
		model.CardFieldContentHash: changed(existing.ContentHash, in.ContentHash),
	}
	if !sameSet(existing.Tags, in.Tags) {
		fields[model.CardFieldTags] = in.Tags
	}
	if !sameList(existing.MediaRefs, in.MediaRefs) {
		fields[model.CardFieldMediaRefs] = in.MediaRefs
	}
	if existing.Position != in.Position {
		fields[model.CardFieldPosition] = in.Position
	}
	if in.OriginalCardID != "" {
		fields[model.CardFieldOriginalCardID] = changed(existing.OriginalCardID, in.OriginalCardID)
	}
	if in.OriginalNoteID != "" {
		fields[model.CardFieldOriginalNoteID] = changed(existing.OriginalNoteID, in.OriginalNoteID)
	}
	if in.OriginalDeckID != "" {
		fields[model.CardFieldOriginalDeckID] = changed(existing.OriginalDeckID, in.OriginalDeckID)
	}
	return sanitizeFields(fields)
}

func changed(old, value string) interface{} {
	if old == value {
		return nil
	}
	return value
}

// sanitizeFields drops nil values so they never reach the store.
func sanitizeFields(fields map[string]interface{}) map[string]interface{} {
	for key, value := range fields {
		if value == nil {
			delete(fields, key)
		}
	}
	return fields
}

func sameList(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sameSet(a, b []string) bool {
	x := normalizeTags(a)
	y := normalizeTags(b)
	sort.Strings(x)
	sort.Strings(y)
	return sameList(x, y)
}
