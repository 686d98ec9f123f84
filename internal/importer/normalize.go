package importer

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mdeck/internal/apkg"
)

const (
	importTag             = "anki-import"
	defaultCollectionName = "Anki Import"
)

var (
	controlChars = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)
	spaceRun     = regexp.MustCompile(`\s+`)
	srcRef       = regexp.MustCompile(`(?i)\bsrc\s*=\s*["']([^"'?#]+)`)
	soundRef     = regexp.MustCompile(`\[sound:([^\]]+)\]`)
)

// CleanText strips Anki field separators and control characters and collapses
// whitespace.
func CleanText(s string) string {
	s = strings.ReplaceAll(s, "\x1f", " ")
	s = controlChars.ReplaceAllString(s, "")
	s = spaceRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

type normalizer struct {
	ctx        context.Context
	userID     string
	collection string
	decks      []NormalizedDeck
	byTitle    map[string]int
}

// Normalize flattens the deck tree depth first. A node becomes a deck only if
// it holds notes; notes whose front and back are both empty are dropped.
// Decks sharing a title are merged into the first one.
func Normalize(ctx context.Context, userID, collection string, root *apkg.Group) []NormalizedDeck {
	n := &normalizer{
		ctx:        ctx,
		userID:     userID,
		collection: collection,
		byTitle:    make(map[string]int),
	}
	if root == nil {
		return nil
	}
	for _, child := range root.Children {
		n.walk(child, nil)
	}
	return n.decks
}

func (n *normalizer) walk(g *apkg.Group, ancestors []string) {
	logger := logutil.GetLogger(n.ctx)
	if g == nil {
		logger.Warn("skip nil deck node", zap.Strings("parent", ancestors))
		return
	}
	name := CleanText(g.Name)
	if name == "" {
		logger.Warn("skip unnamed deck node", zap.Strings("parent", ancestors), zap.String("deck_id", g.DeckID))
		return
	}
	path := make([]string, 0, len(ancestors)+1)
	path = append(path, ancestors...)
	path = append(path, name)
	if len(g.Notes) > 0 {
		n.addDeck(g, name, path)
	}
	for _, child := range g.Children {
		n.walk(child, path)
	}
}

func (n *normalizer) addDeck(g *apkg.Group, title string, path []string) {
	idx, exists := n.byTitle[title]
	if !exists {
		idx = len(n.decks)
	}
	var cards []NormalizedCard
	offset := 0
	if exists {
		offset = len(n.decks[idx].Cards)
		logutil.GetLogger(n.ctx).Info("merge decks sharing a title",
			zap.String("title", title),
			zap.String("path", strings.Join(path, apkg.DeckSeparator)),
		)
	}
	for _, note := range g.Notes {
		card, ok := normalizeNote(note, offset+len(cards))
		if !ok {
			continue
		}
		cards = append(cards, card)
	}
	if len(cards) == 0 {
		return
	}
	if exists {
		n.decks[idx].Cards = append(n.decks[idx].Cards, cards...)
		return
	}
	n.byTitle[title] = idx
	n.decks = append(n.decks, NormalizedDeck{
		Title:          title,
		Description:    "Imported from Anki: " + strings.Join(path, apkg.DeckSeparator),
		UserID:         n.userID,
		CollectionName: n.collection,
		HierarchyPath:  path,
		Tags:           []string{importTag},
		Cards:          cards,
	})
}

func normalizeNote(note apkg.Note, position int) (NormalizedCard, bool) {
	var front, back string
	if len(note.Fields) > 0 {
		front = CleanText(note.Fields[0])
	}
	if len(note.Fields) > 1 {
		back = CleanText(note.Fields[1])
	}
	if front == "" && back == "" {
		return NormalizedCard{}, false
	}
	return NormalizedCard{
		Front:          front,
		Back:           back,
		Tags:           normalizeTags(note.Tags),
		OriginalCardID: note.CardID,
		OriginalNoteID: note.ID,
		OriginalDeckID: note.DeckID,
		ContentHash:    ContentHash(front, back),
		MediaRefs:      extractMediaRefs(front, back),
		Position:       position,
	}, true
}

func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	result := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		result = append(result, tag)
	}
	sort.Strings(result)
	return result
}

func extractMediaRefs(fields ...string) []string {
	seen := make(map[string]struct{})
	refs := make([]string, 0)
	add := func(name string) {
		name = strings.TrimSpace(name)
		if name == "" || strings.Contains(name, "://") || strings.HasPrefix(name, "data:") {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		refs = append(refs, name)
	}
	for _, field := range fields {
		for _, m := range srcRef.FindAllStringSubmatch(field, -1) {
			add(m[1])
		}
		for _, m := range soundRef.FindAllStringSubmatch(field, -1) {
			add(m[1])
		}
	}
	return refs
}

// DeriveCollectionName picks the top level segment holding the most decks.
// Ties go to the alphabetically first name.
func DeriveCollectionName(root *apkg.Group) string {
	if root == nil {
		return defaultCollectionName
	}
	best, bestCount := "", 0
	for _, child := range root.Children {
		if child == nil {
			continue
		}
		name := CleanText(child.Name)
		if name == "" {
			continue
		}
		count := countDecks(child)
		if count > bestCount || (count == bestCount && count > 0 && name < best) {
			best, bestCount = name, count
		}
	}
	if best == "" {
		return defaultCollectionName
	}
	return best
}

func countDecks(g *apkg.Group) int {
	if g == nil {
		return 0
	}
	n := 0
	if len(g.Notes) > 0 {
		n = 1
	}
	for _, child := range g.Children {
		n += countDecks(child)
	}
	return n
}
