package importer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/mdeck/internal/apkg"
)

func note(id, front, back string, tags ...string) apkg.Note {
	return apkg.Note{ID: id, CardID: "c" + id, DeckID: "d", Fields: []string{front, back}, Tags: tags}
}

func sampleTree() *apkg.Group {
	return &apkg.Group{Children: []*apkg.Group{
		{Name: "Spanish", Children: []*apkg.Group{
			{Name: "Verbs", DeckID: "11", Notes: []apkg.Note{
				note("1", "hablar", "to speak", "verb", "verb", " a1 "),
				note("2", "  ", "\x1f"),
				note("3", "comer\x01", `<img src="eat.png"> [sound:comer.mp3]`),
			}},
			{Name: "Nouns", Children: []*apkg.Group{
				{Name: "Animals", DeckID: "13", Notes: []apkg.Note{note("4", "gato", "cat")}},
			}},
			{Name: "", Notes: []apkg.Note{note("5", "x", "y")}},
			nil,
		}},
		{Name: "Other", Children: []*apkg.Group{
			{Name: "Misc", Notes: []apkg.Note{note("6", "a", "b")}},
		}},
	}}
}

func TestNormalizeFlattensTree(t *testing.T) {
	decks := Normalize(context.Background(), "u1", "Spanish", sampleTree())
	require.Len(t, decks, 3)

	verbs := decks[0]
	require.Equal(t, "Verbs", verbs.Title)
	require.Equal(t, "u1", verbs.UserID)
	require.Equal(t, "Spanish", verbs.CollectionName)
	require.Equal(t, []string{"Spanish", "Verbs"}, verbs.HierarchyPath)
	require.Equal(t, "Imported from Anki: Spanish::Verbs", verbs.Description)
	require.Len(t, verbs.Cards, 2)

	first := verbs.Cards[0]
	require.Equal(t, "hablar", first.Front)
	require.Equal(t, "to speak", first.Back)
	require.Equal(t, []string{"a1", "verb"}, first.Tags)
	require.Equal(t, "1", first.OriginalNoteID)
	require.Equal(t, "c1", first.OriginalCardID)
	require.Equal(t, ContentHash("hablar", "to speak"), first.ContentHash)
	require.Equal(t, 0, first.Position)

	second := verbs.Cards[1]
	require.Equal(t, "comer", second.Front)
	require.Equal(t, 1, second.Position)
	require.Equal(t, []string{"eat.png", "comer.mp3"}, second.MediaRefs)

	require.Equal(t, "Animals", decks[1].Title)
	require.Equal(t, []string{"Spanish", "Nouns", "Animals"}, decks[1].HierarchyPath)
	require.Equal(t, "Misc", decks[2].Title)
}

func TestNormalizeIntermediateNodesAreNotDecks(t *testing.T) {
	decks := Normalize(context.Background(), "u1", "c", sampleTree())
	for _, d := range decks {
		require.NotEqual(t, "Nouns", d.Title)
		require.NotEqual(t, "Spanish", d.Title)
	}
}

func TestNormalizeMergesDuplicateTitles(t *testing.T) {
	root := &apkg.Group{Children: []*apkg.Group{
		{Name: "A", Children: []*apkg.Group{{Name: "Vocab", Notes: []apkg.Note{note("1", "a", "b")}}}},
		{Name: "B", Children: []*apkg.Group{{Name: "Vocab", Notes: []apkg.Note{note("2", "c", "d")}}}},
	}}
	decks := Normalize(context.Background(), "u1", "c", root)
	require.Len(t, decks, 1)
	require.Len(t, decks[0].Cards, 2)
	require.Equal(t, 1, decks[0].Cards[1].Position)
}

func TestNormalizeSkipsDeckWithOnlyEmptyNotes(t *testing.T) {
	root := &apkg.Group{Children: []*apkg.Group{{Name: "Empty", Notes: []apkg.Note{note("1", "", " ")}}}}
	require.Empty(t, Normalize(context.Background(), "u1", "c", root))
	require.Empty(t, Normalize(context.Background(), "u1", "c", nil))
}

func TestNormalizeHandlesMissingBackField(t *testing.T) {
	root := &apkg.Group{Children: []*apkg.Group{{Name: "One", Notes: []apkg.Note{{ID: "1", Fields: []string{"only"}}}}}}
	decks := Normalize(context.Background(), "u1", "c", root)
	require.Len(t, decks, 1)
	require.Equal(t, "", decks[0].Cards[0].Back)
	require.Equal(t, "", decks[0].Cards[0].OriginalCardID)
}

func TestCleanText(t *testing.T) {
	require.Equal(t, "a b c", CleanText(" a\x1fb\n\n  c\x00 "))
	require.Equal(t, "", CleanText("\x07\t"))
}

func TestDeriveCollectionName(t *testing.T) {
	require.Equal(t, "Spanish", DeriveCollectionName(sampleTree()))
	require.Equal(t, defaultCollectionName, DeriveCollectionName(&apkg.Group{}))
	require.Equal(t, defaultCollectionName, DeriveCollectionName(nil))

	tie := &apkg.Group{Children: []*apkg.Group{
		{Name: "Zeta", Notes: []apkg.Note{note("1", "a", "b")}},
		{Name: "Alpha", Notes: []apkg.Note{note("2", "a", "b")}},
	}}
	require.Equal(t, "Alpha", DeriveCollectionName(tie))
}
