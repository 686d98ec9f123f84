// Package apkg reads Anki package archives (.apkg and .colpkg).
package apkg

// Note is one card of a package together with the fields of its note.
// Sibling cards of the same note in the same deck are collapsed into one.
type Note struct {
	ID     string
	CardID string
	DeckID string
	Fields []string
	Tags   []string
}

// Group is a node of the deck tree. Only nodes that held cards in the
// package carry notes; intermediate path segments have none.
type Group struct {
	Name     string
	DeckID   string
	Children []*Group
	Notes    []Note
}

type MediaFile struct {
	Name string
	Data []byte
}

type Package struct {
	Root      *Group
	Media     []MediaFile
	DeckCount int
	NoteCount int
	// Format is the collection entry that was read, e.g. "collection.anki21".
	Format string
}

const defaultDeckName = "Default"

// DeckSeparator joins the segments of a nested deck name.
const DeckSeparator = "::"
