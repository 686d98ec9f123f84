package model

type Card struct {
	ID             string   `json:"id"`
	DeckID         string   `json:"deck_id"`
	UserID         string   `json:"user_id"`
	Front          string   `json:"front"`
	Back           string   `json:"back"`
	Tags           []string `json:"tags"`
	MediaRefs      []string `json:"media_refs"`
	Position       int      `json:"position"`
	ContentHash    string   `json:"content_hash"`
	OriginalCardID string   `json:"original_card_id"`
	OriginalNoteID string   `json:"original_note_id"`
	OriginalDeckID string   `json:"original_deck_id"`
	Ctime          int64    `json:"ctime"`
	Mtime          int64    `json:"mtime"`
}

// Card update keys accepted by the repositories. Values are the new field
// values; tags and media_refs take []string.
const (
	CardFieldFront          = "front"
	CardFieldBack           = "back"
	CardFieldTags           = "tags"
	CardFieldMediaRefs      = "media_refs"
	CardFieldPosition       = "position"
	CardFieldContentHash    = "content_hash"
	CardFieldOriginalCardID = "original_card_id"
	CardFieldOriginalNoteID = "original_note_id"
	CardFieldOriginalDeckID = "original_deck_id"
)
