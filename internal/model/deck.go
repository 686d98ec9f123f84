package model

const (
	DeckImportOK    = "ok"
	DeckImportError = "error"
)

const DeckSourceAnki = "anki-import"

type Deck struct {
	ID             string   `json:"id"`
	UserID         string   `json:"user_id"`
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Collection     string   `json:"collection"`
	Hierarchy      []string `json:"hierarchy"`
	HierarchyPath  string   `json:"hierarchy_path"`
	Tags           []string `json:"tags"`
	FlashcardCount int      `json:"flashcard_count"`
	IsImported     bool     `json:"is_imported"`
	ImportStatus   string   `json:"import_status"`
	Source         string   `json:"source"`
	Ctime          int64    `json:"ctime"`
	Mtime          int64    `json:"mtime"`
	LastImportAt   int64    `json:"last_import_at"`
}
