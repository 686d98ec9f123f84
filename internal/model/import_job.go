package model

// ImportReport is the final outcome of one package import.
type ImportReport struct {
	Action         string `json:"action"`
	Collection     string `json:"collection"`
	DecksCreated   int    `json:"decks_created"`
	DecksUpdated   int    `json:"decks_updated"`
	CardsCreated   int    `json:"cards_created"`
	CardsUpdated   int    `json:"cards_updated"`
	CardsUnchanged int    `json:"cards_unchanged"`
	MediaFound     int    `json:"media_found"`
	MediaUploaded  int    `json:"media_uploaded"`
	MediaFailed    int    `json:"media_failed"`
	Commits        int    `json:"commits"`
	Summary        string `json:"summary"`
}

// ImportStatus holds durable facts about a user's imports.
type ImportStatus struct {
	ImportedDecks int   `json:"imported_decks"`
	LastImportAt  int64 `json:"last_import_at"`
}
