package model

type Collection struct {
	ID            string `json:"id"`
	UserID        string `json:"user_id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	DeckCount     int    `json:"deck_count"`
	CardCount     int    `json:"card_count"`
	IsPublic      bool   `json:"is_public"`
	IsImported    bool   `json:"is_imported"`
	CoverImageURL string `json:"cover_image_url"`
	Ctime         int64  `json:"ctime"`
	Mtime         int64  `json:"mtime"`
}
