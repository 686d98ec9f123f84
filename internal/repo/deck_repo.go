package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/mdeck/internal/model"
	appErr "github.com/xxxsen/mdeck/internal/pkg/errors"
)

var deckFields = []string{
	"id", "user_id", "name", "description", "collection", "hierarchy_json", "hierarchy_path",
	"tags_json", "flashcard_count", "is_imported", "import_status", "source", "ctime", "mtime", "last_import_at",
}

type DeckRepo struct {
	base
}

func NewDeckRepo(db *sql.DB, bind int) *DeckRepo {
	return &DeckRepo{base: base{db: db, bind: bind}}
}

func deckRow(deck *model.Deck) (map[string]interface{}, error) {
	hierarchy, err := encodeList(deck.Hierarchy)
	if err != nil {
		return nil, err
	}
	tags, err := encodeList(deck.Tags)
	if err != nil {
		return nil, err
	}
	status := deck.ImportStatus
	if status == "" {
		status = model.DeckImportOK
	}
	return map[string]interface{}{
		"id":              deck.ID,
		"user_id":         deck.UserID,
		"name":            deck.Name,
		"description":     deck.Description,
		"collection":      deck.Collection,
		"hierarchy_json":  hierarchy,
		"hierarchy_path":  deck.HierarchyPath,
		"tags_json":       tags,
		"flashcard_count": deck.FlashcardCount,
		"is_imported":     boolToInt(deck.IsImported),
		"import_status":   status,
		"source":          deck.Source,
		"ctime":           deck.Ctime,
		"mtime":           deck.Mtime,
		"last_import_at":  deck.LastImportAt,
	}, nil
}

// deckRefreshRow holds the columns a re-import is allowed to overwrite.
// Name, collection, ctime and the card count are left alone.
func deckRefreshRow(deck *model.Deck) (map[string]interface{}, error) {
	row, err := deckRow(deck)
	if err != nil {
		return nil, err
	}
	for _, key := range []string{"id", "user_id", "name", "collection", "flashcard_count", "ctime"} {
		delete(row, key)
	}
	return row, nil
}

func buildDeckInsert(bind base, deck *model.Deck) (string, []interface{}, error) {
	row, err := deckRow(deck)
	if err != nil {
		return "", nil, err
	}
	sqlStr, args, err := builder.BuildInsert("decks", []map[string]interface{}{row})
	if err != nil {
		return "", nil, err
	}
	sqlStr, args = bind.finalize(sqlStr, args)
	return sqlStr, args, nil
}

func buildDeckRefresh(bind base, deck *model.Deck) (string, []interface{}, error) {
	update, err := deckRefreshRow(deck)
	if err != nil {
		return "", nil, err
	}
	sqlStr, args, err := builder.BuildUpdate("decks", map[string]interface{}{"id": deck.ID}, update)
	if err != nil {
		return "", nil, err
	}
	sqlStr, args = bind.finalize(sqlStr, args)
	return sqlStr, args, nil
}

func (r *DeckRepo) Create(ctx context.Context, deck *model.Deck) error {
	sqlStr, args, err := buildDeckInsert(r.base, deck)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

func (r *DeckRepo) Get(ctx context.Context, userID, deckID string) (*model.Deck, error) {
	decks, err := r.list(ctx, map[string]interface{}{"user_id": userID, "id": deckID})
	if err != nil {
		return nil, err
	}
	if len(decks) == 0 {
		return nil, appErr.ErrNotFound
	}
	return &decks[0], nil
}

// ListByCollection returns the successfully imported decks of a collection.
func (r *DeckRepo) ListByCollection(ctx context.Context, userID, collection string) ([]model.Deck, error) {
	return r.list(ctx, map[string]interface{}{
		"user_id":       userID,
		"collection":    collection,
		"import_status": model.DeckImportOK,
		"_orderby":      "ctime asc",
	})
}

func (r *DeckRepo) ListByNames(ctx context.Context, userID, collection string, names []string) ([]model.Deck, error) {
	if len(names) == 0 {
		return []model.Deck{}, nil
	}
	return r.list(ctx, map[string]interface{}{
		"user_id":       userID,
		"collection":    collection,
		"import_status": model.DeckImportOK,
		"_custom_names": builder.In{"name": toArgs(names)},
	})
}

func (r *DeckRepo) UpdateCount(ctx context.Context, deckID string, count int, mtime int64) error {
	sqlStr, args, err := builder.BuildUpdate("decks",
		map[string]interface{}{"id": deckID},
		map[string]interface{}{"flashcard_count": count, "mtime": mtime},
	)
	if err != nil {
		return err
	}
	sqlStr, args = r.finalize(sqlStr, args)
	res, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrNotFound
	}
	return nil
}

// CollectionStats counts the decks of a collection and sums their cards.
func (r *DeckRepo) CollectionStats(ctx context.Context, userID, collection string) (int, int, error) {
	sqlStr, args := r.finalize(
		"SELECT COUNT(1), COALESCE(SUM(flashcard_count), 0) FROM decks WHERE user_id = ? AND collection = ? AND import_status = ?",
		[]interface{}{userID, collection, model.DeckImportOK},
	)
	var decks, cards int
	if err := r.db.QueryRowContext(ctx, sqlStr, args...).Scan(&decks, &cards); err != nil {
		return 0, 0, err
	}
	return decks, cards, nil
}

func (r *DeckRepo) ImportStatus(ctx context.Context, userID string) (*model.ImportStatus, error) {
	sqlStr, args := r.finalize(
		"SELECT COUNT(1), COALESCE(MAX(last_import_at), 0) FROM decks WHERE user_id = ? AND is_imported = 1 AND import_status = ?",
		[]interface{}{userID, model.DeckImportOK},
	)
	status := &model.ImportStatus{}
	if err := r.db.QueryRowContext(ctx, sqlStr, args...).Scan(&status.ImportedDecks, &status.LastImportAt); err != nil {
		return nil, err
	}
	return status, nil
}

func (r *DeckRepo) list(ctx context.Context, where map[string]interface{}) ([]model.Deck, error) {
	sqlStr, args, err := builder.BuildSelect("decks", where, deckFields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = r.finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	decks := make([]model.Deck, 0)
	for rows.Next() {
		var deck model.Deck
		var hierarchy, tags string
		var imported int
		if err := rows.Scan(
			&deck.ID,
			&deck.UserID,
			&deck.Name,
			&deck.Description,
			&deck.Collection,
			&hierarchy,
			&deck.HierarchyPath,
			&tags,
			&deck.FlashcardCount,
			&imported,
			&deck.ImportStatus,
			&deck.Source,
			&deck.Ctime,
			&deck.Mtime,
			&deck.LastImportAt,
		); err != nil {
			return nil, err
		}
		deck.Hierarchy = decodeList(hierarchy)
		deck.Tags = decodeList(tags)
		deck.IsImported = imported == 1
		decks = append(decks, deck)
	}
	return decks, rows.Err()
}
