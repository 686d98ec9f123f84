package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/mdeck/internal/model"
	"github.com/xxxsen/mdeck/internal/pkg/dbutil"
	appErr "github.com/xxxsen/mdeck/internal/pkg/errors"
)

var collectionFields = []string{
	"id", "user_id", "name", "description", "deck_count", "card_count", "is_public", "is_imported",
	"cover_image_url", "ctime", "mtime",
}

type CollectionRepo struct {
	base
}

func NewCollectionRepo(db *sql.DB, bind int) *CollectionRepo {
	return &CollectionRepo{base: base{db: db, bind: bind}}
}

func (r *CollectionRepo) Create(ctx context.Context, c *model.Collection) error {
	data := map[string]interface{}{
		"id":              c.ID,
		"user_id":         c.UserID,
		"name":            c.Name,
		"description":     c.Description,
		"deck_count":      c.DeckCount,
		"card_count":      c.CardCount,
		"is_public":       boolToInt(c.IsPublic),
		"is_imported":     boolToInt(c.IsImported),
		"cover_image_url": c.CoverImageURL,
		"ctime":           c.Ctime,
		"mtime":           c.Mtime,
	}
	sqlStr, args, err := builder.BuildInsert("collections", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = r.finalize(sqlStr, args)
	if _, err := r.db.ExecContext(ctx, sqlStr, args...); err != nil {
		if dbutil.IsConflict(err) {
			return appErr.ErrConflict
		}
		return err
	}
	return nil
}

func (r *CollectionRepo) GetByName(ctx context.Context, userID, name string) (*model.Collection, error) {
	where := map[string]interface{}{"user_id": userID, "name": name}
	sqlStr, args, err := builder.BuildSelect("collections", where, collectionFields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = r.finalize(sqlStr, args)
	var c model.Collection
	var public, imported int
	err = r.db.QueryRowContext(ctx, sqlStr, args...).Scan(
		&c.ID,
		&c.UserID,
		&c.Name,
		&c.Description,
		&c.DeckCount,
		&c.CardCount,
		&public,
		&imported,
		&c.CoverImageURL,
		&c.Ctime,
		&c.Mtime,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErr.ErrNotFound
		}
		return nil, err
	}
	c.IsPublic = public == 1
	c.IsImported = imported == 1
	return &c, nil
}

func (r *CollectionRepo) UpdateCounts(ctx context.Context, id string, deckCount, cardCount int, mtime int64) error {
	sqlStr, args, err := builder.BuildUpdate("collections",
		map[string]interface{}{"id": id},
		map[string]interface{}{"deck_count": deckCount, "card_count": cardCount, "is_imported": 1, "mtime": mtime},
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
