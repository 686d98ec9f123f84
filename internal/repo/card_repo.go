package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/mdeck/internal/model"
	appErr "github.com/xxxsen/mdeck/internal/pkg/errors"
)

var cardFields = []string{
	"id", "deck_id", "user_id", "front", "back", "tags_json", "media_refs_json", "position",
	"content_hash", "original_card_id", "original_note_id", "original_deck_id", "ctime", "mtime",
}

type CardRepo struct {
	base
}

func NewCardRepo(db *sql.DB, bind int) *CardRepo {
	return &CardRepo{base: base{db: db, bind: bind}}
}

func cardRow(card *model.Card) (map[string]interface{}, error) {
	tags, err := encodeList(card.Tags)
	if err != nil {
		return nil, err
	}
	refs, err := encodeList(card.MediaRefs)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"id":               card.ID,
		"deck_id":          card.DeckID,
		"user_id":          card.UserID,
		"front":            card.Front,
		"back":             card.Back,
		"tags_json":        tags,
		"media_refs_json":  refs,
		"position":         card.Position,
		"content_hash":     card.ContentHash,
		"original_card_id": card.OriginalCardID,
		"original_note_id": card.OriginalNoteID,
		"original_deck_id": card.OriginalDeckID,
		"ctime":            card.Ctime,
		"mtime":            card.Mtime,
	}, nil
}

// cardUpdateRow maps partial update keys to columns. Unknown keys are rejected.
func cardUpdateRow(fields map[string]interface{}, mtime int64) (map[string]interface{}, error) {
	row := make(map[string]interface{}, len(fields)+1)
	for key, value := range fields {
		switch key {
		case model.CardFieldTags, model.CardFieldMediaRefs:
			items, ok := value.([]string)
			if !ok {
				return nil, fmt.Errorf("%w: %s must be a string list", appErr.ErrInvalid, key)
			}
			encoded, err := encodeList(items)
			if err != nil {
				return nil, err
			}
			row[key+"_json"] = encoded
		case model.CardFieldFront, model.CardFieldBack, model.CardFieldPosition, model.CardFieldContentHash,
			model.CardFieldOriginalCardID, model.CardFieldOriginalNoteID, model.CardFieldOriginalDeckID:
			row[key] = value
		default:
			return nil, fmt.Errorf("%w: unknown card field %s", appErr.ErrInvalid, key)
		}
	}
	row["mtime"] = mtime
	return row, nil
}

func buildCardInsert(bind base, card *model.Card) (string, []interface{}, error) {
	row, err := cardRow(card)
	if err != nil {
		return "", nil, err
	}
	sqlStr, args, err := builder.BuildInsert("cards", []map[string]interface{}{row})
	if err != nil {
		return "", nil, err
	}
	sqlStr, args = bind.finalize(sqlStr, args)
	return sqlStr, args, nil
}

func buildCardUpdate(bind base, cardID string, fields map[string]interface{}, mtime int64) (string, []interface{}, error) {
	update, err := cardUpdateRow(fields, mtime)
	if err != nil {
		return "", nil, err
	}
	sqlStr, args, err := builder.BuildUpdate("cards", map[string]interface{}{"id": cardID}, update)
	if err != nil {
		return "", nil, err
	}
	sqlStr, args = bind.finalize(sqlStr, args)
	return sqlStr, args, nil
}

func (r *CardRepo) Create(ctx context.Context, card *model.Card) error {
	sqlStr, args, err := buildCardInsert(r.base, card)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

func (r *CardRepo) CountByDeck(ctx context.Context, deckID string) (int, error) {
	sqlStr, args := r.finalize("SELECT COUNT(1) FROM cards WHERE deck_id = ?", []interface{}{deckID})
	var count int
	if err := r.db.QueryRowContext(ctx, sqlStr, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *CardRepo) ListByDeck(ctx context.Context, deckID string) ([]model.Card, error) {
	where := map[string]interface{}{"deck_id": deckID, "_orderby": "position asc"}
	sqlStr, args, err := builder.BuildSelect("cards", where, cardFields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = r.finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	cards := make([]model.Card, 0)
	for rows.Next() {
		var card model.Card
		var tags, refs string
		if err := rows.Scan(
			&card.ID,
			&card.DeckID,
			&card.UserID,
			&card.Front,
			&card.Back,
			&tags,
			&refs,
			&card.Position,
			&card.ContentHash,
			&card.OriginalCardID,
			&card.OriginalNoteID,
			&card.OriginalDeckID,
			&card.Ctime,
			&card.Mtime,
		); err != nil {
			return nil, err
		}
		card.Tags = decodeList(tags)
		card.MediaRefs = decodeList(refs)
		cards = append(cards, card)
	}
	return cards, rows.Err()
}
