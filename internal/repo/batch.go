package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/xxxsen/mdeck/internal/model"
	appErr "github.com/xxxsen/mdeck/internal/pkg/errors"
)

// MaxBatchOps is the largest number of writes a single batch may commit.
const MaxBatchOps = 500

// Batch buffers writes and applies them atomically on Commit.
type Batch interface {
	InsertDeck(deck *model.Deck) error
	UpdateDeck(deck *model.Deck) error
	InsertCard(card *model.Card) error
	UpdateCard(cardID string, fields map[string]interface{}, mtime int64) error
	Len() int
	Commit(ctx context.Context) error
}

type stmt struct {
	query string
	args  []interface{}
}

type txBatch struct {
	base
	max int
	ops []stmt
}

func newTxBatch(b base, max int) *txBatch {
	if max <= 0 || max > MaxBatchOps {
		max = MaxBatchOps
	}
	return &txBatch{base: b, max: max}
}

func (b *txBatch) add(query string, args []interface{}, err error) error {
	if err != nil {
		return err
	}
	if len(b.ops) >= b.max {
		return appErr.ErrBatchFull
	}
	b.ops = append(b.ops, stmt{query: query, args: args})
	return nil
}

func (b *txBatch) InsertDeck(deck *model.Deck) error {
	query, args, err := buildDeckInsert(b.base, deck)
	return b.add(query, args, err)
}

func (b *txBatch) UpdateDeck(deck *model.Deck) error {
	query, args, err := buildDeckRefresh(b.base, deck)
	return b.add(query, args, err)
}

func (b *txBatch) InsertCard(card *model.Card) error {
	query, args, err := buildCardInsert(b.base, card)
	return b.add(query, args, err)
}

func (b *txBatch) UpdateCard(cardID string, fields map[string]interface{}, mtime int64) error {
	query, args, err := buildCardUpdate(b.base, cardID, fields, mtime)
	return b.add(query, args, err)
}

func (b *txBatch) Len() int {
	return len(b.ops)
}

func (b *txBatch) Commit(ctx context.Context) error {
	if len(b.ops) == 0 {
		return nil
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := execAll(ctx, tx, b.ops); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	b.ops = b.ops[:0]
	return nil
}

func execAll(ctx context.Context, tx execer, ops []stmt) error {
	for i, op := range ops {
		if _, err := tx.ExecContext(ctx, op.query, op.args...); err != nil {
			return fmt.Errorf("batch op %d: %w", i, err)
		}
	}
	return nil
}

var _ execer = (*sql.Tx)(nil)
