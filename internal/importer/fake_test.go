package importer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/xxxsen/mdeck/internal/filestore"
	"github.com/xxxsen/mdeck/internal/model"
	appErr "github.com/xxxsen/mdeck/internal/pkg/errors"
	"github.com/xxxsen/mdeck/internal/progress"
	"github.com/xxxsen/mdeck/internal/repo"
)

type memStore struct {
	mu          sync.Mutex
	decks       map[string]model.Deck
	cards       map[string]model.Card
	collections map[string]model.Collection
	// batch sizes in commit order
	commits     []int
	lookups     int
	listDeckErr error
	listCardErr error
	commitErr   error
}

func newMemStore() *memStore {
	return &memStore{
		decks:       map[string]model.Deck{},
		cards:       map[string]model.Card{},
		collections: map[string]model.Collection{},
	}
}

func (s *memStore) ListDecksByCollection(ctx context.Context, userID, collection string) ([]model.Deck, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listDeckErr != nil {
		return nil, s.listDeckErr
	}
	var out []model.Deck
	for _, d := range s.decks {
		if d.UserID == userID && d.Collection == collection && d.ImportStatus == model.DeckImportOK {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *memStore) ListDecksByNames(ctx context.Context, userID, collection string, names []string) ([]model.Deck, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	want := map[string]bool{}
	for _, n := range names {
		want[n] = true
	}
	var out []model.Deck
	for _, d := range s.decks {
		if d.UserID == userID && d.Collection == collection && want[d.Name] {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *memStore) CreateDeck(ctx context.Context, deck *model.Deck) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decks[deck.ID] = *deck
	return nil
}

func (s *memStore) UpdateDeckCount(ctx context.Context, deckID string, count int, mtime int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.decks[deckID]
	if !ok {
		return appErr.ErrNotFound
	}
	d.FlashcardCount = count
	d.Mtime = mtime
	s.decks[deckID] = d
	return nil
}

func (s *memStore) CollectionStats(ctx context.Context, userID, collection string) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	decks, cards := 0, 0
	for _, d := range s.decks {
		if d.UserID == userID && d.Collection == collection && d.ImportStatus == model.DeckImportOK {
			decks++
			cards += d.FlashcardCount
		}
	}
	return decks, cards, nil
}

func (s *memStore) CountCards(ctx context.Context, deckID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listCardErr != nil {
		return 0, s.listCardErr
	}
	n := 0
	for _, c := range s.cards {
		if c.DeckID == deckID {
			n++
		}
	}
	return n, nil
}

func (s *memStore) ListCards(ctx context.Context, deckID string) ([]model.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listCardErr != nil {
		return nil, s.listCardErr
	}
	var out []model.Card
	for _, c := range s.cards {
		if c.DeckID == deckID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (s *memStore) GetCollection(ctx context.Context, userID, name string) (*model.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[userID+"/"+name]
	if !ok {
		return nil, appErr.ErrNotFound
	}
	return &c, nil
}

func (s *memStore) CreateCollection(ctx context.Context, c *model.Collection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := c.UserID + "/" + c.Name
	if _, ok := s.collections[key]; ok {
		return appErr.ErrConflict
	}
	s.collections[key] = *c
	return nil
}

func (s *memStore) UpdateCollectionCounts(ctx context.Context, id string, deckCount, cardCount int, mtime int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, c := range s.collections {
		if c.ID == id {
			c.DeckCount = deckCount
			c.CardCount = cardCount
			c.IsImported = true
			c.Mtime = mtime
			s.collections[key] = c
			return nil
		}
	}
	return appErr.ErrNotFound
}

func (s *memStore) NewBatch() repo.Batch {
	return &memBatch{store: s}
}

func (s *memStore) cardCommits() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.commits...)
}

type memBatch struct {
	store *memStore
	ops   []func(s *memStore)
}

func (b *memBatch) add(op func(s *memStore)) error {
	if len(b.ops) >= repo.MaxBatchOps {
		return appErr.ErrBatchFull
	}
	b.ops = append(b.ops, op)
	return nil
}

func (b *memBatch) InsertDeck(deck *model.Deck) error {
	d := *deck
	return b.add(func(s *memStore) { s.decks[d.ID] = d })
}

func (b *memBatch) UpdateDeck(deck *model.Deck) error {
	d := *deck
	return b.add(func(s *memStore) {
		old := s.decks[d.ID]
		d.FlashcardCount = old.FlashcardCount
		d.Ctime = old.Ctime
		s.decks[d.ID] = d
	})
}

func (b *memBatch) InsertCard(card *model.Card) error {
	c := *card
	return b.add(func(s *memStore) { s.cards[c.ID] = c })
}

func (b *memBatch) UpdateCard(cardID string, fields map[string]interface{}, mtime int64) error {
	return b.add(func(s *memStore) {
		c := s.cards[cardID]
		for key, value := range fields {
			switch key {
			case model.CardFieldFront:
				c.Front = value.(string)
			case model.CardFieldBack:
				c.Back = value.(string)
			case model.CardFieldTags:
				c.Tags = value.([]string)
			case model.CardFieldMediaRefs:
				c.MediaRefs = value.([]string)
			case model.CardFieldPosition:
				c.Position = value.(int)
			case model.CardFieldContentHash:
				c.ContentHash = value.(string)
			case model.CardFieldOriginalCardID:
				c.OriginalCardID = value.(string)
			case model.CardFieldOriginalNoteID:
				c.OriginalNoteID = value.(string)
			case model.CardFieldOriginalDeckID:
				c.OriginalDeckID = value.(string)
			}
		}
		c.Mtime = mtime
		s.cards[cardID] = c
	})
}

func (b *memBatch) Len() int {
	return len(b.ops)
}

func (b *memBatch) Commit(ctx context.Context) error {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	if b.store.commitErr != nil {
		return b.store.commitErr
	}
	for _, op := range b.ops {
		op(b.store)
	}
	b.store.commits = append(b.store.commits, len(b.ops))
	return nil
}

type memFiles struct {
	mu      sync.Mutex
	objects map[string][]byte
	meta    map[string]filestore.SaveOptions
	saves   int
	// names containing any of these substrings fail to upload
	failOn []string
}

func newMemFiles(failOn ...string) *memFiles {
	return &memFiles{
		objects: map[string][]byte{},
		meta:    map[string]filestore.SaveOptions{},
		failOn:  failOn,
	}
}

func (f *memFiles) Type() string { return "mem" }

func (f *memFiles) Save(ctx context.Context, key string, r io.Reader, size int64, opts filestore.SaveOptions) error {
	for _, bad := range f.failOn {
		if strings.Contains(key, bad) {
			return errors.New("upload rejected")
		}
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = buf.Bytes()
	f.meta[key] = opts
	f.saves++
	return nil
}

func (f *memFiles) URL(key string) string {
	return "https://cdn.test/" + key
}

type recordedStep struct {
	label   string
	status  progress.Status
	percent int
}

type recorder struct {
	mu    sync.Mutex
	steps []recordedStep
}

func (r *recorder) Step(label string, status progress.Status, details string, percent int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, recordedStep{label: label, status: status, percent: percent})
}

func (r *recorder) count(status progress.Status) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.steps {
		if s.status == status {
			n++
		}
	}
	return n
}
