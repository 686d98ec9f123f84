package apkg

import (
	"archive/zip"
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite"
)

const (
	entryAnki21b = "collection.anki21b"
	entryAnki21  = "collection.anki21"
	entryAnki2   = "collection.anki2"
	entryMedia   = "media"
)

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

type rawDeck struct {
	ID   string
	Name string
}

func Open(path string) (*Package, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return nil, err
	}
	return Read(file, info.Size())
}

func Read(r io.ReaderAt, size int64) (*Package, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	entries := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		entries[f.Name] = f
	}
	format := ""
	for _, name := range []string{entryAnki21b, entryAnki21, entryAnki2} {
		if _, ok := entries[name]; ok {
			format = name
			break
		}
	}
	if format == "" {
		return nil, fmt.Errorf("archive has no collection database")
	}
	data, err := readEntry(entries[format])
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", format, err)
	}
	compressed := format == entryAnki21b
	if compressed {
		if data, err = decompress(data); err != nil {
			return nil, fmt.Errorf("decompress %s: %w", format, err)
		}
	}
	decks, notes, err := readCollection(data)
	if err != nil {
		return nil, err
	}
	media, err := readMedia(entries, compressed)
	if err != nil {
		return nil, err
	}
	pkg := &Package{
		Root:   buildTree(decks, notes),
		Media:  media,
		Format: format,
	}
	for _, d := range decks {
		if d.Name != defaultDeckName {
			pkg.DeckCount++
		}
	}
	pkg.NoteCount = countNotes(pkg.Root)
	return pkg, nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(data, nil)
}

func readCollection(data []byte) ([]rawDeck, map[string][]Note, error) {
	tmp, err := os.CreateTemp("", "mdeck-collection-*.db")
	if err != nil {
		return nil, nil, err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return nil, nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, nil, err
	}
	db, err := sql.Open("sqlite", tmp.Name())
	if err != nil {
		return nil, nil, err
	}
	defer db.Close()

	decks, err := readDecks(db)
	if err != nil {
		return nil, nil, fmt.Errorf("read decks: %w", err)
	}
	notes, err := readNotes(db)
	if err != nil {
		return nil, nil, fmt.Errorf("read notes: %w", err)
	}
	return decks, notes, nil
}

// readDecks prefers the decks table of newer schemas and falls back to the
// JSON blob stored in col.decks.
func readDecks(db *sql.DB) ([]rawDeck, error) {
	decks, tableErr := readDeckTable(db)
	if tableErr == nil && len(decks) > 0 {
		return decks, nil
	}
	var raw sql.NullString
	if err := db.QueryRow("SELECT decks FROM col").Scan(&raw); err != nil {
		if tableErr != nil {
			return nil, tableErr
		}
		return nil, err
	}
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return nil, nil
	}
	var blob map[string]struct {
		ID   json.Number `json:"id"`
		Name string      `json:"name"`
	}
	if err := json.Unmarshal([]byte(raw.String), &blob); err != nil {
		return nil, fmt.Errorf("decode col.decks: %w", err)
	}
	decks = make([]rawDeck, 0, len(blob))
	for key, d := range blob {
		id := d.ID.String()
		if id == "" {
			id = key
		}
		decks = append(decks, rawDeck{ID: id, Name: normalizeDeckName(d.Name)})
	}
	return decks, nil
}

func readDeckTable(db *sql.DB) ([]rawDeck, error) {
	rows, err := db.Query("SELECT id, name FROM decks")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	decks := make([]rawDeck, 0)
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		decks = append(decks, rawDeck{ID: strconv.FormatInt(id, 10), Name: normalizeDeckName(name)})
	}
	return decks, rows.Err()
}

// normalizeDeckName converts the 0x1f separator used by newer schemas.
func normalizeDeckName(name string) string {
	return strings.ReplaceAll(name, "\x1f", DeckSeparator)
}

// readNotes returns notes keyed by deck id. Cards moved into a filtered deck
// are attributed to their home deck.
func readNotes(db *sql.DB) (map[string][]Note, error) {
	const query = `
		SELECT c.id, c.nid, CASE WHEN c.odid != 0 THEN c.odid ELSE c.did END AS home, n.flds, n.tags
		FROM cards c JOIN notes n ON n.id = c.nid
		ORDER BY home, n.id, c.ord
	`
	rows, err := db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	notes := make(map[string][]Note)
	seen := make(map[string]struct{})
	for rows.Next() {
		var cardID, noteID, deckID int64
		var flds, tags string
		if err := rows.Scan(&cardID, &noteID, &deckID, &flds, &tags); err != nil {
			return nil, err
		}
		did := strconv.FormatInt(deckID, 10)
		nid := strconv.FormatInt(noteID, 10)
		key := did + "/" + nid
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		notes[did] = append(notes[did], Note{
			ID:     nid,
			CardID: strconv.FormatInt(cardID, 10),
			DeckID: did,
			Fields: strings.Split(flds, "\x1f"),
			Tags:   strings.Fields(tags),
		})
	}
	return notes, rows.Err()
}

func buildTree(decks []rawDeck, notes map[string][]Note) *Group {
	root := &Group{}
	sort.Slice(decks, func(i, j int) bool { return decks[i].Name < decks[j].Name })
	for _, d := range decks {
		if d.Name == defaultDeckName {
			continue
		}
		node := root
		for _, part := range strings.Split(d.Name, DeckSeparator) {
			node = child(node, part)
		}
		node.DeckID = d.ID
		node.Notes = append(node.Notes, notes[d.ID]...)
	}
	return root
}

func countNotes(g *Group) int {
	total := len(g.Notes)
	for _, c := range g.Children {
		total += countNotes(c)
	}
	return total
}

func child(parent *Group, name string) *Group {
	for _, c := range parent.Children {
		if c.Name == name {
			return c
		}
	}
	c := &Group{Name: name}
	parent.Children = append(parent.Children, c)
	return c
}

func readMedia(entries map[string]*zip.File, compressed bool) ([]MediaFile, error) {
	index, ok := entries[entryMedia]
	if !ok {
		return nil, nil
	}
	data, err := readEntry(index)
	if err != nil {
		return nil, fmt.Errorf("read media index: %w", err)
	}
	var mapping map[string]string
	if compressed || bytes.HasPrefix(data, zstdMagic) {
		if data, err = decompress(data); err != nil {
			return nil, fmt.Errorf("decompress media index: %w", err)
		}
		mapping, err = parseMediaEntries(data)
	} else {
		mapping, err = parseLegacyMedia(data)
	}
	if err != nil {
		return nil, err
	}
	files := make([]MediaFile, 0, len(mapping))
	for zipName, name := range mapping {
		f, ok := entries[zipName]
		if !ok || name == "" {
			continue
		}
		content, err := readEntry(f)
		if err != nil {
			return nil, fmt.Errorf("read media %s: %w", name, err)
		}
		if bytes.HasPrefix(content, zstdMagic) {
			if content, err = decompress(content); err != nil {
				return nil, fmt.Errorf("decompress media %s: %w", name, err)
			}
		}
		files = append(files, MediaFile{Name: name, Data: content})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

func parseLegacyMedia(data []byte) (map[string]string, error) {
	mapping := make(map[string]string)
	if len(bytes.TrimSpace(data)) == 0 {
		return mapping, nil
	}
	if err := json.Unmarshal(data, &mapping); err != nil {
		return nil, fmt.Errorf("decode media index: %w", err)
	}
	return mapping, nil
}
