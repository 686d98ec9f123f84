// Package apkgtest builds Anki package archives for tests.
package apkgtest

import (
	"archive/zip"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
	_ "modernc.org/sqlite"
)

type Deck struct {
	ID   int64
	Name string
}

type Card struct {
	ID         int64
	NoteID     int64
	DeckID     int64
	OrigDeckID int64
	Ord        int
	Fields     []string
	Tags       []string
}

type Fixture struct {
	Decks []Deck
	Cards []Card
	Media map[string][]byte
	// DeckTable stores decks in a decks table with 0x1f separated names
	// instead of the col.decks JSON blob.
	DeckTable bool
	// Compressed writes a collection.anki21b archive with zstd payloads and
	// a protobuf media index.
	Compressed bool
}

// Write builds the archive in dir and returns its path.
func Write(t testing.TB, dir string, f Fixture) string {
	t.Helper()
	dbPath := filepath.Join(dir, "collection.db")
	writeCollection(t, dbPath, f)
	collection, err := os.ReadFile(dbPath)
	require.NoError(t, err)

	archive := filepath.Join(dir, "deck.apkg")
	out, err := os.Create(archive)
	require.NoError(t, err)
	defer out.Close()
	zw := zip.NewWriter(out)

	names := make([]string, 0, len(f.Media))
	for name := range f.Media {
		names = append(names, name)
	}
	sort.Strings(names)

	var enc *zstd.Encoder
	if f.Compressed {
		enc, err = zstd.NewWriter(nil)
		require.NoError(t, err)
		defer enc.Close()
	}
	entry := "collection.anki21"
	if f.Compressed {
		entry = "collection.anki21b"
		collection = enc.EncodeAll(collection, nil)
	}
	writeZipEntry(t, zw, entry, collection)

	var index []byte
	if f.Compressed {
		var msg []byte
		for _, name := range names {
			var item []byte
			item = protowire.AppendTag(item, 1, protowire.BytesType)
			item = protowire.AppendString(item, name)
			msg = protowire.AppendTag(msg, 1, protowire.BytesType)
			msg = protowire.AppendBytes(msg, item)
		}
		index = enc.EncodeAll(msg, nil)
	} else {
		mapping := make(map[string]string, len(names))
		for i, name := range names {
			mapping[strconv.Itoa(i)] = name
		}
		index, err = json.Marshal(mapping)
		require.NoError(t, err)
	}
	writeZipEntry(t, zw, "media", index)
	for i, name := range names {
		data := f.Media[name]
		if f.Compressed {
			data = enc.EncodeAll(data, nil)
		}
		writeZipEntry(t, zw, strconv.Itoa(i), data)
	}
	require.NoError(t, zw.Close())
	return archive
}

func writeZipEntry(t testing.TB, zw *zip.Writer, name string, data []byte) {
	t.Helper()
	w, err := zw.Create(name)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
}

func writeCollection(t testing.TB, path string, f Fixture) {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	stmts := []string{
		"CREATE TABLE col (id INTEGER PRIMARY KEY, crt INTEGER NOT NULL, decks TEXT NOT NULL)",
		"CREATE TABLE notes (id INTEGER PRIMARY KEY, guid TEXT NOT NULL, mid INTEGER NOT NULL, flds TEXT NOT NULL, tags TEXT NOT NULL)",
		"CREATE TABLE cards (id INTEGER PRIMARY KEY, nid INTEGER NOT NULL, did INTEGER NOT NULL, ord INTEGER NOT NULL, odid INTEGER NOT NULL DEFAULT 0)",
	}
	if f.DeckTable {
		stmts = append(stmts, "CREATE TABLE decks (id INTEGER PRIMARY KEY, name TEXT NOT NULL)")
	}
	for _, stmt := range stmts {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}

	blob := map[string]map[string]interface{}{}
	for _, d := range f.Decks {
		if f.DeckTable {
			_, err := db.Exec("INSERT INTO decks (id, name) VALUES (?, ?)", d.ID, strings.ReplaceAll(d.Name, "::", "\x1f"))
			require.NoError(t, err)
			continue
		}
		blob[strconv.FormatInt(d.ID, 10)] = map[string]interface{}{"id": d.ID, "name": d.Name}
	}
	decksJSON := "{}"
	if !f.DeckTable {
		data, err := json.Marshal(blob)
		require.NoError(t, err)
		decksJSON = string(data)
	}
	_, err = db.Exec("INSERT INTO col (id, crt, decks) VALUES (1, 0, ?)", decksJSON)
	require.NoError(t, err)

	notes := map[int64]bool{}
	for _, c := range f.Cards {
		if !notes[c.NoteID] {
			notes[c.NoteID] = true
			tags := ""
			if len(c.Tags) > 0 {
				tags = " " + strings.Join(c.Tags, " ") + " "
			}
			_, err := db.Exec("INSERT INTO notes (id, guid, mid, flds, tags) VALUES (?, ?, 1, ?, ?)",
				c.NoteID, "g"+strconv.FormatInt(c.NoteID, 10), strings.Join(c.Fields, "\x1f"), tags)
			require.NoError(t, err)
		}
		_, err := db.Exec("INSERT INTO cards (id, nid, did, ord, odid) VALUES (?, ?, ?, ?, ?)", c.ID, c.NoteID, c.DeckID, c.Ord, c.OrigDeckID)
		require.NoError(t, err)
	}
}
