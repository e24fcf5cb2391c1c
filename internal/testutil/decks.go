package testutil

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/zip"

	"codeberg.org/snonux/decktranslate/internal/anki"
	"codeberg.org/snonux/decktranslate/internal/archive"
)

// DeckModTime is the timestamp of every member of a fixture deck
var DeckModTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// Deck builds .apkg fixtures
type Deck struct {
	name   string
	dbName string
	w      *CollectionWriter
	media  [][]byte
	names  []string
}

// NewDeck starts a deck whose collection is stored as collection.anki2
func NewDeck(name string) *Deck {
	return &Deck{
		name:   name,
		dbName: anki.CollectionAnki2,
		w:      NewCollectionWriter(name),
	}
}

// Modern stores the collection as collection.anki21
func (d *Deck) Modern() *Deck {
	d.dbName = anki.CollectionAnki21
	return d
}

// Model adds a note type and returns its id
func (d *Deck) Model(name string, fields ...string) int64 {
	return d.w.AddModel(name, fields...)
}

// Note adds a note and returns its id
func (d *Deck) Note(modelID int64, fields ...string) int64 {
	return d.w.AddNote(modelID, fields...)
}

// Media adds a media file stored under its numeric index
func (d *Deck) Media(name string, data []byte) *Deck {
	d.names = append(d.names, name)
	d.media = append(d.media, data)
	return d
}

// Build writes dir/<name>.apkg and returns its path
func (d *Deck) Build(t *testing.T, dir string) string {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), d.dbName)
	if err := d.w.Write(dbPath); err != nil {
		t.Fatalf("Failed to write collection: %v", err)
	}
	db, err := os.ReadFile(dbPath)
	if err != nil {
		t.Fatalf("Failed to read collection: %v", err)
	}

	mapping := make(map[string]string, len(d.names))
	for i, name := range d.names {
		mapping[strconv.Itoa(i)] = name
	}
	mediaJSON, err := json.Marshal(mapping)
	if err != nil {
		t.Fatalf("Failed to encode media mapping: %v", err)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	add := func(name string, method uint16, data []byte) {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: method, Modified: DeckModTime})
		if err != nil {
			t.Fatalf("Failed to add %s: %v", name, err)
		}
		if _, err := w.Write(data); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}
	add(d.dbName, zip.Deflate, db)
	add("media", zip.Deflate, mediaJSON)
	for i, data := range d.media {
		add(strconv.Itoa(i), zip.Store, data)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("Failed to finish deck: %v", err)
	}

	path := filepath.Join(dir, d.name+".apkg")
	CreateTestFile(t, path, buf.Bytes())
	return path
}

// DeckEntries returns the member names of an apkg in archive order
func DeckEntries(t *testing.T, apkg string) []string {
	t.Helper()

	r, err := zip.OpenReader(apkg)
	if err != nil {
		t.Fatalf("Failed to open %s: %v", apkg, err)
	}
	defer r.Close()

	names := make([]string, len(r.File))
	for i, f := range r.File {
		names[i] = f.Name
	}
	return names
}

// ReadDeckMember returns the content of one member of an apkg
func ReadDeckMember(t *testing.T, apkg, name string) []byte {
	t.Helper()

	dir := t.TempDir()
	if _, err := archive.Extract(apkg, dir); err != nil {
		t.Fatalf("Failed to extract %s: %v", apkg, err)
	}
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("Failed to read %s from %s: %v", name, apkg, err)
	}
	return data
}

// ReadDeckNotes returns the notes of an apkg ordered by id
func ReadDeckNotes(t *testing.T, apkg string) []anki.Note {
	t.Helper()

	dir := t.TempDir()
	if _, err := archive.Extract(apkg, dir); err != nil {
		t.Fatalf("Failed to extract %s: %v", apkg, err)
	}

	ctx := context.Background()
	coll, err := anki.Open(ctx, dir)
	if err != nil {
		t.Fatalf("Failed to open collection of %s: %v", apkg, err)
	}
	defer coll.Close()

	notes, err := coll.Notes(ctx)
	if err != nil {
		t.Fatalf("Failed to read notes of %s: %v", apkg, err)
	}
	return notes
}
