package testutil

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	_ "github.com/mattn/go-sqlite3"

	"codeberg.org/snonux/decktranslate/internal/anki"
)

// CollectionWriter creates a minimal schema 11 collection database for
// fixture decks
type CollectionWriter struct {
	deckName string
	deckID   int64
	nextID   int64
	models   []anki.Model
	notes    []anki.Note
}

// NewCollectionWriter creates a writer for a single deck
func NewCollectionWriter(deckName string) *CollectionWriter {
	// Generate IDs based on timestamp to ensure uniqueness
	now := time.Now().UnixMilli()
	return &CollectionWriter{
		deckName: deckName,
		deckID:   now,
		nextID:   now + 1,
	}
}

// AddModel adds a note type with the given field names and returns its id
func (w *CollectionWriter) AddModel(name string, fields ...string) int64 {
	id := w.id()
	w.models = append(w.models, anki.Model{ID: id, Name: name, Fields: fields})
	return id
}

// AddNote adds a note; fields are written as given, even when their count
// does not match the model
func (w *CollectionWriter) AddNote(modelID int64, fields ...string) int64 {
	id := w.id()
	w.notes = append(w.notes, anki.Note{ID: id, ModelID: modelID, Fields: fields})
	return id
}

func (w *CollectionWriter) id() int64 {
	id := w.nextID
	w.nextID++
	return id
}

// Write creates the database at path
func (w *CollectionWriter) Write(path string) error {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := createTables(db); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	if err := w.insertCollection(db); err != nil {
		return fmt.Errorf("failed to insert collection: %w", err)
	}

	if err := w.insertNotesAndCards(db); err != nil {
		return fmt.Errorf("failed to insert notes and cards: %w", err)
	}

	return nil
}

// createTables creates the required Anki database tables
func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE col (
			id integer PRIMARY KEY,
			crt integer NOT NULL,
			mod integer NOT NULL,
			scm integer NOT NULL,
			ver integer NOT NULL,
			dty integer NOT NULL,
			usn integer NOT NULL,
			ls integer NOT NULL,
			conf text NOT NULL,
			models text NOT NULL,
			decks text NOT NULL,
			dconf text NOT NULL,
			tags text NOT NULL
		)`,
		`CREATE TABLE notes (
			id integer PRIMARY KEY,
			guid text NOT NULL,
			mid integer NOT NULL,
			mod integer NOT NULL,
			usn integer NOT NULL,
			tags text NOT NULL,
			flds text NOT NULL,
			sfld text NOT NULL,
			csum integer NOT NULL,
			flags integer NOT NULL,
			data text NOT NULL
		)`,
		`CREATE TABLE cards (
			id integer PRIMARY KEY,
			nid integer NOT NULL,
			did integer NOT NULL,
			ord integer NOT NULL,
			mod integer NOT NULL,
			usn integer NOT NULL,
			type integer NOT NULL,
			queue integer NOT NULL,
			due integer NOT NULL,
			ivl integer NOT NULL,
			factor integer NOT NULL,
			reps integer NOT NULL,
			lapses integer NOT NULL,
			left integer NOT NULL,
			odue integer NOT NULL,
			odid integer NOT NULL,
			flags integer NOT NULL,
			data text NOT NULL
		)`,
		`CREATE TABLE revlog (
			id integer PRIMARY KEY,
			cid integer NOT NULL,
			usn integer NOT NULL,
			ease integer NOT NULL,
			ivl integer NOT NULL,
			lastIvl integer NOT NULL,
			factor integer NOT NULL,
			time integer NOT NULL,
			type integer NOT NULL
		)`,
		`CREATE TABLE graves (
			usn integer NOT NULL,
			oid integer NOT NULL,
			type integer NOT NULL
		)`,
		`CREATE INDEX ix_notes_csum ON notes (csum)`,
		`CREATE INDEX ix_notes_usn ON notes (usn)`,
		`CREATE INDEX ix_cards_usn ON cards (usn)`,
		`CREATE INDEX ix_cards_nid ON cards (nid)`,
		`CREATE INDEX ix_cards_sched ON cards (did, queue, due)`,
		`CREATE INDEX ix_revlog_usn ON revlog (usn)`,
		`CREATE INDEX ix_revlog_cid ON revlog (cid)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}

	return nil
}

// insertCollection inserts the col row holding decks and models
func (w *CollectionWriter) insertCollection(db *sql.DB) error {
	now := time.Now().Unix()

	decks := map[string]interface{}{
		"1": map[string]interface{}{
			"id":   1,
			"name": "Default",
			"mod":  now,
			"dyn":  0,
			"conf": 1,
			"usn":  0,
		},
		strconv.FormatInt(w.deckID, 10): map[string]interface{}{
			"id":   w.deckID,
			"name": w.deckName,
			"mod":  now,
			"dyn":  0,
			"conf": 1,
			"usn":  0,
		},
	}
	decksJSON, err := json.Marshal(decks)
	if err != nil {
		return err
	}

	models := make(map[string]interface{}, len(w.models))
	for _, m := range w.models {
		models[strconv.FormatInt(m.ID, 10)] = w.noteTypeConfig(m, now)
	}
	modelsJSON, err := json.Marshal(models)
	if err != nil {
		return err
	}

	conf := map[string]interface{}{
		"nextPos":  1,
		"curDeck":  1,
		"schedVer": 1,
	}
	confJSON, err := json.Marshal(conf)
	if err != nil {
		return err
	}

	query := `INSERT INTO col VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = db.Exec(query,
		1,        // id
		now,      // crt
		now*1000, // mod
		now*1000, // scm
		11,       // ver (schema version)
		0,        // dty
		0,        // usn
		0,        // ls
		string(confJSON),
		string(modelsJSON),
		string(decksJSON),
		`{"1":{"id":1,"name":"Default"}}`,
		"{}", // tags
	)
	return err
}

// noteTypeConfig builds the models entry for m with a single template
// showing the first field on the front and the rest on the back
func (w *CollectionWriter) noteTypeConfig(m anki.Model, now int64) map[string]interface{} {
	flds := make([]map[string]interface{}, len(m.Fields))
	back := "{{FrontSide}}\n\n<hr id=answer>\n"
	for i, name := range m.Fields {
		flds[i] = map[string]interface{}{
			"name":   name,
			"ord":    i,
			"sticky": false,
			"rtl":    false,
			"font":   "Arial",
			"size":   20,
			"media":  []string{},
		}
		if i > 0 {
			back += "{{" + name + "}}<br>\n"
		}
	}

	front := ""
	if len(m.Fields) > 0 {
		front = "{{" + m.Fields[0] + "}}"
	}

	return map[string]interface{}{
		"id":    m.ID,
		"name":  m.Name,
		"type":  0,
		"mod":   now,
		"usn":   -1,
		"sortf": 0,
		"did":   w.deckID,
		"flds":  flds,
		"tmpls": []map[string]interface{}{
			{
				"name": "Card 1",
				"ord":  0,
				"qfmt": front,
				"afmt": back,
			},
		},
		"css": ".card { font-family: arial; font-size: 20px; text-align: center; }",
	}
}

// insertNotesAndCards inserts every note with one new card each
func (w *CollectionWriter) insertNotesAndCards(db *sql.DB) error {
	now := time.Now().Unix()

	for i, n := range w.notes {
		sfld := ""
		if len(n.Fields) > 0 {
			sfld = n.Fields[0]
		}

		noteQuery := `INSERT INTO notes VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		_, err := db.Exec(noteQuery,
			n.ID,                       // id
			fmt.Sprintf("dt_%d", n.ID), // guid
			n.ModelID,                  // mid
			now,                        // mod
			-1,                         // usn
			"",                         // tags
			anki.JoinFields(n.Fields),  // flds
			sfld,                       // sfld (sort field)
			0,                          // csum
			0,                          // flags
			"",                         // data
		)
		if err != nil {
			return fmt.Errorf("failed to insert note: %w", err)
		}

		cardQuery := `INSERT INTO cards VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		_, err = db.Exec(cardQuery,
			n.ID,     // id (card ids live in their own table)
			n.ID,     // nid
			w.deckID, // did
			0,        // ord
			now,      // mod
			-1,       // usn
			0,        // type (0=new)
			0,        // queue (0=new)
			i+1,      // due (position for new cards)
			0,        // ivl
			0,        // factor
			0,        // reps
			0,        // lapses
			0,        // left
			0,        // odue
			0,        // odid
			0,        // flags
			"",       // data
		)
		if err != nil {
			return fmt.Errorf("failed to insert card: %w", err)
		}
	}

	return nil
}
