package anki

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	json "github.com/goccy/go-json"
	_ "github.com/mattn/go-sqlite3"
)

// Collection database names inside an apkg, newest first
const (
	CollectionAnki21 = "collection.anki21"
	CollectionAnki2  = "collection.anki2"
)

var (
	// ErrNoCollection is returned when an extracted package has no collection database
	ErrNoCollection = errors.New("no collection database found")

	// ErrModelMetadata is returned when the note models cannot be read
	ErrModelMetadata = errors.New("malformed model metadata")
)

// Model is a note type: its id, name and field names in ord order
type Model struct {
	ID     int64
	Name   string
	Fields []string
}

// Note is a row of the notes table with its fields split
type Note struct {
	ID      int64
	ModelID int64
	Fields  []string
}

// Collection is an open collection database
type Collection struct {
	db     *sql.DB
	path   string
	models map[int64]Model
}

// FindCollection returns the collection database in dir, preferring
// collection.anki21 over the legacy collection.anki2
func FindCollection(dir string) (string, error) {
	for _, name := range []string{CollectionAnki21, CollectionAnki2} {
		path := filepath.Join(dir, name)
		info, err := os.Stat(path)
		if err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w in %s", ErrNoCollection, dir)
}

// Open opens the collection database of an extracted package and loads its
// note models
func Open(ctx context.Context, dir string) (*Collection, error) {
	path, err := FindCollection(dir)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	models, err := loadModels(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Collection{db: db, path: path, models: models}, nil
}

// Path returns the database file path
func (c *Collection) Path() string {
	return c.path
}

// Models returns the note models keyed by model id
func (c *Collection) Models() map[int64]Model {
	return c.models
}

// FieldTargets maps every model that has at least one field named in names
// to the ascending positions of those fields. Names match exactly.
func (c *Collection) FieldTargets(names []string) map[int64][]int {
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}

	targets := make(map[int64][]int)
	for id, m := range c.models {
		for pos, field := range m.Fields {
			if wanted[field] {
				targets[id] = append(targets[id], pos)
			}
		}
	}
	return targets
}

// Notes returns every note ordered by id
func (c *Collection) Notes(ctx context.Context) ([]Note, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT id, mid, flds FROM notes ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query notes: %w", err)
	}
	defer rows.Close()

	var notes []Note
	for rows.Next() {
		var (
			n    Note
			flds string
		)
		if err := rows.Scan(&n.ID, &n.ModelID, &flds); err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		n.Fields = SplitFields(flds)
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read notes: %w", err)
	}
	return notes, nil
}

// CheckFields returns ErrFieldCount when the note does not have exactly as
// many fields as its model declares
func (c *Collection) CheckFields(n Note) error {
	m, ok := c.models[n.ModelID]
	if !ok {
		return fmt.Errorf("%w: note %d references unknown model %d", ErrModelMetadata, n.ID, n.ModelID)
	}
	if len(n.Fields) != len(m.Fields) {
		return fmt.Errorf("%w: note %d has %d fields, model %q declares %d",
			ErrFieldCount, n.ID, len(n.Fields), m.Name, len(m.Fields))
	}
	return nil
}

// UpdateNotes writes the fields of the given notes in a single transaction.
// Nothing is written when notes is empty.
func (c *Collection) UpdateNotes(ctx context.Context, notes []Note) error {
	if len(notes) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `UPDATE notes SET flds = ? WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare update: %w", err)
	}
	defer stmt.Close()

	for _, n := range notes {
		res, err := stmt.ExecContext(ctx, JoinFields(n.Fields), n.ID)
		if err != nil {
			return fmt.Errorf("failed to update note %d: %w", n.ID, err)
		}
		if affected, err := res.RowsAffected(); err == nil && affected != 1 {
			return fmt.Errorf("failed to update note %d: %d rows affected", n.ID, affected)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit notes: %w", err)
	}
	return nil
}

// Close closes the database
func (c *Collection) Close() error {
	return c.db.Close()
}

type modelField struct {
	Name string `json:"name"`
	Ord  int    `json:"ord"`
}

type modelJSON struct {
	Name string       `json:"name"`
	Flds []modelField `json:"flds"`
}

// loadModels reads the models column of the col table. Collections written
// by newer Anki versions leave it empty and keep field names in the fields
// table instead.
func loadModels(ctx context.Context, db *sql.DB) (map[int64]Model, error) {
	var raw string
	if err := db.QueryRowContext(ctx, `SELECT models FROM col LIMIT 1`).Scan(&raw); err != nil {
		return nil, fmt.Errorf("%w: failed to read col.models: %v", ErrModelMetadata, err)
	}

	models, err := parseModels(raw)
	if err != nil {
		return nil, err
	}
	if len(models) > 0 {
		return models, nil
	}

	return loadFieldsTable(ctx, db)
}

func parseModels(raw string) (map[int64]Model, error) {
	if raw == "" {
		return map[int64]Model{}, nil
	}

	var decoded map[string]modelJSON
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelMetadata, err)
	}

	models := make(map[int64]Model, len(decoded))
	for key, mj := range decoded {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid model id %q", ErrModelMetadata, key)
		}

		flds := append([]modelField(nil), mj.Flds...)
		sort.SliceStable(flds, func(i, j int) bool { return flds[i].Ord < flds[j].Ord })

		names := make([]string, len(flds))
		for i, f := range flds {
			if f.Ord != i {
				return nil, fmt.Errorf("%w: model %d has non-contiguous field ords", ErrModelMetadata, id)
			}
			names[i] = f.Name
		}
		models[id] = Model{ID: id, Name: mj.Name, Fields: names}
	}
	return models, nil
}

func loadFieldsTable(ctx context.Context, db *sql.DB) (map[int64]Model, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = 'fields'`).Scan(&n)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelMetadata, err)
	}
	models := make(map[int64]Model)
	if n == 0 {
		return models, nil
	}

	rows, err := db.QueryContext(ctx, `SELECT ntid, ord, name FROM fields ORDER BY ntid, ord`)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query fields: %v", ErrModelMetadata, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			ntid int64
			ord  int
			name string
		)
		if err := rows.Scan(&ntid, &ord, &name); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrModelMetadata, err)
		}
		m := models[ntid]
		if ord != len(m.Fields) {
			return nil, fmt.Errorf("%w: model %d has non-contiguous field ords", ErrModelMetadata, ntid)
		}
		m.ID = ntid
		m.Fields = append(m.Fields, name)
		models[ntid] = m
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelMetadata, err)
	}
	return models, nil
}
