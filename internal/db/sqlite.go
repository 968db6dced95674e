package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jcdickinson/docindex/internal/readexact"
	"github.com/jcdickinson/docindex/internal/searchindex"
)

// ErrCrateNotFound is returned when a named crate has not been stored.
var ErrCrateNotFound = errors.New("crate not found")

const defaultFindLimit = 20

type DB struct {
	conn *sql.DB
}

func New(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	if !isSQLiteFile(dbPath) {
		log.Printf("Removing non-SQLite database file at %s", dbPath)
		os.Remove(dbPath)
	}

	dsn := "file:" + dbPath + "?_txlock=immediate&_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	d := &DB{conn: conn}
	if err := d.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return d, nil
}

// isSQLiteFile reports false only for an existing file whose header is not
// SQLite's. Missing and empty files are fine to open.
func isSQLiteFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return true
	}
	defer f.Close()

	header := make([]byte, 16)
	ok, err := readexact.ReadExactOrEOF(f, header)
	if err != nil {
		return false
	}
	if !ok {
		return true
	}
	return string(header) == "SQLite format 3\x00"
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS crates (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			package TEXT NOT NULL DEFAULT '',
			version TEXT NOT NULL,
			doc TEXT NOT NULL,
			index_hash TEXT NOT NULL DEFAULT '',
			built_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS items (
			crate_id INTEGER NOT NULL REFERENCES crates(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			kind INTEGER NOT NULL,
			name TEXT NOT NULL,
			path TEXT NOT NULL,
			desc TEXT NOT NULL,
			parent_idx INTEGER,
			search_type TEXT,
			PRIMARY KEY (crate_id, position)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_items_name ON items (name COLLATE NOCASE)`,
		`CREATE INDEX IF NOT EXISTS idx_crates_package ON crates (package)`,

		`CREATE TABLE IF NOT EXISTS paths (
			crate_id INTEGER NOT NULL REFERENCES crates(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			kind INTEGER NOT NULL,
			name TEXT NOT NULL,
			PRIMARY KEY (crate_id, position)
		)`,
	}

	for _, q := range queries {
		if _, err := db.conn.Exec(q); err != nil {
			return fmt.Errorf("executing %q: %w", q, err)
		}
	}
	return nil
}

// --- Crate operations ---

type Crate struct {
	ID   int
	Name string
	// Package is the crates.io name the crate was built from; empty for
	// imported crates.
	Package   string
	Version   string
	Doc       string
	IndexHash string
	ItemCount int
	BuiltAt   time.Time
}

// SaveCrateDoc stores doc under name, replacing whatever was stored for that
// crate before. pkg is the crates.io package name, if known. indexHash is the
// CAS key of the crate's rendered index.
func (db *DB) SaveCrateDoc(name, pkg, version string, doc searchindex.CrateDoc, indexHash string) error {
	if name == "" {
		return errors.New("saving crate doc: empty crate name")
	}
	if err := doc.Validate(); err != nil {
		return fmt.Errorf("saving crate doc %s: %w", name, err)
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM crates WHERE name = ?`, name); err != nil {
		return fmt.Errorf("removing previous %s: %w", name, err)
	}
	result, err := tx.Exec(
		`INSERT INTO crates (name, package, version, doc, index_hash) VALUES (?, ?, ?, ?, ?)`,
		name, pkg, version, doc.Doc, indexHash,
	)
	if err != nil {
		return fmt.Errorf("inserting crate: %w", err)
	}
	crateID, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting crate id: %w", err)
	}

	itemStmt, err := tx.Prepare(
		`INSERT INTO items (crate_id, position, kind, name, path, desc, parent_idx, search_type)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing item insert: %w", err)
	}
	defer itemStmt.Close()
	for i, it := range doc.Items {
		var parent, searchType any
		if it.Parent != nil {
			parent = *it.Parent
		}
		if len(it.SearchType) > 0 {
			searchType = string(it.SearchType)
		}
		if _, err := itemStmt.Exec(crateID, i, int(it.Kind), it.Name, it.Path, it.Desc, parent, searchType); err != nil {
			return fmt.Errorf("inserting item %d: %w", i, err)
		}
	}

	pathStmt, err := tx.Prepare(`INSERT INTO paths (crate_id, position, kind, name) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing path insert: %w", err)
	}
	defer pathStmt.Close()
	for i, p := range doc.Paths {
		if _, err := pathStmt.Exec(crateID, i, int(p.Kind), p.Name); err != nil {
			return fmt.Errorf("inserting path %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing crate %s: %w", name, err)
	}
	return nil
}

const crateColumns = `c.id, c.name, c.package, c.version, c.doc, c.index_hash, c.built_at,
	(SELECT COUNT(*) FROM items i WHERE i.crate_id = c.id)`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCrate(row rowScanner) (Crate, error) {
	var c Crate
	err := row.Scan(&c.ID, &c.Name, &c.Package, &c.Version, &c.Doc, &c.IndexHash, &c.BuiltAt, &c.ItemCount)
	return c, err
}

// GetCrate returns the stored crate row, or nil if there is none.
func (db *DB) GetCrate(name string) (*Crate, error) {
	c, err := scanCrate(db.conn.QueryRow(
		`SELECT `+crateColumns+` FROM crates c WHERE c.name = ?`, name))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ResolveCrate looks ref up as a library name first and then as the
// crates.io package it was built from. It returns nil if neither matches.
func (db *DB) ResolveCrate(ref string) (*Crate, error) {
	c, err := db.GetCrate(ref)
	if c != nil || err != nil {
		return c, err
	}
	found, err := scanCrate(db.conn.QueryRow(
		`SELECT `+crateColumns+` FROM crates c WHERE c.package = ? AND c.package != '' ORDER BY c.name LIMIT 1`, ref))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &found, nil
}

func (db *DB) ListCrates() ([]Crate, error) {
	rows, err := db.conn.Query(`SELECT ` + crateColumns + ` FROM crates c ORDER BY c.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var crates []Crate
	for rows.Next() {
		c, err := scanCrate(rows)
		if err != nil {
			return nil, err
		}
		crates = append(crates, c)
	}
	return crates, rows.Err()
}

// LoadCrateDoc rebuilds the stored document for name, which may also be the
// crates.io package name the crate was built from.
func (db *DB) LoadCrateDoc(name string) (searchindex.CrateDoc, error) {
	c, err := db.ResolveCrate(name)
	if err != nil {
		return searchindex.CrateDoc{}, fmt.Errorf("looking up crate %s: %w", name, err)
	}
	if c == nil {
		return searchindex.CrateDoc{}, fmt.Errorf("%w: %s", ErrCrateNotFound, name)
	}
	return db.loadDoc(c)
}

func (db *DB) loadDoc(c *Crate) (searchindex.CrateDoc, error) {
	doc := searchindex.CrateDoc{
		Doc:   c.Doc,
		Items: []searchindex.Item{},
		Paths: []searchindex.Path{},
	}

	rows, err := db.conn.Query(
		`SELECT kind, name, path, desc, parent_idx, search_type
		 FROM items WHERE crate_id = ? ORDER BY position`, c.ID)
	if err != nil {
		return doc, fmt.Errorf("loading items for %s: %w", c.Name, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			it         searchindex.Item
			kind       int
			parent     sql.NullInt64
			searchType sql.NullString
		)
		if err := rows.Scan(&kind, &it.Name, &it.Path, &it.Desc, &parent, &searchType); err != nil {
			return doc, fmt.Errorf("scanning item for %s: %w", c.Name, err)
		}
		it.Kind = searchindex.ItemType(kind)
		if parent.Valid {
			p := int(parent.Int64)
			it.Parent = &p
		}
		if searchType.Valid {
			it.SearchType = json.RawMessage(searchType.String)
		}
		doc.Items = append(doc.Items, it)
	}
	if err := rows.Err(); err != nil {
		return doc, err
	}

	prows, err := db.conn.Query(`SELECT kind, name FROM paths WHERE crate_id = ? ORDER BY position`, c.ID)
	if err != nil {
		return doc, fmt.Errorf("loading paths for %s: %w", c.Name, err)
	}
	defer prows.Close()
	for prows.Next() {
		var p searchindex.Path
		var kind int
		if err := prows.Scan(&kind, &p.Name); err != nil {
			return doc, fmt.Errorf("scanning path for %s: %w", c.Name, err)
		}
		p.Kind = searchindex.ItemType(kind)
		doc.Paths = append(doc.Paths, p)
	}
	return doc, prows.Err()
}

// LoadIndex assembles an Index from the named crates, or from every stored
// crate when names is empty. Names are resolved as in ResolveCrate; the
// index is keyed by library name.
func (db *DB) LoadIndex(names ...string) (searchindex.Index, error) {
	idx := searchindex.Index{}
	if len(names) == 0 {
		crates, err := db.ListCrates()
		if err != nil {
			return nil, fmt.Errorf("listing crates: %w", err)
		}
		for i := range crates {
			doc, err := db.loadDoc(&crates[i])
			if err != nil {
				return nil, err
			}
			idx[crates[i].Name] = doc
		}
		return idx, nil
	}

	for _, name := range names {
		c, err := db.ResolveCrate(name)
		if err != nil {
			return nil, fmt.Errorf("looking up crate %s: %w", name, err)
		}
		if c == nil {
			return nil, fmt.Errorf("%w: %s", ErrCrateNotFound, name)
		}
		doc, err := db.loadDoc(c)
		if err != nil {
			return nil, err
		}
		idx[c.Name] = doc
	}
	return idx, nil
}

// DeleteCrate removes a crate and its items. It reports whether the crate
// existed.
func (db *DB) DeleteCrate(name string) (bool, error) {
	result, err := db.conn.Exec(`DELETE FROM crates WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("deleting crate %s: %w", name, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deleting crate %s: %w", name, err)
	}
	return n > 0, nil
}

// --- Item search ---

type FindQuery struct {
	Text  string
	Crate string
	Kind  *searchindex.ItemType
	Limit int
}

type Match struct {
	Crate    string           `json:"crate"`
	Item     searchindex.Item `json:"item"`
	FullPath string           `json:"full_path"`
}

// FindItems matches items whose name contains q.Text, case-insensitively.
// Exact name matches come first, then shorter names, then crate and display
// order.
func (db *DB) FindItems(q FindQuery) ([]Match, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, errors.New("finding items: empty query")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultFindLimit
	}

	query := `SELECT c.name, i.kind, i.name, i.path, i.desc, i.parent_idx, i.search_type, p.kind, p.name
		 FROM items i
		 JOIN crates c ON c.id = i.crate_id
		 LEFT JOIN paths p ON p.crate_id = i.crate_id AND p.position = i.parent_idx
		 WHERE i.name LIKE ? ESCAPE '\'`
	params := []interface{}{"%" + escapeLike(text) + "%"}
	if q.Crate != "" {
		query += ` AND c.name = ?`
		params = append(params, q.Crate)
	}
	if q.Kind != nil {
		query += ` AND i.kind = ?`
		params = append(params, int(*q.Kind))
	}
	query += ` ORDER BY (LOWER(i.name) = LOWER(?)) DESC, LENGTH(i.name), c.name, i.position LIMIT ?`
	params = append(params, text, limit)

	rows, err := db.conn.Query(query, params...)
	if err != nil {
		return nil, fmt.Errorf("finding items: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var (
			m          Match
			kind       int
			parent     sql.NullInt64
			searchType sql.NullString
			pathKind   sql.NullInt64
			pathName   sql.NullString
		)
		if err := rows.Scan(&m.Crate, &kind, &m.Item.Name, &m.Item.Path, &m.Item.Desc, &parent, &searchType, &pathKind, &pathName); err != nil {
			return nil, fmt.Errorf("scanning match: %w", err)
		}
		m.Item.Kind = searchindex.ItemType(kind)
		if searchType.Valid {
			m.Item.SearchType = json.RawMessage(searchType.String)
		}

		// Resolve the parent against a one-entry path list so FullPath
		// applies the same rules as for a whole crate document.
		doc := searchindex.CrateDoc{}
		if parent.Valid && pathName.Valid {
			zero := 0
			m.Item.Parent = &zero
			doc.Paths = []searchindex.Path{{Kind: searchindex.ItemType(pathKind.Int64), Name: pathName.String}}
		}
		m.FullPath = doc.FullPath(&m.Item)
		if parent.Valid {
			p := int(parent.Int64)
			m.Item.Parent = &p
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
