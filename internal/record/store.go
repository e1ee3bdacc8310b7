// apps/go-server/internal/record/store.go
//
// Generic record store over a local SQLite database.
// Responsibilities:
//   - Opening the database with safe defaults (WAL, busy timeout, foreign keys).
//   - Versioned schema upgrades: tables and indexes are created idempotently
//     inside one transaction, gated by the version recorded in _meta.
//   - Typed, context-based CRUD: Get/GetAll/Filter/Search/Add/Put/Delete.
//   - Index-narrowed queries over json_extract expression indexes.
//
// Every operation runs one implicit transaction; no cross-call
// transactional composition is exposed.

package record

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

var (
	// ErrNotInitialized is returned when an operation runs against a nil
	// or closed store.
	ErrNotInitialized = errors.New("record: store not initialized")

	// ErrConstraint is returned when an insert or upsert violates a
	// unique index.
	ErrConstraint = errors.New("record: unique constraint violated")

	// ErrNotFound is returned by Get when no record matches the key.
	ErrNotFound = errors.New("record: not found")
)

// Store is one open database handle plus its table schemas.
type Store struct {
	db      *sql.DB
	path    string
	schemas map[string]Schema
}

// idSetter is implemented by records with auto-assigned keys so reads
// can inject the engine-assigned id.
type idSetter interface{ SetRecordID(int64) }

/**
 * Open opens (and creates if missing) a SQLite-backed record store.
 *
 * - Ensures parent directory exists for relative paths (e.g. ./data/app.db).
 * - Configures busy timeout and WAL journaling mode, enforces foreign keys.
 * - Compares the recorded schema version in _meta against version and,
 *   when the target is newer, creates missing tables/indexes inside a
 *   single transaction and records the new version in that same
 *   transaction, so callers never observe a partially-created schema.
 *
 * The returned bool reports whether the upgrade fired, i.e. whether this
 * was a fresh (or older-versioned) database.
 */
func Open(path string, version int, schemas []Schema) (*Store, bool, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, false, fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, false, err
	}
	if _, err := db.Exec(`PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL;`); err != nil {
		_ = db.Close()
		return nil, false, fmt.Errorf("set pragmas: %w", err)
	}

	s := &Store{db: db, path: path, schemas: make(map[string]Schema, len(schemas))}
	for _, sch := range schemas {
		s.schemas[sch.Table] = sch
	}

	upgraded, err := s.upgrade(version, schemas)
	if err != nil {
		_ = db.Close()
		return nil, false, err
	}
	return s, upgraded, nil
}

// upgrade applies the schema when the recorded version is behind.
// Table/index creation uses IF NOT EXISTS, so re-running against a
// partially-built database is harmless.
func (s *Store) upgrade(version int, schemas []Schema) (bool, error) {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS _meta (k TEXT PRIMARY KEY, v INTEGER NOT NULL);`); err != nil {
		return false, fmt.Errorf("create _meta: %w", err)
	}

	var current int
	err := s.db.QueryRow(`SELECT v FROM _meta WHERE k='schema_version'`).Scan(&current)
	if err != nil && err != sql.ErrNoRows {
		return false, fmt.Errorf("query _meta: %w", err)
	}
	if current >= version {
		return false, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	for _, sch := range schemas {
		keyCol := `id INTEGER PRIMARY KEY`
		if sch.AutoIncrement {
			keyCol = `id INTEGER PRIMARY KEY AUTOINCREMENT`
		}
		ddl := `CREATE TABLE IF NOT EXISTS ` + sch.Table + ` (` + keyCol + `, doc TEXT NOT NULL)`
		if _, err := tx.Exec(ddl); err != nil {
			return false, fmt.Errorf("create table %s: %w", sch.Table, err)
		}
		for _, ix := range sch.Indexes {
			uniq := ""
			if ix.Unique {
				uniq = "UNIQUE "
			}
			cols := make([]string, len(ix.Paths))
			for i, p := range ix.Paths {
				cols[i] = docExpr(p)
			}
			ddl := `CREATE ` + uniq + `INDEX IF NOT EXISTS ` + sch.Table + `_` + ix.Name +
				` ON ` + sch.Table + ` (` + strings.Join(cols, ", ") + `)`
			if _, err := tx.Exec(ddl); err != nil {
				return false, fmt.Errorf("create index %s.%s: %w", sch.Table, ix.Name, err)
			}
		}
	}

	if _, err := tx.Exec(`INSERT INTO _meta (k, v) VALUES ('schema_version', ?)
	                      ON CONFLICT(k) DO UPDATE SET v=excluded.v`, version); err != nil {
		return false, fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit upgrade: %w", err)
	}
	log.Info().Str("path", s.path).Int("from", current).Int("to", version).Msg("schema upgraded")
	return true, nil
}

// docExpr returns the SQL expression extracting one document field from
// the stored doc column (index definitions, WHERE clauses).
func docExpr(path string) string {
	return `json_extract(doc, '$.` + path + `')`
}

// paramExpr returns the SQL expression extracting one document field
// from a bound document parameter (INSERT value lists, where the doc
// column is not yet in scope).
func paramExpr(path string) string {
	return `json_extract(?, '$.` + path + `')`
}

// ready reports ErrNotInitialized for nil/closed stores.
func (s *Store) ready() error {
	if s == nil || s.db == nil {
		return ErrNotInitialized
	}
	return nil
}

// schema resolves a registered table descriptor.
func (s *Store) schema(table string) (Schema, error) {
	sch, ok := s.schemas[table]
	if !ok {
		return Schema{}, fmt.Errorf("record: unknown table %q", table)
	}
	return sch, nil
}

// whereClause builds the WHERE fragment and args for a key lookup.
// An empty index name means primary key (single-part key).
func whereClause(sch Schema, key Key, index string) (string, []any, error) {
	if index == "" {
		if len(key) != 1 {
			return "", nil, fmt.Errorf("record: primary key on %s takes 1 part, got %d", sch.Table, len(key))
		}
		return "id = ?", []any{key[0]}, nil
	}
	ix, ok := sch.index(index)
	if !ok {
		return "", nil, fmt.Errorf("record: unknown index %q on %s", index, sch.Table)
	}
	if len(key) != len(ix.Paths) {
		return "", nil, fmt.Errorf("record: index %s.%s takes %d key parts, got %d",
			sch.Table, index, len(ix.Paths), len(key))
	}
	parts := make([]string, len(ix.Paths))
	args := make([]any, len(key))
	for i, p := range ix.Paths {
		parts[i] = docExpr(p) + " = ?"
		args[i] = key[i]
	}
	return strings.Join(parts, " AND "), args, nil
}

// decode unmarshals one row's document and injects the assigned id.
func decode[T any](id int64, doc []byte) (T, error) {
	var rec T
	if err := json.Unmarshal(doc, &rec); err != nil {
		return rec, fmt.Errorf("record: decode: %w", err)
	}
	if setter, ok := any(&rec).(idSetter); ok {
		setter.SetRecordID(id)
	}
	return rec, nil
}

// mapErr translates SQLite constraint failures into ErrConstraint.
func mapErr(err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("%w: %v", ErrConstraint, err)
	}
	return err
}

// Get fetches a single record by primary key (index == "") or by a
// named secondary index. Returns ErrNotFound when no record matches.
func Get[T any](ctx context.Context, s *Store, table string, key Key, index string) (T, error) {
	var zero T
	if err := s.ready(); err != nil {
		return zero, err
	}
	sch, err := s.schema(table)
	if err != nil {
		return zero, err
	}
	where, args, err := whereClause(sch, key, index)
	if err != nil {
		return zero, err
	}
	var id int64
	var doc []byte
	row := s.db.QueryRowContext(ctx, `SELECT id, doc FROM `+sch.Table+` WHERE `+where+` LIMIT 1`, args...)
	if err := row.Scan(&id, &doc); err != nil {
		if err == sql.ErrNoRows {
			return zero, ErrNotFound
		}
		return zero, err
	}
	return decode[T](id, doc)
}

// GetAll fetches every record matching key via index, in primary-key
// (insertion) order. A nil key returns the whole table.
func GetAll[T any](ctx context.Context, s *Store, table string, key Key, index string) ([]T, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	sch, err := s.schema(table)
	if err != nil {
		return nil, err
	}
	q := `SELECT id, doc FROM ` + sch.Table
	var args []any
	if key != nil {
		where, wargs, err := whereClause(sch, key, index)
		if err != nil {
			return nil, err
		}
		q += ` WHERE ` + where
		args = wargs
	}
	q += ` ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []T{}
	for rows.Next() {
		var id int64
		var doc []byte
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, err
		}
		rec, err := decode[T](id, doc)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Filter returns all records in table passing keep. A nil keep is the
// identity predicate.
func Filter[T any](ctx context.Context, s *Store, table string, keep func(T) bool) ([]T, error) {
	all, err := GetAll[T](ctx, s, table, nil, "")
	if err != nil {
		return nil, err
	}
	if keep == nil {
		return all, nil
	}
	out := all[:0]
	for _, rec := range all {
		if keep(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Search narrows via an index first, then applies keep in memory.
// This two-stage path keeps the in-memory scan small.
func Search[T any](ctx context.Context, s *Store, table string, key Key, index string, keep func(T) bool) ([]T, error) {
	matched, err := GetAll[T](ctx, s, table, key, index)
	if err != nil {
		return nil, err
	}
	if keep == nil {
		return matched, nil
	}
	out := matched[:0]
	for _, rec := range matched {
		if keep(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Add inserts a record and returns its primary key. Auto-increment
// tables assign the key; explicit-key tables extract it from the
// document. Unique-index violations fail with ErrConstraint.
func Add[T any](ctx context.Context, s *Store, table string, rec T) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	sch, err := s.schema(table)
	if err != nil {
		return 0, err
	}
	doc, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("record: encode: %w", err)
	}

	var res sql.Result
	if sch.AutoIncrement {
		res, err = s.db.ExecContext(ctx, `INSERT INTO `+sch.Table+` (doc) VALUES (?)`, string(doc))
	} else {
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO `+sch.Table+` (id, doc) VALUES (`+paramExpr(sch.KeyPath)+`, ?)`,
			string(doc), string(doc))
	}
	if err != nil {
		return 0, mapErr(err)
	}
	return res.LastInsertId()
}

// Put inserts or replaces by primary key. The key is extracted from the
// document's KeyPath field, so records must carry their key. Collisions
// with a *different* row on a secondary unique index fail with
// ErrConstraint rather than silently breaking the index.
func Put[T any](ctx context.Context, s *Store, table string, rec T) error {
	if err := s.ready(); err != nil {
		return err
	}
	sch, err := s.schema(table)
	if err != nil {
		return err
	}
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("record: encode: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO `+sch.Table+` (id, doc) VALUES (`+paramExpr(sch.KeyPath)+`, ?)
		 ON CONFLICT(id) DO UPDATE SET doc=excluded.doc`,
		string(doc), string(doc))
	return mapErr(err)
}

// Delete removes a record by primary key; no-op if absent.
func (s *Store) Delete(ctx context.Context, table string, key any) error {
	if err := s.ready(); err != nil {
		return err
	}
	sch, err := s.schema(table)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM `+sch.Table+` WHERE id = ?`, key)
	return err
}

// HasTable probes for a table's presence without mutating anything.
func (s *Store) HasTable(ctx context.Context, name string) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM sqlite_master WHERE type='table' AND name=?`, name).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Probe reports whether the database at path already contains table,
// without opening a store and without applying any schema upgrade. The
// connection is read-only, so probing a schemaless file leaves it
// untouched. A missing file counts as absent.
func Probe(path, table string) (bool, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return false, err
	}
	defer db.Close()
	var one int
	err = db.QueryRow(`SELECT 1 FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Close releases the database handle. The store is unusable afterwards.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Destroy closes the store and removes the database files, including
// the WAL sidecars. Destructive and irreversible.
func (s *Store) Destroy() error {
	if s == nil {
		return nil
	}
	if err := s.Close(); err != nil {
		return err
	}
	for _, p := range []string{s.path, s.path + "-wal", s.path + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", p, err)
		}
	}
	return nil
}
