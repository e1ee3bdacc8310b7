// apps/go-server/internal/record/schema.go
//
// Static schema descriptors for the record store.
// Defines:
//   - Index: a secondary index over one or more document paths.
//   - Schema: the table descriptor registered at Open time.
//   - Key: a primary or composite index key.

package record

// Index describes a secondary index over JSON document paths.
// Unique indexes are enforced by the underlying engine: inserts and
// upserts that collide with a different row fail with ErrConstraint.
type Index struct {
	Name   string   // index name, unique within the table
	Paths  []string // document field names, one per key part
	Unique bool
}

// Schema is the static descriptor for one table. Tables hold one JSON
// document per row under an integer primary key.
//
// When AutoIncrement is set the primary key is assigned by the engine
// on Add; otherwise it is extracted from the document field named by
// KeyPath. KeyPath names the document field holding the key in both
// cases (used by Put to locate the target row).
type Schema struct {
	Table         string
	KeyPath       string
	AutoIncrement bool
	Indexes       []Index
}

// Key is a primary-key or index lookup key. Composite indexes take one
// part per indexed path, in declaration order.
type Key []any

// K builds a Key from its parts.
func K(parts ...any) Key { return Key(parts) }

// index looks up a secondary index by name.
func (s Schema) index(name string) (Index, bool) {
	for _, ix := range s.Indexes {
		if ix.Name == name {
			return ix, true
		}
	}
	return Index{}, false
}
