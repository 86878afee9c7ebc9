package metadata

import (
	"fmt"
	"slices"
	"strings"

	"github.com/autom8ter/docrepl/model"
)

// ChangeKind is the kind of a proposed schema change
type ChangeKind int

const (
	AddDatabase ChangeKind = iota + 1
	AddCollection
	AddDocPart
	AddField
	AddIndex
	AddIndexField
	DropDatabase
	DropCollection
	DropIndex
)

func (k ChangeKind) String() string {
	switch k {
	case AddDatabase:
		return "add_database"
	case AddCollection:
		return "add_collection"
	case AddDocPart:
		return "add_doc_part"
	case AddField:
		return "add_field"
	case AddIndex:
		return "add_index"
	case AddIndexField:
		return "add_index_field"
	case DropDatabase:
		return "drop_database"
	case DropCollection:
		return "drop_collection"
	case DropIndex:
		return "drop_index"
	}
	return fmt.Sprintf("change(%d)", int(k))
}

func (k ChangeKind) isDrop() bool {
	return k == DropDatabase || k == DropCollection || k == DropIndex
}

// Change is one proposed schema change. Positional changes (fields and index fields) carry the position
// the proposer computed from the snapshot it observed.
type Change struct {
	Kind       ChangeKind
	Database   string
	Collection string
	TableRef   []string
	Index      string
	Unique     bool
	Field      *Field
	IndexField *IndexField
}

// Path names the entry the change targets
func (c Change) Path() string {
	parts := []string{c.Database}
	if c.Collection != "" {
		parts = append(parts, c.Collection)
	}
	switch {
	case c.Field != nil:
		parts = append(parts, append(slices.Clone(c.TableRef), c.Field.Name)...)
		return fmt.Sprintf("%s:%s@%d", strings.Join(parts, "."), c.Field.Type, c.Field.Position)
	case c.IndexField != nil:
		return fmt.Sprintf("%s[%s].%s@%d", strings.Join(parts, "."), c.Index, c.IndexField.Path(), c.IndexField.Position)
	case c.Index != "":
		return fmt.Sprintf("%s[%s]", strings.Join(parts, "."), c.Index)
	case len(c.TableRef) > 0:
		parts = append(parts, c.TableRef...)
	}
	return strings.Join(parts, ".")
}

func (c Change) String() string {
	return c.Kind.String() + " " + c.Path()
}

// IndexFieldSpec describes one field of a proposed index. Path uses dot notation.
type IndexFieldSpec struct {
	Path      string
	Ascending bool
}

// Builder collects the changes a writer proposes on top of the snapshot it observed
type Builder struct {
	base    *Snapshot
	changes []Change
	seen    map[string]bool
	pending map[string]int
}

// NewBuilder starts a set of changes on top of base
func NewBuilder(base *Snapshot) *Builder {
	return &Builder{
		base:    base,
		seen:    map[string]bool{},
		pending: map[string]int{},
	}
}

// Base returns the snapshot the builder observed
func (b *Builder) Base() *Snapshot {
	return b.base
}

// Changes returns the proposed changes in the order they were made
func (b *Builder) Changes() []Change {
	return slices.Clone(b.changes)
}

func (b *Builder) add(key string, c Change) bool {
	if b.seen[key] {
		return false
	}
	b.seen[key] = true
	b.changes = append(b.changes, c)
	return true
}

func (b *Builder) AddDatabase(db string) {
	b.add("db\x00"+db, Change{Kind: AddDatabase, Database: db})
}

func (b *Builder) AddCollection(db, collection string) {
	b.AddDatabase(db)
	b.add("coll\x00"+db+"\x00"+collection, Change{Kind: AddCollection, Database: db, Collection: collection})
	b.AddDocPart(db, collection, nil)
}

func (b *Builder) AddDocPart(db, collection string, tableRef []string) {
	b.add(docPartKey(db, collection, tableRef), Change{Kind: AddDocPart, Database: db, Collection: collection, TableRef: slices.Clone(tableRef)})
}

func docPartKey(db, collection string, tableRef []string) string {
	return "dp\x00" + db + "\x00" + collection + "\x00" + strings.Join(tableRef, "\x00")
}

// AddField proposes a field. Fields already in the observed snapshot keep their position, new fields are
// proposed after the last observed one.
func (b *Builder) AddField(db, collection string, tableRef []string, name string, typ model.FieldType) {
	b.AddCollection(db, collection)
	if len(tableRef) > 0 {
		b.AddDocPart(db, collection, tableRef)
	}
	identifier := FieldIdentifier(name, typ)
	dpKey := docPartKey(db, collection, tableRef)
	if b.seen[dpKey+"\x00"+identifier] {
		return
	}
	position := -1
	next := 0
	if c := b.base.Collection(db, collection); c != nil {
		if dp := c.DocPart(tableRef); dp != nil {
			if f := dp.fieldByIdentifier(identifier); f != nil {
				position = f.Position
			}
			next = dp.nextPosition()
		}
	}
	if position < 0 {
		position = next + b.pending[dpKey]
		b.pending[dpKey]++
	}
	b.add(dpKey+"\x00"+identifier, Change{
		Kind:       AddField,
		Database:   db,
		Collection: collection,
		TableRef:   slices.Clone(tableRef),
		Field: &Field{
			Name:       name,
			Type:       typ,
			Identifier: identifier,
			Position:   position,
		},
	})
}

// AddDocument proposes every field of the document
func (b *Builder) AddDocument(db, collection string, doc *model.Document) {
	b.AddCollection(db, collection)
	doc.Walk(func(tableRef []string, name string, typ model.FieldType) {
		b.AddField(db, collection, tableRef, name, typ)
	})
}

// AddIndex proposes an index and its fields at positions 0..n-1
func (b *Builder) AddIndex(db, collection, name string, unique bool, fields []IndexFieldSpec) {
	b.AddCollection(db, collection)
	if !b.add("idx\x00"+db+"\x00"+collection+"\x00"+name, Change{Kind: AddIndex, Database: db, Collection: collection, Index: name, Unique: unique}) {
		return
	}
	for i, spec := range fields {
		path := strings.Split(spec.Path, ".")
		b.changes = append(b.changes, Change{
			Kind:       AddIndexField,
			Database:   db,
			Collection: collection,
			Index:      name,
			IndexField: &IndexField{
				Position:  i,
				TableRef:  path[:len(path)-1],
				Name:      path[len(path)-1],
				Ascending: spec.Ascending,
			},
		})
	}
}

func (b *Builder) DropDatabase(db string) {
	b.add("drop\x00"+db, Change{Kind: DropDatabase, Database: db})
}

func (b *Builder) DropCollection(db, collection string) {
	b.add("drop\x00"+db+"\x00"+collection, Change{Kind: DropCollection, Database: db, Collection: collection})
}

func (b *Builder) DropIndex(db, collection, name string) {
	b.add("dropidx\x00"+db+"\x00"+collection+"\x00"+name, Change{Kind: DropIndex, Database: db, Collection: collection, Index: name})
}
