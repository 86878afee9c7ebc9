// Package metadata keeps the schema of replicated data as immutable, versioned snapshots. Writers propose
// changes through a Builder and publish new snapshots with an optimistic merge.
package metadata

import (
	"encoding/json"
	"slices"
	"strings"

	"github.com/autom8ter/docrepl/errors"
	"github.com/autom8ter/docrepl/model"
	"github.com/samber/lo"
)

// Snapshot is one immutable version of the schema tree. Snapshots are never modified after they are published.
type Snapshot struct {
	Version   int64       `json:"version"`
	Databases []*Database `json:"databases"`
}

type Database struct {
	Name        string        `json:"name"`
	Identifier  string        `json:"identifier"`
	Collections []*Collection `json:"collections"`
}

type Collection struct {
	Name       string     `json:"name"`
	Identifier string     `json:"identifier"`
	DocParts   []*DocPart `json:"docParts"`
	Indexes    []*Index   `json:"indexes"`
}

// DocPart is the table holding the fields of the document, or of one of its sub-documents
type DocPart struct {
	// TableRef is the path of the sub-document, empty for the root
	TableRef   []string `json:"tableRef"`
	Identifier string   `json:"identifier"`
	Fields     []*Field `json:"fields"`
}

type Field struct {
	Name       string          `json:"name"`
	Type       model.FieldType `json:"type"`
	Identifier string          `json:"identifier"`
	Position   int             `json:"position"`
}

type Index struct {
	Name       string        `json:"name"`
	Identifier string        `json:"identifier"`
	Unique     bool          `json:"unique"`
	Fields     []*IndexField `json:"fields"`
}

type IndexField struct {
	Position  int      `json:"position"`
	TableRef  []string `json:"tableRef"`
	Name      string   `json:"name"`
	Ascending bool     `json:"ascending"`
}

// Path returns the dot notation path of the indexed field
func (f *IndexField) Path() string {
	return strings.Join(append(slices.Clone(f.TableRef), f.Name), ".")
}

func (f *IndexField) identifier() string {
	return f.Path()
}

// Empty returns the first snapshot of a new store
func Empty() *Snapshot {
	return &Snapshot{}
}

// Decode parses a persisted snapshot. Empty input decodes to an empty snapshot.
func Decode(bits []byte) (*Snapshot, error) {
	if len(bits) == 0 {
		return Empty(), nil
	}
	var s Snapshot
	if err := json.Unmarshal(bits, &s); err != nil {
		return nil, errors.Wrap(err, errors.Internal, "failed to decode metadata snapshot")
	}
	return &s, nil
}

// Encode serializes the snapshot for persistence
func (s *Snapshot) Encode() ([]byte, error) {
	bits, err := json.Marshal(s)
	if err != nil {
		return nil, errors.Wrap(err, errors.Internal, "failed to encode metadata snapshot")
	}
	return bits, nil
}

// Database returns the named database or nil
func (s *Snapshot) Database(name string) *Database {
	db, _ := lo.Find(s.Databases, func(d *Database) bool { return d.Name == name })
	return db
}

// Collection returns the named collection or nil
func (s *Snapshot) Collection(db, collection string) *Collection {
	if d := s.Database(db); d != nil {
		return d.Collection(collection)
	}
	return nil
}

// Collection returns the named collection or nil
func (d *Database) Collection(name string) *Collection {
	c, _ := lo.Find(d.Collections, func(c *Collection) bool { return c.Name == name })
	return c
}

// DocPart returns the doc part of the sub-document at tableRef or nil
func (c *Collection) DocPart(tableRef []string) *DocPart {
	dp, _ := lo.Find(c.DocParts, func(dp *DocPart) bool { return slices.Equal(dp.TableRef, tableRef) })
	return dp
}

// Index returns the named index or nil
func (c *Collection) Index(name string) *Index {
	idx, _ := lo.Find(c.Indexes, func(i *Index) bool { return i.Name == name })
	return idx
}

// Field returns the field with the given name and type or nil
func (d *DocPart) Field(name string, typ model.FieldType) *Field {
	return d.fieldByIdentifier(FieldIdentifier(name, typ))
}

func (d *DocPart) fieldByIdentifier(identifier string) *Field {
	f, _ := lo.Find(d.Fields, func(f *Field) bool { return f.Identifier == identifier })
	return f
}

func (d *DocPart) fieldAt(position int) *Field {
	f, _ := lo.Find(d.Fields, func(f *Field) bool { return f.Position == position })
	return f
}

func (d *DocPart) nextPosition() int {
	if len(d.Fields) == 0 {
		return 0
	}
	return lo.MaxBy(d.Fields, func(a, b *Field) bool { return a.Position > b.Position }).Position + 1
}

// Paths returns the dot notation paths of the index fields in position order
func (i *Index) Paths() []string {
	fields := slices.Clone(i.Fields)
	slices.SortFunc(fields, func(a, b *IndexField) int { return a.Position - b.Position })
	return lo.Map(fields, func(f *IndexField, _ int) string { return f.Path() })
}

func (i *Index) fieldByIdentifier(identifier string) *IndexField {
	f, _ := lo.Find(i.Fields, func(f *IndexField) bool { return f.identifier() == identifier })
	return f
}

func (i *Index) fieldAt(position int) *IndexField {
	f, _ := lo.Find(i.Fields, func(f *IndexField) bool { return f.Position == position })
	return f
}

func (s *Snapshot) clone() *Snapshot {
	return &Snapshot{
		Version: s.Version,
		Databases: lo.Map(s.Databases, func(d *Database, _ int) *Database {
			return &Database{
				Name:        d.Name,
				Identifier:  d.Identifier,
				Collections: lo.Map(d.Collections, func(c *Collection, _ int) *Collection { return c.clone() }),
			}
		}),
	}
}

func (c *Collection) clone() *Collection {
	return &Collection{
		Name:       c.Name,
		Identifier: c.Identifier,
		DocParts: lo.Map(c.DocParts, func(dp *DocPart, _ int) *DocPart {
			return &DocPart{
				TableRef:   slices.Clone(dp.TableRef),
				Identifier: dp.Identifier,
				Fields:     lo.Map(dp.Fields, func(f *Field, _ int) *Field { cp := *f; return &cp }),
			}
		}),
		Indexes: lo.Map(c.Indexes, func(i *Index, _ int) *Index {
			return &Index{
				Name:       i.Name,
				Identifier: i.Identifier,
				Unique:     i.Unique,
				Fields: lo.Map(i.Fields, func(f *IndexField, _ int) *IndexField {
					cp := *f
					cp.TableRef = slices.Clone(f.TableRef)
					return &cp
				}),
			}
		}),
	}
}
