package model

import (
	"encoding/json"
	"reflect"
	"strings"

	"github.com/autom8ter/docrepl/errors"
	"github.com/autom8ter/docrepl/util"
	flat2 "github.com/nqd/flat"
	"github.com/spf13/cast"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// IDField is the field every replicated document is keyed by
const IDField = "_id"

// Document is an immutable-by-convention JSON document. Mutating methods are only called on clones.
type Document struct {
	result gjson.Result
}

// UnmarshalJSON satisfies the json Unmarshaler interface
func (d *Document) UnmarshalJSON(bytes []byte) error {
	doc, err := NewDocumentFromBytes(bytes)
	if err != nil {
		return err
	}
	*d = *doc
	return nil
}

// MarshalJSON satisfies the json Marshaler interface
func (d *Document) MarshalJSON() ([]byte, error) {
	return d.Bytes(), nil
}

// NewDocument creates a new empty json document
func NewDocument() *Document {
	return &Document{
		result: gjson.Parse("{}"),
	}
}

// NewDocumentFromBytes creates a new document from the given json bytes
func NewDocumentFromBytes(json []byte) (*Document, error) {
	if !gjson.ValidBytes(json) {
		return nil, errors.New(errors.Validation, "invalid json: %s", string(json))
	}
	d := &Document{
		result: gjson.ParseBytes(json),
	}
	if !d.result.IsObject() {
		return nil, errors.New(errors.Validation, "document must be a json object")
	}
	return d, nil
}

// NewDocumentFrom creates a new document from the given value - the value must be json compatible
func NewDocumentFrom(value any) (*Document, error) {
	bits, err := json.Marshal(value)
	if err != nil {
		return nil, errors.New(errors.Validation, "failed to json encode value: %#v", value)
	}
	return NewDocumentFromBytes(bits)
}

// MustDocument is NewDocumentFrom that panics on error. It is intended for fixtures.
func MustDocument(value any) *Document {
	d, err := NewDocumentFrom(value)
	if err != nil {
		panic(err)
	}
	return d
}

// String returns the document as a json string
func (d *Document) String() string {
	return d.result.Raw
}

// Bytes returns the document as json bytes
func (d *Document) Bytes() []byte {
	return []byte(d.result.Raw)
}

// Value returns the document as a map
func (d *Document) Value() map[string]any {
	return cast.ToStringMap(d.result.Value())
}

// Clone allocates a new document with identical values
func (d *Document) Clone() *Document {
	return &Document{result: gjson.Parse(d.result.Raw)}
}

// Get gets a field on the document. Dot notation is supported.
func (d *Document) Get(field string) any {
	return d.result.Get(field).Value()
}

// GetString gets a string field value on the document
func (d *Document) GetString(field string) string {
	return d.result.Get(field).String()
}

// Exists reports whether the field is present
func (d *Document) Exists(field string) bool {
	return d.result.Get(field).Exists()
}

// ID returns the document's _id value as parsed json
func (d *Document) ID() gjson.Result {
	return d.result.Get(IDField)
}

// Keys returns the top level field names in document order
func (d *Document) Keys() []string {
	var keys []string
	d.result.ForEach(func(key, _ gjson.Result) bool {
		keys = append(keys, key.String())
		return true
	})
	return keys
}

// IsModifier reports whether the document is an update modifier ({$set: ...}) rather than a replacement
func (d *Document) IsModifier() bool {
	keys := d.Keys()
	return len(keys) > 0 && strings.HasPrefix(keys[0], "$")
}

// Equal reports whether both documents hold the same values, ignoring key order and number formatting
func (d *Document) Equal(other *Document) bool {
	if d == nil || other == nil {
		return d == other
	}
	return reflect.DeepEqual(d.result.Value(), other.result.Value())
}

// Set sets a field on the document. Dot notation is supported.
func (d *Document) Set(field string, val any) error {
	var (
		result string
		err    error
	)
	switch val := val.(type) {
	case gjson.Result:
		result, err = sjson.SetRaw(d.result.Raw, field, val.Raw)
	case []byte:
		result, err = sjson.SetRaw(d.result.Raw, field, string(val))
	default:
		result, err = sjson.Set(d.result.Raw, field, val)
	}
	if err != nil {
		return errors.Wrap(err, errors.Validation, "failed to set field %s", field)
	}
	if !gjson.Valid(result) {
		return errors.New(errors.Validation, "invalid document")
	}
	d.result = gjson.Parse(result)
	return nil
}

// Del deletes fields from the document
func (d *Document) Del(fields ...string) error {
	for _, field := range fields {
		result, err := sjson.Delete(d.result.Raw, field)
		if err != nil {
			return errors.Wrap(err, errors.Validation, "failed to delete field %s", field)
		}
		d.result = gjson.Parse(result)
	}
	return nil
}

// Merge sets every (flattened) field of with onto the document. This is not an overwrite.
func (d *Document) Merge(with *Document) error {
	flattened, err := flat2.Flatten(with.Value(), nil)
	if err != nil {
		return errors.Wrap(err, errors.Validation, "failed to flatten document")
	}
	for k, v := range flattened {
		if err := d.Set(k, v); err != nil {
			return err
		}
	}
	return nil
}

// Scan scans the json document into the value
func (d *Document) Scan(value any) error {
	return util.Decode(d.Value(), value)
}

// Walk visits every leaf field. tableRef is the path of enclosing sub-documents, empty for root fields.
func (d *Document) Walk(fn func(tableRef []string, name string, typ FieldType)) {
	walk(d.result, nil, fn)
}

func walk(result gjson.Result, tableRef []string, fn func(tableRef []string, name string, typ FieldType)) {
	result.ForEach(func(key, value gjson.Result) bool {
		if value.IsObject() {
			fn(tableRef, key.String(), FieldTypeObject)
			walk(value, append(append([]string{}, tableRef...), key.String()), fn)
			return true
		}
		fn(tableRef, key.String(), TypeOf(value))
		return true
	})
}
