package metadata

import (
	"strings"

	"github.com/autom8ter/docrepl/model"
	"github.com/huandu/xstrings"
)

var typeSuffix = map[model.FieldType]string{
	model.FieldTypeNull:   "z",
	model.FieldTypeString: "s",
	model.FieldTypeNumber: "n",
	model.FieldTypeBool:   "b",
	model.FieldTypeObject: "o",
	model.FieldTypeArray:  "a",
}

// Identifier turns a name into a snake cased relational identifier
func Identifier(name string) string {
	snake := xstrings.ToSnakeCase(name)
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			return r
		}
		return '_'
	}, snake)
}

// FieldIdentifier is the column identifier of a field. A field stored with two types gets two columns.
func FieldIdentifier(name string, typ model.FieldType) string {
	return Identifier(name) + "_" + typeSuffix[typ]
}

// DocPartIdentifier is the table identifier of the doc part at tableRef
func DocPartIdentifier(collection string, tableRef []string) string {
	parts := []string{Identifier(collection)}
	for _, ref := range tableRef {
		parts = append(parts, Identifier(ref))
	}
	return strings.Join(parts, "_")
}
