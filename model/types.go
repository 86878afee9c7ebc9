package model

import "github.com/tidwall/gjson"

// FieldType is the storage type of a document field
type FieldType string

const (
	FieldTypeNull   FieldType = "null"
	FieldTypeString FieldType = "string"
	FieldTypeNumber FieldType = "number"
	FieldTypeBool   FieldType = "bool"
	FieldTypeObject FieldType = "object"
	FieldTypeArray  FieldType = "array"
)

// TypeOf returns the field type of a parsed json value
func TypeOf(value gjson.Result) FieldType {
	switch {
	case value.IsArray():
		return FieldTypeArray
	case value.IsObject():
		return FieldTypeObject
	case value.IsBool():
		return FieldTypeBool
	}
	switch value.Type {
	case gjson.String:
		return FieldTypeString
	case gjson.Number:
		return FieldTypeNumber
	default:
		return FieldTypeNull
	}
}

// IsScalar reports whether the value can be used as a document identifier
func IsScalar(value gjson.Result) bool {
	return value.Exists() && !value.IsArray() && !value.IsObject()
}
