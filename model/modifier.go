package model

import (
	"math"
	"strings"

	"github.com/autom8ter/docrepl/errors"
	"github.com/spf13/cast"
	"github.com/tidwall/gjson"
)

// Update operators understood by ApplyModifier
const (
	OpSet         = "$set"
	OpUnset       = "$unset"
	OpInc         = "$inc"
	OpPush        = "$push"
	OpRename      = "$rename"
	OpSetOnInsert = "$setOnInsert"
)

// ApplyUpdate applies an update document to target and returns the result. target is never mutated.
// A nil target means the document does not exist yet (an upsert): the result is seeded with id.
// Modifier updates are evaluated operator by operator, replacement updates keep the target's _id.
func ApplyUpdate(target *Document, update *Document, id gjson.Result) (*Document, error) {
	inserting := target == nil
	var doc *Document
	if inserting {
		doc = NewDocument()
		if id.Exists() {
			if err := doc.Set(IDField, id); err != nil {
				return nil, err
			}
		}
	} else {
		doc = target.Clone()
	}
	if !update.IsModifier() {
		return replace(doc, update)
	}
	if err := ApplyModifier(doc, update, inserting); err != nil {
		return nil, err
	}
	return doc, nil
}

func replace(doc *Document, replacement *Document) (*Document, error) {
	next := replacement.Clone()
	if id := doc.ID(); id.Exists() {
		if rid := next.ID(); rid.Exists() && rid.Raw != id.Raw {
			return nil, errors.New(errors.Validation, "replacement may not change _id from %s to %s", id.Raw, rid.Raw)
		}
		if err := next.Set(IDField, id); err != nil {
			return nil, err
		}
	}
	return next, nil
}

// ApplyModifier applies the modifier operators of mod to doc in place
func ApplyModifier(doc *Document, mod *Document, inserting bool) error {
	var err error
	mod.result.ForEach(func(key, args gjson.Result) bool {
		if !args.IsObject() {
			err = errors.New(errors.Validation, "modifier %s requires a document argument", key.String())
			return false
		}
		op := key.String()
		args.ForEach(func(field, value gjson.Result) bool {
			err = applyOperator(doc, op, field.String(), value, inserting)
			return err == nil
		})
		return err == nil
	})
	return err
}

func applyOperator(doc *Document, op, field string, value gjson.Result, inserting bool) error {
	if field == IDField && op != OpSetOnInsert && !(op == OpSet && doc.ID().Raw == value.Raw) {
		return errors.New(errors.Validation, "modifier %s may not change _id", op)
	}
	switch op {
	case OpSet:
		return doc.Set(field, value)
	case OpSetOnInsert:
		if !inserting {
			return nil
		}
		return doc.Set(field, value)
	case OpUnset:
		return doc.Del(field)
	case OpInc:
		if value.Type != gjson.Number {
			return errors.New(errors.Validation, "cannot $inc by non-numeric value %s", value.Raw)
		}
		current := doc.result.Get(field)
		if current.Exists() && current.Type != gjson.Number {
			return errors.New(errors.Validation, "cannot $inc non-numeric field %s", field)
		}
		return doc.Set(field, addNumbers(current, value))
	case OpPush:
		current := doc.result.Get(field)
		if current.Exists() && !current.IsArray() {
			return errors.New(errors.Validation, "cannot $push to non-array field %s", field)
		}
		if !current.Exists() {
			if err := doc.Set(field, []byte("[]")); err != nil {
				return err
			}
		}
		return doc.Set(field+".-1", value)
	case OpRename:
		to := value.String()
		if value.Type != gjson.String || to == "" || strings.HasPrefix(to, "$") {
			return errors.New(errors.Validation, "invalid $rename target %s", value.Raw)
		}
		current := doc.result.Get(field)
		if !current.Exists() {
			return nil
		}
		if err := doc.Del(field); err != nil {
			return err
		}
		return doc.Set(to, current)
	default:
		return errors.New(errors.Unsupported, "unsupported update operator %s", op)
	}
}

func addNumbers(current, delta gjson.Result) any {
	sum := cast.ToFloat64(current.Value()) + delta.Float()
	if isInteger(current) && isInteger(delta) && sum == math.Trunc(sum) {
		return int64(sum)
	}
	return sum
}

func isInteger(v gjson.Result) bool {
	if !v.Exists() {
		return true
	}
	return !strings.ContainsAny(v.Raw, ".eE")
}
