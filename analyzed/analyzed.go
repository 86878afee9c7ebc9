// Package analyzed coalesces the chain of operations a batch holds for one document into a single
// analyzed operation with the same net effect.
package analyzed

import (
	"fmt"

	"github.com/autom8ter/docrepl/errors"
	"github.com/autom8ter/docrepl/model"
	"github.com/autom8ter/docrepl/oplog"
	"github.com/tidwall/gjson"
)

// Kind is the net effect of an analyzed operation
type Kind int

const (
	// Insert stores Document
	Insert Kind = iota + 1
	// UpdateMod applies Modifiers in order to an existing document
	UpdateMod
	// UpdateSet replaces an existing document with Document
	UpdateSet
	// UpsertMod applies Modifiers in order, creating the document if it doesn't exist
	UpsertMod
	// UpsertSet replaces the document with Document, creating it if it doesn't exist
	UpsertSet
	// Delete removes the document
	Delete
	// InsertDelete is an insert that was deleted in the same batch: the document must not exist afterwards
	InsertDelete
	// DeleteCreate is a delete followed by an insert: the document is replaced by Document
	DeleteCreate
)

func (k Kind) String() string {
	switch k {
	case Insert:
		return "insert"
	case UpdateMod:
		return "update_mod"
	case UpdateSet:
		return "update_set"
	case UpsertMod:
		return "upsert_mod"
	case UpsertSet:
		return "upsert_set"
	case Delete:
		return "delete"
	case InsertDelete:
		return "insert_delete"
	case DeleteCreate:
		return "delete_create"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Op is the coalesced effect of every operation of a batch on one document
type Op struct {
	Kind      Kind
	Namespace oplog.Namespace
	ID        gjson.Result
	// Document is the stored document for Insert and DeleteCreate, the replacement for UpdateSet and UpsertSet
	Document *model.Document
	// Modifiers is the pending modifier chain of UpdateMod and UpsertMod. It is evaluated at apply time.
	Modifiers []*model.Document
	// Folded counts the raw operations folded into the Op
	Folded int
}

func (o *Op) String() string {
	return fmt.Sprintf("%s %s %s (%d ops)", o.Kind, o.Namespace, o.ID.Raw, o.Folded)
}

// NoOp reports whether the Op leaves no document behind
func (o *Op) NoOp() bool {
	return o.Kind == InsertDelete
}

// isUpsert reports whether an incoming update may create its target
func isUpsert(op *oplog.Operation, actx oplog.ApplierContext) bool {
	return op.Upsert || actx.UpdatesAsUpserts
}

// New starts the chain of a document with its first operation
func New(op *oplog.Operation, actx oplog.ApplierContext) (*Op, error) {
	next := &Op{Namespace: op.Namespace, ID: op.ID(), Folded: 1}
	switch op.Kind {
	case oplog.Insert:
		next.Kind = Insert
		next.Document = op.Document
	case oplog.Delete:
		next.Kind = Delete
	case oplog.Update:
		next.setUpdate(op, op.Upsert)
	default:
		return nil, errors.New(errors.Assertion, "%s can't be analyzed", op)
	}
	return next, nil
}

func (o *Op) setUpdate(op *oplog.Operation, upsert bool) {
	o.Document, o.Modifiers = nil, nil
	switch {
	case op.Document.IsModifier() && upsert:
		o.Kind = UpsertMod
		o.Modifiers = []*model.Document{op.Document}
	case op.Document.IsModifier():
		o.Kind = UpdateMod
		o.Modifiers = []*model.Document{op.Document}
	case upsert:
		o.Kind = UpsertSet
		o.Document = op.Document
	default:
		o.Kind = UpdateSet
		o.Document = op.Document
	}
}

// AndThen folds the next operation on the same document into the Op and returns the result. The receiver is not modified.
func (o *Op) AndThen(op *oplog.Operation, actx oplog.ApplierContext) (*Op, error) {
	if op.Kind != oplog.Insert && op.Kind != oplog.Update && op.Kind != oplog.Delete {
		return nil, errors.New(errors.Assertion, "%s can't be analyzed", op)
	}
	if op.Namespace != o.Namespace || op.ID().Raw != o.ID.Raw {
		return nil, errors.New(errors.Assertion, "%s does not target %s", op, o)
	}
	next := *o
	next.Modifiers = append([]*model.Document{}, o.Modifiers...)
	next.Folded++
	var err error
	switch o.Kind {
	case Insert, DeleteCreate:
		err = next.afterKnown(op)
	case InsertDelete, Delete:
		err = next.afterAbsent(op, actx)
	case UpdateMod, UpdateSet, UpsertMod, UpsertSet:
		err = next.afterUpdate(op)
	default:
		err = errors.New(errors.Assertion, "unknown analyzed kind %s", o.Kind)
	}
	if err != nil {
		return nil, err
	}
	return &next, nil
}

// afterKnown folds op into a chain whose resulting document is fully known
func (o *Op) afterKnown(op *oplog.Operation) error {
	switch op.Kind {
	case oplog.Insert:
		return errors.New(errors.Assertion, "duplicate insert of %s into %s", o.ID.Raw, o.Namespace)
	case oplog.Update:
		// an upsert of a document inserted earlier in the chain updates it like a plain update would,
		// which is what applying both operations in order leaves behind
		doc, err := model.ApplyUpdate(o.Document, op.Document, o.ID)
		if err != nil {
			return err
		}
		o.Document = doc
	case oplog.Delete:
		if o.Kind == Insert {
			o.Kind = InsertDelete
		} else {
			o.Kind = Delete
		}
		o.Document = nil
	}
	return nil
}

// afterAbsent folds op into a chain that leaves no document behind
func (o *Op) afterAbsent(op *oplog.Operation, actx oplog.ApplierContext) error {
	switch op.Kind {
	case oplog.Insert:
		o.Kind = DeleteCreate
		o.Document = op.Document
	case oplog.Update:
		if !isUpsert(op, actx) {
			return errors.New(errors.NotFound, "update of %s in %s after it was deleted", o.ID.Raw, o.Namespace)
		}
		doc, err := model.ApplyUpdate(nil, op.Document, o.ID)
		if err != nil {
			return err
		}
		o.Kind = DeleteCreate
		o.Document = doc
	case oplog.Delete:
	}
	return nil
}

// afterUpdate folds op into a chain of updates whose target state is only known at apply time.
// The chain keeps its update or upsert semantics, a replacement collapses pending modifiers.
func (o *Op) afterUpdate(op *oplog.Operation) error {
	upsert := o.Kind == UpsertMod || o.Kind == UpsertSet
	switch op.Kind {
	case oplog.Insert:
		return errors.New(errors.Assertion, "insert of %s into %s after an update", o.ID.Raw, o.Namespace)
	case oplog.Delete:
		o.Kind = Delete
		o.Document, o.Modifiers = nil, nil
	case oplog.Update:
		switch {
		case !op.Document.IsModifier():
			o.setUpdate(op, upsert)
		case o.Kind == UpdateSet || o.Kind == UpsertSet:
			doc, err := model.ApplyUpdate(o.Document, op.Document, o.ID)
			if err != nil {
				return err
			}
			o.Document = doc
		default:
			o.Modifiers = append(o.Modifiers, op.Document)
		}
	}
	return nil
}

// Apply evaluates the Op against the document currently stored (nil if absent). It returns the document to
// store, or nil if the document must not exist afterwards.
func (o *Op) Apply(existing *model.Document, actx oplog.ApplierContext) (*model.Document, error) {
	switch o.Kind {
	case Insert, DeleteCreate:
		return o.Document.Clone(), nil
	case Delete, InsertDelete:
		return nil, nil
	case UpdateMod, UpdateSet:
		if existing == nil && !actx.UpdatesAsUpserts {
			return nil, errors.New(errors.NotFound, "update target %s is missing from %s", o.ID.Raw, o.Namespace)
		}
		return o.applyUpdates(existing)
	case UpsertMod, UpsertSet:
		return o.applyUpdates(existing)
	}
	return nil, errors.New(errors.Assertion, "unknown analyzed kind %s", o.Kind)
}

func (o *Op) applyUpdates(existing *model.Document) (*model.Document, error) {
	if o.Kind == UpdateSet || o.Kind == UpsertSet {
		return model.ApplyUpdate(existing, o.Document, o.ID)
	}
	doc := existing
	for _, mod := range o.Modifiers {
		next, err := model.ApplyUpdate(doc, mod, o.ID)
		if err != nil {
			return nil, err
		}
		doc = next
	}
	return doc, nil
}
