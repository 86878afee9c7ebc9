package oplog

import (
	"github.com/autom8ter/docrepl/errors"
	"github.com/autom8ter/docrepl/model"
)

// Check validates that op can be stored: the _id a data operation targets must be a scalar.
// System namespaces are exempt. A missing _id outside system namespaces is an Assertion error,
// a non-scalar one is Unsupported. Check has no side effects.
func Check(op *Operation) error {
	switch op.Kind {
	case Noop, Command:
		return nil
	case Insert:
		if op.Document == nil {
			return errors.New(errors.Assertion, "insert into %s without a document", op.Namespace)
		}
	case Update:
		if op.Document == nil {
			return errors.New(errors.Assertion, "update of %s without an update document", op.Namespace)
		}
		fallthrough
	case Delete:
		if op.Filter == nil {
			return errors.New(errors.Assertion, "%s on %s without a filter", op.Kind, op.Namespace)
		}
	default:
		return errors.New(errors.Assertion, "unknown operation kind %s", op.Kind)
	}
	if op.Namespace.IsSystem() {
		return nil
	}
	id := op.ID()
	if !id.Exists() {
		return errors.New(errors.Assertion, "%s on %s does not target an %s", op.Kind, op.Namespace, model.IDField)
	}
	if !model.IsScalar(id) {
		return errors.New(errors.Unsupported, "%s on %s targets a non scalar %s: %s", op.Kind, op.Namespace, model.IDField, id.Raw)
	}
	return nil
}
