package analyzed

import (
	"github.com/autom8ter/docrepl/errors"
	"github.com/autom8ter/docrepl/oplog"
	"github.com/samber/lo"
)

// Key identifies a document across namespaces
type Key struct {
	Namespace oplog.Namespace
	ID        string
}

// KeyOf returns the key of the document op targets
func KeyOf(op *oplog.Operation) Key {
	return Key{Namespace: op.Namespace, ID: op.ID().Raw}
}

// Analyze groups the data operations of a segment by document, preserving the order in which documents
// first appear, and folds each group. Any error aborts the whole segment.
func Analyze(ops []*oplog.Operation, actx oplog.ApplierContext) ([]*Op, error) {
	var (
		order  []Key
		chains = map[Key]*Op{}
	)
	for _, op := range ops {
		key := KeyOf(op)
		current, ok := chains[key]
		if !ok {
			next, err := New(op, actx)
			if err != nil {
				return nil, err
			}
			chains[key] = next
			order = append(order, key)
			continue
		}
		next, err := current.AndThen(op, actx)
		if err != nil {
			return nil, errors.Wrap(err, 0, "failed to analyze %s", op)
		}
		chains[key] = next
	}
	return lo.Map(order, func(key Key, _ int) *Op {
		return chains[key]
	}), nil
}
