package analyzed_test

import (
	"math/rand"
	"testing"

	"github.com/autom8ter/docrepl/analyzed"
	"github.com/autom8ter/docrepl/errors"
	"github.com/autom8ter/docrepl/internal/testutil"
	"github.com/autom8ter/docrepl/model"
	"github.com/autom8ter/docrepl/oplog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ns = testutil.Users

func set(fields map[string]any) map[string]any {
	return map[string]any{"$set": fields}
}

func fold(t *testing.T, actx oplog.ApplierContext, ops ...*oplog.Operation) (*analyzed.Op, error) {
	t.Helper()
	result, err := analyzed.Analyze(ops, actx)
	if err != nil {
		return nil, err
	}
	require.Len(t, result, 1)
	return result[0], nil
}

func TestFold(t *testing.T) {
	actx := oplog.ApplierContext{}
	t.Run("insert update delete is a no-op", func(t *testing.T) {
		op, err := fold(t, actx,
			testutil.Insert(ns, map[string]any{"_id": 1, "x": 1}),
			testutil.Update(ns, 1, set(map[string]any{"x": 2}), false),
			testutil.Delete(ns, 1),
		)
		require.NoError(t, err)
		assert.Equal(t, analyzed.InsertDelete, op.Kind)
		assert.True(t, op.NoOp())
		assert.Equal(t, 3, op.Folded)
		doc, err := op.Apply(nil, actx)
		assert.NoError(t, err)
		assert.Nil(t, doc)
	})
	t.Run("delete then insert replaces", func(t *testing.T) {
		op, err := fold(t, actx,
			testutil.Delete(ns, 2),
			testutil.Insert(ns, map[string]any{"_id": 2, "y": 1}),
		)
		require.NoError(t, err)
		assert.Equal(t, analyzed.DeleteCreate, op.Kind)
		upserted, err := model.ApplyUpdate(model.MustDocument(map[string]any{"_id": 2, "z": 9}), model.MustDocument(map[string]any{"y": 1}), op.ID)
		require.NoError(t, err)
		for _, existing := range []*model.Document{nil, model.MustDocument(map[string]any{"_id": 2, "z": 9})} {
			doc, err := op.Apply(existing, actx)
			assert.NoError(t, err)
			assert.True(t, upserted.Equal(doc), doc.String())
		}
	})
	t.Run("insert then modifier applies eagerly", func(t *testing.T) {
		op, err := fold(t, actx,
			testutil.Insert(ns, map[string]any{"_id": 3, "n": 1}),
			testutil.Update(ns, 3, map[string]any{"$inc": map[string]any{"n": 1}}, false),
		)
		require.NoError(t, err)
		assert.Equal(t, analyzed.Insert, op.Kind)
		assert.Equal(t, float64(2), op.Document.Get("n"))
	})
	t.Run("modifiers stay symbolic", func(t *testing.T) {
		op, err := fold(t, actx,
			testutil.Update(ns, 4, map[string]any{"$inc": map[string]any{"n": 1}}, false),
			testutil.Update(ns, 4, map[string]any{"$inc": map[string]any{"n": 2}}, false),
		)
		require.NoError(t, err)
		assert.Equal(t, analyzed.UpdateMod, op.Kind)
		assert.Len(t, op.Modifiers, 2)
		doc, err := op.Apply(model.MustDocument(map[string]any{"_id": 4, "n": 10}), actx)
		require.NoError(t, err)
		assert.Equal(t, float64(13), doc.Get("n"))
	})
	t.Run("replacement collapses modifiers", func(t *testing.T) {
		op, err := fold(t, actx,
			testutil.Update(ns, 5, set(map[string]any{"a": 1}), false),
			testutil.Update(ns, 5, map[string]any{"b": 2}, false),
		)
		require.NoError(t, err)
		assert.Equal(t, analyzed.UpdateSet, op.Kind)
		assert.Empty(t, op.Modifiers)
	})
	t.Run("update then delete", func(t *testing.T) {
		op, err := fold(t, actx,
			testutil.Update(ns, 6, set(map[string]any{"a": 1}), true),
			testutil.Delete(ns, 6),
		)
		require.NoError(t, err)
		assert.Equal(t, analyzed.Delete, op.Kind)
	})
	t.Run("missing update target", func(t *testing.T) {
		op, err := fold(t, actx, testutil.Update(ns, 7, set(map[string]any{"a": 1}), false))
		require.NoError(t, err)
		_, err = op.Apply(nil, actx)
		assert.True(t, errors.HasCode(err, errors.NotFound))
		doc, err := op.Apply(nil, oplog.ApplierContext{UpdatesAsUpserts: true})
		require.NoError(t, err)
		assert.True(t, model.MustDocument(map[string]any{"_id": 7, "a": 1}).Equal(doc))
	})
	t.Run("update after delete", func(t *testing.T) {
		_, err := fold(t, actx, testutil.Delete(ns, 8), testutil.Update(ns, 8, set(map[string]any{"a": 1}), false))
		assert.True(t, errors.HasCode(err, errors.NotFound))
		op, err := fold(t, actx, testutil.Delete(ns, 8), testutil.Update(ns, 8, set(map[string]any{"a": 1}), true))
		require.NoError(t, err)
		assert.Equal(t, analyzed.DeleteCreate, op.Kind)
	})
	t.Run("duplicate insert", func(t *testing.T) {
		_, err := fold(t, actx,
			testutil.Insert(ns, map[string]any{"_id": 9}),
			testutil.Insert(ns, map[string]any{"_id": 9}),
		)
		assert.True(t, errors.HasCode(err, errors.Assertion))
		_, err = fold(t, actx,
			testutil.Update(ns, 9, set(map[string]any{"a": 1}), true),
			testutil.Insert(ns, map[string]any{"_id": 9}),
		)
		assert.True(t, errors.HasCode(err, errors.Assertion))
	})
	t.Run("commands are rejected", func(t *testing.T) {
		_, err := analyzed.Analyze([]*oplog.Operation{testutil.Command("app", map[string]any{"drop": "users"})}, actx)
		assert.True(t, errors.HasCode(err, errors.Assertion))
	})
}

func TestAnalyzeGrouping(t *testing.T) {
	other := oplog.Namespace{Database: "app", Collection: "tasks"}
	ops := []*oplog.Operation{
		testutil.Insert(ns, map[string]any{"_id": 1}),
		testutil.Insert(other, map[string]any{"_id": 1}),
		testutil.Insert(ns, map[string]any{"_id": "1"}),
		testutil.Delete(ns, 1),
	}
	result, err := analyzed.Analyze(ops, oplog.ApplierContext{})
	require.NoError(t, err)
	require.Len(t, result, 3)
	assert.Equal(t, analyzed.InsertDelete, result[0].Kind)
	assert.Equal(t, other, result[1].Namespace)
	assert.Equal(t, `"1"`, result[2].ID.Raw)
}

// oracle applies operations one by one to a single document
func oracle(initial *model.Document, ops []*oplog.Operation, actx oplog.ApplierContext) (*model.Document, error) {
	state := initial
	for _, op := range ops {
		switch op.Kind {
		case oplog.Insert:
			if state != nil {
				return nil, errors.New(errors.Conflict, "duplicate")
			}
			state = op.Document
		case oplog.Update:
			if state == nil && !op.Upsert && !actx.UpdatesAsUpserts {
				return nil, errors.New(errors.NotFound, "missing")
			}
			next, err := model.ApplyUpdate(state, op.Document, op.ID())
			if err != nil {
				return nil, err
			}
			state = next
		case oplog.Delete:
			state = nil
		}
	}
	return state, nil
}

func TestFoldMatchesOracle(t *testing.T) {
	pool := []func() *oplog.Operation{
		func() *oplog.Operation { return testutil.Insert(ns, map[string]any{"_id": 1, "x": 1}) },
		func() *oplog.Operation { return testutil.Delete(ns, 1) },
		func() *oplog.Operation {
			return testutil.Update(ns, 1, map[string]any{"$inc": map[string]any{"n": 1}}, false)
		},
		func() *oplog.Operation { return testutil.Update(ns, 1, set(map[string]any{"x": 2}), true) },
		func() *oplog.Operation { return testutil.Update(ns, 1, map[string]any{"r": true}, false) },
		func() *oplog.Operation { return testutil.Update(ns, 1, map[string]any{"u": "set"}, true) },
		func() *oplog.Operation {
			return testutil.Update(ns, 1, map[string]any{"$setOnInsert": map[string]any{"created": 1}, "$push": map[string]any{"l": 1}}, true)
		},
		func() *oplog.Operation {
			return testutil.Update(ns, 1, map[string]any{"$unset": map[string]any{"x": ""}}, false)
		},
	}
	initials := []*model.Document{nil, model.MustDocument(map[string]any{"_id": 1, "x": 0, "n": 5})}
	rnd := rand.New(rand.NewSource(7))
	for _, actx := range []oplog.ApplierContext{{}, {UpdatesAsUpserts: true}} {
		checked := 0
		for i := 0; i < 2000; i++ {
			ops := make([]*oplog.Operation, 1+rnd.Intn(5))
			for j := range ops {
				ops[j] = pool[rnd.Intn(len(pool))]()
			}
			initial := initials[rnd.Intn(len(initials))]
			want, err := oracle(initial, ops, actx)
			if err != nil {
				continue
			}
			op, err := fold(t, actx, ops...)
			require.NoError(t, err, "%v", ops)
			got, err := op.Apply(initial, actx)
			require.NoError(t, err, "%v", ops)
			if want == nil {
				assert.Nil(t, got, "%v", ops)
				continue
			}
			assert.True(t, want.Equal(got), "ops %v: want %s got %v", ops, want, got)
			checked++
		}
		assert.Greater(t, checked, 100)
	}
}
