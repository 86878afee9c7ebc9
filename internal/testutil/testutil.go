// Package testutil holds fixtures shared by package tests: fake documents, operation builders and an
// in-memory kv database.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/autom8ter/docrepl/kv"
	"github.com/autom8ter/docrepl/kv/badger"
	"github.com/autom8ter/docrepl/model"
	"github.com/autom8ter/docrepl/oplog"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/require"
)

// Users is the namespace most fixtures write to
var Users = oplog.Namespace{Database: "app", Collection: "users"}

// NewUserDoc returns a fake user document with a uuid _id
func NewUserDoc() map[string]any {
	return map[string]any{
		"_id":  gofakeit.UUID(),
		"name": gofakeit.Name(),
		"contact": map[string]any{
			"email": gofakeit.Email(),
		},
		"account_id":      gofakeit.IntRange(0, 100),
		"language":        gofakeit.Language(),
		"favorite_number": gofakeit.Second(),
		"gender":          gofakeit.Gender(),
		"age":             gofakeit.IntRange(0, 100),
		"timestamp":       gofakeit.DateRange(time.Now().Truncate(7200*time.Hour), time.Now()).Unix(),
	}
}

func Insert(ns oplog.Namespace, doc map[string]any) *oplog.Operation {
	return &oplog.Operation{Kind: oplog.Insert, Namespace: ns, Document: model.MustDocument(doc)}
}

func Update(ns oplog.Namespace, id any, update map[string]any, upsert bool) *oplog.Operation {
	return &oplog.Operation{
		Kind:      oplog.Update,
		Namespace: ns,
		Filter:    model.MustDocument(map[string]any{model.IDField: id}),
		Document:  model.MustDocument(update),
		Upsert:    upsert,
	}
}

func Delete(ns oplog.Namespace, id any) *oplog.Operation {
	return &oplog.Operation{
		Kind:      oplog.Delete,
		Namespace: ns,
		Filter:    model.MustDocument(map[string]any{model.IDField: id}),
	}
}

func Command(db string, cmd map[string]any) *oplog.Operation {
	return &oplog.Operation{
		Kind:      oplog.Command,
		Namespace: oplog.Namespace{Database: db, Collection: oplog.CommandCollection},
		Document:  model.MustDocument(cmd),
	}
}

func Noop() *oplog.Operation {
	return &oplog.Operation{Kind: oplog.Noop, Document: model.NewDocument()}
}

// Chain assigns consecutive positions after from and chains the hashes of ops. It returns the checkpoint of the last op.
func Chain(from oplog.Checkpoint, ops ...*oplog.Operation) oplog.Checkpoint {
	cp := from
	for _, op := range ops {
		op.Position = oplog.Position{T: cp.Position.T + 1, I: 1}
		cp = oplog.Chain(cp, op)
	}
	return cp
}

// NewKV opens an in-memory badger database that is closed when the test ends
func NewKV(t testing.TB) kv.DB {
	db, err := badger.Open("")
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close(context.Background())
	})
	return db
}
