package oplog_test

import (
	"testing"

	"github.com/autom8ter/docrepl/errors"
	"github.com/autom8ter/docrepl/internal/testutil"
	"github.com/autom8ter/docrepl/model"
	"github.com/autom8ter/docrepl/oplog"
	"github.com/stretchr/testify/assert"
)

func TestCheck(t *testing.T) {
	system := oplog.Namespace{Database: "app", Collection: "system.views"}
	type testCase struct {
		name string
		op   *oplog.Operation
		code errors.Code
	}
	cases := []testCase{
		{
			name: "document filter id",
			op:   testutil.Update(testutil.Users, map[string]any{"a": 1}, map[string]any{"$set": map[string]any{"x": 1}}, false),
			code: errors.Unsupported,
		},
		{
			name: "scalar filter id",
			op:   testutil.Update(testutil.Users, 5, map[string]any{"$set": map[string]any{"x": 1}}, false),
		},
		{
			name: "array insert id on system namespace",
			op:   testutil.Insert(system, map[string]any{"_id": []int{1, 2}}),
		},
		{
			name: "array insert id",
			op:   testutil.Insert(testutil.Users, map[string]any{"_id": []int{1, 2}}),
			code: errors.Unsupported,
		},
		{
			name: "update filter without id",
			op: &oplog.Operation{
				Kind:      oplog.Update,
				Namespace: testutil.Users,
				Filter:    model.MustDocument(map[string]any{"name": "x"}),
				Document:  model.MustDocument(map[string]any{"$set": map[string]any{"x": 1}}),
			},
			code: errors.Assertion,
		},
		{
			name: "delete filter without id",
			op: &oplog.Operation{
				Kind:      oplog.Delete,
				Namespace: testutil.Users,
				Filter:    model.NewDocument(),
			},
			code: errors.Assertion,
		},
		{
			name: "delete without id on system namespace",
			op: &oplog.Operation{
				Kind:      oplog.Delete,
				Namespace: system,
				Filter:    model.NewDocument(),
			},
		},
		{
			name: "insert without document",
			op:   &oplog.Operation{Kind: oplog.Insert, Namespace: testutil.Users},
			code: errors.Assertion,
		},
		{
			name: "command",
			op:   testutil.Command("app", map[string]any{"create": "users"}),
		},
		{
			name: "noop",
			op:   testutil.Noop(),
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := oplog.Check(c.op)
			if c.code == 0 {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.HasCode(err, c.code), "%v", err)
		})
	}
}
