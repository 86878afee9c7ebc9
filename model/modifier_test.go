package model_test

import (
	"testing"

	"github.com/autom8ter/docrepl/errors"
	"github.com/autom8ter/docrepl/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func doc(t *testing.T, js string) *model.Document {
	d, err := model.NewDocumentFromBytes([]byte(js))
	require.NoError(t, err)
	return d
}

func TestApplyUpdate(t *testing.T) {
	type testCase struct {
		name   string
		target string
		update string
		expect string
		code   errors.Code
	}
	cases := []testCase{
		{name: "set", target: `{"_id":1,"x":1}`, update: `{"$set":{"x":2,"y.z":"a"}}`, expect: `{"_id":1,"x":2,"y":{"z":"a"}}`},
		{name: "unset", target: `{"_id":1,"x":1,"y":2}`, update: `{"$unset":{"y":""}}`, expect: `{"_id":1,"x":1}`},
		{name: "inc int", target: `{"_id":1,"n":1}`, update: `{"$inc":{"n":2,"m":1}}`, expect: `{"_id":1,"n":3,"m":1}`},
		{name: "inc float", target: `{"_id":1,"n":1.5}`, update: `{"$inc":{"n":1}}`, expect: `{"_id":1,"n":2.5}`},
		{name: "inc non numeric", target: `{"_id":1,"n":"a"}`, update: `{"$inc":{"n":1}}`, code: errors.Validation},
		{name: "push", target: `{"_id":1,"tags":["a"]}`, update: `{"$push":{"tags":"b","other":1}}`, expect: `{"_id":1,"tags":["a","b"],"other":[1]}`},
		{name: "rename", target: `{"_id":1,"a":5}`, update: `{"$rename":{"a":"b"}}`, expect: `{"_id":1,"b":5}`},
		{name: "set on insert ignored for existing", target: `{"_id":1}`, update: `{"$setOnInsert":{"a":1}}`, expect: `{"_id":1}`},
		{name: "replacement keeps id", target: `{"_id":1,"x":1}`, update: `{"y":1}`, expect: `{"_id":1,"y":1}`},
		{name: "replacement changing id", target: `{"_id":1,"x":1}`, update: `{"_id":2}`, code: errors.Validation},
		{name: "set id", target: `{"_id":1}`, update: `{"$set":{"_id":2}}`, code: errors.Validation},
		{name: "unknown operator", target: `{"_id":1}`, update: `{"$bit":{"a":1}}`, code: errors.Unsupported},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			target := doc(t, c.target)
			before := target.String()
			result, err := model.ApplyUpdate(target, doc(t, c.update), target.ID())
			assert.Equal(t, before, target.String())
			if c.code != 0 {
				assert.True(t, errors.HasCode(err, c.code), "%v", err)
				return
			}
			require.NoError(t, err)
			assert.True(t, doc(t, c.expect).Equal(result), result.String())
		})
	}
	t.Run("upsert seeds id", func(t *testing.T) {
		result, err := model.ApplyUpdate(nil, doc(t, `{"$set":{"a":1},"$setOnInsert":{"b":2}}`), gjson.Parse(`"k"`))
		require.NoError(t, err)
		assert.True(t, doc(t, `{"_id":"k","a":1,"b":2}`).Equal(result), result.String())
	})
	t.Run("upsert replacement", func(t *testing.T) {
		result, err := model.ApplyUpdate(nil, doc(t, `{"a":1}`), gjson.Parse(`7`))
		require.NoError(t, err)
		assert.True(t, doc(t, `{"_id":7,"a":1}`).Equal(result), result.String())
	})
}
