package util_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/autom8ter/docrepl/util"
	"github.com/stretchr/testify/assert"
)

func TestUtil(t *testing.T) {
	t.Run("yaml / json conversions", func(t *testing.T) {
		yml, err := util.JSONToYAML([]byte(`{"provider":"badger","batchSize":10}`))
		assert.Nil(t, err)
		jsonData, err := util.YAMLToJSON(yml)
		assert.Nil(t, err)
		assert.JSONEq(t, `{"provider":"badger","batchSize":10}`, string(jsonData))
	})
	t.Run("json passthrough", func(t *testing.T) {
		jsonData, err := util.YAMLToJSON([]byte(`{"a": 1}`))
		assert.Nil(t, err)
		assert.Equal(t, `{"a": 1}`, string(jsonData))
	})
	t.Run("decode", func(t *testing.T) {
		type params struct {
			Addr    string        `json:"addr"`
			Timeout time.Duration `json:"timeout"`
			Count   int           `json:"count"`
		}
		var p params
		assert.Nil(t, util.Decode(map[string]any{
			"addr":    "localhost:6379",
			"timeout": "2s",
			"count":   "5",
		}, &p))
		assert.Equal(t, "localhost:6379", p.Addr)
		assert.Equal(t, 2*time.Second, p.Timeout)
		assert.Equal(t, 5, p.Count)
	})
	t.Run("validate", func(t *testing.T) {
		type usr struct {
			Name string `validate:"required"`
		}
		var u = usr{}
		assert.NotNil(t, util.ValidateStruct(&u))
		u.Name = "a name"
		assert.Nil(t, util.ValidateStruct(&u))
	})
	t.Run("encode value (float)", func(t *testing.T) {
		val1 := util.EncodeIndexValue(1.0)
		val2 := util.EncodeIndexValue(2.0)
		assert.Equal(t, -1, bytes.Compare(val1, val2))
	})
	t.Run("encode value (negative)", func(t *testing.T) {
		val1 := util.EncodeIndexValue(-3)
		val2 := util.EncodeIndexValue(2)
		assert.Equal(t, -1, bytes.Compare(val1, val2))
	})
	t.Run("encode value (string)", func(t *testing.T) {
		assert.Equal(t, -1, bytes.Compare(util.EncodeIndexValue("a"), util.EncodeIndexValue("b")))
	})
}
