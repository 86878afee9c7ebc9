package prefix

import (
	"bytes"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/tidwall/gjson"
)

func TestPrefix(t *testing.T) {
	t.Run("document key", func(t *testing.T) {
		id := gjson.Parse(`"` + gofakeit.UUID() + `"`)
		key := DocumentKey("db", "user", id)
		assert.True(t, bytes.HasPrefix(key, CollectionPrefix("db", "user")))
		assert.True(t, bytes.HasPrefix(key, DatabasePrefix("db")))
		assert.False(t, bytes.HasPrefix(key, CollectionPrefix("db", "use")))
	})
	t.Run("ids keep their type", func(t *testing.T) {
		assert.NotEqual(t, DocumentKey("db", "c", gjson.Parse(`1`)), DocumentKey("db", "c", gjson.Parse(`"1"`)))
	})
	t.Run("dotted collections do not overlap", func(t *testing.T) {
		key := DocumentKey("db", "a.b", gjson.Parse(`1`))
		assert.False(t, bytes.HasPrefix(key, CollectionPrefix("db", "a")))
	})
	t.Run("index key", func(t *testing.T) {
		values := IndexValues(map[string]any{
			"_id":     "1",
			"contact": map[string]any{"email": "a@b.c"},
		}, []string{"contact.email", "missing"})
		assert.Equal(t, []any{"a@b.c", nil}, values)
		key := IndexKey("db", "user", "email_1", values, gjson.Parse(`"1"`))
		assert.True(t, bytes.HasPrefix(key, IndexPrefix("db", "user", "email_1")))
		assert.True(t, bytes.HasPrefix(key, IndexCollectionPrefix("db", "user")))
		assert.True(t, bytes.HasPrefix(key, IndexDatabasePrefix("db")))
	})
}
