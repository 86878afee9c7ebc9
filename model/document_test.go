package model_test

import (
	"testing"

	"github.com/autom8ter/docrepl/model"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
)

func TestDocument(t *testing.T) {
	type contact struct {
		Email string `json:"email"`
		Phone string `json:"phone,omitempty"`
	}
	type user struct {
		ID      string  `json:"_id"`
		Contact contact `json:"contact"`
		Name    string  `json:"name"`
		Age     int     `json:"age"`
	}
	usr := user{
		ID: gofakeit.UUID(),
		Contact: contact{
			Email: gofakeit.Email(),
			Phone: gofakeit.Phone(),
		},
		Name: "john smith",
		Age:  50,
	}
	r, err := model.NewDocumentFrom(&usr)
	if err != nil {
		t.Fatal(err)
	}
	t.Run("scan json", func(t *testing.T) {
		var u user
		assert.Nil(t, r.Scan(&u))
		assert.EqualValues(t, u, usr)
	})
	t.Run("get", func(t *testing.T) {
		assert.Equal(t, usr.Contact.Email, r.Get("contact.email"))
		assert.Equal(t, usr.Contact.Phone, r.GetString("contact.phone"))
		assert.Equal(t, usr.ID, r.ID().String())
	})
	t.Run("keys", func(t *testing.T) {
		assert.Equal(t, []string{"_id", "contact", "name", "age"}, r.Keys())
		assert.False(t, r.IsModifier())
		assert.True(t, model.MustDocument(map[string]any{"$set": map[string]any{"a": 1}}).IsModifier())
	})
	t.Run("clone is independent", func(t *testing.T) {
		c := r.Clone()
		assert.Nil(t, c.Set("name", "jane"))
		assert.Equal(t, "john smith", r.GetString("name"))
		assert.Equal(t, "jane", c.GetString("name"))
	})
	t.Run("equal ignores key order", func(t *testing.T) {
		a, _ := model.NewDocumentFromBytes([]byte(`{"a":1,"b":{"c":true}}`))
		b, _ := model.NewDocumentFromBytes([]byte(`{"b":{"c":true},"a":1.0}`))
		assert.True(t, a.Equal(b))
		assert.False(t, a.Equal(nil))
	})
	t.Run("merge", func(t *testing.T) {
		c := r.Clone()
		assert.Nil(t, c.Merge(model.MustDocument(map[string]any{"contact": map[string]any{"email": "x@y.z"}})))
		assert.Equal(t, "x@y.z", c.GetString("contact.email"))
		assert.Equal(t, usr.Contact.Phone, c.GetString("contact.phone"))
	})
	t.Run("invalid", func(t *testing.T) {
		_, err := model.NewDocumentFromBytes([]byte(`[1,2]`))
		assert.Error(t, err)
		_, err = model.NewDocumentFromBytes([]byte(`{`))
		assert.Error(t, err)
	})
	t.Run("walk", func(t *testing.T) {
		seen := map[string]model.FieldType{}
		r.Walk(func(tableRef []string, name string, typ model.FieldType) {
			path := name
			if len(tableRef) > 0 {
				path = tableRef[0] + "." + name
			}
			seen[path] = typ
		})
		assert.Equal(t, model.FieldTypeString, seen["_id"])
		assert.Equal(t, model.FieldTypeObject, seen["contact"])
		assert.Equal(t, model.FieldTypeString, seen["contact.email"])
		assert.Equal(t, model.FieldTypeNumber, seen["age"])
	})
}
