package registry

import (
	"github.com/autom8ter/docrepl/errors"
	"github.com/autom8ter/docrepl/internal/safe"
	"github.com/autom8ter/docrepl/kv"
)

// KVDBOpener opens a key value database
type KVDBOpener func(params map[string]interface{}) (kv.DB, error)

var registeredOpeners = safe.NewMap(map[string]KVDBOpener{})

// Register registers a KVDBOpener opener by name
func Register(name string, opener KVDBOpener) {
	registeredOpeners.Set(name, opener)
}

// Open opens a registered key value database
func Open(name string, params map[string]interface{}) (kv.DB, error) {
	opener, ok := registeredOpeners.Get(name)
	if !ok {
		return nil, errors.New(errors.NotFound, "%s is not registered", name)
	}
	return opener(params)
}

// Providers returns the names of the registered providers
func Providers() []string {
	return registeredOpeners.Keys()
}
