// Package prefix defines the kv key layout of replicated data, secondary indexes and replication state.
package prefix

import (
	"bytes"

	"github.com/autom8ter/docrepl/util"
	"github.com/nqd/flat"
	"github.com/tidwall/gjson"
)

// segments are joined with a NUL byte, which can't appear in database or collection names
var sep = []byte{0}

const (
	dataSpace     = "data"
	indexSpace    = "index"
	internalSpace = "internal"
)

var (
	// MetadataKey holds the persisted metadata snapshot
	MetadataKey = join([]byte(internalSpace), []byte("metadata"))
	// CheckpointKey holds the last applied checkpoint
	CheckpointKey = join([]byte(internalSpace), []byte("checkpoint"))
	// LockKey guards exclusive ownership of the checkpoint
	LockKey = join([]byte(internalSpace), []byte("lock"))
)

func join(parts ...[]byte) []byte {
	return bytes.Join(parts, sep)
}

// withSep returns the key followed by the separator so it only matches whole segments
func withSep(key []byte) []byte {
	return append(key, sep...)
}

// DatabasePrefix matches every document of the database
func DatabasePrefix(db string) []byte {
	return withSep(join([]byte(dataSpace), []byte(db)))
}

// CollectionPrefix matches every document of the collection
func CollectionPrefix(db, collection string) []byte {
	return withSep(join([]byte(dataSpace), []byte(db), []byte(collection)))
}

// DocumentKey is the key of a single document. The raw json of the id keeps 1 and "1" apart.
func DocumentKey(db, collection string, id gjson.Result) []byte {
	return append(CollectionPrefix(db, collection), id.Raw...)
}

// IndexDatabasePrefix matches every index entry of the database
func IndexDatabasePrefix(db string) []byte {
	return withSep(join([]byte(indexSpace), []byte(db)))
}

// IndexCollectionPrefix matches every index entry of the collection
func IndexCollectionPrefix(db, collection string) []byte {
	return withSep(join([]byte(indexSpace), []byte(db), []byte(collection)))
}

// IndexPrefix matches every entry of one index
func IndexPrefix(db, collection, index string) []byte {
	return withSep(join([]byte(indexSpace), []byte(db), []byte(collection), []byte(index)))
}

// IndexKey is the entry of a document in an index: the encoded field values followed by the document id
func IndexKey(db, collection, index string, values []any, id gjson.Result) []byte {
	path := [][]byte{IndexPrefix(db, collection, index)}
	for _, v := range values {
		path = append(path, util.EncodeIndexValue(v))
	}
	path = append(path, []byte(id.Raw))
	return bytes.Join(path, sep)
}

// IndexValues extracts the values of the indexed fields (dot notation) from a document value.
// Missing fields are indexed as nil.
func IndexValues(document map[string]any, fields []string) []any {
	flattened, _ := flat.Flatten(document, nil)
	values := make([]any, 0, len(fields))
	for _, f := range fields {
		values = append(values, flattened[f])
	}
	return values
}
