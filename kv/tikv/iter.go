package tikv

import (
	"bytes"

	"github.com/autom8ter/docrepl/kv"
)

type unionStoreIterator interface {
	Valid() bool
	Key() []byte
	Value() []byte
	Next() error
	Close()
}

type tikvIterator struct {
	opts kv.IterOpts
	iter unionStoreIterator
}

// Seek is not supported by the tikv snapshot iterator; the seek position is fixed when the iterator is opened
func (b *tikvIterator) Seek(key []byte) {}

func (b *tikvIterator) Close() {
	b.iter.Close()
}

func (b *tikvIterator) Valid() bool {
	if !b.iter.Valid() {
		return false
	}
	if b.opts.Prefix != nil && !bytes.HasPrefix(b.Key(), b.opts.Prefix) {
		return false
	}
	return true
}

func (b *tikvIterator) Key() []byte {
	return b.iter.Key()
}

func (b *tikvIterator) Value() ([]byte, error) {
	return b.iter.Value(), nil
}

func (b *tikvIterator) Next() error {
	return b.iter.Next()
}
